package omvp

import (
	"sync/atomic"

	"omvp-toolkit/wire"
)

// stats is the engine counter block. Counters are atomics so snapshots
// can be taken from outside the core loop.
type stats struct {
	txFrames         atomic.Uint32
	rxFrames         atomic.Uint32
	txBytes          atomic.Uint32
	rxBytes          atomic.Uint32
	checksumErrors   atomic.Uint32
	sequenceErrors   atomic.Uint32
	transportErrors  atomic.Uint32
	maxAckQueueDepth atomic.Uint32
}

func (s *stats) noteAckDepth(depth int) {
	for {
		cur := s.maxAckQueueDepth.Load()
		if uint32(depth) <= cur {
			return
		}
		if s.maxAckQueueDepth.CompareAndSwap(cur, uint32(depth)) {
			return
		}
	}
}

func (s *stats) snapshot() wire.Stats {
	return wire.Stats{
		TxFrames:         s.txFrames.Load(),
		RxFrames:         s.rxFrames.Load(),
		TxBytes:          s.txBytes.Load(),
		RxBytes:          s.rxBytes.Load(),
		ChecksumErrors:   s.checksumErrors.Load(),
		SequenceErrors:   s.sequenceErrors.Load(),
		TransportErrors:  s.transportErrors.Load(),
		MaxAckQueueDepth: s.maxAckQueueDepth.Load(),
	}
}
