// Package omvp implements the device-side OMVP protocol engine: frame
// reception with stream resynchronization, sequence and acknowledgment
// bookkeeping, fragmentation, bounded retransmission, the channel
// registry and the command dispatcher.
//
// The engine is an explicit value rather than module state, so several
// instances can coexist (one per transport, or many in tests). All
// protocol state is owned by a single core loop; the transport reader
// only moves byte chunks into a bounded queue.
package omvp

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"omvp-toolkit/channel"
	"omvp-toolkit/transport"
	"omvp-toolkit/util"
	"omvp-toolkit/wire"
)

type sendRequest struct {
	channel uint8
	opcode  uint8
	flags   uint8
	payload []byte
	result  chan error
}

type Engine struct {
	cfg Config
	log *logrus.Logger
	tr  transport.Transport

	// core-loop state
	caps    wire.Caps
	txSeq   uint8
	rxSeq   uint8
	rxValid bool
	scanner *wire.Scanner
	reasm   reassembler
	rtx     rtxQueue

	mu  sync.Mutex
	reg registry

	stats stats

	recvCh   chan []byte
	recvPool *util.BufferPool
	sendCh   chan sendRequest
	eventCh  chan pendingEvent

	wg        sync.WaitGroup
	die       chan struct{}
	closeOnce sync.Once
}

// New builds an engine over tr and starts its transport reader and
// core loop.
func New(tr transport.Transport, cfg Config) *Engine {
	cfg = sanitizeConfig(cfg)
	e := &Engine{
		cfg: cfg,
		log: cfg.Logger,
		tr:  tr,

		caps: cfg.caps(),
		rtx:  rtxQueue{limit: cfg.AckQueueDepth},

		recvCh:   make(chan []byte, cfg.ReadBacklog),
		recvPool: util.NewBufferPool(readChunkSize, cfg.ReadBacklog),
		sendCh:   make(chan sendRequest),
		eventCh:  make(chan pendingEvent, cfg.EventBacklog),

		die: make(chan struct{}),
	}
	e.reasm = newReassembler(cfg.ReassemblySize)
	e.scanner = wire.NewScanner(wire.ScannerConfig{
		CheckCRC: cfg.CRC,
		Timeout:  cfg.FrameTimeout,
		Frame:    e.handleFrame,
		Error:    e.handleScanError,
	})
	proto := channel.NewBase("proto", wire.ChanPhysical)
	e.reg.slots[0] = &regSlot{ch: proto}

	e.wg.Add(2)
	go e.readRoutine()
	go e.coreRoutine()
	return e
}

// Close shuts the engine down and closes its transport. Safe to call
// more than once and from any goroutine.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		close(e.die)
		e.tr.Close()
	})
	return nil
}

// Wait blocks until both engine routines have exited.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Done is closed when the engine begins shutting down.
func (e *Engine) Done() <-chan struct{} {
	return e.die
}

// Register adds a channel at the lowest free ID and returns it.
func (e *Engine) Register(ch channel.Channel) (uint8, error) {
	return e.registerAt(-1, ch)
}

// RegisterID adds a channel at a specific ID in 1..31.
func (e *Engine) RegisterID(id uint8, ch channel.Channel) error {
	_, err := e.registerAt(int(id), ch)
	return err
}

func (e *Engine) registerAt(id int, ch channel.Channel) (uint8, error) {
	if err := ch.Init(); err != nil {
		return 0, err
	}
	e.mu.Lock()
	assigned, err := e.reg.register(id, ch)
	e.mu.Unlock()
	if err != nil {
		return 0, err
	}
	if b, ok := ch.(channel.Binder); ok {
		b.Bind(emitter{e: e, id: assigned})
	}
	if ch.Flags()&wire.ChanDynamic != 0 {
		e.EmitSystemEvent(wire.EvChannelRegistered, uint32(assigned))
	}
	return assigned, nil
}

// Unregister removes a channel; dynamic channels announce their
// departure as a system event.
func (e *Engine) Unregister(id uint8) error {
	e.mu.Lock()
	ch, err := e.reg.unregister(id)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	if ch.Flags()&wire.ChanDynamic != 0 {
		e.EmitSystemEvent(wire.EvChannelUnregistered, uint32(id))
	}
	return nil
}

// LockChannel takes a device-local lock on a channel, e.g. for a
// script that owns the frame stream while it runs.
func (e *Engine) LockChannel(id uint8, owner uint32) wire.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reg.lock(id, owner)
}

func (e *Engine) UnlockChannel(id uint8, owner uint32) wire.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reg.unlock(id, owner)
}

// Stats returns an atomic snapshot of the engine counters.
func (e *Engine) Stats() wire.Stats {
	return e.stats.snapshot()
}

// Send transmits an application frame. With ackReq the call blocks
// until the peer acknowledges or retransmission gives up.
func (e *Engine) Send(channel, opcode uint8, payload []byte, ackReq bool) error {
	var flags uint8
	if ackReq {
		flags |= wire.FlagAckReq
	}
	req := sendRequest{
		channel: channel,
		opcode:  opcode,
		flags:   flags,
		payload: payload,
		result:  make(chan error, 1),
	}
	select {
	case e.sendCh <- req:
	case <-e.die:
		return ErrEngineClosed
	}
	select {
	case err := <-req.result:
		return err
	case <-e.die:
		return ErrEngineClosed
	}
}

func (e *Engine) readRoutine() {
	defer e.wg.Done()
	for {
		buf := e.recvPool.Get()
		n, err := e.tr.Read(buf)
		if err != nil {
			e.recvPool.Put(buf)
			select {
			case <-e.die:
			default:
				e.log.WithError(err).Warn("Transport read failed")
				e.Close()
			}
			return
		}
		select {
		case e.recvCh <- buf[:n]:
		default:
			// receive ring full; the chunk is lost
			e.stats.transportErrors.Add(1)
			e.recvPool.Put(buf)
		}
	}
}

func (e *Engine) coreRoutine() {
	defer e.wg.Done()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case chunk := <-e.recvCh:
			e.stats.rxBytes.Add(uint32(len(chunk)))
			e.scanner.Feed(chunk)
			e.recvPool.Put(chunk)
		case req := <-e.sendCh:
			e.processSend(req)
		case ev := <-e.eventCh:
			e.emitEvent(ev)
		case now := <-ticker.C:
			if e.scanner.Expire(now) {
				e.stats.transportErrors.Add(1)
			}
			e.rtxTick(now)
		case <-e.die:
			e.rtx.clear(ErrEngineClosed)
			return
		}
	}
}

func (e *Engine) processSend(req sendRequest) {
	err := e.send(req.channel, req.flags, req.opcode, req.result, req.payload)
	if err != nil || req.flags&wire.FlagAckReq == 0 || !e.caps.ACK {
		// resolve now; acknowledged sends resolve from the RTX queue
		notify(req.result, err)
	}
}

func (e *Engine) handleScanError(err error, hdr wire.Header) {
	switch err {
	case wire.ErrPayloadChecksum:
		e.stats.checksumErrors.Add(1)
		if hdr.Flags()&wire.FlagAckReq != 0 {
			e.sendNAK(hdr, wire.StatusChecksum)
		}
	case wire.ErrChecksum:
		e.stats.checksumErrors.Add(1)
	default:
		e.stats.transportErrors.Add(1)
	}
}

// handleFrame processes one validated inbound frame: acknowledgment
// matching, sequence checking, reassembly, then dispatch.
func (e *Engine) handleFrame(hdr wire.Header, payload []byte) {
	e.stats.rxFrames.Add(1)
	flags := hdr.Flags()
	e.log.WithFields(logrus.Fields{
		"seq": hdr.Seq(),
		"op":  hdr.Opcode(),
		"len": hdr.Len(),
	}).Debug("Received frame")

	// ACK/NAK frames close out a pending exchange and are not
	// themselves sequenced or dispatched
	if flags&(wire.FlagACK|wire.FlagNAK) != 0 {
		e.handleAck(hdr, payload)
		return
	}

	if e.caps.Seq {
		if e.rxValid && hdr.Seq() == e.rxSeq {
			// duplicate of the last accepted frame (late retransmission
			// or an RTX resend of a processed command): re-ACK, skip
			// dispatch
			if flags&wire.FlagAckReq != 0 {
				e.respondStatus(hdr, wire.StatusSuccess)
			}
			return
		}
		if flags&wire.FlagRTX == 0 {
			if e.rxValid && hdr.Seq() != e.rxSeq+1 {
				e.stats.sequenceErrors.Add(1)
				e.sendNAK(hdr, wire.StatusSequence)
				return
			}
			e.rxSeq = hdr.Seq()
			e.rxValid = true
		}
	}

	data, done, st := e.reasm.push(hdr, payload)
	if st != wire.StatusSuccess {
		e.sendNAK(hdr, st)
		return
	}
	if !done {
		return
	}
	e.dispatch(hdr, data)
}

func (e *Engine) dispatch(hdr wire.Header, payload []byte) {
	h, ok := cmdHandlers[hdr.Opcode()]
	if !ok {
		e.sendNAK(hdr, wire.StatusUnknown)
		return
	}
	h(e, hdr, payload)
}

// protoReset clears both sequence spaces, the reassembly buffer and
// the retransmission queue.
func (e *Engine) protoReset() {
	e.txSeq = 0
	e.rxSeq = 0
	e.rxValid = false
	e.reasm.reset()
	e.rtx.clear(ErrSyncReset)
	e.scanner.Reset()
}
