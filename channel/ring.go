package channel

import (
	"sync"

	"omvp-toolkit/wire"
)

// Ring is a byte ring for console-style streams: the device appends,
// the host drains. When the ring fills, the oldest bytes are dropped so
// a slow host never stalls the writer.
type Ring struct {
	Base

	mu  sync.Mutex
	buf []byte
	r   int
	n   int
}

func NewRing(name string, size int, flags uint8) *Ring {
	if size <= 0 {
		size = 4096
	}
	return &Ring{
		Base: NewBase(name, flags),
		buf:  make([]byte, size),
	}
}

// Read drains from the ring. The offset is ignored; console data is a
// stream. An empty ring reports BUSY so the host can retry.
func (rg *Ring) Read(_ uint32, p []byte) (int, wire.Status) {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	if rg.n == 0 {
		return 0, wire.StatusBusy
	}
	total := 0
	for total < len(p) && rg.n > 0 {
		n := copy(p[total:], rg.buf[rg.r:min(rg.r+rg.n, len(rg.buf))])
		rg.r = (rg.r + n) % len(rg.buf)
		rg.n -= n
		total += n
	}
	return total, wire.StatusSuccess
}

func (rg *Ring) Write(_ uint32, p []byte) wire.Status {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	if len(p) > len(rg.buf) {
		return wire.StatusOverflow
	}
	for _, b := range p {
		w := (rg.r + rg.n) % len(rg.buf)
		rg.buf[w] = b
		if rg.n == len(rg.buf) {
			rg.r = (rg.r + 1) % len(rg.buf)
		} else {
			rg.n++
		}
	}
	return wire.StatusSuccess
}

// WriteString appends device-side console output.
func (rg *Ring) WriteString(s string) {
	rg.Write(0, []byte(s))
}

func (rg *Ring) Flush() wire.Status {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	rg.r = 0
	rg.n = 0
	return wire.StatusSuccess
}

func (rg *Ring) Available() uint32 {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	return uint32(rg.n)
}
