package channel

import (
	"errors"
	"sync"

	"omvp-toolkit/wire"
)

var ErrFrameTooLarge = errors.New("channel: frame exceeds buffer capacity")

// FrameBuffer exposes the most recent captured frame. The capture side
// pushes whole frames; the host reads them out, zero-copy when it can.
// A frame is consumed once the host has read past its last byte, after
// which reads report BUSY until the next capture.
type FrameBuffer struct {
	Base

	mu    sync.Mutex
	buf   []byte
	size  int
	dims  [3]uint32
	fresh bool
	em    Emitter
}

// FrameReady is raised as a channel event whenever a new frame lands.
const FrameReady uint32 = 0x10

func NewFrameBuffer(name string, capacity int) *FrameBuffer {
	return &FrameBuffer{
		Base: NewBase(name, wire.ChanRead|wire.ChanLock|wire.ChanPhysical),
		buf:  make([]byte, capacity),
	}
}

func (fb *FrameBuffer) Bind(em Emitter) {
	fb.mu.Lock()
	fb.em = em
	fb.mu.Unlock()
}

// Push stores a captured frame of w x h pixels at bpp bytes per pixel.
func (fb *FrameBuffer) Push(data []byte, w, h, bpp uint32) error {
	fb.mu.Lock()
	if len(data) > len(fb.buf) {
		fb.mu.Unlock()
		return ErrFrameTooLarge
	}
	copy(fb.buf, data)
	fb.size = len(data)
	fb.dims = [3]uint32{w, h, bpp}
	fb.fresh = true
	em := fb.em
	fb.mu.Unlock()
	if em != nil {
		em.Emit(FrameReady, uint32(len(data)))
	}
	return nil
}

func (fb *FrameBuffer) ReadP(offset, length uint32) ([]byte, wire.Status) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if !fb.fresh {
		return nil, wire.StatusBusy
	}
	if int(offset) >= fb.size {
		return nil, wire.StatusInvalid
	}
	end := int(offset) + int(length)
	if end > fb.size {
		end = fb.size
	}
	if end == fb.size {
		fb.fresh = false
	}
	return fb.buf[offset:end], wire.StatusSuccess
}

func (fb *FrameBuffer) Read(offset uint32, p []byte) (int, wire.Status) {
	data, st := fb.ReadP(offset, uint32(len(p)))
	if st != wire.StatusSuccess {
		return 0, st
	}
	return copy(p, data), wire.StatusSuccess
}

func (fb *FrameBuffer) Available() uint32 {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if !fb.fresh {
		return 0
	}
	return uint32(fb.size)
}

func (fb *FrameBuffer) Shape() []uint32 {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return []uint32{fb.dims[0], fb.dims[1], fb.dims[2]}
}

func (fb *FrameBuffer) Flush() wire.Status {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.fresh = false
	return wire.StatusSuccess
}
