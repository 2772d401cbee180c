package channel

import (
	"bytes"
	"sync"

	"omvp-toolkit/wire"
)

// Runner executes script source handed over by the host. The scripting
// runtime itself lives outside this package.
type Runner interface {
	Start(src []byte) error
	Stop() error
	Running() bool
}

// Script ioctl requests.
const (
	ScriptStart  uint32 = 0x01
	ScriptStop   uint32 = 0x02
	ScriptStatus uint32 = 0x03
)

// Script events.
const (
	ScriptStarted uint32 = 0x20
	ScriptStopped uint32 = 0x21
)

// Script accumulates script source written by the host and drives a
// Runner through ioctl requests.
type Script struct {
	Base

	mu  sync.Mutex
	src bytes.Buffer
	run Runner
	em  Emitter
}

func NewScript(name string, run Runner) *Script {
	return &Script{
		Base: NewBase(name, wire.ChanWrite|wire.ChanLock),
		run:  run,
	}
}

func (s *Script) Bind(em Emitter) {
	s.mu.Lock()
	s.em = em
	s.mu.Unlock()
}

// Write appends script source. Offset zero restarts the buffer so the
// host can re-send a script without an explicit flush.
func (s *Script) Write(offset uint32, p []byte) wire.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if offset == 0 {
		s.src.Reset()
	}
	s.src.Write(p)
	return wire.StatusSuccess
}

func (s *Script) Flush() wire.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.src.Reset()
	return wire.StatusSuccess
}

func (s *Script) Ioctl(request uint32, _ []byte) ([]byte, wire.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch request {
	case ScriptStart:
		if s.run == nil {
			return nil, wire.StatusInvalid
		}
		if s.run.Running() {
			return nil, wire.StatusBusy
		}
		src := make([]byte, s.src.Len())
		copy(src, s.src.Bytes())
		if err := s.run.Start(src); err != nil {
			return nil, wire.StatusFailed
		}
		if s.em != nil {
			s.em.Emit(ScriptStarted, uint32(len(src)))
		}
		return nil, wire.StatusSuccess
	case ScriptStop:
		if s.run == nil {
			return nil, wire.StatusInvalid
		}
		if err := s.run.Stop(); err != nil {
			return nil, wire.StatusFailed
		}
		if s.em != nil {
			s.em.Emit(ScriptStopped, 0)
		}
		return nil, wire.StatusSuccess
	case ScriptStatus:
		out := []byte{0}
		if s.run != nil && s.run.Running() {
			out[0] = 1
		}
		return out, wire.StatusSuccess
	}
	return nil, wire.StatusInvalid
}
