package channel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"omvp-toolkit/wire"
)

func TestBaseReportsInvalid(t *testing.T) {
	require := require.New(t)
	b := NewBase("nop", wire.ChanPhysical)
	require.Equal("nop", b.Name())
	require.Equal(wire.ChanPhysical, b.Flags())

	_, st := b.Read(0, make([]byte, 4))
	require.Equal(wire.StatusInvalid, st)
	_, st = b.ReadP(0, 4)
	require.Equal(wire.StatusInvalid, st)
	require.Equal(wire.StatusInvalid, b.Write(0, nil))
	require.Equal(wire.StatusInvalid, b.Flush())
	_, st = b.Ioctl(0, nil)
	require.Equal(wire.StatusInvalid, st)
	require.Zero(b.Available())
	require.Nil(b.Shape())
}

func TestBaseNameTruncation(t *testing.T) {
	b := NewBase("name-that-is-way-too-long", 0)
	require.Len(t, b.Name(), wire.ChannelNameSize-1)
}

func TestRing(t *testing.T) {
	require := require.New(t)
	rg := NewRing("console", 8, wire.ChanRead)

	buf := make([]byte, 8)
	_, st := rg.Read(0, buf)
	require.Equal(wire.StatusBusy, st)

	require.Equal(wire.StatusSuccess, rg.Write(0, []byte("abc")))
	require.Equal(uint32(3), rg.Available())

	n, st := rg.Read(0, buf)
	require.Equal(wire.StatusSuccess, st)
	require.Equal("abc", string(buf[:n]))
	require.Zero(rg.Available())
}

func TestRingDropsOldest(t *testing.T) {
	require := require.New(t)
	rg := NewRing("console", 4, wire.ChanRead)
	rg.WriteString("abcd")
	rg.WriteString("ef")
	require.Equal(uint32(4), rg.Available())

	buf := make([]byte, 8)
	n, st := rg.Read(0, buf)
	require.Equal(wire.StatusSuccess, st)
	require.Equal("cdef", string(buf[:n]))
}

func TestRingOverflowAndFlush(t *testing.T) {
	require := require.New(t)
	rg := NewRing("console", 4, wire.ChanRead)
	require.Equal(wire.StatusOverflow, rg.Write(0, []byte("too big here")))
	rg.WriteString("ab")
	require.Equal(wire.StatusSuccess, rg.Flush())
	require.Zero(rg.Available())
}

func TestFrameBuffer(t *testing.T) {
	require := require.New(t)
	fb := NewFrameBuffer("fb", 64)

	_, st := fb.ReadP(0, 16)
	require.Equal(wire.StatusBusy, st)

	frame := make([]byte, 48)
	for i := range frame {
		frame[i] = byte(i)
	}
	require.Nil(fb.Push(frame, 4, 4, 3))
	require.Equal(uint32(48), fb.Available())
	require.Equal([]uint32{4, 4, 3}, fb.Shape())

	data, st := fb.ReadP(0, 16)
	require.Equal(wire.StatusSuccess, st)
	require.Equal(frame[:16], data)

	// reading the tail consumes the frame
	data, st = fb.ReadP(16, 64)
	require.Equal(wire.StatusSuccess, st)
	require.Equal(frame[16:], data)
	require.Zero(fb.Available())
	_, st = fb.ReadP(0, 16)
	require.Equal(wire.StatusBusy, st)

	require.Equal(ErrFrameTooLarge, fb.Push(make([]byte, 128), 8, 8, 2))
}

type fakeEmitter struct {
	codes []uint32
	args  []uint32
}

func (f *fakeEmitter) Emit(code, arg uint32) {
	f.codes = append(f.codes, code)
	f.args = append(f.args, arg)
}

func TestFrameBufferEvent(t *testing.T) {
	require := require.New(t)
	fb := NewFrameBuffer("fb", 64)
	em := &fakeEmitter{}
	fb.Bind(em)
	require.Nil(fb.Push(make([]byte, 12), 2, 2, 3))
	require.Equal([]uint32{FrameReady}, em.codes)
	require.Equal([]uint32{12}, em.args)
}

type fakeRunner struct {
	src     []byte
	running bool
}

func (f *fakeRunner) Start(src []byte) error {
	f.src = src
	f.running = true
	return nil
}

func (f *fakeRunner) Stop() error {
	f.running = false
	return nil
}

func (f *fakeRunner) Running() bool {
	return f.running
}

func TestScript(t *testing.T) {
	require := require.New(t)
	run := &fakeRunner{}
	s := NewScript("script", run)

	require.Equal(wire.StatusSuccess, s.Write(0, []byte("import sensor\n")))
	require.Equal(wire.StatusSuccess, s.Write(14, []byte("sensor.reset()\n")))

	_, st := s.Ioctl(ScriptStart, nil)
	require.Equal(wire.StatusSuccess, st)
	require.Equal("import sensor\nsensor.reset()\n", string(run.src))

	_, st = s.Ioctl(ScriptStart, nil)
	require.Equal(wire.StatusBusy, st)

	out, st := s.Ioctl(ScriptStatus, nil)
	require.Equal(wire.StatusSuccess, st)
	require.Equal([]byte{1}, out)

	_, st = s.Ioctl(ScriptStop, nil)
	require.Equal(wire.StatusSuccess, st)

	// offset zero restarts the source buffer
	require.Equal(wire.StatusSuccess, s.Write(0, []byte("print(1)\n")))
	_, st = s.Ioctl(ScriptStart, nil)
	require.Equal(wire.StatusSuccess, st)
	require.Equal("print(1)\n", string(run.src))
}

func TestProfiler(t *testing.T) {
	require := require.New(t)
	pr := NewProfiler("profiler")

	pr.Record(0x100, 25)
	pr.Record(0x100, 75)
	pr.Record(0x200, 10)
	require.Equal(uint32(2*profRecordSize), pr.Available())

	buf := make([]byte, 64)
	n, st := pr.Read(0, buf)
	require.Equal(wire.StatusSuccess, st)
	require.Equal(2*profRecordSize, n)

	_, st = pr.Ioctl(ProfilerClear, nil)
	require.Equal(wire.StatusSuccess, st)
	require.Zero(pr.Available())
	_, st = pr.Read(0, buf)
	require.Equal(wire.StatusBusy, st)
}
