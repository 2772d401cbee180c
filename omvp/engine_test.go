package omvp

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"omvp-toolkit/channel"
	"omvp-toolkit/crc"
	"omvp-toolkit/transport"
	"omvp-toolkit/util/mocks"
	"omvp-toolkit/wire"
)

type recvFrame struct {
	hdr     wire.Header
	payload []byte
}

// testPeer is the raw host side of a loopback engine: it writes frames
// byte-exact and scans whatever the device emits.
type testPeer struct {
	t       *testing.T
	conn    net.Conn
	scanner *wire.Scanner
	frames  []recvFrame
	seq     uint8
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *testPeer) {
	t.Helper()
	devConn, hostConn := mocks.Conn()
	e := New(transport.NewConn(devConn), cfg)
	t.Cleanup(func() {
		e.Close()
		hostConn.Close()
	})
	p := &testPeer{t: t, conn: hostConn}
	p.scanner = wire.NewScanner(wire.ScannerConfig{
		CheckCRC: true,
		Frame: func(hdr wire.Header, payload []byte) {
			body := make([]byte, len(payload))
			copy(body, payload)
			p.frames = append(p.frames, recvFrame{hdr: hdr, payload: body})
		},
	})
	return e, p
}

func buildFrame(seq, ch, flags, opcode uint8, payload []byte) []byte {
	hdr := wire.NewHeader(seq, ch, flags, opcode, uint16(len(payload)))
	buf := append([]byte{}, hdr[:]...)
	if len(payload) > 0 {
		buf = append(buf, payload...)
		var tr [wire.TrailerSize]byte
		binary.LittleEndian.PutUint32(tr[:], crc.Checksum32(payload))
		buf = append(buf, tr[:]...)
	}
	return buf
}

func (p *testPeer) send(ch, flags, opcode uint8, payload []byte) {
	p.t.Helper()
	_, err := p.conn.Write(buildFrame(p.seq, ch, flags, opcode, payload))
	require.Nil(p.t, err)
	p.seq++
}

// waitFrames scans until n frames have arrived or the deadline passes.
func (p *testPeer) waitFrames(n int, timeout time.Duration) []recvFrame {
	p.t.Helper()
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 1024)
	for len(p.frames) < n {
		p.conn.SetReadDeadline(deadline)
		r, err := p.conn.Read(buf)
		if err != nil {
			break
		}
		p.scanner.Feed(buf[:r])
	}
	frames := p.frames
	p.frames = nil
	return frames
}

func (p *testPeer) expectNone(d time.Duration) {
	p.t.Helper()
	frames := p.waitFrames(1, d)
	require.Empty(p.t, frames)
}

func TestProtoSyncLiteralBytes(t *testing.T) {
	require := require.New(t)
	_, p := newTestEngine(t, DefaultConfig())

	// host: sync with ACK_REQ, no payload
	req := buildFrame(0, 0, wire.FlagAckReq, wire.OpProtoSync, nil)
	require.Equal([]byte{0xD5, 0xAA, 0x00, 0x00, 0x08, 0x00, 0x00, 0x00}, req[:8])
	_, err := p.conn.Write(req)
	require.Nil(err)

	frames := p.waitFrames(1, time.Second)
	require.Len(frames, 1)
	resp := frames[0]

	// device: ACK flag, opcode echoed, 2-byte SUCCESS status
	require.Equal(uint8(0), resp.hdr.Seq())
	require.Equal(uint8(0), resp.hdr.Channel())
	require.Equal(wire.FlagACK, resp.hdr.Flags())
	require.Equal(wire.OpProtoSync, resp.hdr.Opcode())
	require.Equal(uint16(2), resp.hdr.Len())
	require.Equal(wire.StatusSuccess, wire.GetStatus(resp.payload))

	raw := buildFrame(0, 0, wire.FlagACK, wire.OpProtoSync, []byte{0x00, 0x00})
	require.Equal([]byte{0xD5, 0xAA, 0x00, 0x00, 0x01, 0x00, 0x02, 0x00}, raw[:8])
}

func TestReadEmptyChannelNAK(t *testing.T) {
	require := require.New(t)
	e, p := newTestEngine(t, DefaultConfig())
	require.Nil(e.RegisterID(2, channel.NewRing("console", 256, wire.ChanRead)))

	io := wire.NewIOHdr(0, 64)
	p.send(2, wire.FlagAckReq, wire.OpChannelRead, io[:])

	frames := p.waitFrames(1, time.Second)
	require.Len(frames, 1)
	require.NotZero(frames[0].hdr.Flags() & wire.FlagNAK)
	require.Equal(wire.StatusBusy, wire.GetStatus(frames[0].payload))
}

func TestFragmentedReadResponse(t *testing.T) {
	require := require.New(t)
	e, p := newTestEngine(t, DefaultConfig())

	fb := channel.NewFrameBuffer("fb", 8192)
	data := make([]byte, 5000)
	for i := range data {
		data[i] = byte(i)
	}
	require.Nil(fb.Push(data, 50, 100, 1))
	require.Nil(e.RegisterID(1, fb))

	io := wire.NewIOHdr(0, 5000)
	p.send(1, wire.FlagAckReq, wire.OpChannelRead, io[:])

	frames := p.waitFrames(2, 2*time.Second)
	require.Len(frames, 2)

	first, second := frames[0], frames[1]
	require.Equal(uint16(4082), first.hdr.Len())
	require.NotZero(first.hdr.Flags() & wire.FlagFrag)
	require.Equal(uint16(918), second.hdr.Len())
	require.Zero(second.hdr.Flags() & wire.FlagFrag)
	require.Equal(first.hdr.Seq()+1, second.hdr.Seq())
	require.Equal(data, append(first.payload, second.payload...))
}

func TestFragmentedResponseFrameCounts(t *testing.T) {
	require := require.New(t)
	cfg := DefaultConfig()
	cfg.MaxPayload = 256
	// Push on a registered frame buffer raises a FrameReady event; keep
	// events off so only response frames are counted
	cfg.Events = false
	e, p := newTestEngine(t, cfg)

	fb := channel.NewFrameBuffer("fb", 4096)
	require.Nil(e.RegisterID(1, fb))

	for _, size := range []int{1, 255, 256, 257, 1000} {
		require.Nil(fb.Push(make([]byte, size), uint32(size), 1, 1))
		io := wire.NewIOHdr(0, uint32(size))
		p.send(1, wire.FlagAckReq, wire.OpChannelRead, io[:])

		want := (size + 255) / 256
		frames := p.waitFrames(want, 2*time.Second)
		require.Len(frames, want, "size %d", size)
		total := 0
		for i, f := range frames {
			if i < want-1 {
				require.NotZero(f.hdr.Flags()&wire.FlagFrag, "size %d frame %d", size, i)
			} else {
				require.Zero(f.hdr.Flags()&wire.FlagFrag, "size %d last frame", size)
			}
			total += len(f.payload)
		}
		require.Equal(size, total)
	}
}

func TestCorruptedHeaderDropsFrame(t *testing.T) {
	require := require.New(t)
	e, p := newTestEngine(t, DefaultConfig())

	raw := buildFrame(0, 0, wire.FlagAckReq, wire.OpProtoStats, nil)
	raw[3] ^= 0x01
	_, err := p.conn.Write(raw)
	require.Nil(err)

	p.expectNone(100 * time.Millisecond)
	require.Equal(uint32(1), e.Stats().ChecksumErrors)
}

func TestCorruptedPayloadNAKs(t *testing.T) {
	require := require.New(t)
	e, p := newTestEngine(t, DefaultConfig())

	raw := buildFrame(0, 0, wire.FlagAckReq, wire.OpProtoSetCaps, make([]byte, wire.CapsSize))
	raw[wire.HeaderSize+3] ^= 0x40
	_, err := p.conn.Write(raw)
	require.Nil(err)

	frames := p.waitFrames(1, time.Second)
	require.Len(frames, 1)
	require.NotZero(frames[0].hdr.Flags() & wire.FlagNAK)
	require.Equal(wire.StatusChecksum, wire.GetStatus(frames[0].payload))
	require.Equal(uint32(1), e.Stats().ChecksumErrors)
}

type countingChannel struct {
	channel.Base
	calls int
}

func newCountingChannel(name string) *countingChannel {
	return &countingChannel{Base: channel.NewBase(name, wire.ChanRead|wire.ChanWrite)}
}

func (c *countingChannel) Ioctl(uint32, []byte) ([]byte, wire.Status) {
	c.calls++
	return nil, wire.StatusSuccess
}

func TestDuplicateFrameReACKedOnce(t *testing.T) {
	require := require.New(t)
	e, p := newTestEngine(t, DefaultConfig())
	cc := newCountingChannel("count")
	require.Nil(e.RegisterID(3, cc))

	payload := make([]byte, 4)
	raw := buildFrame(7, 3, wire.FlagAckReq, wire.OpChannelIoctl, payload)
	_, err := p.conn.Write(raw)
	require.Nil(err)
	frames := p.waitFrames(1, time.Second)
	require.Len(frames, 1)
	require.NotZero(frames[0].hdr.Flags() & wire.FlagACK)
	require.Equal(uint8(0), frames[0].hdr.Seq())

	// identical frame again: re-ACKed with a fresh device seq, not
	// re-dispatched
	_, err = p.conn.Write(raw)
	require.Nil(err)
	frames = p.waitFrames(1, time.Second)
	require.Len(frames, 1)
	require.NotZero(frames[0].hdr.Flags() & wire.FlagACK)
	require.Equal(uint8(1), frames[0].hdr.Seq())

	require.Equal(1, cc.calls)
}

func TestSequenceErrorNAK(t *testing.T) {
	require := require.New(t)
	e, p := newTestEngine(t, DefaultConfig())

	p.send(0, wire.FlagAckReq, wire.OpProtoStats, nil)
	frames := p.waitFrames(1, time.Second)
	require.Len(frames, 1)

	// seq jumps ahead by one extra
	p.seq++
	p.send(0, wire.FlagAckReq, wire.OpProtoStats, nil)
	frames = p.waitFrames(1, time.Second)
	require.Len(frames, 1)
	require.NotZero(frames[0].hdr.Flags() & wire.FlagNAK)
	require.Equal(wire.StatusSequence, wire.GetStatus(frames[0].payload))
	require.Equal(uint32(1), e.Stats().SequenceErrors)
}

func TestUnregisterEmitsSystemEvent(t *testing.T) {
	require := require.New(t)
	e, p := newTestEngine(t, DefaultConfig())

	ring := channel.NewRing("scratch", 128, wire.ChanRead|wire.ChanWrite|wire.ChanDynamic)
	require.Nil(e.RegisterID(5, ring))

	frames := p.waitFrames(1, time.Second)
	require.Len(frames, 1)
	reg := frames[0]
	require.Equal(wire.FlagEvent, reg.hdr.Flags())
	require.Equal(uint8(0), reg.hdr.Channel())
	require.Equal(wire.OpSysEvent, reg.hdr.Opcode())
	ev, err := wire.DecodeEvent(reg.payload)
	require.Nil(err)
	require.Equal(wire.EvChannelRegistered, ev.Code)
	require.Equal(uint32(5), ev.Arg)

	require.Nil(e.Unregister(5))
	frames = p.waitFrames(1, time.Second)
	require.Len(frames, 1)
	unreg := frames[0]
	require.Equal(wire.FlagEvent, unreg.hdr.Flags())
	require.Zero(unreg.hdr.Flags() & wire.FlagAckReq)
	require.Equal(uint8(0), unreg.hdr.Channel())
	require.Equal(wire.OpSysEvent, unreg.hdr.Opcode())
	ev, err = wire.DecodeEvent(unreg.payload)
	require.Nil(err)
	require.Equal(wire.EvChannelUnregistered, ev.Code)
	require.Equal(uint32(5), ev.Arg)
}

func TestSequenceWrap(t *testing.T) {
	require := require.New(t)
	_, p := newTestEngine(t, DefaultConfig())

	// 260 round trips: both sides' counters wrap mod 256
	for i := 0; i < 260; i++ {
		p.send(0, wire.FlagAckReq, wire.OpProtoStats, nil)
		frames := p.waitFrames(1, time.Second)
		require.Len(frames, 1, "round %d", i)
		require.Equal(uint8(i), frames[0].hdr.Seq(), "round %d", i)
	}
}

func TestRtxBound(t *testing.T) {
	require := require.New(t)
	cfg := DefaultConfig()
	cfg.RtxTimeout = 40 * time.Millisecond
	e, p := newTestEngine(t, cfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Send(0, wire.OpSysEvent, []byte{1, 2, 3, 4, 0, 0, 0, 0}, true)
	}()

	// original + 3 retransmissions, nothing more
	frames := p.waitFrames(4, 2*time.Second)
	require.Len(frames, 4)
	require.Zero(frames[0].hdr.Flags() & wire.FlagRTX)
	for i := 1; i < 4; i++ {
		require.NotZero(frames[i].hdr.Flags()&wire.FlagRTX, "retry %d", i)
		require.Equal(frames[0].hdr.Seq(), frames[i].hdr.Seq())
	}
	p.expectNone(500 * time.Millisecond)

	select {
	case err := <-errCh:
		require.Equal(ErrRetriesExhausted, err)
	case <-time.After(5 * time.Second):
		t.Fatal("send did not resolve")
	}
	require.NotZero(e.Stats().TransportErrors)
}

func TestSendAckedByPeer(t *testing.T) {
	require := require.New(t)
	e, p := newTestEngine(t, DefaultConfig())

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Send(0, wire.OpSysEvent, []byte{0, 0, 0, 0, 0, 0, 0, 0}, true)
	}()

	frames := p.waitFrames(1, time.Second)
	require.Len(frames, 1)
	var status [2]byte
	p.send(0, wire.FlagACK, frames[0].hdr.Opcode(), status[:])

	select {
	case err := <-errCh:
		require.Nil(err)
	case <-time.After(2 * time.Second):
		t.Fatal("send did not resolve")
	}
}

func TestProtoSyncResetsState(t *testing.T) {
	require := require.New(t)
	cfg := DefaultConfig()
	cfg.RtxTimeout = 10 * time.Second
	e, p := newTestEngine(t, cfg)

	// a few exchanges advance the device counter
	for i := 0; i < 3; i++ {
		p.send(0, wire.FlagAckReq, wire.OpProtoStats, nil)
		require.Len(p.waitFrames(1, time.Second), 1)
	}

	// park an unacknowledged frame in the RTX queue
	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Send(0, wire.OpSysEvent, []byte{0, 0, 0, 0, 0, 0, 0, 0}, true)
	}()
	require.Len(p.waitFrames(1, time.Second), 1)

	p.send(0, wire.FlagAckReq, wire.OpProtoSync, nil)
	frames := p.waitFrames(1, time.Second)
	require.Len(frames, 1)
	require.Equal(wire.StatusSuccess, wire.GetStatus(frames[0].payload))

	select {
	case err := <-errCh:
		require.Equal(ErrSyncReset, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pending send not failed by sync")
	}

	// both counters restart at zero
	p.seq = 0
	p.send(0, wire.FlagAckReq, wire.OpProtoStats, nil)
	frames = p.waitFrames(1, time.Second)
	require.Len(frames, 1)
	require.Equal(uint8(0), frames[0].hdr.Seq())
}

func TestUnknownOpcode(t *testing.T) {
	require := require.New(t)
	_, p := newTestEngine(t, DefaultConfig())

	p.send(0, wire.FlagAckReq, 0x0F, nil)
	frames := p.waitFrames(1, time.Second)
	require.Len(frames, 1)
	require.NotZero(frames[0].hdr.Flags() & wire.FlagNAK)
	require.Equal(wire.StatusUnknown, wire.GetStatus(frames[0].payload))
}

func TestFragmentedCommandReassembly(t *testing.T) {
	require := require.New(t)
	cfg := DefaultConfig()
	cfg.MaxPayload = 64
	e, p := newTestEngine(t, cfg)

	ring := channel.NewRing("sink", 1024, wire.ChanRead|wire.ChanWrite)
	require.Nil(e.RegisterID(2, ring))

	// a 200-byte write arrives as four fragments
	data := make([]byte, 200)
	for i := range data {
		data[i] = byte(i * 3)
	}
	io := wire.NewIOHdr(0, uint32(len(data)))
	payload := append(io[:], data...)
	for off := 0; off < len(payload); off += 64 {
		end := off + 64
		flags := wire.FlagFrag
		if end >= len(payload) {
			end = len(payload)
			flags = wire.FlagAckReq
		}
		p.send(2, flags, wire.OpChannelWrite, payload[off:end])
	}

	frames := p.waitFrames(1, time.Second)
	require.Len(frames, 1)
	require.NotZero(frames[0].hdr.Flags() & wire.FlagACK)
	require.Equal(wire.StatusSuccess, wire.GetStatus(frames[0].payload))

	buf := make([]byte, 256)
	n, st := ring.Read(0, buf)
	require.Equal(wire.StatusSuccess, st)
	require.Equal(data, buf[:n])
}

func TestFragmentMismatchNAK(t *testing.T) {
	require := require.New(t)
	e, p := newTestEngine(t, DefaultConfig())
	require.Nil(e.RegisterID(2, channel.NewRing("sink", 256, wire.ChanWrite)))

	p.send(2, wire.FlagFrag, wire.OpChannelWrite, make([]byte, 16))
	// different opcode mid-reassembly
	p.send(2, wire.FlagAckReq, wire.OpChannelIoctl, make([]byte, 8))

	frames := p.waitFrames(1, time.Second)
	require.Len(frames, 1)
	require.NotZero(frames[0].hdr.Flags() & wire.FlagNAK)
	require.Equal(wire.StatusFragment, wire.GetStatus(frames[0].payload))
}

func TestResyncAcrossJunk(t *testing.T) {
	require := require.New(t)
	_, p := newTestEngine(t, DefaultConfig())

	junk := make([]byte, 512)
	for i := range junk {
		junk[i] = byte(i % 0xD0)
	}
	_, err := p.conn.Write(junk)
	require.Nil(err)

	p.send(0, wire.FlagAckReq, wire.OpProtoStats, nil)
	frames := p.waitFrames(1, time.Second)
	require.Len(frames, 1)
	require.NotZero(frames[0].hdr.Flags() & wire.FlagACK)
}

func TestGetSetCaps(t *testing.T) {
	require := require.New(t)
	_, p := newTestEngine(t, DefaultConfig())

	p.send(0, wire.FlagAckReq, wire.OpProtoGetCaps, nil)
	frames := p.waitFrames(1, time.Second)
	require.Len(frames, 1)
	caps, err := wire.DecodeCaps(frames[0].payload)
	require.Nil(err)
	require.True(caps.CRC)
	require.Equal(uint16(wire.MaxPayload), caps.MaxPayload)

	// propose an oversized payload; the device clamps it
	caps.MaxPayload = 60000
	req := caps.Encode()
	p.send(0, wire.FlagAckReq, wire.OpProtoSetCaps, req[:])
	frames = p.waitFrames(1, time.Second)
	require.Len(frames, 1)
	accepted, err := wire.DecodeCaps(frames[0].payload)
	require.Nil(err)
	require.Equal(uint16(wire.MaxPayload), accepted.MaxPayload)
}

func TestSysInfo(t *testing.T) {
	require := require.New(t)
	cfg := DefaultConfig()
	cfg.Info.CPUID = 0x411FC271
	cfg.Info.FirmwareVersion = [3]uint8{4, 7, 0}
	copy(cfg.Info.DevID[:], "CAM-01")
	_, p := newTestEngine(t, cfg)

	p.send(0, wire.FlagAckReq, wire.OpSysInfo, nil)
	frames := p.waitFrames(1, time.Second)
	require.Len(frames, 1)
	require.Equal(uint16(wire.SysInfoSize), frames[0].hdr.Len())
	info, err := wire.DecodeSysInfo(frames[0].payload)
	require.Nil(err)
	require.Equal(uint32(0x411FC271), info.CPUID)
	require.Equal([3]uint8{1, 0, 0}, info.ProtocolVersion)
}

func TestChannelListAndPoll(t *testing.T) {
	require := require.New(t)
	e, p := newTestEngine(t, DefaultConfig())

	ring := channel.NewRing("console", 128, wire.ChanRead|wire.ChanWrite)
	ring.WriteString("boot ok\n")
	require.Nil(e.RegisterID(2, ring))

	p.send(0, wire.FlagAckReq, wire.OpChannelList, nil)
	frames := p.waitFrames(1, time.Second)
	require.Len(frames, 1)
	require.Equal(2*wire.ChannelInfoSize, len(frames[0].payload))
	info, err := wire.DecodeChannelInfo(frames[0].payload[wire.ChannelInfoSize:])
	require.Nil(err)
	require.Equal("console", info.Name)
	require.Equal(uint8(2), info.ID)

	p.send(0, wire.FlagAckReq, wire.OpChannelPoll, nil)
	frames = p.waitFrames(1, time.Second)
	require.Len(frames, 1)
	bitmap := binary.LittleEndian.Uint32(frames[0].payload)
	require.NotZero(bitmap & (1 << 2))
	require.Zero(bitmap & 1)
}

func TestSysResetHook(t *testing.T) {
	require := require.New(t)
	cfg := DefaultConfig()
	hookCh := make(chan bool, 1)
	cfg.ResetHook = func(boot bool) {
		hookCh <- boot
	}
	_, p := newTestEngine(t, cfg)

	p.send(0, 0, wire.OpSysReset, nil)

	// SOFT_REBOOT event precedes the hook; no command response follows
	frames := p.waitFrames(1, time.Second)
	require.Len(frames, 1)
	require.Equal(wire.FlagEvent, frames[0].hdr.Flags())
	ev, err := wire.DecodeEvent(frames[0].payload)
	require.Nil(err)
	require.Equal(wire.EvSoftReboot, ev.Code)

	select {
	case boot := <-hookCh:
		require.False(boot)
	case <-time.After(2 * time.Second):
		t.Fatal("reset hook not called")
	}
	p.expectNone(100 * time.Millisecond)
}
