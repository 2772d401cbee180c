package omvp

import (
	"encoding/binary"
	"time"

	"omvp-toolkit/channel"
	"omvp-toolkit/wire"
)

// maxReadLength bounds a single CHANNEL_READ request so a bogus length
// cannot force a huge fallback allocation.
const maxReadLength = 1 << 20

type cmdHandler func(e *Engine, hdr wire.Header, payload []byte)

var cmdHandlers = map[uint8]cmdHandler{
	wire.OpProtoSync:    (*Engine).handleProtoSync,
	wire.OpProtoGetCaps: (*Engine).handleGetCaps,
	wire.OpProtoSetCaps: (*Engine).handleSetCaps,
	wire.OpProtoStats:   (*Engine).handleStats,

	wire.OpSysReset: (*Engine).handleSysReset,
	wire.OpSysBoot:  (*Engine).handleSysBoot,
	wire.OpSysInfo:  (*Engine).handleSysInfo,
	wire.OpSysEvent: (*Engine).handleSysEvent,

	wire.OpChannelList:   (*Engine).handleChannelList,
	wire.OpChannelPoll:   (*Engine).handleChannelPoll,
	wire.OpChannelLock:   (*Engine).handleChannelLock,
	wire.OpChannelUnlock: (*Engine).handleChannelUnlock,
	wire.OpChannelShape:  (*Engine).handleChannelShape,
	wire.OpChannelSize:   (*Engine).handleChannelSize,
	wire.OpChannelRead:   (*Engine).handleChannelRead,
	wire.OpChannelWrite:  (*Engine).handleChannelWrite,
	wire.OpChannelIoctl:  (*Engine).handleChannelIoctl,
	wire.OpChannelEvent:  (*Engine).handleChannelEvent,
}

func (e *Engine) handleProtoSync(hdr wire.Header, _ []byte) {
	e.respondStatus(hdr, wire.StatusSuccess)
	// counters reset only after the response is on the wire
	e.protoReset()
}

func (e *Engine) handleGetCaps(hdr wire.Header, _ []byte) {
	caps := e.caps.Encode()
	e.respond(hdr, caps[:])
}

func (e *Engine) handleSetCaps(hdr wire.Header, payload []byte) {
	caps, err := wire.DecodeCaps(payload)
	if err != nil {
		e.sendNAK(hdr, wire.StatusInvalid)
		return
	}
	caps = caps.Clamped()
	e.caps = caps
	e.scanner.SetCheckCRC(caps.CRC)
	accepted := e.caps.Encode()
	e.respond(hdr, accepted[:])
}

func (e *Engine) handleStats(hdr wire.Header, _ []byte) {
	snap := e.stats.snapshot().Encode()
	e.respond(hdr, snap[:])
}

func (e *Engine) handleSysInfo(hdr wire.Header, _ []byte) {
	info := e.cfg.Info.Encode()
	e.respond(hdr, info[:])
}

func (e *Engine) handleSysReset(wire.Header, []byte) {
	e.scheduleReset(false)
}

func (e *Engine) handleSysBoot(wire.Header, []byte) {
	e.scheduleReset(true)
}

// scheduleReset announces the reboot, waits for the transport to drain
// within a bound, then hands off to the reset hook.
func (e *Engine) scheduleReset(boot bool) {
	if e.caps.Events {
		e.emitEvent(pendingEvent{
			channel: 0,
			opcode:  wire.OpSysEvent,
			event:   wire.Event{Code: wire.EvSoftReboot},
		})
	}
	deadline := time.Now().Add(e.cfg.DrainTimeout)
	for !e.tr.Ready() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if e.cfg.ResetHook != nil {
		go e.cfg.ResetHook(boot)
	}
}

func (e *Engine) handleSysEvent(hdr wire.Header, payload []byte) {
	ev, err := wire.DecodeEvent(payload)
	if err != nil {
		return
	}
	if e.cfg.EventHook != nil {
		e.cfg.EventHook(hdr.Channel(), ev)
	}
}

func (e *Engine) handleChannelList(hdr wire.Header, _ []byte) {
	e.mu.Lock()
	infos := e.reg.list()
	e.mu.Unlock()
	buf := make([]byte, 0, len(infos)*wire.ChannelInfoSize)
	for _, info := range infos {
		rec := info.Encode()
		buf = append(buf, rec[:]...)
	}
	e.respond(hdr, buf)
}

func (e *Engine) handleChannelPoll(hdr wire.Header, _ []byte) {
	var bitmap uint32
	e.mu.Lock()
	for i := 0; i < wire.MaxChannels; i++ {
		ch := e.reg.get(uint8(i))
		if ch == nil {
			continue
		}
		if ch.Available() > 0 || ch.Flags()&wire.ChanWrite != 0 {
			bitmap |= 1 << i
		}
	}
	e.mu.Unlock()
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], bitmap)
	e.respond(hdr, b[:])
}

// lockOwner extracts the optional owner token of a CHANNEL_LOCK or
// CHANNEL_UNLOCK payload; commands without one act as the host.
func lockOwner(payload []byte) uint32 {
	if len(payload) >= 4 {
		return binary.LittleEndian.Uint32(payload)
	}
	return OwnerHost
}

func (e *Engine) handleChannelLock(hdr wire.Header, payload []byte) {
	e.mu.Lock()
	st := e.reg.lock(hdr.Channel(), lockOwner(payload))
	e.mu.Unlock()
	if st != wire.StatusSuccess {
		e.sendNAK(hdr, st)
		return
	}
	e.respondStatus(hdr, wire.StatusSuccess)
}

func (e *Engine) handleChannelUnlock(hdr wire.Header, payload []byte) {
	e.mu.Lock()
	st := e.reg.unlock(hdr.Channel(), lockOwner(payload))
	e.mu.Unlock()
	if st != wire.StatusSuccess {
		e.sendNAK(hdr, st)
		return
	}
	e.respondStatus(hdr, wire.StatusSuccess)
}

func (e *Engine) handleChannelShape(hdr wire.Header, _ []byte) {
	ch := e.channelFor(hdr)
	if ch == nil {
		return
	}
	dims := ch.Shape()
	if len(dims) == 0 || len(dims) > 4 {
		e.sendNAK(hdr, wire.StatusInvalid)
		return
	}
	buf := make([]byte, len(dims)*4)
	for i, d := range dims {
		binary.LittleEndian.PutUint32(buf[i*4:], d)
	}
	e.respond(hdr, buf)
}

func (e *Engine) handleChannelSize(hdr wire.Header, _ []byte) {
	ch := e.channelFor(hdr)
	if ch == nil {
		return
	}
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], ch.Available())
	e.respond(hdr, b[:])
}

func (e *Engine) handleChannelRead(hdr wire.Header, payload []byte) {
	ch := e.channelFor(hdr)
	if ch == nil {
		return
	}
	if len(payload) < wire.IOHdrSize {
		e.sendNAK(hdr, wire.StatusInvalid)
		return
	}
	if !e.accessibleByHost(hdr.Channel()) {
		e.sendNAK(hdr, wire.StatusBusy)
		return
	}
	var io wire.IOHdr
	copy(io[:], payload)
	if io.Len() > maxReadLength {
		e.sendNAK(hdr, wire.StatusOverflow)
		return
	}

	// prefer the zero-copy path; fall back to a copying read when the
	// channel does not support borrowing
	data, st := ch.ReadP(io.Off(), io.Len())
	if st == wire.StatusInvalid {
		buf := make([]byte, io.Len())
		var n int
		n, st = ch.Read(io.Off(), buf)
		data = buf[:n]
	}
	if st != wire.StatusSuccess {
		e.sendNAK(hdr, st)
		return
	}
	e.respond(hdr, data)
}

func (e *Engine) handleChannelWrite(hdr wire.Header, payload []byte) {
	ch := e.channelFor(hdr)
	if ch == nil {
		return
	}
	if len(payload) < wire.IOHdrSize {
		e.sendNAK(hdr, wire.StatusInvalid)
		return
	}
	if !e.accessibleByHost(hdr.Channel()) {
		e.sendNAK(hdr, wire.StatusBusy)
		return
	}
	var io wire.IOHdr
	copy(io[:], payload)
	data := payload[wire.IOHdrSize:]
	if int(io.Len()) < len(data) {
		data = data[:io.Len()]
	}
	if st := ch.Write(io.Off(), data); st != wire.StatusSuccess {
		e.sendNAK(hdr, st)
		return
	}
	e.respondStatus(hdr, wire.StatusSuccess)
}

func (e *Engine) handleChannelIoctl(hdr wire.Header, payload []byte) {
	ch := e.channelFor(hdr)
	if ch == nil {
		return
	}
	if len(payload) < 4 {
		e.sendNAK(hdr, wire.StatusInvalid)
		return
	}
	request := binary.LittleEndian.Uint32(payload)
	out, st := ch.Ioctl(request, payload[4:])
	if st != wire.StatusSuccess {
		e.sendNAK(hdr, st)
		return
	}
	e.respond(hdr, out)
}

func (e *Engine) handleChannelEvent(hdr wire.Header, payload []byte) {
	ch := e.channelFor(hdr)
	if ch == nil {
		return
	}
	ev, err := wire.DecodeEvent(payload)
	if err != nil {
		return
	}
	if h, ok := ch.(channel.EventHandler); ok {
		h.Event(ev.Code, ev.Arg)
	}
}

func (e *Engine) channelFor(hdr wire.Header) channel.Channel {
	e.mu.Lock()
	ch := e.reg.get(hdr.Channel())
	e.mu.Unlock()
	if ch == nil {
		e.sendNAK(hdr, wire.StatusInvalid)
	}
	return ch
}

func (e *Engine) accessibleByHost(id uint8) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reg.accessible(id, OwnerHost)
}
