// Package host implements the host half of the protocol: a Camera
// issues commands over a transport, waits for acknowledged responses,
// reassembles fragmented replies and retries unacknowledged commands.
package host

import (
	"encoding/binary"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"omvp-toolkit/crc"
	"omvp-toolkit/transport"
	uerrors "omvp-toolkit/util/errors"
	"omvp-toolkit/wire"
)

const (
	defaultTimeout = time.Second
	defaultRetries = 3
)

type Config struct {
	// Response timeout for the first attempt; doubles per retry.
	Timeout time.Duration
	// Retransmissions after the first attempt times out.
	Retries int
	// Called for event frames that arrive while waiting on a response
	// or during Poll.
	OnEvent func(channel uint8, ev wire.Event, data []byte)

	Logger *logrus.Logger
}

type frame struct {
	hdr     wire.Header
	payload []byte
}

// Camera drives one device. It is synchronous and not safe for
// concurrent use; serialize commands per camera.
type Camera struct {
	tr  transport.Transport
	cfg Config
	log *logrus.Logger

	caps    wire.Caps
	txSeq   uint8
	rxSeq   uint8
	rxValid bool

	scanner *wire.Scanner
	frames  []frame
	rbuf    [1024]byte
}

func New(tr transport.Transport, cfg Config) *Camera {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Retries <= 0 {
		cfg.Retries = defaultRetries
	}
	if cfg.Logger == nil {
		log := logrus.New()
		log.SetOutput(io.Discard)
		log.SetLevel(logrus.PanicLevel)
		cfg.Logger = log
	}
	c := &Camera{
		tr:  tr,
		cfg: cfg,
		log: cfg.Logger,
		caps: wire.Caps{
			CRC: true, Seq: true, ACK: true, Events: true,
			MaxPayload: wire.MaxPayload,
		},
	}
	c.scanner = wire.NewScanner(wire.ScannerConfig{
		CheckCRC: true,
		Frame: func(hdr wire.Header, payload []byte) {
			body := make([]byte, len(payload))
			copy(body, payload)
			c.frames = append(c.frames, frame{hdr: hdr, payload: body})
		},
	})
	return c
}

func (c *Camera) Close() error {
	return c.tr.Close()
}

// Sync resynchronizes both sides: sequence counters restart at zero on
// success.
func (c *Camera) Sync() error {
	payload, err := c.do(0, wire.OpProtoSync, nil)
	if err != nil {
		return err
	}
	if st := wire.GetStatus(payload); st != wire.StatusSuccess {
		return &wire.StatusError{Opcode: wire.OpProtoSync, Status: st}
	}
	c.txSeq = 0
	c.rxValid = false
	return nil
}

func (c *Camera) GetCaps() (wire.Caps, error) {
	payload, err := c.do(0, wire.OpProtoGetCaps, nil)
	if err != nil {
		return wire.Caps{}, err
	}
	caps, err := wire.DecodeCaps(payload)
	if err != nil {
		return wire.Caps{}, err
	}
	c.caps = caps
	return caps, nil
}

// SetCaps proposes capabilities; the device echoes what it accepted,
// possibly clamped.
func (c *Camera) SetCaps(caps wire.Caps) (wire.Caps, error) {
	req := caps.Encode()
	payload, err := c.do(0, wire.OpProtoSetCaps, req[:])
	if err != nil {
		return wire.Caps{}, err
	}
	accepted, err := wire.DecodeCaps(payload)
	if err != nil {
		return wire.Caps{}, err
	}
	c.caps = accepted
	return accepted, nil
}

func (c *Camera) Stats() (wire.Stats, error) {
	payload, err := c.do(0, wire.OpProtoStats, nil)
	if err != nil {
		return wire.Stats{}, err
	}
	return wire.DecodeStats(payload)
}

func (c *Camera) Info() (wire.SysInfo, error) {
	payload, err := c.do(0, wire.OpSysInfo, nil)
	if err != nil {
		return wire.SysInfo{}, err
	}
	return wire.DecodeSysInfo(payload)
}

// Reset reboots the device. No response is expected.
func (c *Camera) Reset() error {
	return c.fire(0, wire.OpSysReset, nil)
}

// Boot drops the device into its bootloader. No response is expected.
func (c *Camera) Boot() error {
	return c.fire(0, wire.OpSysBoot, nil)
}

func (c *Camera) ListChannels() ([]wire.ChannelInfo, error) {
	payload, err := c.do(0, wire.OpChannelList, nil)
	if err != nil {
		return nil, err
	}
	var infos []wire.ChannelInfo
	for len(payload) >= wire.ChannelInfoSize {
		info, err := wire.DecodeChannelInfo(payload)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
		payload = payload[wire.ChannelInfoSize:]
	}
	return infos, nil
}

// Poll returns the channel readiness bitmap: bit i set when channel i
// has data to read or accepts writes.
func (c *Camera) Poll() (uint32, error) {
	payload, err := c.do(0, wire.OpChannelPoll, nil)
	if err != nil {
		return 0, err
	}
	if len(payload) < 4 {
		return 0, wire.ErrShortBuffer
	}
	return binary.LittleEndian.Uint32(payload), nil
}

func (c *Camera) Lock(id uint8) error {
	return c.statusCommand(id, wire.OpChannelLock)
}

func (c *Camera) Unlock(id uint8) error {
	return c.statusCommand(id, wire.OpChannelUnlock)
}

func (c *Camera) Shape(id uint8) ([]uint32, error) {
	payload, err := c.do(id, wire.OpChannelShape, nil)
	if err != nil {
		return nil, err
	}
	dims := make([]uint32, 0, 4)
	for len(payload) >= 4 {
		dims = append(dims, binary.LittleEndian.Uint32(payload))
		payload = payload[4:]
	}
	return dims, nil
}

func (c *Camera) Size(id uint8) (uint32, error) {
	payload, err := c.do(id, wire.OpChannelSize, nil)
	if err != nil {
		return 0, err
	}
	if len(payload) < 4 {
		return 0, wire.ErrShortBuffer
	}
	return binary.LittleEndian.Uint32(payload), nil
}

// Read reads up to length bytes from a channel at offset. Fragmented
// responses are reassembled transparently.
func (c *Camera) Read(id uint8, offset, length uint32) ([]byte, error) {
	io := wire.NewIOHdr(offset, length)
	return c.do(id, wire.OpChannelRead, io[:])
}

// Write writes data to a channel at offset, fragmenting as needed.
func (c *Camera) Write(id uint8, offset uint32, data []byte) error {
	io := wire.NewIOHdr(offset, uint32(len(data)))
	payload := append(io[:], data...)
	resp, err := c.do(id, wire.OpChannelWrite, payload)
	if err != nil {
		return err
	}
	if st := wire.GetStatus(resp); st != wire.StatusSuccess {
		return &wire.StatusError{Opcode: wire.OpChannelWrite, Status: st}
	}
	return nil
}

func (c *Camera) Ioctl(id uint8, request uint32, in []byte) ([]byte, error) {
	payload := make([]byte, 4+len(in))
	binary.LittleEndian.PutUint32(payload, request)
	copy(payload[4:], in)
	return c.do(id, wire.OpChannelIoctl, payload)
}

func (c *Camera) statusCommand(id uint8, opcode uint8) error {
	resp, err := c.do(id, opcode, nil)
	if err != nil {
		return err
	}
	if st := wire.GetStatus(resp); st != wire.StatusSuccess {
		return &wire.StatusError{Opcode: opcode, Status: st}
	}
	return nil
}

// fire sends a no-response command.
func (c *Camera) fire(id uint8, opcode uint8, payload []byte) error {
	return c.sendCommand(id, opcode, payload, false)
}

// do runs one acknowledged command round trip, retrying with the RTX
// flag and doubled timeout when no response arrives.
func (c *Camera) do(id uint8, opcode uint8, payload []byte) ([]byte, error) {
	firstSeq := c.txSeq
	if err := c.sendCommand(id, opcode, payload, true); err != nil {
		return nil, err
	}
	timeout := c.cfg.Timeout
	for attempt := 0; ; attempt++ {
		resp, err := c.waitResponse(id, opcode, time.Now().Add(timeout))
		if err == nil {
			return resp, nil
		}
		if !uerrors.IsTimeout(err) || attempt >= c.cfg.Retries {
			return nil, err
		}
		c.log.WithFields(logrus.Fields{
			"op":      opcode,
			"attempt": attempt + 1,
		}).Debug("Response timeout, retransmitting")
		if err := c.resend(firstSeq, id, opcode, payload); err != nil {
			return nil, err
		}
		timeout *= 2
	}
}

// sendCommand emits one command, fragmenting oversized payloads. Only
// the final fragment requests an acknowledgment.
func (c *Camera) sendCommand(id uint8, opcode uint8, payload []byte, ackReq bool) error {
	max := int(c.caps.MaxPayload)
	for {
		n := len(payload)
		var flags uint8
		if n > max {
			n = max
			flags |= wire.FlagFrag
		} else if ackReq {
			flags |= wire.FlagAckReq
		}
		if err := c.writeFrame(c.nextSeq(), id, flags, opcode, payload[:n]); err != nil {
			return err
		}
		payload = payload[n:]
		if len(payload) == 0 {
			return nil
		}
	}
}

// resend repeats a (non-fragmented) command with the RTX flag and the
// original sequence number.
func (c *Camera) resend(seq uint8, id uint8, opcode uint8, payload []byte) error {
	if len(payload) > int(c.caps.MaxPayload) {
		// fragmented commands are not replayed wholesale; the device
		// NAKs a broken reassembly and the caller retries
		return uerrors.ErrTimeout
	}
	return c.writeFrame(seq, id, wire.FlagAckReq|wire.FlagRTX, opcode, payload)
}

func (c *Camera) writeFrame(seq uint8, id uint8, flags uint8, opcode uint8, payload []byte) error {
	hdr := wire.NewHeader(seq, id, flags, opcode, uint16(len(payload)))
	if err := c.tr.WriteAll(hdr[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	if err := c.tr.WriteAll(payload); err != nil {
		return err
	}
	var tr [wire.TrailerSize]byte
	binary.LittleEndian.PutUint32(tr[:], crc.Checksum32(payload))
	return c.tr.WriteAll(tr[:])
}

func (c *Camera) nextSeq() uint8 {
	seq := c.txSeq
	c.txSeq++
	return seq
}

// waitResponse pumps the transport until the matching ACK or NAK
// arrives, reassembling fragmented responses and surfacing events on
// the way.
func (c *Camera) waitResponse(id uint8, opcode uint8, deadline time.Time) ([]byte, error) {
	var body []byte
	assembling := false
	for {
		f, err := c.next(deadline)
		if err != nil {
			return nil, err
		}
		flags := f.hdr.Flags()

		if flags&wire.FlagEvent != 0 {
			c.handleEvent(f)
			continue
		}
		if f.hdr.Channel() != id || f.hdr.Opcode() != opcode {
			continue
		}
		if flags&wire.FlagNAK != 0 {
			return nil, &wire.StatusError{Opcode: opcode, Status: wire.GetStatus(f.payload)}
		}
		if flags&wire.FlagACK == 0 && !assembling {
			continue
		}
		if c.duplicate(f.hdr) {
			continue
		}
		body = append(body, f.payload...)
		if flags&wire.FlagFrag != 0 {
			assembling = true
			continue
		}
		return body, nil
	}
}

// duplicate tracks the device's sequence space and skips frames it has
// already delivered.
func (c *Camera) duplicate(hdr wire.Header) bool {
	if hdr.Flags()&wire.FlagRTX != 0 {
		return false
	}
	if c.rxValid && hdr.Seq() == c.rxSeq {
		return true
	}
	c.rxSeq = hdr.Seq()
	c.rxValid = true
	return false
}

func (c *Camera) handleEvent(f frame) {
	ev, err := wire.DecodeEvent(f.payload)
	if err != nil {
		return
	}
	if c.cfg.OnEvent != nil {
		c.cfg.OnEvent(f.hdr.Channel(), ev, f.payload[wire.EventSize:])
	}
}

// next returns the next scanned frame, reading the transport as
// needed.
func (c *Camera) next(deadline time.Time) (frame, error) {
	for len(c.frames) == 0 {
		if err := c.tr.SetReadDeadline(deadline); err != nil {
			return frame{}, err
		}
		n, err := c.tr.Read(c.rbuf[:])
		if err != nil {
			return frame{}, err
		}
		c.scanner.Feed(c.rbuf[:n])
	}
	f := c.frames[0]
	c.frames = c.frames[1:]
	return f, nil
}

// PumpEvents reads frames until the deadline, delivering any events to
// the configured handler. Useful while idle.
func (c *Camera) PumpEvents(d time.Duration) {
	deadline := time.Now().Add(d)
	for {
		f, err := c.next(deadline)
		if err != nil {
			return
		}
		if f.hdr.Flags()&wire.FlagEvent != 0 {
			c.handleEvent(f)
		}
	}
}
