package omvp

import (
	"encoding/binary"
	"time"

	"github.com/sirupsen/logrus"

	"omvp-toolkit/crc"
	"omvp-toolkit/wire"
)

// writeFrame emits one frame as separate transport writes: header,
// each payload segment, then the payload CRC. Payload bytes are never
// copied, so a channel's borrowed slice goes straight to the wire.
func (e *Engine) writeFrame(hdr wire.Header, segs ...[]byte) error {
	if err := e.tr.WriteAll(hdr[:]); err != nil {
		e.stats.transportErrors.Add(1)
		return err
	}
	total := 0
	sum := crc.Init32
	for _, seg := range segs {
		if len(seg) == 0 {
			continue
		}
		if err := e.tr.WriteAll(seg); err != nil {
			e.stats.transportErrors.Add(1)
			return err
		}
		sum = crc.Update32(sum, seg)
		total += len(seg)
	}
	if total > 0 {
		var tr [wire.TrailerSize]byte
		binary.LittleEndian.PutUint32(tr[:], sum)
		if err := e.tr.WriteAll(tr[:]); err != nil {
			e.stats.transportErrors.Add(1)
			return err
		}
		total += wire.TrailerSize
	}
	e.stats.txFrames.Add(1)
	e.stats.txBytes.Add(uint32(wire.HeaderSize + total))
	e.log.WithFields(logrus.Fields{
		"seq": hdr.Seq(),
		"op":  hdr.Opcode(),
		"len": hdr.Len(),
	}).Debug("Sent frame")
	return nil
}

// send serializes an outbound message, fragmenting it when the payload
// exceeds the negotiated maximum. AckReq frames are copied into the RTX
// queue before they hit the wire.
func (e *Engine) send(channel, flags, opcode uint8, result chan<- error, segs ...[]byte) error {
	total := 0
	for _, seg := range segs {
		total += len(seg)
	}
	max := int(e.caps.MaxPayload)
	rest := segs
	for {
		n := total
		if n > max {
			n = max
		}
		f := flags
		if total > n {
			// intermediate fragment: only the final frame of the
			// exchange requests an acknowledgment
			f |= wire.FlagFrag
			f &^= wire.FlagAckReq
		}
		var head [][]byte
		head, rest = splitSegs(rest, n)
		hdr := wire.NewHeader(e.nextSeq(), channel, f, opcode, uint16(n))

		if f&wire.FlagAckReq != 0 && e.caps.ACK && total == n {
			// the final (or only) frame of an exchange awaits its ACK
			if err := e.enqueueRtx(hdr, head, result); err != nil {
				return err
			}
		}
		if err := e.writeFrame(hdr, head...); err != nil {
			return err
		}
		total -= n
		if total == 0 {
			return nil
		}
	}
}

func (e *Engine) nextSeq() uint8 {
	seq := e.txSeq
	e.txSeq++
	return seq
}

// enqueueRtx flattens the frame into owned bytes and parks it in the
// ACK queue. A full queue fails the send immediately.
func (e *Engine) enqueueRtx(hdr wire.Header, segs [][]byte, result chan<- error) error {
	if e.rtx.full() {
		return ErrAckQueueFull
	}
	total := 0
	for _, seg := range segs {
		total += len(seg)
	}
	size := wire.HeaderSize + total
	if total > 0 {
		size += wire.TrailerSize
	}
	frame := make([]byte, 0, size)
	frame = append(frame, hdr[:]...)
	for _, seg := range segs {
		frame = append(frame, seg...)
	}
	if total > 0 {
		var tr [wire.TrailerSize]byte
		binary.LittleEndian.PutUint32(tr[:], crc.Checksum32(frame[wire.HeaderSize:]))
		frame = append(frame, tr[:]...)
	}
	e.rtx.push(rtxEntry{
		seq:      hdr.Seq(),
		channel:  hdr.Channel(),
		opcode:   hdr.Opcode(),
		frame:    frame,
		deadline: time.Now().Add(e.rtxTimeout()),
		interval: e.rtxTimeout(),
		retries:  int(e.caps.RtxRetries),
		result:   result,
	})
	e.stats.noteAckDepth(e.rtx.depth())
	return nil
}

func (e *Engine) rtxTimeout() time.Duration {
	return time.Duration(e.caps.RtxTimeoutMs) * time.Millisecond
}

// respond acknowledges a command with an op-specific payload.
func (e *Engine) respond(req wire.Header, segs ...[]byte) {
	if err := e.send(req.Channel(), wire.FlagACK, req.Opcode(), nil, segs...); err != nil {
		e.log.WithError(err).Warn("Failed to send response")
	}
}

// respondStatus acknowledges a command with a bare 2-byte status.
func (e *Engine) respondStatus(req wire.Header, st wire.Status) {
	var b [wire.StatusSize]byte
	wire.PutStatus(b[:], st)
	e.respond(req, b[:])
}

// sendNAK rejects a command with a status payload. NAKs are only sent
// when acknowledgments are negotiated on.
func (e *Engine) sendNAK(req wire.Header, st wire.Status) {
	if !e.caps.ACK {
		return
	}
	var b [wire.StatusSize]byte
	wire.PutStatus(b[:], st)
	if err := e.send(req.Channel(), wire.FlagNAK, req.Opcode(), nil, b[:]); err != nil {
		e.log.WithError(err).Warn("Failed to send NAK")
	}
}

// splitSegs slices n bytes off the front of a segment list without
// copying, splitting a segment at the boundary when needed.
func splitSegs(segs [][]byte, n int) (head, tail [][]byte) {
	for len(segs) > 0 && n > 0 {
		seg := segs[0]
		if len(seg) <= n {
			head = append(head, seg)
			n -= len(seg)
			segs = segs[1:]
			continue
		}
		head = append(head, seg[:n])
		tail = append(tail, seg[n:])
		tail = append(tail, segs[1:]...)
		return head, tail
	}
	return head, segs
}
