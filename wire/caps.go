package wire

import "encoding/binary"

const CapsSize = 16

const (
	capCRC uint8 = 1 << iota
	capSeq
	capACK
	capEvents
)

// Caps is the 16-byte capability record exchanged by PROTO_GET_CAPS and
// PROTO_SET_CAPS.
type Caps struct {
	CRC    bool
	Seq    bool
	ACK    bool
	Events bool

	MaxPayload     uint16
	AckQueueDepth  uint16
	RtxRetries     uint16
	RtxTimeoutMs   uint32
	FrameTimeoutMs uint32
}

func (c Caps) Encode() [CapsSize]byte {
	var b [CapsSize]byte
	var flags uint8
	if c.CRC {
		flags |= capCRC
	}
	if c.Seq {
		flags |= capSeq
	}
	if c.ACK {
		flags |= capACK
	}
	if c.Events {
		flags |= capEvents
	}
	b[0] = flags
	binary.LittleEndian.PutUint16(b[2:], c.MaxPayload)
	binary.LittleEndian.PutUint16(b[4:], c.AckQueueDepth)
	binary.LittleEndian.PutUint16(b[6:], c.RtxRetries)
	binary.LittleEndian.PutUint32(b[8:], c.RtxTimeoutMs)
	binary.LittleEndian.PutUint32(b[12:], c.FrameTimeoutMs)
	return b
}

func DecodeCaps(b []byte) (Caps, error) {
	var c Caps
	if len(b) < CapsSize {
		return c, ErrShortBuffer
	}
	flags := b[0]
	c.CRC = flags&capCRC != 0
	c.Seq = flags&capSeq != 0
	c.ACK = flags&capACK != 0
	c.Events = flags&capEvents != 0
	c.MaxPayload = binary.LittleEndian.Uint16(b[2:])
	c.AckQueueDepth = binary.LittleEndian.Uint16(b[4:])
	c.RtxRetries = binary.LittleEndian.Uint16(b[6:])
	c.RtxTimeoutMs = binary.LittleEndian.Uint32(b[8:])
	c.FrameTimeoutMs = binary.LittleEndian.Uint32(b[12:])
	return c, nil
}

// Clamped bounds MaxPayload to the legal range.
func (c Caps) Clamped() Caps {
	if c.MaxPayload < MinPayload {
		c.MaxPayload = MinPayload
	}
	if c.MaxPayload > MaxPayload {
		c.MaxPayload = MaxPayload
	}
	return c
}
