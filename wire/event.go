package wire

import "encoding/binary"

const EventSize = 8

// System event codes carried on channel 0 with OpSysEvent.
const (
	EvChannelRegistered   uint32 = 0x00
	EvChannelUnregistered uint32 = 0x01
	EvSoftReboot          uint32 = 0x02
)

// Event is the fixed part of an event payload: a 4-byte code and a
// 4-byte argument. Channel events may append channel-defined data.
type Event struct {
	Code uint32
	Arg  uint32
}

func (ev Event) Encode() [EventSize]byte {
	var b [EventSize]byte
	binary.LittleEndian.PutUint32(b[0:], ev.Code)
	binary.LittleEndian.PutUint32(b[4:], ev.Arg)
	return b
}

func DecodeEvent(b []byte) (Event, error) {
	var ev Event
	if len(b) < EventSize {
		return ev, ErrShortBuffer
	}
	ev.Code = binary.LittleEndian.Uint32(b[0:])
	ev.Arg = binary.LittleEndian.Uint32(b[4:])
	return ev, nil
}
