// Package wire implements the OMVP wire format: the 10-byte frame header,
// the fixed payload records exchanged by the protocol commands, and a
// resynchronizing frame scanner for raw byte streams.
package wire

import (
	"encoding/binary"
	"fmt"
)

// Frame geometry. A frame is a header, an optional payload and, when a
// payload is present, a 4-byte payload CRC.
const (
	HeaderSize  = 10
	TrailerSize = 4
	BufferSize  = 4096
	MaxPayload  = BufferSize - HeaderSize - TrailerSize
	MinPayload  = 50
)

// Sync bytes, transmitted in this order.
const (
	Sync0 = 0xD5
	Sync1 = 0xAA
)

// Header flags. Bits 6-7 are reserved and must be zero.
const (
	FlagACK uint8 = 1 << iota
	FlagNAK
	FlagRTX
	FlagAckReq
	FlagFrag
	FlagEvent
)

// Opcodes: protocol control 0x00-0x0F, system 0x10-0x1F, channel 0x20-0x2F.
const (
	OpProtoSync    uint8 = 0x00
	OpProtoGetCaps uint8 = 0x01
	OpProtoSetCaps uint8 = 0x02
	OpProtoStats   uint8 = 0x03

	OpSysReset uint8 = 0x10
	OpSysBoot  uint8 = 0x11
	OpSysInfo  uint8 = 0x12
	OpSysEvent uint8 = 0x13

	OpChannelList   uint8 = 0x20
	OpChannelPoll   uint8 = 0x21
	OpChannelLock   uint8 = 0x22
	OpChannelUnlock uint8 = 0x23
	OpChannelShape  uint8 = 0x24
	OpChannelSize   uint8 = 0x25
	OpChannelRead   uint8 = 0x26
	OpChannelWrite  uint8 = 0x27
	OpChannelIoctl  uint8 = 0x28
	OpChannelEvent  uint8 = 0x29
)

// Status carried in ACK/NAK payloads.
type Status uint16

const (
	StatusSuccess Status = iota
	StatusFailed
	StatusInvalid
	StatusTimeout
	StatusBusy
	StatusChecksum
	StatusSequence
	StatusOverflow
	StatusFragment
	StatusUnknown
)

const StatusSize = 2

var statusNames = map[Status]string{
	StatusSuccess:  "SUCCESS",
	StatusFailed:   "FAILED",
	StatusInvalid:  "INVALID",
	StatusTimeout:  "TIMEOUT",
	StatusBusy:     "BUSY",
	StatusChecksum: "CHECKSUM",
	StatusSequence: "SEQUENCE",
	StatusOverflow: "OVERFLOW",
	StatusFragment: "FRAGMENT",
	StatusUnknown:  "UNKNOWN",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", uint16(s))
}

func PutStatus(b []byte, s Status) {
	binary.LittleEndian.PutUint16(b, uint16(s))
}

func GetStatus(b []byte) Status {
	if len(b) < StatusSize {
		return StatusUnknown
	}
	return Status(binary.LittleEndian.Uint16(b))
}

// StatusError surfaces a NAK status to the caller of a command.
type StatusError struct {
	Opcode uint8
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("wire: command %#02x failed: %s", e.Opcode, e.Status)
}
