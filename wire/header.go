package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"omvp-toolkit/crc"
)

var (
	ErrInvalidSync     = errors.New("wire: invalid sync")
	ErrChecksum        = errors.New("wire: header checksum mismatch")
	ErrPayloadChecksum = errors.New("wire: payload checksum mismatch")
	ErrLength          = errors.New("wire: invalid payload length")
	ErrShortBuffer     = errors.New("wire: short buffer")
)

// Header is the fixed frame header. Multi-byte fields are little-endian;
// the trailing CRC-16 covers bytes 0..7 only.
type Header [HeaderSize]byte

func NewHeader(seq, channel, flags, opcode uint8, length uint16) Header {
	var hdr Header
	hdr[0] = Sync0
	hdr[1] = Sync1
	hdr[2] = seq
	hdr[3] = channel
	hdr[4] = flags
	hdr[5] = opcode
	binary.LittleEndian.PutUint16(hdr[6:], length)
	binary.LittleEndian.PutUint16(hdr[8:], crc.Checksum16(hdr[:8]))
	return hdr
}

func (hdr Header) Seq() uint8 {
	return hdr[2]
}

func (hdr Header) Channel() uint8 {
	return hdr[3]
}

func (hdr Header) Flags() uint8 {
	return hdr[4]
}

func (hdr Header) Opcode() uint8 {
	return hdr[5]
}

func (hdr Header) Len() uint16 {
	return binary.LittleEndian.Uint16(hdr[6:])
}

func (hdr Header) CRC() uint16 {
	return binary.LittleEndian.Uint16(hdr[8:])
}

// SetFlags rewrites the flags byte and reseals the header CRC.
func (hdr *Header) SetFlags(flags uint8) {
	hdr[4] = flags
	binary.LittleEndian.PutUint16(hdr[8:], crc.Checksum16(hdr[:8]))
}

func DecodeHeader(b []byte, check bool) (Header, error) {
	var hdr Header
	if len(b) < HeaderSize {
		return hdr, ErrShortBuffer
	}
	copy(hdr[:], b)
	if hdr[0] != Sync0 || hdr[1] != Sync1 {
		return hdr, ErrInvalidSync
	}
	if check && hdr.CRC() != crc.Checksum16(hdr[:8]) {
		return hdr, ErrChecksum
	}
	return hdr, nil
}

func (hdr Header) String() string {
	return fmt.Sprintf("Header(Seq=%d, Chan=%d, Flags=%#02x, Op=%#02x, Len=%d)",
		hdr.Seq(), hdr.Channel(), hdr.Flags(), hdr.Opcode(), hdr.Len())
}
