package wire

import "encoding/binary"

// u32 Offset + u32 Length
const IOHdrSize = 8

// IOHdr prefixes CHANNEL_READ requests and CHANNEL_WRITE payloads.
type IOHdr [IOHdrSize]byte

func NewIOHdr(offset, length uint32) IOHdr {
	var hdr IOHdr
	binary.LittleEndian.PutUint32(hdr[:], offset)
	binary.LittleEndian.PutUint32(hdr[4:], length)
	return hdr
}

func (hdr IOHdr) Off() uint32 {
	return binary.LittleEndian.Uint32(hdr[:])
}

func (hdr IOHdr) Len() uint32 {
	return binary.LittleEndian.Uint32(hdr[4:])
}
