package wire

import "encoding/binary"

const StatsSize = 32

// Stats is the 32-byte counter snapshot returned by PROTO_STATS.
type Stats struct {
	TxFrames         uint32
	RxFrames         uint32
	TxBytes          uint32
	RxBytes          uint32
	ChecksumErrors   uint32
	SequenceErrors   uint32
	TransportErrors  uint32
	MaxAckQueueDepth uint32
}

func (st Stats) Encode() [StatsSize]byte {
	var b [StatsSize]byte
	binary.LittleEndian.PutUint32(b[0:], st.TxFrames)
	binary.LittleEndian.PutUint32(b[4:], st.RxFrames)
	binary.LittleEndian.PutUint32(b[8:], st.TxBytes)
	binary.LittleEndian.PutUint32(b[12:], st.RxBytes)
	binary.LittleEndian.PutUint32(b[16:], st.ChecksumErrors)
	binary.LittleEndian.PutUint32(b[20:], st.SequenceErrors)
	binary.LittleEndian.PutUint32(b[24:], st.TransportErrors)
	binary.LittleEndian.PutUint32(b[28:], st.MaxAckQueueDepth)
	return b
}

func DecodeStats(b []byte) (Stats, error) {
	var st Stats
	if len(b) < StatsSize {
		return st, ErrShortBuffer
	}
	st.TxFrames = binary.LittleEndian.Uint32(b[0:])
	st.RxFrames = binary.LittleEndian.Uint32(b[4:])
	st.TxBytes = binary.LittleEndian.Uint32(b[8:])
	st.RxBytes = binary.LittleEndian.Uint32(b[12:])
	st.ChecksumErrors = binary.LittleEndian.Uint32(b[16:])
	st.SequenceErrors = binary.LittleEndian.Uint32(b[20:])
	st.TransportErrors = binary.LittleEndian.Uint32(b[24:])
	st.MaxAckQueueDepth = binary.LittleEndian.Uint32(b[28:])
	return st, nil
}
