package wire

// Channel capability flags.
const (
	ChanRead uint8 = 1 << iota
	ChanWrite
	ChanLock
	ChanDynamic
	ChanPhysical
)

const (
	MaxChannels     = 32
	ChannelInfoSize = 16
	ChannelNameSize = 14
)

// ChannelInfo is one 16-byte record of a CHANNEL_LIST response.
type ChannelInfo struct {
	ID    uint8
	Flags uint8
	Name  string
}

func (ci ChannelInfo) Encode() [ChannelInfoSize]byte {
	var b [ChannelInfoSize]byte
	b[0] = ci.ID
	b[1] = ci.Flags
	name := ci.Name
	if len(name) > ChannelNameSize-1 {
		name = name[:ChannelNameSize-1]
	}
	copy(b[2:], name)
	return b
}

func DecodeChannelInfo(b []byte) (ChannelInfo, error) {
	var ci ChannelInfo
	if len(b) < ChannelInfoSize {
		return ci, ErrShortBuffer
	}
	ci.ID = b[0]
	ci.Flags = b[1]
	name := b[2:ChannelInfoSize]
	for i, c := range name {
		if c == 0 {
			name = name[:i]
			break
		}
	}
	ci.Name = string(name)
	return ci, nil
}
