// Package channel defines the uniform endpoint interface the protocol
// engine dispatches to, plus the built-in device channels: a console
// ring, a frame buffer, a script runner and a profiler.
package channel

import "omvp-toolkit/wire"

// Channel is the operation set every endpoint exposes. Implementations
// embed Base and override what they support; everything else reports
// INVALID to the host.
type Channel interface {
	Name() string
	Flags() uint8
	Init() error

	// Read copies up to len(p) bytes at the given offset.
	Read(offset uint32, p []byte) (int, wire.Status)
	// ReadP borrows a slice of channel-owned storage. The slice is valid
	// only until the next engine call on this channel.
	ReadP(offset, length uint32) ([]byte, wire.Status)
	Write(offset uint32, p []byte) wire.Status
	Flush() wire.Status
	Available() uint32
	Shape() []uint32
	Ioctl(request uint32, p []byte) ([]byte, wire.Status)
}

// Emitter is the opaque handle a channel uses to raise events. Channels
// never reference the engine directly; the registry hands one out at
// register time.
type Emitter interface {
	Emit(code, arg uint32)
}

// Binder is implemented by channels that want an event emitter.
type Binder interface {
	Bind(em Emitter)
}

// EventHandler is implemented by channels that accept CHANNEL_EVENT
// deliveries from the host.
type EventHandler interface {
	Event(code, arg uint32)
}

// Base is the channel skeleton: name, capability flags, and INVALID for
// every operation.
type Base struct {
	name  string
	flags uint8
}

func NewBase(name string, flags uint8) Base {
	if len(name) > wire.ChannelNameSize-1 {
		name = name[:wire.ChannelNameSize-1]
	}
	return Base{name: name, flags: flags}
}

func (b Base) Name() string {
	return b.name
}

func (b Base) Flags() uint8 {
	return b.flags
}

func (Base) Init() error {
	return nil
}

func (Base) Read(uint32, []byte) (int, wire.Status) {
	return 0, wire.StatusInvalid
}

func (Base) ReadP(uint32, uint32) ([]byte, wire.Status) {
	return nil, wire.StatusInvalid
}

func (Base) Write(uint32, []byte) wire.Status {
	return wire.StatusInvalid
}

func (Base) Flush() wire.Status {
	return wire.StatusInvalid
}

func (Base) Available() uint32 {
	return 0
}

func (Base) Shape() []uint32 {
	return nil
}

func (Base) Ioctl(uint32, []byte) ([]byte, wire.Status) {
	return nil, wire.StatusInvalid
}

// Info builds the wire record for a channel registered at id.
func Info(id uint8, ch Channel) wire.ChannelInfo {
	return wire.ChannelInfo{ID: id, Flags: ch.Flags(), Name: ch.Name()}
}
