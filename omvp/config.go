package omvp

import (
	"time"

	"github.com/sirupsen/logrus"

	"omvp-toolkit/wire"
)

const (
	defaultAckQueueDepth  = 8
	defaultRtxRetries     = 3
	defaultRtxTimeout     = 500 * time.Millisecond
	defaultFrameTimeout   = 500 * time.Millisecond
	defaultDrainTimeout   = 250 * time.Millisecond
	defaultReadBacklog    = 8
	defaultEventBacklog   = 16
	defaultReassemblySize = 8192

	readChunkSize = 1024
	tickInterval  = 5 * time.Millisecond
)

type Config struct {
	// Capability defaults advertised through PROTO_GET_CAPS; the host
	// may renegotiate them with PROTO_SET_CAPS.
	CRC    bool
	Seq    bool
	ACK    bool
	Events bool

	MaxPayload    int
	AckQueueDepth int
	RtxRetries    int
	RtxTimeout    time.Duration
	FrameTimeout  time.Duration

	// Reassembly scratch capacity for fragmented commands.
	ReassemblySize int

	// Backlog of received byte chunks between the transport reader and
	// the core loop.
	ReadBacklog int
	// Backlog of queued events; a full queue drops new events.
	EventBacklog int

	// Identification record served by SYS_INFO.
	Info wire.SysInfo

	// Called after a SYS_RESET or SYS_BOOT command once the transport
	// has drained. Must not block.
	ResetHook func(boot bool)
	// Called for SYS_EVENT frames arriving from the peer.
	EventHook func(channel uint8, ev wire.Event)
	// Bound on the transport drain before ResetHook runs.
	DrainTimeout time.Duration

	Logger *logrus.Logger
}

func DefaultConfig() Config {
	return Config{
		CRC:    true,
		Seq:    true,
		ACK:    true,
		Events: true,

		MaxPayload:    wire.MaxPayload,
		AckQueueDepth: defaultAckQueueDepth,
		RtxRetries:    defaultRtxRetries,
		RtxTimeout:    defaultRtxTimeout,
		FrameTimeout:  defaultFrameTimeout,

		ReassemblySize: defaultReassemblySize,
		ReadBacklog:    defaultReadBacklog,
		EventBacklog:   defaultEventBacklog,
		DrainTimeout:   defaultDrainTimeout,

		Info: wire.SysInfo{ProtocolVersion: [3]uint8{1, 0, 0}},
	}
}

func sanitizeConfig(cfg Config) Config {
	if cfg.MaxPayload < wire.MinPayload {
		cfg.MaxPayload = wire.MinPayload
	}
	if cfg.MaxPayload > wire.MaxPayload {
		cfg.MaxPayload = wire.MaxPayload
	}
	if cfg.AckQueueDepth <= 0 {
		cfg.AckQueueDepth = defaultAckQueueDepth
	}
	if cfg.RtxRetries < 0 {
		cfg.RtxRetries = defaultRtxRetries
	}
	if cfg.RtxTimeout <= 0 {
		cfg.RtxTimeout = defaultRtxTimeout
	}
	if cfg.FrameTimeout <= 0 {
		cfg.FrameTimeout = defaultFrameTimeout
	}
	if cfg.ReassemblySize < 2*cfg.MaxPayload {
		cfg.ReassemblySize = 2 * cfg.MaxPayload
	}
	if cfg.ReadBacklog <= 0 {
		cfg.ReadBacklog = defaultReadBacklog
	}
	if cfg.EventBacklog <= 0 {
		cfg.EventBacklog = defaultEventBacklog
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	if cfg.Info.ProtocolVersion == [3]uint8{} {
		cfg.Info.ProtocolVersion = [3]uint8{1, 0, 0}
	}
	if cfg.Logger == nil {
		cfg.Logger = discardLogger
	}
	return cfg
}

func (cfg Config) caps() wire.Caps {
	return wire.Caps{
		CRC:    cfg.CRC,
		Seq:    cfg.Seq,
		ACK:    cfg.ACK,
		Events: cfg.Events,

		MaxPayload:     uint16(cfg.MaxPayload),
		AckQueueDepth:  uint16(cfg.AckQueueDepth),
		RtxRetries:     uint16(cfg.RtxRetries),
		RtxTimeoutMs:   uint32(cfg.RtxTimeout / time.Millisecond),
		FrameTimeoutMs: uint32(cfg.FrameTimeout / time.Millisecond),
	}
}
