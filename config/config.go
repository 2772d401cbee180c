// Package config loads device configuration from TOML: identity served
// through SYS_INFO, engine tuning and transport selection.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"

	"omvp-toolkit/omvp"
	"omvp-toolkit/wire"
)

type Config struct {
	Device    Device    `toml:"device"`
	Engine    Engine    `toml:"engine"`
	Transport Transport `toml:"transport"`
}

type Device struct {
	Name              string   `toml:"name"`
	CPUID             uint32   `toml:"cpu_id"`
	DeviceID          string   `toml:"device_id"`
	ChipID            string   `toml:"chip_id"`
	FirmwareVersion   string   `toml:"firmware_version"`
	BootloaderVersion string   `toml:"bootloader_version"`
	FlashKB           uint32   `toml:"flash_kb"`
	RAMKB             uint32   `toml:"ram_kb"`
	FramebufferKB     uint32   `toml:"framebuffer_kb"`
	StreamBufferKB    uint32   `toml:"stream_buffer_kb"`
	Capabilities      []string `toml:"capabilities"`
	PMUEvents         uint8    `toml:"pmu_events"`
}

type Engine struct {
	MaxPayload     int  `toml:"max_payload"`
	AckQueueDepth  int  `toml:"ack_queue_depth"`
	RtxRetries     int  `toml:"rtx_retries"`
	RtxTimeoutMs   int  `toml:"rtx_timeout_ms"`
	FrameTimeoutMs int  `toml:"frame_timeout_ms"`
	Events         bool `toml:"events"`
}

type Transport struct {
	Listen     string `toml:"listen"`
	SerialPort string `toml:"serial_port"`
	BaudRate   int    `toml:"baud_rate"`
}

var hwCapBits = map[string]uint64{
	"gpu":       wire.HWCapGPU,
	"npu":       wire.HWCapNPU,
	"isp":       wire.HWCapISP,
	"video_enc": wire.HWCapVideoEnc,
	"jpeg":      wire.HWCapJPEG,
	"dram":      wire.HWCapDRAM,
	"hw_crc":    wire.HWCapHWCRC,
	"pmu":       wire.HWCapPMU,
	"wifi":      wire.HWCapWiFi,
	"bt":        wire.HWCapBT,
	"sd":        wire.HWCapSD,
	"ethernet":  wire.HWCapEthernet,
	"usb_hs":    wire.HWCapUSBHS,
	"multicore": wire.HWCapMulticore,
}

// Load reads a TOML config file.
func Load(path string) (Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, cfg.validate()
}

// Parse reads TOML from memory.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	for _, name := range c.Device.Capabilities {
		if _, ok := hwCapBits[strings.ToLower(name)]; !ok {
			return fmt.Errorf("config: unknown capability %q", name)
		}
	}
	if c.Device.FirmwareVersion != "" {
		if _, err := parseVersion(c.Device.FirmwareVersion); err != nil {
			return err
		}
	}
	if c.Device.BootloaderVersion != "" {
		if _, err := parseVersion(c.Device.BootloaderVersion); err != nil {
			return err
		}
	}
	return nil
}

// EngineConfig expands the file into an engine configuration.
func (c Config) EngineConfig(log *logrus.Logger) omvp.Config {
	cfg := omvp.DefaultConfig()
	cfg.Logger = log
	if c.Engine.MaxPayload > 0 {
		cfg.MaxPayload = c.Engine.MaxPayload
	}
	if c.Engine.AckQueueDepth > 0 {
		cfg.AckQueueDepth = c.Engine.AckQueueDepth
	}
	if c.Engine.RtxRetries > 0 {
		cfg.RtxRetries = c.Engine.RtxRetries
	}
	if c.Engine.RtxTimeoutMs > 0 {
		cfg.RtxTimeout = time.Duration(c.Engine.RtxTimeoutMs) * time.Millisecond
	}
	if c.Engine.FrameTimeoutMs > 0 {
		cfg.FrameTimeout = time.Duration(c.Engine.FrameTimeoutMs) * time.Millisecond
	}
	cfg.Events = c.Engine.Events
	cfg.Info = c.SysInfo()
	return cfg
}

// SysInfo builds the identification record served by SYS_INFO.
func (c Config) SysInfo() wire.SysInfo {
	info := wire.SysInfo{
		CPUID:              c.Device.CPUID,
		FlashSizeKB:        c.Device.FlashKB,
		RAMSizeKB:          c.Device.RAMKB,
		FramebufferSizeKB:  c.Device.FramebufferKB,
		StreamBufferSizeKB: c.Device.StreamBufferKB,
		ProtocolVersion:    [3]uint8{1, 0, 0},
	}
	copy(info.DevID[:], c.Device.DeviceID)
	copy(info.ChipID[:], c.Device.ChipID)
	for _, name := range c.Device.Capabilities {
		info.HWCaps |= hwCapBits[strings.ToLower(name)]
	}
	info.HWCaps |= wire.PMUEventCount(c.Device.PMUEvents)
	if v, err := parseVersion(c.Device.FirmwareVersion); err == nil {
		info.FirmwareVersion = v
	}
	if v, err := parseVersion(c.Device.BootloaderVersion); err == nil {
		info.BootloaderVersion = v
	}
	return info
}

func parseVersion(s string) ([3]uint8, error) {
	var v [3]uint8
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return v, fmt.Errorf("config: invalid version %q", s)
	}
	for i, part := range parts {
		n, err := strconv.ParseUint(part, 10, 8)
		if err != nil {
			return v, fmt.Errorf("config: invalid version %q", s)
		}
		v[i] = uint8(n)
	}
	return v, nil
}
