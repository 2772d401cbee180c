package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"omvp-toolkit/wire"
)

const sample = `
[device]
name = "openmv-h7"
cpu_id = 0x411FC271
device_id = "CAM-0042"
chip_id = "STM32H743"
firmware_version = "4.7.0"
bootloader_version = "3.0.1"
flash_kb = 2048
ram_kb = 1024
framebuffer_kb = 400
stream_buffer_kb = 128
capabilities = ["jpeg", "pmu", "usb_hs", "hw_crc"]
pmu_events = 6

[engine]
max_payload = 4082
ack_queue_depth = 8
rtx_retries = 3
rtx_timeout_ms = 500
frame_timeout_ms = 500
events = true

[transport]
listen = ":4040"
serial_port = "/dev/ttyACM0"
baud_rate = 921600
`

func TestParse(t *testing.T) {
	require := require.New(t)
	cfg, err := Parse([]byte(sample))
	require.Nil(err)

	require.Equal("openmv-h7", cfg.Device.Name)
	require.Equal(uint32(0x411FC271), cfg.Device.CPUID)
	require.Equal(":4040", cfg.Transport.Listen)
	require.Equal(921600, cfg.Transport.BaudRate)
}

func TestSysInfo(t *testing.T) {
	require := require.New(t)
	cfg, err := Parse([]byte(sample))
	require.Nil(err)

	info := cfg.SysInfo()
	require.Equal([3]uint8{4, 7, 0}, info.FirmwareVersion)
	require.Equal([3]uint8{1, 0, 0}, info.ProtocolVersion)
	require.Equal([3]uint8{3, 0, 1}, info.BootloaderVersion)
	require.NotZero(info.HWCaps & wire.HWCapJPEG)
	require.NotZero(info.HWCaps & wire.HWCapHWCRC)
	require.Equal(uint8(6), info.PMUEvents())
	require.Equal(uint32(2048), info.FlashSizeKB)
}

func TestEngineConfig(t *testing.T) {
	require := require.New(t)
	cfg, err := Parse([]byte(sample))
	require.Nil(err)

	ecfg := cfg.EngineConfig(nil)
	require.Equal(4082, ecfg.MaxPayload)
	require.Equal(3, ecfg.RtxRetries)
	require.True(ecfg.Events)
	require.Equal(uint32(0x411FC271), ecfg.Info.CPUID)
}

func TestValidation(t *testing.T) {
	require := require.New(t)

	_, err := Parse([]byte("[device]\ncapabilities = [\"warp_drive\"]\n"))
	require.NotNil(err)

	_, err = Parse([]byte("[device]\nfirmware_version = \"4.7\"\n"))
	require.NotNil(err)

	_, err = Parse([]byte("not valid toml ["))
	require.NotNil(err)
}
