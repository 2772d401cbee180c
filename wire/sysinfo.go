package wire

import "encoding/binary"

const SysInfoSize = 80

// Hardware capability bits of the SYS_INFO record. The PMU event counter
// count occupies bits 8-15 as a contiguous field.
const (
	HWCapGPU uint64 = 1 << iota
	HWCapNPU
	HWCapISP
	HWCapVideoEnc
	HWCapJPEG
	HWCapDRAM
	HWCapHWCRC
	HWCapPMU
)

const (
	HWCapWiFi uint64 = 1 << (16 + iota)
	HWCapBT
	HWCapSD
	HWCapEthernet
	HWCapUSBHS
	HWCapMulticore
)

const (
	hwPMUEventShift = 8
	hwPMUEventMask  = 0xFF
)

// PMUEventCount packs a PMU event counter count into the hw_caps field.
func PMUEventCount(n uint8) uint64 {
	return uint64(n) << hwPMUEventShift
}

// SysInfo is the 80-byte identification record returned by SYS_INFO.
type SysInfo struct {
	CPUID  uint32
	DevID  [12]byte
	ChipID [12]byte
	HWCaps uint64

	FlashSizeKB        uint32
	RAMSizeKB          uint32
	FramebufferSizeKB  uint32
	StreamBufferSizeKB uint32

	FirmwareVersion   [3]uint8
	ProtocolVersion   [3]uint8
	BootloaderVersion [3]uint8
}

func (si SysInfo) PMUEvents() uint8 {
	return uint8(si.HWCaps >> hwPMUEventShift & hwPMUEventMask)
}

func (si SysInfo) Encode() [SysInfoSize]byte {
	var b [SysInfoSize]byte
	binary.LittleEndian.PutUint32(b[0:], si.CPUID)
	copy(b[4:16], si.DevID[:])
	copy(b[16:28], si.ChipID[:])
	// bytes 28..36 reserved
	binary.LittleEndian.PutUint64(b[36:], si.HWCaps)
	binary.LittleEndian.PutUint32(b[44:], si.FlashSizeKB)
	binary.LittleEndian.PutUint32(b[48:], si.RAMSizeKB)
	binary.LittleEndian.PutUint32(b[52:], si.FramebufferSizeKB)
	binary.LittleEndian.PutUint32(b[56:], si.StreamBufferSizeKB)
	// bytes 60..68 reserved
	copy(b[68:71], si.FirmwareVersion[:])
	copy(b[71:74], si.ProtocolVersion[:])
	copy(b[74:77], si.BootloaderVersion[:])
	// bytes 77..80 pad
	return b
}

func DecodeSysInfo(b []byte) (SysInfo, error) {
	var si SysInfo
	if len(b) < SysInfoSize {
		return si, ErrShortBuffer
	}
	si.CPUID = binary.LittleEndian.Uint32(b[0:])
	copy(si.DevID[:], b[4:16])
	copy(si.ChipID[:], b[16:28])
	si.HWCaps = binary.LittleEndian.Uint64(b[36:])
	si.FlashSizeKB = binary.LittleEndian.Uint32(b[44:])
	si.RAMSizeKB = binary.LittleEndian.Uint32(b[48:])
	si.FramebufferSizeKB = binary.LittleEndian.Uint32(b[52:])
	si.StreamBufferSizeKB = binary.LittleEndian.Uint32(b[56:])
	copy(si.FirmwareVersion[:], b[68:71])
	copy(si.ProtocolVersion[:], b[71:74])
	copy(si.BootloaderVersion[:], b[74:77])
	return si, nil
}
