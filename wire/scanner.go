package wire

import (
	"encoding/binary"
	"time"

	"omvp-toolkit/crc"
)

type scanState int

const (
	scanIdle scanState = iota
	scanSync
	scanHeader
	scanData
	scanCRC
)

const defaultScanTimeout = 500 * time.Millisecond

type ScannerConfig struct {
	// Validate the header CRC-16 and payload CRC-32.
	CheckCRC bool
	// Per-frame timeout, measured from sync acquisition.
	Timeout time.Duration
	// Called with every complete validated frame. The payload slice is
	// owned by the scanner and valid only until the next Feed.
	Frame func(hdr Header, payload []byte)
	// Called on framing errors. The header is meaningful only for
	// ErrPayloadChecksum and ErrLength; on ErrChecksum it cannot be
	// trusted beyond the sync bytes.
	Error func(err error, hdr Header)
}

// Scanner turns an unframed byte stream into frames. Any framing error
// drops back to a forward scan for the next sync pair, so a corrupted or
// truncated frame costs at most the bytes up to the next valid frame.
type Scanner struct {
	cfg ScannerConfig

	state scanState
	last  byte
	seen  bool

	hdr  Header
	hlen int

	payload []byte
	plen    int

	trailer [TrailerSize]byte
	tlen    int

	deadline time.Time
}

func NewScanner(cfg ScannerConfig) *Scanner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultScanTimeout
	}
	return &Scanner{
		cfg:     cfg,
		payload: make([]byte, MaxPayload),
	}
}

// SetCheckCRC toggles CRC validation, e.g. after a capability change.
func (sc *Scanner) SetCheckCRC(check bool) {
	sc.cfg.CheckCRC = check
}

// Feed consumes an arbitrary-sized chunk of the byte stream.
func (sc *Scanner) Feed(p []byte) {
	for i := 0; i < len(p); {
		switch sc.state {
		case scanIdle:
			sc.state = scanSync
			sc.seen = false
		case scanSync:
			sc.syncByte(p[i])
			i++
		case scanHeader:
			sc.headerByte(p[i])
			i++
		case scanData:
			n := copy(sc.payload[sc.plen:sc.hdr.Len()], p[i:])
			sc.plen += n
			i += n
			if sc.plen == int(sc.hdr.Len()) {
				sc.state = scanCRC
				sc.tlen = 0
			}
		case scanCRC:
			sc.trailer[sc.tlen] = p[i]
			sc.tlen++
			i++
			if sc.tlen == TrailerSize {
				sc.finishTrailer()
			}
		}
	}
}

// Expire resets the scanner if a frame has been in flight longer than
// the per-frame timeout. Returns true when a timeout fired.
func (sc *Scanner) Expire(now time.Time) bool {
	switch sc.state {
	case scanHeader, scanData, scanCRC:
		if now.After(sc.deadline) {
			sc.Reset()
			return true
		}
	}
	return false
}

// Reset drops any partial frame and returns to the idle state.
func (sc *Scanner) Reset() {
	sc.state = scanIdle
	sc.seen = false
	sc.hlen = 0
	sc.plen = 0
	sc.tlen = 0
}

func (sc *Scanner) syncByte(b byte) {
	if sc.seen && sc.last == Sync0 && b == Sync1 {
		sc.hdr[0] = Sync0
		sc.hdr[1] = Sync1
		sc.hlen = 2
		sc.seen = false
		sc.state = scanHeader
		sc.deadline = time.Now().Add(sc.cfg.Timeout)
		return
	}
	sc.last = b
	sc.seen = true
}

func (sc *Scanner) headerByte(b byte) {
	sc.hdr[sc.hlen] = b
	sc.hlen++
	if sc.hlen == HeaderSize {
		sc.finishHeader()
	}
}

func (sc *Scanner) finishHeader() {
	hdr := sc.hdr
	if sc.cfg.CheckCRC && hdr.CRC() != crc.Checksum16(hdr[:8]) {
		sc.fail(ErrChecksum, hdr)
		sc.rescan(hdr[2:])
		return
	}
	if hdr.Len() == 0 {
		sc.emit(hdr, nil)
		sc.Reset()
		return
	}
	if int(hdr.Len()) > len(sc.payload) {
		sc.fail(ErrLength, hdr)
		sc.rescan(hdr[2:])
		return
	}
	sc.plen = 0
	sc.state = scanData
}

func (sc *Scanner) finishTrailer() {
	hdr := sc.hdr
	payload := sc.payload[:sc.plen]
	if sc.cfg.CheckCRC {
		want := binary.LittleEndian.Uint32(sc.trailer[:])
		if crc.Checksum32(payload) != want {
			sc.fail(ErrPayloadChecksum, hdr)
			sc.Reset()
			return
		}
	}
	sc.emit(hdr, payload)
	sc.Reset()
}

// rescan pushes the bytes of a rejected header back through the sync
// search, so a real frame starting inside them is not lost. The tail is
// at most 8 bytes, too short to complete a nested header, so this never
// recurses.
func (sc *Scanner) rescan(tail []byte) {
	buf := make([]byte, len(tail))
	copy(buf, tail)
	sc.Reset()
	sc.state = scanSync
	for _, b := range buf {
		switch sc.state {
		case scanSync:
			sc.syncByte(b)
		case scanHeader:
			sc.headerByte(b)
		}
	}
}

func (sc *Scanner) emit(hdr Header, payload []byte) {
	if sc.cfg.Frame != nil {
		sc.cfg.Frame(hdr, payload)
	}
}

func (sc *Scanner) fail(err error, hdr Header) {
	if sc.cfg.Error != nil {
		sc.cfg.Error(err, hdr)
	}
}
