// Package netem wraps a net.Conn with byte-pipe fault injection for
// protocol tests: chopped writes, lost chunks, duplicated chunks and
// single-bit corruption.
package netem

import (
	"net"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

type Config struct {
	// Split every write into chunks of at most this many bytes.
	// Zero writes each buffer whole.
	WriteChopSize int
	// Every nth chunk is dropped. Zero disables loss.
	WriteLossNth int
	// Every nth chunk is written twice. Zero disables duplication.
	WriteDuplicateNth int
	// Every nth chunk has one bit flipped. Zero disables corruption.
	WriteCorruptNth int
}

// Netem forwards reads untouched and mangles writes per its config.
type Netem struct {
	net.Conn

	chopSize   uint32
	lossNth    uint32
	dupNth     uint32
	corruptNth uint32

	counter uint32
}

func New(conn net.Conn, cfg Config) *Netem {
	ne := &Netem{Conn: conn}
	ne.Update(cfg)
	return ne
}

// Update swaps the fault configuration. Takes effect on the next write.
func (ne *Netem) Update(cfg Config) {
	atomic.StoreUint32(&ne.chopSize, uint32(cfg.WriteChopSize))
	atomic.StoreUint32(&ne.lossNth, uint32(cfg.WriteLossNth))
	atomic.StoreUint32(&ne.dupNth, uint32(cfg.WriteDuplicateNth))
	atomic.StoreUint32(&ne.corruptNth, uint32(cfg.WriteCorruptNth))
	atomic.StoreUint32(&ne.counter, 0)
}

// Reset disables all fault injection.
func (ne *Netem) Reset() {
	ne.Update(Config{})
}

func (ne *Netem) Write(b []byte) (int, error) {
	chop := int(atomic.LoadUint32(&ne.chopSize))
	if chop <= 0 {
		chop = len(b)
	}
	written := 0
	for written < len(b) {
		chunk := b[written:]
		if len(chunk) > chop {
			chunk = chunk[:chop]
		}
		if err := ne.writeChunk(chunk); err != nil {
			return written, err
		}
		written += len(chunk)
	}
	return written, nil
}

func (ne *Netem) writeChunk(chunk []byte) error {
	count := atomic.AddUint32(&ne.counter, 1)
	loss := atomic.LoadUint32(&ne.lossNth)
	dup := atomic.LoadUint32(&ne.dupNth)
	corrupt := atomic.LoadUint32(&ne.corruptNth)

	fields := logrus.Fields{"chunk": count, "len": len(chunk)}

	if loss > 0 && count%loss == 0 {
		log.WithFields(fields).Debug("Dropping chunk")
		return nil
	}
	if corrupt > 0 && count%corrupt == 0 {
		log.WithFields(fields).Debug("Corrupting chunk")
		mangled := make([]byte, len(chunk))
		copy(mangled, chunk)
		mangled[len(mangled)/2] ^= 0x04
		chunk = mangled
	}
	if _, err := ne.Conn.Write(chunk); err != nil {
		return err
	}
	if dup > 0 && count%dup == 0 {
		log.WithFields(fields).Debug("Duplicating chunk")
		if _, err := ne.Conn.Write(chunk); err != nil {
			return err
		}
	}
	return nil
}
