package omvp

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"omvp-toolkit/crc"
	"omvp-toolkit/wire"
)

var (
	ErrEngineClosed     = errors.New("omvp: engine closed")
	ErrAckQueueFull     = errors.New("omvp: ack queue full")
	ErrRetriesExhausted = errors.New("omvp: retries exhausted")
	ErrSyncReset        = errors.New("omvp: reset by sync")
)

// rtxEntry is one sent frame awaiting acknowledgment. The stored bytes
// are the complete original frame; resends flip the RTX flag in place.
type rtxEntry struct {
	seq      uint8
	channel  uint8
	opcode   uint8
	frame    []byte
	deadline time.Time
	interval time.Duration
	retries  int
	result   chan<- error
}

// rtxQueue is the bounded FIFO of pending-ACK frames.
type rtxQueue struct {
	entries []rtxEntry
	limit   int
}

func (q *rtxQueue) full() bool {
	return len(q.entries) >= q.limit
}

func (q *rtxQueue) depth() int {
	return len(q.entries)
}

func (q *rtxQueue) push(ent rtxEntry) bool {
	if q.full() {
		return false
	}
	q.entries = append(q.entries, ent)
	return true
}

// ack removes the oldest pending entry for (channel, opcode). ACK
// frames carry the responder's own sequence number, so matching is by
// command identity in FIFO order.
func (q *rtxQueue) ack(channel, opcode uint8) (rtxEntry, bool) {
	for i, ent := range q.entries {
		if ent.channel == channel && ent.opcode == opcode {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return ent, true
		}
	}
	return rtxEntry{}, false
}

// clear drops every pending entry, failing their originators with err.
func (q *rtxQueue) clear(err error) {
	for _, ent := range q.entries {
		notify(ent.result, err)
	}
	q.entries = q.entries[:0]
}

func notify(ch chan<- error, err error) {
	if ch != nil {
		select {
		case ch <- err:
		default:
		}
	}
}

// rtxTick resends expired entries with the RTX flag and exponential
// backoff, dropping those that exhausted their retries.
func (e *Engine) rtxTick(now time.Time) {
	kept := e.rtx.entries[:0]
	for _, ent := range e.rtx.entries {
		if now.Before(ent.deadline) {
			kept = append(kept, ent)
			continue
		}
		if ent.retries <= 0 {
			e.stats.transportErrors.Add(1)
			e.log.WithFields(logrus.Fields{
				"seq": ent.seq,
				"op":  ent.opcode,
			}).Warn("Dropping unacknowledged frame")
			notify(ent.result, ErrRetriesExhausted)
			continue
		}
		ent.frame[4] |= wire.FlagRTX
		binary.LittleEndian.PutUint16(ent.frame[8:], crc.Checksum16(ent.frame[:8]))
		if err := e.tr.WriteAll(ent.frame); err != nil {
			e.stats.transportErrors.Add(1)
		} else {
			e.stats.txFrames.Add(1)
			e.stats.txBytes.Add(uint32(len(ent.frame)))
		}
		ent.retries--
		ent.interval *= 2
		ent.deadline = now.Add(ent.interval)
		kept = append(kept, ent)
	}
	e.rtx.entries = kept
}

// handleAck closes out a pending exchange when an ACK or NAK frame
// arrives for it.
func (e *Engine) handleAck(hdr wire.Header, payload []byte) {
	ent, ok := e.rtx.ack(hdr.Channel(), hdr.Opcode())
	if !ok {
		return
	}
	if hdr.Flags()&wire.FlagNAK != 0 {
		notify(ent.result, &wire.StatusError{Opcode: hdr.Opcode(), Status: wire.GetStatus(payload)})
		return
	}
	notify(ent.result, nil)
}
