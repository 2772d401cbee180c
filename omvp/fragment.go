package omvp

import "omvp-toolkit/wire"

// reassembler concatenates fragment payloads of one in-flight
// (channel, opcode) pair. Exactly one reassembly runs per direction;
// a frame for a different pair mid-reassembly is a FRAGMENT error.
type reassembler struct {
	buf     []byte
	n       int
	channel uint8
	opcode  uint8
	active  bool
}

func newReassembler(size int) reassembler {
	return reassembler{buf: make([]byte, size)}
}

// push feeds one received frame. It returns the complete payload and
// done=true when the final fragment (FRAGMENT clear) lands. The
// returned slice aliases the reassembly buffer and is valid until the
// next push.
func (ra *reassembler) push(hdr wire.Header, payload []byte) (data []byte, done bool, st wire.Status) {
	frag := hdr.Flags()&wire.FlagFrag != 0
	if !ra.active {
		if !frag {
			return payload, true, wire.StatusSuccess
		}
		ra.active = true
		ra.channel = hdr.Channel()
		ra.opcode = hdr.Opcode()
		ra.n = 0
	} else if hdr.Channel() != ra.channel || hdr.Opcode() != ra.opcode {
		ra.reset()
		return nil, false, wire.StatusFragment
	}
	if ra.n+len(payload) > len(ra.buf) {
		ra.reset()
		return nil, false, wire.StatusFragment
	}
	copy(ra.buf[ra.n:], payload)
	ra.n += len(payload)
	if frag {
		return nil, false, wire.StatusSuccess
	}
	data = ra.buf[:ra.n]
	ra.reset()
	return data, true, wire.StatusSuccess
}

func (ra *reassembler) reset() {
	ra.active = false
	ra.n = 0
}
