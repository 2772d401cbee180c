package channel

import (
	"encoding/binary"
	"sync"

	"omvp-toolkit/wire"
)

// Profiler ioctl requests.
const ProfilerClear uint32 = 0x01

// profRecordSize is the wire size of one profiler entry:
// u32 site id + u32 call count + u64 tick total.
const profRecordSize = 16

type profEntry struct {
	id    uint32
	calls uint32
	ticks uint64
}

// Profiler accumulates per-site execution counters on the device and
// serves them to the host as fixed-size records.
type Profiler struct {
	Base

	mu      sync.Mutex
	entries []profEntry
	index   map[uint32]int
}

func NewProfiler(name string) *Profiler {
	return &Profiler{
		Base:  NewBase(name, wire.ChanRead),
		index: make(map[uint32]int),
	}
}

// Record charges ticks against a site.
func (pr *Profiler) Record(id uint32, ticks uint64) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	i, ok := pr.index[id]
	if !ok {
		i = len(pr.entries)
		pr.entries = append(pr.entries, profEntry{id: id})
		pr.index[id] = i
	}
	pr.entries[i].calls++
	pr.entries[i].ticks += ticks
}

func (pr *Profiler) Read(offset uint32, p []byte) (int, wire.Status) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	raw := pr.encode()
	if int(offset) >= len(raw) {
		return 0, wire.StatusBusy
	}
	return copy(p, raw[offset:]), wire.StatusSuccess
}

func (pr *Profiler) Available() uint32 {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return uint32(len(pr.entries) * profRecordSize)
}

func (pr *Profiler) Ioctl(request uint32, _ []byte) ([]byte, wire.Status) {
	if request != ProfilerClear {
		return nil, wire.StatusInvalid
	}
	pr.mu.Lock()
	defer pr.mu.Unlock()
	pr.entries = nil
	pr.index = make(map[uint32]int)
	return nil, wire.StatusSuccess
}

func (pr *Profiler) encode() []byte {
	raw := make([]byte, len(pr.entries)*profRecordSize)
	for i, ent := range pr.entries {
		b := raw[i*profRecordSize:]
		binary.LittleEndian.PutUint32(b[0:], ent.id)
		binary.LittleEndian.PutUint32(b[4:], ent.calls)
		binary.LittleEndian.PutUint64(b[8:], ent.ticks)
	}
	return raw
}
