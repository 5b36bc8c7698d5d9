// Package tablet is a master's local storage for one tablet: the slice
// of a table's key range that server owns, per the coordinator's
// tablet map. See doc.go for the full package documentation.
package tablet

import (
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/leishou0891/RAMCloud/internal/storage"
)

// State is a tablet's local disposition, independent of the
// coordinator's NORMAL/RECOVERING lifecycle for the same tablet.
type State string

const (
	StateActive    State = "active"
	StateRecovered State = "recovered"
)

// Tablet is one contiguous key-range partition of a table, backed by a
// storage.Backend. HashKey maps a string key into the same uint64
// keyspace the coordinator's tabletmap.Tablet.StartKey/EndKey use, so a
// master can decide locally whether a key falls inside its own range.
type Tablet struct {
	TableId  uint64
	StartKey uint64
	EndKey   uint64

	Store storage.Backend
	Stats *OperationStats

	mu    sync.RWMutex
	state State
}

// OperationStats tracks cumulative operation counts for one tablet.
type OperationStats struct {
	Gets    uint64
	Puts    uint64
	Deletes uint64
}

// New creates a tablet covering [startKey, endKey] of tableId, backed
// by an in-memory store.
func New(tableId, startKey, endKey uint64) *Tablet {
	return &Tablet{
		TableId:  tableId,
		StartKey: startKey,
		EndKey:   endKey,
		Store:    storage.NewMemoryBackend(),
		Stats:    &OperationStats{},
		state:    StateActive,
	}
}

// HashKey maps key into the tablet keyspace using FNV-1a, the same
// general-purpose hash the pack uses for key distribution elsewhere.
func HashKey(key string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return h.Sum64()
}

// Owns reports whether key's hash falls within this tablet's range.
// EndKey is treated as inclusive so a single tablet can cover the
// entire keyspace with StartKey 0 and EndKey ^uint64(0).
func (t *Tablet) Owns(key string) bool {
	h := HashKey(key)
	return h >= t.StartKey && h <= t.EndKey
}

func (t *Tablet) Get(key string) ([]byte, error) {
	atomic.AddUint64(&t.Stats.Gets, 1)
	return t.Store.Get(key)
}

func (t *Tablet) Put(key string, value []byte) error {
	atomic.AddUint64(&t.Stats.Puts, 1)
	return t.Store.Put(key, value)
}

func (t *Tablet) Delete(key string) error {
	atomic.AddUint64(&t.Stats.Deletes, 1)
	return t.Store.Delete(key)
}

func (t *Tablet) ListKeys() []string {
	return t.Store.List()
}

// ListKeysInRange returns the sorted subset of this tablet's keys
// falling in the lexicographic range [start, end).
func (t *Tablet) ListKeysInRange(start, end string) []string {
	all := t.Store.List()
	var out []string
	for _, k := range all {
		if k >= start && k < end {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func (t *Tablet) SetState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

func (t *Tablet) GetState() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Info summarizes a tablet for /info-style diagnostic endpoints.
type Info struct {
	TableId  uint64
	StartKey uint64
	EndKey   uint64
	State    State
	KeyCount int
	Bytes    int
}

func (t *Tablet) Info() Info {
	stats := t.Store.Stats()
	return Info{
		TableId:  t.TableId,
		StartKey: t.StartKey,
		EndKey:   t.EndKey,
		State:    t.GetState(),
		KeyCount: stats.Keys,
		Bytes:    stats.Bytes,
	}
}
