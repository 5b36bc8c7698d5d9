// Package tabletmap implements the coordinator's tablet map: the
// assignment of table key ranges to servers. See doc.go for the full
// package documentation.
package tabletmap

import (
	"errors"
	"sort"
	"sync"

	"github.com/leishou0891/RAMCloud/internal/cluster"
)

// ErrTableDoesNotExist is returned by Tables.Lookup-based callers when a
// table name has no assigned id.
var ErrTableDoesNotExist = errors.New("table does not exist")

// ErrRecoveryMismatch is returned by ReplaceRecovered when the replacement
// tablets do not exactly cover the ranges they are meant to replace.
var ErrRecoveryMismatch = errors.New("recovered tablet ranges do not match the ranges being replaced")

// MaxKey is the largest representable key; it closes the range of a
// single-tablet table.
const MaxKey = ^uint64(0)

// State is a tablet's position in its NORMAL <-> RECOVERING lifecycle.
type State int

const (
	Normal State = iota
	Recovering
)

func (s State) String() string {
	if s == Recovering {
		return "RECOVERING"
	}
	return "NORMAL"
}

// Tablet is a contiguous key range of a table, owned by one server.
type Tablet struct {
	TableId        uint64
	StartKey       uint64
	EndKey         uint64
	State          State
	ServerId       cluster.ServerId
	ServiceLocator string
	UserData       uint64
}

// TabletMap is the ordered sequence of tablet assignments for every table.
// A zero value is not usable; use New.
//
// A master's will is itself represented by a *TabletMap: each will entry
// reuses the Tablet shape, with UserData holding the recovery partition
// id rather than a table-specific value.
type TabletMap struct {
	mu      sync.RWMutex
	tablets []Tablet
}

// New returns an empty tablet map.
func New() *TabletMap {
	return &TabletMap{}
}

// Add appends a tablet to the map.
func (m *TabletMap) Add(t Tablet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tablets = append(m.tablets, t)
}

// Tablets returns a defensive copy of every tablet in the map, ordered as
// stored (insertion order).
func (m *TabletMap) Tablets() []Tablet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Tablet, len(m.tablets))
	copy(out, m.tablets)
	return out
}

// Len reports the number of tablets currently tracked.
func (m *TabletMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tablets)
}

// ForTable returns the tablets belonging to tableId, in storage order.
func (m *TabletMap) ForTable(tableId uint64) []Tablet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Tablet
	for _, t := range m.tablets {
		if t.TableId == tableId {
			out = append(out, t)
		}
	}
	return out
}

// ForServer returns the tablets currently assigned to serverId.
func (m *TabletMap) ForServer(serverId cluster.ServerId) []Tablet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Tablet
	for _, t := range m.tablets {
		if t.ServerId == serverId {
			out = append(out, t)
		}
	}
	return out
}

// RemoveForTable deletes every tablet belonging to tableId and reports how
// many were removed.
func (m *TabletMap) RemoveForTable(tableId uint64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.tablets[:0]
	removed := 0
	for _, t := range m.tablets {
		if t.TableId == tableId {
			removed++
			continue
		}
		kept = append(kept, t)
	}
	m.tablets = kept
	return removed
}

// MarkRecovering transitions every tablet owned by serverId to RECOVERING
// and returns a snapshot of those tablets as they were just before the
// transition (their ranges, taken under the same lock, for the recovery
// engine to partition).
func (m *TabletMap) MarkRecovering(serverId cluster.ServerId) []Tablet {
	m.mu.Lock()
	defer m.mu.Unlock()
	var snapshot []Tablet
	for i := range m.tablets {
		if m.tablets[i].ServerId == serverId {
			snapshot = append(snapshot, m.tablets[i])
			m.tablets[i].State = Recovering
		}
	}
	return snapshot
}

// ReplaceRecovered replaces every RECOVERING tablet owned by deadServerId
// with newTablets, which must cover exactly the same ranges (no partial
// replacement). On success the new tablets are inserted in NORMAL state.
func (m *TabletMap) ReplaceRecovered(deadServerId cluster.ServerId, newTablets []Tablet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var oldRanges []Tablet
	var kept []Tablet
	for _, t := range m.tablets {
		if t.ServerId == deadServerId && t.State == Recovering {
			oldRanges = append(oldRanges, t)
			continue
		}
		kept = append(kept, t)
	}

	if !rangesMatch(oldRanges, newTablets) {
		return ErrRecoveryMismatch
	}

	replacement := make([]Tablet, len(newTablets))
	copy(replacement, newTablets)
	for i := range replacement {
		replacement[i].State = Normal
	}

	m.tablets = append(kept, replacement...)
	return nil
}

// rangesMatch reports whether old and new tablet sets cover exactly the
// same union of [start,end] ranges, regardless of how that union is split.
func rangesMatch(old, new []Tablet) bool {
	oldRanges := keyRangesOf(old)
	newRanges := keyRangesOf(new)
	return sameCoverage(oldRanges, newRanges)
}

type keyRange struct{ start, end uint64 }

func keyRangesOf(tablets []Tablet) []keyRange {
	out := make([]keyRange, len(tablets))
	for i, t := range tablets {
		out[i] = keyRange{t.StartKey, t.EndKey}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].start < out[j].start })
	return out
}

func sameCoverage(a, b []keyRange) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	merge := func(rs []keyRange) []keyRange {
		var out []keyRange
		for _, r := range rs {
			if len(out) > 0 && out[len(out)-1].end+1 == r.start {
				out[len(out)-1].end = r.end
				continue
			}
			out = append(out, r)
		}
		return out
	}
	ma, mb := merge(a), merge(b)
	if len(ma) != len(mb) {
		return false
	}
	for i := range ma {
		if ma[i] != mb[i] {
			return false
		}
	}
	return true
}

// CoversFullRange reports whether tablets, taken together, cover exactly
// [0, MaxKey] without gaps or overlaps.
func CoversFullRange(tablets []Tablet) bool {
	if len(tablets) == 0 {
		return false
	}
	ranges := keyRangesOf(tablets)
	if ranges[0].start != 0 {
		return false
	}
	for i := 1; i < len(ranges); i++ {
		if ranges[i].start != ranges[i-1].end+1 {
			return false
		}
	}
	return ranges[len(ranges)-1].end == MaxKey
}

// Tables maps table names to table ids.
type Tables struct {
	mu     sync.RWMutex
	byName map[string]uint64
	nextID uint64
}

// NewTables returns an empty table name index.
func NewTables() *Tables {
	return &Tables{byName: make(map[string]uint64)}
}

// Lookup returns the id assigned to name, if any.
func (t *Tables) Lookup(name string) (uint64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.byName[name]
	return id, ok
}

// Allocate assigns the next table id to name and records it. Callers must
// ensure name is not already present.
func (t *Tables) Allocate(name string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.byName[name] = id
	return id
}

// Delete removes name from the index, if present.
func (t *Tables) Delete(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byName, name)
}

// Len reports the number of known tables.
func (t *Tables) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byName)
}
