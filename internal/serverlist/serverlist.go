// Package serverlist implements the coordinator's versioned server
// registry, ServerList. See doc.go for the full package documentation.
package serverlist

import (
	"errors"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/leishou0891/RAMCloud/internal/cluster"
	"github.com/leishou0891/RAMCloud/internal/tabletmap"
)

// ErrInvalidServerId is returned when a ServerId names an empty slot, a
// stale generation, or the reserved zero id.
var ErrInvalidServerId = errors.New("invalid server id")

// ErrNoMastersAvailable is returned by FirstUpMaster when no server with
// the MASTER capability is currently UP.
var ErrNoMastersAvailable = errors.New("no masters available")

// EventType names the kind of transition a DeltaRecord describes.
type EventType int

const (
	EventAdded EventType = iota
	EventCrashed
	EventDown
)

func (e EventType) String() string {
	switch e {
	case EventAdded:
		return "ADDED"
	case EventCrashed:
		return "CRASHED"
	case EventDown:
		return "DOWN"
	default:
		return "UNKNOWN"
	}
}

// ServerEntry is the per-server record held in a ServerList. Inside the
// list, Will is nil unless MASTER is among Services; every copy handed
// out by Get, Serialize, or to trackers has Will nil, and WillSnapshot
// is the way to read a master's will.
type ServerEntry struct {
	ServerId                 cluster.ServerId
	ServiceLocator           string
	Services                 cluster.ServiceMask
	ExpectedReadMBytesPerSec uint32
	Status                   cluster.ServerStatus
	Will                     *tabletmap.TabletMap
	LogCabinEntryId          uint64
}

// snapshotValue returns a copy of e with Will stripped, safe to hand to
// trackers and serialize callers without exposing a live, mutable will.
func (e *ServerEntry) snapshotValue() ServerEntry {
	out := *e
	out.Will = nil
	return out
}

// DeltaRecord describes one entry's state transition.
type DeltaRecord struct {
	Event EventType
	Entry ServerEntry
}

// Delta is a batch of DeltaRecords committed together under one version
// bump.
type Delta struct {
	Version uint64
	Records []DeltaRecord
}

// Tracker is an in-process observer subscribed to ServerList transitions.
type Tracker interface {
	OnServerListChange(DeltaRecord)
}

// CommitFunc receives every Delta as it is committed, in commit order.
// The MembershipUpdater subscribes via SetOnCommit.
type CommitFunc func(Delta)

type slot struct {
	entry          *ServerEntry
	nextGeneration uint32
}

// ServerList is the sparse, versioned, slot-addressed server registry.
// The zero value is not usable; use New.
type ServerList struct {
	mu              sync.RWMutex
	slots           []slot // slots[0] is permanently empty
	numberOfMasters int
	numberOfBackups int
	version         uint64
	trackers        []Tracker
	onCommit        CommitFunc
}

// New returns an empty ServerList with slot 0 reserved.
func New() *ServerList {
	return &ServerList{slots: make([]slot, 1)}
}

// SetOnCommit installs the callback invoked after every committed
// mutation. There is at most one subscriber; call with nil to detach.
func (l *ServerList) SetOnCommit(fn CommitFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onCommit = fn
}

// Add assigns the lowest free slot index >= 1 to a new server, allocating
// a will if MASTER is among services, and returns its ServerId.
func (l *ServerList) Add(serviceLocator string, services cluster.ServiceMask, expectedReadMBytesPerSec uint32) cluster.ServerId {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.lowestFreeSlotLocked()
	if idx == len(l.slots) {
		l.slots = append(l.slots, slot{})
	}
	gen := l.slots[idx].nextGeneration
	id := cluster.ServerId{Index: uint32(idx), Generation: gen}

	mbytes := uint32(0)
	if services.Has(cluster.Backup) {
		mbytes = expectedReadMBytesPerSec
	}
	var will *tabletmap.TabletMap
	if services.Has(cluster.Master) {
		will = tabletmap.New()
	}

	entry := &ServerEntry{
		ServerId:                 id,
		ServiceLocator:           serviceLocator,
		Services:                 services,
		ExpectedReadMBytesPerSec: mbytes,
		Status:                   cluster.StatusUp,
		Will:                     will,
	}
	l.slots[idx].entry = entry
	if services.Has(cluster.Master) {
		l.numberOfMasters++
	}
	if services.Has(cluster.Backup) {
		l.numberOfBackups++
	}

	l.commitLocked(DeltaRecord{Event: EventAdded, Entry: entry.snapshotValue()})
	return id
}

func (l *ServerList) lowestFreeSlotLocked() int {
	for i := 1; i < len(l.slots); i++ {
		if l.slots[i].entry == nil {
			return i
		}
	}
	return len(l.slots)
}

func (l *ServerList) getLocked(id cluster.ServerId) (*ServerEntry, error) {
	if !id.IsValid() {
		return nil, ErrInvalidServerId
	}
	idx := int(id.Index)
	if idx <= 0 || idx >= len(l.slots) {
		return nil, ErrInvalidServerId
	}
	entry := l.slots[idx].entry
	if entry == nil || entry.ServerId.Generation != id.Generation {
		return nil, ErrInvalidServerId
	}
	return entry, nil
}

// Get returns a snapshot of the entry for id.
func (l *ServerList) Get(id cluster.ServerId) (ServerEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, err := l.getLocked(id)
	if err != nil {
		return ServerEntry{}, err
	}
	return entry.snapshotValue(), nil
}

// SetLogCabinEntryId records which durable-log position holds id's
// enlistment record. Does not emit a delta: it's bookkeeping for
// startup replay, not a membership transition.
func (l *ServerList) SetLogCabinEntryId(id cluster.ServerId, entryId uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, err := l.getLocked(id)
	if err != nil {
		return err
	}
	entry.LogCabinEntryId = entryId
	return nil
}

// Crashed transitions id's entry from UP to CRASHED. Calling it on an
// already-CRASHED entry is a no-op that emits no delta.
func (l *ServerList) Crashed(id cluster.ServerId) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.crashedLocked(id)
}

func (l *ServerList) crashedLocked(id cluster.ServerId) error {
	entry, err := l.getLocked(id)
	if err != nil {
		return err
	}
	if entry.Status == cluster.StatusCrashed {
		return nil
	}
	if entry.Status != cluster.StatusUp {
		panic("serverlist: illegal status transition, only UP -> CRASHED -> DOWN is allowed")
	}
	entry.Status = cluster.StatusCrashed
	if entry.Services.Has(cluster.Master) {
		l.numberOfMasters--
	}
	if entry.Services.Has(cluster.Backup) {
		l.numberOfBackups--
	}
	l.commitLocked(DeltaRecord{Event: EventCrashed, Entry: entry.snapshotValue()})
	return nil
}

// Remove crashes id first if it is still UP, then emits a DOWN delta,
// clears its slot, and bumps that slot's generation so the ServerId can
// never be reissued.
func (l *ServerList) Remove(id cluster.ServerId) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, err := l.getLocked(id)
	if err != nil {
		return err
	}
	if entry.Status == cluster.StatusUp {
		if err := l.crashedLocked(id); err != nil {
			return err
		}
	}

	down := entry.snapshotValue()
	down.Status = cluster.StatusDown
	l.commitLocked(DeltaRecord{Event: EventDown, Entry: down})

	idx := int(id.Index)
	l.slots[idx].entry = nil
	l.slots[idx].nextGeneration++
	return nil
}

func (l *ServerList) commitLocked(rec DeltaRecord) {
	l.version++
	delta := Delta{Version: l.version, Records: []DeltaRecord{rec}}
	for _, tr := range l.trackers {
		tr.OnServerListChange(rec)
	}
	if l.onCommit != nil {
		l.onCommit(delta)
	}
}

// Serialize returns every entry whose services intersect filter — UP and
// CRASHED entries alike, in slot-index order — alongside the list's
// current version.
func (l *ServerList) Serialize(filter cluster.ServiceMask) ([]ServerEntry, uint64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []ServerEntry
	for i := 1; i < len(l.slots); i++ {
		entry := l.slots[i].entry
		if entry == nil {
			continue
		}
		if entry.Services.Intersects(filter) {
			out = append(out, entry.snapshotValue())
		}
	}
	return out, l.version
}

// NextMasterIndex returns the lowest slot index >= from holding an UP
// master, and false if none exists.
func (l *ServerList) NextMasterIndex(from uint32) (cluster.ServerId, bool) {
	return l.nextIndexWithCapability(from, cluster.Master)
}

// NextBackupIndex returns the lowest slot index >= from holding an UP
// backup, and false if none exists.
func (l *ServerList) NextBackupIndex(from uint32) (cluster.ServerId, bool) {
	return l.nextIndexWithCapability(from, cluster.Backup)
}

func (l *ServerList) nextIndexWithCapability(from uint32, capability cluster.ServiceMask) (cluster.ServerId, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := from; i < uint32(len(l.slots)); i++ {
		entry := l.slots[i].entry
		if entry != nil && entry.Status == cluster.StatusUp && entry.Services.Has(capability) {
			return entry.ServerId, true
		}
	}
	return cluster.InvalidServerId, false
}

// FirstUpMaster returns the first UP master in slot order. This placement
// policy is deliberately simple and makes no load-awareness claim.
func (l *ServerList) FirstUpMaster() (cluster.ServerId, error) {
	id, ok := l.NextMasterIndex(1)
	if !ok {
		return cluster.InvalidServerId, ErrNoMastersAvailable
	}
	return id, nil
}

// WillSnapshot returns a copy of id's will, safe to hand to the recovery
// engine without risk of it racing a subsequent mutation of the live will.
func (l *ServerList) WillSnapshot(id cluster.ServerId) (*tabletmap.TabletMap, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, err := l.getLocked(id)
	if err != nil {
		return nil, err
	}
	if entry.Will == nil {
		return nil, ErrInvalidServerId
	}
	snap := tabletmap.New()
	for _, t := range entry.Will.Tablets() {
		snap.Add(t)
	}
	return snap, nil
}

// MutateWill runs fn against id's live will under the list's lock, so the
// append stays consistent with any concurrently observed server state.
func (l *ServerList) MutateWill(id cluster.ServerId, fn func(*tabletmap.TabletMap)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, err := l.getLocked(id)
	if err != nil {
		return err
	}
	if entry.Will == nil {
		return ErrInvalidServerId
	}
	fn(entry.Will)
	return nil
}

// NumberOfMasters returns the count of UP entries advertising MASTER.
func (l *ServerList) NumberOfMasters() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.numberOfMasters
}

// NumberOfBackups returns the count of UP entries advertising BACKUP.
func (l *ServerList) NumberOfBackups() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.numberOfBackups
}

// Version returns the list's current monotonic version.
func (l *ServerList) Version() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.version
}

// FindByLocator scans UP entries for one whose locator matches and whose
// services intersect filter, returning its id. Used by hintServerDown to
// resolve a service locator to a ServerId.
func (l *ServerList) FindByLocator(serviceLocator string, filter cluster.ServiceMask) (cluster.ServerId, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := 1; i < len(l.slots); i++ {
		entry := l.slots[i].entry
		if entry == nil || entry.Status != cluster.StatusUp {
			continue
		}
		if entry.ServiceLocator == serviceLocator && entry.Services.Intersects(filter) {
			return entry.ServerId, true
		}
	}
	return cluster.InvalidServerId, false
}

// RegisterTracker subscribes tr to future transitions and immediately
// backfills it with a synthetic ADDED event for every currently-UP entry,
// atomically under the same lock mutators hold.
func (l *ServerList) RegisterTracker(tr Tracker) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trackers = append(l.trackers, tr)
	for i := 1; i < len(l.slots); i++ {
		entry := l.slots[i].entry
		if entry != nil && entry.Status == cluster.StatusUp {
			tr.OnServerListChange(DeltaRecord{Event: EventAdded, Entry: entry.snapshotValue()})
		}
	}
}

// UnregisterTracker removes tr from the subscriber list, if present.
func (l *ServerList) UnregisterTracker(tr Tracker) {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx := slices.IndexFunc(l.trackers, func(t Tracker) bool { return t == tr })
	if idx >= 0 {
		l.trackers = slices.Delete(l.trackers, idx, idx+1)
	}
}
