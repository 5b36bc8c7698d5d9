package serverlist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leishou0891/RAMCloud/internal/cluster"
	"github.com/leishou0891/RAMCloud/internal/tabletmap"
)

func TestAddAssignsSequentialSlotsStartingAt1(t *testing.T) {
	l := New()
	id1 := l.Add("mock:host=m1", cluster.Master, 0)
	id2 := l.Add("mock:host=m2", cluster.Master, 0)
	assert.Equal(t, cluster.ServerId{Index: 1, Generation: 0}, id1)
	assert.Equal(t, cluster.ServerId{Index: 2, Generation: 0}, id2)
}

func TestAddAllocatesWillOnlyForMasters(t *testing.T) {
	l := New()
	master := l.Add("mock:host=m1", cluster.Master, 0)
	backup := l.Add("mock:host=b1", cluster.Backup, 500)

	will, err := l.WillSnapshot(master)
	require.NoError(t, err)
	assert.NotNil(t, will)

	_, err = l.WillSnapshot(backup)
	assert.ErrorIs(t, err, ErrInvalidServerId)
	entry, err := l.Get(backup)
	require.NoError(t, err)
	assert.Equal(t, uint32(500), entry.ExpectedReadMBytesPerSec)
}

func TestAddForcesZeroReadBandwidthWithoutBackupCapability(t *testing.T) {
	l := New()
	id := l.Add("mock:host=m1", cluster.Master, 999)
	entry, err := l.Get(id)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), entry.ExpectedReadMBytesPerSec)
}

// S3 — crash/remove delta stream, and slot reuse bumps generation.
func TestCrashRemoveDeltaStreamAndSlotReuse(t *testing.T) {
	l := New()
	var records []DeltaRecord
	l.SetOnCommit(func(d Delta) { records = append(records, d.Records...) })

	m := l.Add("mock:host=m1", cluster.Master, 0)
	require.Equal(t, cluster.ServerId{Index: 1, Generation: 0}, m)

	require.NoError(t, l.Crashed(m))
	require.NoError(t, l.Remove(m))

	require.Len(t, records, 3)
	assert.Equal(t, EventAdded, records[0].Event)
	assert.Equal(t, EventCrashed, records[1].Event)
	assert.Equal(t, EventDown, records[2].Event)

	reused := l.Add("mock:host=m1-again", cluster.Master, 0)
	assert.Equal(t, cluster.ServerId{Index: 1, Generation: 1}, reused)
}

func TestCrashedTwiceIsIdempotentAndEmitsOnlyOneDelta(t *testing.T) {
	l := New()
	commits := 0
	m := l.Add("mock:host=m1", cluster.Master, 0)
	l.SetOnCommit(func(Delta) { commits++ })

	require.NoError(t, l.Crashed(m))
	require.NoError(t, l.Crashed(m))
	assert.Equal(t, 1, commits)
}

func TestRemoveOnCrashedServerEmitsOnlyDownDelta(t *testing.T) {
	l := New()
	m := l.Add("mock:host=m1", cluster.Master, 0)
	require.NoError(t, l.Crashed(m))

	var records []DeltaRecord
	l.SetOnCommit(func(d Delta) { records = append(records, d.Records...) })
	require.NoError(t, l.Remove(m))

	require.Len(t, records, 1)
	assert.Equal(t, EventDown, records[0].Event)
}

func TestInvalidServerIdErrors(t *testing.T) {
	l := New()
	assert.ErrorIs(t, l.Crashed(cluster.InvalidServerId), ErrInvalidServerId)
	assert.ErrorIs(t, l.Remove(cluster.ServerId{Index: 5, Generation: 0}), ErrInvalidServerId)

	m := l.Add("mock:host=m1", cluster.Master, 0)
	stale := cluster.ServerId{Index: m.Index, Generation: m.Generation + 1}
	assert.ErrorIs(t, l.Crashed(stale), ErrInvalidServerId)
}

func TestNumberOfMastersAndBackupsTracksLiveCapabilities(t *testing.T) {
	l := New()
	m1 := l.Add("mock:host=m1", cluster.Master, 0)
	l.Add("mock:host=b1", cluster.Backup, 100)
	l.Add("mock:host=mb1", cluster.Master|cluster.Backup, 200)

	assert.Equal(t, 2, l.NumberOfMasters())
	assert.Equal(t, 2, l.NumberOfBackups())

	require.NoError(t, l.Crashed(m1))
	assert.Equal(t, 1, l.NumberOfMasters())
	assert.Equal(t, 2, l.NumberOfBackups())
}

// S6 — filter serialization.
func TestSerializeFiltersByServiceAndIncludesCrashed(t *testing.T) {
	l := New()
	m1 := l.Add("mock:host=m1", cluster.Master, 0)
	l.Add("mock:host=b1", cluster.Backup, 100)
	mb1 := l.Add("mock:host=mb1", cluster.Master|cluster.Backup, 200)

	require.NoError(t, l.Remove(m1))
	require.NoError(t, l.Crashed(mb1))

	masters, _ := l.Serialize(cluster.Master)
	require.Len(t, masters, 1)
	assert.Equal(t, mb1, masters[0].ServerId)
	assert.Equal(t, cluster.StatusCrashed, masters[0].Status)

	backups, _ := l.Serialize(cluster.Backup)
	require.Len(t, backups, 2)

	all, version := l.Serialize(cluster.Master | cluster.Backup)
	assert.Len(t, all, 2)
	assert.Equal(t, l.Version(), version)
}

func TestNextMasterAndBackupIndex(t *testing.T) {
	l := New()
	_, ok := l.NextMasterIndex(1)
	assert.False(t, ok)

	l.Add("mock:host=b1", cluster.Backup, 0)
	m := l.Add("mock:host=m1", cluster.Master, 0)

	id, ok := l.NextMasterIndex(1)
	require.True(t, ok)
	assert.Equal(t, m, id)

	_, err := l.FirstUpMaster()
	require.NoError(t, err)
}

func TestFirstUpMasterErrorsWhenNoneAvailable(t *testing.T) {
	l := New()
	_, err := l.FirstUpMaster()
	assert.ErrorIs(t, err, ErrNoMastersAvailable)
}

func TestFindByLocatorOnlyMatchesUpEntries(t *testing.T) {
	l := New()
	m := l.Add("mock:host=m1", cluster.Master, 0)
	require.NoError(t, l.Crashed(m))

	_, ok := l.FindByLocator("mock:host=m1", cluster.Master)
	assert.False(t, ok, "crashed entries should not resolve via FindByLocator")

	m2 := l.Add("mock:host=m2", cluster.Master, 0)
	id, ok := l.FindByLocator("mock:host=m2", cluster.Master)
	require.True(t, ok)
	assert.Equal(t, m2, id)
}

type recordingTracker struct {
	events []DeltaRecord
}

func (r *recordingTracker) OnServerListChange(rec DeltaRecord) {
	r.events = append(r.events, rec)
}

func TestRegisterTrackerBackfillsAddedForLiveEntries(t *testing.T) {
	l := New()
	l.Add("mock:host=m1", cluster.Master, 0)
	l.Add("mock:host=b1", cluster.Backup, 0)

	tr := &recordingTracker{}
	l.RegisterTracker(tr)
	require.Len(t, tr.events, 2)
	for _, e := range tr.events {
		assert.Equal(t, EventAdded, e.Event)
	}

	l.Add("mock:host=m2", cluster.Master, 0)
	assert.Len(t, tr.events, 3)
}

func TestUnregisterTrackerStopsFutureDeliveries(t *testing.T) {
	l := New()
	tr := &recordingTracker{}
	l.RegisterTracker(tr)
	l.UnregisterTracker(tr)

	l.Add("mock:host=m1", cluster.Master, 0)
	assert.Empty(t, tr.events)
}

func TestSetLogCabinEntryIdRecordsPosition(t *testing.T) {
	l := New()
	m := l.Add("mock:host=m1", cluster.Master, 0)

	require.NoError(t, l.SetLogCabinEntryId(m, 42))

	entry, err := l.Get(m)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), entry.LogCabinEntryId)
}

func TestWillSnapshotIsIndependentOfLiveWill(t *testing.T) {
	l := New()
	m := l.Add("mock:host=m1", cluster.Master, 0)

	require.NoError(t, l.MutateWill(m, func(w *tabletmap.TabletMap) {
		w.Add(tabletmap.Tablet{TableId: 0, StartKey: 0, EndKey: tabletmap.MaxKey, UserData: 0})
	}))

	snap, err := l.WillSnapshot(m)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Len())

	require.NoError(t, l.MutateWill(m, func(w *tabletmap.TabletMap) {
		w.Add(tabletmap.Tablet{TableId: 1, StartKey: 0, EndKey: tabletmap.MaxKey, UserData: 1})
	}))

	// The earlier snapshot must not observe the later mutation.
	assert.Equal(t, 1, snap.Len())
}
