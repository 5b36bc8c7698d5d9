package coordinator

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leishou0891/RAMCloud/internal/cluster"
	"github.com/leishou0891/RAMCloud/internal/durablelog"
	"github.com/leishou0891/RAMCloud/internal/masterclient"
	"github.com/leishou0891/RAMCloud/internal/membership"
	"github.com/leishou0891/RAMCloud/internal/recovery"
	"github.com/leishou0891/RAMCloud/internal/serverlist"
	"github.com/leishou0891/RAMCloud/internal/tabletmap"
	"github.com/leishou0891/RAMCloud/internal/willpartition"
)

type noopPusher struct{}

func (noopPusher) PushIncremental(ctx context.Context, r membership.Recipient, delta serverlist.Delta) (membership.PushResult, error) {
	return membership.ResultOK, nil
}

func (noopPusher) PushFullList(ctx context.Context, r membership.Recipient, entries []serverlist.ServerEntry, version uint64) (membership.PushResult, error) {
	return membership.ResultOK, nil
}

type noopEngine struct{}

func (noopEngine) RecoverPartition(ctx context.Context, deadServerId cluster.ServerId, partition willpartition.Partition) error {
	return nil
}

type recordedPush struct {
	recipient masterclient.Recipient
	tablets   []tabletmap.Tablet
}

// fakeMasterClient records every setTablets push it receives. Pushes
// happen on their own goroutine (see Coordinator.pushTablets), so tests
// observe them through pushed rather than by reading pushes directly.
type fakeMasterClient struct {
	mu     sync.Mutex
	pushes []recordedPush
	pushed chan struct{}
}

func newFakeMasterClient() *fakeMasterClient {
	return &fakeMasterClient{pushed: make(chan struct{}, 64)}
}

func (f *fakeMasterClient) SetTablets(ctx context.Context, r masterclient.Recipient, tablets []tabletmap.Tablet) error {
	f.mu.Lock()
	f.pushes = append(f.pushes, recordedPush{recipient: r, tablets: tablets})
	f.mu.Unlock()
	f.pushed <- struct{}{}
	return nil
}

func (f *fakeMasterClient) waitForPush(t *testing.T) recordedPush {
	t.Helper()
	select {
	case <-f.pushed:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a setTablets push, got none")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pushes[len(f.pushes)-1]
}

func newTestCoordinator() *Coordinator {
	return New(noopPusher{}, noopEngine{}, 3, WithMasterClient(newFakeMasterClient()))
}

func newTestCoordinatorWithMasterClient() (*Coordinator, *fakeMasterClient) {
	mc := newFakeMasterClient()
	return New(noopPusher{}, noopEngine{}, 3, WithMasterClient(mc)), mc
}

func TestEnlistServerWithoutDurableLog(t *testing.T) {
	c := newTestCoordinator()
	id, err := c.EnlistServer("mock:host=m1", cluster.Master, 0)
	require.NoError(t, err)
	assert.True(t, id.IsValid())
}

func TestEnlistServerWithDurableLogRecordsEntryId(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "log")
	l, err := durablelog.Open(logPath)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	c := New(noopPusher{}, noopEngine{}, 3, WithDurableLog(l))
	id, err := c.EnlistServer("mock:host=m1", cluster.Master, 0)
	require.NoError(t, err)

	entries, _ := c.GetServerList()
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ServerId)
	assert.Equal(t, uint64(0), entries[0].LogCabinEntryId)
}

func TestRestoreRebuildsServerListFromDurableLog(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "log")
	l, err := durablelog.Open(logPath)
	require.NoError(t, err)

	c1 := New(noopPusher{}, noopEngine{}, 3, WithDurableLog(l))
	_, err = c1.EnlistServer("mock:host=m1", cluster.Master, 0)
	require.NoError(t, err)
	_, err = c1.EnlistServer("mock:host=b1", cluster.Backup, 100)
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l2, err := durablelog.Open(logPath)
	require.NoError(t, err)
	t.Cleanup(func() { l2.Close() })

	c2 := New(noopPusher{}, noopEngine{}, 3, WithDurableLog(l2))
	require.NoError(t, c2.Restore())

	entries, _ := c2.GetServerList()
	require.Len(t, entries, 2)
}

func TestCreateTableAssignsFirstUpMaster(t *testing.T) {
	c := newTestCoordinator()
	master, err := c.EnlistServer("mock:host=m1", cluster.Master, 0)
	require.NoError(t, err)

	tableId, err := c.CreateTable("accounts")
	require.NoError(t, err)

	_, tablets, err := c.OpenTable("accounts")
	require.NoError(t, err)
	require.Len(t, tablets, 1)
	assert.Equal(t, master, tablets[0].ServerId)
	assert.True(t, tabletmap.CoversFullRange(tablets))
	assert.Equal(t, tableId, tablets[0].TableId)
}

func TestCreateTableWithNoMastersReturnsRetryLater(t *testing.T) {
	c := newTestCoordinator()
	_, err := c.CreateTable("accounts")
	assert.ErrorIs(t, err, ErrRetryLater)
}

func TestCreateTableDuplicateNameErrors(t *testing.T) {
	c := newTestCoordinator()
	_, err := c.EnlistServer("mock:host=m1", cluster.Master, 0)
	require.NoError(t, err)

	_, err = c.CreateTable("accounts")
	require.NoError(t, err)
	_, err = c.CreateTable("accounts")
	assert.ErrorIs(t, err, ErrTableAlreadyExists)
}

func TestDropTableRemovesFromTabletMapAndWill(t *testing.T) {
	c := newTestCoordinator()
	master, err := c.EnlistServer("mock:host=m1", cluster.Master, 0)
	require.NoError(t, err)
	_, err = c.CreateTable("accounts")
	require.NoError(t, err)

	require.NoError(t, c.DropTable("accounts"))

	_, _, err = c.OpenTable("accounts")
	assert.ErrorIs(t, err, tabletmap.ErrTableDoesNotExist)

	will, err := c.servers.WillSnapshot(master)
	require.NoError(t, err)
	assert.Equal(t, 0, will.Len())
}

func TestCreateTablePushesTabletsToOwningMaster(t *testing.T) {
	c, mc := newTestCoordinatorWithMasterClient()
	master, err := c.EnlistServer("mock:host=m1", cluster.Master, 0)
	require.NoError(t, err)

	_, err = c.CreateTable("accounts")
	require.NoError(t, err)

	push := mc.waitForPush(t)
	assert.Equal(t, master, push.recipient.ServerId)
	require.Len(t, push.tablets, 1)
	assert.True(t, tabletmap.CoversFullRange(push.tablets))
}

func TestDropTablePushesRemainingTabletsToFormerOwner(t *testing.T) {
	c, mc := newTestCoordinatorWithMasterClient()
	master, err := c.EnlistServer("mock:host=m1", cluster.Master, 0)
	require.NoError(t, err)
	_, err = c.CreateTable("accounts")
	require.NoError(t, err)
	create := mc.waitForPush(t)
	require.Equal(t, master, create.recipient.ServerId)

	require.NoError(t, c.DropTable("accounts"))

	drop := mc.waitForPush(t)
	assert.Equal(t, master, drop.recipient.ServerId)
	assert.Empty(t, drop.tablets)
}

func TestDropTableUnknownNameErrors(t *testing.T) {
	c := newTestCoordinator()
	err := c.DropTable("nope")
	assert.ErrorIs(t, err, tabletmap.ErrTableDoesNotExist)
}

func TestHintServerDownAndTabletsRecoveredFullCycle(t *testing.T) {
	c := newTestCoordinator()
	dead, err := c.EnlistServer("mock:host=m1", cluster.Master, 0)
	require.NoError(t, err)
	alive, err := c.EnlistServer("mock:host=m2", cluster.Master, 0)
	require.NoError(t, err)

	_, err = c.CreateTable("accounts")
	require.NoError(t, err)
	// accounts landed on whichever master sorted first; force it onto dead
	// by recreating against a fresh coordinator would be simpler, but here
	// we just recover whatever "dead" owns, if anything.
	owned := c.tablets.ForServer(dead)

	require.NoError(t, c.HintServerDown("mock:host=m1"))

	entry, err := c.servers.Get(dead)
	require.NoError(t, err)
	assert.Equal(t, cluster.StatusCrashed, entry.Status)

	if len(owned) == 0 {
		return
	}

	recovered := make([]tabletmap.Tablet, len(owned))
	for i, t := range owned {
		recovered[i] = t
		recovered[i].ServerId = alive
		recovered[i].State = tabletmap.Normal
	}
	require.NoError(t, c.TabletsRecovered(dead, alive, recovered))

	_, err = c.servers.Get(dead)
	assert.ErrorIs(t, err, serverlist.ErrInvalidServerId)
}

func TestPingTargetsOnlyIncludesUpPingCapableServers(t *testing.T) {
	c := newTestCoordinator()
	up, err := c.EnlistServer("mock:host=m1", cluster.Master|cluster.Ping, 0)
	require.NoError(t, err)
	_, err = c.EnlistServer("mock:host=m2", cluster.Master, 0)
	require.NoError(t, err)

	targets := c.PingTargets()
	require.Len(t, targets, 1)
	assert.Equal(t, up, targets[0].ServerId)
}

func TestTabletsRecoveredPropagatesNoSuchRecoveryError(t *testing.T) {
	c := newTestCoordinator()
	err := c.TabletsRecovered(cluster.ServerId{Index: 9, Generation: 1}, cluster.ServerId{Index: 1, Generation: 0}, nil)
	assert.True(t, errors.Is(err, recovery.ErrNoSuchRecovery))
}
