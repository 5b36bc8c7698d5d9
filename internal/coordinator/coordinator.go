// Package coordinator wires ServerList, TabletMap, the membership
// updater, and the recovery pipeline behind a single coarse lock, and
// exposes the composite operations that need more than one of them at
// once. See doc.go for the full package documentation.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/leishou0891/RAMCloud/internal/cluster"
	"github.com/leishou0891/RAMCloud/internal/durablelog"
	"github.com/leishou0891/RAMCloud/internal/masterclient"
	"github.com/leishou0891/RAMCloud/internal/membership"
	"github.com/leishou0891/RAMCloud/internal/recovery"
	"github.com/leishou0891/RAMCloud/internal/serverlist"
	"github.com/leishou0891/RAMCloud/internal/tabletmap"
)

// ErrTableAlreadyExists is returned by CreateTable when the name is
// already allocated.
var ErrTableAlreadyExists = errors.New("coordinator: table already exists")

// ErrRetryLater is returned when a composite operation cannot proceed
// right now for reasons that may resolve on their own, such as no
// master currently being UP to host a new table.
var ErrRetryLater = errors.New("coordinator: try again later")

type enlistRecord struct {
	ServiceLocator string              `json:"service_locator"`
	Services       cluster.ServiceMask `json:"services"`
	ExpectedReadMB uint32              `json:"expected_read_mb_per_sec"`
}

// Coordinator is the RPC dispatcher's backing state: everything that
// must move together to keep ServerList and TabletMap consistent lives
// behind Coordinator's single mutex, matching the concurrency model of
// having one coarse lock rather than one per collaborator.
type Coordinator struct {
	mu sync.Mutex

	servers *serverlist.ServerList
	tablets *tabletmap.TabletMap
	tables  *tabletmap.Tables

	updater      *membership.Updater
	recovery     *recovery.Coordinator
	masterClient masterclient.Client
	log          *durablelog.Log // nil when durability is disabled

	membershipOpts []membership.Option
}

// Option configures a Coordinator at construction time.
type Option func(*Coordinator)

// WithDurableLog enables append-before-admit logging of every
// enlistment through l.
func WithDurableLog(l *durablelog.Log) Option {
	return func(c *Coordinator) { c.log = l }
}

// WithMembershipOptions forwards opts to the membership updater's
// constructor, e.g. to tune retry/backoff behavior.
func WithMembershipOptions(opts ...membership.Option) Option {
	return func(c *Coordinator) { c.membershipOpts = append(c.membershipOpts, opts...) }
}

// WithMasterClient overrides the setTablets collaborator used to push
// tablet assignments to masters. Defaults to masterclient.NewHTTPClient.
func WithMasterClient(client masterclient.Client) Option {
	return func(c *Coordinator) { c.masterClient = client }
}

// New builds a Coordinator. engine drives recovery replay (see the
// recovery package); recoveryFanout caps how many masters a single will
// is split across.
func New(pusher membership.Pusher, engine recovery.Engine, recoveryFanout int, opts ...Option) *Coordinator {
	servers := serverlist.New()
	tablets := tabletmap.New()

	c := &Coordinator{
		servers: servers,
		tablets: tablets,
		tables:  tabletmap.NewTables(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.masterClient == nil {
		c.masterClient = masterclient.NewHTTPClient()
	}

	unreachable := membership.WithOnUnreachable(func(id cluster.ServerId) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if err := servers.Crashed(id); err != nil {
			log.Printf("coordinator: marking unreachable %s crashed: %v", id, err)
		}
	})
	c.updater = membership.NewUpdater(servers, pusher, append([]membership.Option{unreachable}, c.membershipOpts...)...)
	servers.SetOnCommit(c.updater.OnCommit)
	c.recovery = recovery.New(servers, tablets, engine, recoveryFanout)

	return c
}

// RunMembershipUpdater drains the membership push queue until ctx is
// done. Callers start it in its own goroutine at startup.
func (c *Coordinator) RunMembershipUpdater(ctx context.Context) {
	c.updater.Run(ctx)
}

// Restore replays every enlistment recorded in the durable log to
// rebuild a ServerList after a coordinator restart. It is a no-op when
// durability is disabled. Restore must be called before any RPC traffic
// is accepted.
func (c *Coordinator) Restore() error {
	if c.log == nil {
		return nil
	}
	return c.log.Replay(func(id uint64, data []byte) error {
		var rec enlistRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("coordinator: replaying log entry %d: %w", id, err)
		}
		serverId := c.servers.Add(rec.ServiceLocator, rec.Services, rec.ExpectedReadMB)
		return c.servers.SetLogCabinEntryId(serverId, id)
	})
}

// EnlistServer admits a new server into the cluster. When a durable log
// is configured, the enlistment is appended and synced before the
// server is admitted, and the assigned log position is attached to its
// ServerEntry.
func (c *Coordinator) EnlistServer(serviceLocator string, services cluster.ServiceMask, expectedReadMBytesPerSec uint32) (cluster.ServerId, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var logEntryId uint64
	haveLogEntry := false
	if c.log != nil {
		data, err := json.Marshal(enlistRecord{
			ServiceLocator: serviceLocator,
			Services:       services,
			ExpectedReadMB: expectedReadMBytesPerSec,
		})
		if err != nil {
			return cluster.InvalidServerId, err
		}
		logEntryId, err = c.log.Append(data)
		if err != nil {
			return cluster.InvalidServerId, err
		}
		haveLogEntry = true
	}

	id := c.servers.Add(serviceLocator, services, expectedReadMBytesPerSec)
	if haveLogEntry {
		if err := c.servers.SetLogCabinEntryId(id, logEntryId); err != nil {
			return cluster.InvalidServerId, err
		}
	}
	return id, nil
}

// GetServerList returns every server the coordinator knows about,
// regardless of status, along with the version of that snapshot.
func (c *Coordinator) GetServerList() ([]serverlist.ServerEntry, uint64) {
	return c.servers.Serialize(cluster.All)
}

// GetTabletMap returns every tablet currently tracked.
func (c *Coordinator) GetTabletMap() []tabletmap.Tablet {
	return c.tablets.Tablets()
}

// CreateTable allocates a table id for name and assigns its single
// initial tablet, covering the full key space, to the first UP master
// in slot order. The assignment is also recorded in that master's will
// so the tablet is recoverable if the master crashes before any further
// split or reassignment happens.
func (c *Coordinator) CreateTable(name string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.tables.Lookup(name); exists {
		return 0, ErrTableAlreadyExists
	}

	masterId, err := c.servers.FirstUpMaster()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRetryLater, err)
	}
	master, err := c.servers.Get(masterId)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRetryLater, err)
	}

	tableId := c.tables.Allocate(name)
	tablet := tabletmap.Tablet{
		TableId:        tableId,
		StartKey:       0,
		EndKey:         tabletmap.MaxKey,
		State:          tabletmap.Normal,
		ServerId:       masterId,
		ServiceLocator: master.ServiceLocator,
	}
	c.tablets.Add(tablet)

	if err := c.servers.MutateWill(masterId, func(w *tabletmap.TabletMap) {
		w.Add(tablet)
	}); err != nil {
		return 0, err
	}

	owned := c.tablets.ForServer(masterId)
	go c.pushTablets(masterclient.Recipient{ServerId: masterId, ServiceLocator: master.ServiceLocator}, owned)

	return tableId, nil
}

// DropTable removes name's tablets from both the live tablet map and
// the wills of every master that owned one of them.
func (c *Coordinator) DropTable(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tableId, exists := c.tables.Lookup(name)
	if !exists {
		return tabletmap.ErrTableDoesNotExist
	}

	owners := make(map[cluster.ServerId]bool)
	for _, t := range c.tablets.ForTable(tableId) {
		owners[t.ServerId] = true
	}

	c.tablets.RemoveForTable(tableId)
	for owner := range owners {
		_ = c.servers.MutateWill(owner, func(w *tabletmap.TabletMap) {
			w.RemoveForTable(tableId)
		})
		if entry, err := c.servers.Get(owner); err == nil {
			remaining := c.tablets.ForServer(owner)
			go c.pushTablets(masterclient.Recipient{ServerId: owner, ServiceLocator: entry.ServiceLocator}, remaining)
		}
	}
	c.tables.Delete(name)
	return nil
}

// pushTablets delivers tablets to r's setTablets endpoint. It runs in
// its own goroutine so CreateTable/DropTable never block on a master's
// round trip; a master that misses a push still learns its correct
// assignment the next time it changes, since every push carries that
// master's complete current tablet set rather than a delta.
func (c *Coordinator) pushTablets(r masterclient.Recipient, tablets []tabletmap.Tablet) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.masterClient.SetTablets(ctx, r, tablets); err != nil {
		log.Printf("coordinator: pushing tablets to %s: %v", r.ServiceLocator, err)
	}
}

// OpenTable resolves name to its table id and current tablets.
func (c *Coordinator) OpenTable(name string) (uint64, []tabletmap.Tablet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tableId, exists := c.tables.Lookup(name)
	if !exists {
		return 0, nil, tabletmap.ErrTableDoesNotExist
	}
	return tableId, c.tablets.ForTable(tableId), nil
}

// HintServerDown reports that serviceLocator appears unreachable and
// should be recovered. It returns as soon as the server has been
// transitioned to CRASHED and its tablets marked RECOVERING; the actual
// replay proceeds in the background.
func (c *Coordinator) HintServerDown(serviceLocator string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recovery.HintServerDown(serviceLocator)
}

// TabletsRecovered records that reportingMaster finished replaying its
// share of deadServerId's will. Once every master handed a share has
// reported, the dead server's slot is freed.
func (c *Coordinator) TabletsRecovered(deadServerId, reportingMaster cluster.ServerId, recovered []tabletmap.Tablet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recovery.TabletsRecovered(deadServerId, reportingMaster, recovered)
}

// PingTargets returns every currently UP server advertising the PING
// capability, for LivenessMonitor to poll.
func (c *Coordinator) PingTargets() []PingTarget {
	entries, _ := c.servers.Serialize(cluster.Ping)
	out := make([]PingTarget, 0, len(entries))
	for _, e := range entries {
		if e.Status != cluster.StatusUp {
			continue
		}
		out = append(out, PingTarget{ServerId: e.ServerId, ServiceLocator: e.ServiceLocator})
	}
	return out
}

// DefaultLivenessInterval is the liveness poll interval cmd/coordinator
// uses when no override is configured.
const DefaultLivenessInterval = 2 * time.Second
