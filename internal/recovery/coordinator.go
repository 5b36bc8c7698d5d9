// Package recovery implements RecoveryCoordinator: the hintServerDown
// pipeline that turns a reported dead master into a fully reassigned
// tablet map. See doc.go for the full package documentation.
package recovery

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/leishou0891/RAMCloud/internal/cluster"
	"github.com/leishou0891/RAMCloud/internal/serverlist"
	"github.com/leishou0891/RAMCloud/internal/tabletmap"
	"github.com/leishou0891/RAMCloud/internal/willpartition"
)

// ErrNoSuchRecovery is returned by TabletsRecovered when it names a dead
// server with no recovery session in flight.
var ErrNoSuchRecovery = errors.New("recovery: no recovery in flight for that server")

// ErrUnexpectedReport is returned by TabletsRecovered when the reporting
// master was never handed a partition of this will, or has already
// reported once.
var ErrUnexpectedReport = errors.New("recovery: unexpected recovery report")

// Engine replays one partition of a crashed master's will onto its
// owner. RecoverPartition must not block waiting for the replay to
// finish — completion is reported back out-of-band through
// Coordinator.TabletsRecovered. Production wiring for the replay itself
// is out of scope here; Engine is the seam where it plugs in.
type Engine interface {
	RecoverPartition(ctx context.Context, deadServerId cluster.ServerId, partition willpartition.Partition) error
}

type session struct {
	pending   map[cluster.ServerId]bool
	recovered []tabletmap.Tablet
}

// Coordinator drives recovery for masters reported down. It holds no
// lock of its own over servers or tablets beyond what each of those
// types already guards internally; the coarse serialization of
// composite operations against concurrent table creation and drops is
// the caller's responsibility (internal/coordinator).
type Coordinator struct {
	servers     *serverlist.ServerList
	tablets     *tabletmap.TabletMap
	partitioner *willpartition.Partitioner
	engine      Engine

	recoveryMasterFanout int

	mu       sync.Mutex
	inFlight map[cluster.ServerId]*session
}

// New builds a Coordinator. fanout caps how many recovery masters a
// single will is split across; it is clamped to at least 1.
func New(servers *serverlist.ServerList, tablets *tabletmap.TabletMap, engine Engine, fanout int) *Coordinator {
	if fanout < 1 {
		fanout = 1
	}
	return &Coordinator{
		servers:              servers,
		tablets:              tablets,
		partitioner:          willpartition.New(),
		engine:               engine,
		recoveryMasterFanout: fanout,
		inFlight:             make(map[cluster.ServerId]*session),
	}
}

// HintServerDown begins recovering the master at serviceLocator. It
// resolves the locator, captures a point-in-time snapshot of the
// master's will, transitions the server from UP to CRASHED, marks every
// tablet it owned as RECOVERING, and kicks off recovery in the
// background before returning — the caller gets an early response
// without waiting for replay to complete. Calling it for a locator that
// does not resolve to a live master is a no-op: the server is already
// down, or never existed, from the coordinator's point of view.
func (c *Coordinator) HintServerDown(serviceLocator string) error {
	id, ok := c.servers.FindByLocator(serviceLocator, cluster.Master)
	if !ok {
		return nil
	}

	will, err := c.servers.WillSnapshot(id)
	if err != nil {
		return err
	}

	if err := c.servers.Crashed(id); err != nil {
		return err
	}
	c.tablets.MarkRecovering(id)

	masters := c.recoveryMasters(id)
	if len(masters) == 0 {
		log.Printf("recovery: no masters available to recover %s, tablets remain RECOVERING", id)
		return nil
	}

	partitions := c.partitioner.Split(will, masters)
	c.beginSession(id, partitions)

	for _, partition := range partitions {
		go c.dispatch(id, partition)
	}
	return nil
}

func (c *Coordinator) dispatch(deadServerId cluster.ServerId, partition willpartition.Partition) {
	if err := c.engine.RecoverPartition(context.Background(), deadServerId, partition); err != nil {
		log.Printf("recovery: engine rejected partition for %s owned by %s: %v",
			deadServerId, partition.Owner.ServerId, err)
	}
}

func (c *Coordinator) recoveryMasters(exclude cluster.ServerId) []willpartition.Recipient {
	entries, _ := c.servers.Serialize(cluster.Master)
	var out []willpartition.Recipient
	for _, e := range entries {
		if e.Status != cluster.StatusUp || e.ServerId == exclude {
			continue
		}
		out = append(out, willpartition.Recipient{ServerId: e.ServerId, ServiceLocator: e.ServiceLocator})
		if len(out) == c.recoveryMasterFanout {
			break
		}
	}
	return out
}

func (c *Coordinator) beginSession(deadServerId cluster.ServerId, partitions []willpartition.Partition) {
	pending := make(map[cluster.ServerId]bool, len(partitions))
	for _, p := range partitions {
		pending[p.Owner.ServerId] = true
	}
	c.mu.Lock()
	c.inFlight[deadServerId] = &session{pending: pending}
	c.mu.Unlock()
}

// TabletsRecovered records that reportingMaster finished replaying its
// partition of deadServerId's will, owning recovered going forward. Once
// every recovery master handed a partition has reported, the accumulated
// tablets replace the dead server's RECOVERING ones in a single
// transactional swap and the dead server's slot is freed.
func (c *Coordinator) TabletsRecovered(deadServerId, reportingMaster cluster.ServerId, recovered []tabletmap.Tablet) error {
	c.mu.Lock()
	s, ok := c.inFlight[deadServerId]
	if !ok {
		c.mu.Unlock()
		return ErrNoSuchRecovery
	}
	if !s.pending[reportingMaster] {
		c.mu.Unlock()
		return ErrUnexpectedReport
	}
	delete(s.pending, reportingMaster)
	s.recovered = append(s.recovered, recovered...)

	done := len(s.pending) == 0
	var all []tabletmap.Tablet
	if done {
		all = s.recovered
		delete(c.inFlight, deadServerId)
	}
	c.mu.Unlock()

	if !done {
		return nil
	}

	if err := c.tablets.ReplaceRecovered(deadServerId, all); err != nil {
		return err
	}
	return c.servers.Remove(deadServerId)
}
