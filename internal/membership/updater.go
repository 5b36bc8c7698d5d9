// Package membership implements the background dispatcher that pushes
// ServerList deltas out to every membership subscriber. See doc.go for
// the full package documentation.
package membership

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/leishou0891/RAMCloud/internal/cluster"
	"github.com/leishou0891/RAMCloud/internal/serverlist"
)

// PushResult is a membership subscriber's reply to a push.
type PushResult int

const (
	// ResultOK means the subscriber applied the update successfully.
	ResultOK PushResult = iota
	// ResultLostUpdate means the subscriber's local version is too far
	// behind for an incremental push to make sense; it needs a full list.
	ResultLostUpdate
)

// Recipient names a membership subscriber to push to.
type Recipient struct {
	ServerId       cluster.ServerId
	ServiceLocator string
}

// Pusher delivers pushes to a Recipient over the wire. The production
// implementation is HTTPPusher; tests supply a fake.
type Pusher interface {
	PushIncremental(ctx context.Context, r Recipient, delta serverlist.Delta) (PushResult, error)
	PushFullList(ctx context.Context, r Recipient, entries []serverlist.ServerEntry, version uint64) (PushResult, error)
}

// ErrUnreachable is returned by the retry helpers once every attempt to
// reach a recipient has failed.
var ErrUnreachable = errors.New("membership: recipient unreachable after retries")

type message struct {
	delta    serverlist.Delta
	excluded map[cluster.ServerId]bool
}

// Updater is the coordinator's MembershipUpdater: a single FIFO worker
// that drains queued deltas and, for each live membership subscriber,
// sends either an incremental push or a full-list push depending on
// what that subscriber last acknowledged.
type Updater struct {
	servers *serverlist.ServerList
	pusher  Pusher

	onUnreachable func(cluster.ServerId)

	baseBackoff time.Duration
	maxBackoff  time.Duration
	maxRetries  int

	mu       sync.Mutex
	queue    []message
	halted   bool
	wake     chan struct{}
	work     sync.WaitGroup

	versionsMu sync.Mutex
	lastKnown  map[cluster.ServerId]uint64
}

// Option configures an Updater at construction time.
type Option func(*Updater)

// WithBackoff overrides the default base and max retry backoff.
func WithBackoff(base, max time.Duration) Option {
	return func(u *Updater) {
		u.baseBackoff = base
		u.maxBackoff = max
	}
}

// WithMaxRetries overrides the default number of retry attempts per push
// before a recipient is declared unreachable.
func WithMaxRetries(n int) Option {
	return func(u *Updater) { u.maxRetries = n }
}

// WithOnUnreachable sets the callback invoked when a recipient exhausts
// its retries. coordinator.New wires this to serverlist.ServerList.Crashed
// so an unreachable membership subscriber moves from UP to CRASHED.
func WithOnUnreachable(fn func(cluster.ServerId)) Option {
	return func(u *Updater) { u.onUnreachable = fn }
}

// NewUpdater builds an Updater over servers, delivering pushes with
// pusher. Call Run in its own goroutine to start draining the queue.
func NewUpdater(servers *serverlist.ServerList, pusher Pusher, opts ...Option) *Updater {
	u := &Updater{
		servers:     servers,
		pusher:      pusher,
		baseBackoff: 50 * time.Millisecond,
		maxBackoff:  2 * time.Second,
		maxRetries:  4,
		wake:        make(chan struct{}, 1),
		lastKnown:   make(map[cluster.ServerId]uint64),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Enqueue schedules delta for dispatch to every live membership
// subscriber not named in excluded. excluded may be nil.
func (u *Updater) Enqueue(delta serverlist.Delta, excluded map[cluster.ServerId]bool) {
	u.work.Add(1)
	u.mu.Lock()
	u.queue = append(u.queue, message{delta: delta, excluded: excluded})
	u.mu.Unlock()
	select {
	case u.wake <- struct{}{}:
	default:
	}
}

// OnCommit adapts Enqueue to serverlist.CommitFunc, for wiring directly
// into ServerList.SetOnCommit.
func (u *Updater) OnCommit(delta serverlist.Delta) {
	u.Enqueue(delta, nil)
}

// Run drains the queue until ctx is done or Halt is called. It is meant
// to be started in its own goroutine; it blocks until it returns.
func (u *Updater) Run(ctx context.Context) {
	for {
		u.mu.Lock()
		if u.halted {
			u.mu.Unlock()
			return
		}
		if len(u.queue) == 0 {
			u.mu.Unlock()
			select {
			case <-ctx.Done():
				return
			case <-u.wake:
				continue
			}
		}
		msg := u.queue[0]
		u.queue = u.queue[1:]
		u.mu.Unlock()

		u.dispatch(ctx, msg)
		u.work.Done()
	}
}

// Halt stops the updater from starting any further queued message. A
// dispatch already in flight is allowed to finish or exhaust its
// retries normally. Used by tests that need a deterministic stopping
// point.
func (u *Updater) Halt() {
	u.mu.Lock()
	u.halted = true
	u.mu.Unlock()
}

func (u *Updater) isHalted() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.halted
}

// Sync blocks until every currently enqueued message, and every
// per-recipient push it produced, has completed. It does not prevent
// new messages from being enqueued concurrently.
func (u *Updater) Sync() {
	u.work.Wait()
}

func (u *Updater) dispatch(ctx context.Context, msg message) {
	entries, _ := u.servers.Serialize(cluster.Membership)
	for _, e := range entries {
		if e.Status != cluster.StatusUp {
			continue
		}
		if msg.excluded != nil && msg.excluded[e.ServerId] {
			continue
		}
		u.deliverTo(ctx, e, msg.delta)
		if u.isHalted() {
			return
		}
	}
}

func (u *Updater) deliverTo(ctx context.Context, entry serverlist.ServerEntry, delta serverlist.Delta) {
	recipient := Recipient{ServerId: entry.ServerId, ServiceLocator: entry.ServiceLocator}

	u.versionsMu.Lock()
	last, known := u.lastKnown[entry.ServerId]
	u.versionsMu.Unlock()

	if known && delta.Version == last+1 {
		result, err := u.retryIncremental(ctx, recipient, delta)
		if err != nil {
			u.declareUnreachable(entry.ServerId)
			return
		}
		if result == ResultOK {
			u.recordVersion(entry.ServerId, delta.Version)
			return
		}
		// ResultLostUpdate: the subscriber's state diverged further than
		// we assumed. Fall through to a full-list push.
	}

	result, version, err := u.retryFullList(ctx, recipient)
	if err != nil {
		u.declareUnreachable(entry.ServerId)
		return
	}
	if result == ResultOK {
		u.recordVersion(entry.ServerId, version)
	}
}

func (u *Updater) recordVersion(id cluster.ServerId, version uint64) {
	u.versionsMu.Lock()
	u.lastKnown[id] = version
	u.versionsMu.Unlock()
}

func (u *Updater) declareUnreachable(id cluster.ServerId) {
	u.versionsMu.Lock()
	delete(u.lastKnown, id)
	u.versionsMu.Unlock()
	if u.onUnreachable != nil {
		u.onUnreachable(id)
	}
}

func (u *Updater) retryIncremental(ctx context.Context, r Recipient, delta serverlist.Delta) (PushResult, error) {
	return u.retry(ctx, func(ctx context.Context) (PushResult, error) {
		return u.pusher.PushIncremental(ctx, r, delta)
	})
}

func (u *Updater) retryFullList(ctx context.Context, r Recipient) (PushResult, uint64, error) {
	var version uint64
	result, err := u.retry(ctx, func(ctx context.Context) (PushResult, error) {
		entries, v := u.servers.Serialize(cluster.All)
		version = v
		return u.pusher.PushFullList(ctx, r, entries, v)
	})
	return result, version, err
}

func (u *Updater) retry(ctx context.Context, attempt func(context.Context) (PushResult, error)) (PushResult, error) {
	backoff := u.baseBackoff
	for i := 0; i <= u.maxRetries; i++ {
		result, err := attempt(ctx)
		if err == nil {
			return result, nil
		}
		if i == u.maxRetries {
			return 0, ErrUnreachable
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > u.maxBackoff {
			backoff = u.maxBackoff
		}
	}
	return 0, ErrUnreachable
}
