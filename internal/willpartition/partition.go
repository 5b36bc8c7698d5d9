// Package willpartition splits a crashed master's will across the
// recovery masters available to replay it.
package willpartition

import (
	"sync/atomic"

	"github.com/leishou0891/RAMCloud/internal/cluster"
	"github.com/leishou0891/RAMCloud/internal/tabletmap"
)

// Recipient names a recovery master eligible to take a partition.
type Recipient struct {
	ServerId       cluster.ServerId
	ServiceLocator string
}

// Partition is the slice of a will handed to one recovery master.
type Partition struct {
	Owner   Recipient
	Tablets []tabletmap.Tablet
}

// Stats tracks cumulative partitioning activity across every Split call.
// Protected with atomics rather than a mutex since both fields are
// independent counters, the same idiom the pack uses for per-operation
// counts elsewhere.
type Stats struct {
	TabletCount uint64
	SplitCount  uint64
}

// Partitioner splits wills into recipient-owned partitions.
type Partitioner struct {
	tabletCount uint64
	splitCount  uint64
}

// New returns a Partitioner with zeroed stats.
func New() *Partitioner {
	return &Partitioner{}
}

// Split divides will's tablets round-robin across recipients, preserving
// each tablet's key range intact so every partition can be recovered
// independently of the others. Recipients that end up with no tablets
// are dropped from the result. Split panics if recipients is empty — a
// caller must not attempt to recover a will with no masters available.
func (p *Partitioner) Split(will *tabletmap.TabletMap, recipients []Recipient) []Partition {
	if len(recipients) == 0 {
		panic("willpartition: Split called with no recipients")
	}

	tablets := will.Tablets()
	byOwner := make([]Partition, len(recipients))
	for i, r := range recipients {
		byOwner[i].Owner = r
	}
	for i, t := range tablets {
		idx := i % len(recipients)
		byOwner[idx].Tablets = append(byOwner[idx].Tablets, t)
	}

	atomic.AddUint64(&p.tabletCount, uint64(len(tablets)))
	atomic.AddUint64(&p.splitCount, 1)

	out := make([]Partition, 0, len(byOwner))
	for _, part := range byOwner {
		if len(part.Tablets) > 0 {
			out = append(out, part)
		}
	}
	return out
}

// Stats returns a snapshot of cumulative partitioning activity.
func (p *Partitioner) Stats() Stats {
	return Stats{
		TabletCount: atomic.LoadUint64(&p.tabletCount),
		SplitCount:  atomic.LoadUint64(&p.splitCount),
	}
}
