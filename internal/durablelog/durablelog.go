// Package durablelog is a pebble-backed append-only log standing in for
// the coordinator's replicated LogCabin log: every server enlistment is
// recorded here before it is acknowledged, and each record's position
// becomes the ServerEntry's LogCabinEntryId. See doc.go for the full
// package documentation.
package durablelog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
)

// ErrNotFound is returned by Read when no record exists at that id.
var ErrNotFound = errors.New("durablelog: entry not found")

// Log is an append-only sequence of opaque records, each addressed by a
// monotonically increasing id.
type Log struct {
	mu     sync.Mutex
	db     *pebble.DB
	nextID uint64
}

// Open opens (creating if necessary) a durable log rooted at path.
func Open(path string) (*Log, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("durablelog: opening %s: %w", path, err)
	}

	l := &Log{db: db}
	next, err := l.scanNextID()
	if err != nil {
		db.Close()
		return nil, err
	}
	l.nextID = next
	return l, nil
}

func (l *Log) scanNextID() (uint64, error) {
	iter, err := l.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, nil
	}
	return decodeKey(iter.Key()) + 1, nil
}

// Append durably writes data and returns the id it was assigned. Ids
// are handed out in strictly increasing order starting at 0.
func (l *Log) Append(data []byte) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextID
	if err := l.db.Set(encodeKey(id), data, pebble.Sync); err != nil {
		return 0, err
	}
	l.nextID++
	return id, nil
}

// Read returns the record stored at id, or ErrNotFound.
func (l *Log) Read(id uint64) ([]byte, error) {
	val, closer, err := l.db.Get(encodeKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

// Replay calls fn once per record in id order, oldest first. It stops
// and returns fn's error the first time fn returns one.
func (l *Log) Replay(fn func(id uint64, data []byte) error) error {
	iter, err := l.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		id := decodeKey(iter.Key())
		if err := fn(id, iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Close releases the underlying pebble database.
func (l *Log) Close() error {
	return l.db.Close()
}

func encodeKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}

func decodeKey(key []byte) uint64 {
	return binary.BigEndian.Uint64(key)
}
