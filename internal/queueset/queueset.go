// Package queueset manages multiple independently-addressable named
// priority queues — think one queue per tenant or per job class — the way
// database.go manages named databases over a skiplist.DBIndex. Each named
// queue is a full *queue.Queue[int64, []byte]: numeric priority key, opaque
// JSON payload bytes as the value.
package queueset

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jlinden-labs/prioq/internal/broadcast"
	"github.com/jlinden-labs/prioq/internal/index"
	"github.com/jlinden-labs/prioq/internal/queue"
)

// Key is the priority type every HTTP-managed queue uses.
type Key = int64

// Value is the opaque payload type every HTTP-managed queue stores.
type Value = []byte

// Metadata records creation bookkeeping for a named queue, mirroring
// contents.go's Metadata{CreatedBy, CreatedAt, ...}.
type Metadata struct {
	Name      string
	CreatedBy string
	CreatedAt time.Time
}

// Entry is a named queue plus its metadata.
type Entry struct {
	Metadata Metadata
	Queue    *queue.Queue[Key, Value]
}

// Set manages the named queues of a running server.
type Set struct {
	queues    *index.Index[string, *Entry]
	hub       *broadcast.Hub
	nthreads  int
	maxLevel  int
	strategy  queue.Strategy
	emptyMode queue.EmptyPolicy
}

// Options configures the queues a Set creates.
type Options struct {
	NThreads        int
	MaxLevel        int
	ExtractStrategy queue.Strategy
	EmptyPolicy     queue.EmptyPolicy
}

// NewSet creates an empty Set backed by hub for lifecycle notifications.
func NewSet(hub *broadcast.Hub, opts Options) *Set {
	if opts.NThreads <= 0 {
		opts.NThreads = 1
	}
	if opts.MaxLevel <= 0 {
		opts.MaxLevel = 16
	}
	return &Set{
		queues:    index.New[string, *Entry](),
		hub:       hub,
		nthreads:  opts.NThreads,
		maxLevel:  opts.MaxLevel,
		strategy:  opts.ExtractStrategy,
		emptyMode: opts.EmptyPolicy,
	}
}

// Create registers a new named queue. Returns an error if name is already
// taken.
func (s *Set) Create(name, createdBy string) (*Entry, error) {
	var created *Entry
	_, err := s.queues.Upsert(name, func(_ string, current *Entry, exists bool) (*Entry, error) {
		if exists {
			return current, fmt.Errorf("queueset: queue %q already exists", name)
		}
		q, err := queue.New(queue.Config[Key, Value]{
			MaxLevel:        s.maxLevel,
			NThreads:        s.nthreads,
			MinKey:          math.MinInt64 + 1,
			MaxKey:          math.MaxInt64 - 1,
			ExtractStrategy: s.strategy,
			EmptyPolicy:     s.emptyMode,
		})
		if err != nil {
			return current, err
		}
		created = &Entry{
			Metadata: Metadata{Name: name, CreatedBy: createdBy, CreatedAt: time.Now()},
			Queue:    q,
		}
		return created, nil
	})
	if err != nil {
		return nil, err
	}
	s.hub.Notify(name, "queue-created", name)
	return created, nil
}

// Find looks up a named queue.
func (s *Set) Find(name string) (*Entry, bool) {
	return s.queues.Find(name)
}

// Delete removes a named queue, destroying its underlying structure. The
// caller must ensure no worker still holds a lease against this queue.
func (s *Set) Delete(name string) error {
	entry, removed := s.queues.Remove(name)
	if !removed {
		return fmt.Errorf("queueset: queue %q not found", name)
	}
	entry.Queue.Destroy()
	s.hub.Notify(name, "queue-deleted", name)
	return nil
}

// List returns the metadata of every currently registered queue.
func (s *Set) List() []Metadata {
	entries, _ := s.queues.All(context.Background())
	out := make([]Metadata, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Metadata)
	}
	return out
}
