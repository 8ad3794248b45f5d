// Package index is a light generic ordered map used for bookkeeping: naming
// live queues and tracking SSE subscribers. It is never used on
// the priority queue's hot path — that is internal/queue's job — but it is
// the same optimistic, lock-coupled skiplist shape, kept close to the
// teacher's original management-index code rather than rewritten from
// scratch.
package index

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"

	"golang.org/x/exp/constraints"
)

// MaxLevel bounds tower height for index skiplists. Bookkeeping tables are
// small (named queues, subscribers), so a shallow fixed height is enough.
const MaxLevel = 11

// UpdateCheck is called by Upsert with the current value (and whether the
// key already existed) and returns the value to store, or an error to abort
// the upsert without modifying the index.
type UpdateCheck[K constraints.Ordered, V any] func(key K, current V, exists bool) (V, error)

type node[K constraints.Ordered, V any] struct {
	mutex       sync.Mutex
	key         K
	value       atomic.Pointer[V]
	topLevel    int
	marked      atomic.Bool
	fullyLinked atomic.Bool
	next        []atomic.Pointer[node[K, V]]
}

// Index is a generic, concurrency-safe ordered map: Find/Upsert/Remove/Query
// over cmp.Ordered keys.
type Index[K constraints.Ordered, V any] struct {
	head  *node[K, V]
	tail  *node[K, V]
	count atomic.Int64
}

// New builds an empty Index.
func New[K constraints.Ordered, V any]() *Index[K, V] {
	tail := &node[K, V]{
		next:     make([]atomic.Pointer[node[K, V]], MaxLevel),
		topLevel: MaxLevel - 1,
	}
	head := &node[K, V]{
		next:     make([]atomic.Pointer[node[K, V]], MaxLevel),
		topLevel: MaxLevel - 1,
	}
	for level := 0; level < MaxLevel; level++ {
		head.next[level].Store(tail)
	}
	return &Index[K, V]{head: head, tail: tail}
}

func randomLevel() int {
	level := 0
	for level < MaxLevel-1 && rand.Float64() < 0.5 {
		level++
	}
	return level
}

func (idx *Index[K, V]) find(key K) (foundLevel int, preds, succs []*node[K, V]) {
	preds = make([]*node[K, V], MaxLevel)
	succs = make([]*node[K, V], MaxLevel)
	foundLevel = -1

	pred := idx.head
	for level := MaxLevel - 1; level >= 0; level-- {
		curr := pred.next[level].Load()
		for curr != idx.tail && curr.key < key {
			pred = curr
			curr = pred.next[level].Load()
		}
		if foundLevel == -1 && curr != idx.tail && curr.key == key {
			foundLevel = level
		}
		preds[level] = pred
		succs[level] = curr
	}
	return foundLevel, preds, succs
}

func unlock[K constraints.Ordered, V any](locked map[*node[K, V]]bool) {
	for n := range locked {
		n.mutex.Unlock()
	}
}

// Find returns the value stored at key, if any live (fully linked,
// unmarked) node currently holds it.
func (idx *Index[K, V]) Find(key K) (V, bool) {
	level, _, succs := idx.find(key)
	if level == -1 {
		var zero V
		return zero, false
	}
	n := succs[level]
	if !n.fullyLinked.Load() || n.marked.Load() {
		var zero V
		return zero, false
	}
	return *n.value.Load(), true
}

// Upsert inserts key if absent or updates it if present, in both cases by
// calling check to compute the value to store. A non-nil error from check
// aborts the upsert with no modification.
func (idx *Index[K, V]) Upsert(key K, check UpdateCheck[K, V]) (bool, error) {
	for {
		level, preds, succs := idx.find(key)
		locked := make(map[*node[K, V]]bool)

		if level != -1 {
			found := succs[level]
			found.mutex.Lock()
			locked[found] = true

			if found.marked.Load() || !found.fullyLinked.Load() {
				unlock(locked)
				continue
			}

			newValue, err := check(key, *found.value.Load(), true)
			if err != nil {
				unlock(locked)
				return false, err
			}
			found.value.Store(&newValue)
			unlock(locked)
			return true, nil
		}

		topLevel := randomLevel()
		valid := true
		for l := 0; valid && l <= topLevel; l++ {
			pred := preds[l]
			if !locked[pred] {
				pred.mutex.Lock()
				locked[pred] = true
			}
			valid = !pred.marked.Load() && !succs[l].marked.Load() && pred.next[l].Load() == succs[l]
		}
		if !valid {
			unlock(locked)
			continue
		}

		newValue, err := check(key, *new(V), false)
		if err != nil {
			unlock(locked)
			return false, err
		}

		n := &node[K, V]{key: key, topLevel: topLevel, next: make([]atomic.Pointer[node[K, V]], topLevel+1)}
		n.value.Store(&newValue)
		for l := 0; l <= topLevel; l++ {
			n.next[l].Store(succs[l])
			preds[l].next[l].Store(n)
		}
		n.fullyLinked.Store(true)
		unlock(locked)
		idx.count.Add(1)
		return true, nil
	}
}

// Remove deletes key if present, returning its value.
func (idx *Index[K, V]) Remove(key K) (V, bool) {
	for {
		level, preds, succs := idx.find(key)
		if level == -1 {
			var zero V
			return zero, false
		}

		victim := succs[level]
		if victim.marked.Load() || !victim.fullyLinked.Load() || victim.topLevel != level {
			var zero V
			return zero, false
		}

		victim.mutex.Lock()
		if victim.marked.Load() {
			victim.mutex.Unlock()
			var zero V
			return zero, false
		}
		victim.marked.Store(true)

		locked := map[*node[K, V]]bool{victim: true}
		topLevel := victim.topLevel
		valid := true
		for l := 0; valid && l <= topLevel; l++ {
			pred := preds[l]
			if !locked[pred] {
				pred.mutex.Lock()
				locked[pred] = true
			}
			valid = !pred.marked.Load() && pred.next[l].Load() == victim
		}
		if !valid {
			victim.marked.Store(false)
			unlock(locked)
			continue
		}

		for l := topLevel; l >= 0; l-- {
			preds[l].next[l].Store(victim.next[l].Load())
		}
		value := *victim.value.Load()
		unlock(locked)
		idx.count.Add(1)
		return value, true
	}
}

// Query returns the values of every live node with start <= key <= end, in
// ascending key order. It retries if the index is mutated mid-traversal.
func (idx *Index[K, V]) Query(ctx context.Context, start, end K) ([]V, error) {
	preCount := idx.count.Load()

	_, _, succs := idx.find(start)
	current := succs[0]

	var results []V
	for current != idx.tail {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if current.key > end {
			break
		}
		if current.fullyLinked.Load() && !current.marked.Load() {
			results = append(results, *current.value.Load())
		}
		current = current.next[0].Load()
	}

	if idx.count.Load() != preCount {
		return idx.Query(ctx, start, end)
	}
	return results, nil
}

// All returns the values of every live node, in ascending key order.
func (idx *Index[K, V]) All(ctx context.Context) ([]V, error) {
	preCount := idx.count.Load()

	var results []V
	current := idx.head.next[0].Load()
	for current != idx.tail {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if current.fullyLinked.Load() && !current.marked.Load() {
			results = append(results, *current.value.Load())
		}
		current = current.next[0].Load()
	}

	if idx.count.Load() != preCount {
		return idx.All(ctx)
	}
	return results, nil
}
