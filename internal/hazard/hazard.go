// Package hazard implements the hazard-pointer registry (HPR) that lets a
// reader dereference a pointer it just loaded from a location concurrent
// writers may unlink, without risking use-after-free, and lets writers
// retire unlinked nodes for later destruction once no reader can still
// observe them.
//
// The contract is the one prioq_simple.c's hp.h describes (pptr/lptr/
// retire_node/scan, referenced but not included in the distillation pack):
// every thread gets a peek slot for validating a freshly loaded pointer and
// a per-level array of held slots for pointers it intends to keep across
// further hops. The flat per-thread slot-array shape is the one
// lockfree_string_intern.go's HazardPointer table uses; the retire-then-scan
// split below follows the access-barrier shape in nitro's access_barrier.go,
// simplified from session-based epochs down to the flat scan-the-union
// approach prioq_simple.c actually implements.
package hazard

import "sync/atomic"

// Destructor is invoked by Scan when a retired node is provably
// unreachable. It must not block and must not itself call back into the
// registry.
type Destructor[T any] func(*T)

type threadRecord[T any] struct {
	peek    atomic.Pointer[T]
	held    []atomic.Pointer[T]
	retired []*T
}

// Registry is the per-queue hazard-pointer table: nthreads records, each
// with a peek slot and maxLevel held slots.
type Registry[T any] struct {
	maxLevel        int
	retireThreshold int
	reclaim         bool
	destroy         Destructor[T]

	slots []threadRecord[T]

	numFreed atomic.Int64
}

// NewRegistry builds a registry sized for nthreads threads and maxLevel held
// slots per thread. When reclaim is false, Retire leaks its argument
// deliberately, useful for benchmarking the engine without reclamation
// overhead in the mix.
func NewRegistry[T any](nthreads, maxLevel, retireThreshold int, reclaim bool, destroy Destructor[T]) *Registry[T] {
	r := &Registry[T]{
		maxLevel:        maxLevel,
		retireThreshold: retireThreshold,
		reclaim:         reclaim,
		destroy:         destroy,
		slots:           make([]threadRecord[T], nthreads),
	}
	for i := range r.slots {
		r.slots[i].held = make([]atomic.Pointer[T], maxLevel)
	}
	return r
}

// ProtectPeek atomically copies *cell into tid's peek slot, then re-reads
// *cell. If the two reads disagree, a concurrent unlinker may have already
// unlinked and retired the node the first read observed, so the protection
// is not trustworthy: ProtectPeek returns nil and the caller must retry from
// an earlier point.
func (r *Registry[T]) ProtectPeek(tid int, cell *atomic.Pointer[T]) *T {
	tmp := cell.Load()
	r.slots[tid].peek.Store(tmp)
	if cell.Load() != tmp {
		return nil
	}
	return tmp
}

// Promote copies the pointer currently protected in tid's peek slot into the
// held slot for level, and returns it. The peek slot is left as-is; the next
// ProtectPeek call on this thread will overwrite it. Traversal promotes a
// peeked candidate to held the moment it commits to using that candidate as
// the new predecessor for the next hop (see internal/queue's search).
func (r *Registry[T]) Promote(tid, level int) *T {
	p := r.slots[tid].peek.Load()
	r.slots[tid].held[level].Store(p)
	return p
}

// Clear zeroes all of tid's held slots and its peek slot. Call this once a
// thread's top-level operation (insert/extract-min/update) has committed or
// given up, releasing every hazard this thread was holding.
func (r *Registry[T]) Clear(tid int) {
	rec := &r.slots[tid]
	rec.peek.Store(nil)
	for i := range rec.held {
		rec.held[i].Store(nil)
	}
}

// Retire hands an unlinked node to the registry for eventual destruction.
// The node is appended to tid's retired list; once that list reaches the
// retire threshold, Retire triggers a Scan. Retire must only be called by
// the thread that physically unlinked the node (single-writer per retired
// list).
func (r *Registry[T]) Retire(tid int, n *T) {
	if !r.reclaim {
		return
	}
	rec := &r.slots[tid]
	rec.retired = append(rec.retired, n)
	if len(rec.retired) >= r.retireThreshold {
		r.Scan(tid)
	}
}

// Scan snapshots the union of every hazard pointer currently announced by
// any thread (peek and held slots alike), then destroys every node in tid's
// retired list that is absent from that snapshot. Nodes still announced
// survive for a later scan. This is the one operation that may call destroy,
// and destroy is only ever invoked on a node this snapshot proves no thread
// can still dereference.
func (r *Registry[T]) Scan(tid int) {
	protected := make(map[*T]struct{}, len(r.slots)*(r.maxLevel+1))
	for i := range r.slots {
		if p := r.slots[i].peek.Load(); p != nil {
			protected[p] = struct{}{}
		}
		for l := range r.slots[i].held {
			if p := r.slots[i].held[l].Load(); p != nil {
				protected[p] = struct{}{}
			}
		}
	}

	rec := &r.slots[tid]
	kept := rec.retired[:0]
	for _, n := range rec.retired {
		if _, stillHazarded := protected[n]; stillHazarded {
			kept = append(kept, n)
			continue
		}
		if r.destroy != nil {
			r.destroy(n)
		}
		r.numFreed.Add(1)
	}
	rec.retired = kept
}

// NumFreed returns the total number of nodes this registry has destroyed so
// far. Exposed for reclamation accounting.
func (r *Registry[T]) NumFreed() int64 {
	return r.numFreed.Load()
}
