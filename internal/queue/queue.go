// Package queue implements the concurrent skiplist engine (CSE): optimistic,
// hazard-pointer-protected traversal; lock-coupled insertion; two extract-min
// strategies; and update expressed as extract-min followed by insert.
//
// The algorithm is translated directly from prioq_simple.c's
// sq_search/sq_add/sq_delmin/sq_alt_delmin/sq_update, in the generic,
// atomic-flag, per-node-mutex idiom established elsewhere in this module's
// skiplist-backed index.
package queue

import (
	"fmt"
	"math/rand"
	"runtime"

	"golang.org/x/exp/constraints"

	"github.com/jlinden-labs/prioq/internal/hazard"
	"github.com/jlinden-labs/prioq/internal/node"
)

// Strategy selects which extract-min algorithm a Queue uses.
type Strategy int

const (
	// StrategyA is the head-coupled extract-min: cheapest under modest
	// contention, serializes through a single head lock.
	StrategyA Strategy = iota
	// StrategyB is the search-coupled extract-min: an atomic claim of
	// marked followed by a generic predecessor search and splice,
	// tolerating many concurrent deleters.
	StrategyB
)

// EmptyPolicy governs what extract-min does when it finds the queue empty.
// Strategy B has no blocking variant (§4.3.4 step 2 always returns empty);
// EmptyPolicy only affects Strategy A.
type EmptyPolicy int

const (
	// PolicyBlock spin-waits until a node becomes available.
	PolicyBlock EmptyPolicy = iota
	// PolicyReturnEmpty returns immediately with ok=false.
	PolicyReturnEmpty
)

const defaultRetireThreshold = 64

// Config parameterizes a Queue. The zero value selects Strategy A with a
// blocking empty policy and reclamation enabled, matching the core's stated
// defaults.
type Config[K constraints.Ordered, V any] struct {
	MaxLevel int
	NThreads int
	MinKey   K
	MaxKey   K

	// DisableReclamation leaks retired nodes instead of destroying them,
	// for benchmarking configurations that want to isolate algorithm cost
	// from scan overhead.
	DisableReclamation bool
	ExtractStrategy    Strategy
	EmptyPolicy        EmptyPolicy

	// RetireThreshold bounds how many unreclaimed nodes a thread accumulates
	// before triggering a scan. Zero selects a default.
	RetireThreshold int
}

// Entry is a diagnostic (key, value) pair returned by Snapshot.
type Entry[K any, V any] struct {
	Key   K
	Value V
}

// Queue is a concurrent priority queue: a hazard-pointer-protected,
// lock-coupled skiplist ordered by key, FIFO among equal keys.
type Queue[K constraints.Ordered, V any] struct {
	cfg Config[K, V]

	maxLevel int
	head     *node.Node[K, V]
	tail     *node.Node[K, V]

	hp *hazard.Registry[node.Node[K, V]]

	// preds/succs are the per-thread scratch arrays of §3: exclusively
	// owned by the thread at the matching index, never touched by another.
	preds [][]*node.Node[K, V]
	succs [][]*node.Node[K, V]
}

// New constructs a Queue with sentinels bounding the open interval
// (cfg.MinKey, cfg.MaxKey) for user keys.
func New[K constraints.Ordered, V any](cfg Config[K, V]) (*Queue[K, V], error) {
	if cfg.MaxLevel <= 0 {
		return nil, fmt.Errorf("queue: maxLevel must be positive")
	}
	if cfg.NThreads <= 0 {
		return nil, fmt.Errorf("queue: nthreads must be positive")
	}
	if !(cfg.MinKey < cfg.MaxKey) {
		return nil, fmt.Errorf("queue: minKey must be less than maxKey")
	}
	if cfg.RetireThreshold <= 0 {
		cfg.RetireThreshold = defaultRetireThreshold
	}

	var zero V
	head := node.New(cfg.MaxLevel-1, cfg.MinKey, zero)
	tail := node.New(cfg.MaxLevel-1, cfg.MaxKey, zero)
	head.FullyLinked.Store(true)
	tail.FullyLinked.Store(true)
	for level := 0; level < cfg.MaxLevel; level++ {
		head.Next[level].Store(tail)
	}

	q := &Queue[K, V]{
		cfg:      cfg,
		maxLevel: cfg.MaxLevel,
		head:     head,
		tail:     tail,
		preds:    make([][]*node.Node[K, V], cfg.NThreads),
		succs:    make([][]*node.Node[K, V], cfg.NThreads),
	}
	for i := 0; i < cfg.NThreads; i++ {
		q.preds[i] = make([]*node.Node[K, V], cfg.MaxLevel)
		q.succs[i] = make([]*node.Node[K, V], cfg.MaxLevel)
	}
	q.hp = hazard.NewRegistry[node.Node[K, V]](
		cfg.NThreads, cfg.MaxLevel, cfg.RetireThreshold,
		!cfg.DisableReclamation, node.Destroy[K, V],
	)
	return q, nil
}

// Destroy frees every remaining node, including the sentinels. The caller
// must have quiesced all worker threads first: Destroy performs an
// unprotected walk.
func (q *Queue[K, V]) Destroy() {
	curr := q.head.Next[0].Load()
	for curr != q.tail {
		next := curr.Next[0].Load()
		node.Destroy(curr)
		curr = next
	}
	node.Destroy(q.head)
	node.Destroy(q.tail)
}

// NumReclaimed reports how many retired nodes this queue's hazard registry
// has destroyed so far.
func (q *Queue[K, V]) NumReclaimed() int64 {
	return q.hp.NumFreed()
}

func (q *Queue[K, V]) checkTid(tid int) {
	if tid < 0 || tid >= q.cfg.NThreads {
		panic("queue: tid out of range")
	}
}

func (q *Queue[K, V]) checkKeyBounds(key K) {
	if !(q.cfg.MinKey < key && key < q.cfg.MaxKey) {
		panic("queue: key outside sentinel bounds")
	}
}

// search fills q.preds[tid]/q.succs[tid] for key and returns the highest
// level at which a node with that exact key was observed, or -1. It is the
// traversal primitive of §4.3.1: every pointer load that might race with an
// unlinker goes through Protect-peek, and a peeked candidate the traversal
// commits to is promoted to a held slot before the peek slot is reused.
func (q *Queue[K, V]) search(tid int, key K) int {
	preds := q.preds[tid]
	succs := q.succs[tid]
	lFound := -1

restart:
	pred := q.head
	for level := q.maxLevel - 1; level >= 0; level-- {
		curr := q.hp.ProtectPeek(tid, &pred.Next[level])
		if curr == nil {
			goto restart
		}
		for curr.Key <= key {
			pred = q.hp.Promote(tid, level)
			curr = q.hp.ProtectPeek(tid, &pred.Next[level])
			if curr == nil {
				goto restart
			}
		}
		if lFound == -1 && pred != q.head && pred.Key == key {
			lFound = level
		}
		preds[level] = pred
		succs[level] = curr
	}
	return lFound
}

// searchPreds locates target's predecessor at every level by identity
// rather than by key — used by Strategy B, which has already claimed a
// specific node and needs to unlink exactly that node rather than whatever
// currently holds its key.
func (q *Queue[K, V]) searchPreds(tid int, target *node.Node[K, V]) []*node.Node[K, V] {
	preds := q.preds[tid]

restart:
	pred := q.head
	for level := q.maxLevel - 1; level >= 0; level-- {
		curr := q.hp.ProtectPeek(tid, &pred.Next[level])
		if curr == nil {
			goto restart
		}
		for curr != target && curr != q.tail &&
			(curr.Key < target.Key || (curr.Key == target.Key && level <= target.TopLevel)) {
			pred = q.hp.Promote(tid, level)
			curr = q.hp.ProtectPeek(tid, &pred.Next[level])
			if curr == nil {
				goto restart
			}
		}
		preds[level] = pred
	}
	return preds
}

// unlockPreds releases preds[0..highestLocked], skipping a node already
// unlocked because it served as predecessor at a lower level too.
func unlockPreds[K any, V any](preds []*node.Node[K, V], highestLocked int) {
	var prev *node.Node[K, V]
	for level := 0; level <= highestLocked; level++ {
		pred := preds[level]
		if pred != prev {
			pred.Unlock()
			prev = pred
		}
	}
}

// randomLevel samples a skiplist height in [0, maxLevel-1] from a geometric
// distribution with p = 0.5, the injected level sampler §6 requires.
func randomLevel(maxLevel int) int {
	level := 0
	for level < maxLevel-1 && rand.Float64() < 0.5 {
		level++
	}
	return level
}

// Insert adds (key, value) to the queue. Among equal keys, the new node
// lands after every existing node with that key, preserving FIFO order on
// ties (§4.3.2's "ordering decision").
func (q *Queue[K, V]) Insert(tid int, key K, value V) bool {
	q.checkTid(tid)
	q.checkKeyBounds(key)

	topLevel := randomLevel(q.maxLevel)

	for {
		q.search(tid, key)
		preds := q.preds[tid]
		succs := q.succs[tid]

		valid := true
		highestLocked := -1
		var prevPred *node.Node[K, V]
		for level := 0; valid && level <= topLevel; level++ {
			pred := preds[level]
			if pred != prevPred {
				pred.Lock()
				highestLocked = level
				prevPred = pred
			}
			succ := succs[level]
			valid = !pred.Marked.Load() && !succ.Marked.Load() && pred.Next[level].Load() == succ
		}

		if !valid {
			unlockPreds(preds, highestLocked)
			continue
		}

		newNode := node.New(topLevel, key, value)
		for level := 0; level <= topLevel; level++ {
			newNode.Next[level].Store(succs[level])
		}
		for level := 0; level <= topLevel; level++ {
			preds[level].Next[level].Store(newNode)
		}
		newNode.FullyLinked.Store(true)

		unlockPreds(preds, highestLocked)
		q.hp.Clear(tid)
		return true
	}
}

// ExtractMin removes and returns the minimum-key element, dispatching to
// whichever strategy cfg.ExtractStrategy selects.
func (q *Queue[K, V]) ExtractMin(tid int) (K, V, bool) {
	q.checkTid(tid)
	if q.cfg.ExtractStrategy == StrategyB {
		return q.extractMinB(tid)
	}
	return q.extractMinA(tid)
}

// extractMinA is the head-coupled strategy of §4.3.3: the minimum always
// sits at head.Next[0], so splicing it out needs only the candidate's own
// lock and head's, never a predecessor search.
func (q *Queue[K, V]) extractMinA(tid int) (K, V, bool) {
	for {
		candidate := q.hp.ProtectPeek(tid, &q.head.Next[0])
		if candidate == nil {
			continue
		}
		if candidate == q.tail {
			if q.cfg.EmptyPolicy == PolicyReturnEmpty {
				var zeroK K
				var zeroV V
				return zeroK, zeroV, false
			}
			runtime.Gosched()
			continue
		}
		if !candidate.FullyLinked.Load() || candidate.Marked.Load() {
			continue
		}

		candidate.Lock()
		if candidate.Marked.Load() {
			candidate.Unlock()
			continue
		}
		candidate.Marked.Store(true)

		q.head.Lock()
		if q.head.Next[0].Load() != candidate {
			// A smaller key raced in ahead of us, or someone else already
			// spliced this candidate out. Roll back: no predecessor lock
			// was held while we marked, so nothing downstream could have
			// treated the mark as committed yet.
			candidate.Marked.Store(false)
			q.head.Unlock()
			candidate.Unlock()
			continue
		}

		for level := candidate.TopLevel; level >= 0; level-- {
			q.head.Next[level].Store(candidate.Next[level].Load())
		}

		q.head.Unlock()
		candidate.Unlock()

		key, value := candidate.Key, candidate.Value
		q.hp.Clear(tid)
		q.hp.Retire(tid, candidate)
		return key, value, true
	}
}

// claimCandidateB walks head.Next[0] hop by hop, atomically swapping marked
// from false to true on each candidate in turn. The first successful swap
// wins exclusive rights to extract that node; a failed swap means another
// thread is already deleting it, so this thread steps over it rather than
// contending further.
func (q *Queue[K, V]) claimCandidateB(tid int) *node.Node[K, V] {
	pred := q.head
	for {
		curr := q.hp.ProtectPeek(tid, &pred.Next[0])
		if curr == nil {
			pred = q.head
			continue
		}
		if curr == q.tail {
			return nil
		}
		if curr.Marked.CompareAndSwap(false, true) {
			return curr
		}
		pred = q.hp.Promote(tid, 0)
	}
}

// extractMinB is the search-coupled strategy of §4.3.4: claim a candidate by
// identity first, then run a generic predecessor search and lock-coupled
// splice, the way a symmetric delete would.
func (q *Queue[K, V]) extractMinB(tid int) (K, V, bool) {
	candidate := q.claimCandidateB(tid)
	if candidate == nil {
		var zeroK K
		var zeroV V
		return zeroK, zeroV, false
	}

	for !candidate.FullyLinked.Load() {
		runtime.Gosched()
	}

	candidate.Lock()
	for {
		preds := q.searchPreds(tid, candidate)
		topLevel := candidate.TopLevel

		valid := true
		highestLocked := -1
		var prevPred *node.Node[K, V]
		for level := 0; valid && level <= topLevel; level++ {
			pred := preds[level]
			if pred != prevPred {
				pred.Lock()
				highestLocked = level
				prevPred = pred
			}
			valid = pred.Next[level].Load() == candidate && !pred.Marked.Load()
		}

		if !valid {
			unlockPreds(preds, highestLocked)
			continue
		}

		for level := topLevel; level >= 0; level-- {
			preds[level].Next[level].Store(candidate.Next[level].Load())
		}
		unlockPreds(preds, highestLocked)
		candidate.Unlock()

		key, value := candidate.Key, candidate.Value
		q.hp.Retire(tid, candidate)
		q.hp.Clear(tid)
		return key, value, true
	}
}

// Update removes the current minimum and inserts (newKey, newValue),
// returning the value extract-min would have returned. Not atomic with
// respect to other operations (§4.3.5): a concurrent observer may briefly
// see the queue missing an element.
func (q *Queue[K, V]) Update(tid int, newKey K, newValue V) (V, bool) {
	q.checkTid(tid)
	q.checkKeyBounds(newKey)

	_, oldValue, ok := q.ExtractMin(tid)
	if !ok {
		var zeroV V
		return zeroV, false
	}
	q.Insert(tid, newKey, newValue)
	return oldValue, true
}

// Snapshot returns an ordered, hazard-protected slice of every live
// (key, value) pair, for diagnostics and tests. It is a data-producing
// replacement for the out-of-scope pretty-printer: no formatting happens
// here.
func (q *Queue[K, V]) Snapshot(tid int) []Entry[K, V] {
	q.checkTid(tid)

	var out []Entry[K, V]
	pred := q.head
	for {
		curr := q.hp.ProtectPeek(tid, &pred.Next[0])
		if curr == nil {
			pred = q.head
			out = out[:0]
			continue
		}
		if curr == q.tail {
			break
		}
		if curr.FullyLinked.Load() && !curr.Marked.Load() {
			out = append(out, Entry[K, V]{Key: curr.Key, Value: curr.Value})
		}
		pred = q.hp.Promote(tid, 0)
	}
	q.hp.Clear(tid)
	return out
}
