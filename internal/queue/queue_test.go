package queue

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T, nthreads int, strategy Strategy) *Queue[int, string] {
	t.Helper()
	q, err := New(Config[int, string]{
		MaxLevel:        6,
		NThreads:        nthreads,
		MinKey:          math.MinInt32,
		MaxKey:          math.MaxInt32,
		ExtractStrategy: strategy,
		EmptyPolicy:     PolicyReturnEmpty,
	})
	require.NoError(t, err)
	return q
}

func TestEmptyThenSingle(t *testing.T) {
	q := newTestQueue(t, 1, StrategyA)

	key, _, ok := q.ExtractMin(0)
	assert.False(t, ok)
	assert.Zero(t, key)

	q.Insert(0, 42, "value-100")
	key, value, ok := q.ExtractMin(0)
	require.True(t, ok)
	assert.Equal(t, 42, key)
	assert.Equal(t, "value-100", value)

	_, _, ok = q.ExtractMin(0)
	assert.False(t, ok)
}

func TestFIFOOnTies(t *testing.T) {
	for _, strategy := range []Strategy{StrategyA, StrategyB} {
		q := newTestQueue(t, 1, strategy)
		q.Insert(0, 5, "a")
		q.Insert(0, 5, "b")
		q.Insert(0, 5, "c")

		_, v1, ok1 := q.ExtractMin(0)
		_, v2, ok2 := q.ExtractMin(0)
		_, v3, ok3 := q.ExtractMin(0)

		require.True(t, ok1 && ok2 && ok3)
		assert.Equal(t, []string{"a", "b", "c"}, []string{v1, v2, v3})
	}
}

func TestOrdering(t *testing.T) {
	for _, strategy := range []Strategy{StrategyA, StrategyB} {
		q := newTestQueue(t, 1, strategy)
		for _, k := range []int{7, 3, 9, 1, 5} {
			q.Insert(0, k, "")
		}

		var got []int
		for {
			k, _, ok := q.ExtractMin(0)
			if !ok {
				break
			}
			got = append(got, k)
		}
		assert.Equal(t, []int{1, 3, 5, 7, 9}, got)
	}
}

func TestSeededLoadDrainsNonDecreasing(t *testing.T) {
	for _, strategy := range []Strategy{StrategyA, StrategyB} {
		const n = 4095
		const workers = 2
		q := newTestQueue(t, workers+1, strategy)
		seedTid := workers

		for i := 1; i <= n; i++ {
			q.Insert(seedTid, i, "")
		}

		var wg sync.WaitGroup
		for tid := 0; tid < workers; tid++ {
			wg.Add(1)
			go func(tid int) {
				defer wg.Done()
				for i := 0; i < 200; i++ {
					newKey := (i*7+tid*3)%n + 1
					q.Update(tid, newKey, "")
				}
			}(tid)
		}
		wg.Wait()

		last := math.MinInt32
		count := 0
		for {
			k, _, ok := q.ExtractMin(seedTid)
			if !ok {
				break
			}
			assert.GreaterOrEqual(t, k, last)
			last = k
			count++
		}
		assert.Equal(t, n, count)

		_, _, ok := q.ExtractMin(seedTid)
		assert.False(t, ok)
	}
}

func TestReclamationAccounting(t *testing.T) {
	q, err := New(Config[int, string]{
		MaxLevel:        6,
		NThreads:        1,
		MinKey:          math.MinInt32,
		MaxKey:          math.MaxInt32,
		EmptyPolicy:     PolicyReturnEmpty,
		RetireThreshold: 1, // scan after every retirement, for a precise count
	})
	require.NoError(t, err)

	const iterations = 500
	for i := 0; i < iterations; i++ {
		q.Insert(0, i, "")
		q.ExtractMin(0)
	}

	assert.EqualValues(t, iterations, q.NumReclaimed())
}

func TestDisabledReclamationLeaksDeliberately(t *testing.T) {
	q, err := New(Config[int, string]{
		MaxLevel:           4,
		NThreads:           1,
		MinKey:             0,
		MaxKey:             1000,
		DisableReclamation: true,
		EmptyPolicy:        PolicyReturnEmpty,
	})
	require.NoError(t, err)

	for i := 1; i <= 10; i++ {
		q.Insert(0, i, "")
	}
	for i := 0; i < 10; i++ {
		q.ExtractMin(0)
	}
	assert.EqualValues(t, 0, q.NumReclaimed())
}

func TestUpdateReturnsPriorMinimumValue(t *testing.T) {
	q := newTestQueue(t, 1, StrategyA)
	q.Insert(0, 1, "first")
	q.Insert(0, 2, "second")

	old, ok := q.Update(0, 100, "replacement")
	require.True(t, ok)
	assert.Equal(t, "first", old)

	k, v, ok := q.ExtractMin(0)
	require.True(t, ok)
	assert.Equal(t, 2, k)
	assert.Equal(t, "second", v)

	k, v, ok = q.ExtractMin(0)
	require.True(t, ok)
	assert.Equal(t, 100, k)
	assert.Equal(t, "replacement", v)
}

func TestUpdateOnEmptyQueueReportsNotOK(t *testing.T) {
	q := newTestQueue(t, 1, StrategyA)
	_, ok := q.Update(0, 1, "x")
	assert.False(t, ok)
}

func TestConcurrentInsertExtractPreservesCount(t *testing.T) {
	for _, strategy := range []Strategy{StrategyA, StrategyB} {
		const workers = 4
		const perWorker = 250
		q := newTestQueue(t, workers, strategy)

		var wg sync.WaitGroup
		for tid := 0; tid < workers; tid++ {
			wg.Add(1)
			go func(tid int) {
				defer wg.Done()
				for i := 0; i < perWorker; i++ {
					q.Insert(tid, tid*perWorker+i+1, "")
				}
			}(tid)
		}
		wg.Wait()

		extracted := 0
		for {
			_, _, ok := q.ExtractMin(0)
			if !ok {
				break
			}
			extracted++
		}
		assert.Equal(t, workers*perWorker, extracted)
	}
}

func TestSnapshotReflectsLiveNodes(t *testing.T) {
	q := newTestQueue(t, 1, StrategyA)
	q.Insert(0, 3, "c")
	q.Insert(0, 1, "a")
	q.Insert(0, 2, "b")

	snap := q.Snapshot(0)
	require.Len(t, snap, 3)
	assert.Equal(t, 1, snap[0].Key)
	assert.Equal(t, 2, snap[1].Key)
	assert.Equal(t, 3, snap[2].Key)
}

func TestTidOutOfRangePanics(t *testing.T) {
	q := newTestQueue(t, 1, StrategyA)
	assert.Panics(t, func() { q.Insert(5, 1, "") })
}

func TestKeyOutOfBoundsPanics(t *testing.T) {
	q := newTestQueue(t, 1, StrategyA)
	assert.Panics(t, func() { q.Insert(0, math.MaxInt32, "") })
}

func TestBlockingStrategyAReturnsOnceInserted(t *testing.T) {
	q, err := New(Config[int, string]{
		MaxLevel:    4,
		NThreads:    2,
		MinKey:      0,
		MaxKey:      1000,
		EmptyPolicy: PolicyBlock,
	})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		k, v, ok := q.ExtractMin(0)
		assert.True(t, ok)
		assert.Equal(t, 10, k)
		assert.Equal(t, "late", v)
		close(done)
	}()

	q.Insert(1, 10, "late")
	<-done
}
