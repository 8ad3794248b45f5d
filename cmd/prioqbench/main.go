// Command prioqbench reproduces test.c's workload: seeded inserts, a
// concurrent update storm across nthreads goroutines for a bounded
// duration, then a drain that checks the extracted sequence is
// non-decreasing. It is an external consumer of the core API, out of scope
// as a core component per the library's own purpose statement, same as
// test.c itself.
package main

import (
	"flag"
	"log/slog"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/jlinden-labs/prioq/internal/queue"
)

func main() {
	nthreads := flag.Int("n", 4, "number of concurrent worker goroutines")
	durationMs := flag.Int("t", 200, "milliseconds to run the update storm")
	strategyFlag := flag.String("strategy", "A", "extract-min strategy: A or B")
	flag.Parse()

	strategy := queue.StrategyA
	if *strategyFlag == "B" {
		strategy = queue.StrategyB
	}

	q, err := queue.New(queue.Config[int, int]{
		MaxLevel:        16,
		NThreads:        *nthreads + 1,
		MinKey:          0,
		MaxKey:          1 << 30,
		ExtractStrategy: strategy,
		EmptyPolicy:     queue.PolicyReturnEmpty,
	})
	if err != nil {
		slog.Error("prioqbench: failed to initialize queue", "error", err)
		os.Exit(1)
	}

	const seedCount = 4095
	seedTid := *nthreads
	for i := 1; i <= seedCount; i++ {
		q.Insert(seedTid, i, i)
	}
	slog.Info("prioqbench: seeded", "count", seedCount)

	deadline := time.Now().Add(time.Duration(*durationMs) * time.Millisecond)
	var wg sync.WaitGroup
	counts := make([]int, *nthreads)

	for tid := 0; tid < *nthreads; tid++ {
		wg.Add(1)
		go func(tid int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(tid)))
			cnt := 0
			for time.Now().Before(deadline) {
				newKey := rng.Intn(seedCount) + 1
				q.Update(tid, newKey, newKey)
				cnt++
			}
			counts[tid] = cnt
		}(tid)
	}
	wg.Wait()

	total := 0
	for _, c := range counts {
		total += c
	}
	slog.Info("prioqbench: update storm complete", "total_ops", total)

	var last int = -1
	nondecreasing := true
	drained := 0
	for {
		key, _, ok := q.ExtractMin(seedTid)
		if !ok {
			break
		}
		if key < last {
			nondecreasing = false
		}
		last = key
		drained++
	}

	slog.Info("prioqbench: drained", "count", drained, "non_decreasing", nondecreasing, "reclaimed", q.NumReclaimed())
	if !nondecreasing {
		os.Exit(1)
	}
}
