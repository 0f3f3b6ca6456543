package replay

import (
	"context"
	"sync"
)

// maxFanOut is the fixed concurrency cap both replay strategies share: the
// load-bearing bound that keeps a shard with thousands of tables from
// growing memtables without limit during recovery.
const maxFanOut = 20

// runBounded runs fn(ctx, i) for every i in [0, n) with at most concurrency
// in flight at once, and returns each call's error indexed by i. It is the
// Go rendering of "buffer up to 20 in-flight futures, consume as they
// complete": a semaphore-bounded fan-out rather than a persistent pool,
// since each replay only ever runs once per table or per batch.
func runBounded(ctx context.Context, n, concurrency int, fn func(ctx context.Context, i int) error) []error {
	if n == 0 {
		return nil
	}
	if concurrency <= 0 || concurrency > n {
		concurrency = n
	}

	results := make([]error, n)
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = fn(ctx, i)
		}(i)
	}

	wg.Wait()
	return results
}
