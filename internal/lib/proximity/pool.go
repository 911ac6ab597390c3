package proximity

import (
	"context"
	"sync"
)

type jobFunc[R any] func(index int) R

// workerPool runs jobFunc over a fixed range of indexes. Each job writes to
// its own slot of results, so results keep input order without locking.
type workerPool[R any] struct {
	numWorkers int
	jobQueue   chan int
	results    []R
	wg         sync.WaitGroup
}

func newWorkerPool[R any](numWorkers, jobCount int) *workerPool[R] {
	return &workerPool[R]{
		numWorkers: numWorkers,
		jobQueue:   make(chan int, jobCount),
		results:    make([]R, jobCount),
	}
}

func (wp *workerPool[R]) worker(ctx context.Context, fn jobFunc[R]) {
	defer wp.wg.Done()
	for index := range wp.jobQueue {
		// Drain the queue without working once the caller gave up.
		if ctx.Err() != nil {
			continue
		}
		wp.results[index] = fn(index)
	}
}

func (wp *workerPool[R]) start(ctx context.Context, fn jobFunc[R]) {
	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, fn)
	}
}

func (wp *workerPool[R]) addJob(index int) {
	wp.jobQueue <- index
}

// wait closes the queue and blocks until every worker exits.
func (wp *workerPool[R]) wait() []R {
	close(wp.jobQueue)
	wp.wg.Wait()
	return wp.results
}
