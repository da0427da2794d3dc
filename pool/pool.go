package pool

import (
	"context"
	"sync"
)

// WorkerPool bounds the number of task bodies running at once so a burst
// of submissions cannot exhaust the process.
type WorkerPool struct {
	sem chan struct{}
	wg  sync.WaitGroup
}

func New(maxWorkers int) *WorkerPool {
	return &WorkerPool{
		sem: make(chan struct{}, maxWorkers),
	}
}

// Submit runs fn on its own goroutine once a slot frees up. If ctx is
// canceled before a slot opens, fn never runs.
func (p *WorkerPool) Submit(ctx context.Context, fn func(context.Context)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		select {
		case p.sem <- struct{}{}:
			defer func() { <-p.sem }()
			fn(ctx)
		case <-ctx.Done():
		}
	}()
}

func (p *WorkerPool) Wait() {
	p.wg.Wait()
}
