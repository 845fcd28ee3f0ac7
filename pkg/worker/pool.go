package worker

import (
	"context"
	"sync"
)

// Pool runs jobs in their own goroutine, with at most n of them running at
// the same time. Jobs waiting for a slot don't block the caller.
type Pool struct {
	ctx context.Context
	sem chan struct{}
	wg  sync.WaitGroup
}

// NewPool creates a pool bound to ctx. A concurrency of 0 or less means no
// limit.
func NewPool(ctx context.Context, concurrency int) *Pool {
	p := &Pool{ctx: ctx}
	if concurrency > 0 {
		p.sem = make(chan struct{}, concurrency)
	}
	return p
}

// Go schedules fn. Once the pool context is done, pending jobs still run so
// they can record their outcome, but with the canceled context.
func (p *Pool) Go(fn func(ctx context.Context)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if p.sem != nil {
			select {
			case p.sem <- struct{}{}:
				defer func() { <-p.sem }()
			case <-p.ctx.Done():
			}
		}
		fn(p.ctx)
	}()
}

// Wait blocks until every scheduled job has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
