package worker

import (
	"context"
	"sync"
	"sync/atomic"
)

// Pool bounds concurrent validation runs using a semaphore.
type Pool struct {
	sem    chan struct{}
	wg     sync.WaitGroup
	active atomic.Int64
}

func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Acquire takes a slot, blocking until one is free or ctx is done. The
// returned release must be called exactly once unless the slot is handed
// to Go.
func (p *Pool) Acquire(ctx context.Context) (release func(), err error) {
	select {
	case p.sem <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-p.sem }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Go runs fn on a slot already taken with Acquire.
func (p *Pool) Go(release func(), fn func()) {
	p.wg.Add(1)
	p.active.Add(1)
	go func() {
		defer func() {
			p.active.Add(-1)
			release()
			p.wg.Done()
		}()
		fn()
	}()
}

// Submit acquires a slot and runs fn on it.
func (p *Pool) Submit(ctx context.Context, fn func()) error {
	release, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	p.Go(release, fn)
	return nil
}

// Active is the number of functions running.
func (p *Pool) Active() int {
	return int(p.active.Load())
}

func (p *Pool) Wait() {
	p.wg.Wait()
}
