package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrPoolClosed is returned when work is submitted after Close.
var ErrPoolClosed = errors.New("launch pool is closed")

// PoolStats is a point-in-time snapshot of pool activity.
type PoolStats struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Panicked  int64 `json:"panicked"`
}

// LaunchPool bounds how many runs start concurrently. The scheduler
// submits due workflow launches through it; a full pool applies
// backpressure by blocking Submit until a slot frees or ctx ends.
type LaunchPool struct {
	slots chan struct{}
	wg    sync.WaitGroup

	active    atomic.Int64
	completed atomic.Int64
	panicked  atomic.Int64

	mu     sync.Mutex
	closed bool
}

// NewLaunchPool creates a pool with the given concurrency. Sizes below
// one are clamped to one.
func NewLaunchPool(size int) *LaunchPool {
	if size < 1 {
		size = 1
	}
	return &LaunchPool{slots: make(chan struct{}, size)}
}

// Submit runs fn on its own goroutine once a slot is free. Panics in fn
// are captured and counted, never propagated.
func (p *LaunchPool) Submit(ctx context.Context, fn func(ctx context.Context)) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.mu.Unlock()

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	// Close may have raced the slot acquisition; re-check before the
	// goroutine becomes visible to Wait.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.slots
		return ErrPoolClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	p.active.Add(1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.panicked.Add(1)
			}
			p.active.Add(-1)
			p.completed.Add(1)
			<-p.slots
			p.wg.Done()
		}()
		fn(ctx)
	}()
	return nil
}

// Close rejects further submissions and waits for in-flight work.
func (p *LaunchPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}

// Stats returns a snapshot of the pool's counters.
func (p *LaunchPool) Stats() PoolStats {
	return PoolStats{
		Active:    p.active.Load(),
		Completed: p.completed.Load(),
		Panicked:  p.panicked.Load(),
	}
}
