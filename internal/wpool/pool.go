// Package wpool is a bounded worker pool built on
// golang.org/x/sync/semaphore.Weighted, in the shape of
// nabbar/golib/semaphore's sem.New/NewWorker/DeferWorker wrapper: a thin
// façade over the semaphore rather than a hand-rolled channel-based
// counting semaphore.
package wpool

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Pool bounds how many jobs run concurrently. A reservation is acquired
// before a job is grabbed off the wire and released either by abandoning
// it (no job was actually available) or by handing it to Spawn, which
// holds the reservation for the goroutine's lifetime.
type Pool struct {
	sem     *semaphore.Weighted
	wg      sync.WaitGroup
	n       int64
	running int64
}

// New builds a Pool allowing up to n concurrent jobs.
func New(n int) *Pool {
	if n < 1 {
		n = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(n)), n: int64(n)}
}

// Reserve attempts to claim one slot without blocking. Returns false if
// the pool is saturated.
func (p *Pool) Reserve() bool {
	return p.sem.TryAcquire(1)
}

// Release gives back a reservation that was never handed to Spawn (the
// grab didn't actually yield a job, or the connection errored first).
func (p *Pool) Release() {
	p.sem.Release(1)
}

// Spawn runs fn in a new goroutine, consuming a previously acquired
// reservation. fn must not call Reserve/Release itself; the pool releases
// the slot when fn returns.
func (p *Pool) Spawn(fn func()) {
	p.wg.Add(1)
	atomic.AddInt64(&p.running, 1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		defer atomic.AddInt64(&p.running, -1)
		fn()
	}()
}

// Busy reports whether any job is currently running (spec.md §4.10's
// busy() is running > 0; a reservation held but not yet spawned does not
// count).
func (p *Pool) Busy() bool {
	return atomic.LoadInt64(&p.running) > 0
}

// Terminate waits for every spawned goroutine to finish, or ctx to expire
// first.
func (p *Pool) Terminate(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
