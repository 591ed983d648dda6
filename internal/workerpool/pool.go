// Package workerpool runs per-query work on a fixed set of goroutines.
package workerpool

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned when submitting to a closed pool.
var ErrClosed = errors.New("workerpool: closed")

// Pool manages a fixed pool of goroutines. Submit blocks when all workers
// are busy and the queue is full, which bounds the number of queries in
// flight.
type Pool struct {
	numWorkers int
	workCh     chan func()
	stopCh     chan struct{}
	wg         sync.WaitGroup
	closed     atomic.Bool
	submitMu   sync.RWMutex
}

// New creates a pool with numWorkers goroutines. Zero or negative uses
// GOMAXPROCS.
func New(numWorkers int) *Pool {
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}

	p := &Pool{
		numWorkers: numWorkers,
		workCh:     make(chan func(), numWorkers*2),
		stopCh:     make(chan struct{}),
	}

	p.wg.Add(numWorkers)
	for range numWorkers {
		go p.worker()
	}
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return p.numWorkers }

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			// Drain queued work before exiting.
			for {
				select {
				case task, ok := <-p.workCh:
					if !ok {
						return
					}
					task()
				default:
					return
				}
			}
		case task, ok := <-p.workCh:
			if !ok {
				return
			}
			task()
		}
	}
}

// Submit enqueues task. It returns ErrClosed after Close and the context
// error if ctx ends before the task is queued.
func (p *Pool) Submit(ctx context.Context, task func()) error {
	p.submitMu.RLock()
	defer p.submitMu.RUnlock()

	if p.closed.Load() {
		return ErrClosed
	}

	select {
	case p.workCh <- task:
		return nil
	case <-p.stopCh:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ForEach runs fn(i) for i in [0, n) on the pool and waits for every
// submitted call. Submission stops at the first error; calls already queued
// still complete.
func (p *Pool) ForEach(ctx context.Context, n int, fn func(i int)) error {
	var wg sync.WaitGroup
	var err error
	for i := range n {
		wg.Add(1)
		if err = p.Submit(ctx, func() {
			defer wg.Done()
			fn(i)
		}); err != nil {
			wg.Done()
			break
		}
	}
	wg.Wait()
	return err
}

// Close stops the workers after the queued work has run. It is idempotent.
func (p *Pool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}

	p.submitMu.Lock()
	close(p.stopCh)
	close(p.workCh)
	p.submitMu.Unlock()

	p.wg.Wait()
}
