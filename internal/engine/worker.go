package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// PoolMetrics tracks worker pool operational metrics.
type PoolMetrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// ErrPoolShutdown is returned when work is submitted to a shut-down pool.
var ErrPoolShutdown = errors.New("worker pool is shut down")

// PanicError wraps a value recovered from a task.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("task panicked: %v", e.Value) }

// WorkerPool is a bounded goroutine pool. Records of one execution, and the
// workflows and sync jobs of one tick, run through it.
type WorkerPool struct {
	sem     chan struct{}
	wg      sync.WaitGroup
	metrics PoolMetrics
	mu      sync.Mutex
	done    chan struct{}
	closed  bool
	onError func(error)
}

// PoolOption configures a WorkerPool.
type PoolOption func(*WorkerPool)

// WithErrorHandler registers fn to receive every task error, including
// recovered panics as *PanicError. fn may be called concurrently.
func WithErrorHandler(fn func(error)) PoolOption {
	return func(p *WorkerPool) { p.onError = fn }
}

// NewWorkerPool creates a pool with the given max concurrency.
func NewWorkerPool(size int, opts ...PoolOption) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	p := &WorkerPool{
		sem:  make(chan struct{}, size),
		done: make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Submit enqueues work into the pool. It blocks if the pool is at capacity
// and respects context cancellation while waiting. Returns ErrPoolShutdown
// if the pool has been shut down.
func (p *WorkerPool) Submit(ctx context.Context, fn func(ctx context.Context) error) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolShutdown
	}
	p.mu.Unlock()

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolShutdown
	}

	// wg.Add must happen under the lock so Shutdown's Wait cannot miss it.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.sem
		return ErrPoolShutdown
	}
	p.wg.Add(1)
	atomic.AddInt64(&p.metrics.Active, 1)
	p.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				atomic.AddInt64(&p.metrics.Panics, 1)
				atomic.AddInt64(&p.metrics.Failed, 1)
				p.report(&PanicError{Value: r})
			}
			atomic.AddInt64(&p.metrics.Active, -1)
			<-p.sem
			p.wg.Done()
		}()

		if err := fn(ctx); err != nil {
			atomic.AddInt64(&p.metrics.Failed, 1)
			p.report(err)
		} else {
			atomic.AddInt64(&p.metrics.Completed, 1)
		}
	}()

	return nil
}

func (p *WorkerPool) report(err error) {
	if p.onError != nil {
		p.onError(err)
	}
}

// ForEach submits fn(ctx, i) for i in [0, n) and waits for every submitted
// task. It returns the number of tasks submitted; when submission stops
// early (context done or shutdown) the error says why.
func (p *WorkerPool) ForEach(ctx context.Context, n int, fn func(ctx context.Context, i int) error) (int, error) {
	submitted := 0
	var submitErr error
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			submitErr = err
			break
		}
		idx := i
		if err := p.Submit(ctx, func(ctx context.Context) error { return fn(ctx, idx) }); err != nil {
			submitErr = err
			break
		}
		submitted++
	}
	p.Wait()
	return submitted, submitErr
}

// Wait blocks until all submitted work completes.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

// Shutdown prevents new submissions and waits for active work to complete.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
}

// Metrics returns a snapshot of the current pool metrics.
func (p *WorkerPool) Metrics() PoolMetrics {
	return PoolMetrics{
		Active:    atomic.LoadInt64(&p.metrics.Active),
		Completed: atomic.LoadInt64(&p.metrics.Completed),
		Failed:    atomic.LoadInt64(&p.metrics.Failed),
		Panics:    atomic.LoadInt64(&p.metrics.Panics),
	}
}
