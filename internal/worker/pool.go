// Package worker provides the bounded pool that runs blocking extraction and
// fetch work. Capacity is the single knob for concurrent blocking calls;
// submissions queue for a slot rather than being rejected.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iconidentify/streamrelay/internal/domain"
)

// ErrShutdownTimeout is returned when in-flight work doesn't finish within
// the close timeout.
var ErrShutdownTimeout = errors.New("worker pool shutdown timed out")

// ErrPoolClosed is returned for submissions after Close.
var ErrPoolClosed = errors.New("worker pool closed")

// Config holds worker pool configuration.
type Config struct {
	// Capacity is the number of blocking operations allowed to run at once.
	Capacity int

	// AcquireTimeout bounds how long a submission waits for a free slot.
	// Zero means queue indefinitely; with a timeout set, submissions fail
	// with domain.ErrPoolSaturated instead.
	AcquireTimeout time.Duration
}

// Stats is a snapshot of pool occupancy.
type Stats struct {
	Capacity int `json:"capacity"`
	Active   int `json:"active"`
	Waiting  int `json:"waiting"`
}

// Pool bounds how many blocking operations run concurrently.
type Pool struct {
	slots          chan struct{}
	acquireTimeout time.Duration
	logger         *slog.Logger

	wg      sync.WaitGroup
	active  atomic.Int64
	waiting atomic.Int64

	mu     sync.Mutex
	closed bool
}

// NewPool creates a pool with the given capacity. The pool is a plain value
// constructed once at startup and passed to whoever needs it; there is no
// package-level instance.
func NewPool(cfg Config, logger *slog.Logger) *Pool {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 4
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Pool{
		slots:          make(chan struct{}, cfg.Capacity),
		acquireTimeout: cfg.AcquireTimeout,
		logger:         logger,
	}
}

// Stats returns a snapshot of pool occupancy.
func (p *Pool) Stats() Stats {
	return Stats{
		Capacity: cap(p.slots),
		Active:   int(p.active.Load()),
		Waiting:  int(p.waiting.Load()),
	}
}

// Close waits for in-flight work to finish. Running operations are not
// interrupted; new submissions fail with ErrPoolClosed.
func (p *Pool) Close(timeout time.Duration) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool drained")
		return nil
	case <-time.After(timeout):
		return ErrShutdownTimeout
	}
}

// Future is the handle for one submitted operation.
type Future[T any] struct {
	done   chan struct{}
	val    T
	err    error
	cancel context.CancelFunc
}

// Wait blocks until the operation finishes or ctx expires. The operation
// keeps running if ctx expires first; use Cancel to stop it.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done is closed when the operation has finished.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Err returns the operation's error without blocking; nil until Done.
func (f *Future[T]) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Cancel requests cooperative cancellation: before execution the work is
// skipped, during execution the fn's context is cancelled so its blocking
// I/O is interrupted rather than left to run to completion.
func (f *Future[T]) Cancel() {
	f.cancel()
}

// Submit schedules fn on the pool. fn runs with a context derived from ctx;
// cancelling either ctx or the returned future interrupts it. The slot is
// released on every exit path, including panic.
func Submit[T any](ctx context.Context, p *Pool, fn func(context.Context) (T, error)) *Future[T] {
	runCtx, cancel := context.WithCancel(ctx)
	f := &Future[T]{
		done:   make(chan struct{}),
		cancel: cancel,
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		f.err = ErrPoolClosed
		cancel()
		close(f.done)
		return f
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		defer close(f.done)
		defer cancel()

		if err := p.acquire(runCtx); err != nil {
			f.err = err
			return
		}
		defer p.release()

		// Cancelled while queued: skip the work entirely.
		if err := runCtx.Err(); err != nil {
			f.err = err
			return
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("worker panic", "panic", r)
					f.err = fmt.Errorf("worker panic: %v", r)
				}
			}()
			f.val, f.err = fn(runCtx)
		}()
	}()

	return f
}

func (p *Pool) acquire(ctx context.Context) error {
	p.waiting.Add(1)
	defer p.waiting.Add(-1)

	if p.acquireTimeout <= 0 {
		select {
		case p.slots <- struct{}{}:
			p.active.Add(1)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	timer := time.NewTimer(p.acquireTimeout)
	defer timer.Stop()

	select {
	case p.slots <- struct{}{}:
		p.active.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return domain.ErrPoolSaturated
	}
}

func (p *Pool) release() {
	p.active.Add(-1)
	<-p.slots
}
