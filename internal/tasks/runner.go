// Package tasks runs detached background work, such as template usage
// updates, without blocking or failing the caller.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/example/notification-pipeline/internal/logger"
)

// ErrClosed is returned by Go after Close has been called.
var ErrClosed = errors.New("tasks: runner closed")

// Func is a unit of detached work.
type Func func(ctx context.Context) error

// Runner executes submitted functions on background goroutines, bounded by
// a weighted semaphore. Failures and panics are logged and swallowed.
type Runner struct {
	sem     *semaphore.Weighted
	timeout time.Duration
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// Option customises a Runner.
type Option func(*Runner)

// WithTimeout bounds each task. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d >= 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the logger failures are reported to.
func WithLogger(log zerolog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger.Component(log, "tasks")
	}
}

// NewRunner constructs a runner executing at most concurrency tasks at once.
func NewRunner(concurrency int, opts ...Option) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		sem:     semaphore.NewWeighted(int64(concurrency)),
		timeout: 10 * time.Second,
		logger:  zerolog.Nop(),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Go schedules fn and returns immediately. Tasks queue for a semaphore slot
// on their own goroutine, so the caller never waits.
func (r *Runner) Go(name string, fn Func) error {
	if fn == nil {
		return nil
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go r.run(name, fn)
	return nil
}

func (r *Runner) run(name string, fn Func) {
	defer r.wg.Done()

	if err := r.sem.Acquire(r.ctx, 1); err != nil {
		r.logger.Warn().Str("task", name).Err(err).Msg("task dropped before start")
		return
	}
	defer r.sem.Release(1)

	ctx := r.ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	err := safeCall(ctx, fn)
	log := r.logger.With().Str("task", name).Dur("duration", time.Since(start)).Logger()
	if err != nil {
		log.Warn().Err(err).Msg("background task failed")
		return
	}
	log.Debug().Msg("background task finished")
}

func safeCall(ctx context.Context, fn Func) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tasks: panic: %v", rec)
		}
	}()
	return fn(ctx)
}

// Wait blocks until every scheduled task has finished or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close rejects new work, cancels tasks still queued or running and waits
// for them to return or ctx to expire.
func (r *Runner) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	return r.Wait(ctx)
}
