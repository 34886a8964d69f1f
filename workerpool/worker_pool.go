// Package workerpool runs bounded batches of tasks on an ants pool.
package workerpool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/pitabwire/util"

	"github.com/pitabwire/lexicon/config"
)

const defaultCapacity = 16

// WorkerPool executes submitted tasks on pooled goroutines.
type WorkerPool interface {
	Submit(ctx context.Context, task func()) error
	Shutdown()
}

// Options defines configurable options for the worker pool.
type Options struct {
	Capacity       int
	ExpiryDuration time.Duration
	Nonblocking    bool
	PanicHandler   func(any)
	Logger         *util.LogEntry
}

// Option defines a function that configures worker pool options.
type Option func(*Options)

// WithCapacity sets the number of tasks running at once.
func WithCapacity(capacity int) Option {
	return func(opts *Options) {
		opts.Capacity = capacity
	}
}

// WithPoolExpiryDuration sets the expiry duration for idle workers.
func WithPoolExpiryDuration(duration time.Duration) Option {
	return func(opts *Options) {
		opts.ExpiryDuration = duration
	}
}

// WithPoolNonblocking makes Submit fail instead of waiting when the pool is full.
func WithPoolNonblocking(nonblocking bool) Option {
	return func(opts *Options) {
		opts.Nonblocking = nonblocking
	}
}

// WithPoolPanicHandler sets a panic handler for the pool.
func WithPoolPanicHandler(handler func(any)) Option {
	return func(opts *Options) {
		opts.PanicHandler = handler
	}
}

// WithPoolLogger sets a logger for the pool.
func WithPoolLogger(logger *util.LogEntry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// New creates a pool sized from cfg, which may be nil.
func New(ctx context.Context, cfg config.ConfigurationWorkerPool, opts ...Option) (WorkerPool, error) {
	wopts := &Options{
		Capacity: defaultCapacity,
		Logger:   util.Log(ctx),
	}
	if cfg != nil {
		if cfg.GetCapacity() > 0 {
			wopts.Capacity = cfg.GetCapacity()
		}
		wopts.ExpiryDuration = cfg.GetExpiryDuration()
	}
	for _, opt := range opts {
		opt(wopts)
	}

	antsOpts := []ants.Option{
		ants.WithNonblocking(wopts.Nonblocking),
		ants.WithLogger(wopts.Logger),
	}
	if wopts.ExpiryDuration > 0 {
		antsOpts = append(antsOpts, ants.WithExpiryDuration(wopts.ExpiryDuration))
	}
	if wopts.PanicHandler != nil {
		antsOpts = append(antsOpts, ants.WithPanicHandler(wopts.PanicHandler))
	}

	p, err := ants.NewPool(wopts.Capacity, antsOpts...)
	if err != nil {
		return nil, err
	}
	return &singlePoolWrapper{pool: p}, nil
}

// singlePoolWrapper adapts *ants.Pool to the WorkerPool interface.
type singlePoolWrapper struct {
	pool *ants.Pool
}

func (w *singlePoolWrapper) Submit(ctx context.Context, task func()) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	return w.pool.Submit(task)
}

func (w *singlePoolWrapper) Shutdown() {
	w.pool.Release()
}

// RunAll runs every task on pool and waits for all of them. Errors of all tasks are joined;
// a task that cannot be submitted contributes its submission error.
func RunAll(ctx context.Context, pool WorkerPool, tasks ...func(ctx context.Context) error) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	record := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	for _, task := range tasks {
		wg.Add(1)
		err := pool.Submit(ctx, func() {
			defer wg.Done()
			record(task(ctx))
		})
		if err != nil {
			wg.Done()
			record(err)
		}
	}

	wg.Wait()
	return errors.Join(errs...)
}
