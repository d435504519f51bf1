// Package tasks runs fire-and-forget work on a fixed pool of workers, away
// from the request that produced it.
package tasks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

type job struct {
	name string
	fn   func(ctx context.Context) error
}

// Queue is a bounded FIFO drained by a fixed worker pool. A failing or
// panicking task is logged and never affects its siblings.
type Queue struct {
	logger *slog.Logger
	jobs   chan job
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

type Options struct {
	Workers   int
	QueueSize int
	Logger    *slog.Logger
}

func New(opts Options) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		logger: opts.Logger,
		jobs:   make(chan job, opts.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < opts.Workers; i++ {
		q.wg.Add(1)
		go q.work()
	}
	return q
}

// Submit queues fn. It returns false when the queue is closed or full, in
// which case the caller still owns the work.
func (q *Queue) Submit(name string, fn func(ctx context.Context) error) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.jobs <- job{name: name, fn: fn}:
		return true
	default:
		q.logger.Warn("task queue full", "task", name)
		return false
	}
}

func (q *Queue) work() {
	defer q.wg.Done()
	for j := range q.jobs {
		q.run(j)
	}
}

func (q *Queue) run(j job) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("task panicked", "task", j.name, "panic", fmt.Sprint(r))
		}
	}()
	if err := j.fn(q.ctx); err != nil {
		q.logger.Error("task failed", "task", j.name, "err", err, "elapsed", time.Since(start))
		return
	}
	q.logger.Debug("task done", "task", j.name, "elapsed", time.Since(start))
}

// Shutdown stops accepting work and waits for queued tasks to finish. When
// ctx expires first, running tasks see their context canceled.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}
