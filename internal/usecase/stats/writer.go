package stats

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"gitstars/internal/bootstrap/logging"
	"gitstars/internal/errs"
)

// writeQueue defers cache writes so a refreshed payload can be returned
// before it is persisted. The queue is bounded and observable: Flush blocks
// until everything enqueued so far has been applied, and a full queue falls
// back to running the write inline, so writes are never dropped.
type writeQueue struct {
	tasks   chan func(context.Context) error
	pending sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	stopped chan struct{}
}

func newWriteQueue(ctx context.Context, depth int) *writeQueue {
	if depth <= 0 {
		depth = 16
	}

	q := &writeQueue{
		tasks:   make(chan func(context.Context) error, depth),
		stopped: make(chan struct{}),
	}

	go q.run(ctx)
	return q
}

func (q *writeQueue) run(ctx context.Context) {
	defer close(q.stopped)

	for task := range q.tasks {
		if err := task(ctx); err != nil {
			logging.Error(ctx, "deferred cache write failed", slog.Any("err", errs.Loggable(err)))
		}
		q.pending.Done()
	}
}

// enqueue schedules task, or runs it inline when the queue is full or
// already closed.
func (q *writeQueue) enqueue(ctx context.Context, task func(context.Context) error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.runInline(ctx, task)
		return
	}

	q.pending.Add(1)
	select {
	case q.tasks <- task:
		q.mu.Unlock()
	default:
		q.pending.Done()
		q.mu.Unlock()
		q.runInline(ctx, task)
	}
}

func (q *writeQueue) runInline(ctx context.Context, task func(context.Context) error) {
	if err := task(ctx); err != nil {
		logging.Error(ctx, "inline cache write failed", slog.Any("err", errs.Loggable(err)))
	}
}

// Flush waits for every write enqueued before the call to complete.
func (q *writeQueue) Flush(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	waited := make(chan struct{})
	go func() {
		q.pending.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return errs.Wrap(ctx.Err(), "flush write queue")
	}
}

// Close drains the queue and stops the worker. Safe to call twice.
func (q *writeQueue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	q.mu.Unlock()
	<-q.stopped
}
