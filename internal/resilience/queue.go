package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrQueueFull is returned when the queue is already at its depth limit.
var ErrQueueFull = errors.New("rate limiter queue is full")

// ErrQueueCleared is the settlement error for tasks rejected by Clear.
var ErrQueueCleared = errors.New("rate limiter queue was cleared")

// Task produces a value when the limiter dispatches it.
type Task[T any] func() (T, error)

// Promise is the caller-side handle for an enqueued task. It settles exactly
// once, when the task completes or is rejected.
type Promise[T any] struct {
	done chan struct{}
	val  T
	err  error
}

func newPromise[T any]() *Promise[T] {
	return &Promise[T]{done: make(chan struct{})}
}

func (p *Promise[T]) settle(val T, err error) {
	p.val = val
	p.err = err
	close(p.done)
}

// Wait blocks until the promise settles or ctx is done.
func (p *Promise[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		return p.val, p.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done returns a channel closed when the promise settles.
func (p *Promise[T]) Done() <-chan struct{} {
	return p.done
}

type queued[T any] struct {
	task       Task[T]
	promise    *Promise[T]
	enqueuedAt time.Time
}

// QueueConfig controls a Queue.
type QueueConfig struct {
	// RequestsPerMinute is the dispatch budget per sliding window.
	RequestsPerMinute int
	// MaxDepth bounds the number of queued tasks; 0 means unbounded.
	MaxDepth int
	// Window is the sliding window size. Defaults to one minute.
	Window time.Duration
	// Logger receives dispatch events at debug level.
	Logger *slog.Logger
}

// Queue is a bounded FIFO rate limiter with sliding-window admission.
// A task may dispatch once fewer than RequestsPerMinute dispatch timestamps
// remain within the trailing window; otherwise the drainer waits for the
// oldest timestamp to age out. After each dispatch, releases are spaced
// evenly at Window/RequestsPerMinute. Tasks dispatch strictly in enqueue
// order, and a task's own outcome never blocks draining.
type Queue[T any] struct {
	mu         sync.Mutex
	pending    []queued[T]
	dispatches []time.Time
	rpm        int
	maxDepth   int
	window     time.Duration
	draining   bool
	logger     *slog.Logger
	wake       chan struct{}
}

// NewQueue creates a rate-limiting queue.
func NewQueue[T any](cfg QueueConfig) *Queue[T] {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 10
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Queue[T]{
		rpm:      cfg.RequestsPerMinute,
		maxDepth: cfg.MaxDepth,
		window:   cfg.Window,
		logger:   cfg.Logger,
		wake:     make(chan struct{}, 1),
	}
}

// Enqueue adds a task to the queue and returns its promise. It rejects
// immediately with ErrQueueFull when the queue is at capacity.
func (q *Queue[T]) Enqueue(task Task[T]) (*Promise[T], error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.maxDepth > 0 && len(q.pending) >= q.maxDepth {
		return nil, ErrQueueFull
	}

	p := newPromise[T]()
	q.pending = append(q.pending, queued[T]{
		task:       task,
		promise:    p,
		enqueuedAt: time.Now(),
	})

	if !q.draining {
		q.draining = true
		go q.drain()
	}
	return p, nil
}

// drain dispatches queued tasks until the queue empties. Only one drainer
// runs at a time; it owns the dispatch timestamp history.
func (q *Queue[T]) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}

		now := time.Now()
		wait := q.admissionDelayLocked(now)
		if wait > 0 {
			q.mu.Unlock()
			q.sleep(wait)
			continue
		}

		item := q.pending[0]
		q.pending = q.pending[1:]
		q.dispatches = append(q.dispatches, now)
		remaining := len(q.pending)
		q.mu.Unlock()

		q.logger.Debug("rate limiter dispatch",
			"queued_ms", time.Since(item.enqueuedAt).Milliseconds(),
			"remaining", remaining,
		)

		go func(item queued[T]) {
			val, err := item.task()
			item.promise.settle(val, err)
		}(item)

		if remaining > 0 {
			q.sleep(q.window / time.Duration(q.rpm))
		}
	}
}

// sleep waits for d or until woken early by Clear.
func (q *Queue[T]) sleep(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-q.wake:
	}
}

// admissionDelayLocked trims the timestamp window and returns how long the
// next dispatch must wait. Zero means dispatch now.
func (q *Queue[T]) admissionDelayLocked(now time.Time) time.Duration {
	cutoff := now.Add(-q.window)
	trimmed := q.dispatches[:0]
	for _, ts := range q.dispatches {
		if ts.After(cutoff) {
			trimmed = append(trimmed, ts)
		}
	}
	q.dispatches = trimmed

	if len(q.dispatches) < q.rpm {
		return 0
	}
	return q.dispatches[0].Add(q.window).Sub(now)
}

// WaitTime estimates how long a newly enqueued task would wait for
// admission. Zero when under the limit.
func (q *Queue[T]) WaitTime() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()

	d := q.admissionDelayLocked(time.Now())
	if d < 0 {
		return 0
	}
	return d
}

// Len returns the number of queued, not yet dispatched tasks.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Clear rejects every queued-but-undispatched task with ErrQueueCleared.
// Tasks already dispatched are unaffected.
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	cleared := q.pending
	q.pending = nil
	q.mu.Unlock()

	// Wake a sleeping drainer so it notices the empty queue promptly.
	select {
	case q.wake <- struct{}{}:
	default:
	}

	var zero T
	for _, item := range cleared {
		item.promise.settle(zero, ErrQueueCleared)
	}
}
