// Package queue provides a single-worker FIFO execution queue. Every target
// owns one, which keeps the remote session traffic of unrelated actions on
// the same host from interleaving while different hosts proceed in parallel.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrShutdown is returned to callers whose work was still pending, or was
// submitted, after Shutdown. It wraps context.Canceled so schedulers treat
// it as a cancellation rather than a failure.
var ErrShutdown = fmt.Errorf("queue shut down: %w", context.Canceled)

// item is one submitted piece of work and the channel its caller waits on.
type item struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

// Queue runs submitted functions one at a time, in submission order.
type Queue struct {
	name string

	mu      sync.Mutex
	pending []*item
	closed  bool

	wake    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
	once    sync.Once
}

// New creates a queue and starts its worker.
func New(name string) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		name:    name,
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		stopped: make(chan struct{}),
	}
	go q.loop()
	return q
}

// Name returns the queue's name.
func (q *Queue) Name() string {
	return q.name
}

// Submit enqueues fn and blocks until it has run, returning its error, or
// until the queue releases it with ErrShutdown. fn receives a context that
// is cancelled when either ctx or the queue is.
func (q *Queue) Submit(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	it := &item{ctx: ctx, fn: fn, done: make(chan error, 1)}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrShutdown
	}
	q.pending = append(q.pending, it)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return <-it.done
}

// Len returns the number of items waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Closed reports whether Shutdown was called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Shutdown stops accepting work, cancels the running item and releases
// every pending caller with ErrShutdown. It returns once the worker has
// exited. Calling it more than once is safe.
func (q *Queue) Shutdown() {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		pending := q.pending
		q.pending = nil
		q.mu.Unlock()

		q.cancel()
		for _, it := range pending {
			it.done <- ErrShutdown
		}
	})
	<-q.stopped
}

func (q *Queue) loop() {
	defer close(q.stopped)
	for {
		it, ok := q.next()
		if !ok {
			return
		}
		it.done <- q.run(it)
	}
}

// next pops the oldest pending item, blocking until one arrives or the queue
// is shut down.
func (q *Queue) next() (*item, bool) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		if len(q.pending) > 0 {
			it := q.pending[0]
			q.pending[0] = nil
			q.pending = q.pending[1:]
			q.mu.Unlock()
			return it, true
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-q.ctx.Done():
		}
	}
}

func (q *Queue) run(it *item) (err error) {
	if err := it.ctx.Err(); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(it.ctx)
	defer cancel()
	stop := context.AfterFunc(q.ctx, cancel)
	defer stop()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queue %s: work panicked: %v", q.name, r)
		}
	}()
	err = it.fn(ctx)
	if err != nil && q.ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return ErrShutdown
	}
	return err
}
