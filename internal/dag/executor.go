package dag

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/unicesi/amelia-sub000/internal/ctxlog"
)

// Option configures a single Resolve call.
type Option func(*options)

type options struct {
	name      string
	onAbort   func(cause error)
	observers []func(Event)
}

// WithName labels the events and logs of a run.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithAbortHook registers fn to be called exactly once, with the root cause,
// when the first unit fails.
func WithAbortHook(fn func(cause error)) Option {
	return func(o *options) {
		o.onAbort = fn
	}
}

// WithObserver registers fn to receive every unit Event. Observers are called
// from the coordinating goroutines and must be safe for concurrent use.
func WithObserver(fn func(Event)) Option {
	return func(o *options) {
		if fn != nil {
			o.observers = append(o.observers, fn)
		}
	}
}

// coordinator drives a single unit through its barrier and its lane.
type coordinator[N Node[N], L Lane] struct {
	unit    Unit[N, L]
	barrier *barrier
}

// run holds the mutable state shared by the coordinators of one Resolve.
type run[N Node[N], L Lane] struct {
	opts      options
	work      Work[N, L]
	cancel    context.CancelCauseFunc
	abortOnce sync.Once
	cause     error
	// subscribers maps a node to the barriers of every unit downstream of it.
	subscribers map[N][]*barrier

	completed atomic.Int32
	failed    atomic.Int32
	skipped   atomic.Int32
}

// Resolve validates the graph, starts one coordinator per unit and blocks
// until every unit has completed, failed or been skipped. The first failure
// cancels the run: waiting units are released without running and running
// units see their context cancelled. Resolve returns the root-cause error of
// the first failure, or the cancellation cause of ctx.
func (g *Graph[N, L]) Resolve(ctx context.Context, work Work[N, L], opts ...Option) (Report, error) {
	logger := ctxlog.FromContext(ctx)
	if err := g.Validate(); err != nil {
		return Report{}, fmt.Errorf("error validating dependency graph: %w", err)
	}

	r := &run[N, L]{
		work:        work,
		subscribers: make(map[N][]*barrier),
	}
	for _, opt := range opts {
		opt(&r.opts)
	}
	if r.opts.name != "" {
		logger = logger.With("graph", r.opts.name)
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	r.cancel = cancel
	runCtx = ctxlog.WithLogger(runCtx, logger)

	// Wire every unit's barrier to the completion channels of its
	// dependencies before anything starts.
	var coordinators []*coordinator[N, L]
	for _, n := range g.order {
		fanIn := g.FanIn(n)
		deps := distinct(n.Dependencies())
		for _, u := range g.units[n] {
			b := newBarrier(fanIn)
			for _, d := range deps {
				r.subscribers[d] = append(r.subscribers[d], b)
			}
			coordinators = append(coordinators, &coordinator[N, L]{unit: u, barrier: b})
			logger.Debug("Unit scheduled.", "unit", u.String(), "fan_in", fanIn)
		}
	}

	var wg sync.WaitGroup
	wg.Add(len(coordinators))
	logger.Debug("Starting coordinators.", "units", len(coordinators))
	for _, c := range coordinators {
		go func(c *coordinator[N, L]) {
			defer wg.Done()
			r.coordinate(runCtx, c)
		}(c)
	}

	logger.Debug("Waiting for all units to finish...")
	wg.Wait()

	report := Report{
		Units:     len(coordinators),
		Completed: int(r.completed.Load()),
		Failed:    int(r.failed.Load()),
		Skipped:   int(r.skipped.Load()),
	}
	logger.Debug("All units finished.", "completed", report.Completed, "failed", report.Failed, "skipped", report.Skipped)

	if r.cause != nil {
		return report, r.cause
	}
	if err := ctx.Err(); err != nil {
		return report, context.Cause(ctx)
	}
	return report, nil
}

// coordinate waits on the unit's barrier, runs the unit on its lane and
// publishes its completion.
func (r *run[N, L]) coordinate(ctx context.Context, c *coordinator[N, L]) {
	u := c.unit
	logger := ctxlog.FromContext(ctx).With("unit", u.String())

	if !c.barrier.wait(ctx) {
		logger.Debug("Run aborted, releasing unit without running it.")
		r.skipped.Add(1)
		r.emit(u, UnitSkipped, context.Cause(ctx), 0)
		return
	}

	r.emit(u, UnitStarted, nil, 0)
	start := time.Now()
	err := u.Lane.Submit(ctx, func(ctx context.Context) error {
		return r.work(ctx, u)
	})
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() != nil && !r.isCause(err) {
			// The run was already aborted by someone else; this unit is a
			// casualty, not a root cause.
			logger.Debug("Unit cancelled by run abort.", "error", err)
			r.skipped.Add(1)
			r.emit(u, UnitSkipped, err, elapsed)
			return
		}
		logger.Error("Unit failed.", "error", err)
		r.failed.Add(1)
		r.emit(u, UnitFailed, err, elapsed)
		r.abort(fmt.Errorf("%s: %w", u.String(), err))
		return
	}

	r.completed.Add(1)
	r.emit(u, UnitCompleted, nil, elapsed)
	for _, b := range r.subscribers[u.Node] {
		b.publish()
	}
	logger.Debug("Unit completed, dependents signalled.", "subscribers", len(r.subscribers[u.Node]))
}

// abort records the first failure as the run's cause, cancels the run and
// fires the abort hook. Later calls are no-ops.
func (r *run[N, L]) abort(cause error) {
	r.abortOnce.Do(func() {
		r.cause = cause
		r.cancel(cause)
		if r.opts.onAbort != nil {
			r.opts.onAbort(cause)
		}
	})
}

// isCause reports whether err is a unit's own failure rather than the echo
// of a cancellation.
func (r *run[N, L]) isCause(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (r *run[N, L]) emit(u Unit[N, L], kind EventKind, err error, elapsed time.Duration) {
	if len(r.opts.observers) == 0 {
		return
	}
	e := Event{
		Graph:   r.opts.name,
		Node:    u.Node.ID(),
		Lane:    u.Lane.Name(),
		Kind:    kind,
		Err:     err,
		At:      time.Now(),
		Elapsed: elapsed,
	}
	for _, fn := range r.opts.observers {
		fn(e)
	}
}
