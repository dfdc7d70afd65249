// Package controller runs one deployment graph of actions: it opens the
// sessions of every target, optionally stops what a previous deployment left
// running, resolves the graph and tears everything down exactly once.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/unicesi/amelia-sub000/internal/action"
	"github.com/unicesi/amelia-sub000/internal/ctxlog"
	"github.com/unicesi/amelia-sub000/internal/dag"
	"github.com/unicesi/amelia-sub000/internal/session"
	"github.com/unicesi/amelia-sub000/internal/target"
	"golang.org/x/sync/errgroup"
)

// Option configures a Controller.
type Option func(*Controller)

// WithName labels the controller's logs and events.
func WithName(name string) Option {
	return func(c *Controller) {
		c.name = name
	}
}

// WithStopPrevious makes Run stop the executions previously started on the
// targets before resolving the graph.
func WithStopPrevious(stop bool) Option {
	return func(c *Controller) {
		c.stopPrevious = stop
	}
}

// WithKeepRunning leaves sessions and executions alive after a successful
// run. Failed runs are always torn down.
func WithKeepRunning(keep bool) Option {
	return func(c *Controller) {
		c.keepRunning = keep
	}
}

// WithSharedTargets leaves the teardown of the targets to the caller, who
// shares them with other controllers. A failing unit still aborts the run,
// but the targets stay open and their executions keep running until the
// caller calls Teardown.
func WithSharedTargets(shared bool) Option {
	return func(c *Controller) {
		c.sharedTargets = shared
	}
}

// WithObserver receives the unit events of the run.
func WithObserver(fn func(dag.Event)) Option {
	return func(c *Controller) {
		if fn != nil {
			c.observers = append(c.observers, fn)
		}
	}
}

// Graph is the dependency graph of actions scheduled on targets.
type Graph = dag.Graph[*action.Action, *target.Target]

// Controller owns one graph and the lifecycle of its targets.
type Controller struct {
	name         string
	dialer       session.Dialer
	graph        *Graph
	stopPrevious bool
	keepRunning   bool
	sharedTargets bool
	observers     []func(dag.Event)

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a controller that opens sessions through dialer.
func New(dialer session.Dialer, opts ...Option) *Controller {
	c := &Controller{
		name:   "deployment",
		dialer: dialer,
		graph:  dag.New[*action.Action, *target.Target](),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the controller's name.
func (c *Controller) Name() string { return c.name }

// Graph returns the controller's graph.
func (c *Controller) Graph() *Graph { return c.graph }

// Add schedules actions on their targets. An action without targets is
// rejected with dag.ErrNoUnits; adding an action twice is a no-op.
func (c *Controller) Add(actions ...*action.Action) error {
	for _, a := range actions {
		if _, err := c.graph.AddNode(a, a.Targets()...); err != nil {
			return fmt.Errorf("cannot schedule action %s: %w", a.ID(), err)
		}
	}
	return nil
}

// Targets returns every target referenced by the graph.
func (c *Controller) Targets() []*target.Target {
	return c.graph.Lanes()
}

// Validate checks that every dependency is scheduled and that the graph has
// no cycles.
func (c *Controller) Validate() error {
	if err := c.graph.Validate(); err != nil {
		return fmt.Errorf("invalid deployment %s: %w", c.name, err)
	}
	return nil
}

// Run validates the graph, opens every target, optionally stops previous
// executions, resolves the graph and tears down. The first failing unit
// aborts the run and triggers the teardown immediately.
func (c *Controller) Run(ctx context.Context) (dag.Report, error) {
	logger := ctxlog.FromContext(ctx).With("graph", c.name)

	if err := c.Validate(); err != nil {
		return dag.Report{}, err
	}

	logger.Debug("Opening target sessions.", "targets", len(c.Targets()))
	if err := c.open(ctx); err != nil {
		if shErr := c.teardown(ctx); shErr != nil {
			logger.Warn("Teardown after failed open reported errors.", "error", shErr)
		}
		return dag.Report{}, err
	}

	if c.stopPrevious {
		c.stopPreviousWork(ctx)
	}

	opts := []dag.Option{
		dag.WithName(c.name),
		dag.WithAbortHook(func(cause error) {
			logger.Error("Deployment aborted.", "error", action.Cause(cause))
			if err := c.teardown(ctx); err != nil {
				logger.Warn("Teardown reported errors.", "error", err)
			}
		}),
	}
	for _, fn := range c.observers {
		opts = append(opts, dag.WithObserver(fn))
	}

	logger.Info("🚀 Starting deployment", "actions", c.graph.Len(), "targets", len(c.Targets()))
	report, err := c.graph.Resolve(ctx, c.work, opts...)
	if err != nil || !c.keepRunning {
		if shErr := c.teardown(ctx); shErr != nil {
			logger.Warn("Teardown reported errors.", "error", shErr)
		}
	}
	if err != nil {
		return report, err
	}
	logger.Info("🏁 Deployment finished", "units", report.Units)
	return report, nil
}

// Shutdown tears the deployment down: it drains every target's queue, stops
// the executions still recorded on the targets and closes every handle. Only
// the first call does anything; later calls return its result.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() {
		logger := ctxlog.FromContext(ctx)
		logger.Info("🛑 Stopping deployment", "graph", c.name)
		c.shutdownErr = Teardown(ctx, c.Targets(), true)
		logger.Debug("Deployment stopped.", "graph", c.name)
	})
	return c.shutdownErr
}

// teardown shuts the run down unless the targets belong to the caller.
func (c *Controller) teardown(ctx context.Context) error {
	if c.sharedTargets {
		return nil
	}
	return c.Shutdown(ctx)
}

func (c *Controller) work(ctx context.Context, u dag.Unit[*action.Action, *target.Target]) error {
	_, err := u.Node.Run(ctx, u.Lane)
	return err
}

func (c *Controller) open(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range c.Targets() {
		g.Go(func() error {
			return t.Open(gctx, c.dialer)
		})
	}
	return g.Wait()
}

// stopPreviousWork stops every execution recorded on the targets, most
// recently started first. Failures are logged and do not stop the run.
func (c *Controller) stopPreviousWork(ctx context.Context) {
	StopExecutions(ctx, c.Targets())
}

// StopExecutions stops the executions recorded on open targets, most recently
// started first, through each target's queue. Failures are logged.
func StopExecutions(ctx context.Context, targets []*target.Target) {
	logger := ctxlog.FromContext(ctx)
	for _, t := range targets {
		execs := t.Executions()
		if len(execs) == 0 || !t.IsOpen() {
			logger.Debug("No previous executions.", "target", t.Name())
			continue
		}
		for _, e := range execs {
			err := t.Submit(ctx, func(ctx context.Context) error {
				return action.StopExecution(ctx, t, e)
			})
			if err != nil {
				logger.Warn("Could not stop previous execution.", "target", t.Name(), "action", e.Action, "pid", e.PID, "error", err)
			}
		}
	}
}

// Teardown shuts down the queues of targets, then, when stop is set, stops
// the executions recorded on them, and finally closes their handles. Every
// step runs even when an earlier one failed; the errors are joined.
func Teardown(ctx context.Context, targets []*target.Target, stop bool) error {
	logger := ctxlog.FromContext(ctx)
	for _, t := range targets {
		t.ShutdownQueue()
	}

	var errs []error
	if stop {
		for _, t := range targets {
			if !t.IsOpen() {
				continue
			}
			for _, e := range t.Executions() {
				if err := action.StopExecution(ctx, t, e); err != nil {
					logger.Error("Failed to stop execution.", "target", t.Name(), "pid", e.PID, "error", err)
					errs = append(errs, err)
				}
			}
		}
	}

	closeErrs := make([]error, len(targets))
	var g errgroup.Group
	for i, t := range targets {
		g.Go(func() error {
			if err := t.Close(); err != nil {
				logger.Error("Failed to close target.", "target", t.Name(), "error", err)
				closeErrs[i] = err
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(append(errs, closeErrs...)...)
}
