package subsystem

import (
	"context"
	"fmt"

	"github.com/unicesi/amelia-sub000/internal/action"
	"github.com/unicesi/amelia-sub000/internal/ctxlog"
	"github.com/unicesi/amelia-sub000/internal/dag"
	"github.com/unicesi/amelia-sub000/internal/queue"
)

// Graph is the dependency graph of subsystems.
type Graph = dag.Graph[*Subsystem, *queue.Queue]

// Option configures a Deployment.
type Option func(*Deployment)

// WithParallelSubsystems gives every subsystem its own queue, so unrelated
// subsystems deploy concurrently. By default all of them share one queue and
// deploy one at a time.
func WithParallelSubsystems(parallel bool) Option {
	return func(d *Deployment) {
		d.parallel = parallel
	}
}

// WithObserver receives the subsystem-level events of the run.
func WithObserver(fn func(dag.Event)) Option {
	return func(d *Deployment) {
		if fn != nil {
			d.observers = append(d.observers, fn)
		}
	}
}

// Deployment is a graph of subsystems. It runs once.
type Deployment struct {
	name      string
	parallel  bool
	observers []func(dag.Event)
	graph     *Graph
	shared    *queue.Queue
	queues    []*queue.Queue
}

// NewDeployment creates an empty deployment.
func NewDeployment(name string, opts ...Option) *Deployment {
	d := &Deployment{
		name:  name,
		graph: dag.New[*Subsystem, *queue.Queue](),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Graph returns the deployment's graph.
func (d *Deployment) Graph() *Graph { return d.graph }

// Add schedules subsystems.
func (d *Deployment) Add(subsystems ...*Subsystem) error {
	for _, s := range subsystems {
		if _, ok := d.graph.Node(s.ID()); ok {
			if _, err := d.graph.AddNode(s); err != nil {
				return fmt.Errorf("cannot add subsystem %s: %w", s.ID(), err)
			}
			continue
		}
		if _, err := d.graph.AddNode(s, d.lane(s)); err != nil {
			return fmt.Errorf("cannot add subsystem %s: %w", s.ID(), err)
		}
	}
	return nil
}

func (d *Deployment) lane(s *Subsystem) *queue.Queue {
	if d.parallel {
		q := queue.New(s.ID())
		d.queues = append(d.queues, q)
		return q
	}
	if d.shared == nil {
		d.shared = queue.New(d.name)
		d.queues = append(d.queues, d.shared)
	}
	return d.shared
}

// Run deploys every subsystem after all of its dependencies. The first
// failing subsystem aborts the run; subsystems still waiting are skipped.
func (d *Deployment) Run(ctx context.Context) (dag.Report, error) {
	logger := ctxlog.FromContext(ctx).With("deployment", d.name)
	defer d.Close()

	opts := []dag.Option{
		dag.WithName(d.name),
		dag.WithAbortHook(func(cause error) {
			logger.Error("Deployment aborted.", "error", action.Cause(cause))
		}),
	}
	for _, fn := range d.observers {
		opts = append(opts, dag.WithObserver(fn))
	}

	logger.Info("🚀 Deploying subsystems", "subsystems", d.graph.Len(), "parallel", d.parallel)
	report, err := d.graph.Resolve(ctx, func(ctx context.Context, u dag.Unit[*Subsystem, *queue.Queue]) error {
		logger.Info("▶️ Deploying subsystem", "subsystem", u.Node.ID())
		// The subsystem's own graph takes over the "graph" attribute.
		if err := u.Node.Deploy(ctxlog.WithLogger(ctx, logger)); err != nil {
			return err
		}
		logger.Info("✅ Subsystem deployed", "subsystem", u.Node.ID())
		return nil
	}, opts...)
	if err != nil {
		return report, err
	}
	logger.Info("🏁 All subsystems deployed")
	return report, nil
}

// Close stops the subsystem queues. Run calls it when it returns; a
// deployment that is built but never run must be closed by its owner.
func (d *Deployment) Close() {
	for _, q := range d.queues {
		q.Shutdown()
	}
}
