package dag

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoUnits is returned when a node is added without any lane. Such a
	// node could never satisfy the fan-in of the nodes depending on it.
	ErrNoUnits = errors.New("node has no lanes to run on")
	// ErrDuplicateNode is returned when a different node with an ID already
	// present in the graph is added.
	ErrDuplicateNode = errors.New("duplicate node id")
	// ErrMissingDependency is returned by Validate when a node depends on a
	// node that was never added to the graph.
	ErrMissingDependency = errors.New("dependency is not part of the graph")
	// ErrSelfDependency is returned by Validate when a node lists itself as a
	// dependency.
	ErrSelfDependency = errors.New("node depends on itself")
	// ErrCycle is returned by Validate when the dependencies form a cycle.
	ErrCycle = errors.New("cycle detected")
)

// Node is a vertex of the graph. N is the concrete node type, so that
// Dependencies returns nodes of the same graph.
type Node[N any] interface {
	comparable
	ID() string
	Dependencies() []N
}

// Lane is where the work of a unit runs. Work submitted to one lane must
// never overlap and must run in submission order.
type Lane interface {
	comparable
	Name() string
	Submit(ctx context.Context, fn func(context.Context) error) error
}

// Unit is one node scheduled on one lane, the actual unit of execution.
type Unit[N Node[N], L Lane] struct {
	Node N
	Lane L
}

// String returns "node@lane".
func (u Unit[N, L]) String() string {
	return fmt.Sprintf("%s@%s", u.Node.ID(), u.Lane.Name())
}

// Work is the behavior Resolve runs for each unit once its barrier opens.
type Work[N Node[N], L Lane] func(ctx context.Context, u Unit[N, L]) error

// EventKind classifies an Event.
type EventKind int

const (
	// UnitStarted is emitted when a unit's barrier opened and its work was
	// submitted to its lane.
	UnitStarted EventKind = iota
	// UnitCompleted is emitted when a unit's work returned without error.
	UnitCompleted
	// UnitFailed is emitted when a unit's work returned an error.
	UnitFailed
	// UnitSkipped is emitted when a unit was released by an abort without
	// running, or was cancelled before it could finish.
	UnitSkipped
)

func (k EventKind) String() string {
	switch k {
	case UnitStarted:
		return "started"
	case UnitCompleted:
		return "completed"
	case UnitFailed:
		return "failed"
	case UnitSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Event describes a state change of a single unit.
type Event struct {
	Graph   string
	Node    string
	Lane    string
	Kind    EventKind
	Err     error
	At      time.Time
	Elapsed time.Duration
}

// Report summarizes a resolved graph.
type Report struct {
	Units     int
	Completed int
	Failed    int
	Skipped   int
}

// OK reports whether every unit completed.
func (r Report) OK() bool {
	return r.Failed == 0 && r.Skipped == 0 && r.Completed == r.Units
}
