// Package subsystem composes deployments out of subsystems: named groups that
// each own and resolve their own graph of actions. Subsystems are scheduled
// with the same barrier graph as actions, one level up.
package subsystem

import (
	"context"
	"errors"
	"fmt"

	"github.com/unicesi/amelia-sub000/internal/action"
	"github.com/unicesi/amelia-sub000/internal/controller"
	"github.com/unicesi/amelia-sub000/internal/session"
)

// ErrSelfDependency is returned when a subsystem is declared to depend on
// itself.
var ErrSelfDependency = errors.New("a subsystem cannot depend on itself")

// DeployFunc deploys one subsystem.
type DeployFunc func(ctx context.Context) error

// Subsystem is a named, deployable group of actions.
type Subsystem struct {
	alias  string
	deploy DeployFunc
	deps   []*Subsystem
}

// New creates a subsystem with a custom deploy body.
func New(alias string, deploy DeployFunc) *Subsystem {
	return &Subsystem{alias: alias, deploy: deploy}
}

// FromActions creates a subsystem whose deploy body schedules actions on a
// fresh controller and runs it.
func FromActions(alias string, dialer session.Dialer, actions []*action.Action, opts ...controller.Option) *Subsystem {
	return New(alias, func(ctx context.Context) error {
		opts := append([]controller.Option{controller.WithName(alias)}, opts...)
		c := controller.New(dialer, opts...)
		if err := c.Add(actions...); err != nil {
			return err
		}
		_, err := c.Run(ctx)
		return err
	})
}

// ID returns the subsystem's alias.
func (s *Subsystem) ID() string { return s.alias }

// Dependencies returns the subsystems deployed before this one.
func (s *Subsystem) Dependencies() []*Subsystem { return s.deps }

// DependsOn adds dependencies.
func (s *Subsystem) DependsOn(deps ...*Subsystem) error {
	for _, d := range deps {
		if d == s || d.alias == s.alias {
			return fmt.Errorf("%w: %s", ErrSelfDependency, s.alias)
		}
	}
	s.deps = append(s.deps, deps...)
	return nil
}

// Deploy runs the subsystem's deploy body.
func (s *Subsystem) Deploy(ctx context.Context) error {
	if s.deploy == nil {
		return nil
	}
	return s.deploy(ctx)
}

func (s *Subsystem) String() string { return s.alias }
