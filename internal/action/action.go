// Package action describes units of remote work: a command, the patterns that
// decide when and how it finished, its dependencies, the targets it runs on
// and the behavior that drives it through a target's session.
package action

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/unicesi/amelia-sub000/internal/ctxlog"
	"github.com/unicesi/amelia-sub000/internal/target"
)

const (
	// DefaultTimeout applies to actions declared with a zero timeout.
	DefaultTimeout = 2 * time.Minute
	// DefaultPollInterval is how often executions check their log.
	DefaultPollInterval = time.Second
)

var (
	// ErrSelfDependency is returned when an action is declared to depend on
	// itself.
	ErrSelfDependency = errors.New("an action cannot depend on itself")
	// ErrErrorPattern is returned when the output matches an error pattern.
	ErrErrorPattern = errors.New("output matched error pattern")
	// ErrExitStatus is returned when the command exits with a non-zero status.
	ErrExitStatus = errors.New("command exited with non-zero status")
	// ErrTerminated is returned when a detached execution stops before
	// printing its running or completion marker.
	ErrTerminated = errors.New("execution terminated unexpectedly")
)

// Behavior drives an action on one target. prompt matches the target's
// shell prompt. It returns the relevant output.
type Behavior func(ctx context.Context, t *target.Target, prompt *regexp.Regexp) (string, error)

// Action is a declared unit of remote work. Everything but its dependency and
// target lists is fixed by New; those two are filled before the graph is
// resolved and never change while it runs.
type Action struct {
	id            string
	command       string
	args          []string
	release       *regexp.Regexp
	completion    *regexp.Regexp
	errorPatterns []*regexp.Regexp
	timeout       time.Duration
	pollInterval  time.Duration
	successMsg    string
	errorMsg      string
	execution     bool
	behavior      Behavior

	deps    []*Action
	targets []*target.Target
}

// New creates an action. Without WithBehavior, the action runs its command
// synchronously, or detached when AsExecution is given.
func New(id, command string, opts ...Option) *Action {
	a := &Action{
		id:           id,
		command:      command,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.behavior == nil {
		if a.execution {
			a.behavior = a.launch
		} else {
			a.behavior = a.runCommand
		}
	}
	return a
}

// ID returns the unique identifier of the action.
func (a *Action) ID() string { return a.id }

// Command returns the command text without arguments.
func (a *Action) Command() string { return a.command }

// Args returns a copy of the argument list.
func (a *Action) Args() []string { return append([]string(nil), a.args...) }

// CommandLine returns the command followed by its arguments.
func (a *Action) CommandLine() string {
	if len(a.args) == 0 {
		return a.command
	}
	return a.command + " " + strings.Join(a.args, " ")
}

// IsExecution reports whether the action launches a detached process.
func (a *Action) IsExecution() bool { return a.execution }

// Timeout returns the effective timeout. Zero means no timeout.
func (a *Action) Timeout() time.Duration {
	switch {
	case a.timeout == 0:
		return DefaultTimeout
	case a.timeout < 0:
		return 0
	}
	return a.timeout
}

// Dependencies returns the actions that must finish on all of their targets
// before this one starts.
func (a *Action) Dependencies() []*Action { return a.deps }

// Targets returns the targets the action runs on.
func (a *Action) Targets() []*target.Target { return a.targets }

// DependsOn adds dependencies. Declaring the action as its own dependency
// fails with ErrSelfDependency and adds nothing.
func (a *Action) DependsOn(deps ...*Action) error {
	for _, d := range deps {
		if d == nil {
			return fmt.Errorf("%s: nil dependency", a.id)
		}
		if d == a || d.id == a.id {
			return fmt.Errorf("%w: %s", ErrSelfDependency, a.id)
		}
	}
	a.deps = append(a.deps, deps...)
	return nil
}

// RunsOn adds targets and returns the action.
func (a *Action) RunsOn(targets ...*target.Target) *Action {
	a.targets = append(a.targets, targets...)
	return a
}

func (a *Action) String() string {
	return a.id
}

// Run executes the action's behavior on t. Remote failures are returned as a
// *RemoteError.
func (a *Action) Run(ctx context.Context, t *target.Target) (string, error) {
	logger := ctxlog.FromContext(ctx).With("action", a.id, "target", t.Name())

	s, err := t.Session()
	if err != nil {
		return "", err
	}
	logger.Info("▶️ Running action", "command", a.CommandLine())
	start := time.Now()
	out, err := a.behavior(ctx, t, s.Prompt())
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return out, err
		}
		if a.errorMsg != "" {
			logger.Error(a.message(a.errorMsg, t))
		}
		return out, &RemoteError{Action: a.id, Target: t.Name(), Output: out, Err: err}
	}

	if a.successMsg != "" {
		logger.Info(a.message(a.successMsg, t))
	}
	logger.Info("✅ Action finished", "duration", time.Since(start).String())
	return out, nil
}

func (a *Action) message(tmpl string, t *target.Target) string {
	return strings.NewReplacer("{{host}}", t.Name(), "{{action}}", a.id).Replace(tmpl)
}

// matchError returns the first error pattern found in out.
func (a *Action) matchError(out string) *regexp.Regexp {
	for _, p := range a.errorPatterns {
		if p.MatchString(out) {
			return p
		}
	}
	return nil
}
