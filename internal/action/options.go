package action

import (
	"regexp"
	"time"
)

// Option configures an Action.
type Option func(*Action)

// WithArgs appends arguments to the command.
func WithArgs(args ...string) Option {
	return func(a *Action) {
		a.args = append(a.args, args...)
	}
}

// WithRelease sets the pattern that marks the command's output as done. For
// executions it is the marker printed once the process is up. Without it a
// synchronous command is done when the prompt comes back.
func WithRelease(re *regexp.Regexp) Option {
	return func(a *Action) {
		a.release = re
	}
}

// WithCompletion sets the marker an execution prints when it finishes
// normally.
func WithCompletion(re *regexp.Regexp) Option {
	return func(a *Action) {
		a.completion = re
	}
}

// WithErrorPatterns adds patterns that classify the output as a failure.
func WithErrorPatterns(res ...*regexp.Regexp) Option {
	return func(a *Action) {
		a.errorPatterns = append(a.errorPatterns, res...)
	}
}

// WithTimeout sets how long the action may take. Zero selects
// DefaultTimeout and a negative value disables the timeout.
func WithTimeout(d time.Duration) Option {
	return func(a *Action) {
		a.timeout = d
	}
}

// WithPollInterval sets how often an execution inspects its log.
func WithPollInterval(d time.Duration) Option {
	return func(a *Action) {
		if d > 0 {
			a.pollInterval = d
		}
	}
}

// WithMessages sets the messages logged when the action succeeds or fails.
// "{{host}}" and "{{action}}" are replaced by the target and action names.
func WithMessages(success, failure string) Option {
	return func(a *Action) {
		a.successMsg = success
		a.errorMsg = failure
	}
}

// WithBehavior replaces the default behavior.
func WithBehavior(b Behavior) Option {
	return func(a *Action) {
		a.behavior = b
	}
}

// AsExecution marks the action as a long-running process launched detached
// from the session.
func AsExecution() Option {
	return func(a *Action) {
		a.execution = true
	}
}
