package action

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/unicesi/amelia-sub000/internal/ctxlog"
	"github.com/unicesi/amelia-sub000/internal/session"
	"github.com/unicesi/amelia-sub000/internal/target"
)

// stopTimeout bounds the commands that stop a detached process.
const stopTimeout = 30 * time.Second

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// runCommand sends the command line, waits for the release pattern and then
// reads the exit status of the command.
func (a *Action) runCommand(ctx context.Context, t *target.Target, prompt *regexp.Regexp) (string, error) {
	s, err := t.Session()
	if err != nil {
		return "", err
	}
	release := a.release
	if release == nil {
		release = prompt
	}

	out, err := s.SendAndAwait(ctx, a.CommandLine(), release, a.Timeout())
	if err != nil {
		return out, err
	}
	if p := a.matchError(out); p != nil {
		return out, fmt.Errorf("%w %q: %s", ErrErrorPattern, p.String(), lastLine(out))
	}

	code, err := exitStatus(ctx, s, prompt, a.Timeout())
	if err != nil {
		return out, err
	}
	if code != 0 {
		return out, fmt.Errorf("%w %d: %s", ErrExitStatus, code, lastLine(out))
	}
	return out, nil
}

// launch starts the command detached from the session, records it on the
// target and waits for its running or completion marker. Without either
// marker the execution is done as soon as it is launched.
func (a *Action) launch(ctx context.Context, t *target.Target, prompt *regexp.Regexp) (string, error) {
	logger := ctxlog.FromContext(ctx).With("action", a.id, "target", t.Name())
	s, err := t.Session()
	if err != nil {
		return "", err
	}

	started := time.Now()
	logFile := fmt.Sprintf("/tmp/amelia-%s-%d.log", unsafeFileChars.ReplaceAllString(a.id, "_"), started.UnixNano())
	out, err := s.SendAndAwait(ctx, fmt.Sprintf("nohup %s > %s 2>&1 & echo $!", a.CommandLine(), logFile), prompt, a.Timeout())
	if err != nil {
		return out, err
	}
	pid, err := strconv.Atoi(lastLine(out))
	if err != nil {
		return out, fmt.Errorf("could not read pid of launched process from %q", lastLine(out))
	}
	exec := target.Execution{
		Action:    a.id,
		PID:       pid,
		Signature: a.CommandLine(),
		Log:       logFile,
		StartedAt: started,
	}
	t.RecordExecution(exec)
	logger.Debug("Execution launched.", "pid", pid, "log", logFile)

	if a.release == nil && a.completion == nil {
		return out, nil
	}

	fail := func(out string, err error) (string, error) {
		if stopErr := StopExecution(ctx, t, exec); stopErr != nil {
			logger.Warn("Could not stop failed execution.", "pid", pid, "error", stopErr)
		}
		return out, err
	}

	timeout := a.Timeout()
	for {
		out, err := s.SendAndAwait(ctx, "cat "+logFile, prompt, a.pollTimeout(timeout))
		if err != nil {
			if ctx.Err() != nil {
				return out, err
			}
			return fail(out, err)
		}
		if p := a.matchError(out); p != nil {
			return fail(out, fmt.Errorf("%w %q: %s", ErrErrorPattern, p.String(), lastLine(out)))
		}
		if a.release != nil && a.release.MatchString(out) {
			logger.Debug("Execution is running.", "pid", pid)
			return out, nil
		}
		if a.completion != nil && a.completion.MatchString(out) {
			logger.Debug("Execution completed.", "pid", pid)
			t.ForgetExecution(pid)
			return out, nil
		}

		alive, err := s.SendAndAwait(ctx, fmt.Sprintf("kill -0 %d 2>/dev/null; echo $?", pid), prompt, a.pollTimeout(timeout))
		if err != nil {
			if ctx.Err() != nil {
				return out, err
			}
			return fail(out, err)
		}
		if lastLine(alive) != "0" {
			return fail(out, fmt.Errorf("%w (pid %d): %s", ErrTerminated, pid, lastLine(out)))
		}

		if timeout > 0 && time.Since(started) >= timeout {
			return fail(out, fmt.Errorf("%w after %s", session.ErrTimeout, timeout))
		}
		select {
		case <-time.After(a.pollInterval):
		case <-ctx.Done():
			return out, ctx.Err()
		}
	}
}

func (a *Action) pollTimeout(timeout time.Duration) time.Duration {
	if timeout > 0 && timeout < stopTimeout {
		return timeout
	}
	return stopTimeout
}

// StopExecution terminates a detached process and every process sharing its
// launch signature, then forgets it. It runs even when ctx is already
// cancelled, bounded by its own timeout.
func StopExecution(ctx context.Context, t *target.Target, e target.Execution) error {
	s, err := t.Session()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()

	cmd := fmt.Sprintf("kill %d 2>/dev/null; pkill -f %s 2>/dev/null; true", e.PID, shellQuote(e.Signature))
	if _, err := s.SendAndAwait(ctx, cmd, s.Prompt(), stopTimeout); err != nil {
		return fmt.Errorf("failed to stop %s (pid %d) on %s: %w", e.Action, e.PID, t.Name(), err)
	}
	t.ForgetExecution(e.PID)
	ctxlog.FromContext(ctx).Info("🔥 Execution stopped", "action", e.Action, "pid", e.PID, "target", t.Name())
	return nil
}

// exitStatus asks the shell for the exit status of the last command.
func exitStatus(ctx context.Context, s session.Session, prompt *regexp.Regexp, timeout time.Duration) (int, error) {
	out, err := s.SendAndAwait(ctx, session.ExitCheck, session.ExitRelease(prompt), timeout)
	if err != nil {
		return 0, fmt.Errorf("failed to read exit status: %w", err)
	}
	return session.ParseExit(out)
}

func lastLine(out string) string {
	out = strings.TrimSpace(out)
	if i := strings.LastIndexByte(out, '\n'); i >= 0 {
		return strings.TrimSpace(out[i+1:])
	}
	return out
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
