// Package target models a remote host: its credentials, its lazily opened
// session and transfer handles, the serial queue every unit addressed to it
// runs on, and the long-running executions started on it.
package target

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/unicesi/amelia-sub000/internal/ctxlog"
	"github.com/unicesi/amelia-sub000/internal/queue"
	"github.com/unicesi/amelia-sub000/internal/session"
)

// ErrNotOpen is returned when a handle is requested before Open.
var ErrNotOpen = errors.New("target is not open")

// Execution is a detached remote process started on a target.
type Execution struct {
	Action    string
	PID       int
	Signature string
	Log       string
	StartedAt time.Time
}

// Target is a remote host. It is shared by reference between every action
// that runs on it and is safe for concurrent use.
type Target struct {
	Identifier   string
	Hostname     string
	SessionPort  int
	TransferPort int
	User         string
	Password     string

	mu         sync.Mutex
	lane       *queue.Queue
	session    session.Session
	transfer   session.Transfer
	executions []Execution
}

// New creates a target with the standard SSH port for both handles.
func New(hostname, user, password string) *Target {
	return &Target{
		Identifier:   hostname,
		Hostname:     hostname,
		SessionPort:  22,
		TransferPort: 22,
		User:         user,
		Password:     password,
	}
}

// Name returns the identifier of the target, or its hostname when it has
// none.
func (t *Target) Name() string {
	if t.Identifier != "" {
		return t.Identifier
	}
	return t.Hostname
}

func (t *Target) String() string {
	return fmt.Sprintf("%s@%s", t.User, t.Name())
}

// SessionEndpoint returns the address of the shell service.
func (t *Target) SessionEndpoint() session.Endpoint {
	return session.Endpoint{Host: t.Hostname, Port: t.SessionPort, User: t.User, Password: t.Password}
}

// TransferEndpoint returns the address of the file-transfer service.
func (t *Target) TransferEndpoint() session.Endpoint {
	return session.Endpoint{Host: t.Hostname, Port: t.TransferPort, User: t.User, Password: t.Password}
}

// Submit runs fn on the target's serial queue. Work submitted to the same
// target never overlaps and runs in submission order.
func (t *Target) Submit(ctx context.Context, fn func(context.Context) error) error {
	t.mu.Lock()
	if t.lane == nil {
		t.lane = queue.New(t.Name())
	}
	lane := t.lane
	t.mu.Unlock()
	return lane.Submit(ctx, fn)
}

// ShutdownQueue stops the target's queue, releasing pending work with
// queue.ErrShutdown. A later Open starts a fresh queue.
func (t *Target) ShutdownQueue() {
	t.mu.Lock()
	lane := t.lane
	t.mu.Unlock()
	if lane != nil {
		lane.Shutdown()
	}
}

// Open opens the session and transfer handles that are not open yet. Handles
// that are already open are left untouched.
func (t *Target) Open(ctx context.Context, dialer session.Dialer) error {
	logger := ctxlog.FromContext(ctx).With("target", t.Name())
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.lane == nil || t.lane.Closed() {
		t.lane = queue.New(t.Name())
	}
	if t.session == nil {
		s, err := dialer.OpenSession(ctx, t.SessionEndpoint())
		if err != nil {
			return fmt.Errorf("failed to open session on %s: %w", t.Name(), err)
		}
		t.session = s
		logger.Debug("Session opened.")
	}
	if t.transfer == nil {
		tr, err := dialer.OpenTransfer(ctx, t.TransferEndpoint())
		if err != nil {
			return fmt.Errorf("failed to open transfer on %s: %w", t.Name(), err)
		}
		t.transfer = tr
		logger.Debug("Transfer opened.")
	}
	return nil
}

// IsOpen reports whether the session handle is open.
func (t *Target) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session != nil
}

// Session returns the open shell session.
func (t *Target) Session() (session.Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session == nil {
		return nil, fmt.Errorf("%w: %s has no session", ErrNotOpen, t.Name())
	}
	return t.session, nil
}

// Transfer returns the open transfer handle.
func (t *Target) Transfer() (session.Transfer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.transfer == nil {
		return nil, fmt.Errorf("%w: %s has no transfer handle", ErrNotOpen, t.Name())
	}
	return t.transfer, nil
}

// Close closes both handles. Closing a handle that was never opened, or was
// already closed, is a no-op.
func (t *Target) Close() error {
	t.mu.Lock()
	s, tr := t.session, t.transfer
	t.session, t.transfer = nil, nil
	t.mu.Unlock()

	var errs []error
	if s != nil {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing session on %s: %w", t.Name(), err))
		}
	}
	if tr != nil {
		if err := tr.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing transfer on %s: %w", t.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// RecordExecution remembers a started execution.
func (t *Target) RecordExecution(e Execution) {
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.executions = append(t.executions, e)
}

// Executions returns the recorded executions, most recently started first.
func (t *Target) Executions() []Execution {
	t.mu.Lock()
	out := make([]Execution, 0, len(t.executions))
	// Records are appended in start order, so walking them backwards breaks
	// timestamp ties in favour of the later one.
	for i := len(t.executions) - 1; i >= 0; i-- {
		out = append(out, t.executions[i])
	}
	t.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// ForgetExecution drops every record of the execution with the given PID.
func (t *Target) ForgetExecution(pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.executions[:0]
	for _, e := range t.executions {
		if e.PID != pid {
			kept = append(kept, e)
		}
	}
	t.executions = kept
}
