// Package sessiontest provides an in-memory session.Dialer for tests. Every
// command sent to a fake session is recorded with its host and timestamps, and
// uploads land in an in-memory file system.
package sessiontest

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/unicesi/amelia-sub000/internal/session"
)

// Prompt is the prompt pattern reported by fake sessions.
var Prompt = regexp.MustCompile(`\$ $`)

// Command is one line received by a fake session.
type Command struct {
	Host  string
	Line  string
	Start time.Time
	End   time.Time
}

// Upload is one file written through a fake transfer handle.
type Upload struct {
	Host   string
	Local  string
	Remote string
}

// Responder computes the output of a command sent to host. Returning an
// error fails SendAndAwait with it.
type Responder func(host, line string) (string, error)

// DefaultResponse answers exit-status checks with "0", detached launches with
// a fake PID and everything else with an empty line.
func DefaultResponse(host, line string) (string, error) {
	switch {
	case line == session.ExitCheck:
		return session.ExitAnswer(0), nil
	case strings.HasPrefix(line, "nohup "):
		return "4242", nil
	}
	return "", nil
}

// Dialer is a fake session.Dialer. The zero value is ready to use.
type Dialer struct {
	// Respond computes command output. Nil means DefaultResponse.
	Respond Responder
	// Delay is how long every command takes.
	Delay time.Duration
	// SessionErr and TransferErr, keyed by host, fail the matching open.
	SessionErr  map[string]error
	TransferErr map[string]error

	mu            sync.Mutex
	commands      []Command
	uploads       []Upload
	dirs          map[string]map[string]bool
	files         map[string]map[string]bool
	sessionOpens  int
	transferOpens int
	closes        int
}

// OpenSession implements session.Dialer.
func (d *Dialer) OpenSession(ctx context.Context, ep session.Endpoint) (session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := d.SessionErr[ep.Host]; err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.sessionOpens++
	d.mu.Unlock()
	return &Session{d: d, host: ep.Host}, nil
}

// OpenTransfer implements session.Dialer.
func (d *Dialer) OpenTransfer(ctx context.Context, ep session.Endpoint) (session.Transfer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := d.TransferErr[ep.Host]; err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.transferOpens++
	d.mu.Unlock()
	return &Transfer{d: d, host: ep.Host}, nil
}

// Commands returns every recorded command, in the order they were received.
func (d *Dialer) Commands() []Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Command(nil), d.commands...)
}

// Lines returns the recorded command lines sent to host.
func (d *Dialer) Lines(host string) []string {
	var out []string
	for _, c := range d.Commands() {
		if c.Host == host {
			out = append(out, c.Line)
		}
	}
	return out
}

// Uploads returns every recorded upload.
func (d *Dialer) Uploads() []Upload {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Upload(nil), d.uploads...)
}

// Mkdir pre-creates a remote directory on host.
func (d *Dialer) Mkdir(host, dir string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mkdirLocked(host, dir)
}

// Dirs returns the remote directories that exist on host, sorted.
func (d *Dialer) Dirs(host string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for dir := range d.dirs[host] {
		out = append(out, dir)
	}
	sort.Strings(out)
	return out
}

// Exists reports whether a remote file was uploaded to host.
func (d *Dialer) Exists(host, file string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.files[host][file]
}

// Opens returns how many sessions and transfer handles were opened.
func (d *Dialer) Opens() (sessions, transfers int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessionOpens, d.transferOpens
}

// Closes returns how many handles were closed.
func (d *Dialer) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

func (d *Dialer) mkdirLocked(host, dir string) {
	if d.dirs == nil {
		d.dirs = make(map[string]map[string]bool)
	}
	if d.dirs[host] == nil {
		d.dirs[host] = make(map[string]bool)
	}
	for dir != "/" && dir != "." && dir != "" {
		d.dirs[host][dir] = true
		dir = path.Dir(dir)
	}
}

// Session is a fake session.Session.
type Session struct {
	d      *Dialer
	host   string
	mu     sync.Mutex
	closed bool
}

// SendAndAwait records command and answers it through the dialer's Responder.
func (s *Session) SendAndAwait(ctx context.Context, command string, _ *regexp.Regexp, timeout time.Duration) (string, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return "", errors.New("session closed")
	}

	start := time.Now()
	if s.d.Delay > 0 {
		wait := s.d.Delay
		if timeout > 0 && timeout < wait {
			wait = timeout
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		if wait < s.d.Delay {
			return "", session.ErrTimeout
		}
	} else if err := ctx.Err(); err != nil {
		return "", err
	}

	respond := s.d.Respond
	if respond == nil {
		respond = DefaultResponse
	}
	out, err := respond(s.host, command)

	s.d.mu.Lock()
	s.d.commands = append(s.d.commands, Command{Host: s.host, Line: command, Start: start, End: time.Now()})
	s.d.mu.Unlock()
	return out, err
}

// Prompt implements session.Session.
func (s *Session) Prompt() *regexp.Regexp {
	return Prompt
}

// Close implements session.Session. Closing twice is an error so that tests
// catch double closes.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("session to %s already closed", s.host)
	}
	s.closed = true
	s.d.mu.Lock()
	s.d.closes++
	s.d.mu.Unlock()
	return nil
}

// Transfer is a fake session.Transfer.
type Transfer struct {
	d      *Dialer
	host   string
	mu     sync.Mutex
	closed bool
}

// Upload records the upload and creates the remote parent directories.
func (t *Transfer) Upload(ctx context.Context, local, remote string, overwrite bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	if t.d.files == nil {
		t.d.files = make(map[string]map[string]bool)
	}
	if t.d.files[t.host] == nil {
		t.d.files[t.host] = make(map[string]bool)
	}
	if t.d.files[t.host][remote] && !overwrite {
		return nil
	}
	t.d.mkdirLocked(t.host, path.Dir(remote))
	t.d.files[t.host][remote] = true
	t.d.uploads = append(t.d.uploads, Upload{Host: t.host, Local: local, Remote: remote})
	return nil
}

// Close implements session.Transfer.
func (t *Transfer) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("transfer to %s already closed", t.host)
	}
	t.closed = true
	t.d.mu.Lock()
	t.d.closes++
	t.d.mu.Unlock()
	return nil
}
