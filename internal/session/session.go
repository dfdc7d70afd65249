// Package session defines the contracts the deployment engine needs from a
// remote host: an interactive shell session that can send a line and wait for
// a pattern, and a file-transfer handle. It abstracts away the transport so
// the scheduler can be exercised without a network.
package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// ErrTimeout is returned by SendAndAwait when the release pattern does not
// show up in the output before the timeout elapses.
var ErrTimeout = errors.New("timed out waiting for release pattern")

// ExitCheck is sent after a command to read its exit status. The shell answers
// with ExitMarker followed by the status, which a prompt arriving late after
// a custom release pattern cannot be mistaken for.
const ExitCheck = "echo " + ExitMarker + "$?"

// ExitMarker prefixes the answer to ExitCheck.
const ExitMarker = "amelia-exit:"

var exitPattern = regexp.MustCompile(regexp.QuoteMeta(ExitMarker) + `(\d+)`)

// ExitAnswer is the output of ExitCheck for code.
func ExitAnswer(code int) string {
	return ExitMarker + strconv.Itoa(code)
}

// ExitRelease waits for the answer to ExitCheck and the prompt that follows it.
func ExitRelease(prompt *regexp.Regexp) *regexp.Regexp {
	return regexp.MustCompile(`(?s)` + exitPattern.String() + `\r?\n.*(?:` + prompt.String() + `)`)
}

// ParseExit returns the status reported in the output of ExitCheck. Output
// left over from the previous command is ignored.
func ParseExit(out string) (int, error) {
	m := exitPattern.FindAllStringSubmatch(out, -1)
	if len(m) == 0 {
		return 0, fmt.Errorf("unexpected exit status output %q", out)
	}
	return strconv.Atoi(m[len(m)-1][1])
}

// Endpoint is the address and credentials of one remote service.
type Endpoint struct {
	Host     string
	Port     int
	User     string
	Password string
}

// Address returns the "host:port" form of the endpoint.
func (e Endpoint) Address() string {
	return e.Host + ":" + strconv.Itoa(e.Port)
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s@%s", e.User, e.Address())
}

// Session is an open interactive shell on a remote host.
type Session interface {
	// SendAndAwait writes command followed by a newline, then reads output
	// until release matches it. A nil release waits for the shell prompt.
	// A timeout of zero or less waits until ctx is done.
	SendAndAwait(ctx context.Context, command string, release *regexp.Regexp, timeout time.Duration) (string, error)
	// Prompt returns the pattern that matches the shell prompt.
	Prompt() *regexp.Regexp
	Close() error
}

// Transfer is an open file-transfer handle to a remote host.
type Transfer interface {
	// Upload copies local to remote. Directories are copied recursively and
	// missing remote parent directories are created. Existing remote files
	// are only replaced when overwrite is set.
	Upload(ctx context.Context, local, remote string, overwrite bool) error
	Close() error
}

// Dialer opens sessions and transfer handles.
type Dialer interface {
	OpenSession(ctx context.Context, ep Endpoint) (Session, error)
	OpenTransfer(ctx context.Context, ep Endpoint) (Transfer, error)
}
