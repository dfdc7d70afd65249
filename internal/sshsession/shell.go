package sshsession

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/unicesi/amelia-sub000/internal/session"
	"golang.org/x/crypto/ssh"
)

// promptMarker is installed as PS1 so that the end of every command's output
// can be recognised. The setup line splits it in two so the echo of that line
// never matches.
const promptMarker = "amelia-prompt$ "

var promptPattern = regexp.MustCompile(`amelia-prompt\$ $`)

const setupCommand = `export PS1='amelia''-prompt$ ' PS2=''; stty -echo 2>/dev/null; unset PROMPT_COMMAND`

// Shell is an interactive remote shell.
type Shell struct {
	client *ssh.Client
	sess   *ssh.Session
	stdin  io.WriteCloser

	chunks chan []byte
	done   chan struct{}

	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

var _ session.Session = (*Shell)(nil)

func startShell(ctx context.Context, client *ssh.Client, timeout time.Duration) (*Shell, error) {
	sess, err := client.NewSession()
	if err != nil {
		return nil, err
	}
	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty("dumb", 40, 400, modes); err != nil {
		sess.Close()
		return nil, fmt.Errorf("pty request failed: %w", err)
	}
	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return nil, err
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return nil, err
	}
	if err := sess.Shell(); err != nil {
		sess.Close()
		return nil, err
	}

	sh := &Shell{
		client: client,
		sess:   sess,
		stdin:  stdin,
		chunks: make(chan []byte, 64),
		done:   make(chan struct{}),
	}
	go sh.read(stdout)

	if _, err := sh.SendAndAwait(ctx, setupCommand, promptPattern, timeout); err != nil {
		sh.Close()
		return nil, fmt.Errorf("failed to install prompt: %w", err)
	}
	return sh, nil
}

// Prompt implements session.Session.
func (s *Shell) Prompt() *regexp.Regexp {
	return promptPattern
}

// SendAndAwait implements session.Session. Output left over from a previous
// command is discarded before command is sent.
func (s *Shell) SendAndAwait(ctx context.Context, command string, release *regexp.Regexp, timeout time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if release == nil {
		release = promptPattern
	}
	s.discard()
	if _, err := io.WriteString(s.stdin, command+"\n"); err != nil {
		return "", fmt.Errorf("failed to send command: %w", err)
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	var buf bytes.Buffer
	for {
		select {
		case chunk, ok := <-s.chunks:
			if !ok {
				return clean(buf.String()), fmt.Errorf("shell closed while waiting for output: %w", io.EOF)
			}
			buf.Write(chunk)
			if release.Match(buf.Bytes()) {
				return clean(buf.String()), nil
			}
		case <-expired:
			return clean(buf.String()), fmt.Errorf("%w after %s", session.ErrTimeout, timeout)
		case <-ctx.Done():
			return clean(buf.String()), ctx.Err()
		}
	}
}

// Close ends the shell and the underlying connection.
func (s *Shell) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		var errs []error
		if err := s.sess.Close(); err != nil && !errors.Is(err, io.EOF) {
			errs = append(errs, err)
		}
		if err := s.client.Close(); err != nil {
			errs = append(errs, err)
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

func (s *Shell) read(r io.Reader) {
	defer close(s.chunks)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.chunks <- chunk:
			case <-s.done:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Shell) discard() {
	for {
		select {
		case _, ok := <-s.chunks:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// clean normalises terminal line endings and strips the trailing prompt.
func clean(out string) string {
	out = strings.ReplaceAll(out, "\r\n", "\n")
	out = strings.ReplaceAll(out, "\r", "")
	out = strings.TrimSuffix(out, promptMarker)
	return strings.TrimSpace(out)
}
