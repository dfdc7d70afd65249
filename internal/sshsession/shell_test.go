package sshsession

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unicesi/amelia-sub000/internal/session"
)

func TestClean(t *testing.T) {
	assert.Equal(t, "0", clean("0\r\namelia-prompt$ "))
	assert.Equal(t, "line one\nline two", clean("line one\r\nline two\r\n"+promptMarker))
	assert.Equal(t, "", clean(promptMarker))
}

func TestPromptPattern(t *testing.T) {
	assert.True(t, promptPattern.MatchString("output\r\namelia-prompt$ "))
	// The echo of the setup line must not be taken for the prompt.
	assert.False(t, promptPattern.MatchString(setupCommand))
	assert.False(t, promptPattern.MatchString("amelia-prompt$ still running"))
}

func TestNewDialer(t *testing.T) {
	d := NewDialer()
	assert.Equal(t, DefaultDialTimeout, d.dialTimeout)

	d = NewDialer(WithDialTimeout(time.Second), WithKnownHosts("/etc/ssh/known"))
	assert.Equal(t, time.Second, d.dialTimeout)
	assert.Equal(t, "/etc/ssh/known", d.knownHosts)
}

func TestClientConfig(t *testing.T) {
	ep := session.Endpoint{Host: "localhost", Port: 22, User: "deploy", Password: "secret"}

	cfg, err := NewDialer().clientConfig(context.Background(), ep)
	require.NoError(t, err)
	assert.Equal(t, "deploy", cfg.User)
	assert.Len(t, cfg.Auth, 2)

	_, err = NewDialer(WithKnownHosts(filepath.Join(t.TempDir(), "missing"))).clientConfig(context.Background(), ep)
	assert.ErrorContains(t, err, "failed to load known hosts")

	known := filepath.Join(t.TempDir(), "known_hosts")
	require.NoError(t, os.WriteFile(known, nil, 0o600))
	cfg, err = NewDialer(WithKnownHosts(known)).clientConfig(context.Background(), ep)
	require.NoError(t, err)
	assert.NotNil(t, cfg.HostKeyCallback)
}

func TestOpenSession_ConnectionRefused(t *testing.T) {
	d := NewDialer(WithDialTimeout(time.Second))
	// Port 1 on localhost is not expected to run an SSH server.
	_, err := d.OpenSession(context.Background(), session.Endpoint{Host: "127.0.0.1", Port: 1, User: "u"})
	assert.ErrorContains(t, err, "failed to connect")
}

// terminal plays the remote side of a shell: every line written to stdin is
// answered with the chunks returned by reply, in order.
type terminal struct {
	mu     sync.Mutex
	lines  []string
	reply  func(line string) []string
	chunks chan []byte
}

func (tm *terminal) Write(p []byte) (int, error) {
	line := strings.TrimSuffix(string(p), "\n")
	tm.mu.Lock()
	tm.lines = append(tm.lines, line)
	tm.mu.Unlock()
	if tm.reply != nil {
		for _, c := range tm.reply(line) {
			tm.chunks <- []byte(c)
		}
	}
	return len(p), nil
}

func (tm *terminal) Close() error { return nil }

func (tm *terminal) Lines() []string {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return append([]string(nil), tm.lines...)
}

func scriptedShell(reply func(line string) []string) (*Shell, *terminal) {
	tm := &terminal{reply: reply, chunks: make(chan []byte, 64)}
	return &Shell{stdin: tm, chunks: tm.chunks, done: make(chan struct{})}, tm
}

func TestSendAndAwait_ReleaseAcrossChunks(t *testing.T) {
	sh, tm := scriptedShell(func(line string) []string {
		return []string{"compiling...\r\n", "BUILD SUC", "CESS\r\n", promptMarker}
	})

	out, err := sh.SendAndAwait(context.Background(), "mvn install", nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "compiling...\nBUILD SUCCESS", out)
	assert.Equal(t, []string{"mvn install"}, tm.Lines())
}

func TestSendAndAwait_LatePromptAfterCustomRelease(t *testing.T) {
	// The prompt of the first command shows up only after the exit-status check was
	// sent, ahead of the answer to it.
	sh, _ := scriptedShell(func(line string) []string {
		switch line {
		case "mvn install":
			return []string{"[INFO] BUILD SUCCESS\r\n"}
		case session.ExitCheck:
			return []string{promptMarker, session.ExitAnswer(0) + "\r\n", promptMarker}
		}
		return []string{promptMarker}
	})

	out, err := sh.SendAndAwait(context.Background(), "mvn install", regexp.MustCompile(`BUILD SUCCESS`), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "[INFO] BUILD SUCCESS", out)

	out, err = sh.SendAndAwait(context.Background(), session.ExitCheck, session.ExitRelease(promptPattern), time.Second)
	require.NoError(t, err)
	code, err := session.ParseExit(out)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}

func TestSendAndAwait_DiscardsLeftoverOutput(t *testing.T) {
	sh, _ := scriptedShell(func(line string) []string {
		return []string{"/srv/app\r\n", promptMarker}
	})
	sh.chunks <- []byte("noise from the previous command\r\n")

	out, err := sh.SendAndAwait(context.Background(), "pwd", nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "/srv/app", out)
}

func TestSendAndAwait_Timeout(t *testing.T) {
	sh, _ := scriptedShell(func(line string) []string {
		return []string{"waiting for server\r\n"}
	})

	out, err := sh.SendAndAwait(context.Background(), "./start.sh", regexp.MustCompile(`started`), 30*time.Millisecond)
	assert.ErrorIs(t, err, session.ErrTimeout)
	assert.Equal(t, "waiting for server", out)
}

func TestSendAndAwait_ContextCancelled(t *testing.T) {
	sh, _ := scriptedShell(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := sh.SendAndAwait(ctx, "sleep 100", nil, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSendAndAwait_ShellClosed(t *testing.T) {
	sh, tm := scriptedShell(func(line string) []string {
		return []string{"partial"}
	})
	go func() {
		time.Sleep(10 * time.Millisecond)
		close(tm.chunks)
	}()

	out, err := sh.SendAndAwait(context.Background(), "exit", nil, time.Second)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "partial", out)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }
func (failingWriter) Close() error              { return nil }

func TestSendAndAwait_WriteFails(t *testing.T) {
	sh := &Shell{stdin: failingWriter{}, chunks: make(chan []byte), done: make(chan struct{})}
	_, err := sh.SendAndAwait(context.Background(), "ls", nil, time.Second)
	assert.ErrorContains(t, err, "failed to send command")
}
