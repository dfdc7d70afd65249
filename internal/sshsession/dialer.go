// Package sshsession implements session.Dialer over SSH: interactive shells
// through golang.org/x/crypto/ssh and file transfer through SFTP.
package sshsession

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/unicesi/amelia-sub000/internal/ctxlog"
	"github.com/unicesi/amelia-sub000/internal/session"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultDialTimeout bounds connection establishment when no timeout is set.
const DefaultDialTimeout = 30 * time.Second

// Option configures a Dialer.
type Option func(*Dialer)

// WithKnownHosts verifies host keys against an OpenSSH known_hosts file.
// Without it host keys are not checked.
func WithKnownHosts(path string) Option {
	return func(d *Dialer) {
		d.knownHosts = path
	}
}

// WithDialTimeout sets the connection timeout.
func WithDialTimeout(timeout time.Duration) Option {
	return func(d *Dialer) {
		d.dialTimeout = timeout
	}
}

// Dialer opens SSH shells and SFTP handles.
type Dialer struct {
	knownHosts  string
	dialTimeout time.Duration
}

var _ session.Dialer = (*Dialer)(nil)

// NewDialer creates a Dialer.
func NewDialer(opts ...Option) *Dialer {
	d := &Dialer{dialTimeout: DefaultDialTimeout}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// OpenSession dials ep and starts an interactive shell on it.
func (d *Dialer) OpenSession(ctx context.Context, ep session.Endpoint) (session.Session, error) {
	client, err := d.dial(ctx, ep)
	if err != nil {
		return nil, err
	}
	sh, err := startShell(ctx, client, d.dialTimeout)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to start shell on %s: %w", ep, err)
	}
	ctxlog.FromContext(ctx).Debug("SSH shell opened.", "endpoint", ep.String())
	return sh, nil
}

// OpenTransfer dials ep and starts an SFTP subsystem on it.
func (d *Dialer) OpenTransfer(ctx context.Context, ep session.Endpoint) (session.Transfer, error) {
	client, err := d.dial(ctx, ep)
	if err != nil {
		return nil, err
	}
	tr, err := newTransfer(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to start sftp on %s: %w", ep, err)
	}
	ctxlog.FromContext(ctx).Debug("SFTP transfer opened.", "endpoint", ep.String())
	return tr, nil
}

func (d *Dialer) clientConfig(ctx context.Context, ep session.Endpoint) (*ssh.ClientConfig, error) {
	hostKey := ssh.InsecureIgnoreHostKey()
	if d.knownHosts != "" {
		cb, err := knownhosts.New(d.knownHosts)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts %s: %w", d.knownHosts, err)
		}
		hostKey = cb
	} else {
		ctxlog.FromContext(ctx).Debug("Host key verification disabled.", "endpoint", ep.String())
	}

	password := ep.Password
	return &ssh.ClientConfig{
		User: ep.User,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: hostKey,
		Timeout:         d.dialTimeout,
	}, nil
}

func (d *Dialer) dial(ctx context.Context, ep session.Endpoint) (*ssh.Client, error) {
	cfg, err := d.clientConfig(ctx, ep)
	if err != nil {
		return nil, err
	}
	nd := net.Dialer{Timeout: d.dialTimeout}
	conn, err := nd.DialContext(ctx, "tcp", ep.Address())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", ep, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, ep.Address(), cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", ep, err)
	}
	return ssh.NewClient(c, chans, reqs), nil
}
