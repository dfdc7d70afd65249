// Package notify forwards deployment progress to a socket.io endpoint, so a
// dashboard can follow the units of a running deployment as they start and
// finish.
package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"

	"github.com/unicesi/amelia-sub000/internal/ctxlog"
	"github.com/unicesi/amelia-sub000/internal/dag"
)

// UnitEvent is the socket.io event every unit event is emitted as.
const UnitEvent = "amelia:unit"

// ConnectTimeout bounds the wait for the connection to be established.
const ConnectTimeout = 15 * time.Second

// Option configures Dial.
type Option func(*options)

type options struct {
	namespace string
	insecure  bool
}

// WithNamespace selects the socket.io namespace. The default is "/".
func WithNamespace(ns string) Option {
	return func(o *options) {
		o.namespace = ns
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
func WithInsecureSkipVerify(skip bool) Option {
	return func(o *options) {
		o.insecure = skip
	}
}

// Notifier emits unit events over a socket.io connection.
type Notifier struct {
	emit       func(event string, args ...any)
	disconnect func()
}

// Dial connects to the socket.io server at rawURL and waits until the
// connection is established.
func Dial(ctx context.Context, rawURL string, opts ...Option) (*Notifier, error) {
	o := options{namespace: "/"}
	for _, opt := range opts {
		opt(&o)
	}
	logger := ctxlog.FromContext(ctx).With("url", rawURL)

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid notification URL %q: scheme and host are required", rawURL)
	}

	sopts := socket.DefaultOptions()
	if parsedURL.Path != "" {
		sopts.SetPath(parsedURL.Path)
	}
	if o.insecure {
		logger.Warn("Skipping TLS certificate verification")
		sopts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	sopts.SetTransports(types.NewSet(transports.WebSocket))

	connectChan := make(chan error, 1)
	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, sopts)
	io := manager.Socket(o.namespace, sopts)

	io.Once(types.EventName("connect"), func(...any) {
		select {
		case connectChan <- nil:
		default:
		}
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		err := fmt.Errorf("connect error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		select {
		case connectChan <- err:
		default:
		}
	})

	logger.Debug("Connecting to notification endpoint...")
	io.Connect()

	select {
	case err := <-connectChan:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("context cancelled while waiting for socket.io connection: %w", ctx.Err())
	case <-time.After(ConnectTimeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %s waiting for socket.io connection", ConnectTimeout)
	}
	logger.Info("📡 Connected to notification endpoint", "sid", io.Id())

	return &Notifier{
		emit:       func(event string, args ...any) { io.Emit(event, args...) },
		disconnect: func() { io.Disconnect() },
	}, nil
}

// Payload converts e into the message emitted for it.
func Payload(e dag.Event) map[string]any {
	p := map[string]any{
		"graph":      e.Graph,
		"node":       e.Node,
		"lane":       e.Lane,
		"kind":       e.Kind.String(),
		"at":         e.At.UTC().Format(time.RFC3339Nano),
		"elapsed_ms": e.Elapsed.Milliseconds(),
	}
	if e.Err != nil {
		p["error"] = e.Err.Error()
	}
	return p
}

// Observe emits e. It can be passed directly as a graph observer.
func (n *Notifier) Observe(e dag.Event) {
	n.emit(UnitEvent, Payload(e))
}

// Close disconnects from the server.
func (n *Notifier) Close() error {
	n.disconnect()
	return nil
}
