// Package http_request registers the "http" action kind: a readiness probe
// sent from the controlling machine to a service deployed on the target. It
// succeeds once the service answers with the expected status.
package http_request

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/unicesi/amelia-sub000/internal/action"
	"github.com/unicesi/amelia-sub000/internal/config"
	"github.com/unicesi/amelia-sub000/internal/ctxlog"
	"github.com/unicesi/amelia-sub000/internal/registry"
	"github.com/unicesi/amelia-sub000/internal/target"
)

// DefaultInterval is the wait between two attempts.
const DefaultInterval = time.Second

// ErrUnexpectedStatus is returned when the service never answered with the
// expected status before the action timed out.
var ErrUnexpectedStatus = errors.New("unexpected HTTP status")

// Module implements the registry.Module interface for this package.
type Module struct {
	// Client sends the requests. Nil means http.DefaultClient.
	Client *http.Client
}

// Input holds the parameters of an "http" action.
type Input struct {
	URL      string
	Method   string
	Status   int
	Interval time.Duration
}

func parseInput(params map[string]string) (*Input, error) {
	in := &Input{
		URL:      params["url"],
		Method:   http.MethodGet,
		Status:   http.StatusOK,
		Interval: DefaultInterval,
	}
	if m := params["method"]; m != "" {
		in.Method = strings.ToUpper(m)
	}
	if s := params["status"]; s != "" {
		code, err := strconv.Atoi(s)
		if err != nil || code < 100 || code > 599 {
			return nil, fmt.Errorf("invalid status %q", s)
		}
		in.Status = code
	}
	if s := params["interval"]; s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid interval %q", s)
		}
		in.Interval = d
	}
	return in, nil
}

// Build creates an "http" action. "{{host}}" in the URL is replaced by the
// target's hostname.
func (m *Module) Build(decl *config.Action, common []action.Option) (*action.Action, error) {
	in, err := parseInput(decl.Params)
	if err != nil {
		return nil, err
	}
	client := m.Client
	if client == nil {
		client = http.DefaultClient
	}

	var a *action.Action
	probe := func(ctx context.Context, t *target.Target, _ *regexp.Regexp) (string, error) {
		if timeout := a.Timeout(); timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return request(ctx, client, in, strings.ReplaceAll(in.URL, "{{host}}", t.Hostname))
	}
	opts := append([]action.Option{}, common...)
	a = action.New(decl.Name, in.Method+" "+in.URL, append(opts, action.WithBehavior(probe))...)
	return a, nil
}

// request retries until the expected status comes back or ctx is done.
func request(ctx context.Context, client *http.Client, in *Input, url string) (string, error) {
	logger := ctxlog.FromContext(ctx).With("url", url)
	var last string
	for attempt := 1; ; attempt++ {
		status, body, err := send(ctx, client, in.Method, url)
		switch {
		case err != nil:
			last = err.Error()
		case status == in.Status:
			logger.Debug("Received expected HTTP response.", "status", status, "attempt", attempt)
			return body, nil
		default:
			last = fmt.Sprintf("status %d", status)
		}
		logger.Debug("Service not ready yet.", "attempt", attempt, "last", last)

		select {
		case <-time.After(in.Interval):
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", fmt.Errorf("%w: want %d, last %s", ErrUnexpectedStatus, in.Status, last)
			}
			return "", ctx.Err()
		}
	}
}

func send(ctx context.Context, client *http.Client, method, url string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return 0, "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return 0, "", fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, string(body), nil
}

// Register registers the kind with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterKind(&registry.Kind{
		Name:        "http",
		Description: "Waits until a service on the target answers an HTTP request with the expected status.",
		Required:    []string{"url"},
		Optional:    []string{"method", "status", "interval"},
		Build:       m.Build,
	})
}
