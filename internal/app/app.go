package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/unicesi/amelia-sub000/internal/config"
	"github.com/unicesi/amelia-sub000/internal/ctxlog"
	"github.com/unicesi/amelia-sub000/internal/metrics"
	"github.com/unicesi/amelia-sub000/internal/registry"
	"github.com/unicesi/amelia-sub000/internal/session"
	"github.com/unicesi/amelia-sub000/internal/sshsession"
	"github.com/unicesi/amelia-sub000/internal/target"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	ctx        context.Context
	outW       io.Writer
	logger     *slog.Logger
	config     *Config
	registry   *registry.Registry
	model      *config.Model
	fileHosts  []*target.Target
	dialer     session.Dialer
	metrics    *metrics.Collector
	httpServer *http.Server
	redeploy   chan struct{}
}

// NewApp is the constructor for the main application. It loads and validates
// the deployment description, with its own isolated logger and registry.
// A nil dialer connects to the targets over SSH.
func NewApp(outW io.Writer, cfg *Config, dialer session.Dialer, modules ...registry.Module) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	if dialer == nil {
		var opts []sshsession.Option
		if cfg.KnownHosts != "" {
			opts = append(opts, sshsession.WithKnownHosts(cfg.KnownHosts))
		}
		dialer = sshsession.NewDialer(opts...)
	}

	if len(modules) == 0 {
		modules = coreModules
	}
	reg := registry.New().Load(modules...)
	logger.Debug("All Go modules registered.", "count", len(modules))

	a := &App{
		ctx:      ctx,
		outW:     outW,
		logger:   logger,
		config:   cfg,
		registry: reg,
		dialer:   dialer,
		metrics:  metrics.New(),
		redeploy: make(chan struct{}, 1),
	}
	if err := a.loadModel(ctx, newLoader(cfg.Format, cfg.ConfigPaths)); err != nil {
		return nil, err
	}
	if err := reg.ValidateModel(ctx, a.model); err != nil {
		return nil, err
	}
	logger.Debug("Registry validation passed.")
	return a, nil
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Model returns the loaded deployment description.
func (a *App) Model() *config.Model {
	return a.model
}

// Metrics returns the collector fed by the deployment's events.
func (a *App) Metrics() *metrics.Collector {
	return a.metrics
}

// Redeploy asks a deployment kept running to deploy again. It does nothing
// when a redeploy is already pending.
func (a *App) Redeploy() {
	select {
	case a.redeploy <- struct{}{}:
	default:
	}
}
