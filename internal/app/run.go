package app

import (
	"context"

	"github.com/google/uuid"

	"github.com/unicesi/amelia-sub000/internal/controller"
	"github.com/unicesi/amelia-sub000/internal/ctxlog"
	"github.com/unicesi/amelia-sub000/internal/dag"
	"github.com/unicesi/amelia-sub000/internal/notify"
	"github.com/unicesi/amelia-sub000/internal/target"
)

// Run deploys the description. Without KeepRunning the targets are torn
// down as soon as the deployment is over. With it, the executions are left
// running until ctx is cancelled; meanwhile Redeploy starts a new round,
// stopping the previous round's executions first when StopPrevious is set.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.ctx = ctx
	logger := a.logger
	logger.Debug("App.Run method started.")

	a.healthCheckServer()
	defer a.closeHealthCheckServer()

	observers := []func(dag.Event){a.metrics.Observe}
	if a.config.NotifyURL != "" {
		n, err := notify.Dial(ctx, a.config.NotifyURL)
		if err != nil {
			return err
		}
		defer n.Close()
		observers = append(observers, n.Observe)
	}

	targets := a.buildTargets()
	all := sortedTargets(targets)
	defer a.teardown(ctx, all)

	if a.model.Actions() == 0 {
		logger.Warn("No actions declared, nothing to deploy.")
		return nil
	}

	for round := 1; ; round++ {
		if round > 1 && a.config.StopPrevious {
			logger.Info("🔥 Stopping previous executions")
			controller.StopExecutions(ctx, all)
		}

		d, err := a.buildDeployment(targets, observers...)
		if err != nil {
			return err
		}
		roundLogger := logger.With("run_id", uuid.NewString(), "round", round)
		if _, err := d.Run(ctxlog.WithLogger(ctx, roundLogger)); err != nil {
			return err
		}
		if !a.config.KeepRunning {
			return nil
		}

		logger.Info("⏳ Deployment is up, waiting for interrupt", "round", round)
		select {
		case <-ctx.Done():
			logger.Debug("Interrupted, leaving.", "cause", context.Cause(ctx))
			return nil
		case <-a.redeploy:
			logger.Info("🔁 Redeploying")
		}
	}
}

// teardown stops what is still running and closes every target. It runs
// detached from ctx so that an interrupt still tears down.
func (a *App) teardown(ctx context.Context, targets []*target.Target) {
	if err := controller.Teardown(context.WithoutCancel(ctx), targets, true); err != nil {
		a.logger.Warn("Teardown reported errors.", "error", err)
	}
}
