package app

import (
	"context"
	"fmt"

	"github.com/vk/starbundle/internal/ctxlog"
)

// Run executes the loaded script.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.ctx = ctx
	a.logger.Debug("App.Run method started.")

	if a.config.HealthcheckPort > 0 {
		a.healthCheckServer()
		defer a.closeHealthCheckServer()
	}

	a.logger.Info("Backends registered.", "compute", a.registry.ComputeKinds(), "solver", a.registry.SolverKinds())
	if len(a.script.Steps) == 0 {
		a.logger.Warn("No steps found in script, execution not required.")
		return nil
	}

	a.logger.Info("Starting script.", "steps", len(a.script.Steps))
	if err := a.engine.Run(ctx, a.script); err != nil {
		return fmt.Errorf("execution failed: %w", err)
	}
	a.logger.Info("Script finished.")

	a.logger.Debug("App.Run method finished.")
	return nil
}
