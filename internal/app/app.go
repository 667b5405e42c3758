package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/vk/starbundle/internal/backend"
	"github.com/vk/starbundle/internal/config"
	"github.com/vk/starbundle/internal/ctxlog"
	"github.com/vk/starbundle/internal/engine"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	ctx        context.Context
	outW       io.Writer
	logger     *slog.Logger
	logFile    *os.File
	config     *Config
	registry   *backend.Registry
	script     *config.Script
	engine     *engine.Engine
	httpServer *http.Server
}

// NewApp is the constructor for the main application. Script output goes to
// outW and logs to logW. It panics on configuration errors; the entrypoint
// recovers them.
func NewApp(outW, logW io.Writer, appConfig *Config, loader config.Loader, modules ...backend.Module) *App {
	var logFile *os.File
	if appConfig.LogFile != "" {
		f, err := os.OpenFile(appConfig.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			panic(fmt.Errorf("failed to open log file: %w", err))
		}
		logFile = f
	}
	// Setup failures below must not leak the log file.
	fail := func(err error) {
		if logFile != nil {
			_ = logFile.Close()
		}
		panic(err)
	}
	var fileW io.Writer
	if logFile != nil {
		fileW = logFile
	}
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, logW, fileW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	script, converter, err := loader.Load(ctx, appConfig.ScriptPaths...)
	if err != nil {
		// A failure to load the script is a fatal startup error.
		fail(fmt.Errorf("failed to load script: %w", err))
	}
	logger.Debug("Script loaded.", "steps", len(script.Steps), "vars", len(script.Vars))

	reg := backend.NewRegistry()
	if len(modules) == 0 {
		modules = coreModules
	}
	for _, mod := range modules {
		mod.Register(reg)
	}
	logger.Debug("All backend modules registered.", "count", len(modules))

	if err := reg.Validate(ctx); err != nil {
		// This is a programmer error (a backend with broken options), so we panic.
		fail(err)
	}
	logger.Debug("Registry validation passed.")

	eng := engine.New(reg, converter, outW)
	if err := eng.Validate(script); err != nil {
		fail(fmt.Errorf("invalid script: %w", err))
	}

	return &App{
		ctx:      ctx,
		outW:     outW,
		logger:   logger,
		logFile:  logFile,
		config:   appConfig,
		registry: reg,
		script:   script,
		engine:   eng,
	}
}

// Registry returns the application's backend registry. This is primarily for testing.
func (a *App) Registry() *backend.Registry {
	return a.registry
}

// Engine returns the script engine. This is primarily for testing.
func (a *App) Engine() *engine.Engine {
	return a.engine
}

// Close releases the log file, if any.
func (a *App) Close() error {
	if a.logFile == nil {
		return nil
	}
	return a.logFile.Close()
}
