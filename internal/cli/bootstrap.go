// Package cli holds the start-up sequence shared by the voice-model commands.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-model/internal/config"
)

// Runtime is the validated settings plus the command's log.
type Runtime struct {
	Settings *config.Settings
	Log      *logger.Logger
}

// Close releases the log file.
func (r *Runtime) Close() {
	closeErr := r.Log.Close()
	if closeErr != nil {
		fmt.Fprintf(os.Stderr, "error closing logger: %v\n", closeErr)
	}
}

func setupLogger(dir, name string) (*logger.Logger, error) {
	log, err := logger.New(dir, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger in %s: %w", dir, err)
	}

	return log, nil
}

// Bootstrap resolves the settings with a temporary log, then opens the command's
// log under the configured logs directory.
func Bootstrap(settingsPath, name string) (*Runtime, error) {
	bootstrapLog, err := setupLogger(os.TempDir(), name+"-bootstrap.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return nil, err
	}

	defer func() { _ = bootstrapLog.Close() }()

	bootstrapLog.Info("Bootstrap logger created.")

	cfg, err := config.Resolve(settingsPath, bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	finalLog, err := setupLogger(cfg.Paths.LogsDir, name+".log")
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return nil, err
	}

	return &Runtime{Settings: cfg, Log: finalLog}, nil
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
