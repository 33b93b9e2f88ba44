package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/copyleftdev/tixrush/internal/browser"
	"github.com/copyleftdev/tixrush/internal/notify"
	"github.com/copyleftdev/tixrush/internal/server"
	"github.com/copyleftdev/tixrush/internal/store"
	"github.com/copyleftdev/tixrush/internal/tasks"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Monitor the event with every valid stored account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMonitor(cmd.Context(), opts)
		},
	}
}

func runMonitor(ctx context.Context, opts *rootOptions) error {
	cfg, logger, err := opts.load()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		logger.Error("configuration rejected", zap.Error(err))
		return fmt.Errorf("invalid configuration: %w", err)
	}

	accounts, err := store.NewFileStore(cfg.Accounts.File)
	if err != nil {
		return err
	}
	browsers := browser.NewManager(cfg.Browser, logger)
	sink := notify.NewWebhookSink(cfg.Notify, logger)
	manager := tasks.NewManager(cfg, accounts, browsers, sink, logger)

	var srv *server.Server
	if cfg.Server.Enabled {
		srv = server.NewServer(cfg, manager, logger)
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("status server stopped", zap.Error(err))
			}
		}()
	}

	runCtx, cancelRun := withInterruptGrace(ctx, cfg.Timing.InterruptGrace, logger)
	defer cancelRun()
	runErr := manager.Run(runCtx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Browser.ShutdownTimeout)
	defer cancel()
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("status server shutdown", zap.Error(err))
		}
	}
	if err := sink.Close(shutdownCtx); err != nil {
		logger.Warn("pending notifications dropped", zap.Error(err))
	}
	if err := browsers.Shutdown(shutdownCtx); err != nil {
		logger.Warn("browser shutdown", zap.Error(err))
	}

	if ctx.Err() != nil && (runErr == nil || errors.Is(runErr, context.Canceled)) {
		logger.Info("interrupted, all tasks stopped")
		return nil
	}
	if runErr != nil {
		logger.Error("run aborted", zap.Error(runErr))
	}
	return runErr
}

// withInterruptGrace returns a context that outlives ctx by grace, giving
// in-flight tasks time to reach a stopping point after an interrupt.
func withInterruptGrace(ctx context.Context, grace time.Duration, logger *zap.Logger) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, func() {
		logger.Info("interrupt received, stopping tasks after grace period", zap.Duration("grace", grace))
		time.AfterFunc(grace, cancel)
	})
	return runCtx, func() {
		stop()
		cancel()
	}
}
