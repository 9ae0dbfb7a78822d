package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jarredhawkins/sqlfluff-lsp/internal/config"
	"github.com/jarredhawkins/sqlfluff-lsp/internal/lsp"
	"github.com/jarredhawkins/sqlfluff-lsp/internal/sqlfluff"
	"github.com/jarredhawkins/sqlfluff-lsp/internal/telemetry"
	"github.com/jarredhawkins/sqlfluff-lsp/internal/watcher"
)

// telemetryFlushTimeout bounds the final export of spans and metrics.
const telemetryFlushTimeout = 5 * time.Second

func runServe(cmd *cobra.Command, _ []string) error {
	logger, closeLogger, err := newLogger(logFile, debug)
	if err != nil {
		return err
	}
	defer closeLogger()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	root := rootPath
	if root == "" {
		if root, err = os.Getwd(); err != nil {
			return fmt.Errorf("failed to get current directory: %w", err)
		}
	}

	logger.Info("sqlfluff-lsp starting",
		zap.String("root", root),
		zap.String("sqlfluff", cfg.Executable()),
		zap.String("dialect", cfg.Dialect),
		zap.String("templater", cfg.Templater),
		zap.Duration("timeout", cfg.Timeout))

	shutdownTelemetry, err := telemetry.Init(cmd.Context(), telemetry.ConfigFromEnv("sqlfluff-lsp", version))
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), telemetryFlushTimeout)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			logger.Warn("failed to flush telemetry", zap.Error(err))
		}
	}()

	sigCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := lsp.NewServer(sqlfluff.New(cfg, logger.Named("sqlfluff")), logger)

	w, err := watcher.New(root, func(changed, removed []string) {
		n := server.Registry().RevalidateAll()
		logger.Debug("revalidating open documents after config change",
			zap.Int("documents", n),
			zap.Int("changed", len(changed)),
			zap.Int("removed", len(removed)))
	}, logger.Named("watcher"))
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	g, ctx := errgroup.WithContext(sigCtx)
	g.Go(func() error {
		err := server.Serve(ctx, os.Stdin, os.Stdout)
		if sigCtx.Err() != nil {
			logger.Info("shutdown signal received")
			return nil
		}
		// Serve returning for any other reason ends the process.
		stop()
		if err != nil {
			return fmt.Errorf("LSP server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := w.Run(ctx); err != nil {
			// Revalidation on config change is best effort.
			logger.Warn("config watcher stopped", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("sqlfluff-lsp shutdown complete")
	return nil
}

// loadConfig layers command-line flags over the config file over defaults.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}

	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil {
		return config.Config{}, err
	}

	cfg = cfg.Merge(config.Config{
		Dialect:      dialect,
		Templater:    templater,
		SqlfluffPath: sqlfluffPath,
		Timeout:      timeout,
	})
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
