// Package internal wires configuration to the interchange components and
// runs the index-maintenance daemon.
package internal

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openclaw/interchange/pkg/index"
	"github.com/openclaw/interchange/pkg/interchange"
	"github.com/openclaw/interchange/pkg/lock"
	"github.com/openclaw/interchange/pkg/metrics"
)

// NewLogger returns the structured JSON logger used by the daemon and CLI.
func NewLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewStore builds a Store for cfg's root with cfg's lock timeout. m may be nil.
func NewStore(cfg *Config, logger *slog.Logger, m *metrics.Metrics) (*interchange.Store, error) {
	locks := lock.NewManager(
		lock.WithTimeout(cfg.Interchange.LockTimeout),
		lock.WithLogger(logger),
	)
	store, err := interchange.NewStore(cfg.Interchange.Root,
		interchange.WithLogger(logger),
		interchange.WithLockManager(locks),
		interchange.WithMetrics(m),
	)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	return store, nil
}

// NewBuilder builds an index Builder over store using cfg's generator.
func NewBuilder(cfg *Config, store *interchange.Store, logger *slog.Logger) *index.Builder {
	return index.NewBuilder(store,
		index.WithGenerator(cfg.Interchange.Generator),
		index.WithLogger(logger),
	)
}

// Run rebuilds every index once, then keeps them current from filesystem
// events until ctx is cancelled or the process receives SIGINT/SIGTERM.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	logger := app.logger
	if logger == nil {
		logger = NewLogger(cfg.App.LogLevel)
		slog.SetDefault(logger)
	}

	logger.Info("configuration loaded",
		slog.String("root", cfg.Interchange.Root),
		slog.String("lock_timeout", cfg.Interchange.LockTimeout.String()),
		slog.String("debounce", cfg.Watch.Debounce.String()),
		slog.String("log_level", cfg.App.LogLevel.String()))

	if err := os.MkdirAll(cfg.Interchange.Root, 0o755); err != nil {
		return fmt.Errorf("create interchange root: %w", err)
	}

	m := metrics.New()
	store, err := NewStore(cfg, logger, m)
	if err != nil {
		return err
	}
	builder := NewBuilder(cfg, store, logger)

	onRebuild := func(skill string) {
		m.ObserveRebuild(skill)
		if app.onRebuild != nil {
			app.onRebuild(skill)
		}
	}

	if err := builder.Rebuild(ctx, ""); err != nil {
		logger.Warn("initial rebuild failed", slog.String("error", err.Error()))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return index.Watch(gCtx, builder, cfg.Watch.Debounce, onRebuild)
	})

	if cfg.Metrics.Textfile != "" {
		g.Go(func() error {
			return exportMetrics(gCtx, m, cfg.Metrics, logger)
		})
	}

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("received shutdown signal", slog.String("signal", sig.String()))
			cancel()
		case <-gCtx.Done():
			logger.Info("context cancelled, shutting down")
		}
		return nil
	})

	err = g.Wait()
	if cfg.Metrics.Textfile != "" {
		writeMetrics(m, cfg.Metrics.Textfile, logger)
	}
	if err != nil {
		logger.Error("application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("watcher stopped")
	return nil
}

// exportMetrics rewrites the metrics textfile every interval until ctx is done.
func exportMetrics(ctx context.Context, m *metrics.Metrics, cfg MetricsConfig, logger *slog.Logger) error {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultMetricsInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			writeMetrics(m, cfg.Textfile, logger)
		}
	}
}

// writeMetrics logs export failures instead of returning them.
func writeMetrics(m *metrics.Metrics, path string, logger *slog.Logger) {
	if err := m.WriteTextfile(path); err != nil {
		logger.Warn("metrics export failed", slog.String("error", err.Error()))
	}
}
