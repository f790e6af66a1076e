package internal

import (
	"log/slog"

	"github.com/openclaw/interchange/pkg/index"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config    *Config
	logger    *slog.Logger
	onRebuild index.RebuildCallback
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithLogger replaces the JSON stderr logger Run installs by default.
func WithLogger(l *slog.Logger) Option {
	return func(a *application) {
		a.logger = l
	}
}

// WithRebuildCallback is invoked after each watcher-driven skill rebuild.
func WithRebuildCallback(cb index.RebuildCallback) Option {
	return func(a *application) {
		a.onRebuild = cb
	}
}
