package internal

import (
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/openclaw/interchange/pkg/index"
	"github.com/openclaw/interchange/pkg/interchange"
	"github.com/openclaw/interchange/pkg/lock"
)

// Config represents the application configuration.
type Config struct {
	App         ApplicationConfig `yaml:"app"`
	Interchange InterchangeConfig `yaml:"interchange"`
	Watch       WatchConfig       `yaml:"watch"`
	Ledger      LedgerConfig      `yaml:"ledger"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Interchange.Validate(); err != nil {
		return err
	}
	if err := c.Watch.Validate(); err != nil {
		return err
	}
	if err := c.Ledger.Validate(); err != nil {
		return err
	}
	return c.Metrics.Validate()
}

// ApplyRoot overrides the interchange root when root is non-empty.
func (c *Config) ApplyRoot(root string) {
	if root != "" {
		c.Interchange.Root = root
	}
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
}

// InterchangeConfig selects the shared root and how writers behave in it.
type InterchangeConfig struct {
	Root        string        `yaml:"root"`
	LockTimeout time.Duration `yaml:"lock_timeout"`
	Generator   string        `yaml:"generator"`
}

// Validate validates the interchange configuration.
func (c *InterchangeConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Root, validation.Required),
		validation.Field(&c.LockTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.Generator, validation.Required),
	)
}

// WatchConfig holds index watcher configuration.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// Validate validates the watcher configuration.
func (c *WatchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Debounce, validation.Required, validation.Min(time.Millisecond)),
	)
}

// LedgerConfig holds the SQLite ledger location.
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the ledger configuration.
func (c *LedgerConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

const defaultMetricsInterval = 15 * time.Second

// MetricsConfig controls the Prometheus textfile export. An empty Textfile
// disables it.
type MetricsConfig struct {
	Textfile string        `yaml:"textfile"`
	Interval time.Duration `yaml:"interval"`
}

// Validate validates the metrics configuration.
func (c *MetricsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Interval, validation.When(c.Textfile != "", validation.Required, validation.Min(time.Second))),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
		},
		Interchange: InterchangeConfig{
			Root:        interchange.DefaultRoot(),
			LockTimeout: lock.DefaultTimeout,
			Generator:   index.DefaultGenerator,
		},
		Watch: WatchConfig{
			Debounce: index.DefaultDebounce,
		},
		Ledger: LedgerConfig{
			Path: "./interchange-ledger.db",
		},
		Metrics: MetricsConfig{
			Interval: defaultMetricsInterval,
		},
	}
}
