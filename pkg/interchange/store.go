// Package interchange reads and writes interchange documents under a shared
// root directory.
//
// Writes are serialized per path by a side-car lock, gated by the body's
// content hash, and staged through tmp+fsync+rename so readers never observe
// a partial file. Reads take no lock.
package interchange

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openclaw/interchange/pkg/lock"
	"github.com/openclaw/interchange/pkg/metrics"
	"github.com/openclaw/interchange/pkg/storage"
)

// RootEnv selects the interchange root when set.
const RootEnv = "INTERCHANGE_ROOT"

// Store is the per-process handle on one interchange root. It is safe for
// concurrent use.
type Store struct {
	root        string
	locks       *lock.Manager
	lockTimeout time.Duration
	now         func() time.Time
	logger      *slog.Logger
	metrics     *metrics.Metrics

	// stage persists rendered bytes; replaced in tests to simulate crashes.
	stage func(path string, data []byte) error
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the time source used for the updated field and TTL checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLockManager sets the lock manager shared with other components.
func WithLockManager(m *lock.Manager) Option {
	return func(s *Store) { s.locks = m }
}

// WithMetrics records write outcomes and lock waits on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithLockTimeout sets how long a write waits for its path lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// NewStore creates a Store rooted at root. The directory does not need to
// exist yet; writes create it on demand.
func NewStore(root string, opts ...Option) (*Store, error) {
	if root == "" {
		root = DefaultRoot()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("interchange: resolve root: %w", err)
	}
	s := &Store{
		root:   abs,
		now:    time.Now,
		logger: slog.Default(),
		stage:  storage.AtomicWrite,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.locks == nil {
		s.locks = lock.NewManager(lock.WithLogger(s.logger))
	}
	if s.lockTimeout <= 0 {
		s.lockTimeout = s.locks.Timeout()
	}
	return s, nil
}

// Root returns the absolute interchange root.
func (s *Store) Root() string {
	return s.root
}

// Locks returns the lock manager used for writes.
func (s *Store) Locks() *lock.Manager {
	return s.locks
}

// Now returns the store's current time.
func (s *Store) Now() time.Time {
	return s.now()
}

// DefaultRoot returns $INTERCHANGE_ROOT, or the per-user default under
// $HOME/.openclaw/workspace/interchange (/tmp stands in for an unset HOME).
func DefaultRoot() string {
	if r := os.Getenv(RootEnv); r != "" {
		if abs, err := filepath.Abs(r); err == nil {
			return abs
		}
		return r
	}
	home := os.Getenv("HOME")
	if home == "" {
		home = "/tmp"
	}
	return filepath.Join(home, ".openclaw", "workspace", "interchange")
}

// resolve turns path into an absolute path. Absolute paths are taken as-is;
// relative paths are joined to the root and may not escape it.
func (s *Store) resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("interchange: empty path")
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	joined := filepath.Join(s.root, path)
	if joined != s.root && !strings.HasPrefix(joined, s.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("interchange: path escapes root: %s", path)
	}
	return joined, nil
}

// Rel returns path relative to the root with forward slashes, or the cleaned
// path itself when it lies outside the root.
func (s *Store) Rel(path string) string {
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return filepath.ToSlash(filepath.Clean(path))
	}
	return filepath.ToSlash(rel)
}
