// Package lock implements per-path advisory locks backed by side-car files.
//
// A lock for path P is the file P+".lock" holding the owner's pid. Exclusive
// create is the only way to take a free lock. A lock whose owner is no longer
// running is reclaimed by renaming it aside, so that among several recoverers
// exactly one succeeds.
package lock

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openclaw/interchange/pkg/apperr"
)

const (
	// Suffix is appended to a document path to form its lock path.
	Suffix = ".lock"

	DefaultTimeout    = 5 * time.Second
	DefaultMinBackoff = 10 * time.Millisecond
	DefaultMaxBackoff = 50 * time.Millisecond
)

// Handle identifies a held lock.
type Handle struct {
	Path     string
	LockPath string
	PID      int
	Token    string
}

// Manager acquires and releases locks. It holds no per-path state, so one
// Manager may be shared by any number of goroutines.
type Manager struct {
	timeout    time.Duration
	minBackoff time.Duration
	maxBackoff time.Duration
	pid        int
	alive      func(pid int) bool
	logger     *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithTimeout sets the default acquisition timeout.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// WithBackoff sets the range the randomized retry sleep is drawn from.
func WithBackoff(lo, hi time.Duration) Option {
	return func(m *Manager) {
		m.minBackoff = lo
		m.maxBackoff = hi
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithProcessChecker replaces the liveness probe used for stale detection.
func WithProcessChecker(alive func(pid int) bool) Option {
	return func(m *Manager) { m.alive = alive }
}

// WithPID overrides the pid written into lock files.
func WithPID(pid int) Option {
	return func(m *Manager) { m.pid = pid }
}

// NewManager creates a Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		timeout:    DefaultTimeout,
		minBackoff: DefaultMinBackoff,
		maxBackoff: DefaultMaxBackoff,
		pid:        os.Getpid(),
		alive:      processAlive,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Timeout returns the default acquisition timeout.
func (m *Manager) Timeout() time.Duration {
	return m.timeout
}

// Acquire takes the lock for path, waiting up to timeout (the manager default
// when timeout <= 0). It fails with apperr.ErrLockTimeout when the window
// elapses, or with ctx's error when ctx is done first.
func (m *Manager) Acquire(ctx context.Context, path string, timeout time.Duration) (*Handle, error) {
	if timeout <= 0 {
		timeout = m.timeout
	}
	lockPath := path + Suffix
	start := time.Now()
	staleChecked := false

	for {
		h, err := m.tryCreate(path, lockPath)
		if err == nil {
			return h, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("lock: create %s: %w", lockPath, err)
		}

		if !staleChecked {
			staleChecked = true
			if m.reclaimStale(lockPath) {
				continue
			}
		}

		if time.Since(start) > timeout {
			return nil, fmt.Errorf("lock: %s not acquired within %s: %w", path, timeout, apperr.ErrLockTimeout)
		}
		if err := m.sleep(ctx); err != nil {
			return nil, fmt.Errorf("lock: acquire %s: %w", path, err)
		}
	}
}

// Release removes the lock file. Errors are ignored so that releasing an
// already-removed lock is harmless.
func (m *Manager) Release(h *Handle) {
	if h == nil {
		return
	}
	_ = os.Remove(h.LockPath)
}

// With runs fn while holding the lock for path. The lock is released even if
// fn fails or panics.
func (m *Manager) With(ctx context.Context, path string, timeout time.Duration, fn func() error) error {
	h, err := m.Acquire(ctx, path, timeout)
	if err != nil {
		return err
	}
	defer m.Release(h)
	return fn()
}

func (m *Manager) tryCreate(path, lockPath string) (*Handle, error) {
	f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	_, werr := f.WriteString(strconv.Itoa(m.pid) + "\n")
	cerr := f.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(lockPath)
		return nil, fmt.Errorf("lock: write pid: %w", errors.Join(werr, cerr))
	}
	return &Handle{Path: path, LockPath: lockPath, PID: m.pid, Token: uuid.NewString()}, nil
}

// reclaimStale removes the lock at lockPath if its holder is dead. It returns
// true when the caller should retry the exclusive create immediately.
func (m *Manager) reclaimStale(lockPath string) bool {
	pid, err := readPID(lockPath)
	if err != nil {
		// Gone already: retry. Unreadable or half-written: treat as held.
		return errors.Is(err, fs.ErrNotExist)
	}
	if m.alive(pid) {
		return false
	}

	staleName := lockPath + ".stale-" + uuid.NewString()
	if err := os.Rename(lockPath, staleName); err != nil {
		return errors.Is(err, fs.ErrNotExist)
	}

	// Between the read and the rename a live acquirer may have replaced the
	// dead lock; in that case the artifact must go back untouched.
	if got, err := readPID(staleName); err != nil || got != pid {
		if linkErr := os.Link(staleName, lockPath); linkErr != nil {
			m.logger.Warn("lock: restore of live lock failed",
				slog.String("lock", lockPath),
				slog.String("error", linkErr.Error()))
		}
		_ = os.Remove(staleName)
		return false
	}

	_ = os.Remove(staleName)
	m.logger.Warn("lock: reclaimed stale lock",
		slog.String("lock", lockPath),
		slog.Int("dead_pid", pid))
	return true
}

func (m *Manager) sleep(ctx context.Context) error {
	d := m.minBackoff
	if span := m.maxBackoff - m.minBackoff; span > 0 {
		d += rand.N(span)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func readPID(lockPath string) (int, error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("lock: parse pid in %s: %w", lockPath, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("lock: invalid pid %d in %s", pid, lockPath)
	}
	return pid, nil
}

// HolderPID returns the pid recorded in path's lock file, or 0 if there is
// none or it cannot be read.
func HolderPID(path string) int {
	pid, err := readPID(path + Suffix)
	if err != nil {
		return 0
	}
	return pid
}
