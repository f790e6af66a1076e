package lock

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openclaw/interchange/internal/testutil"
	"github.com/openclaw/interchange/pkg/apperr"
)

const deadPID = 999_999_999

func testManager(t *testing.T, out *testutil.LogBuffer, opts ...Option) *Manager {
	t.Helper()
	if out == nil {
		out = &testutil.LogBuffer{}
	}
	base := []Option{
		WithLogger(out.Logger()),
		WithBackoff(time.Millisecond, 5*time.Millisecond),
		WithProcessChecker(func(pid int) bool { return pid != deadPID }),
	}
	return NewManager(append(base, opts...)...)
}

func writeLockFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path+Suffix, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestAcquireRelease(t *testing.T) {
	m := testManager(t, nil)
	p := filepath.Join(t.TempDir(), "doc.md")

	h, err := m.Acquire(context.Background(), p, 0)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	data, err := os.ReadFile(p + Suffix)
	if err != nil {
		t.Fatalf("lock file missing: %v", err)
	}
	if strings.TrimSpace(string(data)) != strconv.Itoa(os.Getpid()) {
		t.Errorf("lock content = %q, want pid %d", data, os.Getpid())
	}
	if HolderPID(p) != os.Getpid() {
		t.Errorf("HolderPID = %d", HolderPID(p))
	}

	m.Release(h)
	if _, err := os.Stat(p + Suffix); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("lock file should be gone, stat err = %v", err)
	}
	// Idempotent.
	m.Release(h)
	m.Release(nil)
}

func TestAcquire_TimesOutWhenHeld(t *testing.T) {
	m := testManager(t, nil)
	p := filepath.Join(t.TempDir(), "contend.md")

	h, err := m.Acquire(context.Background(), p, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Release(h)

	start := time.Now()
	_, err = m.Acquire(context.Background(), p, 100*time.Millisecond)
	if !errors.Is(err, apperr.ErrLockTimeout) {
		t.Fatalf("err = %v, want ErrLockTimeout", err)
	}
	if time.Since(start) < 100*time.Millisecond {
		t.Error("gave up before the timeout elapsed")
	}
}

func TestAcquire_ContextCancelled(t *testing.T) {
	m := testManager(t, nil)
	p := filepath.Join(t.TempDir(), "ctx.md")
	h, _ := m.Acquire(context.Background(), p, 0)
	defer m.Release(h)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Acquire(ctx, p, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestAcquire_ReclaimsDeadHolder(t *testing.T) {
	out := &testutil.LogBuffer{}
	m := testManager(t, out)
	p := filepath.Join(t.TempDir(), "stale.md")
	writeLockFile(t, p, strconv.Itoa(deadPID)+"\n")

	h, err := m.Acquire(context.Background(), p, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer m.Release(h)
	if HolderPID(p) != os.Getpid() {
		t.Errorf("lock not re-owned: holder = %d", HolderPID(p))
	}
	if !strings.Contains(out.String(), "reclaimed stale lock") {
		t.Errorf("reclaim not logged: %s", out.String())
	}
	leftovers, _ := filepath.Glob(p + Suffix + ".stale-*")
	if len(leftovers) != 0 {
		t.Errorf("stale artifacts left behind: %v", leftovers)
	}
}

func TestAcquire_LiveForeignHolderNotReclaimed(t *testing.T) {
	m := testManager(t, nil)
	p := filepath.Join(t.TempDir(), "live.md")
	writeLockFile(t, p, "4242\n")

	_, err := m.Acquire(context.Background(), p, 50*time.Millisecond)
	if !errors.Is(err, apperr.ErrLockTimeout) {
		t.Fatalf("err = %v, want ErrLockTimeout", err)
	}
	if HolderPID(p) != 4242 {
		t.Error("live holder's lock was disturbed")
	}
}

func TestAcquire_UnreadableLockIsRetriedNotFatal(t *testing.T) {
	m := testManager(t, nil)
	p := filepath.Join(t.TempDir(), "garbage.md")
	writeLockFile(t, p, "not-a-pid")

	_, err := m.Acquire(context.Background(), p, 50*time.Millisecond)
	if !errors.Is(err, apperr.ErrLockTimeout) {
		t.Fatalf("err = %v, want ErrLockTimeout", err)
	}

	// Once the garbage is gone the lock is obtainable.
	_ = os.Remove(p + Suffix)
	h, err := m.Acquire(context.Background(), p, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Acquire after cleanup: %v", err)
	}
	m.Release(h)
}

func TestMutualExclusion(t *testing.T) {
	m := testManager(t, nil)
	p := filepath.Join(t.TempDir(), "mutex.md")

	var holders, maxHolders, done atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				err := m.With(context.Background(), p, 5*time.Second, func() error {
					n := holders.Add(1)
					for {
						cur := maxHolders.Load()
						if n <= cur || maxHolders.CompareAndSwap(cur, n) {
							break
						}
					}
					time.Sleep(time.Millisecond)
					holders.Add(-1)
					return nil
				})
				if err != nil {
					t.Errorf("With: %v", err)
					return
				}
				done.Add(1)
			}
		}()
	}
	wg.Wait()

	if maxHolders.Load() != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxHolders.Load())
	}
	if done.Load() != 40 {
		t.Errorf("completed critical sections = %d, want 40", done.Load())
	}
}

func TestStaleLockReclaimedByExactlyOneAcquirer(t *testing.T) {
	out := &testutil.LogBuffer{}
	m := testManager(t, out)
	p := filepath.Join(t.TempDir(), "race.md")
	writeLockFile(t, p, strconv.Itoa(deadPID)+"\n")

	const n = 6
	start := make(chan struct{})
	var wg sync.WaitGroup
	var holders, maxHolders atomic.Int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := m.With(context.Background(), p, 5*time.Second, func() error {
				if holders.Add(1) > 1 {
					maxHolders.Store(2)
				}
				time.Sleep(2 * time.Millisecond)
				holders.Add(-1)
				return nil
			})
			if err != nil {
				t.Errorf("With: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := out.Count("reclaimed stale lock"); got != 1 {
		t.Errorf("reclaims = %d, want exactly 1\n%s", got, out.String())
	}
	if maxHolders.Load() > 1 {
		t.Error("two acquirers held the lock at once")
	}
	if _, err := os.Stat(p + Suffix); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("lock should be released at the end, stat err = %v", err)
	}
}

// A dead holder is noticed at most once per Acquire call; acquirers that
// lose the race simply call Acquire again. All of them must get through
// within a small, bounded number of calls.
func TestStaleRecovery_BoundedRetries(t *testing.T) {
	m := testManager(t, nil)
	p := filepath.Join(t.TempDir(), "bounded.md")
	writeLockFile(t, p, strconv.Itoa(deadPID)+"\n")

	const n, maxCalls = 4, 20
	var wg sync.WaitGroup
	calls := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for calls[i] < maxCalls {
				calls[i]++
				h, err := m.Acquire(context.Background(), p, 20*time.Millisecond)
				if err == nil {
					time.Sleep(time.Millisecond)
					m.Release(h)
					return
				}
				if !errors.Is(err, apperr.ErrLockTimeout) {
					t.Errorf("Acquire: %v", err)
					return
				}
			}
			t.Errorf("acquirer %d did not obtain the lock in %d calls", i, maxCalls)
		}(i)
	}
	wg.Wait()
}

func TestProcessAlive(t *testing.T) {
	if !processAlive(os.Getpid()) {
		t.Error("own process reported dead")
	}
	if processAlive(0) || processAlive(-1) {
		t.Error("non-positive pid reported alive")
	}
	if processAlive(1 << 30) {
		t.Error("impossible pid reported alive")
	}
}
