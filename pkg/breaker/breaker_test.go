package breaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openclaw/interchange/internal/testutil"
	"github.com/openclaw/interchange/pkg/apperr"
)

var errUpstream = errors.New("upstream down")

func testBreaker(t *testing.T, threshold int, cooldown time.Duration) (*Breaker[string], *testutil.Clock, *testutil.LogBuffer) {
	t.Helper()
	clock := testutil.NewClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	logs := &testutil.LogBuffer{}
	b := New[string](Options{
		Name:      "prices",
		Threshold: threshold,
		Cooldown:  cooldown,
		Logger:    logs.Logger(),
		Clock:     clock.Now,
	})
	return b, clock, logs
}

func succeed(v string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return v, nil }
}

func fail(context.Context) (string, error) { return "", errUpstream }

func TestBreaker_ClosedPassesThrough(t *testing.T) {
	b, _, _ := testBreaker(t, 3, time.Minute)
	v, err := b.Call(context.Background(), succeed("ok"))
	if err != nil || v != "ok" {
		t.Fatalf("Call = %q, %v", v, err)
	}
	if b.State() != Closed {
		t.Errorf("state = %s", b.State())
	}
}

func TestBreaker_FailureWithoutCachePropagates(t *testing.T) {
	b, _, _ := testBreaker(t, 3, time.Minute)
	_, err := b.Call(context.Background(), fail)
	if !errors.Is(err, errUpstream) {
		t.Fatalf("err = %v, want upstream error", err)
	}
	if b.State() != Closed || b.Failures() != 1 {
		t.Errorf("state = %s failures = %d", b.State(), b.Failures())
	}
}

func TestBreaker_OpensAtThresholdAndServesCache(t *testing.T) {
	b, _, logs := testBreaker(t, 3, time.Minute)
	if _, err := b.Call(context.Background(), succeed("cached")); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		v, err := b.Call(context.Background(), fail)
		if err != nil || v != "cached" {
			t.Fatalf("failure %d: Call = %q, %v; want cached value", i, v, err)
		}
	}
	if b.State() != Open {
		t.Fatalf("state = %s after threshold failures, want OPEN", b.State())
	}

	var calls atomic.Int32
	v, err := b.Call(context.Background(), func(context.Context) (string, error) {
		calls.Add(1)
		return "fresh", nil
	})
	if err != nil || v != "cached" {
		t.Errorf("open call = %q, %v", v, err)
	}
	if calls.Load() != 0 {
		t.Error("fn invoked while open")
	}
	if logs.Count("serving cached result") == 0 {
		t.Error("serving cache not logged")
	}
}

func TestBreaker_OpenWithoutCache(t *testing.T) {
	b, _, _ := testBreaker(t, 2, time.Minute)
	for i := 0; i < 2; i++ {
		_, _ = b.Call(context.Background(), fail)
	}
	_, err := b.Call(context.Background(), succeed("never"))
	if !errors.Is(err, apperr.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
}

func TestBreaker_RecoversAfterCooldown(t *testing.T) {
	b, clock, _ := testBreaker(t, 2, 30*time.Second)
	for i := 0; i < 2; i++ {
		_, _ = b.Call(context.Background(), fail)
	}
	if b.State() != Open {
		t.Fatal("expected OPEN")
	}

	clock.Advance(29 * time.Second)
	if _, err := b.Call(context.Background(), succeed("x")); !errors.Is(err, apperr.ErrCircuitOpen) {
		t.Fatalf("before cooldown: err = %v", err)
	}

	clock.Advance(time.Second)
	v, err := b.Call(context.Background(), succeed("recovered"))
	if err != nil || v != "recovered" {
		t.Fatalf("probe = %q, %v", v, err)
	}
	if b.State() != Closed || b.Failures() != 0 {
		t.Errorf("after probe: state = %s failures = %d", b.State(), b.Failures())
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b, clock, _ := testBreaker(t, 2, 10*time.Second)
	_, _ = b.Call(context.Background(), succeed("old"))
	for i := 0; i < 2; i++ {
		_, _ = b.Call(context.Background(), fail)
	}

	clock.Advance(10 * time.Second)
	var calls atomic.Int32
	v, err := b.Call(context.Background(), func(ctx context.Context) (string, error) {
		calls.Add(1)
		return fail(ctx)
	})
	if calls.Load() != 1 {
		t.Fatalf("probe invocations = %d, want 1", calls.Load())
	}
	if err != nil || v != "old" {
		t.Errorf("failed probe = %q, %v; want cached", v, err)
	}
	if b.State() != Open {
		t.Fatalf("state = %s after failed probe, want OPEN", b.State())
	}

	clock.Advance(5 * time.Second)
	_, _ = b.Call(context.Background(), func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "unused", nil
	})
	if calls.Load() != 1 {
		t.Error("cooldown did not restart after the failed probe")
	}
}

func TestBreaker_SingleHalfOpenProbe(t *testing.T) {
	b, clock, _ := testBreaker(t, 1, time.Second)
	_, _ = b.Call(context.Background(), succeed("cached"))
	_, _ = b.Call(context.Background(), fail)
	clock.Advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	var probes atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = b.Call(context.Background(), func(context.Context) (string, error) {
			probes.Add(1)
			close(started)
			<-release
			return "fresh", nil
		})
	}()
	<-started

	v, err := b.Call(context.Background(), func(context.Context) (string, error) {
		probes.Add(1)
		return "second", nil
	})
	if err != nil || v != "cached" {
		t.Errorf("concurrent call during probe = %q, %v", v, err)
	}
	close(release)
	wg.Wait()

	if probes.Load() != 1 {
		t.Errorf("probes = %d, want 1", probes.Load())
	}
	if v, _ := b.Call(context.Background(), succeed("after")); v != "after" {
		t.Errorf("after recovery = %q", v)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _, _ := testBreaker(t, 3, time.Minute)
	_, _ = b.Call(context.Background(), fail)
	_, _ = b.Call(context.Background(), fail)
	_, _ = b.Call(context.Background(), succeed("ok"))
	_, _ = b.Call(context.Background(), fail)
	if b.State() != Closed || b.Failures() != 1 {
		t.Errorf("state = %s failures = %d", b.State(), b.Failures())
	}
}

func TestBreaker_Reset(t *testing.T) {
	b, _, _ := testBreaker(t, 1, time.Hour)
	_, _ = b.Call(context.Background(), fail)
	b.Reset()
	if v, err := b.Call(context.Background(), succeed("ok")); err != nil || v != "ok" {
		t.Errorf("after Reset: %q, %v", v, err)
	}
}

func TestBreaker_CancelledContext(t *testing.T) {
	b, _, _ := testBreaker(t, 5, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var called bool
	_, err := b.Call(ctx, func(context.Context) (string, error) {
		called = true
		return "", nil
	})
	if !errors.Is(err, context.Canceled) || called {
		t.Errorf("err = %v called = %v", err, called)
	}
}

func TestBreaker_Defaults(t *testing.T) {
	b := New[int](Options{})
	if b.opts.Threshold != DefaultThreshold || b.opts.Cooldown != DefaultCooldown {
		t.Errorf("defaults not applied: %+v", b.opts)
	}
}

func TestBreaker_OnStateChange(t *testing.T) {
	clock := testutil.NewClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	var seen []string
	b := New[string](Options{
		Name:      "quotes",
		Threshold: 1,
		Cooldown:  time.Second,
		Logger:    testutil.QuietLogger(),
		Clock:     clock.Now,
		OnStateChange: func(name string, from, to State) {
			seen = append(seen, name+":"+from.String()+">"+to.String())
		},
	})

	_, _ = b.Call(context.Background(), fail)
	clock.Advance(time.Second)
	_, _ = b.Call(context.Background(), succeed("ok"))

	want := []string{"quotes:CLOSED>OPEN", "quotes:OPEN>HALF_OPEN", "quotes:HALF_OPEN>CLOSED"}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition %d = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{Closed: "CLOSED", Open: "OPEN", HalfOpen: "HALF_OPEN", State(9): "State(9)"} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", int(s), s.String(), want)
		}
	}
}

func TestBackoff(t *testing.T) {
	base, maxDelay := 500*time.Millisecond, 30*time.Second
	within := func(d, want time.Duration) bool {
		lo := time.Duration(float64(want)*(1-Jitter)) - time.Microsecond
		hi := time.Duration(float64(want)*(1+Jitter)) + time.Microsecond
		return d >= lo && d <= hi
	}
	for attempt, want := range map[int]time.Duration{
		0:   500 * time.Millisecond,
		1:   time.Second,
		3:   4 * time.Second,
		5:   16 * time.Second,
		6:   maxDelay,
		40:  maxDelay,
		500: maxDelay,
		-1:  500 * time.Millisecond,
	} {
		for i := 0; i < 20; i++ {
			if d := Backoff(attempt, base, maxDelay); !within(d, want) {
				t.Fatalf("Backoff(%d) = %v, want %v ±10%%", attempt, d, want)
			}
		}
	}

	b := New[string](Options{BaseBackoff: 100 * time.Millisecond, MaxBackoff: time.Second})
	if d := b.Backoff(10); !within(d, time.Second) {
		t.Errorf("breaker Backoff(10) = %v", d)
	}
	if d := Backoff(0, time.Minute, time.Second); !within(d, time.Second) {
		t.Errorf("base above cap: %v", d)
	}
}
