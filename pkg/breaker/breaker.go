// Package breaker wraps volatile external calls in a circuit breaker that
// falls back to the last successful result.
package breaker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/openclaw/interchange/pkg/apperr"
)

// State is the breaker's position.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Defaults applied to zero Options fields.
const (
	DefaultThreshold   = 5
	DefaultCooldown    = 30 * time.Second
	DefaultBaseBackoff = 500 * time.Millisecond
	DefaultMaxBackoff  = 30 * time.Second

	// Jitter is the fraction by which Backoff randomizes its result.
	Jitter = 0.1
)

// Options configures a Breaker.
type Options struct {
	// Name labels log lines.
	Name string
	// Threshold is the number of consecutive failures that opens the circuit.
	Threshold int
	// Cooldown is how long the circuit stays open before a probe is allowed.
	Cooldown    time.Duration
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Logger      *slog.Logger
	Clock       func() time.Time
	// OnStateChange, if set, observes every transition. It runs with the
	// breaker locked and must not call back into it.
	OnStateChange func(name string, from, to State)
}

func (o Options) withDefaults() Options {
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
	if o.Cooldown <= 0 {
		o.Cooldown = DefaultCooldown
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = DefaultBaseBackoff
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = DefaultMaxBackoff
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// Breaker guards calls returning T. It is in-memory only and safe for
// concurrent use; at most one half-open probe runs at a time.
type Breaker[T any] struct {
	opts Options

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probing     bool
	cached      T
	hasCached   bool
}

// New creates a closed Breaker.
func New[T any](opts Options) *Breaker[T] {
	return &Breaker[T]{opts: opts.withDefaults()}
}

// State returns the current state. An open circuit whose cooldown has
// elapsed still reports Open until the next Call probes it.
func (b *Breaker[T]) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker[T]) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset closes the circuit and clears the failure count. The cached result is kept.
func (b *Breaker[T]) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.probing = false
}

// Call runs fn unless the circuit is open.
//
// While open (or while another goroutine's probe is in flight) fn is not
// invoked: the last successful result is returned if there is one, otherwise
// an error matching apperr.ErrCircuitOpen. When fn fails and a cached result
// exists, the cached result is returned with a nil error.
func (b *Breaker[T]) Call(ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	b.mu.Lock()
	if b.state == Open && b.opts.Clock().Sub(b.lastFailure) >= b.opts.Cooldown {
		b.transition(HalfOpen)
	}
	if b.state == Open || (b.state == HalfOpen && b.probing) {
		v, ok := b.cached, b.hasCached
		b.mu.Unlock()
		if ok {
			b.opts.Logger.Warn("breaker: open, serving cached result", slog.String("name", b.opts.Name))
			return v, nil
		}
		return zero, fmt.Errorf("breaker: %s: %w", b.opts.Name, apperr.ErrCircuitOpen)
	}
	probe := b.state == HalfOpen
	if probe {
		b.probing = true
	}
	b.mu.Unlock()

	v, err := b.invoke(ctx, fn)

	b.mu.Lock()
	defer b.mu.Unlock()
	if probe {
		b.probing = false
	}
	if err == nil {
		b.failures = 0
		b.cached, b.hasCached = v, true
		b.transition(Closed)
		return v, nil
	}

	b.failures++
	b.lastFailure = b.opts.Clock()
	if b.state == HalfOpen || b.failures >= b.opts.Threshold {
		b.transition(Open)
	}
	if b.hasCached {
		b.opts.Logger.Warn("breaker: call failed, serving cached result",
			slog.String("name", b.opts.Name),
			slog.Int("failures", b.failures),
			slog.String("error", err.Error()))
		return b.cached, nil
	}
	return zero, err
}

func (b *Breaker[T]) invoke(ctx context.Context, fn func(context.Context) (T, error)) (v T, err error) {
	if err := ctx.Err(); err != nil {
		return v, err
	}
	return fn(ctx)
}

// transition must be called with mu held.
func (b *Breaker[T]) transition(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	attrs := []any{
		slog.String("name", b.opts.Name),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.Int("failures", b.failures),
	}
	if b.opts.OnStateChange != nil {
		b.opts.OnStateChange(b.opts.Name, from, to)
	}
	if to == Open {
		b.opts.Logger.Warn("breaker: state changed", attrs...)
		return
	}
	b.opts.Logger.Info("breaker: state changed", attrs...)
}

// Backoff returns the wait before retry number attempt using the breaker's
// base and cap.
func (b *Breaker[T]) Backoff(attempt int) time.Duration {
	return Backoff(attempt, b.opts.BaseBackoff, b.opts.MaxBackoff)
}

// maxDoublings bounds the exponent; base*2^maxDoublings exceeds any sane cap.
const maxDoublings = 62

// Backoff returns min(base*2^attempt, maxDelay) randomized by ±Jitter. It
// never returns a negative duration.
func Backoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxDoublings {
		attempt = maxDoublings
	}
	if base > maxDelay {
		base = maxDelay
	}
	eb := &backoff.ExponentialBackOff{
		InitialInterval:     base,
		RandomizationFactor: Jitter,
		Multiplier:          2,
		MaxInterval:         maxDelay,
	}
	eb.Reset()
	var d time.Duration
	for i := 0; i <= attempt; i++ {
		d = eb.NextBackOff()
	}
	if d < 0 {
		return 0
	}
	return d
}
