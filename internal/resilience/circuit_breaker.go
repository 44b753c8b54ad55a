// Package resilience guards the store's bounded retry loop for
// request-work! serialization conflicts (§7): after too many consecutive
// transient conflicts in a row, the breaker opens for a cooldown so the
// contended claim index isn't hammered, and callers see model.ErrInternal
// while it's open. Grounded on the teacher's pkg/resilience circuit
// breaker, originally built to guard its AI prediction call.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/nightslayer18/skeenode-contracts/internal/core/model"
	"github.com/nightslayer18/skeenode-contracts/internal/observability/metrics"
)

// State is the circuit breaker's current disposition.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Config tunes one breaker.
type Config struct {
	// FailureThreshold is how many consecutive failures close→open.
	FailureThreshold int
	// SuccessThreshold is how many consecutive half-open successes reclose.
	SuccessThreshold int
	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration
	// MaxProbes bounds the total number of requests one half-open period
	// lets through; the count resets only when the breaker recloses or reopens.
	MaxProbes int
}

// DefaultConfig mirrors the teacher's defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
		MaxProbes:        3,
	}
}

// Breaker wraps a bounded-retry loop so a contended claim path sheds load
// instead of retrying against the database forever.
type Breaker struct {
	name   string
	config Config

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	probes      int
	lastFailure time.Time
}

// New builds a named Breaker. The name labels the CircuitBreakerState gauge.
func New(name string, config Config) *Breaker {
	return &Breaker{name: name, config: config, state: Closed}
}

// State returns the breaker's current state, resolving an expired Open
// cooldown to HalfOpen as a side-effect-free read.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resolvedState()
}

func (b *Breaker) resolvedState() State {
	if b.state == Open && time.Since(b.lastFailure) >= b.config.Timeout {
		return HalfOpen
	}
	return b.state
}

// Run executes fn under breaker protection. While open it short-circuits
// with model.ErrInternal rather than invoking fn at all.
func (b *Breaker) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn(ctx)
	b.after(err)
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.resolvedState() {
	case Closed:
		return nil
	case Open:
		return model.WrapError(model.KindInternal, "circuit breaker "+b.name+" open", nil)
	default: // HalfOpen
		if b.probes >= b.config.MaxProbes {
			return model.WrapError(model.KindInternal, "circuit breaker "+b.name+" half-open probe limit reached", nil)
		}
		if b.state == Open {
			b.state = HalfOpen
			b.probes = 0
		}
		b.probes++
		return nil
	}
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.onFailure()
	} else {
		b.onSuccess()
	}
	metrics.CircuitBreakerState.WithLabelValues(b.name).Set(float64(b.state))
}

func (b *Breaker) onFailure() {
	b.failures++
	b.successes = 0
	b.lastFailure = time.Now()

	switch b.resolvedState() {
	case Closed:
		if b.failures >= b.config.FailureThreshold {
			b.state = Open
			b.probes = 0
		}
	case HalfOpen:
		b.state = Open
		b.probes = 0
	}
}

func (b *Breaker) onSuccess() {
	switch b.resolvedState() {
	case Closed:
		b.failures = 0
	case HalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.state = Closed
			b.failures = 0
			b.successes = 0
			b.probes = 0
		}
	}
}

// Reset forces the breaker back to Closed, used by tests and operator tooling.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.successes = 0
	b.probes = 0
}

// RetryTransient retries fn up to maxAttempts times while shouldRetry(err)
// holds, recording a StoreRetries sample per extra attempt and running the
// whole loop under the breaker so a run of transient conflicts eventually
// opens it (§5, §7: "retried a bounded number of times internally;
// exhausting retries surfaces as internal").
func (b *Breaker) RetryTransient(ctx context.Context, operation string, maxAttempts int, shouldRetry func(error) bool, fn func(ctx context.Context) error) error {
	var lastErr error
	err := b.Run(ctx, func(ctx context.Context) error {
		for attempt := 0; attempt < maxAttempts; attempt++ {
			lastErr = fn(ctx)
			if lastErr == nil {
				return nil
			}
			if !shouldRetry(lastErr) {
				return lastErr
			}
			if attempt+1 < maxAttempts {
				metrics.StoreRetries.WithLabelValues(operation).Inc()
			}
		}
		return model.WrapError(model.KindInternal, "exhausted retries on "+operation, lastErr)
	})
	return err
}
