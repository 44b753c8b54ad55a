package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nightslayer18/skeenode-contracts/internal/resilience"
)

func TestBreaker_InitialStateClosed(t *testing.T) {
	b := resilience.New("test", resilience.DefaultConfig())
	require.Equal(t, resilience.Closed, b.State())
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cfg := resilience.Config{FailureThreshold: 3, SuccessThreshold: 2, Timeout: 100 * time.Millisecond, MaxProbes: 1}
	b := resilience.New("test", cfg)

	for i := 0; i < 3; i++ {
		_ = b.Run(context.Background(), func(ctx context.Context) error {
			return errors.New("boom")
		})
	}

	require.Equal(t, resilience.Open, b.State())
}

func TestBreaker_HalfOpensAfterTimeoutThenRecloses(t *testing.T) {
	cfg := resilience.Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: 10 * time.Millisecond, MaxProbes: 1}
	b := resilience.New("test", cfg)

	_ = b.Run(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	require.Equal(t, resilience.Open, b.State())

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, resilience.HalfOpen, b.State())

	err := b.Run(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	require.Equal(t, resilience.Closed, b.State())
}

func TestBreaker_ShortCircuitsWhileOpen(t *testing.T) {
	cfg := resilience.Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Minute, MaxProbes: 1}
	b := resilience.New("test", cfg)

	_ = b.Run(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	require.Equal(t, resilience.Open, b.State())

	called := false
	err := b.Run(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	require.Error(t, err)
	require.False(t, called, "fn must not run while the breaker is open")
}

func TestBreaker_ResetForcesClosed(t *testing.T) {
	cfg := resilience.Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Minute, MaxProbes: 1}
	b := resilience.New("test", cfg)
	_ = b.Run(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	require.Equal(t, resilience.Open, b.State())

	b.Reset()
	require.Equal(t, resilience.Closed, b.State())
}

func TestBreaker_RetryTransientStopsOnSuccess(t *testing.T) {
	b := resilience.New("test", resilience.DefaultConfig())
	attempts := 0
	err := b.RetryTransient(context.Background(), "claim", 5, func(error) bool { return true }, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("serialization conflict")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestBreaker_RetryTransientExhaustsAsInternal(t *testing.T) {
	b := resilience.New("test", resilience.DefaultConfig())
	err := b.RetryTransient(context.Background(), "claim", 3, func(error) bool { return true }, func(ctx context.Context) error {
		return errors.New("serialization conflict")
	})
	require.Error(t, err)
}
