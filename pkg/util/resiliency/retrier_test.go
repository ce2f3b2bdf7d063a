package resiliency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Oversight-Labs/sentra/core/pkg/faults"
)

func instantRetrier(cfg RetryConfig, breaker *CircuitBreaker) *Retrier {
	r := NewRetrier(cfg, breaker)
	r.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return r
}

func TestRetriesTransientUntilSuccess(t *testing.T) {
	r := instantRetrier(RetryConfig{MaxRetries: 3}, nil)

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return faults.New(faults.TransientExternal, "flaky")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestPermanentFaultIsNotRetried(t *testing.T) {
	r := instantRetrier(RetryConfig{MaxRetries: 5}, nil)

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return faults.New(faults.PermanentExternal, "role does not exist")
	})
	require.Equal(t, 1, calls)
	require.True(t, faults.IsKind(err, faults.PermanentExternal))
}

func TestRetryBudgetExhausted(t *testing.T) {
	r := instantRetrier(RetryConfig{MaxRetries: 2}, nil)

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return faults.New(faults.TransientExternal, "still down")
	})
	require.Equal(t, 3, calls, "initial attempt plus two retries")
	require.True(t, faults.IsKind(err, faults.TransientExternal))
}

func TestCancellationStopsRetrying(t *testing.T) {
	r := NewRetrier(RetryConfig{MaxRetries: 5, BaseDelay: time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := r.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return faults.New(faults.TransientExternal, "down")
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestBreakerTripsAndRecovers(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("provisioner", 2, 10*time.Second)
	cb.now = func() time.Time { return now }

	require.True(t, cb.Allow())
	cb.Failure()
	require.True(t, cb.Allow())
	cb.Failure()
	require.False(t, cb.Allow(), "threshold reached, breaker open")

	// After the reset timeout the breaker half-opens.
	now = now.Add(11 * time.Second)
	require.True(t, cb.Allow())
	cb.Success()
	require.True(t, cb.Allow())
}

func TestOpenBreakerShortCircuitsDo(t *testing.T) {
	cb := NewCircuitBreaker("provisioner", 1, time.Hour)
	cb.Failure()
	r := instantRetrier(RetryConfig{MaxRetries: 3}, cb)

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	require.Error(t, err)
	require.Equal(t, 0, calls)
	require.True(t, faults.IsKind(err, faults.TransientExternal))
}
