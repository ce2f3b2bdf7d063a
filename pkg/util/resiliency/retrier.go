// Package resiliency wraps calls to external collaborators (provisioner,
// notifier, persistence) with exponential backoff, jitter, and a circuit
// breaker. Only transient faults are retried; permanent faults and
// context cancellation surface immediately.
package resiliency

import (
	"context"
	"crypto/rand"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/Oversight-Labs/sentra/core/pkg/faults"
)

// RetryConfig tunes the retry loop.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// JitterMax caps the random jitter added to each backoff.
	JitterMax time.Duration
}

// DefaultRetryConfig returns the defaults used for provisioning calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		JitterMax:  50 * time.Millisecond,
	}
}

// Retrier retries transient failures with exponential backoff behind a
// circuit breaker.
type Retrier struct {
	cfg     RetryConfig
	breaker *CircuitBreaker
	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetrier creates a retrier. breaker may be nil to disable circuit
// breaking.
func NewRetrier(cfg RetryConfig, breaker *CircuitBreaker) *Retrier {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultRetryConfig().BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultRetryConfig().MaxDelay
	}
	return &Retrier{cfg: cfg, breaker: breaker, sleep: sleepCtx}
}

// Do runs fn until it succeeds, fails permanently, or exhausts the
// retry budget. The last error is returned as-is so its fault kind
// survives.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.breaker != nil && !r.breaker.Allow() {
		return faults.New(faults.TransientExternal, "circuit breaker %s is open", r.breaker.name)
	}

	var err error
	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil {
			if r.breaker != nil {
				r.breaker.Success()
			}
			return nil
		}
		if !faults.IsTransient(err) || attempt == r.cfg.MaxRetries {
			break
		}
		if serr := r.sleep(ctx, r.backoff(attempt)); serr != nil {
			return serr
		}
	}
	if r.breaker != nil {
		r.breaker.Failure()
	}
	return err
}

// backoff computes base * 2^attempt plus jitter, capped at MaxDelay.
func (r *Retrier) backoff(attempt int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt))) * r.cfg.BaseDelay
	if d > r.cfg.MaxDelay {
		d = r.cfg.MaxDelay
	}
	if r.cfg.JitterMax > 0 {
		if n, err := rand.Int(rand.Reader, big.NewInt(int64(r.cfg.JitterMax))); err == nil {
			d += time.Duration(n.Int64())
		}
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type breakerState string

const (
	stateClosed   breakerState = "CLOSED"
	stateOpen     breakerState = "OPEN"
	stateHalfOpen breakerState = "HALF_OPEN"
)

// CircuitBreaker trips open after a threshold of consecutive failures
// and probes again after the reset timeout.
type CircuitBreaker struct {
	mu           sync.Mutex
	name         string
	failureCount int
	threshold    int
	lastFailure  time.Time
	resetTimeout time.Duration
	state        breakerState
	now          func() time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(name string, threshold int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:         name,
		threshold:    threshold,
		resetTimeout: resetTimeout,
		state:        stateClosed,
		now:          time.Now,
	}
}

// Allow reports whether a call may proceed, transitioning to half-open
// once the reset timeout elapses.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == stateOpen {
		if cb.now().Sub(cb.lastFailure) > cb.resetTimeout {
			cb.state = stateHalfOpen
			return true
		}
		return false
	}
	return true
}

// Success resets the breaker.
func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = stateClosed
	cb.failureCount = 0
}

// Failure records a failed call, tripping the breaker at the threshold.
func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount++
	cb.lastFailure = cb.now()
	if cb.failureCount >= cb.threshold {
		cb.state = stateOpen
	}
}
