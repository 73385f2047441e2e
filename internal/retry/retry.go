package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Backoff selects how the delay between attempts grows.
type Backoff int

const (
	BackoffFixed Backoff = iota
	BackoffExponential
)

// Policy is the single retry abstraction shared by every workflow step
// and bootstrap loop. Zero MaxAttempts means "try once".
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	MaxDelay    time.Duration
	Backoff     Backoff

	// Retryable decides whether an error is worth another attempt.
	// Nil means every error is retryable.
	Retryable func(error) bool

	// OnRetry runs before each delay, after a failed attempt. Used to keep
	// in-flight queue messages alive across long retry chains.
	OnRetry func(attempt int, err error)
}

// Fixed returns a policy with a constant delay between attempts.
func Fixed(attempts int, delay time.Duration) Policy {
	return Policy{MaxAttempts: attempts, Delay: delay, Backoff: BackoffFixed}
}

// Exponential returns a policy that doubles the delay each attempt, capped at maxDelay.
func Exponential(attempts int, initial, maxDelay time.Duration) Policy {
	return Policy{MaxAttempts: attempts, Delay: initial, MaxDelay: maxDelay, Backoff: BackoffExponential}
}

// Permanent marks an error as not retryable regardless of policy.
type Permanent struct {
	Err error
}

func (p *Permanent) Error() string { return p.Err.Error() }
func (p *Permanent) Unwrap() error { return p.Err }

// NotRetryable wraps err so Do gives up immediately.
func NotRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &Permanent{Err: err}
}

// Do runs fn until it succeeds, the policy is exhausted, or ctx is cancelled.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		var perm *Permanent
		if errors.As(err, &perm) {
			return perm.Err
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(p.delay(attempt)):
		}
	}

	return fmt.Errorf("attempts exhausted (%d): %w", attempts, lastErr)
}

func (p Policy) delay(attempt int) time.Duration {
	if p.Backoff == BackoffFixed {
		return p.Delay
	}
	d := float64(p.Delay) * math.Pow(2, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}
