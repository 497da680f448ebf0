package resilience

import (
	"context"
	"errors"
	"time"
)

// Caller runs an operation with a per-attempt timeout, bounded retries and an
// optional circuit breaker.
type Caller struct {
	Breaker     *Breaker
	MaxAttempts int
	BaseBackoff time.Duration
	Jitter      float64
	Timeout     time.Duration
	// Retryable decides whether a failed attempt is retried. Nil retries all
	// errors except context cancellation.
	Retryable func(error) bool
}

// Do executes fn. It returns ErrOpenCircuit without calling fn when the
// breaker refuses the call.
func (c Caller) Do(ctx context.Context, fn func(context.Context) error) error {
	if fn == nil {
		return errors.New("resilience: operation not provided")
	}
	attempts := c.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if c.Breaker != nil && !c.Breaker.Allow(ctx) {
			if lastErr != nil {
				return errors.Join(ErrOpenCircuit, lastErr)
			}
			return ErrOpenCircuit
		}
		lastErr = c.once(ctx, fn)
		if c.Breaker != nil {
			c.Breaker.Report(ctx, lastErr == nil)
		}
		if lastErr == nil || attempt == attempts || !c.retryable(lastErr) {
			return lastErr
		}
		timer := time.NewTimer(Backoff(c.BaseBackoff, attempt, c.Jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

func (c Caller) once(ctx context.Context, fn func(context.Context) error) error {
	if c.Timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	return fn(callCtx)
}

func (c Caller) retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if c.Retryable != nil {
		return c.Retryable(err)
	}
	return true
}
