package send

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// ErrRetryExhausted wraps the final failure once the attempt budget is spent.
var ErrRetryExhausted = errors.New("retry attempts exhausted")

// RetryConfig bounds transient-failure retries.
type RetryConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryConfig returns the production defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  5 * time.Minute,
	}
}

// RetryPolicy drives bounded retries with exponential backoff. Rate-limited
// failures honor the server's Retry-After; client errors stop immediately.
type RetryPolicy struct {
	cfg RetryConfig

	// test seams
	sleep func(ctx context.Context, d time.Duration) error
	rand  func() float64
}

// NewRetryPolicy builds a policy from config. Zero values are replaced with
// defaults.
func NewRetryPolicy(cfg RetryConfig) *RetryPolicy {
	def := DefaultRetryConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	return &RetryPolicy{
		cfg:   cfg,
		sleep: sleepCtx,
		rand:  rand.Float64,
	}
}

// Do invokes fn up to MaxAttempts times. It returns the attempt count and the
// terminal error, wrapped in ErrRetryExhausted when the budget ran out on a
// retryable failure. Cancellation is honored at each backoff boundary.
func (p *RetryPolicy) Do(ctx context.Context, fn func() error) (int, error) {
	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt, err
		}

		lastErr = fn()
		if lastErr == nil {
			return attempt + 1, nil
		}

		var se *Error
		if errors.As(lastErr, &se) && !se.Retryable() {
			return attempt + 1, lastErr
		}
		if attempt+1 >= p.cfg.MaxAttempts {
			break
		}

		wait := p.backoff(attempt)
		if errors.As(lastErr, &se) && se.Kind == KindRateLimited && se.RetryAfter > wait {
			wait = se.RetryAfter
		}
		if err := p.sleep(ctx, wait); err != nil {
			return attempt + 1, err
		}
	}
	return p.cfg.MaxAttempts, errors.Join(ErrRetryExhausted, lastErr)
}

// backoff computes base * 2^attempt, capped at MaxBackoff, then applies a ±20%
// jitter to the capped value.
func (p *RetryPolicy) backoff(attempt int) time.Duration {
	d := float64(p.cfg.BaseBackoff) * math.Pow(2, float64(attempt))
	if d > float64(p.cfg.MaxBackoff) {
		d = float64(p.cfg.MaxBackoff)
	}
	jitter := (p.rand() - 0.5) * 0.4 * d
	return time.Duration(d + jitter)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
