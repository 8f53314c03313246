package send

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSleep records requested waits without sleeping.
func fakeSleep(waits *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
}

func TestRetryPolicy_RateLimitedHonorsRetryAfter(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{MaxAttempts: 3, BaseBackoff: 100 * time.Millisecond})
	var waits []time.Duration
	p.sleep = fakeSleep(&waits)

	calls := 0
	attempts, err := p.Do(context.Background(), func() error {
		calls++
		if calls == 1 {
			return &Error{Kind: KindRateLimited, StatusCode: 429, RetryAfter: 2 * time.Second}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 2, calls)
	require.Len(t, waits, 1)
	assert.GreaterOrEqual(t, waits[0], 2*time.Second, "Retry-After outranks the backoff schedule")
}

func TestRetryPolicy_ClientErrorIsTerminal(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{MaxAttempts: 3, BaseBackoff: time.Millisecond})
	var waits []time.Duration
	p.sleep = fakeSleep(&waits)

	calls := 0
	attempts, err := p.Do(context.Background(), func() error {
		calls++
		return &Error{Kind: KindClientError, StatusCode: 400}
	})

	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrRetryExhausted))
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
	assert.Empty(t, waits)
}

func TestRetryPolicy_ExhaustionBoundsAttempts(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{MaxAttempts: 3, BaseBackoff: time.Millisecond})
	var waits []time.Duration
	p.sleep = fakeSleep(&waits)

	calls := 0
	attempts, err := p.Do(context.Background(), func() error {
		calls++
		return &Error{Kind: KindServerError, StatusCode: 503}
	})

	require.ErrorIs(t, err, ErrRetryExhausted)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls, "no more than max_attempts invocations")
	assert.Len(t, waits, 2)
}

func TestRetryPolicy_BackoffGrowsWithJitterBounds(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{MaxAttempts: 5, BaseBackoff: 100 * time.Millisecond})

	for attempt := 0; attempt < 4; attempt++ {
		expected := float64(100*time.Millisecond) * float64(int(1)<<attempt)
		for i := 0; i < 200; i++ {
			d := float64(p.backoff(attempt))
			assert.GreaterOrEqual(t, d, expected*0.8)
			assert.LessOrEqual(t, d, expected*1.2)
		}
	}
}

func TestRetryPolicy_NetworkErrorsRetried(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{MaxAttempts: 2, BaseBackoff: time.Millisecond})
	var waits []time.Duration
	p.sleep = fakeSleep(&waits)

	calls := 0
	attempts, err := p.Do(context.Background(), func() error {
		calls++
		if calls == 1 {
			return errors.New("connection reset") // unclassified → network
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRetryPolicy_CancellationAtBackoffBoundary(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{MaxAttempts: 5, BaseBackoff: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	p.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	calls := 0
	_, err := p.Do(ctx, func() error {
		calls++
		return &Error{Kind: KindServerError, StatusCode: 500}
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
