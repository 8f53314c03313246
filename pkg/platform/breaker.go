package platform

import (
	"context"
	"errors"

	"github.com/RNA4219/llm-generic-bot/pkg/resilience"
	"github.com/RNA4219/llm-generic-bot/pkg/send"
)

// BreakerSender guards one platform adapter with a circuit breaker so a dead
// platform stops eating the retry budget. An open circuit is reported as a
// server error, which the retry policy treats as transient.
type BreakerSender struct {
	inner   send.Sender
	breaker *resilience.CircuitBreaker
}

// WithBreaker wraps a sender in a named circuit breaker.
func WithBreaker(name string, inner send.Sender) *BreakerSender {
	return &BreakerSender{
		inner:   inner,
		breaker: resilience.NewCircuitBreaker(name, resilience.DefaultCircuitBreakerConfig()),
	}
}

// Send implements send.Sender.
func (b *BreakerSender) Send(ctx context.Context, platform, channel, payload string) error {
	err := b.breaker.Execute(ctx, func() error {
		return b.inner.Send(ctx, platform, channel, payload)
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return &send.Error{Kind: send.KindServerError, Err: err}
	}
	return err
}

// State exposes the breaker state for the ops health endpoint.
func (b *BreakerSender) State() resilience.CircuitState {
	return b.breaker.State()
}
