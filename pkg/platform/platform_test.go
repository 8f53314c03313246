package platform

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RNA4219/llm-generic-bot/pkg/resilience"
	"github.com/RNA4219/llm-generic-bot/pkg/send"
)

type stubSender struct {
	err   error
	calls int
}

func (s *stubSender) Send(context.Context, string, string, string) error {
	s.calls++
	return s.err
}

func TestRegistry_RoutesByPlatform(t *testing.T) {
	r := NewRegistry()
	discord := &stubSender{}
	misskey := &stubSender{}
	r.Register("discord", discord)
	r.Register("misskey", misskey)

	require.NoError(t, r.Send(context.Background(), "discord", "general", "hi"))
	assert.Equal(t, 1, discord.calls)
	assert.Zero(t, misskey.calls)
}

func TestRegistry_UnknownPlatformIsClientError(t *testing.T) {
	r := NewRegistry()
	err := r.Send(context.Background(), "irc", "general", "hi")
	var se *send.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, send.KindClientError, se.Kind)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 2*time.Second, ParseRetryAfter("2", now))
	assert.Equal(t, 1500*time.Millisecond, ParseRetryAfter("1.5", now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("", now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("garbage", now))

	httpDate := now.Add(30 * time.Second).UTC().Format("Mon, 02 Jan 2006 15:04:05 GMT")
	assert.Equal(t, 30*time.Second, ParseRetryAfter(httpDate, now))
}

func TestBreakerSender_OpensAfterFailures(t *testing.T) {
	inner := &stubSender{err: &send.Error{Kind: send.KindServerError, StatusCode: 503}}
	b := WithBreaker("discord", inner)

	cfg := resilience.DefaultCircuitBreakerConfig()
	for i := 0; i < cfg.FailureThreshold; i++ {
		_ = b.Send(context.Background(), "discord", "general", "hi")
	}
	require.Equal(t, resilience.CircuitOpen, b.State())

	err := b.Send(context.Background(), "discord", "general", "hi")
	var se *send.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, send.KindServerError, se.Kind, "open circuit reads as transient")
	assert.True(t, errors.Is(se.Err, resilience.ErrCircuitOpen))
	assert.Equal(t, cfg.FailureThreshold, inner.calls, "open circuit short-circuits the adapter")
}
