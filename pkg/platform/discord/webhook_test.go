package discord

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RNA4219/llm-generic-bot/pkg/send"
)

func serveStatus(t *testing.T, status int, headers map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.NotEmpty(t, body["content"])
		for k, v := range headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSender_Success(t *testing.T) {
	srv := serveStatus(t, http.StatusNoContent, nil)
	s := NewSender(map[string]string{"general": srv.URL})

	err := s.Send(context.Background(), "discord", "general", "hello")
	assert.NoError(t, err)
}

func TestSender_RateLimitedCarriesRetryAfter(t *testing.T) {
	srv := serveStatus(t, http.StatusTooManyRequests, map[string]string{"Retry-After": "2"})
	s := NewSender(map[string]string{"general": srv.URL})

	err := s.Send(context.Background(), "discord", "general", "hello")
	var se *send.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, send.KindRateLimited, se.Kind)
	assert.Equal(t, 2*time.Second, se.RetryAfter)
	assert.True(t, se.Retryable())
}

func TestSender_ServerErrorRetryable(t *testing.T) {
	srv := serveStatus(t, http.StatusBadGateway, nil)
	s := NewSender(map[string]string{"general": srv.URL})

	err := s.Send(context.Background(), "discord", "general", "hello")
	var se *send.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, send.KindServerError, se.Kind)
	assert.True(t, se.Retryable())
}

func TestSender_ClientErrorTerminal(t *testing.T) {
	srv := serveStatus(t, http.StatusBadRequest, nil)
	s := NewSender(map[string]string{"general": srv.URL})

	err := s.Send(context.Background(), "discord", "general", "hello")
	var se *send.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, send.KindClientError, se.Kind)
	assert.False(t, se.Retryable())
}

func TestSender_UnknownChannel(t *testing.T) {
	s := NewSender(map[string]string{})
	err := s.Send(context.Background(), "discord", "nowhere", "hello")
	var se *send.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, send.KindClientError, se.Kind)
}

func TestSender_NetworkError(t *testing.T) {
	s := NewSender(map[string]string{"general": "http://127.0.0.1:1"})
	err := s.Send(context.Background(), "discord", "general", "hello")
	var se *send.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, send.KindNetwork, se.Kind)
	assert.NotNil(t, se.Err)
}
