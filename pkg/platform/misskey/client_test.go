package misskey

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RNA4219/llm-generic-bot/pkg/send"
)

func TestSender_PostsNote(t *testing.T) {
	var got createNote
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/notes/create", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSender(srv.URL, "token123")
	require.NoError(t, s.Send(context.Background(), "misskey", "chan42", "hello"))

	assert.Equal(t, "token123", got.Token)
	assert.Equal(t, "hello", got.Text)
	assert.Equal(t, "chan42", got.ChannelID)
}

func TestSender_HomeTimelineOmitsChannel(t *testing.T) {
	var got createNote
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSender(srv.URL, "token123")
	require.NoError(t, s.Send(context.Background(), "misskey", "home", "hello"))
	assert.Empty(t, got.ChannelID)
}

func TestSender_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewSender(srv.URL, "token123")
	err := s.Send(context.Background(), "misskey", "home", "hello")
	var se *send.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, send.KindRateLimited, se.Kind)
}
