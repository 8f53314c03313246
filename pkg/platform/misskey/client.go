package misskey

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/RNA4219/llm-generic-bot/pkg/platform"
	"github.com/RNA4219/llm-generic-bot/pkg/send"
)

// Sender posts notes to a Misskey instance.
type Sender struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewSender creates a Misskey sender for one instance.
func NewSender(baseURL, token string) *Sender {
	return &Sender{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type createNote struct {
	Token     string `json:"i"`
	Text      string `json:"text"`
	ChannelID string `json:"channelId,omitempty"`
}

// Send implements send.Sender. The channel maps to a Misskey channel ID;
// the conventional "home" posts to the home timeline.
func (s *Sender) Send(ctx context.Context, _, channel, payload string) error {
	note := createNote{Token: s.token, Text: payload}
	if channel != "" && channel != "home" {
		note.ChannelID = channel
	}
	body, err := json.Marshal(note)
	if err != nil {
		return &send.Error{Kind: send.KindClientError, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/api/notes/create", bytes.NewReader(body))
	if err != nil {
		return &send.Error{Kind: send.KindClientError, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &send.Error{Kind: send.KindNetwork, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	retryAfter := platform.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	return send.FromStatus(resp.StatusCode, retryAfter,
		fmt.Errorf("misskey notes/create %s", resp.Status))
}
