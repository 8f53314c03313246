package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/RNA4219/llm-generic-bot/pkg/platform"
	"github.com/RNA4219/llm-generic-bot/pkg/send"
)

// Sender posts messages through per-channel Discord webhooks.
type Sender struct {
	webhooks   map[string]string // channel → webhook URL
	httpClient *http.Client
}

// NewSender creates a webhook sender from the channel → URL map.
func NewSender(webhooks map[string]string) *Sender {
	return &Sender{
		webhooks: webhooks,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type webhookPayload struct {
	Content string `json:"content"`
}

// Send implements send.Sender.
func (s *Sender) Send(ctx context.Context, _, channel, payload string) error {
	url, ok := s.webhooks[channel]
	if !ok {
		return &send.Error{
			Kind: send.KindClientError,
			Err:  fmt.Errorf("no webhook for channel %q", channel),
		}
	}

	body, err := json.Marshal(webhookPayload{Content: payload})
	if err != nil {
		return &send.Error{Kind: send.KindClientError, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
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
		fmt.Errorf("discord webhook %s", resp.Status))
}
