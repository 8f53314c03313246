package platform

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/RNA4219/llm-generic-bot/pkg/send"
)

// Registry routes sends to the adapter registered for each platform. It
// implements send.Sender.
type Registry struct {
	senders map[string]send.Sender
}

// NewRegistry creates an empty sender registry.
func NewRegistry() *Registry {
	return &Registry{senders: make(map[string]send.Sender)}
}

// Register installs an adapter under a platform name.
func (r *Registry) Register(platform string, s send.Sender) {
	r.senders[platform] = s
}

// Platforms lists the registered platform names.
func (r *Registry) Platforms() []string {
	out := make([]string, 0, len(r.senders))
	for name := range r.senders {
		out = append(out, name)
	}
	return out
}

// Send implements send.Sender.
func (r *Registry) Send(ctx context.Context, platform, channel, payload string) error {
	s, ok := r.senders[platform]
	if !ok {
		return &send.Error{
			Kind: send.KindClientError,
			Err:  fmt.Errorf("no sender for platform %q", platform),
		}
	}
	return s.Send(ctx, platform, channel, payload)
}

// ParseRetryAfter interprets a Retry-After header value, which is either a
// number of seconds or an HTTP-date.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
