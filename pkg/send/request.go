package send

import (
	"time"

	"github.com/google/uuid"
)

// Priority orders batches at dispatch time. Higher values drain first.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
)

func (p Priority) String() string {
	if p == PriorityHigh {
		return "high"
	}
	return "normal"
}

// ParsePriority maps a config string to a Priority. Unknown values fall
// back to normal.
func ParsePriority(s string) Priority {
	if s == "high" {
		return PriorityHigh
	}
	return PriorityNormal
}

// Request is a single outbound message. It is immutable after creation and
// owned by the pipeline from enqueue until a terminal outcome is recorded.
type Request struct {
	Platform      string
	Channel       string
	Job           string
	Payload       string
	CorrelationID string
	EnqueuedAt    time.Time
	Priority      Priority
}

// NewRequest stamps a request with a fresh correlation ID and enqueue time.
func NewRequest(platform, channel, job, payload string, priority Priority, now time.Time) Request {
	return Request{
		Platform:      platform,
		Channel:       channel,
		Job:           job,
		Payload:       payload,
		CorrelationID: uuid.New().String(),
		EnqueuedAt:    now,
		Priority:      priority,
	}
}

// BatchKey identifies the coalescing bucket. Batches never cross keys.
type BatchKey struct {
	Platform string
	Channel  string
	Job      string
}

// Key returns the request's coalescing bucket.
func (r Request) Key() BatchKey {
	return BatchKey{Platform: r.Platform, Channel: r.Channel, Job: r.Job}
}

// Batch is a group of requests bound for the same destination, opened on the
// first push and closed on window expiry, size threshold, or a priority cut.
type Batch struct {
	Key      BatchKey
	Requests []Request
	OpenedAt time.Time
	Priority Priority

	// seq breaks OpenedAt ties during a drain, in insertion order.
	seq uint64
}

// Len returns the number of requests in the batch.
func (b *Batch) Len() int { return len(b.Requests) }
