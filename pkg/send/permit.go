package send

import (
	"sync"
	"time"
)

// Permit denial reasons, surfaced in logs and metrics.
const (
	ReasonQuotaAvailable       = "quota_available"
	ReasonQuotaExceeded        = "quota_exceeded"
	ReasonChannelUnknown       = "channel_unknown"
	ReasonConfigurationMissing = "configuration_missing"
)

// DeniedJobSuffix is appended to the job tag on denial so audit trails
// distinguish granted from denied flows.
const DeniedJobSuffix = "-denied"

// Decision is the outcome of a single admission check.
type Decision struct {
	Granted   bool
	Reason    string
	JobSuffix string
	Retryable bool
}

// ChannelQuota bounds successful sends per channel over a sliding window.
type ChannelQuota struct {
	Window    time.Duration
	MaxEvents int
}

// PermitConfig configures the gate. Channels maps "platform:channel" keys to
// their quotas. When DenyUnknown is set, channels without a quota are denied
// instead of passed through unlimited.
type PermitConfig struct {
	Channels    map[string]ChannelQuota
	DenyUnknown bool
}

type quotaState struct {
	quota ChannelQuota
	ring  []time.Time
}

// Only timestamps younger than the window survive; called on every touch.
func (s *quotaState) evict(now time.Time) {
	cut := 0
	for cut < len(s.ring) && now.Sub(s.ring[cut]) >= s.quota.Window {
		cut++
	}
	if cut > 0 {
		s.ring = append(s.ring[:0], s.ring[cut:]...)
	}
}

// PermitGate is a per-channel sliding-window admission controller. Admit is
// read-only; quota is consumed by ObserveSuccess after a successful dispatch,
// so denied and failed attempts never count against the window.
type PermitGate struct {
	mu       sync.Mutex
	channels map[string]*quotaState
	deny     bool
	empty    bool
}

// NewPermitGate builds the gate from config.
func NewPermitGate(cfg PermitConfig) *PermitGate {
	g := &PermitGate{
		channels: make(map[string]*quotaState, len(cfg.Channels)),
		deny:     cfg.DenyUnknown,
		empty:    len(cfg.Channels) == 0,
	}
	for ch, q := range cfg.Channels {
		g.channels[ch] = &quotaState{quota: q}
	}
	return g
}

// Admit decides whether a send to the channel may proceed at now. It does not
// record the event.
func (g *PermitGate) Admit(channel string, now time.Time) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.channels[channel]
	if !ok {
		if !g.deny {
			return Decision{Granted: true, Reason: ReasonQuotaAvailable}
		}
		reason := ReasonChannelUnknown
		if g.empty {
			reason = ReasonConfigurationMissing
		}
		return Decision{Reason: reason, JobSuffix: DeniedJobSuffix}
	}

	st.evict(now)
	if len(st.ring) < st.quota.MaxEvents {
		return Decision{Granted: true, Reason: ReasonQuotaAvailable}
	}
	return Decision{
		Reason:    ReasonQuotaExceeded,
		JobSuffix: DeniedJobSuffix,
		Retryable: true,
	}
}

// ObserveSuccess records a successful dispatch against the channel's window.
func (g *PermitGate) ObserveSuccess(channel string, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.channels[channel]
	if !ok {
		return
	}
	st.evict(now)
	st.ring = append(st.ring, now)
}

// WindowLen reports how many events currently occupy the channel's window.
func (g *PermitGate) WindowLen(channel string, now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.channels[channel]
	if !ok {
		return 0
	}
	st.evict(now)
	return len(st.ring)
}
