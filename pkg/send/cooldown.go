package send

import (
	"sync"
	"time"
)

// cooldownDecayStep is how much of the adaptive factor is shed per elapsed
// base window since the previous success.
const cooldownDecayStep = 0.25

// JobCooldown configures the minimum interval between successful sends for
// one job.
type JobCooldown struct {
	BaseWindow time.Duration
	MaxFactor  float64
	Growth     float64
}

// CooldownConfig configures the gate. A disabled gate permits everything.
type CooldownConfig struct {
	Enabled bool
	Jobs    map[string]JobCooldown
}

type cooldownState struct {
	cfg           JobCooldown
	lastSuccessAt time.Time
	factor        float64
}

// CooldownGate suppresses repeat sends per job within an adaptively
// stretched window. Jobs without configuration pass through.
type CooldownGate struct {
	mu      sync.Mutex
	enabled bool
	jobs    map[string]*cooldownState
}

// NewCooldownGate builds the gate from config.
func NewCooldownGate(cfg CooldownConfig) *CooldownGate {
	g := &CooldownGate{
		enabled: cfg.Enabled,
		jobs:    make(map[string]*cooldownState, len(cfg.Jobs)),
	}
	for name, jc := range cfg.Jobs {
		if jc.MaxFactor < 1 {
			jc.MaxFactor = 1
		}
		if jc.Growth < 1 {
			jc.Growth = 1
		}
		g.jobs[name] = &cooldownState{cfg: jc, factor: 1}
	}
	return g
}

// Check reports whether the job may send at now. A deny is terminal for the
// request; the orchestrator drops it with a cooldown_skip outcome.
func (g *CooldownGate) Check(job string, now time.Time) bool {
	if !g.enabled {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.jobs[job]
	if !ok || st.lastSuccessAt.IsZero() {
		return true
	}
	window := time.Duration(float64(st.cfg.BaseWindow) * st.factor)
	return now.Sub(st.lastSuccessAt) >= window
}

// RecordSuccess advances the job's last-success mark and adapts the factor:
// back-to-back sends inside the base window stretch it, quiet stretches decay
// it toward 1.0.
func (g *CooldownGate) RecordSuccess(job string, now time.Time) {
	if !g.enabled {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.jobs[job]
	if !ok {
		return
	}
	if !st.lastSuccessAt.IsZero() && st.cfg.BaseWindow > 0 {
		elapsed := now.Sub(st.lastSuccessAt)
		if elapsed < st.cfg.BaseWindow {
			st.factor = min(st.factor*st.cfg.Growth, st.cfg.MaxFactor)
		} else {
			windows := float64(elapsed) / float64(st.cfg.BaseWindow)
			st.factor = max(1, st.factor-cooldownDecayStep*windows)
		}
	}
	st.lastSuccessAt = now
}

// Factor exposes the current adaptive factor for a job, for inspection.
func (g *CooldownGate) Factor(job string) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if st, ok := g.jobs[job]; ok {
		return st.factor
	}
	return 1
}
