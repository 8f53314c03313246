package metrics

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/RNA4219/llm-generic-bot/pkg/send"
)

// snapshotWindow is the rolling aggregation window.
const snapshotWindow = 7 * 24 * time.Hour

// latencyBuckets are the fixed histogram boundaries, in seconds.
var latencyBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

type ringEntry struct {
	at       time.Time
	job      string
	status   string
	reason   string
	duration float64 // seconds; only set on duration samples
	isSample bool
}

// Aggregator implements send.Observer: thread-safe counters keyed by tag-set,
// latency samples, and a rolling 7-day ring feeding the weekly snapshot. It
// also mirrors every event to Prometheus.
type Aggregator struct {
	mu       sync.Mutex
	counters map[string]int64
	ring     []ringEntry
	selfJob  string
}

// NewAggregator creates an aggregator. selfJob names the weekly-report job
// whose own outcomes are excluded from the overall success rate.
func NewAggregator(selfJob string) *Aggregator {
	return &Aggregator{
		counters: make(map[string]int64),
		selfJob:  selfJob,
	}
}

// CountOutcome implements send.Observer.
func (a *Aggregator) CountOutcome(o send.Outcome) {
	RecordOutcome(o.Status, o.Platform, o.Job)
	switch o.Event {
	case send.EventPermitDenied:
		PermitDenied.WithLabelValues(o.Reason, o.Job).Inc()
	case send.EventCooldownSkip:
		SkipsTotal.WithLabelValues("cooldown", o.Job).Inc()
	case send.EventDuplicateSkip:
		SkipsTotal.WithLabelValues("duplicate", o.Job).Inc()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.counters[counterKey(o)]++
	a.ring = append(a.ring, ringEntry{
		at:     o.At,
		job:    strings.TrimSuffix(o.Job, send.DeniedJobSuffix),
		status: o.Status,
		reason: o.Reason,
	})
	a.pruneLocked(o.At)
}

// ObserveSendDuration implements send.Observer.
func (a *Aggregator) ObserveSendDuration(job, platform string, seconds float64) {
	RecordSendDuration(job, platform, seconds)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.ring = append(a.ring, ringEntry{
		at:       time.Now(),
		job:      job,
		duration: seconds,
		isSample: true,
	})
}

// Counter returns the current count for a tag-set, for tests and inspection.
func (a *Aggregator) Counter(event, job, status string) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counters[event+"|"+job+"|"+status]
}

func counterKey(o send.Outcome) string {
	return o.Event + "|" + o.Job + "|" + o.Status
}

func (a *Aggregator) pruneLocked(now time.Time) {
	cut := 0
	for cut < len(a.ring) && now.Sub(a.ring[cut].at) > snapshotWindow {
		cut++
	}
	if cut > 0 {
		a.ring = append(a.ring[:0], a.ring[cut:]...)
	}
}

// JobStats summarizes one job over the snapshot window.
type JobStats struct {
	Sent        int     `json:"sent"`
	Denied      int     `json:"denied"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
	LatencyP50  float64 `json:"latency_p50"`
	LatencyP95  float64 `json:"latency_p95"`
}

// WeeklySnapshot is the 7-day rollup handed to the report renderer.
type WeeklySnapshot struct {
	WindowStart         time.Time            `json:"window_start"`
	WindowEnd           time.Time            `json:"window_end"`
	PerJob              map[string]JobStats  `json:"per_job"`
	SuccessRate         float64              `json:"success_rate"`
	PermitDenialReasons map[string]int       `json:"permit_denial_reasons"`
}

// Snapshot computes the weekly rollup ending at now. The report job's own
// outcomes are excluded from the overall success rate.
func (a *Aggregator) Snapshot(now time.Time) WeeklySnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := now.Add(-snapshotWindow)
	perJob := make(map[string]JobStats)
	reasons := make(map[string]int)
	samples := make(map[string][]float64)
	totalSent, totalFailed := 0, 0

	for _, e := range a.ring {
		if e.at.Before(start) || e.at.After(now) {
			continue
		}
		if e.isSample {
			samples[e.job] = append(samples[e.job], e.duration)
			continue
		}
		st := perJob[e.job]
		switch e.status {
		case send.StatusSuccess:
			st.Sent++
			if e.job != a.selfJob {
				totalSent++
			}
		case send.StatusFailure:
			st.Failed++
			if e.job != a.selfJob {
				totalFailed++
			}
		case send.StatusDenied:
			st.Denied++
			if e.reason != "" {
				reasons[e.reason]++
			}
		}
		perJob[e.job] = st
	}

	for job, st := range perJob {
		if st.Sent+st.Failed > 0 {
			st.SuccessRate = float64(st.Sent) / float64(st.Sent+st.Failed)
		}
		st.LatencyP50 = quantile(samples[job], 0.50)
		st.LatencyP95 = quantile(samples[job], 0.95)
		perJob[job] = st
	}

	snap := WeeklySnapshot{
		WindowStart:         start,
		WindowEnd:           now,
		PerJob:              perJob,
		PermitDenialReasons: reasons,
	}
	if totalSent+totalFailed > 0 {
		snap.SuccessRate = float64(totalSent) / float64(totalSent+totalFailed)
	}
	return snap
}

// quantile estimates a latency quantile from the fixed bucket boundaries:
// samples are bucketed, then the boundary whose cumulative count crosses the
// rank is returned.
func quantile(samples []float64, q float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	counts := make([]int, len(latencyBuckets)+1)
	for _, s := range samples {
		i := sort.SearchFloat64s(latencyBuckets, s)
		counts[i]++
	}
	rank := int(q*float64(len(samples)-1)) + 1
	cum := 0
	for i, c := range counts {
		cum += c
		if cum >= rank {
			if i < len(latencyBuckets) {
				return latencyBuckets[i]
			}
			return latencyBuckets[len(latencyBuckets)-1]
		}
	}
	return latencyBuckets[len(latencyBuckets)-1]
}
