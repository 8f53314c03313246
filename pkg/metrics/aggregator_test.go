package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RNA4219/llm-generic-bot/pkg/send"
)

func outcomeAt(event, job, status, reason string, at time.Time) send.Outcome {
	return send.Outcome{
		Event: event, Job: job, Platform: "discord", Channel: "general",
		Status: status, Reason: reason, At: at,
	}
}

func TestAggregator_WeeklySnapshotCounts(t *testing.T) {
	a := NewAggregator("weekly_report")
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		a.CountOutcome(outcomeAt(send.EventSendSuccess, "news", send.StatusSuccess, "", now.Add(time.Duration(i)*time.Hour)))
	}
	for i := 0; i < 2; i++ {
		a.CountOutcome(outcomeAt(send.EventSendFailure, "news", send.StatusFailure, "server_error", now.Add(time.Duration(i)*time.Hour)))
	}
	a.CountOutcome(outcomeAt(send.EventPermitDenied, "news-denied", send.StatusDenied, send.ReasonQuotaExceeded, now))

	snap := a.Snapshot(now.Add(24 * time.Hour))

	require.Contains(t, snap.PerJob, "news")
	st := snap.PerJob["news"]
	assert.Equal(t, 10, st.Sent)
	assert.Equal(t, 2, st.Failed)
	assert.Equal(t, 1, st.Denied, "denied outcomes bucket under the original job name")
	assert.InDelta(t, 10.0/12.0, st.SuccessRate, 1e-9)
	assert.InDelta(t, 10.0/12.0, snap.SuccessRate, 1e-9)
	assert.Equal(t, 1, snap.PermitDenialReasons[send.ReasonQuotaExceeded])
}

func TestAggregator_SelfJobExcludedFromOverallRate(t *testing.T) {
	a := NewAggregator("weekly_report")
	now := time.Now()

	a.CountOutcome(outcomeAt(send.EventSendSuccess, "news", send.StatusSuccess, "", now))
	a.CountOutcome(outcomeAt(send.EventSendFailure, "news", send.StatusFailure, "network", now))
	// The report job's own failure must not drag the overall rate down.
	a.CountOutcome(outcomeAt(send.EventSendFailure, "weekly_report", send.StatusFailure, "network", now))

	snap := a.Snapshot(now)
	assert.InDelta(t, 0.5, snap.SuccessRate, 1e-9)
	assert.Equal(t, 1, snap.PerJob["weekly_report"].Failed,
		"per-job stats still list the report job")
}

func TestAggregator_EntriesOutsideWindowIgnored(t *testing.T) {
	a := NewAggregator("weekly_report")
	now := time.Now()

	a.CountOutcome(outcomeAt(send.EventSendSuccess, "news", send.StatusSuccess, "", now.Add(-8*24*time.Hour)))
	a.CountOutcome(outcomeAt(send.EventSendSuccess, "news", send.StatusSuccess, "", now))

	snap := a.Snapshot(now)
	assert.Equal(t, 1, snap.PerJob["news"].Sent)
}

func TestAggregator_LatencyQuantiles(t *testing.T) {
	a := NewAggregator("weekly_report")
	now := time.Now()

	a.CountOutcome(outcomeAt(send.EventSendSuccess, "news", send.StatusSuccess, "", now))
	for i := 0; i < 90; i++ {
		a.ObserveSendDuration("news", "discord", 0.02)
	}
	for i := 0; i < 10; i++ {
		a.ObserveSendDuration("news", "discord", 3.0)
	}

	snap := a.Snapshot(time.Now())
	st := snap.PerJob["news"]
	assert.InDelta(t, 0.025, st.LatencyP50, 1e-9, "p50 lands in the 25ms bucket")
	assert.InDelta(t, 5.0, st.LatencyP95, 1e-9, "p95 lands in the 5s bucket")
}

func TestAggregator_CounterByTagSet(t *testing.T) {
	a := NewAggregator("weekly_report")
	now := time.Now()
	a.CountOutcome(outcomeAt(send.EventSendSuccess, "news", send.StatusSuccess, "", now))
	a.CountOutcome(outcomeAt(send.EventSendSuccess, "news", send.StatusSuccess, "", now))

	assert.Equal(t, int64(2), a.Counter(send.EventSendSuccess, "news", send.StatusSuccess))
	assert.Equal(t, int64(0), a.Counter(send.EventSendFailure, "news", send.StatusFailure))
}

func TestQuantile_Empty(t *testing.T) {
	if q := quantile(nil, 0.5); q != 0 {
		t.Errorf("expected 0 for no samples, got %v", q)
	}
}
