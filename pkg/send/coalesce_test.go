package send

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reqAt(platform, channel, job, payload string, prio Priority, t time.Time) Request {
	return NewRequest(platform, channel, job, payload, prio, t)
}

func TestCoalesceQueue_MergesSameKeyWithinWindow(t *testing.T) {
	q := NewCoalesceQueue(CoalesceConfig{Window: 5 * time.Second, Threshold: 10})
	t0 := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	q.Push(reqAt("discord", "general", "news", "a", PriorityNormal, t0), t0)
	q.Push(reqAt("discord", "general", "news", "b", PriorityNormal, t0), t0.Add(time.Second))

	require.Empty(t, q.PopReady(t0.Add(2*time.Second)), "batch still inside window")

	batches := q.PopReady(t0.Add(5 * time.Second))
	require.Len(t, batches, 1)
	assert.Equal(t, 2, batches[0].Len())
	assert.Equal(t, "a", batches[0].Requests[0].Payload)
	assert.Equal(t, "b", batches[0].Requests[1].Payload)
}

func TestCoalesceQueue_ThresholdClosesImmediately(t *testing.T) {
	q := NewCoalesceQueue(CoalesceConfig{Window: time.Minute, Threshold: 2})
	t0 := time.Now()

	q.Push(reqAt("discord", "general", "news", "a", PriorityNormal, t0), t0)
	q.Push(reqAt("discord", "general", "news", "b", PriorityNormal, t0), t0)

	batches := q.PopReady(t0)
	require.Len(t, batches, 1)
	assert.Equal(t, 2, batches[0].Len())
}

func TestCoalesceQueue_ChannelIsolation(t *testing.T) {
	q := NewCoalesceQueue(CoalesceConfig{Window: time.Second, Threshold: 10})
	t0 := time.Now()

	q.Push(reqAt("discord", "general", "news", "a", PriorityNormal, t0), t0)
	q.Push(reqAt("discord", "random", "news", "b", PriorityNormal, t0), t0)
	q.Push(reqAt("misskey", "general", "news", "c", PriorityNormal, t0), t0)

	batches := q.PopReady(t0.Add(time.Second))
	require.Len(t, batches, 3, "same job must not merge across (platform, channel)")
	for _, b := range batches {
		assert.Equal(t, 1, b.Len(), "single-payload batches are normal")
	}
}

func TestCoalesceQueue_PriorityMismatchCutsBatch(t *testing.T) {
	q := NewCoalesceQueue(CoalesceConfig{Window: time.Minute, Threshold: 10})
	t0 := time.Now()

	q.Push(reqAt("discord", "general", "news", "a", PriorityNormal, t0), t0)
	q.Push(reqAt("discord", "general", "news", "b", PriorityHigh, t0), t0.Add(time.Millisecond))

	// The normal batch was cut and is ready; the high one is still open.
	batches := q.PopReady(t0.Add(2 * time.Millisecond))
	require.Len(t, batches, 1)
	assert.Equal(t, PriorityNormal, batches[0].Priority)
	assert.Equal(t, "a", batches[0].Requests[0].Payload)

	batches = q.PopReady(t0.Add(2 * time.Minute))
	require.Len(t, batches, 1)
	assert.Equal(t, PriorityHigh, batches[0].Priority)
}

func TestCoalesceQueue_ReadyOrderPriorityThenOpenedAt(t *testing.T) {
	q := NewCoalesceQueue(CoalesceConfig{Window: time.Second, Threshold: 10})
	t0 := time.Now()

	q.Push(reqAt("discord", "a", "news", "1", PriorityNormal, t0), t0)
	q.Push(reqAt("discord", "b", "news", "2", PriorityNormal, t0), t0.Add(time.Millisecond))
	q.Push(reqAt("discord", "c", "alert", "3", PriorityHigh, t0), t0.Add(2*time.Millisecond))

	batches := q.PopReady(t0.Add(time.Minute))
	require.Len(t, batches, 3)
	assert.Equal(t, "alert", batches[0].Key.Job, "high priority drains first")
	assert.Equal(t, "a", batches[1].Key.Channel, "FIFO by opened_at within priority")
	assert.Equal(t, "b", batches[2].Key.Channel)
}

func TestCoalesceQueue_FlushReturnsOpenBatches(t *testing.T) {
	q := NewCoalesceQueue(CoalesceConfig{Window: time.Hour, Threshold: 100})
	t0 := time.Now()
	q.Push(reqAt("discord", "general", "news", "a", PriorityNormal, t0), t0)

	batches := q.Flush()
	require.Len(t, batches, 1)

	open, ready := q.Depth()
	assert.Zero(t, open)
	assert.Zero(t, ready)
}
