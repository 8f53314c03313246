package report

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RNA4219/llm-generic-bot/pkg/metrics"
	"github.com/RNA4219/llm-generic-bot/pkg/send"
)

func seededAggregator(now time.Time) *metrics.Aggregator {
	a := metrics.NewAggregator(JobName)
	for i := 0; i < 3; i++ {
		a.CountOutcome(send.Outcome{
			Event: send.EventSendSuccess, Job: "news", Platform: "discord",
			Channel: "general", Status: send.StatusSuccess, At: now,
		})
	}
	a.CountOutcome(send.Outcome{
		Event: send.EventPermitDenied, Job: "news-denied", Platform: "discord",
		Channel: "general", Status: send.StatusDenied,
		Reason: send.ReasonQuotaExceeded, At: now,
	})
	return a
}

func TestRenderer_DefaultTemplate(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	r, err := NewRenderer("")
	require.NoError(t, err)

	text, err := r.Render(seededAggregator(now).Snapshot(now))
	require.NoError(t, err)

	assert.Contains(t, text, "news: sent=3 denied=1 failed=0")
	assert.Contains(t, text, "quota_exceeded=1")
	assert.Contains(t, text, "100.0%")
}

func TestRenderer_RejectsBadTemplate(t *testing.T) {
	_, err := NewRenderer("{{.Broken")
	assert.Error(t, err)
}

func TestBuilder_RendersAndArchives(t *testing.T) {
	now := time.Now()
	dir := t.TempDir()
	archive, err := NewLocalArchive(dir)
	require.NoError(t, err)
	r, err := NewRenderer("")
	require.NoError(t, err)

	b := NewBuilder(seededAggregator(now), r, archive)
	text, err := b.Build(context.Background())
	require.NoError(t, err)
	assert.Contains(t, text, "週間レポート")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	archived, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, text, string(archived))
}

func TestLocalArchive_Roundtrip(t *testing.T) {
	dir := t.TempDir()
	a, err := NewLocalArchive(dir)
	require.NoError(t, err)

	ref, err := a.Store(context.Background(), "2026-08-01", []byte("report body"))
	require.NoError(t, err)
	data, err := os.ReadFile(ref)
	require.NoError(t, err)
	assert.Equal(t, "report body", string(data))
}
