package send

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupeDetector_BlocksRepeatWithinTTL(t *testing.T) {
	d := NewDedupeDetector(DedupeConfig{Enabled: true, Capacity: 8, TTL: 10 * time.Minute}, nil)
	ctx := context.Background()
	t0 := time.Now()

	require.True(t, d.CheckAndInsert(ctx, "hello", t0))
	assert.False(t, d.CheckAndInsert(ctx, "hello", t0.Add(time.Minute)))
}

func TestDedupeDetector_AllowsAfterTTL(t *testing.T) {
	d := NewDedupeDetector(DedupeConfig{Enabled: true, Capacity: 8, TTL: time.Minute}, nil)
	ctx := context.Background()
	t0 := time.Now()

	require.True(t, d.CheckAndInsert(ctx, "hello", t0))
	assert.True(t, d.CheckAndInsert(ctx, "hello", t0.Add(2*time.Minute)))
}

func TestDedupeDetector_NormalizesText(t *testing.T) {
	d := NewDedupeDetector(DedupeConfig{Enabled: true, Capacity: 8, TTL: time.Hour}, nil)
	ctx := context.Background()
	t0 := time.Now()

	require.True(t, d.CheckAndInsert(ctx, "Hello  World", t0))
	assert.False(t, d.CheckAndInsert(ctx, "hello world", t0.Add(time.Second)),
		"case and whitespace differences are the same fingerprint")
	assert.False(t, d.CheckAndInsert(ctx, "  HELLO\tworld ", t0.Add(2*time.Second)))
}

func TestDedupeDetector_Disabled(t *testing.T) {
	d := NewDedupeDetector(DedupeConfig{Enabled: false, Capacity: 8, TTL: time.Hour}, nil)
	ctx := context.Background()
	now := time.Now()

	assert.True(t, d.CheckAndInsert(ctx, "hello", now))
	assert.True(t, d.CheckAndInsert(ctx, "hello", now))
}

func TestMemoryFingerprintStore_CapacityEviction(t *testing.T) {
	s := NewMemoryFingerprintStore(2)
	ctx := context.Background()
	now := time.Now()
	ttl := time.Hour

	for _, fp := range []string{"a", "b", "c"} {
		seen, err := s.CheckAndInsert(ctx, fp, now, ttl)
		require.NoError(t, err)
		require.False(t, seen)
	}
	assert.Equal(t, 2, s.Len())

	// "a" was evicted as the least recently used entry.
	seen, err := s.CheckAndInsert(ctx, "a", now, ttl)
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestFingerprint_Stability(t *testing.T) {
	if Fingerprint("a b") != Fingerprint(" A  B ") {
		t.Error("normalized texts should share a fingerprint")
	}
	if Fingerprint("a b") == Fingerprint("a c") {
		t.Error("different texts should not collide")
	}
}
