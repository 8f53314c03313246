package builder

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// DigestSource supplies the direct messages accumulated since the last
// digest. Drain empties the buffer.
type DigestSource interface {
	Drain(ctx context.Context) ([]string, error)
}

// DMDigest summarizes accumulated direct messages into one post.
type DMDigest struct {
	source DigestSource
}

// NewDMDigest creates the digest builder over a source.
func NewDMDigest(source DigestSource) *DMDigest {
	return &DMDigest{source: source}
}

func (d *DMDigest) Name() string { return "dm_digest" }

func (d *DMDigest) Build(ctx context.Context) (string, error) {
	msgs, err := d.source.Drain(ctx)
	if err != nil {
		return "", fmt.Errorf("dm digest build: %w", err)
	}
	if len(msgs) == 0 {
		return "", nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "DMダイジェスト (%d件)\n", len(msgs))
	for _, m := range msgs {
		b.WriteString("- " + m + "\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// MemoryDigestSource is the in-process DM intake buffer.
type MemoryDigestSource struct {
	mu   sync.Mutex
	msgs []string
}

// NewMemoryDigestSource creates an empty buffer.
func NewMemoryDigestSource() *MemoryDigestSource {
	return &MemoryDigestSource{}
}

// Add appends a message to the buffer.
func (s *MemoryDigestSource) Add(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
}

// Drain implements DigestSource.
func (s *MemoryDigestSource) Drain(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.msgs
	s.msgs = nil
	return out, nil
}
