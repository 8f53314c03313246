package builder

import (
	"context"
	"fmt"
	"strings"
	"sync"

	config "github.com/RNA4219/llm-generic-bot/configs"
)

// Builder produces the payload for one job fire. An empty string with a nil
// error means there is nothing to post this time.
type Builder interface {
	Name() string
	Build(ctx context.Context) (string, error)
}

// Constructor creates a builder from its provider settings.
type Constructor func(cfg config.ProviderConfig) (Builder, error)

var (
	mu       sync.RWMutex
	registry = make(map[string]Constructor)
)

// Register adds a constructor under a provider reference. Called from init
// functions and from wiring code for builders that need runtime dependencies.
func Register(ref string, ctor Constructor) {
	mu.Lock()
	defer mu.Unlock()
	registry[normalize(ref)] = ctor
}

// Resolve looks up a provider reference and constructs the builder. Unknown
// references are a startup-fatal error.
func Resolve(ref string, cfg config.ProviderConfig) (Builder, error) {
	mu.RLock()
	ctor, ok := registry[normalize(ref)]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider reference %q", ref)
	}
	return ctor(cfg)
}

// normalize accepts both "module:attr" and "module.attr" reference forms.
func normalize(ref string) string {
	if strings.Contains(ref, ":") {
		return ref
	}
	if i := strings.LastIndex(ref, "."); i >= 0 {
		return ref[:i] + ":" + ref[i+1:]
	}
	return ref
}
