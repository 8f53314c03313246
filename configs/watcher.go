package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReloadEvent is one applied settings change.
type ReloadEvent struct {
	Previous *Config
	Current  *Config
	Diff     map[string]DiffEntry
}

// Watcher observes the settings file and swaps validated snapshots
// atomically. Invalid documents are rejected whole; identical documents are
// ignored (no swap, no settings_reload line, no event).
type Watcher struct {
	path    string
	log     *zap.Logger
	current atomic.Pointer[Config]
	events  chan ReloadEvent
}

// NewWatcher creates a watcher seeded with the startup snapshot.
func NewWatcher(path string, initial *Config, log *zap.Logger) *Watcher {
	w := &Watcher{
		path:   path,
		log:    log,
		events: make(chan ReloadEvent, 4),
	}
	w.current.Store(initial)
	return w
}

// Snapshot returns the active settings snapshot.
func (w *Watcher) Snapshot() *Config {
	return w.current.Load()
}

// Events is the stream of applied reloads.
func (w *Watcher) Events() <-chan ReloadEvent {
	return w.events
}

// Run watches the settings file until the context is cancelled. Editors
// replace files rather than writing in place, so the parent directory is
// watched and events are filtered by name.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	// Debounce timer: editors fire several events per save.
	var pending *time.Timer
	trigger := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(200*time.Millisecond, func() {
				select {
				case trigger <- struct{}{}:
				default:
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("settings watcher error", zap.Error(err))
		case <-trigger:
			w.reload()
		}
	}
}

// Reload applies the on-disk document immediately, outside the fs loop.
// Used at SIGHUP and in tests.
func (w *Watcher) Reload() {
	w.reload()
}

func (w *Watcher) reload() {
	next, err := Load(w.path)
	if err != nil {
		// Never apply a partially-invalid snapshot; the previous one
		// stays active.
		w.log.Warn("settings reload rejected", zap.Error(err))
		return
	}
	w.Apply(next)
}

// Apply swaps in the snapshot if it differs from the active one.
func (w *Watcher) Apply(next *Config) {
	prev := w.current.Load()
	diff := Diff(prev, next)
	if len(diff) == 0 {
		return
	}
	w.current.Store(next)

	w.log.Info("settings_reload",
		zap.String("event", "settings_reload"),
		zap.String("correlation_id", uuid.New().String()),
		zap.Any("previous", prev),
		zap.Any("current", next),
		zap.Any("diff", diff),
	)
	select {
	case w.events <- ReloadEvent{Previous: prev, Current: next, Diff: diff}:
	default:
		w.log.Warn("settings reload event dropped: slow consumer")
	}
}
