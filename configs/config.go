package config

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"time"
)

// Config is the immutable settings snapshot consumed by the pipeline.
// Readers hold a pointer to one snapshot; reloads swap in a new one whole.
type Config struct {
	Scheduler SchedulerSection          `json:"scheduler"`
	Cooldown  CooldownSection           `json:"cooldown"`
	Quotas    QuotasSection             `json:"quotas"`
	Dedupe    DedupeSection             `json:"dedupe"`
	Retry     RetrySection              `json:"retry"`
	Metrics   MetricsSection            `json:"metrics"`
	Limits    map[string]any            `json:"limits"` // advisory passthrough
	Jobs      map[string]JobSection     `json:"jobs"`
	Providers map[string]ProviderConfig `json:"providers"`
	Platforms PlatformsSection          `json:"platforms"`
	Ops       OpsSection                `json:"ops"`
	Report    ReportSection             `json:"report"`
}

type SchedulerSection struct {
	Timezone               string `json:"timezone"`
	JitterEnabled          *bool  `json:"jitter_enabled"`
	JitterMinMs            int    `json:"jitter_min_ms"`
	JitterMaxMs            int    `json:"jitter_max_ms"`
	CoalesceWindowSeconds  int    `json:"coalesce_window_seconds"`
	CoalesceThreshold      int    `json:"coalesce_threshold"`
	ShutdownGraceSeconds   int    `json:"shutdown_grace_seconds"`
}

// Jitter reports whether jitter is on; it defaults to enabled.
func (s SchedulerSection) Jitter() bool {
	return s.JitterEnabled == nil || *s.JitterEnabled
}

type CooldownSection struct {
	Enabled *bool                  `json:"enabled"`
	Jobs    map[string]JobCooldown `json:"jobs"`
}

// On reports whether cooldown is active; it defaults to enabled.
func (s CooldownSection) On() bool {
	return s.Enabled == nil || *s.Enabled
}

type JobCooldown struct {
	BaseWindowSeconds int     `json:"base_window_seconds"`
	MaxFactor         float64 `json:"max_factor"`
	Growth            float64 `json:"growth"`
}

type QuotasSection struct {
	DenyUnknown bool                    `json:"deny_unknown"`
	Channels    map[string]ChannelQuota `json:"channels"`
}

type ChannelQuota struct {
	WindowSeconds int `json:"window_seconds"`
	MaxEvents     int `json:"max_events"`
}

type DedupeSection struct {
	Enabled    *bool  `json:"enabled"`
	Backend    string `json:"backend"` // memory | redis
	RedisAddr  string `json:"redis_addr"`
	Capacity   int    `json:"capacity"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// On reports whether dedupe is active; it defaults to enabled.
func (s DedupeSection) On() bool {
	return s.Enabled == nil || *s.Enabled
}

type RetrySection struct {
	MaxAttempts   int `json:"max_attempts"`
	BaseBackoffMs int `json:"base_backoff_ms"`
}

type MetricsSection struct {
	Export map[string]any `json:"export"` // advisory; backend wiring only
}

// JobSection describes one scheduled job. A single "schedule" string or a
// "schedules" array are both accepted; SlotTimes collapses them.
type JobSection struct {
	Schedule  string   `json:"schedule"`
	Schedules []string `json:"schedules"`
	Provider  string   `json:"provider"`
	Platform  string   `json:"platform"`
	Channel   string   `json:"channel"`
	Priority  string   `json:"priority"`
}

// SlotTimes returns every configured HH:MM fire slot for the job.
func (j JobSection) SlotTimes() []string {
	out := make([]string, 0, len(j.Schedules)+1)
	if j.Schedule != "" {
		out = append(out, j.Schedule)
	}
	out = append(out, j.Schedules...)
	return out
}

// ProviderConfig carries provider-specific settings (endpoints, tokens).
type ProviderConfig struct {
	Endpoint string `json:"endpoint"`
	Token    string `json:"token"`
}

type PlatformsSection struct {
	Discord DiscordConfig `json:"discord"`
	Misskey MisskeyConfig `json:"misskey"`
}

type DiscordConfig struct {
	Webhooks map[string]string `json:"webhooks"` // channel → webhook URL
}

type MisskeyConfig struct {
	BaseURL string `json:"base_url"`
	Token   string `json:"token"`
}

type OpsSection struct {
	Listen  string   `json:"listen"`
	APIKeys []string `json:"api_keys"` // sha256 hex digests
}

type ReportSection struct {
	Archive ArchiveConfig `json:"archive"`
}

type ArchiveConfig struct {
	Backend         string `json:"backend"` // local | s3 | ""
	Dir             string `json:"dir"`
	Bucket          string `json:"bucket"`
	Prefix          string `json:"prefix"`
	Region          string `json:"region"`
	Endpoint        string `json:"endpoint"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
}

// ConfigPath resolves the settings file path from the environment.
func ConfigPath() string {
	if p, ok := os.LookupEnv("BOT_CONFIG"); ok {
		return p
	}
	return "config.json"
}

// Load reads and validates a settings file. The returned snapshot is never
// partially valid: any validation failure rejects the whole document.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the snapshot's internal consistency.
func (c *Config) Validate() error {
	if tz := c.Scheduler.Timezone; tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	if c.Scheduler.JitterMinMs < 0 || c.Scheduler.JitterMaxMs < c.Scheduler.JitterMinMs {
		return fmt.Errorf("scheduler: jitter range [%d, %d] invalid",
			c.Scheduler.JitterMinMs, c.Scheduler.JitterMaxMs)
	}
	for name, job := range c.Jobs {
		slots := job.SlotTimes()
		if len(slots) == 0 {
			return fmt.Errorf("jobs.%s: no schedule", name)
		}
		for _, s := range slots {
			if _, err := time.Parse("15:04", s); err != nil {
				return fmt.Errorf("jobs.%s: bad slot %q: %w", name, s, err)
			}
		}
		if job.Provider == "" {
			return fmt.Errorf("jobs.%s: provider required", name)
		}
		if job.Platform == "" || job.Channel == "" {
			return fmt.Errorf("jobs.%s: platform and channel required", name)
		}
	}
	for ch, q := range c.Quotas.Channels {
		if q.WindowSeconds <= 0 || q.MaxEvents <= 0 {
			return fmt.Errorf("quotas.channels.%s: window_seconds and max_events must be positive", ch)
		}
	}
	for job, cd := range c.Cooldown.Jobs {
		if cd.BaseWindowSeconds <= 0 {
			return fmt.Errorf("cooldown.jobs.%s: base_window_seconds must be positive", job)
		}
	}
	if c.Retry.MaxAttempts < 0 || c.Retry.BaseBackoffMs < 0 {
		return fmt.Errorf("retry: negative values")
	}
	if c.Dedupe.On() && c.Dedupe.Backend == "redis" && c.Dedupe.RedisAddr == "" {
		return fmt.Errorf("dedupe: redis backend requires redis_addr")
	}
	return nil
}

// DiffEntry is one changed key in a settings reload.
type DiffEntry struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// Diff compares two snapshots and returns the changed keys as dotted paths.
// An empty map means the snapshots are identical.
func Diff(old, new *Config) map[string]DiffEntry {
	diff := make(map[string]DiffEntry)
	oldFlat := flatten("", toMap(old))
	newFlat := flatten("", toMap(new))

	for k, ov := range oldFlat {
		nv, ok := newFlat[k]
		if !ok {
			diff[k] = DiffEntry{Old: ov}
		} else if !reflect.DeepEqual(ov, nv) {
			diff[k] = DiffEntry{Old: ov, New: nv}
		}
	}
	for k, nv := range newFlat {
		if _, ok := oldFlat[k]; !ok {
			diff[k] = DiffEntry{New: nv}
		}
	}
	return diff
}

func toMap(c *Config) map[string]any {
	data, _ := json.Marshal(c)
	var m map[string]any
	_ = json.Unmarshal(data, &m)
	return m
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = v
	}
	return out
}
