package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	config "github.com/RNA4219/llm-generic-bot/configs"
	"github.com/RNA4219/llm-generic-bot/pkg/builder"
	"github.com/RNA4219/llm-generic-bot/pkg/logger"
	"github.com/RNA4219/llm-generic-bot/pkg/metrics"
	tracing "github.com/RNA4219/llm-generic-bot/pkg/observability"
	"github.com/RNA4219/llm-generic-bot/pkg/ops"
	"github.com/RNA4219/llm-generic-bot/pkg/platform"
	"github.com/RNA4219/llm-generic-bot/pkg/platform/discord"
	"github.com/RNA4219/llm-generic-bot/pkg/platform/misskey"
	"github.com/RNA4219/llm-generic-bot/pkg/report"
	"github.com/RNA4219/llm-generic-bot/pkg/scheduler"
	"github.com/RNA4219/llm-generic-bot/pkg/send"
	redisstore "github.com/RNA4219/llm-generic-bot/pkg/storage/redis"
)

// Exit codes: 0 normal shutdown, 1 startup failure, 2 invalid config.
const (
	exitOK            = 0
	exitStartupFailed = 1
	exitConfigInvalid = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	path := config.ConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid config %s: %v\n", path, err)
		return exitConfigInvalid
	}

	log, err := logger.Init(logger.DefaultConfig("llm-generic-bot"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		return exitStartupFailed
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracer, err := tracing.Init(ctx, tracing.DefaultConfig("llm-generic-bot"))
	if err != nil {
		log.Error("tracing init failed", zap.Error(err))
		return exitStartupFailed
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracer.Shutdown(shutdownCtx)
	}()

	// --- Gates ---
	permit := send.NewPermitGate(permitConfig(cfg))
	cooldown := send.NewCooldownGate(cooldownConfig(cfg))

	var fpStore send.FingerprintStore
	if cfg.Dedupe.On() && cfg.Dedupe.Backend == "redis" {
		store, err := redisstore.NewFingerprintStore(cfg.Dedupe.RedisAddr)
		if err != nil {
			log.Error("dedupe redis init failed", zap.Error(err))
			return exitStartupFailed
		}
		defer store.Close()
		fpStore = store
		log.Info("dedupe backed by redis", zap.String("addr", cfg.Dedupe.RedisAddr))
	}
	dedupe := send.NewDedupeDetector(send.DedupeConfig{
		Enabled:  cfg.Dedupe.On(),
		Capacity: cfg.Dedupe.Capacity,
		TTL:      time.Duration(cfg.Dedupe.TTLSeconds) * time.Second,
	}, fpStore)

	// --- Senders ---
	senders := platform.NewRegistry()
	breakers := make(map[string]*platform.BreakerSender)
	if len(cfg.Platforms.Discord.Webhooks) > 0 {
		b := platform.WithBreaker("discord", discord.NewSender(cfg.Platforms.Discord.Webhooks))
		senders.Register("discord", b)
		breakers["discord"] = b
	}
	if cfg.Platforms.Misskey.BaseURL != "" {
		b := platform.WithBreaker("misskey",
			misskey.NewSender(cfg.Platforms.Misskey.BaseURL, cfg.Platforms.Misskey.Token))
		senders.Register("misskey", b)
		breakers["misskey"] = b
	}
	if len(senders.Platforms()) == 0 {
		log.Error("no platform senders configured")
		return exitStartupFailed
	}

	// --- Pipeline ---
	agg := metrics.NewAggregator(report.JobName)
	retry := send.NewRetryPolicy(send.RetryConfig{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseBackoff: time.Duration(cfg.Retry.BaseBackoffMs) * time.Millisecond,
	})
	orch := send.NewOrchestrator(cooldown, dedupe, permit, retry, senders, agg, log)
	queue := send.NewCoalesceQueue(send.CoalesceConfig{
		Window:    time.Duration(cfg.Scheduler.CoalesceWindowSeconds) * time.Second,
		Threshold: cfg.Scheduler.CoalesceThreshold,
	})

	// --- Report builder ---
	renderer, err := report.NewRenderer("")
	if err != nil {
		log.Error("report renderer init failed", zap.Error(err))
		return exitStartupFailed
	}
	archive, err := buildArchive(cfg.Report.Archive)
	if err != nil {
		log.Error("report archive init failed", zap.Error(err))
		return exitStartupFailed
	}
	builder.Register("builtin:weekly_report", func(config.ProviderConfig) (builder.Builder, error) {
		return report.NewBuilder(agg, renderer, archive), nil
	})
	digestSource := builder.NewMemoryDigestSource()
	builder.Register("builtin:dm_digest", func(config.ProviderConfig) (builder.Builder, error) {
		return builder.NewDMDigest(digestSource), nil
	})

	// --- Jobs ---
	jobs, err := buildJobs(cfg)
	if err != nil {
		log.Error("job wiring failed", zap.Error(err))
		return exitStartupFailed
	}

	core, err := scheduler.NewCore(scheduler.Config{
		Timezone:      cfg.Scheduler.Timezone,
		JitterEnabled: cfg.Scheduler.Jitter(),
		JitterMin:     time.Duration(cfg.Scheduler.JitterMinMs) * time.Millisecond,
		JitterMax:     time.Duration(cfg.Scheduler.JitterMaxMs) * time.Millisecond,
		ShutdownGrace: time.Duration(cfg.Scheduler.ShutdownGraceSeconds) * time.Second,
	}, jobs, queue, orch, agg, log)
	if err != nil {
		log.Error("scheduler init failed", zap.Error(err))
		return exitStartupFailed
	}

	// --- Settings watcher ---
	watcher := config.NewWatcher(path, cfg, log)
	go func() {
		if err := watcher.Run(ctx); err != nil {
			log.Warn("settings watcher stopped", zap.Error(err))
		}
	}()
	go func() {
		for range watcher.Events() {
			// Snapshots swap atomically inside the watcher; only readers
			// of watcher.Snapshot() (the ops /settings view) see the new
			// one. The gates, queue, retry policy and scheduler keep the
			// settings they were built from at startup.
		}
	}()

	// --- Ops server ---
	opsListen := cfg.Ops.Listen
	if opsListen == "" {
		opsListen = ":8080"
	}
	opsServer := ops.NewServer(ops.Config{
		Listen:   opsListen,
		APIKeys:  cfg.Ops.APIKeys,
		Watcher:  watcher,
		Agg:      agg,
		Renderer: renderer,
		Breakers: breakers,
	})
	go func() {
		if err := opsServer.Start(); err != nil {
			log.Error("ops server failed", zap.Error(err))
		}
	}()

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		core.Run(ctx)
	}()
	log.Info("bot started",
		zap.Int("jobs", len(jobs)),
		zap.Strings("platforms", senders.Platforms()),
		zap.String("ops_listen", opsListen))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			watcher.Reload()
			continue
		}
		log.Info("shutting down", zap.String("signal", sig.String()))
		break
	}

	cancel()
	<-schedulerDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("ops shutdown error", zap.Error(err))
	}
	log.Info("shutdown complete")
	return exitOK
}

func permitConfig(cfg *config.Config) send.PermitConfig {
	out := send.PermitConfig{
		Channels:    make(map[string]send.ChannelQuota, len(cfg.Quotas.Channels)),
		DenyUnknown: cfg.Quotas.DenyUnknown,
	}
	for ch, q := range cfg.Quotas.Channels {
		out.Channels[ch] = send.ChannelQuota{
			Window:    time.Duration(q.WindowSeconds) * time.Second,
			MaxEvents: q.MaxEvents,
		}
	}
	return out
}

func cooldownConfig(cfg *config.Config) send.CooldownConfig {
	out := send.CooldownConfig{
		Enabled: cfg.Cooldown.On(),
		Jobs:    make(map[string]send.JobCooldown, len(cfg.Cooldown.Jobs)),
	}
	for job, cd := range cfg.Cooldown.Jobs {
		out.Jobs[job] = send.JobCooldown{
			BaseWindow: time.Duration(cd.BaseWindowSeconds) * time.Second,
			MaxFactor:  cd.MaxFactor,
			Growth:     cd.Growth,
		}
	}
	return out
}

func buildArchive(cfg config.ArchiveConfig) (report.Archive, error) {
	switch cfg.Backend {
	case "":
		return nil, nil
	case "local":
		return report.NewLocalArchive(cfg.Dir)
	case "s3":
		return report.NewS3Archive(report.S3ArchiveConfig{
			Bucket:          cfg.Bucket,
			Prefix:          cfg.Prefix,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
		})
	default:
		return nil, fmt.Errorf("unknown report archive backend %q", cfg.Backend)
	}
}

// buildJobs resolves each configured job's provider reference and wraps the
// builder in a request factory.
func buildJobs(cfg *config.Config) ([]*scheduler.Job, error) {
	jobs := make([]*scheduler.Job, 0, len(cfg.Jobs))
	for name, jc := range cfg.Jobs {
		b, err := builder.Resolve(jc.Provider, cfg.Providers[name])
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", name, err)
		}
		jobName := name
		platformName := jc.Platform
		channel := jc.Channel
		priority := send.ParsePriority(jc.Priority)
		jobs = append(jobs, &scheduler.Job{
			Name:  jobName,
			Slots: jc.SlotTimes(),
			Factory: func(ctx context.Context) ([]send.Request, error) {
				payload, err := b.Build(ctx)
				if err != nil {
					return nil, err
				}
				if payload == "" {
					return nil, nil
				}
				req := send.NewRequest(platformName, channel, jobName, payload, priority, time.Now())
				return []send.Request{req}, nil
			},
		})
	}
	return jobs, nil
}
