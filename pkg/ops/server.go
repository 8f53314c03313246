package ops

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/mem"

	config "github.com/RNA4219/llm-generic-bot/configs"
	"github.com/RNA4219/llm-generic-bot/pkg/metrics"
	"github.com/RNA4219/llm-generic-bot/pkg/platform"
	"github.com/RNA4219/llm-generic-bot/pkg/report"
)

// Server is the operational HTTP surface: health, Prometheus metrics, and a
// weekly report preview. It carries no messaging traffic.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server

	watcher   *config.Watcher
	agg       *metrics.Aggregator
	renderer  *report.Renderer
	breakers  map[string]*platform.BreakerSender
	startedAt time.Time
}

// Config holds ops server dependencies.
type Config struct {
	Listen   string
	APIKeys  []string
	Watcher  *config.Watcher
	Agg      *metrics.Aggregator
	Renderer *report.Renderer
	Breakers map[string]*platform.BreakerSender
}

// NewServer creates the ops server with its middleware stack.
func NewServer(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(NewRateLimiter(DefaultRateLimiterConfig()).Middleware())

	s := &Server{
		router:    router,
		watcher:   cfg.Watcher,
		agg:       cfg.Agg,
		renderer:  cfg.Renderer,
		breakers:  cfg.Breakers,
		startedAt: time.Now(),
		httpServer: &http.Server{
			Addr:         cfg.Listen,
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}

	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authed := router.Group("/", APIKeyMiddleware(cfg.APIKeys))
	authed.GET("/report/preview", s.handleReportPreview)
	authed.GET("/settings", s.handleSettings)

	return s
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ops server: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	breakers := make(map[string]string, len(s.breakers))
	for name, b := range s.breakers {
		breakers[name] = b.State().String()
	}
	body := gin.H{
		"status":   "ok",
		"uptime":   time.Since(s.startedAt).String(),
		"breakers": breakers,
	}
	if v, err := mem.VirtualMemory(); err == nil {
		body["memory_used_percent"] = fmt.Sprintf("%.1f", v.UsedPercent)
	}
	c.JSON(http.StatusOK, body)
}

// handleSettings returns the active snapshot with credentials blanked.
func (s *Server) handleSettings(c *gin.Context) {
	snap := *s.watcher.Snapshot()
	snap.Platforms.Misskey.Token = ""
	hooks := make(map[string]string, len(snap.Platforms.Discord.Webhooks))
	for ch := range snap.Platforms.Discord.Webhooks {
		hooks[ch] = ""
	}
	snap.Platforms.Discord.Webhooks = hooks
	snap.Report.Archive.AccessKeyID = ""
	snap.Report.Archive.SecretAccessKey = ""
	snap.Ops.APIKeys = nil
	redacted := make(map[string]config.ProviderConfig, len(snap.Providers))
	for name, p := range snap.Providers {
		p.Token = ""
		redacted[name] = p
	}
	snap.Providers = redacted
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleReportPreview(c *gin.Context) {
	text, err := s.renderer.Render(s.agg.Snapshot(time.Now()))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.String(http.StatusOK, text)
}
