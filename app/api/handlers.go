package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/news-comb/app/feed"
	"github.com/lysyi3m/news-comb/app/monitor"
	"github.com/lysyi3m/news-comb/app/pipeline"
	"github.com/lysyi3m/news-comb/app/tasks"
)

const (
	defaultSampleSize = 5
	maxSampleSize     = 50
	defaultFeedSize   = 50
	maxFeedSize       = 200
)

func NewHandler(p PipelineInterface, scheduler tasks.TaskSchedulerInterface, m MonitorInterface,
	runs RunHistoryInterface, fb FallbackInterface, articles ArticleReaderInterface,
	sources SourceRegistryInterface, version string) *Handler {
	return &Handler{
		pipeline:  p,
		scheduler: scheduler,
		monitor:   m,
		runs:      runs,
		fallback:  fb,
		articles:  articles,
		generator: feed.NewGenerator(),
		sources:   sources,
		version:   version,
	}
}

func (h *Handler) GetStatus(c *gin.Context) {
	ctx := c.Request.Context()

	status := map[string]interface{}{
		"status":             "ok",
		"version":            h.version,
		"timestamp":          time.Now().In(time.Local).Format(time.RFC3339),
		"running":            h.pipeline.Running(),
		"loaded_sources":     h.sources.GetConfigCount(),
		"enabled_sources":    len(h.sources.Sources()),
		"fallback_available": h.fallback.Configured(),
	}

	if watermark, err := h.pipeline.Watermark(ctx); err == nil {
		status["watermark"] = watermark.Format(time.RFC3339)
	} else {
		slog.Warn("Failed to read watermark", "error", err)
	}

	if count, err := h.articles.Count(ctx); err == nil {
		status["articles_stored"] = count
	}

	if runs, err := h.runs.RecentRuns(ctx, 1); err == nil && len(runs) > 0 {
		status["last_run"] = runs[0]
	}

	c.JSON(http.StatusOK, status)
}

func (h *Handler) GetHealth(c *gin.Context) {
	report := h.monitor.Health(c.Request.Context())

	code := http.StatusOK
	if report.Status == monitor.Critical {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, report)
}

func (h *Handler) GetDashboard(c *gin.Context) {
	dashboard, err := h.monitor.Dashboard(c.Request.Context())
	if err != nil {
		slog.Error("Dashboard error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build dashboard"})
		return
	}

	if counts, err := h.articles.CountByCategory(c.Request.Context()); err == nil {
		c.JSON(http.StatusOK, gin.H{"dashboard": dashboard, "articles_by_category": counts})
		return
	}
	c.JSON(http.StatusOK, gin.H{"dashboard": dashboard})
}

// TriggerRun queues a manual run and returns without waiting for it.
func (h *Handler) TriggerRun(c *gin.Context) {
	if h.pipeline.Running() {
		c.JSON(http.StatusConflict, gin.H{"error": pipeline.ErrRunInProgress.Error()})
		return
	}

	id, err := h.scheduler.EnqueueRun(pipeline.TriggerManual)
	if err != nil {
		slog.Error("Failed to enqueue manual run", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to enqueue run"})
		return
	}

	slog.Info("Manual run triggered", "task_id", id, "client_ip", c.ClientIP())
	c.JSON(http.StatusAccepted, gin.H{
		"message": "Pipeline run enqueued",
		"task_id": id,
		"trigger": pipeline.TriggerManual,
	})
}

func (h *Handler) TestRSS(c *gin.Context) {
	limit := defaultSampleSize
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > maxSampleSize {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer between 0 and 50"})
			return
		}
		limit = n
	}

	result, err := h.pipeline.DryRun(c.Request.Context(), limit)
	if err != nil {
		slog.Error("Dry run failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Dry run failed"})
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) GetGNewsStats(c *gin.Context) {
	ctx := c.Request.Context()
	tracker := h.fallback.Usage()

	usage, err := tracker.GetUsage(ctx, tracker.Today())
	if err != nil {
		slog.Error("Failed to read fallback usage", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read fallback usage"})
		return
	}

	stats := gin.H{
		"configured": h.fallback.Configured(),
		"usage":      usage,
	}

	cached, err := h.fallback.CachedArticles(ctx)
	if err != nil {
		slog.Warn("Failed to read fallback article cache", "error", err)
	}
	stats["cached_articles"] = len(cached)

	c.JSON(http.StatusOK, stats)
}

// GetFeed republishes stored articles as RSS, optionally for one category.
func (h *Handler) GetFeed(c *gin.Context) {
	limit := defaultFeedSize
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxFeedSize {
			c.Status(http.StatusBadRequest)
			return
		}
		limit = n
	}
	category := strings.ToLower(strings.TrimSpace(c.Query("category")))

	articles, err := h.articles.Recent(c.Request.Context(), category, limit)
	if err != nil {
		slog.Error("Database error", "operation", "recent_articles", "category", category, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	scheme := "http"
	if c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	channel := feed.Channel{
		Title:   "News Comb",
		Link:    scheme + "://" + c.Request.Host + "/",
		SelfURL: scheme + "://" + c.Request.Host + c.Request.URL.RequestURI(),
		Version: h.version,
	}
	if category != "" {
		channel.Title = "News Comb: " + category
	}

	rss, err := h.generator.Run(channel, articles)
	if err != nil {
		slog.Error("RSS generation error", "category", category, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	c.Header("Content-Type", "application/xml; charset=utf-8")
	c.Header("X-Feed-Items", strconv.Itoa(len(articles)))
	c.String(http.StatusOK, rss)
}
