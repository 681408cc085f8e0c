package api

import (
	"context"
	"time"

	"github.com/lysyi3m/news-comb/app/database"
	"github.com/lysyi3m/news-comb/app/fallback"
	"github.com/lysyi3m/news-comb/app/feed"
	"github.com/lysyi3m/news-comb/app/monitor"
	"github.com/lysyi3m/news-comb/app/pipeline"
	"github.com/lysyi3m/news-comb/app/tasks"
)

type PipelineInterface interface {
	Running() bool
	Watermark(ctx context.Context) (time.Time, error)
	DryRun(ctx context.Context, limit int) (*pipeline.DryRunResult, error)
}

type MonitorInterface interface {
	Health(ctx context.Context) *monitor.HealthReport
	Dashboard(ctx context.Context) (*monitor.Dashboard, error)
}

type RunHistoryInterface interface {
	RecentRuns(ctx context.Context, n int) ([]*monitor.ProcessingRun, error)
}

type FallbackInterface interface {
	Configured() bool
	Usage() *fallback.UsageTracker
	CachedArticles(ctx context.Context) ([]feed.Article, error)
}

type ArticleReaderInterface interface {
	Count(ctx context.Context) (int, error)
	CountByCategory(ctx context.Context) (map[string]int, error)
	Recent(ctx context.Context, category string, limit int) ([]feed.ProcessedArticle, error)
}

type SourceRegistryInterface interface {
	Sources() []*feed.Config
	GetConfigCount() int
}

var (
	_ PipelineInterface       = (*pipeline.Pipeline)(nil)
	_ MonitorInterface        = (*monitor.Monitor)(nil)
	_ RunHistoryInterface     = (*monitor.Recorder)(nil)
	_ FallbackInterface       = (*fallback.Aggregator)(nil)
	_ ArticleReaderInterface  = (*database.ArticleRepository)(nil)
	_ SourceRegistryInterface = (*feed.ConfigCache)(nil)
)

type Handler struct {
	pipeline  PipelineInterface
	scheduler tasks.TaskSchedulerInterface
	monitor   MonitorInterface
	runs      RunHistoryInterface
	fallback  FallbackInterface
	articles  ArticleReaderInterface
	generator *feed.Generator
	sources   SourceRegistryInterface
	version   string
}
