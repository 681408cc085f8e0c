package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/news-comb/app/errs"
)

// ArticleFetcher retrieves one source.
type ArticleFetcher interface {
	Fetch(ctx context.Context, source *Config) ([]Article, FilterStats, error)
}

var _ ArticleFetcher = (*Fetcher)(nil)

type BatchResult struct {
	Articles          []Article     `json:"articles"`
	Errors            []*errs.Error `json:"errors"`
	SuccessCount      int           `json:"success_count"`
	TotalSources      int           `json:"total_sources"`
	SourceSuccessRate float64       `json:"source_success_rate"`
	Duration          time.Duration `json:"duration"`
}

// Orchestrator drives the fetcher over every source one at a time.
type Orchestrator struct {
	fetcher ArticleFetcher
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewOrchestrator(fetcher ArticleFetcher) *Orchestrator {
	return &Orchestrator{
		fetcher: fetcher,
		sleep:   SleepContext,
	}
}

func (o *Orchestrator) RunAll(ctx context.Context, sources []*Config) *BatchResult {
	start := time.Now()
	result := &BatchResult{}

	var previous *Config
	for i, source := range sources {
		if !source.Settings.Enabled {
			continue
		}

		if previous != nil {
			if err := o.sleep(ctx, previous.Settings.RequestDelayDuration()); err != nil {
				slog.Warn("Source batch interrupted", "remaining", len(sources)-i, "error", err)
				break
			}
		}
		previous = source

		result.TotalSources++

		articles, stats, err := o.fetcher.Fetch(ctx, source)
		if err != nil {
			result.Errors = append(result.Errors,
				errs.As(err, errs.CategorySourceFetch).WithSource(source.Name))
			continue
		}
		if len(stats.Rejected) > 0 {
			result.Errors = append(result.Errors, validationError(source, stats.Rejected))
		}

		result.SuccessCount++
		result.Articles = append(result.Articles, articles...)
	}

	if result.TotalSources > 0 {
		result.SourceSuccessRate = float64(result.SuccessCount) / float64(result.TotalSources)
	}
	result.Duration = time.Since(start)

	slog.Info("Source batch completed",
		"sources", result.TotalSources,
		"succeeded", result.SuccessCount,
		"articles", len(result.Articles),
		"errors", len(result.Errors),
		"success_rate", result.SourceSuccessRate,
		"duration", result.Duration.String())

	return result
}

// validationError folds the items a source dropped as malformed into one
// VALIDATION record. The source itself still counts as fetched.
func validationError(source *Config, rejected []Rejection) *errs.Error {
	first := rejected[0]
	return errs.New(errs.CategoryValidation,
		fmt.Sprintf("%d items failed validation, first: %s", len(rejected), first.Reason)).
		WithSource(source.Name).WithURL(first.Link)
}
