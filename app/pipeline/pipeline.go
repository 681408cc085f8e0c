package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/lysyi3m/news-comb/app/dedup"
	"github.com/lysyi3m/news-comb/app/errs"
	"github.com/lysyi3m/news-comb/app/feed"
	"github.com/lysyi3m/news-comb/app/kv"
	"github.com/lysyi3m/news-comb/app/monitor"
)

const (
	WatermarkKey = "last_processed_timestamp"
	RunLockKey   = "pipeline_run_lock"

	TriggerScheduled = "scheduled"
	TriggerStartup   = "startup"
	TriggerManual    = "manual"

	DefaultRunTimeout       = 10 * time.Minute
	DefaultLookback         = 24 * time.Hour
	DefaultMinContentLength = 200
	DefaultFallbackArticles = 20

	bookkeepingTimeout = 30 * time.Second
)

var ErrRunInProgress = errors.New("pipeline run already in progress")

type SourceRegistry interface {
	Sources() []*feed.Config
}

type BatchFetcher interface {
	RunAll(ctx context.Context, sources []*feed.Config) *feed.BatchResult
}

type Fallback interface {
	ShouldUse(ctx context.Context, primaryCount int) (bool, string)
	FetchFallback(ctx context.Context, since time.Time, maxArticles int) ([]feed.Article, error)
}

type Deduper interface {
	Dedupe(ctx context.Context, candidates []feed.Article) ([]feed.Article, dedup.Stats, error)
	Forget(ctx context.Context, articles []feed.Article) error
}

type Scraper interface {
	FetchBody(ctx context.Context, link string) (string, error)
}

type Enricher interface {
	Enrich(ctx context.Context, article feed.Article, body string) (feed.ProcessedArticle, error)
}

type ArticleStore interface {
	Store(ctx context.Context, article feed.ProcessedArticle) error
	Exists(ctx context.Context, url string) (bool, error)
}

type RunRecorder interface {
	RecordRun(ctx context.Context, run *monitor.ProcessingRun) error
	RecordErrorReport(ctx context.Context, report *monitor.ErrorReport) error
}

// Deps are the collaborators of a pipeline run. Fallback and Locker may be nil.
type Deps struct {
	Store    kv.Store
	Locker   kv.Locker
	Sources  SourceRegistry
	Fetcher  BatchFetcher
	Fallback Fallback
	Deduper  Deduper
	Scraper  Scraper
	Enricher Enricher
	Articles ArticleStore
	Recorder RunRecorder
}

type Options struct {
	RunTimeout       time.Duration
	Lookback         time.Duration
	MinContentLength int
	FallbackArticles int
}

// Pipeline runs one ingestion cycle at a time.
type Pipeline struct {
	deps    Deps
	opts    Options
	running atomic.Bool
	now     func() time.Time
	newID   func() string
}

func New(deps Deps, opts Options) *Pipeline {
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = DefaultRunTimeout
	}
	if opts.Lookback <= 0 {
		opts.Lookback = DefaultLookback
	}
	if opts.MinContentLength <= 0 {
		opts.MinContentLength = DefaultMinContentLength
	}
	if opts.FallbackArticles <= 0 {
		opts.FallbackArticles = DefaultFallbackArticles
	}

	return &Pipeline{
		deps:  deps,
		opts:  opts,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Running reports whether a run is in flight in this process.
func (p *Pipeline) Running() bool {
	return p.running.Load()
}

// Watermark returns the stored watermark, or now minus the lookback window
// when none has been written yet.
func (p *Pipeline) Watermark(ctx context.Context) (time.Time, error) {
	raw, ok, err := p.deps.Store.Get(ctx, WatermarkKey)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return p.now().UTC().Add(-p.opts.Lookback), nil
	}

	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(string(raw)))
	if err != nil {
		slog.Warn("Stored watermark is malformed, using lookback window", "value", string(raw), "error", err)
		return p.now().UTC().Add(-p.opts.Lookback), nil
	}
	return ts.UTC(), nil
}

func (p *Pipeline) advanceWatermark(ctx context.Context, ts time.Time) error {
	return p.deps.Store.Put(ctx, WatermarkKey, []byte(ts.UTC().Format(time.RFC3339)), 0)
}

// Run executes one full cycle and returns its record. Per-source and
// per-article failures are collected in the record; only failures outside
// those loops are returned as errors.
func (p *Pipeline) Run(ctx context.Context, trigger string) (*monitor.ProcessingRun, error) {
	if !p.running.CompareAndSwap(false, true) {
		slog.Warn("Pipeline run skipped", "trigger", trigger, "reason", "run in progress")
		return nil, ErrRunInProgress
	}
	defer p.running.Store(false)

	if p.deps.Locker != nil {
		release, ok, err := p.deps.Locker.TryLock(ctx, RunLockKey, p.opts.RunTimeout+time.Minute)
		switch {
		case err != nil:
			slog.Warn("Failed to acquire run lock, continuing with local guard only", "error", err)
		case !ok:
			slog.Warn("Pipeline run skipped", "trigger", trigger, "reason", "run lock held elsewhere")
			return nil, ErrRunInProgress
		default:
			defer release()
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, p.opts.RunTimeout)
	defer cancel()

	start := p.now()
	run := &monitor.ProcessingRun{
		ID:        p.newID(),
		Timestamp: start.UTC(),
		Trigger:   trigger,
		Errors:    []*errs.Error{},
	}
	slog.Info("Pipeline run started", "run_id", run.ID, "trigger", trigger)

	watermark, err := p.Watermark(runCtx)
	if err != nil {
		return p.fail(ctx, run, start, fmt.Errorf("failed to read watermark: %w", err))
	}

	batch := p.deps.Fetcher.RunAll(runCtx, p.deps.Sources.Sources())
	run.SourceSuccessRate = batch.SourceSuccessRate
	run.Errors = append(run.Errors, batch.Errors...)
	candidates := batch.Articles

	if p.deps.Fallback != nil {
		use, reason := p.deps.Fallback.ShouldUse(runCtx, len(candidates))
		if use {
			run.FallbackUsed = true
			extra, err := p.deps.Fallback.FetchFallback(runCtx, watermark, p.opts.FallbackArticles)
			if err != nil {
				e := errs.As(err, errs.CategoryFallbackAPI)
				logFailure("Fallback fetch failed", e)
				run.Errors = append(run.Errors, e)
			}
			candidates = append(candidates, extra...)
		} else {
			slog.Info("Fallback skipped", "reason", reason)
		}
	}

	if len(candidates) == 0 {
		slog.Info("No articles fetched", "run_id", run.ID, "errors", len(run.Errors))
		run.Status = monitor.RunEmpty
		return p.finish(ctx, run, start)
	}

	// Identity caches and the store remove what was already handled; the
	// floor only bounds how far back a failed article is retried.
	fresh := newerThan(candidates, watermark.Add(-p.opts.Lookback))
	unique, stats, err := p.deps.Deduper.Dedupe(runCtx, fresh)
	if err != nil {
		return p.fail(ctx, run, start, fmt.Errorf("failed to deduplicate: %w", err))
	}
	run.DuplicateCount = stats.Duplicates()
	run.ArticlesProcessed = len(unique)

	slog.Info("Processing articles",
		"run_id", run.ID,
		"fetched", len(candidates),
		"within_lookback", len(fresh),
		"unique", len(unique))

	var (
		failed  []feed.Article
		skipped int
		latest  = watermark
	)

	for i, article := range unique {
		if err := runCtx.Err(); err != nil {
			rest := unique[i:]
			failed = append(failed, rest...)
			run.ArticleErrorCount += len(rest)
			e := errs.Wrap(errs.CategoryUnknown, fmt.Errorf("run stopped with %d articles unprocessed: %w", len(rest), err))
			logFailure("Run deadline reached", e)
			run.Errors = append(run.Errors, e)
			break
		}

		stored, err := p.process(runCtx, article)
		if err != nil {
			e := errs.As(err, errs.CategoryUnknown)
			if e.URL == "" {
				e.WithURL(article.Link)
			}
			if e.SourceID == "" {
				e.WithSource(article.SourceName)
			}
			logFailure("Article processing failed", e)
			run.Errors = append(run.Errors, e)
			run.ArticleErrorCount++
			failed = append(failed, article)
			continue
		}
		if !stored {
			skipped++
			continue
		}

		run.SuccessCount++
		if article.PublishedAt.After(latest) {
			latest = article.PublishedAt
		}
	}

	bk, done := p.bookkeeping(ctx)
	defer done()

	if len(failed) > 0 {
		if err := p.deps.Deduper.Forget(bk, failed); err != nil {
			slog.Warn("Failed to release identities of failed articles", "articles", len(failed), "error", err)
		}
	}

	if run.SuccessCount > 0 && latest.After(watermark) {
		if err := p.advanceWatermark(bk, latest); err != nil {
			e := errs.Wrap(errs.CategoryPersistence, fmt.Errorf("failed to advance watermark: %w", err))
			logFailure("Watermark not advanced", e)
			run.Errors = append(run.Errors, e)
		} else {
			slog.Info("Watermark advanced", "from", watermark.Format(time.RFC3339), "to", latest.UTC().Format(time.RFC3339))
		}
	}

	slog.Debug("Articles already stored", "run_id", run.ID, "skipped", skipped)
	run.Status = monitor.RunCompleted
	return p.finish(ctx, run, start)
}

// process carries one article through scrape, enrich and store. It reports
// false without error when the article is already stored.
func (p *Pipeline) process(ctx context.Context, article feed.Article) (bool, error) {
	exists, err := p.deps.Articles.Exists(ctx, article.Link)
	if err != nil {
		return false, errs.Wrap(errs.CategoryPersistence, err)
	}
	if exists {
		slog.Debug("Article already stored", "url", article.Link)
		return false, nil
	}

	body, err := p.deps.Scraper.FetchBody(ctx, article.Link)
	body = strings.TrimSpace(body)
	if err != nil || utf8.RuneCountInString(body) < p.opts.MinContentLength {
		description := strings.TrimSpace(article.Description)
		if description == "" {
			if err == nil {
				err = fmt.Errorf("extracted content too short (%d chars)", utf8.RuneCountInString(body))
			}
			return false, errs.Wrap(errs.CategoryContentExtraction, err)
		}
		slog.Debug("Using description as content", "url", article.Link, "scrape_error", err)
		body = description
	}

	processed, err := p.deps.Enricher.Enrich(ctx, article, body)
	if err != nil {
		return false, errs.As(err, errs.CategoryEnrichment)
	}

	if err := p.deps.Articles.Store(ctx, processed); err != nil {
		return false, errs.Wrap(errs.CategoryPersistence, err)
	}

	slog.Info("Article stored", "title", processed.Title, "category", processed.Category, "source", article.SourceName)
	return true, nil
}

// finish records the run and, when it has errors, an error report.
func (p *Pipeline) finish(ctx context.Context, run *monitor.ProcessingRun, start time.Time) (*monitor.ProcessingRun, error) {
	run.DurationMs = p.now().Sub(start).Milliseconds()
	run.ErrorCount = len(run.Errors)

	bk, done := p.bookkeeping(ctx)
	defer done()

	if err := p.deps.Recorder.RecordRun(bk, run); err != nil {
		return p.fail(ctx, run, start, fmt.Errorf("failed to record run: %w", err))
	}

	if len(run.Errors) > 0 {
		report := &monitor.ErrorReport{RunID: run.ID, Timestamp: p.now().UTC(), Errors: run.Errors}
		if err := p.deps.Recorder.RecordErrorReport(bk, report); err != nil {
			slog.Warn("Failed to record error report", "run_id", run.ID, "error", err)
		}
	}

	slog.Info("Pipeline run completed",
		"run_id", run.ID,
		"status", run.Status,
		"processed", run.ArticlesProcessed,
		"success", run.SuccessCount,
		"errors", run.ErrorCount,
		"duplicates", run.DuplicateCount,
		"fallback", run.FallbackUsed,
		"duration_ms", run.DurationMs)

	return run, nil
}

// fail marks the run critical, records it best effort and returns cause.
func (p *Pipeline) fail(ctx context.Context, run *monitor.ProcessingRun, start time.Time, cause error) (*monitor.ProcessingRun, error) {
	slog.Error("Pipeline run failed", "run_id", run.ID, "error", cause)

	run.Status = monitor.RunCritical
	run.DurationMs = p.now().Sub(start).Milliseconds()
	run.Errors = append(run.Errors, errs.As(cause, errs.CategoryUnknown))
	run.ErrorCount = len(run.Errors)

	bk, done := p.bookkeeping(ctx)
	defer done()

	if err := p.deps.Recorder.RecordRun(bk, run); err != nil {
		slog.Error("Failed to record critical run", "run_id", run.ID, "error", err)
	}
	report := &monitor.ErrorReport{
		RunID:     run.ID,
		Timestamp: p.now().UTC(),
		Fatal:     true,
		Message:   cause.Error(),
		Errors:    run.Errors,
	}
	if err := p.deps.Recorder.RecordErrorReport(bk, report); err != nil {
		slog.Error("Failed to record error report", "run_id", run.ID, "error", err)
	}

	return run, cause
}

// bookkeeping outlives the run deadline so the outcome of a timed-out run is
// still written.
func (p *Pipeline) bookkeeping(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
}

// DryRunResult is a sample of what the fetch phase currently returns.
type DryRunResult struct {
	Watermark         time.Time      `json:"watermark"`
	TotalSources      int            `json:"total_sources"`
	SuccessCount      int            `json:"success_count"`
	SourceSuccessRate float64        `json:"source_success_rate"`
	TotalArticles     int            `json:"total_articles"`
	NewArticles       int            `json:"new_articles"`
	Sample            []feed.Article `json:"sample"`
	Errors            []*errs.Error  `json:"errors"`
	DurationMs        int64          `json:"duration_ms"`
}

// DryRun fetches primary sources only and writes nothing.
func (p *Pipeline) DryRun(ctx context.Context, limit int) (*DryRunResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, p.opts.RunTimeout)
	defer cancel()

	start := p.now()
	watermark, err := p.Watermark(runCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to read watermark: %w", err)
	}

	batch := p.deps.Fetcher.RunAll(runCtx, p.deps.Sources.Sources())
	fresh := newerThan(batch.Articles, watermark)

	sample := batch.Articles
	if limit >= 0 && len(sample) > limit {
		sample = sample[:limit]
	}

	result := &DryRunResult{
		Watermark:         watermark,
		TotalSources:      batch.TotalSources,
		SuccessCount:      batch.SuccessCount,
		SourceSuccessRate: batch.SourceSuccessRate,
		TotalArticles:     len(batch.Articles),
		NewArticles:       len(fresh),
		Sample:            sample,
		Errors:            batch.Errors,
		DurationMs:        p.now().Sub(start).Milliseconds(),
	}
	if result.Errors == nil {
		result.Errors = []*errs.Error{}
	}
	if result.Sample == nil {
		result.Sample = []feed.Article{}
	}

	slog.Info("Dry run completed", "sources", result.TotalSources, "articles", result.TotalArticles, "new", result.NewArticles)
	return result, nil
}

func newerThan(articles []feed.Article, watermark time.Time) []feed.Article {
	result := make([]feed.Article, 0, len(articles))
	for _, article := range articles {
		if article.PublishedAt.After(watermark) {
			result = append(result, article)
		}
	}
	return result
}

func logFailure(msg string, e *errs.Error) {
	slog.Warn(msg,
		"category", e.Category,
		"source", e.SourceID,
		"url", e.URL,
		"timestamp", e.Timestamp.Format(time.RFC3339),
		"attempt", e.Attempt,
		"error", e.Message)
}
