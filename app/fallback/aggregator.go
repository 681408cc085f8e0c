package fallback

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/lysyi3m/news-comb/app/errs"
	"github.com/lysyi3m/news-comb/app/feed"
	"github.com/lysyi3m/news-comb/app/kv"
)

const (
	queryKeyPrefix   = "gnews_query_"
	ArticlesCacheKey = "gnews_articles_cache"

	DefaultMinArticles = 5
	DefaultMaxQueries  = 2
	defaultQueryTTL    = 4 * time.Hour
	articlesCacheCap   = 100
	articlesCacheTTL   = 24 * time.Hour
)

// Searcher runs one fallback search query.
type Searcher interface {
	Search(ctx context.Context, p SearchParams) ([]feed.Article, error)
}

var _ Searcher = (*Client)(nil)

type Options struct {
	APIKey        string
	Queries       []string
	Language      string
	Country       string
	MinArticles   int
	MaxQueries    int
	MinInterval   time.Duration
	QueryCacheTTL time.Duration
}

// Aggregator queries the fallback API when primary sources come up short.
type Aggregator struct {
	store    kv.Store
	usage    *UsageTracker
	searcher Searcher
	filterer *feed.Filterer
	opts     Options
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewAggregator(store kv.Store, usage *UsageTracker, searcher Searcher, filterer *feed.Filterer, opts Options) *Aggregator {
	if opts.MinArticles <= 0 {
		opts.MinArticles = DefaultMinArticles
	}
	if opts.MaxQueries <= 0 {
		opts.MaxQueries = DefaultMaxQueries
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = time.Second
	}
	if opts.QueryCacheTTL <= 0 {
		opts.QueryCacheTTL = defaultQueryTTL
	}

	return &Aggregator{
		store:    store,
		usage:    usage,
		searcher: searcher,
		filterer: filterer,
		opts:     opts,
		now:      time.Now,
		sleep:    feed.SleepContext,
	}
}

func (a *Aggregator) Configured() bool {
	return a.opts.APIKey != ""
}

func (a *Aggregator) Usage() *UsageTracker {
	return a.usage
}

// Remaining returns today's unspent fallback calls.
func (a *Aggregator) Remaining(ctx context.Context) (int, error) {
	usage, err := a.usage.GetUsage(ctx, a.usage.Today())
	if err != nil {
		return 0, err
	}
	return usage.Remaining, nil
}

// ShouldUse reports whether the fallback should run after the primary pass
// produced primaryCount articles. When it returns false, reason says why.
func (a *Aggregator) ShouldUse(ctx context.Context, primaryCount int) (bool, string) {
	if primaryCount >= a.opts.MinArticles {
		return false, fmt.Sprintf("primary sources returned %d articles (minimum %d)", primaryCount, a.opts.MinArticles)
	}
	if !a.Configured() {
		return false, "fallback API key not configured"
	}

	usage, err := a.usage.GetUsage(ctx, a.usage.Today())
	if err != nil {
		slog.Warn("Failed to read fallback usage", "error", err)
		return false, "fallback usage unavailable"
	}
	if usage.Remaining <= 0 {
		return false, fmt.Sprintf("daily fallback quota exhausted (%d/%d)", usage.CallsUsed, usage.Limit)
	}

	return true, ""
}

// QueryCacheKey scopes a query's cached result to one day.
func QueryCacheKey(query, day string) string {
	sum := sha256.Sum256([]byte(query + "|" + day))
	return queryKeyPrefix + hex.EncodeToString(sum[:])[:16]
}

// FetchFallback runs at most MaxQueries queries and returns valid articles
// published after since, newest first. Cached query results do not spend quota.
func (a *Aggregator) FetchFallback(ctx context.Context, since time.Time, maxArticles int) ([]feed.Article, error) {
	if !a.Configured() {
		return nil, nil
	}

	day := a.usage.Today()
	queries := a.opts.Queries
	if len(queries) > a.opts.MaxQueries {
		queries = queries[:a.opts.MaxQueries]
	}

	var (
		collected   []feed.Article
		failures    []error
		networkUsed int
		cacheHits   int
	)

	for _, query := range queries {
		if maxArticles > 0 && len(collected) >= maxArticles {
			break
		}

		cacheKey := QueryCacheKey(query, day)
		var cached []feed.Article
		hit, err := kv.GetJSON(ctx, a.store, cacheKey, &cached)
		if err != nil {
			slog.Warn("Failed to read fallback query cache", "query", query, "error", err)
		}
		if hit {
			cacheHits++
			collected = append(collected, cached...)
			continue
		}

		usage, err := a.usage.GetUsage(ctx, day)
		if err != nil {
			failures = append(failures, err)
			break
		}
		if usage.Remaining <= 0 {
			slog.Info("Fallback quota exhausted, skipping remaining queries", "calls_used", usage.CallsUsed, "limit", usage.Limit)
			break
		}

		if err := a.waitForSpacing(ctx, usage.LastCall); err != nil {
			failures = append(failures, err)
			break
		}

		articles, searchErr := a.searcher.Search(ctx, SearchParams{
			Query:    query,
			Language: a.opts.Language,
			Country:  a.opts.Country,
			Max:      maxArticles,
			From:     since,
		})

		networkUsed++
		if _, err := a.usage.Increment(ctx, day); err != nil {
			slog.Error("Failed to record fallback usage", "error", err)
		}

		if searchErr != nil {
			slog.Warn("Fallback query failed", "query", query, "error", searchErr)
			failures = append(failures, searchErr)
			continue
		}

		if err := kv.PutJSON(ctx, a.store, cacheKey, articles, a.opts.QueryCacheTTL); err != nil {
			slog.Warn("Failed to cache fallback query", "query", query, "error", err)
		}
		collected = append(collected, articles...)
	}

	result := a.prepare(collected, since, maxArticles)

	if len(result) > 0 {
		if err := a.mergeIntoCache(ctx, result); err != nil {
			slog.Warn("Failed to update fallback article cache", "error", err)
		}
	}

	slog.Info("Fallback fetch completed",
		"queries", len(queries),
		"network_calls", networkUsed,
		"cache_hits", cacheHits,
		"articles", len(result),
		"failures", len(failures))

	if len(result) == 0 && len(failures) > 0 {
		return nil, errs.Wrap(errs.CategoryFallbackAPI, errors.Join(failures...))
	}
	return result, nil
}

func (a *Aggregator) waitForSpacing(ctx context.Context, lastCall time.Time) error {
	if lastCall.IsZero() {
		return nil
	}
	wait := a.opts.MinInterval - a.now().Sub(lastCall)
	if wait <= 0 {
		return nil
	}
	slog.Debug("Spacing fallback request", "wait", wait.String())
	return a.sleep(ctx, wait)
}

func (a *Aggregator) prepare(articles []feed.Article, since time.Time, maxArticles int) []feed.Article {
	valid, _ := a.filterer.Run(articles, nil)

	seen := make(map[string]bool, len(valid))
	result := make([]feed.Article, 0, len(valid))
	for _, article := range valid {
		if !since.IsZero() && !article.PublishedAt.After(since) {
			continue
		}
		if seen[article.Link] {
			continue
		}
		seen[article.Link] = true
		result = append(result, article)
	}

	sortNewestFirst(result)
	if maxArticles > 0 && len(result) > maxArticles {
		result = result[:maxArticles]
	}
	return result
}

func (a *Aggregator) mergeIntoCache(ctx context.Context, fresh []feed.Article) error {
	var cached []feed.Article
	if _, err := kv.GetJSON(ctx, a.store, ArticlesCacheKey, &cached); err != nil {
		return err
	}

	merged := make([]feed.Article, 0, len(fresh)+len(cached))
	seen := make(map[string]bool, len(fresh)+len(cached))
	for _, article := range append(append([]feed.Article{}, fresh...), cached...) {
		if seen[article.Link] {
			continue
		}
		seen[article.Link] = true
		merged = append(merged, article)
	}

	sortNewestFirst(merged)
	if len(merged) > articlesCacheCap {
		merged = merged[:articlesCacheCap]
	}

	return kv.PutJSON(ctx, a.store, ArticlesCacheKey, merged, articlesCacheTTL)
}

// CachedArticles returns the retained fallback articles, newest first.
func (a *Aggregator) CachedArticles(ctx context.Context) ([]feed.Article, error) {
	var cached []feed.Article
	if _, err := kv.GetJSON(ctx, a.store, ArticlesCacheKey, &cached); err != nil {
		return nil, err
	}
	return cached, nil
}

func sortNewestFirst(articles []feed.Article) {
	sort.SliceStable(articles, func(i, j int) bool {
		return articles[i].PublishedAt.After(articles[j].PublishedAt)
	})
}
