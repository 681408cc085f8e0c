package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lysyi3m/news-comb/app/feed"
	"github.com/lysyi3m/news-comb/app/kv"
)

const (
	TitlesCacheKey = "article_titles_cache"
	URLsCacheKey   = "article_urls_cache"

	DefaultCacheSize           = 1000
	DefaultSimilarityThreshold = 0.8
	identityTTL                = 7 * 24 * time.Hour
)

type Stats struct {
	Input           int `json:"input"`
	CacheHits       int `json:"cache_hits"`
	BatchDuplicates int `json:"batch_duplicates"`
	NearDuplicates  int `json:"near_duplicates"`
	Unique          int `json:"unique"`
}

func (s Stats) Duplicates() int {
	return s.CacheHits + s.BatchDuplicates + s.NearDuplicates
}

// Engine drops articles seen in earlier runs or repeated within a batch.
// Duplicates are judged lexically; two different wordings of one story are
// treated as distinct.
type Engine struct {
	store     kv.Store
	maxSize   int
	threshold float64
	mu        sync.Mutex
}

func NewEngine(store kv.Store, maxSize int, threshold float64) *Engine {
	if maxSize <= 0 {
		maxSize = DefaultCacheSize
	}
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultSimilarityThreshold
	}
	return &Engine{
		store:     store,
		maxSize:   maxSize,
		threshold: threshold,
	}
}

// identitySet is an insertion-ordered set, oldest first.
type identitySet struct {
	items []string
	index map[string]bool
}

func newIdentitySet(items []string) *identitySet {
	s := &identitySet{index: make(map[string]bool, len(items))}
	for _, item := range items {
		s.add(item)
	}
	return s
}

func (s *identitySet) has(item string) bool {
	return s.index[item]
}

func (s *identitySet) add(item string) {
	if item == "" || s.index[item] {
		return
	}
	s.index[item] = true
	s.items = append(s.items, item)
}

func (s *identitySet) remove(item string) bool {
	if !s.index[item] {
		return false
	}
	delete(s.index, item)
	for i, v := range s.items {
		if v == item {
			s.items = append(s.items[:i], s.items[i+1:]...)
			break
		}
	}
	return true
}

func (s *identitySet) trimmed(maxSize int) []string {
	if len(s.items) <= maxSize {
		return s.items
	}
	return s.items[len(s.items)-maxSize:]
}

// Dedupe returns the candidates not seen before, in input order, and records
// their identities.
func (e *Engine) Dedupe(ctx context.Context, candidates []feed.Article) ([]feed.Article, Stats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := Stats{Input: len(candidates)}

	titles, urls, err := e.load(ctx)
	if err != nil {
		return nil, stats, err
	}

	var (
		unique         []feed.Article
		acceptedTitles []string
		batchTitles    = make(map[string]bool)
		batchURLs      = make(map[string]bool)
	)

	for _, candidate := range candidates {
		titleKey := NormalizeTitle(candidate.Title)
		urlKey := NormalizeURL(candidate.Link)

		if titles.has(titleKey) || urls.has(urlKey) {
			stats.CacheHits++
			continue
		}

		if batchTitles[titleKey] || batchURLs[urlKey] {
			stats.BatchDuplicates++
			slog.Debug("Dropping in-batch duplicate", "title", candidate.Title, "url", candidate.Link)
			continue
		}

		if match, score := e.nearestMatch(titleKey, acceptedTitles); match != "" {
			stats.NearDuplicates++
			slog.Debug("Dropping near-duplicate", "title", candidate.Title, "matches", match, "score", score)
			continue
		}

		batchTitles[titleKey] = true
		batchURLs[urlKey] = true
		acceptedTitles = append(acceptedTitles, titleKey)
		unique = append(unique, candidate)
	}

	stats.Unique = len(unique)

	if len(unique) > 0 {
		for _, article := range unique {
			titles.add(NormalizeTitle(article.Title))
			urls.add(NormalizeURL(article.Link))
		}
		if err := e.save(ctx, titles, urls); err != nil {
			return nil, stats, err
		}
	}

	slog.Info("Deduplication completed",
		"input", stats.Input,
		"cache_hits", stats.CacheHits,
		"batch_duplicates", stats.BatchDuplicates,
		"near_duplicates", stats.NearDuplicates,
		"unique", stats.Unique)

	return unique, stats, nil
}

// Forget removes the identities of articles so a later run can pick them up
// again. Used for articles that failed downstream.
func (e *Engine) Forget(ctx context.Context, articles []feed.Article) error {
	if len(articles) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	titles, urls, err := e.load(ctx)
	if err != nil {
		return err
	}

	removed := 0
	for _, article := range articles {
		if titles.remove(NormalizeTitle(article.Title)) {
			removed++
		}
		urls.remove(NormalizeURL(article.Link))
	}

	slog.Debug("Identities forgotten", "articles", len(articles), "removed", removed)
	return e.save(ctx, titles, urls)
}

func (e *Engine) nearestMatch(titleKey string, accepted []string) (string, float64) {
	for _, other := range accepted {
		if score := Similarity(titleKey, other); score >= e.threshold {
			return other, score
		}
	}
	return "", 0
}

func (e *Engine) load(ctx context.Context) (*identitySet, *identitySet, error) {
	var titles, urls []string
	if _, err := kv.GetJSON(ctx, e.store, TitlesCacheKey, &titles); err != nil {
		return nil, nil, fmt.Errorf("failed to load title cache: %w", err)
	}
	if _, err := kv.GetJSON(ctx, e.store, URLsCacheKey, &urls); err != nil {
		return nil, nil, fmt.Errorf("failed to load URL cache: %w", err)
	}
	return newIdentitySet(titles), newIdentitySet(urls), nil
}

func (e *Engine) save(ctx context.Context, titles, urls *identitySet) error {
	if err := kv.PutJSON(ctx, e.store, TitlesCacheKey, titles.trimmed(e.maxSize), identityTTL); err != nil {
		return fmt.Errorf("failed to save title cache: %w", err)
	}
	if err := kv.PutJSON(ctx, e.store, URLsCacheKey, urls.trimmed(e.maxSize), identityTTL); err != nil {
		return fmt.Errorf("failed to save URL cache: %w", err)
	}
	return nil
}
