package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lysyi3m/news-comb/app/errs"
)

const (
	maxFeedSize = 10 << 20
	baseBackoff = time.Second
)

var (
	// ErrBlocked means the source answered with an HTML page where a feed was
	// expected, usually an anti-bot challenge.
	ErrBlocked = errors.New("blocked: HTML response where feed was expected")
	ErrParse   = errors.New("failed to parse feed")
)

type Fetcher struct {
	httpClient *http.Client
	parser     *Parser
	filterer   *Filterer
	headers    *HeaderRotator
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewFetcher(httpClient *http.Client, parser *Parser, filterer *Filterer) *Fetcher {
	return &Fetcher{
		httpClient: httpClient,
		parser:     parser,
		filterer:   filterer,
		headers:    NewHeaderRotator(),
		sleep:      SleepContext,
	}
}

// Fetch downloads, parses and filters one source. A non-nil error is always
// an *errs.Error with category SOURCE_FETCH.
func (f *Fetcher) Fetch(ctx context.Context, source *Config) ([]Article, FilterStats, error) {
	attempts := max(1, source.Settings.MaxRetries)

	var lastErr *errs.Error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := Backoff(attempt, source.Settings.MaxBackoffDuration())
			slog.Debug("Retrying source", "source", source.Name, "attempt", attempt, "delay", delay.String())
			if err := f.sleep(ctx, delay); err != nil {
				return nil, FilterStats{}, errs.Wrap(errs.CategorySourceFetch, err).
					WithSource(source.Name).WithURL(source.URL).WithAttempt(attempt)
			}
		}

		data, status, err := f.download(ctx, source)
		if err == nil {
			var articles []Article
			articles, err = f.parser.Run(data, source.DisplayName())
			if err == nil {
				kept, stats := f.filterer.Run(articles, source)
				if source.Settings.MaxItems > 0 && len(kept) > source.Settings.MaxItems {
					kept = kept[:source.Settings.MaxItems]
				}

				slog.Info("Source fetched",
					"source", source.Name,
					"attempt", attempt,
					"items", len(articles),
					"kept", len(kept),
					"invalid", stats.Invalid,
					"excluded", stats.Excluded,
					"filtered", stats.Filtered)
				for _, r := range stats.Rejected {
					slog.Debug("Item rejected", "source", source.Name, "link", r.Link, "reason", r.Reason)
				}
				return kept, stats, nil
			}
		}

		lastErr = errs.Wrap(errs.CategorySourceFetch, err).
			WithSource(source.Name).WithURL(source.URL).WithStatus(status).WithAttempt(attempt)

		slog.Warn("Source fetch attempt failed",
			"source", source.Name,
			"attempt", attempt,
			"max_attempts", attempts,
			"status", status,
			"blocked", errors.Is(err, ErrBlocked),
			"error", err)

		if !retryable(ctx, err, status) {
			break
		}
	}

	return nil, FilterStats{}, lastErr
}

func (f *Fetcher) download(ctx context.Context, source *Config) ([]byte, int, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, source.Settings.TimeoutDuration())
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, source.URL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	f.headers.Apply(req, source.Settings.HeaderProfile)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}

	if isHTML(resp.Header.Get("Content-Type"), data) {
		return nil, resp.StatusCode, ErrBlocked
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, fmt.Errorf("HTTP error: %s", resp.Status)
	}

	return data, resp.StatusCode, nil
}

func isHTML(contentType string, body []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "text/html") {
		return true
	}
	head := bytes.ToLower(bytes.TrimSpace(body[:min(len(body), 512)]))
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html"))
}

func retryable(ctx context.Context, err error, status int) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return status != http.StatusNotFound && status != http.StatusGone
}

// Backoff returns the wait before the given attempt: 1s, 2s, 4s... capped at maxDelay.
func Backoff(attempt int, maxDelay time.Duration) time.Duration {
	if attempt <= 1 {
		return 0
	}
	delay := baseBackoff << uint(attempt-2)
	if maxDelay > 0 && delay > maxDelay {
		return maxDelay
	}
	return delay
}

func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
