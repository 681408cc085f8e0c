package fallback

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/lysyi3m/news-comb/app/errs"
	"github.com/lysyi3m/news-comb/app/feed"
)

const (
	defaultBaseURL  = "https://gnews.io/api/v4"
	gnewsSourceName = "GNews"
	maxPerRequest   = 10
)

type SearchParams struct {
	Query    string
	Language string
	Country  string
	Max      int
	From     time.Time
}

// Client talks to the GNews search endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewClient(apiKey string, httpClient *http.Client, minInterval time.Duration) *Client {
	if minInterval <= 0 {
		minInterval = time.Second
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Every(minInterval), 1),
	}
}

type gnewsResponse struct {
	TotalArticles int            `json:"totalArticles"`
	Articles      []gnewsArticle `json:"articles"`
	Errors        []string       `json:"errors"`
}

type gnewsArticle struct {
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Content     string      `json:"content"`
	URL         string      `json:"url"`
	Image       string      `json:"image"`
	PublishedAt string      `json:"publishedAt"`
	Source      gnewsSource `json:"source"`
}

type gnewsSource struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

func (c *Client) Search(ctx context.Context, p SearchParams) ([]feed.Article, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errs.Wrap(errs.CategoryFallbackAPI, fmt.Errorf("rate limiter: %w", err))
	}

	q := url.Values{}
	q.Set("q", p.Query)
	q.Set("max", strconv.Itoa(min(max(p.Max, 1), maxPerRequest)))
	q.Set("sortby", "publishedAt")
	if p.Language != "" {
		q.Set("lang", p.Language)
	}
	if p.Country != "" {
		q.Set("country", p.Country)
	}
	if !p.From.IsZero() {
		q.Set("from", p.From.UTC().Format(time.RFC3339))
	}
	q.Set("apikey", c.apiKey)

	endpoint := c.baseURL + "/search?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errs.Wrap(errs.CategoryFallbackAPI, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// the URL carries the API key
		return nil, errs.New(errs.CategoryFallbackAPI, "request failed: "+redact(err.Error(), c.apiKey)).
			WithURL(c.baseURL + "/search")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, errs.Wrap(errs.CategoryFallbackAPI, fmt.Errorf("read response: %w", err))
	}

	var parsed gnewsResponse
	decodeErr := json.Unmarshal(body, &parsed)

	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("GNews returned %s", resp.Status)
		if decodeErr == nil && len(parsed.Errors) > 0 {
			msg += ": " + strings.Join(parsed.Errors, "; ")
		}
		return nil, errs.New(errs.CategoryFallbackAPI, msg).
			WithStatus(resp.StatusCode).WithURL(c.baseURL + "/search")
	}
	if decodeErr != nil {
		return nil, errs.Wrap(errs.CategoryFallbackAPI, fmt.Errorf("parse response: %w", decodeErr))
	}

	articles := make([]feed.Article, 0, len(parsed.Articles))
	for _, a := range parsed.Articles {
		articles = append(articles, a.toArticle())
	}
	return articles, nil
}

func (a gnewsArticle) toArticle() feed.Article {
	publishedAt, _ := time.Parse(time.RFC3339, a.PublishedAt)

	sourceName := a.Source.Name
	if sourceName == "" {
		sourceName = gnewsSourceName
	}

	return feed.Article{
		Title:       strings.TrimSpace(a.Title),
		Link:        strings.TrimSpace(a.URL),
		PublishedAt: publishedAt.UTC(),
		Description: strings.TrimSpace(a.Description),
		SourceName:  sourceName,
		ImageURL:    a.Image,
	}
}

func redact(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, "REDACTED")
}
