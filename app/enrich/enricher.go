package enrich

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/lysyi3m/news-comb/app/errs"
	"github.com/lysyi3m/news-comb/app/feed"
)

const maxSummaryLength = 300

// Passthrough keeps the original wording and only derives the slug,
// summary and category locally.
type Passthrough struct {
	categorizer *Categorizer
	now         func() time.Time
}

func NewPassthrough(categorizer *Categorizer) *Passthrough {
	return &Passthrough{categorizer: categorizer, now: time.Now}
}

func (p *Passthrough) Enrich(ctx context.Context, article feed.Article, body string) (feed.ProcessedArticle, error) {
	if err := ctx.Err(); err != nil {
		return feed.ProcessedArticle{}, errs.Wrap(errs.CategoryEnrichment, err)
	}

	return feed.ProcessedArticle{
		Source:      article,
		Title:       article.Title,
		Slug:        Slugify(article.Title),
		Summary:     summarize(cmp.Or(article.Description, body)),
		Content:     body,
		Category:    p.categorizer.Categorize(article.Title, article.Description),
		ProcessedAt: p.now().UTC(),
	}, nil
}

// Client sends articles to an external rewrite service.
type Client struct {
	endpoint    string
	apiKey      string
	httpClient  *http.Client
	limiter     *rate.Limiter
	categorizer *Categorizer
	now         func() time.Time
}

func NewClient(endpoint, apiKey string, httpClient *http.Client, categorizer *Categorizer) *Client {
	return &Client{
		endpoint:    endpoint,
		apiKey:      apiKey,
		httpClient:  httpClient,
		limiter:     rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
		categorizer: categorizer,
		now:         time.Now,
	}
}

type enrichRequest struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Content     string    `json:"content"`
	URL         string    `json:"url"`
	SourceName  string    `json:"source_name"`
	PublishedAt time.Time `json:"published_at"`
}

type enrichResponse struct {
	Title    string `json:"title"`
	Summary  string `json:"summary"`
	Content  string `json:"content"`
	Category string `json:"category"`
}

func (c *Client) Enrich(ctx context.Context, article feed.Article, body string) (feed.ProcessedArticle, error) {
	fail := func(err error) (feed.ProcessedArticle, error) {
		return feed.ProcessedArticle{}, errs.Wrap(errs.CategoryEnrichment, err).WithURL(article.Link)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fail(fmt.Errorf("rate limiter: %w", err))
	}

	payload, err := json.Marshal(enrichRequest{
		Title:       article.Title,
		Description: article.Description,
		Content:     body,
		URL:         article.Link,
		SourceName:  article.SourceName,
		PublishedAt: article.PublishedAt,
	})
	if err != nil {
		return fail(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fail(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fail(fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fail(fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		e := errs.New(errs.CategoryEnrichment, fmt.Sprintf("enrichment service returned %s", resp.Status)).
			WithStatus(resp.StatusCode).WithURL(article.Link)
		return feed.ProcessedArticle{}, e
	}

	var parsed enrichResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fail(fmt.Errorf("parse response: %w", err))
	}
	if strings.TrimSpace(parsed.Content) == "" {
		return fail(fmt.Errorf("enrichment service returned empty content"))
	}

	title := cmp.Or(strings.TrimSpace(parsed.Title), article.Title)
	category := parsed.Category
	if category == "" {
		category = c.categorizer.Categorize(title, article.Description)
	}

	return feed.ProcessedArticle{
		Source:      article,
		Title:       title,
		Slug:        Slugify(title),
		Summary:     cmp.Or(parsed.Summary, summarize(article.Description)),
		Content:     parsed.Content,
		Category:    strings.ToLower(category),
		ProcessedAt: c.now().UTC(),
	}, nil
}

func summarize(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= maxSummaryLength {
		return text
	}
	cut := string(runes[:maxSummaryLength])
	if i := strings.LastIndex(cut, " "); i > maxSummaryLength/2 {
		cut = cut[:i]
	}
	return cut + "..."
}
