package fallback

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/lysyi3m/news-comb/app/errs"
)

func newTestClient(serverURL string) *Client {
	c := NewClient("test-key", http.DefaultClient, time.Second)
	c.baseURL = serverURL
	c.limiter = rate.NewLimiter(rate.Inf, 1)
	return c
}

func TestClientSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/search" {
			t.Errorf("path = %q, want /search", req.URL.Path)
		}
		q := req.URL.Query()
		if got := q.Get("q"); got != "kenya" {
			t.Errorf("q = %q, want kenya", got)
		}
		if got := q.Get("apikey"); got != "test-key" {
			t.Errorf("apikey = %q, want test-key", got)
		}
		if got := q.Get("lang"); got != "en" {
			t.Errorf("lang = %q, want en", got)
		}
		if got := q.Get("country"); got != "ke" {
			t.Errorf("country = %q, want ke", got)
		}
		if got := q.Get("max"); got != "10" {
			t.Errorf("max = %q, want 10 (capped)", got)
		}
		if got := q.Get("from"); got != "2024-01-01T00:00:00Z" {
			t.Errorf("from = %q, want 2024-01-01T00:00:00Z", got)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"totalArticles": 2,
			"articles": [
				{"title": "Nairobi traffic plan unveiled", "description": "City plan", "url": "https://news.example/1",
				 "image": "https://news.example/1.jpg", "publishedAt": "2024-01-02T10:00:00Z",
				 "source": {"name": "Example News", "url": "https://news.example"}},
				{"title": "No source name on this one", "url": "https://news.example/2", "publishedAt": "garbage"}
			]
		}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	articles, err := client.Search(context.Background(), SearchParams{
		Query:    "kenya",
		Language: "en",
		Country:  "ke",
		Max:      50,
		From:     time.Date(2024, 1, 1, 3, 0, 0, 0, time.FixedZone("EAT", 3*3600)),
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(articles) != 2 {
		t.Fatalf("len(articles) = %d, want 2", len(articles))
	}

	a := articles[0]
	if a.Link != "https://news.example/1" || a.SourceName != "Example News" || a.ImageURL != "https://news.example/1.jpg" {
		t.Errorf("unexpected article mapping: %+v", a)
	}
	if !a.PublishedAt.Equal(time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("PublishedAt = %v", a.PublishedAt)
	}
	if articles[1].SourceName != gnewsSourceName {
		t.Errorf("SourceName = %q, want %q", articles[1].SourceName, gnewsSourceName)
	}
	if !articles[1].PublishedAt.IsZero() {
		t.Errorf("Expected unparseable date to stay zero, got %v", articles[1].PublishedAt)
	}
}

func TestClientSearchErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"errors": ["You have reached your request limit for today"]}`)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Search(context.Background(), SearchParams{Query: "x"})
	if err == nil {
		t.Fatal("expected error")
	}

	var apiErr *errs.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *errs.Error, got %T", err)
	}
	if apiErr.Category != errs.CategoryFallbackAPI {
		t.Errorf("Category = %s, want FALLBACK_API", apiErr.Category)
	}
	if apiErr.HTTPStatus != http.StatusForbidden {
		t.Errorf("HTTPStatus = %d, want 403", apiErr.HTTPStatus)
	}
	if !strings.Contains(apiErr.Message, "request limit") {
		t.Errorf("Message = %q, want provider error text", apiErr.Message)
	}
}

func TestClientSearchRedactsKey(t *testing.T) {
	client := newTestClient("http://127.0.0.1:1")
	client.httpClient = &http.Client{Timeout: time.Second}

	_, err := client.Search(context.Background(), SearchParams{Query: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(err.Error(), "test-key") {
		t.Errorf("error leaks API key: %v", err)
	}
}

func TestClientSearchCancelledContext(t *testing.T) {
	client := newTestClient("http://unused")
	client.limiter = rate.NewLimiter(rate.Every(time.Hour), 1)
	client.limiter.Allow()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := client.Search(ctx, SearchParams{Query: "x"}); errs.CategoryOf(err) != errs.CategoryFallbackAPI {
		t.Errorf("expected FALLBACK_API error, got %v", err)
	}
}
