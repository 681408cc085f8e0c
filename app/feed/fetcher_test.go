package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/lysyi3m/news-comb/app/errs"
)

const sampleRSS = `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <title>Sample</title>
    <item>
      <title>Kenya launches new satellite programme</title>
      <link>https://example.com/a</link>
      <pubDate>Mon, 01 Jan 2024 08:00:00 GMT</pubDate>
    </item>
    <item>
      <title>Test item from staging environment</title>
      <link>https://example.com/b</link>
      <pubDate>Mon, 01 Jan 2024 09:00:00 GMT</pubDate>
    </item>
    <item>
      <title>Central bank holds interest rates steady</title>
      <link>https://example.com/c</link>
      <pubDate>Mon, 01 Jan 2024 10:00:00 GMT</pubDate>
    </item>
  </channel>
</rss>`

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func newTestFetcher(client *http.Client) (*Fetcher, *recordingSleeper) {
	f := NewFetcher(client, NewParser(), NewFilterer(DefaultExclusions))
	sleeper := &recordingSleeper{}
	f.sleep = sleeper.sleep
	return f, sleeper
}

func testSource(url string) *Config {
	c := &Config{Name: "sample", URL: url, Settings: ConfigSettings{Enabled: true}}
	ApplyDefaults(c)
	return c
}

func TestFetcher_Fetch_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, sampleRSS)
	}))
	defer server.Close()

	fetcher, sleeper := newTestFetcher(server.Client())

	articles, _, err := fetcher.Fetch(context.Background(), testSource(server.URL))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(articles) != 2 {
		t.Fatalf("Expected 2 articles after exclusions, got %d", len(articles))
	}
	if len(sleeper.delays) != 0 {
		t.Errorf("Expected no backoff on first-attempt success, got %v", sleeper.delays)
	}
}

func TestFetcher_Fetch_CapsMaxItems(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sampleRSS)
	}))
	defer server.Close()

	fetcher, _ := newTestFetcher(server.Client())
	source := testSource(server.URL)
	source.Settings.MaxItems = 1

	articles, _, err := fetcher.Fetch(context.Background(), source)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(articles) != 1 {
		t.Errorf("Expected 1 article, got %d", len(articles))
	}
}

func TestFetcher_Fetch_RetriesWithBackoffAndRotation(t *testing.T) {
	var mu sync.Mutex
	var agents []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		agents = append(agents, r.Header.Get("User-Agent"))
		n := len(agents)
		mu.Unlock()

		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, sampleRSS)
	}))
	defer server.Close()

	fetcher, sleeper := newTestFetcher(server.Client())
	source := testSource(server.URL)
	source.Settings.MaxRetries = 3

	articles, _, err := fetcher.Fetch(context.Background(), source)
	if err != nil {
		t.Fatalf("Expected success on third attempt, got: %v", err)
	}
	if len(articles) == 0 {
		t.Error("Expected articles")
	}

	expected := []time.Duration{time.Second, 2 * time.Second}
	if len(sleeper.delays) != len(expected) {
		t.Fatalf("Expected %d backoff sleeps, got %v", len(expected), sleeper.delays)
	}
	for i, d := range expected {
		if sleeper.delays[i] != d {
			t.Errorf("Backoff %d: expected %v, got %v", i, d, sleeper.delays[i])
		}
	}

	if agents[0] == agents[1] || agents[1] == agents[2] {
		t.Errorf("Expected User-Agent to rotate between attempts, got %v", agents)
	}
}

func TestFetcher_Fetch_ExhaustsRetries(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	fetcher, _ := newTestFetcher(server.Client())
	source := testSource(server.URL)
	source.Settings.MaxRetries = 2

	_, _, err := fetcher.Fetch(context.Background(), source)
	if err == nil {
		t.Fatal("Expected error")
	}
	if calls != 2 {
		t.Errorf("Expected 2 attempts, got %d", calls)
	}

	var fetchErr *errs.Error
	if !errors.As(err, &fetchErr) {
		t.Fatalf("Expected *errs.Error, got %T", err)
	}
	if fetchErr.Category != errs.CategorySourceFetch {
		t.Errorf("Expected SOURCE_FETCH, got %s", fetchErr.Category)
	}
	if fetchErr.HTTPStatus != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", fetchErr.HTTPStatus)
	}
	if fetchErr.Attempt != 2 {
		t.Errorf("Expected attempt 2, got %d", fetchErr.Attempt)
	}
	if fetchErr.SourceID != "sample" {
		t.Errorf("Expected source 'sample', got %s", fetchErr.SourceID)
	}
}

func TestFetcher_Fetch_NotFoundIsNotRetried(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.NotFound(w, r)
	}))
	defer server.Close()

	fetcher, sleeper := newTestFetcher(server.Client())

	if _, _, err := fetcher.Fetch(context.Background(), testSource(server.URL)); err == nil {
		t.Fatal("Expected error")
	}
	if calls != 1 {
		t.Errorf("Expected a single attempt, got %d", calls)
	}
	if len(sleeper.delays) != 0 {
		t.Errorf("Expected no backoff, got %v", sleeper.delays)
	}
}

func TestFetcher_Fetch_HTMLIsBlocked(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, "<!DOCTYPE html><html><body>Checking your browser</body></html>")
	}))
	defer server.Close()

	fetcher, _ := newTestFetcher(server.Client())
	source := testSource(server.URL)
	source.Settings.MaxRetries = 1

	_, _, err := fetcher.Fetch(context.Background(), source)
	if !errors.Is(err, ErrBlocked) {
		t.Fatalf("Expected ErrBlocked, got %v", err)
	}
	if errors.Is(err, ErrParse) {
		t.Error("Blocked response must not be reported as a parse failure")
	}
	if errs.CategoryOf(err) != errs.CategorySourceFetch {
		t.Errorf("Expected SOURCE_FETCH, got %s", errs.CategoryOf(err))
	}
}

func TestFetcher_Fetch_ParseFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, "not a feed at all")
	}))
	defer server.Close()

	fetcher, _ := newTestFetcher(server.Client())
	source := testSource(server.URL)
	source.Settings.MaxRetries = 1

	_, _, err := fetcher.Fetch(context.Background(), source)
	if !errors.Is(err, ErrParse) {
		t.Fatalf("Expected ErrParse, got %v", err)
	}
}

func TestFetcher_Fetch_CancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	fetcher, _ := newTestFetcher(server.Client())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, _, err := fetcher.Fetch(ctx, testSource(server.URL)); err == nil {
		t.Fatal("Expected error for cancelled context")
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt  int
		maxDelay time.Duration
		expected time.Duration
	}{
		{1, 5 * time.Second, 0},
		{2, 5 * time.Second, time.Second},
		{3, 5 * time.Second, 2 * time.Second},
		{4, 5 * time.Second, 4 * time.Second},
		{5, 5 * time.Second, 5 * time.Second},
		{8, 10 * time.Second, 10 * time.Second},
	}

	for _, tt := range tests {
		if got := Backoff(tt.attempt, tt.maxDelay); got != tt.expected {
			t.Errorf("Backoff(%d, %v): expected %v, got %v", tt.attempt, tt.maxDelay, tt.expected, got)
		}
	}
}

func TestIsHTML(t *testing.T) {
	tests := []struct {
		contentType string
		body        string
		expected    bool
	}{
		{"text/html; charset=utf-8", "<rss></rss>", true},
		{"application/xml", "  <!DOCTYPE html><html>", true},
		{"", "<HTML><head>", true},
		{"application/rss+xml", `<?xml version="1.0"?><rss>`, false},
		{"text/xml", "", false},
	}

	for _, tt := range tests {
		if got := isHTML(tt.contentType, []byte(tt.body)); got != tt.expected {
			t.Errorf("isHTML(%q, %q): expected %v, got %v", tt.contentType, tt.body, tt.expected, got)
		}
	}
}
