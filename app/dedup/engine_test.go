package dedup

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/lysyi3m/news-comb/app/feed"
	"github.com/lysyi3m/news-comb/app/kv"
)

func candidate(title, link string, published string) feed.Article {
	t, _ := time.Parse(time.RFC3339, published)
	return feed.Article{Title: title, Link: link, PublishedAt: t, SourceName: "test"}
}

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Kenya Launches X", "kenya launches x"},
		{"Kenya launches x!!", "kenya launches x"},
		{"  Café   owners\tprotest  ", "cafe owners protest"},
		{"Ruto's plan: 2024/25 budget", "rutos plan 202425 budget"},
		{"Škoda recalls cars", "skoda recalls cars"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizeTitle(tt.input); got != tt.expected {
			t.Errorf("NormalizeTitle(%q): expected %q, got %q", tt.input, tt.expected, got)
		}
	}
}

func TestNormalizeURL(t *testing.T) {
	if got := NormalizeURL("  HTTPS://Example.com/Story "); got != "https://example.com/story" {
		t.Errorf("Expected lowercased trimmed URL, got %q", got)
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		a, b     string
		expected float64
	}{
		{"kenya launches new satellite today", "kenya launches new satellite today", 1},
		{"kenya launches new satellite today", "kenya launches satellite", 0.75},
		{"the cat sat", "the dog ran", 0},
		{"central bank raises rates", "floods displace thousands", 0},
	}

	for _, tt := range tests {
		if got := Similarity(tt.a, tt.b); got != tt.expected {
			t.Errorf("Similarity(%q, %q): expected %v, got %v", tt.a, tt.b, tt.expected, got)
		}
	}
}

func TestEngine_Dedupe_SameBatchNearDuplicate(t *testing.T) {
	engine := NewEngine(kv.NewMemory(), 0, 0)

	unique, stats, err := engine.Dedupe(context.Background(), []feed.Article{
		candidate("Kenya Launches X", "http://a.com/1", "2024-01-01T00:00:00Z"),
		candidate("Kenya launches x!!", "http://a.com/1-amp", "2024-01-01T00:05:00Z"),
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(unique) != 1 {
		t.Fatalf("Expected exactly 1 article, got %d", len(unique))
	}
	if unique[0].Link != "http://a.com/1" {
		t.Errorf("Expected the first article to win, got %s", unique[0].Link)
	}
	if stats.BatchDuplicates != 1 {
		t.Errorf("Expected 1 batch duplicate, got %d", stats.BatchDuplicates)
	}
}

func TestEngine_Dedupe_WordOverlap(t *testing.T) {
	engine := NewEngine(kv.NewMemory(), 0, 0)

	unique, stats, err := engine.Dedupe(context.Background(), []feed.Article{
		candidate("Treasury publishes supplementary budget estimates today", "https://a.com/1", "2024-01-01T00:00:00Z"),
		candidate("Treasury publishes supplementary budget estimates", "https://b.com/2", "2024-01-01T00:01:00Z"),
		candidate("Floods displace thousands in western region", "https://c.com/3", "2024-01-01T00:02:00Z"),
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(unique) != 2 {
		t.Fatalf("Expected 2 articles, got %d", len(unique))
	}
	if stats.NearDuplicates != 1 {
		t.Errorf("Expected 1 near duplicate, got %d", stats.NearDuplicates)
	}
}

func TestEngine_Dedupe_Idempotent(t *testing.T) {
	engine := NewEngine(kv.NewMemory(), 0, 0)
	ctx := context.Background()

	input := []feed.Article{
		candidate("Parliament approves finance bill", "https://a.com/1", "2024-01-01T00:00:00Z"),
		candidate("Shilling strengthens against the dollar", "https://a.com/2", "2024-01-01T01:00:00Z"),
		candidate("Marathon record broken in Berlin", "https://a.com/3", "2024-01-01T02:00:00Z"),
	}

	first, _, err := engine.Dedupe(ctx, input)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 3 {
		t.Fatalf("Expected 3 unique on first run, got %d", len(first))
	}

	second, stats, err := engine.Dedupe(ctx, input)
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != 0 {
		t.Errorf("Expected 0 unique on second run, got %d", len(second))
	}
	if stats.CacheHits != 3 {
		t.Errorf("Expected 3 cache hits, got %d", stats.CacheHits)
	}
}

func TestEngine_Dedupe_URLCacheHit(t *testing.T) {
	engine := NewEngine(kv.NewMemory(), 0, 0)
	ctx := context.Background()

	engine.Dedupe(ctx, []feed.Article{candidate("Original headline for the story", "https://a.com/story", "2024-01-01T00:00:00Z")})

	unique, stats, err := engine.Dedupe(ctx, []feed.Article{
		candidate("Completely rewritten headline", "HTTPS://A.COM/STORY", "2024-01-01T00:00:00Z"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(unique) != 0 || stats.CacheHits != 1 {
		t.Errorf("Expected URL cache hit, got unique=%d hits=%d", len(unique), stats.CacheHits)
	}
}

func TestEngine_Dedupe_TrimsOldestFirst(t *testing.T) {
	store := kv.NewMemory()
	engine := NewEngine(store, 3, 0)
	ctx := context.Background()

	var batch []feed.Article
	for i := 0; i < 5; i++ {
		batch = append(batch, candidate(fmt.Sprintf("Distinct headline %c%c%c%c", 'a'+i, 'a'+i, 'a'+i, 'a'+i), fmt.Sprintf("https://a.com/%d", i), "2024-01-01T00:00:00Z"))
	}
	if _, _, err := engine.Dedupe(ctx, batch); err != nil {
		t.Fatal(err)
	}

	var urls []string
	if _, err := kv.GetJSON(ctx, store, URLsCacheKey, &urls); err != nil {
		t.Fatal(err)
	}
	if len(urls) != 3 {
		t.Fatalf("Expected 3 retained URLs, got %d", len(urls))
	}
	if urls[0] != "https://a.com/2" || urls[2] != "https://a.com/4" {
		t.Errorf("Expected oldest entries evicted, got %v", urls)
	}
}

func TestEngine_Forget(t *testing.T) {
	engine := NewEngine(kv.NewMemory(), 0, 0)
	ctx := context.Background()

	failed := candidate("Article that failed enrichment", "https://a.com/failed", "2024-01-01T00:00:00Z")
	kept := candidate("Article that was stored fine", "https://a.com/kept", "2024-01-01T00:00:00Z")

	if _, _, err := engine.Dedupe(ctx, []feed.Article{failed, kept}); err != nil {
		t.Fatal(err)
	}
	if err := engine.Forget(ctx, []feed.Article{failed}); err != nil {
		t.Fatal(err)
	}

	unique, _, err := engine.Dedupe(ctx, []feed.Article{failed, kept})
	if err != nil {
		t.Fatal(err)
	}
	if len(unique) != 1 || unique[0].Link != failed.Link {
		t.Errorf("Expected only the forgotten article to come back, got %+v", unique)
	}
}
