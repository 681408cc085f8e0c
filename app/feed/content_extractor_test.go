package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

const articlePage = `
<!DOCTYPE html>
<html>
<head>
	<title>Test Article</title>
</head>
<body>
	<header>
		<h1>Site Header</h1>
		<nav>Navigation</nav>
	</header>
	<main>
		<article>
			<h1>Main Article Title</h1>
			<p>This is the main content of the article. It contains several paragraphs of meaningful text that should be extracted by the readability algorithm.</p>
			<p>This is another paragraph with more content. The readability algorithm should identify this as the main content area and extract it properly.</p>
			<p>Here is some more substantial content to ensure we meet the character threshold. This paragraph adds more context and information that would be valuable to readers.</p>
		</article>
	</main>
	<footer>
		<p>Copyright 2024</p>
	</footer>
</body>
</html>
`

func TestContentExtractor_Run_ValidHTML(t *testing.T) {
	extractor := NewContentExtractor()
	pageURL, _ := url.Parse("https://example.com/story")

	result, err := extractor.Run([]byte(articlePage), pageURL)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if !strings.Contains(result, "main content of the article") {
		t.Errorf("Expected extracted content to contain main article text")
	}
	if strings.Contains(result, "Copyright 2024") {
		t.Errorf("Expected extracted content to exclude footer")
	}
	if strings.Contains(result, "<p>") {
		t.Errorf("Expected plain text, got markup: %s", result)
	}
}

func TestContentExtractor_Run_EmptyData(t *testing.T) {
	extractor := NewContentExtractor()

	for _, data := range [][]byte{nil, {}} {
		result, err := extractor.Run(data, nil)
		if err == nil {
			t.Fatalf("Expected error for empty data")
		}
		if result != "" {
			t.Errorf("Expected empty result for empty data")
		}
		if err.Error() != "HTML data is empty" {
			t.Errorf("Expected error message 'HTML data is empty', got '%s'", err.Error())
		}
	}
}

func TestBodyFetcher_FetchBody(t *testing.T) {
	var gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		switch r.URL.Path {
		case "/story":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, articlePage)
		case "/json":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	fetcher := NewBodyFetcher(server.Client(), NewContentExtractor(), 5*time.Second)

	body, err := fetcher.FetchBody(context.Background(), server.URL+"/story")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !strings.Contains(body, "another paragraph with more content") {
		t.Errorf("Expected article text, got: %s", body)
	}
	if gotUA == "" {
		t.Error("Expected a User-Agent header to be sent")
	}

	if _, err := fetcher.FetchBody(context.Background(), server.URL+"/json"); err == nil {
		t.Error("Expected error for non-HTML content type")
	}
	if _, err := fetcher.FetchBody(context.Background(), server.URL+"/missing"); err == nil {
		t.Error("Expected error for 404")
	}
}
