package feed

import (
	"net/http"
	"sync/atomic"
)

const (
	ProfileBrowser    = "browser"
	ProfileFeedReader = "feedreader"
	ProfileMinimal    = "minimal"
)

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.0.0",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1",
}

var feedReaderAgents = []string{
	"Feedly/1.0 (+http://www.feedly.com/fetcher.html; like FeedFetcher-Google)",
	"Mozilla/5.0 (compatible; Inoreader/1.0; +https://www.inoreader.com)",
	"NewsBlur Feed Fetcher - 1 subscriber - https://www.newsblur.com",
}

var headerProfiles = map[string]map[string]string{
	ProfileBrowser: {
		"Accept":          "application/rss+xml, application/atom+xml, application/xml;q=0.9, text/xml;q=0.8, */*;q=0.5",
		"Accept-Language": "en-US,en;q=0.9",
		"Cache-Control":   "no-cache",
		"Pragma":          "no-cache",
		"Sec-Fetch-Dest":  "document",
		"Sec-Fetch-Mode":  "navigate",
		"Sec-Fetch-Site":  "none",
	},
	ProfileFeedReader: {
		"Accept": "application/rss+xml, application/atom+xml, application/xml, text/xml",
	},
	ProfileMinimal: {},
}

// HeaderRotator hands out a different client identity on every call.
type HeaderRotator struct {
	next atomic.Uint64
}

func NewHeaderRotator() *HeaderRotator {
	return &HeaderRotator{}
}

func (r *HeaderRotator) Apply(req *http.Request, profile string) string {
	agents := userAgents
	if profile == ProfileFeedReader {
		agents = feedReaderAgents
	}

	ua := agents[int(r.next.Add(1)-1)%len(agents)]
	req.Header.Set("User-Agent", ua)
	for k, v := range headerProfiles[profile] {
		req.Header.Set(k, v)
	}
	return ua
}
