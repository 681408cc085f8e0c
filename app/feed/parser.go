package feed

import (
	"bytes"
	"cmp"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	"github.com/mmcdole/gofeed"
)

const maxDescriptionLength = 500

type Parser struct {
	gofeedParser *gofeed.Parser
	now          func() time.Time
}

func NewParser() *Parser {
	return &Parser{
		gofeedParser: gofeed.NewParser(),
		now:          time.Now,
	}
}

// Run parses an RSS or Atom document into candidate articles. Items are not
// validated here; see Filterer.
func (p *Parser) Run(data []byte, sourceName string) ([]Article, error) {
	parsed, err := p.gofeedParser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	articles := make([]Article, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		articles = append(articles, p.normalizeItem(item, sourceName))
	}

	return articles, nil
}

func (p *Parser) normalizeItem(item *gofeed.Item, sourceName string) Article {
	rawDescription := cmp.Or(item.Description, item.Content)

	return Article{
		Title:       collapseSpaces(item.Title),
		Link:        p.extractLink(item),
		PublishedAt: p.extractPublishedAt(item, sourceName),
		Description: truncate(htmlToText(rawDescription), maxDescriptionLength),
		SourceName:  sourceName,
		ImageURL:    p.extractImage(item, rawDescription),
	}
}

func (p *Parser) extractLink(item *gofeed.Item) string {
	if link := strings.TrimSpace(item.Link); link != "" {
		return link
	}
	for _, link := range item.Links {
		if hasScheme(link) {
			return strings.TrimSpace(link)
		}
	}
	if hasScheme(item.GUID) {
		return strings.TrimSpace(item.GUID)
	}
	return ""
}

func (p *Parser) extractPublishedAt(item *gofeed.Item, sourceName string) time.Time {
	if item.PublishedParsed != nil {
		return item.PublishedParsed.UTC()
	}
	if item.UpdatedParsed != nil {
		return item.UpdatedParsed.UTC()
	}

	candidates := []string{item.Published, item.Updated}
	if item.DublinCoreExt != nil {
		candidates = append(candidates, item.DublinCoreExt.Date...)
	}

	for _, raw := range candidates {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if t, err := dateparse.ParseAny(raw); err == nil {
			return t.UTC()
		}
	}

	slog.Warn("Item has no parseable publish date, using current time",
		"source", sourceName,
		"title", item.Title,
		"raw", cmp.Or(item.Published, item.Updated))
	return p.now().UTC()
}

func (p *Parser) extractImage(item *gofeed.Item, rawDescription string) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}

	if media, ok := item.Extensions["media"]; ok {
		for _, name := range []string{"content", "thumbnail"} {
			for _, ext := range media[name] {
				if url := ext.Attrs["url"]; url != "" {
					return url
				}
			}
		}
		for _, group := range media["group"] {
			for _, ext := range group.Children["content"] {
				if url := ext.Attrs["url"]; url != "" {
					return url
				}
			}
		}
	}

	for _, enclosure := range item.Enclosures {
		if enclosure != nil && strings.HasPrefix(enclosure.Type, "image/") && enclosure.URL != "" {
			return enclosure.URL
		}
	}

	if rawDescription == "" || !strings.Contains(rawDescription, "<img") {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawDescription))
	if err != nil {
		return ""
	}
	src, _ := doc.Find("img").First().Attr("src")
	return strings.TrimSpace(src)
}

func htmlToText(s string) string {
	if !strings.Contains(s, "<") {
		return collapseSpaces(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return collapseSpaces(s)
	}
	return collapseSpaces(doc.Text())
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}

func hasScheme(link string) bool {
	link = strings.ToLower(strings.TrimSpace(link))
	return strings.HasPrefix(link, "http://") || strings.HasPrefix(link, "https://")
}
