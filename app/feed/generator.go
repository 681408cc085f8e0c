package feed

import (
	"bytes"
	"cmp"
	"encoding/xml"
	"fmt"
	"html"
	"time"
)

// Channel describes the RSS channel wrapping republished articles.
type Channel struct {
	Title       string
	Link        string
	Description string
	SelfURL     string
	Version     string
}

// Generator renders processed articles as an RSS 2.0 document.
type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

func (g *Generator) Run(channel Channel, articles []ProcessedArticle) (string, error) {
	var buf bytes.Buffer

	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	buf.WriteString("\n")
	buf.WriteString(`<rss version="2.0" xmlns:content="http://purl.org/rss/1.0/modules/content/" xmlns:atom="http://www.w3.org/2005/Atom">`)
	buf.WriteString("\n  <channel>\n")

	g.writeElement(&buf, "title", channel.Title, 4)
	g.writeElement(&buf, "link", channel.Link, 4)
	g.writeElement(&buf, "description", cmp.Or(channel.Description, "Processed news articles"), 4)

	if channel.SelfURL != "" {
		buf.WriteString(fmt.Sprintf("    <atom:link href=\"%s\" rel=\"self\" type=\"application/rss+xml\" />\n",
			html.EscapeString(channel.SelfURL)))
	}

	lastBuildDate := time.Now().In(time.Local)
	if len(articles) > 0 {
		lastBuildDate = cmp.Or(articles[0].Source.PublishedAt, articles[0].ProcessedAt, lastBuildDate)
	}

	g.writeElement(&buf, "lastBuildDate", lastBuildDate.Format(time.RFC1123Z), 4)
	g.writeElement(&buf, "generator", fmt.Sprintf("News-Comb/%s", cmp.Or(channel.Version, "dev")), 4)

	for _, article := range articles {
		g.writeItem(&buf, article)
	}

	buf.WriteString("  </channel>\n</rss>")

	return buf.String(), nil
}

func (g *Generator) writeItem(buf *bytes.Buffer, article ProcessedArticle) {
	buf.WriteString("    <item>\n")

	link := article.Source.Link
	if link != "" {
		buf.WriteString(fmt.Sprintf("      <guid isPermaLink=\"%t\">", hasScheme(link)))
		xml.EscapeText(buf, []byte(link))
		buf.WriteString("</guid>\n")
	}

	g.writeElement(buf, "title", cmp.Or(article.Title, article.Source.Title), 6)
	g.writeElement(buf, "link", link, 6)
	g.writeElement(buf, "description", cmp.Or(article.Summary, article.Source.Description, "No description available"), 6)

	if article.Content != "" && article.Content != article.Summary {
		buf.WriteString("      <content:encoded><![CDATA[")
		buf.WriteString(article.Content)
		buf.WriteString("]]></content:encoded>\n")
	}

	if !article.Source.PublishedAt.IsZero() {
		g.writeElement(buf, "pubDate", article.Source.PublishedAt.Format(time.RFC1123Z), 6)
	}

	g.writeElement(buf, "category", article.Category, 6)
	g.writeElement(buf, "author", article.Source.SourceName, 6)

	// RSS 2.0 requires length on enclosures; 0 marks it unknown
	if article.Source.ImageURL != "" {
		buf.WriteString(fmt.Sprintf("      <enclosure url=\"%s\" length=\"0\" type=\"image/jpeg\" />\n",
			html.EscapeString(article.Source.ImageURL)))
	}

	buf.WriteString("    </item>\n")
}

func (g *Generator) writeElement(buf *bytes.Buffer, tag, content string, indent int) {
	if content == "" {
		return
	}

	for i := 0; i < indent; i++ {
		buf.WriteByte(' ')
	}

	buf.WriteString("<")
	buf.WriteString(tag)
	buf.WriteString(">")
	xml.EscapeText(buf, []byte(content))
	buf.WriteString("</")
	buf.WriteString(tag)
	buf.WriteString(">\n")
}
