package enrich

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/lysyi3m/news-comb/app/dedup"
)

const (
	DefaultCategory = "general"
	maxSlugLength   = 80
)

// DefaultCategories maps a category to the keywords that indicate it.
var DefaultCategories = map[string][]string{
	"politics":      {"parliament", "president", "election", "senate", "minister", "governor", "government", "cabinet"},
	"business":      {"economy", "market", "shilling", "bank", "inflation", "trade", "investors", "budget", "tax"},
	"sports":        {"football", "marathon", "league", "athletics", "cup", "match", "olympics", "rugby"},
	"technology":    {"technology", "tech", "startup", "software", "internet", "mobile", "satellite", "ai"},
	"health":        {"health", "hospital", "disease", "vaccine", "doctors", "outbreak", "patients"},
	"entertainment": {"music", "film", "movie", "celebrity", "festival", "award", "concert"},
}

// Categorizer assigns the category whose keywords occur most often.
type Categorizer struct {
	keywords map[string]map[string]bool
	fallback string
}

func NewCategorizer(keywords map[string][]string, fallback string) *Categorizer {
	if fallback == "" {
		fallback = DefaultCategory
	}
	c := &Categorizer{
		keywords: make(map[string]map[string]bool, len(keywords)),
		fallback: fallback,
	}
	for category, words := range keywords {
		set := make(map[string]bool, len(words))
		for _, w := range words {
			set[dedup.NormalizeTitle(w)] = true
		}
		c.keywords[category] = set
	}
	return c
}

func (c *Categorizer) Categorize(texts ...string) string {
	scores := make(map[string]int)
	for _, text := range texts {
		for _, word := range strings.Fields(dedup.NormalizeTitle(text)) {
			for category, set := range c.keywords {
				if set[word] {
					scores[category]++
				}
			}
		}
	}

	categories := make([]string, 0, len(scores))
	for category := range scores {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	best, bestScore := c.fallback, 0
	for _, category := range categories {
		if scores[category] > bestScore {
			best, bestScore = category, scores[category]
		}
	}
	return best
}

// Slugify builds a URL slug from a title, cut at a word boundary.
func Slugify(title string) string {
	slug := strings.ReplaceAll(dedup.NormalizeTitle(title), " ", "-")
	if len(slug) <= maxSlugLength {
		return slug
	}

	n := maxSlugLength
	for n > 0 && !utf8.RuneStart(slug[n]) {
		n--
	}
	cut := slug[:n]
	if slug[n] != '-' {
		if i := strings.LastIndex(cut, "-"); i > maxSlugLength/2 {
			cut = cut[:i]
		}
	}
	return strings.TrimRight(cut, "-")
}
