package feed

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const minTitleLength = 10

// DefaultExclusions drops placeholder and advertising items regardless of source.
var DefaultExclusions = []string{
	"test",
	"lorem ipsum",
	"advertisement",
	"advertorial",
	"sponsored",
	"promoted content",
	"paid content",
}

type FilterStats struct {
	Invalid  int
	Excluded int
	Filtered int
	Rejected []Rejection
}

// Rejection is an item dropped for failing Validate.
type Rejection struct {
	Link   string
	Reason string
}

func (s FilterStats) Dropped() int {
	return s.Invalid + s.Excluded + s.Filtered
}

type Filterer struct {
	exclusions []*regexp.Regexp
}

// NewFilterer compiles the global exclusion terms. Terms match whole words
// of the title, case-insensitively.
func NewFilterer(exclusions []string) *Filterer {
	f := &Filterer{}
	for _, term := range exclusions {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		f.exclusions = append(f.exclusions, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(term)+`\b`))
	}
	return f
}

func (f *Filterer) Run(items []Article, sourceConfig *Config) ([]Article, FilterStats) {
	var stats FilterStats

	kept := make([]Article, 0, len(items))
	for _, item := range items {
		if err := Validate(item); err != nil {
			stats.Invalid++
			stats.Rejected = append(stats.Rejected, Rejection{Link: item.Link, Reason: err.Error()})
			continue
		}
		if f.isExcluded(item.Title) {
			stats.Excluded++
			continue
		}
		if sourceConfig != nil {
			if filtered, _ := f.applyFilters(item, sourceConfig.Filters); filtered {
				stats.Filtered++
				continue
			}
		}
		kept = append(kept, item)
	}

	return kept, stats
}

// Validate checks the invariants every article must hold before it enters the pipeline.
func Validate(a Article) error {
	if utf8.RuneCountInString(strings.TrimSpace(a.Title)) <= minTitleLength {
		return fmt.Errorf("title must be longer than %d characters", minTitleLength)
	}
	if a.Link == "" {
		return fmt.Errorf("link is required")
	}
	if !hasScheme(a.Link) {
		return fmt.Errorf("link must be an absolute URL: %s", a.Link)
	}
	if a.PublishedAt.IsZero() {
		return fmt.Errorf("publish time is required")
	}
	return nil
}

func (f *Filterer) isExcluded(title string) bool {
	for _, re := range f.exclusions {
		if re.MatchString(title) {
			return true
		}
	}
	return false
}

func (f *Filterer) applyFilters(item Article, filters []ConfigFilter) (bool, string) {
	for _, filter := range filters {
		value := f.getFieldValue(item, filter.Field)

		for _, exclude := range filter.Excludes {
			if f.matchesFilter(value, exclude) {
				return true, fmt.Sprintf("Excluded by %s filter: contains '%s'", filter.Field, exclude)
			}
		}

		if len(filter.Includes) > 0 {
			matched := false
			for _, include := range filter.Includes {
				if f.matchesFilter(value, include) {
					matched = true
					break
				}
			}
			if !matched {
				return true, fmt.Sprintf("Excluded by %s filter: does not contain any of %v", filter.Field, filter.Includes)
			}
		}
	}

	return false, ""
}

func (f *Filterer) matchesFilter(value, pattern string) bool {
	return strings.Contains(strings.ToLower(value), strings.ToLower(pattern))
}

func (f *Filterer) getFieldValue(item Article, field string) string {
	switch field {
	case "title":
		return item.Title
	case "description":
		return item.Description
	case "link":
		return item.Link
	default:
		return ""
	}
}
