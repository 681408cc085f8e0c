package feed

import (
	"cmp"
	"time"
)

// Article processing types

type Article struct {
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	PublishedAt time.Time `json:"published_at"`
	Description string    `json:"description,omitempty"`
	SourceName  string    `json:"source_name"`
	ImageURL    string    `json:"image_url,omitempty"`
}

// ProcessedArticle is an Article after scraping and enrichment, ready to store.
type ProcessedArticle struct {
	Source      Article   `json:"source"`
	Title       string    `json:"title"`
	Slug        string    `json:"slug"`
	Summary     string    `json:"summary"`
	Content     string    `json:"content"`
	Category    string    `json:"category"`
	ProcessedAt time.Time `json:"processed_at"`
}

// Configuration types

type Config struct {
	Name     string         // Derived from filename (without .yml extension)
	Title    string         `yaml:"title"`
	URL      string         `yaml:"url"`
	Settings ConfigSettings `yaml:"settings"`
	Filters  []ConfigFilter `yaml:"filters"`
}

type ConfigSettings struct {
	Enabled       bool   `yaml:"enabled"`
	MaxItems      int    `yaml:"max_items"`
	Timeout       int    `yaml:"timeout"`       // seconds
	RequestDelay  int    `yaml:"request_delay"` // milliseconds, applied before the next source
	MaxRetries    int    `yaml:"max_retries"`   // total attempts
	MaxBackoff    int    `yaml:"max_backoff"`   // seconds
	HeaderProfile string `yaml:"header_profile"`
}

type ConfigFilter struct {
	Field    string   `yaml:"field"`
	Includes []string `yaml:"includes"`
	Excludes []string `yaml:"excludes"`
}

func (c *Config) DisplayName() string {
	return cmp.Or(c.Title, c.Name)
}

func (s ConfigSettings) TimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

func (s ConfigSettings) RequestDelayDuration() time.Duration {
	return time.Duration(s.RequestDelay) * time.Millisecond
}

func (s ConfigSettings) MaxBackoffDuration() time.Duration {
	return time.Duration(s.MaxBackoff) * time.Second
}
