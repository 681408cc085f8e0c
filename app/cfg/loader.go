package cfg

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Storage configuration
	KVBackend     string `long:"kv-backend" env:"KV_BACKEND" default:"sqlite" choice:"redis" choice:"sqlite" choice:"memory" description:"Key-value backend for watermark, caches and run records"`
	RedisURL      string `long:"redis-url" env:"REDIS_URL" default:"localhost:6379" description:"Redis address (host:port)"`
	RedisPassword string `long:"redis-password" env:"REDIS_PASSWORD" description:"Redis password"`
	DBPath        string `long:"db-path" env:"DB_PATH" default:"./data/news-comb.db" description:"SQLite database file for articles and the sqlite KV backend"`

	// Application configuration
	SourcesDir        string `long:"sources-dir" env:"SOURCES_DIR" default:"./sources" description:"Directory containing RSS source configuration files"`
	Port              string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	SchedulerInterval int    `long:"scheduler-interval" env:"SCHEDULER_INTERVAL" default:"600" description:"Scheduler interval in seconds"`
	RunTimeout        int    `long:"run-timeout" env:"RUN_TIMEOUT" default:"600" description:"Deadline for a single pipeline run in seconds"`
	LookbackHours     int    `long:"lookback-hours" env:"LOOKBACK_HOURS" default:"24" description:"How far back the first run looks when no watermark exists"`
	MinContentLength  int    `long:"min-content-length" env:"MIN_CONTENT_LENGTH" default:"200" description:"Scraped bodies shorter than this fall back to the description"`

	// Fallback news API configuration
	GNewsAPIKey      string `long:"gnews-api-key" env:"GNEWS_API_KEY" description:"GNews API key; fallback disabled when empty"`
	GNewsQueries     string `long:"gnews-queries" env:"GNEWS_QUERIES" default:"kenya,nairobi" description:"Comma-separated fallback search queries"`
	GNewsLanguage    string `long:"gnews-lang" env:"GNEWS_LANG" default:"en" description:"Fallback search language"`
	GNewsCountry     string `long:"gnews-country" env:"GNEWS_COUNTRY" default:"ke" description:"Fallback search country"`
	GNewsDailyLimit  int    `long:"gnews-daily-limit" env:"GNEWS_DAILY_LIMIT" default:"20" description:"Fallback calls allowed per UTC day"`
	GNewsMinArticles int    `long:"gnews-min-articles" env:"GNEWS_MIN_ARTICLES" default:"5" description:"Primary article count below which the fallback runs"`
	GNewsMaxQueries  int    `long:"gnews-max-queries" env:"GNEWS_MAX_QUERIES" default:"2" description:"Fallback queries per run"`

	// Enrichment configuration
	EnrichmentURL string `long:"enrichment-url" env:"ENRICHMENT_URL" description:"Enrichment service endpoint; articles stored as fetched when empty"`
	EnrichmentKey string `long:"enrichment-key" env:"ENRICHMENT_KEY" description:"Bearer token for the enrichment service"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"News Comb/1.0" description:"User agent string for health probes"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, Africa/Nairobi)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

// Load reads configuration from the process arguments and environment.
// It returns nil, nil when help was requested.
func Load() (*Cfg, error) {
	return LoadArgs(os.Args[1:])
}

func LoadArgs(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := validate(&raw); err != nil {
		return nil, err
	}

	cfg := &Cfg{
		KVBackend:         raw.KVBackend,
		RedisAddr:         raw.RedisURL,
		RedisPassword:     raw.RedisPassword,
		DBPath:            raw.DBPath,
		SourcesDir:        raw.SourcesDir,
		Port:              raw.Port,
		SchedulerInterval: time.Duration(raw.SchedulerInterval) * time.Second,
		RunTimeout:        time.Duration(raw.RunTimeout) * time.Second,
		Lookback:          time.Duration(raw.LookbackHours) * time.Hour,
		MinContentLength:  raw.MinContentLength,
		GNewsAPIKey:       raw.GNewsAPIKey,
		GNewsQueries:      splitList(raw.GNewsQueries),
		GNewsLanguage:     raw.GNewsLanguage,
		GNewsCountry:      raw.GNewsCountry,
		GNewsDailyLimit:   raw.GNewsDailyLimit,
		GNewsMinArticles:  raw.GNewsMinArticles,
		GNewsMaxQueries:   raw.GNewsMaxQueries,
		EnrichmentURL:     raw.EnrichmentURL,
		EnrichmentKey:     raw.EnrichmentKey,
		UserAgent:         raw.UserAgent,
		Timezone:          raw.Timezone,
		Debug:             raw.Debug,
		Version:           GetVersion(),
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		slog.Warn("Invalid timezone, using system default", "timezone", cfg.Timezone, "error", err)
	}

	return cfg, nil
}

func validate(raw *rawCfg) error {
	if raw.SchedulerInterval <= 0 {
		return fmt.Errorf("scheduler interval must be positive, got %d", raw.SchedulerInterval)
	}
	if raw.RunTimeout <= 0 {
		return fmt.Errorf("run timeout must be positive, got %d", raw.RunTimeout)
	}
	if raw.LookbackHours <= 0 {
		return fmt.Errorf("lookback hours must be positive, got %d", raw.LookbackHours)
	}
	if raw.GNewsDailyLimit <= 0 || raw.GNewsDailyLimit > 100 {
		return fmt.Errorf("gnews daily limit must be between 1 and 100, got %d", raw.GNewsDailyLimit)
	}
	return nil
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func applyTimezone(timezone string) error {
	if timezone == "" {
		return nil
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return err
	}
	time.Local = loc
	slog.Debug("Timezone configured", "timezone", timezone)
	return nil
}
