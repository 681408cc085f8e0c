package cfg

import "time"

const (
	KVBackendRedis  = "redis"
	KVBackendSQLite = "sqlite"
	KVBackendMemory = "memory"
)

type Cfg struct {
	// Storage
	KVBackend     string
	RedisAddr     string
	RedisPassword string
	DBPath        string

	// Sources and scheduling
	SourcesDir        string
	Port              string
	SchedulerInterval time.Duration
	RunTimeout        time.Duration
	Lookback          time.Duration
	MinContentLength  int

	// Fallback news API
	GNewsAPIKey      string
	GNewsQueries     []string
	GNewsLanguage    string
	GNewsCountry     string
	GNewsDailyLimit  int
	GNewsMinArticles int
	GNewsMaxQueries  int

	// Enrichment service; empty URL keeps articles as fetched
	EnrichmentURL string
	EnrichmentKey string

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
