package feed

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	defaultMaxItems      = 50
	defaultTimeout       = 30
	defaultRequestDelay  = 2000
	defaultMaxRetries    = 3
	defaultMaxBackoff    = 5
	minAllowedBackoff    = 3
	maxAllowedBackoff    = 10
	defaultHeaderProfile = ProfileBrowser
)

// ConfigCache is the source registry: one YAML file per source in sourcesDir.
type ConfigCache struct {
	sourcesDir string
	cache      map[string]*Config
	mu         sync.RWMutex
}

func NewConfigCache(sourcesDir string) *ConfigCache {
	return &ConfigCache{
		sourcesDir: sourcesDir,
		cache:      make(map[string]*Config),
	}
}

func (cc *ConfigCache) Run() error {
	if _, err := os.Stat(cc.sourcesDir); os.IsNotExist(err) {
		slog.Warn("Sources directory does not exist", "dir", cc.sourcesDir)
		return nil
	}

	files, err := filepath.Glob(filepath.Join(cc.sourcesDir, "*.yml"))
	if err != nil {
		return fmt.Errorf("failed to find YML files: %w", err)
	}

	for _, file := range files {
		sourceName := strings.TrimSuffix(filepath.Base(file), ".yml")

		config, err := cc.LoadConfig(sourceName)
		if err != nil {
			return fmt.Errorf("error loading %s: %w", file, err)
		}

		slog.Debug("Source configuration loaded", "source", sourceName, "enabled", config.Settings.Enabled, "max_retries", config.Settings.MaxRetries)
	}

	return nil
}

func (cc *ConfigCache) LoadConfig(sourceName string) (*Config, error) {
	configFile := cc.getConfigFilePath(sourceName)
	sourceConfig, err := cc.parseConfig(configFile)
	if err != nil {
		return nil, err
	}

	sourceConfig.Name = sourceName

	if err := validateConfig(sourceConfig); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configFile, err)
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.cache[sourceConfig.Name] = sourceConfig

	return sourceConfig, nil
}

func (cc *ConfigCache) GetConfig(sourceName string) (*Config, error) {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	sourceConfig, ok := cc.cache[sourceName]
	if !ok {
		return nil, fmt.Errorf("source config with name '%s' not found", sourceName)
	}
	return sourceConfig, nil
}

// Sources returns copies of the enabled sources ordered by name.
func (cc *ConfigCache) Sources() []*Config {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	sources := make([]*Config, 0, len(cc.cache))
	for _, v := range cc.cache {
		if !v.Settings.Enabled {
			continue
		}
		c := *v
		c.Filters = append([]ConfigFilter(nil), v.Filters...)
		sources = append(sources, &c)
	}

	sort.Slice(sources, func(i, j int) bool { return sources[i].Name < sources[j].Name })
	return sources
}

func (cc *ConfigCache) GetConfigCount() int {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return len(cc.cache)
}

func (cc *ConfigCache) parseConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var sourceConfig Config
	if err := yaml.Unmarshal(data, &sourceConfig); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	ApplyDefaults(&sourceConfig)
	return &sourceConfig, nil
}

// ApplyDefaults fills unset per-source policy values.
func ApplyDefaults(c *Config) {
	s := &c.Settings
	if s.MaxItems == 0 {
		s.MaxItems = defaultMaxItems
	}
	if s.Timeout == 0 {
		s.Timeout = defaultTimeout
	}
	if s.RequestDelay == 0 {
		s.RequestDelay = defaultRequestDelay
	}
	if s.MaxRetries == 0 {
		s.MaxRetries = defaultMaxRetries
	}
	if s.MaxBackoff == 0 {
		s.MaxBackoff = defaultMaxBackoff
	}
	if s.HeaderProfile == "" {
		s.HeaderProfile = defaultHeaderProfile
	}
}

func validateConfig(sourceConfig *Config) error {
	if sourceConfig == nil {
		return fmt.Errorf("sourceConfig is nil")
	}

	requiredFields := map[string]string{
		"source name": sourceConfig.Name,
		"source URL":  sourceConfig.URL,
	}

	for fieldName, fieldValue := range requiredFields {
		if fieldValue == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
	}

	if !hasScheme(sourceConfig.URL) {
		return fmt.Errorf("source URL must be absolute: %s", sourceConfig.URL)
	}

	nonNegativeFields := map[string]int{
		"max items":     sourceConfig.Settings.MaxItems,
		"timeout":       sourceConfig.Settings.Timeout,
		"request delay": sourceConfig.Settings.RequestDelay,
		"max retries":   sourceConfig.Settings.MaxRetries,
	}

	for fieldName, fieldValue := range nonNegativeFields {
		if fieldValue < 0 {
			return fmt.Errorf("%s must be non-negative", fieldName)
		}
	}

	if b := sourceConfig.Settings.MaxBackoff; b < minAllowedBackoff || b > maxAllowedBackoff {
		return fmt.Errorf("max backoff must be between %d and %d seconds", minAllowedBackoff, maxAllowedBackoff)
	}

	if _, ok := headerProfiles[sourceConfig.Settings.HeaderProfile]; !ok {
		return fmt.Errorf("unknown header profile: %s", sourceConfig.Settings.HeaderProfile)
	}

	validFields := map[string]bool{
		"title":       true,
		"description": true,
		"link":        true,
	}

	for i, filter := range sourceConfig.Filters {
		if !validFields[filter.Field] {
			return fmt.Errorf("invalid filter field at index %d: %s", i, filter.Field)
		}
		if len(filter.Includes) == 0 && len(filter.Excludes) == 0 {
			return fmt.Errorf("filter at index %d must have at least one include or exclude rule", i)
		}
	}

	return nil
}

func (cc *ConfigCache) getConfigFilePath(sourceName string) string {
	return filepath.Join(cc.sourcesDir, sourceName+".yml")
}
