package feed

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeSource(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name+".yml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestConfigCacheLoadValidConfig(t *testing.T) {
	tempDir := t.TempDir()

	writeSource(t, tempDir, "nation", `
title: "Daily Nation"
url: "https://example.com/feed.xml"

settings:
  enabled: true
  max_items: 25
  timeout: 15
  request_delay: 1500
  max_retries: 4
  max_backoff: 8
  header_profile: feedreader

filters:
  - field: "title"
    includes:
      - "kenya"
    excludes:
      - "spam"
`)

	configCache := NewConfigCache(tempDir)
	if err := configCache.Run(); err != nil {
		t.Fatal(err)
	}

	if configCache.GetConfigCount() != 1 {
		t.Errorf("Expected 1 source, got %d", configCache.GetConfigCount())
	}

	source, err := configCache.GetConfig("nation")
	if err != nil {
		t.Fatal(err)
	}

	if source.Name != "nation" {
		t.Errorf("Expected name 'nation', got '%s'", source.Name)
	}
	if source.DisplayName() != "Daily Nation" {
		t.Errorf("Expected display name 'Daily Nation', got '%s'", source.DisplayName())
	}
	if source.Settings.MaxItems != 25 {
		t.Errorf("Expected max items 25, got %d", source.Settings.MaxItems)
	}
	if source.Settings.TimeoutDuration() != 15*time.Second {
		t.Errorf("Expected timeout 15s, got %v", source.Settings.TimeoutDuration())
	}
	if source.Settings.RequestDelayDuration() != 1500*time.Millisecond {
		t.Errorf("Expected request delay 1.5s, got %v", source.Settings.RequestDelayDuration())
	}
	if source.Settings.MaxBackoffDuration() != 8*time.Second {
		t.Errorf("Expected max backoff 8s, got %v", source.Settings.MaxBackoffDuration())
	}
	if source.Settings.HeaderProfile != ProfileFeedReader {
		t.Errorf("Expected feedreader profile, got %s", source.Settings.HeaderProfile)
	}
	if len(source.Filters) != 1 {
		t.Errorf("Expected 1 filter, got %d", len(source.Filters))
	}
}

func TestConfigCacheLoadConfigWithDefaults(t *testing.T) {
	tempDir := t.TempDir()

	writeSource(t, tempDir, "minimal", `
url: "https://example.com/feed.xml"

settings:
  enabled: true
`)

	configCache := NewConfigCache(tempDir)
	if err := configCache.Run(); err != nil {
		t.Fatal(err)
	}

	source, err := configCache.GetConfig("minimal")
	if err != nil {
		t.Fatal(err)
	}

	if source.DisplayName() != "minimal" {
		t.Errorf("Expected display name to fall back to file name, got %s", source.DisplayName())
	}
	if source.Settings.MaxItems != defaultMaxItems {
		t.Errorf("Expected default max items %d, got %d", defaultMaxItems, source.Settings.MaxItems)
	}
	if source.Settings.MaxRetries != defaultMaxRetries {
		t.Errorf("Expected default max retries %d, got %d", defaultMaxRetries, source.Settings.MaxRetries)
	}
	if source.Settings.MaxBackoff != defaultMaxBackoff {
		t.Errorf("Expected default max backoff %d, got %d", defaultMaxBackoff, source.Settings.MaxBackoff)
	}
	if source.Settings.RequestDelay != defaultRequestDelay {
		t.Errorf("Expected default request delay %d, got %d", defaultRequestDelay, source.Settings.RequestDelay)
	}
	if source.Settings.HeaderProfile != ProfileBrowser {
		t.Errorf("Expected default browser profile, got %s", source.Settings.HeaderProfile)
	}
}

func TestConfigCacheInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errPart string
	}{
		{"missing url", "settings:\n  enabled: true\n", "source URL is required"},
		{"relative url", "url: /feed.xml\n", "must be absolute"},
		{"backoff too high", "url: https://example.com/rss\nsettings:\n  max_backoff: 30\n", "max backoff"},
		{"backoff too low", "url: https://example.com/rss\nsettings:\n  max_backoff: 1\n", "max backoff"},
		{"unknown profile", "url: https://example.com/rss\nsettings:\n  header_profile: curl\n", "unknown header profile"},
		{"bad filter field", "url: https://example.com/rss\nfilters:\n  - field: author\n    includes: [x]\n", "invalid filter field"},
		{"empty filter", "url: https://example.com/rss\nfilters:\n  - field: title\n", "at least one include or exclude"},
		{"negative retries", "url: https://example.com/rss\nsettings:\n  max_retries: -1\n", "non-negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tempDir := t.TempDir()
			writeSource(t, tempDir, "invalid", tt.content)

			err := NewConfigCache(tempDir).Run()
			if err == nil {
				t.Fatal("Expected error for invalid source config")
			}
			if !strings.Contains(err.Error(), tt.errPart) {
				t.Errorf("Expected error containing %q, got %v", tt.errPart, err)
			}
		})
	}
}

func TestConfigCacheMissingDirectory(t *testing.T) {
	configCache := NewConfigCache(filepath.Join(t.TempDir(), "absent"))
	if err := configCache.Run(); err != nil {
		t.Fatalf("Expected missing directory to be tolerated, got %v", err)
	}
	if configCache.GetConfigCount() != 0 {
		t.Errorf("Expected 0 sources, got %d", configCache.GetConfigCount())
	}
}

func TestConfigCacheReloadConfig(t *testing.T) {
	tempDir := t.TempDir()
	writeSource(t, tempDir, "test", "url: \"https://example.com/feed.xml\"\nsettings:\n  enabled: true\n")

	configCache := NewConfigCache(tempDir)
	if err := configCache.Run(); err != nil {
		t.Fatal(err)
	}

	writeSource(t, tempDir, "test", "url: \"https://example.com/new-feed.xml\"\nsettings:\n  enabled: true\n  max_items: 10\n")

	reloaded, err := configCache.LoadConfig("test")
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.URL != "https://example.com/new-feed.xml" {
		t.Errorf("Expected updated URL, got '%s'", reloaded.URL)
	}
	if reloaded.Settings.MaxItems != 10 {
		t.Errorf("Expected updated max_items 10, got %d", reloaded.Settings.MaxItems)
	}

	if _, err := configCache.LoadConfig("nonexistent"); err == nil {
		t.Error("Expected error for non-existent config")
	}

	writeSource(t, tempDir, "test", "invalid yaml content")
	if _, err := configCache.LoadConfig("test"); err == nil {
		t.Error("Expected error for invalid config file")
	}
}

func TestConfigCacheSources(t *testing.T) {
	tempDir := t.TempDir()
	writeSource(t, tempDir, "zeta", "url: https://example.com/z.xml\nsettings:\n  enabled: true\n")
	writeSource(t, tempDir, "alpha", "url: https://example.com/a.xml\nsettings:\n  enabled: true\n")
	writeSource(t, tempDir, "off", "url: https://example.com/off.xml\nsettings:\n  enabled: false\n")

	configCache := NewConfigCache(tempDir)
	if err := configCache.Run(); err != nil {
		t.Fatal(err)
	}

	sources := configCache.Sources()
	if len(sources) != 2 {
		t.Fatalf("Expected 2 enabled sources, got %d", len(sources))
	}
	if sources[0].Name != "alpha" || sources[1].Name != "zeta" {
		t.Errorf("Expected sources sorted by name, got %s, %s", sources[0].Name, sources[1].Name)
	}

	// returned configs are copies
	sources[0].URL = "https://changed.example.com"
	cached, _ := configCache.GetConfig("alpha")
	if cached.URL != "https://example.com/a.xml" {
		t.Error("Modifying returned source affected the cache")
	}
}

func TestConfigCacheGetConfigEmptyCache(t *testing.T) {
	configCache := NewConfigCache("")
	if _, err := configCache.GetConfig("any"); err == nil {
		t.Error("Expected error for empty cache")
	}
}

func TestValidateConfigNil(t *testing.T) {
	if err := validateConfig(nil); err == nil {
		t.Error("Expected error for nil config, got none")
	}
}
