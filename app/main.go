package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lysyi3m/news-comb/app/api"
	"github.com/lysyi3m/news-comb/app/cfg"
	"github.com/lysyi3m/news-comb/app/database"
	"github.com/lysyi3m/news-comb/app/dedup"
	"github.com/lysyi3m/news-comb/app/enrich"
	"github.com/lysyi3m/news-comb/app/fallback"
	"github.com/lysyi3m/news-comb/app/feed"
	"github.com/lysyi3m/news-comb/app/kv"
	"github.com/lysyi3m/news-comb/app/monitor"
	"github.com/lysyi3m/news-comb/app/pipeline"
	"github.com/lysyi3m/news-comb/app/tasks"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if appCfg == nil {
		// help was shown
		return
	}

	setupLogger(appCfg.Debug)

	if err := run(appCfg); err != nil {
		slog.Error("News Comb stopped with error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

func run(appCfg *cfg.Cfg) error {
	slog.Info("Starting News Comb", "version", appCfg.Version, "kv_backend", appCfg.KVBackend)

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStartup()

	if err := os.MkdirAll(filepath.Dir(appCfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := database.NewConnection(appCfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("Connected to database", "path", appCfg.DBPath)

	store, locker, purger, closeStore, err := openKV(startupCtx, appCfg, db)
	if err != nil {
		return err
	}
	defer closeStore()

	configCache := feed.NewConfigCache(appCfg.SourcesDir)
	if err := configCache.Run(); err != nil {
		return fmt.Errorf("failed to load source configurations: %w", err)
	}
	slog.Info("Source configurations loaded", "dir", appCfg.SourcesDir, "count", configCache.GetConfigCount(), "enabled", len(configCache.Sources()))

	httpClient := &http.Client{
		Timeout:   60 * time.Second,
		Transport: &userAgentTransport{base: http.DefaultTransport, userAgent: appCfg.UserAgent},
	}

	filterer := feed.NewFilterer(feed.DefaultExclusions)
	fetcher := feed.NewFetcher(httpClient, feed.NewParser(), filterer)
	orchestrator := feed.NewOrchestrator(fetcher)

	usage := fallback.NewUsageTracker(store, appCfg.GNewsDailyLimit)
	aggregator := fallback.NewAggregator(store, usage,
		fallback.NewClient(appCfg.GNewsAPIKey, httpClient, time.Second),
		filterer,
		fallback.Options{
			APIKey:      appCfg.GNewsAPIKey,
			Queries:     appCfg.GNewsQueries,
			Language:    appCfg.GNewsLanguage,
			Country:     appCfg.GNewsCountry,
			MinArticles: appCfg.GNewsMinArticles,
			MaxQueries:  appCfg.GNewsMaxQueries,
		})
	if !aggregator.Configured() {
		slog.Warn("GNews API key not set, fallback disabled")
	}

	categorizer := enrich.NewCategorizer(enrich.DefaultCategories, enrich.DefaultCategory)
	var enricher pipeline.Enricher = enrich.NewPassthrough(categorizer)
	if appCfg.EnrichmentURL != "" {
		enricher = enrich.NewClient(appCfg.EnrichmentURL, appCfg.EnrichmentKey, httpClient, categorizer)
		slog.Info("Enrichment service configured", "url", appCfg.EnrichmentURL)
	}

	articleRepo := database.NewArticleRepository(db)
	recorder := monitor.NewRecorder(store)

	newsPipeline := pipeline.New(pipeline.Deps{
		Store:    store,
		Locker:   locker,
		Sources:  configCache,
		Fetcher:  orchestrator,
		Fallback: aggregator,
		Deduper:  dedup.NewEngine(store, dedup.DefaultCacheSize, dedup.DefaultSimilarityThreshold),
		Scraper:  feed.NewBodyFetcher(httpClient, feed.NewContentExtractor(), 30*time.Second),
		Enricher: enricher,
		Articles: articleRepo,
		Recorder: recorder,
	}, pipeline.Options{
		RunTimeout:       appCfg.RunTimeout,
		Lookback:         appCfg.Lookback,
		MinContentLength: appCfg.MinContentLength,
	})

	var budget monitor.BudgetChecker
	if aggregator.Configured() {
		budget = aggregator
	}
	healthMonitor := monitor.NewMonitor(recorder, store, configCache, articleRepo, budget, httpClient)

	scheduler := tasks.NewScheduler(newsPipeline, purger, tasks.Options{
		Interval:    appCfg.SchedulerInterval,
		TaskTimeout: appCfg.RunTimeout + time.Minute,
	})
	slog.Info("Starting background scheduler", "interval", appCfg.SchedulerInterval.String())
	scheduler.Start()
	defer scheduler.Stop()

	handler := api.NewHandler(newsPipeline, scheduler, healthMonitor, recorder, aggregator, articleRepo, configCache, appCfg.Version)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      api.NewServer(handler),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: appCfg.RunTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case runErr = <-serverErrChan:
	}

	slog.Info("Shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	return runErr
}

// openKV selects the KV backend. locker is nil when the backend cannot hold
// a cross-process lock; purger is nil when the backend expires keys itself.
func openKV(ctx context.Context, appCfg *cfg.Cfg, db *database.DB) (kv.Store, kv.Locker, tasks.Purger, func(), error) {
	switch appCfg.KVBackend {
	case cfg.KVBackendRedis:
		store, err := kv.NewRedis(ctx, appCfg.RedisAddr, appCfg.RedisPassword)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		closeStore := func() {
			if err := store.Close(); err != nil {
				slog.Warn("Failed to close Redis connection", "error", err)
			}
		}
		return store, store, nil, closeStore, nil

	case cfg.KVBackendMemory:
		slog.Warn("Using in-memory KV store, state is lost on restart")
		store := kv.NewMemory()
		return store, store, nil, func() {}, nil

	default:
		store := database.NewKVRepository(db)
		return store, nil, store, func() {}, nil
	}
}

type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

// RoundTrip sets the service user agent on requests that carry none.
func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" || t.userAgent == "" {
		return t.base.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(req)
}
