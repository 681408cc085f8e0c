package monitor

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lysyi3m/news-comb/app/feed"
	"github.com/lysyi3m/news-comb/app/kv"
)

type HealthStatus string

const (
	Healthy  HealthStatus = "healthy"
	Degraded HealthStatus = "degraded"
	Critical HealthStatus = "critical"
)

type ServiceState string

const (
	ServiceUp       ServiceState = "up"
	ServiceDegraded ServiceState = "degraded"
	ServiceDown     ServiceState = "down"
)

const (
	maxProbedSources = 3
	sourceProbeTTL   = 10 * time.Second
	metricsWindow    = 10
	probeKeyPrefix   = "health_check_"
	sentinelURL      = "https://health.invalid/probe"

	criticalSuccessRate       = 0.5
	degradedSuccessRate       = 0.8
	criticalSourceSuccessRate = 0.3
	degradedSourceSuccessRate = 0.7
)

type ServiceStatus struct {
	Name      string       `json:"name"`
	Status    ServiceState `json:"status"`
	LatencyMs int64        `json:"latency_ms"`
	Message   string       `json:"message,omitempty"`
}

type Metrics struct {
	Runs                 int        `json:"runs"`
	TotalProcessed       int        `json:"total_processed"`
	TotalSuccess         int        `json:"total_success"`
	TotalErrors          int        `json:"total_errors"`
	TotalArticleErrors   int        `json:"total_article_errors"`
	SuccessRate          float64    `json:"success_rate"`
	AvgSourceSuccessRate float64    `json:"avg_source_success_rate"`
	AvgDurationMs        int64      `json:"avg_duration_ms"`
	LastRun              *time.Time `json:"last_run,omitempty"`
}

type Alert struct {
	Level   HealthStatus `json:"level"`
	Message string       `json:"message"`
}

type HealthReport struct {
	Status    HealthStatus    `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Services  []ServiceStatus `json:"services"`
	Metrics   Metrics         `json:"metrics"`
	Alerts    []Alert         `json:"alerts"`
}

// SourceLister provides the sources to probe.
type SourceLister interface {
	Sources() []*feed.Config
}

// ArticleChecker is the downstream article store.
type ArticleChecker interface {
	Exists(ctx context.Context, url string) (bool, error)
}

// BudgetChecker reports the fallback API's remaining daily calls.
type BudgetChecker interface {
	Remaining(ctx context.Context) (int, error)
}

type Monitor struct {
	recorder   *Recorder
	store      kv.Store
	sources    SourceLister
	articles   ArticleChecker
	budget     BudgetChecker
	httpClient *http.Client
	headers    *feed.HeaderRotator
	now        func() time.Time
}

// NewMonitor wires the health probes. budget may be nil when no fallback API
// is configured.
func NewMonitor(recorder *Recorder, store kv.Store, sources SourceLister, articles ArticleChecker, budget BudgetChecker, httpClient *http.Client) *Monitor {
	return &Monitor{
		recorder:   recorder,
		store:      store,
		sources:    sources,
		articles:   articles,
		budget:     budget,
		httpClient: httpClient,
		headers:    feed.NewHeaderRotator(),
		now:        time.Now,
	}
}

func (m *Monitor) Health(ctx context.Context) *HealthReport {
	report := &HealthReport{
		Timestamp: m.now().UTC(),
		Services:  m.probeServices(ctx),
	}

	runs, err := m.recorder.RecentRuns(ctx, metricsWindow)
	if err != nil {
		slog.Warn("Failed to load recent runs for health metrics", "error", err)
	}
	report.Metrics = computeMetrics(runs)
	report.Status, report.Alerts = evaluate(report.Services, report.Metrics)

	return report
}

func (m *Monitor) probeServices(ctx context.Context) []ServiceStatus {
	var probes []func(context.Context) ServiceStatus

	sources := m.sources.Sources()
	for _, source := range sources[:min(len(sources), maxProbedSources)] {
		probes = append(probes, func(ctx context.Context) ServiceStatus { return m.probeSource(ctx, source) })
	}
	probes = append(probes, m.probeArticleStore, m.probeKV)
	if m.budget != nil {
		probes = append(probes, m.probeBudget)
	}

	results := make([]ServiceStatus, len(probes))
	var wg sync.WaitGroup
	for i, probe := range probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			status := probe(ctx)
			status.LatencyMs = time.Since(start).Milliseconds()
			results[i] = status
		}()
	}
	wg.Wait()

	return results
}

func (m *Monitor) probeSource(ctx context.Context, source *feed.Config) ServiceStatus {
	status := ServiceStatus{Name: "source:" + source.Name}

	probeCtx, cancel := context.WithTimeout(ctx, sourceProbeTTL)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, source.URL, nil)
	if err != nil {
		status.Status, status.Message = ServiceDown, err.Error()
		return status
	}
	m.headers.Apply(req, source.Settings.HeaderProfile)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		status.Status, status.Message = ServiceDown, err.Error()
		return status
	}
	resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		status.Status = ServiceUp
	} else {
		status.Status, status.Message = ServiceDegraded, resp.Status
	}
	return status
}

func (m *Monitor) probeArticleStore(ctx context.Context) ServiceStatus {
	status := ServiceStatus{Name: "article_store"}
	if _, err := m.articles.Exists(ctx, sentinelURL); err != nil {
		status.Status, status.Message = ServiceDown, err.Error()
		return status
	}
	status.Status = ServiceUp
	return status
}

// pinger is implemented by networked KV backends.
type pinger interface {
	Ping(ctx context.Context) error
}

func (m *Monitor) probeKV(ctx context.Context) ServiceStatus {
	status := ServiceStatus{Name: "kv_store"}

	if p, ok := m.store.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			status.Status, status.Message = ServiceDown, fmt.Sprintf("ping failed: %v", err)
			return status
		}
	}

	key := probeKeyPrefix + uuid.NewString()
	value := []byte(m.now().UTC().Format(time.RFC3339Nano))

	if err := m.store.Put(ctx, key, value, time.Minute); err != nil {
		status.Status, status.Message = ServiceDown, fmt.Sprintf("write failed: %v", err)
		return status
	}
	defer func() {
		if err := m.store.Delete(ctx, key); err != nil {
			slog.Warn("Failed to delete health probe key", "key", key, "error", err)
		}
	}()

	got, ok, err := m.store.Get(ctx, key)
	switch {
	case err != nil:
		status.Status, status.Message = ServiceDown, fmt.Sprintf("read failed: %v", err)
	case !ok || !bytes.Equal(got, value):
		status.Status, status.Message = ServiceDegraded, "read value does not match written value"
	default:
		status.Status = ServiceUp
	}
	return status
}

func (m *Monitor) probeBudget(ctx context.Context) ServiceStatus {
	status := ServiceStatus{Name: "fallback_api"}
	remaining, err := m.budget.Remaining(ctx)
	switch {
	case err != nil:
		status.Status, status.Message = ServiceDegraded, err.Error()
	case remaining <= 0:
		status.Status, status.Message = ServiceDegraded, "daily quota exhausted"
	default:
		status.Status, status.Message = ServiceUp, fmt.Sprintf("%d calls remaining", remaining)
	}
	return status
}

func computeMetrics(runs []*ProcessingRun) Metrics {
	metrics := Metrics{Runs: len(runs), SuccessRate: 1, AvgSourceSuccessRate: 1}
	if len(runs) == 0 {
		return metrics
	}

	var sourceRateSum float64
	var durationSum int64
	for _, run := range runs {
		metrics.TotalProcessed += run.ArticlesProcessed
		metrics.TotalSuccess += run.SuccessCount
		metrics.TotalErrors += run.ErrorCount
		metrics.TotalArticleErrors += run.ArticleErrorCount
		sourceRateSum += run.SourceSuccessRate
		durationSum += run.DurationMs

		if metrics.LastRun == nil || run.Timestamp.After(*metrics.LastRun) {
			ts := run.Timestamp
			metrics.LastRun = &ts
		}
	}

	// source failures are covered by AvgSourceSuccessRate
	if attempts := metrics.TotalSuccess + metrics.TotalArticleErrors; attempts > 0 {
		metrics.SuccessRate = float64(metrics.TotalSuccess) / float64(attempts)
	}
	metrics.AvgSourceSuccessRate = sourceRateSum / float64(len(runs))
	metrics.AvgDurationMs = durationSum / int64(len(runs))

	return metrics
}

func evaluate(services []ServiceStatus, metrics Metrics) (HealthStatus, []Alert) {
	status := Healthy
	alerts := []Alert{}

	raise := func(level HealthStatus, format string, args ...any) {
		alerts = append(alerts, Alert{Level: level, Message: fmt.Sprintf(format, args...)})
		if level == Critical || status == Healthy {
			status = level
		}
	}

	for _, service := range services {
		switch service.Status {
		case ServiceDown:
			raise(Critical, "%s is down: %s", service.Name, service.Message)
		case ServiceDegraded:
			raise(Degraded, "%s is degraded: %s", service.Name, service.Message)
		}
	}

	if metrics.Runs > 0 {
		switch {
		case metrics.SuccessRate < criticalSuccessRate:
			raise(Critical, "article success rate %.0f%% is below %.0f%%", metrics.SuccessRate*100, criticalSuccessRate*100)
		case metrics.SuccessRate < degradedSuccessRate:
			raise(Degraded, "article success rate %.0f%% is below %.0f%%", metrics.SuccessRate*100, degradedSuccessRate*100)
		}

		switch {
		case metrics.AvgSourceSuccessRate < criticalSourceSuccessRate:
			raise(Critical, "source success rate %.0f%% is below %.0f%%", metrics.AvgSourceSuccessRate*100, criticalSourceSuccessRate*100)
		case metrics.AvgSourceSuccessRate < degradedSourceSuccessRate:
			raise(Degraded, "source success rate %.0f%% is below %.0f%%", metrics.AvgSourceSuccessRate*100, degradedSourceSuccessRate*100)
		}
	}

	return status, alerts
}
