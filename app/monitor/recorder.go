package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/lysyi3m/news-comb/app/errs"
	"github.com/lysyi3m/news-comb/app/kv"
)

const (
	runKeyPrefix         = "processing_run_"
	RecentRunsKey        = "recent_processing_runs"
	errorReportKeyPrefix = "error_report_"

	maxRecentRuns = 50
	retention     = 7 * 24 * time.Hour
)

type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunEmpty     RunStatus = "empty"
	RunCritical  RunStatus = "critical"
)

// ProcessingRun is written once per pipeline run.
type ProcessingRun struct {
	ID                string        `json:"id"`
	Timestamp         time.Time     `json:"timestamp"`
	Trigger           string        `json:"trigger"`
	DurationMs        int64         `json:"duration_ms"`
	ArticlesProcessed int           `json:"articles_processed"`
	SuccessCount      int           `json:"success_count"`
	ErrorCount        int           `json:"error_count"`
	ArticleErrorCount int           `json:"article_error_count"` // per-article failures only
	DuplicateCount    int           `json:"duplicate_count"`
	SourceSuccessRate float64       `json:"source_success_rate"`
	FallbackUsed      bool          `json:"fallback_used"`
	Status            RunStatus     `json:"status"`
	Errors            []*errs.Error `json:"errors"`
}

type ErrorReport struct {
	RunID     string        `json:"run_id"`
	Timestamp time.Time     `json:"timestamp"`
	Fatal     bool          `json:"fatal"`
	Message   string        `json:"message,omitempty"`
	Errors    []*errs.Error `json:"errors"`
}

// Recorder persists runs and error reports in the KV store.
type Recorder struct {
	store kv.Store
	now   func() time.Time
	mu    sync.Mutex
}

func NewRecorder(store kv.Store) *Recorder {
	return &Recorder{
		store: store,
		now:   time.Now,
	}
}

func RunKey(id string) string {
	return runKeyPrefix + id
}

func (r *Recorder) RecordRun(ctx context.Context, run *ProcessingRun) error {
	if run.ID == "" {
		return fmt.Errorf("run ID is required")
	}

	if err := kv.PutJSON(ctx, r.store, RunKey(run.ID), run, retention); err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	if _, err := kv.GetJSON(ctx, r.store, RecentRunsKey, &ids); err != nil {
		return fmt.Errorf("failed to load run index: %w", err)
	}

	ids = append([]string{run.ID}, ids...)
	if len(ids) > maxRecentRuns {
		ids = ids[:maxRecentRuns]
	}

	if err := kv.PutJSON(ctx, r.store, RecentRunsKey, ids, 0); err != nil {
		return fmt.Errorf("failed to save run index: %w", err)
	}

	slog.Debug("Run recorded", "run_id", run.ID, "status", run.Status)
	return nil
}

// RecentRuns returns up to n runs, newest first. Runs whose records have
// expired are skipped.
func (r *Recorder) RecentRuns(ctx context.Context, n int) ([]*ProcessingRun, error) {
	var ids []string
	if _, err := kv.GetJSON(ctx, r.store, RecentRunsKey, &ids); err != nil {
		return nil, fmt.Errorf("failed to load run index: %w", err)
	}

	runs := make([]*ProcessingRun, 0, min(n, len(ids)))
	for _, id := range ids {
		if len(runs) >= n {
			break
		}
		var run ProcessingRun
		ok, err := kv.GetJSON(ctx, r.store, RunKey(id), &run)
		if err != nil {
			return nil, err
		}
		if ok {
			runs = append(runs, &run)
		}
	}
	return runs, nil
}

func (r *Recorder) RecordErrorReport(ctx context.Context, report *ErrorReport) error {
	if report.Timestamp.IsZero() {
		report.Timestamp = r.now().UTC()
	}
	key := errorReportKeyPrefix + strconv.FormatInt(report.Timestamp.UnixNano(), 10)
	if err := kv.PutJSON(ctx, r.store, key, report, retention); err != nil {
		return fmt.Errorf("failed to save error report: %w", err)
	}
	return nil
}

// RecentErrorReports returns up to n error reports, newest first.
func (r *Recorder) RecentErrorReports(ctx context.Context, n int) ([]*ErrorReport, error) {
	keys, err := r.store.List(ctx, errorReportKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list error reports: %w", err)
	}

	// fixed-width nanosecond suffixes sort chronologically
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))

	reports := make([]*ErrorReport, 0, min(n, len(keys)))
	for _, key := range keys {
		if len(reports) >= n {
			break
		}
		var report ErrorReport
		ok, err := kv.GetJSON(ctx, r.store, key, &report)
		if err != nil {
			return nil, err
		}
		if ok {
			reports = append(reports, &report)
		}
	}
	return reports, nil
}
