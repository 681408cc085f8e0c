package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/lysyi3m/news-comb/app/errs"
)

const (
	dashboardRuns    = 20
	dashboardReports = 10
)

type ErrorAnalysis struct {
	Total      int                   `json:"total"`
	ByCategory map[errs.Category]int `json:"by_category"`
	BySource   map[string]int        `json:"by_source"`
	MostCommon errs.Category         `json:"most_common,omitempty"`
}

type Dashboard struct {
	GeneratedAt        time.Time        `json:"generated_at"`
	Health             *HealthReport    `json:"health"`
	ErrorAnalysis      ErrorAnalysis    `json:"error_analysis"`
	RecentRuns         []*ProcessingRun `json:"recent_runs"`
	RecentErrorReports []*ErrorReport   `json:"recent_error_reports"`
}

func (m *Monitor) Dashboard(ctx context.Context) (*Dashboard, error) {
	runs, err := m.recorder.RecentRuns(ctx, dashboardRuns)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent runs: %w", err)
	}

	reports, err := m.recorder.RecentErrorReports(ctx, dashboardReports)
	if err != nil {
		return nil, fmt.Errorf("failed to load error reports: %w", err)
	}

	return &Dashboard{
		GeneratedAt:        m.now().UTC(),
		Health:             m.Health(ctx),
		ErrorAnalysis:      AnalyzeErrors(runs),
		RecentRuns:         runs,
		RecentErrorReports: reports,
	}, nil
}

// AnalyzeErrors counts the errors recorded across runs.
func AnalyzeErrors(runs []*ProcessingRun) ErrorAnalysis {
	analysis := ErrorAnalysis{
		ByCategory: make(map[errs.Category]int),
		BySource:   make(map[string]int),
	}

	for _, run := range runs {
		for _, e := range run.Errors {
			if e == nil {
				continue
			}
			analysis.Total++
			analysis.ByCategory[e.Category]++
			if e.SourceID != "" {
				analysis.BySource[e.SourceID]++
			}
		}
	}

	best := 0
	for category, count := range analysis.ByCategory {
		if count > best || (count == best && category < analysis.MostCommon) {
			best = count
			analysis.MostCommon = category
		}
	}

	return analysis
}
