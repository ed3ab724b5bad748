package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"

	"github.com/cptspacemanspiff/activity-tracker/internal/collector"
)

// Report types.
const (
	ReportDaily  = "daily"
	ReportWeekly = "weekly"
)

// LookbackFor returns the window length for a report type. Unknown types
// use the daily window.
func LookbackFor(reportType string) time.Duration {
	if reportType == ReportWeekly {
		return 7 * 24 * time.Hour
	}
	return 24 * time.Hour
}

// Store is the persistence the aggregator reads from and writes to.
type Store interface {
	SessionsInRange(ctx context.Context, from, to int64) ([]collector.Session, error)
	BatterySamplesInRange(ctx context.Context, from, to int64) ([]collector.BatterySample, error)
	InsertReport(ctx context.Context, r collector.AnalysisReport) error
}

// Aggregator builds and persists analysis reports.
type Aggregator struct {
	store Store
	clock quartz.Clock
	log   *slog.Logger
}

func NewAggregator(store Store, clock quartz.Clock, logger *slog.Logger) *Aggregator {
	return &Aggregator{store: store, clock: clock, log: logger}
}

// Generate computes metrics over [start, end) and persists one report.
func (a *Aggregator) Generate(ctx context.Context, reportType string, start, end int64) (collector.AnalysisReport, error) {
	if end < start {
		return collector.AnalysisReport{}, fmt.Errorf("invalid range %d..%d", start, end)
	}
	sessions, err := a.store.SessionsInRange(ctx, start, end)
	if err != nil {
		return collector.AnalysisReport{}, fmt.Errorf("load sessions: %w", err)
	}
	samples, err := a.store.BatterySamplesInRange(ctx, start, end)
	if err != nil {
		return collector.AnalysisReport{}, fmt.Errorf("load battery samples: %w", err)
	}

	metrics := ComputeMetrics(sessions, samples)
	payload, err := json.Marshal(metrics)
	if err != nil {
		return collector.AnalysisReport{}, fmt.Errorf("encode metrics: %w", err)
	}

	report := collector.AnalysisReport{
		ID:           uuid.NewString(),
		RangeStartTs: start,
		RangeEndTs:   end,
		CreatedTs:    a.clock.Now().UnixMilli(),
		ReportType:   reportType,
		MetricsJSON:  string(payload),
	}
	if err := a.store.InsertReport(ctx, report); err != nil {
		return collector.AnalysisReport{}, fmt.Errorf("store report: %w", err)
	}
	a.log.Info("report generated", "topic", "analysis",
		"type", reportType,
		"sessions", metrics.SessionCount,
		"total_ms", metrics.TotalDurationMs,
		"battery_drain", metrics.BatteryDrain)
	return report, nil
}

// GenerateLatest generates a report ending now over LookbackFor(reportType).
func (a *Aggregator) GenerateLatest(ctx context.Context, reportType string) (collector.AnalysisReport, error) {
	end := a.clock.Now().UnixMilli()
	start := end - LookbackFor(reportType).Milliseconds()
	return a.Generate(ctx, reportType, start, end)
}
