// Package jobs defines the scheduled background work and its registration.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/quartz"

	"github.com/cptspacemanspiff/activity-tracker/internal/analysis"
	"github.com/cptspacemanspiff/activity-tracker/internal/collector"
	"github.com/cptspacemanspiff/activity-tracker/internal/export"
	"github.com/cptspacemanspiff/activity-tracker/internal/scheduler"
	"github.com/cptspacemanspiff/activity-tracker/internal/tracking"
)

// KeyReportType selects the analysis window of an AnalysisWorker run.
const KeyReportType = "report_type"

// CollectionWorker takes a data snapshot when any collection is enabled.
type CollectionWorker struct {
	Collector *tracking.DataCollector
	Prefs     tracking.PreferenceReader
}

func (w CollectionWorker) Do(ctx context.Context, _ scheduler.Work) error {
	p := w.Prefs.Get()
	if !p.HasAnyCollectionEnabled() {
		return nil
	}
	return w.Collector.CollectDataSnapshot(ctx, p)
}

// AnalysisWorker generates the report named by the report type input,
// defaulting to daily.
type AnalysisWorker struct {
	Aggregator *analysis.Aggregator
}

func (w AnalysisWorker) Do(ctx context.Context, work scheduler.Work) error {
	reportType := work.Input[KeyReportType]
	if reportType == "" {
		reportType = analysis.ReportDaily
	}
	_, err := w.Aggregator.GenerateLatest(ctx, reportType)
	return err
}

// AutoExportWorker writes an export with the auto-export preferences. It
// does nothing while auto-export is disabled.
type AutoExportWorker struct {
	Exporter *export.Exporter
	Prefs    tracking.PreferenceReader
	Clock    quartz.Clock
}

func (w AutoExportWorker) Do(ctx context.Context, _ scheduler.Work) error {
	p := w.Prefs.Get()
	if !p.AutoExportEnabled {
		return nil
	}
	start, end := export.RangeFor(p.AutoExportRange, w.Clock.Now())
	_, err := w.Exporter.Export(ctx, p.AutoExportFormat, start, end, p.AutoExportAnonymize)
	return err
}

// Retention deletes rows older than a cutoff.
type Retention interface {
	DeleteOlderThan(ctx context.Context, before int64) (int64, error)
}

// JournalPruner drops usage journal entries older than a cutoff.
type JournalPruner interface {
	Prune(before int64) (int, error)
}

// CleanupWorker applies the retention period to the store and the usage
// journal. Journal may be nil.
type CleanupWorker struct {
	Store     Retention
	Journal   JournalPruner
	Retention time.Duration
	Clock     quartz.Clock
	Log       *slog.Logger
}

func (w CleanupWorker) Do(ctx context.Context, _ scheduler.Work) error {
	before := w.Clock.Now().Add(-w.Retention).UnixMilli()
	rows, err := w.Store.DeleteOlderThan(ctx, before)
	if err != nil {
		return fmt.Errorf("apply retention: %w", err)
	}
	lines := 0
	if w.Journal != nil {
		if lines, err = w.Journal.Prune(before); err != nil {
			return fmt.Errorf("prune usage journal: %w", err)
		}
	}
	w.Log.Info("cleanup finished", "topic", "cleanup", "rows", rows, "journal_lines", lines, "before", before)
	return nil
}

// BatteryConstraint reports the battery as low when it is at or below
// LowPercent and not charging. Unreadable or absent batteries count as not
// low.
type BatteryConstraint struct {
	Reader     collector.BatteryReader
	LowPercent int
}

func (b BatteryConstraint) BatteryNotLow(ctx context.Context) bool {
	r, err := b.Reader.ReadBattery(ctx)
	if err != nil {
		return true
	}
	switch collector.ChargingStateFromStatus(r.Status) {
	case collector.Charging, collector.Full:
		return true
	}
	pct := collector.LevelPercent(r.Level, r.Scale)
	return pct == collector.UnknownLevel || pct > b.LowPercent
}

var _ scheduler.ConstraintChecker = BatteryConstraint{}

var (
	_ scheduler.Worker = CollectionWorker{}
	_ scheduler.Worker = AnalysisWorker{}
	_ scheduler.Worker = AutoExportWorker{}
	_ scheduler.Worker = CleanupWorker{}
)
