package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/quartz"

	"github.com/cptspacemanspiff/activity-tracker/internal/analysis"
	"github.com/cptspacemanspiff/activity-tracker/internal/collector"
	"github.com/cptspacemanspiff/activity-tracker/internal/prefs"
	"github.com/cptspacemanspiff/activity-tracker/internal/scheduler"
)

// Unique work names.
const (
	DataCollectionWork = "data_collection_work"
	AnalysisWork       = "analysis_work"
	DailyAnalysisWork  = AnalysisWork + "_daily"
	WeeklyAnalysisWork = AnalysisWork + "_weekly"
	AutoExportWork     = "auto_export_work"
	CleanupWork        = "cleanup_work"
)

// Default cadences.
const (
	DefaultCollectionInterval = 15 * time.Minute
	DailyInterval             = 24 * time.Hour
	WeeklyInterval            = 7 * 24 * time.Hour
	DefaultCleanupInterval    = 24 * time.Hour
)

// Workers are the units registered by a WorkScheduler.
type Workers struct {
	Collection scheduler.Worker
	Analysis   scheduler.Worker
	AutoExport scheduler.Worker
	Cleanup    scheduler.Worker
}

// WorkScheduler registers the background work under stable unique names.
// Every Schedule call keeps an existing registration.
type WorkScheduler struct {
	m                  *scheduler.Manager
	clock              quartz.Clock
	workers            Workers
	collectionInterval time.Duration
	cleanupInterval    time.Duration
}

// NewWorkScheduler returns a WorkScheduler. Non-positive intervals use the
// defaults.
func NewWorkScheduler(m *scheduler.Manager, clock quartz.Clock, workers Workers, collectionInterval, cleanupInterval time.Duration) *WorkScheduler {
	if collectionInterval <= 0 {
		collectionInterval = DefaultCollectionInterval
	}
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	return &WorkScheduler{
		m:                  m,
		clock:              clock,
		workers:            workers,
		collectionInterval: collectionInterval,
		cleanupInterval:    cleanupInterval,
	}
}

var batteryNotLow = scheduler.Constraints{RequiresBatteryNotLow: true}

func (s *WorkScheduler) ScheduleDataCollection() error {
	_, err := s.m.EnqueueUniquePeriodic(DataCollectionWork, scheduler.Keep, scheduler.Request{
		Interval:    s.collectionInterval,
		Constraints: batteryNotLow,
	}, s.workers.Collection)
	return err
}

// ScheduleDailyAnalysis first runs at the next local midnight.
func (s *WorkScheduler) ScheduleDailyAnalysis() error {
	_, err := s.m.EnqueueUniquePeriodic(DailyAnalysisWork, scheduler.Keep, scheduler.Request{
		Interval:     DailyInterval,
		InitialDelay: DelayUntilMidnight(s.clock.Now()),
		Constraints:  batteryNotLow,
		Input:        map[string]string{KeyReportType: analysis.ReportDaily},
	}, s.workers.Analysis)
	return err
}

// ReportHistory looks up stored reports, newest first.
type ReportHistory interface {
	ReportsByType(ctx context.Context, reportType string, limit int) ([]collector.AnalysisReport, error)
}

// ScheduleWeeklyAnalysis first runs one week after the newest stored weekly
// report, or immediately when there is none or it is overdue. A nil history
// behaves like an empty one.
func (s *WorkScheduler) ScheduleWeeklyAnalysis(ctx context.Context, history ReportHistory) error {
	delay, err := s.weeklyDelay(ctx, history)
	if err != nil {
		return err
	}
	_, err = s.m.EnqueueUniquePeriodic(WeeklyAnalysisWork, scheduler.Keep, scheduler.Request{
		Interval:     WeeklyInterval,
		InitialDelay: delay,
		Constraints:  batteryNotLow,
		Input:        map[string]string{KeyReportType: analysis.ReportWeekly},
	}, s.workers.Analysis)
	return err
}

func (s *WorkScheduler) weeklyDelay(ctx context.Context, history ReportHistory) (time.Duration, error) {
	if history == nil {
		return 0, nil
	}
	last, err := history.ReportsByType(ctx, analysis.ReportWeekly, 1)
	if err != nil {
		return 0, fmt.Errorf("last weekly report: %w", err)
	}
	if len(last) == 0 {
		return 0, nil
	}
	due := time.UnixMilli(last[0].CreatedTs).Add(WeeklyInterval)
	return max(due.Sub(s.clock.Now()), 0), nil
}

func (s *WorkScheduler) ScheduleAutoExport() error {
	_, err := s.m.EnqueueUniquePeriodic(AutoExportWork, scheduler.Keep, scheduler.Request{
		Interval:    DailyInterval,
		Constraints: batteryNotLow,
	}, s.workers.AutoExport)
	return err
}

func (s *WorkScheduler) ScheduleCleanup() error {
	_, err := s.m.EnqueueUniquePeriodic(CleanupWork, scheduler.Keep, scheduler.Request{
		Interval: s.cleanupInterval,
	}, s.workers.Cleanup)
	return err
}

func (s *WorkScheduler) CancelDataCollection() { s.m.Cancel(DataCollectionWork) }

func (s *WorkScheduler) CancelAutoExport() { s.m.Cancel(AutoExportWork) }

// CancelAll cancels the collection and analysis work.
func (s *WorkScheduler) CancelAll() {
	s.m.Cancel(DataCollectionWork)
	s.m.Cancel(DailyAnalysisWork)
	s.m.Cancel(WeeklyAnalysisWork)
}

func (s *WorkScheduler) IsDataCollectionScheduled() bool {
	return s.m.IsScheduled(DataCollectionWork)
}

// Sync registers or cancels the preference-dependent work.
func (s *WorkScheduler) Sync(p prefs.Preferences) error {
	if p.HasAnyCollectionEnabled() {
		if err := s.ScheduleDataCollection(); err != nil {
			return err
		}
	} else {
		s.CancelDataCollection()
	}
	if p.AutoExportEnabled {
		return s.ScheduleAutoExport()
	}
	s.CancelAutoExport()
	return nil
}

// DelayUntilMidnight returns the time from now to the next midnight in
// now's location.
func DelayUntilMidnight(now time.Time) time.Duration {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location()).Sub(now)
}
