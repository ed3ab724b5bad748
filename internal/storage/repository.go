package storage

import (
	"context"

	"github.com/cptspacemanspiff/activity-tracker/internal/collector"
)

// SessionRepository stores foreground app sessions. Inserts replace any row
// with the same id.
type SessionRepository interface {
	InsertSession(ctx context.Context, s collector.Session) error
	// InsertSessions writes all sessions in one transaction.
	InsertSessions(ctx context.Context, sessions []collector.Session) error
	SessionByID(ctx context.Context, id string) (*collector.Session, error)
	// SessionsInRange returns sessions fully contained in [from, to], oldest first.
	SessionsInRange(ctx context.Context, from, to int64) ([]collector.Session, error)
	AllSessions(ctx context.Context) ([]collector.Session, error)
	DeleteSession(ctx context.Context, id string) error
	DeleteSessionsOlderThan(ctx context.Context, before int64) (int64, error)
}

// BatterySampleRepository stores battery samples.
type BatterySampleRepository interface {
	InsertBatterySample(ctx context.Context, s collector.BatterySample) error
	InsertBatterySamples(ctx context.Context, samples []collector.BatterySample) error
	// BatterySamplesInRange returns samples with from <= ts < to, newest first.
	BatterySamplesInRange(ctx context.Context, from, to int64) ([]collector.BatterySample, error)
	LatestBatterySample(ctx context.Context) (*collector.BatterySample, error)
	// AverageBatteryLevel ignores unknown levels and returns nil when no
	// known level falls in [from, to).
	AverageBatteryLevel(ctx context.Context, from, to int64) (*float64, error)
	DeleteBatterySamplesOlderThan(ctx context.Context, before int64) (int64, error)
}

// DeviceEventRepository stores device events.
type DeviceEventRepository interface {
	InsertDeviceEvent(ctx context.Context, e collector.DeviceEvent) error
	InsertDeviceEvents(ctx context.Context, events []collector.DeviceEvent) error
	// DeviceEventsInRange returns events with from <= ts < to, newest first.
	DeviceEventsInRange(ctx context.Context, from, to int64) ([]collector.DeviceEvent, error)
	DeviceEventsByType(ctx context.Context, typ string) ([]collector.DeviceEvent, error)
	DeleteDeviceEventsOlderThan(ctx context.Context, before int64) (int64, error)
}

// ReportRepository stores analysis reports.
type ReportRepository interface {
	InsertReport(ctx context.Context, r collector.AnalysisReport) error
	LatestReport(ctx context.Context) (*collector.AnalysisReport, error)
	// ReportsByType returns reports newest first; limit <= 0 means all.
	ReportsByType(ctx context.Context, reportType string, limit int) ([]collector.AnalysisReport, error)
	// ReportsSince returns reports whose range starts at or after ts.
	ReportsSince(ctx context.Context, ts int64) ([]collector.AnalysisReport, error)
	DeleteReport(ctx context.Context, id string) error
	DeleteReportsOlderThan(ctx context.Context, before int64) (int64, error)
}

// Store is the full persistence surface shared by the pipeline.
type Store interface {
	SessionRepository
	BatterySampleRepository
	DeviceEventRepository
	ReportRepository
	// DeleteOlderThan applies retention to every table.
	DeleteOlderThan(ctx context.Context, before int64) (int64, error)
	// PurgeAll removes every row.
	PurgeAll(ctx context.Context) error
}

var (
	_ Store = (*DB)(nil)
	_ Store = (*Memory)(nil)
)
