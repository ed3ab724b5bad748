package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cptspacemanspiff/activity-tracker/internal/analysis"
	"github.com/cptspacemanspiff/activity-tracker/internal/collector"
	"github.com/cptspacemanspiff/activity-tracker/internal/export"
	"github.com/cptspacemanspiff/activity-tracker/internal/prefs"
	"github.com/cptspacemanspiff/activity-tracker/internal/scheduler"
	"github.com/cptspacemanspiff/activity-tracker/internal/storage"
	"github.com/cptspacemanspiff/activity-tracker/internal/tracking"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testNow = time.Date(2026, 6, 10, 15, 30, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newClock(t *testing.T) *quartz.Mock {
	t.Helper()
	clock := quartz.NewMock(t)
	clock.Set(testNow)
	return clock
}

type staticPrefs prefs.Preferences

func (s staticPrefs) Get() prefs.Preferences { return prefs.Preferences(s) }

type fakeBattery struct {
	r   collector.BatteryReading
	err error
}

func (f fakeBattery) ReadBattery(context.Context) (collector.BatteryReading, error) { return f.r, f.err }

type countingUsage struct{ calls atomic.Int32 }

func (c *countingUsage) QueryEvents(context.Context, int64, int64) ([]collector.UsageEvent, error) {
	c.calls.Add(1)
	return nil, nil
}

func TestDelayUntilMidnight(t *testing.T) {
	berlin := time.FixedZone("CET", 3600)
	tests := []struct {
		now  time.Time
		want time.Duration
	}{
		{time.Date(2026, 6, 10, 15, 30, 0, 0, time.UTC), 8*time.Hour + 30*time.Minute},
		{time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC), 24 * time.Hour},
		{time.Date(2026, 12, 31, 23, 59, 59, 0, time.UTC), time.Second},
		{time.Date(2026, 6, 10, 23, 0, 0, 0, berlin), time.Hour},
	}
	for _, tt := range tests {
		if got := DelayUntilMidnight(tt.now); got != tt.want {
			t.Errorf("DelayUntilMidnight(%v) = %v, want %v", tt.now, got, tt.want)
		}
	}
}

func TestBatteryConstraint(t *testing.T) {
	reading := func(level, status int) collector.BatteryReading {
		return collector.BatteryReading{Level: level, Scale: 100, Status: status}
	}
	tests := []struct {
		name    string
		battery fakeBattery
		want    bool
	}{
		{"high", fakeBattery{r: reading(80, collector.StatusDischarging)}, true},
		{"at threshold", fakeBattery{r: reading(15, collector.StatusDischarging)}, false},
		{"low", fakeBattery{r: reading(5, collector.StatusDischarging)}, false},
		{"low but charging", fakeBattery{r: reading(5, collector.StatusCharging)}, true},
		{"unknown level", fakeBattery{r: collector.BatteryReading{Level: -1, Scale: -1, Status: collector.StatusUnknown}}, true},
		{"no battery", fakeBattery{err: collector.ErrNoBattery}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := BatteryConstraint{Reader: tt.battery, LowPercent: 15}
			require.Equal(t, tt.want, c.BatteryNotLow(context.Background()))
		})
	}
}

func TestCollectionWorker(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	usage := &countingUsage{}
	dc := tracking.NewDataCollector(tracking.Sources{
		Usage:       usage,
		Battery:     fakeBattery{r: collector.BatteryReading{Level: 50, Scale: 100, Status: collector.StatusCharging}},
		Permissions: collector.StaticPermissions{collector.PermissionUsageStats: true},
	}, store, newClock(t), time.Hour, discardLogger())

	disabled := prefs.Defaults()
	disabled.CollectAppUsage = false
	disabled.CollectBattery = false
	require.NoError(t, CollectionWorker{Collector: dc, Prefs: staticPrefs(disabled)}.Do(ctx, scheduler.Work{}))
	require.Zero(t, usage.calls.Load())

	require.NoError(t, CollectionWorker{Collector: dc, Prefs: staticPrefs(prefs.Defaults())}.Do(ctx, scheduler.Work{}))
	require.EqualValues(t, 1, usage.calls.Load())
	latest, err := store.LatestBatterySample(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Equal(t, collector.Charging, latest.ChargingState)
}

func TestAnalysisWorkerSelectsWindow(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		input map[string]string
		typ   string
		days  int
	}{
		{nil, analysis.ReportDaily, 1},
		{map[string]string{KeyReportType: analysis.ReportDaily}, analysis.ReportDaily, 1},
		{map[string]string{KeyReportType: analysis.ReportWeekly}, analysis.ReportWeekly, 7},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			store := storage.NewMemory()
			w := AnalysisWorker{Aggregator: analysis.NewAggregator(store, newClock(t), discardLogger())}
			require.NoError(t, w.Do(ctx, scheduler.Work{Input: tt.input}))

			r, err := store.LatestReport(ctx)
			require.NoError(t, err)
			require.NotNil(t, r)
			require.Equal(t, tt.typ, r.ReportType)
			require.Equal(t, testNow.UnixMilli(), r.RangeEndTs)
			require.Equal(t, testNow.AddDate(0, 0, -tt.days).UnixMilli(), r.RangeStartTs)
		})
	}
}

type failingStore struct{ err error }

func (f failingStore) SessionsInRange(context.Context, int64, int64) ([]collector.Session, error) {
	return nil, f.err
}

func (f failingStore) BatterySamplesInRange(context.Context, int64, int64) ([]collector.BatterySample, error) {
	return nil, f.err
}

func (f failingStore) InsertReport(context.Context, collector.AnalysisReport) error { return f.err }

func TestAnalysisWorkerFailureRetries(t *testing.T) {
	w := AnalysisWorker{Aggregator: analysis.NewAggregator(failingStore{err: errors.New("database is locked")}, newClock(t), discardLogger())}
	res, err := scheduler.Guard(0, func() error { return w.Do(context.Background(), scheduler.Work{}) })
	require.Error(t, err)
	require.Equal(t, scheduler.Retry, res)
}

func TestAutoExportWorker(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	require.NoError(t, store.InsertSession(ctx, collector.Session{
		ID: "a-1", PackageName: "a", AppLabel: "A",
		StartTimestamp: testNow.Add(-2 * time.Hour).UnixMilli(),
		EndTimestamp:   testNow.Add(-time.Hour).UnixMilli(),
		DurationMs:     time.Hour.Milliseconds(),
	}))
	clock := newClock(t)
	dir := t.TempDir()
	exp := export.NewExporter(store, dir, clock, discardLogger())

	p := prefs.Defaults()
	require.NoError(t, AutoExportWorker{Exporter: exp, Prefs: staticPrefs(p), Clock: clock}.Do(ctx, scheduler.Work{}))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)

	p.AutoExportEnabled = true
	p.AutoExportFormat = prefs.FormatCSV
	p.AutoExportAnonymize = true
	require.NoError(t, AutoExportWorker{Exporter: exp, Prefs: staticPrefs(p), Clock: clock}.Do(ctx, scheduler.Work{}))

	data, err := os.ReadFile(filepath.Join(dir, export.Filename(testNow, "csv")))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[1], `"App"`)
}

func TestCleanupWorker(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	old := testNow.AddDate(0, 0, -40).UnixMilli()
	recent := testNow.AddDate(0, 0, -1).UnixMilli()
	require.NoError(t, store.InsertSessions(ctx, []collector.Session{
		{ID: "old", PackageName: "a", StartTimestamp: old, EndTimestamp: old + 10, DurationMs: 10},
		{ID: "new", PackageName: "a", StartTimestamp: recent, EndTimestamp: recent + 10, DurationMs: 10},
	}))

	path := filepath.Join(t.TempDir(), "usage.jsonl")
	var journal strings.Builder
	for _, ts := range []int64{old, recent} {
		b, err := json.Marshal(map[string]any{"ts": ts, "package": "a", "event": "foreground"})
		require.NoError(t, err)
		fmt.Fprintln(&journal, string(b))
	}
	require.NoError(t, os.WriteFile(path, []byte(journal.String()), 0o600))

	w := CleanupWorker{
		Store:     store,
		Journal:   collector.NewUsageJournal(path, discardLogger()),
		Retention: 30 * 24 * time.Hour,
		Clock:     newClock(t),
		Log:       discardLogger(),
	}
	require.NoError(t, w.Do(ctx, scheduler.Work{}))

	all, err := store.AllSessions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "new", all[0].ID)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, 1, strings.Count(string(data), "\n"))
}

func newTestScheduler(t *testing.T) (*WorkScheduler, *scheduler.Manager, *quartz.Mock) {
	t.Helper()
	clock := newClock(t)
	m := scheduler.NewManager(clock, nil, nil, discardLogger())
	t.Cleanup(m.Close)
	noop := scheduler.WorkerFunc(func(context.Context, scheduler.Work) error { return nil })
	ws := NewWorkScheduler(m, clock, Workers{Collection: noop, Analysis: noop, AutoExport: noop, Cleanup: noop}, 0, 0)
	return ws, m, clock
}

func TestScheduleDataCollectionKeepsExisting(t *testing.T) {
	ws, m, _ := newTestScheduler(t)
	require.False(t, ws.IsDataCollectionScheduled())

	require.NoError(t, ws.ScheduleDataCollection())
	first, ok := m.Info(DataCollectionWork)
	require.True(t, ok)
	require.NoError(t, ws.ScheduleDataCollection())
	second, ok := m.Info(DataCollectionWork)
	require.True(t, ok)

	require.Equal(t, first.ID, second.ID)
	require.True(t, ws.IsDataCollectionScheduled())
}

func TestScheduleAnalysis(t *testing.T) {
	ws, m, _ := newTestScheduler(t)
	require.NoError(t, ws.ScheduleDailyAnalysis())
	require.NoError(t, ws.ScheduleWeeklyAnalysis(context.Background(), nil))

	daily, ok := m.Info(DailyAnalysisWork)
	require.True(t, ok)
	require.Equal(t, time.Date(2026, 6, 11, 0, 0, 0, 0, time.UTC), daily.NextRun)
	require.True(t, m.IsScheduled(WeeklyAnalysisWork))

	require.NoError(t, ws.ScheduleDataCollection())
	ws.CancelAll()
	ws.CancelAll()
	require.False(t, ws.IsDataCollectionScheduled())
	require.False(t, m.IsScheduled(DailyAnalysisWork))
	require.False(t, m.IsScheduled(WeeklyAnalysisWork))
}

type failingHistory struct{}

func (failingHistory) ReportsByType(context.Context, string, int) ([]collector.AnalysisReport, error) {
	return nil, errors.New("database is locked")
}

func TestScheduleWeeklyAnalysisResumesCadence(t *testing.T) {
	ctx := context.Background()
	ws, m, _ := newTestScheduler(t)
	store := storage.NewMemory()
	created := testNow.Add(-2 * 24 * time.Hour)
	require.NoError(t, store.InsertReport(ctx, collector.AnalysisReport{
		ID: "w1", CreatedTs: created.UnixMilli(), ReportType: analysis.ReportWeekly, MetricsJSON: "{}",
	}))
	require.NoError(t, store.InsertReport(ctx, collector.AnalysisReport{
		ID: "d1", CreatedTs: testNow.UnixMilli(), ReportType: analysis.ReportDaily, MetricsJSON: "{}",
	}))

	require.NoError(t, ws.ScheduleWeeklyAnalysis(ctx, store))
	info, ok := m.Info(WeeklyAnalysisWork)
	require.True(t, ok)
	require.Equal(t, created.Add(WeeklyInterval), info.NextRun)
}

func TestWeeklyDelay(t *testing.T) {
	ctx := context.Background()
	ws, _, _ := newTestScheduler(t)

	delay, err := ws.weeklyDelay(ctx, nil)
	require.NoError(t, err)
	require.Zero(t, delay)

	store := storage.NewMemory()
	delay, err = ws.weeklyDelay(ctx, store)
	require.NoError(t, err)
	require.Zero(t, delay)

	require.NoError(t, store.InsertReport(ctx, collector.AnalysisReport{
		ID: "old", CreatedTs: testNow.Add(-10 * 24 * time.Hour).UnixMilli(), ReportType: analysis.ReportWeekly, MetricsJSON: "{}",
	}))
	delay, err = ws.weeklyDelay(ctx, store)
	require.NoError(t, err)
	require.Zero(t, delay)

	require.NoError(t, store.InsertReport(ctx, collector.AnalysisReport{
		ID: "new", CreatedTs: testNow.Add(-time.Hour).UnixMilli(), ReportType: analysis.ReportWeekly, MetricsJSON: "{}",
	}))
	delay, err = ws.weeklyDelay(ctx, store)
	require.NoError(t, err)
	require.Equal(t, WeeklyInterval-time.Hour, delay)

	_, err = ws.weeklyDelay(ctx, failingHistory{})
	require.ErrorContains(t, err, "database is locked")
	require.Error(t, ws.ScheduleWeeklyAnalysis(ctx, failingHistory{}))
	require.False(t, ws.m.IsScheduled(WeeklyAnalysisWork))
}

func TestSyncFollowsPreferences(t *testing.T) {
	ws, m, _ := newTestScheduler(t)

	p := prefs.Defaults()
	require.NoError(t, ws.Sync(p))
	require.True(t, ws.IsDataCollectionScheduled())
	require.False(t, m.IsScheduled(AutoExportWork))

	p.AutoExportEnabled = true
	require.NoError(t, ws.Sync(p))
	require.True(t, m.IsScheduled(AutoExportWork))

	p.CollectAppUsage = false
	p.CollectBattery = false
	p.AutoExportEnabled = false
	require.NoError(t, ws.Sync(p))
	require.False(t, ws.IsDataCollectionScheduled())
	require.False(t, m.IsScheduled(AutoExportWork))

	require.NoError(t, ws.ScheduleCleanup())
	require.True(t, m.IsScheduled(CleanupWork))
}
