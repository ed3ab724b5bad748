package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/require"

	"github.com/cptspacemanspiff/activity-tracker/internal/apperr"
	"github.com/cptspacemanspiff/activity-tracker/internal/collector"
	"github.com/cptspacemanspiff/activity-tracker/internal/prefs"
	"github.com/cptspacemanspiff/activity-tracker/internal/storage"
)

func ptr[T any](v T) *T { return &v }

func testSessions() []collector.Session {
	return []collector.Session{
		{
			ID: "org.mozilla.firefox-1000", PackageName: "org.mozilla.firefox", AppLabel: `Firefox "Nightly"`,
			StartTimestamp: 1000, EndTimestamp: 4000, DurationMs: 3000,
			StartBatteryPct: ptr(80), EndBatteryPct: ptr(79),
			LocationLatitude: ptr(52.52), LocationLongitude: ptr(13.405),
		},
		{
			ID: "org.gnome.Nautilus-5000", PackageName: "org.gnome.Nautilus", AppLabel: "Files",
			StartTimestamp: 5000, EndTimestamp: 6000, DurationMs: 1000,
		},
	}
}

func TestWriteSessionsCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSessionsCSV(&buf, testSessions(), false))

	want := CSVHeader + "\n" +
		`org.mozilla.firefox-1000,org.mozilla.firefox,"Firefox ""Nightly""",1000,4000,3000,80,79,52.52,13.405` + "\n" +
		`org.gnome.Nautilus-5000,org.gnome.Nautilus,"Files",5000,6000,1000,,,,` + "\n"
	require.Equal(t, want, buf.String())
	require.Len(t, strings.Split(CSVHeader, ","), 10)
}

func TestWriteSessionsCSVAnonymized(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSessionsCSV(&buf, testSessions()[:1], true))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	fields := strings.Split(lines[1], ",")
	require.Equal(t, AnonymizePackageName("org.mozilla.firefox")+"-1000", fields[0])
	require.Equal(t, AnonymizePackageName("org.mozilla.firefox"), fields[1])
	require.NotContains(t, lines[1], "mozilla")
	require.Equal(t, `"App"`, fields[2])
	require.Equal(t, "80", fields[6])
	require.Empty(t, fields[8])
	require.Empty(t, fields[9])
}

func TestWriteSessionsCSVEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSessionsCSV(&buf, nil, false))
	require.Equal(t, CSVHeader+"\n", buf.String())
}

func TestAnonymizePackageNameStable(t *testing.T) {
	a := AnonymizePackageName("org.example.app")
	require.Equal(t, a, AnonymizePackageName("org.example.app"))
	require.NotEqual(t, a, AnonymizePackageName("org.example.other"))
	require.True(t, strings.HasPrefix(a, "app."))
	require.NotContains(t, a, "example")
}

func TestBuildExportData(t *testing.T) {
	samples := []collector.BatterySample{{ID: "battery-2000", Timestamp: 2000, LevelPercent: 80, ChargingState: collector.Discharging, Temperature: ptr(30.5)}}
	details := `{"state":70}`
	events := []collector.DeviceEvent{{ID: "device-SCREEN_ON-3000", Type: collector.EventScreenOn, Timestamp: 3000, DetailsJSON: &details}}

	d := BuildExportData(testSessions(), samples, events, 0, 10000, 12345, true)
	require.EqualValues(t, 12345, d.ExportTimestamp)
	require.Len(t, d.Sessions, 2)
	for _, s := range d.Sessions {
		require.Equal(t, AnonymousLabel, s.AppLabel)
		require.Nil(t, s.LocationLatitude)
		require.Nil(t, s.LocationLongitude)
		require.True(t, strings.HasPrefix(s.PackageName, "app."))
		require.Equal(t, s.PackageName+"-"+strconv.FormatInt(s.StartTimestamp, 10), s.ID)
	}
	require.Equal(t, "DISCHARGING", d.BatterySamples[0].ChargingState)

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, d))
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	for _, key := range []string{"exportTimestamp", "startTimestamp", "endTimestamp", "sessions", "batterySamples", "deviceEvents"} {
		require.Contains(t, decoded, key)
	}

	empty := BuildExportData(nil, nil, nil, 0, 1, 2, false)
	buf.Reset()
	require.NoError(t, WriteJSON(&buf, empty))
	require.Contains(t, buf.String(), `"sessions": []`)
}

func TestRangeFor(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	start, end := RangeFor(prefs.RangeAll, now)
	require.Zero(t, start)
	require.Equal(t, now.UnixMilli(), end)

	start, end = RangeFor(prefs.RangeLast24Hours, now)
	require.Equal(t, now.Add(-24*time.Hour).UnixMilli(), start)
	require.Equal(t, now.UnixMilli(), end)
}

func newTestExporter(t *testing.T, store Store) (*Exporter, string) {
	t.Helper()
	clock := quartz.NewMock(t)
	clock.Set(time.Date(2026, 5, 1, 12, 30, 45, 0, time.UTC))
	dir := filepath.Join(t.TempDir(), "exports")
	return NewExporter(store, dir, clock, slog.New(slog.NewTextHandler(io.Discard, nil))), dir
}

func TestExporterWritesFiles(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	require.NoError(t, store.InsertSessions(ctx, testSessions()))
	exp, dir := newTestExporter(t, store)

	path, err := exp.Export(ctx, prefs.FormatCSV, 0, 10000, false)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "activity_export_20260501_123045.csv"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(data), CSVHeader+"\n"))
	require.Equal(t, 3, strings.Count(string(data), "\n"))

	path, err = exp.Export(ctx, prefs.FormatJSON, 0, 10000, true)
	require.NoError(t, err)
	require.Equal(t, ".json", filepath.Ext(path))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	var d Data
	require.NoError(t, json.Unmarshal(data, &d))
	require.Len(t, d.Sessions, 2)
	require.Equal(t, AnonymousLabel, d.Sessions[0].AppLabel)

	_, err = exp.Export(ctx, "XML", 0, 1, false)
	require.Error(t, err)
}

type failingStore struct{ err error }

func (f failingStore) SessionsInRange(context.Context, int64, int64) ([]collector.Session, error) {
	return nil, f.err
}

func (f failingStore) BatterySamplesInRange(context.Context, int64, int64) ([]collector.BatterySample, error) {
	return nil, f.err
}

func (f failingStore) DeviceEventsInRange(context.Context, int64, int64) ([]collector.DeviceEvent, error) {
	return nil, f.err
}

func TestExporterErrorsCarryCause(t *testing.T) {
	cause := errors.New("database is locked")
	exp, _ := newTestExporter(t, failingStore{err: cause})

	_, err := exp.ExportJSON(context.Background(), 0, 1, false)
	require.ErrorIs(t, err, cause)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, apperr.KindUnknown, appErr.Kind)

	corrupt := apperr.CorruptionError(cause)
	exp, _ = newTestExporter(t, failingStore{err: corrupt})
	_, err = exp.ExportSessionsCSV(context.Background(), 0, 1, false)
	require.True(t, apperr.IsIntegrity(err))
}
