package export

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/coder/quartz"

	"github.com/cptspacemanspiff/activity-tracker/internal/apperr"
	"github.com/cptspacemanspiff/activity-tracker/internal/collector"
	"github.com/cptspacemanspiff/activity-tracker/internal/config"
	"github.com/cptspacemanspiff/activity-tracker/internal/prefs"
)

// Store is the persistence an Exporter reads from.
type Store interface {
	SessionsInRange(ctx context.Context, from, to int64) ([]collector.Session, error)
	BatterySamplesInRange(ctx context.Context, from, to int64) ([]collector.BatterySample, error)
	DeviceEventsInRange(ctx context.Context, from, to int64) ([]collector.DeviceEvent, error)
}

// Exporter writes export files into a directory.
type Exporter struct {
	store Store
	dir   string
	clock quartz.Clock
	log   *slog.Logger
}

func NewExporter(store Store, dir string, clock quartz.Clock, logger *slog.Logger) *Exporter {
	return &Exporter{store: store, dir: dir, clock: clock, log: logger}
}

// Dir returns the export directory.
func (e *Exporter) Dir() string { return e.dir }

// ExportJSON writes sessions, battery samples and device events in
// [start, end] to a new JSON file and returns its path.
func (e *Exporter) ExportJSON(ctx context.Context, start, end int64, anonymize bool) (string, error) {
	sessions, err := e.store.SessionsInRange(ctx, start, end)
	if err != nil {
		return "", failed("load sessions", err)
	}
	samples, err := e.store.BatterySamplesInRange(ctx, start, end)
	if err != nil {
		return "", failed("load battery samples", err)
	}
	events, err := e.store.DeviceEventsInRange(ctx, start, end)
	if err != nil {
		return "", failed("load device events", err)
	}

	now := e.clock.Now()
	var buf bytes.Buffer
	if err := WriteJSON(&buf, BuildExportData(sessions, samples, events, start, end, now.UnixMilli(), anonymize)); err != nil {
		return "", failed("encode export", err)
	}
	return e.write(Filename(now, "json"), buf.Bytes(), len(sessions))
}

// ExportSessionsCSV writes sessions in [start, end] to a new CSV file and
// returns its path.
func (e *Exporter) ExportSessionsCSV(ctx context.Context, start, end int64, anonymize bool) (string, error) {
	sessions, err := e.store.SessionsInRange(ctx, start, end)
	if err != nil {
		return "", failed("load sessions", err)
	}
	var buf bytes.Buffer
	if err := WriteSessionsCSV(&buf, sessions, anonymize); err != nil {
		return "", failed("encode export", err)
	}
	return e.write(Filename(e.clock.Now(), "csv"), buf.Bytes(), len(sessions))
}

// Export dispatches on format.
func (e *Exporter) Export(ctx context.Context, format prefs.ExportFormat, start, end int64, anonymize bool) (string, error) {
	switch format {
	case prefs.FormatJSON:
		return e.ExportJSON(ctx, start, end, anonymize)
	case prefs.FormatCSV:
		return e.ExportSessionsCSV(ctx, start, end, anonymize)
	default:
		return "", apperr.Unknown(fmt.Sprintf("unsupported export format %q", format), nil)
	}
}

func (e *Exporter) write(name string, data []byte, sessions int) (string, error) {
	path := filepath.Join(e.dir, name)
	if err := config.WriteFileAtomic(path, data, 0o644); err != nil {
		return "", failed("write export", err)
	}
	e.log.Info("export written", "topic", "export", "path", path, "sessions", sessions, "bytes", len(data))
	return path, nil
}

// failed keeps typed errors and wraps everything else as unknown.
func failed(op string, err error) error {
	if e := apperr.From(err); e.Kind != apperr.KindUnknown {
		return fmt.Errorf("%s: %w", op, e)
	}
	return apperr.Unknown("export failed: "+op, err)
}
