package storage

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/cptspacemanspiff/activity-tracker/internal/apperr"
	"github.com/cptspacemanspiff/activity-tracker/internal/collector"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
	})

	return db
}

func ptr[T any](v T) *T { return &v }

func TestOpenMigratesToLatest(t *testing.T) {
	db := openTestDB(t)
	v, err := db.Version(context.Background())
	if err != nil {
		t.Fatalf("Version() error = %v", err)
	}
	if v != SchemaVersion {
		t.Fatalf("Version() = %d, want %d", v, SchemaVersion)
	}
}

func TestReopenIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := db.InsertSession(ctx, collector.Session{ID: "a-1", PackageName: "a", AppLabel: "A", StartTimestamp: 1, EndTimestamp: 2, DurationMs: 1}); err != nil {
		t.Fatalf("InsertSession() error = %v", err)
	}
	db.Close()

	db, err = Open(path)
	if err != nil {
		t.Fatalf("second Open() error = %v", err)
	}
	defer db.Close()
	got, err := db.SessionByID(ctx, "a-1")
	if err != nil || got == nil {
		t.Fatalf("SessionByID() = %v, %v", got, err)
	}
}

func TestMigrationPreservesV1Sessions(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "v1.db")

	d, err := openRaw(path)
	if err != nil {
		t.Fatalf("openRaw() error = %v", err)
	}
	defer d.Close()
	if err := d.migrateTo(1); err != nil {
		t.Fatalf("migrateTo(1) error = %v", err)
	}
	if v, _ := d.Version(ctx); v != 1 {
		t.Fatalf("Version() = %d, want 1", v)
	}

	rows := []collector.Session{
		{
			ID: "org.example-1000", PackageName: "org.example", AppLabel: "Example",
			StartTimestamp: 1000, EndTimestamp: 4000, DurationMs: 3000,
			StartBatteryPct: ptr(90), EndBatteryPct: ptr(88),
			LocationLatitude: ptr(52.5), LocationLongitude: ptr(13.4),
			MetadataJSON: ptr(`{"k":"v"}`),
		},
		{
			ID: "org.bare-5000", PackageName: "org.bare", AppLabel: "org.bare",
			StartTimestamp: 5000, EndTimestamp: 5000, DurationMs: 0,
		},
	}
	for _, s := range rows {
		_, err := d.db.NamedExecContext(ctx, `INSERT INTO app_sessions (id, packageName, appLabel, startTimestamp,
			endTimestamp, durationMs, startBatteryPct, endBatteryPct, locationLatitude, locationLongitude, metadataJson)
			VALUES (:id, :packageName, :appLabel, :startTimestamp, :endTimestamp, :durationMs, :startBatteryPct,
			:endBatteryPct, :locationLatitude, :locationLongitude, :metadataJson)`, s)
		if err != nil {
			t.Fatalf("insert v1 row: %v", err)
		}
	}

	if err := d.migrateTo(2); err != nil {
		t.Fatalf("migrateTo(2) error = %v", err)
	}
	for _, want := range rows {
		got, err := d.SessionByID(ctx, want.ID)
		if err != nil {
			t.Fatalf("SessionByID(%s) error = %v", want.ID, err)
		}
		if got == nil {
			t.Fatalf("SessionByID(%s) = nil after migration", want.ID)
		}
		if got.Notes != nil {
			t.Fatalf("Notes = %q, want nil", *got.Notes)
		}
		if !reflect.DeepEqual(*got, want) {
			t.Fatalf("SessionByID(%s) = %+v, want %+v", want.ID, *got, want)
		}
	}
}

func TestDirtyMigrationIsIntegrityError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dirty.db")
	d, err := openRaw(path)
	if err != nil {
		t.Fatalf("openRaw() error = %v", err)
	}
	if err := d.migrateTo(1); err != nil {
		t.Fatalf("migrateTo(1) error = %v", err)
	}
	if _, err := d.db.Exec("UPDATE schema_migrations SET dirty = 1"); err != nil {
		t.Fatalf("mark dirty: %v", err)
	}
	d.Close()

	_, err = Open(path)
	if err == nil {
		t.Fatal("Open() error = nil, want migration error")
	}
	if !apperr.IsIntegrity(err) {
		t.Fatalf("Open() error = %v, want integrity error", err)
	}
}

func TestSessionReplaceOnConflict(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	variants := []collector.Session{
		{ID: "p-1", PackageName: "p", AppLabel: "P", StartTimestamp: 1, EndTimestamp: 10, DurationMs: 9},
		{ID: "p-1", PackageName: "p", AppLabel: "P2", StartTimestamp: 1, EndTimestamp: 20, DurationMs: 19,
			StartBatteryPct: ptr(50), EndBatteryPct: ptr(-1), Notes: ptr("note")},
		{ID: "p-1", PackageName: "p", AppLabel: "P3", StartTimestamp: 1, EndTimestamp: 1, DurationMs: 0,
			LocationLatitude: ptr(-33.9), LocationLongitude: ptr(151.2), MetadataJSON: ptr("{}")},
	}
	for i, v := range variants {
		if err := db.InsertSession(ctx, v); err != nil {
			t.Fatalf("InsertSession(%d) error = %v", i, err)
		}
		got, err := db.SessionByID(ctx, "p-1")
		if err != nil {
			t.Fatalf("SessionByID() error = %v", err)
		}
		if got == nil || !reflect.DeepEqual(*got, v) {
			t.Fatalf("after write %d SessionByID() = %+v, want %+v", i, got, v)
		}
		all, err := db.AllSessions(ctx)
		if err != nil {
			t.Fatalf("AllSessions() error = %v", err)
		}
		if len(all) != 1 {
			t.Fatalf("AllSessions() len = %d, want 1", len(all))
		}
	}
}
