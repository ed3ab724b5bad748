package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")
	cfg := DefaultConfig()

	if cfg.Storage.DBPath != "/data/activity-tracker/activity.db" {
		t.Fatalf("unexpected DBPath: %q", cfg.Storage.DBPath)
	}
	if cfg.Storage.PrefsPath != "/data/activity-tracker/preferences.toml" {
		t.Fatalf("unexpected PrefsPath: %q", cfg.Storage.PrefsPath)
	}
	if cfg.Sources.UsageLogPath != "/data/activity-tracker/usage.jsonl" {
		t.Fatalf("unexpected UsageLogPath: %q", cfg.Sources.UsageLogPath)
	}
	if cfg.Collection.ServiceIntervalSeconds != 60 {
		t.Fatalf("unexpected ServiceIntervalSeconds: %d", cfg.Collection.ServiceIntervalSeconds)
	}
	if cfg.Collection.PeriodicIntervalMinutes != 15 {
		t.Fatalf("unexpected PeriodicIntervalMinutes: %d", cfg.Collection.PeriodicIntervalMinutes)
	}
	if cfg.Collection.LookbackMinutes != 60 {
		t.Fatalf("unexpected LookbackMinutes: %d", cfg.Collection.LookbackMinutes)
	}
	if cfg.Cleanup.RetentionDays != 30 {
		t.Fatalf("unexpected RetentionDays: %d", cfg.Cleanup.RetentionDays)
	}
	if cfg.Cleanup.IntervalHours != 24 {
		t.Fatalf("unexpected IntervalHours: %d", cfg.Cleanup.IntervalHours)
	}
	if cfg.Location.Enabled || cfg.Permissions.ActivityRecognition || cfg.Metrics.ListenAddr != "" {
		t.Fatalf("optional features enabled by default: %+v", cfg)
	}
	if _, err := NormalizeAndValidate(cfg); err != nil {
		t.Fatalf("NormalizeAndValidate(DefaultConfig()) error = %v", err)
	}
}

func TestLoad_OverridesAndKeepsDefaults(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")
	path := writeTempConfig(t, `
[storage]
db_path = "/tmp/test.db"

[collection]
service_interval_seconds = 30

[location]
enabled = true
latitude = 52.52
longitude = 13.405

[metrics]
listen_addr = " 127.0.0.1:9464 "
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Storage.DBPath != "/tmp/test.db" {
		t.Fatalf("DBPath = %q, want /tmp/test.db", cfg.Storage.DBPath)
	}
	if cfg.Storage.PrefsPath != "/data/activity-tracker/preferences.toml" {
		t.Fatalf("PrefsPath = %q, want default", cfg.Storage.PrefsPath)
	}
	if cfg.Collection.ServiceIntervalSeconds != 30 {
		t.Fatalf("ServiceIntervalSeconds = %d, want 30", cfg.Collection.ServiceIntervalSeconds)
	}
	if cfg.Collection.PeriodicIntervalMinutes != 15 {
		t.Fatalf("PeriodicIntervalMinutes = %d, want default 15", cfg.Collection.PeriodicIntervalMinutes)
	}
	if !cfg.Location.Enabled || cfg.Location.Latitude != 52.52 {
		t.Fatalf("Location = %+v, want enabled 52.52", cfg.Location)
	}
	if cfg.Metrics.ListenAddr != "127.0.0.1:9464" {
		t.Fatalf("ListenAddr = %q, want trimmed", cfg.Metrics.ListenAddr)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err == nil {
		t.Fatal("Load() error = nil, want missing file error")
	}
	if !os.IsNotExist(err) {
		t.Fatalf("Load() error = %v, want not-exist error", err)
	}

	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.Collection.ServiceIntervalSeconds != 60 {
		t.Fatalf("LoadOrDefault() = %+v, want defaults", cfg.Collection)
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := writeTempConfig(t, "not = [valid")
	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() error = nil, want TOML parse error")
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name       string
		contents   string
		wantErrSub string
	}{
		{
			name:       "service interval range",
			contents:   "[collection]\nservice_interval_seconds = 0\n",
			wantErrSub: "collection.service_interval_seconds must be between 1 and 3600",
		},
		{
			name:       "periodic interval floor",
			contents:   "[collection]\nperiodic_interval_minutes = 5\n",
			wantErrSub: "collection.periodic_interval_minutes must be between 15 and 1440",
		},
		{
			name:       "battery low percent",
			contents:   "[collection]\nbattery_low_percent = 101\n",
			wantErrSub: "collection.battery_low_percent",
		},
		{
			name:       "retention days",
			contents:   "[cleanup]\nretention_days = 0\n",
			wantErrSub: "cleanup.retention_days must be between 1 and 3650",
		},
		{
			name:       "relative db path",
			contents:   "[storage]\ndb_path = \"data.db\"\n",
			wantErrSub: "storage.db_path must be an absolute path",
		},
		{
			name:       "latitude out of range",
			contents:   "[location]\nenabled = true\nlatitude = 95.0\n",
			wantErrSub: "location.latitude",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTempConfig(t, tt.contents)

			_, err := Load(path)
			if err == nil {
				t.Fatalf("Load() error = nil, want error containing %q", tt.wantErrSub)
			}
			if !strings.Contains(err.Error(), tt.wantErrSub) {
				t.Fatalf("Load() error = %q, want contains %q", err.Error(), tt.wantErrSub)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := DefaultConfig()
	cfg.Storage.DBPath = "/tmp/x/../roundtrip.db"
	cfg.Cleanup.RetentionDays = 7

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want, _ := NormalizeAndValidate(cfg)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Load() = %+v, want %+v", got, want)
	}
	if got.Storage.DBPath != "/tmp/roundtrip.db" {
		t.Fatalf("DBPath = %q, want cleaned", got.Storage.DBPath)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("dir has %d entries, want only the config file", len(entries))
	}
}
