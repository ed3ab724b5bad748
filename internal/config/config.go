package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	minServiceIntervalSeconds  = 1
	maxServiceIntervalSeconds  = 3600
	minPeriodicIntervalMinutes = 15
	maxPeriodicIntervalMinutes = 1440
	minLookbackMinutes         = 1
	maxLookbackMinutes         = 1440
	minBatteryLowPercent       = 0
	maxBatteryLowPercent       = 100
	minRetentionDays           = 1
	maxRetentionDays           = 3650
	minCleanupIntervalHours    = 1
	maxCleanupIntervalHours    = 720
)

type Config struct {
	Storage     StorageConfig     `toml:"storage"`
	Sources     SourcesConfig     `toml:"sources"`
	Collection  CollectionConfig  `toml:"collection"`
	Cleanup     CleanupConfig     `toml:"cleanup"`
	Location    LocationConfig    `toml:"location"`
	Permissions PermissionsConfig `toml:"permissions"`
	Metrics     MetricsConfig     `toml:"metrics"`
}

type StorageConfig struct {
	DBPath    string `toml:"db_path"`
	PrefsPath string `toml:"prefs_path"`
	ExportDir string `toml:"export_dir"`
}

type SourcesConfig struct {
	UsageLogPath    string   `toml:"usage_log_path"`
	ApplicationDirs []string `toml:"application_dirs"`
}

type CollectionConfig struct {
	ServiceIntervalSeconds  int `toml:"service_interval_seconds"`
	PeriodicIntervalMinutes int `toml:"periodic_interval_minutes"`
	LookbackMinutes         int `toml:"lookback_minutes"`
	BatteryLowPercent       int `toml:"battery_low_percent"`
}

type CleanupConfig struct {
	RetentionDays int `toml:"retention_days"`
	IntervalHours int `toml:"interval_hours"`
}

type LocationConfig struct {
	Enabled   bool    `toml:"enabled"`
	Latitude  float64 `toml:"latitude"`
	Longitude float64 `toml:"longitude"`
}

type PermissionsConfig struct {
	ActivityRecognition bool `toml:"activity_recognition"`
}

type MetricsConfig struct {
	// ListenAddr serves /metrics when non-empty.
	ListenAddr string `toml:"listen_addr"`
}

// DataDir is $XDG_DATA_HOME/activity-tracker, falling back to
// ~/.local/share/activity-tracker.
func DataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); filepath.IsAbs(dir) {
		return filepath.Join(dir, "activity-tracker")
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "/var/lib/activity-tracker"
	}
	return filepath.Join(home, ".local", "share", "activity-tracker")
}

// DefaultPath is $XDG_CONFIG_HOME/activity-tracker/config.toml.
func DefaultPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); filepath.IsAbs(dir) {
		return filepath.Join(dir, "activity-tracker", "config.toml")
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "/etc/activity-tracker/config.toml"
	}
	return filepath.Join(home, ".config", "activity-tracker", "config.toml")
}

func DefaultConfig() *Config {
	dataDir := DataDir()
	return &Config{
		Storage: StorageConfig{
			DBPath:    filepath.Join(dataDir, "activity.db"),
			PrefsPath: filepath.Join(dataDir, "preferences.toml"),
			ExportDir: filepath.Join(dataDir, "exports"),
		},
		Sources: SourcesConfig{
			UsageLogPath: filepath.Join(dataDir, "usage.jsonl"),
			ApplicationDirs: []string{
				"/usr/share/applications",
				"/usr/local/share/applications",
				"/var/lib/flatpak/exports/share/applications",
			},
		},
		Collection: CollectionConfig{
			ServiceIntervalSeconds:  60,
			PeriodicIntervalMinutes: 15,
			LookbackMinutes:         60,
			BatteryLowPercent:       15,
		},
		Cleanup: CleanupConfig{
			RetentionDays: 30,
			IntervalHours: 24,
		},
	}
}

// Load reads the TOML file at path over DefaultConfig.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return NormalizeAndValidate(cfg)
}

// LoadOrDefault is Load, except a missing file yields DefaultConfig.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return NormalizeAndValidate(DefaultConfig())
	}
	return cfg, err
}

func NormalizeAndValidate(cfg *Config) (*Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}

	sanitized := *cfg
	sanitized.Sources.ApplicationDirs = append([]string(nil), cfg.Sources.ApplicationDirs...)

	paths := []struct {
		name  string
		value *string
	}{
		{"storage.db_path", &sanitized.Storage.DBPath},
		{"storage.prefs_path", &sanitized.Storage.PrefsPath},
		{"storage.export_dir", &sanitized.Storage.ExportDir},
		{"sources.usage_log_path", &sanitized.Sources.UsageLogPath},
	}
	for _, p := range paths {
		cleaned, err := sanitizePath(p.name, *p.value)
		if err != nil {
			return nil, err
		}
		*p.value = cleaned
	}
	for i, dir := range sanitized.Sources.ApplicationDirs {
		cleaned, err := sanitizePath("sources.application_dirs", dir)
		if err != nil {
			return nil, err
		}
		sanitized.Sources.ApplicationDirs[i] = cleaned
	}

	ranges := []struct {
		name       string
		value      int
		minV, maxV int
	}{
		{"collection.service_interval_seconds", sanitized.Collection.ServiceIntervalSeconds, minServiceIntervalSeconds, maxServiceIntervalSeconds},
		{"collection.periodic_interval_minutes", sanitized.Collection.PeriodicIntervalMinutes, minPeriodicIntervalMinutes, maxPeriodicIntervalMinutes},
		{"collection.lookback_minutes", sanitized.Collection.LookbackMinutes, minLookbackMinutes, maxLookbackMinutes},
		{"collection.battery_low_percent", sanitized.Collection.BatteryLowPercent, minBatteryLowPercent, maxBatteryLowPercent},
		{"cleanup.retention_days", sanitized.Cleanup.RetentionDays, minRetentionDays, maxRetentionDays},
		{"cleanup.interval_hours", sanitized.Cleanup.IntervalHours, minCleanupIntervalHours, maxCleanupIntervalHours},
	}
	for _, r := range ranges {
		if err := validateRange(r.name, r.value, r.minV, r.maxV); err != nil {
			return nil, err
		}
	}

	if sanitized.Location.Enabled {
		if sanitized.Location.Latitude < -90 || sanitized.Location.Latitude > 90 {
			return nil, fmt.Errorf("location.latitude must be between -90 and 90, got %v", sanitized.Location.Latitude)
		}
	}
	sanitized.Metrics.ListenAddr = strings.TrimSpace(sanitized.Metrics.ListenAddr)

	return &sanitized, nil
}

func Save(path string, cfg *Config) error {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return fmt.Errorf("config path must not be empty")
	}

	sanitized, err := NormalizeAndValidate(cfg)
	if err != nil {
		return err
	}

	var data bytes.Buffer
	if err := toml.NewEncoder(&data).Encode(sanitized); err != nil {
		return fmt.Errorf("encode config TOML: %w", err)
	}

	return WriteFileAtomic(trimmedPath, data.Bytes(), 0o644)
}

// WriteFileAtomic replaces path with data via a temp file rename in the
// same directory.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmpFile.Chmod(perm); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace file: %w", err)
	}
	tmpPath = ""

	return nil
}

func sanitizePath(name, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%s must not be empty", name)
	}
	cleaned := filepath.Clean(trimmed)
	if !filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("%s must be an absolute path, got %q", name, value)
	}
	return cleaned, nil
}

func validateRange(name string, value, min, max int) error {
	if value < min || value > max {
		return fmt.Errorf("%s must be between %d and %d, got %d", name, min, max, value)
	}

	return nil
}
