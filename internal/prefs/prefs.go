// Package prefs holds the user's collection and auto-export preferences in a
// small TOML key file.
package prefs

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/cptspacemanspiff/activity-tracker/internal/config"
)

// ExportFormat is the auto-export file format.
type ExportFormat string

const (
	FormatJSON ExportFormat = "JSON"
	FormatCSV  ExportFormat = "CSV"
)

// ExportTimeRange is the auto-export data window.
type ExportTimeRange string

const (
	RangeAll         ExportTimeRange = "ALL"
	RangeLast24Hours ExportTimeRange = "LAST_24_HOURS"
)

// Preference keys as stored on disk.
const (
	KeyCollectAppUsage            = "collect_app_usage"
	KeyCollectBattery             = "collect_battery"
	KeyCollectLocation            = "collect_location"
	KeyCollectActivityRecognition = "collect_activity_recognition"
	KeyAnonymizeLocation          = "anonymize_location"
	KeyAutoExportEnabled          = "auto_export_enabled"
	KeyAutoExportFormat           = "auto_export_format"
	KeyAutoExportRange            = "auto_export_range"
	KeyAutoExportAnonymize        = "auto_export_anonymize"
)

// Preferences is a snapshot of every preference.
type Preferences struct {
	CollectAppUsage            bool            `toml:"collect_app_usage" json:"collectAppUsage"`
	CollectBattery             bool            `toml:"collect_battery" json:"collectBattery"`
	CollectLocation            bool            `toml:"collect_location" json:"collectLocation"`
	CollectActivityRecognition bool            `toml:"collect_activity_recognition" json:"collectActivityRecognition"`
	AnonymizeLocationData      bool            `toml:"anonymize_location" json:"anonymizeLocationData"`
	AutoExportEnabled          bool            `toml:"auto_export_enabled" json:"autoExportEnabled"`
	AutoExportFormat           ExportFormat    `toml:"auto_export_format" json:"autoExportFormat"`
	AutoExportRange            ExportTimeRange `toml:"auto_export_range" json:"autoExportRange"`
	AutoExportAnonymize        bool            `toml:"auto_export_anonymize" json:"autoExportAnonymize"`
}

// Defaults returns the preferences used for unset or invalid keys.
func Defaults() Preferences {
	return Preferences{
		CollectAppUsage:  true,
		CollectBattery:   true,
		AutoExportFormat: FormatJSON,
		AutoExportRange:  RangeLast24Hours,
	}
}

// HasAnyCollectionEnabled reports whether usage or battery collection is on.
func (p Preferences) HasAnyCollectionEnabled() bool {
	return p.CollectAppUsage || p.CollectBattery
}

// Store is the durable preference store. Writes are single-key and visible
// to the next Get.
type Store struct {
	path string
	log  *slog.Logger

	mu   sync.Mutex
	cur  Preferences
	subs map[chan Preferences]struct{}
}

// Open loads the preference file at path. A missing file yields defaults.
func Open(path string, logger *slog.Logger) (*Store, error) {
	s := &Store{
		path: path,
		log:  logger,
		subs: make(map[chan Preferences]struct{}),
	}
	p, err := s.read()
	if err != nil {
		return nil, err
	}
	s.cur = p
	return s, nil
}

// Get returns the current preferences.
func (s *Store) Get() Preferences {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// HasAnyCollectionEnabled reports whether usage or battery collection is on.
func (s *Store) HasAnyCollectionEnabled() bool {
	return s.Get().HasAnyCollectionEnabled()
}

func (s *Store) SetCollectAppUsage(v bool) error {
	return s.update(func(p *Preferences) { p.CollectAppUsage = v })
}

func (s *Store) SetCollectBattery(v bool) error {
	return s.update(func(p *Preferences) { p.CollectBattery = v })
}

func (s *Store) SetCollectLocation(v bool) error {
	return s.update(func(p *Preferences) { p.CollectLocation = v })
}

func (s *Store) SetCollectActivityRecognition(v bool) error {
	return s.update(func(p *Preferences) { p.CollectActivityRecognition = v })
}

func (s *Store) SetAnonymizeLocation(v bool) error {
	return s.update(func(p *Preferences) { p.AnonymizeLocationData = v })
}

func (s *Store) SetAutoExportEnabled(v bool) error {
	return s.update(func(p *Preferences) { p.AutoExportEnabled = v })
}

func (s *Store) SetAutoExportFormat(v ExportFormat) error {
	if !v.valid() {
		return fmt.Errorf("invalid export format %q", v)
	}
	return s.update(func(p *Preferences) { p.AutoExportFormat = v })
}

func (s *Store) SetAutoExportRange(v ExportTimeRange) error {
	if !v.valid() {
		return fmt.Errorf("invalid export range %q", v)
	}
	return s.update(func(p *Preferences) { p.AutoExportRange = v })
}

func (s *Store) SetAutoExportAnonymize(v bool) error {
	return s.update(func(p *Preferences) { p.AutoExportAnonymize = v })
}

// Set updates one preference from its string form.
func (s *Store) Set(key, value string) error {
	switch key {
	case KeyAutoExportFormat:
		return s.SetAutoExportFormat(ExportFormat(value))
	case KeyAutoExportRange:
		return s.SetAutoExportRange(ExportTimeRange(value))
	}
	setter, ok := map[string]func(bool) error{
		KeyCollectAppUsage:            s.SetCollectAppUsage,
		KeyCollectBattery:             s.SetCollectBattery,
		KeyCollectLocation:            s.SetCollectLocation,
		KeyCollectActivityRecognition: s.SetCollectActivityRecognition,
		KeyAnonymizeLocation:          s.SetAnonymizeLocation,
		KeyAutoExportEnabled:          s.SetAutoExportEnabled,
		KeyAutoExportAnonymize:        s.SetAutoExportAnonymize,
	}[key]
	if !ok {
		return fmt.Errorf("unknown preference %q", key)
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return setter(b)
}

// Keys lists every preference key in sorted order.
func Keys() []string {
	keys := []string{
		KeyCollectAppUsage, KeyCollectBattery, KeyCollectLocation,
		KeyCollectActivityRecognition, KeyAnonymizeLocation, KeyAutoExportEnabled,
		KeyAutoExportFormat, KeyAutoExportRange, KeyAutoExportAnonymize,
	}
	sort.Strings(keys)
	return keys
}

// Subscribe returns a channel that holds the current preferences and then
// receives the latest preferences after every change. Intermediate values
// are dropped when the reader is slow. The returned func unsubscribes.
func (s *Store) Subscribe() (<-chan Preferences, func()) {
	ch := make(chan Preferences, 1)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	ch <- s.cur
	s.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			s.mu.Unlock()
		})
	}
}

func (s *Store) update(fn func(p *Preferences)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.cur
	fn(&next)
	if next == s.cur {
		return nil
	}
	if err := s.write(next); err != nil {
		return err
	}
	s.cur = next
	s.notifyLocked()
	s.log.Debug("preferences updated", "topic", "prefs")
	return nil
}

// reload re-reads the file and notifies subscribers if anything changed.
func (s *Store) reload() error {
	p, err := s.read()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p == s.cur {
		return nil
	}
	s.cur = p
	s.notifyLocked()
	s.log.Info("preferences reloaded", "topic", "prefs")
	return nil
}

func (s *Store) notifyLocked() {
	for ch := range s.subs {
		// Replace any undelivered value so readers always see the latest.
		select {
		case <-ch:
		default:
		}
		ch <- s.cur
	}
}

func (s *Store) read() (Preferences, error) {
	p := Defaults()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return p, fmt.Errorf("read preferences: %w", err)
	}
	var raw map[string]interface{}
	if err := toml.Unmarshal(data, &raw); err != nil {
		s.log.Warn("preferences file unreadable, using defaults", "topic", "prefs", "err", err)
		return p, nil
	}
	s.apply(&p, raw)
	return p, nil
}

// apply copies each well-typed key of raw into p; other keys keep defaults.
func (s *Store) apply(p *Preferences, raw map[string]interface{}) {
	bools := map[string]*bool{
		KeyCollectAppUsage:            &p.CollectAppUsage,
		KeyCollectBattery:             &p.CollectBattery,
		KeyCollectLocation:            &p.CollectLocation,
		KeyCollectActivityRecognition: &p.CollectActivityRecognition,
		KeyAnonymizeLocation:          &p.AnonymizeLocationData,
		KeyAutoExportEnabled:          &p.AutoExportEnabled,
		KeyAutoExportAnonymize:        &p.AutoExportAnonymize,
	}
	for key, dst := range bools {
		v, ok := raw[key]
		if !ok {
			continue
		}
		b, ok := v.(bool)
		if !ok {
			s.log.Warn("invalid preference value", "topic", "prefs", "key", key)
			continue
		}
		*dst = b
	}
	if v, ok := raw[KeyAutoExportFormat].(string); ok {
		if f := ExportFormat(v); f.valid() {
			p.AutoExportFormat = f
		} else {
			s.log.Warn("invalid preference value", "topic", "prefs", "key", KeyAutoExportFormat)
		}
	}
	if v, ok := raw[KeyAutoExportRange].(string); ok {
		if r := ExportTimeRange(v); r.valid() {
			p.AutoExportRange = r
		} else {
			s.log.Warn("invalid preference value", "topic", "prefs", "key", KeyAutoExportRange)
		}
	}
}

func (s *Store) write(p Preferences) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(p); err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	if err := config.WriteFileAtomic(s.path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write preferences: %w", err)
	}
	return nil
}

func (f ExportFormat) valid() bool {
	return f == FormatJSON || f == FormatCSV
}

func (r ExportTimeRange) valid() bool {
	return r == RangeAll || r == RangeLast24Hours
}
