// Package dbus exposes collected activity data on the session bus.
package dbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	godbus "github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/cptspacemanspiff/activity-tracker/internal/apperr"
	"github.com/cptspacemanspiff/activity-tracker/internal/collector"
	"github.com/cptspacemanspiff/activity-tracker/internal/prefs"
)

const (
	busName   = "org.gnome.ActivityTracker"
	objPath   = "/org/gnome/ActivityTracker"
	ifaceName = "org.gnome.ActivityTracker"
)

const (
	errInvalidArgs      = ifaceName + ".Error.InvalidArgs"
	errPermissionDenied = ifaceName + ".Error.PermissionDenied"
)

const (
	maxRange    = int64(366 * 24 * 60 * 60 * 1000)
	callTimeout = 30 * time.Second
)

const introspectXML = `
<node>
  <interface name="` + ifaceName + `">
    <method name="GetLatestReport">
      <arg direction="out" type="s" name="json"/>
    </method>
    <method name="GetReports">
      <arg direction="in" type="s" name="report_type"/>
      <arg direction="in" type="i" name="limit"/>
      <arg direction="out" type="s" name="json"/>
    </method>
    <method name="GetSessions">
      <arg direction="in" type="x" name="from_ms"/>
      <arg direction="in" type="x" name="to_ms"/>
      <arg direction="out" type="s" name="json"/>
    </method>
    <method name="GetBatteryHistory">
      <arg direction="in" type="x" name="from_ms"/>
      <arg direction="in" type="x" name="to_ms"/>
      <arg direction="out" type="s" name="json"/>
    </method>
    <method name="Export">
      <arg direction="in" type="s" name="format"/>
      <arg direction="in" type="x" name="from_ms"/>
      <arg direction="in" type="x" name="to_ms"/>
      <arg direction="in" type="b" name="anonymize"/>
      <arg direction="out" type="s" name="path"/>
    </method>
    <method name="SubmitActivity">
      <arg direction="in" type="s" name="json"/>
    </method>
    <method name="GetRecentErrors">
      <arg direction="out" type="s" name="json"/>
    </method>
  </interface>
` + introspect.IntrospectDataString + `
</node>`

// Store is the data the service reads.
type Store interface {
	LatestReport(ctx context.Context) (*collector.AnalysisReport, error)
	ReportsByType(ctx context.Context, reportType string, limit int) ([]collector.AnalysisReport, error)
	SessionsInRange(ctx context.Context, from, to int64) ([]collector.Session, error)
	BatterySamplesInRange(ctx context.Context, from, to int64) ([]collector.BatterySample, error)
}

// Exporter writes export files.
type Exporter interface {
	Export(ctx context.Context, format prefs.ExportFormat, start, end int64, anonymize bool) (string, error)
}

// ActivityRecorder records activity recognition results.
type ActivityRecorder interface {
	RecordActivity(res collector.ActivityResult) error
}

// Service exposes the activity tracker over D-Bus.
type Service struct {
	store    Store
	exporter Exporter
	recorder ActivityRecorder
	errors   *apperr.Handler
}

// NewService creates a new D-Bus service. Failed user operations are
// recorded in errors when it is non-nil.
func NewService(store Store, exporter Exporter, recorder ActivityRecorder, errors *apperr.Handler) *Service {
	return &Service{store: store, exporter: exporter, recorder: recorder, errors: errors}
}

// Register exports the service on the session bus and claims its name.
func (s *Service) Register() (*godbus.Conn, error) {
	conn, err := godbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}

	if err := conn.Export(s, objPath, ifaceName); err != nil {
		return nil, fmt.Errorf("export object: %w", err)
	}
	if err := conn.Export(introspect.Introspectable(introspectXML), objPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return nil, fmt.Errorf("export introspection: %w", err)
	}

	reply, err := conn.RequestName(busName, godbus.NameFlagDoNotQueue)
	if err != nil {
		return nil, fmt.Errorf("request name: %w", err)
	}
	if reply != godbus.RequestNameReplyPrimaryOwner {
		return nil, fmt.Errorf("name %s already taken", busName)
	}

	return conn, nil
}

// GetLatestReport returns the newest analysis report as JSON, or "null".
func (s *Service) GetLatestReport() (string, *godbus.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	r, err := s.store.LatestReport(ctx)
	if err != nil {
		return "", s.fail(err)
	}
	return marshal(r)
}

// GetReports returns reports of one type, newest first. A non-positive limit
// returns all of them.
func (s *Service) GetReports(reportType string, limit int32) (string, *godbus.Error) {
	if reportType == "" {
		return "", invalidArgs("report type is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	reports, err := s.store.ReportsByType(ctx, reportType, int(limit))
	if err != nil {
		return "", s.fail(err)
	}
	if reports == nil {
		reports = []collector.AnalysisReport{}
	}
	return marshal(reports)
}

// GetSessions returns sessions contained in [from, to] as JSON.
func (s *Service) GetSessions(fromMs, toMs int64) (string, *godbus.Error) {
	if err := validateRange(fromMs, toMs); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	sessions, err := s.store.SessionsInRange(ctx, fromMs, toMs)
	if err != nil {
		return "", s.fail(err)
	}
	if sessions == nil {
		sessions = []collector.Session{}
	}
	return marshal(sessions)
}

// GetBatteryHistory returns battery samples in [from, to) as JSON, newest
// first.
func (s *Service) GetBatteryHistory(fromMs, toMs int64) (string, *godbus.Error) {
	if err := validateRange(fromMs, toMs); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	samples, err := s.store.BatterySamplesInRange(ctx, fromMs, toMs)
	if err != nil {
		return "", s.fail(err)
	}
	if samples == nil {
		samples = []collector.BatterySample{}
	}
	return marshal(samples)
}

// Export writes an export file and returns its path.
func (s *Service) Export(format string, fromMs, toMs int64, anonymize bool) (string, *godbus.Error) {
	if err := validateExportRange(fromMs, toMs); err != nil {
		return "", err
	}
	f := prefs.ExportFormat(format)
	if f != prefs.FormatJSON && f != prefs.FormatCSV {
		return "", invalidArgs(fmt.Sprintf("unsupported format %q", format))
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	path, err := s.exporter.Export(ctx, f, fromMs, toMs, anonymize)
	if err != nil {
		return "", s.fail(err)
	}
	return path, nil
}

// SubmitActivity records an activity recognition result delivered as JSON.
func (s *Service) SubmitActivity(payload string) *godbus.Error {
	var res collector.ActivityResult
	if err := json.Unmarshal([]byte(payload), &res); err != nil {
		return invalidArgs(fmt.Sprintf("decode activity result: %v", err))
	}
	if err := s.recorder.RecordActivity(res); err != nil {
		return s.fail(err)
	}
	return nil
}

type errorView struct {
	Kind    string `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// GetRecentErrors returns the recorded user-facing errors, newest first.
func (s *Service) GetRecentErrors() (string, *godbus.Error) {
	views := []errorView{}
	if s.errors != nil {
		for _, e := range s.errors.History() {
			views = append(views, errorView{Kind: e.Kind.String(), Code: e.Code, Message: e.Error()})
		}
	}
	return marshal(views)
}

func (s *Service) fail(err error) *godbus.Error {
	if s.errors != nil {
		s.errors.Handle(err)
	}
	if apperr.IsPermission(err) {
		return godbus.NewError(errPermissionDenied, []interface{}{err.Error()})
	}
	return godbus.MakeFailedError(err)
}

func validateRange(fromMs, toMs int64) *godbus.Error {
	if err := validateExportRange(fromMs, toMs); err != nil {
		return err
	}
	if toMs-fromMs > maxRange {
		return invalidArgs("range exceeds 366 days")
	}
	return nil
}

// validateExportRange allows unbounded ranges so that everything can be
// exported at once.
func validateExportRange(fromMs, toMs int64) *godbus.Error {
	if fromMs < 0 {
		return invalidArgs("from must not be negative")
	}
	if toMs < fromMs {
		return invalidArgs("to must not be before from")
	}
	return nil
}

func invalidArgs(msg string) *godbus.Error {
	return godbus.NewError(errInvalidArgs, []interface{}{msg})
}

func marshal(v any) (string, *godbus.Error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", godbus.MakeFailedError(err)
	}
	return string(data), nil
}
