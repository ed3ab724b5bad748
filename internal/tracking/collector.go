// Package tracking samples usage, battery and device state into the store.
package tracking

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"time"

	"github.com/coder/quartz"

	"github.com/cptspacemanspiff/activity-tracker/internal/apperr"
	"github.com/cptspacemanspiff/activity-tracker/internal/collector"
	"github.com/cptspacemanspiff/activity-tracker/internal/prefs"
)

// DefaultLookback is the usage window of a data snapshot.
const DefaultLookback = time.Hour

// Store is the persistence the collector writes to.
type Store interface {
	InsertSessions(ctx context.Context, sessions []collector.Session) error
	InsertBatterySample(ctx context.Context, s collector.BatterySample) error
}

// Sources are the OS collaborators a DataCollector samples. Location and
// Labels may be nil.
type Sources struct {
	Usage       collector.UsageEventSource
	Battery     collector.BatteryReader
	Location    collector.LocationProvider
	Labels      collector.LabelResolver
	Permissions collector.PermissionGate
}

// DataCollector turns usage events and battery reads into persisted
// sessions and samples.
type DataCollector struct {
	src      Sources
	store    Store
	clock    quartz.Clock
	lookback time.Duration
	log      *slog.Logger
}

func NewDataCollector(src Sources, store Store, clock quartz.Clock, lookback time.Duration, logger *slog.Logger) *DataCollector {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return &DataCollector{src: src, store: store, clock: clock, lookback: lookback, log: logger}
}

// CollectUsageData correlates the usage events in [start, end) into sessions
// and stores them in one batch. It returns the number of sessions written.
// Disabled collection or a missing usage-stats grant is a no-op.
func (c *DataCollector) CollectUsageData(ctx context.Context, start, end int64, p prefs.Preferences) (int, error) {
	if !p.CollectAppUsage {
		return 0, nil
	}
	if !c.src.Permissions.Granted(collector.PermissionUsageStats) {
		c.log.Debug("usage stats not granted, skipping", "topic", "usage")
		return 0, nil
	}

	// One location fix serves the whole batch.
	var loc *collector.Location
	if p.CollectLocation && !p.AnonymizeLocationData {
		loc = c.lastLocation(ctx)
	}
	var startPct *int
	if p.CollectBattery {
		startPct = c.batteryPercent(ctx)
	}

	events, err := c.src.Usage.QueryEvents(ctx, start, end)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return 0, &apperr.Error{
				Kind:    apperr.KindPermission,
				Code:    apperr.CodeUsageStatsDenied,
				Message: apperr.ErrUsageStatsNotGranted.Message,
				Cause:   err,
			}
		}
		return 0, err
	}
	intervals := collector.CorrelateSessions(events)
	if len(intervals) == 0 {
		return 0, nil
	}

	var endPct *int
	if p.CollectBattery {
		endPct = c.batteryPercent(ctx)
	}

	sessions := make([]collector.Session, 0, len(intervals))
	for _, iv := range intervals {
		s := collector.Session{
			ID:              collector.SessionID(iv.PackageName, iv.Start),
			PackageName:     iv.PackageName,
			AppLabel:        collector.ResolveLabel(c.src.Labels, iv.PackageName),
			StartTimestamp:  iv.Start,
			EndTimestamp:    iv.End,
			DurationMs:      iv.End - iv.Start,
			StartBatteryPct: startPct,
			EndBatteryPct:   endPct,
		}
		if loc != nil {
			lat, lng := loc.Latitude, loc.Longitude
			s.LocationLatitude, s.LocationLongitude = &lat, &lng
		}
		sessions = append(sessions, s)
	}
	if err := c.store.InsertSessions(ctx, sessions); err != nil {
		return 0, err
	}
	c.log.Info("sessions collected", "topic", "usage", "events", len(events), "sessions", len(sessions))
	return len(sessions), nil
}

// CollectBatteryData stores one battery sample. It returns nil when battery
// collection is disabled or the device has no battery.
func (c *DataCollector) CollectBatteryData(ctx context.Context, p prefs.Preferences) (*collector.BatterySample, error) {
	if !p.CollectBattery {
		return nil, nil
	}
	r, err := c.src.Battery.ReadBattery(ctx)
	if err != nil {
		if errors.Is(err, collector.ErrNoBattery) {
			c.log.Debug("no battery present", "topic", "battery")
			return nil, nil
		}
		e := apperr.ServiceUnavailable("battery")
		e.Cause = err
		return nil, e
	}
	sample := collector.BatterySampleFromReading(r, c.clock.Now().UnixMilli())
	if err := c.store.InsertBatterySample(ctx, sample); err != nil {
		return nil, err
	}
	c.log.Info("sample", "topic", "battery",
		"level_pct", sample.LevelPercent,
		"state", sample.ChargingState)
	return &sample, nil
}

// CollectDataSnapshot stores the sessions of the lookback window ending now
// and a battery sample. A failure of one half does not skip the other; the
// errors are joined.
func (c *DataCollector) CollectDataSnapshot(ctx context.Context, p prefs.Preferences) error {
	end := c.clock.Now().UnixMilli()
	_, usageErr := c.CollectUsageData(ctx, end-c.lookback.Milliseconds(), end, p)
	_, batteryErr := c.CollectBatteryData(ctx, p)
	return errors.Join(usageErr, batteryErr)
}

func (c *DataCollector) lastLocation(ctx context.Context) *collector.Location {
	if c.src.Location == nil || !c.src.Permissions.Granted(collector.PermissionLocation) {
		return nil
	}
	loc, err := c.src.Location.LastLocation(ctx)
	if err != nil {
		c.log.Debug("location unavailable", "topic", "usage", "err", err)
		return nil
	}
	return loc
}

func (c *DataCollector) batteryPercent(ctx context.Context) *int {
	r, err := c.src.Battery.ReadBattery(ctx)
	if err != nil {
		return nil
	}
	pct := collector.LevelPercent(r.Level, r.Scale)
	return &pct
}
