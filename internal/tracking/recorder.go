package tracking

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/cptspacemanspiff/activity-tracker/internal/apperr"
	"github.com/cptspacemanspiff/activity-tracker/internal/collector"
	"github.com/cptspacemanspiff/activity-tracker/internal/prefs"
)

const recordTimeout = 10 * time.Second

// EventStore is the persistence device events are written to.
type EventStore interface {
	InsertDeviceEvent(ctx context.Context, e collector.DeviceEvent) error
}

// PreferenceReader returns the current preferences.
type PreferenceReader interface {
	Get() prefs.Preferences
}

// DeviceRecorder persists device events off the delivering goroutine.
// Failures are logged and never retried.
type DeviceRecorder struct {
	store EventStore
	prefs PreferenceReader
	perms collector.PermissionGate
	clock quartz.Clock
	log   *slog.Logger

	wg sync.WaitGroup
}

func NewDeviceRecorder(store EventStore, p PreferenceReader, perms collector.PermissionGate, clock quartz.Clock, logger *slog.Logger) *DeviceRecorder {
	return &DeviceRecorder{store: store, prefs: p, perms: perms, clock: clock, log: logger}
}

// Record stores e in the background and returns immediately.
func (r *DeviceRecorder) Record(e collector.DeviceEvent) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := r.store.InsertDeviceEvent(ctx, e); err != nil {
			r.log.Warn("store device event", "topic", "device", "type", e.Type, "err", err)
			return
		}
		r.log.Debug("device event", "topic", "device", "type", e.Type, "id", e.ID)
	}()
}

// RecordActivity records an activity recognition result. It is a no-op when
// activity collection is disabled and fails with a permission error when
// activity recognition is not granted.
func (r *DeviceRecorder) RecordActivity(res collector.ActivityResult) error {
	if !r.prefs.Get().CollectActivityRecognition {
		return nil
	}
	if !r.perms.Granted(collector.PermissionActivityRecognition) {
		return apperr.ErrActivityRecognitionDenied
	}
	e, ok := collector.ActivityEventFromResult(res, r.clock.Now().UnixMilli())
	if !ok {
		return nil
	}
	r.Record(e)
	return nil
}

// Wait blocks until every pending write has finished.
func (r *DeviceRecorder) Wait() {
	r.wg.Wait()
}
