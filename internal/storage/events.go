package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/cptspacemanspiff/activity-tracker/internal/collector"
)

const eventColumns = "id, type, timestamp, detailsJson"

const insertDeviceEvent = `INSERT OR REPLACE INTO device_events (` + eventColumns + `)
	VALUES (:id, :type, :timestamp, :detailsJson)`

// InsertDeviceEvent inserts or replaces a device event.
func (d *DB) InsertDeviceEvent(ctx context.Context, e collector.DeviceEvent) error {
	if _, err := d.db.NamedExecContext(ctx, insertDeviceEvent, e); err != nil {
		return classify(fmt.Errorf("insert device event: %w", err))
	}
	return nil
}

// InsertDeviceEvents batch-inserts device events in a single transaction.
func (d *DB) InsertDeviceEvents(ctx context.Context, events []collector.DeviceEvent) error {
	if len(events) == 0 {
		return nil
	}
	return d.inTx(ctx, func(tx *sqlx.Tx) error {
		stmt, err := tx.PrepareNamedContext(ctx, insertDeviceEvent)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()
		for _, e := range events {
			if _, err := stmt.ExecContext(ctx, e); err != nil {
				return fmt.Errorf("insert device event %s: %w", e.ID, err)
			}
		}
		return nil
	})
}

// DeviceEventsInRange returns events with from <= timestamp < to, newest first.
func (d *DB) DeviceEventsInRange(ctx context.Context, from, to int64) ([]collector.DeviceEvent, error) {
	var events []collector.DeviceEvent
	err := d.db.SelectContext(ctx, &events,
		"SELECT "+eventColumns+" FROM device_events WHERE timestamp >= ? AND timestamp < ? ORDER BY timestamp DESC, id DESC",
		from, to,
	)
	if err != nil {
		return nil, classify(fmt.Errorf("query device events: %w", err))
	}
	return events, nil
}

// DeviceEventsByType returns events of one type, newest first.
func (d *DB) DeviceEventsByType(ctx context.Context, typ string) ([]collector.DeviceEvent, error) {
	var events []collector.DeviceEvent
	err := d.db.SelectContext(ctx, &events,
		"SELECT "+eventColumns+" FROM device_events WHERE type = ? ORDER BY timestamp DESC, id DESC", typ)
	if err != nil {
		return nil, classify(fmt.Errorf("query device events: %w", err))
	}
	return events, nil
}

// DeleteDeviceEventsOlderThan deletes events recorded before the given time.
func (d *DB) DeleteDeviceEventsOlderThan(ctx context.Context, before int64) (int64, error) {
	return d.deleteBefore(ctx, "device_events", "timestamp", before)
}
