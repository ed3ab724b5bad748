package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/cptspacemanspiff/activity-tracker/internal/collector"
)

const batteryColumns = "id, timestamp, levelPercent, chargingState, temperature"

const insertBatterySample = `INSERT OR REPLACE INTO battery_samples (` + batteryColumns + `)
	VALUES (:id, :timestamp, :levelPercent, :chargingState, :temperature)`

// InsertBatterySample inserts or replaces a battery sample.
func (d *DB) InsertBatterySample(ctx context.Context, s collector.BatterySample) error {
	if _, err := d.db.NamedExecContext(ctx, insertBatterySample, s); err != nil {
		return classify(fmt.Errorf("insert battery sample: %w", err))
	}
	return nil
}

// InsertBatterySamples batch-inserts battery samples in a single transaction.
func (d *DB) InsertBatterySamples(ctx context.Context, samples []collector.BatterySample) error {
	if len(samples) == 0 {
		return nil
	}
	return d.inTx(ctx, func(tx *sqlx.Tx) error {
		stmt, err := tx.PrepareNamedContext(ctx, insertBatterySample)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()
		for _, s := range samples {
			if _, err := stmt.ExecContext(ctx, s); err != nil {
				return fmt.Errorf("insert battery sample %s: %w", s.ID, err)
			}
		}
		return nil
	})
}

// BatterySamplesInRange returns battery samples with from <= timestamp < to,
// newest first.
func (d *DB) BatterySamplesInRange(ctx context.Context, from, to int64) ([]collector.BatterySample, error) {
	var samples []collector.BatterySample
	err := d.db.SelectContext(ctx, &samples,
		"SELECT "+batteryColumns+" FROM battery_samples WHERE timestamp >= ? AND timestamp < ? ORDER BY timestamp DESC, id DESC",
		from, to,
	)
	if err != nil {
		return nil, classify(fmt.Errorf("query battery samples: %w", err))
	}
	return samples, nil
}

// LatestBatterySample returns the most recent battery sample, or nil.
func (d *DB) LatestBatterySample(ctx context.Context) (*collector.BatterySample, error) {
	var s collector.BatterySample
	err := d.db.GetContext(ctx, &s, "SELECT "+batteryColumns+" FROM battery_samples ORDER BY timestamp DESC, id DESC LIMIT 1")
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(fmt.Errorf("latest battery sample: %w", err))
	}
	return &s, nil
}

// AverageBatteryLevel returns the mean known level in [from, to), or nil.
func (d *DB) AverageBatteryLevel(ctx context.Context, from, to int64) (*float64, error) {
	var avg sql.NullFloat64
	err := d.db.GetContext(ctx, &avg,
		"SELECT AVG(levelPercent) FROM battery_samples WHERE timestamp >= ? AND timestamp < ? AND levelPercent >= 0",
		from, to,
	)
	if err != nil {
		return nil, classify(fmt.Errorf("average battery level: %w", err))
	}
	if !avg.Valid {
		return nil, nil
	}
	return &avg.Float64, nil
}

// DeleteBatterySamplesOlderThan deletes samples taken before the given time.
func (d *DB) DeleteBatterySamplesOlderThan(ctx context.Context, before int64) (int64, error) {
	return d.deleteBefore(ctx, "battery_samples", "timestamp", before)
}
