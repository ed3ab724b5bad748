package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// retention lists each table with the column its age is measured by.
var retention = []struct {
	name   string
	column string
}{
	{"app_sessions", "endTimestamp"},
	{"battery_samples", "timestamp"},
	{"device_events", "timestamp"},
	{"analysis_reports", "createdTs"},
}

// DeleteOlderThan deletes rows from all tables older than the given epoch
// millis in one transaction. Returns the total number of deleted rows.
func (d *DB) DeleteOlderThan(ctx context.Context, before int64) (int64, error) {
	var total int64
	err := d.inTx(ctx, func(tx *sqlx.Tx) error {
		// Table/column names come from the fixed retention slice.
		for _, t := range retention {
			res, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s < ?", t.name, t.column), before)
			if err != nil {
				return fmt.Errorf("delete from %s: %w", t.name, err)
			}
			n, _ := res.RowsAffected()
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// PurgeAll deletes every row from every table.
func (d *DB) PurgeAll(ctx context.Context) error {
	return d.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, t := range retention {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+t.name); err != nil {
				return fmt.Errorf("purge %s: %w", t.name, err)
			}
		}
		return nil
	})
}
