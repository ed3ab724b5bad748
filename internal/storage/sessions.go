package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/cptspacemanspiff/activity-tracker/internal/collector"
)

const sessionColumns = `id, packageName, appLabel, startTimestamp, endTimestamp, durationMs,
	startBatteryPct, endBatteryPct, locationLatitude, locationLongitude, metadataJson, notes`

const insertSession = `INSERT OR REPLACE INTO app_sessions (` + sessionColumns + `)
	VALUES (:id, :packageName, :appLabel, :startTimestamp, :endTimestamp, :durationMs,
	:startBatteryPct, :endBatteryPct, :locationLatitude, :locationLongitude, :metadataJson, :notes)`

// InsertSession inserts or replaces a session.
func (d *DB) InsertSession(ctx context.Context, s collector.Session) error {
	if _, err := d.db.NamedExecContext(ctx, insertSession, s); err != nil {
		return classify(fmt.Errorf("insert session: %w", err))
	}
	return nil
}

// InsertSessions batch-inserts sessions in a single transaction.
func (d *DB) InsertSessions(ctx context.Context, sessions []collector.Session) error {
	if len(sessions) == 0 {
		return nil
	}
	return d.inTx(ctx, func(tx *sqlx.Tx) error {
		stmt, err := tx.PrepareNamedContext(ctx, insertSession)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()
		for _, s := range sessions {
			if _, err := stmt.ExecContext(ctx, s); err != nil {
				return fmt.Errorf("insert session %s: %w", s.ID, err)
			}
		}
		return nil
	})
}

// SessionByID returns the session with the given id, or nil.
func (d *DB) SessionByID(ctx context.Context, id string) (*collector.Session, error) {
	var s collector.Session
	err := d.db.GetContext(ctx, &s, "SELECT "+sessionColumns+" FROM app_sessions WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(fmt.Errorf("get session: %w", err))
	}
	return &s, nil
}

// SessionsInRange returns sessions that start at or after from and end at or
// before to, ordered by start.
func (d *DB) SessionsInRange(ctx context.Context, from, to int64) ([]collector.Session, error) {
	var sessions []collector.Session
	err := d.db.SelectContext(ctx, &sessions,
		"SELECT "+sessionColumns+" FROM app_sessions WHERE startTimestamp >= ? AND endTimestamp <= ? ORDER BY startTimestamp, id",
		from, to,
	)
	if err != nil {
		return nil, classify(fmt.Errorf("query sessions: %w", err))
	}
	return sessions, nil
}

// AllSessions returns every session, newest first.
func (d *DB) AllSessions(ctx context.Context) ([]collector.Session, error) {
	var sessions []collector.Session
	err := d.db.SelectContext(ctx, &sessions, "SELECT "+sessionColumns+" FROM app_sessions ORDER BY startTimestamp DESC, id")
	if err != nil {
		return nil, classify(fmt.Errorf("query sessions: %w", err))
	}
	return sessions, nil
}

// DeleteSession deletes a session by id. Deleting a missing id is not an error.
func (d *DB) DeleteSession(ctx context.Context, id string) error {
	if _, err := d.db.ExecContext(ctx, "DELETE FROM app_sessions WHERE id = ?", id); err != nil {
		return classify(fmt.Errorf("delete session: %w", err))
	}
	return nil
}

// DeleteSessionsOlderThan deletes sessions that ended before the given time.
func (d *DB) DeleteSessionsOlderThan(ctx context.Context, before int64) (int64, error) {
	return d.deleteBefore(ctx, "app_sessions", "endTimestamp", before)
}

func (d *DB) deleteBefore(ctx context.Context, table, column string, before int64) (int64, error) {
	// Identifiers come from a fixed set in this package, never from input.
	res, err := d.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s < ?", table, column), before)
	if err != nil {
		return 0, classify(fmt.Errorf("delete from %s: %w", table, err))
	}
	n, _ := res.RowsAffected()
	return n, nil
}
