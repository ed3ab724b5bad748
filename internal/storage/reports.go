package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cptspacemanspiff/activity-tracker/internal/collector"
)

const reportColumns = "id, rangeStartTs, rangeEndTs, createdTs, reportType, metricsJson"

// InsertReport inserts or replaces an analysis report.
func (d *DB) InsertReport(ctx context.Context, r collector.AnalysisReport) error {
	_, err := d.db.NamedExecContext(ctx, `INSERT OR REPLACE INTO analysis_reports (`+reportColumns+`)
		VALUES (:id, :rangeStartTs, :rangeEndTs, :createdTs, :reportType, :metricsJson)`, r)
	if err != nil {
		return classify(fmt.Errorf("insert report: %w", err))
	}
	return nil
}

// LatestReport returns the most recently created report, or nil.
func (d *DB) LatestReport(ctx context.Context) (*collector.AnalysisReport, error) {
	var r collector.AnalysisReport
	err := d.db.GetContext(ctx, &r, "SELECT "+reportColumns+" FROM analysis_reports ORDER BY createdTs DESC, id DESC LIMIT 1")
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(fmt.Errorf("latest report: %w", err))
	}
	return &r, nil
}

// ReportsByType returns reports of one type, newest first.
func (d *DB) ReportsByType(ctx context.Context, reportType string, limit int) ([]collector.AnalysisReport, error) {
	query := "SELECT " + reportColumns + " FROM analysis_reports WHERE reportType = ? ORDER BY createdTs DESC, id DESC"
	args := []interface{}{reportType}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	var reports []collector.AnalysisReport
	if err := d.db.SelectContext(ctx, &reports, query, args...); err != nil {
		return nil, classify(fmt.Errorf("query reports: %w", err))
	}
	return reports, nil
}

// ReportsSince returns reports whose range starts at or after ts, newest first.
func (d *DB) ReportsSince(ctx context.Context, ts int64) ([]collector.AnalysisReport, error) {
	var reports []collector.AnalysisReport
	err := d.db.SelectContext(ctx, &reports,
		"SELECT "+reportColumns+" FROM analysis_reports WHERE rangeStartTs >= ? ORDER BY createdTs DESC, id DESC", ts)
	if err != nil {
		return nil, classify(fmt.Errorf("query reports: %w", err))
	}
	return reports, nil
}

// DeleteReport deletes a report by id.
func (d *DB) DeleteReport(ctx context.Context, id string) error {
	if _, err := d.db.ExecContext(ctx, "DELETE FROM analysis_reports WHERE id = ?", id); err != nil {
		return classify(fmt.Errorf("delete report: %w", err))
	}
	return nil
}

// DeleteReportsOlderThan deletes reports created before the given time.
func (d *DB) DeleteReportsOlderThan(ctx context.Context, before int64) (int64, error) {
	return d.deleteBefore(ctx, "analysis_reports", "createdTs", before)
}
