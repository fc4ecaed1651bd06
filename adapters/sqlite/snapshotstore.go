package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fngate/fngate/domain/billing"
	"github.com/fngate/fngate/ports"
)

// SnapshotStore implements ports.SnapshotStore using SQLite. Snapshots are
// upserted on (user_id, api_id, period, period_start) so re-materializing a
// window replaces the previous row instead of duplicating it.
type SnapshotStore struct {
	db *DB
}

// NewSnapshotStore creates a new SQLite snapshot store.
func NewSnapshotStore(db *DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Upsert writes a snapshot, replacing any previous materialization of the
// same window.
func (s *SnapshotStore) Upsert(ctx context.Context, snap billing.Snapshot) error {
	statusCodes, err := json.Marshal(snap.StatusCodes)
	if err != nil {
		return fmt.Errorf("marshal status codes: %w", err)
	}
	endpoints, err := json.Marshal(snap.Endpoints)
	if err != nil {
		return fmt.Errorf("marshal endpoints: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO usage_snapshots (
			user_id, api_id, period, period_start, request_count,
			total_duration_ms, total_bytes_in, total_bytes_out, total_cost,
			avg_duration_ms, error_count, success_count, status_codes, endpoints
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, api_id, period, period_start) DO UPDATE SET
			request_count = excluded.request_count,
			total_duration_ms = excluded.total_duration_ms,
			total_bytes_in = excluded.total_bytes_in,
			total_bytes_out = excluded.total_bytes_out,
			total_cost = excluded.total_cost,
			avg_duration_ms = excluded.avg_duration_ms,
			error_count = excluded.error_count,
			success_count = excluded.success_count,
			status_codes = excluded.status_codes,
			endpoints = excluded.endpoints,
			updated_at = CURRENT_TIMESTAMP
	`,
		snap.UserID, snap.APIID, string(snap.Period), snap.PeriodStart.UTC(), snap.RequestCount,
		snap.TotalDurationMs, snap.TotalBytesIn, snap.TotalBytesOut, snap.TotalCost,
		snap.AvgDurationMs, snap.ErrorCount, snap.SuccessCount, string(statusCodes), string(endpoints),
	)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// Get retrieves one snapshot, or ErrNotFound.
func (s *SnapshotStore) Get(ctx context.Context, userID, apiID string, period billing.Period, periodStart time.Time) (billing.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, api_id, period, period_start, request_count,
			total_duration_ms, total_bytes_in, total_bytes_out, total_cost,
			avg_duration_ms, error_count, success_count, status_codes, endpoints
		FROM usage_snapshots
		WHERE user_id = ? AND api_id = ? AND period = ?
			AND datetime(period_start) = datetime(?)
	`, userID, apiID, string(period), periodStart.UTC())

	var snap billing.Snapshot
	var statusCodes, endpoints string
	err := row.Scan(
		&snap.UserID, &snap.APIID, &snap.Period, &snap.PeriodStart, &snap.RequestCount,
		&snap.TotalDurationMs, &snap.TotalBytesIn, &snap.TotalBytesOut, &snap.TotalCost,
		&snap.AvgDurationMs, &snap.ErrorCount, &snap.SuccessCount, &statusCodes, &endpoints,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Snapshot{}, ports.ErrNotFound
	}
	if err != nil {
		return billing.Snapshot{}, fmt.Errorf("query snapshot: %w", err)
	}

	if err := json.Unmarshal([]byte(statusCodes), &snap.StatusCodes); err != nil {
		return billing.Snapshot{}, fmt.Errorf("unmarshal status codes: %w", err)
	}
	if err := json.Unmarshal([]byte(endpoints), &snap.Endpoints); err != nil {
		return billing.Snapshot{}, fmt.Errorf("unmarshal endpoints: %w", err)
	}
	return snap, nil
}

// Watermark returns the start of the last materialized window for a period,
// or the zero time when none exists.
func (s *SnapshotStore) Watermark(ctx context.Context, period billing.Period) (time.Time, error) {
	var start time.Time
	err := s.db.QueryRowContext(ctx,
		"SELECT period_start FROM billing_watermarks WHERE period = ?",
		string(period),
	).Scan(&start)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("query watermark: %w", err)
	}
	return start, nil
}

// SetWatermark records the last materialized window for a period.
func (s *SnapshotStore) SetWatermark(ctx context.Context, period billing.Period, periodStart time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO billing_watermarks (period, period_start) VALUES (?, ?)
		ON CONFLICT (period) DO UPDATE SET
			period_start = excluded.period_start,
			updated_at = CURRENT_TIMESTAMP
	`, string(period), periodStart.UTC())
	if err != nil {
		return fmt.Errorf("set watermark: %w", err)
	}
	return nil
}

// Ensure interface compliance.
var _ ports.SnapshotStore = (*SnapshotStore)(nil)
