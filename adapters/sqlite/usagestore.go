package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fngate/fngate/domain/metering"
	"github.com/fngate/fngate/ports"
)

// UsageStore implements ports.UsageStore using SQLite.
type UsageStore struct {
	db *DB
}

// NewUsageStore creates a new SQLite usage store.
func NewUsageStore(db *DB) *UsageStore {
	return &UsageStore{db: db}
}

// Record stores one usage record. Timestamps are stored in UTC.
func (s *UsageStore) Record(ctx context.Context, r metering.UsageRecord) error {
	meta, err := json.Marshal(r.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if r.Metadata == nil {
		meta = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO usage_records (
			id, api_id, user_id, endpoint, method, timestamp, duration_ms,
			bytes_in, bytes_out, status_code, ip_address, user_agent,
			api_key_ref, execution_id, cost, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.APIID, r.UserID, r.Endpoint, r.Method, r.Timestamp.UTC(), r.DurationMs,
		r.BytesIn, r.BytesOut, r.StatusCode, r.IPAddress, r.UserAgent,
		r.APIKeyRef, r.ExecutionID, r.Cost, string(meta),
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// ListWindow returns all records with timestamp in [start, end), ordered by
// timestamp.
func (s *UsageStore) ListWindow(ctx context.Context, start, end time.Time) ([]metering.UsageRecord, error) {
	startStr := start.UTC().Format("2006-01-02 15:04:05")
	endStr := end.UTC().Format("2006-01-02 15:04:05")

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, api_id, user_id, endpoint, method, timestamp, duration_ms,
			bytes_in, bytes_out, status_code, ip_address, user_agent,
			api_key_ref, execution_id, cost, metadata
		FROM usage_records
		WHERE datetime(timestamp) >= datetime(?) AND datetime(timestamp) < datetime(?)
		ORDER BY timestamp
	`, startStr, endStr)
	if err != nil {
		return nil, fmt.Errorf("query usage records: %w", err)
	}
	defer rows.Close()

	var records []metering.UsageRecord
	for rows.Next() {
		var r metering.UsageRecord
		var meta string
		err := rows.Scan(
			&r.ID, &r.APIID, &r.UserID, &r.Endpoint, &r.Method, &r.Timestamp, &r.DurationMs,
			&r.BytesIn, &r.BytesOut, &r.StatusCode, &r.IPAddress, &r.UserAgent,
			&r.APIKeyRef, &r.ExecutionID, &r.Cost, &meta,
		)
		if err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		if meta != "" && meta != "{}" {
			if err := json.Unmarshal([]byte(meta), &r.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata for %s: %w", r.ID, err)
			}
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Ensure interface compliance.
var _ ports.UsageStore = (*UsageStore)(nil)
