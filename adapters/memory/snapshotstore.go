package memory

import (
	"context"
	"sync"
	"time"

	"github.com/fngate/fngate/domain/billing"
	"github.com/fngate/fngate/ports"
)

type snapshotKey struct {
	userID      string
	apiID       string
	period      billing.Period
	periodStart int64 // unix seconds, UTC
}

// SnapshotStore is an in-memory implementation of ports.SnapshotStore.
type SnapshotStore struct {
	mu         sync.RWMutex
	snapshots  map[snapshotKey]billing.Snapshot
	watermarks map[billing.Period]time.Time
}

// NewSnapshotStore creates an empty in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		snapshots:  map[snapshotKey]billing.Snapshot{},
		watermarks: map[billing.Period]time.Time{},
	}
}

func keyOf(userID, apiID string, period billing.Period, periodStart time.Time) snapshotKey {
	return snapshotKey{
		userID:      userID,
		apiID:       apiID,
		period:      period,
		periodStart: periodStart.UTC().Unix(),
	}
}

// Upsert writes a snapshot, replacing any previous materialization of the
// same window.
func (s *SnapshotStore) Upsert(ctx context.Context, snap billing.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[keyOf(snap.UserID, snap.APIID, snap.Period, snap.PeriodStart)] = snap
	return nil
}

// Get retrieves one snapshot, or ErrNotFound.
func (s *SnapshotStore) Get(ctx context.Context, userID, apiID string, period billing.Period, periodStart time.Time) (billing.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[keyOf(userID, apiID, period, periodStart)]
	if !ok {
		return billing.Snapshot{}, ports.ErrNotFound
	}
	return snap, nil
}

// Watermark returns the start of the last materialized window for a period,
// or the zero time when none exists.
func (s *SnapshotStore) Watermark(ctx context.Context, period billing.Period) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.watermarks[period], nil
}

// SetWatermark records the last materialized window for a period.
func (s *SnapshotStore) SetWatermark(ctx context.Context, period billing.Period, periodStart time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watermarks[period] = periodStart.UTC()
	return nil
}

// Count returns the number of stored snapshots (for testing).
func (s *SnapshotStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshots)
}

// Ensure interface compliance.
var _ ports.SnapshotStore = (*SnapshotStore)(nil)
