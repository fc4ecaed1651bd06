package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fngate/fngate/domain/metering"
	"github.com/fngate/fngate/ports"
)

// UsageStore is an in-memory implementation of ports.UsageStore.
type UsageStore struct {
	mu      sync.RWMutex
	records []metering.UsageRecord
}

// NewUsageStore creates an empty in-memory usage store.
func NewUsageStore() *UsageStore {
	return &UsageStore{}
}

// Record stores one usage record.
func (s *UsageStore) Record(ctx context.Context, r metering.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	return nil
}

// ListWindow returns all records with timestamp in [start, end), ordered by
// timestamp.
func (s *UsageStore) ListWindow(ctx context.Context, start, end time.Time) ([]metering.UsageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []metering.UsageRecord
	for _, r := range s.records {
		if !r.Timestamp.Before(start) && r.Timestamp.Before(end) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// All returns every stored record (for testing).
func (s *UsageStore) All() []metering.UsageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]metering.UsageRecord{}, s.records...)
}

// Ensure interface compliance.
var _ ports.UsageStore = (*UsageStore)(nil)
