package memory

import (
	"context"
	"sync"
	"time"

	"github.com/fngate/fngate/domain/billing"
	"github.com/fngate/fngate/ports"
)

type counterEntry struct {
	counter  billing.Counter
	deadline time.Time
}

// MetricsStore is an in-memory implementation of ports.RealtimeMetrics.
// Every update resets the key's TTL; expired keys read as the zero counter.
type MetricsStore struct {
	mu      sync.Mutex
	entries map[string]counterEntry
	ttl     time.Duration
	clock   ports.Clock
}

// NewMetricsStore creates a metrics store with the given counter TTL.
func NewMetricsStore(ttl time.Duration, clock ports.Clock) *MetricsStore {
	return &MetricsStore{
		entries: map[string]counterEntry{},
		ttl:     ttl,
		clock:   clock,
	}
}

func counterKey(userID, apiID string) string {
	return userID + "\x00" + apiID
}

// Add applies the increment and resets the counter's TTL.
func (s *MetricsStore) Add(ctx context.Context, update billing.CounterUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	key := counterKey(update.UserID, update.APIID)

	e, ok := s.entries[key]
	if !ok || now.After(e.deadline) {
		e = counterEntry{}
	}

	e.counter.Requests += update.Delta.Requests
	e.counter.BytesIn += update.Delta.BytesIn
	e.counter.BytesOut += update.Delta.BytesOut
	e.counter.CostMicros += update.Delta.CostMicros
	e.counter.DurationMs += update.Delta.DurationMs
	e.counter.Errors += update.Delta.Errors
	e.counter.Success += update.Delta.Success
	e.deadline = now.Add(s.ttl)

	s.entries[key] = e
	return nil
}

// Get returns the counter for a key; missing or expired keys read as zero.
func (s *MetricsStore) Get(ctx context.Context, userID, apiID string) (billing.Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[counterKey(userID, apiID)]
	if !ok || s.clock.Now().After(e.deadline) {
		return billing.Counter{}, nil
	}
	return e.counter, nil
}

// Ensure interface compliance.
var _ ports.RealtimeMetrics = (*MetricsStore)(nil)
