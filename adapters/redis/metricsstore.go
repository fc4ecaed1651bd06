package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fngate/fngate/domain/billing"
	"github.com/fngate/fngate/ports"
)

// Hash field names for realtime counters.
const (
	fieldRequests   = "requests"
	fieldBytesIn    = "bytes_in"
	fieldBytesOut   = "bytes_out"
	fieldCostMicros = "cost_micros"
	fieldDurationMs = "duration_ms"
	fieldErrors     = "errors"
	fieldSuccess    = "success"
)

// MetricsStore implements ports.RealtimeMetrics on Redis hashes. Each
// (user, api) pair maps to one hash; increments and the TTL reset ride a
// single pipeline so every update is one round trip.
type MetricsStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewMetricsStore creates a Redis-backed realtime metrics store.
func NewMetricsStore(client *redis.Client, prefix string, ttl time.Duration) *MetricsStore {
	if prefix == "" {
		prefix = "fngate:rt"
	}
	return &MetricsStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *MetricsStore) key(userID, apiID string) string {
	return s.prefix + ":" + userID + ":" + apiID
}

// Add applies the increment and resets the key's TTL.
func (s *MetricsStore) Add(ctx context.Context, update billing.CounterUpdate) error {
	key := s.key(update.UserID, update.APIID)
	d := update.Delta

	pipe := s.client.TxPipeline()
	pipe.HIncrBy(ctx, key, fieldRequests, d.Requests)
	pipe.HIncrBy(ctx, key, fieldBytesIn, d.BytesIn)
	pipe.HIncrBy(ctx, key, fieldBytesOut, d.BytesOut)
	pipe.HIncrBy(ctx, key, fieldCostMicros, d.CostMicros)
	pipe.HIncrBy(ctx, key, fieldDurationMs, d.DurationMs)
	pipe.HIncrBy(ctx, key, fieldErrors, d.Errors)
	pipe.HIncrBy(ctx, key, fieldSuccess, d.Success)
	pipe.Expire(ctx, key, s.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("increment counters %s: %w", key, err)
	}
	return nil
}

// Get returns the counter for a key; a missing or expired key reads as the
// zero counter.
func (s *MetricsStore) Get(ctx context.Context, userID, apiID string) (billing.Counter, error) {
	values, err := s.client.HGetAll(ctx, s.key(userID, apiID)).Result()
	if err != nil {
		return billing.Counter{}, fmt.Errorf("read counters %s/%s: %w", userID, apiID, err)
	}

	return billing.Counter{
		Requests:   parseField(values, fieldRequests),
		BytesIn:    parseField(values, fieldBytesIn),
		BytesOut:   parseField(values, fieldBytesOut),
		CostMicros: parseField(values, fieldCostMicros),
		DurationMs: parseField(values, fieldDurationMs),
		Errors:     parseField(values, fieldErrors),
		Success:    parseField(values, fieldSuccess),
	}, nil
}

func parseField(values map[string]string, field string) int64 {
	n, _ := strconv.ParseInt(values[field], 10, 64)
	return n
}

// Ensure interface compliance.
var _ ports.RealtimeMetrics = (*MetricsStore)(nil)
