package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/fngate/fngate/ports"
)

// maxStreamLen caps stream growth; trimming is approximate so appends stay
// O(1). Acked history beyond this is dropped.
const maxStreamLen = 1_000_000

// EventLog implements ports.EventLog on a Redis Stream with consumer
// groups. Stream ids are assigned by Redis and are monotonically
// increasing; delivery is at-least-once via the group's pending entries
// list.
type EventLog struct {
	client *redis.Client
	stream string
}

// NewEventLog creates a stream-backed event log.
func NewEventLog(client *redis.Client, stream string) *EventLog {
	return &EventLog{client: client, stream: stream}
}

// Append adds an event to the stream and returns the assigned id.
func (l *EventLog) Append(ctx context.Context, fields map[string]string) (string, error) {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}

	id, err := l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: l.stream,
		MaxLen: maxStreamLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", l.stream, err)
	}
	return id, nil
}

// CreateGroup ensures the consumer group exists, creating the stream if
// needed. An already existing group is not an error.
func (l *EventLog) CreateGroup(ctx context.Context, group string) error {
	err := l.client.XGroupCreateMkStream(ctx, l.stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s: %w", group, err)
	}
	return nil
}

// ReadGroup redelivers this consumer's pending entries first, then reads
// entries never delivered to the group. Non-blocking: an empty stream
// returns no entries rather than waiting.
func (l *EventLog) ReadGroup(ctx context.Context, group, consumer string, max int64) ([]ports.Entry, error) {
	out, err := l.read(ctx, group, consumer, "0", max)
	if err != nil {
		return nil, err
	}
	if int64(len(out)) < max {
		fresh, err := l.read(ctx, group, consumer, ">", max-int64(len(out)))
		if err != nil {
			return nil, err
		}
		out = append(out, fresh...)
	}
	return out, nil
}

func (l *EventLog) read(ctx context.Context, group, consumer, from string, count int64) ([]ports.Entry, error) {
	streams, err := l.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{l.stream, from},
		Count:    count,
		Block:    -1, // no blocking; the worker loop paces reads
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup %s/%s: %w", l.stream, group, err)
	}

	var out []ports.Entry
	for _, s := range streams {
		for _, m := range s.Messages {
			fields := make(map[string]string, len(m.Values))
			for k, v := range m.Values {
				if sv, ok := v.(string); ok {
					fields[k] = sv
				}
			}
			out = append(out, ports.Entry{ID: m.ID, Fields: fields})
		}
	}
	return out, nil
}

// Ack removes an entry from the group's pending entries list.
func (l *EventLog) Ack(ctx context.Context, group, id string) error {
	if err := l.client.XAck(ctx, l.stream, group, id).Err(); err != nil {
		return fmt.Errorf("xack %s: %w", id, err)
	}
	return nil
}

// PendingCount returns the number of unacknowledged entries for a group.
func (l *EventLog) PendingCount(ctx context.Context, group string) (int64, error) {
	pending, err := l.client.XPending(ctx, l.stream, group).Result()
	if err != nil {
		if strings.Contains(err.Error(), "NOGROUP") {
			return 0, nil
		}
		return 0, fmt.Errorf("xpending %s/%s: %w", l.stream, group, err)
	}
	return pending.Count, nil
}

// Len returns the stream length.
func (l *EventLog) Len(ctx context.Context) (int64, error) {
	n, err := l.client.XLen(ctx, l.stream).Result()
	if err != nil {
		return 0, fmt.Errorf("xlen %s: %w", l.stream, err)
	}
	return n, nil
}

// Ensure interface compliance.
var _ ports.EventLog = (*EventLog)(nil)
