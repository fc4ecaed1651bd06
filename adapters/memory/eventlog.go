// Package memory provides in-memory adapter implementations for development
// and testing. All stores are safe for concurrent use.
package memory

import (
	"context"
	"strconv"
	"sync"

	"github.com/fngate/fngate/ports"
)

// groupState tracks a consumer group's position and unacknowledged entries.
type groupState struct {
	// cursor indexes the next entry never delivered to this group.
	cursor int
	// pending maps entry id -> consumer currently holding it.
	pending map[string]string
}

// EventLog is an in-memory implementation of ports.EventLog with
// consumer-group delivery semantics: entries are delivered at-least-once,
// unacknowledged entries are redelivered to their consumer on the next read,
// acknowledged entries never reappear.
type EventLog struct {
	mu      sync.Mutex
	entries []ports.Entry
	groups  map[string]*groupState
	nextID  int64
}

// NewEventLog creates an empty in-memory event log.
func NewEventLog() *EventLog {
	return &EventLog{
		groups: map[string]*groupState{},
		nextID: 1,
	}
}

// Append stores an event and returns its monotonically increasing id.
func (l *EventLog) Append(ctx context.Context, fields map[string]string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}

	id := strconv.FormatInt(l.nextID, 10)
	l.nextID++
	l.entries = append(l.entries, ports.Entry{ID: id, Fields: copied})
	return id, nil
}

// CreateGroup ensures the consumer group exists. Idempotent.
func (l *EventLog) CreateGroup(ctx context.Context, group string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.groups[group]; !ok {
		l.groups[group] = &groupState{pending: map[string]string{}}
	}
	return nil
}

// ReadGroup returns up to max undelivered entries for the group, marking
// them pending for the consumer. Entries already pending for this consumer
// are redelivered first, oldest first.
func (l *EventLog) ReadGroup(ctx context.Context, group, consumer string, max int64) ([]ports.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	g, ok := l.groups[group]
	if !ok {
		g = &groupState{pending: map[string]string{}}
		l.groups[group] = g
	}

	var out []ports.Entry
	for _, e := range l.entries {
		if int64(len(out)) >= max {
			return out, nil
		}
		if g.pending[e.ID] == consumer {
			out = append(out, e)
		}
	}

	for g.cursor < len(l.entries) && int64(len(out)) < max {
		e := l.entries[g.cursor]
		g.cursor++
		g.pending[e.ID] = consumer
		out = append(out, e)
	}
	return out, nil
}

// Ack removes an entry from the group's pending set. Acking an unknown or
// already-acknowledged id is a no-op.
func (l *EventLog) Ack(ctx context.Context, group, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if g, ok := l.groups[group]; ok {
		delete(g.pending, id)
	}
	return nil
}

// PendingCount returns the number of unacknowledged entries for a group.
func (l *EventLog) PendingCount(ctx context.Context, group string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	g, ok := l.groups[group]
	if !ok {
		return 0, nil
	}
	return int64(len(g.pending)), nil
}

// Len returns the total number of entries in the log.
func (l *EventLog) Len(ctx context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int64(len(l.entries)), nil
}

// Ensure interface compliance.
var _ ports.EventLog = (*EventLog)(nil)
