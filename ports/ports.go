// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/fngate/fngate/domain/billing"
	"github.com/fngate/fngate/domain/execution"
	"github.com/fngate/fngate/domain/metering"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("not found")

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Sandbox Ports
// -----------------------------------------------------------------------------

// ArtifactStore fetches tenant code by content reference.
type ArtifactStore interface {
	// Fetch returns the code bytes for a content-addressed reference.
	// Implementations verify integrity against the hash carried in the ref.
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// BuildSpec describes one runtime image build.
type BuildSpec struct {
	Tag        string // image tag for the ephemeral layer
	BaseImage  string // fixed base image the layer is built over
	ContextDir string // workspace directory holding code and request
}

// RunSpec describes one isolated container run.
type RunSpec struct {
	Name    string
	Image   string
	Cmd     []string
	Limits  execution.Limits
	Env     []string
	Workdir string
}

// RunResult is the raw outcome of a container run.
type RunResult struct {
	ExitCode       int64
	OOMKilled      bool
	CombinedOutput []byte
	MemoryPeak     int64
}

// ContainerEngine is the narrow isolation contract the sandbox depends on.
// The core logic never touches a concrete container client's types.
type ContainerEngine interface {
	// BuildImage builds a minimal layered runtime image over the base image.
	BuildImage(ctx context.Context, spec BuildSpec) error

	// Run starts the container, waits for completion (bounded by ctx) and
	// returns the collected output and exit state. When ctx expires the
	// whole process group is forcibly terminated and the container removed.
	Run(ctx context.Context, spec RunSpec) (RunResult, error)

	// RemoveImage removes a built image, including on failure paths.
	RemoveImage(ctx context.Context, tag string) error

	// Live returns the number of currently running sandbox containers.
	Live() int
}

// -----------------------------------------------------------------------------
// Event Log Ports
// -----------------------------------------------------------------------------

// Entry is one durable event log entry.
type Entry struct {
	ID     string
	Fields map[string]string
}

// EventLog is a durable, ordered, append-only store with consumer-group
// delivery. Entries are delivered at-least-once: an unacknowledged entry is
// redelivered on a subsequent read; an acknowledged one never reappears.
type EventLog interface {
	// Append stores an event and returns its monotonically increasing id.
	Append(ctx context.Context, fields map[string]string) (string, error)

	// CreateGroup ensures the consumer group exists. Idempotent: an
	// already existing group is not an error.
	CreateGroup(ctx context.Context, group string) error

	// ReadGroup returns up to max entries not yet delivered to the group,
	// marking them pending for this consumer until acknowledged. Entries
	// already pending for this consumer are redelivered first.
	ReadGroup(ctx context.Context, group, consumer string, max int64) ([]Entry, error)

	// Ack removes an entry from the group's pending set.
	Ack(ctx context.Context, group, id string) error

	// PendingCount returns the number of unacknowledged entries for a group.
	PendingCount(ctx context.Context, group string) (int64, error)

	// Len returns the total number of entries in the log.
	Len(ctx context.Context) (int64, error)
}

// -----------------------------------------------------------------------------
// Realtime Metrics Ports
// -----------------------------------------------------------------------------

// RealtimeMetrics stores ephemeral TTL-bound counters per (user, api).
type RealtimeMetrics interface {
	// Add atomically applies the increment in a single round trip and
	// resets the counter's TTL.
	Add(ctx context.Context, update billing.CounterUpdate) error

	// Get returns the counter for a key; missing or expired keys read as
	// the zero counter.
	Get(ctx context.Context, userID, apiID string) (billing.Counter, error)
}

// -----------------------------------------------------------------------------
// Durable Store Ports
// -----------------------------------------------------------------------------

// UsageStore persists usage records.
type UsageStore interface {
	// Record stores one usage record. Records are immutable once persisted.
	Record(ctx context.Context, r metering.UsageRecord) error

	// ListWindow returns all records with timestamp in [start, end),
	// across all users and apis.
	ListWindow(ctx context.Context, start, end time.Time) ([]metering.UsageRecord, error)
}

// SnapshotStore persists materialized usage snapshots and the billing
// watermarks that drive window materialization.
type SnapshotStore interface {
	// Upsert writes a snapshot keyed by (UserID, APIID, Period,
	// PeriodStart), replacing any previous materialization of the window.
	Upsert(ctx context.Context, s billing.Snapshot) error

	// Get retrieves one snapshot, or ErrNotFound.
	Get(ctx context.Context, userID, apiID string, period billing.Period, periodStart time.Time) (billing.Snapshot, error)

	// Watermark returns the start of the last materialized window for a
	// period, or the zero time when none exists.
	Watermark(ctx context.Context, period billing.Period) (time.Time, error)

	// SetWatermark records the last materialized window for a period.
	SetWatermark(ctx context.Context, period billing.Period, periodStart time.Time) error
}

// PricingStore resolves per-API pricing.
type PricingStore interface {
	// Get returns pricing for an api, or ErrNotFound.
	Get(ctx context.Context, apiID string) (metering.Pricing, error)
}

// -----------------------------------------------------------------------------
// Metering Ports
// -----------------------------------------------------------------------------

// MeterQueue accepts metering calls for detached background processing.
type MeterQueue interface {
	// Submit queues a call for metering. Never blocks the caller; when the
	// queue is saturated the call is dropped and counted.
	Submit(call metering.Call)

	// Errors exposes metering failures for observation. Failures are
	// operational only and never reach the response path.
	Errors() <-chan error

	// Close drains the queue and stops the workers.
	Close() error
}
