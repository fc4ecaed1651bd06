package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fngate/fngate/adapters/metrics"
	"github.com/fngate/fngate/domain/billing"
	"github.com/fngate/fngate/ports"
)

// BillingWorker consumes usage events from the durable log, keeps the
// realtime counters current and materializes hourly/daily usage snapshots.
// Delivery is at-least-once: an entry is acknowledged only after its
// counter update succeeded; failed entries stay pending and are redelivered.
type BillingWorker struct {
	events    ports.EventLog
	usage     ports.UsageStore
	snapshots ports.SnapshotStore
	realtime  ports.RealtimeMetrics
	clock     ports.Clock
	logger    zerolog.Logger
	collector *metrics.Collector
	cfg       BillingConfig

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// BillingConfig carries the worker's consumption policy.
type BillingConfig struct {
	Group     string
	Consumer  string
	BatchSize int64
	Interval  time.Duration
}

// BillingDeps contains dependencies for BillingWorker.
type BillingDeps struct {
	Events    ports.EventLog
	Usage     ports.UsageStore
	Snapshots ports.SnapshotStore
	Realtime  ports.RealtimeMetrics
	Clock     ports.Clock
	Logger    zerolog.Logger
	Collector *metrics.Collector
}

// WorkerStatus is the introspection view of the worker.
type WorkerStatus struct {
	Running    bool   `json:"running"`
	Group      string `json:"group"`
	Consumer   string `json:"consumer"`
	BatchSize  int64  `json:"batchSize"`
	IntervalMs int64  `json:"intervalMs"`
}

// snapshotPeriods are materialized on every tick, in order.
var snapshotPeriods = []billing.Period{billing.PeriodHourly, billing.PeriodDaily}

// NewBillingWorker creates a billing worker.
func NewBillingWorker(deps BillingDeps, cfg BillingConfig) *BillingWorker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	return &BillingWorker{
		events:    deps.Events,
		usage:     deps.Usage,
		snapshots: deps.Snapshots,
		realtime:  deps.Realtime,
		clock:     deps.Clock,
		logger:    deps.Logger,
		collector: deps.Collector,
		cfg:       cfg,
	}
}

// Start launches the consumption loop. Idempotent: starting a running
// worker is a no-op.
func (w *BillingWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	if err := w.events.CreateGroup(ctx, w.cfg.Group); err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running = true

	go w.loop(loopCtx)

	w.logger.Info().
		Str("group", w.cfg.Group).
		Str("consumer", w.cfg.Consumer).
		Int64("batch_size", w.cfg.BatchSize).
		Dur("interval", w.cfg.Interval).
		Msg("billing worker started")
	return nil
}

// Stop requests cooperative shutdown and waits for the in-flight batch to
// finish. Stopping a stopped worker is a no-op.
func (w *BillingWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info().Str("group", w.cfg.Group).Msg("billing worker stopped")
}

// Status reports the worker's configuration and run state.
func (w *BillingWorker) Status() WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WorkerStatus{
		Running:    w.running,
		Group:      w.cfg.Group,
		Consumer:   w.cfg.Consumer,
		BatchSize:  w.cfg.BatchSize,
		IntervalMs: w.cfg.Interval.Milliseconds(),
	}
}

func (w *BillingWorker) loop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// tick runs one full pass. A failing batch or snapshot pass never
// terminates the loop.
func (w *BillingWorker) tick(ctx context.Context) {
	if err := w.processBatch(ctx); err != nil {
		w.logger.Error().Err(err).Msg("billing batch failed")
	}
	for _, period := range snapshotPeriods {
		if err := w.materialize(ctx, period); err != nil {
			w.logger.Error().Err(err).Str("period", string(period)).Msg("snapshot materialization failed")
		}
	}
	w.observeBacklog(ctx)
}

// processBatch reads one batch from the group and applies each event to the
// realtime counters. An entry is acknowledged only after its update
// succeeded; undecodable entries are acknowledged and dropped so they
// cannot wedge the group.
func (w *BillingWorker) processBatch(ctx context.Context) error {
	entries, err := w.events.ReadGroup(ctx, w.cfg.Group, w.cfg.Consumer, w.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("read group: %w", err)
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if w.collector != nil {
			w.collector.BillingEventsTotal.Inc()
		}

		record, err := billing.DecodeEvent(entry.Fields)
		if err != nil {
			w.logger.Warn().Err(err).Str("entry_id", entry.ID).Msg("dropping undecodable event")
			w.ack(ctx, entry.ID)
			continue
		}

		if err := w.realtime.Add(ctx, billing.UpdateFromRecord(record)); err != nil {
			// Left unacked on purpose: the entry is redelivered later.
			w.logger.Warn().Err(err).Str("entry_id", entry.ID).Msg("counter update failed, will retry")
			continue
		}

		w.ack(ctx, entry.ID)
	}
	return nil
}

func (w *BillingWorker) ack(ctx context.Context, id string) {
	if err := w.events.Ack(ctx, w.cfg.Group, id); err != nil {
		w.logger.Warn().Err(err).Str("entry_id", id).Msg("ack failed")
		return
	}
	if w.collector != nil {
		w.collector.BillingAcksTotal.Inc()
	}
}

// materialize builds snapshots for every window of the period that closed
// after the watermark, then advances the watermark. Upserting on the window
// key makes re-materialization idempotent, so a crash between upsert and
// watermark advance is safe.
func (w *BillingWorker) materialize(ctx context.Context, period billing.Period) error {
	watermark, err := w.snapshots.Watermark(ctx, period)
	if err != nil {
		return fmt.Errorf("load watermark: %w", err)
	}

	for _, window := range billing.ClosedWindows(period, watermark, w.clock.Now()) {
		records, err := w.usage.ListWindow(ctx, window.Start, window.End())
		if err != nil {
			return fmt.Errorf("list window %s: %w", window.Start, err)
		}

		for _, snap := range billing.BuildSnapshots(records, period, window.Start) {
			if err := w.snapshots.Upsert(ctx, snap); err != nil {
				return fmt.Errorf("upsert snapshot %s/%s: %w", snap.UserID, snap.APIID, err)
			}
			if w.collector != nil {
				w.collector.SnapshotsTotal.WithLabelValues(string(period)).Inc()
			}
		}

		if err := w.snapshots.SetWatermark(ctx, period, window.Start); err != nil {
			return fmt.Errorf("advance watermark: %w", err)
		}
	}
	return nil
}

func (w *BillingWorker) observeBacklog(ctx context.Context) {
	if w.collector == nil {
		return
	}
	if pending, err := w.events.PendingCount(ctx, w.cfg.Group); err == nil {
		w.collector.BillingPending.Set(float64(pending))
	}
}

// Tick runs one consumption and materialization pass synchronously. Used
// by tests and by operators who want a manual drain; the background loop
// calls the same path.
func (w *BillingWorker) Tick(ctx context.Context) {
	w.tick(ctx)
}
