package bootstrap

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fngate/fngate/adapters/metrics"
	"github.com/fngate/fngate/app"
	"github.com/fngate/fngate/domain/metering"
	"github.com/fngate/fngate/ports"
)

// meterTimeout bounds one metering pass (persist + publish).
const meterTimeout = 30 * time.Second

// MeterQueue decouples metering from the invocation path: calls are handed
// to a bounded channel and a worker pool drives the meter service. When the
// queue is saturated the call is dropped and counted rather than blocking
// the response.
type MeterQueue struct {
	meter   *app.MeterService
	logger  zerolog.Logger
	calls   chan metering.Call
	errs    chan error
	wg      sync.WaitGroup
	closeMu sync.Mutex
	closed  bool

	collector *metrics.Collector
}

// MeterQueueConfig carries the queue's sizing.
type MeterQueueConfig struct {
	QueueSize int
	Workers   int
}

// NewMeterQueue creates the queue and starts its workers.
func NewMeterQueue(meter *app.MeterService, logger zerolog.Logger, collector *metrics.Collector, cfg MeterQueueConfig) *MeterQueue {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}

	q := &MeterQueue{
		meter:     meter,
		logger:    logger,
		calls:     make(chan metering.Call, cfg.QueueSize),
		errs:      make(chan error, cfg.QueueSize),
		collector: collector,
	}

	q.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go q.worker()
	}

	return q
}

// Submit queues a call for metering. Never blocks: a saturated queue drops
// the call and counts the loss.
func (q *MeterQueue) Submit(call metering.Call) {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}

	select {
	case q.calls <- call:
		if q.collector != nil {
			q.collector.MeterQueueDepth.Set(float64(len(q.calls)))
		}
	default:
		if q.collector != nil {
			q.collector.MeterDropped.Inc()
		}
		q.logger.Warn().
			Str("api_id", call.APIID).
			Str("user_id", call.UserID).
			Msg("meter queue saturated, call dropped")
	}
}

// Errors exposes metering failures for observation.
func (q *MeterQueue) Errors() <-chan error {
	return q.errs
}

// Close stops accepting calls, drains the queue and stops the workers.
func (q *MeterQueue) Close() error {
	q.closeMu.Lock()
	if q.closed {
		q.closeMu.Unlock()
		return nil
	}
	q.closed = true
	close(q.calls)
	q.closeMu.Unlock()

	q.wg.Wait()
	close(q.errs)
	return nil
}

func (q *MeterQueue) worker() {
	defer q.wg.Done()
	for call := range q.calls {
		if q.collector != nil {
			q.collector.MeterQueueDepth.Set(float64(len(q.calls)))
		}

		ctx, cancel := context.WithTimeout(context.Background(), meterTimeout)
		_, err := q.meter.LogUsage(ctx, call)
		cancel()
		if err != nil {
			q.logger.Error().Err(err).
				Str("api_id", call.APIID).
				Str("user_id", call.UserID).
				Msg("metering failed")
			select {
			case q.errs <- err:
			default:
			}
		}
	}
}

var _ ports.MeterQueue = (*MeterQueue)(nil)
