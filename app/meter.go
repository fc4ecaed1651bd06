package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fngate/fngate/adapters/metrics"
	"github.com/fngate/fngate/domain/billing"
	"github.com/fngate/fngate/domain/metering"
	"github.com/fngate/fngate/ports"
)

// Metering failures are operational, never fatal to the invocation: the
// response has already been sent when metering runs.
var (
	// ErrPersist wraps a usage record store failure.
	ErrPersist = errors.New("persist usage record")
	// ErrPublish wraps an event log append failure.
	ErrPublish = errors.New("publish usage event")
)

// MeterService turns completed calls into priced usage records: size the
// request and response, resolve pricing, compute cost, persist the record,
// then publish the event for the billing worker.
type MeterService struct {
	usage  ports.UsageStore
	events ports.EventLog
	prices ports.PricingStore
	clock  ports.Clock
	idGen  ports.IDGenerator
	logger zerolog.Logger

	collector *metrics.Collector

	cacheTTL time.Duration
	mu       sync.Mutex
	cache    map[string]cachedPricing
}

type cachedPricing struct {
	pricing metering.Pricing
	expires time.Time
}

// MeterDeps contains dependencies for MeterService.
type MeterDeps struct {
	Usage     ports.UsageStore
	Events    ports.EventLog
	Prices    ports.PricingStore
	Clock     ports.Clock
	IDGen     ports.IDGenerator
	Logger    zerolog.Logger
	Collector *metrics.Collector
}

// NewMeterService creates a meter service. cacheTTL bounds how long a
// resolved pricing is reused before the store is consulted again.
func NewMeterService(deps MeterDeps, cacheTTL time.Duration) *MeterService {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &MeterService{
		usage:     deps.Usage,
		events:    deps.Events,
		prices:    deps.Prices,
		clock:     deps.Clock,
		idGen:     deps.IDGen,
		logger:    deps.Logger,
		collector: deps.Collector,
		cacheTTL:  cacheTTL,
		cache:     map[string]cachedPricing{},
	}
}

// LogUsage meters one completed call. The returned record is always fully
// built; the error reports persistence or publication failures that the
// caller may observe but must not propagate to the invoker.
func (s *MeterService) LogUsage(ctx context.Context, call metering.Call) (metering.UsageRecord, error) {
	record := s.buildRecord(call)

	if err := record.Validate(); err != nil {
		return record, fmt.Errorf("invalid usage record: %w", err)
	}

	if err := s.usage.Record(ctx, record); err != nil {
		s.countError("persist")
		s.logger.Error().Err(err).Str("record_id", record.ID).Msg("usage record persist failed")
		return record, fmt.Errorf("%w: %v", ErrPersist, err)
	}

	if _, err := s.events.Append(ctx, billing.EncodeEvent(record)); err != nil {
		s.countError("publish")
		s.logger.Error().Err(err).Str("record_id", record.ID).Msg("usage event publish failed")
		return record, fmt.Errorf("%w: %v", ErrPublish, err)
	}

	if s.collector != nil {
		s.collector.MeterRecords.Inc()
	}
	return record, nil
}

// buildRecord sizes and prices the call. This never fails: a missing or
// erroring pricing store falls back to the default pricing.
func (s *MeterService) buildRecord(call metering.Call) metering.UsageRecord {
	req := call.Request
	bytesIn := metering.RequestSize(req)
	bytesOut := metering.ResponseSize(call.ResponseHeaders, call.ResponseBody())
	durationMs := call.Result.ExecutionTimeMs

	pricing := s.pricingFor(call.APIID)
	cost := metering.Cost(pricing, durationMs, bytesIn, bytesOut)

	return metering.UsageRecord{
		ID:          s.idGen.New(),
		APIID:       call.APIID,
		UserID:      call.UserID,
		Endpoint:    req.URL,
		Method:      req.Method,
		Timestamp:   s.clock.Now().UTC(),
		DurationMs:  durationMs,
		BytesIn:     bytesIn,
		BytesOut:    bytesOut,
		StatusCode:  call.Result.StatusCode(),
		IPAddress:   call.IPAddress,
		UserAgent:   call.UserAgent,
		APIKeyRef:   call.APIKeyRef,
		ExecutionID: call.Result.ExecutionID,
		Cost:        cost,
		Metadata:    call.Metadata,
	}
}

// pricingFor resolves pricing through the TTL cache. Lookup failures fall
// back to the default pricing so metering never blocks on the store.
func (s *MeterService) pricingFor(apiID string) metering.Pricing {
	now := s.clock.Now()

	s.mu.Lock()
	if c, ok := s.cache[apiID]; ok && now.Before(c.expires) {
		s.mu.Unlock()
		return c.pricing
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pricing, err := s.prices.Get(ctx, apiID)
	if err != nil {
		if !errors.Is(err, ports.ErrNotFound) {
			s.logger.Warn().Err(err).Str("api_id", apiID).Msg("pricing lookup failed, using default")
		}
		pricing = metering.DefaultPricing
	}

	s.mu.Lock()
	s.cache[apiID] = cachedPricing{pricing: pricing, expires: now.Add(s.cacheTTL)}
	s.mu.Unlock()
	return pricing
}

func (s *MeterService) countError(stage string) {
	if s.collector != nil {
		s.collector.MeterErrors.WithLabelValues(stage).Inc()
	}
}
