package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/fngate/fngate/adapters/clock"
	"github.com/fngate/fngate/adapters/idgen"
	"github.com/fngate/fngate/adapters/memory"
	"github.com/fngate/fngate/app"
	"github.com/fngate/fngate/domain/execution"
	"github.com/fngate/fngate/domain/metering"
)

type meterFixture struct {
	service *app.MeterService
	usage   *memory.UsageStore
	events  *memory.EventLog
	prices  *memory.PricingStore
	clock   *clock.Fake
}

func newMeter(t *testing.T) *meterFixture {
	t.Helper()
	f := &meterFixture{
		usage:  memory.NewUsageStore(),
		events: memory.NewEventLog(),
		prices: memory.NewPricingStore(),
		clock:  clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
	}
	f.service = app.NewMeterService(app.MeterDeps{
		Usage:  f.usage,
		Events: f.events,
		Prices: f.prices,
		Clock:  f.clock,
		IDGen:  idgen.NewSequential("rec_"),
		Logger: zerolog.Nop(),
	}, 5*time.Minute)
	return f
}

func someCall() metering.Call {
	return metering.Call{
		APIID:     "api1",
		UserID:    "u1",
		APIKeyRef: "key-ref",
		Request: execution.Request{
			Method: "POST",
			URL:    "/v1/run",
			Body:   []byte(`{"n":1}`),
		},
		Result: execution.Result{
			ExecutionID:     "exec_1",
			Success:         true,
			Response:        []byte(`{"ok":true}`),
			ExecutionTimeMs: 150,
		},
		IPAddress: "10.0.0.1",
		UserAgent: "test-agent",
	}
}

func TestMeter_LogUsage(t *testing.T) {
	f := newMeter(t)
	ctx := context.Background()

	record, err := f.service.LogUsage(ctx, someCall())
	if err != nil {
		t.Fatalf("LogUsage: %v", err)
	}

	if record.ID != "rec_1" {
		t.Errorf("ID = %q", record.ID)
	}
	if record.APIID != "api1" || record.UserID != "u1" {
		t.Errorf("identity = %s/%s", record.APIID, record.UserID)
	}
	if record.StatusCode != 200 {
		t.Errorf("StatusCode = %d", record.StatusCode)
	}
	if record.Cost < metering.DefaultPricing.BasePrice {
		t.Errorf("Cost = %v, below base price", record.Cost)
	}
	if record.BytesIn != metering.RequestSize(someCall().Request) {
		t.Errorf("BytesIn = %d", record.BytesIn)
	}

	// Record persisted, event published.
	if got := f.usage.All(); len(got) != 1 {
		t.Errorf("stored records = %d, want 1", len(got))
	}
	if n, _ := f.events.Len(ctx); n != 1 {
		t.Errorf("events = %d, want 1", n)
	}
}

func TestMeter_CustomPricing(t *testing.T) {
	f := newMeter(t)
	f.prices.Set("api1", metering.Pricing{BasePrice: 0.05})

	record, err := f.service.LogUsage(context.Background(), someCall())
	if err != nil {
		t.Fatalf("LogUsage: %v", err)
	}
	if record.Cost < 0.05 {
		t.Errorf("Cost = %v, want at least the custom base price", record.Cost)
	}
}

func TestMeter_PricingCache(t *testing.T) {
	f := newMeter(t)
	ctx := context.Background()

	// First call caches the default (api has no pricing row yet).
	first, _ := f.service.LogUsage(ctx, someCall())

	// Pricing appears, but the cache still serves the old value.
	f.prices.Set("api1", metering.Pricing{BasePrice: 0.05})
	second, _ := f.service.LogUsage(ctx, someCall())
	if second.Cost != first.Cost {
		t.Errorf("cached pricing ignored: %v vs %v", second.Cost, first.Cost)
	}

	// After the TTL the store is consulted again.
	f.clock.Advance(6 * time.Minute)
	third, _ := f.service.LogUsage(ctx, someCall())
	if third.Cost < 0.05 {
		t.Errorf("Cost = %v, want refreshed pricing", third.Cost)
	}
}

func TestMeter_FailedCallStillMetered(t *testing.T) {
	f := newMeter(t)

	call := someCall()
	call.Result = execution.Result{
		ExecutionID:     "exec_1",
		Success:         false,
		Error:           "process exited with code 1",
		Failure:         execution.FailureCrash,
		ExecutionTimeMs: 80,
	}

	record, err := f.service.LogUsage(context.Background(), call)
	if err != nil {
		t.Fatalf("LogUsage: %v", err)
	}
	if record.StatusCode != 500 {
		t.Errorf("StatusCode = %d, want 500", record.StatusCode)
	}
	if !record.IsError() {
		t.Error("failed call should be an error record")
	}
	if record.Cost <= 0 {
		t.Errorf("Cost = %v, failures are still billed", record.Cost)
	}
}

func TestMeter_InvalidCall(t *testing.T) {
	f := newMeter(t)

	call := someCall()
	call.UserID = ""

	_, err := f.service.LogUsage(context.Background(), call)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if got := f.usage.All(); len(got) != 0 {
		t.Errorf("invalid record persisted: %v", got)
	}
}

type failingUsageStore struct {
	*memory.UsageStore
}

func (failingUsageStore) Record(ctx context.Context, r metering.UsageRecord) error {
	return errors.New("disk full")
}

func TestMeter_PersistFailureIsErrPersist(t *testing.T) {
	f := newMeter(t)
	service := app.NewMeterService(app.MeterDeps{
		Usage:  failingUsageStore{f.usage},
		Events: f.events,
		Prices: f.prices,
		Clock:  f.clock,
		IDGen:  idgen.NewSequential("rec_"),
		Logger: zerolog.Nop(),
	}, time.Minute)

	record, err := service.LogUsage(context.Background(), someCall())
	if !errors.Is(err, app.ErrPersist) {
		t.Errorf("err = %v, want ErrPersist", err)
	}
	// The record is still fully built for the caller to inspect.
	if record.ID == "" || record.Cost <= 0 {
		t.Errorf("record = %+v", record)
	}
}
