package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fngate/fngate/adapters/memory"
	"github.com/fngate/fngate/domain/billing"
	"github.com/fngate/fngate/domain/metering"
	"github.com/fngate/fngate/ports"
)

func TestUsageStore_ListWindow(t *testing.T) {
	store := memory.NewUsageStore()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Inserted out of order; the window lists by timestamp.
	for _, offset := range []time.Duration{30 * time.Minute, 0, 59 * time.Minute, time.Hour, -time.Second} {
		r := metering.UsageRecord{
			ID:        "r" + offset.String(),
			APIID:     "api1",
			UserID:    "u1",
			Timestamp: base.Add(offset),
		}
		if err := store.Record(ctx, r); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := store.ListWindow(ctx, base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("ListWindow: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d records, want 3 (start inclusive, end exclusive)", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp.Before(got[i-1].Timestamp) {
			t.Errorf("records out of order: %v", got)
		}
	}
}

func TestSnapshotStore_UpsertReplaces(t *testing.T) {
	store := memory.NewSnapshotStore()
	ctx := context.Background()
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	snap := billing.Snapshot{
		UserID:       "u1",
		APIID:        "api1",
		Period:       billing.PeriodHourly,
		PeriodStart:  start,
		RequestCount: 5,
	}
	if err := store.Upsert(ctx, snap); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	// Re-materializing the same window replaces, never duplicates.
	snap.RequestCount = 7
	if err := store.Upsert(ctx, snap); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if store.Count() != 1 {
		t.Errorf("Count = %d, want 1", store.Count())
	}

	got, err := store.Get(ctx, "u1", "api1", billing.PeriodHourly, start)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.RequestCount != 7 {
		t.Errorf("RequestCount = %d, want 7", got.RequestCount)
	}

	_, err = store.Get(ctx, "u1", "api1", billing.PeriodDaily, start)
	if !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("Get other period err = %v, want ErrNotFound", err)
	}
}

func TestSnapshotStore_Watermark(t *testing.T) {
	store := memory.NewSnapshotStore()
	ctx := context.Background()

	wm, err := store.Watermark(ctx, billing.PeriodHourly)
	if err != nil {
		t.Fatalf("Watermark: %v", err)
	}
	if !wm.IsZero() {
		t.Errorf("fresh watermark = %v, want zero", wm)
	}

	start := time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC)
	if err := store.SetWatermark(ctx, billing.PeriodHourly, start); err != nil {
		t.Fatalf("SetWatermark: %v", err)
	}

	wm, _ = store.Watermark(ctx, billing.PeriodHourly)
	if !wm.Equal(start) {
		t.Errorf("watermark = %v, want %v", wm, start)
	}

	// Periods keep independent watermarks.
	wm, _ = store.Watermark(ctx, billing.PeriodDaily)
	if !wm.IsZero() {
		t.Errorf("daily watermark = %v, want zero", wm)
	}
}

func TestPricingStore(t *testing.T) {
	store := memory.NewPricingStore()
	ctx := context.Background()

	_, err := store.Get(ctx, "api1")
	if !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("Get missing err = %v, want ErrNotFound", err)
	}

	p := metering.Pricing{BasePrice: 0.01, DurationPrice: 0.001, DataPrice: 0.0001}
	store.Set("api1", p)

	got, err := store.Get(ctx, "api1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != p {
		t.Errorf("pricing = %+v, want %+v", got, p)
	}
}

func TestArtifactStore(t *testing.T) {
	store := memory.NewArtifactStore()
	ctx := context.Background()

	_, err := store.Fetch(ctx, "missing")
	if !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("Fetch missing err = %v, want ErrNotFound", err)
	}

	code := []byte("module.exports = async () => ({statusCode: 200})")
	store.Put("ref1", code)

	got, err := store.Fetch(ctx, "ref1")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(got) != string(code) {
		t.Errorf("Fetch = %q", got)
	}

	// Returned slice is a copy; mutating it must not corrupt the store.
	got[0] = 'X'
	again, _ := store.Fetch(ctx, "ref1")
	if string(again) != string(code) {
		t.Error("Fetch returned shared backing array")
	}
}

func TestEngine_Scripting(t *testing.T) {
	engine := memory.NewEngine()
	ctx := context.Background()

	engine.DefaultRun = memory.EngineRun{
		Result: ports.RunResult{ExitCode: 0, CombinedOutput: []byte(`{"ok":true}`)},
	}
	engine.Script("special:tag", memory.EngineRun{
		Result: ports.RunResult{ExitCode: 137, OOMKilled: true},
	})

	res, err := engine.Run(ctx, ports.RunSpec{Image: "anything:latest"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if string(res.CombinedOutput) != `{"ok":true}` {
		t.Errorf("output = %q", res.CombinedOutput)
	}

	res, err = engine.Run(ctx, ports.RunSpec{Image: "special:tag"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.OOMKilled || res.ExitCode != 137 {
		t.Errorf("result = %+v", res)
	}

	if err := engine.BuildImage(ctx, ports.BuildSpec{Tag: "t1"}); err != nil {
		t.Fatalf("BuildImage: %v", err)
	}
	if len(engine.Builds()) != 1 {
		t.Errorf("Builds = %v", engine.Builds())
	}

	if err := engine.RemoveImage(ctx, "t1"); err != nil {
		t.Fatalf("RemoveImage: %v", err)
	}
	if got := engine.Removed(); len(got) != 1 || got[0] != "t1" {
		t.Errorf("Removed = %v", got)
	}
}

func TestEngine_HangRespectsContext(t *testing.T) {
	engine := memory.NewEngine()
	engine.DefaultRun = memory.EngineRun{Hang: true}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := engine.Run(ctx, ports.RunSpec{Image: "img"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if engine.Live() != 0 {
		t.Errorf("Live = %d after run returned", engine.Live())
	}
}
