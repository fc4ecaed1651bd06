package metering_test

import (
	"testing"

	"github.com/fngate/fngate/domain/metering"
)

func TestCost(t *testing.T) {
	pricing := metering.Pricing{
		BasePrice:     0.001,
		DurationPrice: 0.0001,
		DataPrice:     0.000001,
	}

	tests := []struct {
		name       string
		durationMs int64
		bytesIn    int64
		bytesOut   int64
		want       float64
	}{
		{
			// durationCost = 0.000015, dataCost = 0.0000015,
			// total 0.0010165 rounds up to 0.001017
			name:       "worked example",
			durationMs: 150,
			bytesIn:    1024,
			bytesOut:   512,
			want:       0.001017,
		},
		{
			name: "zero duration and data",
			want: 0.001,
		},
		{
			name:       "one second one KiB",
			durationMs: 1000,
			bytesIn:    1024,
			want:       0.001101,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := metering.Cost(pricing, tt.durationMs, tt.bytesIn, tt.bytesOut)
			if got != tt.want {
				t.Errorf("Cost() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCostNeverBelowBase(t *testing.T) {
	pricings := []metering.Pricing{
		{BasePrice: 0.001, DurationPrice: 0.0001, DataPrice: 0.000001},
		{BasePrice: 0.5, DurationPrice: 0.01, DataPrice: 0.0001},
		{BasePrice: 0},
		metering.DefaultPricing,
	}

	for _, p := range pricings {
		for _, dur := range []int64{0, 1, 150, 60000} {
			for _, b := range []int64{0, 100, 1 << 20} {
				if got := metering.Cost(p, dur, b, b); got < metering.RoundCost(p.BasePrice) {
					t.Errorf("Cost(%+v, %d, %d, %d) = %v below base price", p, dur, b, b, got)
				}
			}
		}
	}
}

func TestCostDeterministic(t *testing.T) {
	a := metering.Cost(metering.DefaultPricing, 150, 1024, 512)
	for i := 0; i < 100; i++ {
		if b := metering.Cost(metering.DefaultPricing, 150, 1024, 512); b != a {
			t.Fatalf("Cost() not deterministic: %v != %v", b, a)
		}
	}
}

func TestCostMicrosRoundTrip(t *testing.T) {
	tests := []struct {
		cost float64
		want int64
	}{
		{0.001017, 1017},
		{0, 0},
		{1.5, 1500000},
	}
	for _, tt := range tests {
		got := metering.CostMicros(tt.cost)
		if got != tt.want {
			t.Errorf("CostMicros(%v) = %d, want %d", tt.cost, got, tt.want)
		}
		if back := metering.CostFromMicros(got); back != tt.cost {
			t.Errorf("CostFromMicros(%d) = %v, want %v", got, back, tt.cost)
		}
	}
}

func TestUsageRecordValidate(t *testing.T) {
	valid := metering.UsageRecord{APIID: "api-1", UserID: "u-1", Cost: 0.001}

	tests := []struct {
		name    string
		mutate  func(*metering.UsageRecord)
		wantErr error
	}{
		{"valid", func(r *metering.UsageRecord) {}, nil},
		{"missing api id", func(r *metering.UsageRecord) { r.APIID = "" }, metering.ErrMissingAPIID},
		{"missing user id", func(r *metering.UsageRecord) { r.UserID = "" }, metering.ErrMissingUserID},
		{"negative cost", func(r *metering.UsageRecord) { r.Cost = -0.01 }, metering.ErrNegativeCost},
		{"negative duration", func(r *metering.UsageRecord) { r.DurationMs = -1 }, metering.ErrNegativeTime},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			if err := r.Validate(); err != tt.wantErr {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
