package metering

import "math"

// Pricing holds the per-API price components, all in currency units.
type Pricing struct {
	BasePrice     float64 // flat price per call
	DurationPrice float64 // price per second of execution
	DataPrice     float64 // price per KiB transferred
}

// DefaultPricing is applied when no per-API pricing can be resolved.
// Metering must never block or fail on a pricing lookup.
var DefaultPricing = Pricing{
	BasePrice:     0.001,
	DurationPrice: 0.0001,
	DataPrice:     0.000001,
}

// costPrecision is the number of fractional decimal places costs are
// rounded to.
const costPrecision = 1e6

// Cost computes the price of one call:
//
//	cost = base + (durationMs/1000)*durationPrice + ((bytesIn+bytesOut)/1024)*dataPrice
//
// rounded half away from zero to 6 decimal places. Deterministic for
// identical inputs. This is a PURE function.
func Cost(p Pricing, durationMs, bytesIn, bytesOut int64) float64 {
	durationCost := float64(durationMs) / 1000.0 * p.DurationPrice
	dataCost := float64(bytesIn+bytesOut) / 1024.0 * p.DataPrice
	return RoundCost(p.BasePrice + durationCost + dataCost)
}

// RoundCost rounds a cost to 6 decimal places.
func RoundCost(c float64) float64 {
	return math.Round(c*costPrecision) / costPrecision
}

// CostMicros converts a cost to scaled integer micro-units, the
// representation used by the realtime counters to avoid floating drift.
func CostMicros(c float64) int64 {
	return int64(math.Round(c * costPrecision))
}

// CostFromMicros converts scaled micro-units back to currency units.
func CostFromMicros(m int64) float64 {
	return float64(m) / costPrecision
}
