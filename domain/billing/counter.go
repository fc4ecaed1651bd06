package billing

import "github.com/fngate/fngate/domain/metering"

// Counter is an ephemeral running total for one (UserID, APIID) pair.
// Cost is kept in scaled integer micro-units so concurrent increments never
// accumulate floating drift; the store resets the TTL on every update and a
// missing or expired key reads as all-zero.
type Counter struct {
	Requests   int64 `json:"requests"`
	BytesIn    int64 `json:"bytesIn"`
	BytesOut   int64 `json:"bytesOut"`
	CostMicros int64 `json:"costMicros"`
	DurationMs int64 `json:"durationMs"`
	Errors     int64 `json:"errors"`
	Success    int64 `json:"success"`
}

// Cost returns the accumulated cost in currency units.
func (c Counter) Cost() float64 {
	return metering.CostFromMicros(c.CostMicros)
}

// CounterUpdate is one atomic increment derived from a usage record.
type CounterUpdate struct {
	UserID string
	APIID  string
	Delta  Counter
}

// UpdateFromRecord converts a usage record into a counter increment.
// This is a PURE function.
func UpdateFromRecord(r metering.UsageRecord) CounterUpdate {
	delta := Counter{
		Requests:   1,
		BytesIn:    r.BytesIn,
		BytesOut:   r.BytesOut,
		CostMicros: metering.CostMicros(r.Cost),
		DurationMs: r.DurationMs,
	}
	if r.IsError() {
		delta.Errors = 1
	} else {
		delta.Success = 1
	}
	return CounterUpdate{UserID: r.UserID, APIID: r.APIID, Delta: delta}
}
