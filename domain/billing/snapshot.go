package billing

import (
	"encoding/json"
	"sort"
	"strconv"
	"time"
)

// Period identifies a snapshot window kind.
type Period string

const (
	PeriodHourly Period = "hourly"
	PeriodDaily  Period = "daily"
)

// Duration returns the window length for the period.
func (p Period) Duration() time.Duration {
	if p == PeriodDaily {
		return 24 * time.Hour
	}
	return time.Hour
}

// Histogram counts occurrences by string key. Keys iterate in sorted order
// so snapshot serialization is deterministic.
type Histogram map[string]int64

// Keys returns the histogram keys in sorted order.
func (h Histogram) Keys() []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalJSON encodes the histogram with sorted keys.
func (h Histogram) MarshalJSON() ([]byte, error) {
	if h == nil {
		return []byte("{}"), nil
	}
	buf := []byte{'{'}
	for i, k := range h.Keys() {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf = append(buf, kb...)
		buf = append(buf, ':')
		buf = strconv.AppendInt(buf, h[k], 10)
	}
	return append(buf, '}'), nil
}

// Snapshot is one materialized usage window, keyed uniquely by
// (UserID, APIID, Period, PeriodStart). Materialization upserts on that key
// so re-running a window is idempotent.
type Snapshot struct {
	UserID          string    `json:"userId"`
	APIID           string    `json:"apiId"`
	Period          Period    `json:"period"`
	PeriodStart     time.Time `json:"periodStart"`
	RequestCount    int64     `json:"requestCount"`
	TotalDurationMs int64     `json:"totalDurationMs"`
	TotalBytesIn    int64     `json:"totalBytesIn"`
	TotalBytesOut   int64     `json:"totalBytesOut"`
	TotalCost       float64   `json:"totalCost"`
	AvgDurationMs   int64     `json:"avgDurationMs"`
	ErrorCount      int64     `json:"errorCount"`
	SuccessCount    int64     `json:"successCount"`
	StatusCodes     Histogram `json:"statusCodes"`
	Endpoints       Histogram `json:"endpoints"`
}

// PeriodEnd returns the exclusive end of the snapshot window.
func (s Snapshot) PeriodEnd() time.Time {
	return s.PeriodStart.Add(s.Period.Duration())
}
