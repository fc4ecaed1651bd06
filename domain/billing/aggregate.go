package billing

import (
	"sort"
	"strconv"
	"time"

	"github.com/fngate/fngate/domain/metering"
)

// BuildSnapshots aggregates usage records into one snapshot per
// (UserID, APIID) group for the given window. Records outside
// [start, start+period) are ignored. Snapshots are returned in a
// deterministic order (sorted by user then api).
// This is a PURE function.
func BuildSnapshots(records []metering.UsageRecord, p Period, start time.Time) []Snapshot {
	end := start.Add(p.Duration())

	type groupKey struct {
		userID string
		apiID  string
	}
	groups := make(map[groupKey]*Snapshot)

	for _, r := range records {
		if r.Timestamp.Before(start) || !r.Timestamp.Before(end) {
			continue
		}

		key := groupKey{userID: r.UserID, apiID: r.APIID}
		snap, ok := groups[key]
		if !ok {
			snap = &Snapshot{
				UserID:      r.UserID,
				APIID:       r.APIID,
				Period:      p,
				PeriodStart: start,
				StatusCodes: Histogram{},
				Endpoints:   Histogram{},
			}
			groups[key] = snap
		}

		snap.RequestCount++
		snap.TotalDurationMs += r.DurationMs
		snap.TotalBytesIn += r.BytesIn
		snap.TotalBytesOut += r.BytesOut
		snap.TotalCost = metering.RoundCost(snap.TotalCost + r.Cost)
		if r.IsError() {
			snap.ErrorCount++
		} else {
			snap.SuccessCount++
		}
		snap.StatusCodes[strconv.Itoa(r.StatusCode)]++
		snap.Endpoints[r.Endpoint]++
	}

	snapshots := make([]Snapshot, 0, len(groups))
	for _, snap := range groups {
		if snap.RequestCount > 0 {
			snap.AvgDurationMs = snap.TotalDurationMs / snap.RequestCount
		}
		snapshots = append(snapshots, *snap)
	}

	sort.Slice(snapshots, func(i, j int) bool {
		if snapshots[i].UserID != snapshots[j].UserID {
			return snapshots[i].UserID < snapshots[j].UserID
		}
		return snapshots[i].APIID < snapshots[j].APIID
	})
	return snapshots
}
