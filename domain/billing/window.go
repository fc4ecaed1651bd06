package billing

import "time"

// Window is one aggregation interval [Start, End).
type Window struct {
	Period Period
	Start  time.Time
}

// End returns the exclusive end of the window.
func (w Window) End() time.Time {
	return w.Start.Add(w.Period.Duration())
}

// WindowStart truncates t to the start of its window in UTC.
// This is a PURE function.
func WindowStart(p Period, t time.Time) time.Time {
	t = t.UTC()
	if p == PeriodDaily {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	return t.Truncate(time.Hour)
}

// ClosedWindows returns every fully-closed window of period p following the
// watermark (the start of the last materialized window), oldest first. A
// zero watermark yields only the most recently closed window, so a fresh
// deployment does not re-aggregate unbounded history. This is a PURE function.
func ClosedWindows(p Period, watermark, now time.Time) []Window {
	if now.IsZero() {
		return nil
	}

	latest := WindowStart(p, now).Add(-p.Duration())
	first := latest
	if !watermark.IsZero() {
		first = WindowStart(p, watermark).Add(p.Duration())
	}
	if first.After(latest) {
		return nil
	}

	var windows []Window
	for start := first; !start.After(latest); start = start.Add(p.Duration()) {
		windows = append(windows, Window{Period: p, Start: start})
	}
	return windows
}
