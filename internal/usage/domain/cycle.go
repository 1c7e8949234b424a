package domain

import "time"

// CycleLength is the fixed billing-cycle length. Cycles are rolling
// 30-day windows anchored at the user's subscription start.
const CycleLength = 30 * 24 * time.Hour

// CycleWindowAt derives the billing cycle containing now for the given
// anchor. Pure function: repeated calls with the same inputs return the
// same window.
func CycleWindowAt(anchor, now time.Time) Window {
	anchor = anchor.UTC()
	now = now.UTC()

	if now.Before(anchor) {
		return Window{Start: anchor, End: anchor.Add(CycleLength)}
	}

	n := now.Sub(anchor) / CycleLength
	start := anchor.Add(n * CycleLength)
	return Window{Start: start, End: start.Add(CycleLength)}
}
