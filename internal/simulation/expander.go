// Package simulation implements the recurrence-expansion and
// ledger-accumulation engine. Both halves are pure functions of their
// inputs: no clock, no I/O, no state carried between invocations.
package simulation

import (
	"cashflowsim/internal/core"
)

// Occurrences enumerates, in ascending order, every date the event
// contributes within the window. The enumeration is deterministic and
// bounded by the window length; repeated calls with equal inputs yield
// equal results.
//
// Rules, in evaluation order:
//   - events starting after the window or ending before it contribute
//     nothing;
//   - an event whose start and end dates coincide is a one-shot on that
//     day regardless of frequency, as is an event with no repeating
//     frequency;
//   - daily events anchor at the later of their start date and the window
//     begin, so a long-running daily event does not walk through its
//     backlog day by day;
//   - the remaining cadences count periods from the start date, keeping
//     the recurrence phase anchored there (monthly from the 31st lands on
//     each month's 31st, clamped per month, never compounding the clamp);
//   - once repetition is active the end date is an exclusive bound: the
//     occurrence at or after it is not emitted.
func Occurrences(e core.Event, w core.Window) []core.Date {
	// Event starts after the window closes.
	if w.End.Before(e.StartDate.Time) {
		return nil
	}
	// Event already ended before the window opens.
	if !e.EndDate.IsZero() && e.EndDate.Before(w.Begin.Time) {
		return nil
	}

	// Coinciding start and end dates always mean a single occurrence on
	// that day, whatever the frequency says.
	if !e.EndDate.IsZero() && e.StartDate.Equal(e.EndDate.Time) {
		if w.Contains(e.StartDate) {
			return []core.Date{e.StartDate}
		}
		return nil
	}

	// An unrecognized frequency contributes nothing. An absent one is a
	// one-shot, same as "none".
	if !e.Frequency.Known() && e.Frequency != "" {
		return nil
	}
	if !e.Frequency.Repeats() {
		if w.Contains(e.StartDate) {
			return []core.Date{e.StartDate}
		}
		return nil
	}

	anchor, k := firstCandidate(e, w)
	current := e.Frequency.Advance(anchor, k)

	var dates []core.Date
	for !current.After(w.End.Time) {
		// Exclusive end bound once repetition is active.
		if !e.EndDate.IsZero() && !current.Before(e.EndDate.Time) {
			break
		}
		dates = append(dates, current)
		k++
		current = e.Frequency.Advance(anchor, k)
	}
	return dates
}

// firstCandidate returns the recurrence anchor and the period count of the
// first occurrence on or after the window begin.
func firstCandidate(e core.Event, w core.Window) (core.Date, int) {
	if e.Frequency == core.FreqDaily {
		// Daily events are always-active from their start; begin at the
		// window boundary instead of walking from a distant start date.
		if e.StartDate.After(w.Begin.Time) {
			return e.StartDate, 0
		}
		return w.Begin, 0
	}

	k := 0
	for e.Frequency.Advance(e.StartDate, k).Before(w.Begin.Time) {
		k++
	}
	return e.StartDate, k
}
