package core

// Frequency is the recurrence cadence of an event. It is a closed
// enumeration: every recognized value carries its own date-advance rule,
// selected by exhaustive switch rather than a lookup table.
type Frequency string

const (
	FreqNone       Frequency = "none"
	FreqDaily      Frequency = "daily"
	FreqWeekly     Frequency = "weekly"
	FreqMonthly    Frequency = "monthly"
	FreqQuarterly  Frequency = "quarterly"
	FreqSemiAnnual Frequency = "semi-annual"
	FreqAnnual     Frequency = "annual"
)

// Known reports whether f is a recognized frequency. Matching is
// case-sensitive and exact; an unrecognized frequency contributes no
// occurrences but is never a request-level error.
func (f Frequency) Known() bool {
	switch f {
	case FreqNone, FreqDaily, FreqWeekly, FreqMonthly, FreqQuarterly, FreqSemiAnnual, FreqAnnual:
		return true
	}
	return false
}

// Repeats reports whether f drives repetition beyond the first occurrence.
func (f Frequency) Repeats() bool {
	return f.Known() && f != FreqNone
}

// Advance returns the k-th occurrence counted from anchor. Month- and
// year-based cadences are always computed from the anchor so its day of
// month is preserved wherever the target month allows it and clamped only
// for that month: an anchor on Jan 31 lands on Feb 29, Mar 31, Apr 30, so
// the clamp never compounds. FreqNone and unrecognized values stay put.
func (f Frequency) Advance(anchor Date, k int) Date {
	switch f {
	case FreqDaily:
		return anchor.AddDays(k)
	case FreqWeekly:
		return anchor.AddDays(7 * k)
	case FreqMonthly:
		return anchor.AddMonths(k)
	case FreqQuarterly:
		return anchor.AddMonths(3 * k)
	case FreqSemiAnnual:
		return anchor.AddMonths(6 * k)
	case FreqAnnual:
		return anchor.AddYears(k)
	default:
		return anchor
	}
}
