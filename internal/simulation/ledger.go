package simulation

import (
	"fmt"
	"sort"

	"cashflowsim/internal/core"
)

// Contribution is one event's share of a ledger entry.
type Contribution struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
}

// LedgerEntry is the per-date aggregation of all occurrences plus the
// running balance after them. Cashflow and Balance are integer cents so
// balances accumulate without floating-point drift.
type LedgerEntry struct {
	Date     core.Date      `json:"date"`
	Cashflow int64          `json:"cashflow"`
	Balance  int64          `json:"balance"`
	Items    []Contribution `json:"items"`
}

// emptyContributions is the shared Items slice of the synthetic opening
// entry, kept non-nil so it encodes as [] rather than null.
var emptyContributions = make([]Contribution, 0)

// Build expands every event over the window, groups same-day occurrences
// into entries, and folds them into a running balance starting from
// initialBalance. The first entry is always a synthetic opening row at the
// window begin (zero cashflow, no items); it precedes any real entry on
// the same date and anchors the balance series.
//
// Validation happens entirely up front: an inverted window or a malformed
// event fails the whole build with no partial result. Once expansion
// starts the computation is total.
func Build(events []core.Event, w core.Window, initialBalance int64) ([]LedgerEntry, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	for _, e := range events {
		if err := e.Validate(); err != nil {
			return nil, err
		}
	}

	byDate := make(map[core.Date][]Contribution)
	for _, e := range events {
		if !e.Contributes() {
			continue
		}
		for _, d := range Occurrences(e, w) {
			byDate[d] = append(byDate[d], Contribution{Name: e.Name, Value: e.Value})
		}
	}

	entries := make([]LedgerEntry, 0, len(byDate)+1)
	entries = append(entries, LedgerEntry{
		Date:     w.Begin,
		Cashflow: 0,
		Balance:  initialBalance,
		Items:    emptyContributions,
	})

	dates := make([]core.Date, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j].Time) })

	balance := initialBalance
	for _, d := range dates {
		items := byDate[d]
		var cashflow int64
		for _, it := range items {
			cashflow += it.Value
		}
		balance += cashflow
		entries = append(entries, LedgerEntry{
			Date:     d,
			Cashflow: cashflow,
			Balance:  balance,
			Items:    items,
		})
	}

	return entries, nil
}

// UnknownFrequencies returns the names of contributing events whose
// frequency is not a recognized cadence. They are skipped silently during
// a build; callers use this to log a warning per offending event.
func UnknownFrequencies(events []core.Event) []string {
	var names []string
	for _, e := range events {
		if !e.Contributes() {
			continue
		}
		if e.Frequency != "" && !e.Frequency.Known() {
			names = append(names, fmt.Sprintf("%s (%s)", e.Name, e.Frequency))
		}
	}
	return names
}
