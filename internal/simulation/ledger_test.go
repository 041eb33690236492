package simulation

import (
	"errors"
	"reflect"
	"testing"

	"cashflowsim/internal/core"
)

func TestBuild_EndToEnd(t *testing.T) {
	events := []core.Event{
		{
			Name:      "Salary",
			StartDate: core.NewDate(2024, 1, 25),
			Frequency: core.FreqMonthly,
			Value:     3000,
		},
		{
			Name:      "Rent",
			StartDate: core.NewDate(2024, 1, 5),
			Frequency: core.FreqMonthly,
			Value:     -1300,
		},
	}
	w := core.Window{Begin: core.NewDate(2024, 2, 1), End: core.NewDate(2024, 3, 1)}

	entries, err := Build(events, w, 1000)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	want := []LedgerEntry{
		{Date: core.NewDate(2024, 2, 1), Cashflow: 0, Balance: 1000, Items: []Contribution{}},
		{Date: core.NewDate(2024, 2, 5), Cashflow: -1300, Balance: -300, Items: []Contribution{{Name: "Rent", Value: -1300}}},
		{Date: core.NewDate(2024, 2, 25), Cashflow: 3000, Balance: 2700, Items: []Contribution{{Name: "Salary", Value: 3000}}},
	}
	if !reflect.DeepEqual(entries, want) {
		t.Errorf("Build() = %+v, want %+v", entries, want)
	}
}

func TestBuild_SyntheticOpeningEntry(t *testing.T) {
	w := core.Window{Begin: core.NewDate(2024, 1, 1), End: core.NewDate(2024, 1, 31)}

	t.Run("no events yields opening entry only", func(t *testing.T) {
		entries, err := Build(nil, w, 500)
		if err != nil {
			t.Fatalf("Build() error: %v", err)
		}
		if len(entries) != 1 {
			t.Fatalf("Build() returned %d entries, want 1", len(entries))
		}
		opening := entries[0]
		if !opening.Date.Equal(w.Begin.Time) || opening.Cashflow != 0 || opening.Balance != 500 {
			t.Errorf("opening entry = %+v, want zero cashflow at %s with balance 500", opening, w.Begin)
		}
		if opening.Items == nil || len(opening.Items) != 0 {
			t.Errorf("opening entry items = %v, want empty non-nil slice", opening.Items)
		}
	})

	t.Run("opening entry precedes a real entry on the same date", func(t *testing.T) {
		events := []core.Event{{
			Name:      "Payday",
			StartDate: core.NewDate(2024, 1, 1),
			Frequency: core.FreqNone,
			Value:     100,
		}}
		entries, err := Build(events, w, 50)
		if err != nil {
			t.Fatalf("Build() error: %v", err)
		}
		if len(entries) != 2 {
			t.Fatalf("Build() returned %d entries, want 2", len(entries))
		}
		if entries[0].Cashflow != 0 || len(entries[0].Items) != 0 {
			t.Errorf("first entry must be the synthetic one, got %+v", entries[0])
		}
		if !entries[1].Date.Equal(w.Begin.Time) || entries[1].Cashflow != 100 || entries[1].Balance != 150 {
			t.Errorf("same-day real entry = %+v, want cashflow 100 balance 150 at %s", entries[1], w.Begin)
		}
	})
}

func TestBuild_SameDayContributionsAreGrouped(t *testing.T) {
	events := []core.Event{
		{Name: "Salary", StartDate: core.NewDate(2024, 2, 5), Frequency: core.FreqNone, Value: 3000},
		{Name: "Rent", StartDate: core.NewDate(2024, 1, 5), Frequency: core.FreqMonthly, Value: -1300},
	}
	w := core.Window{Begin: core.NewDate(2024, 2, 1), End: core.NewDate(2024, 2, 28)}

	entries, err := Build(events, w, 0)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Build() returned %d entries, want 2 (opening + one grouped date)", len(entries))
	}
	got := entries[1]
	if got.Cashflow != 1700 || len(got.Items) != 2 {
		t.Errorf("grouped entry = %+v, want net 1700 from 2 items", got)
	}
}

func TestBuild_SkipsZeroValueEvents(t *testing.T) {
	events := []core.Event{
		{Name: "Placeholder", StartDate: core.NewDate(2024, 2, 10), Frequency: core.FreqDaily, Value: 0},
		{Name: "Rent", StartDate: core.NewDate(2024, 2, 10), Frequency: core.FreqNone, Value: -1300},
	}
	w := core.Window{Begin: core.NewDate(2024, 2, 1), End: core.NewDate(2024, 2, 28)}

	entries, err := Build(events, w, 0)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	for _, entry := range entries {
		for _, item := range entry.Items {
			if item.Name == "Placeholder" {
				t.Errorf("zero-value event appeared in contributions: %+v", entry)
			}
		}
	}
}

func TestBuild_SumAndOrderingLaws(t *testing.T) {
	events := []core.Event{
		{Name: "Coffee", StartDate: core.NewDate(2023, 6, 1), Frequency: core.FreqDaily, Value: -350},
		{Name: "Salary", StartDate: core.NewDate(2023, 1, 25), Frequency: core.FreqMonthly, Value: 310000},
		{Name: "Rent", StartDate: core.NewDate(2023, 1, 5), EndDate: core.NewDate(2024, 3, 5), Frequency: core.FreqMonthly, Value: -130000},
		{Name: "Insurance", StartDate: core.NewDate(2023, 7, 14), Frequency: core.FreqAnnual, Value: -45000},
	}
	w := core.Window{Begin: core.NewDate(2024, 1, 1), End: core.NewDate(2024, 12, 31)}

	entries, err := Build(events, w, 250000)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected a populated ledger, got %d entries", len(entries))
	}

	for i := 1; i < len(entries); i++ {
		if entries[i].Balance != entries[i-1].Balance+entries[i].Cashflow {
			t.Errorf("sum law violated at %s: %d != %d + %d",
				entries[i].Date, entries[i].Balance, entries[i-1].Balance, entries[i].Cashflow)
		}
		// Strictly increasing after the synthetic entry; the first real
		// entry may share the opening date.
		if i >= 2 && !entries[i-1].Date.Before(entries[i].Date.Time) {
			t.Errorf("ordering law violated: %s not before %s", entries[i-1].Date, entries[i].Date)
		}
	}
	if entries[1].Date.Before(entries[0].Date.Time) {
		t.Errorf("first real entry %s precedes the opening entry %s", entries[1].Date, entries[0].Date)
	}

	var net int64
	for _, e := range entries {
		net += e.Cashflow
	}
	if want := 250000 + net; entries[len(entries)-1].Balance != want {
		t.Errorf("final balance = %d, want %d", entries[len(entries)-1].Balance, want)
	}
}

func TestBuild_Idempotent(t *testing.T) {
	events := []core.Event{
		{Name: "Salary", StartDate: core.NewDate(2024, 1, 25), Frequency: core.FreqMonthly, Value: 3000},
		{Name: "Coffee", StartDate: core.NewDate(2023, 1, 1), Frequency: core.FreqDaily, Value: -4},
	}
	w := core.Window{Begin: core.NewDate(2024, 2, 1), End: core.NewDate(2024, 3, 31)}

	first, err := Build(events, w, 100)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	second, err := Build(events, w, 100)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("two builds with identical inputs disagree")
	}
}

func TestBuild_ValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		events  []core.Event
		window  core.Window
		wantErr error
	}{
		{
			name:    "inverted window",
			window:  core.Window{Begin: core.NewDate(2024, 3, 1), End: core.NewDate(2024, 2, 1)},
			wantErr: core.ErrInvalidWindow,
		},
		{
			name:   "event missing name",
			window: core.Window{Begin: core.NewDate(2024, 1, 1), End: core.NewDate(2024, 2, 1)},
			events: []core.Event{
				{StartDate: core.NewDate(2024, 1, 5), Value: 100},
			},
			wantErr: core.ErrEmptyName,
		},
		{
			name:   "event end before start",
			window: core.Window{Begin: core.NewDate(2024, 1, 1), End: core.NewDate(2024, 2, 1)},
			events: []core.Event{
				{Name: "Broken", StartDate: core.NewDate(2024, 1, 5), EndDate: core.NewDate(2024, 1, 1), Value: 100},
			},
			wantErr: core.ErrEndBeforeStart,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := Build(tt.events, tt.window, 0)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Build() error = %v, want %v", err, tt.wantErr)
			}
			if entries != nil {
				t.Errorf("Build() returned a partial ledger alongside the error: %+v", entries)
			}
		})
	}
}

func TestBuild_UnrecognizedFrequencyContributesNothing(t *testing.T) {
	events := []core.Event{
		{Name: "Odd", StartDate: core.NewDate(2024, 2, 5), Frequency: "fortnightly", Value: 9999},
		{Name: "Rent", StartDate: core.NewDate(2024, 2, 5), Frequency: core.FreqNone, Value: -1300},
	}
	w := core.Window{Begin: core.NewDate(2024, 2, 1), End: core.NewDate(2024, 2, 28)}

	entries, err := Build(events, w, 0)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Build() returned %d entries, want 2", len(entries))
	}
	if entries[1].Cashflow != -1300 || len(entries[1].Items) != 1 {
		t.Errorf("unrecognized frequency leaked into the ledger: %+v", entries[1])
	}

	names := UnknownFrequencies(events)
	if len(names) != 1 || names[0] != "Odd (fortnightly)" {
		t.Errorf("UnknownFrequencies() = %v, want [Odd (fortnightly)]", names)
	}
}
