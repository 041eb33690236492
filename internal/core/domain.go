package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyName        = errors.New("event name cannot be empty")
	ErrMissingStartDate = errors.New("event start date is required")
	ErrEndBeforeStart   = errors.New("event end date is before its start date")
	ErrMissingWindow    = errors.New("simulation window bounds are required")
	ErrInvalidWindow    = errors.New("simulation window begin is after its end")
	ErrInvalidAmount    = errors.New("invalid amount")
)

// Event is a named, possibly-recurring cash inflow or outflow rule.
// Value is a signed amount in minor currency units (cents); a zero-value
// event never contributes to a ledger.
type Event struct {
	Name      string    `json:"name"`
	StartDate Date      `json:"start_date"`
	EndDate   Date      `json:"end_date,omitempty"`
	Frequency Frequency `json:"frequency,omitempty"`
	Value     int64     `json:"value"`
	Note      string    `json:"obs,omitempty"`
}

// Validate checks structural invariants. Frequency is deliberately not
// validated here: an unrecognized cadence yields zero occurrences instead
// of failing the whole computation.
func (e Event) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return ErrEmptyName
	}
	if e.StartDate.IsZero() {
		return fmt.Errorf("event %q: %w", e.Name, ErrMissingStartDate)
	}
	if !e.EndDate.IsZero() && e.EndDate.Before(e.StartDate.Time) {
		return fmt.Errorf("event %q: %w", e.Name, ErrEndBeforeStart)
	}
	return nil
}

// Contributes reports whether the event can appear in a ledger at all.
func (e Event) Contributes() bool {
	return e.Value != 0
}

// Window is the inclusive date range over which occurrences are enumerated.
type Window struct {
	Begin Date
	End   Date
}

// Validate rejects windows with missing or inverted bounds.
func (w Window) Validate() error {
	if w.Begin.IsZero() || w.End.IsZero() {
		return ErrMissingWindow
	}
	if w.Begin.After(w.End.Time) {
		return ErrInvalidWindow
	}
	return nil
}

// Contains reports whether d falls inside the window, bounds included.
func (w Window) Contains(d Date) bool {
	return !d.Before(w.Begin.Time) && !d.After(w.End.Time)
}
