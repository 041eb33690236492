package google

import (
	"fmt"
	"strings"

	"cashflowsim/internal/core"
)

// Column order expected in the event sheet header row.
var expectedHeader = []string{"name", "start_date", "end_date", "frequency", "value", "obs"}

const (
	colName = iota
	colStartDate
	colEndDate
	colFrequency
	colValue
	colObs
)

// parseEventRows converts a values matrix (as returned by Sheets API)
// into events. The first row must be the header; blank rows are skipped.
func parseEventRows(values [][]interface{}) ([]core.Event, error) {
	if len(values) == 0 {
		return nil, nil
	}

	if err := checkHeader(toStrings(values[0])); err != nil {
		return nil, err
	}

	var out []core.Event
	for i := 1; i < len(values); i++ {
		row := toStrings(values[i])
		if isBlankRow(row) {
			continue
		}
		e, err := parseEventRow(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		out = append(out, e)
	}
	return out, nil
}

func checkHeader(headers []string) error {
	for i, want := range expectedHeader {
		got := strings.ToLower(safeGet(headers, i))
		if got != want {
			return fmt.Errorf("unexpected sheet header: column %d is %q, want %q", i+1, safeGet(headers, i), want)
		}
	}
	return nil
}

func parseEventRow(row []string) (core.Event, error) {
	name := safeGet(row, colName)
	if name == "" {
		return core.Event{}, fmt.Errorf("missing name")
	}

	start, err := core.ParseDate(safeGet(row, colStartDate))
	if err != nil {
		return core.Event{}, fmt.Errorf("start_date: %w", err)
	}

	var end core.Date
	if s := safeGet(row, colEndDate); s != "" {
		end, err = core.ParseDate(s)
		if err != nil {
			return core.Event{}, fmt.Errorf("end_date: %w", err)
		}
	}

	value, err := core.ParseDecimalToCents(safeGet(row, colValue))
	if err != nil {
		return core.Event{}, fmt.Errorf("value: %w", err)
	}

	return core.Event{
		Name:      name,
		StartDate: start,
		EndDate:   end,
		Frequency: core.Frequency(safeGet(row, colFrequency)),
		Value:     value,
		Note:      safeGet(row, colObs),
	}, nil
}

func isBlankRow(row []string) bool {
	for _, v := range row {
		if v != "" {
			return false
		}
	}
	return true
}

func toStrings(in []interface{}) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

func safeGet(arr []string, idx int) string {
	if idx < 0 || idx >= len(arr) {
		return ""
	}
	return strings.TrimSpace(arr[idx])
}
