package events

import (
	"context"
	"fmt"

	"cashflowsim/internal/config"
	google "cashflowsim/internal/events/google"
	"cashflowsim/internal/log"
)

var _ Source = (*google.Client)(nil)

// NewFromConfig selects and builds the event source: Google Sheets when a
// spreadsheet is configured, else a local JSON file, else none. A nil
// Source with nil error means no source is configured, which is valid;
// endpoints depending on one degrade to 503.
func NewFromConfig(ctx context.Context, cfg *config.Config, logger *log.Logger) (Source, error) {
	switch {
	case cfg.GoogleSpreadsheetID != "":
		cli, err := google.New(ctx, cfg.GoogleSpreadsheetID, cfg.GoogleSheetName, logger)
		if err != nil {
			return nil, fmt.Errorf("google sheets source: %w", err)
		}
		logger.Info("Initialized Google Sheets event source",
			"spreadsheet_id", cfg.GoogleSpreadsheetID,
			"sheet", cfg.GoogleSheetName)
		return cli, nil
	case cfg.EventsFile != "":
		logger.Info("Initialized file event source", "path", cfg.EventsFile)
		return NewFileSource(cfg.EventsFile), nil
	default:
		logger.Info("No event source configured")
		return nil, nil
	}
}
