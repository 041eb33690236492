// Package storage persists simulation runs keyed by request fingerprint.
// The store belongs entirely to the serving layer: the engine never reads
// from it, so persistence cannot influence a computation's result.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cashflowsim/internal/log"
	"cashflowsim/internal/simulation"

	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned when no run exists for a fingerprint.
var ErrRunNotFound = errors.New("simulation run not found")

// Run is one recorded simulation outcome.
type Run struct {
	ID           int64
	Fingerprint  string
	Request      simulation.Request
	Response     simulation.Response
	EventCount   int
	EntryCount   int
	FinalBalance int64
	Hits         int64
	CreatedAt    time.Time
	LastSeenAt   time.Time
}

// RunStore records simulation runs in SQLite.
type RunStore struct {
	db     *sql.DB
	logger *log.Logger
}

// NewRunStore opens (creating if necessary) the run database and applies
// pending migrations.
func NewRunStore(dbPath string, logger *log.Logger) (*RunStore, error) {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}

	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &RunStore{db: db, logger: logger.WithComponent(log.ComponentStorage)}, nil
}

func (s *RunStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveRun records a run, upserting on fingerprint: a repeated request
// bumps the hit counter instead of inserting a duplicate row.
func (s *RunStore) SaveRun(ctx context.Context, req simulation.Request, resp simulation.Response) error {
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	respJSON, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}

	fingerprint := req.Fingerprint()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO simulation_runs
			(fingerprint, request_json, response_json, event_count, entry_count, final_balance_cents)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (fingerprint) DO UPDATE SET
			hits = hits + 1,
			last_seen_at = CURRENT_TIMESTAMP`,
		fingerprint, string(reqJSON), string(respJSON),
		len(req.Events), len(resp.Cashflows), resp.FinalBalance(),
	)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}

	s.logger.InfoContext(ctx, "Simulation run recorded",
		log.FieldOperation, log.OpSave,
		log.FieldFingerprint, fingerprint,
		log.FieldEventCount, len(req.Events),
		log.FieldEntryCount, len(resp.Cashflows))

	return nil
}

// GetByFingerprint returns the recorded run for a fingerprint, or
// ErrRunNotFound.
func (s *RunStore) GetByFingerprint(ctx context.Context, fingerprint string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, fingerprint, request_json, response_json,
		       event_count, entry_count, final_balance_cents,
		       hits, created_at, last_seen_at
		FROM simulation_runs
		WHERE fingerprint = ?`,
		fingerprint,
	)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run by fingerprint: %w", err)
	}
	return run, nil
}

// RecentRuns returns the most recently seen runs, newest first.
func (s *RunStore) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, fingerprint, request_json, response_json,
		       event_count, entry_count, final_balance_cents,
		       hits, created_at, last_seen_at
		FROM simulation_runs
		ORDER BY last_seen_at DESC, id DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list recent runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// CountRuns returns the number of distinct recorded runs.
func (s *RunStore) CountRuns(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM simulation_runs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count runs: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run      Run
		reqJSON  string
		respJSON string
	)
	err := row.Scan(
		&run.ID, &run.Fingerprint, &reqJSON, &respJSON,
		&run.EventCount, &run.EntryCount, &run.FinalBalance,
		&run.Hits, &run.CreatedAt, &run.LastSeenAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(reqJSON), &run.Request); err != nil {
		return nil, fmt.Errorf("decode stored request: %w", err)
	}
	if err := json.Unmarshal([]byte(respJSON), &run.Response); err != nil {
		return nil, fmt.Errorf("decode stored response: %w", err)
	}
	return &run, nil
}
