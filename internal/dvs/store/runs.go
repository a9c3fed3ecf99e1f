package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Run status values.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Run is one pipeline execution in the ledger.
type Run struct {
	ID         string     `json:"run_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Input      string     `json:"input"`
	Output     string     `json:"output"`
	Transform  string     `json:"transform"`
	Width      int        `json:"width"`
	Height     int        `json:"height"`
	OutWidth   int        `json:"out_width"`
	OutHeight  int        `json:"out_height"`
	EventsIn   uint64     `json:"events_in"`
	EventsOut  uint64     `json:"events_out"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
}

// ErrRunNotFound is returned for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// StartRun inserts r with status running.
func (s *Store) StartRun(ctx context.Context, r Run) error {
	if r.ID == "" {
		return fmt.Errorf("run id is required")
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	_, err := s.ExecContext(ctx, `
		INSERT INTO runs (run_id, started_at, input, output, transform, width, height, out_width, out_height, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.StartedAt.UTC(), r.Input, r.Output, r.Transform,
		r.Width, r.Height, r.OutWidth, r.OutHeight, StatusRunning)
	if err != nil {
		return fmt.Errorf("start run %s: %w", r.ID, err)
	}
	return nil
}

// FinishRun records the outcome of a run. A nil runErr marks it complete.
func (s *Store) FinishRun(ctx context.Context, id string, eventsIn, eventsOut uint64, runErr error) error {
	status, msg := StatusComplete, ""
	if runErr != nil {
		status, msg = StatusFailed, runErr.Error()
	}
	res, err := s.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, events_in = ?, events_out = ?, status = ?, error = ?
		WHERE run_id = ?`,
		time.Now().UTC(), int64(eventsIn), int64(eventsOut), status, msg, id)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", id, ErrRunNotFound)
	}
	return nil
}

const runColumns = `run_id, started_at, finished_at, input, output, transform, width, height,
	out_width, out_height, events_in, events_out, status, error`

func scanRun(row interface{ Scan(...any) error }) (Run, error) {
	var (
		r        Run
		finished sql.NullTime
		in, out  int64
	)
	err := row.Scan(&r.ID, &r.StartedAt, &finished, &r.Input, &r.Output, &r.Transform,
		&r.Width, &r.Height, &r.OutWidth, &r.OutHeight, &in, &out, &r.Status, &r.Error)
	if err != nil {
		return Run{}, err
	}
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	r.EventsIn, r.EventsOut = uint64(in), uint64(out)
	return r, nil
}

// GetRun loads one run.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	r, err := scanRun(s.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%s: %w", id, ErrRunNotFound)
	}
	return r, err
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
