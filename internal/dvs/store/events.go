package store

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/banshee-data/eventstream/internal/dvs"
)

const defaultEventBatch = 1000

// EventSink appends a run's events to the events table. Writes are grouped
// into one transaction per batch.
type EventSink struct {
	store *Store
	runID string
	batch []dvs.Event
	size  int
	seq   int64
}

// NewEventSink writes events for runID. batch <= 0 uses 1000.
func (s *Store) NewEventSink(runID string, batch int) *EventSink {
	if batch <= 0 {
		batch = defaultEventBatch
	}
	return &EventSink{store: s, runID: runID, size: batch, batch: make([]dvs.Event, 0, batch)}
}

func (k *EventSink) Write(ev dvs.Event) error {
	k.batch = append(k.batch, ev)
	if len(k.batch) >= k.size {
		return k.Flush()
	}
	return nil
}

// Flush commits pending events. On failure the batch is kept.
func (k *EventSink) Flush() error {
	if len(k.batch) == 0 {
		return nil
	}
	if err := k.insert(context.Background()); err != nil {
		return &dvs.TransportError{Op: "store events", Err: err}
	}
	k.seq += int64(len(k.batch))
	k.batch = k.batch[:0]
	return nil
}

func (k *EventSink) insert(ctx context.Context) error {
	tx, err := k.store.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO events (run_id, seq, timestamp, x, y, polarity) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, ev := range k.batch {
		pol := 0
		if ev.Polarity {
			pol = 1
		}
		if _, err := stmt.ExecContext(ctx, k.runID, k.seq+int64(i), int64(ev.Timestamp), ev.X, ev.Y, pol); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Written is the number of committed events.
func (k *EventSink) Written() int64 { return k.seq }

// Close flushes pending events. The store stays open.
func (k *EventSink) Close() error { return k.Flush() }

// EventSource replays a stored run in sequence order. It reads one page at a
// time so no query is held open between calls.
type EventSource struct {
	store   *Store
	runID   string
	page    int
	nextSeq int64
	pending []dvs.Event
	eof     bool
}

// NewEventSource reads the events recorded for runID.
func (s *Store) NewEventSource(runID string) *EventSource {
	return &EventSource{store: s, runID: runID, page: defaultEventBatch}
}

func (e *EventSource) Next(ctx context.Context) (dvs.Event, error) {
	for {
		if e.eof {
			return dvs.Event{}, io.EOF
		}
		if len(e.pending) > 0 {
			ev := e.pending[0]
			e.pending = e.pending[1:]
			return ev, nil
		}
		if ctx.Err() != nil {
			e.eof = true
			continue
		}
		if err := e.fill(ctx); err != nil {
			e.eof = true
			return dvs.Event{}, fmt.Errorf("read stored events: %w", err)
		}
		if len(e.pending) == 0 {
			e.eof = true
		}
	}
}

func (e *EventSource) fill(ctx context.Context) error {
	rows, err := e.store.QueryContext(ctx, `
		SELECT seq, timestamp, x, y, polarity FROM events
		WHERE run_id = ? AND seq >= ? ORDER BY seq LIMIT ?`, e.runID, e.nextSeq, e.page)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq, ts int64
			x, y    int
			pol     int
		)
		if err := rows.Scan(&seq, &ts, &x, &y, &pol); err != nil {
			return err
		}
		e.pending = append(e.pending, dvs.Event{Timestamp: uint64(ts), X: uint16(x), Y: uint16(y), Polarity: pol != 0})
		e.nextSeq = seq + 1
	}
	return rows.Err()
}

func (e *EventSource) Close() error {
	e.eof = true
	return nil
}

// CountEvents returns the number of stored events for runID.
func (s *Store) CountEvents(ctx context.Context, runID string) (int64, error) {
	var n sql.NullInt64
	err := s.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE run_id = ?`, runID).Scan(&n)
	return n.Int64, err
}
