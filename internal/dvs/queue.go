package dvs

import (
	"context"
	"io"
	"time"
)

// BatchQueue serves events from batches decoded by a reader goroutine. The
// stream ends when ctx is cancelled, the time limit fires or the batch
// channel is closed. A reader error is returned once, then io.EOF.
type BatchQueue struct {
	batches <-chan []Event
	limit   <-chan time.Time
	readErr func() error

	pending []Event
	eof     bool
}

// NewBatchQueue reads from batches. limit may be nil. readErr is consulted
// after batches is closed and may be nil.
func NewBatchQueue(batches <-chan []Event, limit <-chan time.Time, readErr func() error) *BatchQueue {
	return &BatchQueue{batches: batches, limit: limit, readErr: readErr}
}

// Next returns the next queued event.
func (q *BatchQueue) Next(ctx context.Context) (Event, error) {
	for {
		if q.eof {
			return Event{}, io.EOF
		}
		if len(q.pending) > 0 {
			ev := q.pending[0]
			q.pending = q.pending[1:]
			return ev, nil
		}
		select {
		case <-ctx.Done():
			q.eof = true
		case <-q.limit:
			q.eof = true
		case batch, ok := <-q.batches:
			if !ok {
				q.eof = true
				if q.readErr != nil {
					if err := q.readErr(); err != nil {
						return Event{}, err
					}
				}
				continue
			}
			q.pending = batch
		}
	}
}

// Stop ends the stream. Queued events are discarded.
func (q *BatchQueue) Stop() {
	q.eof = true
	q.pending = nil
}
