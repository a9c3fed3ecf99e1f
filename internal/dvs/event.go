package dvs

import (
	"context"
	"fmt"
	"io"
)

// Event is a single brightness change reported by one sensor pixel.
// Timestamp is in microseconds and is non-decreasing within one stream.
type Event struct {
	Timestamp uint64
	X         uint16
	Y         uint16
	Polarity  bool
}

// WithCoordinates returns a copy of e moved to (x, y). Timestamp and
// polarity are preserved.
func (e Event) WithCoordinates(x, y uint16) Event {
	e.X = x
	e.Y = y
	return e
}

// String formats the event in the "timestamp,x,y" text form.
func (e Event) String() string {
	return fmt.Sprintf("%d,%d,%d", e.Timestamp, e.X, e.Y)
}

// Source produces a single-pass sequence of events. Next returns io.EOF once
// the stream is exhausted or ctx is cancelled; after that every call returns
// io.EOF again. Sources cannot be rewound.
type Source interface {
	Next(ctx context.Context) (Event, error)
	Close() error
}

// Sink consumes a transformed event sequence. Flush is called once at end of
// stream, before Close.
type Sink interface {
	Write(ev Event) error
	Flush() error
	Close() error
}

// SliceSource serves events from memory. It is used by tests and by file
// readers that decode a whole block at a time.
type SliceSource struct {
	events []Event
	pos    int
	closed bool
}

// NewSliceSource returns a Source over events. The slice is not copied.
func NewSliceSource(events []Event) *SliceSource {
	return &SliceSource{events: events}
}

// Next returns the next buffered event.
func (s *SliceSource) Next(ctx context.Context) (Event, error) {
	if s.closed || s.pos >= len(s.events) {
		return Event{}, io.EOF
	}
	if ctx.Err() != nil {
		s.closed = true
		return Event{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

// Close marks the source exhausted.
func (s *SliceSource) Close() error {
	s.closed = true
	return nil
}

// Collect drains src until io.EOF. Any other error is returned together with
// the events read so far.
func Collect(ctx context.Context, src Source) ([]Event, error) {
	var out []Event
	for {
		ev, err := src.Next(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
}

// SliceSink records written events in memory.
type SliceSink struct {
	Events  []Event
	Flushes int
	Closed  bool
}

func (s *SliceSink) Write(ev Event) error {
	s.Events = append(s.Events, ev)
	return nil
}

func (s *SliceSink) Flush() error {
	s.Flushes++
	return nil
}

func (s *SliceSink) Close() error {
	s.Closed = true
	return nil
}
