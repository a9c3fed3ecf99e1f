package remap

import (
	"context"
	"io"

	"github.com/banshee-data/eventstream/internal/dvs"
)

// Stats counts events through a Remapper.
type Stats struct {
	// In is the number of events presented to Apply.
	In uint64
	// Dropped is the number of input events whose entry had no destination.
	Dropped uint64
	// Emitted is the number of remapped events produced before temporal
	// decimation.
	Emitted uint64
	// Forwarded is the number of events that passed temporal decimation.
	Forwarded uint64
}

// Remapper applies a Table to an event stream. A Remapper carries the
// temporal decimation counter for one pipeline run and is not safe for
// concurrent use.
type Remapper struct {
	table   *Table
	tSample uint64
	counter uint64
	stats   Stats
}

// NewRemapper returns a Remapper forwarding one of every temporalSample
// emitted events. Zero is treated as 1.
func NewRemapper(table *Table, temporalSample int) (*Remapper, error) {
	if table == nil {
		return nil, dvs.Configf("lut", "nil lookup table")
	}
	if temporalSample == 0 {
		temporalSample = 1
	}
	if temporalSample < 0 {
		return nil, dvs.Configf("t_sample", "temporal sample must be positive, got %d", temporalSample)
	}
	return &Remapper{table: table, tSample: uint64(temporalSample)}, nil
}

// Table returns the lookup table in use.
func (r *Remapper) Table() *Table {
	return r.table
}

// Apply appends the remapped copies of ev that survive temporal decimation
// to dst and returns the extended slice. At most MaxFanOut events are
// appended; events outside the table's frame are dropped.
func (r *Remapper) Apply(ev dvs.Event, dst []dvs.Event) []dvs.Event {
	r.stats.In++
	entry := r.table.Lookup(int(ev.X), int(ev.Y))
	if entry.NP == 0 {
		r.stats.Dropped++
		return dst
	}
	for i := 0; i < int(entry.NP); i++ {
		p := entry.Dst[i]
		forward := r.counter%r.tSample == 0
		r.counter++
		r.stats.Emitted++
		if !forward {
			continue
		}
		r.stats.Forwarded++
		dst = append(dst, ev.WithCoordinates(uint16(p.X), uint16(p.Y)))
	}
	return dst
}

// Reset rewinds the temporal decimation counter and clears statistics.
func (r *Remapper) Reset() {
	r.counter = 0
	r.stats = Stats{}
}

// Stats returns a copy of the running counters.
func (r *Remapper) Stats() Stats {
	return r.stats
}

// Source wraps src so that pulling from the result yields the remapped,
// decimated sequence. Closing the returned source closes src.
func (r *Remapper) Source(src dvs.Source) dvs.Source {
	return &remapSource{r: r, src: src}
}

type remapSource struct {
	r       *Remapper
	src     dvs.Source
	pending [MaxFanOut]dvs.Event
	n, pos  int
	done    bool
}

func (s *remapSource) Next(ctx context.Context) (dvs.Event, error) {
	for s.pos >= s.n {
		if s.done {
			return dvs.Event{}, io.EOF
		}
		ev, err := s.src.Next(ctx)
		if err != nil {
			if err == io.EOF {
				s.done = true
			}
			return dvs.Event{}, err
		}
		out := s.r.Apply(ev, s.pending[:0])
		s.n, s.pos = len(out), 0
	}
	ev := s.pending[s.pos]
	s.pos++
	return ev, nil
}

func (s *remapSource) Close() error {
	s.done = true
	s.n, s.pos = 0, 0
	return s.src.Close()
}
