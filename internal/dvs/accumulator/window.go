package accumulator

import (
	"context"
	"io"
	"time"

	"github.com/banshee-data/eventstream/internal/dvs"
)

// Windowed accumulates events into one buffer and finalizes a snapshot once
// an event arrives at least window microseconds after the anchor. The
// triggering event is counted in the finalized grid and becomes the anchor
// of the next window. Windowed is single-goroutine.
type Windowed struct {
	width   int
	height  int
	window  uint64
	storage Storage

	buf      Buffer
	anchor   uint64
	anchored bool
	pending  int
	seq      uint64
	done     bool
}

// NewWindowed returns a windowed accumulator. window is in event timestamp
// units (microseconds).
func NewWindowed(width, height int, window uint64, storage Storage) (*Windowed, error) {
	if width <= 0 || height <= 0 {
		return nil, dvs.Configf("shape", "accumulator shape must be positive, got %dx%d", width, height)
	}
	if window == 0 {
		return nil, dvs.Configf("window", "time window must be positive")
	}
	if storage == nil {
		storage = HostStorage{}
	}
	return &Windowed{
		width:   width,
		height:  height,
		window:  window,
		storage: storage,
		buf:     storage.Allocate(width * height),
	}, nil
}

// Add counts ev. When ev closes the current window the finalized snapshot is
// returned with ok set.
func (w *Windowed) Add(ev dvs.Event) (snap Snapshot, ok bool) {
	if !w.anchored {
		w.anchor = ev.Timestamp
		w.anchored = true
	}
	x, y := int(ev.X), int(ev.Y)
	if x < w.width && y < w.height {
		w.buf.Inc(x*w.height + y)
	}
	w.pending++

	if ev.Timestamp >= w.anchor+w.window {
		w.anchor = ev.Timestamp
		return w.finalize(), true
	}
	return Snapshot{}, false
}

// Flush finalizes the partial window if it holds any events.
func (w *Windowed) Flush() (Snapshot, bool) {
	if w.pending == 0 {
		return Snapshot{}, false
	}
	return w.finalize(), true
}

func (w *Windowed) finalize() Snapshot {
	w.seq++
	snap := Snapshot{
		Width:  w.width,
		Height: w.height,
		Seq:    w.seq,
		Taken:  time.Now(),
		Buffer: w.buf,
	}
	w.buf = w.storage.Allocate(w.width * w.height)
	w.pending = 0
	return snap
}

// Next pulls from src until a window closes and returns that snapshot. At end
// of stream the partial window is returned once; after that Next returns
// io.EOF.
func (w *Windowed) Next(ctx context.Context, src dvs.Source) (Snapshot, error) {
	if w.done {
		return Snapshot{}, io.EOF
	}
	for {
		ev, err := src.Next(ctx)
		if err == io.EOF {
			w.done = true
			if snap, ok := w.Flush(); ok {
				return snap, nil
			}
			return Snapshot{}, io.EOF
		}
		if err != nil {
			return Snapshot{}, err
		}
		if snap, ok := w.Add(ev); ok {
			return snap, nil
		}
	}
}
