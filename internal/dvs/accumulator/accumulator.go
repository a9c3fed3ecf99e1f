package accumulator

import (
	"sync"
	"time"

	"github.com/banshee-data/eventstream/internal/dvs"
)

// Accumulator counts events per pixel into a double buffer. Increment,
// AddEvents and AddPayload may be called from a producer goroutine while a
// consumer goroutine calls Read.
type Accumulator struct {
	width   int
	height  int
	storage Storage

	mu      sync.Mutex // guards active, ready, counters and seq
	active  Buffer
	ready   Buffer
	added   uint64
	dropped uint64
	seq     uint64
}

// New allocates an accumulator of width×height counters. A nil storage uses
// HostStorage.
func New(width, height int, storage Storage) (*Accumulator, error) {
	if width <= 0 || height <= 0 {
		return nil, dvs.Configf("shape", "accumulator shape must be positive, got %dx%d", width, height)
	}
	if storage == nil {
		storage = HostStorage{}
	}
	n := width * height
	return &Accumulator{
		width:   width,
		height:  height,
		storage: storage,
		active:  storage.Allocate(n),
		ready:   storage.Allocate(n),
	}, nil
}

// Shape returns the grid size.
func (a *Accumulator) Shape() (width, height int) {
	return a.width, a.height
}

// StorageName reports the storage strategy in use.
func (a *Accumulator) StorageName() string {
	return a.storage.Name()
}

// index returns the buffer index for (x, y) and whether it is in range.
func (a *Accumulator) index(x, y int) (int, bool) {
	if x < 0 || y < 0 || x >= a.width || y >= a.height {
		return 0, false
	}
	return a.height*x + y, true
}

// incLocked must be called with mu held.
func (a *Accumulator) incLocked(x, y int) {
	idx, ok := a.index(x, y)
	if !ok {
		a.dropped++
		return
	}
	a.active.Inc(idx)
	a.added++
}

// Increment adds one to the active counter at (x, y). Out-of-range
// coordinates are counted as dropped.
func (a *Accumulator) Increment(x, y int) {
	a.mu.Lock()
	a.incLocked(x, y)
	a.mu.Unlock()
}

// AddEvents increments one counter per event under a single lock hold.
func (a *Accumulator) AddEvents(events []dvs.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, ev := range events {
		a.incLocked(int(ev.X), int(ev.Y))
	}
}

// AddPayload decodes a compact binary payload (see DecodePayload) and
// increments one counter per event. It returns the number of events decoded.
func (a *Accumulator) AddPayload(payload []byte) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return DecodePayload(payload, a.incLocked)
}

// Read freezes the active buffer and returns it as a snapshot. A zeroed
// buffer takes its place, so the caller owns the returned grid exclusively
// and later increments never touch it.
func (a *Accumulator) Read() Snapshot {
	// Allocate the replacement spare outside the lock so producers are only
	// held for the pointer exchange.
	fresh := a.storage.Allocate(a.width * a.height)

	a.mu.Lock()
	frozen := a.active
	a.active, a.ready = a.ready, fresh
	a.seq++
	seq := a.seq
	a.mu.Unlock()

	return Snapshot{
		Width:  a.width,
		Height: a.height,
		Seq:    seq,
		Taken:  time.Now(),
		Buffer: frozen,
	}
}

// Stats reports lifetime counters.
type Stats struct {
	Added   uint64
	Dropped uint64
	Reads   uint64
}

// Stats returns the number of increments applied and dropped, and the number
// of snapshots taken.
func (a *Accumulator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{Added: a.added, Dropped: a.dropped, Reads: a.seq}
}
