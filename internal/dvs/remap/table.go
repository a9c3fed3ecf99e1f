package remap

// MaxFanOut is the largest number of destinations one source pixel can map to.
const MaxFanOut = 2

// Point is a destination pixel. Unused slots hold {-1, -1}.
type Point struct {
	X int32
	Y int32
}

var unusedPoint = Point{X: -1, Y: -1}

// Entry is the lookup result for one source pixel. NP is the fan-out
// (0, 1 or 2); only Dst[:NP] is meaningful.
type Entry struct {
	NP  uint8
	Dst [MaxFanOut]Point
}

func emptyEntry() Entry {
	return Entry{Dst: [MaxFanOut]Point{unusedPoint, unusedPoint}}
}

// add appends p to the next free slot. It is a no-op once the entry is full.
func (e *Entry) add(p Point) {
	if int(e.NP) >= MaxFanOut {
		return
	}
	e.Dst[e.NP] = p
	e.NP++
}

// Destinations returns the used destination slots.
func (e Entry) Destinations() []Point {
	return e.Dst[:e.NP]
}

// Table maps every source pixel of a frame to up to two destinations.
type Table struct {
	dims    Dimensions
	entries []Entry
}

// NewEmptyTable returns a table where every pixel is dropped (NP=0).
func NewEmptyTable(dims Dimensions) *Table {
	t := &Table{dims: dims, entries: make([]Entry, dims.Len())}
	for i := range t.entries {
		t.entries[i] = emptyEntry()
	}
	return t
}

// NewIdentityTable returns a table mapping every pixel onto itself.
func NewIdentityTable(dims Dimensions) *Table {
	t := NewEmptyTable(dims)
	for x := 0; x < dims.Width; x++ {
		for y := 0; y < dims.Height; y++ {
			t.entries[x*dims.Height+y].add(Point{X: int32(x), Y: int32(y)})
		}
	}
	return t
}

// Dimensions returns the source frame size the table is indexed by.
func (t *Table) Dimensions() Dimensions {
	return t.dims
}

// Len is the number of entries (width*height).
func (t *Table) Len() int {
	return len(t.entries)
}

// Index returns the table index for (x, y) and whether it is in range.
func (t *Table) Index(x, y int) (int, bool) {
	if !t.dims.Contains(x, y) {
		return 0, false
	}
	return x*t.dims.Height + y, true
}

// Lookup returns the entry for source pixel (x, y). Pixels outside the frame
// yield an entry with NP=0.
func (t *Table) Lookup(x, y int) Entry {
	idx, ok := t.Index(x, y)
	if !ok {
		return Entry{}
	}
	return t.entries[idx]
}

// At returns the entry at a raw table index.
func (t *Table) At(idx int) Entry {
	if idx < 0 || idx >= len(t.entries) {
		return Entry{}
	}
	return t.entries[idx]
}

// FanOutHistogram counts entries by NP. Useful for logging how much of the
// frame a calibration keeps.
func (t *Table) FanOutHistogram() [MaxFanOut + 1]int {
	var h [MaxFanOut + 1]int
	for _, e := range t.entries {
		h[e.NP]++
	}
	return h
}
