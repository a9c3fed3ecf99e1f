package accumulator

import (
	"time"

	"gonum.org/v1/gonum/mat"
)

// Snapshot is a frozen grid handed to a consumer. Rows are indexed by x and
// columns by y.
type Snapshot struct {
	Width  int
	Height int
	// Seq numbers snapshots from one accumulator starting at 1.
	Seq    uint64
	Taken  time.Time
	Buffer Buffer
}

// Empty reports whether the snapshot carries no buffer.
func (s Snapshot) Empty() bool {
	return s.Buffer == nil
}

// At returns the count at (x, y). Out-of-range coordinates return zero.
func (s Snapshot) At(x, y int) uint32 {
	if s.Buffer == nil || x < 0 || y < 0 || x >= s.Width || y >= s.Height {
		return 0
	}
	return s.Buffer.Count(x*s.Height + y)
}

// Total sums all counters.
func (s Snapshot) Total() uint64 {
	if s.Buffer == nil {
		return 0
	}
	var total uint64
	for i := 0; i < s.Buffer.Len(); i++ {
		total += uint64(s.Buffer.Count(i))
	}
	return total
}

// Max returns the largest counter.
func (s Snapshot) Max() uint32 {
	var m uint32
	if s.Buffer == nil {
		return 0
	}
	for i := 0; i < s.Buffer.Len(); i++ {
		if c := s.Buffer.Count(i); c > m {
			m = c
		}
	}
	return m
}

// Counts returns the grid as a contiguous row-major slice. Host buffers are
// returned without copying.
func (s Snapshot) Counts() []uint32 {
	switch b := s.Buffer.(type) {
	case nil:
		return nil
	case *HostBuffer:
		return b.Counts
	}
	out := make([]uint32, s.Buffer.Len())
	for i := range out {
		out[i] = s.Buffer.Count(i)
	}
	return out
}

// Rows returns the grid as Width rows of Height counters.
func (s Snapshot) Rows() [][]uint32 {
	counts := s.Counts()
	if counts == nil {
		return nil
	}
	rows := make([][]uint32, s.Width)
	for x := range rows {
		rows[x] = counts[x*s.Height : (x+1)*s.Height]
	}
	return rows
}

// Dense returns the grid as a Width×Height gonum matrix. Matrix buffers
// share their backing array with the result; other buffers are converted.
func (s Snapshot) Dense() *mat.Dense {
	switch b := s.Buffer.(type) {
	case nil:
		return nil
	case *MatrixBuffer:
		return b.Dense(s.Width, s.Height)
	}
	data := make([]float64, s.Buffer.Len())
	for i := range data {
		data[i] = float64(s.Buffer.Count(i))
	}
	return mat.NewDense(s.Width, s.Height, data)
}
