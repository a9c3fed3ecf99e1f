package accumulator

import (
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/eventstream/internal/dvs"
)

// Buffer is a dense grid of per-pixel counters.
type Buffer interface {
	// Len is the number of counters.
	Len() int
	// Inc adds one to the counter at index.
	Inc(index int)
	// Count returns the counter at index.
	Count(index int) uint32
}

// Storage allocates zeroed buffers.
type Storage interface {
	Name() string
	Allocate(n int) Buffer
}

// StorageByName resolves a storage strategy. "cuda" is recognised but not
// compiled into this build.
func StorageByName(name string) (Storage, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "host", "cpu":
		return HostStorage{}, nil
	case "matrix", "gonum":
		return MatrixStorage{}, nil
	case "cuda", "gpu":
		return nil, &dvs.UnsupportedBackendError{Backend: "cuda", Hint: "device accumulator storage is not compiled into this build"}
	}
	return nil, dvs.Configf("storage", "unknown accumulator storage %q", name)
}

// HostStorage keeps counters in a []uint32.
type HostStorage struct{}

func (HostStorage) Name() string { return "host" }

func (HostStorage) Allocate(n int) Buffer {
	return &HostBuffer{Counts: make([]uint32, n)}
}

// HostBuffer is a Buffer backed by a plain slice.
type HostBuffer struct {
	Counts []uint32
}

func (b *HostBuffer) Len() int               { return len(b.Counts) }
func (b *HostBuffer) Inc(index int)          { b.Counts[index]++ }
func (b *HostBuffer) Count(index int) uint32 { return b.Counts[index] }

// MatrixStorage keeps counters as float64 so a snapshot can be handed to
// gonum as a *mat.Dense without copying.
type MatrixStorage struct{}

func (MatrixStorage) Name() string { return "matrix" }

func (MatrixStorage) Allocate(n int) Buffer {
	return &MatrixBuffer{Data: make([]float64, n)}
}

// MatrixBuffer is a Buffer backed by a float64 slice.
type MatrixBuffer struct {
	Data []float64
}

func (b *MatrixBuffer) Len() int               { return len(b.Data) }
func (b *MatrixBuffer) Inc(index int)          { b.Data[index]++ }
func (b *MatrixBuffer) Count(index int) uint32 { return uint32(b.Data[index]) }

// Dense wraps the buffer as a rows×cols matrix sharing its backing array.
func (b *MatrixBuffer) Dense(rows, cols int) *mat.Dense {
	return mat.NewDense(rows, cols, b.Data)
}
