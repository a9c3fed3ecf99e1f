package remap

import (
	"math"

	"github.com/banshee-data/eventstream/internal/dvs"
)

// Dimensions is a frame size in pixels.
type Dimensions struct {
	Width  int
	Height int
}

// Len is the number of pixels in the frame.
func (d Dimensions) Len() int {
	return d.Width * d.Height
}

// Contains reports whether (x, y) lies inside the frame.
func (d Dimensions) Contains(x, y int) bool {
	return x >= 0 && y >= 0 && x < d.Width && y < d.Height
}

// Subsampled returns the frame size after integer division by s.
func (d Dimensions) Subsampled(s int) Dimensions {
	return Dimensions{Width: d.Width / s, Height: d.Height / s}
}

// Validate checks that the frame is non-empty and addressable by 16-bit
// event coordinates.
func (d Dimensions) Validate() error {
	if d.Width <= 0 || d.Height <= 0 {
		return dvs.Configf("resolution", "width and height must be positive, got %dx%d", d.Width, d.Height)
	}
	if d.Width > math.MaxUint16+1 || d.Height > math.MaxUint16+1 {
		return dvs.Configf("resolution", "%dx%d exceeds 16-bit coordinate range", d.Width, d.Height)
	}
	return nil
}
