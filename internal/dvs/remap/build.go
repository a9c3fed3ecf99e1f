package remap

import (
	"github.com/banshee-data/eventstream/internal/dvs"
)

// BuildOptions selects the base table and the composition applied on top.
type BuildOptions struct {
	Dimensions Dimensions
	// CalibrationPath is an optional undistortion CSV. Empty means identity.
	CalibrationPath string
	Transform       Transform
	// SpatialSample folds s×s pixel blocks into one. Zero is treated as 1.
	SpatialSample int
}

// Build constructs the working table for opts and returns it together with
// the output frame size.
func Build(opts BuildOptions) (*Table, Dimensions, error) {
	if err := opts.Dimensions.Validate(); err != nil {
		return nil, Dimensions{}, err
	}

	var base *Table
	if opts.CalibrationPath != "" {
		t, err := LoadCalibrationFile(opts.CalibrationPath, opts.Dimensions)
		if err != nil {
			return nil, Dimensions{}, err
		}
		base = t
	} else {
		base = NewIdentityTable(opts.Dimensions)
	}

	return Compose(base, opts.Transform, opts.SpatialSample)
}

// Compose applies transform tr and spatial subsampling s to every
// destination in base. Only source pixels on the s-grid contribute; their
// destinations are transformed on the full frame and floor-divided by s.
// The returned table is still indexed by the source frame; the returned
// Dimensions describe the output frame.
func Compose(base *Table, tr Transform, s int) (*Table, Dimensions, error) {
	if s == 0 {
		s = 1
	}
	if s < 0 {
		return nil, Dimensions{}, dvs.Configf("s_sample", "spatial sample must be positive, got %d", s)
	}

	in := base.Dimensions()
	out := tr.Dimensions(in).Subsampled(s)
	if out.Width == 0 || out.Height == 0 {
		return nil, Dimensions{}, dvs.Configf("s_sample", "spatial sample %d collapses %dx%d frame", s, in.Width, in.Height)
	}

	composed := NewEmptyTable(in)
	for idx, src := range base.entries {
		x, y := idx/in.Height, idx%in.Height
		if x%s != 0 || y%s != 0 {
			continue
		}
		dst := &composed.entries[idx]
		for _, p := range src.Destinations() {
			tx, ty := tr.Apply(int(p.X), int(p.Y), in)
			nx, ny := tx/s, ty/s
			// Frames not divisible by s leave a partial last block with no
			// output pixel.
			if !out.Contains(nx, ny) {
				continue
			}
			dst.add(Point{X: int32(nx), Y: int32(ny)})
		}
	}
	return composed, out, nil
}
