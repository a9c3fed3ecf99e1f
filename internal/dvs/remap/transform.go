package remap

import (
	"fmt"
	"sort"
	"strings"

	"github.com/banshee-data/eventstream/internal/dvs"
)

// Transform is a rigid frame transform applied during table composition.
type Transform int

const (
	Identity Transform = iota
	Rot90
	Rot180
	Rot270
	FlipUD
	FlipLR
)

var transformNames = map[string]Transform{
	"no_trans": Identity,
	"identity": Identity,
	"rot_90":   Rot90,
	"rot_180":  Rot180,
	"rot_270":  Rot270,
	"flip_ud":  FlipUD,
	"flip_lr":  FlipLR,
}

// ParseTransform maps a transform name to a Transform. The empty string is
// the identity. Unknown names are a ConfigurationError.
func ParseTransform(name string) (Transform, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return Identity, nil
	}
	t, ok := transformNames[name]
	if !ok {
		return Identity, dvs.Configf("transform", "unknown transform %q (expected one of %s)", name, strings.Join(TransformNames(), ", "))
	}
	return t, nil
}

// TransformNames lists the accepted transform names in sorted order.
func TransformNames() []string {
	names := make([]string, 0, len(transformNames))
	for n := range transformNames {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (t Transform) String() string {
	switch t {
	case Identity:
		return "no_trans"
	case Rot90:
		return "rot_90"
	case Rot180:
		return "rot_180"
	case Rot270:
		return "rot_270"
	case FlipUD:
		return "flip_ud"
	case FlipLR:
		return "flip_lr"
	}
	return fmt.Sprintf("Transform(%d)", int(t))
}

// SwapsAxes reports whether the transform exchanges width and height.
func (t Transform) SwapsAxes() bool {
	return t == Rot90 || t == Rot270
}

// Dimensions returns the frame size after applying t to a frame of size d.
func (t Transform) Dimensions(d Dimensions) Dimensions {
	if t.SwapsAxes() {
		return Dimensions{Width: d.Height, Height: d.Width}
	}
	return d
}

// Apply maps pixel (x, y) of a frame of size d into the transformed frame.
// rot_90 and rot_270 are inverses of each other; rot_180, flip_ud and
// flip_lr are their own inverses.
func (t Transform) Apply(x, y int, d Dimensions) (int, int) {
	switch t {
	case Rot90:
		return y, d.Width - 1 - x
	case Rot180:
		return d.Width - 1 - x, d.Height - 1 - y
	case Rot270:
		return d.Height - 1 - y, x
	case FlipUD:
		return x, d.Height - 1 - y
	case FlipLR:
		return d.Width - 1 - x, y
	}
	return x, y
}
