package output

import (
	"math"
	"slices"
)

// Position is the output's location in the global compositor space.
type Position struct {
	X int32
	Y int32
}

// Size is a width/height pair, in pixels or millimeters depending on use.
type Size struct {
	Width  int32
	Height int32
}

// Mode is one display mode an output supports.
type Mode struct {
	ID        int
	Size      Size
	Refresh   int32 // in mHz
	Preferred bool
}

// Subpixel is the wl_output.subpixel enum.
type Subpixel int32

const (
	SubpixelUnknown Subpixel = iota
	SubpixelNone
	SubpixelHorizontalRGB
	SubpixelHorizontalBGR
	SubpixelVerticalRGB
	SubpixelVerticalBGR
)

// Transform represents output transformation
type Transform int32

// Transform constants for output rotation and flipping
const (
	TransformNormal     Transform = iota // No transformation
	Transform90                          // 90 degree counter-clockwise rotation
	Transform180                         // 180 degree rotation
	Transform270                         // 270 degree counter-clockwise rotation
	TransformFlipped                     // Horizontal flip
	TransformFlipped90                   // Horizontal flip + 90 degree rotation
	TransformFlipped180                  // Horizontal flip + 180 degree rotation
	TransformFlipped270                  // Horizontal flip + 270 degree rotation
)

// Rotated reports whether the transform swaps width and height.
func (t Transform) Rotated() bool {
	return t%2 == 1
}

// String returns a string representation of the transform
func (t Transform) String() string {
	switch t {
	case TransformNormal:
		return "normal"
	case Transform90:
		return "90"
	case Transform180:
		return "180"
	case Transform270:
		return "270"
	case TransformFlipped:
		return "flipped"
	case TransformFlipped90:
		return "flipped-90"
	case TransformFlipped180:
		return "flipped-180"
	case TransformFlipped270:
		return "flipped-270"
	default:
		return "unknown"
	}
}

// NoMode marks the absence of a current mode.
const NoMode = -1

// State is one snapshot of an output. An Output keeps two: pending, which
// mutators write, and published, which bound peers have seen.
type State struct {
	Position     Position
	PhysicalSize Size
	Subpixel     Subpixel
	Make         string
	Model        string
	Transform    Transform

	Modes       []Mode
	CurrentMode int

	// LogicalSize is the size of the output in compositor space. When set,
	// the client scale is derived from it and the current mode.
	LogicalSize Size
	// ScaleOverride forces the client scale when positive.
	ScaleOverride int32
	// Scale is derived; see deriveScale.
	Scale int32

	Name        string
	Description string
	Enabled     bool
}

func (s State) clone() State {
	s.Modes = slices.Clone(s.Modes)
	return s
}

// Current returns the current mode.
func (s State) Current() (Mode, bool) {
	for _, m := range s.Modes {
		if m.ID == s.CurrentMode {
			return m, true
		}
	}
	return Mode{}, false
}

// deriveScale computes the client-visible integer scale. An explicit
// override wins; otherwise the physical mode width is compared against the
// logical width and rounded up.
func deriveScale(s State) int32 {
	if s.ScaleOverride > 0 {
		return s.ScaleOverride
	}
	m, ok := s.Current()
	if !ok || s.LogicalSize.Width <= 0 {
		return 1
	}
	physical := m.Size.Width
	if s.Transform.Rotated() {
		physical = m.Size.Height
	}
	scale := int32(math.Ceil(float64(physical) / float64(s.LogicalSize.Width)))
	if scale < 1 {
		return 1
	}
	return scale
}

// Change is a bit set of fields that differ between two states.
type Change uint32

const (
	ChangeGeometry Change = 1 << iota
	ChangeModes
	ChangeCurrentMode
	ChangeScale
	ChangeName
	ChangeDescription
	ChangeEnabled
)

// Has reports whether every bit of c2 is set.
func (c Change) Has(c2 Change) bool {
	return c&c2 == c2
}

func diff(old, new State) Change {
	var c Change
	if old.Position != new.Position || old.PhysicalSize != new.PhysicalSize ||
		old.Subpixel != new.Subpixel || old.Make != new.Make ||
		old.Model != new.Model || old.Transform != new.Transform {
		c |= ChangeGeometry
	}
	if !slices.Equal(old.Modes, new.Modes) {
		c |= ChangeModes
	}
	if old.CurrentMode != new.CurrentMode {
		c |= ChangeCurrentMode
	}
	if old.Scale != new.Scale {
		c |= ChangeScale
	}
	if old.Name != new.Name {
		c |= ChangeName
	}
	if old.Description != new.Description {
		c |= ChangeDescription
	}
	if old.Enabled != new.Enabled {
		c |= ChangeEnabled
	}
	return c
}
