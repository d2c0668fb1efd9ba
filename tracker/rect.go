package tracker

import (
	"math"
)

// boxEpsilon guards the aspect ratio denominator for zero height boxes
const boxEpsilon = 1e-6

// Box is an axis aligned rectangle in corner form (x1, y1, x2, y2)
type Box struct {
	X1, Y1, X2, Y2 float64
}

// NewBox creates a Box from its corner coordinates
func NewBox(x1, y1, x2, y2 float64) Box {
	return Box{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

// Width returns the width of the box
func (b Box) Width() float64 {
	return b.X2 - b.X1
}

// Height returns the height of the box
func (b Box) Height() float64 {
	return b.Y2 - b.Y1
}

// Area returns the area of the box, degenerate boxes have zero area
func (b Box) Area() float64 {
	return math.Max(0, b.Width()) * math.Max(0, b.Height())
}

// Center returns the center point of the box
func (b Box) Center() (float64, float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// ToXYWH converts the box to center-size form (cx, cy, w, h)
func (b Box) ToXYWH() [4]float64 {
	cx, cy := b.Center()
	return [4]float64{cx, cy, b.Width(), b.Height()}
}

// ToXYSR converts the box to the legacy form (cx, cy, area, aspect ratio)
func (b Box) ToXYSR() [4]float64 {
	w := b.Width()
	h := b.Height()
	cx, cy := b.Center()

	return [4]float64{cx, cy, w * h, w / (h + boxEpsilon)}
}

// ToTLWH converts the box to top left width height form
func (b Box) ToTLWH() [4]float64 {
	return [4]float64{b.X1, b.Y1, b.Width(), b.Height()}
}

// BoxFromXYWH creates a Box from center-size form
func BoxFromXYWH(z [4]float64) Box {
	return Box{
		X1: z[0] - z[2]/2,
		Y1: z[1] - z[3]/2,
		X2: z[0] + z[2]/2,
		Y2: z[1] + z[3]/2,
	}
}

// BoxFromXYSR creates a Box from the legacy (cx, cy, area, aspect ratio)
// form.  A negative area yields a NaN box.
func BoxFromXYSR(z [4]float64) Box {
	w := math.Sqrt(z[2] * z[3])
	h := 0.0

	if w > 0 {
		h = z[2] / w
	} else if z[2] != 0 {
		h = math.NaN()
	}

	return BoxFromXYWH([4]float64{z[0], z[1], w, h})
}

// IsFinite reports whether all box coordinates are finite numbers
func (b Box) IsFinite() bool {
	for _, v := range [4]float64{b.X1, b.Y1, b.X2, b.Y2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Scale divides all coordinates by the given factor
func (b Box) Scale(factor float64) Box {
	return Box{
		X1: b.X1 / factor,
		Y1: b.Y1 / factor,
		X2: b.X2 / factor,
		Y2: b.Y2 / factor,
	}
}

// Transform applies the affine transform to both corners of the box
// independently
func (b Box) Transform(a Affine) Box {
	x1, y1 := a.Apply(b.X1, b.Y1)
	x2, y2 := a.Apply(b.X2, b.Y2)

	return Box{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

// Affine is a 2x3 transform [m | t] where m is the 2x2 rotation/scale part
// and t the translation
type Affine [2][3]float64

// IdentityAffine returns the affine transform that leaves points unchanged
func IdentityAffine() Affine {
	return Affine{{1, 0, 0}, {0, 1, 0}}
}

// Translation returns a pure translation affine transform
func Translation(tx, ty float64) Affine {
	return Affine{{1, 0, tx}, {0, 1, ty}}
}

// Apply maps the point (x, y) to m @ p + t
func (a Affine) Apply(x, y float64) (float64, float64) {
	return a[0][0]*x + a[0][1]*y + a[0][2],
		a[1][0]*x + a[1][1]*y + a[1][2]
}

// Rotate maps the vector (x, y) by m only, without translation
func (a Affine) Rotate(x, y float64) (float64, float64) {
	return a[0][0]*x + a[0][1]*y, a[1][0]*x + a[1][1]*y
}

// IsFinite reports whether all transform entries are finite numbers
func (a Affine) IsFinite() bool {
	for _, row := range a {
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// IsIdentity reports whether the transform is exactly the identity
func (a Affine) IsIdentity() bool {
	return a == IdentityAffine()
}
