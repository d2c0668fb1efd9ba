package tracker

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBoxConversions(t *testing.T) {

	b := NewBox(10, 20, 50, 100)

	assert.Equal(t, 40.0, b.Width())
	assert.Equal(t, 80.0, b.Height())
	assert.Equal(t, 3200.0, b.Area())
	assert.Equal(t, [4]float64{30, 60, 40, 80}, b.ToXYWH())
	assert.Equal(t, [4]float64{10, 20, 40, 80}, b.ToTLWH())

	assert.Equal(t, b, BoxFromXYWH(b.ToXYWH()))

	back := BoxFromXYSR(b.ToXYSR())
	assert.InDelta(t, b.X1, back.X1, 1e-4)
	assert.InDelta(t, b.Y1, back.Y1, 1e-4)
	assert.InDelta(t, b.X2, back.X2, 1e-4)
	assert.InDelta(t, b.Y2, back.Y2, 1e-4)
}

func TestBoxDegenerate(t *testing.T) {

	inverted := NewBox(10, 10, 0, 0)
	assert.Equal(t, 0.0, inverted.Area())

	nan := BoxFromXYSR([4]float64{5, 5, -10, 1})
	assert.False(t, nan.IsFinite())

	zero := BoxFromXYSR([4]float64{5, 5, 0, 1})
	assert.True(t, zero.IsFinite())
	assert.Equal(t, 0.0, zero.Area())

	assert.False(t, NewBox(0, math.Inf(1), 1, 1).IsFinite())
}

func TestBoxScale(t *testing.T) {
	assert.Equal(t, NewBox(5, 10, 15, 20), NewBox(10, 20, 30, 40).Scale(2))
}

func TestAffineTransform(t *testing.T) {

	b := NewBox(0, 0, 10, 10)

	assert.Equal(t, NewBox(5, 5, 15, 15), b.Transform(Translation(5, 5)))
	assert.Equal(t, b, b.Transform(IdentityAffine()))

	// 90 degree rotation maps (x, y) to (-y, x) on each corner
	rot := Affine{{0, -1, 0}, {1, 0, 0}}
	assert.Equal(t, NewBox(0, 0, -10, 10), b.Transform(rot))

	vx, vy := rot.Rotate(1, 0)
	assert.Equal(t, 0.0, vx)
	assert.Equal(t, 1.0, vy)

	assert.True(t, IdentityAffine().IsIdentity())
	assert.False(t, Translation(1, 0).IsIdentity())
	assert.False(t, Affine{{math.NaN(), 0, 0}, {0, 1, 0}}.IsFinite())
}
