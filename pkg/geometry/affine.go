// Package geometry provides the 2D affine transform used to place a cropped
// source region onto the output canvas.
//
// Transforms are 3x3 homogeneous matrices in y-down raster coordinates, so a
// positive rotation turns the image clockwise on screen:
//
//	| a  b  tx |
//	| c  d  ty |
//	| 0  0  1  |
//
// Composition follows matrix multiplication: a.Mul(b) applies b first.
package geometry

import (
	"math"

	"golang.org/x/image/math/f64"
	"gonum.org/v1/gonum/mat"
)

// Affine is an immutable 2D affine transform.
type Affine struct {
	m *mat.Dense
}

func newAffine(a, b, tx, c, d, ty float64) Affine {
	return Affine{m: mat.NewDense(3, 3, []float64{
		a, b, tx,
		c, d, ty,
		0, 0, 1,
	})}
}

// Identity returns the identity transform.
func Identity() Affine {
	return newAffine(1, 0, 0, 0, 1, 0)
}

// Translate returns a translation by (tx, ty).
func Translate(tx, ty float64) Affine {
	return newAffine(1, 0, tx, 0, 1, ty)
}

// Scale returns a scale by (sx, sy) around the origin.
func Scale(sx, sy float64) Affine {
	return newAffine(sx, 0, 0, 0, sy, 0)
}

// Rotate returns a rotation by degrees around the origin. Quarter turns use
// exact sine and cosine so that 90/180/270 degree renders are pixel exact.
func Rotate(degrees int) Affine {
	sin, cos := sincos(degrees)
	return newAffine(cos, -sin, 0, sin, cos, 0)
}

// RotateAt rotates by degrees around (cx, cy).
func RotateAt(degrees int, cx, cy float64) Affine {
	return Translate(cx, cy).Mul(Rotate(degrees)).Mul(Translate(-cx, -cy))
}

// ScaleAt scales uniformly by s around (cx, cy).
func ScaleAt(s, cx, cy float64) Affine {
	return Translate(cx, cy).Mul(Scale(s, s)).Mul(Translate(-cx, -cy))
}

// NormalizeDegrees reduces any integer angle into [0, 360).
func NormalizeDegrees(degrees int) int {
	return ((degrees % 360) + 360) % 360
}

func sincos(degrees int) (float64, float64) {
	switch NormalizeDegrees(degrees) {
	case 0:
		return 0, 1
	case 90:
		return 1, 0
	case 180:
		return 0, -1
	case 270:
		return -1, 0
	}
	rad := float64(NormalizeDegrees(degrees)) * math.Pi / 180
	return math.Sin(rad), math.Cos(rad)
}

func (a Affine) dense() *mat.Dense {
	if a.m == nil {
		return Identity().m
	}
	return a.m
}

// Mul returns a * b, the transform that applies b first and then a.
func (a Affine) Mul(b Affine) Affine {
	var r mat.Dense
	r.Mul(a.dense(), b.dense())
	return Affine{m: &r}
}

// Apply maps the point (x, y) through the transform.
func (a Affine) Apply(x, y float64) (float64, float64) {
	m := a.dense()
	return m.At(0, 0)*x + m.At(0, 1)*y + m.At(0, 2),
		m.At(1, 0)*x + m.At(1, 1)*y + m.At(1, 2)
}

// Aff3 returns the transform in the row-major form used by
// golang.org/x/image/draw.
func (a Affine) Aff3() f64.Aff3 {
	m := a.dense()
	return f64.Aff3{
		m.At(0, 0), m.At(0, 1), m.At(0, 2),
		m.At(1, 0), m.At(1, 1), m.At(1, 2),
	}
}
