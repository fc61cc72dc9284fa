package geometry

import (
	"math"
	"testing"
)

const eps = 1e-9

func near(a, b float64) bool {
	return math.Abs(a-b) < eps
}

func TestIdentity(t *testing.T) {
	x, y := Identity().Apply(3, -4)
	if x != 3 || y != -4 {
		t.Errorf("Identity().Apply(3,-4) = (%f,%f)", x, y)
	}

	var zero Affine
	x, y = zero.Apply(1, 2)
	if x != 1 || y != 2 {
		t.Errorf("zero value should behave as identity, got (%f,%f)", x, y)
	}
}

func TestRotateQuarterTurnsAreExact(t *testing.T) {
	tests := []struct {
		degrees int
		wantX   float64
		wantY   float64
	}{
		{0, 1, 0},
		{90, 0, 1},
		{180, -1, 0},
		{270, 0, -1},
		{-90, 0, -1},
		{450, 0, 1},
	}

	for _, tt := range tests {
		x, y := Rotate(tt.degrees).Apply(1, 0)
		if x != tt.wantX || y != tt.wantY {
			t.Errorf("Rotate(%d).Apply(1,0) = (%v,%v), want (%v,%v)", tt.degrees, x, y, tt.wantX, tt.wantY)
		}
	}
}

func TestRotateAtKeepsCenterFixed(t *testing.T) {
	for _, deg := range []int{0, 17, 90, 135, 270, 359} {
		a := RotateAt(deg, 50, 25)
		x, y := a.Apply(50, 25)
		if !near(x, 50) || !near(y, 25) {
			t.Errorf("RotateAt(%d) moved its center to (%f,%f)", deg, x, y)
		}
	}
}

func TestScaleAtKeepsCenterFixed(t *testing.T) {
	a := ScaleAt(2.5, 10, 20)
	x, y := a.Apply(10, 20)
	if !near(x, 10) || !near(y, 20) {
		t.Errorf("ScaleAt moved its center to (%f,%f)", x, y)
	}
	x, y = a.Apply(12, 20)
	if !near(x, 15) || !near(y, 20) {
		t.Errorf("ScaleAt(2.5).Apply(12,20) = (%f,%f), want (15,20)", x, y)
	}
}

func TestMulOrder(t *testing.T) {
	// Translate after scale: (1,1) -> (2,2) -> (12,2)
	a := Translate(10, 0).Mul(Scale(2, 2))
	x, y := a.Apply(1, 1)
	if !near(x, 12) || !near(y, 2) {
		t.Errorf("Translate.Mul(Scale).Apply(1,1) = (%f,%f), want (12,2)", x, y)
	}
}

func TestRotateAtScaleAtComposeAboutSameCenter(t *testing.T) {
	cx, cy := 60.0, 40.0
	got := RotateAt(37, cx, cy).Mul(ScaleAt(1.5, cx, cy)).Aff3()
	want := Translate(cx, cy).Mul(Rotate(37)).Mul(Scale(1.5, 1.5)).Mul(Translate(-cx, -cy)).Aff3()
	for i := range want {
		if !near(got[i], want[i]) {
			t.Errorf("Aff3()[%d] = %f, want %f", i, got[i], want[i])
		}
	}
}

func TestAff3(t *testing.T) {
	a := Translate(3, 4).Mul(Scale(2, 5))
	m := a.Aff3()
	want := [6]float64{2, 0, 3, 0, 5, 4}
	for i := range want {
		if !near(m[i], want[i]) {
			t.Errorf("Aff3()[%d] = %f, want %f", i, m[i], want[i])
		}
	}
}

func TestNormalizeDegrees(t *testing.T) {
	tests := map[int]int{0: 0, 359: 359, 360: 0, 450: 90, -90: 270, -720: 0, 3601: 1}
	for in, want := range tests {
		if got := NormalizeDegrees(in); got != want {
			t.Errorf("NormalizeDegrees(%d) = %d, want %d", in, got, want)
		}
	}
}
