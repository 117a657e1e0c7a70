// Package surface maps fixed-size depth frames onto display surfaces of
// arbitrary size.
package surface

import (
	"fmt"
	"math"

	"gocv.io/x/gocv"
)

// Matrix is a 2D affine transform. A point (x, y) maps to
//
//	(ScaleX*x + SkewX*y + TransX, SkewY*x + ScaleY*y + TransY)
type Matrix struct {
	ScaleX, SkewX, TransX float64
	SkewY, ScaleY, TransY float64
}

// Identity returns the identity transform.
func Identity() Matrix {
	return Matrix{ScaleX: 1, ScaleY: 1}
}

// Rect is an axis-aligned rectangle.
type Rect struct {
	Left, Top, Right, Bottom float64
}

// RectOf returns the rectangle (0, 0, w, h).
func RectOf(w, h int) Rect {
	return Rect{Right: float64(w), Bottom: float64(h)}
}

func (r Rect) Width() float64  { return r.Right - r.Left }
func (r Rect) Height() float64 { return r.Bottom - r.Top }

// Map applies m to (x, y).
func (m Matrix) Map(x, y float64) (float64, float64) {
	return m.ScaleX*x + m.SkewX*y + m.TransX,
		m.SkewY*x + m.ScaleY*y + m.TransY
}

// Then returns the transform that applies m and then n.
func (m Matrix) Then(n Matrix) Matrix {
	return Matrix{
		ScaleX: n.ScaleX*m.ScaleX + n.SkewX*m.SkewY,
		SkewX:  n.ScaleX*m.SkewX + n.SkewX*m.ScaleY,
		TransX: n.ScaleX*m.TransX + n.SkewX*m.TransY + n.TransX,
		SkewY:  n.SkewY*m.ScaleX + n.ScaleY*m.SkewY,
		ScaleY: n.SkewY*m.SkewX + n.ScaleY*m.ScaleY,
		TransY: n.SkewY*m.TransX + n.ScaleY*m.TransY + n.TransY,
	}
}

// Rotation returns a rotation by deg degrees about (px, py).
func Rotation(deg, px, py float64) Matrix {
	sin, cos := sinCos(deg)
	return Matrix{
		ScaleX: cos, SkewX: -sin, TransX: px - cos*px + sin*py,
		SkewY: sin, ScaleY: cos, TransY: py - sin*px - cos*py,
	}
}

// PostRotate returns m followed by a rotation of deg degrees about (px, py).
func (m Matrix) PostRotate(deg, px, py float64) Matrix {
	return m.Then(Rotation(deg, px, py))
}

// sinCos is exact for multiples of 90 degrees.
func sinCos(deg float64) (float64, float64) {
	switch math.Mod(math.Mod(deg, 360)+360, 360) {
	case 0:
		return 0, 1
	case 90:
		return 1, 0
	case 180:
		return 0, -1
	case 270:
		return -1, 0
	}
	return math.Sincos(deg * math.Pi / 180)
}

// FitCenter scales src uniformly to fit inside dst and centres it.
func FitCenter(src, dst Rect) Matrix {
	if src.Width() <= 0 || src.Height() <= 0 {
		return Identity()
	}
	scale := math.Min(dst.Width()/src.Width(), dst.Height()/src.Height())
	dx := dst.Left + (dst.Width()-src.Width()*scale)/2 - src.Left*scale
	dy := dst.Top + (dst.Height()-src.Height()*scale)/2 - src.Top*scale
	return Matrix{ScaleX: scale, ScaleY: scale, TransX: dx, TransY: dy}
}

// Scale returns the uniform scale factor of m.
func (m Matrix) Scale() float64 {
	return math.Hypot(m.ScaleX, m.SkewY)
}

// Angle returns the rotation angle of m in degrees in [0, 360).
func (m Matrix) Angle() float64 {
	deg := math.Atan2(m.SkewY, m.ScaleX) * 180 / math.Pi
	if deg < 0 {
		deg += 360
	}
	return deg
}

func (m Matrix) String() string {
	return fmt.Sprintf("[%g %g %g; %g %g %g]", m.ScaleX, m.SkewX, m.TransX, m.SkewY, m.ScaleY, m.TransY)
}

// Mat returns m as a 2x3 CV_64F matrix for gocv.WarpAffine. The caller
// must Close it.
func (m Matrix) Mat() gocv.Mat {
	mat := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV64F)
	mat.SetDoubleAt(0, 0, m.ScaleX)
	mat.SetDoubleAt(0, 1, m.SkewX)
	mat.SetDoubleAt(0, 2, m.TransX)
	mat.SetDoubleAt(1, 0, m.SkewY)
	mat.SetDoubleAt(1, 1, m.ScaleY)
	mat.SetDoubleAt(1, 2, m.TransY)
	return mat
}
