package math

import (
	m "math"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/exp/constraints"
)

// Clamp returns the value `f` clamped to the range [low, high].
// It works for any numeric type (integers and floats).
func Clamp[T constraints.Ordered](f, low, high T) T {
	if f < low {
		return low
	}
	if f > high {
		return high
	}
	return f
}

// FloorPowerOfTwo returns the largest power of two not above v, or 0 for 0.
func FloorPowerOfTwo[T constraints.Unsigned](v T) T {
	if v == 0 {
		return 0
	}
	p := T(1)
	for p <= v/2 {
		p <<= 1
	}
	return p
}

// DivCeil returns ceil(a / b) for b > 0.
func DivCeil[T constraints.Unsigned](a, b T) T {
	q := a / b
	if a%b != 0 {
		q++
	}
	return q
}

func DegToRad(deg float32) float32 {
	return mgl32.DegToRad(deg)
}

func RadToDeg(rad float32) float32 {
	return mgl32.RadToDeg(rad)
}

func sqrt32(v float32) float32 {
	return float32(m.Sqrt(float64(v)))
}
