package math

import (
	"github.com/chewxy/math32"
	"golang.org/x/exp/constraints"
)

const (
	K_PI            float32 = math32.Pi
	K_FLOAT_EPSILON float32 = 1.192092896e-07
)

// Clamp returns the value `f` clamped to the range [low, high].
func Clamp[T constraints.Ordered](f, low, high T) T {
	if f < low {
		return low
	}
	if f > high {
		return high
	}
	return f
}

// AlignUp rounds v up to the next multiple of align, which must be a power
// of two.
func AlignUp[T constraints.Unsigned](v, align T) T {
	return (v + align - 1) &^ (align - 1)
}

func DegToRad(degrees float32) float32 {
	return degrees * K_PI / 180.0
}

func RadToDeg(radians float32) float32 {
	return radians * 180.0 / K_PI
}

func Lerp(a, b, t float32) float32 {
	return a + (b-a)*t
}
