package systems

import (
	"math"

	"github.com/pthm-cable/plife3d/components"
)

// TorusDelta returns the shortest signed displacement from a to b on a
// periodic axis of the given size.
func TorusDelta(a, b, size float32) float32 {
	d := b - a
	if d > size/2 {
		d -= size
	} else if d < -size/2 {
		d += size
	}
	return d
}

// TorusDelta3 returns the minimum-image displacement from a to b.
func TorusDelta3(a, b components.Vec4, size float32) components.Vec4 {
	return components.Vec4{
		X: TorusDelta(a.X, b.X, size),
		Y: TorusDelta(a.Y, b.Y, size),
		Z: TorusDelta(a.Z, b.Z, size),
	}
}

// Wrap maps x into [0, size).
func Wrap(x, size float32) float32 {
	if x >= 0 && x < size {
		return x
	}
	x = float32(math.Mod(float64(x), float64(size)))
	if x < 0 {
		x += size
	}
	// -tiny + size rounds to size in float32
	if x >= size {
		x = 0
	}
	return x
}

// Wrap3 wraps every xyz component into [0, size).
func Wrap3(v components.Vec4, size float32) components.Vec4 {
	return components.Vec4{
		X: Wrap(v.X, size),
		Y: Wrap(v.Y, size),
		Z: Wrap(v.Z, size),
		W: v.W,
	}
}
