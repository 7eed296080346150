// Package components defines the plain data types shared by the simulation core.
package components

import "math"

// Vec4 is a 3D vector padded to four components.
// W is unused and kept so a particle matches a 16-byte aligned device layout.
type Vec4 struct {
	X, Y, Z, W float32
}

// Add returns v + o (W untouched).
func (v Vec4) Add(o Vec4) Vec4 {
	return Vec4{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z, W: v.W}
}

// Sub returns v - o (W untouched).
func (v Vec4) Sub(o Vec4) Vec4 {
	return Vec4{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z, W: v.W}
}

// Scale returns v * s on the xyz components.
func (v Vec4) Scale(s float32) Vec4 {
	return Vec4{X: v.X * s, Y: v.Y * s, Z: v.Z * s, W: v.W}
}

// LenSq returns the squared xyz length.
func (v Vec4) LenSq() float32 {
	return v.X*v.X + v.Y*v.Y + v.Z*v.Z
}

// Len returns the xyz length.
func (v Vec4) Len() float32 {
	return float32(math.Sqrt(float64(v.LenSq())))
}

// ClampLen rescales v so its length does not exceed limit.
// A non-positive limit disables clamping.
func (v Vec4) ClampLen(limit float32) Vec4 {
	if limit <= 0 {
		return v
	}
	l := v.Len()
	if l > limit {
		return v.Scale(limit / l)
	}
	return v
}

// Particle flags.
const (
	FlagTracked int32 = 1 << 0 // particle is the currently tracked one
)

// Particle is one point agent.
type Particle struct {
	Position Vec4
	Velocity Vec4
	Species  int32
	Flags    int32
	_        [2]int32 // padding to 48 bytes
}

// Tracked reports whether the tracked flag is set.
func (p *Particle) Tracked() bool {
	return p.Flags&FlagTracked != 0
}
