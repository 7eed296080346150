package systems

import (
	"fmt"
	"math/rand"
)

// Force table bounds. The table is preallocated for the maximum so its layout
// does not depend on the active species count.
const (
	MaxSpeciesCount = 10
	KeypointsCount  = 6
	ForceTableSize  = MaxSpeciesCount * MaxSpeciesCount * KeypointsCount
)

// Keypoint is one sample of a piecewise-linear radial force curve.
// Positive Force pulls the particle toward its neighbor.
type Keypoint struct {
	Dist  float32
	Force float32
}

// ForceTable holds one curve per ordered species pair.
// Only the first SpeciesCount x SpeciesCount pairs are active.
type ForceTable [ForceTableSize]Keypoint

// ForceOffset returns the index of keypoint 0 for the pair (from, to).
func ForceOffset(from, to int) int {
	return (from*MaxSpeciesCount + to) * KeypointsCount
}

// Curve returns the keypoints for (from, to). The slice aliases the table.
func (t *ForceTable) Curve(from, to int) []Keypoint {
	off := ForceOffset(from, to)
	return t[off : off+KeypointsCount]
}

// SetCurve copies up to KeypointsCount keypoints into the (from, to) curve.
func (t *ForceTable) SetCurve(from, to int, kps []Keypoint) {
	copy(t.Curve(from, to), kps)
}

// Evaluate returns the force magnitude between species from and to at the
// given distance by linear interpolation between the bracketing keypoints.
// Distances at or beyond the last keypoint yield 0.
func (t *ForceTable) Evaluate(from, to int32, dist float32) float32 {
	off := ForceOffset(int(from), int(to))
	kp := t[off : off+KeypointsCount : off+KeypointsCount]

	if dist <= 0 {
		return kp[0].Force
	}
	if dist >= kp[KeypointsCount-1].Dist {
		return 0
	}

	for i := 1; i < KeypointsCount; i++ {
		b := kp[i]
		if dist >= b.Dist {
			continue
		}
		a := kp[i-1]
		span := b.Dist - a.Dist
		if span <= 0 {
			return b.Force
		}
		f := (dist - a.Dist) / span
		return a.Force + (b.Force-a.Force)*f
	}
	return 0
}

// Validate checks every active curve: keypoint 0 at distance 0, distances
// non-decreasing, last distance not beyond maxDist.
func (t *ForceTable) Validate(speciesCount int, maxDist float32) error {
	if speciesCount < 1 || speciesCount > MaxSpeciesCount {
		return fmt.Errorf("species count %d outside [1, %d]: %w", speciesCount, MaxSpeciesCount, ErrConfig)
	}
	for from := 0; from < speciesCount; from++ {
		for to := 0; to < speciesCount; to++ {
			kp := t.Curve(from, to)
			if kp[0].Dist != 0 {
				return fmt.Errorf("pair (%d,%d): first keypoint at %v, want 0: %w", from, to, kp[0].Dist, ErrConfig)
			}
			for i := 1; i < KeypointsCount; i++ {
				if kp[i].Dist < kp[i-1].Dist {
					return fmt.Errorf("pair (%d,%d): keypoint %d distance %v below previous %v: %w",
						from, to, i, kp[i].Dist, kp[i-1].Dist, ErrConfig)
				}
			}
			if last := kp[KeypointsCount-1].Dist; last > maxDist {
				return fmt.Errorf("pair (%d,%d): last keypoint %v beyond max dist %v: %w", from, to, last, maxDist, ErrConfig)
			}
		}
	}
	return nil
}

// Invert negates the magnitudes of the (from, to) curve past keypoint 0.
// The contact force at keypoint 0 keeps its sign.
func (t *ForceTable) Invert(from, to int) {
	kp := t.Curve(from, to)
	for i := 1; i < len(kp); i++ {
		kp[i].Force = -kp[i].Force
	}
}

// MakeAntisymmetric copies (a, b) onto (b, a) and inverts the copy, so b
// answers a's pull with a push. A diagonal pair is left alone.
func (t *ForceTable) MakeAntisymmetric(a, b int) {
	if a == b {
		return
	}
	t.CopyPair(a, b, b, a)
	t.Invert(b, a)
}

// Symmetrize copies every (i, j) with j < i onto (j, i).
func (t *ForceTable) Symmetrize(speciesCount int) {
	for i := 0; i < speciesCount; i++ {
		for j := 0; j < i; j++ {
			t.CopyPair(i, j, j, i)
		}
	}
}

// Scale multiplies every magnitude of the (from, to) curve by f.
func (t *ForceTable) Scale(from, to int, f float32) {
	kp := t.Curve(from, to)
	for i := range kp {
		kp[i].Force *= f
	}
}

// CopyPair copies the curve of one pair onto another.
func (t *ForceTable) CopyPair(fromA, toA, fromB, toB int) {
	copy(t.Curve(fromB, toB), t.Curve(fromA, toA))
}

// ClearPair resets a curve to evenly spaced zero-force keypoints up to maxDist.
func (t *ForceTable) ClearPair(from, to int, maxDist float32) {
	kp := t.Curve(from, to)
	d := maxDist / KeypointsCount
	for i := range kp {
		kp[i] = Keypoint{Dist: float32(i) * d}
	}
}

// SetProfile writes the standard three-bump shape: keypoints spaced by
// maxDist/6 with magnitudes repel, 0, mid, 0, far, 0.
func (t *ForceTable) SetProfile(from, to int, maxDist, repel, mid, far float32) {
	d := maxDist / KeypointsCount
	t.SetCurve(from, to, []Keypoint{
		{Dist: 0, Force: repel},
		{Dist: d, Force: 0},
		{Dist: 2 * d, Force: mid},
		{Dist: 3 * d, Force: 0},
		{Dist: 4 * d, Force: far},
		{Dist: 5 * d, Force: 0},
	})
}

// RandomizePair fills (from, to) with a random three-bump profile:
// a fixed short-range repulsion of maxForce/2 and two random bumps.
func (t *ForceTable) RandomizePair(from, to int, rng *rand.Rand, maxDist, maxForce float32) {
	mid := float32(1.7 * float64(maxForce) * (rng.Float64() - 0.5))
	far := float32(float64(maxForce) * (rng.Float64() - 0.5))
	t.SetProfile(from, to, maxDist, -maxForce*0.5, mid, far)
}

// RandomizeSpecies randomizes every pair touching species in [first, count).
// Pairs among species below first are kept, so growing the species count
// preserves existing curves.
func (t *ForceTable) RandomizeSpecies(first, count int, rng *rand.Rand, maxDist, maxForce float32) {
	for i := first; i < count; i++ {
		for j := 0; j < count; j++ {
			t.RandomizePair(i, j, rng, maxDist, maxForce)
			if j < first {
				t.RandomizePair(j, i, rng, maxDist, maxForce)
			}
		}
	}
}

// Randomize regenerates every active pair from the given seed.
func (t *ForceTable) Randomize(seed int64, speciesCount int, maxDist, maxForce float32) {
	rng := rand.New(rand.NewSource(seed))
	t.RandomizeSpecies(0, speciesCount, rng, maxDist, maxForce)
}

// MaxReach returns the largest last-keypoint distance over the active pairs.
func (t *ForceTable) MaxReach(speciesCount int) float32 {
	var reach float32
	for from := 0; from < speciesCount; from++ {
		for to := 0; to < speciesCount; to++ {
			reach = max(reach, t.Curve(from, to)[KeypointsCount-1].Dist)
		}
	}
	return reach
}
