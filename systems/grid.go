// Package systems provides the particle kernels: force curves, the cell grid,
// the radix grouping and the neighbor solver.
package systems

import (
	"fmt"
	"math"

	"github.com/pthm-cable/plife3d/components"
)

// MaxCellsPerAxis bounds the per-cell buffers a single step may allocate.
const (
	MaxCellsPerAxis = 256
	MaxTotalCells   = MaxCellsPerAxis * MaxCellsPerAxis * MaxCellsPerAxis
)

// Grid describes the uniform cell partition of the cubic domain.
// It is derived from the domain size and cutoff and never persisted.
type Grid struct {
	DomainSize     float32
	CellCount      int // cells per axis
	CellSize       float32
	TotalCellCount int
}

// NewGrid derives the grid for a domain and interaction cutoff so that every
// neighbor within maxDist lies in the 27 cells around a particle's own cell.
func NewGrid(domainSize, maxDist float32) (Grid, error) {
	if !(domainSize > 0) || !(maxDist > 0) {
		return Grid{}, fmt.Errorf("grid needs positive domain size and max dist, got %v and %v: %w",
			domainSize, maxDist, ErrConfig)
	}
	n := int(math.Floor(float64(domainSize) / float64(maxDist)))
	if n < 1 {
		return Grid{}, fmt.Errorf("max dist %v exceeds domain size %v: %w", maxDist, domainSize, ErrConfig)
	}
	if n > MaxCellsPerAxis {
		return Grid{}, fmt.Errorf("%d cells per axis exceeds %d total cells: %w", n, MaxTotalCells, ErrResource)
	}
	return Grid{
		DomainSize:     domainSize,
		CellCount:      n,
		CellSize:       domainSize / float32(n),
		TotalCellCount: n * n * n,
	}, nil
}

// axisCell maps a wrapped coordinate onto its cell, clamped into range.
func (g *Grid) axisCell(x float32) int {
	c := int(x / g.CellSize)
	if c < 0 {
		return 0
	}
	if c >= g.CellCount {
		return g.CellCount - 1
	}
	return c
}

// CellCoords returns the cell coordinates of a position.
func (g *Grid) CellCoords(p components.Vec4) (gx, gy, gz int) {
	return g.axisCell(p.X), g.axisCell(p.Y), g.axisCell(p.Z)
}

// Flatten returns the flat cell index of cell coordinates.
func (g *Grid) Flatten(gx, gy, gz int) int {
	return gx + gy*g.CellCount + gz*g.CellCount*g.CellCount
}

// Unflatten is the inverse of Flatten.
func (g *Grid) Unflatten(idx int) (gx, gy, gz int) {
	n := g.CellCount
	return idx % n, (idx / n) % n, idx / (n * n)
}

// CellIndex returns the flat cell index of a position.
func (g *Grid) CellIndex(p components.Vec4) int {
	return g.Flatten(g.CellCoords(p))
}

// Contains reports whether position p lies inside cell idx.
func (g *Grid) Contains(idx int, p components.Vec4) bool {
	return g.CellIndex(p) == idx
}

// AxisNeighbors writes the distinct wrapped coordinates among c-1, c, c+1
// into dst and returns how many were written. Grids with fewer than three
// cells per axis yield fewer than three.
func (g *Grid) AxisNeighbors(c int, dst *[3]int) int {
	n := g.CellCount
	k := 0
	for d := -1; d <= 1; d++ {
		v := (c + d + n) % n
		dup := false
		for i := 0; i < k; i++ {
			if dst[i] == v {
				dup = true
				break
			}
		}
		if !dup {
			dst[k] = v
			k++
		}
	}
	return k
}

// AssignRange computes the cell index of particles[lo:hi] into cells.
func (g *Grid) AssignRange(particles []components.Particle, cells []uint32, lo, hi int) {
	for i := lo; i < hi; i++ {
		cells[i] = uint32(g.CellIndex(particles[i].Position))
	}
}
