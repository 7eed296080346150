package systems

import (
	"fmt"
	"slices"

	"github.com/pthm-cable/plife3d/components"
)

// CheckGrouping cross-checks cell assignment and grouping against a brute
// force rebuild. It is slow and meant for tests and the verification mode.
// sortedKeys may be nil; when given it must be the radix output aligned with
// table.ParticleIndex.
func CheckGrouping(g *Grid, particles []components.Particle, cells []uint32, table SortedTable, sortedKeys []uint32) error {
	n := len(particles)
	if len(cells) != n || len(table.ParticleIndex) != n {
		return fmt.Errorf("length mismatch: %d particles, %d cells, %d indices: %w",
			n, len(cells), len(table.ParticleIndex), ErrConsistency)
	}
	if len(table.CellCounts) != g.TotalCellCount || len(table.CellOffsets) != g.TotalCellCount {
		return fmt.Errorf("table sized for %d cells, grid has %d: %w",
			len(table.CellCounts), g.TotalCellCount, ErrConsistency)
	}

	expected := make([][]uint32, g.TotalCellCount)
	for i, p := range particles {
		c := g.CellIndex(p.Position)
		if int(cells[i]) != c {
			return fmt.Errorf("particle %d at %+v recorded in cell %d, belongs to %d: %w",
				i, p.Position, cells[i], c, ErrConsistency)
		}
		expected[c] = append(expected[c], uint32(i))
	}

	var total uint32
	for c := range g.TotalCellCount {
		total += table.CellCounts[c]
		if int(table.CellOffsets[c])+int(table.CellCounts[c]) > n {
			return fmt.Errorf("cell %d slice [%d,+%d) out of range: %w",
				c, table.CellOffsets[c], table.CellCounts[c], ErrConsistency)
		}
		got := slices.Clone(table.Cell(c))
		slices.Sort(got)
		if !slices.Equal(got, expected[c]) {
			return fmt.Errorf("cell %d holds %v, want %v: %w", c, got, expected[c], ErrConsistency)
		}
		if sortedKeys != nil {
			off := table.CellOffsets[c]
			for _, k := range sortedKeys[off : off+table.CellCounts[c]] {
				if int(k) != c {
					return fmt.Errorf("radix key %d inside cell %d run: %w", k, c, ErrConsistency)
				}
			}
		}
	}
	if int(total) != n {
		return fmt.Errorf("cell counts sum to %d, want %d: %w", total, n, ErrConsistency)
	}
	return nil
}
