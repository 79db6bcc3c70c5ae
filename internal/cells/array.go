// Package cells partitions the periodic box into a grid of cells no narrower than the
// interaction cutoff, so every pair within range shares a cell or lives in adjacent ones.
package cells

import (
	"errors"
	"fmt"
	"slices"

	"github.com/disorderedmaterials/dissolve-sub015/internal/geometry"
)

var (
	ErrCutoffTooLarge = errors.New("cutoff exceeds the inscribed sphere radius of the box")
	ErrInvalidCutoff  = errors.New("cutoff must be positive")
)

// Neighbour describes one entry of a cell's neighbour list.
type Neighbour struct {
	Cell        int
	RequiresMIM bool // periodic wrap applies between the two cells
}

// Cell holds the atoms geometrically inside its bounds, kept sorted by atom index so that
// iteration order never depends on insertion history.
type Cell struct {
	Index      int
	Grid       [3]int
	atoms      []int
	neighbours []Neighbour
}

func (c *Cell) Atoms() []int             { return c.atoms }
func (c *Cell) NAtoms() int              { return len(c.atoms) }
func (c *Cell) Neighbours() []Neighbour { return c.neighbours }

// Pair is one unordered cell pair of the half stencil (I <= J).
type Pair struct {
	I, J        int
	RequiresMIM bool
}

// Array is the spatial index: cells, neighbour lists and the atom → cell map.
type Array struct {
	box       *geometry.Box
	cutoff    float64
	divisions [3]int
	cells     []Cell
	pairs     []Pair
	atomCell  []int
}

// New builds the cell grid for box and cutoff.
func New(box *geometry.Box, cutoff float64) (*Array, error) {
	if !(cutoff > 0) {
		return nil, fmt.Errorf("%w: %g", ErrInvalidCutoff, cutoff)
	}
	if limit := box.InscribedRadius(); cutoff > limit {
		return nil, fmt.Errorf("%w: cutoff %g > %g", ErrCutoffTooLarge, cutoff, limit)
	}
	widths := box.PerpendicularWidths()
	a := &Array{box: box, cutoff: cutoff}
	for i := 0; i < 3; i++ {
		n := int(widths.Get(i) / cutoff)
		if n < 1 {
			n = 1
		}
		a.divisions[i] = n
	}
	nx, ny, nz := a.divisions[0], a.divisions[1], a.divisions[2]
	a.cells = make([]Cell, nx*ny*nz)
	for x := 0; x < nx; x++ {
		for y := 0; y < ny; y++ {
			for z := 0; z < nz; z++ {
				idx := a.index(x, y, z)
				a.cells[idx] = Cell{Index: idx, Grid: [3]int{x, y, z}}
			}
		}
	}
	a.buildNeighbours()
	return a, nil
}

func (a *Array) index(x, y, z int) int {
	return x*a.divisions[1]*a.divisions[2] + y*a.divisions[2] + z
}

func (a *Array) buildNeighbours() {
	small := a.divisions[0] < 3 || a.divisions[1] < 3 || a.divisions[2] < 3
	alwaysMIM := small || a.box.Kind() == geometry.Triclinic
	for ci := range a.cells {
		c := &a.cells[ci]
		// self first
		c.neighbours = append(c.neighbours[:0], Neighbour{Cell: c.Index, RequiresMIM: alwaysMIM})
		seen := map[int]int{c.Index: 0}
		for dx := -1; dx <= 1; dx++ {
			for dy := -1; dy <= 1; dy++ {
				for dz := -1; dz <= 1; dz++ {
					if dx == 0 && dy == 0 && dz == 0 {
						continue
					}
					g := [3]int{c.Grid[0] + dx, c.Grid[1] + dy, c.Grid[2] + dz}
					wrapped := false
					for i := 0; i < 3; i++ {
						if g[i] < 0 || g[i] >= a.divisions[i] {
							wrapped = true
							g[i] = (g[i] + a.divisions[i]) % a.divisions[i]
						}
					}
					nbr := a.index(g[0], g[1], g[2])
					if at, ok := seen[nbr]; ok {
						// reached twice (tiny grids): wrapping applies if either route wraps
						c.neighbours[at].RequiresMIM = c.neighbours[at].RequiresMIM || wrapped
						continue
					}
					seen[nbr] = len(c.neighbours)
					c.neighbours = append(c.neighbours, Neighbour{Cell: nbr, RequiresMIM: wrapped || alwaysMIM})
				}
			}
		}
	}
	a.pairs = a.pairs[:0]
	for ci := range a.cells {
		for _, n := range a.cells[ci].neighbours {
			if n.Cell >= ci {
				a.pairs = append(a.pairs, Pair{I: ci, J: n.Cell, RequiresMIM: n.RequiresMIM})
			}
		}
	}
}

func (a *Array) Box() *geometry.Box  { return a.box }
func (a *Array) Cutoff() float64     { return a.cutoff }
func (a *Array) Divisions() [3]int   { return a.divisions }
func (a *Array) NCells() int         { return len(a.cells) }
func (a *Array) Cell(i int) *Cell    { return &a.cells[i] }
func (a *Array) UniquePairs() []Pair { return a.pairs }

// Neighbours returns the ordered neighbour list of cell i, self first.
func (a *Array) Neighbours(i int) []Neighbour { return a.cells[i].neighbours }

// IsNeighbour reports whether cells i and j are within one stencil step (or identical).
func (a *Array) IsNeighbour(i, j int) bool {
	for _, n := range a.cells[i].neighbours {
		if n.Cell == j {
			return true
		}
	}
	return false
}

// CellIndexOf returns the index of the cell containing position r (folded first).
func (a *Array) CellIndexOf(r geometry.Vec3) int {
	f := a.box.FoldFrac(a.box.RealToFrac(a.box.Fold(r)))
	var g [3]int
	for i := 0; i < 3; i++ {
		g[i] = int(f.Get(i) * float64(a.divisions[i]))
		if g[i] >= a.divisions[i] {
			g[i] = a.divisions[i] - 1
		} else if g[i] < 0 {
			g[i] = 0
		}
	}
	return a.index(g[0], g[1], g[2])
}

// CellContaining returns the cell holding position r.
func (a *Array) CellContaining(r geometry.Vec3) *Cell { return &a.cells[a.CellIndexOf(r)] }

// CellOf returns the cell index currently holding atom, or -1.
func (a *Array) CellOf(atom int) int {
	if atom < 0 || atom >= len(a.atomCell) {
		return -1
	}
	return a.atomCell[atom]
}

// Insert places atom in the cell containing r.
func (a *Array) Insert(atom int, r geometry.Vec3) int {
	for len(a.atomCell) <= atom {
		a.atomCell = append(a.atomCell, -1)
	}
	if a.atomCell[atom] >= 0 {
		a.Remove(atom)
	}
	ci := a.CellIndexOf(r)
	c := &a.cells[ci]
	pos, _ := slices.BinarySearch(c.atoms, atom)
	c.atoms = slices.Insert(c.atoms, pos, atom)
	a.atomCell[atom] = ci
	return ci
}

// Remove takes atom out of its current cell.
func (a *Array) Remove(atom int) {
	ci := a.CellOf(atom)
	if ci < 0 {
		return
	}
	c := &a.cells[ci]
	if pos, ok := slices.BinarySearch(c.atoms, atom); ok {
		c.atoms = slices.Delete(c.atoms, pos, pos+1)
	}
	a.atomCell[atom] = -1
}

// UpdateMembership moves atom to the cell geometrically containing r, reporting whether
// its cell changed. Called after every accepted coordinate change.
func (a *Array) UpdateMembership(atom int, r geometry.Vec3) (int, bool) {
	ci := a.CellIndexOf(r)
	if atom < len(a.atomCell) && a.atomCell[atom] == ci {
		return ci, false
	}
	return a.Insert(atom, r), true
}

// Clear empties every cell.
func (a *Array) Clear() {
	for i := range a.cells {
		a.cells[i].atoms = a.cells[i].atoms[:0]
	}
	for i := range a.atomCell {
		a.atomCell[i] = -1
	}
}

// Clone returns an independent copy sharing only the immutable box.
func (a *Array) Clone() *Array {
	b := &Array{box: a.box, cutoff: a.cutoff, divisions: a.divisions, pairs: a.pairs}
	b.cells = make([]Cell, len(a.cells))
	for i, c := range a.cells {
		b.cells[i] = Cell{Index: c.Index, Grid: c.Grid, atoms: slices.Clone(c.atoms), neighbours: c.neighbours}
	}
	b.atomCell = slices.Clone(a.atomCell)
	return b
}
