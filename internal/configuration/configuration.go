// Package configuration holds the atoms and molecules of one simulated system together with
// its box and spatial index. Atoms and molecules live in index-addressed arenas.
package configuration

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/disorderedmaterials/dissolve-sub015/internal/cells"
	"github.com/disorderedmaterials/dissolve-sub015/internal/geometry"
	"github.com/disorderedmaterials/dissolve-sub015/internal/species"
)

var (
	ErrUnresolvedSpecies = errors.New("species not resolved")
	ErrPositionCount     = errors.New("position count mismatch")
	ErrUnknownSpecies    = errors.New("unknown species")
)

// Atom is one atom in the system. Local is its index within the species template.
type Atom struct {
	R        geometry.Vec3
	Type     int
	Molecule int
	Local    int
}

// Molecule is an ordered list of atom indices instantiating one species.
type Molecule struct {
	Species int
	Atoms   []int
}

// Component requests Population copies of the species with index Species.
type Component struct {
	Species    int
	Population int
}

type Configuration struct {
	Name        string
	Temperature float64

	box       *geometry.Box
	cells     *cells.Array
	atoms     []Atom
	molecules []Molecule
	species   []*species.Species
	version   uint64
}

// New creates an empty configuration. Every species must already be resolved.
func New(name string, box *geometry.Box, cutoff float64, sp []*species.Species, temperature float64) (*Configuration, error) {
	for _, s := range sp {
		if !s.Resolved() {
			return nil, fmt.Errorf("%w: %q", ErrUnresolvedSpecies, s.Name)
		}
	}
	ca, err := cells.New(box, cutoff)
	if err != nil {
		return nil, err
	}
	return &Configuration{Name: name, Temperature: temperature, box: box, cells: ca, species: sp}, nil
}

func (c *Configuration) Box() *geometry.Box               { return c.box }
func (c *Configuration) Cells() *cells.Array              { return c.cells }
func (c *Configuration) NAtoms() int                      { return len(c.atoms) }
func (c *Configuration) Atom(i int) *Atom                 { return &c.atoms[i] }
func (c *Configuration) Atoms() []Atom                    { return c.atoms }
func (c *Configuration) NMolecules() int                  { return len(c.molecules) }
func (c *Configuration) Molecule(m int) *Molecule         { return &c.molecules[m] }
func (c *Configuration) Species() []*species.Species      { return c.species }
func (c *Configuration) SpeciesOf(m int) *species.Species { return c.species[c.molecules[m].Species] }
func (c *Configuration) Version() uint64                  { return c.version }

// IncrementVersion marks an accepted coordinate mutation.
func (c *Configuration) IncrementVersion() { c.version++ }

// SetVersion restores the content-version from a checkpoint.
func (c *Configuration) SetVersion(v uint64) { c.version = v }

// PlaceAtom sets the position of atom i exactly and updates its cell membership.
// r must already be folded.
func (c *Configuration) PlaceAtom(i int, r geometry.Vec3) {
	c.atoms[i].R = r
	c.cells.UpdateMembership(i, r)
}

// MoveAtom folds r into the box and places atom i there.
func (c *Configuration) MoveAtom(i int, r geometry.Vec3) {
	c.PlaceAtom(i, c.box.Fold(r))
}

// AddMolecule instantiates species sp with the given (unfolded) positions.
func (c *Configuration) AddMolecule(sp int, positions []geometry.Vec3) (int, error) {
	if sp < 0 || sp >= len(c.species) {
		return -1, fmt.Errorf("%w: %d", ErrUnknownSpecies, sp)
	}
	s := c.species[sp]
	if len(positions) != s.NAtoms() {
		return -1, fmt.Errorf("%w: species %q has %d atoms, got %d positions", ErrPositionCount, s.Name, s.NAtoms(), len(positions))
	}
	m := len(c.molecules)
	mol := Molecule{Species: sp, Atoms: make([]int, len(positions))}
	for local, r := range positions {
		i := len(c.atoms)
		c.atoms = append(c.atoms, Atom{Type: s.Atoms[local].Type, Molecule: m, Local: local})
		mol.Atoms[local] = i
		c.MoveAtom(i, r)
	}
	c.molecules = append(c.molecules, mol)
	return m, nil
}

// Generate inserts molecules at random centres with random orientations.
func (c *Configuration) Generate(composition []Component, rng *rand.Rand) error {
	for _, comp := range composition {
		if comp.Species < 0 || comp.Species >= len(c.species) {
			return fmt.Errorf("%w: %d", ErrUnknownSpecies, comp.Species)
		}
		s := c.species[comp.Species]
		centre := templateCentre(s)
		r := make([]geometry.Vec3, s.NAtoms())
		for n := 0; n < comp.Population; n++ {
			origin := c.box.RandomCoordinate(rng)
			axis := geometry.Vec3{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()}
			rot := geometry.NewAxisRotation(axis, rng.Float64()*360)
			for k, a := range s.Atoms {
				r[k] = rot.Apply(a.R.Sub(centre)).Add(origin)
			}
			if _, err := c.AddMolecule(comp.Species, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func templateCentre(s *species.Species) geometry.Vec3 {
	var sum geometry.Vec3
	for _, a := range s.Atoms {
		sum = sum.Add(a.R)
	}
	return sum.Div(float64(len(s.Atoms)))
}

// Clone returns a deep copy sharing only the immutable box and species templates.
func (c *Configuration) Clone() *Configuration {
	d := &Configuration{
		Name:        c.Name,
		Temperature: c.Temperature,
		box:         c.box,
		cells:       c.cells.Clone(),
		atoms:       slices.Clone(c.atoms),
		species:     c.species,
		version:     c.version,
	}
	d.molecules = make([]Molecule, len(c.molecules))
	for m, mol := range c.molecules {
		d.molecules[m] = Molecule{Species: mol.Species, Atoms: slices.Clone(mol.Atoms)}
	}
	return d
}

// Positions returns a copy of every atom position.
func (c *Configuration) Positions() []geometry.Vec3 {
	out := make([]geometry.Vec3, len(c.atoms))
	for i := range c.atoms {
		out[i] = c.atoms[i].R
	}
	return out
}

// SetPositions replaces every atom position (folding each) and rebuilds cell membership.
func (c *Configuration) SetPositions(r []geometry.Vec3) error {
	if len(r) != len(c.atoms) {
		return fmt.Errorf("%w: have %d atoms, got %d positions", ErrPositionCount, len(c.atoms), len(r))
	}
	for i := range c.atoms {
		c.atoms[i].R = c.box.Fold(r[i])
	}
	c.UpdateCellMembership()
	return nil
}

// UpdateCellMembership re-bins every atom from scratch.
func (c *Configuration) UpdateCellMembership() {
	c.cells.Clear()
	for i := range c.atoms {
		c.cells.Insert(i, c.atoms[i].R)
	}
}

// MembershipConsistent reports whether every atom sits in the cell containing its position.
func (c *Configuration) MembershipConsistent() bool {
	for i := range c.atoms {
		if c.cells.CellOf(i) != c.cells.CellIndexOf(c.atoms[i].R) {
			return false
		}
	}
	return true
}

// UnfoldedPositions returns molecule m's atom positions made whole: every atom is placed at
// the minimum image relative to the first one. dst is reused when large enough.
func (c *Configuration) UnfoldedPositions(m int, dst []geometry.Vec3) []geometry.Vec3 {
	ids := c.molecules[m].Atoms
	dst = slices.Grow(dst[:0], len(ids))
	r0 := c.atoms[ids[0]].R
	for _, i := range ids {
		dst = append(dst, r0.Add(c.box.MinimumVector(r0, c.atoms[i].R)))
	}
	return dst
}

// MoleculeCentre returns the geometric centre of the unfolded molecule (not folded).
func (c *Configuration) MoleculeCentre(m int) geometry.Vec3 {
	r := c.UnfoldedPositions(m, nil)
	var sum geometry.Vec3
	for _, p := range r {
		sum = sum.Add(p)
	}
	return sum.Div(float64(len(r)))
}

// Scaling returns the pair interaction factors for atoms i and j: (1, 1) across molecules,
// the species scaling matrix inside one.
func (c *Configuration) Scaling(i, j int) (elec, vdw float64) {
	ai, aj := &c.atoms[i], &c.atoms[j]
	if ai.Molecule != aj.Molecule {
		return 1, 1
	}
	return c.species[c.molecules[ai.Molecule].Species].Scaling(ai.Local, aj.Local)
}

// CellsOfMolecule returns the sorted, distinct cells currently holding molecule m's atoms.
func (c *Configuration) CellsOfMolecule(m int) []int {
	var out []int
	for _, i := range c.molecules[m].Atoms {
		ci := c.cells.CellOf(i)
		if pos, ok := slices.BinarySearch(out, ci); !ok {
			out = slices.Insert(out, pos, ci)
		}
	}
	return out
}
