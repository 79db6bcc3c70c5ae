// Package kernel evaluates pair and intramolecular energies and forces for one configuration
// replica. It holds no state beyond references to the configuration and the potential map.
package kernel

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/disorderedmaterials/dissolve-sub015/internal/cells"
	"github.com/disorderedmaterials/dissolve-sub015/internal/configuration"
	"github.com/disorderedmaterials/dissolve-sub015/internal/geometry"
	"github.com/disorderedmaterials/dissolve-sub015/internal/potential"
	"github.com/disorderedmaterials/dissolve-sub015/internal/species"
)

var ErrRangeExceedsCells = errors.New("potential range exceeds cell cutoff")

type Kernel struct {
	cfg     *configuration.Configuration
	pm      *potential.Map
	box     *geometry.Box
	cells   *cells.Array
	cutoff2 float64
}

// New binds a kernel to a configuration replica. The potential range must fit the cell grid.
func New(cfg *configuration.Configuration, pm *potential.Map) (*Kernel, error) {
	if pm.Range() > cfg.Cells().Cutoff() {
		return nil, fmt.Errorf("%w: %g > %g", ErrRangeExceedsCells, pm.Range(), cfg.Cells().Cutoff())
	}
	return &Kernel{cfg: cfg, pm: pm, box: cfg.Box(), cells: cfg.Cells(), cutoff2: pm.Range2()}, nil
}

func (k *Kernel) Configuration() *configuration.Configuration { return k.cfg }
func (k *Kernel) PotentialMap() *potential.Map                { return k.pm }

// separation returns rj - ri, wrapped only when the cell pair requires it.
func (k *Kernel) separation(ri, rj geometry.Vec3, mim bool) geometry.Vec3 {
	if mim {
		return k.box.MinimumVector(ri, rj)
	}
	return rj.Sub(ri)
}

func (k *Kernel) pairEnergy(i, j int, mim bool) float64 {
	ai, aj := k.cfg.Atom(i), k.cfg.Atom(j)
	r2 := k.separation(ai.R, aj.R, mim).Len2()
	if r2 > k.cutoff2 {
		return 0
	}
	elec, vdw := k.cfg.Scaling(i, j)
	if elec == 0 && vdw == 0 {
		return 0
	}
	return k.pm.Energy(ai.Type, aj.Type, math.Sqrt(r2), elec, vdw)
}

// PairEnergy returns the scaled pair energy of atoms i and j under minimum image.
func (k *Kernel) PairEnergy(i, j int) float64 { return k.pairEnergy(i, j, true) }

func (k *Kernel) pairForces(i, j int, mim bool, f []geometry.Vec3) {
	ai, aj := k.cfg.Atom(i), k.cfg.Atom(j)
	v := k.separation(ai.R, aj.R, mim)
	r2 := v.Len2()
	if r2 > k.cutoff2 || r2 == 0 {
		return
	}
	elec, vdw := k.cfg.Scaling(i, j)
	if elec == 0 && vdw == 0 {
		return
	}
	r := math.Sqrt(r2)
	fv := v.Mul(k.pm.Force(ai.Type, aj.Type, r, elec, vdw) / r)
	f[i] = f[i].Sub(fv)
	f[j] = f[j].Add(fv)
}

// PairForces accumulates the pair force between i and j into f.
func (k *Kernel) PairForces(i, j int, f []geometry.Vec3) { k.pairForces(i, j, true, f) }

// neighbourEnergy is the pair energy of atom i with the atoms of one neighbour cell. With m >= 0
// pairs inside molecule m are taken only from their lower-indexed atom.
func (k *Kernel) neighbourEnergy(i, m int, n cells.Neighbour) float64 {
	e := 0.0
	for _, j := range k.cells.Cell(n.Cell).Atoms() {
		if j == i || (m >= 0 && j < i && k.cfg.Atom(j).Molecule == m) {
			continue
		}
		e += k.pairEnergy(i, j, n.RequiresMIM)
	}
	return e
}

// AtomEnergy returns the pair energy of atom i with every other atom in its cell neighbourhood.
func (k *Kernel) AtomEnergy(i int) float64 {
	e := 0.0
	for _, n := range k.cells.Neighbours(k.cells.CellOf(i)) {
		e += k.neighbourEnergy(i, -1, n)
	}
	return e
}

// MoleculeEnergy returns the pair energy of molecule m with everything around it. Pairs inside
// the molecule are counted once.
func (k *Kernel) MoleculeEnergy(m int) float64 {
	e := 0.0
	for _, i := range k.cfg.Molecule(m).Atoms {
		for _, n := range k.cells.Neighbours(k.cells.CellOf(i)) {
			e += k.neighbourEnergy(i, m, n)
		}
	}
	return e
}

func resize(terms []float64, n int) []float64 {
	terms = slices.Grow(terms[:0], n)[:n]
	clear(terms)
	return terms
}

// AtomEnergyTerms splits AtomEnergy into one term per neighbour cell and evaluates only the
// terms t with t%stride == offset, leaving the others zero. Summing the terms in order after an
// all-sum over stride cooperating ranks reproduces AtomEnergy bit for bit.
func (k *Kernel) AtomEnergyTerms(i, stride, offset int, terms []float64) []float64 {
	nbrs := k.cells.Neighbours(k.cells.CellOf(i))
	terms = resize(terms, len(nbrs))
	for t := offset; t < len(nbrs); t += stride {
		terms[t] = k.neighbourEnergy(i, -1, nbrs[t])
	}
	return terms
}

// MoleculeEnergyTerms is AtomEnergyTerms for MoleculeEnergy: one term per (atom, neighbour cell).
func (k *Kernel) MoleculeEnergyTerms(m, stride, offset int, terms []float64) []float64 {
	n := 0
	for _, i := range k.cfg.Molecule(m).Atoms {
		n += len(k.cells.Neighbours(k.cells.CellOf(i)))
	}
	terms = resize(terms, n)
	t := 0
	for _, i := range k.cfg.Molecule(m).Atoms {
		for _, nb := range k.cells.Neighbours(k.cells.CellOf(i)) {
			if t%stride == offset {
				terms[t] = k.neighbourEnergy(i, m, nb)
			}
			t++
		}
	}
	return terms
}

// pos returns the position of local atom of molecule m.
func (k *Kernel) pos(m, local int) geometry.Vec3 {
	return k.cfg.Atom(k.cfg.Molecule(m).Atoms[local]).R
}

func (k *Kernel) BondEnergy(m int, b *species.Bond) float64 {
	_, r := bondParameters(k.box, k.pos(m, b.I), k.pos(m, b.J))
	return b.Form.Energy(r)
}

func (k *Kernel) AngleEnergy(m int, a *species.Angle) float64 {
	p := angleGeometry(k.box, k.pos(m, a.I), k.pos(m, a.J), k.pos(m, a.K))
	return a.Form.Energy(p.theta)
}

func (k *Kernel) TorsionEnergy(m int, t *species.Torsion) float64 {
	p := torsionGeometry(k.box, k.pos(m, t.I), k.pos(m, t.J), k.pos(m, t.K), k.pos(m, t.L))
	return t.Form.Energy(p.phi)
}

// ImproperEnergy uses the torsion geometry on the improper's four atoms.
func (k *Kernel) ImproperEnergy(m int, t *species.Torsion) float64 { return k.TorsionEnergy(m, t) }

// IntramolecularEnergy sums every bonded term of molecule m.
func (k *Kernel) IntramolecularEnergy(m int) float64 {
	sp := k.cfg.SpeciesOf(m)
	e := 0.0
	for bi := range sp.Bonds {
		e += k.BondEnergy(m, &sp.Bonds[bi])
	}
	for ai := range sp.Angles {
		e += k.AngleEnergy(m, &sp.Angles[ai])
	}
	for ti := range sp.Torsions {
		e += k.TorsionEnergy(m, &sp.Torsions[ti])
	}
	for ti := range sp.Impropers {
		e += k.ImproperEnergy(m, &sp.Impropers[ti])
	}
	return e
}

// AtomIntramolecularEnergy sums the bonded terms of atom i's molecule that involve it.
func (k *Kernel) AtomIntramolecularEnergy(i int) float64 {
	a := k.cfg.Atom(i)
	m, l := a.Molecule, a.Local
	sp := k.cfg.SpeciesOf(m)
	e := 0.0
	for bi := range sp.Bonds {
		if b := &sp.Bonds[bi]; b.I == l || b.J == l {
			e += k.BondEnergy(m, b)
		}
	}
	for ai := range sp.Angles {
		if an := &sp.Angles[ai]; an.I == l || an.J == l || an.K == l {
			e += k.AngleEnergy(m, an)
		}
	}
	for _, terms := range [][]species.Torsion{sp.Torsions, sp.Impropers} {
		for ti := range terms {
			if t := &terms[ti]; t.I == l || t.J == l || t.K == l || t.L == l {
				e += k.TorsionEnergy(m, t)
			}
		}
	}
	return e
}

// IntramolecularForces accumulates the bonded forces of molecule m into f.
func (k *Kernel) IntramolecularForces(m int, f []geometry.Vec3) {
	sp := k.cfg.SpeciesOf(m)
	ids := k.cfg.Molecule(m).Atoms
	for bi := range sp.Bonds {
		b := &sp.Bonds[bi]
		u, r := bondParameters(k.box, k.pos(m, b.I), k.pos(m, b.J))
		if r == 0 {
			continue
		}
		fv := u.Mul(b.Form.Force(r))
		f[ids[b.I]] = f[ids[b.I]].Sub(fv)
		f[ids[b.J]] = f[ids[b.J]].Add(fv)
	}
	for ai := range sp.Angles {
		a := &sp.Angles[ai]
		p := angleGeometry(k.box, k.pos(m, a.I), k.pos(m, a.J), k.pos(m, a.K))
		if p.degenerate {
			continue
		}
		s := a.Form.Force(p.theta) * invSin(p.sinTheta)
		for n, local := range [3]int{a.I, a.J, a.K} {
			f[ids[local]] = f[ids[local]].Add(p.dcos[n].Mul(s))
		}
	}
	for _, terms := range [][]species.Torsion{sp.Torsions, sp.Impropers} {
		for ti := range terms {
			t := &terms[ti]
			p := torsionGeometry(k.box, k.pos(m, t.I), k.pos(m, t.J), k.pos(m, t.K), k.pos(m, t.L))
			if p.degenerate {
				continue
			}
			s := t.Form.Force(p.phi) * invSin(p.sinPhi)
			for n, local := range [4]int{t.I, t.J, t.K, t.L} {
				f[ids[local]] = f[ids[local]].Add(p.dcos[n].Mul(s))
			}
		}
	}
}
