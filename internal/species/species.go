package species

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/disorderedmaterials/dissolve-sub015/internal/geometry"
	"github.com/disorderedmaterials/dissolve-sub015/internal/potential"
)

var ErrTopology = errors.New("invalid topology")

// Default 1-4 scale factors applied when a species leaves them at zero.
const (
	DefaultElecScale14 = 0.5
	DefaultVdwScale14  = 0.5
)

// Atom is a species template atom: its type index and reference coordinates.
type Atom struct {
	Type int
	R    geometry.Vec3
}

// fragments shared by every intramolecular term
type fragments struct {
	attached [2][]int
	inCycle  bool
}

// Attached returns the atoms moved with terminus side (0 or 1) of the term.
func (f *fragments) Attached(side int) []int { return f.attached[side&1] }

// InCycle reports whether the term's moving bond is part of a ring.
func (f *fragments) InCycle() bool { return f.inCycle }

type Bond struct {
	I, J int
	Form BondForm
	fragments
}

type Angle struct {
	I, J, K int
	Form    AngleForm
	fragments
}

// Torsion is also used for impropers; only proper torsions carry fragments.
type Torsion struct {
	I, J, K, L int
	Form       TorsionForm
	fragments
}

type scalePair struct{ elec, vdw float64 }

// Species is the topology template shared by all of its molecules.
type Species struct {
	Name      string
	Atoms     []Atom
	Bonds     []Bond
	Angles    []Angle
	Torsions  []Torsion
	Impropers []Torsion

	ElecScale14, VdwScale14 float64

	adjacency [][]int
	scaling   []scalePair
	rotatable []int
	resolved  bool
}

func (s *Species) NAtoms() int { return len(s.Atoms) }

// Resolve validates the topology against the known atom types and precomputes the pair
// scaling matrix, terminus fragments and ring flags. It must be called before the species is
// used by a configuration.
func (s *Species) Resolve(types []potential.AtomType) error {
	n := len(s.Atoms)
	if n == 0 {
		return fmt.Errorf("%w: species %q has no atoms", ErrTopology, s.Name)
	}
	for i, a := range s.Atoms {
		if a.Type < 0 || a.Type >= len(types) {
			return fmt.Errorf("%w: species %q atom %d has unknown type %d", ErrTopology, s.Name, i, a.Type)
		}
	}
	if s.ElecScale14 == 0 && s.VdwScale14 == 0 {
		s.ElecScale14, s.VdwScale14 = DefaultElecScale14, DefaultVdwScale14
	}

	s.adjacency = make([][]int, n)
	seen := make(map[[2]int]bool, len(s.Bonds))
	for bi := range s.Bonds {
		b := &s.Bonds[bi]
		if err := s.checkIndices("bond", bi, b.I, b.J); err != nil {
			return err
		}
		key := [2]int{min(b.I, b.J), max(b.I, b.J)}
		if seen[key] {
			return fmt.Errorf("%w: species %q has duplicate bond %d-%d", ErrTopology, s.Name, b.I, b.J)
		}
		seen[key] = true
		if b.Form == nil {
			b.Form = NoBond{}
		}
		if epsr, ok := b.Form.(EPSRBond); ok {
			mi, mj := types[s.Atoms[b.I].Type].Mass, types[s.Atoms[b.J].Type].Mass
			if mi <= 0 || mj <= 0 {
				return fmt.Errorf("%w: EPSR bond %d-%d needs positive masses", ErrTopology, b.I, b.J)
			}
			epsr.Mu = math.Sqrt((mi + mj) / (mi * mj))
			b.Form = epsr
		}
		s.adjacency[b.I] = append(s.adjacency[b.I], b.J)
		s.adjacency[b.J] = append(s.adjacency[b.J], b.I)
	}
	for i := range s.adjacency {
		slices.Sort(s.adjacency[i])
	}
	for ai := range s.Angles {
		a := &s.Angles[ai]
		if err := s.checkIndices("angle", ai, a.I, a.J, a.K); err != nil {
			return err
		}
		if a.Form == nil {
			a.Form = NoAngle{}
		}
	}
	for _, set := range []struct {
		kind  string
		terms []Torsion
	}{{"torsion", s.Torsions}, {"improper", s.Impropers}} {
		for ti := range set.terms {
			t := &set.terms[ti]
			if err := s.checkIndices(set.kind, ti, t.I, t.J, t.K, t.L); err != nil {
				return err
			}
			if t.Form == nil {
				t.Form = NoTorsion{}
			}
		}
	}

	s.buildFragments()
	s.buildScaling()
	s.resolved = true
	return nil
}

func (s *Species) checkIndices(kind string, term int, idx ...int) error {
	for k, i := range idx {
		if i < 0 || i >= len(s.Atoms) {
			return fmt.Errorf("%w: species %q %s %d index %d out of range", ErrTopology, s.Name, kind, term, i)
		}
		if slices.Contains(idx[:k], i) {
			return fmt.Errorf("%w: species %q %s %d repeats atom %d", ErrTopology, s.Name, kind, term, i)
		}
	}
	return nil
}

// fragment returns the atoms reachable from start without crossing the bond a-b, sorted.
func (s *Species) fragment(start, a, b int) []int {
	visited := make([]bool, len(s.Atoms))
	visited[start] = true
	queue := []int{start}
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		for _, j := range s.adjacency[i] {
			if visited[j] || (i == a && j == b) || (i == b && j == a) {
				continue
			}
			visited[j] = true
			queue = append(queue, j)
		}
	}
	out := make([]int, 0, len(s.Atoms))
	for i, v := range visited {
		if v {
			out = append(out, i)
		}
	}
	return out
}

func (s *Species) buildFragments() {
	s.rotatable = s.rotatable[:0]
	for bi := range s.Bonds {
		b := &s.Bonds[bi]
		side0 := s.fragment(b.I, b.I, b.J)
		b.inCycle = slices.Contains(side0, b.J)
		b.attached = [2][]int{side0, s.fragment(b.J, b.I, b.J)}
		if !b.inCycle && len(b.attached[0]) > 1 && len(b.attached[1]) > 1 {
			s.rotatable = append(s.rotatable, bi)
		}
	}
	for ai := range s.Angles {
		a := &s.Angles[ai]
		side0, side1 := s.fragment(a.I, a.I, a.J), s.fragment(a.K, a.K, a.J)
		a.inCycle = slices.Contains(side0, a.J) || slices.Contains(side1, a.J)
		a.attached = [2][]int{side0, side1}
	}
	for ti := range s.Torsions {
		t := &s.Torsions[ti]
		side0 := s.fragment(t.J, t.J, t.K)
		t.inCycle = slices.Contains(side0, t.K)
		t.attached = [2][]int{side0, s.fragment(t.K, t.J, t.K)}
	}
}

// buildScaling fills the pair scaling matrix from shortest bond-path separations, then applies
// explicit angle and torsion terms.
func (s *Species) buildScaling() {
	n := len(s.Atoms)
	s.scaling = make([]scalePair, n*n)
	for i := range s.scaling {
		s.scaling[i] = scalePair{1, 1}
	}
	dist := make([]int, n)
	for i := 0; i < n; i++ {
		for k := range dist {
			dist[k] = -1
		}
		dist[i] = 0
		queue := []int{i}
		for len(queue) > 0 {
			a := queue[0]
			queue = queue[1:]
			if dist[a] == 3 {
				continue
			}
			for _, b := range s.adjacency[a] {
				if dist[b] < 0 {
					dist[b] = dist[a] + 1
					queue = append(queue, b)
				}
			}
		}
		for j, d := range dist {
			switch d {
			case 0, 1, 2:
				s.scaling[i*n+j] = scalePair{0, 0}
			case 3:
				s.scaling[i*n+j] = scalePair{s.ElecScale14, s.VdwScale14}
			}
		}
	}
	for _, t := range s.Torsions {
		if s.scaling[t.I*n+t.L] != (scalePair{}) {
			s.scaling[t.I*n+t.L] = scalePair{s.ElecScale14, s.VdwScale14}
			s.scaling[t.L*n+t.I] = scalePair{s.ElecScale14, s.VdwScale14}
		}
	}
	for _, a := range s.Angles {
		s.scaling[a.I*n+a.K] = scalePair{}
		s.scaling[a.K*n+a.I] = scalePair{}
	}
}

// Scaling returns the electrostatic and van der Waals factors for the pair of local atom indices.
func (s *Species) Scaling(i, j int) (elec, vdw float64) {
	p := s.scaling[i*len(s.Atoms)+j]
	return p.elec, p.vdw
}

// Excluded reports whether the pair of local indices carries no pair interaction at all.
func (s *Species) Excluded(i, j int) bool { return s.scaling[i*len(s.Atoms)+j] == scalePair{} }

// Bonded returns the atoms directly bonded to local atom i.
func (s *Species) Bonded(i int) []int { return s.adjacency[i] }

// RotatableBonds returns indices into Bonds of bonds outside rings with atoms on both sides.
func (s *Species) RotatableBonds() []int { return s.rotatable }

func (s *Species) Resolved() bool { return s.resolved }

// HasIntramolecular reports whether any bonded term is defined.
func (s *Species) HasIntramolecular() bool {
	return len(s.Bonds)+len(s.Angles)+len(s.Torsions)+len(s.Impropers) > 0
}
