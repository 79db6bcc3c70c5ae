package potential

import (
	"errors"
	"fmt"
)

// Coulomb conversion factor for e^2/Angstrom -> kJ/mol.
const CoulombConstant = 138.935458

var ErrNoTypes = errors.New("potential map has no atom types")

// Options control the pair potential evaluation.
type Options struct {
	Range         float64 // global cutoff (Angstrom)
	Form          Form
	Charges       bool // add truncated Coulomb term
	ShiftAtCutoff bool // shift energies so U(range) == 0
}

type pairEntry struct {
	params    pairParams
	qq        float64
	vdwShift  float64
	elecShift float64
}

// Map answers pair energy and force queries for two atom types at a given distance.
// It is immutable once built and safe for concurrent use.
type Map struct {
	types  []AtomType
	form   Form
	rng    float64
	rng2   float64
	elec   bool
	table  []pairEntry
	nTypes int
}

// NewMap precomputes the mixed parameters for every type pair.
func NewMap(types []AtomType, opts Options) (*Map, error) {
	if len(types) == 0 {
		return nil, ErrNoTypes
	}
	if !(opts.Range > 0) {
		return nil, fmt.Errorf("potential range must be positive, got %g", opts.Range)
	}
	if opts.Form == nil {
		opts.Form = LennardJones{}
	}
	n := len(types)
	m := &Map{
		types:  append([]AtomType(nil), types...),
		form:   opts.Form,
		rng:    opts.Range,
		rng2:   opts.Range * opts.Range,
		elec:   opts.Charges,
		table:  make([]pairEntry, n*n),
		nTypes: n,
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			e := pairEntry{params: opts.Form.mix(types[i], types[j])}
			if opts.Charges {
				e.qq = CoulombConstant * types[i].Charge * types[j].Charge
			}
			if opts.ShiftAtCutoff {
				e.vdwShift = opts.Form.energy(e.params, opts.Range)
				e.elecShift = e.qq / opts.Range
			}
			m.table[i*n+j] = e
		}
	}
	return m, nil
}

func (m *Map) Range() float64        { return m.rng }
func (m *Map) Range2() float64       { return m.rng2 }
func (m *Map) NTypes() int           { return m.nTypes }
func (m *Map) Type(i int) AtomType   { return m.types[i] }
func (m *Map) Types() []AtomType     { return m.types }
func (m *Map) FormName() string      { return m.form.Name() }
func (m *Map) entry(ti, tj int) *pairEntry { return &m.table[ti*m.nTypes+tj] }

// Energy returns the pair energy (kJ/mol) of types ti, tj at distance r, with the
// electrostatic and van der Waals parts scaled independently.
func (m *Map) Energy(ti, tj int, r, elecScale, vdwScale float64) float64 {
	e := m.entry(ti, tj)
	u := vdwScale * (m.form.energy(e.params, r) - e.vdwShift)
	if m.elec && e.qq != 0 {
		u += elecScale * (e.qq/r - e.elecShift)
	}
	return u
}

// Force returns -dU/dr at distance r (positive is repulsive).
func (m *Map) Force(ti, tj int, r, elecScale, vdwScale float64) float64 {
	e := m.entry(ti, tj)
	f := vdwScale * m.form.force(e.params, r)
	if m.elec && e.qq != 0 {
		f += elecScale * e.qq / (r * r)
	}
	return f
}
