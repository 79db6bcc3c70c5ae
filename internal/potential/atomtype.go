// Package potential provides the read-only pair potential lookup used by the energy and
// force kernels.
package potential

// AtomType carries the per-type parameters needed by the pair potentials.
type AtomType struct {
	Name    string
	Mass    float64 // amu
	Charge  float64 // e
	Epsilon float64 // kJ/mol
	Sigma   float64 // Angstrom
}
