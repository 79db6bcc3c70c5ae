package potential

import (
	"fmt"
	"math"
	"strings"
)

// Form is the short-range functional form applied to every type pair. It is a closed set:
// only the forms declared in this file satisfy it.
type Form interface {
	// energy and -dU/dr for a prepared pair
	energy(p pairParams, r float64) float64
	force(p pairParams, r float64) float64
	mix(a, b AtomType) pairParams
	Name() string
}

type pairParams struct {
	epsilon, sigma float64
}

// LennardJones uses Lorentz-Berthelot mixing: arithmetic sigma, geometric epsilon.
type LennardJones struct{}

// LennardJonesGeometric mixes both sigma and epsilon geometrically.
type LennardJonesGeometric struct{}

// None switches the short-range term off (charges only).
type None struct{}

func (LennardJones) Name() string          { return "LJ" }
func (LennardJonesGeometric) Name() string { return "LJGeometric" }
func (None) Name() string                  { return "None" }

func (LennardJones) mix(a, b AtomType) pairParams {
	return pairParams{epsilon: math.Sqrt(a.Epsilon * b.Epsilon), sigma: 0.5 * (a.Sigma + b.Sigma)}
}

func (LennardJonesGeometric) mix(a, b AtomType) pairParams {
	return pairParams{epsilon: math.Sqrt(a.Epsilon * b.Epsilon), sigma: math.Sqrt(a.Sigma * b.Sigma)}
}

func (None) mix(a, b AtomType) pairParams { return pairParams{} }

func ljEnergy(p pairParams, r float64) float64 {
	sr := p.sigma / r
	sr6 := sr * sr * sr
	sr6 *= sr6
	return 4 * p.epsilon * (sr6*sr6 - sr6)
}

func ljForce(p pairParams, r float64) float64 {
	sr := p.sigma / r
	sr6 := sr * sr * sr
	sr6 *= sr6
	return 24 * p.epsilon * (2*sr6*sr6 - sr6) / r
}

func (LennardJones) energy(p pairParams, r float64) float64          { return ljEnergy(p, r) }
func (LennardJones) force(p pairParams, r float64) float64           { return ljForce(p, r) }
func (LennardJonesGeometric) energy(p pairParams, r float64) float64 { return ljEnergy(p, r) }
func (LennardJonesGeometric) force(p pairParams, r float64) float64  { return ljForce(p, r) }
func (None) energy(pairParams, float64) float64                      { return 0 }
func (None) force(pairParams, float64) float64                       { return 0 }

// FormFromName resolves a configured short-range form.
func FormFromName(name string) (Form, error) {
	switch strings.ToLower(name) {
	case "", "lj", "lennardjones":
		return LennardJones{}, nil
	case "ljgeometric", "lennardjonesgeometric":
		return LennardJonesGeometric{}, nil
	case "none":
		return None{}, nil
	}
	return nil, fmt.Errorf("unknown pair potential form %q", name)
}
