package moves

import (
	"math"

	"github.com/disorderedmaterials/dissolve-sub015/internal/geometry"
)

// BoltzmannKJ is the Boltzmann constant in kJ/mol/K.
const BoltzmannKJ = 0.008314472

// Accept applies the Metropolis criterion to an energy change in kJ/mol. Downhill moves are
// always accepted, uphill ones when rnd < exp(-delta/kT). A non-finite delta is rejected.
func Accept(delta, temperature, rnd float64) bool {
	if !geometry.IsFinite(delta) {
		return false
	}
	if delta <= 0 {
		return true
	}
	return rnd < math.Exp(-delta/(BoltzmannKJ*temperature))
}

// StepSize is an adaptive move amplitude.
type StepSize struct {
	Name       string
	Value      float64
	Min, Max   float64
	TargetRate float64
}

// Adapt rescales the step by observed/target acceptance and clamps it to [Min, Max]. With no
// attempts the rate is undefined and the step is left alone.
func (s *StepSize) Adapt(attempted, accepted int) bool {
	if attempted == 0 || s.TargetRate <= 0 {
		return false
	}
	rate := float64(accepted) / float64(attempted)
	s.Value = geometry.Clamp(s.Value*rate/s.TargetRate, s.Min, s.Max)
	return true
}
