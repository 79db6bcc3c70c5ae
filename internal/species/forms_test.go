package species

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/disorderedmaterials/dissolve-sub015/internal/geometry"
)

func TestBondForceIsNegativeDerivative(t *testing.T) {
	forms := []BondForm{
		HarmonicBond{K: 4184, Eq: 1.09},
		EPSRBond{C: 65, Eq: 1.2, Mu: math.Sqrt(2)},
		MorseBond{D: 400, Alpha: 2.1, Eq: 1.5},
		NoBond{},
	}
	for _, f := range forms {
		for _, r := range []float64{0.9, 1.1, 1.5, 2.3} {
			const h = 1e-6
			num := -(f.Energy(r+h) - f.Energy(r-h)) / (2 * h)
			assert.InDelta(t, num, f.Force(r), 1e-5*math.Max(1, math.Abs(num)), "%T r=%g", f, r)
		}
	}
	assert.InDelta(t, 0, HarmonicBond{K: 1000, Eq: 1.5}.Energy(1.5), 1e-15)
	assert.InDelta(t, 0.5*1000*0.01, HarmonicBond{K: 1000, Eq: 1.5}.Energy(1.6), 1e-9)
}

func TestAngularForcesPerRadian(t *testing.T) {
	angles := []AngleForm{
		HarmonicAngle{K: 300, Eq: 109.5},
		CosineAngle{K: 20, N: 3, Eq: 30, S: -1},
		Cos2Angle{K: 50, C0: 1, C1: 0.5, C2: -0.2},
	}
	torsions := []TorsionForm{
		CosineTorsion{K: 12, N: 2, Eq: 180, S: 1},
		Cos3Torsion{K1: 5.4, K2: -1.2, K3: 0.8},
		Cos3CTorsion{K0: 1, K1: 5.4, K2: -1.2, K3: 0.8},
		Cos4Torsion{K1: 1, K2: 2, K3: 3, K4: 4},
		CosNTorsion{K: []float64{1, 0.5, 2}},
		CosNCTorsion{K: []float64{1, 0.5, 2}},
		UFFCosineTorsion{K: 8, N: 3, Eq: 60},
		FourierNTorsion{K: 2, C: []float64{1, -0.5, 0.3, 0.1}},
	}
	const h = 1e-4
	for _, f := range angles {
		for _, x := range []float64{45, 95.5, 120, 170} {
			num := -(f.Energy(x+h) - f.Energy(x-h)) / (2 * h) * geometry.DegRad
			assert.InDelta(t, num, f.Force(x), 1e-6*math.Max(1, math.Abs(num)), "%T x=%g", f, x)
		}
	}
	for _, f := range torsions {
		for _, x := range []float64{-150, -60, 10, 75, 179} {
			num := -(f.Energy(x+h) - f.Energy(x-h)) / (2 * h) * geometry.DegRad
			assert.InDelta(t, num, f.Force(x), 1e-6*math.Max(1, math.Abs(num)), "%T x=%g", f, x)
		}
	}
	assert.InDelta(t, 0.5*300*math.Pow(10/geometry.DegRad, 2), HarmonicAngle{K: 300, Eq: 100}.Energy(110), 1e-12)
}

func TestFormFromName(t *testing.T) {
	b, err := BondFormFromName("Harmonic", []float64{1000, 1.5})
	require.NoError(t, err)
	assert.Equal(t, HarmonicBond{K: 1000, Eq: 1.5}, b)

	a, err := AngleFormFromName("cos2", []float64{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, Cos2Angle{K: 1, C0: 2, C1: 3, C2: 4}, a)

	tf, err := TorsionFormFromName("FourierN", []float64{2, 1, 0.5})
	require.NoError(t, err)
	assert.Equal(t, FourierNTorsion{K: 2, C: []float64{1, 0.5}}, tf)

	none, err := TorsionFormFromName("", nil)
	require.NoError(t, err)
	assert.Equal(t, NoTorsion{}, none)

	_, err = BondFormFromName("morse", []float64{1, 2})
	assert.True(t, errors.Is(err, ErrTopology))
	_, err = AngleFormFromName("bogus", nil)
	assert.True(t, errors.Is(err, ErrTopology))
}
