package species

import (
	"fmt"
	"math"
	"strings"

	"github.com/disorderedmaterials/dissolve-sub015/internal/geometry"
)

// BondForm is the closed set of bond stretching functions. Energy takes the distance in
// Angstroms, Force returns -dU/dr.
type BondForm interface {
	Energy(r float64) float64
	Force(r float64) float64
	isBondForm()
}

// AngleForm is the closed set of bending functions. Energy takes the angle in degrees,
// Force returns -dU/dtheta per radian.
type AngleForm interface {
	Energy(theta float64) float64
	Force(theta float64) float64
	isAngleForm()
}

// TorsionForm is the closed set of torsion and improper functions, in degrees like AngleForm.
type TorsionForm interface {
	Energy(phi float64) float64
	Force(phi float64) float64
	isTorsionForm()
}

// Bond forms

type NoBond struct{}

// HarmonicBond: U = 0.5 k (r - eq)^2
type HarmonicBond struct{ K, Eq float64 }

// EPSRBond is a harmonic well metered by the reduced mass of the two atoms:
// U = C (r - eq)^2 / (eq / sqrt((mi + mj)/(mi mj))). Mu holds sqrt((mi+mj)/(mi mj)).
type EPSRBond struct{ C, Eq, Mu float64 }

// MorseBond: U = D (1 - exp(-alpha (r - eq)))^2
type MorseBond struct{ D, Alpha, Eq float64 }

func (NoBond) isBondForm()       {}
func (HarmonicBond) isBondForm() {}
func (EPSRBond) isBondForm()     {}
func (MorseBond) isBondForm()    {}

func (NoBond) Energy(float64) float64 { return 0 }
func (NoBond) Force(float64) float64  { return 0 }

func (b HarmonicBond) Energy(r float64) float64 {
	d := r - b.Eq
	return 0.5 * b.K * d * d
}
func (b HarmonicBond) Force(r float64) float64 { return -b.K * (r - b.Eq) }

func (b EPSRBond) omega() float64 { return b.Eq / b.Mu }
func (b EPSRBond) Energy(r float64) float64 {
	d := r - b.Eq
	return b.C * d * d / b.omega()
}
func (b EPSRBond) Force(r float64) float64 { return -2 * b.C * (r - b.Eq) / b.omega() }

func (b MorseBond) Energy(r float64) float64 {
	x := 1 - math.Exp(-b.Alpha*(r-b.Eq))
	return b.D * x * x
}
func (b MorseBond) Force(r float64) float64 {
	e := math.Exp(-b.Alpha * (r - b.Eq))
	return -2 * b.D * b.Alpha * (1 - e) * e
}

// Angle forms

type NoAngle struct{}

// HarmonicAngle: U = 0.5 k (theta - eq)^2, theta and eq in degrees, k per radian^2.
type HarmonicAngle struct{ K, Eq float64 }

// CosineAngle: U = k (1 + s cos(n theta - eq))
type CosineAngle struct{ K, N, Eq, S float64 }

// Cos2Angle: U = k (c0 + c1 cos(theta) + c2 cos(2 theta))
type Cos2Angle struct{ K, C0, C1, C2 float64 }

func (NoAngle) isAngleForm()       {}
func (HarmonicAngle) isAngleForm() {}
func (CosineAngle) isAngleForm()   {}
func (Cos2Angle) isAngleForm()     {}

func (NoAngle) Energy(float64) float64 { return 0 }
func (NoAngle) Force(float64) float64  { return 0 }

func (a HarmonicAngle) Energy(theta float64) float64 {
	d := (theta - a.Eq) / geometry.DegRad
	return 0.5 * a.K * d * d
}
func (a HarmonicAngle) Force(theta float64) float64 { return -a.K * (theta - a.Eq) / geometry.DegRad }

func (a CosineAngle) Energy(theta float64) float64 {
	return a.K * (1 + a.S*math.Cos((a.N*theta-a.Eq)/geometry.DegRad))
}
func (a CosineAngle) Force(theta float64) float64 {
	return a.K * a.S * a.N * math.Sin((a.N*theta-a.Eq)/geometry.DegRad)
}

func (a Cos2Angle) Energy(theta float64) float64 {
	t := theta / geometry.DegRad
	return a.K * (a.C0 + a.C1*math.Cos(t) + a.C2*math.Cos(2*t))
}
func (a Cos2Angle) Force(theta float64) float64 {
	t := theta / geometry.DegRad
	return a.K * (a.C1*math.Sin(t) + 2*a.C2*math.Sin(2*t))
}

// Torsion forms

type NoTorsion struct{}

// CosineTorsion: U = k (1 + s cos(n phi - eq))
type CosineTorsion struct{ K, N, Eq, S float64 }

// Cos3Torsion: U = 0.5 (k1 (1 + cos phi) + k2 (1 - cos 2phi) + k3 (1 + cos 3phi))
type Cos3Torsion struct{ K1, K2, K3 float64 }

// Cos3CTorsion is Cos3Torsion plus a constant k0.
type Cos3CTorsion struct{ K0, K1, K2, K3 float64 }

// Cos4Torsion adds k4 (1 - cos 4phi) to the Cos3 series.
type Cos4Torsion struct{ K1, K2, K3, K4 float64 }

// CosNTorsion: U = sum_n k_n (1 + cos(n phi)), n from 1.
type CosNTorsion struct{ K []float64 }

// CosNCTorsion: U = sum_n k_n (1 + cos(n phi)), n from 0.
type CosNCTorsion struct{ K []float64 }

// UFFCosineTorsion: U = 0.5 k (1 - cos(n eq) cos(n phi))
type UFFCosineTorsion struct{ K, N, Eq float64 }

// FourierNTorsion: U = k (c0 + c1 cos phi + c2 cos 2phi + ...)
type FourierNTorsion struct {
	K float64
	C []float64
}

func (NoTorsion) isTorsionForm()        {}
func (CosineTorsion) isTorsionForm()    {}
func (Cos3Torsion) isTorsionForm()      {}
func (Cos3CTorsion) isTorsionForm()     {}
func (Cos4Torsion) isTorsionForm()      {}
func (CosNTorsion) isTorsionForm()      {}
func (CosNCTorsion) isTorsionForm()     {}
func (UFFCosineTorsion) isTorsionForm() {}
func (FourierNTorsion) isTorsionForm()  {}

func (NoTorsion) Energy(float64) float64 { return 0 }
func (NoTorsion) Force(float64) float64  { return 0 }

func (f CosineTorsion) Energy(phi float64) float64 {
	return f.K * (1 + f.S*math.Cos((f.N*phi-f.Eq)/geometry.DegRad))
}
func (f CosineTorsion) Force(phi float64) float64 {
	return f.K * f.S * f.N * math.Sin((f.N*phi-f.Eq)/geometry.DegRad)
}

func cos3Energy(k1, k2, k3, p float64) float64 {
	return 0.5 * (k1*(1+math.Cos(p)) + k2*(1-math.Cos(2*p)) + k3*(1+math.Cos(3*p)))
}

// -dU/dphi of the Cos3 series
func cos3Force(k1, k2, k3, p float64) float64 {
	return 0.5 * (k1*math.Sin(p) - 2*k2*math.Sin(2*p) + 3*k3*math.Sin(3*p))
}

func (f Cos3Torsion) Energy(phi float64) float64 {
	return cos3Energy(f.K1, f.K2, f.K3, phi/geometry.DegRad)
}
func (f Cos3Torsion) Force(phi float64) float64 {
	return cos3Force(f.K1, f.K2, f.K3, phi/geometry.DegRad)
}

func (f Cos3CTorsion) Energy(phi float64) float64 {
	return f.K0 + cos3Energy(f.K1, f.K2, f.K3, phi/geometry.DegRad)
}
func (f Cos3CTorsion) Force(phi float64) float64 {
	return cos3Force(f.K1, f.K2, f.K3, phi/geometry.DegRad)
}

func (f Cos4Torsion) Energy(phi float64) float64 {
	p := phi / geometry.DegRad
	return cos3Energy(f.K1, f.K2, f.K3, p) + 0.5*f.K4*(1-math.Cos(4*p))
}
func (f Cos4Torsion) Force(phi float64) float64 {
	p := phi / geometry.DegRad
	return cos3Force(f.K1, f.K2, f.K3, p) - 2*f.K4*math.Sin(4*p)
}

func cosSeriesEnergy(k []float64, first int, p float64) float64 {
	u := 0.0
	for n, kn := range k {
		u += kn * (1 + math.Cos(float64(n+first)*p))
	}
	return u
}

func cosSeriesForce(k []float64, first int, p float64) float64 {
	f := 0.0
	for n, kn := range k {
		m := float64(n + first)
		f += kn * m * math.Sin(m*p)
	}
	return f
}

func (f CosNTorsion) Energy(phi float64) float64 {
	return cosSeriesEnergy(f.K, 1, phi/geometry.DegRad)
}
func (f CosNTorsion) Force(phi float64) float64 { return cosSeriesForce(f.K, 1, phi/geometry.DegRad) }

func (f CosNCTorsion) Energy(phi float64) float64 {
	return cosSeriesEnergy(f.K, 0, phi/geometry.DegRad)
}
func (f CosNCTorsion) Force(phi float64) float64 { return cosSeriesForce(f.K, 0, phi/geometry.DegRad) }

func (f UFFCosineTorsion) Energy(phi float64) float64 {
	return 0.5 * f.K * (1 - math.Cos(f.N*f.Eq/geometry.DegRad)*math.Cos(f.N*phi/geometry.DegRad))
}
func (f UFFCosineTorsion) Force(phi float64) float64 {
	return -0.5 * f.K * f.N * math.Cos(f.N*f.Eq/geometry.DegRad) * math.Sin(f.N*phi/geometry.DegRad)
}

func (f FourierNTorsion) Energy(phi float64) float64 {
	p := phi / geometry.DegRad
	u := 0.0
	for n, c := range f.C {
		u += c * math.Cos(float64(n)*p)
	}
	return f.K * u
}
func (f FourierNTorsion) Force(phi float64) float64 {
	p := phi / geometry.DegRad
	s := 0.0
	for n, c := range f.C {
		s += c * float64(n) * math.Sin(float64(n)*p)
	}
	return f.K * s
}

func need(kind, name string, params []float64, n int) error {
	if len(params) < n {
		return fmt.Errorf("%w: %s form %q needs %d parameters, got %d", ErrTopology, kind, name, n, len(params))
	}
	return nil
}

// BondFormFromName builds a bond form from its configured name and parameters.
// EPSR forms receive Mu once atom masses are known (see Species.Resolve).
func BondFormFromName(name string, p []float64) (BondForm, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return NoBond{}, nil
	case "harmonic":
		if err := need("bond", name, p, 2); err != nil {
			return nil, err
		}
		return HarmonicBond{K: p[0], Eq: p[1]}, nil
	case "epsr":
		if err := need("bond", name, p, 2); err != nil {
			return nil, err
		}
		return EPSRBond{C: p[0], Eq: p[1], Mu: 1}, nil
	case "morse":
		if err := need("bond", name, p, 3); err != nil {
			return nil, err
		}
		return MorseBond{D: p[0], Alpha: p[1], Eq: p[2]}, nil
	}
	return nil, fmt.Errorf("%w: unknown bond form %q", ErrTopology, name)
}

// AngleFormFromName builds an angle form from its configured name and parameters.
func AngleFormFromName(name string, p []float64) (AngleForm, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return NoAngle{}, nil
	case "harmonic":
		if err := need("angle", name, p, 2); err != nil {
			return nil, err
		}
		return HarmonicAngle{K: p[0], Eq: p[1]}, nil
	case "cos", "cosine":
		if err := need("angle", name, p, 4); err != nil {
			return nil, err
		}
		return CosineAngle{K: p[0], N: p[1], Eq: p[2], S: p[3]}, nil
	case "cos2":
		if err := need("angle", name, p, 4); err != nil {
			return nil, err
		}
		return Cos2Angle{K: p[0], C0: p[1], C1: p[2], C2: p[3]}, nil
	}
	return nil, fmt.Errorf("%w: unknown angle form %q", ErrTopology, name)
}

// TorsionFormFromName builds a torsion (or improper) form from its configured name and parameters.
func TorsionFormFromName(name string, p []float64) (TorsionForm, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return NoTorsion{}, nil
	case "cos", "cosine":
		if err := need("torsion", name, p, 4); err != nil {
			return nil, err
		}
		return CosineTorsion{K: p[0], N: p[1], Eq: p[2], S: p[3]}, nil
	case "cos3":
		if err := need("torsion", name, p, 3); err != nil {
			return nil, err
		}
		return Cos3Torsion{K1: p[0], K2: p[1], K3: p[2]}, nil
	case "cos3c":
		if err := need("torsion", name, p, 4); err != nil {
			return nil, err
		}
		return Cos3CTorsion{K0: p[0], K1: p[1], K2: p[2], K3: p[3]}, nil
	case "cos4":
		if err := need("torsion", name, p, 4); err != nil {
			return nil, err
		}
		return Cos4Torsion{K1: p[0], K2: p[1], K3: p[2], K4: p[3]}, nil
	case "cosn":
		if err := need("torsion", name, p, 1); err != nil {
			return nil, err
		}
		return CosNTorsion{K: append([]float64(nil), p...)}, nil
	case "cosnc":
		if err := need("torsion", name, p, 1); err != nil {
			return nil, err
		}
		return CosNCTorsion{K: append([]float64(nil), p...)}, nil
	case "uffcosine":
		if err := need("torsion", name, p, 3); err != nil {
			return nil, err
		}
		return UFFCosineTorsion{K: p[0], N: p[1], Eq: p[2]}, nil
	case "fouriern":
		if err := need("torsion", name, p, 2); err != nil {
			return nil, err
		}
		return FourierNTorsion{K: p[0], C: append([]float64(nil), p[1:]...)}, nil
	}
	return nil, fmt.Errorf("%w: unknown torsion form %q", ErrTopology, name)
}
