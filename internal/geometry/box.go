package geometry

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

var ErrInvalidBox = errors.New("invalid box")

// BoxKind selects the minimum-image and folding code paths.
type BoxKind uint8

const (
	Cubic BoxKind = iota
	Orthorhombic
	Triclinic
)

func (k BoxKind) String() string {
	switch k {
	case Cubic:
		return "cubic"
	case Orthorhombic:
		return "orthorhombic"
	default:
		return "triclinic"
	}
}

// Box is the periodic simulation cell. Axes are the columns of axes.
type Box struct {
	kind    BoxKind
	lengths Vec3
	angles  Vec3 // alpha, beta, gamma in degrees
	axes    Mat3
	inverse Mat3
	half    Vec3 // half lengths, orthorhombic fast path
	volume  float64
}

// NewBox builds a box from axis lengths and angles (degrees).
func NewBox(lengths, angles Vec3) (*Box, error) {
	if !(lengths.X > 0 && lengths.Y > 0 && lengths.Z > 0) || !lengths.IsFinite() {
		return nil, fmt.Errorf("%w: axis lengths must be positive, got %+v", ErrInvalidBox, lengths)
	}
	for i := 0; i < 3; i++ {
		if a := angles.Get(i); !(a > 0 && a < 180) {
			return nil, fmt.Errorf("%w: angle %d out of range (0,180): %g", ErrInvalidBox, i, a)
		}
	}
	ca, cb, cg := math.Cos(angles.X/DegRad), math.Cos(angles.Y/DegRad), math.Cos(angles.Z/DegRad)
	sg := math.Sin(angles.Z / DegRad)
	A := Vec3{lengths.X, 0, 0}
	B := Vec3{lengths.Y * cg, lengths.Y * sg, 0}
	cy := (ca - cb*cg) / sg
	cz2 := 1 - cb*cb - cy*cy
	if cz2 <= 0 {
		return nil, fmt.Errorf("%w: angles %+v do not form a cell", ErrInvalidBox, angles)
	}
	C := Vec3{lengths.Z * cb, lengths.Z * cy, lengths.Z * math.Sqrt(cz2)}

	b := &Box{lengths: lengths, angles: angles, half: lengths.Mul(0.5)}
	ortho := angles.X == 90 && angles.Y == 90 && angles.Z == 90
	switch {
	case ortho && lengths.X == lengths.Y && lengths.Y == lengths.Z:
		b.kind = Cubic
	case ortho:
		b.kind = Orthorhombic
	default:
		b.kind = Triclinic
	}
	if ortho {
		// exact zeros off the diagonal
		A, B, C = Vec3{lengths.X, 0, 0}, Vec3{0, lengths.Y, 0}, Vec3{0, 0, lengths.Z}
	}
	b.axes = FromColumns(A, B, C)
	inv, ok := b.axes.Inverse()
	if !ok {
		return nil, fmt.Errorf("%w: singular axes", ErrInvalidBox)
	}
	b.inverse = inv
	b.volume = math.Abs(b.axes.Det())
	return b, nil
}

// NewCubicBox is a shorthand for a cube of side l.
func NewCubicBox(l float64) (*Box, error) {
	return NewBox(Vec3{l, l, l}, Vec3{90, 90, 90})
}

func (b *Box) Kind() BoxKind     { return b.kind }
func (b *Box) Lengths() Vec3     { return b.lengths }
func (b *Box) Angles() Vec3      { return b.angles }
func (b *Box) Axes() Mat3        { return b.axes }
func (b *Box) Volume() float64   { return b.volume }
func (b *Box) isOrthogonal() bool { return b.kind != Triclinic }

// PerpendicularWidths returns the distance between opposite faces along each axis.
func (b *Box) PerpendicularWidths() Vec3 {
	A, B, C := b.axes.Column(0), b.axes.Column(1), b.axes.Column(2)
	return Vec3{
		b.volume / B.Cross(C).Len(),
		b.volume / C.Cross(A).Len(),
		b.volume / A.Cross(B).Len(),
	}
}

// InscribedRadius is the radius of the largest sphere that fits in the cell. Minimum-image
// vectors are exact only for separations up to this radius.
func (b *Box) InscribedRadius() float64 {
	if b.isOrthogonal() {
		return 0.5 * b.lengths.Min()
	}
	return 0.5 * b.PerpendicularWidths().Min()
}

// FracToReal converts fractional to real coordinates.
func (b *Box) FracToReal(f Vec3) Vec3 {
	if b.isOrthogonal() {
		return f.Hadamard(b.lengths)
	}
	return b.axes.MulVec(f)
}

// RealToFrac converts real to fractional coordinates.
func (b *Box) RealToFrac(r Vec3) Vec3 {
	if b.isOrthogonal() {
		return Vec3{r.X / b.lengths.X, r.Y / b.lengths.Y, r.Z / b.lengths.Z}
	}
	return b.inverse.MulVec(r)
}

// MinimumVector returns the shortest periodic image of (r2 - r1).
func (b *Box) MinimumVector(r1, r2 Vec3) Vec3 {
	d := r2.Sub(r1)
	if b.isOrthogonal() {
		return Vec3{
			mimComponent(d.X, b.lengths.X, b.half.X),
			mimComponent(d.Y, b.lengths.Y, b.half.Y),
			mimComponent(d.Z, b.lengths.Z, b.half.Z),
		}
	}
	f := b.inverse.MulVec(d)
	f = Vec3{f.X - math.Round(f.X), f.Y - math.Round(f.Y), f.Z - math.Round(f.Z)}
	return b.axes.MulVec(f)
}

func mimComponent(d, l, half float64) float64 {
	if d > half || d < -half {
		d -= l * math.Round(d/l)
	}
	return d
}

// MinimumVectorAndDistance returns the minimum image vector r1->r2 and its length.
func (b *Box) MinimumVectorAndDistance(r1, r2 Vec3) (Vec3, float64) {
	v := b.MinimumVector(r1, r2)
	return v, v.Len()
}

func (b *Box) MinimumDistance(r1, r2 Vec3) float64 { return b.MinimumVector(r1, r2).Len() }

func (b *Box) MinimumDistanceSquared(r1, r2 Vec3) float64 {
	return b.MinimumVector(r1, r2).Len2()
}

// Fold maps r into the primary cell. Points already inside are returned untouched,
// so Fold(Fold(r)) == Fold(r) bit for bit.
func (b *Box) Fold(r Vec3) Vec3 {
	if b.isOrthogonal() {
		return Vec3{
			wrap(r.X, b.lengths.X),
			wrap(r.Y, b.lengths.Y),
			wrap(r.Z, b.lengths.Z),
		}
	}
	f := b.inverse.MulVec(r)
	if inUnit(f.X) && inUnit(f.Y) && inUnit(f.Z) {
		return r
	}
	f = Vec3{wrap(f.X, 1), wrap(f.Y, 1), wrap(f.Z, 1)}
	return b.axes.MulVec(f)
}

// FoldFrac maps fractional coordinates into [0,1).
func (b *Box) FoldFrac(f Vec3) Vec3 {
	return Vec3{wrap(f.X, 1), wrap(f.Y, 1), wrap(f.Z, 1)}
}

func inUnit(x float64) bool { return x >= 0 && x < 1 }

func wrap(x, l float64) float64 {
	if x >= 0 && x < l {
		return x
	}
	x -= l * math.Floor(x/l)
	if x < 0 {
		x += l
	}
	if x >= l {
		x = 0
	}
	return x
}

// RandomCoordinate returns a uniformly distributed point inside the box.
func (b *Box) RandomCoordinate(rng *rand.Rand) Vec3 {
	return b.FracToReal(Vec3{rng.Float64(), rng.Float64(), rng.Float64()})
}

// AngleInDegrees returns the angle between two vectors and its cosine. The cosine is
// clamped to [-1,1] before arccos so round-off never produces NaN.
func AngleInDegrees(v1, v2 Vec3) (angle, cosine float64) {
	l := v1.Len() * v2.Len()
	if l == 0 {
		return 0, 1
	}
	cosine = Clamp(v1.Dot(v2)/l, -1, 1)
	return math.Acos(cosine) * DegRad, cosine
}
