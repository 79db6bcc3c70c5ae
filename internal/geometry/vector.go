package geometry

import "math"

// Vec3 represents a position or displacement in 3D space (Angstroms).
type Vec3 struct {
	X, Y, Z float64
}

// Vector functions
func (a Vec3) Add(b Vec3) Vec3      { return Vec3{a.X + b.X, a.Y + b.Y, a.Z + b.Z} }
func (a Vec3) Sub(b Vec3) Vec3      { return Vec3{a.X - b.X, a.Y - b.Y, a.Z - b.Z} }
func (v Vec3) Mul(s float64) Vec3   { return Vec3{v.X * s, v.Y * s, v.Z * s} }
func (v Vec3) Div(s float64) Vec3   { return Vec3{v.X / s, v.Y / s, v.Z / s} }
func (v Vec3) Neg() Vec3            { return Vec3{-v.X, -v.Y, -v.Z} }
func (a Vec3) Hadamard(b Vec3) Vec3 { return Vec3{a.X * b.X, a.Y * b.Y, a.Z * b.Z} }

// Dot returns the dot product between two vectors.
func (a Vec3) Dot(b Vec3) float64 {
	return a.X*b.X + a.Y*b.Y + a.Z*b.Z
}

// Cross returns a × b.
func (a Vec3) Cross(b Vec3) Vec3 {
	return Vec3{
		a.Y*b.Z - a.Z*b.Y,
		a.Z*b.X - a.X*b.Z,
		a.X*b.Y - a.Y*b.X,
	}
}

// Len returns the Euclidean length of the vector.
func (v Vec3) Len() float64 { return math.Sqrt(v.Dot(v)) }

// Len2 returns the squared length, avoiding the square root in cutoff tests.
func (v Vec3) Len2() float64 { return v.Dot(v) }

// Norm returns a unit-length version of the vector.
func (v Vec3) Norm() Vec3 {
	l := v.Len()
	if l == 0 {
		return v
	}
	return Vec3{v.X / l, v.Y / l, v.Z / l}
}

// Get returns component i (0=X, 1=Y, 2=Z).
func (v Vec3) Get(i int) float64 {
	switch i {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

// Set returns a copy of v with component i replaced.
func (v Vec3) Set(i int, x float64) Vec3 {
	switch i {
	case 0:
		v.X = x
	case 1:
		v.Y = x
	default:
		v.Z = x
	}
	return v
}

// Min returns the smallest component.
func (v Vec3) Min() float64 { return math.Min(v.X, math.Min(v.Y, v.Z)) }

// IsFinite reports whether every component is neither NaN nor Inf.
func (v Vec3) IsFinite() bool { return IsFinite(v.X) && IsFinite(v.Y) && IsFinite(v.Z) }
