package geometry

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Angles in degrees, as used by the move drivers.

func RotationX(deg float64) Mat3 {
	s, c := math.Sincos(deg / DegRad)
	M := I3()
	M.M[1][1], M.M[1][2] = c, -s
	M.M[2][1], M.M[2][2] = s, c
	return M
}

func RotationY(deg float64) Mat3 {
	s, c := math.Sincos(deg / DegRad)
	M := I3()
	M.M[0][0], M.M[0][2] = c, s
	M.M[2][0], M.M[2][2] = -s, c
	return M
}

func RotationZ(deg float64) Mat3 {
	s, c := math.Sincos(deg / DegRad)
	M := I3()
	M.M[0][0], M.M[0][1] = c, -s
	M.M[1][0], M.M[1][1] = s, c
	return M
}

// RotationXY composes a rotation about X followed by one about Y.
func RotationXY(ax, ay float64) Mat3 {
	return RotationY(ay).Mul(RotationX(ax))
}

// AxisRotation rotates vectors about an arbitrary axis through the origin.
type AxisRotation struct {
	rot  r3.Rotation
	zero bool
}

// NewAxisRotation builds a rotation of deg degrees about axis (any length).
// A zero axis or zero angle yields the identity.
func NewAxisRotation(axis Vec3, deg float64) AxisRotation {
	if axis.Len2() == 0 || deg == 0 {
		return AxisRotation{zero: true}
	}
	n := axis.Norm()
	return AxisRotation{rot: r3.NewRotation(deg/DegRad, r3.Vec{X: n.X, Y: n.Y, Z: n.Z})}
}

// Apply rotates v.
func (r AxisRotation) Apply(v Vec3) Vec3 {
	if r.zero {
		return v
	}
	p := r.rot.Rotate(r3.Vec{X: v.X, Y: v.Y, Z: v.Z})
	return Vec3{p.X, p.Y, p.Z}
}

// ApplyAbout rotates p about the axis passing through origin.
func (r AxisRotation) ApplyAbout(p, origin Vec3) Vec3 {
	return r.Apply(p.Sub(origin)).Add(origin)
}
