package geometry

import "math"

// 3×3 matrix (row-major). Box axes are stored as columns.
type Mat3 struct {
	M [3][3]float64
}

func I3() Mat3 {
	return Mat3{M: [3][3]float64{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
	}}
}

// FromColumns builds a matrix whose columns are a, b, c.
func FromColumns(a, b, c Vec3) Mat3 {
	return Mat3{M: [3][3]float64{
		{a.X, b.X, c.X},
		{a.Y, b.Y, c.Y},
		{a.Z, b.Z, c.Z},
	}}
}

func (A Mat3) Column(c int) Vec3 { return Vec3{A.M[0][c], A.M[1][c], A.M[2][c]} }

func (A Mat3) Mul(B Mat3) Mat3 {
	var R Mat3
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			sum := 0.0
			for k := 0; k < 3; k++ {
				sum += A.M[r][k] * B.M[k][c]
			}
			R.M[r][c] = sum
		}
	}
	return R
}

func (A Mat3) MulVec(v Vec3) Vec3 {
	return Vec3{
		A.M[0][0]*v.X + A.M[0][1]*v.Y + A.M[0][2]*v.Z,
		A.M[1][0]*v.X + A.M[1][1]*v.Y + A.M[1][2]*v.Z,
		A.M[2][0]*v.X + A.M[2][1]*v.Y + A.M[2][2]*v.Z,
	}
}

func (A Mat3) Transpose() Mat3 {
	var R Mat3
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			R.M[r][c] = A.M[c][r]
		}
	}
	return R
}

func (A Mat3) Det() float64 {
	m := A.M
	return m[0][0]*(m[1][1]*m[2][2]-m[1][2]*m[2][1]) -
		m[0][1]*(m[1][0]*m[2][2]-m[1][2]*m[2][0]) +
		m[0][2]*(m[1][0]*m[2][1]-m[1][1]*m[2][0])
}

// Inverse via the adjugate; ok is false for a singular matrix.
func (A Mat3) Inverse() (Mat3, bool) {
	det := A.Det()
	if det == 0 || !IsFinite(det) {
		return Mat3{}, false
	}
	m := A.M
	inv := 1 / det
	var R Mat3
	R.M[0][0] = (m[1][1]*m[2][2] - m[1][2]*m[2][1]) * inv
	R.M[0][1] = (m[0][2]*m[2][1] - m[0][1]*m[2][2]) * inv
	R.M[0][2] = (m[0][1]*m[1][2] - m[0][2]*m[1][1]) * inv
	R.M[1][0] = (m[1][2]*m[2][0] - m[1][0]*m[2][2]) * inv
	R.M[1][1] = (m[0][0]*m[2][2] - m[0][2]*m[2][0]) * inv
	R.M[1][2] = (m[0][2]*m[1][0] - m[0][0]*m[1][2]) * inv
	R.M[2][0] = (m[1][0]*m[2][1] - m[1][1]*m[2][0]) * inv
	R.M[2][1] = (m[0][1]*m[2][0] - m[0][0]*m[2][1]) * inv
	R.M[2][2] = (m[0][0]*m[1][1] - m[0][1]*m[1][0]) * inv
	return R, true
}

// approxEqual compares element-wise within eps (tests and sanity checks).
func (A Mat3) approxEqual(B Mat3, eps float64) bool {
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			if math.Abs(A.M[r][c]-B.M[r][c]) > eps {
				return false
			}
		}
	}
	return true
}
