package kernel

import (
	"math"

	"github.com/disorderedmaterials/dissolve-sub015/internal/geometry"
)

// sinGuard keeps 1/sin finite for linear angles and planar torsions.
const sinGuard = 1e-8

// bondParameters returns the unit vector i->j and the distance.
func bondParameters(box *geometry.Box, ri, rj geometry.Vec3) (geometry.Vec3, float64) {
	v, r := box.MinimumVectorAndDistance(ri, rj)
	if r == 0 {
		return v, 0
	}
	return v.Div(r), r
}

type angleParameters struct {
	theta      float64 // degrees
	dcos       [3]geometry.Vec3
	sinTheta   float64
	degenerate bool
}

// angleGeometry evaluates the angle i-j-k and the derivatives of its cosine with respect to
// each atom.
func angleGeometry(box *geometry.Box, ri, rj, rk geometry.Vec3) angleParameters {
	a := box.MinimumVector(rj, ri)
	b := box.MinimumVector(rj, rk)
	la, lb := a.Len(), b.Len()
	if la == 0 || lb == 0 {
		return angleParameters{degenerate: true}
	}
	ah, bh := a.Div(la), b.Div(lb)
	cos := geometry.Clamp(ah.Dot(bh), -1, 1)
	p := angleParameters{theta: math.Acos(cos) * geometry.DegRad, sinTheta: math.Sqrt(1 - cos*cos)}
	p.dcos[0] = bh.Sub(ah.Mul(cos)).Div(la)
	p.dcos[2] = ah.Sub(bh.Mul(cos)).Div(lb)
	p.dcos[1] = p.dcos[0].Add(p.dcos[2]).Neg()
	return p
}

type torsionParameters struct {
	phi        float64 // degrees, IUPAC sign
	sinPhi     float64
	dcos       [4]geometry.Vec3
	degenerate bool
}

// torsionGeometry evaluates the dihedral i-j-k-l from the cross products A = F x G and
// B = H x G, with phi = atan2(sin, cos), plus the chain-rule derivatives of cos(phi).
func torsionGeometry(box *geometry.Box, ri, rj, rk, rl geometry.Vec3) torsionParameters {
	F := box.MinimumVector(rj, ri)
	G := box.MinimumVector(rk, rj)
	H := box.MinimumVector(rk, rl)
	A := F.Cross(G)
	B := H.Cross(G)
	la, lb, lg := A.Len(), B.Len(), G.Len()
	if la == 0 || lb == 0 || lg == 0 {
		return torsionParameters{degenerate: true}
	}
	ah, bh := A.Div(la), B.Div(lb)
	cos := geometry.Clamp(ah.Dot(bh), -1, 1)
	sin := B.Cross(A).Dot(G) / (la * lb * lg)
	p := torsionParameters{phi: math.Atan2(sin, cos) * geometry.DegRad, sinPhi: sin}

	da := bh.Sub(ah.Mul(cos)).Div(la)
	db := ah.Sub(bh.Mul(cos)).Div(lb)
	dG := da.Cross(F).Add(db.Cross(H))
	p.dcos[0] = G.Cross(da)
	p.dcos[1] = p.dcos[0].Neg().Add(dG)
	p.dcos[3] = G.Cross(db)
	p.dcos[2] = dG.Neg().Sub(p.dcos[3])
	return p
}

// invSin returns -1/sin(x) with |sin| held away from zero, sign preserved.
func invSin(s float64) float64 {
	if math.Abs(s) < sinGuard {
		if s < 0 {
			return 1 / sinGuard
		}
		return -1 / sinGuard
	}
	return -1 / s
}
