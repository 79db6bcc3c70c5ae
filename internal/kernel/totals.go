package kernel

import (
	"context"

	"github.com/disorderedmaterials/dissolve-sub015/internal/geometry"
	"github.com/disorderedmaterials/dissolve-sub015/internal/procpool"
)

// Totals split their loops across the ranks cooperating under the given strategy and reduce
// the partial results with an all-sum. A nil rank evaluates everything locally.

func share(r *procpool.Rank, s procpool.Strategy) (stride, offset int) {
	if r == nil {
		return 1, 0
	}
	return r.ScopeSize(s), r.IndexInScope(s)
}

func (k *Kernel) localPairEnergy(stride, offset int) float64 {
	e := 0.0
	for p, cp := range k.cells.UniquePairs() {
		if p%stride != offset {
			continue
		}
		a := k.cells.Cell(cp.I).Atoms()
		if cp.I == cp.J {
			for x, i := range a {
				for _, j := range a[x+1:] {
					e += k.pairEnergy(i, j, cp.RequiresMIM)
				}
			}
			continue
		}
		b := k.cells.Cell(cp.J).Atoms()
		for _, i := range a {
			for _, j := range b {
				e += k.pairEnergy(i, j, cp.RequiresMIM)
			}
		}
	}
	return e
}

func (k *Kernel) localIntramolecularEnergy(stride, offset int) float64 {
	e := 0.0
	for m := offset; m < k.cfg.NMolecules(); m += stride {
		e += k.IntramolecularEnergy(m)
	}
	return e
}

func reduce(ctx context.Context, r *procpool.Rank, s procpool.Strategy, buf []float64) error {
	if r == nil {
		return nil
	}
	return r.AllSum(ctx, s, buf)
}

// TotalPairEnergy returns the pair energy of the whole configuration.
func (k *Kernel) TotalPairEnergy(ctx context.Context, r *procpool.Rank, s procpool.Strategy) (float64, error) {
	buf := []float64{k.localPairEnergy(share(r, s))}
	if err := reduce(ctx, r, s, buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// TotalIntramolecularEnergy returns the bonded energy of every molecule.
func (k *Kernel) TotalIntramolecularEnergy(ctx context.Context, r *procpool.Rank, s procpool.Strategy) (float64, error) {
	buf := []float64{k.localIntramolecularEnergy(share(r, s))}
	if err := reduce(ctx, r, s, buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// TotalEnergy returns pair and intramolecular totals with a single reduction.
func (k *Kernel) TotalEnergy(ctx context.Context, r *procpool.Rank, s procpool.Strategy) (pair, intra float64, err error) {
	stride, offset := share(r, s)
	buf := []float64{k.localPairEnergy(stride, offset), k.localIntramolecularEnergy(stride, offset)}
	if err := reduce(ctx, r, s, buf); err != nil {
		return 0, 0, err
	}
	return buf[0], buf[1], nil
}

func (k *Kernel) localPairForces(stride, offset int, f []geometry.Vec3) {
	for p, cp := range k.cells.UniquePairs() {
		if p%stride != offset {
			continue
		}
		a := k.cells.Cell(cp.I).Atoms()
		if cp.I == cp.J {
			for x, i := range a {
				for _, j := range a[x+1:] {
					k.pairForces(i, j, cp.RequiresMIM, f)
				}
			}
			continue
		}
		for _, i := range a {
			for _, j := range k.cells.Cell(cp.J).Atoms() {
				k.pairForces(i, j, cp.RequiresMIM, f)
			}
		}
	}
}

func (k *Kernel) localIntramolecularForces(stride, offset int, f []geometry.Vec3) {
	for m := offset; m < k.cfg.NMolecules(); m += stride {
		k.IntramolecularForces(m, f)
	}
}

// mergeForces reduces the private buffer local and adds it into f.
func mergeForces(ctx context.Context, r *procpool.Rank, s procpool.Strategy, local, f []geometry.Vec3) error {
	flat := make([]float64, 3*len(local))
	for i, v := range local {
		flat[3*i], flat[3*i+1], flat[3*i+2] = v.X, v.Y, v.Z
	}
	if err := reduce(ctx, r, s, flat); err != nil {
		return err
	}
	for i := range f {
		f[i] = f[i].Add(geometry.Vec3{X: flat[3*i], Y: flat[3*i+1], Z: flat[3*i+2]})
	}
	return nil
}

// TotalPairForces adds the pair forces on every atom into f.
func (k *Kernel) TotalPairForces(ctx context.Context, r *procpool.Rank, s procpool.Strategy, f []geometry.Vec3) error {
	stride, offset := share(r, s)
	local := make([]geometry.Vec3, len(f))
	k.localPairForces(stride, offset, local)
	return mergeForces(ctx, r, s, local, f)
}

// TotalIntramolecularForces adds the bonded forces on every atom into f.
func (k *Kernel) TotalIntramolecularForces(ctx context.Context, r *procpool.Rank, s procpool.Strategy, f []geometry.Vec3) error {
	stride, offset := share(r, s)
	local := make([]geometry.Vec3, len(f))
	k.localIntramolecularForces(stride, offset, local)
	return mergeForces(ctx, r, s, local, f)
}

// TotalForces adds pair and bonded forces into f with a single reduction.
func (k *Kernel) TotalForces(ctx context.Context, r *procpool.Rank, s procpool.Strategy, f []geometry.Vec3) error {
	stride, offset := share(r, s)
	local := make([]geometry.Vec3, len(f))
	k.localPairForces(stride, offset, local)
	k.localIntramolecularForces(stride, offset, local)
	return mergeForces(ctx, r, s, local, f)
}
