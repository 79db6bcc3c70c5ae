package moves

import (
	"context"
	"fmt"
	"time"

	"github.com/disorderedmaterials/dissolve-sub015/internal/distributor"
	"github.com/disorderedmaterials/dissolve-sub015/internal/geometry"
	"github.com/disorderedmaterials/dissolve-sub015/internal/procpool"
)

// AtomShake translates individual atoms, cell by cell.
type AtomShake struct {
	Key           uint64
	Strategy      procpool.Strategy
	ShakesPerAtom int
	Step          StepSize
}

// NewAtomShake returns an AtomShake with the usual defaults (0.05 Å step, 33% target).
func NewAtomShake(key uint64) *AtomShake {
	return &AtomShake{
		Key:           key,
		ShakesPerAtom: 1,
		Step:          StepSize{Name: "translation", Value: 0.05, Min: 0.001, Max: 1, TargetRate: 0.33},
	}
}

func (m *AtomShake) Name() string       { return "AtomShake" }
func (m *AtomShake) Steps() []*StepSize { return []*StepSize{&m.Step} }

func (m *AtomShake) Validate() error {
	if m.ShakesPerAtom < 1 {
		return fmt.Errorf("%w: %s shakes per atom %d", ErrInvalidMove, m.Name(), m.ShakesPerAtom)
	}
	return validateStep(m.Name(), &m.Step)
}

func (m *AtomShake) Pass(ctx context.Context, env *Env, n int) (PassResult, error) {
	start := time.Now()
	d := distributor.NewCellDistributor(env.Cfg, env.Rank, m.Strategy, true, false)
	k := env.Kernel
	var atoms []int
	proposed := make([]geometry.Vec3, 1)
	stats, err := pass(ctx, env, m.Name(), m.Key, n, d, func(u *unit) error {
		atoms = append(atoms[:0], env.Cfg.Cells().Cell(u.id).Atoms()...)
		if err := env.Changes.AddCell(u.id); err != nil {
			return err
		}
		for _, i := range atoms {
			for s := 0; s < m.ShakesPerAtom; s++ {
				delta := geometry.Vec3{
					X: env.Random.RandomPlusMinusOne() * m.Step.Value,
					Y: env.Random.RandomPlusMinusOne() * m.Step.Value,
					Z: env.Random.RandomPlusMinusOne() * m.Step.Value,
				}
				before, err := env.atomEnergy(ctx, u, i)
				if err != nil {
					return err
				}
				before += k.AtomIntramolecularEnergy(i)
				proposed[0] = env.Cfg.Atom(i).R.Add(delta)
				if !env.trial(u, []int{i}, proposed) {
					env.outOfRegion(m.Name(), u, Translation)
					continue
				}
				after, err := env.atomEnergy(ctx, u, i)
				if err != nil {
					return err
				}
				after += k.AtomIntramolecularEnergy(i)
				if err := env.settle(m.Name(), u, []int{i}, after-before, Translation); err != nil {
					return err
				}
			}
		}
		env.Changes.StoreAndReset()
		return nil
	})
	if err != nil {
		return PassResult{}, err
	}
	res := stats.result(m.Name(), n)
	res.Rounds = d.Rounds()
	adaptAll(&res, &stats, map[Kind]*StepSize{Translation: &m.Step})
	res.Elapsed = time.Since(start)
	return res, nil
}
