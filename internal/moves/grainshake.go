package moves

import (
	"context"
	"fmt"
	"time"

	"github.com/disorderedmaterials/dissolve-sub015/internal/distributor"
	"github.com/disorderedmaterials/dissolve-sub015/internal/geometry"
	"github.com/disorderedmaterials/dissolve-sub015/internal/procpool"
)

// GrainShake moves whole molecules rigidly. Trials cycle through a ten-slot pattern: slot 0
// rotates only, slot 1 translates only, the other eight do both.
type GrainShake struct {
	Key         uint64
	Strategy    procpool.Strategy
	Shakes      int
	Translation StepSize
	Rotation    StepSize // degrees
}

func NewGrainShake(key uint64) *GrainShake {
	return &GrainShake{
		Key:         key,
		Shakes:      1,
		Translation: StepSize{Name: "translation", Value: 0.05, Min: 0.001, Max: 3, TargetRate: 0.33},
		Rotation:    StepSize{Name: "rotation", Value: 1, Min: 0.01, Max: 90, TargetRate: 0.33},
	}
}

func (m *GrainShake) Name() string       { return "GrainShake" }
func (m *GrainShake) Steps() []*StepSize { return []*StepSize{&m.Translation, &m.Rotation} }

func (m *GrainShake) Validate() error {
	if m.Shakes < 1 {
		return fmt.Errorf("%w: %s shakes %d", ErrInvalidMove, m.Name(), m.Shakes)
	}
	if err := validateStep(m.Name(), &m.Translation); err != nil {
		return err
	}
	return validateStep(m.Name(), &m.Rotation)
}

func (m *GrainShake) Pass(ctx context.Context, env *Env, n int) (PassResult, error) {
	start := time.Now()
	d := distributor.NewMoleculeDistributor(env.Cfg, env.Rank, m.Strategy, true, false)
	var r []geometry.Vec3
	stats, err := pass(ctx, env, m.Name(), m.Key, n, d, func(u *unit) error {
		mol := env.Cfg.Molecule(u.id)
		if err := env.Changes.AddMolecule(u.id); err != nil {
			return err
		}
		slot := int(env.Random.Random() * 10)
		for s := 0; s < m.Shakes; s++ {
			slot = (slot + 1) % 10
			rotate, translate := slot != 1, slot != 0
			var kinds []Kind
			if rotate {
				kinds = append(kinds, Rotation)
			}
			if translate {
				kinds = append(kinds, Translation)
			}

			r = env.Cfg.UnfoldedPositions(u.id, r)
			var centre geometry.Vec3
			for _, p := range r {
				centre = centre.Add(p)
			}
			centre = centre.Div(float64(len(r)))
			if rotate {
				rot := geometry.RotationXY(env.Random.RandomPlusMinusOne()*m.Rotation.Value, env.Random.RandomPlusMinusOne()*m.Rotation.Value)
				for x := range r {
					r[x] = rot.MulVec(r[x].Sub(centre)).Add(centre)
				}
			}
			if translate {
				delta := geometry.Vec3{
					X: env.Random.RandomPlusMinusOne() * m.Translation.Value,
					Y: env.Random.RandomPlusMinusOne() * m.Translation.Value,
					Z: env.Random.RandomPlusMinusOne() * m.Translation.Value,
				}
				for x := range r {
					r[x] = r[x].Add(delta)
				}
			}

			before, err := env.moleculeEnergy(ctx, u, u.id)
			if err != nil {
				return err
			}
			if !env.trial(u, mol.Atoms, r) {
				env.outOfRegion(m.Name(), u, kinds...)
				continue
			}
			after, err := env.moleculeEnergy(ctx, u, u.id)
			if err != nil {
				return err
			}
			if err := env.settle(m.Name(), u, mol.Atoms, after-before, kinds...); err != nil {
				return err
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
	adaptAll(&res, &stats, map[Kind]*StepSize{Translation: &m.Translation, Rotation: &m.Rotation})
	res.Elapsed = time.Since(start)
	return res, nil
}
