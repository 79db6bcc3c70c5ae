package moves

import (
	"context"
	"fmt"
	"time"

	"github.com/disorderedmaterials/dissolve-sub015/internal/distributor"
	"github.com/disorderedmaterials/dissolve-sub015/internal/geometry"
	"github.com/disorderedmaterials/dissolve-sub015/internal/procpool"
)

// Twist rotates the smaller side of every rotatable bond about the bond axis.
type Twist struct {
	Key      uint64
	Strategy procpool.Strategy
	Shakes   int
	Rotation StepSize // degrees
}

func NewTwist(key uint64) *Twist {
	return &Twist{
		Key:      key,
		Shakes:   1,
		Rotation: StepSize{Name: "rotation", Value: 20, Min: 0.5, Max: 180, TargetRate: 0.33},
	}
}

func (m *Twist) Name() string       { return "Twist" }
func (m *Twist) Steps() []*StepSize { return []*StepSize{&m.Rotation} }

func (m *Twist) Validate() error {
	if m.Shakes < 1 {
		return fmt.Errorf("%w: %s shakes %d", ErrInvalidMove, m.Name(), m.Shakes)
	}
	return validateStep(m.Name(), &m.Rotation)
}

func (m *Twist) Pass(ctx context.Context, env *Env, n int) (PassResult, error) {
	start := time.Now()
	d := distributor.NewMoleculeDistributor(env.Cfg, env.Rank, m.Strategy, true, false)
	t := &fragmentTrial{ctx: ctx, env: env, name: m.Name()}
	stats, err := pass(ctx, env, m.Name(), m.Key, n, d, func(u *unit) error {
		sp := env.Cfg.SpeciesOf(u.id)
		rotatable := sp.RotatableBonds()
		if len(rotatable) == 0 {
			return nil
		}
		if err := env.Changes.AddMolecule(u.id); err != nil {
			return err
		}
		t.u, t.mol = u, u.id
		for s := 0; s < m.Shakes; s++ {
			for _, bi := range rotatable {
				b := &sp.Bonds[bi]
				side := 0
				if len(b.Attached(1)) < len(b.Attached(0)) {
					side = 1
				}
				delta := env.Random.RandomPlusMinusOne() * m.Rotation.Value
				t.r = env.Cfg.UnfoldedPositions(u.id, t.r)
				origin := t.r[b.I]
				rot := geometry.NewAxisRotation(t.r[b.J].Sub(origin), delta)
				err := t.run(b.Attached(side), Rotation, func(p geometry.Vec3) geometry.Vec3 { return rot.ApplyAbout(p, origin) })
				if err != nil {
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
	adaptAll(&res, &stats, map[Kind]*StepSize{Rotation: &m.Rotation})
	res.Elapsed = time.Since(start)
	return res, nil
}
