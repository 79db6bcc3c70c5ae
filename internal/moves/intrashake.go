package moves

import (
	"context"
	"fmt"
	"time"

	"github.com/disorderedmaterials/dissolve-sub015/internal/distributor"
	"github.com/disorderedmaterials/dissolve-sub015/internal/geometry"
	"github.com/disorderedmaterials/dissolve-sub015/internal/procpool"
	"github.com/disorderedmaterials/dissolve-sub015/internal/species"
)

// IntraShake perturbs the internal geometry of molecules: bond stretches, angle bends and
// torsion twists, each moving the fragment attached to one randomly chosen terminus. Terms
// inside rings are left alone.
type IntraShake struct {
	Key      uint64
	Strategy procpool.Strategy
	Shakes   int
	Bond     StepSize // Angstroms
	Angle    StepSize // degrees
	Torsion  StepSize // degrees
}

func NewIntraShake(key uint64) *IntraShake {
	return &IntraShake{
		Key:     key,
		Shakes:  1,
		Bond:    StepSize{Name: "bond", Value: 0.01, Min: 0.001, Max: 0.2, TargetRate: 0.33},
		Angle:   StepSize{Name: "angle", Value: 5, Min: 0.01, Max: 20, TargetRate: 0.33},
		Torsion: StepSize{Name: "torsion", Value: 10, Min: 0.5, Max: 45, TargetRate: 0.33},
	}
}

func (m *IntraShake) Name() string       { return "IntraShake" }
func (m *IntraShake) Steps() []*StepSize { return []*StepSize{&m.Bond, &m.Angle, &m.Torsion} }

func (m *IntraShake) Validate() error {
	if m.Shakes < 1 {
		return fmt.Errorf("%w: %s shakes %d", ErrInvalidMove, m.Name(), m.Shakes)
	}
	for _, s := range m.Steps() {
		if err := validateStep(m.Name(), s); err != nil {
			return err
		}
	}
	return nil
}

// fragmentTrial moves the local atoms of one fragment with transform and evaluates the trial.
type fragmentTrial struct {
	ctx   context.Context
	env   *Env
	u     *unit
	name  string
	mol   int
	r     []geometry.Vec3
	atoms []int
	prop  []geometry.Vec3
}

func (t *fragmentTrial) run(locals []int, kind Kind, transform func(p geometry.Vec3) geometry.Vec3) error {
	ids := t.env.Cfg.Molecule(t.mol).Atoms
	t.atoms, t.prop = t.atoms[:0], t.prop[:0]
	for _, l := range locals {
		t.atoms = append(t.atoms, ids[l])
		t.prop = append(t.prop, transform(t.r[l]))
	}
	before, err := t.energy()
	if err != nil {
		return err
	}
	if !t.env.trial(t.u, t.atoms, t.prop) {
		t.env.outOfRegion(t.name, t.u, kind)
		return nil
	}
	after, err := t.energy()
	if err != nil {
		return err
	}
	return t.env.settle(t.name, t.u, t.atoms, after-before, kind)
}

func (t *fragmentTrial) energy() (float64, error) {
	e, err := t.env.moleculeEnergy(t.ctx, t.u, t.mol)
	if err != nil {
		return 0, err
	}
	return e + t.env.Kernel.IntramolecularEnergy(t.mol), nil
}

func (m *IntraShake) Pass(ctx context.Context, env *Env, n int) (PassResult, error) {
	start := time.Now()
	d := distributor.NewMoleculeDistributor(env.Cfg, env.Rank, m.Strategy, true, false)
	t := &fragmentTrial{ctx: ctx, env: env, name: m.Name()}
	stats, err := pass(ctx, env, m.Name(), m.Key, n, d, func(u *unit) error {
		sp := env.Cfg.SpeciesOf(u.id)
		if !sp.HasIntramolecular() {
			return nil
		}
		if err := env.Changes.AddMolecule(u.id); err != nil {
			return err
		}
		t.u, t.mol = u, u.id
		for s := 0; s < m.Shakes; s++ {
			for bi := range sp.Bonds {
				if err := m.shakeBond(t, &sp.Bonds[bi]); err != nil {
					return err
				}
			}
			for ai := range sp.Angles {
				if err := m.shakeAngle(t, &sp.Angles[ai]); err != nil {
					return err
				}
			}
			for ti := range sp.Torsions {
				if err := m.shakeTorsion(t, &sp.Torsions[ti]); err != nil {
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
	adaptAll(&res, &stats, map[Kind]*StepSize{BondStretch: &m.Bond, AngleBend: &m.Angle, TorsionTwist: &m.Torsion})
	res.Elapsed = time.Since(start)
	return res, nil
}

func (m *IntraShake) shakeBond(t *fragmentTrial, b *species.Bond) error {
	if b.InCycle() {
		return nil
	}
	side := 0
	if t.env.Random.Random() > 0.5 {
		side = 1
	}
	delta := t.env.Random.RandomPlusMinusOne() * m.Bond.Value
	t.r = t.env.Cfg.UnfoldedPositions(t.mol, t.r)
	shift := t.r[b.J].Sub(t.r[b.I]).Norm().Mul(delta)
	if side == 0 {
		shift = shift.Neg()
	}
	return t.run(b.Attached(side), BondStretch, func(p geometry.Vec3) geometry.Vec3 { return p.Add(shift) })
}

func (m *IntraShake) shakeAngle(t *fragmentTrial, a *species.Angle) error {
	if a.InCycle() {
		return nil
	}
	side := 0
	if t.env.Random.Random() > 0.5 {
		side = 1
	}
	delta := t.env.Random.RandomPlusMinusOne() * m.Angle.Value
	t.r = t.env.Cfg.UnfoldedPositions(t.mol, t.r)
	origin := t.r[a.J]
	axis := t.r[a.I].Sub(origin).Cross(t.r[a.K].Sub(origin))
	if side == 1 {
		delta = -delta
	}
	rot := geometry.NewAxisRotation(axis, delta)
	return t.run(a.Attached(side), AngleBend, func(p geometry.Vec3) geometry.Vec3 { return rot.ApplyAbout(p, origin) })
}

func (m *IntraShake) shakeTorsion(t *fragmentTrial, tor *species.Torsion) error {
	if tor.InCycle() {
		return nil
	}
	side := 0
	if t.env.Random.Random() > 0.5 {
		side = 1
	}
	delta := t.env.Random.RandomPlusMinusOne() * m.Torsion.Value
	t.r = t.env.Cfg.UnfoldedPositions(t.mol, t.r)
	origin := t.r[tor.J]
	if side == 1 {
		origin = t.r[tor.K]
	}
	rot := geometry.NewAxisRotation(t.r[tor.K].Sub(t.r[tor.J]), delta)
	return t.run(tor.Attached(side), TorsionTwist, func(p geometry.Vec3) geometry.Vec3 { return rot.ApplyAbout(p, origin) })
}
