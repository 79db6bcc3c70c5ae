package moves

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/disorderedmaterials/dissolve-sub015/internal/configuration"
	"github.com/disorderedmaterials/dissolve-sub015/internal/geometry"
	"github.com/disorderedmaterials/dissolve-sub015/internal/kernel"
	"github.com/disorderedmaterials/dissolve-sub015/internal/potential"
	"github.com/disorderedmaterials/dissolve-sub015/internal/procpool"
	"github.com/disorderedmaterials/dissolve-sub015/internal/species"
)

var argon = []potential.AtomType{{Name: "Ar", Mass: 39.948, Epsilon: 0.979, Sigma: 3.405}}

func TestAcceptMetropolis(t *testing.T) {
	assert.True(t, Accept(0, 300, 0.999999))
	assert.True(t, Accept(-50, 300, 0.999999))
	assert.False(t, Accept(math.NaN(), 300, 0))
	assert.False(t, Accept(math.Inf(-1), 300, 0))
	assert.False(t, Accept(math.Inf(1), 300, 0))

	const delta, temp, n = 1.0, 300.0, 200000
	rng := rand.New(rand.NewPCG(3, 5))
	accepted := 0
	for i := 0; i < n; i++ {
		if Accept(delta, temp, rng.Float64()) {
			accepted++
		}
	}
	assert.InDelta(t, math.Exp(-delta/(BoltzmannKJ*temp)), float64(accepted)/n, 0.01)
}

func TestStepSizeAdapt(t *testing.T) {
	s := StepSize{Name: "x", Value: 0.1, Min: 0.01, Max: 0.5, TargetRate: 0.5}
	assert.False(t, s.Adapt(0, 0))
	assert.Equal(t, 0.1, s.Value)

	assert.True(t, s.Adapt(10, 8))
	assert.InDelta(t, 0.16, s.Value, 1e-12)
	for i := 0; i < 10; i++ {
		s.Adapt(10, 10)
	}
	assert.Equal(t, 0.5, s.Value)

	s.Adapt(10, 0)
	assert.Equal(t, 0.01, s.Value)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, NewAtomShake(1).Validate())
	assert.NoError(t, NewGrainShake(1).Validate())
	assert.NoError(t, NewIntraShake(1).Validate())
	assert.NoError(t, NewTwist(1).Validate())

	a := NewAtomShake(1)
	a.ShakesPerAtom = 0
	assert.ErrorIs(t, a.Validate(), ErrInvalidMove)
	g := NewGrainShake(1)
	g.Rotation.Value = 100
	assert.ErrorIs(t, g.Validate(), ErrInvalidMove)
	tw := NewTwist(1)
	tw.Rotation.TargetRate = 0
	assert.ErrorIs(t, tw.Validate(), ErrInvalidMove)
}

// lattice returns n positions on a jittered simple-cubic grid filling a cube of side l.
func lattice(n int, l float64, rng *rand.Rand) []geometry.Vec3 {
	side := int(math.Ceil(math.Cbrt(float64(n))))
	a := l / float64(side)
	out := make([]geometry.Vec3, 0, n)
	for x := 0; x < side && len(out) < n; x++ {
		for y := 0; y < side && len(out) < n; y++ {
			for z := 0; z < side && len(out) < n; z++ {
				out = append(out, geometry.Vec3{
					X: (float64(x) + 0.5 + 0.2*(rng.Float64()-0.5)) * a,
					Y: (float64(y) + 0.5 + 0.2*(rng.Float64()-0.5)) * a,
					Z: (float64(z) + 0.5 + 0.2*(rng.Float64()-0.5)) * a,
				})
			}
		}
	}
	return out
}

func argonConfig(t *testing.T, l, cutoff float64, n int, random bool) (*configuration.Configuration, *potential.Map) {
	sp := &species.Species{Name: "Ar", Atoms: []species.Atom{{Type: 0}}}
	require.NoError(t, sp.Resolve(argon))
	box, err := geometry.NewCubicBox(l)
	require.NoError(t, err)
	cfg, err := configuration.New("argon", box, cutoff, []*species.Species{sp}, 300)
	require.NoError(t, err)
	rng := rand.New(rand.NewPCG(17, 19))
	if random {
		require.NoError(t, cfg.Generate([]configuration.Component{{Species: 0, Population: n}}, rng))
	} else {
		for _, r := range lattice(n, l, rng) {
			_, err := cfg.AddMolecule(0, []geometry.Vec3{r})
			require.NoError(t, err)
		}
	}
	pm, err := potential.NewMap(argon, potential.Options{Range: cutoff})
	require.NoError(t, err)
	return cfg, pm
}

func serialEnv(t *testing.T, cfg *configuration.Configuration, pm *potential.Map, log *TrialLog) *Env {
	k, err := kernel.New(cfg, pm)
	require.NoError(t, err)
	return NewEnv(nil, cfg, k, 2024, log, nil)
}

func totalEnergy(t *testing.T, env *Env) float64 {
	pair, intra, err := env.Kernel.TotalEnergy(context.Background(), nil, procpool.Solo)
	require.NoError(t, err)
	return pair + intra
}

func TestAtomShakeEndToEnd(t *testing.T) {
	cfg, pm := argonConfig(t, 10, 5, 100, true)
	log := NewTrialLog(true, 50)
	env := serialEnv(t, cfg, pm, log)
	m := NewAtomShake(1)
	m.Step.Value = 0.1
	v0 := cfg.Version()

	res, err := m.Pass(context.Background(), env, 0)
	require.NoError(t, err)
	// an atom that hops into a cell visited later is shaken again
	assert.GreaterOrEqual(t, res.Attempted, 100)
	assert.True(t, geometry.IsFinite(res.DeltaE))
	assert.GreaterOrEqual(t, res.Rate, 0.0)
	assert.LessOrEqual(t, res.Rate, 1.0)
	assert.True(t, cfg.MembershipConsistent())
	for i := 0; i < cfg.NAtoms(); i++ {
		assert.Equal(t, cfg.Box().Fold(cfg.Atom(i).R), cfg.Atom(i).R)
	}
	if res.Accepted > 0 {
		assert.Greater(t, cfg.Version(), v0)
	}
	total := 0
	for c := Category(0); c < nCategories; c++ {
		total += log.Count(m.Name(), c)
	}
	assert.Equal(t, res.Attempted, total)
	assert.Len(t, log.Records(), 50)
	assert.Equal(t, res.Accepted, log.Count(m.Name(), Accepted))
}

func TestAtomShakeEnergyBookkeeping(t *testing.T) {
	cfg, pm := argonConfig(t, 20, 5, 200, false)
	env := serialEnv(t, cfg, pm, nil)
	m := NewAtomShake(7)
	m.Step.Value = 0.3
	e0 := totalEnergy(t, env)
	sum := 0.0
	for n := 0; n < 3; n++ {
		res, err := m.Pass(context.Background(), env, n)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, res.Attempted, 200)
		sum += res.DeltaE
	}
	// atom energies count each pair once from either side
	assert.InDelta(t, e0+sum, totalEnergy(t, env), 1e-6*math.Max(1, math.Abs(e0)))
	assert.True(t, cfg.MembershipConsistent())
}

func TestStepAdaptsAfterPass(t *testing.T) {
	cfg, pm := argonConfig(t, 20, 5, 200, false)
	env := serialEnv(t, cfg, pm, nil)
	m := NewAtomShake(3)
	m.Step.Value = 0.001
	res, err := m.Pass(context.Background(), env, 0)
	require.NoError(t, err)
	// tiny steps are almost always accepted, so the step grows
	assert.Greater(t, res.Rate, m.Step.TargetRate)
	assert.Greater(t, m.Step.Value, 0.001)
	assert.Equal(t, m.Step.Value, res.Steps["translation"])
}

var chainTypes = []potential.AtomType{
	{Name: "CA", Mass: 12, Epsilon: 0.3, Sigma: 3.0},
	{Name: "CB", Mass: 14, Epsilon: 0.25, Sigma: 3.2},
}

func chainSpecies(t *testing.T) *species.Species {
	sp := &species.Species{Name: "chain"}
	for i := 0; i < 5; i++ {
		sp.Atoms = append(sp.Atoms, species.Atom{Type: i % 2})
	}
	for i := 0; i < 4; i++ {
		sp.Bonds = append(sp.Bonds, species.Bond{I: i, J: i + 1, Form: species.HarmonicBond{K: 2000, Eq: 1.5}})
	}
	for i := 0; i < 3; i++ {
		sp.Angles = append(sp.Angles, species.Angle{I: i, J: i + 1, K: i + 2, Form: species.HarmonicAngle{K: 300, Eq: 112}})
	}
	sp.Torsions = []species.Torsion{
		{I: 0, J: 1, K: 2, L: 3, Form: species.Cos3Torsion{K1: 5, K2: -2, K3: 1.5}},
		{I: 1, J: 2, K: 3, L: 4, Form: species.Cos3Torsion{K1: 5, K2: -2, K3: 1.5}},
	}
	require.NoError(t, sp.Resolve(chainTypes))
	return sp
}

var chainGeometry = []geometry.Vec3{{X: 0, Y: 0, Z: 0}, {X: 1.5, Y: 0, Z: 0}, {X: 2.0, Y: 1.4, Z: 0}, {X: 3.5, Y: 1.5, Z: 0.3}, {X: 4.0, Y: 2.8, Z: 1.0}}

func molecularConfig(t *testing.T, sp *species.Species, types []potential.AtomType, template []geometry.Vec3, origins []geometry.Vec3) (*configuration.Configuration, *potential.Map) {
	box, err := geometry.NewCubicBox(24)
	require.NoError(t, err)
	cfg, err := configuration.New("molecules", box, 6, []*species.Species{sp}, 300)
	require.NoError(t, err)
	for _, origin := range origins {
		r := make([]geometry.Vec3, len(template))
		for i, p := range template {
			r[i] = p.Add(origin)
		}
		_, err := cfg.AddMolecule(0, r)
		require.NoError(t, err)
	}
	pm, err := potential.NewMap(types, potential.Options{Range: 6})
	require.NoError(t, err)
	return cfg, pm
}

func grid(n int, spacing float64) []geometry.Vec3 {
	var out []geometry.Vec3
	for x := 0; len(out) < n; x++ {
		for y := 0; y < 4 && len(out) < n; y++ {
			for z := 0; z < 4 && len(out) < n; z++ {
				out = append(out, geometry.Vec3{X: float64(x) * spacing, Y: float64(y) * spacing, Z: float64(z) * spacing})
			}
		}
	}
	return out
}

func bondLengths(cfg *configuration.Configuration, m int) []float64 {
	sp := cfg.SpeciesOf(m)
	r := cfg.UnfoldedPositions(m, nil)
	out := make([]float64, len(sp.Bonds))
	for i, b := range sp.Bonds {
		out[i] = r[b.J].Sub(r[b.I]).Len()
	}
	return out
}

func angles(cfg *configuration.Configuration, m int) []float64 {
	sp := cfg.SpeciesOf(m)
	r := cfg.UnfoldedPositions(m, nil)
	out := make([]float64, len(sp.Angles))
	for i, a := range sp.Angles {
		out[i], _ = geometry.AngleInDegrees(r[a.I].Sub(r[a.J]), r[a.K].Sub(r[a.J]))
	}
	return out
}

func TestGrainShakeIsRigid(t *testing.T) {
	cfg, pm := molecularConfig(t, chainSpecies(t), chainTypes, chainGeometry, grid(12, 6))
	env := serialEnv(t, cfg, pm, nil)
	before := make([][]float64, cfg.NMolecules())
	beforeAngles := make([][]float64, cfg.NMolecules())
	for m := range before {
		before[m], beforeAngles[m] = bondLengths(cfg, m), angles(cfg, m)
	}
	e0 := totalEnergy(t, env)
	mv := NewGrainShake(11)
	mv.Shakes = 4
	mv.Rotation.Value = 20
	mv.Translation.Value = 0.5
	res, err := mv.Pass(context.Background(), env, 0)
	require.NoError(t, err)
	assert.Equal(t, 48, res.Attempted)
	assert.Greater(t, res.Accepted, 0)
	for m := range before {
		assert.InDeltaSlice(t, before[m], bondLengths(cfg, m), 1e-9)
		assert.InDeltaSlice(t, beforeAngles[m], angles(cfg, m), 1e-7)
	}
	assert.InDelta(t, e0+res.DeltaE, totalEnergy(t, env), 1e-6*math.Max(1, math.Abs(e0)))
	assert.True(t, cfg.MembershipConsistent())
}

func TestIntraShakeSkipsRings(t *testing.T) {
	ring := &species.Species{
		Name:  "ring",
		Atoms: []species.Atom{{Type: 0}, {Type: 0}, {Type: 0}, {Type: 1}},
		Bonds: []species.Bond{
			{I: 0, J: 1, Form: species.HarmonicBond{K: 1000, Eq: 1.5}},
			{I: 1, J: 2, Form: species.HarmonicBond{K: 1000, Eq: 1.5}},
			{I: 2, J: 0, Form: species.HarmonicBond{K: 1000, Eq: 1.5}},
			{I: 0, J: 3, Form: species.HarmonicBond{K: 1000, Eq: 1.4}},
		},
		Angles: []species.Angle{{I: 1, J: 0, K: 2, Form: species.HarmonicAngle{K: 300, Eq: 60}}},
	}
	require.NoError(t, ring.Resolve(chainTypes))
	template := []geometry.Vec3{{X: 0}, {X: 1.5}, {X: 0.75, Y: 1.299}, {X: -1.2, Y: -0.7}}
	cfg, pm := molecularConfig(t, ring, chainTypes, template, grid(8, 6))
	env := serialEnv(t, cfg, pm, nil)
	ringBonds := func(m int) []float64 { return bondLengths(cfg, m)[:3] }
	before := make([][]float64, cfg.NMolecules())
	for m := range before {
		before[m] = ringBonds(m)
	}

	mv := NewIntraShake(5)
	mv.Shakes = 3
	e0 := totalEnergy(t, env)
	res, err := mv.Pass(context.Background(), env, 0)
	require.NoError(t, err)
	// only the exocyclic bond is shaken
	assert.Equal(t, 3*cfg.NMolecules(), res.Attempted)
	for m := range before {
		assert.InDeltaSlice(t, before[m], ringBonds(m), 1e-9)
	}
	assert.InDelta(t, e0+res.DeltaE, totalEnergy(t, env), 1e-6*math.Max(1, math.Abs(e0)))
}

func TestIntraShakeChains(t *testing.T) {
	cfg, pm := molecularConfig(t, chainSpecies(t), chainTypes, chainGeometry, grid(10, 6))
	env := serialEnv(t, cfg, pm, nil)
	e0 := totalEnergy(t, env)
	mv := NewIntraShake(9)
	res, err := mv.Pass(context.Background(), env, 0)
	require.NoError(t, err)
	assert.Equal(t, 9*cfg.NMolecules(), res.Attempted)
	assert.Greater(t, res.Accepted, 0)
	assert.InDelta(t, e0+res.DeltaE, totalEnergy(t, env), 1e-6*math.Max(1, math.Abs(e0)))
	assert.Len(t, res.Steps, 3)
	assert.True(t, cfg.MembershipConsistent())
}

func TestTwistKeepsBondsAndAngles(t *testing.T) {
	cfg, pm := molecularConfig(t, chainSpecies(t), chainTypes, chainGeometry, grid(10, 6))
	env := serialEnv(t, cfg, pm, nil)
	before := make([][]float64, cfg.NMolecules())
	beforeAngles := make([][]float64, cfg.NMolecules())
	for m := range before {
		before[m], beforeAngles[m] = bondLengths(cfg, m), angles(cfg, m)
	}
	e0 := totalEnergy(t, env)
	mv := NewTwist(13)
	res, err := mv.Pass(context.Background(), env, 0)
	require.NoError(t, err)
	assert.Equal(t, 2*cfg.NMolecules(), res.Attempted)
	for m := range before {
		assert.InDeltaSlice(t, before[m], bondLengths(cfg, m), 1e-9)
		assert.InDeltaSlice(t, beforeAngles[m], angles(cfg, m), 1e-7)
	}
	assert.InDelta(t, e0+res.DeltaE, totalEnergy(t, env), 1e-6*math.Max(1, math.Abs(e0)))
}

// runParallel performs passes of the moves built by newMoves on nRanks replicas and returns every
// replica's final positions together with rank 0's results.
func runParallel(t *testing.T, cfg *configuration.Configuration, pm *potential.Map, nRanks, nGroups, passes int, newMoves func() []Move) ([][]geometry.Vec3, []PassResult) {
	pool, err := procpool.New(nRanks, nGroups)
	require.NoError(t, err)
	positions := make([][]geometry.Vec3, nRanks)
	var results []PassResult
	err = pool.Run(context.Background(), func(ctx context.Context, r *procpool.Rank) error {
		replica := cfg.Clone()
		k, err := kernel.New(replica, pm)
		if err != nil {
			return err
		}
		env := NewEnv(r, replica, k, 99, nil, nil)
		moves := newMoves()
		for n := 0; n < passes; n++ {
			for _, m := range moves {
				res, err := m.Pass(ctx, env, n)
				if err != nil {
					return err
				}
				if r.Index == 0 {
					results = append(results, res)
				}
			}
		}
		positions[r.Index] = replica.Positions()
		return nil
	})
	require.NoError(t, err)
	return positions, results
}

func TestParallelMatchesSerial(t *testing.T) {
	cfg, pm := argonConfig(t, 40, 5, 300, false)
	newMoves := func() []Move {
		solo := NewAtomShake(1)
		solo.Step.Value = 0.2
		group := NewAtomShake(2)
		group.Strategy = procpool.Group
		pool := NewAtomShake(3)
		pool.Strategy = procpool.Pool
		return []Move{solo, group, pool}
	}
	want, wantRes := runParallel(t, cfg, pm, 1, 1, 2, newMoves)
	for _, layout := range [][2]int{{4, 2}, {3, 1}, {5, 5}} {
		got, gotRes := runParallel(t, cfg, pm, layout[0], layout[1], 2, newMoves)
		for r := range got {
			assert.Equal(t, want[0], got[r], "layout %v rank %d", layout, r)
		}
		require.Len(t, gotRes, len(wantRes))
		for i := range wantRes {
			assert.Equal(t, wantRes[i].Attempted, gotRes[i].Attempted)
			assert.Equal(t, wantRes[i].Accepted, gotRes[i].Accepted)
			assert.Equal(t, wantRes[i].Steps, gotRes[i].Steps)
		}
	}
}

func TestParallelMolecularMatchesSerial(t *testing.T) {
	cfg, pm := molecularConfig(t, chainSpecies(t), chainTypes, chainGeometry, grid(24, 6))
	newMoves := func() []Move {
		return []Move{NewGrainShake(1), NewIntraShake(2), NewTwist(3)}
	}
	want, wantRes := runParallel(t, cfg, pm, 1, 1, 1, newMoves)
	got, gotRes := runParallel(t, cfg, pm, 4, 2, 1, newMoves)
	for r := range got {
		assert.Equal(t, want[0], got[r], "rank %d", r)
	}
	for i := range wantRes {
		assert.Equal(t, wantRes[i].Accepted, gotRes[i].Accepted)
	}
}

func TestPassFailsWhenPeerDies(t *testing.T) {
	cfg, pm := argonConfig(t, 40, 5, 100, false)
	pool, err := procpool.New(2, 1)
	require.NoError(t, err)
	peerErr := errors.New("peer died")
	var survivor error
	err = pool.Run(context.Background(), func(ctx context.Context, r *procpool.Rank) error {
		if r.Index == 1 {
			return peerErr
		}
		replica := cfg.Clone()
		k, err := kernel.New(replica, pm)
		if err != nil {
			return err
		}
		_, survivor = NewAtomShake(1).Pass(ctx, NewEnv(r, replica, k, 1, nil, nil), 0)
		return survivor
	})
	assert.ErrorIs(t, err, peerErr)
	assert.ErrorIs(t, survivor, procpool.ErrCollectiveFailed)
}

func TestGroupMembersShareEnergyEvaluation(t *testing.T) {
	cfg, pm := argonConfig(t, 30, 5, 200, true)
	k, err := kernel.New(cfg, pm)
	require.NoError(t, err)
	want := make([]float64, 20)
	for i := range want {
		want[i] = k.AtomEnergy(i)
	}

	pool, err := procpool.New(4, 2)
	require.NoError(t, err)
	atomE := make([][]float64, 4)
	molE := make([][]float64, 4)
	err = pool.Run(context.Background(), func(ctx context.Context, r *procpool.Rank) error {
		replica := cfg.Clone()
		rk, err := kernel.New(replica, pm)
		if err != nil {
			return err
		}
		env := NewEnv(r, replica, rk, 1, nil, nil)
		group, all := &unit{scope: procpool.Group}, &unit{scope: procpool.Pool}
		for i := range want {
			e, err := env.atomEnergy(ctx, group, i)
			if err != nil {
				return err
			}
			atomE[r.Index] = append(atomE[r.Index], e)
			e, err = env.moleculeEnergy(ctx, all, i)
			if err != nil {
				return err
			}
			molE[r.Index] = append(molE[r.Index], e)
		}
		return nil
	})
	require.NoError(t, err)
	for r := 0; r < 4; r++ {
		assert.Equal(t, want, atomE[r], "rank %d atom energies", r)
		assert.Equal(t, want, molE[r], "rank %d molecule energies", r)
	}
}
