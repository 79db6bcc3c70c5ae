package distributor

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/disorderedmaterials/dissolve-sub015/internal/configuration"
	"github.com/disorderedmaterials/dissolve-sub015/internal/geometry"
	"github.com/disorderedmaterials/dissolve-sub015/internal/potential"
	"github.com/disorderedmaterials/dissolve-sub015/internal/procpool"
	"github.com/disorderedmaterials/dissolve-sub015/internal/species"
)

func newConfig(t *testing.T, l, cutoff float64, positions ...geometry.Vec3) *configuration.Configuration {
	types := []potential.AtomType{{Name: "Ar", Mass: 39.948, Epsilon: 0.979, Sigma: 3.405}}
	sp := &species.Species{Name: "Ar", Atoms: []species.Atom{{Type: 0}}}
	require.NoError(t, sp.Resolve(types))
	box, err := geometry.NewCubicBox(l)
	require.NoError(t, err)
	cfg, err := configuration.New("test", box, cutoff, []*species.Species{sp}, 300)
	require.NoError(t, err)
	for _, r := range positions {
		_, err := cfg.AddMolecule(0, []geometry.Vec3{r})
		require.NoError(t, err)
	}
	return cfg
}

// drive runs distributors in lockstep and returns, per round, the units each one received.
func drive(t *testing.T, ds []*Distributor) [][][]int {
	var rounds [][][]int
	for {
		round := make([][]int, len(ds))
		complete := 0
		for k, d := range ds {
			for {
				u, st, err := d.Next()
				require.NoError(t, err)
				if st == Assigned {
					round[k] = append(round[k], u)
					require.NoError(t, d.Release(u))
					continue
				}
				if st == AllComplete {
					complete++
				}
				break
			}
		}
		if complete == len(ds) {
			return rounds
		}
		require.Zero(t, complete, "ranks disagree on completion")
		rounds = append(rounds, round)
	}
}

func overlaps(a, b []int) bool {
	for _, c := range a {
		if slices.Contains(b, c) {
			return true
		}
	}
	return false
}

func TestRoundsAreConflictFree(t *testing.T) {
	cfg := newConfig(t, 40, 5)
	d := NewCellDistributor(cfg, nil, procpool.Solo, true, false)
	rounds := drive(t, []*Distributor{d})
	require.Greater(t, len(rounds), 1)
	assert.Greater(t, len(rounds[0][0]), 1, "independent cells share a round")
	assert.Equal(t, len(rounds), d.Rounds())
	assert.Equal(t, Complete, d.State())

	seen := make([]int, d.NUnits())
	for _, round := range rounds {
		units := round[0]
		for x, a := range units {
			seen[a]++
			fa := d.Footprint(a)
			for _, b := range units[x+1:] {
				fb := d.Footprint(b)
				assert.False(t, overlaps(fa.W, fb.W) || overlaps(fa.W, fb.R) || overlaps(fa.R, fb.W), "units %d and %d", a, b)
			}
		}
	}
	for u, n := range seen {
		assert.Equal(t, 1, n, "unit %d", u)
	}
}

func conflict(a, b Footprint) bool {
	return overlaps(a.W, b.W) || overlaps(a.W, b.R) || overlaps(a.R, b.W)
}

func TestRoundBlockedOnlyByTakenUnits(t *testing.T) {
	cfg := newConfig(t, 40, 5)
	d := NewCellDistributor(cfg, nil, procpool.Solo, true, false)
	rounds := drive(t, []*Distributor{d})
	first := rounds[0][0]

	// every unit left out of the first round conflicts with an earlier unit of that round
	for u := 0; u < d.NUnits(); u++ {
		if slices.Contains(first, u) {
			continue
		}
		blocked := false
		for _, v := range first {
			if v < u && conflict(d.Footprint(u), d.Footprint(v)) {
				blocked = true
				break
			}
		}
		assert.True(t, blocked, "unit %d skipped without a conflicting earlier unit", u)
	}

	// and some taken unit overlaps an earlier skipped one
	found := false
	for _, u := range first {
		for s := 0; s < u && !found; s++ {
			if !slices.Contains(first, s) && conflict(d.Footprint(u), d.Footprint(s)) {
				found = true
			}
		}
	}
	assert.True(t, found)
}

func TestRoundsIndependentOfRankCount(t *testing.T) {
	cfg := newConfig(t, 40, 5)
	serial := drive(t, []*Distributor{NewCellDistributor(cfg, nil, procpool.Solo, true, false)})

	pool, err := procpool.New(4, 2)
	require.NoError(t, err)
	for _, s := range []procpool.Strategy{procpool.Solo, procpool.Group} {
		ds := make([]*Distributor, 4)
		for i := range ds {
			ds[i] = NewCellDistributor(cfg, pool.Rank(i), s, true, false)
		}
		parallel := drive(t, ds)
		require.Equal(t, len(serial), len(parallel), "%s", s)
		for n := range serial {
			var union []int
			for _, units := range parallel[n] {
				for _, u := range units {
					if !slices.Contains(union, u) {
						union = append(union, u)
					}
				}
			}
			slices.Sort(union)
			assert.Equal(t, serial[n][0], union, "%s round %d", s, n)
		}
	}
}

func TestFallbackToPool(t *testing.T) {
	// a 2x2x2 grid: every cell neighbours every other
	cfg := newConfig(t, 10, 5)
	pool, err := procpool.New(3, 1)
	require.NoError(t, err)
	ds := make([]*Distributor, 3)
	resets := make([][]procpool.Strategy, 3)
	for i := range ds {
		ds[i] = NewCellDistributor(cfg, pool.Rank(i), procpool.Solo, true, false)
		i := i
		ds[i].Reset = func(s procpool.Strategy) { resets[i] = append(resets[i], s) }
	}
	rounds := drive(t, ds)
	require.Len(t, rounds, 8)
	for _, round := range rounds {
		assert.Len(t, round[0], 1)
		assert.Equal(t, round[0], round[1])
		assert.Equal(t, round[0], round[2])
	}
	for i := range ds {
		assert.Equal(t, procpool.Pool, ds[i].Active())
		assert.Equal(t, []procpool.Strategy{procpool.Pool}, resets[i])
	}
}

func TestReadOnlySingleRound(t *testing.T) {
	cfg := newConfig(t, 10, 5)
	d := NewCellDistributor(cfg, nil, procpool.Solo, false, false)
	rounds := drive(t, []*Distributor{d})
	require.Len(t, rounds, 1)
	assert.Len(t, rounds[0][0], cfg.Cells().NCells())
	assert.Empty(t, d.Footprint(0).W)
}

func TestProtocolErrors(t *testing.T) {
	cfg := newConfig(t, 40, 5)
	d := NewCellDistributor(cfg, nil, procpool.Solo, true, false)
	assert.Equal(t, Idle, d.State())
	u, st, err := d.Next()
	require.NoError(t, err)
	require.Equal(t, Assigned, st)
	assert.Equal(t, Assigning, d.State())
	assert.NotEmpty(t, d.Region(u))

	held, _, err := d.Next()
	assert.ErrorIs(t, err, ErrUnitNotReleased)
	assert.Equal(t, u, held)
	assert.ErrorIs(t, d.Release(u+1), ErrNotHeld)

	require.NoError(t, d.Release(u))
	v, st, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, Assigned, st)
	assert.NotEqual(t, u, v)
}

func TestMoleculeUnitsAndRepeats(t *testing.T) {
	positions := []geometry.Vec3{{X: 1, Y: 1, Z: 1}, {X: 2, Y: 2, Z: 2}, {X: 22, Y: 22, Z: 22}}
	cfg := newConfig(t, 40, 5, positions...)
	pool, err := procpool.New(2, 2)
	require.NoError(t, err)

	build := func(repeats bool) []*Distributor {
		return []*Distributor{
			NewMoleculeDistributor(cfg, pool.Rank(0), procpool.Solo, true, repeats),
			NewMoleculeDistributor(cfg, pool.Rank(1), procpool.Solo, true, repeats),
		}
	}

	ds := build(false)
	rounds := drive(t, ds)
	require.Len(t, rounds, 2)
	assert.Equal(t, [][]int{{0}, {2}}, rounds[0])
	assert.Equal(t, [][]int{{1}, {1}}, rounds[1], "lone unit runs on the whole pool")
	assert.Equal(t, procpool.Pool, ds[0].Active())

	ds = build(true)
	rounds = drive(t, ds)
	require.Len(t, rounds, 2)
	assert.Equal(t, [][]int{{1}, {2}}, rounds[1], "idle rank repeats a finished compatible unit")
	assert.Equal(t, procpool.Solo, ds[1].Active())
	assert.Equal(t, 1, ds[1].Visit(2))
	assert.Equal(t, 0, ds[0].Visit(1))
}
