package dissolve

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/disorderedmaterials/dissolve-sub015/internal/checkpoint"
	"github.com/disorderedmaterials/dissolve-sub015/internal/config"
	"github.com/disorderedmaterials/dissolve-sub015/internal/geometry"
	"github.com/disorderedmaterials/dissolve-sub015/internal/moves"
)

const mixture = "testdata/mixture.yaml"

func TestValidate(t *testing.T) {
	cfg, sys, err := Validate(mixture)
	require.NoError(t, err)
	assert.Equal(t, "mixture", cfg.Name)
	assert.Equal(t, 60+4*12, sys.Start.NAtoms())
	assert.Equal(t, 72, sys.Start.NMolecules())
	assert.Equal(t, []int{1}, sys.Species[1].RotatableBonds())
	assert.True(t, sys.Start.MembershipConsistent())
}

func TestBuildMoves(t *testing.T) {
	cfg, err := config.Load(mixture)
	require.NoError(t, err)
	sched, err := BuildMoves(cfg)
	require.NoError(t, err)
	require.Len(t, sched, 4)
	assert.Equal(t, "AtomShake", sched[0].Name())
	assert.Equal(t, 0.1, sched[0].Steps()[0].Value)
	assert.Equal(t, 2, sched[3].every)

	cfg.Moves[1].Steps = map[string]config.StepCfg{"wobble": {Value: 1}}
	_, err = BuildMoves(cfg)
	assert.ErrorIs(t, err, ErrUnknownStep)

	cfg.Moves[1].Steps = map[string]config.StepCfg{"rotation": {Value: 500}}
	_, err = BuildMoves(cfg)
	assert.ErrorIs(t, err, moves.ErrInvalidMove)
}

func positions(s *Summary) []geometry.Vec3 {
	out := make([]geometry.Vec3, len(s.Positions))
	for i, a := range s.Positions {
		out[i] = a.R
	}
	return out
}

func TestRunIsIndependentOfRankCount(t *testing.T) {
	var logs bytes.Buffer
	serial, err := Run(context.Background(), mixture, Options{Output: &logs})
	require.NoError(t, err)
	assert.Equal(t, 2, serial.Iterations)
	// AtomShake, GrainShake and IntraShake every iteration, Twist on the second
	assert.Len(t, serial.Passes, 7)
	assert.Contains(t, logs.String(), "run_id="+serial.RunID)

	parallel, err := Run(context.Background(), mixture, Options{Ranks: 4, Groups: 2, Output: &bytes.Buffer{}})
	require.NoError(t, err)
	assert.Equal(t, positions(serial), positions(parallel))
	assert.Equal(t, serial.Version, parallel.Version)
	assert.InDelta(t, serial.Pair, parallel.Pair, 1e-6*max(1, abs(serial.Pair)))
	for i := range serial.Passes {
		assert.Equal(t, serial.Passes[i].Accepted, parallel.Passes[i].Accepted, serial.Passes[i].Move)
	}
	assert.NotEqual(t, serial.RunID, parallel.RunID)
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func TestRunWithMD(t *testing.T) {
	cfg, err := config.Load(mixture)
	require.NoError(t, err)
	cfg.MD = config.MDCfg{Frequency: 1, Steps: 5, TimeStep: 1e-4, ForceCap: 1000, RescaleEvery: 1}
	cfg.Pool = config.PoolCfg{Ranks: 2, Groups: 1}
	require.NoError(t, cfg.Validate())
	sum, err := RunConfig(context.Background(), cfg, &bytes.Buffer{})
	require.NoError(t, err)
	require.Len(t, sum.MD, 2)
	assert.InDelta(t, 300, sum.MD[1].Temperature, 1e-6)
}

func TestCheckpointRestart(t *testing.T) {
	dir := t.TempDir()
	first, err := Run(context.Background(), mixture, Options{Checkpoint: dir, Output: &bytes.Buffer{}})
	require.NoError(t, err)

	store, err := checkpoint.Open(dir, nil)
	require.NoError(t, err)
	snap, err := store.Load("mixture")
	require.NoError(t, err)
	require.NoError(t, store.Close())
	assert.Equal(t, first.RunID, snap.RunID)
	assert.Equal(t, 2, snap.Iteration)
	assert.Equal(t, first.Version, snap.Version)
	assert.Equal(t, positions(first), snap.Positions)
	assert.Contains(t, snap.Steps, "0/AtomShake/translation")

	cfg, err := config.Load(mixture)
	require.NoError(t, err)
	cfg.Checkpoint = config.CheckpointCfg{Path: dir, Every: 1, Restart: true}
	cfg.Iterations = 1
	resumed, err := RunConfig(context.Background(), cfg, &bytes.Buffer{})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, resumed.Version, first.Version)
	// iteration 3 skips the Twist scheduled every second iteration
	assert.Len(t, resumed.Passes, 3)
	assert.Equal(t, 3, resumed.Passes[0].Pass)
}

func TestRunRejectsBadOverrides(t *testing.T) {
	_, err := Run(context.Background(), mixture, Options{Ranks: 2, Groups: 3, Output: &bytes.Buffer{}})
	assert.ErrorIs(t, err, config.ErrInvalid)
	_, err = Run(context.Background(), "testdata/nope.yaml", Options{})
	assert.Error(t, err)
}
