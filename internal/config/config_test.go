package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFormatsAgree(t *testing.T) {
	y, err := Load("testdata/argon.yaml")
	require.NoError(t, err)
	tm, err := Load("testdata/argon.toml")
	require.NoError(t, err)
	for _, c := range []*Config{y, tm} {
		assert.Equal(t, "argon", c.Name)
		assert.Equal(t, []float64{20, 20, 20}, c.Box.Lengths)
		assert.Equal(t, AtomTypeCfg{Name: "Ar", Mass: 39.948, Epsilon: 0.979, Sigma: 3.405}, c.AtomTypes[0])
		assert.Equal(t, []float64{0, 0, 0}, c.Species[0].Atoms[0].R)
		assert.Equal(t, ComponentCfg{Species: "Ar", Population: 200}, c.Composition[0])
		assert.Equal(t, PoolCfg{Ranks: 4, Groups: 2}, c.Pool)
		assert.Equal(t, "group", c.Moves[0].Strategy)
		assert.True(t, c.Potential.Shift)
	}
	assert.Equal(t, y.Moves[0].Steps, tm.Moves[0].Steps)

	assert.Equal(t, []float64{90, 90, 90}, y.Box.Angles)
	assert.Equal(t, 85.0, y.Temperature)
	assert.Equal(t, uint64(7), y.Seed)
	assert.Equal(t, "LJ", y.Potential.Form)
	assert.Equal(t, 1, y.Moves[0].Shakes)
	assert.Equal(t, 1, y.Moves[0].Frequency)
	assert.Equal(t, 0.1, y.Moves[0].Steps["translation"].Value)
	assert.Equal(t, MDTimeStep, y.MD.TimeStep)
	assert.Equal(t, "info", y.Telemetry.LogLevel)
	assert.Equal(t, "none", y.Telemetry.MetricExporter)
}

const minimal = `
name: test
box: {lengths: [10.0, 10.0, 10.0]}
cutoff: 4.0
atom_types: [{name: A, mass: 1.0}]
species: [{name: S, atoms: [{type: A, r: [0.0, 0.0, 0.0]}]}]
composition: [{species: S, population: 1}]
moves: [{type: AtomShake}]
`

func decodeYAML(t *testing.T, doc string) error {
	t.Helper()
	_, err := Decode(strings.NewReader(doc), "yaml")
	return err
}

func TestDefaults(t *testing.T) {
	cfg, err := Decode(strings.NewReader(minimal), "yml")
	require.NoError(t, err)
	assert.Equal(t, Temperature, cfg.Temperature)
	assert.Equal(t, uint64(Seed), cfg.Seed)
	assert.Equal(t, Iterations, cfg.Iterations)
	assert.Equal(t, 4.0, cfg.Potential.Range)
	assert.Equal(t, PoolCfg{Ranks: 1, Groups: 1}, cfg.Pool)
	assert.Equal(t, "solo", cfg.Moves[0].Strategy)
}

func TestInvalidConfigs(t *testing.T) {
	for name, doc := range map[string]string{
		"unknown type":        strings.Replace(minimal, "{type: A,", "{type: B,", 1),
		"unknown species":     strings.Replace(minimal, "{species: S,", "{species: T,", 1),
		"short box":           strings.Replace(minimal, "[10.0, 10.0, 10.0]", "[10.0, 10.0]", 1),
		"negative population": strings.Replace(minimal, "population: 1", "population: -1", 1),
		"unknown move":        strings.Replace(minimal, "AtomShake", "Teleport", 1),
		"range above cutoff":  minimal + "potential: {range: 5.0}\n",
		"groups above ranks":  minimal + "pool: {ranks: 2, groups: 3}\n",
		"short bond":          strings.Replace(minimal, "r: [0.0, 0.0, 0.0]}]", "r: [0.0, 0.0, 0.0]}], bonds: [{atoms: [0]}]", 1),
		"checkpoint no path":  minimal + "checkpoint: {every: 2}\n",
		"bad log level":       minimal + "telemetry: {log_level: loud}\n",
	} {
		assert.ErrorIs(t, decodeYAML(t, doc), ErrInvalid, name)
	}
	assert.Error(t, decodeYAML(t, minimal+"bogus: 1\n"))

	_, err := Decode(strings.NewReader(minimal), "json")
	assert.ErrorIs(t, err, ErrUnknownFormat)
	_, err = Load("testdata/missing.yaml")
	assert.Error(t, err)
}
