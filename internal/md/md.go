// Package md integrates Newton's equations for a configuration replica with velocity Verlet.
// Units: Å, ps, amu and kJ/mol, so accelerations pick up a factor of 100.
package md

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/disorderedmaterials/dissolve-sub015/internal/configuration"
	"github.com/disorderedmaterials/dissolve-sub015/internal/geometry"
	"github.com/disorderedmaterials/dissolve-sub015/internal/kernel"
	"github.com/disorderedmaterials/dissolve-sub015/internal/procpool"
)

// BoltzmannKJ is the Boltzmann constant in kJ/mol/K.
const BoltzmannKJ = 0.008314472

// unitFactor converts kJ/mol/Å/amu into Å/ps² (and amu Å²/ps² into 0.01 kJ/mol).
const unitFactor = 100.0

var (
	ErrInvalidOptions = errors.New("invalid md options")
	ErrUnstable       = errors.New("md integration became unstable")
)

type Options struct {
	Steps    int
	TimeStep float64 // ps
	// RescaleEvery rescales velocities to the configuration temperature every n steps (0 = NVE).
	RescaleEvery int
	// ForceCap limits the magnitude of any single atomic force (kJ/mol/Å, 0 = no cap).
	ForceCap float64
	Key      uint64
}

func DefaultOptions() Options {
	return Options{Steps: 50, TimeStep: 5e-4, Key: 0x6d64}
}

func (o Options) Validate() error {
	if o.Steps < 1 {
		return fmt.Errorf("%w: steps %d", ErrInvalidOptions, o.Steps)
	}
	if !(o.TimeStep > 0) {
		return fmt.Errorf("%w: time step %g", ErrInvalidOptions, o.TimeStep)
	}
	if o.RescaleEvery < 0 || o.ForceCap < 0 {
		return fmt.Errorf("%w: rescale %d, force cap %g", ErrInvalidOptions, o.RescaleEvery, o.ForceCap)
	}
	return nil
}

// Result summarises one MD run; identical on every rank.
type Result struct {
	Steps           int
	KineticEnergy   float64
	Temperature     float64
	MeanTemperature float64
	StdTemperature  float64
	CappedForces    int
	Elapsed         time.Duration
}

// Integrator holds the dynamical state of one replica.
type Integrator struct {
	opts   Options
	cfg    *configuration.Configuration
	kernel *kernel.Kernel
	mass   []float64
	v      []geometry.Vec3
	f      []geometry.Vec3
	logger *slog.Logger
}

func New(k *kernel.Kernel, opts Options, logger *slog.Logger) (*Integrator, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg := k.Configuration()
	pm := k.PotentialMap()
	mass := make([]float64, cfg.NAtoms())
	for i := range mass {
		mass[i] = pm.Type(cfg.Atom(i).Type).Mass
		if !(mass[i] > 0) {
			return nil, fmt.Errorf("%w: atom %d has mass %g", ErrInvalidOptions, i, mass[i])
		}
	}
	return &Integrator{
		opts:   opts,
		cfg:    cfg,
		kernel: k,
		mass:   mass,
		v:      make([]geometry.Vec3, len(mass)),
		f:      make([]geometry.Vec3, len(mass)),
		logger: logger.With("component", "md"),
	}, nil
}

func (in *Integrator) Velocities() []geometry.Vec3 { return in.v }

// KineticEnergy returns the kinetic energy in kJ/mol.
func (in *Integrator) KineticEnergy() float64 {
	ke := 0.0
	for i, v := range in.v {
		ke += 0.5 * in.mass[i] * v.Len2()
	}
	return ke / unitFactor
}

// Temperature returns the instantaneous temperature from the kinetic energy.
func (in *Integrator) Temperature() float64 {
	if len(in.v) == 0 {
		return 0
	}
	return 2 * in.KineticEnergy() / (3 * float64(len(in.v)) * BoltzmannKJ)
}

// InitialiseVelocities draws Maxwell-Boltzmann velocities at the configuration temperature,
// removes the centre-of-mass drift and rescales to the exact target. rnd is seeked first so every
// rank draws the same velocities.
func (in *Integrator) InitialiseVelocities(rnd *procpool.RandomBuffer) {
	rnd.Seek(in.opts.Key, in.cfg.Version())
	rng := rnd.Rand()
	for i := range in.v {
		sd := math.Sqrt(BoltzmannKJ * in.cfg.Temperature * unitFactor / in.mass[i])
		in.v[i] = geometry.Vec3{X: rng.NormFloat64() * sd, Y: rng.NormFloat64() * sd, Z: rng.NormFloat64() * sd}
	}
	in.removeDrift()
	in.rescale()
}

func (in *Integrator) removeDrift() {
	var p geometry.Vec3
	total := 0.0
	for i, v := range in.v {
		p = p.Add(v.Mul(in.mass[i]))
		total += in.mass[i]
	}
	if total == 0 {
		return
	}
	drift := p.Div(total)
	for i := range in.v {
		in.v[i] = in.v[i].Sub(drift)
	}
}

func (in *Integrator) rescale() {
	t := in.Temperature()
	if !(t > 0) {
		return
	}
	s := math.Sqrt(in.cfg.Temperature / t)
	for i := range in.v {
		in.v[i] = in.v[i].Mul(s)
	}
}

// forces recomputes the total force on every atom, reduced over the pool.
func (in *Integrator) forces(ctx context.Context, r *procpool.Rank) (capped int, err error) {
	clear(in.f)
	if err := in.kernel.TotalForces(ctx, r, procpool.Pool, in.f); err != nil {
		return 0, err
	}
	for i, f := range in.f {
		if !f.IsFinite() {
			return capped, fmt.Errorf("%w: non-finite force on atom %d", ErrUnstable, i)
		}
		if in.opts.ForceCap > 0 {
			if l := f.Len(); l > in.opts.ForceCap {
				in.f[i] = f.Mul(in.opts.ForceCap / l)
				capped++
			}
		}
	}
	return capped, nil
}

// Run advances the replica by opts.Steps. Every rank integrates its own replica with identical
// pool-reduced forces, so replicas stay in lockstep without exchanging positions.
func (in *Integrator) Run(ctx context.Context, r *procpool.Rank) (Result, error) {
	start := time.Now()
	dt := in.opts.TimeStep
	res := Result{}
	capped, err := in.forces(ctx, r)
	if err != nil {
		return res, err
	}
	res.CappedForces += capped
	temps := make([]float64, 0, in.opts.Steps)
	for step := 1; step <= in.opts.Steps; step++ {
		for i := range in.v {
			a := in.f[i].Mul(unitFactor / in.mass[i])
			in.v[i] = in.v[i].Add(a.Mul(0.5 * dt))
			in.cfg.MoveAtom(i, in.cfg.Atom(i).R.Add(in.v[i].Mul(dt)))
		}
		in.cfg.IncrementVersion()
		if capped, err = in.forces(ctx, r); err != nil {
			return res, fmt.Errorf("step %d: %w", step, err)
		}
		res.CappedForces += capped
		for i := range in.v {
			in.v[i] = in.v[i].Add(in.f[i].Mul(0.5 * dt * unitFactor / in.mass[i]))
		}
		if in.opts.RescaleEvery > 0 && step%in.opts.RescaleEvery == 0 {
			in.rescale()
		}
		t := in.Temperature()
		if !geometry.IsFinite(t) {
			return res, fmt.Errorf("%w: temperature at step %d", ErrUnstable, step)
		}
		temps = append(temps, t)
		res.Steps = step
	}
	res.KineticEnergy = in.KineticEnergy()
	res.Temperature = in.Temperature()
	if len(temps) > 1 {
		res.MeanTemperature, res.StdTemperature = stat.MeanStdDev(temps, nil)
	} else {
		res.MeanTemperature = temps[0]
	}
	res.Elapsed = time.Since(start)
	in.logger.Debug("md complete", "steps", res.Steps, "temperature", res.Temperature, "capped", res.CappedForces)
	return res, nil
}
