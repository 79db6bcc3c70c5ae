// Package moves implements the Monte Carlo move drivers. Each pass walks the units handed
// out by a distributor: snapshot, propose, evaluate, accept or reject, then commit or revert.
package moves

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/time/rate"

	"github.com/disorderedmaterials/dissolve-sub015/internal/changestore"
	"github.com/disorderedmaterials/dissolve-sub015/internal/configuration"
	"github.com/disorderedmaterials/dissolve-sub015/internal/distributor"
	"github.com/disorderedmaterials/dissolve-sub015/internal/geometry"
	"github.com/disorderedmaterials/dissolve-sub015/internal/kernel"
	"github.com/disorderedmaterials/dissolve-sub015/internal/procpool"
)

var ErrInvalidMove = errors.New("invalid move settings")

// Env is one rank's view of the system: its replica plus the machinery that acts on it.
type Env struct {
	Rank    *procpool.Rank // nil runs serially
	Cfg     *configuration.Configuration
	Kernel  *kernel.Kernel
	Changes *changestore.ChangeStore
	Random  *procpool.RandomBuffer
	Log     *TrialLog
	Logger  *slog.Logger

	terms []float64
}

// NewEnv wires a replica for rank r. seed drives every random stream of the run.
func NewEnv(r *procpool.Rank, cfg *configuration.Configuration, k *kernel.Kernel, seed uint64, log *TrialLog, logger *slog.Logger) *Env {
	if logger == nil {
		logger = slog.Default()
	}
	idx := 0
	if r != nil {
		idx = r.Index
	}
	return &Env{
		Rank:    r,
		Cfg:     cfg,
		Kernel:  k,
		Changes: changestore.New(cfg, r),
		Random:  procpool.NewRandomBuffer(seed, r),
		Log:     log,
		Logger:  logger.With("component", "moves", "rank", idx),
	}
}

func (e *Env) rankIndex() int {
	if e.Rank == nil {
		return 0
	}
	return e.Rank.Index
}

// Move is one Monte Carlo move type. Every rank owns its own instance; step sizes evolve
// identically everywhere because they adapt on pool-reduced statistics.
type Move interface {
	Name() string
	Pass(ctx context.Context, env *Env, pass int) (PassResult, error)
	Steps() []*StepSize
}

// unit holds the state of one assigned work unit.
type unit struct {
	id     int
	region []int
	scope  procpool.Strategy // ranks sharing this unit
	stats  Stats
}

func (u *unit) inRegion(ci int) bool {
	_, ok := slices.BinarySearch(u.region, ci)
	return ok
}

// pass drives the distributor loop shared by every move. process handles one unit. When several
// ranks share a unit they make identical trials and split each energy evaluation between them;
// the statistics count only on the division leader.
func pass(ctx context.Context, env *Env, name string, key uint64, n int, d *distributor.Distributor, process func(u *unit) error) (Stats, error) {
	var total Stats
	d.Reset = env.Random.Reset
	progress := rate.Sometimes{Interval: 2 * time.Second}
	done := 0
	for {
		id, status, err := d.Next()
		if err != nil {
			return total, err
		}
		switch status {
		case distributor.Assigned:
			env.Random.Seek(key, uint64(n), uint64(id), uint64(d.Visit(id)))
			u := &unit{id: id, region: d.Region(id), scope: d.Active()}
			if err := process(u); err != nil {
				return total, fmt.Errorf("%s unit %d: %w", name, id, err)
			}
			if env.Rank == nil || env.Rank.IsLeader(d.Active()) {
				total.merge(&u.stats)
			}
			if err := d.Release(id); err != nil {
				return total, err
			}
			done++
			progress.Do(func() {
				env.Logger.Debug("pass progress", "move", name, "pass", n, "units", done, "of", d.NUnits())
			})
		case distributor.NoneAvailable:
			if err := env.Changes.DistributeAndApply(ctx, d.Active()); err != nil {
				return total, err
			}
		case distributor.AllComplete:
			return total, total.reduce(ctx, env.Rank)
		}
	}
}

// sharedEnergy evaluates energy terms split across the ranks that run the same unit and sums
// them in order, so every rank sees the bits a single rank would compute alone.
func (e *Env) sharedEnergy(ctx context.Context, u *unit, terms func(stride, offset int, buf []float64) []float64) (float64, error) {
	stride, offset := 1, 0
	if e.Rank != nil {
		stride, offset = e.Rank.ScopeSize(u.scope), e.Rank.IndexInScope(u.scope)
	}
	e.terms = terms(stride, offset, e.terms)
	if stride > 1 {
		if err := e.Rank.AllSum(ctx, u.scope, e.terms); err != nil {
			return 0, err
		}
	}
	sum := 0.0
	for _, t := range e.terms {
		sum += t
	}
	return sum, nil
}

func (e *Env) atomEnergy(ctx context.Context, u *unit, i int) (float64, error) {
	return e.sharedEnergy(ctx, u, func(stride, offset int, buf []float64) []float64 {
		return e.Kernel.AtomEnergyTerms(i, stride, offset, buf)
	})
}

func (e *Env) moleculeEnergy(ctx context.Context, u *unit, m int) (float64, error) {
	return e.sharedEnergy(ctx, u, func(stride, offset int, buf []float64) []float64 {
		return e.Kernel.MoleculeEnergyTerms(m, stride, offset, buf)
	})
}

// trial places atoms at the proposed (unfolded) positions when every folded position stays
// inside the unit's write cells.
func (e *Env) trial(u *unit, atoms []int, proposed []geometry.Vec3) bool {
	box, ca := e.Cfg.Box(), e.Cfg.Cells()
	for k := range proposed {
		proposed[k] = box.Fold(proposed[k])
		if !u.inRegion(ca.CellIndexOf(proposed[k])) {
			return false
		}
	}
	for k, i := range atoms {
		e.Cfg.PlaceAtom(i, proposed[k])
	}
	return true
}

// settle applies the Metropolis test to a placed trial and commits or reverts its atoms.
func (e *Env) settle(name string, u *unit, atoms []int, delta float64, kinds ...Kind) error {
	rnd := e.Random.Random()
	category := Rejected
	switch {
	case !geometry.IsFinite(delta):
		category = NonFinite
	case Accept(delta, e.Cfg.Temperature, rnd):
		category = Accepted
	}
	u.stats.attempt(kinds...)
	e.Log.Log(name, category, e.rankIndex(), u.id, delta)
	if category == Accepted {
		u.stats.accept(delta, kinds...)
		for _, i := range atoms {
			if err := e.Changes.UpdateAtom(i); err != nil {
				return err
			}
		}
		return nil
	}
	for _, i := range atoms {
		if err := e.Changes.Revert(i); err != nil {
			return err
		}
	}
	return nil
}

// outOfRegion records a trial refused before evaluation.
func (e *Env) outOfRegion(name string, u *unit, kinds ...Kind) {
	e.Random.Random()
	u.stats.attempt(kinds...)
	e.Log.Log(name, OutOfRegion, e.rankIndex(), u.id, 0)
}

func adaptAll(res *PassResult, stats *Stats, steps map[Kind]*StepSize) {
	res.Steps = make(map[string]float64, len(steps))
	for k, s := range steps {
		c := stats.ByKind[k]
		s.Adapt(c.Attempted, c.Accepted)
		res.Steps[s.Name] = s.Value
	}
}

func validateStep(move string, s *StepSize) error {
	if !(s.Min > 0) || s.Max < s.Min || s.Value < s.Min || s.Value > s.Max {
		return fmt.Errorf("%w: %s %s step %g outside [%g, %g]", ErrInvalidMove, move, s.Name, s.Value, s.Min, s.Max)
	}
	if !(s.TargetRate > 0 && s.TargetRate <= 1) {
		return fmt.Errorf("%w: %s %s target rate %g", ErrInvalidMove, move, s.Name, s.TargetRate)
	}
	return nil
}
