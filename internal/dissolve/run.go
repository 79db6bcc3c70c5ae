// Package dissolve runs a configured sequence of Monte Carlo moves and MD over a process pool.
package dissolve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/disorderedmaterials/dissolve-sub015/internal/checkpoint"
	"github.com/disorderedmaterials/dissolve-sub015/internal/config"
	"github.com/disorderedmaterials/dissolve-sub015/internal/configuration"
	"github.com/disorderedmaterials/dissolve-sub015/internal/kernel"
	"github.com/disorderedmaterials/dissolve-sub015/internal/md"
	"github.com/disorderedmaterials/dissolve-sub015/internal/moves"
	"github.com/disorderedmaterials/dissolve-sub015/internal/procpool"
	"github.com/disorderedmaterials/dissolve-sub015/internal/telemetry"
)

// Options override parts of the loaded config; zero values keep the config's settings.
type Options struct {
	Iterations  int
	Ranks       int
	Groups      int
	LogLevel    string
	LogFormat   string
	MetricsAddr string
	Checkpoint  string
	Output      io.Writer // log destination, stderr when nil
}

// Summary is what a run leaves behind.
type Summary struct {
	RunID      string
	Iterations int
	Pair       float64
	Intra      float64
	Version    uint64
	Positions  []configuration.Atom
	Passes     []moves.PassResult
	MD         []md.Result
	Elapsed    time.Duration
}

func (o Options) apply(cfg *config.Config) error {
	if o.Iterations > 0 {
		cfg.Iterations = o.Iterations
	}
	if o.Ranks > 0 {
		cfg.Pool.Ranks = o.Ranks
		if cfg.Pool.Groups > cfg.Pool.Ranks {
			cfg.Pool.Groups = cfg.Pool.Ranks
		}
	}
	if o.Groups > 0 {
		cfg.Pool.Groups = o.Groups
	}
	if o.LogLevel != "" {
		cfg.Telemetry.LogLevel = o.LogLevel
	}
	if o.LogFormat != "" {
		cfg.Telemetry.LogFormat = o.LogFormat
	}
	if o.MetricsAddr != "" {
		cfg.Telemetry.MetricsAddr = o.MetricsAddr
		if cfg.Telemetry.MetricExporter == "none" {
			cfg.Telemetry.MetricExporter = "prometheus"
		}
	}
	if o.Checkpoint != "" {
		cfg.Checkpoint.Path = o.Checkpoint
		if cfg.Checkpoint.Every == 0 {
			cfg.Checkpoint.Every = 1
		}
	}
	return cfg.Validate()
}

// Validate loads and builds everything a run needs without running it.
func Validate(cfgPath string) (*config.Config, *System, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	sys, err := BuildSystem(cfg)
	if err != nil {
		return nil, nil, err
	}
	if _, err := BuildMoves(cfg); err != nil {
		return nil, nil, err
	}
	if _, err := kernel.New(sys.Start, sys.Potential); err != nil {
		return nil, nil, err
	}
	return cfg, sys, nil
}

func Run(ctx context.Context, cfgPath string, opts Options) (*Summary, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := opts.apply(cfg); err != nil {
		return nil, err
	}
	return RunConfig(ctx, cfg, opts.Output)
}

// RunConfig executes a loaded config.
func RunConfig(ctx context.Context, cfg *config.Config, out io.Writer) (*Summary, error) {
	start := time.Now()
	if out == nil {
		out = os.Stderr
	}
	level := cfg.Telemetry.LogLevel
	if Debug {
		level = "debug"
	}
	logger, err := telemetry.NewLogger(out, level, cfg.Telemetry.LogFormat)
	if err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	logger = logger.With("run_id", runID)

	tcfg := telemetry.Config{
		ServiceName:    ServiceName,
		RunID:          runID,
		TraceExporter:  cfg.Telemetry.TraceExporter,
		MetricExporter: cfg.Telemetry.MetricExporter,
		Writer:         out,
	}
	if TraceToStdio {
		tcfg.TraceExporter, tcfg.Writer = "stdout", os.Stderr
	}
	shutdown, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown", "err", err)
		}
	}()
	if cfg.Telemetry.MetricsAddr != "" {
		sctx, stop := context.WithCancel(ctx)
		defer stop()
		go func() {
			if err := telemetry.Serve(sctx, cfg.Telemetry.MetricsAddr); err != nil {
				logger.Warn("metrics server", "addr", cfg.Telemetry.MetricsAddr, "err", err)
			}
		}()
	}

	sys, err := BuildSystem(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("system built",
		"configuration", cfg.Name, "atoms", sys.Start.NAtoms(), "molecules", sys.Start.NMolecules(),
		"cells", sys.Start.Cells().NCells(), "ranks", cfg.Pool.Ranks, "groups", cfg.Pool.Groups)

	var store *checkpoint.Store
	if cfg.Checkpoint.Path != "" {
		if store, err = checkpoint.Open(cfg.Checkpoint.Path, logger); err != nil {
			return nil, err
		}
		defer store.Close()
	}
	var restored *checkpoint.Snapshot
	if store != nil && cfg.Checkpoint.Restart {
		snap, err := store.Load(cfg.Name)
		switch {
		case errors.Is(err, checkpoint.ErrNotFound):
			logger.Info("no checkpoint to restart from", "path", cfg.Checkpoint.Path)
		case err != nil:
			return nil, err
		default:
			if err := sys.Start.SetPositions(snap.Positions); err != nil {
				return nil, fmt.Errorf("restart: %w", err)
			}
			sys.Start.SetVersion(snap.Version)
			restored = &snap
			logger.Info("restarted from checkpoint", "previous_run", snap.RunID, "iteration", snap.Iteration, "version", snap.Version)
		}
	}

	pool, err := procpool.New(cfg.Pool.Ranks, cfg.Pool.Groups)
	if err != nil {
		return nil, err
	}
	var trials *moves.TrialLog
	if Debug {
		trials = moves.NewTrialLog(DetailedLog, TrialLogLimit)
	}
	sum := &Summary{RunID: runID}
	r := &runner{cfg: cfg, sys: sys, store: store, restored: restored, trials: trials, logger: logger, runID: runID, sum: sum}
	if err := pool.Run(ctx, r.rank); err != nil {
		return nil, err
	}
	if trials != nil {
		trials.Summary(logger)
	}
	sum.Elapsed = time.Since(start)
	logger.Info("run complete",
		"iterations", sum.Iterations, "energy", sum.Pair+sum.Intra, "version", sum.Version, "elapsed", sum.Elapsed)
	return sum, nil
}

type runner struct {
	cfg      *config.Config
	sys      *System
	store    *checkpoint.Store
	restored *checkpoint.Snapshot
	trials   *moves.TrialLog
	logger   *slog.Logger
	runID    string
	sum      *Summary // written by rank 0 only
}

// rank is the body every rank executes on its own replica.
func (rn *runner) rank(ctx context.Context, r *procpool.Rank) error {
	cfg := rn.cfg
	lead := r.Index == 0
	logger := rn.logger.With("rank", r.Index)
	if !lead && !Debug {
		logger = slog.New(slog.DiscardHandler)
	}
	replica := rn.sys.Start.Clone()
	k, err := kernel.New(replica, rn.sys.Potential)
	if err != nil {
		return err
	}
	env := moves.NewEnv(r, replica, k, cfg.Seed, rn.trials, logger)
	sched, err := BuildMoves(cfg)
	if err != nil {
		return err
	}
	first := 1
	if rn.restored != nil {
		first = rn.restored.Iteration + 1
		for i, s := range sched {
			for _, st := range s.Steps() {
				if v, ok := rn.restored.Steps[stepKey(i, s, st)]; ok {
					st.Value = v
				}
			}
		}
	}
	var integrator *md.Integrator
	if cfg.MD.Frequency > 0 {
		if integrator, err = md.New(k, mdOptions(cfg), logger); err != nil {
			return err
		}
		integrator.InitialiseVelocities(env.Random)
	}

	tracer := telemetry.Tracer()
	last := first + cfg.Iterations - 1
	for it := first; it <= last; it++ {
		if err := rn.iteration(ctx, tracer, r, env, sched, integrator, it); err != nil {
			return err
		}
	}
	if lead {
		rn.sum.Iterations = cfg.Iterations
		rn.sum.Version = replica.Version()
		rn.sum.Positions = append([]configuration.Atom(nil), replica.Atoms()...)
	}
	return nil
}

func (rn *runner) iteration(ctx context.Context, tracer trace.Tracer, r *procpool.Rank, env *moves.Env, sched []scheduled, integrator *md.Integrator, it int) (err error) {
	ctx, span := tracer.Start(ctx, "iteration", trace.WithAttributes(attribute.Int("iteration", it), attribute.Int("rank", r.Index)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	lead := r.Index == 0

	for i, s := range sched {
		if it%s.every != 0 {
			continue
		}
		pctx, pspan := tracer.Start(ctx, s.Name(), trace.WithAttributes(attribute.Int("move", i)))
		res, err := s.Pass(pctx, env, it)
		if err != nil {
			pspan.RecordError(err)
			pspan.SetStatus(codes.Error, err.Error())
			pspan.End()
			return fmt.Errorf("iteration %d: %w", it, err)
		}
		pspan.SetAttributes(attribute.Int("attempted", res.Attempted), attribute.Int("accepted", res.Accepted))
		pspan.End()
		if lead {
			rn.sum.Passes = append(rn.sum.Passes, res)
			if !SkipMetrics {
				telemetry.ObservePass(res.Move, res.Attempted, res.Accepted, res.Elapsed, res.Steps)
			}
			env.Logger.Info("pass", "iteration", it, "move", res.Move, "attempted", res.Attempted,
				"rate", res.Rate, "delta_e", res.DeltaE, "rounds", res.Rounds, "steps", res.Steps)
		}
	}

	if integrator != nil && it%rn.cfg.MD.Frequency == 0 {
		res, err := integrator.Run(ctx, r)
		if err != nil {
			return fmt.Errorf("iteration %d md: %w", it, err)
		}
		if lead {
			rn.sum.MD = append(rn.sum.MD, res)
			telemetry.ObserveTemperature(res.Temperature)
			env.Logger.Info("md", "iteration", it, "steps", res.Steps, "temperature", res.Temperature, "capped", res.CappedForces)
		}
	}

	pair, intra, err := env.Kernel.TotalEnergy(ctx, r, procpool.Pool)
	if err != nil {
		return err
	}
	if !lead {
		return nil
	}
	rn.sum.Pair, rn.sum.Intra = pair, intra
	telemetry.ObserveEnergy(pair, intra)
	telemetry.ObserveVersion(env.Cfg.Version())
	env.Logger.Info("energy", "iteration", it, "pair", pair, "intramolecular", intra, "version", env.Cfg.Version())

	if rn.store != nil && rn.cfg.Checkpoint.Every > 0 && it%rn.cfg.Checkpoint.Every == 0 {
		snap := checkpoint.Snapshot{
			RunID:     rn.runID,
			Iteration: it,
			Version:   env.Cfg.Version(),
			Positions: env.Cfg.Positions(),
			Steps:     make(map[string]float64),
		}
		for i, s := range sched {
			for _, st := range s.Steps() {
				snap.Steps[stepKey(i, s, st)] = st.Value
			}
		}
		if err := rn.store.Save(rn.cfg.Name, snap); err != nil {
			return err
		}
	}
	return nil
}
