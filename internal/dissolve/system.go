package dissolve

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/disorderedmaterials/dissolve-sub015/internal/config"
	"github.com/disorderedmaterials/dissolve-sub015/internal/configuration"
	"github.com/disorderedmaterials/dissolve-sub015/internal/geometry"
	"github.com/disorderedmaterials/dissolve-sub015/internal/md"
	"github.com/disorderedmaterials/dissolve-sub015/internal/moves"
	"github.com/disorderedmaterials/dissolve-sub015/internal/potential"
	"github.com/disorderedmaterials/dissolve-sub015/internal/procpool"
	"github.com/disorderedmaterials/dissolve-sub015/internal/species"
)

var ErrUnknownStep = errors.New("unknown step")

// System is the immutable description of a run plus its starting configuration.
type System struct {
	Types     []potential.AtomType
	Species   []*species.Species
	Potential *potential.Map
	Start     *configuration.Configuration
}

func vec(v []float64) geometry.Vec3 { return geometry.Vec3{X: v[0], Y: v[1], Z: v[2]} }

// BuildSystem resolves every section of cfg and generates the starting configuration.
func BuildSystem(cfg *config.Config) (*System, error) {
	s := &System{}
	typeIndex := make(map[string]int, len(cfg.AtomTypes))
	for i, t := range cfg.AtomTypes {
		typeIndex[t.Name] = i
		s.Types = append(s.Types, potential.AtomType{Name: t.Name, Mass: t.Mass, Charge: t.Charge, Epsilon: t.Epsilon, Sigma: t.Sigma})
	}
	speciesIndex := make(map[string]int, len(cfg.Species))
	for i, sc := range cfg.Species {
		sp, err := buildSpecies(sc, typeIndex, s.Types)
		if err != nil {
			return nil, err
		}
		speciesIndex[sc.Name] = i
		s.Species = append(s.Species, sp)
	}

	form, err := potential.FormFromName(cfg.Potential.Form)
	if err != nil {
		return nil, err
	}
	s.Potential, err = potential.NewMap(s.Types, potential.Options{
		Range:         cfg.Potential.Range,
		Form:          form,
		Charges:       cfg.Potential.Charges,
		ShiftAtCutoff: cfg.Potential.Shift,
	})
	if err != nil {
		return nil, err
	}

	box, err := geometry.NewBox(vec(cfg.Box.Lengths), vec(cfg.Box.Angles))
	if err != nil {
		return nil, err
	}
	s.Start, err = configuration.New(cfg.Name, box, cfg.Cutoff, s.Species, cfg.Temperature)
	if err != nil {
		return nil, err
	}
	comp := make([]configuration.Component, 0, len(cfg.Composition))
	for _, c := range cfg.Composition {
		comp = append(comp, configuration.Component{Species: speciesIndex[c.Species], Population: c.Population})
	}
	rng := rand.New(rand.NewPCG(cfg.Seed, generateStream))
	if err := s.Start.Generate(comp, rng); err != nil {
		return nil, err
	}
	return s, nil
}

func buildSpecies(sc config.SpeciesCfg, typeIndex map[string]int, types []potential.AtomType) (*species.Species, error) {
	sp := &species.Species{Name: sc.Name, ElecScale14: sc.Elec14, VdwScale14: sc.Vdw14}
	for _, a := range sc.Atoms {
		sp.Atoms = append(sp.Atoms, species.Atom{Type: typeIndex[a.Type], R: vec(a.R)})
	}
	wrap := func(kind string, i int, err error) error {
		return fmt.Errorf("species %q %s %d: %w", sc.Name, kind, i, err)
	}
	for i, t := range sc.Bonds {
		f, err := species.BondFormFromName(t.Form, t.Params)
		if err != nil {
			return nil, wrap("bond", i, err)
		}
		sp.Bonds = append(sp.Bonds, species.Bond{I: t.Atoms[0], J: t.Atoms[1], Form: f})
	}
	for i, t := range sc.Angles {
		f, err := species.AngleFormFromName(t.Form, t.Params)
		if err != nil {
			return nil, wrap("angle", i, err)
		}
		sp.Angles = append(sp.Angles, species.Angle{I: t.Atoms[0], J: t.Atoms[1], K: t.Atoms[2], Form: f})
	}
	for kind, terms := range map[string]struct {
		cfg []config.TermCfg
		dst *[]species.Torsion
	}{"torsion": {sc.Torsions, &sp.Torsions}, "improper": {sc.Impropers, &sp.Impropers}} {
		for i, t := range terms.cfg {
			f, err := species.TorsionFormFromName(t.Form, t.Params)
			if err != nil {
				return nil, wrap(kind, i, err)
			}
			*terms.dst = append(*terms.dst, species.Torsion{I: t.Atoms[0], J: t.Atoms[1], K: t.Atoms[2], L: t.Atoms[3], Form: f})
		}
	}
	if err := sp.Resolve(types); err != nil {
		return nil, err
	}
	return sp, nil
}

type move interface {
	moves.Move
	Validate() error
}

// scheduled is a move and how often (in iterations) it runs.
type scheduled struct {
	move
	every int
}

// BuildMoves creates a fresh set of moves. Every rank calls it so each owns its step sizes.
func BuildMoves(cfg *config.Config) ([]scheduled, error) {
	out := make([]scheduled, 0, len(cfg.Moves))
	for i, mc := range cfg.Moves {
		strategy, err := procpool.ParseStrategy(mc.Strategy)
		if err != nil {
			return nil, fmt.Errorf("move %d: %w", i, err)
		}
		key := uint64(i + 1)
		var m move
		switch mc.Type {
		case "AtomShake":
			a := moves.NewAtomShake(key)
			a.Strategy, a.ShakesPerAtom = strategy, mc.Shakes
			m = a
		case "GrainShake":
			g := moves.NewGrainShake(key)
			g.Strategy, g.Shakes = strategy, mc.Shakes
			m = g
		case "IntraShake":
			s := moves.NewIntraShake(key)
			s.Strategy, s.Shakes = strategy, mc.Shakes
			m = s
		case "Twist":
			tw := moves.NewTwist(key)
			tw.Strategy, tw.Shakes = strategy, mc.Shakes
			m = tw
		default:
			return nil, fmt.Errorf("move %d: %w: %q", i, moves.ErrInvalidMove, mc.Type)
		}
		if err := applySteps(m, mc.Steps); err != nil {
			return nil, fmt.Errorf("move %d: %w", i, err)
		}
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("move %d: %w", i, err)
		}
		out = append(out, scheduled{move: m, every: mc.Frequency})
	}
	return out, nil
}

func applySteps(m moves.Move, steps map[string]config.StepCfg) error {
	for name, sc := range steps {
		var target *moves.StepSize
		for _, s := range m.Steps() {
			if strings.EqualFold(s.Name, name) {
				target = s
			}
		}
		if target == nil {
			return fmt.Errorf("%w %q for %s", ErrUnknownStep, name, m.Name())
		}
		if sc.Min > 0 {
			target.Min = sc.Min
		}
		if sc.Max > 0 {
			target.Max = sc.Max
		}
		if sc.Target > 0 {
			target.TargetRate = sc.Target
		}
		if sc.Value > 0 {
			target.Value = sc.Value
		}
	}
	return nil
}

// stepKey names a step size in checkpoints.
func stepKey(i int, m moves.Move, s *moves.StepSize) string {
	return fmt.Sprintf("%d/%s/%s", i, m.Name(), s.Name)
}

func mdOptions(cfg *config.Config) md.Options {
	return md.Options{
		Steps:        cfg.MD.Steps,
		TimeStep:     cfg.MD.TimeStep,
		RescaleEvery: cfg.MD.RescaleEvery,
		ForceCap:     cfg.MD.ForceCap,
		Key:          mdStream,
	}
}
