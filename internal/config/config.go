// Package config reads a run description from YAML or TOML.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownFormat = errors.New("unknown config format")
	ErrInvalid       = errors.New("invalid config")
)

// Defaults
const (
	Temperature    = 300.0
	Seed           = 1
	Iterations     = 10
	PotentialForm  = "LJ"
	LogLevel       = "info"
	LogFormat      = "text"
	TraceExporter  = "none"
	MetricExporter = "none"
	MDSteps        = 50
	MDTimeStep     = 5e-4
)

type BoxCfg struct {
	Lengths []float64 `yaml:"lengths" toml:"lengths" validate:"len=3,dive,gt=0"`
	Angles  []float64 `yaml:"angles,omitempty" toml:"angles" validate:"omitempty,len=3,dive,gt=0,lt=180"`
}

type AtomTypeCfg struct {
	Name    string  `yaml:"name" toml:"name" validate:"required"`
	Mass    float64 `yaml:"mass" toml:"mass" validate:"gt=0"`
	Charge  float64 `yaml:"charge,omitempty" toml:"charge"`
	Epsilon float64 `yaml:"epsilon,omitempty" toml:"epsilon" validate:"gte=0"`
	Sigma   float64 `yaml:"sigma,omitempty" toml:"sigma" validate:"gte=0"`
}

type PotentialCfg struct {
	Form    string  `yaml:"form,omitempty" toml:"form"`
	Range   float64 `yaml:"range" toml:"range" validate:"gt=0"`
	Charges bool    `yaml:"charges,omitempty" toml:"charges"`
	Shift   bool    `yaml:"shift,omitempty" toml:"shift"`
}

type SpeciesAtomCfg struct {
	Type string    `yaml:"type" toml:"type" validate:"required"`
	R    []float64 `yaml:"r" toml:"r" validate:"len=3"`
}

// TermCfg is one bond, angle, torsion or improper: its atom indices and functional form.
type TermCfg struct {
	Atoms  []int     `yaml:"atoms" toml:"atoms" validate:"min=2,max=4,dive,gte=0"`
	Form   string    `yaml:"form,omitempty" toml:"form"`
	Params []float64 `yaml:"params,omitempty" toml:"params"`
}

type SpeciesCfg struct {
	Name      string           `yaml:"name" toml:"name" validate:"required"`
	Atoms     []SpeciesAtomCfg `yaml:"atoms" toml:"atoms" validate:"min=1,dive"`
	Bonds     []TermCfg        `yaml:"bonds,omitempty" toml:"bonds" validate:"dive"`
	Angles    []TermCfg        `yaml:"angles,omitempty" toml:"angles" validate:"dive"`
	Torsions  []TermCfg        `yaml:"torsions,omitempty" toml:"torsions" validate:"dive"`
	Impropers []TermCfg        `yaml:"impropers,omitempty" toml:"impropers" validate:"dive"`
	Elec14    float64          `yaml:"elec14,omitempty" toml:"elec14" validate:"gte=0,lte=1"`
	Vdw14     float64          `yaml:"vdw14,omitempty" toml:"vdw14" validate:"gte=0,lte=1"`
}

type ComponentCfg struct {
	Species    string `yaml:"species" toml:"species" validate:"required"`
	Population int    `yaml:"population" toml:"population" validate:"gte=0"`
}

type PoolCfg struct {
	Ranks  int `yaml:"ranks,omitempty" toml:"ranks" validate:"gte=1"`
	Groups int `yaml:"groups,omitempty" toml:"groups" validate:"gte=1,ltefield=Ranks"`
}

// StepCfg overrides parts of a move's step size; zero fields keep the move's default.
type StepCfg struct {
	Value  float64 `yaml:"value,omitempty" toml:"value" validate:"gte=0"`
	Min    float64 `yaml:"min,omitempty" toml:"min" validate:"gte=0"`
	Max    float64 `yaml:"max,omitempty" toml:"max" validate:"gte=0"`
	Target float64 `yaml:"target,omitempty" toml:"target" validate:"gte=0,lte=1"`
}

type MoveCfg struct {
	Type      string             `yaml:"type" toml:"type" validate:"oneof=AtomShake GrainShake IntraShake Twist"`
	Strategy  string             `yaml:"strategy,omitempty" toml:"strategy"`
	Shakes    int                `yaml:"shakes,omitempty" toml:"shakes" validate:"gte=0"`
	Frequency int                `yaml:"frequency,omitempty" toml:"frequency" validate:"gte=0"`
	Steps     map[string]StepCfg `yaml:"steps,omitempty" toml:"steps" validate:"dive"`
}

type MDCfg struct {
	Frequency    int     `yaml:"frequency,omitempty" toml:"frequency" validate:"gte=0"`
	Steps        int     `yaml:"steps,omitempty" toml:"steps" validate:"gte=0"`
	TimeStep     float64 `yaml:"timestep,omitempty" toml:"timestep" validate:"gte=0"`
	RescaleEvery int     `yaml:"rescale_every,omitempty" toml:"rescale_every" validate:"gte=0"`
	ForceCap     float64 `yaml:"force_cap,omitempty" toml:"force_cap" validate:"gte=0"`
}

type CheckpointCfg struct {
	Path    string `yaml:"path,omitempty" toml:"path"`
	Every   int    `yaml:"every,omitempty" toml:"every" validate:"gte=0"`
	Restart bool   `yaml:"restart,omitempty" toml:"restart"`
}

type TelemetryCfg struct {
	LogLevel       string `yaml:"log_level,omitempty" toml:"log_level" validate:"oneof=debug info warn warning error"`
	LogFormat      string `yaml:"log_format,omitempty" toml:"log_format" validate:"oneof=text json"`
	TraceExporter  string `yaml:"trace_exporter,omitempty" toml:"trace_exporter" validate:"oneof=none stdout"`
	MetricExporter string `yaml:"metric_exporter,omitempty" toml:"metric_exporter" validate:"oneof=none prometheus stdout"`
	MetricsAddr    string `yaml:"metrics_addr,omitempty" toml:"metrics_addr"`
}

type Config struct {
	Name        string         `yaml:"name" toml:"name" validate:"required"`
	Box         BoxCfg         `yaml:"box" toml:"box"`
	Cutoff      float64        `yaml:"cutoff" toml:"cutoff" validate:"gt=0"`
	Temperature float64        `yaml:"temperature,omitempty" toml:"temperature" validate:"gt=0"`
	Seed        uint64         `yaml:"seed,omitempty" toml:"seed"`
	Iterations  int            `yaml:"iterations,omitempty" toml:"iterations" validate:"gte=1"`
	AtomTypes   []AtomTypeCfg  `yaml:"atom_types" toml:"atom_types" validate:"min=1,dive"`
	Potential   PotentialCfg   `yaml:"potential" toml:"potential"`
	Species     []SpeciesCfg   `yaml:"species" toml:"species" validate:"min=1,dive"`
	Composition []ComponentCfg `yaml:"composition" toml:"composition" validate:"min=1,dive"`
	Pool        PoolCfg        `yaml:"pool,omitempty" toml:"pool"`
	Moves       []MoveCfg      `yaml:"moves" toml:"moves" validate:"dive"`
	MD          MDCfg          `yaml:"md,omitempty" toml:"md"`
	Checkpoint  CheckpointCfg  `yaml:"checkpoint,omitempty" toml:"checkpoint"`
	Telemetry   TelemetryCfg   `yaml:"telemetry,omitempty" toml:"telemetry"`
}

var validate = validator.New()

// Load reads path, choosing the decoder from its extension, then applies defaults and validates.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	cfg, err := Decode(f, strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Decode reads a config in format ("yaml", "yml" or "toml") from r.
func Decode(r io.Reader, format string) (*Config, error) {
	var cfg Config
	switch strings.ToLower(format) {
	case "yaml", "yml":
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return nil, err
		}
	case "toml":
		if err := toml.NewDecoder(r).Decode(&cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.Temperature <= 0 {
		c.Temperature = Temperature
	}
	if c.Seed == 0 {
		c.Seed = Seed
	}
	if c.Iterations <= 0 {
		c.Iterations = Iterations
	}
	if len(c.Box.Angles) == 0 {
		c.Box.Angles = []float64{90, 90, 90}
	}
	if c.Potential.Form == "" {
		c.Potential.Form = PotentialForm
	}
	if c.Potential.Range <= 0 {
		c.Potential.Range = c.Cutoff
	}
	if c.Pool.Ranks <= 0 {
		c.Pool.Ranks = 1
	}
	if c.Pool.Groups <= 0 {
		c.Pool.Groups = 1
	}
	for i := range c.Moves {
		m := &c.Moves[i]
		if m.Strategy == "" {
			m.Strategy = "solo"
		}
		if m.Shakes <= 0 {
			m.Shakes = 1
		}
		if m.Frequency <= 0 {
			m.Frequency = 1
		}
	}
	if c.MD.Steps <= 0 {
		c.MD.Steps = MDSteps
	}
	if c.MD.TimeStep <= 0 {
		c.MD.TimeStep = MDTimeStep
	}
	if c.Telemetry.LogLevel == "" {
		c.Telemetry.LogLevel = LogLevel
	}
	if c.Telemetry.LogFormat == "" {
		c.Telemetry.LogFormat = LogFormat
	}
	if c.Telemetry.TraceExporter == "" {
		c.Telemetry.TraceExporter = TraceExporter
	}
	if c.Telemetry.MetricExporter == "" {
		c.Telemetry.MetricExporter = MetricExporter
	}
}

// Validate checks struct constraints and cross references between sections.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	types := make(map[string]bool, len(c.AtomTypes))
	for _, t := range c.AtomTypes {
		if types[t.Name] {
			return fmt.Errorf("%w: duplicate atom type %q", ErrInvalid, t.Name)
		}
		types[t.Name] = true
	}
	names := make(map[string]bool, len(c.Species))
	for _, s := range c.Species {
		if names[s.Name] {
			return fmt.Errorf("%w: duplicate species %q", ErrInvalid, s.Name)
		}
		names[s.Name] = true
		for i, a := range s.Atoms {
			if !types[a.Type] {
				return fmt.Errorf("%w: species %q atom %d has unknown type %q", ErrInvalid, s.Name, i, a.Type)
			}
		}
		for kind, terms := range map[string][]TermCfg{"bond": s.Bonds, "angle": s.Angles, "torsion": s.Torsions, "improper": s.Impropers} {
			want := map[string]int{"bond": 2, "angle": 3, "torsion": 4, "improper": 4}[kind]
			for i, t := range terms {
				if len(t.Atoms) != want {
					return fmt.Errorf("%w: species %q %s %d needs %d atoms, has %d", ErrInvalid, s.Name, kind, i, want, len(t.Atoms))
				}
			}
		}
	}
	for _, comp := range c.Composition {
		if !names[comp.Species] {
			return fmt.Errorf("%w: composition refers to unknown species %q", ErrInvalid, comp.Species)
		}
	}
	if c.Potential.Range > c.Cutoff {
		return fmt.Errorf("%w: potential range %g exceeds cutoff %g", ErrInvalid, c.Potential.Range, c.Cutoff)
	}
	if len(c.Moves) == 0 && c.MD.Frequency == 0 {
		return fmt.Errorf("%w: nothing to do, no moves and no md", ErrInvalid)
	}
	if c.Checkpoint.Every > 0 && c.Checkpoint.Path == "" {
		return fmt.Errorf("%w: checkpoint every %d iterations needs a path", ErrInvalid, c.Checkpoint.Every)
	}
	return nil
}
