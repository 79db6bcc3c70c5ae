package moves

import (
	"context"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/disorderedmaterials/dissolve-sub015/internal/procpool"
)

// Kind labels the sub-move a trial exercised, so each step size adapts on its own counts.
type Kind uint8

const (
	Translation Kind = iota
	Rotation
	BondStretch
	AngleBend
	TorsionTwist
	nKinds
)

func (k Kind) String() string {
	return [...]string{"translation", "rotation", "bond", "angle", "torsion"}[k]
}

type Counter struct{ Attempted, Accepted int }

func (c Counter) Rate() float64 {
	if c.Attempted == 0 {
		return 0
	}
	return float64(c.Accepted) / float64(c.Attempted)
}

// Stats accumulates trial outcomes for one pass.
type Stats struct {
	Total  Counter
	ByKind [nKinds]Counter
	DeltaE float64
	deltas []float64 // accepted energy changes
}

func (s *Stats) attempt(kinds ...Kind) {
	s.Total.Attempted++
	for _, k := range kinds {
		s.ByKind[k].Attempted++
	}
}

func (s *Stats) accept(delta float64, kinds ...Kind) {
	s.Total.Accepted++
	for _, k := range kinds {
		s.ByKind[k].Accepted++
	}
	s.DeltaE += delta
	s.deltas = append(s.deltas, delta)
}

func (s *Stats) merge(o *Stats) {
	s.Total.Attempted += o.Total.Attempted
	s.Total.Accepted += o.Total.Accepted
	for k := range s.ByKind {
		s.ByKind[k].Attempted += o.ByKind[k].Attempted
		s.ByKind[k].Accepted += o.ByKind[k].Accepted
	}
	s.DeltaE += o.DeltaE
	s.deltas = append(s.deltas, o.deltas...)
}

// reduce sums the counters of every rank over the whole pool.
func (s *Stats) reduce(ctx context.Context, r *procpool.Rank) error {
	if r == nil {
		return nil
	}
	ints := make([]int, 0, 2+2*nKinds)
	ints = append(ints, s.Total.Attempted, s.Total.Accepted)
	for _, c := range s.ByKind {
		ints = append(ints, c.Attempted, c.Accepted)
	}
	if err := r.AllSumInt(ctx, procpool.Pool, ints); err != nil {
		return err
	}
	s.Total = Counter{ints[0], ints[1]}
	for k := range s.ByKind {
		s.ByKind[k] = Counter{ints[2+2*k], ints[3+2*k]}
	}
	parts, err := procpool.AllGather(ctx, r, procpool.Pool, s.deltas)
	if err != nil {
		return err
	}
	s.deltas = s.deltas[:0:0]
	for _, p := range parts {
		s.deltas = append(s.deltas, p...)
	}
	buf := []float64{s.DeltaE}
	if err := r.AllSum(ctx, procpool.Pool, buf); err != nil {
		return err
	}
	s.DeltaE = buf[0]
	return nil
}

// PassResult summarises one move pass, identical on every rank.
type PassResult struct {
	Move      string
	Pass      int
	Attempted int
	Accepted  int
	Rate      float64
	DeltaE    float64
	MeanDelta float64
	StdDelta  float64
	Rounds    int
	Elapsed   time.Duration
	Steps     map[string]float64
}

func (s *Stats) result(move string, pass int) PassResult {
	res := PassResult{
		Move:      move,
		Pass:      pass,
		Attempted: s.Total.Attempted,
		Accepted:  s.Total.Accepted,
		Rate:      s.Total.Rate(),
		DeltaE:    s.DeltaE,
	}
	if len(s.deltas) > 1 {
		res.MeanDelta, res.StdDelta = stat.MeanStdDev(s.deltas, nil)
	} else if len(s.deltas) == 1 {
		res.MeanDelta = s.deltas[0]
	}
	return res
}
