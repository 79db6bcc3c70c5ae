// Package procpool provides the cooperating worker pool: ranks organised into groups, run as
// goroutines, with collective operations scoped by strategy.
package procpool

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

var (
	ErrCollectiveFailed = errors.New("collective operation failed")
	ErrInvalidLayout    = errors.New("invalid pool layout")
)

// ProcessPool is a fixed set of ranks split into contiguous groups.
type ProcessPool struct {
	nRanks  int
	groupOf []int
	groups  [][]int
	scopes  []*rendezvous // 0: whole pool, 1+g: group g
	ops     metric.Int64Counter
}

// New lays out nRanks ranks in nGroups groups.
func New(nRanks, nGroups int) (*ProcessPool, error) {
	if nRanks < 1 || nGroups < 1 || nGroups > nRanks {
		return nil, fmt.Errorf("%w: %d ranks in %d groups", ErrInvalidLayout, nRanks, nGroups)
	}
	p := &ProcessPool{nRanks: nRanks, groupOf: make([]int, nRanks), groups: make([][]int, nGroups)}
	for r := 0; r < nRanks; r++ {
		g := r * nGroups / nRanks
		p.groupOf[r] = g
		p.groups[g] = append(p.groups[g], r)
	}
	p.scopes = make([]*rendezvous, 1+nGroups)
	p.scopes[0] = &rendezvous{size: nRanks}
	for g := range p.groups {
		p.scopes[1+g] = &rendezvous{size: len(p.groups[g])}
	}
	ops, err := otel.Meter("github.com/disorderedmaterials/dissolve-sub015/internal/procpool").Int64Counter(
		"dissolve.pool.collectives",
		metric.WithDescription("Collective operations completed by pool ranks"),
	)
	if err != nil {
		return nil, err
	}
	p.ops = ops
	return p, nil
}

func (p *ProcessPool) NRanks() int  { return p.nRanks }
func (p *ProcessPool) NGroups() int { return len(p.groups) }

// Rank returns the handle for rank index i.
func (p *ProcessPool) Rank(i int) *Rank {
	g := p.groupOf[i]
	r := &Rank{pool: p, Index: i, Group: g}
	for k, j := range p.groups[g] {
		if j == i {
			r.IndexInGroup = k
		}
	}
	return r
}

// Run launches fn once per rank and waits for all of them. The first error cancels the
// context passed to every other rank, so ranks blocked in a collective fail with
// ErrCollectiveFailed.
func (p *ProcessPool) Run(ctx context.Context, fn func(ctx context.Context, r *Rank) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.nRanks; i++ {
		r := p.Rank(i)
		g.Go(func() error { return fn(gctx, r) })
	}
	return g.Wait()
}

// Rank is one cooperating worker of a pool.
type Rank struct {
	pool         *ProcessPool
	Index        int
	Group        int
	IndexInGroup int
}

func (r *Rank) Pool() *ProcessPool { return r.pool }

// Divisions returns how many independent work streams the strategy provides.
func (r *Rank) Divisions(s Strategy) int {
	switch s {
	case Solo:
		return r.pool.nRanks
	case Group:
		return len(r.pool.groups)
	default:
		return 1
	}
}

// DivisionIndex returns the work stream this rank belongs to under s.
func (r *Rank) DivisionIndex(s Strategy) int {
	switch s {
	case Solo:
		return r.Index
	case Group:
		return r.Group
	default:
		return 0
	}
}

// IsLeader reports whether this rank speaks for its division under s.
func (r *Rank) IsLeader(s Strategy) bool {
	switch s {
	case Solo:
		return true
	case Group:
		return r.IndexInGroup == 0
	default:
		return r.Index == 0
	}
}

// ScopeSize returns how many ranks cooperate under s.
func (r *Rank) ScopeSize(s Strategy) int {
	switch s {
	case Group:
		return len(r.pool.groups[r.Group])
	case Pool:
		return r.pool.nRanks
	default:
		return 1
	}
}

// IndexInScope returns this rank's position among the ranks cooperating under s.
func (r *Rank) IndexInScope(s Strategy) int {
	switch s {
	case Group:
		return r.IndexInGroup
	case Pool:
		return r.Index
	default:
		return 0
	}
}

// scope returns the rendezvous key and this rank's slot in it; key -1 means a scope of one.
func (r *Rank) scope(s Strategy) (key, slot int) {
	switch s {
	case Group:
		if len(r.pool.groups[r.Group]) == 1 {
			return -1, 0
		}
		return 1 + r.Group, r.IndexInGroup
	case Pool:
		if r.pool.nRanks == 1 {
			return -1, 0
		}
		return 0, r.Index
	default:
		return -1, 0
	}
}

func (r *Rank) exchange(ctx context.Context, s Strategy, op string, v any) ([]any, error) {
	key, slot := r.scope(s)
	if key < 0 {
		return []any{v}, nil
	}
	out, err := r.pool.scopes[key].exchange(ctx, slot, v)
	if err != nil {
		return nil, fmt.Errorf("%s over %s scope: %w", op, s, err)
	}
	r.pool.ops.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op), attribute.String("scope", s.String())))
	return out, nil
}
