package procpool

import (
	"context"
	"fmt"
	"slices"

	"gonum.org/v1/gonum/floats"
)

// Barrier blocks until every rank in the scope of s has arrived.
func (r *Rank) Barrier(ctx context.Context, s Strategy) error {
	_, err := r.exchange(ctx, s, "barrier", nil)
	return err
}

// AllSum replaces buf with the element-wise sum over the scope, accumulated in rank order so
// every participant obtains the same bits.
func (r *Rank) AllSum(ctx context.Context, s Strategy, buf []float64) error {
	parts, err := r.exchange(ctx, s, "allsum", slices.Clone(buf))
	if err != nil {
		return err
	}
	if len(parts) == 1 {
		return nil
	}
	for k, p := range parts {
		v := p.([]float64)
		if len(v) != len(buf) {
			return fmt.Errorf("%w: allsum length %d from slot %d, want %d", ErrCollectiveFailed, len(v), k, len(buf))
		}
		if k == 0 {
			copy(buf, v)
			continue
		}
		floats.Add(buf, v)
	}
	return nil
}

// AllSumInt is AllSum for integer counters.
func (r *Rank) AllSumInt(ctx context.Context, s Strategy, buf []int) error {
	parts, err := r.exchange(ctx, s, "allsum", slices.Clone(buf))
	if err != nil {
		return err
	}
	if len(parts) == 1 {
		return nil
	}
	clear(buf)
	for k, p := range parts {
		v := p.([]int)
		if len(v) != len(buf) {
			return fmt.Errorf("%w: allsum length %d from slot %d, want %d", ErrCollectiveFailed, len(v), k, len(buf))
		}
		for i := range buf {
			buf[i] += v[i]
		}
	}
	return nil
}

// Broadcast returns the scope leader's v on every participant.
func Broadcast[T any](ctx context.Context, r *Rank, s Strategy, v T) (T, error) {
	parts, err := r.exchange(ctx, s, "broadcast", v)
	if err != nil {
		var zero T
		return zero, err
	}
	return parts[0].(T), nil
}

// AllGather returns every participant's v, ordered by slot within the scope.
func AllGather[T any](ctx context.Context, r *Rank, s Strategy, v T) ([]T, error) {
	parts, err := r.exchange(ctx, s, "allgather", v)
	if err != nil {
		return nil, err
	}
	out := make([]T, len(parts))
	for i, p := range parts {
		out[i] = p.(T)
	}
	return out, nil
}
