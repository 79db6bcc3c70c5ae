package procpool

import (
	"context"
	"fmt"
	"sync"
)

type round struct {
	slots   []any
	arrived int
	done    chan struct{}
}

// rendezvous gathers one value from every participant of a scope, round after round.
type rendezvous struct {
	mu   sync.Mutex
	size int
	cur  *round
}

func (z *rendezvous) exchange(ctx context.Context, slot int, v any) ([]any, error) {
	z.mu.Lock()
	if z.cur == nil {
		z.cur = &round{slots: make([]any, z.size), done: make(chan struct{})}
	}
	rd := z.cur
	rd.slots[slot] = v
	rd.arrived++
	if rd.arrived == z.size {
		z.cur = nil
		close(rd.done)
	}
	z.mu.Unlock()

	select {
	case <-rd.done:
		return rd.slots, nil
	case <-ctx.Done():
		select {
		case <-rd.done:
			return rd.slots, nil
		default:
		}
		return nil, fmt.Errorf("%w: %w", ErrCollectiveFailed, context.Cause(ctx))
	}
}
