// Package changestore makes trial moves reversible: it snapshots atom positions before a
// trial, restores them on rejection and broadcasts accepted changes to every replica.
package changestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/disorderedmaterials/dissolve-sub015/internal/configuration"
	"github.com/disorderedmaterials/dissolve-sub015/internal/geometry"
	"github.com/disorderedmaterials/dissolve-sub015/internal/procpool"
)

var (
	ErrAlreadyTargeted = errors.New("target already has a live snapshot")
	ErrNotTargeted     = errors.New("atom has no live snapshot")
)

// Change is one committed atom position.
type Change struct {
	Atom int
	R    geometry.Vec3
}

type entry struct {
	atom     int
	baseline geometry.Vec3
	moved    bool
}

type ChangeStore struct {
	cfg       *configuration.Configuration
	rank      *procpool.Rank
	targets   map[int]int // atom -> index in entries
	entries   []entry
	committed []Change
}

// New creates a store for one rank's replica. A nil rank keeps every operation local.
func New(cfg *configuration.Configuration, r *procpool.Rank) *ChangeStore {
	return &ChangeStore{cfg: cfg, rank: r, targets: make(map[int]int)}
}

func (cs *ChangeStore) NTargets() int   { return len(cs.entries) }
func (cs *ChangeStore) NCommitted() int { return len(cs.committed) }

// Targeted reports whether atom i has a live snapshot.
func (cs *ChangeStore) Targeted(i int) bool {
	_, ok := cs.targets[i]
	return ok
}

// AddAtom snapshots atom i.
func (cs *ChangeStore) AddAtom(i int) error {
	if _, ok := cs.targets[i]; ok {
		return fmt.Errorf("%w: atom %d", ErrAlreadyTargeted, i)
	}
	cs.targets[i] = len(cs.entries)
	cs.entries = append(cs.entries, entry{atom: i, baseline: cs.cfg.Atom(i).R})
	return nil
}

func (cs *ChangeStore) addAll(kind string, id int, atoms []int) error {
	for _, i := range atoms {
		if _, ok := cs.targets[i]; ok {
			return fmt.Errorf("%w: %s %d (atom %d)", ErrAlreadyTargeted, kind, id, i)
		}
	}
	for _, i := range atoms {
		cs.targets[i] = len(cs.entries)
		cs.entries = append(cs.entries, entry{atom: i, baseline: cs.cfg.Atom(i).R})
	}
	return nil
}

// AddCell snapshots every atom currently inside cell ci. Nothing is added on error.
func (cs *ChangeStore) AddCell(ci int) error {
	return cs.addAll("cell", ci, cs.cfg.Cells().Cell(ci).Atoms())
}

// AddMolecule snapshots every atom of molecule m. Nothing is added on error.
func (cs *ChangeStore) AddMolecule(m int) error {
	return cs.addAll("molecule", m, cs.cfg.Molecule(m).Atoms)
}

// UpdateAtom accepts the current position of atom i as its new baseline.
func (cs *ChangeStore) UpdateAtom(i int) error {
	k, ok := cs.targets[i]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotTargeted, i)
	}
	e := &cs.entries[k]
	e.baseline = cs.cfg.Atom(i).R
	e.moved = true
	return nil
}

// UpdateAll accepts every targeted atom's current position.
func (cs *ChangeStore) UpdateAll() {
	for k := range cs.entries {
		e := &cs.entries[k]
		e.baseline = cs.cfg.Atom(e.atom).R
		e.moved = true
	}
}

// Revert restores atom i to its baseline bit for bit. The snapshot stays live.
func (cs *ChangeStore) Revert(i int) error {
	k, ok := cs.targets[i]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotTargeted, i)
	}
	cs.cfg.PlaceAtom(i, cs.entries[k].baseline)
	return nil
}

// RevertAll restores every targeted atom to its baseline and discards the snapshots.
func (cs *ChangeStore) RevertAll() {
	for _, e := range cs.entries {
		cs.cfg.PlaceAtom(e.atom, e.baseline)
		if e.moved {
			cs.committed = append(cs.committed, Change{Atom: e.atom, R: e.baseline})
		}
	}
	cs.reset()
}

// StoreAndReset keeps the current positions, queues every changed atom for distribution and
// clears the snapshots.
func (cs *ChangeStore) StoreAndReset() {
	for _, e := range cs.entries {
		r := cs.cfg.Atom(e.atom).R
		if e.moved || r != e.baseline {
			cs.committed = append(cs.committed, Change{Atom: e.atom, R: r})
		}
	}
	cs.reset()
}

func (cs *ChangeStore) reset() {
	clear(cs.targets)
	cs.entries = cs.entries[:0]
}

// DistributeAndApply is collective over the whole pool: every rank contributes its queued
// changes (only division leaders under s publish, the other members hold identical copies),
// then all of them are applied in rank order to the local replica. The content-version
// increases by one when anything changed anywhere.
func (cs *ChangeStore) DistributeAndApply(ctx context.Context, s procpool.Strategy) error {
	mine := cs.committed
	cs.committed = nil
	all := [][]Change{mine}
	if cs.rank != nil {
		if !cs.rank.IsLeader(s) {
			mine = nil
		}
		var err error
		if all, err = procpool.AllGather(ctx, cs.rank, procpool.Pool, mine); err != nil {
			return err
		}
	}
	n := 0
	for _, changes := range all {
		for _, c := range changes {
			cs.cfg.PlaceAtom(c.Atom, c.R)
		}
		n += len(changes)
	}
	if n > 0 {
		cs.cfg.IncrementVersion()
	}
	return nil
}

// Commit stores the current batch and distributes it.
func (cs *ChangeStore) Commit(ctx context.Context, s procpool.Strategy) error {
	cs.StoreAndReset()
	return cs.DistributeAndApply(ctx, s)
}
