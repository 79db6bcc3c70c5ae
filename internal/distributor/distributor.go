// Package distributor hands out spatial work units (cells or molecules) to the ranks of a
// pool so that no two ranks ever hold units whose neighbourhoods overlap.
//
// Work proceeds in rounds. Every rank computes the same round from its own replica: the
// remaining units are scanned in index order and a unit is taken when its footprint is
// compatible with every unit already taken. Round composition depends only on the replica
// state, never on the number of ranks, so a pass makes the same moves on one rank or many.
package distributor

import (
	"errors"
	"fmt"
	"slices"

	"github.com/disorderedmaterials/dissolve-sub015/internal/cells"
	"github.com/disorderedmaterials/dissolve-sub015/internal/configuration"
	"github.com/disorderedmaterials/dissolve-sub015/internal/procpool"
)

var (
	ErrUnitNotReleased = errors.New("previous unit not released")
	ErrNotHeld         = errors.New("unit not held")
)

// Status is the outcome of Next.
type Status uint8

const (
	Assigned      Status = iota // a unit was handed out
	NoneAvailable               // this rank has nothing more in the current round
	AllComplete                 // every unit has been processed
)

func (s Status) String() string {
	switch s {
	case Assigned:
		return "assigned"
	case NoneAvailable:
		return "none-available"
	default:
		return "all-complete"
	}
}

// State of the distributor's life cycle.
type State uint8

const (
	Idle State = iota
	Assigning
	Complete
)

// Footprint is the set of cells a unit writes (W) and reads without writing (R).
type Footprint struct {
	W, R []int
}

type Distributor struct {
	name         string
	cells        *cells.Array
	rank         *procpool.Rank
	strategy     procpool.Strategy
	active       procpool.Strategy
	willModify   bool
	allowRepeats bool
	nUnits       int
	unitCells    func(u int) []int

	// Reset is called with the new strategy whenever a round runs under a strategy different
	// from the previous round's, so random streams can be repartitioned.
	Reset func(procpool.Strategy)

	state   State
	done    []bool
	nDone   int
	visits  []int
	rounds  int
	stamp   int
	locked  []int
	read    []int
	queue   []int
	regions map[int][]int
	taken   []int
	cursor  int
	held    int
	inRound bool
}

func newDistributor(name string, ca *cells.Array, r *procpool.Rank, s procpool.Strategy, nUnits int, willModify, allowRepeats bool, unitCells func(int) []int) *Distributor {
	return &Distributor{
		name:         name,
		cells:        ca,
		rank:         r,
		strategy:     s,
		active:       s,
		willModify:   willModify,
		allowRepeats: allowRepeats,
		nUnits:       nUnits,
		unitCells:    unitCells,
		done:         make([]bool, nUnits),
		visits:       make([]int, nUnits),
		locked:       make([]int, ca.NCells()),
		read:         make([]int, ca.NCells()),
		regions:      make(map[int][]int),
		held:         -1,
	}
}

// NewCellDistributor distributes the cells of cfg.
func NewCellDistributor(cfg *configuration.Configuration, r *procpool.Rank, s procpool.Strategy, willModify, allowRepeats bool) *Distributor {
	ca := cfg.Cells()
	return newDistributor("cells", ca, r, s, ca.NCells(), willModify, allowRepeats, func(u int) []int { return []int{u} })
}

// NewMoleculeDistributor distributes the molecules of cfg. A molecule occupies every cell
// holding one of its atoms at the start of the round.
func NewMoleculeDistributor(cfg *configuration.Configuration, r *procpool.Rank, s procpool.Strategy, willModify, allowRepeats bool) *Distributor {
	return newDistributor("molecules", cfg.Cells(), r, s, cfg.NMolecules(), willModify, allowRepeats, cfg.CellsOfMolecule)
}

func (d *Distributor) State() State                { return d.state }
func (d *Distributor) Strategy() procpool.Strategy { return d.strategy }
func (d *Distributor) NUnits() int                 { return d.nUnits }
func (d *Distributor) Rounds() int                 { return d.rounds }

// Active returns the strategy of the current (or just finished) round.
func (d *Distributor) Active() procpool.Strategy { return d.active }

// Visit returns how many times unit u has been handed out before the current assignment.
func (d *Distributor) Visit(u int) int { return d.visits[u] - 1 }

// Region returns the write cells of a unit handed out in the current round.
func (d *Distributor) Region(u int) []int { return d.regions[u] }

// Footprint computes the write and read cells of unit u from the current replica.
func (d *Distributor) Footprint(u int) Footprint {
	var w, r []int
	add := func(set []int, c int) []int {
		if pos, ok := slices.BinarySearch(set, c); !ok {
			set = slices.Insert(set, pos, c)
		}
		return set
	}
	reach := []int{}
	for _, c := range d.unitCells(u) {
		for _, n := range d.cells.Neighbours(c) {
			reach = add(reach, n.Cell)
		}
	}
	if !d.willModify {
		return Footprint{R: reach}
	}
	w = reach
	for _, c := range w {
		for _, n := range d.cells.Neighbours(c) {
			if _, ok := slices.BinarySearch(w, n.Cell); !ok {
				r = add(r, n.Cell)
			}
		}
	}
	return Footprint{W: w, R: r}
}

func (d *Distributor) compatible(f Footprint) bool {
	for _, c := range f.W {
		if d.locked[c] == d.stamp || d.read[c] == d.stamp {
			return false
		}
	}
	for _, c := range f.R {
		if d.locked[c] == d.stamp {
			return false
		}
	}
	return true
}

func (d *Distributor) mark(f Footprint) {
	for _, c := range f.W {
		d.locked[c] = d.stamp
	}
	for _, c := range f.R {
		d.read[c] = d.stamp
	}
}

func (d *Distributor) divisions(s procpool.Strategy) (n, index int) {
	if d.rank == nil {
		return 1, 0
	}
	return d.rank.Divisions(s), d.rank.DivisionIndex(s)
}

// startRound computes the next round. It reports false when no units remain.
func (d *Distributor) startRound() bool {
	if d.nDone == d.nUnits {
		return false
	}
	d.stamp++
	d.taken = d.taken[:0]
	clear(d.regions)
	for u := 0; u < d.nUnits; u++ {
		if d.done[u] {
			continue
		}
		f := d.Footprint(u)
		if d.compatible(f) {
			d.taken = append(d.taken, u)
			d.regions[u] = f.W
			d.mark(f)
		}
	}

	prev := d.active
	d.active = d.strategy
	nDiv, _ := d.divisions(d.strategy)
	if d.allowRepeats && len(d.taken) < nDiv {
		d.fillRepeats(nDiv)
	}
	if len(d.taken) < nDiv {
		d.active = procpool.Pool
	}
	if d.active != prev && d.Reset != nil {
		d.Reset(d.active)
	}

	nDiv, div := d.divisions(d.active)
	d.queue = d.queue[:0]
	for k, u := range d.taken {
		if k%nDiv == div {
			d.queue = append(d.queue, u)
		}
	}
	for _, u := range d.taken {
		d.visits[u]++
	}
	d.cursor = 0
	d.rounds++
	d.inRound = true
	return true
}

// fillRepeats adds already completed units compatible with the round until every division
// has work or no candidate is left.
func (d *Distributor) fillRepeats(nDiv int) {
	for u := 0; u < d.nUnits && len(d.taken) < nDiv; u++ {
		if !d.done[u] {
			continue
		}
		f := d.Footprint(u)
		if d.compatible(f) {
			d.taken = append(d.taken, u)
			d.regions[u] = f.W
			d.mark(f)
		}
	}
}

// Next hands out the next unit of this rank's share of the current round. NoneAvailable is
// returned exactly once per round; the caller must then join the change broadcast before
// asking again.
func (d *Distributor) Next() (int, Status, error) {
	if d.held >= 0 {
		return d.held, Assigned, fmt.Errorf("%w: %s unit %d", ErrUnitNotReleased, d.name, d.held)
	}
	if d.state == Complete {
		return -1, AllComplete, nil
	}
	if !d.inRound {
		if !d.startRound() {
			d.state = Complete
			return -1, AllComplete, nil
		}
		d.state = Assigning
	}
	if d.cursor < len(d.queue) {
		u := d.queue[d.cursor]
		d.cursor++
		d.held = u
		return u, Assigned, nil
	}
	for _, u := range d.taken {
		if !d.done[u] {
			d.done[u] = true
			d.nDone++
		}
	}
	d.inRound = false
	return -1, NoneAvailable, nil
}

// Release returns the held unit.
func (d *Distributor) Release(u int) error {
	if d.held != u {
		return fmt.Errorf("%w: %s unit %d", ErrNotHeld, d.name, u)
	}
	d.held = -1
	return nil
}
