package moves

import (
	"log/slog"
	"slices"
	"sync"
)

type Category uint8

const (
	Accepted    Category = iota // Metropolis accepted
	Rejected                    // Metropolis rejected
	NonFinite                   // energy change was NaN or Inf
	OutOfRegion                 // trial would leave the unit's write cells
	nCategories
)

func (c Category) String() string {
	return [...]string{"accepted", "rejected", "non-finite", "out-of-region"}[c]
}

// TrialRecord is one logged trial, kept only when the log is detailed.
type TrialRecord struct {
	Move     string
	Category Category
	Rank     int
	Unit     int
	DeltaE   float64
}

// TrialLog counts trial outcomes per move across all ranks of a run.
type TrialLog struct {
	mu       sync.Mutex
	counts   map[string]*[nCategories]int
	records  []TrialRecord
	detailed bool
	limit    int
}

// NewTrialLog creates a log. When detailed, up to limit individual trials are kept.
func NewTrialLog(detailed bool, limit int) *TrialLog {
	return &TrialLog{counts: make(map[string]*[nCategories]int), detailed: detailed, limit: limit}
}

func (l *TrialLog) Log(move string, category Category, rank, unit int, delta float64) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.counts[move]
	if !ok {
		c = &[nCategories]int{}
		l.counts[move] = c
	}
	c[category]++
	if l.detailed && len(l.records) < l.limit {
		l.records = append(l.records, TrialRecord{Move: move, Category: category, Rank: rank, Unit: unit, DeltaE: delta})
	}
}

// Count returns how many trials of move fell in category.
func (l *TrialLog) Count(move string, category Category) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.counts[move]; ok {
		return c[category]
	}
	return 0
}

func (l *TrialLog) Records() []TrialRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.records)
}

// Summary logs the per-move outcome counts.
func (l *TrialLog) Summary(logger *slog.Logger) {
	l.mu.Lock()
	defer l.mu.Unlock()
	moves := make([]string, 0, len(l.counts))
	for m := range l.counts {
		moves = append(moves, m)
	}
	slices.Sort(moves)
	for _, m := range moves {
		c := l.counts[m]
		logger.Debug("trial outcomes", "move", m,
			Accepted.String(), c[Accepted], Rejected.String(), c[Rejected],
			NonFinite.String(), c[NonFinite], OutOfRegion.String(), c[OutOfRegion])
	}
}
