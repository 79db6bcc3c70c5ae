// Package checkpoint persists configuration snapshots in a badger key/value store.
//
// Keys are "<configuration>/<field>"; numeric values are little-endian IEEE-754 bits.
package checkpoint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/disorderedmaterials/dissolve-sub015/internal/geometry"
)

var (
	ErrNotFound = errors.New("checkpoint not found")
	ErrCorrupt  = errors.New("corrupt checkpoint")
)

// Snapshot is everything needed to resume a configuration.
type Snapshot struct {
	RunID     string
	Iteration int
	Version   uint64
	SavedAt   time.Time
	Positions []geometry.Vec3
	// Steps holds adaptive step sizes keyed by "<move index>/<move>/<step>".
	Steps map[string]float64
}

type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

type badgerLogger struct{ logger *slog.Logger }

func (l *badgerLogger) Errorf(format string, args ...any)   { l.logger.Error(fmt.Sprintf(format, args...)) }
func (l *badgerLogger) Warningf(format string, args ...any) { l.logger.Warn(fmt.Sprintf(format, args...)) }
func (l *badgerLogger) Infof(format string, args ...any)    { l.logger.Debug(fmt.Sprintf(format, args...)) }
func (l *badgerLogger) Debugf(format string, args ...any)   { l.logger.Debug(fmt.Sprintf(format, args...)) }

// Open opens (creating if needed) the store at path. An empty path keeps everything in memory.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "checkpoint")
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o750); err != nil {
			return nil, fmt.Errorf("create checkpoint directory %s: %w", path, err)
		}
		opts = badger.DefaultOptions(path).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1).WithLogger(&badgerLogger{logger: logger})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func key(name, field string) []byte { return []byte(name + "/" + field) }

func putUint64(b []byte, v uint64) []byte { return binary.LittleEndian.AppendUint64(b, v) }

func putFloat(b []byte, v float64) []byte { return putUint64(b, math.Float64bits(v)) }

// Save replaces the snapshot of configuration name in one transaction.
func (s *Store) Save(name string, snap Snapshot) error {
	pos := make([]byte, 0, 24*len(snap.Positions))
	for _, r := range snap.Positions {
		pos = putFloat(putFloat(putFloat(pos, r.X), r.Y), r.Z)
	}
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now()
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := deletePrefix(txn, key(name, "steps/")); err != nil {
			return err
		}
		entries := map[string][]byte{
			"run":       []byte(snap.RunID),
			"iteration": putUint64(nil, uint64(snap.Iteration)),
			"version":   putUint64(nil, snap.Version),
			"saved":     putUint64(nil, uint64(snap.SavedAt.UnixNano())),
			"positions": pos,
		}
		for k, v := range snap.Steps {
			entries["steps/"+k] = putFloat(nil, v)
		}
		for k, v := range entries {
			if err := txn.Set(key(name, k), v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", name, err)
	}
	s.logger.Debug("checkpoint saved", "configuration", name, "iteration", snap.Iteration, "atoms", len(snap.Positions))
	return nil
}

func deletePrefix(txn *badger.Txn, prefix []byte) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// Load returns the snapshot of configuration name, or ErrNotFound.
func (s *Store) Load(name string) (Snapshot, error) {
	var snap Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		get := func(field string) ([]byte, error) {
			item, err := txn.Get(key(name, field))
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
			}
			if err != nil {
				return nil, err
			}
			return item.ValueCopy(nil)
		}
		run, err := get("run")
		if err != nil {
			return err
		}
		snap.RunID = string(run)
		nums := make([]uint64, 3)
		for i, field := range []string{"iteration", "version", "saved"} {
			v, err := get(field)
			if err != nil {
				return err
			}
			if len(v) != 8 {
				return fmt.Errorf("%w: %s/%s has %d bytes", ErrCorrupt, name, field, len(v))
			}
			nums[i] = binary.LittleEndian.Uint64(v)
		}
		snap.Iteration, snap.Version, snap.SavedAt = int(nums[0]), nums[1], time.Unix(0, int64(nums[2]))
		pos, err := get("positions")
		if err != nil {
			return err
		}
		if len(pos)%24 != 0 {
			return fmt.Errorf("%w: %s/positions has %d bytes", ErrCorrupt, name, len(pos))
		}
		snap.Positions = make([]geometry.Vec3, len(pos)/24)
		for i := range snap.Positions {
			f := func(k int) float64 { return math.Float64frombits(binary.LittleEndian.Uint64(pos[24*i+8*k:])) }
			snap.Positions[i] = geometry.Vec3{X: f(0), Y: f(1), Z: f(2)}
		}

		prefix := key(name, "steps/")
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		snap.Steps = make(map[string]float64)
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if len(v) != 8 {
				return fmt.Errorf("%w: step %s", ErrCorrupt, item.Key())
			}
			snap.Steps[string(item.Key()[len(prefix):])] = math.Float64frombits(binary.LittleEndian.Uint64(v))
		}
		return nil
	})
	return snap, err
}
