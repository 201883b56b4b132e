package config

import (
	"fmt"
	"time"
)

const DefaultMaxSnapshots = 10

// Snapshot is an immutable capture of configuration and override state at
// one point in time. Both members are deep copies taken at push time.
type Snapshot struct {
	Config    *Config
	Overrides *OverrideMap
	TakenAt   time.Time
}

// SnapshotStore is a bounded linear undo stack, not a branching history.
// After the first push it always holds between 1 and max entries; the
// oldest is evicted first on overflow.
type SnapshotStore struct {
	max     int
	entries []Snapshot
}

func NewSnapshotStore(max int) *SnapshotStore {
	if max <= 0 {
		max = DefaultMaxSnapshots
	}
	return &SnapshotStore{max: max}
}

func (s *SnapshotStore) Push(cfg *Config, overrides *OverrideMap) {
	if s == nil {
		return
	}
	s.entries = append(s.entries, Snapshot{
		Config:    cfg.Clone(),
		Overrides: overrides.Clone(),
		TakenAt:   time.Now().UTC(),
	})
	if len(s.entries) > s.max {
		s.entries = append(s.entries[:0:0], s.entries[len(s.entries)-s.max:]...)
	}
}

func (s *SnapshotStore) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// List returns the retained snapshots, oldest first.
func (s *SnapshotStore) List() []Snapshot {
	if s == nil || len(s.entries) == 0 {
		return nil
	}
	out := make([]Snapshot, len(s.entries))
	copy(out, s.entries)
	return out
}

// RollbackTarget selects the snapshot steps positions before the most
// recent one and truncates the stack so the target becomes the newest
// entry. Valid only while steps stays below the retained count.
func (s *SnapshotStore) RollbackTarget(steps int) (Snapshot, error) {
	if s == nil || len(s.entries) == 0 {
		return Snapshot{}, fmt.Errorf("no snapshots retained")
	}
	if steps <= 0 {
		return Snapshot{}, fmt.Errorf("rollback steps must be positive, got %d", steps)
	}
	if steps >= len(s.entries) {
		return Snapshot{}, fmt.Errorf("rollback steps %d exceeds retained history of %d", steps, len(s.entries))
	}
	s.entries = s.entries[:len(s.entries)-steps]
	return s.entries[len(s.entries)-1], nil
}

// TrimToLatest discards everything but the current snapshot.
func (s *SnapshotStore) TrimToLatest() {
	if s == nil || len(s.entries) <= 1 {
		return
	}
	s.entries = append(s.entries[:0:0], s.entries[len(s.entries)-1])
}
