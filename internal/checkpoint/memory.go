package checkpoint

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used for local dispatch without a
// database and throughout the tests. Semantics match the Postgres store.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]Snapshot
}

// NewMemoryStore creates an empty in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]Snapshot)}
}

func (s *MemoryStore) Put(ctx context.Context, taskID, status string, state []byte, expectedVersion int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.items[taskID]
	if expectedVersion == 0 {
		if exists {
			return 0, ErrVersionConflict
		}
	} else if !exists || current.Version != expectedVersion {
		return 0, ErrVersionConflict
	}

	next := expectedVersion + 1
	s.items[taskID] = Snapshot{
		TaskID:    taskID,
		Status:    status,
		Version:   next,
		State:     append([]byte(nil), state...),
		UpdatedAt: time.Now().UTC(),
	}
	return next, nil
}

func (s *MemoryStore) Get(ctx context.Context, taskID string) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.items[taskID]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	snap.State = append([]byte(nil), snap.State...)
	return snap, nil
}

func (s *MemoryStore) ListByStatus(ctx context.Context, statuses ...string) ([]Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	wanted := make(map[string]struct{}, len(statuses))
	for _, st := range statuses {
		wanted[st] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Snapshot
	for _, snap := range s.items {
		if _, ok := wanted[snap.Status]; !ok {
			continue
		}
		snap.State = append([]byte(nil), snap.State...)
		out = append(out, snap)
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
