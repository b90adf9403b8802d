// Package checkpoint provides durable, versioned snapshot storage for
// research task state. Writes are compare-and-swap on the version number,
// which enforces single-writer semantics per task without a global lock.
package checkpoint

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get for an unknown task.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrVersionConflict is returned by Put when expectedVersion does not
	// match the stored version: another writer owns the task.
	ErrVersionConflict = errors.New("checkpoint version conflict")
)

// Snapshot is one stored checkpoint: a whole-state JSON document plus its
// version and the status column used for cheap projections.
type Snapshot struct {
	TaskID    string
	Status    string
	Version   int64
	State     []byte
	UpdatedAt time.Time
}

// Store is the checkpoint contract. Put with expectedVersion 0 creates the
// task and fails with ErrVersionConflict if it already exists; any other
// expectedVersion must match the stored version exactly and yields
// expectedVersion+1 on success.
type Store interface {
	Put(ctx context.Context, taskID, status string, state []byte, expectedVersion int64) (int64, error)
	Get(ctx context.Context, taskID string) (Snapshot, error)
	ListByStatus(ctx context.Context, statuses ...string) ([]Snapshot, error)
}
