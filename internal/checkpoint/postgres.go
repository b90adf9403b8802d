package checkpoint

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore persists checkpoints in the research_checkpoints table
// (see migrations/). The version column carries the CAS.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres opens a connection pool for the given DSN and pings it.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Close releases the underlying pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Put(ctx context.Context, taskID, status string, state []byte, expectedVersion int64) (int64, error) {
	if taskID == "" {
		return 0, fmt.Errorf("task_id is required")
	}

	if expectedVersion == 0 {
		res, err := s.db.ExecContext(ctx, `
INSERT INTO research_checkpoints (task_id, status, version, state, updated_at)
VALUES ($1, $2, 1, $3, NOW())
ON CONFLICT (task_id) DO NOTHING;
`, taskID, status, state)
		if err != nil {
			return 0, fmt.Errorf("insert checkpoint: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("insert checkpoint: %w", err)
		}
		if affected == 0 {
			return 0, ErrVersionConflict
		}
		return 1, nil
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE research_checkpoints
SET status = $2, version = version + 1, state = $3, updated_at = NOW()
WHERE task_id = $1 AND version = $4;
`, taskID, status, state, expectedVersion)
	if err != nil {
		return 0, fmt.Errorf("update checkpoint: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update checkpoint: %w", err)
	}
	if affected == 0 {
		return 0, ErrVersionConflict
	}
	return expectedVersion + 1, nil
}

func (s *PostgresStore) Get(ctx context.Context, taskID string) (Snapshot, error) {
	var snap Snapshot
	err := s.db.QueryRowContext(ctx, `
SELECT task_id, status, version, state, updated_at
FROM research_checkpoints
WHERE task_id = $1;
`, taskID).Scan(&snap.TaskID, &snap.Status, &snap.Version, &snap.State, &snap.UpdatedAt)
	if err == sql.ErrNoRows {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("get checkpoint: %w", err)
	}
	return snap, nil
}

func (s *PostgresStore) ListByStatus(ctx context.Context, statuses ...string) ([]Snapshot, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT task_id, status, version, state, updated_at
FROM research_checkpoints
WHERE status = ANY($1)
ORDER BY updated_at DESC;
`, pq.Array(statuses))
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var snap Snapshot
		if err := rows.Scan(&snap.TaskID, &snap.Status, &snap.Version, &snap.State, &snap.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
