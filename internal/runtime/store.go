package runtime

import (
	"context"
	"log"
	"strings"

	"github.com/inquestai/inquest/config"
	"github.com/inquestai/inquest/internal/checkpoint"
	"github.com/inquestai/inquest/internal/history"
)

// OpenStore selects the checkpoint backend. Postgres is used when
// configured; otherwise checkpoints live in process memory, which is only
// suitable for single-node local dispatch.
func OpenStore(ctx context.Context, cfg *config.Config, logger *log.Logger) (checkpoint.Store, func() error, error) {
	p := cfg.Storage.Postgres
	if strings.TrimSpace(p.URL) == "" && strings.TrimSpace(p.Host) == "" {
		logger.Printf("[RUNTIME] postgres not configured, using in-memory checkpoints")
		return checkpoint.NewMemoryStore(), func() error { return nil }, nil
	}
	if err := p.Validate(); err != nil {
		return nil, nil, err
	}
	store, err := checkpoint.OpenPostgres(ctx, p.DSN())
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

// OpenArchive builds the finished-task index, persistent when index_path is
// configured.
func OpenArchive(cfg *config.Config, store checkpoint.Store, logger *log.Logger) (*history.Archive, error) {
	if cfg.Storage.IndexPath != "" {
		return history.NewArchive(store, cfg.Storage.IndexPath, logger)
	}
	return history.NewMemOnly(store, logger)
}
