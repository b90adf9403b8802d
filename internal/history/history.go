// Package history exposes finished research tasks for browsing and
// full-text search. The checkpoint store remains the source of truth; the
// bleve index only maps search terms back to task identifiers.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/blevesearch/bleve"

	"github.com/inquestai/inquest/internal/checkpoint"
	"github.com/inquestai/inquest/internal/research"
)

// ErrNotFound is returned for a task without a terminal checkpoint.
var ErrNotFound = errors.New("history entry not found")

// Entry is one finished task.
type Entry struct {
	TaskID     string    `json:"task_id"`
	ThreadID   string    `json:"thread_id,omitempty"`
	Query      string    `json:"query"`
	Status     string    `json:"status"`
	Report     string    `json:"report,omitempty"`
	Iterations int       `json:"iterations"`
	Score      float64   `json:"score,omitempty"`
	Sources    int       `json:"sources"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// indexDoc is the searchable projection of an entry.
type indexDoc struct {
	Query  string `json:"query"`
	Report string `json:"report"`
}

// Archive lists and searches terminal tasks.
type Archive struct {
	store checkpoint.Store
	log   *log.Logger

	mu    sync.Mutex
	index bleve.Index
}

// NewArchive opens (or creates) a persistent index at path.
func NewArchive(store checkpoint.Store, path string, logger *log.Logger) (*Archive, error) {
	index, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		index, err = bleve.New(path, bleve.NewIndexMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("open history index: %w", err)
	}
	return &Archive{store: store, index: index, log: logger}, nil
}

// NewMemOnly builds an archive with an in-memory index. Used for local
// deployments without a data directory and throughout the tests.
func NewMemOnly(store checkpoint.Store, logger *log.Logger) (*Archive, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create history index: %w", err)
	}
	return &Archive{store: store, index: index, log: logger}, nil
}

// Close releases the index.
func (a *Archive) Close() error {
	return a.index.Close()
}

// Sync indexes every successfully finished task. Idempotent; re-indexing an
// already indexed task overwrites it.
func (a *Archive) Sync(ctx context.Context) error {
	snaps, err := a.store.ListByStatus(ctx, string(research.StatusDone))
	if err != nil {
		return fmt.Errorf("list finished tasks: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, snap := range snaps {
		var st research.State
		if err := json.Unmarshal(snap.State, &st); err != nil {
			a.log.Printf("[HISTORY] skip undecodable checkpoint %s: %v", snap.TaskID, err)
			continue
		}
		if err := a.index.Index(snap.TaskID, indexDoc{Query: st.Query, Report: st.FinalReport}); err != nil {
			return fmt.Errorf("index %s: %w", snap.TaskID, err)
		}
	}
	return nil
}

// Record indexes one finished task immediately.
func (a *Archive) Record(taskID, query, report string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.index.Index(taskID, indexDoc{Query: query, Report: report})
}

// List returns all terminal tasks, newest first, without report bodies.
func (a *Archive) List(ctx context.Context) ([]Entry, error) {
	snaps, err := a.store.ListByStatus(ctx,
		string(research.StatusDone),
		string(research.StatusError),
		string(research.StatusCancelled),
	)
	if err != nil {
		return nil, fmt.Errorf("list terminal tasks: %w", err)
	}

	entries := make([]Entry, 0, len(snaps))
	for _, snap := range snaps {
		entry, err := entryFromSnapshot(snap, false)
		if err != nil {
			a.log.Printf("[HISTORY] skip undecodable checkpoint %s: %v", snap.TaskID, err)
			continue
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].UpdatedAt.After(entries[j].UpdatedAt) })
	return entries, nil
}

// Get returns one terminal task including its report.
func (a *Archive) Get(ctx context.Context, taskID string) (Entry, error) {
	snap, err := a.store.Get(ctx, taskID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("load checkpoint: %w", err)
	}
	if !research.Status(snap.Status).Terminal() {
		return Entry{}, ErrNotFound
	}
	return entryFromSnapshot(snap, true)
}

// Search runs a full-text query over queries and reports of finished tasks.
func (a *Archive) Search(ctx context.Context, q string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	req := bleve.NewSearchRequestOptions(bleve.NewQueryStringQuery(q), limit, 0, false)

	a.mu.Lock()
	res, err := a.index.Search(req)
	a.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}

	entries := make([]Entry, 0, len(res.Hits))
	for _, hit := range res.Hits {
		entry, err := a.Get(ctx, hit.ID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		entry.Report = ""
		entries = append(entries, entry)
	}
	return entries, nil
}

func entryFromSnapshot(snap checkpoint.Snapshot, withReport bool) (Entry, error) {
	var st research.State
	if err := json.Unmarshal(snap.State, &st); err != nil {
		return Entry{}, err
	}
	entry := Entry{
		TaskID:     snap.TaskID,
		ThreadID:   st.ThreadID,
		Query:      st.Query,
		Status:     snap.Status,
		Iterations: st.Iteration,
		Sources:    len(st.Documents),
		UpdatedAt:  snap.UpdatedAt,
	}
	if st.Critique != nil {
		entry.Score = st.Critique.Score
	}
	if withReport {
		entry.Report = st.FinalReport
	}
	return entry, nil
}
