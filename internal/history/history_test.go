package history

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"testing"
	"time"

	"github.com/inquestai/inquest/internal/checkpoint"
	"github.com/inquestai/inquest/internal/research"
)

func seedTask(t *testing.T, store checkpoint.Store, taskID, query, report string, status research.Status) {
	t.Helper()
	st := research.NewState(research.Task{TaskID: taskID, Query: query}, 3)
	st.Status = status
	st.FinalReport = report
	st.Critique = &research.CritiqueResult{Score: 0.8}
	st.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("marshal state: %v", err)
	}
	if _, err := store.Put(context.Background(), taskID, string(status), raw, 0); err != nil {
		t.Fatalf("seed %s: %v", taskID, err)
	}
}

func newArchive(t *testing.T) (*Archive, *checkpoint.MemoryStore) {
	t.Helper()
	store := checkpoint.NewMemoryStore()
	a, err := NewMemOnly(store, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("NewMemOnly: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a, store
}

func TestListReturnsTerminalTasksOnly(t *testing.T) {
	a, store := newArchive(t)
	seedTask(t, store, "t1", "coffee", "report about coffee", research.StatusDone)
	seedTask(t, store, "t2", "tea", "", research.StatusCancelled)
	seedTask(t, store, "t3", "cocoa", "", research.StatusSearching)

	entries, err := a.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	for _, e := range entries {
		if e.TaskID == "t3" {
			t.Fatal("in-flight task leaked into history")
		}
		if e.Report != "" {
			t.Fatal("list must not carry report bodies")
		}
	}
}

func TestGetIncludesReport(t *testing.T) {
	a, store := newArchive(t)
	seedTask(t, store, "t1", "coffee", "full report text", research.StatusDone)

	entry, err := a.Get(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry.Report != "full report text" || entry.Score != 0.8 {
		t.Fatalf("entry = %+v", entry)
	}

	if _, err := a.Get(context.Background(), "missing"); err != ErrNotFound {
		t.Fatalf("missing task err = %v, want ErrNotFound", err)
	}
}

func TestGetRejectsInFlightTask(t *testing.T) {
	a, store := newArchive(t)
	seedTask(t, store, "t1", "coffee", "", research.StatusCritiquing)

	if _, err := a.Get(context.Background(), "t1"); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound for non-terminal task", err)
	}
}

func TestSearchFindsByReportContent(t *testing.T) {
	a, store := newArchive(t)
	seedTask(t, store, "t1", "coffee health", "caffeine affects sleep quality", research.StatusDone)
	seedTask(t, store, "t2", "ocean currents", "thermohaline circulation drives climate", research.StatusDone)

	if err := a.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	hits, err := a.Search(context.Background(), "thermohaline", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].TaskID != "t2" {
		t.Fatalf("hits = %+v", hits)
	}

	none, err := a.Search(context.Background(), "unrelatedterm", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("unexpected hits: %+v", none)
	}
}

func TestRecordIndexesImmediately(t *testing.T) {
	a, store := newArchive(t)
	seedTask(t, store, "t1", "solar", "photovoltaic efficiency gains", research.StatusDone)

	if err := a.Record("t1", "solar", "photovoltaic efficiency gains"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	hits, err := a.Search(context.Background(), "photovoltaic", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("hits = %d, want 1", len(hits))
	}
}
