package checkpoint

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestMemoryStoreCreateAndGet(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()

	v, err := s.Put(ctx, "t1", "planning", []byte(`{"a":1}`), 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if v != 1 {
		t.Fatalf("version = %d, want 1", v)
	}

	snap, err := s.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if snap.Status != "planning" || snap.Version != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if string(snap.State) != `{"a":1}` {
		t.Fatalf("state = %s", snap.State)
	}
	if snap.UpdatedAt.IsZero() {
		t.Fatal("UpdatedAt not set")
	}
}

func TestMemoryStoreCreateConflict(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.Put(ctx, "t1", "planning", nil, 0); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Put(ctx, "t1", "planning", nil, 0); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("duplicate create error = %v, want ErrVersionConflict", err)
	}
}

func TestMemoryStoreCASUpdate(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()

	v, _ := s.Put(ctx, "t1", "planning", nil, 0)
	v2, err := s.Put(ctx, "t1", "searching", []byte(`{}`), v)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if v2 != 2 {
		t.Fatalf("version = %d, want 2", v2)
	}

	// stale version loses
	if _, err := s.Put(ctx, "t1", "searching", nil, v); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("stale update error = %v, want ErrVersionConflict", err)
	}
	// unknown task with non-zero expected version
	if _, err := s.Put(ctx, "nope", "searching", nil, 1); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("unknown task error = %v, want ErrVersionConflict", err)
	}
}

func TestMemoryStoreConcurrentCAS(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()
	if _, err := s.Put(ctx, "t1", "planning", nil, 0); err != nil {
		t.Fatal(err)
	}

	const writers = 8
	var wg sync.WaitGroup
	wins := make(chan int64, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v, err := s.Put(ctx, "t1", "searching", nil, 1); err == nil {
				wins <- v
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners int
	for range wins {
		winners++
	}
	if winners != 1 {
		t.Fatalf("writers succeeding at version 1 = %d, want exactly 1", winners)
	}
}

func TestMemoryStoreGetNotFound(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	if _, err := s.Get(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()
	if _, err := s.Put(ctx, "t1", "planning", []byte("abc"), 0); err != nil {
		t.Fatal(err)
	}
	snap, _ := s.Get(ctx, "t1")
	snap.State[0] = 'x'
	again, _ := s.Get(ctx, "t1")
	if string(again.State) != "abc" {
		t.Fatalf("stored state mutated: %s", again.State)
	}
}

func TestMemoryStoreListByStatus(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()
	_, _ = s.Put(ctx, "a", "done", nil, 0)
	_, _ = s.Put(ctx, "b", "planning", nil, 0)
	_, _ = s.Put(ctx, "c", "error", nil, 0)

	out, err := s.ListByStatus(ctx, "done", "error")
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
	for _, snap := range out {
		if snap.Status != "done" && snap.Status != "error" {
			t.Fatalf("unexpected status %s", snap.Status)
		}
	}
}

func TestMemoryStoreCancelledContext(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Put(ctx, "t1", "planning", nil, 0); err == nil {
		t.Fatal("expected context error from Put")
	}
	if _, err := s.Get(ctx, "t1"); err == nil {
		t.Fatal("expected context error from Get")
	}
}
