package dispatch

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/inquestai/inquest/internal/checkpoint"
	"github.com/inquestai/inquest/internal/queue/streams"
	"github.com/inquestai/inquest/internal/relay"
	"github.com/inquestai/inquest/internal/research"
)

type fakeRunner struct {
	mu      sync.Mutex
	tasks   []research.Task
	block   chan struct{}
	started chan string
	errs    map[string]error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{started: make(chan string, 16)}
}

func (r *fakeRunner) Run(ctx context.Context, task research.Task) error {
	r.mu.Lock()
	r.tasks = append(r.tasks, task)
	block := r.block
	err := r.errs[task.TaskID]
	r.mu.Unlock()

	r.started <- task.TaskID
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return research.ErrCancelled
		}
	}
	return err
}

func testLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestNormalizeGeneratesIdentifiers(t *testing.T) {
	t.Parallel()
	task, err := normalize(Request{Query: "  what is tidal power  "}, 3)
	require.NoError(t, err)
	require.NotEmpty(t, task.TaskID)
	require.NotEmpty(t, task.ThreadID)
	require.NotEmpty(t, task.ThreadItemID)
	require.Equal(t, "what is tidal power", task.Query)
	require.Equal(t, research.ModeResearch, task.Mode)
	require.Equal(t, 3, task.MaxIterations)
}

func TestNormalizeKeepsCallerIdentifiers(t *testing.T) {
	t.Parallel()
	task, err := normalize(Request{
		Query:         "q",
		Mode:          research.ModeQuick,
		MaxIterations: 5,
		TaskID:        "t1",
		ThreadID:      "th1",
		ThreadItemID:  "ti1",
	}, 3)
	require.NoError(t, err)
	require.Equal(t, "t1", task.TaskID)
	require.Equal(t, "th1", task.ThreadID)
	require.Equal(t, "ti1", task.ThreadItemID)
	require.Equal(t, 5, task.MaxIterations)
}

func TestNormalizeRejectsBadRequests(t *testing.T) {
	t.Parallel()
	_, err := normalize(Request{Query: "   "}, 3)
	require.Error(t, err)

	_, err = normalize(Request{Query: "q", Mode: "turbo"}, 3)
	require.Error(t, err)

	_, err = normalize(Request{Query: "q", MaxIterations: -1}, 3)
	require.Error(t, err)
}

func TestLocalSubmitRunsTask(t *testing.T) {
	t.Parallel()
	runner := newFakeRunner()
	store := checkpoint.NewMemoryStore()
	d := NewLocal(runner, store, testLogger())

	ticket, err := d.Submit(context.Background(), Request{Query: "q", TaskID: "task-1"})
	require.NoError(t, err)
	require.Equal(t, "task-1", ticket.TaskID)
	require.Equal(t, research.StatusPlanning, ticket.Status)

	select {
	case id := <-runner.started:
		require.Equal(t, "task-1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("runner never started")
	}
	d.Wait()

	snap, err := store.Get(context.Background(), "task-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), snap.Version)
}

func TestLocalDuplicateSubmitRejected(t *testing.T) {
	t.Parallel()
	runner := newFakeRunner()
	store := checkpoint.NewMemoryStore()
	d := NewLocal(runner, store, testLogger())

	_, err := d.Submit(context.Background(), Request{Query: "q", TaskID: "task-2"})
	require.NoError(t, err)

	_, err = d.Submit(context.Background(), Request{Query: "q", TaskID: "task-2"})
	require.ErrorIs(t, err, ErrDuplicateTask)
	d.Wait()
}

func TestLocalCancelStopsRun(t *testing.T) {
	t.Parallel()
	runner := newFakeRunner()
	runner.block = make(chan struct{})
	store := checkpoint.NewMemoryStore()
	d := NewLocal(runner, store, testLogger())

	_, err := d.Submit(context.Background(), Request{Query: "q", TaskID: "task-3"})
	require.NoError(t, err)
	<-runner.started

	require.NoError(t, d.Cancel(context.Background(), "task-3"))

	done := make(chan struct{})
	go func() { d.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled run did not stop")
	}

	require.ErrorIs(t, d.Cancel(context.Background(), "task-3"), ErrUnknownTask)
}

func newRedisDispatcher(t *testing.T) (*Redis, *goredis.Client, *checkpoint.MemoryStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	reg, err := streams.NewSchemaRegistry()
	require.NoError(t, err)
	store := checkpoint.NewMemoryStore()
	d := NewRedis(store, streams.NewPublisher(client, reg), relay.NewRedisRelay(client), testLogger())
	return d, client, store
}

func TestRedisSubmitEnqueuesJob(t *testing.T) {
	d, client, _ := newRedisDispatcher(t)
	ctx := context.Background()

	ticket, err := d.Submit(ctx, Request{Query: "deep sea mining", TaskID: "task-4", ThreadID: "th"})
	require.NoError(t, err)
	require.Equal(t, "task-4", ticket.TaskID)

	reg, err := streams.NewSchemaRegistry()
	require.NoError(t, err)
	require.NoError(t, streams.EnsureGroup(ctx, client, streams.StreamResearchJobs, streams.GroupWorkers))
	cons := streams.NewConsumer(client, reg, streams.GroupWorkers, "w1")
	msgs, err := cons.Read(ctx, streams.StreamResearchJobs, streams.WithCount(10))
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	job, err := streams.DecodeResearchJob(msgs[0].Envelope)
	require.NoError(t, err)
	require.Equal(t, "task-4", job.TaskID)
	require.Equal(t, "deep sea mining", job.Query)
	require.Equal(t, 3, job.MaxIterations)

	meta, err := relay.NewRedisRelay(client).TaskMeta(ctx, "task-4")
	require.NoError(t, err)
	require.Equal(t, "th", meta.ThreadID)
}

func TestRedisDuplicateSubmitRejected(t *testing.T) {
	d, _, _ := newRedisDispatcher(t)
	ctx := context.Background()

	_, err := d.Submit(ctx, Request{Query: "q", TaskID: "task-5"})
	require.NoError(t, err)
	_, err = d.Submit(ctx, Request{Query: "q", TaskID: "task-5"})
	require.ErrorIs(t, err, ErrDuplicateTask)
}

func TestRedisCancelSignalsWorker(t *testing.T) {
	d, client, store := newRedisDispatcher(t)
	ctx := context.Background()

	require.ErrorIs(t, d.Cancel(ctx, "task-6"), ErrUnknownTask)

	_, err := d.Submit(ctx, Request{Query: "q", TaskID: "task-6"})
	require.NoError(t, err)

	sub := client.Subscribe(ctx, relay.CancelChannel("task-6"))
	_, err = sub.Receive(ctx)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, d.Cancel(ctx, "task-6"))
	select {
	case <-sub.Channel():
	case <-time.After(2 * time.Second):
		t.Fatal("cancel signal not published")
	}

	// Terminal tasks can no longer be cancelled.
	snap, err := store.Get(ctx, "task-6")
	require.NoError(t, err)
	_, err = store.Put(ctx, "task-6", string(research.StatusDone), snap.State, snap.Version)
	require.NoError(t, err)
	require.ErrorIs(t, d.Cancel(ctx, "task-6"), ErrUnknownTask)
}

var errBoom = errors.New("boom")

func TestLocalRunnerErrorIsLoggedNotFatal(t *testing.T) {
	t.Parallel()
	runner := newFakeRunner()
	runner.errs = map[string]error{"task-7": errBoom}
	store := checkpoint.NewMemoryStore()
	d := NewLocal(runner, store, testLogger())

	_, err := d.Submit(context.Background(), Request{Query: "q", TaskID: "task-7"})
	require.NoError(t, err)
	d.Wait()
}
