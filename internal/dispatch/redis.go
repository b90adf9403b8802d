package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/inquestai/inquest/internal/checkpoint"
	"github.com/inquestai/inquest/internal/queue/streams"
	"github.com/inquestai/inquest/internal/relay"
	"github.com/inquestai/inquest/internal/research"
)

// Redis enqueues accepted tasks on a durable stream consumed by detached
// workers. As with Local, the initial checkpoint is written during Submit,
// which both rejects duplicates and lets a worker resume a job whose
// producer died between checkpoint and enqueue.
type Redis struct {
	store     checkpoint.Store
	publisher *streams.Publisher
	relay     *relay.RedisRelay
	log       *log.Logger

	DefaultIterations int
	// StreamMaxLen bounds the jobs stream; zero means unbounded.
	StreamMaxLen int64
}

func NewRedis(store checkpoint.Store, publisher *streams.Publisher, rl *relay.RedisRelay, logger *log.Logger) *Redis {
	return &Redis{
		store:             store,
		publisher:         publisher,
		relay:             rl,
		log:               logger,
		DefaultIterations: 3,
		StreamMaxLen:      10000,
	}
}

func (d *Redis) Submit(ctx context.Context, req Request) (Ticket, error) {
	task, err := normalize(req, d.DefaultIterations)
	if err != nil {
		return Ticket{}, err
	}

	st := research.NewState(task, task.MaxIterations)
	raw, err := json.Marshal(st)
	if err != nil {
		return Ticket{}, fmt.Errorf("marshal initial state: %w", err)
	}
	if _, err := d.store.Put(ctx, task.TaskID, string(st.Status), raw, 0); err != nil {
		if errors.Is(err, checkpoint.ErrVersionConflict) {
			return Ticket{}, fmt.Errorf("%w: %s", ErrDuplicateTask, task.TaskID)
		}
		return Ticket{}, fmt.Errorf("create checkpoint: %w", err)
	}

	meta := relay.TaskMeta{ThreadID: task.ThreadID, ThreadItemID: task.ThreadItemID}
	if err := d.relay.SetTaskMeta(ctx, task.TaskID, meta); err != nil {
		d.log.Printf("[DISPATCH] task=%s meta write failed: %v", task.TaskID, err)
	}

	job := streams.ResearchJob{
		TaskID:        task.TaskID,
		ThreadID:      task.ThreadID,
		ThreadItemID:  task.ThreadItemID,
		Query:         task.Query,
		Mode:          task.Mode,
		MaxIterations: task.MaxIterations,
	}
	var opts []streams.PublishOption
	if d.StreamMaxLen > 0 {
		opts = append(opts, streams.WithMaxLenApprox(d.StreamMaxLen))
	}
	if _, err := d.publisher.PublishJob(ctx, job, opts...); err != nil {
		return Ticket{}, fmt.Errorf("enqueue job: %w", err)
	}

	return Ticket{
		TaskID:       task.TaskID,
		ThreadID:     task.ThreadID,
		ThreadItemID: task.ThreadItemID,
		Status:       st.Status,
	}, nil
}

// Cancel signals whichever worker owns the task over its control channel.
func (d *Redis) Cancel(ctx context.Context, taskID string) error {
	snap, err := d.store.Get(ctx, taskID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	if research.Status(snap.Status).Terminal() {
		return fmt.Errorf("%w: %s already terminal", ErrUnknownTask, taskID)
	}
	return d.relay.RequestCancel(ctx, taskID)
}

var _ Dispatcher = (*Redis)(nil)
