package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/inquestai/inquest/internal/checkpoint"
	"github.com/inquestai/inquest/internal/research"
)

// Local runs accepted tasks on goroutines inside this process. The initial
// checkpoint is written synchronously during Submit, so a duplicate task
// identifier is rejected before any work starts.
type Local struct {
	runner Runner
	store  checkpoint.Store
	log    *log.Logger

	// DefaultIterations is applied when the request carries no budget.
	DefaultIterations int

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewLocal(runner Runner, store checkpoint.Store, logger *log.Logger) *Local {
	return &Local{
		runner:            runner,
		store:             store,
		log:               logger,
		DefaultIterations: 3,
		running:           make(map[string]context.CancelFunc),
	}
}

func (d *Local) Submit(ctx context.Context, req Request) (Ticket, error) {
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

	// The run outlives the submitting request.
	runCtx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	d.running[task.TaskID] = cancel
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			cancel()
			d.mu.Lock()
			delete(d.running, task.TaskID)
			d.mu.Unlock()
		}()
		if err := d.runner.Run(runCtx, task); err != nil {
			d.log.Printf("[DISPATCH] task=%s finished abnormally: %v", task.TaskID, err)
		}
	}()

	return Ticket{
		TaskID:       task.TaskID,
		ThreadID:     task.ThreadID,
		ThreadItemID: task.ThreadItemID,
		Status:       st.Status,
	}, nil
}

func (d *Local) Cancel(_ context.Context, taskID string) error {
	d.mu.Lock()
	cancel, ok := d.running[taskID]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	cancel()
	return nil
}

// Wait blocks until all in-flight tasks finish. Used on shutdown.
func (d *Local) Wait() {
	d.wg.Wait()
}

var _ Dispatcher = (*Local)(nil)
