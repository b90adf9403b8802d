// Package dispatch accepts research submissions and routes them to an
// execution backend: in-process goroutines for single-node deployments, or
// a durable Redis Streams queue consumed by detached workers.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/inquestai/inquest/internal/research"
)

var (
	// ErrDuplicateTask is returned when the task identifier already has a
	// checkpoint. The original submission keeps ownership.
	ErrDuplicateTask = errors.New("task already submitted")

	// ErrUnknownTask is returned by Cancel for a task this node is not
	// tracking.
	ErrUnknownTask = errors.New("unknown task")

	// ErrInvalidRequest marks submissions rejected before any state was
	// written.
	ErrInvalidRequest = errors.New("invalid request")
)

// Request is one research submission.
type Request struct {
	Query         string `json:"query"`
	Mode          string `json:"mode,omitempty"`
	MaxIterations int    `json:"max_iterations,omitempty"`

	// Caller-supplied identifiers are used verbatim for the whole run;
	// blanks are generated.
	TaskID       string `json:"task_id,omitempty"`
	ThreadID     string `json:"thread_id,omitempty"`
	ThreadItemID string `json:"thread_item_id,omitempty"`
}

// Ticket acknowledges an accepted submission.
type Ticket struct {
	TaskID       string          `json:"task_id"`
	ThreadID     string          `json:"thread_id"`
	ThreadItemID string          `json:"thread_item_id"`
	Status       research.Status `json:"status"`
}

// Dispatcher hands accepted tasks to an execution backend.
type Dispatcher interface {
	Submit(ctx context.Context, req Request) (Ticket, error)
	Cancel(ctx context.Context, taskID string) error
}

// Runner executes one task to a terminal state.
type Runner interface {
	Run(ctx context.Context, task research.Task) error
}

// normalize validates the request and fills generated identifiers.
func normalize(req Request, defaultIterations int) (research.Task, error) {
	if strings.TrimSpace(req.Query) == "" {
		return research.Task{}, fmt.Errorf("%w: query is required", ErrInvalidRequest)
	}
	mode := req.Mode
	switch mode {
	case "":
		mode = research.ModeResearch
	case research.ModeResearch, research.ModeQuick:
	default:
		return research.Task{}, fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, req.Mode)
	}
	if req.MaxIterations < 0 {
		return research.Task{}, fmt.Errorf("%w: max_iterations must be positive", ErrInvalidRequest)
	}
	iterations := req.MaxIterations
	if iterations == 0 {
		iterations = defaultIterations
	}

	task := research.Task{
		TaskID:        req.TaskID,
		ThreadID:      req.ThreadID,
		ThreadItemID:  req.ThreadItemID,
		Query:         strings.TrimSpace(req.Query),
		Mode:          mode,
		MaxIterations: iterations,
	}
	if task.TaskID == "" {
		task.TaskID = uuid.NewString()
	}
	if task.ThreadID == "" {
		task.ThreadID = uuid.NewString()
	}
	if task.ThreadItemID == "" {
		task.ThreadItemID = uuid.NewString()
	}
	return task, nil
}
