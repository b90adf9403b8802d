package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/inquestai/inquest/internal/checkpoint"
	"github.com/inquestai/inquest/internal/relay"
	"github.com/inquestai/inquest/provider"
)

const (
	defaultMaxIterations = 3
	answerChunkSize      = 800
	terminalGrace        = 5 * time.Second
)

// Engine drives one research task through the planning, retrieval,
// synthesis and critique loop. Progress is committed to the checkpoint
// store after every transition, so a crashed run resumes at the last
// committed node. Exactly one terminal event is emitted per task.
type Engine struct {
	store  checkpoint.Store
	events relay.Publisher
	llm    provider.Provider

	planner *Planner
	worker  *Worker
	synth   *Synthesizer
	critic  *Critic
	log     *log.Logger

	// MaxIterations is the default budget for tasks that do not carry one.
	MaxIterations int
	// MaxSources caps the merged document set per iteration.
	MaxSources int
	// ClassifyChat routes conversational queries to the direct path even in
	// research mode.
	ClassifyChat bool
}

func NewEngine(store checkpoint.Store, events relay.Publisher, llm provider.Provider, worker *Worker, logger *log.Logger) *Engine {
	return &Engine{
		store:         store,
		events:        events,
		llm:           llm,
		planner:       NewPlanner(llm, logger),
		worker:        worker,
		synth:         NewSynthesizer(llm, logger),
		critic:        NewCritic(llm, logger),
		log:           logger,
		MaxIterations: defaultMaxIterations,
		MaxSources:    defaultMaxSources,
		ClassifyChat:  true,
	}
}

// Run executes the task to a terminal state. It is safe to call for a task
// that already has a checkpoint: execution resumes from the committed node.
// The returned error reports abnormal termination (store failure, lost
// ownership, cancellation); a DONE task returns nil.
func (e *Engine) Run(ctx context.Context, task Task) error {
	if ctx.Err() != nil {
		return e.cancel(NewState(task, e.MaxIterations), 0)
	}
	st, version, err := e.loadOrCreate(ctx, task)
	if err != nil {
		return err
	}
	if st.Status.Terminal() {
		return nil
	}

	// Fresh tasks may take the direct path instead of the full pipeline.
	if st.Iteration == 1 && len(st.Plan) == 0 && st.Status == StatusPlanning {
		if st.Mode == ModeQuick || (e.ClassifyChat && ClassifyIntent(ctx, e.llm, st.Query) == IntentChat) {
			return e.runDirect(ctx, st, version)
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return e.cancel(st, version)
		}

		switch st.Status {
		case StatusPlanning:
			plan := e.planner.Plan(ctx, st)
			if err := ctx.Err(); err != nil {
				return e.cancel(st, version)
			}
			st.Plan = plan
			st.Status = StatusSearching
			if version, err = e.commit(ctx, st, version); err != nil {
				return e.fail(st, version, err)
			}
			e.emitPlanSteps(ctx, st)

		case StatusSearching:
			retrievals := e.worker.Retrieve(ctx, st.TaskID, st.Plan)
			if err := ctx.Err(); err != nil {
				return e.cancel(st, version)
			}
			st.Documents = MergeDocuments(retrievals, e.MaxSources)
			st.Status = StatusSynthesizing
			if version, err = e.commit(ctx, st, version); err != nil {
				return e.fail(st, version, err)
			}
			e.emitSources(ctx, st)
			e.emitRetrievalSteps(ctx, st, retrievals)

		case StatusSynthesizing:
			draft, conflicts, serr := e.synth.Synthesize(ctx, st)
			if err := ctx.Err(); err != nil {
				return e.cancel(st, version)
			}
			if serr != nil {
				return e.fail(st, version, serr)
			}
			st.Draft = draft
			st.Conflicts = conflicts
			st.Status = StatusCritiquing
			if version, err = e.commit(ctx, st, version); err != nil {
				return e.fail(st, version, err)
			}
			e.emitAnswer(ctx, st, draft)

		case StatusCritiquing:
			critique, refine := e.critic.Review(ctx, st)
			if err := ctx.Err(); err != nil {
				return e.cancel(st, version)
			}
			st.Critique = &critique
			if !refine {
				st.FinalReport = st.Draft
				st.Status = StatusDone
				if version, err = e.commit(ctx, st, version); err != nil {
					return e.fail(st, version, err)
				}
				e.emitDone(st)
				return nil
			}
			st.Feedback = critique.Feedback
			st.Status = StatusRefining
			if version, err = e.commit(ctx, st, version); err != nil {
				return e.fail(st, version, err)
			}
			e.emitStep(ctx, st, "critique",
				fmt.Sprintf("Refining (iteration %d of %d, score %.2f)", st.Iteration, st.MaxIterations, critique.Score),
				"PENDING")

		case StatusRefining:
			st.Iteration++
			st.Status = StatusPlanning
			if version, err = e.commit(ctx, st, version); err != nil {
				return e.fail(st, version, err)
			}

		default:
			return e.fail(st, version, fmt.Errorf("unknown status %q", st.Status))
		}
	}
}

// runDirect answers without the research loop: one generation streamed as
// answer chunks, then done.
func (e *Engine) runDirect(ctx context.Context, st State, version int64) error {
	text, err := provider.GenerateWithRetry(ctx, e.llm, chatSystemPrompt, st.Query, 3, 500*time.Millisecond)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return e.cancel(st, version)
	}
	if err != nil {
		return e.fail(st, version, fmt.Errorf("%w: direct answer: %v", ErrGeneration, err))
	}

	st.Draft = text
	st.FinalReport = text
	st.Status = StatusDone
	if version, err = e.commit(ctx, st, version); err != nil {
		return e.fail(st, version, err)
	}
	e.emitAnswer(ctx, st, text)
	e.emitDone(st)
	return nil
}

func (e *Engine) loadOrCreate(ctx context.Context, task Task) (State, int64, error) {
	snap, err := e.store.Get(ctx, task.TaskID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		st := NewState(task, e.MaxIterations)
		raw, merr := json.Marshal(st)
		if merr != nil {
			return State{}, 0, fmt.Errorf("marshal initial state: %w", merr)
		}
		version, perr := e.store.Put(ctx, st.TaskID, string(st.Status), raw, 0)
		if errors.Is(perr, checkpoint.ErrVersionConflict) {
			// Dispatcher (or a racing submit) created it first; resume.
			snap, err = e.store.Get(ctx, task.TaskID)
		} else if perr != nil {
			return State{}, 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, perr)
		} else {
			return st, version, nil
		}
	}
	if err != nil {
		return State{}, 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var st State
	if err := json.Unmarshal(snap.State, &st); err != nil {
		return State{}, 0, fmt.Errorf("decode checkpoint %s v%d: %w", task.TaskID, snap.Version, err)
	}
	if snap.Status != "" && string(st.Status) != snap.Status {
		st.Status = Status(snap.Status)
	}
	return st, snap.Version, nil
}

// commit persists the state transition with a version check. A conflict
// means another execution took ownership and this one must stop.
func (e *Engine) commit(ctx context.Context, st State, version int64) (int64, error) {
	st.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(st)
	if err != nil {
		return version, fmt.Errorf("marshal state: %w", err)
	}
	next, err := e.store.Put(ctx, st.TaskID, string(st.Status), raw, version)
	if errors.Is(err, checkpoint.ErrVersionConflict) {
		return version, ErrConcurrentWriter
	}
	if err != nil {
		return version, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.log.Printf("[ENGINE] task=%s status=%s iteration=%d v%d", st.TaskID, st.Status, st.Iteration, next)
	return next, nil
}

// cancel records a user-initiated abort. The checkpoint write is best
// effort; the terminal event is mandatory.
func (e *Engine) cancel(st State, version int64) error {
	grace, done := context.WithTimeout(context.Background(), terminalGrace)
	defer done()

	st.Status = StatusCancelled
	st.UpdatedAt = time.Now().UTC()
	if raw, err := json.Marshal(st); err == nil {
		if _, err := e.store.Put(grace, st.TaskID, string(st.Status), raw, version); err != nil {
			e.log.Printf("[ENGINE] task=%s cancel checkpoint failed: %v", st.TaskID, err)
		}
	}
	e.publish(grace, st, relay.EventError, relay.ErrorPayload{Reason: relay.ReasonCancelled, Message: "task cancelled"})
	return ErrCancelled
}

// fail records abnormal termination and emits the terminal error event.
// A concurrent-writer conflict emits nothing: the owning execution is
// responsible for the task's terminal event.
func (e *Engine) fail(st State, version int64, cause error) error {
	if errors.Is(cause, ErrConcurrentWriter) {
		e.log.Printf("[ENGINE] task=%s lost ownership: %v", st.TaskID, cause)
		return cause
	}

	grace, done := context.WithTimeout(context.Background(), terminalGrace)
	defer done()

	st.Status = StatusError
	st.Error = cause.Error()
	st.UpdatedAt = time.Now().UTC()
	if raw, err := json.Marshal(st); err == nil {
		if _, err := e.store.Put(grace, st.TaskID, string(st.Status), raw, version); err != nil {
			e.log.Printf("[ENGINE] task=%s error checkpoint failed: %v", st.TaskID, err)
		}
	}

	reason := relay.ReasonInternal
	if errors.Is(cause, ErrStoreUnavailable) {
		reason = relay.ReasonStoreFailed
	}
	e.publish(grace, st, relay.EventError, relay.ErrorPayload{Reason: reason, Message: cause.Error()})
	return cause
}

// publish emits one event. Relay failures are logged, never fatal.
func (e *Engine) publish(ctx context.Context, st State, typ relay.EventType, payload any) {
	evt, err := relay.NewEvent(st.TaskID, st.ThreadID, st.ThreadItemID, typ, payload)
	if err != nil {
		e.log.Printf("[ENGINE] task=%s build %s event: %v", st.TaskID, typ, err)
		return
	}
	if err := e.events.Publish(ctx, evt); err != nil {
		e.log.Printf("[ENGINE] task=%s publish %s event: %v", st.TaskID, typ, err)
	}
}

func (e *Engine) emitPlanSteps(ctx context.Context, st State) {
	steps := make([]relay.StepUpdate, 0, len(st.Plan))
	for i, sq := range st.Plan {
		steps = append(steps, relay.StepUpdate{
			ID:     fmt.Sprintf("%d", i),
			Text:   fmt.Sprintf("[%s] %s", sq.SourceType, sq.Query),
			Status: "PENDING",
		})
	}
	e.publish(ctx, st, relay.EventSteps, relay.StepsPayload{Steps: steps})
}

func (e *Engine) emitRetrievalSteps(ctx context.Context, st State, retrievals []Retrieval) {
	steps := make([]relay.StepUpdate, 0, len(retrievals))
	for i, r := range retrievals {
		detail := fmt.Sprintf("Found %d results", len(r.Documents))
		if r.Err != nil {
			detail = "Source unavailable, skipped"
		}
		steps = append(steps, relay.StepUpdate{
			ID:     fmt.Sprintf("%d", i),
			Text:   fmt.Sprintf("[%s] %s", r.SubQuery.SourceType, r.SubQuery.Query),
			Status: "COMPLETED",
			Detail: detail,
		})
	}
	e.publish(ctx, st, relay.EventSteps, relay.StepsPayload{Steps: steps})
}

func (e *Engine) emitSources(ctx context.Context, st State) {
	e.publish(ctx, st, relay.EventSources, relay.SourcesPayload{Sources: sourceRefs(st.Documents)})
}

func (e *Engine) emitAnswer(ctx context.Context, st State, text string) {
	for _, chunk := range chunkText(text, answerChunkSize) {
		e.publish(ctx, st, relay.EventAnswer, relay.AnswerPayload{Text: chunk})
	}
}

func (e *Engine) emitDone(st State) {
	grace, done := context.WithTimeout(context.Background(), terminalGrace)
	defer done()

	payload := relay.DonePayload{
		Report:     st.FinalReport,
		Sources:    sourceRefs(st.Documents),
		Iterations: st.Iteration,
	}
	if st.Critique != nil {
		payload.Score = st.Critique.Score
	}
	e.publish(grace, st, relay.EventDone, payload)
}

func sourceRefs(docs []Document) []relay.SourceRef {
	refs := make([]relay.SourceRef, 0, len(docs))
	for i, doc := range docs {
		refs = append(refs, relay.SourceRef{
			Index:       i,
			Title:       doc.Title,
			Link:        doc.Link,
			Snippet:     doc.Snippet,
			SourceType:  doc.SourceType,
			Credibility: doc.Credibility,
		})
	}
	return refs
}

func (e *Engine) emitStep(ctx context.Context, st State, id, text, status string) {
	e.publish(ctx, st, relay.EventSteps, relay.StepsPayload{
		Steps: []relay.StepUpdate{{ID: id, Text: text, Status: status}},
	})
}

func chunkText(s string, size int) []string {
	if s == "" {
		return nil
	}
	if size <= 0 {
		size = answerChunkSize
	}
	var chunks []string
	for len(s) > size {
		cut := size
		// Prefer breaking on a newline or space near the boundary.
		if idx := lastBreak(s[:size]); idx > size/2 {
			cut = idx
		}
		chunks = append(chunks, s[:cut])
		s = s[cut:]
	}
	return append(chunks, s)
}

func lastBreak(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '\n' || s[i] == ' ' {
			return i + 1
		}
	}
	return -1
}
