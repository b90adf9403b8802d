package research

import "time"

// Status identifies the node a research task is currently in. StatusPlanning
// is the entry state; StatusDone, StatusError and StatusCancelled are terminal.
type Status string

const (
	StatusPlanning     Status = "planning"
	StatusSearching    Status = "searching"
	StatusSynthesizing Status = "synthesizing"
	StatusCritiquing   Status = "critiquing"
	StatusRefining     Status = "refining"
	StatusDone         Status = "done"
	StatusError        Status = "error"
	StatusCancelled    Status = "cancelled"
)

// Terminal reports whether no further transitions are possible from s.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError || s == StatusCancelled
}

// Source type hints assigned by the planner. Each hint maps to one or more
// retrieval adapters.
const (
	SourceAcademic  = "academic"
	SourceNews      = "news"
	SourceReference = "reference"
	SourceGeneral   = "general"
)

// Task execution modes.
const (
	ModeResearch = "research" // full pipeline (default)
	ModeQuick    = "quick"    // single-shot direct answer
)

// SubQuery is one focused search question produced by the planner. A new
// planning round produces a fresh set; existing entries are never mutated.
type SubQuery struct {
	Query      string `json:"query"`
	SourceType string `json:"source_type"`
	Rationale  string `json:"rationale,omitempty"`
}

// Document is a single retrieved result. Link is kept in its original form;
// deduplication compares normalized links.
type Document struct {
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Snippet     string    `json:"snippet,omitempty"`
	Content     string    `json:"content,omitempty"`
	SourceType  string    `json:"source_type"`
	Credibility float64   `json:"credibility"`
	PublishedAt time.Time `json:"published_at,omitzero"`
}

// Conflict records two incompatible claims detected by the synthesizer.
type Conflict struct {
	ClaimA      string `json:"claim_a"`
	SourceA     string `json:"source_a"`
	ClaimB      string `json:"claim_b"`
	SourceB     string `json:"source_b"`
	Description string `json:"description"`
}

// CritiqueResult is the critic's verdict over a draft. Score is in [0,1];
// Feedback is the only channel back into the next planning round.
type CritiqueResult struct {
	Score            float64  `json:"overall_score"`
	Gaps             []string `json:"gaps,omitempty"`
	DiversityIssues  []string `json:"diversity_issues,omitempty"`
	OutdatedConcerns []string `json:"outdated_concerns,omitempty"`
	Suggestions      []string `json:"suggestions,omitempty"`
	Summary          string   `json:"summary,omitempty"`
	Feedback         string   `json:"feedback,omitempty"`
}

// State is the full persisted progress of one research task. It is owned by
// exactly one engine execution at a time; the checkpoint store's version
// check enforces that.
type State struct {
	TaskID        string          `json:"task_id"`
	ThreadID      string          `json:"thread_id"`
	ThreadItemID  string          `json:"thread_item_id"`
	Query         string          `json:"query"`
	Mode          string          `json:"mode"`
	Status        Status          `json:"status"`
	Iteration     int             `json:"iteration"`
	MaxIterations int             `json:"max_iterations"`
	Plan          []SubQuery      `json:"plan,omitempty"`
	Documents     []Document      `json:"documents,omitempty"`
	Draft         string          `json:"draft,omitempty"`
	Conflicts     []Conflict      `json:"conflicts,omitempty"`
	Critique      *CritiqueResult `json:"critique,omitempty"`
	Feedback      string          `json:"feedback,omitempty"`
	FinalReport   string          `json:"final_report,omitempty"`
	Error         string          `json:"error,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Task describes one submission accepted by a dispatcher.
type Task struct {
	TaskID        string `json:"task_id"`
	ThreadID      string `json:"thread_id"`
	ThreadItemID  string `json:"thread_item_id"`
	Query         string `json:"query"`
	Mode          string `json:"mode"`
	MaxIterations int    `json:"max_iterations"`
}

// NewState builds the initial state for a task.
func NewState(t Task, maxIterations int) State {
	if t.MaxIterations > 0 {
		maxIterations = t.MaxIterations
	}
	mode := t.Mode
	if mode == "" {
		mode = ModeResearch
	}
	return State{
		TaskID:        t.TaskID,
		ThreadID:      t.ThreadID,
		ThreadItemID:  t.ThreadItemID,
		Query:         t.Query,
		Mode:          mode,
		Status:        StatusPlanning,
		Iteration:     1,
		MaxIterations: maxIterations,
		UpdatedAt:     time.Now().UTC(),
	}
}
