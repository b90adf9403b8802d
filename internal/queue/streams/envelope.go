package streams

import (
	"encoding/json"
	"fmt"
	"time"
)

// StreamResearchJobs is the durable stream research submissions are enqueued to.
const StreamResearchJobs = "inquest.jobs"

// GroupWorkers is the consumer group shared by worker processes.
const GroupWorkers = "inquest-workers"

// EventResearchRequested identifies a research job payload.
const EventResearchRequested = "research.requested"

// Envelope is the canonical message wrapper persisted to Redis Streams.
type Envelope struct {
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	OccurredAt     time.Time       `json:"occurred_at"`
	Attempt        int             `json:"attempt"`
	PayloadVersion string          `json:"payload_version"`
	Data           json.RawMessage `json:"data"`
}

// ValidateBasic ensures mandatory envelope fields are present before schema validation.
func (e *Envelope) ValidateBasic() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if e.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if e.PayloadVersion == "" {
		return fmt.Errorf("payload_version is required")
	}
	if e.Attempt < 0 {
		return fmt.Errorf("attempt must be >= 0")
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if len(e.Data) == 0 {
		return fmt.Errorf("data payload is required")
	}
	return nil
}

// Marshal returns the JSON encoding of the envelope.
func (e *Envelope) Marshal() ([]byte, error) {
	if err := e.ValidateBasic(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// UnmarshalEnvelope parses JSON bytes into an Envelope and validates required fields.
func UnmarshalEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return env, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if err := env.ValidateBasic(); err != nil {
		return env, err
	}
	return env, nil
}

// ResearchJob is the payload carried by research.requested envelopes.
type ResearchJob struct {
	TaskID        string `json:"task_id"`
	ThreadID      string `json:"thread_id,omitempty"`
	ThreadItemID  string `json:"thread_item_id,omitempty"`
	Query         string `json:"query"`
	Mode          string `json:"mode"`
	MaxIterations int    `json:"max_iterations"`
}

// DecodeResearchJob extracts the job payload from a consumed envelope.
func DecodeResearchJob(env Envelope) (ResearchJob, error) {
	if env.EventType != EventResearchRequested {
		return ResearchJob{}, fmt.Errorf("unexpected event type %q", env.EventType)
	}
	var job ResearchJob
	if err := json.Unmarshal(env.Data, &job); err != nil {
		return ResearchJob{}, fmt.Errorf("decode research job: %w", err)
	}
	return job, nil
}
