// Package relay normalizes engine progress into sequenced event envelopes
// and transports them to stream consumers, either in-process or over Redis
// pub/sub. Delivery is at-least-once; sequence numbers are monotonically
// increasing per task so consumers can drop duplicates.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// EventType enumerates the closed set of envelope variants.
type EventType string

const (
	EventSteps   EventType = "steps"
	EventSources EventType = "sources"
	EventAnswer  EventType = "answer"
	EventDone    EventType = "done"
	EventError   EventType = "error"
)

// Event is the unit delivered to stream subscribers. Payload holds exactly
// one of the payload types below, selected by Type.
type Event struct {
	Type         EventType       `json:"type"`
	TaskID       string          `json:"task_id"`
	ThreadID     string          `json:"thread_id,omitempty"`
	ThreadItemID string          `json:"thread_item_id,omitempty"`
	Seq          uint64          `json:"seq"`
	OccurredAt   time.Time       `json:"occurred_at"`
	Payload      json.RawMessage `json:"payload"`
}

// Terminal reports whether no further events follow for the task.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// StepUpdate describes one progress step shown to the client.
type StepUpdate struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Status string `json:"status"` // PENDING | COMPLETED
	Detail string `json:"detail,omitempty"`
}

// StepsPayload carries progress/state descriptions.
type StepsPayload struct {
	Steps []StepUpdate `json:"steps"`
}

// SourceRef is one retrieved document reference in a sources event.
type SourceRef struct {
	Index       int     `json:"index"`
	Title       string  `json:"title"`
	Link        string  `json:"link"`
	Snippet     string  `json:"snippet,omitempty"`
	SourceType  string  `json:"source_type"`
	Credibility float64 `json:"credibility"`
}

// SourcesPayload carries a batch of document references.
type SourcesPayload struct {
	Sources []SourceRef `json:"sources"`
}

// AnswerPayload carries one incremental chunk of draft text. The final
// report is the concatenation of all chunks in sequence order.
type AnswerPayload struct {
	Text string `json:"text"`
}

// DonePayload is the terminal success event.
type DonePayload struct {
	Report     string      `json:"report"`
	Sources    []SourceRef `json:"sources,omitempty"`
	Iterations int         `json:"iterations"`
	Score      float64     `json:"score,omitempty"`
}

// Error reason codes carried by ErrorPayload.
const (
	ReasonCancelled   = "cancelled"
	ReasonStoreFailed = "store_unavailable"
	ReasonInternal    = "internal"
)

// ErrorPayload is a terminal or non-fatal error event.
type ErrorPayload struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// NewEvent builds an envelope for the given task identifiers and payload.
// Seq is assigned by the publisher.
func NewEvent(taskID, threadID, threadItemID string, typ EventType, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return Event{
		Type:         typ,
		TaskID:       taskID,
		ThreadID:     threadID,
		ThreadItemID: threadItemID,
		OccurredAt:   time.Now().UTC(),
		Payload:      data,
	}, nil
}

// Publisher is the engine-facing side of the relay.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Subscriber is the stream-handler-facing side. The returned channel is
// closed after a terminal event or when the subscription is cancelled.
type Subscriber interface {
	Subscribe(ctx context.Context, taskID string) (<-chan Event, func(), error)
}
