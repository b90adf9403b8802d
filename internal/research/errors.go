package research

import "errors"

// Error taxonomy for the orchestration engine. Recoverable, node-local
// conditions (ErrGeneration, ErrTransientSource, ErrValidation) are absorbed
// by node fallbacks and surface as progress events, never as task failure.
// Only ErrStoreUnavailable and ErrCancelled terminate a task abnormally.
var (
	// ErrGeneration marks a language-model call that failed after bounded
	// retries. Nodes respond with a degraded fallback output.
	ErrGeneration = errors.New("generation failed")

	// ErrTransientSource marks a single retrieval adapter failure. The
	// failed sub-query is skipped; the task continues.
	ErrTransientSource = errors.New("source unavailable")

	// ErrValidation marks structured model output that could not be parsed
	// after one stricter retry.
	ErrValidation = errors.New("malformed model output")

	// ErrStoreUnavailable marks a checkpoint read or write failure. Fatal:
	// the task transitions to StatusError.
	ErrStoreUnavailable = errors.New("checkpoint store unavailable")

	// ErrCancelled marks a user-initiated abort.
	ErrCancelled = errors.New("task cancelled")

	// ErrConcurrentWriter marks a checkpoint version conflict: another
	// execution owns the task.
	ErrConcurrentWriter = errors.New("task already owned by another execution")
)
