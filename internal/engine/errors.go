package engine

import "errors"

// Sentinel errors returned by Edit. Callers distinguish them with
// errors.Is; each maps to a distinct close/log behavior at the session
// and transport layers.
var (
	// ErrFutureRevision is returned when a client submits an edit whose
	// base_revision is greater than the engine's current revision.
	ErrFutureRevision = errors.New("engine: base revision is ahead of current revision")

	// ErrInvalidBaseLength is returned when the submitted operation's
	// base length does not match the document text at the claimed
	// base revision. It surfaces as a transform/apply failure against
	// history, since the engine does not track per-revision text
	// lengths separately.
	ErrInvalidBaseLength = errors.New("engine: operation base length does not match document at base revision")

	// ErrOperationApply is returned when a (transformed) operation
	// fails to apply to the current text.
	ErrOperationApply = errors.New("engine: operation failed to apply")

	// ErrHistoryFull is returned when appending the operation would
	// push the revision count past MaxHistory. The engine is killed
	// as part of returning this error.
	ErrHistoryFull = errors.New("engine: history is full")

	// ErrDocumentKilled is returned by any mutating call made after
	// the engine has transitioned to the Killed state.
	ErrDocumentKilled = errors.New("engine: document is killed")

	// ErrUnknownLanguage is returned by SetLanguage for a tag outside
	// the recognized set.
	ErrUnknownLanguage = errors.New("engine: unrecognized language")
)
