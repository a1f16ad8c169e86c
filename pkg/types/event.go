package types

import "time"

// CompactionEventType defines the type of event emitted by the compaction scheduler.
type CompactionEventType string

const (
	EventTypeCompactionStart    CompactionEventType = "compaction_start"    // EventTypeCompactionStart indicates a compaction pass has begun for a session.
	EventTypeCompactionProgress CompactionEventType = "compaction_progress" // EventTypeCompactionProgress indicates a chunk has been summarized.
	EventTypeCompactionComplete CompactionEventType = "compaction_complete" // EventTypeCompactionComplete indicates the pass committed its result.
	EventTypeCompactionError    CompactionEventType = "compaction_error"    // EventTypeCompactionError indicates the pass failed and left the session unchanged.
	EventTypeCompactionSkipped  CompactionEventType = "compaction_skipped"  // EventTypeCompactionSkipped indicates a pass was already in flight for the session.
)

// CompactionEvent describes the progress of a compaction pass.
type CompactionEvent struct {
	// Error contains error information for error events.
	Error error

	// Type indicates the kind of event.
	Type CompactionEventType

	// SessionID is the session being compacted.
	SessionID string

	// ChunksProcessed is the number of chunks summarized so far.
	ChunksProcessed int

	// MessagesCompacted is the number of messages folded into the summary.
	MessagesCompacted int

	// TokensUsed is the token usage reported by the summarizer so far.
	TokensUsed int

	// Duration is how long the pass took (complete and error events).
	Duration time.Duration
}

// NewCompactionStartEvent creates a compaction start event.
func NewCompactionStartEvent(sessionID string, messages int) *CompactionEvent {
	return &CompactionEvent{
		Type:              EventTypeCompactionStart,
		SessionID:         sessionID,
		MessagesCompacted: messages,
	}
}

// NewCompactionProgressEvent creates a compaction progress event.
func NewCompactionProgressEvent(sessionID string, chunks, tokensUsed int) *CompactionEvent {
	return &CompactionEvent{
		Type:            EventTypeCompactionProgress,
		SessionID:       sessionID,
		ChunksProcessed: chunks,
		TokensUsed:      tokensUsed,
	}
}

// NewCompactionCompleteEvent creates a compaction complete event.
func NewCompactionCompleteEvent(sessionID string, messages, chunks, tokensUsed int, d time.Duration) *CompactionEvent {
	return &CompactionEvent{
		Type:              EventTypeCompactionComplete,
		SessionID:         sessionID,
		MessagesCompacted: messages,
		ChunksProcessed:   chunks,
		TokensUsed:        tokensUsed,
		Duration:          d,
	}
}

// NewCompactionErrorEvent creates a compaction error event.
func NewCompactionErrorEvent(sessionID string, err error, d time.Duration) *CompactionEvent {
	return &CompactionEvent{
		Type:      EventTypeCompactionError,
		SessionID: sessionID,
		Error:     err,
		Duration:  d,
	}
}

// NewCompactionSkippedEvent creates an event for a trigger that found a pass in flight.
func NewCompactionSkippedEvent(sessionID string) *CompactionEvent {
	return &CompactionEvent{
		Type:      EventTypeCompactionSkipped,
		SessionID: sessionID,
	}
}

// IsTerminal returns true if the event ends a pass.
func (e *CompactionEvent) IsTerminal() bool {
	return e.Type == EventTypeCompactionComplete ||
		e.Type == EventTypeCompactionError ||
		e.Type == EventTypeCompactionSkipped
}
