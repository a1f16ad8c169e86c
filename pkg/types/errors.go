package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced by the memory engine.
type ErrorKind string

const (
	KindStore         ErrorKind = "store"         // KindStore indicates the key-value store was unreachable or rejected a command.
	KindProvider      ErrorKind = "provider"      // KindProvider indicates the LLM or embedding backend failed.
	KindSummarization ErrorKind = "summarization" // KindSummarization indicates the summarizer returned unusable output.
	KindValidation    ErrorKind = "validation"    // KindValidation indicates bad caller input.
)

// Sentinels usable with errors.Is.
var (
	ErrStore      = errors.New("store error")
	ErrProvider   = errors.New("provider error")
	ErrValidation = errors.New("validation error")

	// ErrLongTermMemoryDisabled is returned by retrieval when long-term memory is off.
	ErrLongTermMemoryDisabled = &Error{Kind: KindValidation, Op: "search", Err: errors.New("long-term memory is disabled")}
)

// Error is the typed error carried through the engine.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is maps kinds onto the package sentinels. Summarization failures are
// reported as provider failures.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrStore:
		return e.Kind == KindStore
	case ErrProvider:
		return e.Kind == KindProvider || e.Kind == KindSummarization
	case ErrValidation:
		return e.Kind == KindValidation
	}
	return false
}

// StoreError wraps a failure from the key-value store.
func StoreError(op string, err error) error {
	return &Error{Kind: KindStore, Op: op, Err: err}
}

// ProviderError wraps a failure from an LLM or embedding backend.
func ProviderError(op string, err error) error {
	return &Error{Kind: KindProvider, Op: op, Err: err}
}

// SummarizationError reports an empty or malformed summarizer response.
func SummarizationError(msg string) error {
	return &Error{Kind: KindSummarization, Op: "summarize", Err: errors.New(msg)}
}

// ValidationError reports bad caller input.
func ValidationError(format string, args ...any) error {
	return &Error{Kind: KindValidation, Err: fmt.Errorf(format, args...)}
}

func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }
func IsStore(err error) bool      { return errors.Is(err, ErrStore) }
func IsProvider(err error) bool   { return errors.Is(err, ErrProvider) }
