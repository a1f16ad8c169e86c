package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/entrhq/memoryd/pkg/logging"
	"github.com/entrhq/memoryd/pkg/types"
)

var debugLog = logging.NewLogger("memory")

// Compactor schedules background compaction. *compaction.Scheduler
// satisfies it.
type Compactor interface {
	Trigger(ctx context.Context, sessionID string, length int64) bool
	Wait()
}

// LongTermMemory indexes and searches messages. *longtermmemory.Memory
// satisfies it.
type LongTermMemory interface {
	Index(ctx context.Context, sessionID string, messages []types.Message) error
	Search(ctx context.Context, sessionID, query string) ([]types.SearchResult, error)
}

// SessionLister pages through the session registry. *registry.Registry
// satisfies it.
type SessionLister interface {
	List(ctx context.Context, namespace string, page, size int) ([]string, error)
}

// AppendRequest is the body of an append.
type AppendRequest struct {
	Messages []types.Message `json:"messages"`
	Context  *string         `json:"context,omitempty"`
}

// Service is the request-level entry point of the memory engine.
type Service struct {
	window       *WindowStore
	sessions     SessionLister
	compactor    Compactor
	longTerm     LongTermMemory
	indexTimeout time.Duration

	wg sync.WaitGroup
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLongTermMemory enables indexing on append and retrieval.
func WithLongTermMemory(ltm LongTermMemory) ServiceOption {
	return func(s *Service) { s.longTerm = ltm }
}

// WithIndexTimeout bounds each background indexing task.
func WithIndexTimeout(d time.Duration) ServiceOption {
	return func(s *Service) { s.indexTimeout = d }
}

// NewService composes the engine.
func NewService(window *WindowStore, sessions SessionLister, compactor Compactor, opts ...ServiceOption) *Service {
	s := &Service{window: window, sessions: sessions, compactor: compactor}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LongTermEnabled reports whether retrieval is available.
func (s *Service) LongTermEnabled() bool { return s.longTerm != nil }

func validateSessionID(id string) error {
	if strings.TrimSpace(id) == "" {
		return types.ValidationError("session id is required")
	}
	return nil
}

// Append stores messages and returns once they are durable. Compaction and
// long-term indexing run afterwards in the background.
func (s *Service) Append(ctx context.Context, sessionID, namespace string, req AppendRequest) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}
	length, err := s.window.Append(ctx, sessionID, req.Messages, AppendOptions{
		Context:   req.Context,
		Namespace: namespace,
	})
	if err != nil {
		return err
	}

	if s.compactor != nil {
		s.compactor.Trigger(ctx, sessionID, length)
	}
	if s.longTerm != nil {
		s.indexInBackground(ctx, sessionID, req.Messages)
	}
	return nil
}

func (s *Service) indexInBackground(ctx context.Context, sessionID string, messages []types.Message) {
	taskCtx := context.WithoutCancel(ctx)
	msgs := append([]types.Message(nil), messages...)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if s.indexTimeout > 0 {
			var cancel context.CancelFunc
			taskCtx, cancel = context.WithTimeout(taskCtx, s.indexTimeout)
			defer cancel()
		}
		if err := s.longTerm.Index(taskCtx, sessionID, msgs); err != nil {
			debugLog.Session("error", sessionID, "long-term indexing failed", err)
		}
	}()
}

// Read returns the current window, summary and token counter.
func (s *Service) Read(ctx context.Context, sessionID string) (*types.MemoryResponse, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}
	return s.window.Read(ctx, sessionID, 0)
}

// Delete removes the session and its registry entry. Long-term records
// are kept.
func (s *Service) Delete(ctx context.Context, sessionID, namespace string) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}
	return s.window.Delete(ctx, sessionID, namespace)
}

// ListSessions returns one page of session ids, oldest activity first.
func (s *Service) ListSessions(ctx context.Context, namespace string, page, size int) ([]string, error) {
	return s.sessions.List(ctx, namespace, page, size)
}

// Search returns long-term memories of sessionID similar to text.
func (s *Service) Search(ctx context.Context, sessionID, text string) ([]types.SearchResult, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}
	if s.longTerm == nil {
		return nil, types.ErrLongTermMemoryDisabled
	}
	if strings.TrimSpace(text) == "" {
		return nil, types.ValidationError("search text is required")
	}
	return s.longTerm.Search(ctx, sessionID, text)
}

// Wait blocks until background compaction and indexing have finished.
func (s *Service) Wait() {
	s.wg.Wait()
	if s.compactor != nil {
		s.compactor.Wait()
	}
}
