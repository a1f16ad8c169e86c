// Package compaction shrinks session windows by folding their oldest half
// into a running summary.
//
// A pass is triggered when an append leaves more than W messages in a
// session. At most one pass runs per session at a time; triggers that find
// a pass in flight are dropped. A pass reads messages [W/2, W), summarizes
// them in token-bounded chunks, then in one atomic batch trims the list to
// its newest W/2 entries, stores the new summary and adds the token usage
// to the session's counter. A failed pass changes nothing.
package compaction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/entrhq/memoryd/pkg/logging"
	"github.com/entrhq/memoryd/pkg/store"
	"github.com/entrhq/memoryd/pkg/types"
)

var (
	debugLog = logging.NewLogger("compaction")
	tracer   = otel.Tracer("github.com/entrhq/memoryd/pkg/compaction")
)

// timeNow is swappable in tests.
var timeNow = time.Now

// Scheduler runs compaction passes in the background.
type Scheduler struct {
	client      store.Client
	summarizer  *Summarizer
	guard       Guard
	window      int64
	taskTimeout time.Duration

	eventsMu sync.RWMutex
	events   chan<- *types.CompactionEvent

	wg sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithGuard replaces the default process-local guard.
func WithGuard(g Guard) Option {
	return func(s *Scheduler) { s.guard = g }
}

// WithTaskTimeout bounds each background pass. Zero means no bound.
func WithTaskTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.taskTimeout = d }
}

// NewScheduler creates a scheduler for windows of size window.
func NewScheduler(client store.Client, summarizer *Summarizer, window int, opts ...Option) (*Scheduler, error) {
	if window < 2 {
		return nil, fmt.Errorf("compaction: window size must be at least 2, got %d", window)
	}
	s := &Scheduler{
		client:     client,
		summarizer: summarizer,
		guard:      NewLocalGuard(),
		window:     int64(window),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SetEventChannel sets the sink for compaction events. Events are dropped
// when the channel is full.
func (s *Scheduler) SetEventChannel(ch chan<- *types.CompactionEvent) {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	s.events = ch
}

func (s *Scheduler) emit(e *types.CompactionEvent) {
	s.eventsMu.RLock()
	defer s.eventsMu.RUnlock()
	if s.events == nil {
		return
	}
	select {
	case s.events <- e:
	default:
	}
}

// Window returns W.
func (s *Scheduler) Window() int64 { return s.window }

// Trigger starts a background pass for sessionID if length exceeds the
// window and no pass is in flight. It never blocks on the pass itself and
// reports whether one was started.
func (s *Scheduler) Trigger(ctx context.Context, sessionID string, length int64) bool {
	if length <= s.window {
		return false
	}

	release, ok := s.guard.Acquire(ctx, sessionID)
	if !ok {
		debugLog.Debugf("compaction already in flight for %s", sessionID)
		s.emit(types.NewCompactionSkippedEvent(sessionID))
		return false
	}

	taskCtx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer release()

		if s.taskTimeout > 0 {
			var cancel context.CancelFunc
			taskCtx, cancel = context.WithTimeout(taskCtx, s.taskTimeout)
			defer cancel()
		}
		if err := s.Compact(taskCtx, sessionID); err != nil {
			debugLog.Session("error", sessionID, "compaction failed", err)
		}
	}()
	return true
}

// Wait blocks until every background pass has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Compact runs one pass synchronously. It does not consult the guard.
func (s *Scheduler) Compact(ctx context.Context, sessionID string) (err error) {
	ctx, span := tracer.Start(ctx, "compaction.pass")
	defer span.End()
	span.SetAttributes(attribute.String("session", sessionID))

	start := timeNow()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.emit(types.NewCompactionErrorEvent(sessionID, err, timeNow().Sub(start)))
		}
	}()

	half := s.window / 2
	var (
		list    *store.ListReply
		summary *store.StringReply
	)
	if err := s.client.Atomic(ctx, func(b store.Batch) {
		list = b.Range(store.SessionKey(sessionID), half, s.window-1)
		summary = b.Get(store.ContextKey(sessionID))
	}); err != nil {
		return fmt.Errorf("compaction: read %s: %w", sessionID, err)
	}

	raw := list.Val()
	if len(raw) == 0 {
		return nil
	}

	// Stored newest-first; summarize oldest-first.
	messages := make([]types.Message, len(raw))
	for i, r := range raw {
		messages[len(raw)-1-i] = types.DecodeMessage(r)
	}
	current, _ := summary.Val()

	s.emit(types.NewCompactionStartEvent(sessionID, len(messages)))
	debugLog.Debugf("compacting %d messages for %s", len(messages), sessionID)

	res, err := s.summarizer.Summarize(ctx, current, messages, func(chunks, tokens int) {
		s.emit(types.NewCompactionProgressEvent(sessionID, chunks, tokens))
	})
	if err != nil {
		return err
	}

	if err := s.client.Atomic(ctx, func(b store.Batch) {
		b.Trim(store.SessionKey(sessionID), 0, half-1)
		b.Set(store.ContextKey(sessionID), res.Summary)
		b.IncrBy(store.TokensKey(sessionID), int64(res.TokensUsed))
	}); err != nil {
		return fmt.Errorf("compaction: commit %s: %w", sessionID, err)
	}

	d := timeNow().Sub(start)
	span.SetAttributes(attribute.Int("chunks", res.Chunks), attribute.Int("tokens_used", res.TokensUsed))
	s.emit(types.NewCompactionCompleteEvent(sessionID, len(messages), res.Chunks, res.TokensUsed, d))
	debugLog.Infof("compacted %d messages for %s in %d chunks (%d tokens, %s)",
		len(messages), sessionID, res.Chunks, res.TokensUsed, d)
	return nil
}
