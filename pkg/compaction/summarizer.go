package compaction

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/entrhq/memoryd/pkg/llm"
	"github.com/entrhq/memoryd/pkg/llm/parser"
	"github.com/entrhq/memoryd/pkg/types"
)

// TokenCounter counts and truncates text by token. *tokenizer.Tokenizer
// satisfies it.
type TokenCounter interface {
	CountTokens(text string) int
	Truncate(text string, maxTokens int) string
}

// Budget bounds the size of each summarization call.
type Budget struct {
	// MaxTokens is the summarization model's context window.
	MaxTokens int
	// SummaryReserve is held back for the running summary.
	SummaryReserve int
	// SafetyBuffer covers the prompt template and tokenizer drift.
	SafetyBuffer int
	// MaxOutputTokens bounds each completion.
	MaxOutputTokens int
}

// DefaultBudget matches a 4096-token model.
func DefaultBudget() Budget {
	return Budget{
		MaxTokens:       4096,
		SummaryReserve:  512,
		SafetyBuffer:    230,
		MaxOutputTokens: 512,
	}
}

// ChunkTokens is the largest number of message tokens sent in one call.
func (b Budget) ChunkTokens() int {
	return b.MaxTokens - b.SummaryReserve - b.SafetyBuffer
}

// Summarizer folds messages into a running summary chunk by chunk.
type Summarizer struct {
	provider llm.Provider
	counter  TokenCounter
	model    string
	budget   Budget
}

// NewSummarizer creates a summarizer. It returns an error if the budget
// leaves no room for messages.
func NewSummarizer(provider llm.Provider, counter TokenCounter, model string, budget Budget) (*Summarizer, error) {
	if budget.ChunkTokens() <= 0 {
		return nil, fmt.Errorf("compaction: budget leaves no room for messages (max %d, reserve %d, safety %d)",
			budget.MaxTokens, budget.SummaryReserve, budget.SafetyBuffer)
	}
	if budget.MaxOutputTokens <= 0 {
		budget.MaxOutputTokens = DefaultBudget().MaxOutputTokens
	}
	return &Summarizer{provider: provider, counter: counter, model: model, budget: budget}, nil
}

// Result is the outcome of a summarization pass.
type Result struct {
	Summary    string
	TokensUsed int
	Chunks     int
}

// chunk splits chronological messages into line groups whose token sum
// stays within the chunk budget. A single line over budget is truncated.
func (s *Summarizer) chunk(messages []types.Message) [][]string {
	limit := s.budget.ChunkTokens()

	var (
		chunks [][]string
		cur    []string
		size   int
	)
	for _, m := range messages {
		line, n := s.fit(m.Line(), limit)
		if size+n > limit && len(cur) > 0 {
			chunks = append(chunks, cur)
			cur, size = nil, 0
		}
		cur = append(cur, line)
		size += n
	}
	if len(cur) > 0 {
		chunks = append(chunks, cur)
	}
	return chunks
}

// fit truncates line until it counts at most limit tokens. Decoding a token
// prefix and counting it again can yield more tokens than were kept, so the
// target shrinks by the overshoot until the line fits.
func (s *Summarizer) fit(line string, limit int) (string, int) {
	n := s.counter.CountTokens(line)
	for target := limit; n > limit; {
		if target <= 0 {
			return "", 0
		}
		line = s.counter.Truncate(line, target)
		n = s.counter.CountTokens(line)
		target -= max(n-limit, 1)
	}
	return line, n
}

// Summarize folds messages (chronological order) into summary. progress,
// if non-nil, is called after each chunk. Any failure aborts the pass.
func (s *Summarizer) Summarize(ctx context.Context, summary string, messages []types.Message, progress func(chunks, tokens int)) (Result, error) {
	res := Result{Summary: summary}
	for _, lines := range s.chunk(messages) {
		text, used, err := s.summarizeChunk(ctx, res.Summary, lines)
		if err != nil {
			return Result{}, err
		}
		res.Summary = text
		res.TokensUsed += used
		res.Chunks++
		if progress != nil {
			progress(res.Chunks, res.TokensUsed)
		}
	}
	return res, nil
}

func (s *Summarizer) summarizeChunk(ctx context.Context, summary string, lines []string) (string, int, error) {
	ctx, span := tracer.Start(ctx, "compaction.summarize_chunk")
	defer span.End()
	span.SetAttributes(attribute.Int("lines", len(lines)))

	out, err := s.provider.ChatComplete(ctx, s.model, buildSummaryPrompt(summary, lines), s.budget.MaxOutputTokens)
	if err != nil {
		span.RecordError(err)
		return "", 0, fmt.Errorf("compaction: summarize chunk: %w", err)
	}

	text := parser.StripThinking(out.Text)
	if strings.TrimSpace(text) == "" {
		return "", 0, types.SummarizationError("summarizer returned an empty summary")
	}
	if out.TokensUsed <= 0 {
		return "", 0, types.SummarizationError("summarizer reported no token usage")
	}
	span.SetAttributes(attribute.Int("tokens_used", out.TokensUsed))
	return text, out.TokensUsed, nil
}
