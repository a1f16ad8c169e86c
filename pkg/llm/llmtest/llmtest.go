// Package llmtest provides provider doubles for tests.
package llmtest

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/entrhq/memoryd/pkg/llm"
)

// MockProvider is a testify mock implementing llm.Provider.
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) ChatComplete(ctx context.Context, model, prompt string, maxTokens int) (llm.Completion, error) {
	args := m.Called(ctx, model, prompt, maxTokens)
	return args.Get(0).(llm.Completion), args.Error(1)
}

func (m *MockProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	vecs, _ := args.Get(0).([][]float32)
	return vecs, args.Error(1)
}

func (m *MockProvider) Name() string { return "mock" }

// Fake is a deterministic provider. Embeddings are bag-of-words hashes so
// identical texts produce identical unit vectors.
type Fake struct {
	Dims    int
	Summary string
	Tokens  int

	mu      sync.Mutex
	prompts []string
	embeds  int
}

// NewFake returns a Fake producing vectors of dims dimensions.
func NewFake(dims int) *Fake {
	return &Fake{Dims: dims, Summary: "summary", Tokens: 10}
}

func (f *Fake) ChatComplete(ctx context.Context, model, prompt string, maxTokens int) (llm.Completion, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	return llm.Completion{Text: f.Summary, TokensUsed: f.Tokens}, nil
}

func (f *Fake) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.embeds++
	f.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = Embed(t, f.Dims)
	}
	return out, nil
}

func (f *Fake) Name() string { return "fake" }

// Prompts returns the prompts received so far.
func (f *Fake) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

// EmbedCalls returns the number of EmbedBatch calls.
func (f *Fake) EmbedCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.embeds
}

// Embed hashes the words of text into a normalized vector.
func Embed(text string, dims int) []float32 {
	v := make([]float32, dims)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[int(h.Sum32())%dims]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}

// WordCounter counts one token per whitespace-separated word.
type WordCounter struct{}

func (WordCounter) CountTokens(text string) int { return len(strings.Fields(text)) }

func (WordCounter) Truncate(text string, maxTokens int) string {
	words := strings.Fields(text)
	if len(words) <= maxTokens {
		return text
	}
	if maxTokens <= 0 {
		return ""
	}
	return strings.Join(words[:maxTokens], " ")
}
