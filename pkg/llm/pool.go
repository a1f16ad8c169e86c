package llm

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/sync/semaphore"
)

// DefaultPoolSize matches the number of concurrent provider calls a single
// process allows unless configured otherwise.
const DefaultPoolSize = 8

// Pool bounds the number of in-flight calls to a Provider. Callers block
// while the pool is exhausted until a slot frees or their context ends.
type Pool struct {
	inner Provider
	sem   *semaphore.Weighted
	size  int
}

// NewPool wraps p so at most size calls run concurrently.
func NewPool(p Provider, size int) *Pool {
	if size <= 0 {
		size = DefaultPoolSize
	}
	return &Pool{inner: p, sem: semaphore.NewWeighted(int64(size)), size: size}
}

// Size returns the concurrency bound.
func (p *Pool) Size() int { return p.size }

func (p *Pool) acquire(ctx context.Context) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("llm: waiting for %s client: %w", p.inner.Name(), err)
	}
	return nil
}

func (p *Pool) ChatComplete(ctx context.Context, model, prompt string, maxTokens int) (Completion, error) {
	if err := p.acquire(ctx); err != nil {
		return Completion{}, err
	}
	defer p.sem.Release(1)
	return p.inner.ChatComplete(ctx, model, prompt, maxTokens)
}

func (p *Pool) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := p.acquire(ctx); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)
	return p.inner.EmbedBatch(ctx, texts)
}

func (p *Pool) Name() string { return p.inner.Name() }

// Close releases the wrapped provider if it holds resources.
func (p *Pool) Close() error {
	if c, ok := p.inner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
