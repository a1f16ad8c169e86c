package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/memoryd/pkg/compaction"
	"github.com/entrhq/memoryd/pkg/llm"
	"github.com/entrhq/memoryd/pkg/llm/llmtest"
	"github.com/entrhq/memoryd/pkg/longtermmemory"
	"github.com/entrhq/memoryd/pkg/registry"
	"github.com/entrhq/memoryd/pkg/store"
	"github.com/entrhq/memoryd/pkg/types"
)

const testWindow = 12

func newClient(t *testing.T) (*miniredis.Miniredis, *store.Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := store.NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr(), Protocol: 2}))
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func messages(from, to int) []types.Message {
	out := make([]types.Message, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, types.Message{Role: "user", Content: fmt.Sprintf("message %d", i)})
	}
	return out
}

func newTestService(t *testing.T, client store.Client, fake *llmtest.Fake, opts ...ServiceOption) *Service {
	t.Helper()
	return newWindowedService(t, client, fake, testWindow, opts...)
}

func newWindowedService(t *testing.T, client store.Client, provider llm.Provider, window int, opts ...ServiceOption) *Service {
	t.Helper()
	summarizer, err := compaction.NewSummarizer(provider, llmtest.WordCounter{}, "gpt-3.5-turbo", compaction.DefaultBudget())
	require.NoError(t, err)
	sched, err := compaction.NewScheduler(client, summarizer, window)
	require.NoError(t, err)
	return NewService(NewWindowStore(client, window), registry.New(client), sched, opts...)
}

// gatedProvider holds every completion until release is closed.
type gatedProvider struct {
	*llmtest.Fake
	started chan struct{}
	release chan struct{}
}

func newGatedProvider() *gatedProvider {
	return &gatedProvider{
		Fake:    llmtest.NewFake(4),
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (g *gatedProvider) ChatComplete(ctx context.Context, model, prompt string, maxTokens int) (llm.Completion, error) {
	select {
	case g.started <- struct{}{}:
	default:
	}
	select {
	case <-g.release:
	case <-ctx.Done():
		return llm.Completion{}, ctx.Err()
	}
	return g.Fake.ChatComplete(ctx, model, prompt, maxTokens)
}

func TestWindowAppendOrdersNewestFirst(t *testing.T) {
	_, client := newClient(t)
	w := NewWindowStore(client, testWindow)

	n, err := w.Append(context.Background(), "s1", messages(0, 3), AppendOptions{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	resp, err := w.Read(context.Background(), "s1", 0)
	require.NoError(t, err)
	require.Len(t, resp.Messages, 3)
	assert.Equal(t, "message 2", resp.Messages[0].Content)
	assert.Equal(t, "message 0", resp.Messages[2].Content)
	assert.Nil(t, resp.Context)
	assert.Zero(t, resp.Tokens)
}

func TestWindowAppendSetsContextAndRegistry(t *testing.T) {
	mr, client := newClient(t)
	w := NewWindowStore(client, testWindow)
	summary := "earlier"

	_, err := w.Append(context.Background(), "s1", messages(0, 1), AppendOptions{Context: &summary, Namespace: "team"})
	require.NoError(t, err)

	got, err := mr.Get(store.ContextKey("s1"))
	require.NoError(t, err)
	assert.Equal(t, "earlier", got)

	members, err := mr.ZMembers(store.RegistryKey("team"))
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, members)
	assert.False(t, mr.Exists(store.RegistryKey("")))
}

func TestWindowAppendRejectsEmptyBatch(t *testing.T) {
	_, client := newClient(t)
	w := NewWindowStore(client, testWindow)

	_, err := w.Append(context.Background(), "s1", nil, AppendOptions{})
	assert.True(t, types.IsValidation(err))
}

func TestWindowReadCapsAtWindow(t *testing.T) {
	_, client := newClient(t)
	w := NewWindowStore(client, 4)

	_, err := w.Append(context.Background(), "s1", messages(0, 6), AppendOptions{})
	require.NoError(t, err)

	resp, err := w.Read(context.Background(), "s1", 0)
	require.NoError(t, err)
	require.Len(t, resp.Messages, 4)
	assert.Equal(t, "message 5", resp.Messages[0].Content)
}

func TestWindowReadTokens(t *testing.T) {
	mr, client := newClient(t)
	w := NewWindowStore(client, testWindow)
	require.NoError(t, mr.Set(store.TokensKey("s1"), "42"))

	resp, err := w.Read(context.Background(), "s1", 0)
	require.NoError(t, err)
	assert.EqualValues(t, 42, resp.Tokens)
	assert.Empty(t, resp.Messages)
}

func TestWindowDelete(t *testing.T) {
	mr, client := newClient(t)
	w := NewWindowStore(client, testWindow)
	summary := "s"
	_, err := w.Append(context.Background(), "s1", messages(0, 2), AppendOptions{Context: &summary})
	require.NoError(t, err)
	require.NoError(t, mr.Set(store.TokensKey("s1"), "5"))

	require.NoError(t, w.Delete(context.Background(), "s1", ""))

	assert.False(t, mr.Exists(store.SessionKey("s1")))
	assert.False(t, mr.Exists(store.ContextKey("s1")))
	assert.False(t, mr.Exists(store.TokensKey("s1")))
	assert.False(t, mr.Exists(store.RegistryKey("")))
}

func TestServiceAppendCompactsPastWindow(t *testing.T) {
	_, client := newClient(t)
	fake := llmtest.NewFake(4)
	svc := newTestService(t, client, fake)
	ctx := context.Background()

	require.NoError(t, svc.Append(ctx, "s1", "", AppendRequest{Messages: messages(0, testWindow)}))
	svc.Wait()
	assert.Empty(t, fake.Prompts())

	require.NoError(t, svc.Append(ctx, "s1", "", AppendRequest{Messages: messages(testWindow, testWindow+1)}))
	svc.Wait()

	resp, err := svc.Read(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, resp.Messages, testWindow/2)
	assert.Equal(t, "message 12", resp.Messages[0].Content)
	assert.Equal(t, "message 7", resp.Messages[5].Content)
	require.NotNil(t, resp.Context)
	assert.Equal(t, "summary", *resp.Context)
	assert.EqualValues(t, 10, resp.Tokens)
	require.Len(t, fake.Prompts(), 1)
}

func TestServiceDeleteRemovesSession(t *testing.T) {
	_, client := newClient(t)
	svc := newTestService(t, client, llmtest.NewFake(4))
	ctx := context.Background()

	require.NoError(t, svc.Append(ctx, "s1", "", AppendRequest{Messages: messages(0, 2)}))
	require.NoError(t, svc.Append(ctx, "s2", "", AppendRequest{Messages: messages(0, 1)}))

	ids, err := svc.ListSessions(ctx, "", registry.DefaultPage, registry.DefaultSize)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"s1", "s2"}, ids)

	require.NoError(t, svc.Delete(ctx, "s1", ""))

	resp, err := svc.Read(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, resp.Messages)
	assert.Nil(t, resp.Context)

	ids, err = svc.ListSessions(ctx, "", registry.DefaultPage, registry.DefaultSize)
	require.NoError(t, err)
	assert.Equal(t, []string{"s2"}, ids)
}

func TestServiceRejectsBlankSession(t *testing.T) {
	_, client := newClient(t)
	svc := newTestService(t, client, llmtest.NewFake(4))

	err := svc.Append(context.Background(), " ", "", AppendRequest{Messages: messages(0, 1)})
	assert.True(t, types.IsValidation(err))
	_, err = svc.Read(context.Background(), "")
	assert.True(t, types.IsValidation(err))
}

func TestServiceSearchDisabled(t *testing.T) {
	_, client := newClient(t)
	svc := newTestService(t, client, llmtest.NewFake(4))

	assert.False(t, svc.LongTermEnabled())
	_, err := svc.Search(context.Background(), "s1", "hello")
	assert.ErrorIs(t, err, types.ErrLongTermMemoryDisabled)
	assert.True(t, types.IsValidation(err))
}

func TestServiceIndexesAndSearches(t *testing.T) {
	_, client := newClient(t)
	fake := llmtest.NewFake(8)
	index, err := longtermmemory.NewChromemIndex(8)
	require.NoError(t, err)
	ltm, err := longtermmemory.New(fake, index)
	require.NoError(t, err)
	svc := newTestService(t, client, fake, WithLongTermMemory(ltm), WithIndexTimeout(time.Second))
	ctx := context.Background()

	msgs := []types.Message{
		{Role: "user", Content: "my favourite colour is green"},
		{Role: "assistant", Content: "noted, green it is"},
	}
	require.NoError(t, svc.Append(ctx, "s1", "", AppendRequest{Messages: msgs}))
	svc.Wait()

	results, err := svc.Search(ctx, "s1", "my favourite colour is green")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "my favourite colour is green", results[0].Content)

	_, err = svc.Search(ctx, "s1", "  ")
	assert.True(t, types.IsValidation(err))
}

type mockLongTerm struct {
	mock.Mock
}

func (m *mockLongTerm) Index(ctx context.Context, sessionID string, msgs []types.Message) error {
	return m.Called(sessionID, msgs).Error(0)
}

func (m *mockLongTerm) Search(ctx context.Context, sessionID, query string) ([]types.SearchResult, error) {
	args := m.Called(sessionID, query)
	res, _ := args.Get(0).([]types.SearchResult)
	return res, args.Error(1)
}

func TestServiceIndexFailureDoesNotFailAppend(t *testing.T) {
	_, client := newClient(t)
	ltm := &mockLongTerm{}
	ltm.On("Index", "s1", messages(0, 1)).Return(errors.New("embedding down")).Once()
	svc := newTestService(t, client, llmtest.NewFake(4), WithLongTermMemory(ltm))

	require.NoError(t, svc.Append(context.Background(), "s1", "", AppendRequest{Messages: messages(0, 1)}))
	svc.Wait()

	ltm.AssertExpectations(t)
	resp, err := svc.Read(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, resp.Messages, 1)
}

func TestServiceCompactionWithConcurrentAppend(t *testing.T) {
	_, client := newClient(t)
	provider := newGatedProvider()
	svc := newWindowedService(t, client, provider, 10)
	ctx := context.Background()

	require.NoError(t, svc.Append(ctx, "s1", "", AppendRequest{Messages: messages(0, 12)}))
	select {
	case <-provider.started:
	case <-time.After(5 * time.Second):
		t.Fatal("compaction did not start")
	}

	resp, err := svc.Read(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, resp.Messages, 10)
	assert.Equal(t, "message 11", resp.Messages[0].Content)
	assert.Equal(t, "message 2", resp.Messages[9].Content)
	assert.Nil(t, resp.Context)

	require.NoError(t, svc.Append(ctx, "s1", "", AppendRequest{Messages: messages(12, 14)}))

	close(provider.release)
	svc.Wait()

	resp, err = svc.Read(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, resp.Messages, 5)
	assert.Equal(t, "message 13", resp.Messages[0].Content)
	assert.Equal(t, "message 9", resp.Messages[4].Content)
	require.NotNil(t, resp.Context)
	assert.Equal(t, "summary", *resp.Context)
	assert.Positive(t, resp.Tokens)

	prompts := provider.Prompts()
	require.Len(t, prompts, 1, "the append during the pass does not start a second one")
	assert.Contains(t, prompts[0], "user: message 2\n")
	assert.Contains(t, prompts[0], "user: message 6\n")
	assert.NotContains(t, prompts[0], "message 7")
	assert.NotContains(t, prompts[0], "message 12")
}

func TestServiceCompactionDropsMessagesPastWindow(t *testing.T) {
	_, client := newClient(t)
	fake := llmtest.NewFake(4)
	svc := newWindowedService(t, client, fake, 10)
	ctx := context.Background()

	require.NoError(t, svc.Append(ctx, "s1", "", AppendRequest{Messages: messages(0, 25)}))
	svc.Wait()

	prompts := fake.Prompts()
	require.Len(t, prompts, 1)
	for i := 15; i < 20; i++ {
		assert.Contains(t, prompts[0], fmt.Sprintf("user: message %d\n", i))
	}
	assert.NotContains(t, prompts[0], "message 14")
	assert.NotContains(t, prompts[0], "message 20")

	resp, err := svc.Read(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, resp.Messages, 5)
	assert.Equal(t, "message 24", resp.Messages[0].Content)
	assert.Equal(t, "message 20", resp.Messages[4].Content)
	require.NotNil(t, resp.Context)
	assert.Equal(t, "summary", *resp.Context)
}
