package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/memoryd/pkg/compaction"
	"github.com/entrhq/memoryd/pkg/llm/llmtest"
	"github.com/entrhq/memoryd/pkg/longtermmemory"
	"github.com/entrhq/memoryd/pkg/memory"
	"github.com/entrhq/memoryd/pkg/registry"
	"github.com/entrhq/memoryd/pkg/store"
	"github.com/entrhq/memoryd/pkg/types"
)

const testWindow = 10

type harness struct {
	mr  *miniredis.Miniredis
	svc *memory.Service
	srv *httptest.Server
}

func newHarness(t *testing.T, longTerm bool) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := store.NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr(), Protocol: 2}))
	t.Cleanup(func() { _ = client.Close() })

	fake := llmtest.NewFake(8)
	summarizer, err := compaction.NewSummarizer(fake, llmtest.WordCounter{}, "gpt-3.5-turbo", compaction.DefaultBudget())
	require.NoError(t, err)
	sched, err := compaction.NewScheduler(client, summarizer, testWindow)
	require.NoError(t, err)

	var opts []memory.ServiceOption
	if longTerm {
		index, err := longtermmemory.NewChromemIndex(8)
		require.NoError(t, err)
		ltm, err := longtermmemory.New(fake, index)
		require.NoError(t, err)
		opts = append(opts, memory.WithLongTermMemory(ltm))
	}
	svc := memory.NewService(memory.NewWindowStore(client, testWindow), registry.New(client), sched, opts...)

	srv := httptest.NewServer(New(svc, Options{}).Handler())
	t.Cleanup(srv.Close)
	t.Cleanup(svc.Wait)
	return &harness{mr: mr, svc: svc, srv: srv}
}

func (h *harness) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func appendBody(from, to int) memory.AppendRequest {
	req := memory.AppendRequest{}
	for i := from; i < to; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		req.Messages = append(req.Messages, types.Message{Role: role, Content: fmt.Sprintf("turn %d", i)})
	}
	return req
}

func TestHealth(t *testing.T) {
	h := newHarness(t, false)
	before := time.Now().UnixMilli()

	resp, body := h.do(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got healthResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.GreaterOrEqual(t, got.Now, before)
}

func TestUnknownRouteIsNotFound(t *testing.T) {
	h := newHarness(t, false)
	resp, _ := h.do(t, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMemoryLifecycle(t *testing.T) {
	h := newHarness(t, false)

	resp, body := h.do(t, http.MethodPost, "/sessions/s1/memory", appendBody(0, 4))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.JSONEq(t, `{"status":"Ok"}`, string(body))

	resp, body = h.do(t, http.MethodGet, "/sessions/s1/memory", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got types.MemoryResponse
	require.NoError(t, json.Unmarshal(body, &got))
	require.Len(t, got.Messages, 4)
	assert.Equal(t, "turn 3", got.Messages[0].Content)
	assert.Equal(t, "assistant", got.Messages[0].Role)

	resp, body = h.do(t, http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `["s1"]`, string(body))

	resp, _ = h.do(t, http.MethodDelete, "/sessions/s1/memory", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = h.do(t, http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))
}

// Ten-message window: after 11 messages the oldest half is folded into the
// summary and five messages remain.
func TestWindowCompactionScenario(t *testing.T) {
	h := newHarness(t, false)

	resp, _ := h.do(t, http.MethodPost, "/sessions/s1/memory", appendBody(0, 10))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	h.svc.Wait()

	resp, _ = h.do(t, http.MethodPost, "/sessions/s1/memory", appendBody(10, 11))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	h.svc.Wait()

	_, body := h.do(t, http.MethodGet, "/sessions/s1/memory", nil)
	var got types.MemoryResponse
	require.NoError(t, json.Unmarshal(body, &got))
	require.Len(t, got.Messages, testWindow/2)
	assert.Equal(t, "turn 10", got.Messages[0].Content)
	require.NotNil(t, got.Context)
	assert.Equal(t, "summary", *got.Context)
	assert.EqualValues(t, 10, got.Tokens)
}

func TestPostMemoryWithContext(t *testing.T) {
	h := newHarness(t, false)
	req := appendBody(0, 1)
	summary := "they like tea"
	req.Context = &summary

	resp, _ := h.do(t, http.MethodPost, "/sessions/s1/memory", req)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, body := h.do(t, http.MethodGet, "/sessions/s1/memory", nil)
	var got types.MemoryResponse
	require.NoError(t, json.Unmarshal(body, &got))
	require.NotNil(t, got.Context)
	assert.Equal(t, "they like tea", *got.Context)
}

func TestNamespacedSessions(t *testing.T) {
	h := newHarness(t, false)

	resp, _ := h.do(t, http.MethodPost, "/sessions/a/memory?namespace=team", appendBody(0, 1))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = h.do(t, http.MethodPost, "/sessions/b/memory", appendBody(0, 1))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, body := h.do(t, http.MethodGet, "/sessions?namespace=team", nil)
	assert.JSONEq(t, `["a"]`, string(body))
	_, body = h.do(t, http.MethodGet, "/sessions", nil)
	assert.JSONEq(t, `["b"]`, string(body))
}

func TestBadRequests(t *testing.T) {
	h := newHarness(t, false)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{name: "malformed json", method: http.MethodPost, path: "/sessions/s1/memory", body: `{"messages": [`},
		{name: "empty body", method: http.MethodPost, path: "/sessions/s1/memory", body: ""},
		{name: "no messages", method: http.MethodPost, path: "/sessions/s1/memory", body: `{"messages": []}`},
		{name: "missing role", method: http.MethodPost, path: "/sessions/s1/memory", body: `{"messages": [{"content": "hi"}]}`},
		{name: "page too large", method: http.MethodGet, path: "/sessions?page=101"},
		{name: "page not a number", method: http.MethodGet, path: "/sessions?page=one"},
		{name: "zero size", method: http.MethodGet, path: "/sessions?size=0"},
		{name: "retrieval disabled", method: http.MethodPost, path: "/sessions/s1/retrieval", body: `{"text": "hi"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := h.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))
			var got errorResponse
			require.NoError(t, json.Unmarshal(body, &got))
			assert.NotEmpty(t, got.Error)
		})
	}
}

func TestBodyTooLarge(t *testing.T) {
	h := newHarness(t, false)
	srv := httptest.NewServer(New(h.svc, Options{MaxBodyBytes: 64}).Handler())
	defer srv.Close()

	body := `{"messages":[{"role":"user","content":"` + strings.Repeat("x", 200) + `"}]}`
	resp, err := srv.Client().Post(srv.URL+"/sessions/s1/memory", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStoreFailureIsInternalError(t *testing.T) {
	h := newHarness(t, false)
	h.mr.Close()

	resp, body := h.do(t, http.MethodGet, "/sessions/s1/memory", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	var got errorResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.NotEmpty(t, got.Error)
}

func TestRetrieval(t *testing.T) {
	h := newHarness(t, true)

	req := memory.AppendRequest{Messages: []types.Message{
		{Role: "user", Content: "the launch code is blue falcon"},
		{Role: "assistant", Content: "understood"},
	}}
	resp, _ := h.do(t, http.MethodPost, "/sessions/s1/memory", req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	h.svc.Wait()

	resp, body := h.do(t, http.MethodPost, "/sessions/s1/retrieval", searchRequest{Text: "the launch code is blue falcon"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var got []types.SearchResult
	require.NoError(t, json.Unmarshal(body, &got))
	require.NotEmpty(t, got)
	assert.Equal(t, "the launch code is blue falcon", got[0].Content)
	assert.Equal(t, "user", got[0].Role)
	assert.InDelta(t, 0, got[0].Distance, 1e-4)

	resp, body = h.do(t, http.MethodPost, "/sessions/other/retrieval", searchRequest{Text: "blue falcon"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))
}

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) Append(ctx context.Context, sessionID, namespace string, req memory.AppendRequest) error {
	return m.Called(sessionID, namespace, req).Error(0)
}

func (m *mockBackend) Read(ctx context.Context, sessionID string) (*types.MemoryResponse, error) {
	args := m.Called(sessionID)
	resp, _ := args.Get(0).(*types.MemoryResponse)
	return resp, args.Error(1)
}

func (m *mockBackend) Delete(ctx context.Context, sessionID, namespace string) error {
	return m.Called(sessionID, namespace).Error(0)
}

func (m *mockBackend) ListSessions(ctx context.Context, namespace string, page, size int) ([]string, error) {
	args := m.Called(namespace, page, size)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

func (m *mockBackend) Search(ctx context.Context, sessionID, text string) ([]types.SearchResult, error) {
	args := m.Called(sessionID, text)
	res, _ := args.Get(0).([]types.SearchResult)
	return res, args.Error(1)
}

func TestErrorMapping(t *testing.T) {
	backend := &mockBackend{}
	backend.On("Search", "s1", "q").Return(nil, types.ProviderError("embed", errors.New("rate limited")))
	backend.On("Delete", "s1", "ns").Return(types.StoreError("del", errors.New("down")))
	backend.On("ListSessions", "", 2, 5).Return([]string{"x"}, nil)

	handler := New(backend, Options{}).Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sessions/s1/retrieval", strings.NewReader(`{"text":"q"}`)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate limited")

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/sessions/s1/memory?namespace=ns", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions?page=2&size=5", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["x"]`, rec.Body.String())

	backend.AssertExpectations(t)
}

func TestStartAndShutdown(t *testing.T) {
	backend := &mockBackend{}
	srv := New(backend, Options{Addr: "127.0.0.1:0", MaxConnections: 4})
	require.NoError(t, srv.Start())
	require.NotNil(t, srv.Addr())

	resp, err := http.Get("http://" + srv.Addr().String() + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	assert.NoError(t, <-srv.Done())
}
