package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/memoryd/pkg/types"
)

func TestChatComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3.2", req["model"])
		assert.Equal(t, false, req["stream"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"model":"llama3.2","message":{"role":"assistant","content":"short summary"},"done":true,"prompt_eval_count":30,"eval_count":12}`+"\n")
	}))
	defer srv.Close()

	p, err := NewProvider(srv.URL, "", srv.Client())
	require.NoError(t, err)

	out, err := p.ChatComplete(context.Background(), "llama3.2", "summarize", 512)
	require.NoError(t, err)
	assert.Equal(t, "short summary", out.Text)
	assert.Equal(t, 42, out.TokensUsed)
	assert.Equal(t, "ollama", p.Name())
}

func TestEmbedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		var req struct {
			Model  string `json:"model"`
			Prompt string `json:"prompt"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, DefaultEmbeddingModel, req.Model)

		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"embedding":[%d, 0.5]}`, len(req.Prompt))
	}))
	defer srv.Close()

	p, err := NewProvider(srv.URL, "", srv.Client())
	require.NoError(t, err)

	vecs, err := p.EmbedBatch(context.Background(), []string{"ab", "abcd"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{2, 0.5}, {4, 0.5}}, vecs)
}

func TestEmbedBatchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"model not found"}`)
	}))
	defer srv.Close()

	p, err := NewProvider(srv.URL, "missing", srv.Client())
	require.NoError(t, err)

	_, err = p.EmbedBatch(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.True(t, types.IsProvider(err))
}

func TestNewProviderHostFallback(t *testing.T) {
	t.Setenv("OLLAMA_HOST", "")
	p, err := NewProvider("", "", nil)
	require.NoError(t, err)
	assert.NotNil(t, p.client)

	_, err = NewProvider("://bad", "", nil)
	assert.Error(t, err)
}
