package ollama

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/finrag/pkg/utils/json"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "all-minilm", req.Model)
		_, _ = w.Write([]byte(`{"embeddings":[[0.5,0.5]]}`))
	})
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &req))
		assert.False(t, req.Stream)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"hi"},"done":true}`))
	})
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"models":[]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestProvider(t *testing.T) {
	srv := newServer(t)
	p, err := NewProvider(map[string]any{"base_url": srv.URL + "/"})
	require.NoError(t, err)
	ctx := context.Background()

	vec, err := p.EmbedSingle(ctx, "text")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.5}, vec)

	out, err := p.Generate(ctx, "hello", "be brief")
	require.NoError(t, err)
	assert.Equal(t, "hi", out)

	assert.NoError(t, p.(*Provider).Ping(ctx))
}
