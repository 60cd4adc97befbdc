package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/finrag/pkg/utils/errors"
)

type stubProvider struct {
	name string
}

func (m *stubProvider) Name() string { return m.name }

func (m *stubProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

func (m *stubProvider) EmbedSingle(_ context.Context, _ string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

func (m *stubProvider) Chat(_ context.Context, _ []Message) (string, error) {
	return "chat", nil
}

func (m *stubProvider) Generate(_ context.Context, _ string, _ string) (string, error) {
	return "generated", nil
}

func init() {
	RegisterProvider("stub-full", func(config map[string]any) (Provider, error) {
		return &stubProvider{name: ConfigString(config, "name", "stub-full")}, nil
	})
	RegisterEmbeddingProvider("stub-embed", func(map[string]any) (EmbeddingProvider, error) {
		return &stubProvider{name: "stub-embed"}, nil
	})
	RegisterChatProvider("stub-chat", func(map[string]any) (ChatProvider, error) {
		return &stubProvider{name: "stub-chat"}, nil
	})
}

func TestNewEmbeddingProvider(t *testing.T) {
	p, err := NewEmbeddingProvider("stub-embed", nil)
	require.NoError(t, err)
	assert.Equal(t, "stub-embed", p.Name())

	// 回退到完整供应商
	p, err = NewEmbeddingProvider("stub-full", map[string]any{"name": "custom"})
	require.NoError(t, err)
	assert.Equal(t, "custom", p.Name())

	_, err = NewEmbeddingProvider("stub-chat", nil)
	assert.ErrorIs(t, err, errors.ErrInvalidConfiguration)
}

func TestNewChatProvider(t *testing.T) {
	p, err := NewChatProvider("stub-chat", nil)
	require.NoError(t, err)
	assert.Equal(t, "stub-chat", p.Name())

	p, err = NewChatProvider("stub-full", nil)
	require.NoError(t, err)
	assert.Equal(t, "stub-full", p.Name())

	_, err = NewChatProvider("missing", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfiguration)
	assert.Contains(t, err.Error(), `"missing"`)
}

func TestListProviders(t *testing.T) {
	embed := ListEmbeddingProviders()
	assert.Contains(t, embed, "stub-embed")
	assert.Contains(t, embed, "stub-full")
	assert.NotContains(t, embed, "stub-chat")
	assert.IsNonDecreasing(t, embed)

	chat := ListChatProviders()
	assert.Contains(t, chat, "stub-chat")
	assert.NotContains(t, chat, "stub-embed")
}

func TestConfigHelpers(t *testing.T) {
	cfg := map[string]any{
		KeyBaseURL:     "http://x",
		KeyAPIKey:      "",
		KeyMaxRetries:  0,
		KeyTimeout:     5 * time.Second,
		KeyTemperature: 0.0,
	}

	assert.Equal(t, "http://x", ConfigString(cfg, KeyBaseURL, "def"))
	assert.Equal(t, "def", ConfigString(cfg, KeyAPIKey, "def"))
	assert.Equal(t, "def", ConfigString(nil, KeyAPIKey, "def"))
	assert.Equal(t, 3, ConfigInt(cfg, KeyMaxRetries, 3))
	assert.Equal(t, 5*time.Second, ConfigDuration(cfg, KeyTimeout, time.Second))
	assert.Equal(t, 0.0, ConfigFloat(cfg, KeyTemperature, 0.7))
	assert.Equal(t, 0.7, ConfigFloat(nil, KeyTemperature, 0.7))
}
