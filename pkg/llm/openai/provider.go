// Package openai 提供 OpenAI 及兼容 API（Azure OpenAI、LocalAI、vLLM 等）的供应商实现。
//
//	import _ "github.com/kart-io/finrag/pkg/llm/openai"
//
//	chat, err := llm.NewChatProvider("openai", map[string]any{
//	    "api_key":    "sk-...",
//	    "chat_model": "gpt-4o-mini",
//	})
package openai

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/kart-io/finrag/pkg/llm"
	"github.com/kart-io/finrag/pkg/utils/errors"
	"github.com/kart-io/finrag/pkg/utils/httpclient"
)

// ProviderName 是 OpenAI 供应商的名称标识符
const ProviderName = "openai"

// 兼容 OpenAI 协议的托管服务，只替换默认地址与模型。
var presets = map[string]*Config{
	"deepseek": {
		BaseURL:   "https://api.deepseek.com/v1",
		ChatModel: "deepseek-chat",
	},
	"siliconflow": {
		BaseURL:    "https://api.siliconflow.cn/v1",
		EmbedModel: "BAAI/bge-m3",
		ChatModel:  "Qwen/Qwen2.5-7B-Instruct",
	},
}

func init() {
	llm.RegisterProvider(ProviderName, NewProvider)
	for name, preset := range presets {
		llm.RegisterProvider(name, newPresetFactory(name, preset))
	}
}

func newPresetFactory(name string, preset *Config) llm.ProviderFactory {
	return func(configMap map[string]any) (llm.Provider, error) {
		merged := map[string]any{
			llm.KeyBaseURL:    preset.BaseURL,
			llm.KeyEmbedModel: preset.EmbedModel,
			llm.KeyChatModel:  preset.ChatModel,
		}
		for k, v := range configMap {
			if s, ok := v.(string); ok && s == "" {
				continue
			}
			merged[k] = v
		}
		p, err := NewProvider(merged)
		if err != nil {
			return nil, err
		}
		p.(*Provider).name = name
		return p, nil
	}
}

// Config OpenAI 供应商配置。
type Config struct {
	// BaseURL 为空时使用官方地址。
	BaseURL     string        `json:"base_url" mapstructure:"base_url"`
	APIKey      string        `json:"api_key" mapstructure:"api_key"`
	EmbedModel  string        `json:"embed_model" mapstructure:"embed_model"`
	ChatModel   string        `json:"chat_model" mapstructure:"chat_model"`
	Temperature float64       `json:"temperature" mapstructure:"temperature"`
	Timeout     time.Duration `json:"timeout" mapstructure:"timeout"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() *Config {
	return &Config{
		BaseURL:     "https://api.openai.com/v1",
		EmbedModel:  string(goopenai.SmallEmbedding3),
		ChatModel:   goopenai.GPT4oMini,
		Temperature: 0.1,
		Timeout:     60 * time.Second,
	}
}

// Provider OpenAI 供应商实现。
type Provider struct {
	name   string
	config *Config
	client *goopenai.Client
}

// NewProvider 从配置 map 创建 OpenAI 供应商。
func NewProvider(configMap map[string]any) (llm.Provider, error) {
	def := DefaultConfig()
	cfg := &Config{
		BaseURL:     llm.ConfigString(configMap, llm.KeyBaseURL, def.BaseURL),
		APIKey:      llm.ConfigString(configMap, llm.KeyAPIKey, ""),
		EmbedModel:  llm.ConfigString(configMap, llm.KeyEmbedModel, def.EmbedModel),
		ChatModel:   llm.ConfigString(configMap, llm.KeyChatModel, def.ChatModel),
		Temperature: llm.ConfigFloat(configMap, llm.KeyTemperature, def.Temperature),
		Timeout:     llm.ConfigDuration(configMap, llm.KeyTimeout, def.Timeout),
	}

	if cfg.APIKey == "" {
		return nil, errors.ErrInvalidConfiguration.WithMessage("openai-compatible provider: api_key is required")
	}

	return NewProviderWithConfig(cfg), nil
}

// NewProviderWithConfig 使用结构化配置创建供应商。
func NewProviderWithConfig(cfg *Config) *Provider {
	clientConfig := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &Provider{
		name:   ProviderName,
		config: cfg,
		client: goopenai.NewClientWithConfig(clientConfig),
	}
}

// Name 返回供应商名称。
func (p *Provider) Name() string {
	return p.name
}

// Embed 为多个文本生成向量，按响应中的 index 还原输入顺序。
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := p.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Model: goopenai.EmbeddingModel(p.config.EmbedModel),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", statusError(err))
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embed: expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("openai embed: index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// EmbedSingle 为单个文本生成向量。
func (p *Provider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	out, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// Chat 进行多轮对话。
func (p *Provider) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	msgs := make([]goopenai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		msgs[i] = goopenai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content}
	}

	resp, err := p.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       p.config.ChatModel,
		Messages:    msgs,
		Temperature: float32(p.config.Temperature),
	})
	if err != nil {
		return "", fmt.Errorf("openai chat: %w", statusError(err))
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai chat: no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

// Generate 单轮生成。
func (p *Provider) Generate(ctx context.Context, prompt string, systemPrompt string) (string, error) {
	messages := make([]llm.Message, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: prompt})
	return p.Chat(ctx, messages)
}

// statusError 将 SDK 的错误统一为 httpclient.StatusError，便于重试判定。
func statusError(err error) error {
	var apiErr *goopenai.APIError
	if stderrors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return &httpclient.StatusError{StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *goopenai.RequestError
	if stderrors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return &httpclient.StatusError{StatusCode: reqErr.HTTPStatusCode, Body: reqErr.Error()}
	}
	return err
}
