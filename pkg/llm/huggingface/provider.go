// Package huggingface 提供 HuggingFace Inference API 的 Embedding 实现。
// 默认模型 sentence-transformers/all-MiniLM-L6-v2（384 维）。
package huggingface

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kart-io/finrag/pkg/llm"
	"github.com/kart-io/finrag/pkg/utils/httpclient"
	"github.com/kart-io/finrag/pkg/utils/json"
)

// ProviderName 是 HuggingFace 供应商的名称标识符
const ProviderName = "huggingface"

func init() {
	llm.RegisterEmbeddingProvider(ProviderName, NewProvider)
}

// Config HuggingFace 供应商配置。
type Config struct {
	BaseURL    string        `json:"base_url" mapstructure:"base_url"`
	APIKey     string        `json:"api_key" mapstructure:"api_key"`
	EmbedModel string        `json:"embed_model" mapstructure:"embed_model"`
	Timeout    time.Duration `json:"timeout" mapstructure:"timeout"`

	// WaitForModel 模型冷启动时让服务端等待而不是返回 503。
	WaitForModel bool `json:"wait_for_model" mapstructure:"wait_for_model"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() *Config {
	return &Config{
		BaseURL:      "https://router.huggingface.co/hf-inference",
		EmbedModel:   "sentence-transformers/all-MiniLM-L6-v2",
		Timeout:      60 * time.Second,
		WaitForModel: true,
	}
}

// Provider HuggingFace Embedding 供应商。
type Provider struct {
	config *Config
	client *httpclient.Client
}

// NewProvider 从配置 map 创建供应商。公开模型允许匿名调用，api_key 可选。
func NewProvider(configMap map[string]any) (llm.EmbeddingProvider, error) {
	def := DefaultConfig()
	cfg := &Config{
		BaseURL:      llm.ConfigString(configMap, llm.KeyBaseURL, def.BaseURL),
		APIKey:       llm.ConfigString(configMap, llm.KeyAPIKey, ""),
		EmbedModel:   llm.ConfigString(configMap, llm.KeyEmbedModel, def.EmbedModel),
		Timeout:      llm.ConfigDuration(configMap, llm.KeyTimeout, def.Timeout),
		WaitForModel: def.WaitForModel,
	}
	if v, ok := configMap["wait_for_model"].(bool); ok {
		cfg.WaitForModel = v
	}
	return NewProviderWithConfig(cfg), nil
}

// NewProviderWithConfig 使用结构化配置创建供应商。
func NewProviderWithConfig(cfg *Config) *Provider {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Provider{
		config: cfg,
		client: httpclient.NewClient(cfg.Timeout),
	}
}

// Name 返回供应商名称。
func (p *Provider) Name() string {
	return ProviderName
}

type embeddingRequest struct {
	Inputs  []string          `json:"inputs"`
	Options *embeddingOptions `json:"options,omitempty"`
}

type embeddingOptions struct {
	WaitForModel bool `json:"wait_for_model,omitempty"`
}

// Embed 为多个文本生成向量。
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	req := embeddingRequest{Inputs: texts}
	if p.config.WaitForModel {
		req.Options = &embeddingOptions{WaitForModel: true}
	}

	headers := map[string]string{}
	if p.config.APIKey != "" {
		headers["Authorization"] = "Bearer " + p.config.APIKey
	}

	url := fmt.Sprintf("%s/models/%s/pipeline/feature-extraction", p.config.BaseURL, p.config.EmbedModel)
	var raw json.RawMessage
	if err := p.client.PostJSON(ctx, url, headers, req, &raw); err != nil {
		return nil, fmt.Errorf("huggingface embed: %w", err)
	}

	out, err := decodeEmbeddings(raw)
	if err != nil {
		return nil, fmt.Errorf("huggingface embed: %w", err)
	}
	if len(out) != len(texts) {
		return nil, fmt.Errorf("huggingface embed: expected %d embeddings, got %d", len(texts), len(out))
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

// decodeEmbeddings 解析句向量 [][]float32；
// 部分模型返回 token 级向量 [][][]float32，此时做均值池化。
func decodeEmbeddings(raw []byte) ([][]float32, error) {
	var sentences [][]float32
	err := json.Unmarshal(raw, &sentences)
	if err == nil {
		return sentences, nil
	}

	var tokens [][][]float32
	if err2 := json.Unmarshal(raw, &tokens); err2 != nil {
		return nil, fmt.Errorf("failed to decode embeddings: %w", err)
	}

	out := make([][]float32, len(tokens))
	for i, seq := range tokens {
		if len(seq) == 0 {
			return nil, fmt.Errorf("empty token embedding at index %d", i)
		}
		vec := make([]float32, len(seq[0]))
		for _, tok := range seq {
			for j, v := range tok {
				vec[j] += v
			}
		}
		for j := range vec {
			vec[j] /= float32(len(seq))
		}
		out[i] = vec
	}
	return out, nil
}
