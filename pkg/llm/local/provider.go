// Package local 在进程内运行 sentence-transformers 模型生成向量（hugot，纯 Go 后端）。
// 模型在首次调用时下载到 model_dir 并加载，之后复用同一个 pipeline。
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kart-io/logger"
	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"

	"github.com/kart-io/finrag/pkg/llm"
)

const ProviderName = "local"

const (
	DefaultModel    = "sentence-transformers/all-MiniLM-L6-v2"
	DefaultModelDir = "./models"
)

func init() {
	llm.RegisterEmbeddingProvider(ProviderName, NewProvider)
}

// Config 本地 Embedding 配置。
type Config struct {
	EmbedModel string `json:"embed_model" mapstructure:"embed_model"`
	ModelDir   string `json:"model_dir" mapstructure:"model_dir"`
}

// Provider 本地 Embedding 供应商。
type Provider struct {
	config *Config

	mu       sync.Mutex
	session  *hugot.Session
	pipeline *pipelines.FeatureExtractionPipeline
}

// NewProvider 从配置 map 创建供应商，不会立即加载模型。
func NewProvider(configMap map[string]any) (llm.EmbeddingProvider, error) {
	return NewProviderWithConfig(&Config{
		EmbedModel: llm.ConfigString(configMap, llm.KeyEmbedModel, DefaultModel),
		ModelDir:   llm.ConfigString(configMap, llm.KeyModelDir, DefaultModelDir),
	}), nil
}

// NewProviderWithConfig 使用结构化配置创建供应商。
func NewProviderWithConfig(cfg *Config) *Provider {
	return &Provider{config: cfg}
}

// Name 返回供应商名称。
func (p *Provider) Name() string {
	return ProviderName
}

// Embed 为多个文本生成向量。pipeline 非并发安全，调用串行化。
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensurePipeline(); err != nil {
		return nil, err
	}

	result, err := p.pipeline.RunPipeline(texts)
	if err != nil {
		return nil, fmt.Errorf("local embed: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("local embed: expected %d embeddings, got %d", len(texts), len(result.Embeddings))
	}
	return result.Embeddings, nil
}

// EmbedSingle 为单个文本生成向量。
func (p *Provider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	out, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// Close 释放 hugot 会话。
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session == nil {
		return nil
	}
	err := p.session.Destroy()
	p.session, p.pipeline = nil, nil
	return err
}

func (p *Provider) ensurePipeline() error {
	if p.pipeline != nil {
		return nil
	}

	modelPath, err := prepareModel(p.config.EmbedModel, p.config.ModelDir)
	if err != nil {
		return err
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return fmt.Errorf("failed to create hugot session: %w", err)
	}

	pipeline, err := hugot.NewPipeline(session, hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "finrag-embedder",
	})
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return fmt.Errorf("failed to create embedding pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return fmt.Errorf("failed to create embedding pipeline: %w", err)
	}

	logger.Infow("local embedding model loaded", "model", p.config.EmbedModel, "path", modelPath)
	p.session, p.pipeline = session, pipeline
	return nil
}

// modelPath 返回模型在 dir 下的目录名，与 hugot 下载布局一致。
func modelPath(name, dir string) string {
	return filepath.Join(dir, strings.ReplaceAll(name, "/", "_"))
}

func prepareModel(name, dir string) (string, error) {
	path := modelPath(name, dir)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to stat model directory: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create model directory: %w", err)
	}

	logger.Infow("downloading embedding model", "model", name, "dir", dir)
	opts := hugot.NewDownloadOptions()
	opts.OnnxFilePath = "onnx/model.onnx"
	downloaded, err := hugot.DownloadModel(name, dir, opts)
	if err != nil {
		return "", fmt.Errorf("failed to download model %s: %w", name, err)
	}
	return downloaded, nil
}
