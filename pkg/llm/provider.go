// Package llm 提供 Embedding 与 Chat 能力的统一抽象。
// 两种能力可以由不同供应商提供，按名称在注册表中查找。
package llm

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kart-io/finrag/pkg/utils/errors"
)

// EmbeddingProvider 将文本映射为定长向量。
type EmbeddingProvider interface {
	// Embed 批量生成向量，返回顺序与输入一致。
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedSingle 为单个文本生成向量。
	EmbedSingle(ctx context.Context, text string) ([]float32, error)

	Name() string
}

// ChatProvider 根据提示词生成文本。
type ChatProvider interface {
	// Chat 多轮对话。
	Chat(ctx context.Context, messages []Message) (string, error)

	// Generate 单轮生成，systemPrompt 为空时不发送系统消息。
	Generate(ctx context.Context, prompt string, systemPrompt string) (string, error)

	Name() string
}

// Message 对话中的一条消息。
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Role 消息角色。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Provider 同时具备两种能力的供应商。
type Provider interface {
	EmbeddingProvider
	ChatProvider
}

// 工厂配置键，供 options 层 ToConfigMap 使用。
const (
	KeyBaseURL     = "base_url"
	KeyAPIKey      = "api_key"
	KeyEmbedModel  = "embed_model"
	KeyChatModel   = "chat_model"
	KeyTemperature = "temperature"
	KeyTimeout     = "timeout"
	KeyMaxRetries  = "max_retries"
	KeyModelDir    = "model_dir"
)

type (
	ProviderFactory          func(config map[string]any) (Provider, error)
	EmbeddingProviderFactory func(config map[string]any) (EmbeddingProvider, error)
	ChatProviderFactory      func(config map[string]any) (ChatProvider, error)
)

var registry = &providerRegistry{
	providers:          make(map[string]ProviderFactory),
	embeddingProviders: make(map[string]EmbeddingProviderFactory),
	chatProviders:      make(map[string]ChatProviderFactory),
}

type providerRegistry struct {
	mu                 sync.RWMutex
	providers          map[string]ProviderFactory
	embeddingProviders map[string]EmbeddingProviderFactory
	chatProviders      map[string]ChatProviderFactory
}

// RegisterProvider 注册完整供应商工厂，通常在 init 中调用。
func RegisterProvider(name string, factory ProviderFactory) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.providers[name] = factory
}

// RegisterEmbeddingProvider 注册只提供 Embedding 的供应商。
func RegisterEmbeddingProvider(name string, factory EmbeddingProviderFactory) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.embeddingProviders[name] = factory
}

// RegisterChatProvider 注册只提供 Chat 的供应商。
func RegisterChatProvider(name string, factory ChatProviderFactory) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.chatProviders[name] = factory
}

// NewEmbeddingProvider 按名称创建 Embedding 供应商。
// 专用工厂优先，其次回退到完整供应商工厂。
func NewEmbeddingProvider(name string, config map[string]any) (EmbeddingProvider, error) {
	registry.mu.RLock()
	factory, ok := registry.embeddingProviders[name]
	full, fullOK := registry.providers[name]
	registry.mu.RUnlock()

	switch {
	case ok:
		return factory(config)
	case fullOK:
		return full(config)
	}
	return nil, errors.ErrInvalidConfiguration.WithMessagef("unknown embedding provider: %q", name)
}

// NewChatProvider 按名称创建 Chat 供应商。
func NewChatProvider(name string, config map[string]any) (ChatProvider, error) {
	registry.mu.RLock()
	factory, ok := registry.chatProviders[name]
	full, fullOK := registry.providers[name]
	registry.mu.RUnlock()

	switch {
	case ok:
		return factory(config)
	case fullOK:
		return full(config)
	}
	return nil, errors.ErrInvalidConfiguration.WithMessagef("unknown chat provider: %q", name)
}

// ListEmbeddingProviders 返回可用于 Embedding 的供应商名称（已排序）。
func ListEmbeddingProviders() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	return sortedKeys(registry.embeddingProviders, registry.providers)
}

// ListChatProviders 返回可用于 Chat 的供应商名称（已排序）。
func ListChatProviders() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	return sortedKeys(registry.chatProviders, registry.providers)
}

func sortedKeys[A, B any](a map[string]A, b map[string]B) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// ConfigString 读取字符串配置，缺省或为空时返回 def。
func ConfigString(config map[string]any, key, def string) string {
	if v, ok := config[key].(string); ok && v != "" {
		return v
	}
	return def
}

// ConfigInt 读取正整数配置。
func ConfigInt(config map[string]any, key string, def int) int {
	if v, ok := config[key].(int); ok && v > 0 {
		return v
	}
	return def
}

// ConfigDuration 读取正时长配置。
func ConfigDuration(config map[string]any, key string, def time.Duration) time.Duration {
	if v, ok := config[key].(time.Duration); ok && v > 0 {
		return v
	}
	return def
}

// ConfigFloat 读取浮点配置，允许 0。
func ConfigFloat(config map[string]any, key string, def float64) float64 {
	if v, ok := config[key].(float64); ok && v >= 0 {
		return v
	}
	return def
}
