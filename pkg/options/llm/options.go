// Package llm provides embedding and chat provider configuration options.
package llm

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/finrag/pkg/llm"
	"github.com/kart-io/finrag/pkg/llm/resilience"
	"github.com/kart-io/finrag/pkg/options"
)

var _ options.IOptions = (*ProviderOptions)(nil)

// EnvGoogleAPIKey is read for the gemini provider when no api key is configured.
const EnvGoogleAPIKey = "GOOGLE_API_KEY"

// ProviderOptions 定义一种模型能力（embedding 或 chat）的供应商配置。
type ProviderOptions struct {
	// kind 是 flag 前缀：embedding 或 chat。
	kind string

	// Provider 供应商名称（local, huggingface, gemini, openai, deepseek, siliconflow, ollama）。
	Provider string `json:"provider" mapstructure:"provider"`

	// BaseURL 为空时使用供应商默认地址。
	BaseURL string `json:"base-url" mapstructure:"base-url"`

	APIKey string `json:"-" mapstructure:"api-key"`

	Model string `json:"model" mapstructure:"model"`

	// Temperature 只对 chat 生效。
	Temperature float64 `json:"temperature" mapstructure:"temperature"`

	// Timeout 单次调用超时。
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// MaxRetries 失败后的最大重试次数（不含首次）。
	MaxRetries int `json:"max-retries" mapstructure:"max-retries"`

	// ModelDir 本地模型目录（local 供应商）。
	ModelDir string `json:"model-dir" mapstructure:"model-dir"`

	// BreakerFailures 连续失败多少次后熔断，0 关闭熔断。
	BreakerFailures int `json:"breaker-failures" mapstructure:"breaker-failures"`
}

// NewEmbeddingOptions 默认使用本地 all-MiniLM-L6-v2。
func NewEmbeddingOptions() *ProviderOptions {
	return &ProviderOptions{
		kind:            "embedding",
		Provider:        "local",
		Model:           "sentence-transformers/all-MiniLM-L6-v2",
		Timeout:         60 * time.Second,
		MaxRetries:      2,
		ModelDir:        "./models",
		BreakerFailures: 5,
	}
}

// NewChatOptions 默认使用 gemini-2.5-flash，低温度。
func NewChatOptions() *ProviderOptions {
	return &ProviderOptions{
		kind:            "chat",
		Provider:        "gemini",
		Model:           "gemini-2.5-flash",
		Temperature:     0.1,
		Timeout:         60 * time.Second,
		MaxRetries:      2,
		BreakerFailures: 5,
	}
}

// Kind returns the capability these options configure.
func (o *ProviderOptions) Kind() string {
	return o.kind
}

// ToConfigMap 转换为供应商工厂使用的配置 map。
func (o *ProviderOptions) ToConfigMap() map[string]any {
	m := map[string]any{
		llm.KeyBaseURL:     o.BaseURL,
		llm.KeyAPIKey:      o.APIKey,
		llm.KeyTemperature: o.Temperature,
		llm.KeyTimeout:     o.Timeout,
		llm.KeyMaxRetries:  o.MaxRetries,
		llm.KeyModelDir:    o.ModelDir,
	}
	if o.kind == "chat" {
		m[llm.KeyChatModel] = o.Model
	} else {
		m[llm.KeyEmbedModel] = o.Model
	}
	return m
}

// ToRetryConfig 构造重试配置，单次尝试受 Timeout 约束。
func (o *ProviderOptions) ToRetryConfig() *resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = o.MaxRetries + 1
	cfg.AttemptTimeout = o.Timeout
	return cfg
}

// ToCircuitBreakerConfig 返回熔断配置，BreakerFailures 为 0 时熔断器永不打开。
func (o *ProviderOptions) ToCircuitBreakerConfig() *resilience.CircuitBreakerConfig {
	cfg := resilience.DefaultCircuitBreakerConfig()
	cfg.MaxFailures = o.BreakerFailures
	if o.BreakerFailures <= 0 {
		cfg.MaxFailures = math.MaxInt
	}
	return cfg
}

// AddFlags adds flags for provider options to the specified FlagSet.
func (o *ProviderOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + o.kind + "."
	fs.StringVar(&o.Provider, p+"provider", o.Provider, fmt.Sprintf("%s provider name.", o.kind))
	fs.StringVar(&o.BaseURL, p+"base-url", o.BaseURL, fmt.Sprintf("%s API base URL (empty uses the provider default).", o.kind))
	fs.StringVar(&o.APIKey, p+"api-key", o.APIKey, fmt.Sprintf("%s API key.", o.kind))
	fs.StringVar(&o.Model, p+"model", o.Model, fmt.Sprintf("%s model name.", o.kind))
	fs.DurationVar(&o.Timeout, p+"timeout", o.Timeout, fmt.Sprintf("Timeout of a single %s call.", o.kind))
	fs.IntVar(&o.MaxRetries, p+"max-retries", o.MaxRetries, fmt.Sprintf("Retries after a failed %s call.", o.kind))
	fs.IntVar(&o.BreakerFailures, p+"breaker-failures", o.BreakerFailures, "Consecutive failures that open the circuit breaker (0 disables it).")
	if o.kind == "chat" {
		fs.Float64Var(&o.Temperature, p+"temperature", o.Temperature, "Sampling temperature.")
	} else {
		fs.StringVar(&o.ModelDir, p+"model-dir", o.ModelDir, "Directory for locally cached models.")
	}
}

// Validate validates the provider options.
func (o *ProviderOptions) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.Provider == "" {
		errs = append(errs, fmt.Errorf("%s.provider is required", o.kind))
	}
	if o.Model == "" {
		errs = append(errs, fmt.Errorf("%s.model is required", o.kind))
	}
	if o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("%s.timeout must be positive", o.kind))
	}
	if o.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("%s.max-retries must not be negative", o.kind))
	}
	if o.Temperature < 0 || o.Temperature > 2 {
		errs = append(errs, fmt.Errorf("%s.temperature must be in [0, 2]", o.kind))
	}
	return errs
}

// Complete reads GOOGLE_API_KEY for the gemini provider when no key is set.
func (o *ProviderOptions) Complete() error {
	if o.Provider == "gemini" && o.APIKey == "" {
		o.APIKey = os.Getenv(EnvGoogleAPIKey)
	}
	return nil
}
