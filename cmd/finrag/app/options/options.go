// Package options contains flags and options for initializing finrag.
package options

import (
	"fmt"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	ragsvc "github.com/kart-io/finrag/internal/rag"
	cliflag "github.com/kart-io/finrag/pkg/app/cliflag"
	llmopts "github.com/kart-io/finrag/pkg/options/llm"
	logopts "github.com/kart-io/finrag/pkg/options/logger"
	middlewareopts "github.com/kart-io/finrag/pkg/options/middleware"
	milvusopts "github.com/kart-io/finrag/pkg/options/milvus"
	poolopts "github.com/kart-io/finrag/pkg/options/pool"
	ragopts "github.com/kart-io/finrag/pkg/options/rag"
	redisopts "github.com/kart-io/finrag/pkg/options/redis"
	httpopts "github.com/kart-io/finrag/pkg/options/server/http"
	tracingopts "github.com/kart-io/finrag/pkg/options/tracing"
)

// ServerOptions contains the configuration options for the server.
type ServerOptions struct {
	// HTTPOptions contains HTTP server configuration.
	HTTPOptions *httpopts.Options `json:"http" mapstructure:"http"`

	// LogOptions contains logger configuration.
	LogOptions *logopts.Options `json:"log" mapstructure:"log"`

	// MiddlewareOptions contains HTTP middleware configuration.
	MiddlewareOptions *middlewareopts.Options `json:"middleware" mapstructure:"middleware"`

	// RAGOptions contains RAG pipeline configuration.
	RAGOptions *ragopts.Options `json:"rag" mapstructure:"rag"`

	// EmbeddingOptions contains embedding provider configuration.
	EmbeddingOptions *llmopts.ProviderOptions `json:"embedding" mapstructure:"embedding"`

	// ChatOptions contains chat provider configuration.
	ChatOptions *llmopts.ProviderOptions `json:"chat" mapstructure:"chat"`

	// RedisOptions contains the optional cache backend configuration.
	RedisOptions *redisopts.Options `json:"redis" mapstructure:"redis"`

	// MilvusOptions is used when rag.backend is milvus.
	MilvusOptions *milvusopts.Options `json:"milvus" mapstructure:"milvus"`

	// PoolOptions contains worker pool capacities.
	PoolOptions *poolopts.Options `json:"pool" mapstructure:"pool"`

	// TracingOptions contains OpenTelemetry tracing configuration.
	TracingOptions *tracingopts.Options `json:"tracing" mapstructure:"tracing"`
}

// NewServerOptions creates a ServerOptions instance with default values.
func NewServerOptions() *ServerOptions {
	return &ServerOptions{
		HTTPOptions:       httpopts.NewOptions(),
		LogOptions:        logopts.NewOptions(),
		MiddlewareOptions: middlewareopts.NewOptions(),
		RAGOptions:        ragopts.NewOptions(),
		EmbeddingOptions:  llmopts.NewEmbeddingOptions(),
		ChatOptions:       llmopts.NewChatOptions(),
		RedisOptions:      redisopts.NewOptions(),
		MilvusOptions:     milvusopts.NewOptions(),
		PoolOptions:       poolopts.NewOptions(),
		TracingOptions:    tracingopts.NewOptions(),
	}
}

// Flags returns flags for a specific server by section name.
func (o *ServerOptions) Flags() (fss cliflag.NamedFlagSets) {
	o.HTTPOptions.AddFlags(fss.FlagSet("http"))
	o.LogOptions.AddFlags(fss.FlagSet("log"))
	o.MiddlewareOptions.AddFlags(fss.FlagSet("middleware"))
	o.RAGOptions.AddFlags(fss.FlagSet("rag"))
	o.EmbeddingOptions.AddFlags(fss.FlagSet("embedding"))
	o.ChatOptions.AddFlags(fss.FlagSet("chat"))
	o.RedisOptions.AddFlags(fss.FlagSet("redis"))
	o.MilvusOptions.AddFlags(fss.FlagSet("milvus"))
	o.PoolOptions.AddFlags(fss.FlagSet("pool"))
	o.TracingOptions.AddFlags(fss.FlagSet("tracing"))

	return fss
}

// Complete completes all the required options.
func (o *ServerOptions) Complete() error {
	if err := o.HTTPOptions.Complete(); err != nil {
		return fmt.Errorf("http: %w", err)
	}
	if err := o.LogOptions.Complete(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if err := o.MiddlewareOptions.Complete(); err != nil {
		return fmt.Errorf("middleware: %w", err)
	}
	if err := o.RAGOptions.Complete(); err != nil {
		return fmt.Errorf("rag: %w", err)
	}
	if err := o.EmbeddingOptions.Complete(); err != nil {
		return fmt.Errorf("embedding: %w", err)
	}
	if err := o.ChatOptions.Complete(); err != nil {
		return fmt.Errorf("chat: %w", err)
	}
	if err := o.RedisOptions.Complete(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if err := o.MilvusOptions.Complete(); err != nil {
		return fmt.Errorf("milvus: %w", err)
	}
	if err := o.PoolOptions.Complete(); err != nil {
		return fmt.Errorf("pool: %w", err)
	}
	if err := o.TracingOptions.Complete(); err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	return nil
}

// Validate checks whether the options in ServerOptions are valid.
func (o *ServerOptions) Validate() error {
	errs := []error{}

	errs = append(errs, o.HTTPOptions.Validate()...)
	errs = append(errs, o.LogOptions.Validate()...)
	errs = append(errs, o.MiddlewareOptions.Validate()...)
	errs = append(errs, o.RAGOptions.Validate()...)
	errs = append(errs, o.EmbeddingOptions.Validate()...)
	errs = append(errs, o.ChatOptions.Validate()...)
	errs = append(errs, o.RedisOptions.Validate()...)
	errs = append(errs, o.PoolOptions.Validate()...)
	errs = append(errs, o.TracingOptions.Validate()...)
	if o.RAGOptions.Backend == ragopts.BackendMilvus {
		errs = append(errs, o.MilvusOptions.Validate()...)
	}

	if o.HTTPOptions.WriteTimeout <= o.RAGOptions.AskTimeout {
		errs = append(errs, fmt.Errorf("http.write-timeout (%s) must exceed rag.ask-timeout (%s)", o.HTTPOptions.WriteTimeout, o.RAGOptions.AskTimeout))
	}

	return utilerrors.NewAggregate(errs)
}

// Config builds a ragsvc.Config based on ServerOptions.
func (o *ServerOptions) Config() (*ragsvc.Config, error) {
	return &ragsvc.Config{
		HTTPOptions:       o.HTTPOptions,
		LogOptions:        o.LogOptions,
		MiddlewareOptions: o.MiddlewareOptions,
		RAGOptions:        o.RAGOptions,
		EmbeddingOptions:  o.EmbeddingOptions,
		ChatOptions:       o.ChatOptions,
		RedisOptions:      o.RedisOptions,
		MilvusOptions:     o.MilvusOptions,
		PoolOptions:       o.PoolOptions,
		TracingOptions:    o.TracingOptions,
	}, nil
}
