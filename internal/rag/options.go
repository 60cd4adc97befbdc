package ragsvc

import (
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

// Config contains application-related configurations.
type Config struct {
	HTTPOptions       *httpopts.Options
	LogOptions        *logopts.Options
	MiddlewareOptions *middlewareopts.Options
	RAGOptions        *ragopts.Options
	EmbeddingOptions  *llmopts.ProviderOptions
	ChatOptions       *llmopts.ProviderOptions
	RedisOptions      *redisopts.Options
	MilvusOptions     *milvusopts.Options
	PoolOptions       *poolopts.Options
	TracingOptions    *tracingopts.Options
}
