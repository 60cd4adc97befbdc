// Package ragsvc assembles the finrag service: storage backends, LLM
// providers, the RAG pipeline and the HTTP server.
package ragsvc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/finrag/internal/model"
	"github.com/kart-io/finrag/internal/rag/biz"
	"github.com/kart-io/finrag/internal/rag/handler"
	"github.com/kart-io/finrag/internal/rag/loader"
	"github.com/kart-io/finrag/internal/rag/metrics"
	"github.com/kart-io/finrag/internal/rag/router"
	"github.com/kart-io/finrag/internal/rag/store"
	"github.com/kart-io/finrag/pkg/component/milvus"
	"github.com/kart-io/finrag/pkg/component/redis"
	"github.com/kart-io/finrag/pkg/component/storage"
	"github.com/kart-io/finrag/pkg/infra/app"
	"github.com/kart-io/finrag/pkg/infra/pool"
	"github.com/kart-io/finrag/pkg/infra/server"
	httpserver "github.com/kart-io/finrag/pkg/infra/server/http"
	"github.com/kart-io/finrag/pkg/infra/tracing"
	"github.com/kart-io/finrag/pkg/llm"
	// 导入 LLM 供应商以自动注册
	_ "github.com/kart-io/finrag/pkg/llm/gemini"
	_ "github.com/kart-io/finrag/pkg/llm/huggingface"
	_ "github.com/kart-io/finrag/pkg/llm/local"
	_ "github.com/kart-io/finrag/pkg/llm/ollama"
	_ "github.com/kart-io/finrag/pkg/llm/openai"
	"github.com/kart-io/finrag/pkg/llm/resilience"
	llmopts "github.com/kart-io/finrag/pkg/options/llm"
	ragopts "github.com/kart-io/finrag/pkg/options/rag"
)

// Name is the name of the application.
const Name = "finrag"

const (
	answerCachePrefix    = "finrag:answer:"
	embeddingCachePrefix = "finrag:emb:"
	poolCloseTimeout     = 5 * time.Second
)

// Server represents the finrag server.
type Server struct {
	srv *server.Manager
	rt  *components
}

// components holds everything built from Config that needs closing.
type components struct {
	storage *storage.Manager
	redis   *redis.Client
	index   *biz.VectorIndex
	service *biz.RAGService
	metrics *metrics.RAGMetrics
}

// close releases the index store, backend clients and worker pools.
func (r *components) close(ctx context.Context) error {
	var errs []error
	if r.service != nil {
		if err := r.service.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close index: %w", err))
		}
	}
	if err := r.storage.CloseAll(); err != nil {
		errs = append(errs, err)
	}
	if err := pool.CloseGlobalTimeout(poolCloseTimeout); err != nil {
		errs = append(errs, fmt.Errorf("close worker pools: %w", err))
	}
	return errors.Join(errs...)
}

// initLogger initializes the global logger with service fields.
func (cfg *Config) initLogger() error {
	cfg.LogOptions.AddInitialField("service.name", Name)
	cfg.LogOptions.AddInitialField("service.version", app.GetVersion())
	if err := cfg.LogOptions.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// build wires backends, providers and the pipeline.
func (cfg *Config) build(ctx context.Context) (*components, error) {
	// 1. 工作池
	if err := pool.InitGlobalWithConfig(cfg.PoolOptions.ToGlobalConfig()); err != nil {
		return nil, fmt.Errorf("failed to initialize worker pools: %w", err)
	}

	rt := &components{
		storage: storage.NewManager(),
		metrics: metrics.New(),
	}

	// 2. Redis（可选，用于回答与向量缓存）
	var rdb *goredis.Client
	if cfg.RedisOptions.Enabled {
		client, err := redis.NewWithContext(ctx, cfg.RedisOptions)
		if err != nil {
			logger.Warnw("failed to connect to redis, caches disabled", "addr", cfg.RedisOptions.Addr(), "error", err.Error())
		} else {
			rt.storage.MustRegister("redis", client)
			rt.redis = client
			rdb = client.Client()
			logger.Infow("redis connected", "addr", cfg.RedisOptions.Addr())
		}
	}

	// 3. 向量存储
	vectorStore, err := cfg.newVectorStore(ctx, rt.storage)
	if err != nil {
		_ = rt.close(ctx)
		return nil, err
	}

	// 4. Embedding 供应商
	embedder, err := newEmbeddingProvider(cfg.EmbeddingOptions, rdb)
	if err != nil {
		_ = rt.close(ctx)
		return nil, err
	}

	// 5. 加载器与索引
	extractPool, err := pool.GetByType(pool.ExtractPool)
	if err != nil {
		logger.Warnw("extract pool unavailable, falling back to goroutines", "error", err.Error())
		extractPool = nil
	}
	ragOpts := cfg.RAGOptions
	ld := loader.New(&loader.Config{
		ChunkSize:    ragOpts.ChunkSize,
		ChunkOverlap: ragOpts.ChunkOverlap,
	}, nil, extractPool)

	rt.index = biz.NewVectorIndex(&biz.IndexConfig{
		BatchSize:         ragOpts.BatchSize,
		ChunkSize:         ragOpts.ChunkSize,
		ChunkOverlap:      ragOpts.ChunkOverlap,
		EmbeddingProvider: cfg.EmbeddingOptions.Provider,
		EmbeddingModel:    cfg.EmbeddingOptions.Model,
		ForceRebuild:      ragOpts.ForceRebuild,
	}, embedder, vectorStore, func(ctx context.Context) ([]*model.Chunk, error) {
		return ld.Load(ctx, ragOpts.DataPath)
	})

	// 6. 回答缓存
	var cache *biz.QueryCache
	if rdb != nil {
		cache = biz.NewQueryCache(rdb, &biz.QueryCacheConfig{
			Enabled:   true,
			TTL:       ragOpts.CacheTTL,
			KeyPrefix: answerCachePrefix,
		})
	}

	// 7. RAG 服务，生成能力在首次初始化时绑定
	rt.service = biz.NewRAGService(&biz.ServiceConfig{
		TopK:         ragOpts.TopK,
		ExcerptChars: ragOpts.ExcerptChars,
		Synthesizer:  &biz.SynthesizerConfig{MaxContextChars: ragOpts.MaxContextChars},
		BuildTimeout: ragOpts.BuildTimeout,
	}, rt.index, chatBinder(cfg.ChatOptions), cache, rt.metrics)

	return rt, nil
}

// newVectorStore selects the store backend.
func (cfg *Config) newVectorStore(ctx context.Context, mgr *storage.Manager) (store.VectorStore, error) {
	switch cfg.RAGOptions.Backend {
	case ragopts.BackendMilvus:
		client, err := milvus.New(ctx, cfg.MilvusOptions)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize milvus: %w", err)
		}
		mgr.MustRegister("milvus", client)
		logger.Infow("vector store initialized", "backend", "milvus", "address", cfg.MilvusOptions.Address, "collection", cfg.RAGOptions.Collection)
		return store.NewMilvusStore(client, cfg.RAGOptions.Collection), nil
	default:
		logger.Infow("vector store initialized", "backend", "sqlite", "path", cfg.RAGOptions.IndexPath)
		return store.NewSQLiteStore(cfg.RAGOptions.IndexPath), nil
	}
}

// newEmbeddingProvider creates the embedding capability with retry, circuit
// breaker and, when redis is available, a vector cache.
func newEmbeddingProvider(opts *llmopts.ProviderOptions, rdb *goredis.Client) (llm.EmbeddingProvider, error) {
	base, err := llm.NewEmbeddingProvider(opts.Provider, opts.ToConfigMap())
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}
	var provider llm.EmbeddingProvider = resilience.NewResilientEmbeddingProvider(base, opts.ToRetryConfig(), opts.ToCircuitBreakerConfig())
	if rdb != nil {
		provider = llm.NewCachedEmbeddingProvider(provider, rdb, &llm.EmbeddingCacheConfig{
			Enabled:   true,
			TTL:       llm.DefaultEmbeddingCacheConfig().TTL,
			KeyPrefix: embeddingCachePrefix,
			Model:     opts.Model,
		})
	}
	logger.Infow("embedding provider initialized", "provider", opts.Provider, "model", opts.Model, "cache", rdb != nil)
	return provider, nil
}

// chatBinder defers chat provider creation to the first initialization so
// that indexing works without generation credentials.
func chatBinder(opts *llmopts.ProviderOptions) biz.ChatBinder {
	return func(context.Context) (llm.ChatProvider, error) {
		base, err := llm.NewChatProvider(opts.Provider, opts.ToConfigMap())
		if err != nil {
			return nil, fmt.Errorf("failed to create chat provider: %w", err)
		}
		logger.Infow("chat provider initialized", "provider", opts.Provider, "model", opts.Model)
		return resilience.NewResilientChatProvider(base, opts.ToRetryConfig(), opts.ToCircuitBreakerConfig()), nil
	}
}

// NewServer initializes and returns a new Server instance.
func (cfg *Config) NewServer(ctx context.Context) (*Server, error) {
	printBanner(cfg)

	if err := cfg.initLogger(); err != nil {
		return nil, err
	}
	logger.Info("Starting finrag service...")

	tp, err := tracing.NewProvider(ctx, cfg.TracingOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	rt, err := cfg.build(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}

	httpSrv := httpserver.NewServer(cfg.HTTPOptions, cfg.MiddlewareOptions)
	router.Register(httpSrv.Engine(), handler.NewRAGHandler(rt.service, handler.Config{
		AskTimeout: cfg.RAGOptions.AskTimeout,
		MaxSources: cfg.RAGOptions.MaxSources,
		Version:    app.GetVersion(),
	}))

	mgr := server.NewManager(
		server.WithShutdownTimeout(cfg.HTTPOptions.ShutdownTimeout),
		server.WithServers(httpSrv),
	)
	mgr.OnStop(tp.Shutdown)
	mgr.OnStop(rt.close)

	return &Server{srv: mgr, rt: rt}, nil
}

// Run starts the HTTP server, warms the pipeline up in the background and
// blocks until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	for name, st := range s.rt.storage.HealthCheckAll(ctx) {
		if st.Healthy {
			logger.Infow("backend healthy", "backend", name, "latency", st.Latency.String())
		} else {
			logger.Warnw("backend unhealthy", "backend", name, "error", st.ErrorString())
		}
	}

	if s.rt.redis != nil {
		if hs := s.rt.redis.HealthWithStats(ctx); hs.PoolStats != nil {
			logger.Infow("redis pool",
				"latency", hs.Latency.String(),
				"total_conns", hs.PoolStats.TotalConns,
				"idle_conns", hs.PoolStats.IdleConns,
			)
		}
	}

	// 预热失败只记录日志，首个请求会重试
	go func() {
		if err := s.rt.service.Initialize(ctx); err != nil {
			logger.Warnw("warm-up failed, will retry on first question", "error", err.Error())
		}
	}()

	return s.srv.Run(ctx)
}

// RunIndex builds or loads the index and exits.
func (cfg *Config) RunIndex(ctx context.Context, out io.Writer) error {
	if err := cfg.initLogger(); err != nil {
		return err
	}

	rt, err := cfg.build(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = rt.close(context.WithoutCancel(ctx)) }()

	if err := rt.index.BuildOrLoad(ctx); err != nil {
		return err
	}

	count, err := rt.index.Count(ctx)
	if err != nil {
		return err
	}
	m := rt.index.Manifest()
	if report := rt.index.LastBuild(); report != nil {
		fmt.Fprintf(out, "built index %s: %d documents, %d chunks, dimension %d in %s\n",
			m.BuildID, report.Documents, report.Chunks, m.Dimension, report.Duration.Round(time.Millisecond))
	} else {
		fmt.Fprintf(out, "loaded index %s: %d chunks, dimension %d\n", m.BuildID, count, m.Dimension)
	}
	return nil
}

// RunAsk answers one question and prints the answer with its sources.
func (cfg *Config) RunAsk(ctx context.Context, question string, out io.Writer) error {
	if err := cfg.initLogger(); err != nil {
		return err
	}

	rt, err := cfg.build(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = rt.close(context.WithoutCancel(ctx)) }()

	// 索引构建不计入单个问题的超时
	if err := rt.service.Initialize(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.RAGOptions.AskTimeout)
	defer cancel()

	result, err := rt.service.Ask(ctx, question)
	if err != nil {
		return err
	}
	printAnswer(out, result.Limit(cfg.RAGOptions.MaxSources))
	return nil
}

func printAnswer(out io.Writer, r *model.AnswerResult) {
	fmt.Fprintf(out, "%s\n", r.Answer)
	if len(r.Sources) == 0 {
		return
	}
	fmt.Fprintln(out, "\nSources:")
	for i, s := range r.Sources {
		fmt.Fprintf(out, "  [%d] %s (page %d)\n      %s\n", i+1, s.Source, s.Page, s.Content)
	}
}

func printBanner(cfg *Config) {
	fmt.Printf("%s %s\n", Name, app.GetVersion())
	fmt.Printf("  http:       %s\n", cfg.HTTPOptions.Addr)
	fmt.Printf("  backend:    %s\n", cfg.RAGOptions.Backend)
	fmt.Printf("  data:       %s\n", cfg.RAGOptions.DataPath)
	fmt.Printf("  embedding:  %s/%s\n", cfg.EmbeddingOptions.Provider, cfg.EmbeddingOptions.Model)
	fmt.Printf("  chat:       %s/%s\n", cfg.ChatOptions.Provider, cfg.ChatOptions.Model)
	fmt.Printf("  redis:      %t\n", cfg.RedisOptions.Enabled)
}
