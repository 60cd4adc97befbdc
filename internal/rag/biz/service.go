package biz

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"time"

	"github.com/kart-io/logger"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kart-io/finrag/internal/model"
	"github.com/kart-io/finrag/internal/pkg/rag/textutil"
	"github.com/kart-io/finrag/internal/rag/metrics"
	"github.com/kart-io/finrag/pkg/infra/tracing"
	"github.com/kart-io/finrag/pkg/llm"
	"github.com/kart-io/finrag/pkg/llm/resilience"
	"github.com/kart-io/finrag/pkg/utils/errors"
)

// 默认问答参数。
const (
	DefaultTopK         = 3
	DefaultExcerptChars = 200
)

// State 服务生命周期状态，只会前进。
type State int

const (
	StateUninitialized State = iota
	StateIndexed
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateIndexed:
		return "indexed"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// ChatBinder 创建生成能力，初始化时只调用一次。
type ChatBinder func(ctx context.Context) (llm.ChatProvider, error)

// ServiceConfig RAG 服务配置。
type ServiceConfig struct {
	// TopK 每个问题检索的分块数。
	TopK int
	// ExcerptChars 来源摘录长度（rune）。
	ExcerptChars int
	// Synthesizer 回答生成配置。
	Synthesizer *SynthesizerConfig
	// BuildTimeout 限制一次初始化（含索引构建），0 表示不限。
	// 初始化不受单个问题的超时约束。
	BuildTimeout time.Duration
}

// RAGService 组合 VectorIndex 和 Synthesizer 提供问答服务。
// 首次调用 Initialize 或 Ask 时构建或加载索引并绑定生成能力，之后只读。
type RAGService struct {
	cfg      *ServiceConfig
	index    *VectorIndex
	bindChat ChatBinder
	cache    *QueryCache
	metrics  *metrics.RAGMetrics

	// lifetime 在 Close 时取消，用于中止进行中的初始化。
	lifetime context.Context
	stop     context.CancelFunc

	mu     sync.Mutex
	state  State
	flight *initFlight
	chat   llm.ChatProvider
	synth  *Synthesizer
}

// initFlight 一次进行中的初始化，所有等待者共享同一结果。
type initFlight struct {
	done chan struct{}
	err  error
}

// NewRAGService 创建 RAG 服务实例。cache 和 m 可以为 nil。
func NewRAGService(
	cfg *ServiceConfig,
	index *VectorIndex,
	bindChat ChatBinder,
	cache *QueryCache,
	m *metrics.RAGMetrics,
) *RAGService {
	if cfg == nil {
		cfg = &ServiceConfig{}
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.ExcerptChars <= 0 {
		cfg.ExcerptChars = DefaultExcerptChars
	}
	if m == nil {
		m = metrics.New()
	}
	lifetime, stop := context.WithCancel(context.Background())
	return &RAGService{
		cfg:      cfg,
		index:    index,
		bindChat: bindChat,
		cache:    cache,
		metrics:  m,
		lifetime: lifetime,
		stop:     stop,
	}
}

// State 返回当前状态。
func (s *RAGService) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Metrics 返回指标收集器。
func (s *RAGService) Metrics() *metrics.RAGMetrics {
	return s.metrics
}

// Initialize 构建或加载索引并绑定生成能力。重复调用是空操作；
// 失败时停留在已达到的状态，下次调用只重试未完成的步骤。
//
// 初始化在后台执行且同一时刻只有一次，ctx 只约束调用方的等待：
// ctx 结束时返回 ctx.Err()，初始化继续进行。
func (s *RAGService) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateReady {
		s.mu.Unlock()
		return nil
	}
	f := s.flight
	if f == nil {
		f = &initFlight{done: make(chan struct{})}
		s.flight = f
		go s.runInitialize(context.WithoutCancel(ctx), f)
	}
	s.mu.Unlock()

	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runInitialize 执行一次初始化，受服务生命周期和 BuildTimeout 约束。
func (s *RAGService) runInitialize(ctx context.Context, f *initFlight) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	unregister := context.AfterFunc(s.lifetime, cancel)
	defer unregister()

	if s.cfg.BuildTimeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, s.cfg.BuildTimeout)
		defer cancelTimeout()
	}

	err := s.initialize(ctx)

	s.mu.Lock()
	s.flight = nil
	s.mu.Unlock()

	f.err = err
	close(f.done)
}

// initialize 只在 runInitialize 中运行，state 的写入需要持锁。
func (s *RAGService) initialize(ctx context.Context) error {
	if s.state == StateUninitialized {
		if err := s.index.BuildOrLoad(ctx); err != nil {
			s.metrics.RecordIndexBuild(0, 0, err)
			logger.Errorw("failed to prepare vector index", "error", err.Error())
			return err
		}
		if report := s.index.LastBuild(); report != nil {
			s.metrics.RecordIndexBuild(report.Documents, report.Chunks, nil)
			// 重建后旧索引的回答全部作废
			if n, err := s.cache.Clear(ctx); err != nil {
				logger.Warnw("failed to clear stale answers", "error", err.Error())
			} else if n > 0 {
				logger.Infow("cleared stale answers after rebuild", "deleted_count", n)
			}
		} else {
			s.metrics.RecordIndexLoad(nil)
		}
		if m := s.index.Manifest(); m != nil {
			s.cache.SetNamespace(m.BuildID)
		}
		s.mu.Lock()
		s.state = StateIndexed
		s.mu.Unlock()
	}

	chat, err := s.bindChat(ctx)
	if err != nil {
		logger.Errorw("failed to bind chat provider", "error", err.Error())
		var errno *errors.Errno
		if stderrors.As(err, &errno) {
			return err
		}
		return errors.ErrGenerationService.WithCause(err)
	}
	s.mu.Lock()
	s.chat = chat
	s.synth = NewSynthesizer(s.cfg.Synthesizer, chat)
	s.state = StateReady
	s.mu.Unlock()

	logger.Infow("rag service ready", "chat_provider", chat.Name(), "top_k", s.cfg.TopK)
	return nil
}

// Ask 回答问题，必要时先初始化。
func (s *RAGService) Ask(ctx context.Context, question string) (result *model.AnswerResult, err error) {
	cacheHit := false
	ctx, span := tracing.Start(ctx, "rag.ask")
	defer func() {
		s.metrics.RecordQuery(cacheHit, err)
		span.SetAttributes(attribute.Bool("rag.cache_hit", cacheHit))
		tracing.End(span, err)
	}()

	if strings.TrimSpace(question) == "" {
		return nil, errors.ErrRAGInvalidRequest.WithMessage("question must not be empty")
	}

	if err := s.Initialize(ctx); err != nil {
		return nil, err
	}

	if cached, cerr := s.cache.Get(ctx, question); cerr == nil && cached != nil {
		cacheHit = true
		// 缓存键忽略首尾空白，回显本次的原始问题
		cached.Query = question
		return cached, nil
	}

	// 1. 检索
	start := time.Now()
	rctx, rspan := tracing.Start(ctx, "rag.retrieve", attribute.Int("rag.top_k", s.cfg.TopK))
	retrieved, err := s.index.Query(rctx, question, s.cfg.TopK)
	if retrieved != nil {
		rspan.SetAttributes(attribute.Int("rag.retrieved", len(retrieved.Results)))
	}
	tracing.End(rspan, err)
	s.metrics.RecordRetrieval(time.Since(start), err)
	if err != nil {
		logger.Warnw("retrieval failed", "error", err.Error())
		return nil, err
	}

	// 2. 生成
	start = time.Now()
	gctx, gspan := tracing.Start(ctx, "rag.generate")
	synthesis, err := s.synth.Synthesize(gctx, question, retrieved)
	tracing.End(gspan, err)
	s.metrics.RecordLLMCall(time.Since(start), err)
	if err != nil {
		logger.Warnw("generation failed", "error", err.Error())
		return nil, err
	}

	// 3. 组装来源
	sources := make([]model.Source, 0, len(synthesis.SourceDocuments))
	for _, c := range synthesis.SourceDocuments {
		sources = append(sources, model.Source{
			Source:  c.Metadata.Source,
			Page:    c.Metadata.Page,
			Content: textutil.TruncateString(c.Content, s.cfg.ExcerptChars),
		})
	}

	result = &model.AnswerResult{
		Answer:  synthesis.Answer,
		Sources: sources,
		Query:   question,
	}

	if err := s.cache.Set(ctx, question, result); err != nil {
		logger.Warnw("failed to cache answer", "error", err.Error())
	}

	logger.Infow("question answered",
		"sources", len(sources),
		"answer_length", len(result.Answer),
	)
	return result, nil
}

// ServiceStats 服务统计，用于 /stats。
type ServiceStats struct {
	State             string                              `json:"state"`
	Store             string                              `json:"store"`
	Chunks            int64                               `json:"chunks"`
	BuildID           string                              `json:"build_id,omitempty"`
	EmbeddingProvider string                              `json:"embedding_provider,omitempty"`
	EmbeddingModel    string                              `json:"embedding_model,omitempty"`
	Dimension         int                                 `json:"dimension,omitempty"`
	ChatProvider      string                              `json:"chat_provider,omitempty"`
	Breakers          map[string]*resilience.BreakerStats `json:"breakers,omitempty"`
	Cache             *CacheStats                         `json:"cache"`
	Metrics           metrics.Snapshot                    `json:"metrics"`
}

// Stats 返回服务统计，不会触发初始化。
func (s *RAGService) Stats(ctx context.Context) (*ServiceStats, error) {
	s.mu.Lock()
	state := s.state
	chat := s.chat
	s.mu.Unlock()

	stats := &ServiceStats{
		State:    state.String(),
		Store:    s.index.store.Name(),
		Breakers: make(map[string]*resilience.BreakerStats),
		Metrics:  s.metrics.Snapshot(),
	}

	if state != StateUninitialized {
		count, err := s.index.Count(ctx)
		if err != nil {
			return nil, errors.ErrQueryFailed.WithCause(err)
		}
		stats.Chunks = count
		if m := s.index.Manifest(); m != nil {
			stats.BuildID = m.BuildID
			stats.EmbeddingProvider = m.EmbeddingProvider
			stats.EmbeddingModel = m.EmbeddingModel
			stats.Dimension = m.Dimension
		}
	}

	if b := resilience.Stats(s.index.embedder); b != nil {
		stats.Breakers["embedding"] = b
	}
	if chat != nil {
		stats.ChatProvider = chat.Name()
		if b := resilience.Stats(chat); b != nil {
			stats.Breakers["chat"] = b
		}
	}

	cacheStats, err := s.cache.Stats(ctx)
	if err != nil {
		logger.Warnw("failed to collect cache stats", "error", err.Error())
		cacheStats = &CacheStats{Enabled: true}
	}
	stats.Cache = cacheStats

	return stats, nil
}

// Close 中止进行中的初始化，等待其退出后释放索引存储。
func (s *RAGService) Close(ctx context.Context) error {
	s.stop()

	s.mu.Lock()
	f := s.flight
	s.mu.Unlock()
	if f != nil {
		select {
		case <-f.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.index.Close(ctx)
}
