package biz

import (
	"context"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/finrag/internal/model"
	"github.com/kart-io/finrag/internal/rag/loader"
	"github.com/kart-io/finrag/internal/rag/store"
	"github.com/kart-io/finrag/pkg/llm"
	"github.com/kart-io/finrag/pkg/utils/errors"
	"github.com/kart-io/finrag/pkg/utils/id"
)

// DefaultBatchSize 构建索引时每次向量化的分块数。
const DefaultBatchSize = 32

// LoadFunc 返回待索引的分块，通常由 loader.Loader 提供。
type LoadFunc func(ctx context.Context) ([]*model.Chunk, error)

// IndexConfig 索引配置。
type IndexConfig struct {
	// BatchSize 每批向量化的分块数。
	BatchSize int
	// ChunkSize 与 ChunkOverlap 写入 manifest，仅用于加载时比对。
	ChunkSize    int
	ChunkOverlap int
	// EmbeddingProvider 与 EmbeddingModel 写入 manifest，加载时不一致视为损坏。
	EmbeddingProvider string
	EmbeddingModel    string
	// ForceRebuild 为 true 时 BuildOrLoad 总是重建。
	ForceRebuild bool
}

// BuildReport 一次构建的统计。
type BuildReport struct {
	Documents int
	Chunks    int
	Duration  time.Duration
}

// VectorIndex 管理向量索引的构建、加载与检索。
type VectorIndex struct {
	cfg      *IndexConfig
	embedder llm.EmbeddingProvider
	store    store.VectorStore
	load     LoadFunc

	manifest *store.Manifest
	report   *BuildReport
}

// NewVectorIndex 创建向量索引。
func NewVectorIndex(cfg *IndexConfig, embedder llm.EmbeddingProvider, st store.VectorStore, load LoadFunc) *VectorIndex {
	if cfg == nil {
		cfg = &IndexConfig{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &VectorIndex{
		cfg:      cfg,
		embedder: embedder,
		store:    st,
		load:     load,
	}
}

// BuildOrLoad 索引存在时直接加载，否则构建。
func (v *VectorIndex) BuildOrLoad(ctx context.Context) error {
	if v.cfg.ForceRebuild {
		logger.Infow("force rebuild requested, dropping existing index", "store", v.store.Name())
		return v.Build(ctx)
	}

	exists, err := v.store.Exists(ctx)
	if err != nil {
		return errors.ErrIndexCorrupt.WithCause(err)
	}
	if exists {
		return v.Load(ctx)
	}
	return v.Build(ctx)
}

// Build 加载文档、批量向量化并持久化。失败时删除写了一半的索引。
func (v *VectorIndex) Build(ctx context.Context) (err error) {
	start := time.Now()

	if err := v.store.Drop(ctx); err != nil {
		return errors.ErrIndexCorrupt.WithCause(err)
	}

	chunks, err := v.load(ctx)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return errors.ErrDocumentLoad.WithMessage("no chunks to index")
	}

	defer func() {
		if err == nil {
			return
		}
		if dropErr := v.store.Drop(context.WithoutCancel(ctx)); dropErr != nil {
			logger.Warnw("failed to remove partial index", "store", v.store.Name(), "error", dropErr.Error())
		}
	}()

	logger.Infow("building vector index",
		"store", v.store.Name(),
		"chunks", len(chunks),
		"batch_size", v.cfg.BatchSize,
		"embedding_model", v.cfg.EmbeddingModel,
	)

	var manifest *store.Manifest
	var seq int64
	for batchStart := 0; batchStart < len(chunks); batchStart += v.cfg.BatchSize {
		batchEnd := min(batchStart+v.cfg.BatchSize, len(chunks))
		batch := chunks[batchStart:batchEnd]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}

		vectors, err := v.embedder.Embed(ctx, texts)
		if err != nil {
			return errors.ErrEmbeddingService.WithCause(err)
		}
		if len(vectors) != len(batch) {
			return errors.ErrEmbeddingService.WithMessagef("embedding returned %d vectors for %d texts", len(vectors), len(batch))
		}

		// 维度由第一批结果确定
		if manifest == nil {
			if len(vectors[0]) == 0 {
				return errors.ErrEmbeddingService.WithMessage("embedding returned an empty vector")
			}
			manifest = &store.Manifest{
				BuildID:           id.NewULID(),
				EmbeddingProvider: v.cfg.EmbeddingProvider,
				EmbeddingModel:    v.cfg.EmbeddingModel,
				Dimension:         len(vectors[0]),
				ChunkSize:         v.cfg.ChunkSize,
				ChunkOverlap:      v.cfg.ChunkOverlap,
				CreatedAt:         time.Now().UTC(),
			}
			if err := v.store.Create(ctx, manifest); err != nil {
				return err
			}
		}

		records := make([]*store.VectorRecord, len(batch))
		for i, c := range batch {
			if len(vectors[i]) != manifest.Dimension {
				return errors.ErrEmbeddingService.WithMessagef("inconsistent embedding dimension %d, expected %d", len(vectors[i]), manifest.Dimension)
			}
			records[i] = &store.VectorRecord{
				Seq:       seq,
				Embedding: vectors[i],
				Chunk:     *c,
			}
			seq++
		}
		if err := v.store.Insert(ctx, records); err != nil {
			return err
		}

		logger.Debugw("indexed batch", "from", batchStart, "to", batchEnd, "total", len(chunks))
	}

	v.manifest = manifest
	v.report = &BuildReport{
		Documents: loader.DocumentCount(chunks),
		Chunks:    len(chunks),
		Duration:  time.Since(start),
	}
	logger.Infow("vector index built",
		"build_id", manifest.BuildID,
		"documents", v.report.Documents,
		"chunks", v.report.Chunks,
		"dimension", manifest.Dimension,
		"duration", v.report.Duration.String(),
	)
	return nil
}

// Load 打开已持久化的索引，不调用向量化服务。
func (v *VectorIndex) Load(ctx context.Context) error {
	manifest, err := v.store.Open(ctx)
	if err != nil {
		return err
	}

	if manifest.EmbeddingModel != v.cfg.EmbeddingModel || manifest.EmbeddingProvider != v.cfg.EmbeddingProvider {
		return errors.ErrIndexCorrupt.WithMessagef(
			"index was built with %s/%s but %s/%s is configured, rebuild with --rag.force-rebuild",
			manifest.EmbeddingProvider, manifest.EmbeddingModel, v.cfg.EmbeddingProvider, v.cfg.EmbeddingModel)
	}
	if manifest.ChunkSize != v.cfg.ChunkSize || manifest.ChunkOverlap != v.cfg.ChunkOverlap {
		logger.Warnw("index chunk settings differ from configuration, serving persisted index",
			"index_chunk_size", manifest.ChunkSize,
			"index_chunk_overlap", manifest.ChunkOverlap,
			"chunk_size", v.cfg.ChunkSize,
			"chunk_overlap", v.cfg.ChunkOverlap,
		)
	}

	count, err := v.store.Count(ctx)
	if err != nil {
		return errors.ErrIndexCorrupt.WithCause(err)
	}
	if count == 0 {
		return errors.ErrIndexCorrupt.WithMessage("persisted index holds no records")
	}

	v.manifest = manifest
	logger.Infow("vector index loaded",
		"store", v.store.Name(),
		"build_id", manifest.BuildID,
		"chunks", count,
		"dimension", manifest.Dimension,
	)
	return nil
}

// Query 向量化问题并返回至多 k 个最相似分块，分数降序。
func (v *VectorIndex) Query(ctx context.Context, text string, k int) (*model.RetrievalResult, error) {
	if v.manifest == nil {
		return nil, errors.ErrRAGServiceUnavailable.WithMessage("vector index is not loaded")
	}

	vector, err := v.embedder.EmbedSingle(ctx, text)
	if err != nil {
		return nil, errors.ErrEmbeddingService.WithCause(err)
	}
	if len(vector) != v.manifest.Dimension {
		return nil, errors.ErrIndexCorrupt.WithMessagef("query embedding has dimension %d, index has %d", len(vector), v.manifest.Dimension)
	}

	hits, err := v.store.Search(ctx, vector, k)
	if err != nil {
		return nil, errors.ErrQueryFailed.WithCause(err)
	}

	result := &model.RetrievalResult{
		Query:   text,
		Results: make([]*model.ScoredChunk, 0, len(hits)),
	}
	for _, h := range hits {
		chunk := h.Chunk
		result.Results = append(result.Results, &model.ScoredChunk{Chunk: &chunk, Score: h.Score})
	}
	return result, nil
}

// Count 返回索引中的分块数。
func (v *VectorIndex) Count(ctx context.Context) (int64, error) {
	return v.store.Count(ctx)
}

// Manifest 返回当前索引的 manifest，未加载时为 nil。
func (v *VectorIndex) Manifest() *store.Manifest {
	return v.manifest
}

// LastBuild 返回最近一次构建的统计，索引是加载的则为 nil。
func (v *VectorIndex) LastBuild() *BuildReport {
	return v.report
}

// Close 关闭底层存储。
func (v *VectorIndex) Close(ctx context.Context) error {
	return v.store.Close(ctx)
}
