package biz

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/finrag/internal/model"
	"github.com/kart-io/finrag/internal/rag/store"
	"github.com/kart-io/finrag/pkg/utils/errors"
)

func testIndexConfig() *IndexConfig {
	return &IndexConfig{
		BatchSize:         2,
		ChunkSize:         600,
		ChunkOverlap:      80,
		EmbeddingProvider: "fake",
		EmbeddingModel:    "fake-model",
	}
}

func newTestIndex(t *testing.T, dir string, emb *fakeEmbedder, loads *atomic.Int64) *VectorIndex {
	t.Helper()
	st := store.NewSQLiteStore(dir)
	t.Cleanup(func() { _ = st.Close(context.Background()) })
	return NewVectorIndex(testIndexConfig(), emb, st, staticLoad(corpus(), loads))
}

func TestVectorIndex_BuildThenLoadWithoutEmbedding(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "index")

	emb := &fakeEmbedder{}
	var loads atomic.Int64
	first := newTestIndex(t, dir, emb, &loads)
	require.NoError(t, first.BuildOrLoad(ctx))

	// 5 个分块，每批 2 个
	assert.EqualValues(t, 3, emb.calls.Load())
	require.NotNil(t, first.LastBuild())
	assert.Equal(t, 2, first.LastBuild().Documents)
	assert.Equal(t, 5, first.LastBuild().Chunks)
	require.NoError(t, first.Close(ctx))

	emb2 := &fakeEmbedder{}
	second := newTestIndex(t, dir, emb2, &loads)
	require.NoError(t, second.BuildOrLoad(ctx))

	assert.Zero(t, emb2.calls.Load())
	assert.EqualValues(t, 1, loads.Load())
	assert.Nil(t, second.LastBuild())

	count, err := second.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 5, count)
	assert.Equal(t, first.Manifest().BuildID, second.Manifest().BuildID)
	assert.Equal(t, len(keywordDims), second.Manifest().Dimension)
}

func TestVectorIndex_Query(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, filepath.Join(t.TempDir(), "index"), &fakeEmbedder{}, nil)
	require.NoError(t, idx.BuildOrLoad(ctx))

	res, err := idx.Query(ctx, "What was the revenue?", 3)
	require.NoError(t, err)
	require.Len(t, res.Results, 3)
	assert.Equal(t, "What was the revenue?", res.Query)

	for i := 1; i < len(res.Results); i++ {
		assert.GreaterOrEqual(t, res.Results[i-1].Score, res.Results[i].Score)
	}

	// 两个 revenue 分块方向相同、分数相同，按插入顺序排列
	assert.Equal(t, 0, res.Results[0].Chunk.Metadata.Page)
	assert.Equal(t, "annual.pdf", res.Results[0].Chunk.Metadata.Source)
	assert.Equal(t, 2, res.Results[1].Chunk.Metadata.Page)
	assert.InDelta(t, res.Results[0].Score, res.Results[1].Score, 1e-6)

	res, err = idx.Query(ctx, "debt", 10)
	require.NoError(t, err)
	assert.Len(t, res.Results, 5)
	assert.Equal(t, "Long-term debt decreased by 8%.", res.Results[0].Chunk.Content)
}

func TestVectorIndex_QueryBeforeLoad(t *testing.T) {
	idx := newTestIndex(t, filepath.Join(t.TempDir(), "index"), &fakeEmbedder{}, nil)

	_, err := idx.Query(context.Background(), "revenue", 3)
	assert.ErrorIs(t, err, errors.ErrRAGServiceUnavailable)
}

func TestVectorIndex_QueryDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	emb := &fakeEmbedder{}
	idx := newTestIndex(t, filepath.Join(t.TempDir(), "index"), emb, nil)
	require.NoError(t, idx.BuildOrLoad(ctx))

	emb.dimension = 2
	_, err := idx.Query(ctx, "revenue", 3)
	assert.ErrorIs(t, err, errors.ErrIndexCorrupt)
}

func TestVectorIndex_BuildFailureRemovesDirectory(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "index")
	idx := newTestIndex(t, dir, &fakeEmbedder{fail: errProvider}, nil)

	err := idx.BuildOrLoad(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrEmbeddingService)
	assert.ErrorIs(t, err, errProvider)

	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestVectorIndex_LoadErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("model mismatch", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "index")
		built := newTestIndex(t, dir, &fakeEmbedder{}, nil)
		require.NoError(t, built.BuildOrLoad(ctx))
		require.NoError(t, built.Close(ctx))

		cfg := testIndexConfig()
		cfg.EmbeddingModel = "other-model"
		st := store.NewSQLiteStore(dir)
		t.Cleanup(func() { _ = st.Close(ctx) })
		emb := &fakeEmbedder{}
		idx := NewVectorIndex(cfg, emb, st, staticLoad(corpus(), nil))

		err := idx.BuildOrLoad(ctx)
		assert.ErrorIs(t, err, errors.ErrIndexCorrupt)
		assert.Zero(t, emb.calls.Load())
	})

	t.Run("directory without database", func(t *testing.T) {
		dir := t.TempDir()
		idx := newTestIndex(t, dir, &fakeEmbedder{}, nil)

		err := idx.BuildOrLoad(ctx)
		assert.ErrorIs(t, err, errors.ErrIndexCorrupt)
	})
}

func TestVectorIndex_ForceRebuild(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "index")

	built := newTestIndex(t, dir, &fakeEmbedder{}, nil)
	require.NoError(t, built.BuildOrLoad(ctx))
	firstID := built.Manifest().BuildID
	require.NoError(t, built.Close(ctx))

	cfg := testIndexConfig()
	cfg.ForceRebuild = true
	st := store.NewSQLiteStore(dir)
	t.Cleanup(func() { _ = st.Close(ctx) })
	emb := &fakeEmbedder{}
	idx := NewVectorIndex(cfg, emb, st, staticLoad(corpus(), nil))

	require.NoError(t, idx.BuildOrLoad(ctx))
	assert.NotZero(t, emb.calls.Load())
	assert.NotEqual(t, firstID, idx.Manifest().BuildID)
}

func TestVectorIndex_EmptyCorpus(t *testing.T) {
	st := store.NewSQLiteStore(filepath.Join(t.TempDir(), "index"))
	idx := NewVectorIndex(testIndexConfig(), &fakeEmbedder{}, st, staticLoad([]*model.Chunk{}, nil))

	err := idx.BuildOrLoad(context.Background())
	assert.ErrorIs(t, err, errors.ErrDocumentLoad)
}
