package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/finrag/internal/model"
	"github.com/kart-io/finrag/pkg/component/milvus"
	"github.com/kart-io/finrag/pkg/utils/errors"
)

func testManifest(dim int) *Manifest {
	return &Manifest{
		BuildID:           "01HZY3J6W8V9K2M4N5P6Q7R8S9",
		EmbeddingProvider: "fake",
		EmbeddingModel:    "fake-model",
		Dimension:         dim,
		ChunkSize:         600,
		ChunkOverlap:      80,
		CreatedAt:         time.Now().UTC().Truncate(time.Second),
	}
}

func record(seq int64, vec []float32, text string) *VectorRecord {
	return &VectorRecord{
		Seq:       seq,
		Embedding: vec,
		Chunk:     model.Chunk{Content: text, Metadata: model.Metadata{Source: "report.pdf", Page: int(seq)}},
	}
}

func TestSQLiteStore_CreateInsertSearch(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "index")
	s := NewSQLiteStore(dir)

	exists, err := s.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.Create(ctx, testManifest(2)))
	require.NoError(t, s.Insert(ctx, []*VectorRecord{
		record(0, []float32{1, 0}, "east"),
		record(1, []float32{0, 1}, "north"),
		record(2, []float32{1, 0}, "east again"),
		record(3, []float32{-1, 0}, "west"),
	}))

	exists, err = s.Exists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)

	results, err := s.Search(ctx, []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	// 并列时按插入顺序
	assert.Equal(t, "east", results[0].Chunk.Content)
	assert.Equal(t, "east again", results[1].Chunk.Content)
	assert.Equal(t, "north", results[2].Chunk.Content)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.GreaterOrEqual(t, results[1].Score, results[2].Score)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)
	require.NoError(t, s.Close(ctx))
}

func TestSQLiteStore_ReopenWithoutRebuild(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "index")

	first := NewSQLiteStore(dir)
	m := testManifest(3)
	require.NoError(t, first.Create(ctx, m))
	require.NoError(t, first.Insert(ctx, []*VectorRecord{record(0, []float32{0.1, 0.2, 0.3}, "净利润 12.5 亿元")}))
	require.NoError(t, first.Close(ctx))

	second := NewSQLiteStore(dir)
	got, err := second.Open(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close(ctx) })

	assert.Equal(t, m.EmbeddingModel, got.EmbeddingModel)
	assert.Equal(t, 3, got.Dimension)
	assert.Equal(t, m.BuildID, got.BuildID)

	results, err := second.Search(ctx, []float32{0.1, 0.2, 0.3}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "净利润 12.5 亿元", results[0].Chunk.Content)
	assert.Equal(t, model.Metadata{Source: "report.pdf", Page: 0}, results[0].Chunk.Metadata)
}

func TestSQLiteStore_OpenCorrupt(t *testing.T) {
	ctx := context.Background()

	t.Run("缺少数据库文件", func(t *testing.T) {
		dir := t.TempDir()
		_, err := NewSQLiteStore(dir).Open(ctx)
		assert.ErrorIs(t, err, errors.ErrIndexCorrupt)
	})

	t.Run("数据库文件损坏", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, IndexFile), []byte(strings.Repeat("garbage ", 512)), 0o644))
		s := NewSQLiteStore(dir)
		t.Cleanup(func() { _ = s.Close(ctx) })
		_, err := s.Open(ctx)
		assert.ErrorIs(t, err, errors.ErrIndexCorrupt)
	})

	t.Run("向量无法解析", func(t *testing.T) {
		dir := t.TempDir()
		s := NewSQLiteStore(dir)
		require.NoError(t, s.Create(ctx, testManifest(2)))
		require.NoError(t, s.Client().DB().Create(&chunkRow{Seq: 0, Content: "x", Embedding: "not-json"}).Error)
		require.NoError(t, s.Close(ctx))

		reopened := NewSQLiteStore(dir)
		t.Cleanup(func() { _ = reopened.Close(ctx) })
		_, err := reopened.Open(ctx)
		assert.ErrorIs(t, err, errors.ErrIndexCorrupt)
	})
}

func TestSQLiteStore_Drop(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "index")
	s := NewSQLiteStore(dir)
	require.NoError(t, s.Create(ctx, testManifest(2)))

	require.NoError(t, s.Drop(ctx))
	exists, err := s.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.NoDirExists(t, dir)
}

func TestRankResults(t *testing.T) {
	results := []*SearchResult{
		{Seq: 5, Score: 0.5},
		{Seq: 1, Score: 0.9},
		{Seq: 3, Score: 0.5},
		{Seq: 2, Score: 0.1},
	}
	ranked := rankResults(results, 3)
	require.Len(t, ranked, 3)
	assert.Equal(t, []int64{1, 3, 5}, []int64{ranked[0].Seq, ranked[1].Seq, ranked[2].Seq})

	assert.Empty(t, rankResults(nil, 3))
	assert.Empty(t, rankResults([]*SearchResult{{Seq: 1}}, 0))
}

func TestHitsToResults(t *testing.T) {
	hits := []milvus.Hit{
		{Row: milvus.Row{Seq: 2, Content: "b", Source: "x.pdf", Page: 4}, Score: 0.7},
		{Row: milvus.Row{Seq: 1, Content: "a", Source: "x.pdf", Page: 3}, Score: 0.7},
	}
	ranked := rankResults(hitsToResults(hits), 2)
	require.Len(t, ranked, 2)
	assert.Equal(t, "a", ranked[0].Chunk.Content)
	assert.Equal(t, 3, ranked[0].Chunk.Metadata.Page)
	assert.Equal(t, "x.pdf", ranked[1].Chunk.Metadata.Source)
}
