package store

import (
	"context"
	"sort"
	"time"

	"github.com/kart-io/finrag/internal/model"
)

// Manifest 记录索引的构建参数，加载时用于检测不兼容的索引。
type Manifest struct {
	BuildID           string    `json:"build_id"`
	EmbeddingProvider string    `json:"embedding_provider"`
	EmbeddingModel    string    `json:"embedding_model"`
	Dimension         int       `json:"dimension"`
	ChunkSize         int       `json:"chunk_size"`
	ChunkOverlap      int       `json:"chunk_overlap"`
	CreatedAt         time.Time `json:"created_at"`
}

// VectorRecord 一条向量记录，构建时创建后不再修改。Seq 为插入顺序。
type VectorRecord struct {
	Seq       int64
	Embedding []float32
	Chunk     model.Chunk
}

// SearchResult 检索结果。
type SearchResult struct {
	Seq   int64
	Chunk model.Chunk
	Score float32
}

// VectorStore 定义向量存储接口。
type VectorStore interface {
	// Name 返回后端名称。
	Name() string

	// Exists 报告持久化索引是否存在。存在即视为有效，不做更细的失效判断。
	Exists(ctx context.Context) (bool, error)

	// Create 创建空索引并写入 manifest。
	Create(ctx context.Context, m *Manifest) error

	// Open 打开已有索引并返回其 manifest，数据无法解析时返回 ErrIndexCorrupt。
	Open(ctx context.Context) (*Manifest, error)

	// Insert 按顺序追加记录。
	Insert(ctx context.Context, records []*VectorRecord) error

	// Search 返回与 vector 最相似的至多 k 条记录。
	Search(ctx context.Context, vector []float32, k int) ([]*SearchResult, error)

	// Count 返回记录数。
	Count(ctx context.Context) (int64, error)

	// Drop 删除持久化索引。
	Drop(ctx context.Context) error

	// Close 释放连接，可重复调用。
	Close(ctx context.Context) error
}

// rankResults 按分数降序稳定排序，分数相同按 Seq 升序，截取前 k 条。
func rankResults(results []*SearchResult, k int) []*SearchResult {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Seq < results[j].Seq
	})
	if k >= 0 && len(results) > k {
		results = results[:k]
	}
	return results
}
