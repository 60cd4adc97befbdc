package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/kart-io/finrag/internal/model"
	"github.com/kart-io/finrag/pkg/component/milvus"
	"github.com/kart-io/finrag/pkg/utils/errors"
	"github.com/kart-io/finrag/pkg/utils/json"
)

// maxContentBytes 是 content 列的 VARCHAR 上限。
const maxContentBytes = 65535

// MilvusStore 实现基于 Milvus 的向量存储。集合是否存在等价于本地索引目录是否存在，
// manifest 以 JSON 形式保存在集合描述中。
type MilvusStore struct {
	client     *milvus.Client
	collection string

	mu    sync.RWMutex
	count int64
}

// NewMilvusStore 创建 Milvus 存储实例。
func NewMilvusStore(client *milvus.Client, collection string) *MilvusStore {
	return &MilvusStore{client: client, collection: collection}
}

// Name 返回后端名称。
func (s *MilvusStore) Name() string {
	return "milvus"
}

// Exists 报告集合是否存在。
func (s *MilvusStore) Exists(ctx context.Context) (bool, error) {
	return s.client.HasCollection(ctx, s.collection)
}

// Create 创建集合与 COSINE 索引。
func (s *MilvusStore) Create(ctx context.Context, m *Manifest) error {
	desc, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := s.client.CreateCollection(ctx, &milvus.CollectionSchema{
		Name:          s.collection,
		Description:   string(desc),
		Dimension:     m.Dimension,
		MaxContentLen: maxContentBytes,
	}); err != nil {
		return fmt.Errorf("create collection %s: %w", s.collection, err)
	}

	s.mu.Lock()
	s.count = 0
	s.mu.Unlock()
	return nil
}

// Open 读取集合描述中的 manifest 并加载集合。
func (s *MilvusStore) Open(ctx context.Context) (*Manifest, error) {
	desc, err := s.client.Description(ctx, s.collection)
	if err != nil {
		return nil, errors.ErrIndexCorrupt.WithCause(err)
	}

	var m Manifest
	if err := json.Unmarshal([]byte(desc), &m); err != nil {
		return nil, errors.ErrIndexCorrupt.WithCause(fmt.Errorf("decode manifest of %s: %w", s.collection, err))
	}

	if err := s.client.LoadCollection(ctx, s.collection); err != nil {
		return nil, errors.ErrIndexCorrupt.WithCause(err)
	}

	count, err := s.client.RowCount(ctx, s.collection)
	if err != nil {
		return nil, errors.ErrIndexCorrupt.WithCause(err)
	}
	s.mu.Lock()
	s.count = count
	s.mu.Unlock()
	return &m, nil
}

// Insert 插入记录并 flush。
func (s *MilvusStore) Insert(ctx context.Context, records []*VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([]milvus.Row, len(records))
	for i, r := range records {
		rows[i] = milvus.Row{
			Seq:       r.Seq,
			Embedding: r.Embedding,
			Content:   r.Chunk.Content,
			Source:    r.Chunk.Metadata.Source,
			Page:      int64(r.Chunk.Metadata.Page),
		}
	}
	if err := s.client.Insert(ctx, s.collection, rows); err != nil {
		return err
	}

	s.mu.Lock()
	s.count += int64(len(records))
	s.mu.Unlock()
	return nil
}

// Search 使用 Milvus COSINE 检索，再按 (score desc, seq asc) 重排保证并列稳定。
func (s *MilvusStore) Search(ctx context.Context, vector []float32, k int) ([]*SearchResult, error) {
	hits, err := s.client.Search(ctx, s.collection, vector, k)
	if err != nil {
		return nil, err
	}
	return rankResults(hitsToResults(hits), k), nil
}

func hitsToResults(hits []milvus.Hit) []*SearchResult {
	results := make([]*SearchResult, len(hits))
	for i, h := range hits {
		results[i] = &SearchResult{
			Seq: h.Seq,
			Chunk: model.Chunk{
				Content:  h.Content,
				Metadata: model.Metadata{Source: h.Source, Page: int(h.Page)},
			},
			Score: h.Score,
		}
	}
	return results
}

// Count 返回已知的记录数。
func (s *MilvusStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count, nil
}

// Drop 删除集合。
func (s *MilvusStore) Drop(ctx context.Context) error {
	exists, err := s.client.HasCollection(ctx, s.collection)
	if err != nil || !exists {
		return err
	}
	s.mu.Lock()
	s.count = 0
	s.mu.Unlock()
	return s.client.DropCollection(ctx, s.collection)
}

// Close 客户端由存储管理器统一关闭，这里不做处理。
func (s *MilvusStore) Close(_ context.Context) error {
	return nil
}

var _ VectorStore = (*MilvusStore)(nil)
