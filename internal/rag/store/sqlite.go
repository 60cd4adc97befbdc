package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/finrag/internal/model"
	"github.com/kart-io/finrag/internal/pkg/rag/textutil"
	"github.com/kart-io/finrag/pkg/component/sqlite"
	"github.com/kart-io/finrag/pkg/utils/errors"
	"github.com/kart-io/finrag/pkg/utils/json"
)

// IndexFile 是索引目录中的数据库文件名。
const IndexFile = "index.db"

const insertBatchSize = 100

type manifestRow struct {
	ID                uint   `gorm:"primaryKey"`
	BuildID           string `gorm:"size:26"`
	EmbeddingProvider string
	EmbeddingModel    string
	Dimension         int
	ChunkSize         int
	ChunkOverlap      int
	CreatedAt         time.Time
}

func (manifestRow) TableName() string { return "manifest" }

type chunkRow struct {
	Seq       int64  `gorm:"primaryKey;autoIncrement:false"`
	Source    string `gorm:"index"`
	Page      int
	Content   string
	Embedding string
}

func (chunkRow) TableName() string { return "chunks" }

// SQLiteStore 把索引保存在 <dir>/index.db，Open 时一次性把向量读入内存，
// 检索为暴力余弦计算。
type SQLiteStore struct {
	dir string

	mu      sync.RWMutex
	client  *sqlite.Client
	records []*VectorRecord
}

// NewSQLiteStore 创建以 dir 为索引目录的存储。
func NewSQLiteStore(dir string) *SQLiteStore {
	return &SQLiteStore{dir: dir}
}

// Name 返回后端名称。
func (s *SQLiteStore) Name() string {
	return "sqlite"
}

// Dir 返回索引目录。
func (s *SQLiteStore) Dir() string {
	return s.dir
}

// Exists 目录存在即认为索引存在。
func (s *SQLiteStore) Exists(_ context.Context) (bool, error) {
	info, err := os.Stat(s.dir)
	if err == nil {
		return info.IsDir(), nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (s *SQLiteStore) connect(ctx context.Context) error {
	if s.client != nil {
		return nil
	}
	client, err := sqlite.New(ctx, sqlite.NewOptions(filepath.Join(s.dir, IndexFile)))
	if err != nil {
		return err
	}
	s.client = client
	return nil
}

// Create 创建目录、表结构并写入 manifest。
func (s *SQLiteStore) Create(ctx context.Context, m *Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.connect(ctx); err != nil {
		return fmt.Errorf("create index: %w", err)
	}

	db := s.client.DB().WithContext(ctx)
	if err := db.AutoMigrate(&manifestRow{}, &chunkRow{}); err != nil {
		return fmt.Errorf("migrate index schema: %w", err)
	}

	row := &manifestRow{
		ID:                1,
		BuildID:           m.BuildID,
		EmbeddingProvider: m.EmbeddingProvider,
		EmbeddingModel:    m.EmbeddingModel,
		Dimension:         m.Dimension,
		ChunkSize:         m.ChunkSize,
		ChunkOverlap:      m.ChunkOverlap,
		CreatedAt:         m.CreatedAt,
	}
	if err := db.Create(row).Error; err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	s.records = nil
	return nil
}

// Open 读取 manifest 与全部向量。
func (s *SQLiteStore) Open(ctx context.Context) (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(filepath.Join(s.dir, IndexFile)); err != nil {
		return nil, errors.ErrIndexCorrupt.WithCause(err)
	}
	if err := s.connect(ctx); err != nil {
		return nil, errors.ErrIndexCorrupt.WithCause(err)
	}
	db := s.client.DB().WithContext(ctx)

	var m manifestRow
	if err := db.First(&m).Error; err != nil {
		return nil, errors.ErrIndexCorrupt.WithCause(fmt.Errorf("read manifest: %w", err))
	}

	var rows []chunkRow
	if err := db.Order("seq").Find(&rows).Error; err != nil {
		return nil, errors.ErrIndexCorrupt.WithCause(fmt.Errorf("read chunks: %w", err))
	}

	records := make([]*VectorRecord, len(rows))
	for i, r := range rows {
		vec, err := json.DecodeVector(r.Embedding)
		if err != nil {
			return nil, errors.ErrIndexCorrupt.WithCause(fmt.Errorf("decode vector %d: %w", r.Seq, err))
		}
		if len(vec) != m.Dimension {
			return nil, errors.ErrIndexCorrupt.WithMessagef("vector %d has dimension %d, manifest says %d", r.Seq, len(vec), m.Dimension)
		}
		records[i] = &VectorRecord{
			Seq:       r.Seq,
			Embedding: vec,
			Chunk:     model.Chunk{Content: r.Content, Metadata: model.Metadata{Source: r.Source, Page: r.Page}},
		}
	}
	s.records = records

	logger.Debugw("sqlite index opened", "path", s.client.Path(), "records", len(records))
	return &Manifest{
		BuildID:           m.BuildID,
		EmbeddingProvider: m.EmbeddingProvider,
		EmbeddingModel:    m.EmbeddingModel,
		Dimension:         m.Dimension,
		ChunkSize:         m.ChunkSize,
		ChunkOverlap:      m.ChunkOverlap,
		CreatedAt:         m.CreatedAt,
	}, nil
}

// Insert 追加记录，同时更新内存副本。
func (s *SQLiteStore) Insert(ctx context.Context, records []*VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return fmt.Errorf("sqlite index %s is not open", s.dir)
	}

	rows := make([]chunkRow, len(records))
	for i, r := range records {
		enc, err := json.EncodeVector(r.Embedding)
		if err != nil {
			return fmt.Errorf("encode vector %d: %w", r.Seq, err)
		}
		rows[i] = chunkRow{
			Seq:       r.Seq,
			Source:    r.Chunk.Metadata.Source,
			Page:      r.Chunk.Metadata.Page,
			Content:   r.Chunk.Content,
			Embedding: enc,
		}
	}
	if err := s.client.DB().WithContext(ctx).CreateInBatches(rows, insertBatchSize).Error; err != nil {
		return fmt.Errorf("insert chunks: %w", err)
	}
	s.records = append(s.records, records...)
	return nil
}

// Search 暴力计算余弦相似度。
func (s *SQLiteStore) Search(ctx context.Context, vector []float32, k int) ([]*SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := make([]*SearchResult, len(s.records))
	for i, r := range s.records {
		results[i] = &SearchResult{
			Seq:   r.Seq,
			Chunk: r.Chunk,
			Score: float32(textutil.CosineSimilarity(vector, r.Embedding)),
		}
	}
	return rankResults(results, k), nil
}

// Count 返回内存中的记录数。
func (s *SQLiteStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.records)), nil
}

// Drop 关闭连接并删除整个索引目录。
func (s *SQLiteStore) Drop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		_ = s.client.Close()
		s.client = nil
	}
	s.records = nil
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("remove index dir %s: %w", s.dir, err)
	}
	return nil
}

// Close 关闭数据库连接，内存中的记录保留。
func (s *SQLiteStore) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

// Client 返回底层 SQLite 客户端，未打开时为 nil。
func (s *SQLiteStore) Client() *sqlite.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

var _ VectorStore = (*SQLiteStore)(nil)
