// Package milvus wraps the Milvus v2 SDK for the chunk vector collection.
package milvus

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"

	"github.com/kart-io/finrag/pkg/component/storage"
	options "github.com/kart-io/finrag/pkg/options/milvus"
)

// Client wraps the Milvus SDK client.
type Client struct {
	client *milvusclient.Client
	opts   *options.Options
}

var _ storage.Client = (*Client)(nil)

// New connects to Milvus within opts.Timeout.
func New(ctx context.Context, opts *options.Options) (*Client, error) {
	if opts == nil {
		return nil, storage.ErrInvalidConfig.WithMessage("milvus options cannot be nil")
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	c, err := milvusclient.New(ctx, &milvusclient.ClientConfig{
		Address:  opts.Address,
		Username: opts.Username,
		Password: opts.Password,
		DBName:   opts.Database,
	})
	if err != nil {
		return nil, storage.ErrConnectionFailed.WithCause(fmt.Errorf("connect milvus %s: %w", opts.Address, err))
	}

	return &Client{
		client: c,
		opts:   opts,
	}, nil
}

// Name returns the storage type identifier.
func (c *Client) Name() string {
	return "milvus"
}

// Ping lists collections as a connectivity probe.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.client.ListCollections(ctx, milvusclient.NewListCollectionOption())
	return err
}

// Close closes the Milvus client connection.
func (c *Client) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.client.Close(ctx)
}

// Health returns a checker bound to a 3s timeout.
func (c *Client) Health() storage.HealthChecker {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return c.Ping(ctx)
	}
}

// RawClient returns the underlying Milvus client.
func (c *Client) RawClient() *milvusclient.Client {
	return c.client
}

// Field names of a chunk collection.
const (
	FieldSeq       = "seq"
	FieldEmbedding = "embedding"
	FieldContent   = "content"
	FieldSource    = "source"
	FieldPage      = "page"
)

// CollectionSchema defines a chunk collection.
type CollectionSchema struct {
	Name        string
	Description string
	Dimension   int
	// MaxContentLen bounds the VARCHAR content column in bytes.
	MaxContentLen int
}

// HasCollection reports whether the collection exists.
func (c *Client) HasCollection(ctx context.Context, name string) (bool, error) {
	exists, err := c.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(name))
	if err != nil {
		return false, fmt.Errorf("failed to check collection existence: %w", err)
	}
	return exists, nil
}

// CreateCollection creates the collection with a COSINE IVF_FLAT index and
// loads it. An existing collection is left untouched.
func (c *Client) CreateCollection(ctx context.Context, schema *CollectionSchema) error {
	exists, err := c.HasCollection(ctx, schema.Name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	maxLen := schema.MaxContentLen
	if maxLen <= 0 {
		maxLen = 8192
	}

	// seq 为插入顺序，作为主键用于稳定排序
	collSchema := entity.NewSchema().
		WithName(schema.Name).
		WithDescription(schema.Description).
		WithAutoID(false).
		WithField(entity.NewField().
			WithName(FieldSeq).
			WithDataType(entity.FieldTypeInt64).
			WithIsPrimaryKey(true)).
		WithField(entity.NewField().
			WithName(FieldEmbedding).
			WithDataType(entity.FieldTypeFloatVector).
			WithDim(int64(schema.Dimension))).
		WithField(entity.NewField().
			WithName(FieldContent).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(int64(maxLen))).
		WithField(entity.NewField().
			WithName(FieldSource).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(1024)).
		WithField(entity.NewField().
			WithName(FieldPage).
			WithDataType(entity.FieldTypeInt64))

	if err := c.client.CreateCollection(ctx, milvusclient.NewCreateCollectionOption(schema.Name, collSchema)); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx := index.NewIvfFlatIndex(entity.COSINE, c.opts.NList)
	createIdxTask, err := c.client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(schema.Name, FieldEmbedding, idx))
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	if err := createIdxTask.Await(ctx); err != nil {
		return fmt.Errorf("failed to wait for index creation: %w", err)
	}

	return c.LoadCollection(ctx, schema.Name)
}

// Description returns the collection description set at creation.
func (c *Client) Description(ctx context.Context, name string) (string, error) {
	coll, err := c.client.DescribeCollection(ctx, milvusclient.NewDescribeCollectionOption(name))
	if err != nil {
		return "", fmt.Errorf("failed to describe collection: %w", err)
	}
	if coll.Schema == nil {
		return "", nil
	}
	return coll.Schema.Description, nil
}

// LoadCollection loads the collection into memory.
func (c *Client) LoadCollection(ctx context.Context, name string) error {
	loadTask, err := c.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(name))
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	if err := loadTask.Await(ctx); err != nil {
		return fmt.Errorf("failed to wait for collection loading: %w", err)
	}
	return nil
}

// Row is one chunk to insert.
type Row struct {
	Seq       int64
	Embedding []float32
	Content   string
	Source    string
	Page      int64
}

// Insert inserts rows and flushes so they are immediately searchable.
func (c *Client) Insert(ctx context.Context, collection string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	var (
		seqs     = make([]int64, len(rows))
		vectors  = make([][]float32, len(rows))
		contents = make([]string, len(rows))
		sources  = make([]string, len(rows))
		pages    = make([]int64, len(rows))
	)
	for i, r := range rows {
		seqs[i] = r.Seq
		vectors[i] = r.Embedding
		contents[i] = r.Content
		sources[i] = r.Source
		pages[i] = r.Page
	}

	_, err := c.client.Insert(ctx, milvusclient.NewColumnBasedInsertOption(collection,
		column.NewColumnInt64(FieldSeq, seqs),
		column.NewColumnFloatVector(FieldEmbedding, len(vectors[0]), vectors),
		column.NewColumnVarChar(FieldContent, contents),
		column.NewColumnVarChar(FieldSource, sources),
		column.NewColumnInt64(FieldPage, pages),
	))
	if err != nil {
		return fmt.Errorf("failed to insert data: %w", err)
	}

	flushTask, err := c.client.Flush(ctx, milvusclient.NewFlushOption(collection))
	if err != nil {
		return fmt.Errorf("failed to flush collection: %w", err)
	}
	if err := flushTask.Await(ctx); err != nil {
		return fmt.Errorf("failed to wait for flush: %w", err)
	}
	return nil
}

// Hit is a single search result.
type Hit struct {
	Row
	Score float32
}

// Search returns the topK rows closest to vector by COSINE similarity.
func (c *Client) Search(ctx context.Context, collection string, vector []float32, topK int) ([]Hit, error) {
	results, err := c.client.Search(ctx, milvusclient.NewSearchOption(
		collection,
		topK,
		[]entity.Vector{entity.FloatVector(vector)},
	).WithANNSField(FieldEmbedding).
		WithSearchParam("nprobe", strconv.Itoa(c.opts.NProbe)).
		WithOutputFields(FieldSeq, FieldContent, FieldSource, FieldPage))
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	if len(results) == 0 {
		return []Hit{}, nil
	}

	rs := results[0]
	hits := make([]Hit, rs.ResultCount)
	for i := range hits {
		hits[i].Score = rs.Scores[i]
	}
	for _, field := range rs.Fields {
		switch col := field.(type) {
		case *column.ColumnVarChar:
			for i := range hits {
				switch col.Name() {
				case FieldContent:
					hits[i].Content = col.Data()[i]
				case FieldSource:
					hits[i].Source = col.Data()[i]
				}
			}
		case *column.ColumnInt64:
			for i := range hits {
				switch col.Name() {
				case FieldSeq:
					hits[i].Seq = col.Data()[i]
				case FieldPage:
					hits[i].Page = col.Data()[i]
				}
			}
		}
	}
	return hits, nil
}

// DropCollection drops a collection.
func (c *Client) DropCollection(ctx context.Context, name string) error {
	if err := c.client.DropCollection(ctx, milvusclient.NewDropCollectionOption(name)); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	return nil
}

// RowCount returns the number of entities in a collection.
func (c *Client) RowCount(ctx context.Context, name string) (int64, error) {
	stats, err := c.client.GetCollectionStats(ctx, milvusclient.NewGetCollectionStatsOption(name))
	if err != nil {
		return 0, fmt.Errorf("failed to get collection stats: %w", err)
	}
	if val, ok := stats["row_count"]; ok {
		return strconv.ParseInt(val, 10, 64)
	}
	return 0, nil
}
