// Package rag provides RAG pipeline configuration options.
package rag

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/finrag/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Supported vector store backends.
const (
	BackendSQLite = "sqlite"
	BackendMilvus = "milvus"
)

const (
	DefaultDataPath  = "./knowledge_base"
	DefaultIndexPath = "./chroma_db"
)

// Environment variables kept for deployments configured before the
// FINRAG_ prefix existed.
const (
	EnvDataPath  = "DATA_PATH"
	EnvIndexPath = "VECTOR_DB_PATH"
)

// Options contains RAG pipeline configuration.
type Options struct {
	// DataPath is the directory holding the source PDF documents.
	DataPath string `json:"data-path" mapstructure:"data-path"`

	// IndexPath is the directory of the persisted vector index.
	IndexPath string `json:"index-path" mapstructure:"index-path"`

	// Backend selects the vector store (sqlite|milvus).
	Backend string `json:"backend" mapstructure:"backend"`

	// Collection is the Milvus collection name (milvus backend only).
	Collection string `json:"collection" mapstructure:"collection"`

	ChunkSize    int `json:"chunk-size" mapstructure:"chunk-size"`
	ChunkOverlap int `json:"chunk-overlap" mapstructure:"chunk-overlap"`

	// TopK is the number of chunks retrieved per question.
	TopK int `json:"top-k" mapstructure:"top-k"`

	// MaxSources is the default number of sources returned by /ask.
	MaxSources int `json:"max-sources" mapstructure:"max-sources"`

	// ExcerptChars is the length of the source excerpt in characters.
	ExcerptChars int `json:"excerpt-chars" mapstructure:"excerpt-chars"`

	// MaxContextChars bounds the prompt context; lowest-ranked chunks go first.
	MaxContextChars int `json:"max-context-chars" mapstructure:"max-context-chars"`

	// BatchSize is the number of chunks per embedding call during build.
	BatchSize int `json:"batch-size" mapstructure:"batch-size"`

	// AskTimeout bounds a whole /ask request.
	AskTimeout time.Duration `json:"ask-timeout" mapstructure:"ask-timeout"`

	// BuildTimeout bounds the index build independently of AskTimeout; 0 disables it.
	BuildTimeout time.Duration `json:"build-timeout" mapstructure:"build-timeout"`

	// ForceRebuild drops the persisted index before building.
	ForceRebuild bool `json:"force-rebuild" mapstructure:"force-rebuild"`

	// CacheTTL is the lifetime of cached answers (requires redis).
	CacheTTL time.Duration `json:"cache-ttl" mapstructure:"cache-ttl"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		DataPath:        DefaultDataPath,
		IndexPath:       DefaultIndexPath,
		Backend:         BackendSQLite,
		Collection:      "finrag_chunks",
		ChunkSize:       600,
		ChunkOverlap:    80,
		TopK:            3,
		MaxSources:      3,
		ExcerptChars:    200,
		MaxContextChars: 8000,
		BatchSize:       32,
		AskTimeout:      60 * time.Second,
		BuildTimeout:    30 * time.Minute,
		CacheTTL:        10 * time.Minute,
	}
}

// AddFlags adds flags for RAG options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...)
	fs.StringVar(&o.DataPath, p+"rag.data-path", o.DataPath, "Directory containing the source PDF documents (env DATA_PATH).")
	fs.StringVar(&o.IndexPath, p+"rag.index-path", o.IndexPath, "Directory of the persisted vector index (env VECTOR_DB_PATH).")
	fs.StringVar(&o.Backend, p+"rag.backend", o.Backend, "Vector store backend (sqlite|milvus).")
	fs.StringVar(&o.Collection, p+"rag.collection", o.Collection, "Milvus collection name.")
	fs.IntVar(&o.ChunkSize, p+"rag.chunk-size", o.ChunkSize, "Chunk size in characters.")
	fs.IntVar(&o.ChunkOverlap, p+"rag.chunk-overlap", o.ChunkOverlap, "Overlap between consecutive chunks in characters.")
	fs.IntVar(&o.TopK, p+"rag.top-k", o.TopK, "Number of chunks retrieved per question.")
	fs.IntVar(&o.MaxSources, p+"rag.max-sources", o.MaxSources, "Default number of sources returned per answer.")
	fs.IntVar(&o.ExcerptChars, p+"rag.excerpt-chars", o.ExcerptChars, "Length of each source excerpt in characters.")
	fs.IntVar(&o.MaxContextChars, p+"rag.max-context-chars", o.MaxContextChars, "Maximum prompt context size in characters.")
	fs.IntVar(&o.BatchSize, p+"rag.batch-size", o.BatchSize, "Chunks per embedding request while building the index.")
	fs.DurationVar(&o.AskTimeout, p+"rag.ask-timeout", o.AskTimeout, "Timeout for a whole question.")
	fs.DurationVar(&o.BuildTimeout, p+"rag.build-timeout", o.BuildTimeout, "Timeout for building the index (0 disables it).")
	fs.BoolVar(&o.ForceRebuild, p+"rag.force-rebuild", o.ForceRebuild, "Drop the persisted index and rebuild it on startup.")
	fs.DurationVar(&o.CacheTTL, p+"rag.cache-ttl", o.CacheTTL, "Lifetime of cached answers when redis is enabled.")
}

// Validate validates the RAG options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.DataPath == "" {
		errs = append(errs, fmt.Errorf("rag.data-path is required"))
	}
	if o.IndexPath == "" && o.Backend == BackendSQLite {
		errs = append(errs, fmt.Errorf("rag.index-path is required for the sqlite backend"))
	}
	if o.Backend != BackendSQLite && o.Backend != BackendMilvus {
		errs = append(errs, fmt.Errorf("rag.backend must be %q or %q, got %q", BackendSQLite, BackendMilvus, o.Backend))
	}
	if o.Backend == BackendMilvus && o.Collection == "" {
		errs = append(errs, fmt.Errorf("rag.collection is required for the milvus backend"))
	}
	if o.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("rag.chunk-size must be positive"))
	}
	if o.ChunkOverlap < 0 || o.ChunkOverlap >= o.ChunkSize {
		errs = append(errs, fmt.Errorf("rag.chunk-overlap must be in [0, chunk-size)"))
	}
	if o.TopK <= 0 {
		errs = append(errs, fmt.Errorf("rag.top-k must be positive"))
	}
	if o.MaxSources <= 0 {
		errs = append(errs, fmt.Errorf("rag.max-sources must be positive"))
	}
	if o.ExcerptChars <= 0 {
		errs = append(errs, fmt.Errorf("rag.excerpt-chars must be positive"))
	}
	if o.MaxContextChars <= 0 {
		errs = append(errs, fmt.Errorf("rag.max-context-chars must be positive"))
	}
	if o.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("rag.batch-size must be positive"))
	}
	if o.AskTimeout <= 0 {
		errs = append(errs, fmt.Errorf("rag.ask-timeout must be positive"))
	}
	if o.BuildTimeout < 0 {
		errs = append(errs, fmt.Errorf("rag.build-timeout must not be negative"))
	}
	return errs
}

// Complete fills paths from DATA_PATH and VECTOR_DB_PATH when they were
// left at their defaults.
func (o *Options) Complete() error {
	if v, ok := os.LookupEnv(EnvDataPath); ok && v != "" && o.DataPath == DefaultDataPath {
		o.DataPath = v
	}
	if v, ok := os.LookupEnv(EnvIndexPath); ok && v != "" && o.IndexPath == DefaultIndexPath {
		o.IndexPath = v
	}
	return nil
}
