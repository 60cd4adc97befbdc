// Package loader 读取知识库目录中的 PDF，按页抽取文本并切分为块。
package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/kart-io/logger"

	"github.com/kart-io/finrag/internal/model"
	"github.com/kart-io/finrag/internal/pkg/rag/textutil"
	"github.com/kart-io/finrag/pkg/infra/pool"
	"github.com/kart-io/finrag/pkg/utils/errors"
)

// DefaultPattern 只匹配目录第一层的 PDF。
const DefaultPattern = "*.pdf"

// PageExtractor 把一个文件拆成按页的文本。
type PageExtractor interface {
	ExtractPages(path string) ([]model.Page, error)
}

// Config 加载器配置。
type Config struct {
	ChunkSize    int
	ChunkOverlap int
	// Pattern 文件匹配模式，为空时使用 DefaultPattern。
	Pattern string
}

// DefaultConfig 返回默认配置。
func DefaultConfig() *Config {
	return &Config{
		ChunkSize:    textutil.DefaultChunkSize,
		ChunkOverlap: textutil.DefaultChunkOverlap,
		Pattern:      DefaultPattern,
	}
}

// Loader 文档加载器。
type Loader struct {
	cfg       *Config
	extractor PageExtractor
	pool      *pool.Pool
}

// New 创建加载器。extractor 为 nil 时使用 PDFExtractor；pool 为 nil 时每个文件开一个 goroutine。
func New(cfg *Config, extractor PageExtractor, p *pool.Pool) *Loader {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Pattern == "" {
		cfg.Pattern = DefaultPattern
	}
	if extractor == nil {
		extractor = NewPDFExtractor()
	}
	return &Loader{cfg: cfg, extractor: extractor, pool: p}
}

type fileResult struct {
	pages []model.Page
	err   error
}

// Load 抽取 dir 下所有匹配文件并切块，输出顺序与文件字典序、页序一致。
// 单个文件失败只记录警告；全部失败或没有任何文本时返回 ErrDocumentLoad。
func (l *Loader) Load(ctx context.Context, dir string) ([]*model.Chunk, error) {
	if err := textutil.ValidateChunkConfig(l.cfg.ChunkSize, l.cfg.ChunkOverlap); err != nil {
		return nil, err
	}

	files, err := l.listFiles(dir)
	if err != nil {
		return nil, err
	}

	results := make([]fileResult, len(files))
	tasks := make([]func(), len(files))
	for i, path := range files {
		tasks[i] = func() {
			if err := ctx.Err(); err != nil {
				results[i] = fileResult{err: err}
				return
			}
			pages, err := l.extractor.ExtractPages(path)
			results[i] = fileResult{pages: pages, err: err}
		}
	}
	l.pool.RunAll(tasks...)

	if err := ctx.Err(); err != nil {
		return nil, errors.ErrDocumentLoad.WithCause(err)
	}

	var (
		chunks []*model.Chunk
		loaded int
		pages  int
	)
	for i, r := range results {
		if r.err != nil {
			logger.Warnw("skip unreadable document", "path", files[i], "error", r.err.Error())
			continue
		}
		loaded++
		for _, page := range r.pages {
			pages++
			parts, err := textutil.SplitIntoChunks(page.Content, l.cfg.ChunkSize, l.cfg.ChunkOverlap)
			if err != nil {
				return nil, err
			}
			for _, part := range parts {
				chunks = append(chunks, &model.Chunk{Content: part, Metadata: page.Metadata})
			}
		}
	}

	if loaded == 0 {
		return nil, errors.ErrDocumentLoad.WithMessagef("no readable documents in %s", dir)
	}
	if len(chunks) == 0 {
		return nil, errors.ErrDocumentLoad.WithMessagef("documents in %s contain no text", dir)
	}

	logger.Infow("documents loaded",
		"dir", dir,
		"files", len(files),
		"loaded", loaded,
		"pages", pages,
		"chunks", len(chunks),
	)
	return chunks, nil
}

func (l *Loader) listFiles(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, errors.ErrDocumentLoad.WithCause(fmt.Errorf("stat %s: %w", dir, err))
	}
	if !info.IsDir() {
		return nil, errors.ErrDocumentLoad.WithMessagef("%s is not a directory", dir)
	}

	files, err := filepath.Glob(filepath.Join(dir, l.cfg.Pattern))
	if err != nil {
		return nil, errors.ErrDocumentLoad.WithCause(err)
	}

	regular := files[:0]
	for _, f := range files {
		if fi, err := os.Stat(f); err == nil && fi.Mode().IsRegular() {
			regular = append(regular, f)
		}
	}
	if len(regular) == 0 {
		return nil, errors.ErrDocumentLoad.WithMessagef("no files matching %q in %s", l.cfg.Pattern, dir)
	}
	sort.Strings(regular)
	return regular, nil
}

// DocumentCount 统计块集合中不同来源文件的数量。
func DocumentCount(chunks []*model.Chunk) int {
	seen := make(map[string]struct{})
	for _, c := range chunks {
		seen[c.Metadata.Source] = struct{}{}
	}
	return len(seen)
}
