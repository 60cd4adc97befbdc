package biz

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kart-io/finrag/internal/model"
	"github.com/kart-io/finrag/pkg/llm"
)

// keywordDims 每个关键词对应一个向量维度。
var keywordDims = []string{"revenue", "profit", "risk", "debt"}

// fakeEmbedder 按关键词出现次数生成向量，结果稳定可预期。
type fakeEmbedder struct {
	calls     atomic.Int64
	fail      error
	dimension int
	// delay 每次调用的耗时，ctx 结束时提前返回。
	delay time.Duration
}

func (f *fakeEmbedder) Name() string { return "fake" }

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail != nil {
		return nil, f.fail
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vector(t)
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	out, err := f.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (f *fakeEmbedder) vector(text string) []float32 {
	dim := f.dimension
	if dim == 0 {
		dim = len(keywordDims)
	}
	lower := strings.ToLower(text)
	vec := make([]float32, dim)
	for i := 0; i < dim && i < len(keywordDims); i++ {
		vec[i] = float32(strings.Count(lower, keywordDims[i]))
	}
	return vec
}

// fakeChat 记录最后一次提示词并返回固定回答。
type fakeChat struct {
	mu      sync.Mutex
	answer  string
	fail    error
	prompts []string
}

func (f *fakeChat) Name() string { return "fake-chat" }

func (f *fakeChat) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	return f.Generate(ctx, messages[len(messages)-1].Content, "")
}

func (f *fakeChat) Generate(_ context.Context, prompt, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.fail != nil {
		return "", f.fail
	}
	return f.answer, nil
}

func (f *fakeChat) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

var errProvider = errors.New("provider unavailable")

// corpus 测试用分块。
func corpus() []*model.Chunk {
	return []*model.Chunk{
		{Content: "Total revenue grew to $4.2B in 2023.", Metadata: model.Metadata{Source: "annual.pdf", Page: 0}},
		{Content: "Net profit margin was 12.5%.", Metadata: model.Metadata{Source: "annual.pdf", Page: 1}},
		{Content: "Credit risk remains elevated.", Metadata: model.Metadata{Source: "risk.pdf", Page: 0}},
		{Content: "Long-term debt decreased by 8%.", Metadata: model.Metadata{Source: "risk.pdf", Page: 3}},
		{Content: "Revenue by segment: retail revenue and wholesale.", Metadata: model.Metadata{Source: "annual.pdf", Page: 2}},
	}
}

// staticLoad 返回固定分块并统计调用次数。
func staticLoad(chunks []*model.Chunk, calls *atomic.Int64) LoadFunc {
	return func(context.Context) ([]*model.Chunk, error) {
		if calls != nil {
			calls.Add(1)
		}
		return chunks, nil
	}
}
