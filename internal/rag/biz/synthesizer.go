package biz

import (
	"context"
	"strings"

	"github.com/kart-io/logger"

	"github.com/kart-io/finrag/internal/model"
	"github.com/kart-io/finrag/pkg/llm"
	"github.com/kart-io/finrag/pkg/utils/errors"
)

// FallbackAnswer 上下文中没有答案时模型应返回的固定回答。
const FallbackAnswer = "I don't know based on provided documents."

// DefaultMaxContextChars 上下文的默认字符（rune）上限。
const DefaultMaxContextChars = 8000

// contextSeparator 分块之间用空行分隔。
const contextSeparator = "\n\n"

// PromptTemplate 生成提示词模板，{context} 与 {question} 为占位符。
const PromptTemplate = `You are a financial assistant.

Answer ONLY using the provided context.
If answer is missing, say:
"` + FallbackAnswer + `"

Context:
{context}

Question:
{question}

Answer:
`

// SynthesizerConfig 回答生成配置。
type SynthesizerConfig struct {
	// MaxContextChars 上下文上限，超出时先丢弃排名靠后的分块。
	MaxContextChars int
}

// Synthesis 生成结果。SourceDocuments 是实际放入上下文的分块。
type Synthesis struct {
	Answer          string
	SourceDocuments []*model.Chunk
}

// Synthesizer 把检索结果拼成上下文并调用 LLM 生成回答。
type Synthesizer struct {
	cfg  *SynthesizerConfig
	chat llm.ChatProvider
}

// NewSynthesizer 创建回答生成器。
func NewSynthesizer(cfg *SynthesizerConfig, chat llm.ChatProvider) *Synthesizer {
	if cfg == nil {
		cfg = &SynthesizerConfig{}
	}
	if cfg.MaxContextChars <= 0 {
		cfg.MaxContextChars = DefaultMaxContextChars
	}
	return &Synthesizer{cfg: cfg, chat: chat}
}

// Synthesize 基于检索结果回答问题。检索结果为空时仍会调用模型，由模型给出兜底回答。
func (s *Synthesizer) Synthesize(ctx context.Context, query string, r *model.RetrievalResult) (*Synthesis, error) {
	used, contextText := s.buildContext(r.Chunks())
	prompt := BuildPrompt(contextText, query)

	answer, err := s.chat.Generate(ctx, prompt, "")
	if err != nil {
		return nil, errors.ErrGenerationService.WithCause(err)
	}

	logger.Debugw("answer generated",
		"provider", s.chat.Name(),
		"context_chunks", len(used),
		"prompt_length", len(prompt),
		"answer_length", len(answer),
	)

	return &Synthesis{
		Answer:          strings.TrimSpace(answer),
		SourceDocuments: used,
	}, nil
}

// BuildPrompt 用上下文和问题填充模板。
func BuildPrompt(contextText, question string) string {
	r := strings.NewReplacer("{context}", contextText, "{question}", question)
	return r.Replace(PromptTemplate)
}

// buildContext 按排名顺序拼接分块，超出上限的低排名分块被丢弃；
// 只有一个分块且超限时截断该分块。
func (s *Synthesizer) buildContext(chunks []*model.Chunk) ([]*model.Chunk, string) {
	if len(chunks) == 0 {
		return nil, ""
	}

	budget := s.cfg.MaxContextChars
	sepLen := len([]rune(contextSeparator))

	used := make([]*model.Chunk, 0, len(chunks))
	total := 0
	for i, c := range chunks {
		n := len([]rune(c.Content))
		if i > 0 {
			n += sepLen
		}
		if total+n > budget {
			break
		}
		total += n
		used = append(used, c)
	}

	if len(used) == 0 {
		first := *chunks[0]
		first.Content = string([]rune(first.Content)[:budget])
		logger.Warnw("top chunk exceeds context budget, truncated",
			"source", first.Metadata.Source,
			"page", first.Metadata.Page,
			"max_context_chars", budget,
		)
		return []*model.Chunk{chunks[0]}, first.Content
	}

	if dropped := len(chunks) - len(used); dropped > 0 {
		logger.Debugw("dropped low-ranked chunks to fit context", "dropped", dropped, "max_context_chars", budget)
	}

	parts := make([]string, len(used))
	for i, c := range used {
		parts[i] = c.Content
	}
	return used, strings.Join(parts, contextSeparator)
}
