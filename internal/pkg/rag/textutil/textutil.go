// Package textutil 提供 RAG 相关的文本处理工具函数。
package textutil

import (
	"math"
	"unicode/utf8"

	"github.com/kart-io/finrag/pkg/utils/errors"
)

// 默认分块参数。
const (
	DefaultChunkSize    = 600
	DefaultChunkOverlap = 80
)

// CosineSimilarity 计算两个向量的余弦相似度。
// 返回值范围为 [-1, 1]，长度不一致或零向量返回 0。
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// TruncateString 截断字符串到指定的最大 Unicode 字符数。
func TruncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen])
}

// ValidateChunkConfig 校验分块参数：0 < overlap+1 <= chunkSize。
func ValidateChunkConfig(chunkSize, overlap int) error {
	if chunkSize <= 0 {
		return errors.ErrInvalidConfiguration.WithMessagef("chunk size must be positive, got %d", chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return errors.ErrInvalidConfiguration.WithMessagef("chunk overlap must be in [0, %d), got %d", chunkSize, overlap)
	}
	return nil
}

// SplitIntoChunks 将文本分割成重叠的块。
// chunkSize 是每个块的大小（Unicode 字符数），相邻块起点相差 chunkSize-overlap。
// 某个窗口到达文本末尾后停止，因此不会产生被上一块完全包含的尾块。
func SplitIntoChunks(text string, chunkSize, overlap int) ([]string, error) {
	if err := ValidateChunkConfig(chunkSize, overlap); err != nil {
		return nil, err
	}
	if text == "" {
		return nil, nil
	}

	runes := []rune(text)
	if len(runes) <= chunkSize {
		return []string{text}, nil
	}

	step := chunkSize - overlap
	chunks := make([]string, 0, (len(runes)-overlap+step-1)/step)
	for i := 0; i < len(runes); i += step {
		end := min(i+chunkSize, len(runes))
		chunks = append(chunks, string(runes[i:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks, nil
}
