// Package model provides the data models shared by the finrag layers.
package model

// Metadata is the provenance of a page: the file it came from and its
// zero-based page index.
type Metadata struct {
	Source string `json:"source"`
	Page   int    `json:"page"`
}

// Page is one unit of extracted document text.
type Page struct {
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
}

// Chunk is a bounded window of page text carrying its page's metadata.
type Chunk struct {
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
}

// ScoredChunk is a retrieved chunk with its cosine similarity.
type ScoredChunk struct {
	Chunk *Chunk  `json:"chunk"`
	Score float32 `json:"score"`
}

// RetrievalResult holds at most k chunks, best first.
type RetrievalResult struct {
	Query   string         `json:"query"`
	Results []*ScoredChunk `json:"results"`
}

// Chunks returns the retrieved chunks in rank order.
func (r *RetrievalResult) Chunks() []*Chunk {
	if r == nil {
		return nil
	}
	out := make([]*Chunk, len(r.Results))
	for i, sc := range r.Results {
		out[i] = sc.Chunk
	}
	return out
}

// Source is a citation returned with an answer. Content is an excerpt of
// the chunk.
type Source struct {
	Source  string `json:"source"`
	Page    int    `json:"page"`
	Content string `json:"content"`
}

// AnswerResult is the response of a question.
type AnswerResult struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
	Query   string   `json:"query"`
}

// Limit returns a copy whose sources are cut to at most n. Negative n keeps
// every source.
func (r *AnswerResult) Limit(n int) *AnswerResult {
	out := *r
	if n >= 0 && len(out.Sources) > n {
		out.Sources = out.Sources[:n]
	}
	if out.Sources == nil {
		out.Sources = []Source{}
	}
	return &out
}
