// Package metrics 提供 RAG 服务的业务指标收集。
package metrics

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// RAGMetrics RAG 服务业务指标，由 RAGService 持有，可并发写入。
type RAGMetrics struct {
	// 查询指标
	queriesTotal       atomic.Uint64
	queriesCacheHits   atomic.Uint64
	queriesCacheMisses atomic.Uint64
	queriesErrors      atomic.Uint64

	// 检索指标
	retrievalTotal  atomic.Uint64
	retrievalErrors atomic.Uint64

	// LLM 调用指标
	llmCallsTotal  atomic.Uint64
	llmCallsErrors atomic.Uint64

	// 索引指标
	indexBuilds      atomic.Uint64
	indexLoads       atomic.Uint64
	documentsIndexed atomic.Uint64
	chunksIndexed    atomic.Uint64
	indexErrors      atomic.Uint64

	durationMu        sync.Mutex
	retrievalDuration float64 // 秒
	llmCallsDuration  float64 // 秒

	startTime time.Time
}

// New 创建指标实例。
func New() *RAGMetrics {
	return &RAGMetrics{startTime: time.Now()}
}

// RecordQuery 记录一次问答。
func (m *RAGMetrics) RecordQuery(cacheHit bool, err error) {
	m.queriesTotal.Add(1)
	if err != nil {
		m.queriesErrors.Add(1)
		return
	}
	if cacheHit {
		m.queriesCacheHits.Add(1)
	} else {
		m.queriesCacheMisses.Add(1)
	}
}

// RecordRetrieval 记录检索操作，失败时也计入耗时。
func (m *RAGMetrics) RecordRetrieval(duration time.Duration, err error) {
	m.retrievalTotal.Add(1)
	if err != nil {
		m.retrievalErrors.Add(1)
	}
	m.durationMu.Lock()
	m.retrievalDuration += duration.Seconds()
	m.durationMu.Unlock()
}

// RecordLLMCall 记录生成调用。
func (m *RAGMetrics) RecordLLMCall(duration time.Duration, err error) {
	m.llmCallsTotal.Add(1)
	if err != nil {
		m.llmCallsErrors.Add(1)
	}
	m.durationMu.Lock()
	m.llmCallsDuration += duration.Seconds()
	m.durationMu.Unlock()
}

// RecordIndexBuild 记录一次索引构建。
func (m *RAGMetrics) RecordIndexBuild(documents, chunks int, err error) {
	if err != nil {
		m.indexErrors.Add(1)
		return
	}
	m.indexBuilds.Add(1)
	m.documentsIndexed.Add(uint64(documents))
	m.chunksIndexed.Add(uint64(chunks))
}

// RecordIndexLoad 记录一次从持久化索引加载。
func (m *RAGMetrics) RecordIndexLoad(err error) {
	if err != nil {
		m.indexErrors.Add(1)
		return
	}
	m.indexLoads.Add(1)
}

// Snapshot 指标快照，用于 /stats。
type Snapshot struct {
	QueriesTotal         uint64  `json:"queries_total"`
	QueriesErrors        uint64  `json:"queries_errors"`
	CacheHits            uint64  `json:"cache_hits"`
	CacheMisses          uint64  `json:"cache_misses"`
	CacheHitRate         float64 `json:"cache_hit_rate"`
	RetrievalTotal       uint64  `json:"retrieval_total"`
	RetrievalErrors      uint64  `json:"retrieval_errors"`
	AvgRetrievalSeconds  float64 `json:"avg_retrieval_seconds"`
	LLMCallsTotal        uint64  `json:"llm_calls_total"`
	LLMCallsErrors       uint64  `json:"llm_calls_errors"`
	AvgLLMCallSeconds    float64 `json:"avg_llm_call_seconds"`
	IndexBuilds          uint64  `json:"index_builds"`
	IndexLoads           uint64  `json:"index_loads"`
	DocumentsIndexed     uint64  `json:"documents_indexed"`
	ChunksIndexed        uint64  `json:"chunks_indexed"`
	IndexErrors          uint64  `json:"index_errors"`
	UptimeSeconds        float64 `json:"uptime_seconds"`
	retrievalDurationSum float64
	llmDurationSum       float64
}

// Snapshot 返回当前统计信息。
func (m *RAGMetrics) Snapshot() Snapshot {
	m.durationMu.Lock()
	retrievalDuration := m.retrievalDuration
	llmDuration := m.llmCallsDuration
	m.durationMu.Unlock()

	s := Snapshot{
		QueriesTotal:         m.queriesTotal.Load(),
		QueriesErrors:        m.queriesErrors.Load(),
		CacheHits:            m.queriesCacheHits.Load(),
		CacheMisses:          m.queriesCacheMisses.Load(),
		RetrievalTotal:       m.retrievalTotal.Load(),
		RetrievalErrors:      m.retrievalErrors.Load(),
		LLMCallsTotal:        m.llmCallsTotal.Load(),
		LLMCallsErrors:       m.llmCallsErrors.Load(),
		IndexBuilds:          m.indexBuilds.Load(),
		IndexLoads:           m.indexLoads.Load(),
		DocumentsIndexed:     m.documentsIndexed.Load(),
		ChunksIndexed:        m.chunksIndexed.Load(),
		IndexErrors:          m.indexErrors.Load(),
		UptimeSeconds:        time.Since(m.startTime).Seconds(),
		retrievalDurationSum: retrievalDuration,
		llmDurationSum:       llmDuration,
	}
	if total := s.CacheHits + s.CacheMisses; total > 0 {
		s.CacheHitRate = float64(s.CacheHits) / float64(total)
	}
	if s.RetrievalTotal > 0 {
		s.AvgRetrievalSeconds = retrievalDuration / float64(s.RetrievalTotal)
	}
	if s.LLMCallsTotal > 0 {
		s.AvgLLMCallSeconds = llmDuration / float64(s.LLMCallsTotal)
	}
	return s
}

// Export 导出 Prometheus 文本格式指标。
func (m *RAGMetrics) Export(namespace, subsystem string) string {
	prefix := namespace
	if subsystem != "" {
		prefix = prefix + "_" + subsystem
	}
	s := m.Snapshot()

	var sb strings.Builder
	write := func(name, typ, help string, value any) {
		fmt.Fprintf(&sb, "# HELP %s_%s %s\n", prefix, name, help)
		fmt.Fprintf(&sb, "# TYPE %s_%s %s\n", prefix, name, typ)
		switch v := value.(type) {
		case float64:
			fmt.Fprintf(&sb, "%s_%s %.6f\n\n", prefix, name, v)
		default:
			fmt.Fprintf(&sb, "%s_%s %v\n\n", prefix, name, v)
		}
	}

	write("queries_total", "counter", "Total number of questions.", s.QueriesTotal)
	write("queries_errors_total", "counter", "Number of failed questions.", s.QueriesErrors)
	write("queries_cache_hits_total", "counter", "Number of answer cache hits.", s.CacheHits)
	write("queries_cache_misses_total", "counter", "Number of answer cache misses.", s.CacheMisses)
	write("cache_hit_rate", "gauge", "Answer cache hit rate (0-1).", s.CacheHitRate)
	write("retrieval_total", "counter", "Total number of retrievals.", s.RetrievalTotal)
	write("retrieval_errors_total", "counter", "Number of retrieval errors.", s.RetrievalErrors)
	write("retrieval_duration_seconds_total", "counter", "Total retrieval duration.", s.retrievalDurationSum)
	write("llm_calls_total", "counter", "Total number of generation calls.", s.LLMCallsTotal)
	write("llm_calls_errors_total", "counter", "Number of generation errors.", s.LLMCallsErrors)
	write("llm_calls_duration_seconds_total", "counter", "Total generation duration.", s.llmDurationSum)
	write("index_builds_total", "counter", "Number of index builds.", s.IndexBuilds)
	write("index_loads_total", "counter", "Number of index loads.", s.IndexLoads)
	write("documents_indexed_total", "counter", "Documents embedded by index builds.", s.DocumentsIndexed)
	write("chunks_indexed_total", "counter", "Chunks embedded by index builds.", s.ChunksIndexed)
	write("index_errors_total", "counter", "Number of failed index builds or loads.", s.IndexErrors)
	write("uptime_seconds", "gauge", "Service uptime in seconds.", s.UptimeSeconds)

	return sb.String()
}
