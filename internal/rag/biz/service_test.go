package biz

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/kart-io/finrag/internal/model"
	"github.com/kart-io/finrag/internal/rag/metrics"
	"github.com/kart-io/finrag/internal/rag/store"
	"github.com/kart-io/finrag/pkg/llm"
	"github.com/kart-io/finrag/pkg/utils/errors"
)

type serviceFixture struct {
	svc      *RAGService
	emb      *fakeEmbedder
	chat     *fakeChat
	loads    atomic.Int64
	bindings atomic.Int64
}

func newServiceFixture(t *testing.T, chunks []*model.Chunk, cache *QueryCache) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		emb:  &fakeEmbedder{},
		chat: &fakeChat{answer: "Revenue was $4.2B."},
	}
	st := store.NewSQLiteStore(filepath.Join(t.TempDir(), "index"))
	idx := NewVectorIndex(testIndexConfig(), f.emb, st, staticLoad(chunks, &f.loads))
	bind := func(context.Context) (llm.ChatProvider, error) {
		f.bindings.Add(1)
		return f.chat, nil
	}
	f.svc = NewRAGService(nil, idx, bind, cache, metrics.New())
	t.Cleanup(func() { _ = f.svc.Close(context.Background()) })
	return f
}

func TestRAGService_InitializeIsIdempotent(t *testing.T) {
	f := newServiceFixture(t, corpus(), nil)
	ctx := context.Background()

	assert.Equal(t, StateUninitialized, f.svc.State())
	require.NoError(t, f.svc.Initialize(ctx))
	require.NoError(t, f.svc.Initialize(ctx))

	assert.Equal(t, StateReady, f.svc.State())
	assert.EqualValues(t, 1, f.loads.Load())
	assert.EqualValues(t, 1, f.bindings.Load())
}

func TestRAGService_ConcurrentAskBuildsOnce(t *testing.T) {
	f := newServiceFixture(t, corpus(), nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Ask(ctx, "What was the revenue?")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.EqualValues(t, 1, f.loads.Load())
	assert.EqualValues(t, 1, f.bindings.Load())
	assert.EqualValues(t, 8, f.svc.Metrics().Snapshot().QueriesTotal)
}

func TestRAGService_BuildOutlivesQuestionDeadline(t *testing.T) {
	f := newServiceFixture(t, corpus(), nil)
	// 5 个分块、每批 2 个，构建至少 300ms
	f.emb.delay = 100 * time.Millisecond

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		_, err := f.svc.Ask(ctx, "What was the revenue?")
		cancel()
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}

	assert.Eventually(t, func() bool {
		return f.svc.State() == StateReady
	}, 5*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, f.loads.Load())

	exists, err := f.svc.index.store.Exists(context.Background())
	require.NoError(t, err)
	assert.True(t, exists)

	res, err := f.svc.Ask(context.Background(), "What was the revenue?")
	require.NoError(t, err)
	assert.Equal(t, "Revenue was $4.2B.", res.Answer)
	assert.EqualValues(t, 1, f.loads.Load())
}

func TestRAGService_CloseStopsInitialize(t *testing.T) {
	f := newServiceFixture(t, corpus(), nil)
	f.emb.delay = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.svc.Initialize(ctx), context.DeadlineExceeded)

	require.NoError(t, f.svc.Close(context.Background()))
	assert.Equal(t, StateUninitialized, f.svc.State())
}

func TestRAGService_Ask(t *testing.T) {
	long := strings.Repeat("revenue ", 60)
	chunks := append(corpus(), &model.Chunk{Content: long, Metadata: model.Metadata{Source: "long.pdf", Page: 7}})
	f := newServiceFixture(t, chunks, nil)

	res, err := f.svc.Ask(context.Background(), "What was the revenue?")
	require.NoError(t, err)

	assert.Equal(t, "Revenue was $4.2B.", res.Answer)
	assert.Equal(t, "What was the revenue?", res.Query)
	require.Len(t, res.Sources, DefaultTopK)
	for _, s := range res.Sources {
		assert.LessOrEqual(t, len([]rune(s.Content)), DefaultExcerptChars)
	}

	var longSource *model.Source
	for i := range res.Sources {
		if res.Sources[i].Source == "long.pdf" {
			longSource = &res.Sources[i]
		}
	}
	require.NotNil(t, longSource)
	assert.Equal(t, 7, longSource.Page)
	assert.Equal(t, long[:DefaultExcerptChars], longSource.Content)
}

func TestRAGService_AskEmptyQuestion(t *testing.T) {
	f := newServiceFixture(t, corpus(), nil)

	_, err := f.svc.Ask(context.Background(), "   ")
	assert.ErrorIs(t, err, errors.ErrRAGInvalidRequest)
	assert.Equal(t, StateUninitialized, f.svc.State())
}

func TestRAGService_RetriesOnlyMissingStep(t *testing.T) {
	f := newServiceFixture(t, corpus(), nil)
	ctx := context.Background()

	failing := true
	f.svc.bindChat = func(context.Context) (llm.ChatProvider, error) {
		f.bindings.Add(1)
		if failing {
			return nil, errProvider
		}
		return f.chat, nil
	}

	err := f.svc.Initialize(ctx)
	assert.ErrorIs(t, err, errors.ErrGenerationService)
	assert.Equal(t, StateIndexed, f.svc.State())

	failing = false
	require.NoError(t, f.svc.Initialize(ctx))
	assert.Equal(t, StateReady, f.svc.State())
	assert.EqualValues(t, 1, f.loads.Load())
	assert.EqualValues(t, 2, f.bindings.Load())
}

func TestRAGService_GenerationFailure(t *testing.T) {
	f := newServiceFixture(t, corpus(), nil)
	f.chat.fail = errProvider

	_, err := f.svc.Ask(context.Background(), "revenue")
	assert.ErrorIs(t, err, errors.ErrGenerationService)

	snap := f.svc.Metrics().Snapshot()
	assert.EqualValues(t, 1, snap.QueriesErrors)
	assert.EqualValues(t, 1, snap.LLMCallsErrors)
}

func TestRAGService_Stats(t *testing.T) {
	f := newServiceFixture(t, corpus(), nil)
	ctx := context.Background()

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "uninitialized", stats.State)
	assert.Equal(t, "sqlite", stats.Store)
	assert.Zero(t, stats.Chunks)
	assert.False(t, stats.Cache.Enabled)

	require.NoError(t, f.svc.Initialize(ctx))
	stats, err = f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ready", stats.State)
	assert.EqualValues(t, 5, stats.Chunks)
	assert.Equal(t, "fake-model", stats.EmbeddingModel)
	assert.Equal(t, "fake-chat", stats.ChatProvider)
	assert.EqualValues(t, 1, stats.Metrics.IndexBuilds)
}

func TestRAGService_AskSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	f := newServiceFixture(t, corpus(), nil)
	_, err := f.svc.Ask(context.Background(), "What was the revenue?")
	require.NoError(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 3)
	names := make([]string, 0, len(spans))
	for _, s := range spans {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"rag.retrieve", "rag.generate", "rag.ask"}, names)

	root := spans[2]
	assert.Equal(t, root.SpanContext().SpanID(), spans[0].Parent().SpanID())
	assert.Equal(t, root.SpanContext().SpanID(), spans[1].Parent().SpanID())
	assert.Contains(t, spans[0].Attributes(), attribute.Int("rag.retrieved", DefaultTopK))
	assert.Contains(t, root.Attributes(), attribute.Bool("rag.cache_hit", false))
}
