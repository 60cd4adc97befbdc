package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/finrag/pkg/llm"
	"github.com/kart-io/finrag/pkg/utils/httpclient"
)

func fastRetry(attempts int) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  attempts,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2.0,
		Retryable:    func(error) bool { return true },
	}
}

func TestCircuitBreaker_OpenOnMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", &CircuitBreakerConfig{MaxFailures: 3, Timeout: time.Second, HalfOpenMaxCalls: 1})
	assert.Equal(t, StateClosed, cb.State())

	testErr := errors.New("boom")
	for i := 0; i < 3; i++ {
		assert.Error(t, cb.Execute(func() error { return testErr }))
	}
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Execute(func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
}

func TestCircuitBreaker_HalfOpen(t *testing.T) {
	tests := []struct {
		name  string
		probe error
		want  CircuitBreakerState
	}{
		{"success closes", nil, StateClosed},
		{"failure re-opens", errors.New("still down"), StateOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := NewCircuitBreaker("test", &CircuitBreakerConfig{MaxFailures: 2, Timeout: 50 * time.Millisecond, HalfOpenMaxCalls: 1})
			for i := 0; i < 2; i++ {
				_ = cb.Execute(func() error { return errors.New("boom") })
			}
			require.Equal(t, StateOpen, cb.State())

			time.Sleep(80 * time.Millisecond)
			_ = cb.Execute(func() error { return tt.probe })
			assert.Equal(t, tt.want, cb.State())
		})
	}
}

func TestCircuitBreaker_CanceledIsNotFailure(t *testing.T) {
	cb := NewCircuitBreaker("test", &CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Second, HalfOpenMaxCalls: 1})
	_ = cb.Execute(func() error { return context.Canceled })
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Stats().Failures)
}

func TestCircuitBreaker_Stats(t *testing.T) {
	cb := NewCircuitBreaker("test", nil)
	for i := 0; i < 5; i++ {
		_ = cb.Execute(func() error { return errors.New("boom") })
	}
	s := cb.Stats()
	assert.Equal(t, "open", s.State)
	assert.Equal(t, 5, s.Failures)
	assert.False(t, s.LastFailureTime.IsZero())
}

func TestRetryWithBackoff(t *testing.T) {
	t.Run("eventual success", func(t *testing.T) {
		calls := 0
		err := RetryWithBackoff(context.Background(), fastRetry(3), func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("temporary")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("max attempts keeps cause", func(t *testing.T) {
		cause := errors.New("persistent")
		calls := 0
		err := RetryWithBackoff(context.Background(), fastRetry(3), func(context.Context) error {
			calls++
			return cause
		})
		require.Error(t, err)
		assert.Equal(t, 3, calls)
		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "max retry attempts (3)")
	})

	t.Run("non retryable stops at once", func(t *testing.T) {
		cfg := fastRetry(3)
		cfg.Retryable = func(error) bool { return false }
		calls := 0
		cause := errors.New("bad request")
		err := RetryWithBackoff(context.Background(), cfg, func(context.Context) error {
			calls++
			return cause
		})
		assert.Equal(t, cause, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("attempt timeout is retried", func(t *testing.T) {
		cfg := fastRetry(2)
		cfg.Retryable = IsRetryableError
		cfg.AttemptTimeout = 10 * time.Millisecond
		calls := 0
		err := RetryWithBackoff(context.Background(), cfg, func(ctx context.Context) error {
			calls++
			if calls == 1 {
				<-ctx.Done()
				return ctx.Err()
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("parent cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cfg := fastRetry(5)
		cfg.InitialDelay = 200 * time.Millisecond
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()
		calls := 0
		err := RetryWithBackoff(ctx, cfg, func(context.Context) error {
			calls++
			return errors.New("boom")
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}

func TestRetryWithCircuitBreaker_StopsWhenOpen(t *testing.T) {
	cfg := fastRetry(3)
	cfg.Retryable = IsRetryableError
	cb := NewCircuitBreaker("test", &CircuitBreakerConfig{MaxFailures: 2, Timeout: time.Minute, HalfOpenMaxCalls: 1})

	calls := 0
	err := RetryWithCircuitBreaker(context.Background(), cfg, cb, func(context.Context) error {
		calls++
		return &httpclient.StatusError{StatusCode: http.StatusBadGateway}
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
	assert.Equal(t, 2, calls)
	assert.Equal(t, StateOpen, cb.State())
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), false},
		{"breaker open", ErrCircuitBreakerOpen, false},
		{"503", fmt.Errorf("gemini: %w", &httpclient.StatusError{StatusCode: 503}), true},
		{"429", &httpclient.StatusError{StatusCode: 429}, true},
		{"400", &httpclient.StatusError{StatusCode: 400}, false},
		{"401", &httpclient.StatusError{StatusCode: 401}, false},
		{"dns", &net.DNSError{Err: "no such host", Name: "api"}, true},
		{"plain", errors.New("decode failed"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryableError(tt.err))
		})
	}
}

type flakyChat struct {
	failures int
	calls    int
}

func (f *flakyChat) Name() string { return "flaky" }

func (f *flakyChat) Chat(ctx context.Context, _ []llm.Message) (string, error) {
	return f.Generate(ctx, "", "")
}

func (f *flakyChat) Generate(context.Context, string, string) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", &httpclient.StatusError{StatusCode: http.StatusServiceUnavailable}
	}
	return "ok", nil
}

func TestResilientChatProvider(t *testing.T) {
	inner := &flakyChat{failures: 2}
	cfg := fastRetry(3)
	cfg.Retryable = IsRetryableError
	p := NewResilientChatProvider(inner, cfg, nil)

	out, err := p.Generate(context.Background(), "q", "")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, inner.calls)
	assert.Equal(t, "flaky", p.Name())

	s := Stats(p)
	require.NotNil(t, s)
	assert.Equal(t, "closed", s.State)
	assert.Nil(t, Stats(inner))
}

type staticEmbedder struct{}

func (staticEmbedder) Name() string { return "static" }

func (staticEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (e staticEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	out, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func TestStats_ThroughEmbeddingCache(t *testing.T) {
	resilient := NewResilientEmbeddingProvider(staticEmbedder{}, fastRetry(1), nil)
	cached := llm.NewCachedEmbeddingProvider(resilient, nil, nil)

	s := Stats(cached)
	require.NotNil(t, s)
	assert.Equal(t, "closed", s.State)
	assert.Nil(t, Stats(llm.NewCachedEmbeddingProvider(staticEmbedder{}, nil, nil)))
}

func TestDefaultConfigs(t *testing.T) {
	r := DefaultRetryConfig()
	assert.Equal(t, 3, r.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, r.InitialDelay)
	assert.Equal(t, 10*time.Second, r.MaxDelay)
	assert.Equal(t, 2.0, r.Multiplier)

	cb := DefaultCircuitBreakerConfig()
	assert.Equal(t, 5, cb.MaxFailures)
	assert.Equal(t, 60*time.Second, cb.Timeout)
	assert.Equal(t, 1, cb.HalfOpenMaxCalls)
}
