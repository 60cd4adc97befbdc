package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPool(t *testing.T) {
	p, err := NewPool("test", DefaultPool, nil)
	require.NoError(t, err)
	defer p.Release()

	assert.Equal(t, "test", p.Name())
	assert.Equal(t, DefaultPool, p.Type())
	assert.Equal(t, 256, p.Cap())
}

func TestPoolRunAll(t *testing.T) {
	p, err := NewPool("test", ExtractPool, &Config{Capacity: 2, ExpiryDuration: time.Second})
	require.NoError(t, err)
	defer p.Release()

	var counter atomic.Int32
	tasks := make([]func(), 50)
	for i := range tasks {
		tasks[i] = func() { counter.Add(1) }
	}
	p.RunAll(tasks...)

	assert.Equal(t, int32(50), counter.Load())
	assert.Equal(t, int64(50), p.Stats().SubmittedTasks)
}

func TestPoolRunAll_NilPool(t *testing.T) {
	var p *Pool
	var counter atomic.Int32
	p.RunAll(func() { counter.Add(1) }, func() { counter.Add(1) })
	assert.Equal(t, int32(2), counter.Load())
}

func TestPoolRunAll_ReleasedPoolFallsBack(t *testing.T) {
	p, err := NewPool("test", DefaultPool, &Config{Capacity: 1, ExpiryDuration: time.Second})
	require.NoError(t, err)
	p.Release()

	var counter atomic.Int32
	p.RunAll(func() { counter.Add(1) })
	assert.Equal(t, int32(1), counter.Load())
}

func TestPoolSubmitWithContext_Canceled(t *testing.T) {
	p, err := NewPool("test", DefaultPool, &Config{Capacity: 1, ExpiryDuration: time.Second})
	require.NoError(t, err)
	defer p.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = p.SubmitWithContext(ctx, func() { t.Error("task must not run") })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPoolSubmit_Closed(t *testing.T) {
	p, err := NewPool("test", DefaultPool, nil)
	require.NoError(t, err)
	p.Release()

	assert.ErrorIs(t, p.Submit(func() {}), ErrPoolClosed)
}

func TestManager(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.RegisterWithType(HealthCheckPool, HealthCheckPoolConfig()))
	require.NoError(t, m.Register("custom", DefaultPool, nil))

	err := m.Register("custom", DefaultPool, nil)
	assert.ErrorIs(t, err, ErrPoolAlreadyExists)

	_, err = m.Get("missing")
	assert.ErrorIs(t, err, ErrPoolNotFound)

	assert.Equal(t, []string{"custom", "health-check"}, m.List())
	assert.Len(t, m.Stats(), 2)

	require.NoError(t, m.ReleaseAllTimeout(time.Second))
	_, err = m.Get("custom")
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestGlobal(t *testing.T) {
	ResetGlobal()
	defer ResetGlobal()

	require.NoError(t, InitGlobal())
	p, err := GetByType(ExtractPool)
	require.NoError(t, err)
	assert.Equal(t, ExtractPool, p.Type())

	done := make(chan struct{})
	require.NoError(t, SubmitToType(DefaultPool, func() { close(done) }))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}

	assert.Contains(t, StatsGlobal(), string(HealthCheckPool))
}
