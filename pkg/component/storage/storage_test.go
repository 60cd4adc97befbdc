package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockClient struct {
	name    string
	healthy bool
	closed  int
}

func (m *mockClient) Name() string { return m.name }

func (m *mockClient) Ping(context.Context) error {
	if !m.healthy {
		return context.DeadlineExceeded
	}
	return nil
}

func (m *mockClient) Close() error {
	m.closed++
	return nil
}

func (m *mockClient) Health() HealthChecker {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return m.Ping(ctx)
	}
}

var _ Client = (*mockClient)(nil)

func TestManager_Register(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Register("redis", &mockClient{name: "redis", healthy: true}))

	err := m.Register("redis", &mockClient{name: "redis"})
	assert.ErrorIs(t, err, ErrClientAlreadyExists)

	err = m.Register("", &mockClient{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = m.Get("milvus")
	assert.ErrorIs(t, err, ErrClientNotFound)

	assert.Panics(t, func() { m.MustRegister("redis", &mockClient{}) })
}

func TestManager_HealthCheckAll(t *testing.T) {
	m := NewManager()
	m.MustRegister("redis", &mockClient{name: "redis", healthy: true})
	m.MustRegister("milvus", &mockClient{name: "milvus", healthy: false})

	statuses := m.HealthCheckAll(context.Background())
	require.Len(t, statuses, 2)
	assert.True(t, statuses["redis"].Healthy)
	assert.False(t, statuses["milvus"].Healthy)
	assert.Equal(t, context.DeadlineExceeded.Error(), statuses["milvus"].ErrorString())
	assert.False(t, m.AllHealthy(context.Background()))
	assert.Equal(t, []string{"milvus", "redis"}, m.List())
}

func TestManager_CloseAll(t *testing.T) {
	m := NewManager()
	c := &mockClient{name: "redis", healthy: true}
	m.MustRegister("redis", c)

	require.NoError(t, m.CloseAll())
	assert.Equal(t, 1, c.closed)
	assert.Empty(t, m.List())
}

func TestStorageError(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := ErrConnectionFailed.WithCause(cause)

	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.ErrorIs(t, err, cause)

	se, ok := GetStorageError(err)
	require.True(t, ok)
	assert.Equal(t, "CONNECTION_FAILED", se.Code)
	assert.Contains(t, err.Error(), "refused")
}
