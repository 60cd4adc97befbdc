package redis

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/finrag/pkg/component/storage"
	options "github.com/kart-io/finrag/pkg/options/redis"
	"github.com/kart-io/finrag/pkg/utils/json"
)

func newTestOptions(t *testing.T, mr *miniredis.Miniredis) *options.Options {
	t.Helper()
	opts := options.NewOptions()
	opts.Enabled = true
	host, port, ok := strings.Cut(mr.Addr(), ":")
	require.True(t, ok)
	opts.Host = host
	n, err := strconv.Atoi(port)
	require.NoError(t, err)
	opts.Port = n
	return opts
}

func TestNewWithContext(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewWithContext(context.Background(), newTestOptions(t, mr))
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, "redis", client.Name())
	require.NoError(t, client.Health()())

	require.NoError(t, client.Client().Set(context.Background(), "k", "v", 0).Err())
	assert.True(t, mr.Exists("k"))

	stats := client.HealthWithStats(context.Background())
	assert.True(t, stats.Healthy)
	assert.NotNil(t, stats.PoolStats)
}

func TestNewWithContext_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	opts := newTestOptions(t, mr)
	mr.Close()

	_, err := NewWithContext(context.Background(), opts)
	assert.ErrorIs(t, err, storage.ErrConnectionFailed)
}

func TestNewWithContext_InvalidOptions(t *testing.T) {
	_, err := NewWithContext(context.Background(), nil)
	assert.ErrorIs(t, err, storage.ErrInvalidConfig)

	opts := options.NewOptions()
	opts.Enabled = true
	opts.Port = 0
	_, err = NewWithContext(context.Background(), opts)
	assert.ErrorIs(t, err, storage.ErrInvalidConfig)
}

func TestOptions_PasswordRedacted(t *testing.T) {
	opts := options.NewOptions()
	opts.Password = "supersecret"

	data, err := json.Marshal(opts)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "supersecret")
	assert.Contains(t, string(data), "[REDACTED]")
	assert.NotContains(t, opts.String(), "supersecret")

	opts.Password = ""
	data, err = json.Marshal(opts)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "[REDACTED]")
}
