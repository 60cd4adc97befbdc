package id

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewULID_UniqueAndSorted(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	prev := ""
	for i := 0; i < 1000; i++ {
		v := NewULID()
		require.Len(t, v, 26)
		_, dup := seen[v]
		require.False(t, dup, "duplicate ulid %s", v)
		seen[v] = struct{}{}
		assert.Greater(t, v, prev)
		prev = v
	}
}

func TestParseTime(t *testing.T) {
	before := time.Now().Add(-time.Second)
	ts, err := ParseTime(NewULID())
	require.NoError(t, err)
	assert.True(t, ts.After(before))

	_, err = ParseTime("not-a-ulid")
	assert.ErrorIs(t, err, ErrInvalidULID)
}
