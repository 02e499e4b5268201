package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalCacheRoundTrip(t *testing.T) {
	c, err := New(1<<20, time.Minute)
	require.NoError(t, err)
	require.True(t, c.Available())

	ctx := context.Background()
	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", []byte(`{"stale":false}`), 0))
	v, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"stale":false}`, string(v))
}

func TestLocalCacheTTL(t *testing.T) {
	c, err := New(1<<20, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "short", []byte("x"), 50*time.Millisecond))
	require.Eventually(t, func() bool {
		_, ok, _ := c.Get(ctx, "short")
		return !ok
	}, 2*time.Second, 20*time.Millisecond)
}
