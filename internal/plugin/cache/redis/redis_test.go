package redis

import (
	"context"
	"testing"
	"time"

	"github.com/sheryldeakin/mindstorm-sub000/internal/config"
	"github.com/sheryldeakin/mindstorm-sub000/internal/testutil/containers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresURL(t *testing.T) {
	cfg := config.DefaultConfig()
	_, err := load(config.WithContext(context.Background(), &cfg))
	require.Error(t, err)
}

func TestRedisCacheRoundTrip(t *testing.T) {
	url := containers.StartRedis(t)
	ctx := context.Background()
	c, err := LoadFromURL(ctx, url, time.Minute)
	require.NoError(t, err)

	_, ok, err := c.Get(ctx, "mindstorm:derived:missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "mindstorm:derived:k", []byte("payload"), 0))
	v, ok, err := c.Get(ctx, "mindstorm:derived:k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "payload", string(v))
}
