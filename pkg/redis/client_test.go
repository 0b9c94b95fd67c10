package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/config"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	c, err := NewClient(config.RedisConfig{Addr: srv.Addr(), PoolSize: 2})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, srv
}

func TestSetManyAndGet(t *testing.T) {
	c, srv := newTestClient(t)
	ctx := context.Background()

	values := make(map[string][]byte, 1200)
	for i := 0; i < 1200; i++ {
		values[fmt.Sprintf("similar:%d", i)] = []byte(fmt.Sprintf(`[{"word":"w%d"}]`, i))
	}
	n, err := c.SetMany(ctx, values, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1200, n)

	got, err := c.Get(ctx, "similar:7")
	require.NoError(t, err)
	assert.Equal(t, `[{"word":"w7"}]`, got)
	assert.Equal(t, time.Hour, srv.TTL("similar:7"))

	_, err = c.Get(ctx, "similar:missing")
	assert.True(t, IsNilError(err))
}

func TestFlushByPattern(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "similar:a", "1", 0))
	require.NoError(t, c.Set(ctx, "similar:b", "2", 0))
	require.NoError(t, c.Set(ctx, "other:c", "3", 0))

	deleted, err := c.FlushByPattern(ctx, "similar:*")
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)

	_, err = c.Get(ctx, "other:c")
	assert.NoError(t, err)
	require.NoError(t, c.Ping(ctx))
}

func TestNewClientUnreachable(t *testing.T) {
	_, err := NewClient(config.RedisConfig{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}
