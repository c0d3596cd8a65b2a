package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/proxy-access-bot/internal/config"
	"github.com/magabrotheeeer/proxy-access-bot/internal/models"
)

func setupTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(func() { mr.Close() })

	cfg := config.RedisConnection{
		AddressRedis: mr.Addr(),
	}

	cache, err := InitServer(context.Background(), cfg, "proxy:health")
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache, mr
}

func records(at time.Time) map[string]models.HealthRecord {
	return map[string]models.HealthRecord{
		"Panel Ip 1": {Status: models.HealthOnline, Detail: "Online (120ms)", CheckedAt: at},
		"Panel Ip 2": {Status: models.HealthError, Detail: "rate limited", CheckedAt: at},
	}
}

func TestCache_ReplaceDropsStaleEntries(t *testing.T) {
	ctx := context.Background()
	cache, _ := setupTestCache(t)
	at := time.Date(2025, time.May, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, cache.Replace(ctx, records(at)))
	require.NoError(t, cache.Replace(ctx, map[string]models.HealthRecord{
		"Panel Ip 1": {Status: models.HealthOffline, Detail: "Proxy offline", CheckedAt: at},
	}))

	all, err := cache.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, models.HealthOffline, all["Panel Ip 1"].Status)

	_, found, err := cache.Get(ctx, "Panel Ip 2")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCache_ReplaceWithEmptySet(t *testing.T) {
	ctx := context.Background()
	cache, mr := setupTestCache(t)

	require.NoError(t, cache.Replace(ctx, records(time.Now().UTC())))
	require.NoError(t, cache.Replace(ctx, nil))

	assert.False(t, mr.Exists("proxy:health"))
	all, err := cache.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCache_GetInvalidJSON(t *testing.T) {
	ctx := context.Background()
	cache, mr := setupTestCache(t)

	mr.HSet("proxy:health", "Panel Ip 1", "not-json")

	_, found, err := cache.Get(ctx, "Panel Ip 1")
	assert.False(t, found)
	assert.Error(t, err)
}

func TestInitServerInvalidAddr(t *testing.T) {
	cfg := config.RedisConnection{
		AddressRedis: "127.0.0.1:1",
		DialTimeout:  100 * time.Millisecond,
	}

	cache, err := InitServer(context.Background(), cfg, "proxy:health")
	assert.Nil(t, cache)
	assert.Error(t, err)
}

func TestFileCache_PersistsSnapshot(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "proxy_status.json")
	at := time.Date(2025, time.May, 1, 10, 0, 0, 0, time.UTC)

	c, err := NewFileCache(path)
	require.NoError(t, err)
	require.NoError(t, c.Replace(ctx, records(at)))

	reopened, err := NewFileCache(path)
	require.NoError(t, err)
	got, err := reopened.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, records(at), got)

	rec, found, err := reopened.Get(ctx, "Panel Ip 2")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "rate limited", rec.Detail)
}
