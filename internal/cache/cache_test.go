package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/transhub/mclocal/internal/cache"
	"github.com/transhub/mclocal/internal/database/dbtest"
	"github.com/transhub/mclocal/internal/store"
)

func newCache(t *testing.T) *cache.ScanCache {
	t.Helper()
	return cache.New(store.New(dbtest.Open(t)), 1)
}

func TestKeyDeterministic(t *testing.T) {
	a := cache.Key("/mods", "1.20.1", "forge")
	b := cache.Key("/mods", "1.20.1", "forge")
	if a != b {
		t.Fatalf("same inputs produced different keys: %s vs %s", a, b)
	}
	if a == cache.Key("/mods", "1.20.1", "fabric") {
		t.Fatal("different loader must produce a different key")
	}
	if len(a) != 64 {
		t.Fatalf("key length = %d, want 64 hex chars", len(a))
	}
}

func TestGetHitWithinTTL(t *testing.T) {
	c := newCache(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "/mods", "1.20.1", "forge", datatypes.JSONMap{
		"mod_count": float64(12),
	}, time.Hour))

	payload, err := c.Get(ctx, "/mods", "1.20.1", "forge")
	require.NoError(t, err)
	assert.Equal(t, float64(12), payload["mod_count"])
}

func TestGetZeroTTLIsImmediateMiss(t *testing.T) {
	c := newCache(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "/mods", "1.20.1", "forge", datatypes.JSONMap{
		"mod_count": float64(12),
	}, 0))

	_, err := c.Get(ctx, "/mods", "1.20.1", "forge")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSweepPurgesExpired(t *testing.T) {
	c := newCache(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "/mods/a", "", "", datatypes.JSONMap{"mod_count": float64(1)}, 0))
	require.NoError(t, c.Put(ctx, "/mods/b", "", "", datatypes.JSONMap{"mod_count": float64(2)}, time.Hour))

	removed, err := c.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = c.Get(ctx, "/mods/b", "", "")
	assert.NoError(t, err)
}
