package permissions

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/dataroom/pkg/observability"
)

// setupCacheTest creates a miniredis-backed cache
func setupCacheTest(t *testing.T) (*Cache, *miniredis.Miniredis, *observability.Metrics) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	cache := NewCache(client, CacheConfig{Size: 100, TTL: time.Minute}, metrics, observability.Discard())
	return cache, mr, metrics
}

func TestCache_SetGet(t *testing.T) {
	cache, mr, metrics := setupCacheTest(t)
	ctx := context.Background()

	_, ok := cache.Get(ctx, KindDocument, "doc-1", "alice")
	assert.False(t, ok)

	res := Resolution{Permissions: PermissionSet{CanView: true}, Source: SourceGroups}
	cache.Set(ctx, KindDocument, "doc-1", "alice", res)

	got, ok := cache.Get(ctx, KindDocument, "doc-1", "alice")
	require.True(t, ok)
	assert.Equal(t, res, got)

	assert.True(t, mr.Exists("perm:document:doc-1:alice"))
	ttl := mr.TTL("perm:document:doc-1:alice")
	assert.Equal(t, time.Minute, ttl)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PermissionCacheHitsTotal.WithLabelValues("local")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PermissionCacheMissesTotal))
}

func TestCache_RedisHitPromotesToLocal(t *testing.T) {
	cache, mr, metrics := setupCacheTest(t)
	ctx := context.Background()

	// Populated by another instance.
	require.NoError(t, mr.Set("perm:folder:f-1:bob", `{"permissions":{"canUpload":true},"source":"user_override"}`))

	got, ok := cache.Get(ctx, KindFolder, "f-1", "bob")
	require.True(t, ok)
	assert.True(t, got.Permissions.CanUpload)
	assert.Equal(t, SourceUserOverride, got.Source)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PermissionCacheHitsTotal.WithLabelValues("redis")))

	mr.FlushAll()
	_, ok = cache.Get(ctx, KindFolder, "f-1", "bob")
	assert.True(t, ok, "second read is served locally")
}

func TestCache_CorruptEntryIsDropped(t *testing.T) {
	cache, mr, _ := setupCacheTest(t)
	require.NoError(t, mr.Set("perm:document:doc-1:alice", "{not json"))

	_, ok := cache.Get(context.Background(), KindDocument, "doc-1", "alice")
	assert.False(t, ok)
	assert.False(t, mr.Exists("perm:document:doc-1:alice"))
}

func TestCache_Invalidation(t *testing.T) {
	cache, mr, _ := setupCacheTest(t)
	ctx := context.Background()
	res := Resolution{Permissions: PermissionSet{CanView: true}, Source: SourceGroups}

	cache.Set(ctx, KindDocument, "doc-1", "alice", res)
	cache.Set(ctx, KindDocument, "doc-1", "bob", res)
	cache.Set(ctx, KindDocument, "doc-2", "alice", res)
	cache.Set(ctx, KindFolder, "doc-1", "alice", res)

	require.NoError(t, cache.InvalidateResource(ctx, KindDocument, "doc-1"))
	assert.False(t, mr.Exists("perm:document:doc-1:alice"))
	assert.False(t, mr.Exists("perm:document:doc-1:bob"))
	assert.True(t, mr.Exists("perm:document:doc-2:alice"))
	assert.True(t, mr.Exists("perm:folder:doc-1:alice"))
	_, ok := cache.Get(ctx, KindDocument, "doc-1", "bob")
	assert.False(t, ok)

	require.NoError(t, cache.InvalidateUser(ctx, "alice"))
	assert.False(t, mr.Exists("perm:document:doc-2:alice"))
	assert.False(t, mr.Exists("perm:folder:doc-1:alice"))
	_, ok = cache.Get(ctx, KindFolder, "doc-1", "alice")
	assert.False(t, ok)

	cache.Set(ctx, KindDocument, "doc-3", "carol", res)
	require.NoError(t, cache.InvalidateAll(ctx))
	assert.Empty(t, mr.Keys())
	_, ok = cache.Get(ctx, KindDocument, "doc-3", "carol")
	assert.False(t, ok)
}

func TestCache_InvalidationEscapesGlob(t *testing.T) {
	cache, mr, _ := setupCacheTest(t)
	ctx := context.Background()
	res := Resolution{Source: SourceNone}

	cache.Set(ctx, KindDocument, "doc*", "alice", res)
	cache.Set(ctx, KindDocument, "doc-9", "alice", res)

	require.NoError(t, cache.InvalidateResource(ctx, KindDocument, "doc*"))
	assert.False(t, mr.Exists("perm:document:doc*:alice"))
	assert.True(t, mr.Exists("perm:document:doc-9:alice"))
}

func TestCache_LocalOnly(t *testing.T) {
	cache := NewCache(nil, CacheConfig{}, nil, nil)
	ctx := context.Background()

	cache.Set(ctx, KindDocument, "doc-1", "alice", Resolution{Source: SourceGroups})
	_, ok := cache.Get(ctx, KindDocument, "doc-1", "alice")
	assert.True(t, ok)

	assert.NoError(t, cache.InvalidateUser(ctx, "alice"))
	_, ok = cache.Get(ctx, KindDocument, "doc-1", "alice")
	assert.False(t, ok)
}

func TestCache_RedisDownIsAMiss(t *testing.T) {
	cache, mr, _ := setupCacheTest(t)
	mr.Close()

	_, ok := cache.Get(context.Background(), KindDocument, "doc-1", "alice")
	assert.False(t, ok)

	// Writes still land locally.
	cache.Set(context.Background(), KindDocument, "doc-1", "alice", Resolution{Source: SourceGroups})
	_, ok = cache.Get(context.Background(), KindDocument, "doc-1", "alice")
	assert.True(t, ok)
}

func TestResolver_CacheInvalidatedOnGrantChange(t *testing.T) {
	f := newFixture(t)
	cache, _, _ := setupCacheTest(t)
	f.group("g1", testRoom, GroupTypeUser, "alice")
	f.groupGrant(KindDocument, testDocument, "g1", PermissionSet{CanView: true})

	resolver := NewResolver(f.store, WithCache(cache))

	p, err := resolver.Resolve(f.ctx, KindDocument, "alice", testDocument)
	require.NoError(t, err)
	assert.False(t, p.CanDownloadPdf)

	f.groupGrant(KindDocument, testDocument, "g1", PermissionSet{CanView: true, CanDownloadPdf: true})

	p, err = resolver.Resolve(f.ctx, KindDocument, "alice", testDocument)
	require.NoError(t, err)
	assert.False(t, p.CanDownloadPdf, "stale until invalidated")

	resolver.InvalidateResource(f.ctx, KindDocument, testDocument)

	p, err = resolver.Resolve(f.ctx, KindDocument, "alice", testDocument)
	require.NoError(t, err)
	assert.True(t, p.CanDownloadPdf)

	require.NoError(t, f.store.RemoveMember(f.ctx, "g1", "alice"))
	resolver.InvalidateUser(f.ctx, "alice")

	p, err = resolver.Resolve(f.ctx, KindDocument, "alice", testDocument)
	require.NoError(t, err)
	assert.Equal(t, PermissionSet{}, p)
}
