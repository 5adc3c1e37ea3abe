package cache_test

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/ctrlmap/mapper/internal/cache"
	"github.com/ctrlmap/mapper/internal/models"
)

func startRedis(t *testing.T) *goredis.Client {
	t.Helper()
	if os.Getenv("CTRLMAP_INTEGRATION") == "" {
		t.Skip("set CTRLMAP_INTEGRATION=1 to run Redis-backed integration tests")
	}

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	opts, err := goredis.ParseURL(connStr)
	require.NoError(t, err)
	return goredis.NewClient(opts)
}

func TestEnrichmentCache_PutGet(t *testing.T) {
	rdb := startRedis(t)
	ctx := context.Background()
	c := cache.NewEnrichmentCache(rdb)

	_, found, err := c.Get(ctx, "AWS.EC2#1.0#PR.1", "v1")
	require.NoError(t, err)
	require.False(t, found)

	entry := &models.EnrichmentEntry{
		ControlKey:   "AWS.EC2#1.0#PR.1",
		EnrichedText: "expanded description",
		Version:      "v1",
	}
	require.NoError(t, c.Put(ctx, entry))

	got, found, err := c.Get(ctx, "AWS.EC2#1.0#PR.1", "v1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "expanded description", got.EnrichedText)
}

func TestEnrichmentCache_DistinctPerEnrichmentVersion(t *testing.T) {
	rdb := startRedis(t)
	ctx := context.Background()
	c := cache.NewEnrichmentCache(rdb)

	require.NoError(t, c.Put(ctx, &models.EnrichmentEntry{ControlKey: "k", EnrichedText: "v1 text", Version: "v1"}))

	// A reader on a bumped enrichmentVersion must see a miss, not the
	// stale v1 entry, so that bumping the config forces re-enrichment.
	_, found, err := c.Get(ctx, "k", "v2")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, c.Put(ctx, &models.EnrichmentEntry{ControlKey: "k", EnrichedText: "v2 text", Version: "v2"}))

	got1, found, err := c.Get(ctx, "k", "v1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "v1 text", got1.EnrichedText)

	got2, found, err := c.Get(ctx, "k", "v2")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "v2 text", got2.EnrichedText)
}

func TestEmbeddingCache_DistinctPerModelVersion(t *testing.T) {
	rdb := startRedis(t)
	ctx := context.Background()
	c := cache.NewEmbeddingCache(rdb)

	v1 := []float32{0.6, 0.8}
	v2 := []float32{1, 0}
	require.NoError(t, c.Put(ctx, &models.EmbeddingEntry{ControlKey: "k", ModelVersion: "v1", Vector: v1, CreatedAt: time.Now()}))
	require.NoError(t, c.Put(ctx, &models.EmbeddingEntry{ControlKey: "k", ModelVersion: "v2", Vector: v2, CreatedAt: time.Now()}))

	got1, found, err := c.Get(ctx, "k", "v1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, v1, got1.Vector)

	got2, found, err := c.Get(ctx, "k", "v2")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, v2, got2.Vector)
}
