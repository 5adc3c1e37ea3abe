package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ctrlmap/mapper/internal/interfaces"
	"github.com/ctrlmap/mapper/internal/models"
)

// EmbeddingTTL bounds how long an embedding entry survives in Redis.
const EmbeddingTTL = 90 * 24 * time.Hour

// EmbeddingCache implements interfaces.EmbeddingCache over Redis. Vectors
// are packed as little-endian float32 bytes rather than JSON, since they
// are large (d=4096 in the current retriever) and never inspected outside
// this package.
type EmbeddingCache struct {
	rdb *redis.Client
}

// NewEmbeddingCache wraps an already-connected Redis client.
func NewEmbeddingCache(rdb *redis.Client) *EmbeddingCache {
	return &EmbeddingCache{rdb: rdb}
}

func embeddingRedisKey(controlKey, modelVersion string) string {
	return "emb:" + modelVersion + ":" + controlKey
}

func (c *EmbeddingCache) Get(ctx context.Context, controlKey, modelVersion string) (*models.EmbeddingEntry, bool, error) {
	raw, err := c.rdb.Get(ctx, embeddingRedisKey(controlKey, modelVersion)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get embedding %s/%s: %w", controlKey, modelVersion, err)
	}
	if len(raw) < 8 {
		return nil, false, fmt.Errorf("embedding %s/%s: corrupt entry", controlKey, modelVersion)
	}
	createdUnix := int64(raw[0]) | int64(raw[1])<<8 | int64(raw[2])<<16 | int64(raw[3])<<24 |
		int64(raw[4])<<32 | int64(raw[5])<<40 | int64(raw[6])<<48 | int64(raw[7])<<56
	vec := unpackVector(raw[8:])
	return &models.EmbeddingEntry{
		ControlKey:   controlKey,
		ModelVersion: modelVersion,
		Vector:       vec,
		CreatedAt:    time.Unix(createdUnix, 0).UTC(),
	}, true, nil
}

func (c *EmbeddingCache) Put(ctx context.Context, entry *models.EmbeddingEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	ts := entry.CreatedAt.Unix()
	header := []byte{
		byte(ts), byte(ts >> 8), byte(ts >> 16), byte(ts >> 24),
		byte(ts >> 32), byte(ts >> 40), byte(ts >> 48), byte(ts >> 56),
	}
	payload := append(header, packVector(entry.Vector)...)
	key := embeddingRedisKey(entry.ControlKey, entry.ModelVersion)
	if err := c.rdb.Set(ctx, key, payload, EmbeddingTTL).Err(); err != nil {
		return fmt.Errorf("put embedding %s/%s: %w", entry.ControlKey, entry.ModelVersion, err)
	}
	return nil
}

var _ interfaces.EmbeddingCache = (*EmbeddingCache)(nil)
