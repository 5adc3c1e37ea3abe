// Package cache implements EnrichmentCache (C3) and EmbeddingCache (C4)
// against Redis. Both caches are write-once-per-key-plus-overwrite-safe
// (§4.3/§4.4): neither is on the critical consistency path, so a simple
// last-writer-wins SET is sufficient — no optimistic locking is needed.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ctrlmap/mapper/internal/interfaces"
	"github.com/ctrlmap/mapper/internal/models"
)

// EnrichmentTTL bounds how long an enrichment entry survives in Redis.
// Purely storage hygiene — correctness never depends on cache retention,
// since a miss only induces recomputation (§4.3).
const EnrichmentTTL = 30 * 24 * time.Hour

type enrichmentWire struct {
	EnrichedText string    `json:"enrichedText"`
	Version      string    `json:"version"`
	CreatedAt    time.Time `json:"createdAt"`
}

// EnrichmentCache implements interfaces.EnrichmentCache over Redis.
type EnrichmentCache struct {
	rdb *redis.Client
}

// NewEnrichmentCache wraps an already-connected Redis client.
func NewEnrichmentCache(rdb *redis.Client) *EnrichmentCache {
	return &EnrichmentCache{rdb: rdb}
}

func enrichmentRedisKey(controlKey, enrichmentVersion string) string {
	return "enr:" + enrichmentVersion + ":" + controlKey
}

func (c *EnrichmentCache) Get(ctx context.Context, controlKey, enrichmentVersion string) (*models.EnrichmentEntry, bool, error) {
	raw, err := c.rdb.Get(ctx, enrichmentRedisKey(controlKey, enrichmentVersion)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get enrichment %s/%s: %w", controlKey, enrichmentVersion, err)
	}
	var wire enrichmentWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, false, fmt.Errorf("decode enrichment %s/%s: %w", controlKey, enrichmentVersion, err)
	}
	return &models.EnrichmentEntry{
		ControlKey:   controlKey,
		EnrichedText: wire.EnrichedText,
		Version:      wire.Version,
		CreatedAt:    wire.CreatedAt,
	}, true, nil
}

func (c *EnrichmentCache) Put(ctx context.Context, entry *models.EnrichmentEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	wire := enrichmentWire{EnrichedText: entry.EnrichedText, Version: entry.Version, CreatedAt: entry.CreatedAt}
	raw, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("encode enrichment %s: %w", entry.ControlKey, err)
	}
	key := enrichmentRedisKey(entry.ControlKey, entry.Version)
	if err := c.rdb.Set(ctx, key, raw, EnrichmentTTL).Err(); err != nil {
		return fmt.Errorf("put enrichment %s/%s: %w", entry.ControlKey, entry.Version, err)
	}
	return nil
}

var _ interfaces.EnrichmentCache = (*EnrichmentCache)(nil)
