package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/heliowatt/solar-telemetry-worker/internal/models"
)

const snapshotKeyPrefix = "telemetry:latest:"

// SnapshotCache stores the latest accepted reading per account in Redis
// with a bounded TTL. One slot per account, last-writer-wins. The cache is
// advisory: on expiry or failure callers fall back to the durable store.
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewSnapshotCache creates a new snapshot cache
func NewSnapshotCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *SnapshotCache {
	return &SnapshotCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func snapshotKey(accountID string) string {
	return snapshotKeyPrefix + accountID
}

// SetLatest overwrites the account's snapshot with a fresh TTL.
func (c *SnapshotCache) SetLatest(ctx context.Context, snap *models.LatestSnapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := c.client.Set(ctx, snapshotKey(snap.AccountID), body, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	return nil
}

// GetLatest returns the account's snapshot, or nil when none is cached.
func (c *SnapshotCache) GetLatest(ctx context.Context, accountID string) (*models.LatestSnapshot, error) {
	body, err := c.client.Get(ctx, snapshotKey(accountID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap models.LatestSnapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		// A corrupt entry is treated as a miss; it will be overwritten by
		// the next accepted reading or expire on its own.
		c.logger.Warn("discarding corrupt snapshot entry",
			zap.String("account_id", accountID),
			zap.Error(err),
		)
		return nil, nil
	}

	return &snap, nil
}
