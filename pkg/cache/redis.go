// Package cache provides evaluation-result caches for the rule engine.
// Caches are fail-open: any backend error is logged and treated as a
// miss, never surfaced to the evaluation path.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Oversight-Labs/sentra/core/pkg/contracts"
)

// RedisCache shares evaluation results across instances.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisCache wraps a redis client. ttl bounds staleness of entries
// whose inputs never change again (e.g. departed users).
func NewRedisCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisCache {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisCache{client: client, ttl: ttl, logger: logger}
}

func key(userID string, rulesetVersion int64, snapshotHash string) string {
	return fmt.Sprintf("sentra:eval:%s:%d:%s", userID, rulesetVersion, snapshotHash)
}

func (c *RedisCache) Get(ctx context.Context, userID string, rulesetVersion int64, snapshotHash string) ([]contracts.RiskViolation, bool) {
	raw, err := c.client.Get(ctx, key(userID, rulesetVersion, snapshotHash)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("evaluation cache read failed", "user_id", userID, "error", err)
		return nil, false
	}
	var violations []contracts.RiskViolation
	if err := json.Unmarshal(raw, &violations); err != nil {
		c.logger.Warn("evaluation cache entry corrupt", "user_id", userID, "error", err)
		return nil, false
	}
	return violations, true
}

func (c *RedisCache) Set(ctx context.Context, userID string, rulesetVersion int64, snapshotHash string, violations []contracts.RiskViolation) {
	raw, err := json.Marshal(violations)
	if err != nil {
		c.logger.Warn("evaluation cache encode failed", "user_id", userID, "error", err)
		return
	}
	if err := c.client.Set(ctx, key(userID, rulesetVersion, snapshotHash), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("evaluation cache write failed", "user_id", userID, "error", err)
	}
}
