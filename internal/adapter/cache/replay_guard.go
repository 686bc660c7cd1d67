package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smallbiznis/token-vault/internal/repository"
)

const noncePrefix = "consent:nonce:"

// RedisReplayGuard marks consent nonces as consumed so a state token is
// honored at most once. Keys expire with the state-token TTL, so abandoned
// consent attempts clean themselves up.
type RedisReplayGuard struct {
	client redis.UniversalClient
	ttl    time.Duration
}

var _ repository.ReplayGuard = (*RedisReplayGuard)(nil)

// NewRedisReplayGuard constructs the guard. ttl should match the state-token
// lifetime.
func NewRedisReplayGuard(client redis.UniversalClient, ttl time.Duration) *RedisReplayGuard {
	return &RedisReplayGuard{client: client, ttl: ttl}
}

// MarkUsed records the nonce and reports whether this call was the first use.
func (g *RedisReplayGuard) MarkUsed(ctx context.Context, nonce string) (bool, error) {
	first, err := g.client.SetNX(ctx, noncePrefix+nonce, "1", g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark nonce: %w", err)
	}
	return first, nil
}
