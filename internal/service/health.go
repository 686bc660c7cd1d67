package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Health reports readiness of the vault's backing stores.
type Health struct {
	pool  *pgxpool.Pool
	redis redis.UniversalClient
}

// NewHealth wires the health checker.
func NewHealth(pool *pgxpool.Pool, client redis.UniversalClient) *Health {
	return &Health{pool: pool, redis: client}
}

// Ping checks database and redis connectivity.
func (h *Health) Ping(ctx context.Context) error {
	if err := h.pool.Ping(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := h.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}
