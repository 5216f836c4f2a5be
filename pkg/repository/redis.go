package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/marketplace/pkg/config"
	"github.com/example/marketplace/pkg/models"
	"github.com/example/marketplace/pkg/reconcile"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisRepository caches committed orders for readers outside this process.
type RedisRepository struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisRepository(cfg *config.RedisConfig, logger *zap.Logger) *RedisRepository {
	return NewRedisRepositoryWithClient(redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}), cfg.TTL, logger)
}

func NewRedisRepositoryWithClient(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisRepository {
	return &RedisRepository{client: client, ttl: ttl, logger: logger}
}

func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRepository) Close() error {
	return r.client.Close()
}

func orderKey(id string) string {
	return fmt.Sprintf("order:%s", id)
}

func (r *RedisRepository) CacheOrder(ctx context.Context, order *models.Order) error {
	data, err := json.Marshal(order)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, orderKey(order.ID), data, r.ttl).Err()
}

func (r *RedisRepository) InvalidateOrder(ctx context.Context, id string) error {
	return r.client.Del(ctx, orderKey(id)).Err()
}

// cacheable reports whether an outcome changed committed state.
func cacheable(ev reconcile.Event) bool {
	return ev.Order != nil && (ev.Kind == reconcile.EventCreated || ev.Kind == reconcile.EventCommitted)
}

// Observe keeps the cache in step with committed state. Rolled back and
// rejected mutations never reach the cache.
func (r *RedisRepository) Observe(ctx context.Context, ev reconcile.Event) {
	if !cacheable(ev) {
		return
	}
	if err := r.CacheOrder(ctx, ev.Order); err != nil {
		r.logger.Warn("Failed to cache order", zap.String("order_id", ev.OrderID), zap.Error(err))
		if derr := r.InvalidateOrder(ctx, ev.OrderID); derr != nil {
			r.logger.Warn("Failed to invalidate order cache", zap.String("order_id", ev.OrderID), zap.Error(derr))
		}
	}
}
