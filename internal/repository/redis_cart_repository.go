package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vet-cart/internal/cart"

	"github.com/redis/go-redis/v9"
)

type redisCartRepository struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisCartRepository creates a CartRepository that keeps each cart under
// its own key. A zero ttl keeps carts forever; otherwise every save refreshes it.
func NewRedisCartRepository(client *redis.Client, keyPrefix string, ttl time.Duration) CartRepository {
	return &redisCartRepository{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
	}
}

func (r *redisCartRepository) redisKey(key cart.Key) string {
	return fmt.Sprintf("%s:%s:%s", r.keyPrefix, key.TenantID, key.SessionKey)
}

func (r *redisCartRepository) Load(ctx context.Context, key cart.Key) ([]byte, error) {
	payload, err := r.client.Get(ctx, r.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	return payload, nil
}

func (r *redisCartRepository) Save(ctx context.Context, key cart.Key, payload []byte) error {
	if err := r.client.Set(ctx, r.redisKey(key), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save cart: %w", err)
	}
	return nil
}

func (r *redisCartRepository) Delete(ctx context.Context, key cart.Key) error {
	if err := r.client.Del(ctx, r.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	return nil
}
