package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/domain"
)

type RedisPresentationCache struct {
	client redis.UniversalClient
}

func NewRedisPresentationCache(client redis.UniversalClient) *RedisPresentationCache {
	return &RedisPresentationCache{client: client}
}

func (c *RedisPresentationCache) Get(ctx context.Context, productID string, unitID string) (*domain.UnitPresentation, bool, error) {
	val, err := c.client.Get(ctx, presentationKey(productID, unitID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var presentation domain.UnitPresentation
	if err := json.Unmarshal(val, &presentation); err != nil {
		return nil, false, err
	}
	return &presentation, true, nil
}

func (c *RedisPresentationCache) Set(ctx context.Context, value domain.UnitPresentation, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, presentationKey(value.ProductID, value.UnitID), payload, ttl).Err()
}

func (c *RedisPresentationCache) Delete(ctx context.Context, productID string, unitID string) error {
	return c.client.Del(ctx, presentationKey(productID, unitID)).Err()
}
