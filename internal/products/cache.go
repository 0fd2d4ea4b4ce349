package products

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheVersionKey = "products:availability:version"

// Cache wraps Redis based caching of availability lookups with a global
// version counter. Every stock mutation bumps the version, which shifts all
// keys at once instead of tracking per-product invalidation.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if err == redis.Nil {
		if err := c.client.Set(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// FetchAvailability loads a cached availability or populates it via loader.
func (c *Cache) FetchAvailability(ctx context.Context, productID int64, loader func(context.Context) (Availability, error)) (Availability, error) {
	if loader == nil {
		return Availability{}, errors.New("cache: loader required")
	}
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return Availability{}, err
	}
	key := strings.Join([]string{"products", "availability", strconv.FormatInt(productID, 10), strconv.FormatInt(ver, 10)}, ":")

	var avail Availability
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		if err := json.Unmarshal(payload, &avail); err == nil {
			return avail, nil
		}
	} else if err != redis.Nil {
		return Availability{}, err
	}

	avail, err = loader(ctx)
	if err != nil {
		return Availability{}, err
	}
	raw, err := json.Marshal(avail)
	if err != nil {
		return Availability{}, err
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return Availability{}, err
	}
	return avail, nil
}

// Bump invalidates every cached availability by incrementing the version.
func (c *Cache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}
