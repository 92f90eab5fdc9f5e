package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisAvailability shares the availability cache between instances.
type RedisAvailability struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewRedisAvailability creates a cache backed by rdb.
func NewRedisAvailability(rdb redis.Cmdable, ttl time.Duration) *RedisAvailability {
	return &RedisAvailability{rdb: rdb, ttl: ttl}
}

func availabilityKey(laptopID int64) string {
	return fmt.Sprintf("laptop:avail:%d", laptopID)
}

func (c *RedisAvailability) Get(ctx context.Context, laptopID int64) (bool, bool, error) {
	val, err := c.rdb.Get(ctx, availabilityKey(laptopID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return val == "1", true, nil
}

func (c *RedisAvailability) Set(ctx context.Context, laptopID int64, bookable bool) error {
	if c.ttl <= 0 {
		return nil
	}
	val := "0"
	if bookable {
		val = "1"
	}
	return c.rdb.Set(ctx, availabilityKey(laptopID), val, c.ttl).Err()
}

func (c *RedisAvailability) Invalidate(ctx context.Context, laptopID int64) error {
	return c.rdb.Del(ctx, availabilityKey(laptopID)).Err()
}
