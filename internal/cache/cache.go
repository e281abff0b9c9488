package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nidhogg/lingochat/internal/compressor"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "lingochat:compress:"

// Redis memoizes compression results. Lookup or decode failures are
// logged and treated as a miss so compression never depends on Redis.
type Redis struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// New creates a Redis-backed compression cache. A zero ttl keeps entries
// until evicted by Redis.
func New(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Redis {
	return &Redis{rdb: rdb, ttl: ttl, logger: logger}
}

// Get implements compressor.Cache.
func (c *Redis) Get(ctx context.Context, key string) (compressor.Result, bool) {
	data, err := c.rdb.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("compression cache get", zap.Error(err))
		}
		return compressor.Result{}, false
	}
	var r compressor.Result
	if err := json.Unmarshal(data, &r); err != nil {
		c.logger.Warn("compression cache decode", zap.Error(err))
		return compressor.Result{}, false
	}
	return r, true
}

// Set implements compressor.Cache.
func (c *Redis) Set(ctx context.Context, key string, r compressor.Result) {
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, keyPrefix+key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("compression cache set", zap.Error(err))
	}
}
