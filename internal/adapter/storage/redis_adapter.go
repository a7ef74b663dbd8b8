package storage

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/elixirhk/stockroom/internal/core/domain"
	"github.com/elixirhk/stockroom/internal/port"
)

const (
	stockKeyPrefix       = "stock:"
	idempotencyKeyPrefix = "idem:"
	idempotencyKeyTTL    = 24 * time.Hour
	stockKeyTTL          = time.Hour
)

// setStockScript stores quantity and version in one hash, and only when the
// version is newer than the stored one. Commits can finish publishing in any
// order, so a late writer must not overwrite a fresher quantity.
var setStockScript = redis.NewScript(`
local key = KEYS[1]
local quantity = ARGV[1]
local version = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local current = redis.call('HGET', key, 'version')
if current and tonumber(current) >= version then
	return 0
end

redis.call('HSET', key, 'quantity', quantity, 'version', version)
redis.call('EXPIRE', key, ttl)
return 1
`)

var _ port.CacheRepository = (*RedisAdapter)(nil)

type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func stockKey(itemID int64) string {
	return stockKeyPrefix + strconv.FormatInt(itemID, 10)
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, idempotencyKeyPrefix+key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, idempotencyKeyPrefix+key).Err()
}

func (r *RedisAdapter) SetStock(ctx context.Context, level domain.StockLevel) (bool, error) {
	ttl := int64(stockKeyTTL / time.Second)
	result, err := setStockScript.Run(ctx, r.client, []string{stockKey(level.ItemID)}, level.Quantity, level.Version, ttl).Int()
	if err != nil {
		return false, err
	}

	return result == 1, nil
}

func (r *RedisAdapter) GetStock(ctx context.Context, itemID int64) (int, bool, error) {
	qty, err := r.client.HGet(ctx, stockKey(itemID), "quantity").Int()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return qty, true, nil
}
