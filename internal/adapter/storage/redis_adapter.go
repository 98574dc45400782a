package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/rl1809/bookstore-backoffice/internal/core/domain"
)

const (
	stockKeyPrefix    = "stock:"
	idempotencyKeyTTL = 24 * time.Hour
)

// Stock entries are hashes with quantity, price, version, created_at and
// updated_at fields. Scripts return -1 for a missing key.
var withdrawStockScript = redis.NewScript(`
local key = KEYS[1]
local quantity = tonumber(ARGV[1])
local reserve = tonumber(ARGV[2])

local current = redis.call('HGET', key, 'quantity')
if not current then
	return -1
end

current = tonumber(current)
if current - quantity < reserve then
	return -2 - current
end

redis.call('HINCRBY', key, 'version', 1)
redis.call('HSET', key, 'updated_at', ARGV[3])
return redis.call('HINCRBY', key, 'quantity', -quantity)
`)

var returnStockScript = redis.NewScript(`
local key = KEYS[1]
local quantity = tonumber(ARGV[1])

if redis.call('EXISTS', key) == 0 then
	return -1
end

if ARGV[2] ~= '' then
	redis.call('HSET', key, 'price', ARGV[2])
end
redis.call('HINCRBY', key, 'version', 1)
redis.call('HSET', key, 'updated_at', ARGV[3])
return redis.call('HINCRBY', key, 'quantity', quantity)
`)

var upsertStockScript = redis.NewScript(`
local key = KEYS[1]
redis.call('HSETNX', key, 'created_at', ARGV[3])
redis.call('HSETNX', key, 'version', -1)
redis.call('HINCRBY', key, 'version', 1)
redis.call('HSET', key, 'quantity', ARGV[1], 'price', ARGV[2], 'updated_at', ARGV[3])
return 1
`)

// RedisAdapter is a ledger backed by Redis hashes and the idempotency store.
type RedisAdapter struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{
		client: client,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *RedisAdapter) Withdraw(ctx context.Context, bookID string, quantity int) (domain.StockItem, error) {
	key := stockKeyPrefix + bookID

	result, err := withdrawStockScript.Run(ctx, r.client, []string{key}, quantity, domain.StockReserve, r.stamp()).Int()
	if err != nil {
		return domain.StockItem{}, fmt.Errorf("withdraw stock: %w", err)
	}
	switch {
	case result == -1:
		return domain.StockItem{}, stockNotFound(bookID)
	case result < -1:
		return domain.StockItem{}, &domain.InsufficientStockError{BookID: bookID, Available: -2 - result, Requested: quantity}
	}
	return r.Get(ctx, bookID)
}

func (r *RedisAdapter) Return(ctx context.Context, bookID string, quantity int, price decimal.NullDecimal) (domain.StockItem, error) {
	if quantity < 0 {
		return domain.StockItem{}, domain.ErrInvalidQuantity
	}
	price, err := priceOverride(price)
	if err != nil {
		return domain.StockItem{}, err
	}
	key := stockKeyPrefix + bookID

	override := ""
	if price.Valid {
		override = price.Decimal.String()
	}
	result, err := returnStockScript.Run(ctx, r.client, []string{key}, quantity, override, r.stamp()).Int()
	if err != nil {
		return domain.StockItem{}, fmt.Errorf("return stock: %w", err)
	}
	if result == -1 {
		return domain.StockItem{}, stockNotFound(bookID)
	}
	return r.Get(ctx, bookID)
}

func (r *RedisAdapter) CurrentPrice(ctx context.Context, bookID string) (decimal.Decimal, error) {
	raw, err := r.client.HGet(ctx, stockKeyPrefix+bookID, "price").Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Decimal{}, stockNotFound(bookID)
	}
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromString(raw)
}

func (r *RedisAdapter) Upsert(ctx context.Context, item domain.StockItem) (domain.StockItem, error) {
	if !domain.ValidPrice(item.Price) {
		return domain.StockItem{}, domain.ErrInvalidPrice
	}
	key := stockKeyPrefix + item.BookID
	err := upsertStockScript.Run(ctx, r.client, []string{key},
		domain.ClampQuantity(item.Quantity), item.Price.String(), r.stamp()).Err()
	if err != nil {
		return domain.StockItem{}, fmt.Errorf("upsert stock: %w", err)
	}
	return r.Get(ctx, item.BookID)
}

func (r *RedisAdapter) Get(ctx context.Context, bookID string) (domain.StockItem, error) {
	fields, err := r.client.HGetAll(ctx, stockKeyPrefix+bookID).Result()
	if err != nil {
		return domain.StockItem{}, err
	}
	if len(fields) == 0 {
		return domain.StockItem{}, stockNotFound(bookID)
	}
	return parseStock(bookID, fields)
}

// SearchStock walks every stock key; fine for the sizes Redis is used with here.
func (r *RedisAdapter) SearchStock(ctx context.Context, filter domain.StockFilter) ([]domain.StockItem, error) {
	var items []domain.StockItem
	iter := r.client.Scan(ctx, 0, stockKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		bookID := iter.Val()[len(stockKeyPrefix):]
		item, err := r.Get(ctx, bookID)
		if err != nil {
			return nil, err
		}
		if filter.Matches(item) {
			items = append(items, item)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sortStock(items)
	return page(items, filter.Page, filter.Limit), nil
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisAdapter) stamp() string {
	return r.now().Format(time.RFC3339Nano)
}

func parseStock(bookID string, fields map[string]string) (domain.StockItem, error) {
	item := domain.StockItem{BookID: bookID}
	var err error
	if item.Quantity, err = strconv.Atoi(fields["quantity"]); err != nil {
		return domain.StockItem{}, fmt.Errorf("parse quantity of %s: %w", bookID, err)
	}
	if item.Price, err = decimal.NewFromString(fields["price"]); err != nil {
		return domain.StockItem{}, fmt.Errorf("parse price of %s: %w", bookID, err)
	}
	item.Version, _ = strconv.ParseInt(fields["version"], 10, 64)
	item.CreatedAt, _ = time.Parse(time.RFC3339Nano, fields["created_at"])
	item.UpdatedAt, _ = time.Parse(time.RFC3339Nano, fields["updated_at"])
	return item, nil
}
