package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
)

const (
	stockKeyFormat  = "stock:%s:%s"
	defaultStockTTL = 15 * time.Second
)

// StockCache keeps short-lived stock reads off the database. It is
// strictly a read accelerator for display surfaces; the transactional
// paths never consult it. A nil client disables it.
type StockCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStockCache(client *redis.Client) *StockCache {
	return &StockCache{client: client, ttl: defaultStockTTL}
}

func (c *StockCache) Enabled() bool {
	return c != nil && c.client != nil
}

func (c *StockCache) Get(ctx context.Context, warehouseID, productID snowflake.ID) (int64, bool) {
	if !c.Enabled() {
		return 0, false
	}
	raw, err := c.client.Get(ctx, stockKey(warehouseID, productID)).Result()
	if err != nil {
		return 0, false
	}
	stock, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return stock, true
}

func (c *StockCache) Set(ctx context.Context, warehouseID, productID snowflake.ID, stock int64) {
	if !c.Enabled() {
		return
	}
	_ = c.client.Set(ctx, stockKey(warehouseID, productID), strconv.FormatInt(stock, 10), c.ttl).Err()
}

// Invalidate drops the pair after a stock mutation so readers do not see
// a stale count for the full TTL.
func (c *StockCache) Invalidate(ctx context.Context, warehouseID, productID snowflake.ID) {
	if !c.Enabled() {
		return
	}
	_ = c.client.Del(ctx, stockKey(warehouseID, productID)).Err()
}

func stockKey(warehouseID, productID snowflake.ID) string {
	return fmt.Sprintf(stockKeyFormat, warehouseID, productID)
}
