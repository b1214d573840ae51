package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/hedgebot/internal/domain"
	"github.com/redis/go-redis/v9"
)

// priceTTL drops prices nobody has refreshed in a while so a dead feed shows
// up as missing rather than stale.
const priceTTL = 10 * time.Minute

// PriceCache implements domain.PriceCache using Redis hashes.
// Each symbol's price is stored as a hash at key "price:{symbol}" with fields
// "price" and "ts" (Unix millisecond timestamp).
type PriceCache struct {
	c *Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{c: c}
}

func (pc *PriceCache) key(symbol string) string {
	return pc.c.Key("price:" + symbol)
}

// SetPrice stores the latest price and timestamp for a symbol.
func (pc *PriceCache) SetPrice(ctx context.Context, symbol string, price float64, ts time.Time) error {
	key := pc.key(symbol)
	pipe := pc.c.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixMilli(), 10),
	})
	pipe.Expire(ctx, key, priceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", symbol, err)
	}
	return nil
}

// GetPrice retrieves the latest price and timestamp for a symbol.
// It returns domain.ErrNotFound when the key does not exist.
func (pc *PriceCache) GetPrice(ctx context.Context, symbol string) (float64, time.Time, error) {
	vals, err := pc.c.rdb.HGetAll(ctx, pc.key(symbol)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", symbol, err)
	}
	price, ts, ok := parsePrice(vals)
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return price, ts, nil
}

// GetPrices retrieves the latest prices for several symbols using a pipeline.
// Symbols whose keys do not exist are silently omitted from the result map.
func (pc *PriceCache) GetPrices(ctx context.Context, symbols []string) (map[string]domain.Ticker, error) {
	if len(symbols) == 0 {
		return map[string]domain.Ticker{}, nil
	}

	pipe := pc.c.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(symbols))
	for _, s := range symbols {
		cmds[s] = pipe.HGetAll(ctx, pc.key(s))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices pipeline: %w", err)
	}

	result := make(map[string]domain.Ticker, len(symbols))
	for s, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		if price, ts, ok := parsePrice(vals); ok {
			result[s] = domain.Ticker{Symbol: s, Price: price, At: ts}
		}
	}
	return result, nil
}

func parsePrice(vals map[string]string) (float64, time.Time, bool) {
	p, err := strconv.ParseFloat(vals["price"], 64)
	if err != nil {
		return 0, time.Time{}, false
	}
	ms, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return 0, time.Time{}, false
	}
	return p, time.UnixMilli(ms).UTC(), true
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
