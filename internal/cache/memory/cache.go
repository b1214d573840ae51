// Package memory provides in-process caches used when Redis is not configured.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

type priceEntry struct {
	price float64
	at    time.Time
}

// PriceCache is a mutex-guarded domain.PriceCache.
type PriceCache struct {
	mu     sync.RWMutex
	prices map[string]priceEntry
}

var _ domain.PriceCache = (*PriceCache)(nil)

// NewPriceCache returns an empty PriceCache.
func NewPriceCache() *PriceCache {
	return &PriceCache{prices: make(map[string]priceEntry)}
}

func (c *PriceCache) SetPrice(_ context.Context, symbol string, price float64, ts time.Time) error {
	c.mu.Lock()
	c.prices[symbol] = priceEntry{price: price, at: ts}
	c.mu.Unlock()
	return nil
}

func (c *PriceCache) GetPrice(_ context.Context, symbol string) (float64, time.Time, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.prices[symbol]
	if !ok {
		return 0, time.Time{}, fmt.Errorf("memory: price %s: %w", symbol, domain.ErrNotFound)
	}
	return e.price, e.at, nil
}

func (c *PriceCache) GetPrices(_ context.Context, symbols []string) (map[string]domain.Ticker, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]domain.Ticker, len(symbols))
	for _, s := range symbols {
		if e, ok := c.prices[s]; ok {
			out[s] = domain.Ticker{Symbol: s, Price: e.price, At: e.at}
		}
	}
	return out, nil
}

// RulesCache is a mutex-guarded domain.RulesCache keyed by venue and symbol.
type RulesCache struct {
	mu    sync.RWMutex
	rules map[string]domain.SymbolRules
}

var _ domain.RulesCache = (*RulesCache)(nil)

// NewRulesCache returns an empty RulesCache.
func NewRulesCache() *RulesCache {
	return &RulesCache{rules: make(map[string]domain.SymbolRules)}
}

func (c *RulesCache) SetRules(_ context.Context, venue string, rules domain.SymbolRules) error {
	c.mu.Lock()
	c.rules[venue+":"+rules.Symbol] = rules
	c.mu.Unlock()
	return nil
}

func (c *RulesCache) GetRules(_ context.Context, venue, symbol string) (domain.SymbolRules, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.rules[venue+":"+symbol]
	if !ok {
		return domain.SymbolRules{}, fmt.Errorf("memory: rules %s/%s: %w", venue, symbol, domain.ErrNotFound)
	}
	return r, nil
}
