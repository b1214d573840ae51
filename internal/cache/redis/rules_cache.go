package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/hedgebot/internal/domain"
	"github.com/redis/go-redis/v9"
)

// rulesTTL bounds how long venue precision metadata is trusted.
const rulesTTL = time.Hour

// RulesCache implements domain.RulesCache with JSON strings.
//
// Key schema:
//
//	rules:{venue}:{symbol} - JSON-encoded SymbolRules
type RulesCache struct {
	c *Client
}

// NewRulesCache creates a RulesCache backed by the given Client.
func NewRulesCache(c *Client) *RulesCache {
	return &RulesCache{c: c}
}

func (rc *RulesCache) key(venue, symbol string) string {
	return rc.c.Key("rules:" + venue + ":" + symbol)
}

// SetRules stores rules for an hour.
func (rc *RulesCache) SetRules(ctx context.Context, venue string, rules domain.SymbolRules) error {
	data, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("redis: marshal rules %s: %w", rules.Symbol, err)
	}
	if err := rc.c.rdb.Set(ctx, rc.key(venue, rules.Symbol), data, rulesTTL).Err(); err != nil {
		return fmt.Errorf("redis: set rules %s: %w", rules.Symbol, err)
	}
	return nil
}

// GetRules returns domain.ErrNotFound on a miss.
func (rc *RulesCache) GetRules(ctx context.Context, venue, symbol string) (domain.SymbolRules, error) {
	data, err := rc.c.rdb.Get(ctx, rc.key(venue, symbol)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.SymbolRules{}, domain.ErrNotFound
		}
		return domain.SymbolRules{}, fmt.Errorf("redis: get rules %s: %w", symbol, err)
	}
	var rules domain.SymbolRules
	if err := json.Unmarshal(data, &rules); err != nil {
		return domain.SymbolRules{}, fmt.Errorf("redis: unmarshal rules %s: %w", symbol, err)
	}
	return rules, nil
}

// Compile-time interface check.
var _ domain.RulesCache = (*RulesCache)(nil)
