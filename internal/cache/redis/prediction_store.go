package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

// PredictionStore implements domain.SignalSource over a hash an external
// model writes to.
//
// Key schema:
//
//	signals:latest - hash of symbol -> JSON-encoded Prediction
type PredictionStore struct {
	c      *Client
	key    string
	maxAge time.Duration
}

// NewPredictionStore creates a PredictionStore reading the hash at key
// ("signals:latest" when empty). Predictions older than maxAge are ignored;
// zero disables the check.
func NewPredictionStore(c *Client, key string, maxAge time.Duration) *PredictionStore {
	if key == "" {
		key = "signals:latest"
	}
	return &PredictionStore{c: c, key: c.Key(key), maxAge: maxAge}
}

// Put writes a prediction for its symbol.
func (ps *PredictionStore) Put(ctx context.Context, p domain.Prediction) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("redis: marshal prediction %s: %w", p.Symbol, err)
	}
	if err := ps.c.rdb.HSet(ctx, ps.key, p.Symbol, data).Err(); err != nil {
		return fmt.Errorf("redis: put prediction %s: %w", p.Symbol, err)
	}
	return nil
}

// Predict returns the fresh predictions for symbols. Missing, stale and
// malformed entries are left out.
func (ps *PredictionStore) Predict(ctx context.Context, symbols []string) (map[string]domain.Prediction, error) {
	out := make(map[string]domain.Prediction, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}
	vals, err := ps.c.rdb.HMGet(ctx, ps.key, symbols...).Result()
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("redis: read predictions: %w", err))
	}
	now := time.Now()
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var p domain.Prediction
		if err := json.Unmarshal([]byte(s), &p); err != nil {
			continue
		}
		if ps.maxAge > 0 && now.Sub(p.At) > ps.maxAge {
			continue
		}
		p.Symbol = symbols[i]
		if p.Source == "" {
			p.Source = "redis"
		}
		out[symbols[i]] = p
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.SignalSource = (*PredictionStore)(nil)
