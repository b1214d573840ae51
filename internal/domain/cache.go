package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest prices. GetPrices returns each
// price with the time it was observed; judging its age is the caller's job.
type PriceCache interface {
	SetPrice(ctx context.Context, symbol string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, symbol string) (float64, time.Time, error)
	GetPrices(ctx context.Context, symbols []string) (map[string]Ticker, error)
}

// RulesCache keeps venue precision metadata between exchange-info calls.
type RulesCache interface {
	SetRules(ctx context.Context, venue string, rules SymbolRules) error
	GetRules(ctx context.Context, venue, symbol string) (SymbolRules, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Lock is a held distributed lock.
type Lock interface {
	Refresh(ctx context.Context, ttl time.Duration) error
	Release()
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// Event is the envelope every published payload travels in.
type Event struct {
	Type    string    `json:"type"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

// Publisher fans engine events out to subscribers.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload any) error
}

// StreamMessage represents a single entry from a durable event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// EventBus is a Publisher whose raw messages can also be consumed.
type EventBus interface {
	Publisher
	Subscribe(ctx context.Context) (<-chan []byte, error)
	StreamRead(ctx context.Context, lastID string, count int) ([]StreamMessage, error)
}
