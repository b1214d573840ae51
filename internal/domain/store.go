package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Symbol string
	Since  *time.Time
	Until  *time.Time
}

// TradeStore persists positions as trade records.
type TradeStore interface {
	SaveTrade(ctx context.Context, pos Position) error
	UpdateTrade(ctx context.Context, pos Position) error
	GetTrade(ctx context.Context, id string) (Position, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]Position, error)
	ListOpen(ctx context.Context) ([]Position, error)
	ListClosedBefore(ctx context.Context, cutoff time.Time, limit int) ([]Position, error)
	DeleteTrades(ctx context.Context, ids []string) (int64, error)
}

// LogEntry is a single append-only trading log row.
type LogEntry struct {
	ID        int64          `json:"id"`
	Level     string         `json:"level"`
	Event     string         `json:"event"`
	Symbol    string         `json:"symbol"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// LogStore persists the append-only trading log.
type LogStore interface {
	AppendLog(ctx context.Context, entry LogEntry) error
	ListLogs(ctx context.Context, opts ListOpts) ([]LogEntry, error)
	DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// BotStatus is the persisted engine summary restored on boot.
type BotStatus struct {
	Phase     Phase        `json:"phase"`
	Live      bool         `json:"live"`
	Account   Account      `json:"account"`
	Stats     TradeStats   `json:"stats"`
	Risk      RiskSnapshot `json:"risk"`
	LastError string       `json:"last_error"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// StatusStore persists the single engine status row.
type StatusStore interface {
	ReadStatus(ctx context.Context) (BotStatus, error)
	WriteStatus(ctx context.Context, st BotStatus) error
}

// RiskStore keeps the per-aggregation-cycle risk history.
type RiskStore interface {
	SaveRiskSnapshot(ctx context.Context, snap RiskSnapshot, at time.Time) error
}

// Store is everything the engine persists.
type Store interface {
	TradeStore
	LogStore
	StatusStore
	RiskStore
}
