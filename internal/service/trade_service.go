package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

// Performance is the summary served by the performance endpoint.
type Performance struct {
	StartingCapital float64             `json:"starting_capital"`
	CurrentCapital  float64             `json:"current_capital"`
	TotalPnL        float64             `json:"total_pnl"`
	TotalReturn     float64             `json:"total_return"`
	DailyPnL        float64             `json:"daily_pnl"`
	MaxDrawdown     float64             `json:"max_drawdown"`
	TotalTrades     int                 `json:"total_trades"`
	WinningTrades   int                 `json:"winning_trades"`
	LosingTrades    int                 `json:"losing_trades"`
	WinRate         float64             `json:"win_rate"`
	AvgProfit       float64             `json:"avg_profit"`
	AvgLoss         float64             `json:"avg_loss"`
	ProfitFactor    float64             `json:"profit_factor"`
	Risk            domain.RiskSnapshot `json:"risk"`
}

// Allocation is one line of the portfolio breakdown.
type Allocation struct {
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Notional      float64 `json:"notional"`
	Weight        float64 `json:"weight"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// Portfolio splits capital between open positions and cash.
type Portfolio struct {
	Capital       float64      `json:"capital"`
	Invested      float64      `json:"invested"`
	Cash          float64      `json:"cash"`
	ExposureRatio float64      `json:"exposure_ratio"`
	UnrealizedPnL float64      `json:"unrealized_pnl"`
	Positions     []Allocation `json:"positions"`
}

// TradeService answers read-only queries over trades and engine status.
type TradeService struct {
	trades domain.TradeStore
	logs   domain.LogStore
	logger *slog.Logger
}

// NewTradeService creates a TradeService with all required dependencies.
func NewTradeService(trades domain.TradeStore, logs domain.LogStore, logger *slog.Logger) *TradeService {
	return &TradeService{
		trades: trades,
		logs:   logs,
		logger: logger.With(slog.String("component", "trade_service")),
	}
}

// Recent lists trades newest first.
func (s *TradeService) Recent(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	if opts.Limit <= 0 || opts.Limit > 500 {
		opts.Limit = 50
	}
	out, err := s.trades.ListRecent(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("trade_service: list recent: %w", err)
	}
	return out, nil
}

// Get returns a single trade.
func (s *TradeService) Get(ctx context.Context, id string) (domain.Position, error) {
	pos, err := s.trades.GetTrade(ctx, id)
	if err != nil {
		return domain.Position{}, fmt.Errorf("trade_service: get %s: %w", id, err)
	}
	return pos, nil
}

// Logs lists trading log entries newest first.
func (s *TradeService) Logs(ctx context.Context, opts domain.ListOpts) ([]domain.LogEntry, error) {
	if opts.Limit <= 0 || opts.Limit > 1000 {
		opts.Limit = 100
	}
	out, err := s.logs.ListLogs(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("trade_service: list logs: %w", err)
	}
	return out, nil
}

// Performance summarizes an engine status snapshot.
func (s *TradeService) Performance(st domain.Status) Performance {
	a := st.Account
	perf := Performance{
		StartingCapital: a.StartingCapital,
		CurrentCapital:  a.CurrentCapital,
		TotalPnL:        a.TotalPnL,
		DailyPnL:        a.DailyPnL,
		MaxDrawdown:     a.MaxDrawdown,
		TotalTrades:     st.Stats.TotalTrades,
		WinningTrades:   st.Stats.WinningTrades,
		LosingTrades:    st.Stats.LosingTrades,
		WinRate:         st.Stats.WinRate(),
		AvgProfit:       st.Stats.AvgProfit(),
		AvgLoss:         st.Stats.AvgLoss(),
		ProfitFactor:    st.Stats.ProfitFactor(),
		Risk:            st.Risk,
	}
	if base := a.StartingCapital + a.NetDeposits; base > 0 {
		perf.TotalReturn = a.TotalPnL / base
	}
	return perf
}

// Portfolio breaks the open book down by position, largest first.
func (s *TradeService) Portfolio(st domain.Status) Portfolio {
	capital := st.Account.CurrentCapital
	pf := Portfolio{Capital: capital, Positions: make([]Allocation, 0, len(st.OpenPositions))}
	for _, p := range st.OpenPositions {
		n := p.Notional()
		pf.Invested += n
		pf.UnrealizedPnL += p.UnrealizedPnL
		al := Allocation{
			Symbol:        p.Symbol,
			Side:          string(p.Side),
			Notional:      n,
			UnrealizedPnL: p.UnrealizedPnL,
		}
		if capital > 0 {
			al.Weight = n / capital
		}
		pf.Positions = append(pf.Positions, al)
	}
	slices.SortFunc(pf.Positions, func(a, b Allocation) int {
		switch {
		case a.Notional > b.Notional:
			return -1
		case a.Notional < b.Notional:
			return 1
		}
		return 0
	})
	pf.Cash = capital - pf.Invested
	if capital > 0 {
		pf.ExposureRatio = pf.Invested / capital
	}
	return pf
}

// Cleanup removes log entries older than retention from the primary store.
func (s *TradeService) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := s.logs.DeleteLogsBefore(ctx, time.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("trade_service: cleanup logs: %w", err)
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "log entries removed", slog.Int64("count", n))
	}
	return n, nil
}
