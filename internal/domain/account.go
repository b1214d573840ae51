package domain

import "time"

// Account is the engine's capital accounting. CurrentCapital equals
// StartingCapital + sum of realized P&L + NetDeposits, floored at zero.
type Account struct {
	StartingCapital float64   `json:"starting_capital"`
	CurrentCapital  float64   `json:"current_capital"`
	NetDeposits     float64   `json:"net_deposits"`
	TotalPnL        float64   `json:"total_pnl"`
	DailyPnL        float64   `json:"daily_pnl"`
	DailyPnLDate    time.Time `json:"daily_pnl_date"`
	PeakCapital     float64   `json:"peak_capital"`
	MaxDrawdown     float64   `json:"max_drawdown"`
}

// Drawdown is the decline of CurrentCapital from PeakCapital.
func (a Account) Drawdown() float64 {
	if a.PeakCapital <= 0 {
		return 0
	}
	dd := (a.PeakCapital - a.CurrentCapital) / a.PeakCapital
	if dd < 0 {
		return 0
	}
	return dd
}

// TradeStats are running counters over closed positions.
type TradeStats struct {
	TotalTrades            int     `json:"total_trades"`
	WinningTrades          int     `json:"winning_trades"`
	LosingTrades           int     `json:"losing_trades"`
	GrossProfit            float64 `json:"gross_profit"`
	GrossLoss              float64 `json:"gross_loss"`
	MaxConcurrentPositions int     `json:"max_concurrent_positions"`
}

// WinRate is the winning share of closed trades in percent.
func (s TradeStats) WinRate() float64 {
	closed := s.WinningTrades + s.LosingTrades
	if closed == 0 {
		return 0
	}
	return float64(s.WinningTrades) / float64(closed) * 100
}

// AvgProfit is the mean P&L of winning trades.
func (s TradeStats) AvgProfit() float64 {
	if s.WinningTrades == 0 {
		return 0
	}
	return s.GrossProfit / float64(s.WinningTrades)
}

// AvgLoss is the mean absolute P&L of losing trades.
func (s TradeStats) AvgLoss() float64 {
	if s.LosingTrades == 0 {
		return 0
	}
	return s.GrossLoss / float64(s.LosingTrades)
}

// ProfitFactor is gross profit over gross loss, zero when there are no losses.
func (s TradeStats) ProfitFactor() float64 {
	if s.GrossLoss == 0 {
		return 0
	}
	return s.GrossProfit / s.GrossLoss
}
