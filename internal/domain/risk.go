package domain

// RiskSnapshot is the periodic portfolio risk aggregate.
type RiskSnapshot struct {
	VaR95           float64 `json:"var_95"` // fraction of capital
	SharpeRatio     float64 `json:"sharpe_ratio"`
	MaxDrawdown     float64 `json:"max_drawdown"`
	Volatility      float64 `json:"volatility"`
	ExposureRatio   float64 `json:"exposure_ratio"`
	Concentration   float64 `json:"concentration"` // largest single position as a fraction of capital
	Samples         int     `json:"samples"`
	AccountDrawdown float64 `json:"account_drawdown"`
}

// MarketConditions is what the gate sees about a symbol besides the prediction.
type MarketConditions struct {
	Price      float64 `json:"price"`
	Volatility float64 `json:"volatility"` // annualized, from recent candles
}

// Bracket is a stop-loss / take-profit pair around an entry price.
type Bracket struct {
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
}
