package domain

import "time"

// Prediction is a directional call for one symbol. Direction is in [-1, 1]
// and doubles as the predicted fractional move.
type Prediction struct {
	Symbol     string    `json:"symbol"`
	Direction  float64   `json:"direction"`
	Confidence float64   `json:"confidence"`
	RiskScore  float64   `json:"risk_score"`
	Source     string    `json:"source"`
	At         time.Time `json:"at"`
}

// TradeIntent is an accepted prediction turned into a concrete entry. It lives
// only for the decision cycle that produced it.
type TradeIntent struct {
	Symbol    string
	Side      Side
	Quantity  float64
	RefPrice  float64
	Signal    Prediction
	Rationale string
}
