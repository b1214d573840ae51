package domain

import "time"

// Phase is the trading engine lifecycle state.
type Phase string

const (
	PhaseStopped          Phase = "stopped"
	PhaseStarting         Phase = "starting"
	PhaseRunning          Phase = "running"
	PhaseStopping         Phase = "stopping"
	PhaseEmergencyStopped Phase = "emergency_stopped"
)

// Status is a read-only snapshot of the engine for the control surface.
type Status struct {
	Phase         Phase        `json:"phase"`
	Live          bool         `json:"live"`
	Account       Account      `json:"account"`
	Stats         TradeStats   `json:"stats"`
	OpenPositions []Position   `json:"open_positions"`
	Risk          RiskSnapshot `json:"risk"`
	LastError     string       `json:"last_error"`
	LastErrorAt   *time.Time   `json:"last_error_at,omitempty"`
	StartedAt     *time.Time   `json:"started_at,omitempty"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// Event types fanned out through the Publisher.
const (
	EventStatus         = "status"
	EventTradeOpened    = "trade_opened"
	EventTradeClosed    = "trade_closed"
	EventRiskUpdate     = "risk_update"
	EventMarketData     = "market_data"
	EventEmergencyStop  = "emergency_stop"
	EventCapitalChanged = "capital_changed"
	EventModeChanged    = "mode_changed"
)
