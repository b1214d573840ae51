package domain

import "time"

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Sign is +1 for long and -1 for short.
func (s Side) Sign() float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// EntryOrder is the order side that opens a position of this side.
func (s Side) EntryOrder() OrderSide {
	if s == SideShort {
		return OrderSideSell
	}
	return OrderSideBuy
}

// ExitOrder is the order side that flattens a position of this side.
func (s Side) ExitOrder() OrderSide {
	if s == SideShort {
		return OrderSideBuy
	}
	return OrderSideSell
}

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "OPEN"
	PositionStatusClosed PositionStatus = "CLOSED"
)

// CloseReason records why a position was closed.
type CloseReason string

const (
	CloseStopLoss       CloseReason = "stop_loss"
	CloseTakeProfit     CloseReason = "take_profit"
	CloseMaxHolding     CloseReason = "max_holding"
	CloseExcursion      CloseReason = "excursion"
	CloseShutdown       CloseReason = "shutdown"
	CloseRiskManagement CloseReason = "risk_management"
	CloseManual         CloseReason = "manual"
)

// Position is a single trade from confirmed fill to close.
type Position struct {
	ID            string         `json:"id"`
	Symbol        string         `json:"symbol"`
	Side          Side           `json:"side"`
	Quantity      float64        `json:"quantity"`
	EntryPrice    float64        `json:"entry_price"`
	CurrentPrice  float64        `json:"current_price"`
	StopLoss      float64        `json:"stop_loss"`
	TakeProfit    float64        `json:"take_profit"`
	Status        PositionStatus `json:"status"`
	CloseReason   CloseReason    `json:"close_reason"`
	RealizedPnL   float64        `json:"realized_pnl"`
	UnrealizedPnL float64        `json:"unrealized_pnl"`
	EntryOrderID  string         `json:"entry_order_id"`
	ExitOrderID   string         `json:"exit_order_id"`
	ExitPrice     *float64       `json:"exit_price,omitempty"`
	Signal        Prediction     `json:"signal"`
	Rationale     string         `json:"rationale"`
	OpenedAt      time.Time      `json:"opened_at"`
	ClosedAt      *time.Time     `json:"closed_at,omitempty"`
}

// PnLAt is the signed profit of the position if it were closed at price.
func (p Position) PnLAt(price float64) float64 {
	return p.Side.Sign() * (price - p.EntryPrice) * p.Quantity
}

// ReturnAt is PnLAt as a fraction of the entry notional.
func (p Position) ReturnAt(price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	return p.Side.Sign() * (price - p.EntryPrice) / p.EntryPrice
}

// Notional is quantity times the latest observed price.
func (p Position) Notional() float64 {
	return p.Quantity * p.CurrentPrice
}

// HeldFor is the holding duration at now.
func (p Position) HeldFor(now time.Time) time.Duration {
	return now.Sub(p.OpenedAt)
}
