package domain

import "time"

// OrderSide is the exchange-facing side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderStatus tracks the order lifecycle as reported by the venue.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// OrderRequest is a market order ready for submission. Quantity is already
// truncated to the symbol step size.
type OrderRequest struct {
	Symbol        string    `json:"symbol"`
	Side          OrderSide `json:"side"`
	Quantity      string    `json:"quantity"`
	ClientOrderID string    `json:"client_order_id"`
}

// Fill is the venue's answer to a market order. An accepted order with
// FilledQty == 0 is not a fill; an expired or cancelled order that executed
// part of its quantity is.
type Fill struct {
	OrderID   string      `json:"order_id"`
	Symbol    string      `json:"symbol"`
	Side      OrderSide   `json:"side"`
	Status    OrderStatus `json:"status"`
	FillPrice float64     `json:"fill_price"`
	FilledQty float64     `json:"filled_qty"`
	Fee       float64     `json:"fee"`
	FilledAt  time.Time   `json:"filled_at"`
}

// Filled reports whether the venue confirmed execution of any quantity.
func (f Fill) Filled() bool {
	return f.FilledQty > 0 && f.FillPrice > 0
}

// Resting reports whether part of the order may still execute.
func (f Fill) Resting() bool {
	return f.Status == OrderStatusNew || f.Status == OrderStatusPartiallyFilled || f.Status == ""
}

// OpenOrder is a resting order reported by the venue.
type OpenOrder struct {
	OrderID   string      `json:"order_id"`
	Symbol    string      `json:"symbol"`
	Side      OrderSide   `json:"side"`
	Price     float64     `json:"price"`
	Quantity  float64     `json:"quantity"`
	Filled    float64     `json:"filled"`
	Status    OrderStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}

// SymbolRules holds the venue's precision metadata for a symbol. StepSize and
// TickSize are decimal strings so no precision is lost before truncation.
type SymbolRules struct {
	Symbol      string  `json:"symbol"`
	StepSize    string  `json:"step_size"`
	TickSize    string  `json:"tick_size"`
	MinQty      float64 `json:"min_qty"`
	MinNotional float64 `json:"min_notional"`
}

// Balance is a single asset balance on the venue.
type Balance struct {
	Asset  string  `json:"asset"`
	Free   float64 `json:"free"`
	Locked float64 `json:"locked"`
}
