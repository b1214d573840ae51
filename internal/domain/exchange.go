package domain

import (
	"context"
	"time"
)

// SignalSource supplies per-symbol predictions. Symbols without an opinion are
// simply absent from the result.
type SignalSource interface {
	Predict(ctx context.Context, symbols []string) (map[string]Prediction, error)
}

// MarketFeed supplies current prices and candle history.
type MarketFeed interface {
	PriceOf(ctx context.Context, symbol string) (Ticker, error)
	Candles(ctx context.Context, symbol string, interval string, limit int) ([]Candle, error)
}

// ExchangeClient is a trading venue. Implementations own their rate limiting
// and report boundary failures wrapped with ErrTransientIO. A client order id
// the venue has already seen is refused with ErrDuplicateOrder.
type ExchangeClient interface {
	Name() string
	Ping(ctx context.Context) error
	PlaceOrder(ctx context.Context, req OrderRequest) (Fill, error)
	// LookupOrder reports the venue's record of the order submitted with
	// clientOrderID, or ErrNotFound if the venue never received it.
	LookupOrder(ctx context.Context, symbol, clientOrderID string) (Fill, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	OpenOrders(ctx context.Context) ([]OpenOrder, error)
	Rules(ctx context.Context, symbol string) (SymbolRules, error)
	Balances(ctx context.Context) ([]Balance, error)
}

// Clock lets tests control time.
type Clock func() time.Time
