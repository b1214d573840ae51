// Package paper is a simulated venue that fills market orders at the feed's
// current price plus slippage.
package paper

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

// Config tunes the simulation.
type Config struct {
	QuoteAsset   string
	StartingCash float64
	SlippageBps  float64
	FeeBps       float64
	StepSize     string
	MinNotional  float64
}

// Client is a domain.ExchangeClient that never leaves the process.
type Client struct {
	feed  domain.MarketFeed
	cfg   Config
	clock domain.Clock

	mu       sync.Mutex
	seq      int64
	balances map[string]float64
	rules    map[string]domain.SymbolRules
	orders   map[string]domain.Fill // client order id -> fill
}

var _ domain.ExchangeClient = (*Client)(nil)

// NewClient returns a paper venue pricing fills from feed.
func NewClient(feed domain.MarketFeed, cfg Config) *Client {
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	if cfg.StepSize == "" {
		cfg.StepSize = "0.00001"
	}
	return &Client{
		feed:     feed,
		cfg:      cfg,
		clock:    time.Now,
		balances: map[string]float64{cfg.QuoteAsset: cfg.StartingCash},
		rules:    make(map[string]domain.SymbolRules),
		orders:   make(map[string]domain.Fill),
	}
}

// WithClock overrides the fill timestamp source.
func (c *Client) WithClock(clock domain.Clock) *Client {
	c.clock = clock
	return c
}

// SetRules overrides the precision rules reported for a symbol.
func (c *Client) SetRules(r domain.SymbolRules) {
	c.mu.Lock()
	c.rules[r.Symbol] = r
	c.mu.Unlock()
}

func (c *Client) Name() string { return "paper" }

func (c *Client) Ping(context.Context) error { return nil }

// PlaceOrder fills the full quantity immediately. Buys pay the slippage, sells
// give it up. A reused client order id is refused like the real venue does.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.Fill, error) {
	if req.ClientOrderID != "" {
		c.mu.Lock()
		_, seen := c.orders[req.ClientOrderID]
		c.mu.Unlock()
		if seen {
			return domain.Fill{}, fmt.Errorf("paper: client order id %s: %w", req.ClientOrderID, domain.ErrDuplicateOrder)
		}
	}
	qty, err := strconv.ParseFloat(req.Quantity, 64)
	if err != nil || qty <= 0 {
		return domain.Fill{}, fmt.Errorf("paper: quantity %q: %w", req.Quantity, domain.ErrValidation)
	}
	t, err := c.feed.PriceOf(ctx, req.Symbol)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("paper: price %s: %w", req.Symbol, err)
	}
	if t.Price <= 0 {
		return domain.Fill{}, fmt.Errorf("paper: price %s: %w", req.Symbol, domain.ErrInsufficientData)
	}

	slip := c.cfg.SlippageBps / 10_000
	price := t.Price * (1 + slip)
	if req.Side == domain.OrderSideSell {
		price = t.Price * (1 - slip)
	}
	notional := price * qty
	fee := notional * c.cfg.FeeBps / 10_000

	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	base := baseAsset(req.Symbol, c.cfg.QuoteAsset)
	if req.Side == domain.OrderSideBuy {
		c.balances[base] += qty
		c.balances[c.cfg.QuoteAsset] -= notional + fee
	} else {
		c.balances[base] -= qty
		c.balances[c.cfg.QuoteAsset] += notional - fee
	}

	fill := domain.Fill{
		OrderID:   strconv.FormatInt(c.seq, 10),
		Symbol:    req.Symbol,
		Side:      req.Side,
		Status:    domain.OrderStatusFilled,
		FillPrice: price,
		FilledQty: qty,
		Fee:       fee,
		FilledAt:  c.clock().UTC(),
	}
	if req.ClientOrderID != "" {
		c.orders[req.ClientOrderID] = fill
	}
	return fill, nil
}

// LookupOrder returns the fill recorded for clientOrderID.
func (c *Client) LookupOrder(_ context.Context, _, clientOrderID string) (domain.Fill, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.orders[clientOrderID]
	if !ok {
		return domain.Fill{}, fmt.Errorf("paper: order %s: %w", clientOrderID, domain.ErrNotFound)
	}
	return f, nil
}

// CancelOrder always reports the order unknown: market orders never rest.
func (c *Client) CancelOrder(_ context.Context, _, orderID string) error {
	return fmt.Errorf("paper: order %s: %w", orderID, domain.ErrNotFound)
}

func (c *Client) OpenOrders(context.Context) ([]domain.OpenOrder, error) { return nil, nil }

func (c *Client) Rules(_ context.Context, symbol string) (domain.SymbolRules, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.rules[symbol]; ok {
		return r, nil
	}
	return domain.SymbolRules{
		Symbol:      symbol,
		StepSize:    c.cfg.StepSize,
		TickSize:    "0.01",
		MinNotional: c.cfg.MinNotional,
	}, nil
}

func (c *Client) Balances(context.Context) ([]domain.Balance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Balance, 0, len(c.balances))
	for asset, free := range c.balances {
		if free == 0 {
			continue
		}
		out = append(out, domain.Balance{Asset: asset, Free: free})
	}
	return out, nil
}

func baseAsset(symbol, quote string) string {
	if b, ok := strings.CutSuffix(symbol, quote); ok && b != "" {
		return b
	}
	return symbol
}
