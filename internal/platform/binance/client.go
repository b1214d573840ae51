// Package binance implements domain.ExchangeClient and domain.MarketFeed over
// the Binance spot REST API.
package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

const (
	// LiveBaseURL is the production spot REST endpoint.
	LiveBaseURL = "https://api.binance.com"
	// TestnetBaseURL is the spot testnet REST endpoint.
	TestnetBaseURL = "https://testnet.binance.vision"
)

// Config holds the credentials and endpoint for one venue.
type Config struct {
	Name      string
	APIKey    string
	SecretKey string
	BaseURL   string
	Timeout   time.Duration

	// RequestsPerSecond and Burst bound the REST call rate.
	RequestsPerSecond float64
	Burst             int
}

// Client talks to Binance spot. Every call waits on the local rate limiter and
// reports network and server-side failures wrapped with domain.ErrTransientIO.
type Client struct {
	name    string
	api     *binance.Client
	limiter *rate.Limiter
}

var (
	_ domain.ExchangeClient = (*Client)(nil)
	_ domain.MarketFeed     = (*Client)(nil)
)

// NewClient builds a Client for cfg.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 20
	}
	if cfg.Name == "" {
		cfg.Name = "binance"
	}

	api := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.BaseURL != "" {
		api.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	api.HTTPClient = &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		name:    cfg.Name,
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}
}

// Name identifies the venue, e.g. "binance" or "binance-testnet".
func (c *Client) Name() string { return c.name }

func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("binance: rate limiter: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	if err := c.api.NewPingService().Do(ctx); err != nil {
		return classify("ping", err)
	}
	return nil
}

// PlaceOrder submits a market order and reports the volume-weighted fill.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.Fill, error) {
	if err := c.wait(ctx); err != nil {
		return domain.Fill{}, err
	}
	side := binance.SideTypeBuy
	if req.Side == domain.OrderSideSell {
		side = binance.SideTypeSell
	}
	svc := c.api.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(side).
		Type(binance.OrderTypeMarket).
		Quantity(req.Quantity).
		NewOrderRespType(binance.NewOrderRespTypeFULL)
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return domain.Fill{}, classify("create order "+req.Symbol, err)
	}
	return fillFromResponse(resp, req.Side), nil
}

func fillFromResponse(resp *binance.CreateOrderResponse, side domain.OrderSide) domain.Fill {
	f := domain.Fill{
		OrderID:   strconv.FormatInt(resp.OrderID, 10),
		Symbol:    resp.Symbol,
		Side:      side,
		Status:    domain.OrderStatus(resp.Status),
		FilledQty: parseFloat(resp.ExecutedQuantity),
		FilledAt:  time.UnixMilli(resp.TransactTime).UTC(),
	}

	var qty, notional float64
	for _, fl := range resp.Fills {
		q := parseFloat(fl.Quantity)
		qty += q
		notional += q * parseFloat(fl.Price)
		f.Fee += parseFloat(fl.Commission)
	}
	switch {
	case qty > 0:
		f.FillPrice = notional / qty
	case f.FilledQty > 0:
		f.FillPrice = parseFloat(resp.CummulativeQuoteQuantity) / f.FilledQty
	}
	return f
}

// LookupOrder reads the order submitted under clientOrderID. Binance answers
// -2013 for an id it never accepted, reported as domain.ErrNotFound.
func (c *Client) LookupOrder(ctx context.Context, symbol, clientOrderID string) (domain.Fill, error) {
	if err := c.wait(ctx); err != nil {
		return domain.Fill{}, err
	}
	o, err := c.api.NewGetOrderService().Symbol(symbol).OrigClientOrderID(clientOrderID).Do(ctx)
	if err != nil {
		return domain.Fill{}, classify("get order "+clientOrderID, err)
	}
	return fillFromOrder(o), nil
}

// fillFromOrder prices the executed part of an order from its cumulative
// quote amount. The order query carries no commission.
func fillFromOrder(o *binance.Order) domain.Fill {
	side := domain.OrderSideBuy
	if o.Side == binance.SideTypeSell {
		side = domain.OrderSideSell
	}
	f := domain.Fill{
		OrderID:   strconv.FormatInt(o.OrderID, 10),
		Symbol:    o.Symbol,
		Side:      side,
		Status:    domain.OrderStatus(o.Status),
		FilledQty: parseFloat(o.ExecutedQuantity),
		FilledAt:  time.UnixMilli(o.UpdateTime).UTC(),
	}
	if f.FilledQty > 0 {
		f.FillPrice = parseFloat(o.CummulativeQuoteQuantity) / f.FilledQty
	}
	return f
}

// CancelOrder cancels a resting order.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("binance: order id %q: %w", orderID, domain.ErrValidation)
	}
	if err := c.wait(ctx); err != nil {
		return err
	}
	if _, err := c.api.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx); err != nil {
		return classify("cancel order "+orderID, err)
	}
	return nil
}

// OpenOrders lists resting orders across all symbols.
func (c *Client) OpenOrders(ctx context.Context) ([]domain.OpenOrder, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	orders, err := c.api.NewListOpenOrdersService().Do(ctx)
	if err != nil {
		return nil, classify("list open orders", err)
	}
	out := make([]domain.OpenOrder, 0, len(orders))
	for _, o := range orders {
		side := domain.OrderSideBuy
		if o.Side == binance.SideTypeSell {
			side = domain.OrderSideSell
		}
		out = append(out, domain.OpenOrder{
			OrderID:   strconv.FormatInt(o.OrderID, 10),
			Symbol:    o.Symbol,
			Side:      side,
			Price:     parseFloat(o.Price),
			Quantity:  parseFloat(o.OrigQuantity),
			Filled:    parseFloat(o.ExecutedQuantity),
			Status:    domain.OrderStatus(o.Status),
			CreatedAt: time.UnixMilli(o.Time).UTC(),
		})
	}
	return out, nil
}

// Rules reads the LOT_SIZE, PRICE_FILTER and MIN_NOTIONAL filters for symbol.
func (c *Client) Rules(ctx context.Context, symbol string) (domain.SymbolRules, error) {
	if err := c.wait(ctx); err != nil {
		return domain.SymbolRules{}, err
	}
	info, err := c.api.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	if err != nil {
		return domain.SymbolRules{}, classify("exchange info "+symbol, err)
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		rules := domain.SymbolRules{Symbol: symbol}
		if lot := s.LotSizeFilter(); lot != nil {
			rules.StepSize = lot.StepSize
			rules.MinQty = parseFloat(lot.MinQuantity)
		}
		if pf := s.PriceFilter(); pf != nil {
			rules.TickSize = pf.TickSize
		}
		if mn := s.MinNotionalFilter(); mn != nil {
			rules.MinNotional = parseFloat(mn.MinNotional)
		}
		return rules, nil
	}
	return domain.SymbolRules{}, fmt.Errorf("binance: symbol %s: %w", symbol, domain.ErrNotFound)
}

// Balances lists non-zero asset balances.
func (c *Client) Balances(ctx context.Context) ([]domain.Balance, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	acct, err := c.api.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, classify("account", err)
	}
	var out []domain.Balance
	for _, b := range acct.Balances {
		free, locked := parseFloat(b.Free), parseFloat(b.Locked)
		if free == 0 && locked == 0 {
			continue
		}
		out = append(out, domain.Balance{Asset: b.Asset, Free: free, Locked: locked})
	}
	return out, nil
}

// PriceOf returns the last traded price of symbol.
func (c *Client) PriceOf(ctx context.Context, symbol string) (domain.Ticker, error) {
	if err := c.wait(ctx); err != nil {
		return domain.Ticker{}, err
	}
	prices, err := c.api.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return domain.Ticker{}, classify("price "+symbol, err)
	}
	for _, p := range prices {
		if p.Symbol == symbol {
			return domain.Ticker{Symbol: symbol, Price: parseFloat(p.Price), At: time.Now().UTC()}, nil
		}
	}
	return domain.Ticker{}, fmt.Errorf("binance: price %s: %w", symbol, domain.ErrNotFound)
}

// Candles returns up to limit klines for symbol, oldest first.
func (c *Client) Candles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	klines, err := c.api.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, classify("klines "+symbol, err)
	}
	out := make([]domain.Candle, 0, len(klines))
	for _, k := range klines {
		out = append(out, domain.Candle{
			OpenTime:  time.UnixMilli(k.OpenTime).UTC(),
			Open:      parseFloat(k.Open),
			High:      parseFloat(k.High),
			Low:       parseFloat(k.Low),
			Close:     parseFloat(k.Close),
			Volume:    parseFloat(k.Volume),
			CloseTime: time.UnixMilli(k.CloseTime).UTC(),
		})
	}
	return out, nil
}

// classify maps a go-binance error onto the domain taxonomy. API errors the
// venue raised about the request itself are validation failures; rate limits,
// server errors and transport failures are transient.
func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("binance: %s: %w", op, err)
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case -1003, -1015:
			return fmt.Errorf("binance: %s: %s: %w", op, apiErr.Message, domain.ErrRateLimited)
		case -2014, -2015, -1022:
			return fmt.Errorf("binance: %s: %s: %w", op, apiErr.Message, domain.ErrUnauthorized)
		case -2011, -2013:
			return fmt.Errorf("binance: %s: %s: %w", op, apiErr.Message, domain.ErrNotFound)
		case -2010:
			// -2010 covers every rejected new order; only a reused client id
			// means an earlier attempt may have executed.
			if strings.Contains(strings.ToLower(apiErr.Message), "duplicate") {
				return fmt.Errorf("binance: %s: %s: %w", op, apiErr.Message, domain.ErrDuplicateOrder)
			}
			return fmt.Errorf("binance: %s: code %d %s: %w", op, apiErr.Code, apiErr.Message, domain.ErrValidation)
		case -1000, -1001, -1006, -1007, -1021:
			return domain.Transient(fmt.Errorf("binance: %s: %s", op, apiErr.Message))
		default:
			return fmt.Errorf("binance: %s: code %d %s: %w", op, apiErr.Code, apiErr.Message, domain.ErrValidation)
		}
	}
	return domain.Transient(fmt.Errorf("binance: %s: %w", op, err))
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
