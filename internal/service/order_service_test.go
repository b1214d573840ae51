package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/hedgebot/internal/domain"
	"github.com/alanyoungcy/hedgebot/internal/retry"
)

type scriptedExchange struct {
	mu        sync.Mutex
	rules     domain.SymbolRules
	results   []error
	fill      domain.Fill
	placed    []domain.OrderRequest
	cancelled []string
	open      []domain.OpenOrder
	rulesHits int
	// venue-side record by client order id, consulted by LookupOrder
	known     map[string]domain.Fill
	lookupErr error
	lookups   int
}

func (x *scriptedExchange) Name() string               { return "scripted" }
func (x *scriptedExchange) Ping(context.Context) error { return nil }
func (x *scriptedExchange) Balances(context.Context) ([]domain.Balance, error) {
	return nil, nil
}

func (x *scriptedExchange) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.Fill, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.placed = append(x.placed, req)
	if len(x.results) > 0 {
		err := x.results[0]
		x.results = x.results[1:]
		if err != nil {
			return domain.Fill{}, err
		}
	}
	return x.fill, nil
}

func (x *scriptedExchange) LookupOrder(_ context.Context, _, clientOrderID string) (domain.Fill, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.lookups++
	if x.lookupErr != nil {
		return domain.Fill{}, x.lookupErr
	}
	f, ok := x.known[clientOrderID]
	if !ok {
		return domain.Fill{}, domain.ErrNotFound
	}
	return f, nil
}

func (x *scriptedExchange) CancelOrder(_ context.Context, _, orderID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.cancelled = append(x.cancelled, orderID)
	return nil
}

func (x *scriptedExchange) OpenOrders(context.Context) ([]domain.OpenOrder, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.open, nil
}

func (x *scriptedExchange) Rules(_ context.Context, symbol string) (domain.SymbolRules, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.rulesHits++
	r := x.rules
	r.Symbol = symbol
	return r, nil
}

type mapRules struct {
	mu sync.Mutex
	m  map[string]domain.SymbolRules
}

func (c *mapRules) SetRules(_ context.Context, venue string, r domain.SymbolRules) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m == nil {
		c.m = make(map[string]domain.SymbolRules)
	}
	c.m[venue+":"+r.Symbol] = r
	return nil
}

func (c *mapRules) GetRules(_ context.Context, venue, symbol string) (domain.SymbolRules, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.m[venue+":"+symbol]
	if !ok {
		return domain.SymbolRules{}, domain.ErrNotFound
	}
	return r, nil
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, nil
}

func fastPolicy() retry.Policy {
	return retry.Policy{Attempts: 3, Backoff: retry.Backoff{Min: time.Millisecond, Max: 2 * time.Millisecond}}
}

func btcRules() domain.SymbolRules {
	return domain.SymbolRules{StepSize: "0.00100", TickSize: "0.01", MinQty: 0.001, MinNotional: 10}
}

func filled(price, qty float64) domain.Fill {
	return domain.Fill{
		OrderID:   "42",
		Symbol:    "BTCUSDT",
		Side:      domain.OrderSideBuy,
		Status:    domain.OrderStatusFilled,
		FillPrice: price,
		FilledQty: qty,
	}
}

func newOrderService(x *scriptedExchange) *OrderService {
	return NewOrderService(x, &mapRules{}, nil, nil, fastPolicy(), 0, testLogger())
}

func TestTruncateQuantity(t *testing.T) {
	assert.Equal(t, "0.123", TruncateQuantity(0.12399, "0.001").String())
	assert.Equal(t, "1", TruncateQuantity(1.99, "1").String())
	assert.Equal(t, "0", TruncateQuantity(0.0009, "0.001").String())
	assert.Equal(t, "0.12345678", TruncateQuantity(0.123456789, "").String())
	assert.Equal(t, "0.12345678", TruncateQuantity(0.123456789, "bogus").String())
}

func TestPrepare(t *testing.T) {
	x := &scriptedExchange{rules: btcRules()}
	s := newOrderService(x)
	ctx := context.Background()

	req, err := s.Prepare(ctx, "BTCUSDT", domain.OrderSideBuy, 0.0123456, 43_000)
	require.NoError(t, err)
	assert.Equal(t, "0.012", req.Quantity)
	assert.Equal(t, domain.OrderSideBuy, req.Side)
	assert.True(t, strings.HasPrefix(req.ClientOrderID, "hb"))
	assert.LessOrEqual(t, len(req.ClientOrderID), 36)

	// Rules are cached per venue after the first lookup.
	_, err = s.Prepare(ctx, "BTCUSDT", domain.OrderSideSell, 0.5, 43_000)
	require.NoError(t, err)
	assert.Equal(t, 1, x.rulesHits)
}

func TestPrepareRejections(t *testing.T) {
	x := &scriptedExchange{rules: btcRules()}
	s := newOrderService(x)
	ctx := context.Background()

	_, err := s.Prepare(ctx, "BTCUSDT", domain.OrderSideBuy, 0.0004, 43_000)
	assert.ErrorIs(t, err, domain.ErrZeroQuantity)

	// 0.001 * 5000 = 5 < 10
	_, err = s.Prepare(ctx, "BTCUSDT", domain.OrderSideBuy, 0.001, 5_000)
	assert.ErrorIs(t, err, domain.ErrBelowMinNotional)
	assert.ErrorIs(t, err, domain.ErrValidation)

	x.rules.MinQty = 0.01
	_, err = s.Prepare(ctx, "ETHUSDT", domain.OrderSideBuy, 0.005, 43_000)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Empty(t, x.placed, "rejected intents never reach the venue")
}

func TestPrepareExitSkipsMinNotional(t *testing.T) {
	x := &scriptedExchange{rules: btcRules()}
	s := newOrderService(x)

	pos := domain.Position{Symbol: "BTCUSDT", Side: domain.SideShort, Quantity: 0.0019}
	req, err := s.PrepareExit(context.Background(), pos)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderSideBuy, req.Side)
	assert.Equal(t, "0.001", req.Quantity)
}

func TestExecuteRetriesTransientWithSameClientID(t *testing.T) {
	x := &scriptedExchange{
		rules:   btcRules(),
		results: []error{domain.Transient(errors.New("timeout")), domain.ErrRateLimited},
		fill:    filled(43_010, 0.012),
	}
	s := newOrderService(x)

	req := domain.OrderRequest{Symbol: "BTCUSDT", Side: domain.OrderSideBuy, Quantity: "0.012", ClientOrderID: "hbabc"}
	fill, err := s.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 43_010.0, fill.FillPrice)
	require.Len(t, x.placed, 3)
	for _, p := range x.placed {
		assert.Equal(t, "hbabc", p.ClientOrderID)
	}
}

func TestExecuteDoesNotRetryValidation(t *testing.T) {
	x := &scriptedExchange{
		results: []error{errors.Join(domain.ErrValidation, errors.New("insufficient balance"))},
	}
	s := newOrderService(x)

	_, err := s.Execute(context.Background(), domain.OrderRequest{Symbol: "BTCUSDT", Quantity: "1"})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Len(t, x.placed, 1)
}

func TestExecuteUnfilledIsNotAFill(t *testing.T) {
	x := &scriptedExchange{fill: domain.Fill{OrderID: "7", Status: domain.OrderStatusNew}}
	s := newOrderService(x)

	_, err := s.Execute(context.Background(), domain.OrderRequest{Symbol: "BTCUSDT", Quantity: "1"})
	assert.ErrorIs(t, err, domain.ErrNotFilled)
	assert.Equal(t, []string{"7"}, x.cancelled)
}

func TestExecuteRecoversFillAfterLostResponse(t *testing.T) {
	// The first submission fills but its response is lost; the retry with the
	// same client id is refused as a duplicate.
	x := &scriptedExchange{
		results: []error{
			domain.Transient(errors.New("connection reset")),
			errors.Join(domain.ErrDuplicateOrder, errors.New("Duplicate order sent.")),
		},
		known: map[string]domain.Fill{"hbabc": filled(43_005, 0.012)},
	}
	s := newOrderService(x)

	req := domain.OrderRequest{Symbol: "BTCUSDT", Side: domain.OrderSideBuy, Quantity: "0.012", ClientOrderID: "hbabc"}
	fill, err := s.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 43_005.0, fill.FillPrice)
	assert.Equal(t, 0.012, fill.FilledQty)
	assert.Len(t, x.placed, 2)
	assert.Equal(t, 1, x.lookups)
}

func TestExecuteOutcomeUnknown(t *testing.T) {
	tests := []struct {
		name      string
		results   []error
		lookupErr error
	}{
		{
			name:    "duplicate but venue has no record",
			results: []error{domain.Transient(errors.New("connection reset")), domain.ErrDuplicateOrder},
		},
		{
			name:      "lookup fails",
			results:   []error{domain.Transient(errors.New("eof")), domain.Transient(errors.New("eof")), domain.Transient(errors.New("eof"))},
			lookupErr: domain.Transient(errors.New("connection refused")),
		},
		{
			name:      "deadline",
			results:   []error{context.DeadlineExceeded},
			lookupErr: domain.Transient(errors.New("connection refused")),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := &scriptedExchange{results: tt.results, lookupErr: tt.lookupErr}
			s := newOrderService(x)

			_, err := s.Execute(context.Background(), domain.OrderRequest{Symbol: "BTCUSDT", Quantity: "1", ClientOrderID: "hbabc"})
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrOrderUnknown)
			assert.ErrorIs(t, err, domain.ErrConsistency)
			assert.NotErrorIs(t, err, domain.ErrValidation)
			assert.Positive(t, x.lookups)
		})
	}
}

func TestExecuteTransientNeverReachedVenue(t *testing.T) {
	boom := domain.Transient(errors.New("connection reset"))
	x := &scriptedExchange{results: []error{boom, boom, boom}}
	s := newOrderService(x)

	_, err := s.Execute(context.Background(), domain.OrderRequest{Symbol: "BTCUSDT", Quantity: "1", ClientOrderID: "hbabc"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransientIO)
	assert.NotErrorIs(t, err, domain.ErrOrderUnknown)
	assert.Equal(t, 1, x.lookups)
}

func TestExecuteRateLimitedSkipsLookup(t *testing.T) {
	x := &scriptedExchange{results: []error{domain.ErrRateLimited, domain.ErrRateLimited, domain.ErrRateLimited}}
	s := newOrderService(x)

	_, err := s.Execute(context.Background(), domain.OrderRequest{Symbol: "BTCUSDT", Quantity: "1", ClientOrderID: "hbabc"})
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Zero(t, x.lookups)
}

func TestExecutePartialFills(t *testing.T) {
	tests := []struct {
		name      string
		status    domain.OrderStatus
		cancelled []string
	}{
		{name: "expired with partial execution", status: domain.OrderStatusExpired},
		{name: "partially filled remainder cancelled", status: domain.OrderStatusPartiallyFilled, cancelled: []string{"42"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := filled(43_000, 0.004)
			f.Status = tt.status
			x := &scriptedExchange{fill: f}
			s := newOrderService(x)

			fill, err := s.Execute(context.Background(), domain.OrderRequest{Symbol: "BTCUSDT", Quantity: "0.010"})
			require.NoError(t, err)
			assert.Equal(t, 0.004, fill.FilledQty)
			assert.Equal(t, tt.cancelled, x.cancelled)
		})
	}
}

func TestExecuteRateLimited(t *testing.T) {
	x := &scriptedExchange{fill: filled(1, 1)}
	s := NewOrderService(x, nil, denyLimiter{}, nil, fastPolicy(), 10, testLogger())

	_, err := s.Execute(context.Background(), domain.OrderRequest{Symbol: "BTCUSDT", Quantity: "1"})
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Empty(t, x.placed)
}

func TestCancelAll(t *testing.T) {
	x := &scriptedExchange{open: []domain.OpenOrder{
		{OrderID: "1", Symbol: "BTCUSDT"},
		{OrderID: "2", Symbol: "ETHUSDT"},
	}}
	s := newOrderService(x)

	n, err := s.CancelAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{"1", "2"}, x.cancelled)
}

func TestSetExchange(t *testing.T) {
	a := &scriptedExchange{}
	b := &scriptedExchange{}
	s := newOrderService(a)
	s.SetExchange(b)
	assert.Same(t, b, s.Exchange())
}
