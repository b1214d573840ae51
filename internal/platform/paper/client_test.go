package paper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

type fixedFeed map[string]float64

func (f fixedFeed) PriceOf(_ context.Context, symbol string) (domain.Ticker, error) {
	p, ok := f[symbol]
	if !ok {
		return domain.Ticker{}, domain.ErrNotFound
	}
	return domain.Ticker{Symbol: symbol, Price: p}, nil
}

func (f fixedFeed) Candles(context.Context, string, string, int) ([]domain.Candle, error) {
	return nil, nil
}

func TestPlaceOrderAppliesSlippageAndFees(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewClient(fixedFeed{"BTCUSDT": 100}, Config{StartingCash: 1000, SlippageBps: 10, FeeBps: 10}).
		WithClock(func() time.Time { return now })
	ctx := context.Background()

	buy, err := c.PlaceOrder(ctx, domain.OrderRequest{Symbol: "BTCUSDT", Side: domain.OrderSideBuy, Quantity: "2"})
	require.NoError(t, err)
	assert.True(t, buy.Filled())
	assert.InDelta(t, 100.1, buy.FillPrice, 1e-9)
	assert.InDelta(t, 2.0, buy.FilledQty, 1e-12)
	assert.Equal(t, now, buy.FilledAt)

	sell, err := c.PlaceOrder(ctx, domain.OrderRequest{Symbol: "BTCUSDT", Side: domain.OrderSideSell, Quantity: "2"})
	require.NoError(t, err)
	assert.InDelta(t, 99.9, sell.FillPrice, 1e-9)
	assert.NotEqual(t, buy.OrderID, sell.OrderID)

	bals, err := c.Balances(ctx)
	require.NoError(t, err)
	require.Len(t, bals, 1)
	assert.Equal(t, "USDT", bals[0].Asset)
	assert.InDelta(t, 1000-200.2*1.001+199.8*0.999, bals[0].Free, 1e-9)
}

func TestPlaceOrderRejectsBadInput(t *testing.T) {
	c := NewClient(fixedFeed{}, Config{})
	ctx := context.Background()

	_, err := c.PlaceOrder(ctx, domain.OrderRequest{Symbol: "BTCUSDT", Side: domain.OrderSideBuy, Quantity: "0"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = c.PlaceOrder(ctx, domain.OrderRequest{Symbol: "BTCUSDT", Side: domain.OrderSideBuy, Quantity: "1"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRulesOverride(t *testing.T) {
	c := NewClient(fixedFeed{}, Config{MinNotional: 10})
	ctx := context.Background()

	r, err := c.Rules(ctx, "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, "0.00001", r.StepSize)
	assert.Equal(t, 10.0, r.MinNotional)

	c.SetRules(domain.SymbolRules{Symbol: "ETHUSDT", StepSize: "0.001", MinNotional: 5})
	r, err = c.Rules(ctx, "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, "0.001", r.StepSize)
}

func TestLookupOrderAndDuplicateClientID(t *testing.T) {
	c := NewClient(fixedFeed{"BTCUSDT": 100}, Config{StartingCash: 1000})
	ctx := context.Background()
	req := domain.OrderRequest{Symbol: "BTCUSDT", Side: domain.OrderSideBuy, Quantity: "1", ClientOrderID: "hb1"}

	_, err := c.LookupOrder(ctx, "BTCUSDT", "hb1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	placed, err := c.PlaceOrder(ctx, req)
	require.NoError(t, err)

	_, err = c.PlaceOrder(ctx, req)
	assert.ErrorIs(t, err, domain.ErrDuplicateOrder)
	assert.ErrorIs(t, err, domain.ErrConsistency)

	found, err := c.LookupOrder(ctx, "BTCUSDT", "hb1")
	require.NoError(t, err)
	assert.Equal(t, placed, found)
}
