package binance

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

func TestFillFromResponseVolumeWeighted(t *testing.T) {
	resp := &binance.CreateOrderResponse{
		Symbol:           "BTCUSDT",
		OrderID:          42,
		TransactTime:     1700000000000,
		ExecutedQuantity: "0.3",
		Status:           binance.OrderStatusTypeFilled,
		Fills: []*binance.Fill{
			{Price: "100", Quantity: "0.1", Commission: "0.01"},
			{Price: "103", Quantity: "0.2", Commission: "0.02"},
		},
	}
	f := fillFromResponse(resp, domain.OrderSideBuy)

	assert.Equal(t, "42", f.OrderID)
	assert.Equal(t, domain.OrderStatusFilled, f.Status)
	assert.InDelta(t, 0.3, f.FilledQty, 1e-12)
	assert.InDelta(t, 102.0, f.FillPrice, 1e-9)
	assert.InDelta(t, 0.03, f.Fee, 1e-12)
	assert.True(t, f.Filled())
}

func TestFillFromResponseQuoteFallback(t *testing.T) {
	resp := &binance.CreateOrderResponse{
		Symbol:                   "ETHUSDT",
		OrderID:                  7,
		ExecutedQuantity:         "2",
		CummulativeQuoteQuantity: "5000",
		Status:                   binance.OrderStatusTypeFilled,
	}
	f := fillFromResponse(resp, domain.OrderSideSell)
	assert.InDelta(t, 2500.0, f.FillPrice, 1e-9)
	assert.Equal(t, domain.OrderSideSell, f.Side)
}

func TestFillFromResponseUnfilled(t *testing.T) {
	resp := &binance.CreateOrderResponse{
		OrderID:          9,
		ExecutedQuantity: "0",
		Status:           binance.OrderStatusTypeExpired,
	}
	f := fillFromResponse(resp, domain.OrderSideBuy)
	assert.False(t, f.Filled())
}

func TestFillFromResponseExpiredPartial(t *testing.T) {
	resp := &binance.CreateOrderResponse{
		Symbol:                   "BTCUSDT",
		OrderID:                  11,
		ExecutedQuantity:         "0.4",
		CummulativeQuoteQuantity: "40",
		Status:                   binance.OrderStatusTypeExpired,
	}
	f := fillFromResponse(resp, domain.OrderSideBuy)
	assert.True(t, f.Filled(), "an expired order that executed part of its quantity is a fill")
	assert.InDelta(t, 100.0, f.FillPrice, 1e-9)
	assert.False(t, f.Resting())
}

func TestFillFromOrder(t *testing.T) {
	o := &binance.Order{
		Symbol:                   "BTCUSDT",
		OrderID:                  77,
		ExecutedQuantity:         "0.5",
		CummulativeQuoteQuantity: "21500",
		Status:                   binance.OrderStatusTypeFilled,
		Side:                     binance.SideTypeSell,
		UpdateTime:               1700000000000,
	}
	f := fillFromOrder(o)
	assert.Equal(t, "77", f.OrderID)
	assert.Equal(t, domain.OrderSideSell, f.Side)
	assert.InDelta(t, 43_000.0, f.FillPrice, 1e-9)
	assert.True(t, f.Filled())

	unfilled := fillFromOrder(&binance.Order{OrderID: 78, ExecutedQuantity: "0", Status: binance.OrderStatusTypeNew})
	assert.False(t, unfilled.Filled())
	assert.True(t, unfilled.Resting())
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		want      error
		transient bool
	}{
		{"rate limit", &common.APIError{Code: -1003, Message: "too many requests"}, domain.ErrRateLimited, true},
		{"bad key", &common.APIError{Code: -2015, Message: "invalid api key"}, domain.ErrUnauthorized, false},
		{"unknown order", &common.APIError{Code: -2013, Message: "order does not exist"}, domain.ErrNotFound, false},
		{"duplicate order", &common.APIError{Code: -2010, Message: "Duplicate order sent."}, domain.ErrDuplicateOrder, false},
		{"insufficient balance", &common.APIError{Code: -2010, Message: "Account has insufficient balance for requested action."}, domain.ErrValidation, false},
		{"filter failure", &common.APIError{Code: -1013, Message: "filter failure: LOT_SIZE"}, domain.ErrValidation, false},
		{"server busy", &common.APIError{Code: -1001, Message: "disconnected"}, domain.ErrTransientIO, true},
		{"network", errors.New("dial tcp: connection refused"), domain.ErrTransientIO, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classify("op", tc.err)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, tc.transient, domain.IsTransient(err))
		})
	}

	err := classify("op", fmt.Errorf("wrapped: %w", context.Canceled))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, domain.IsTransient(err))
}

func TestNewClientDefaults(t *testing.T) {
	c := NewClient(Config{BaseURL: TestnetBaseURL + "/"})
	assert.Equal(t, "binance", c.Name())
	assert.Equal(t, TestnetBaseURL, c.api.BaseURL)
}
