package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

// PriceSource returns the latest known prices.
type PriceSource interface {
	Latest(ctx context.Context, symbols []string) (map[string]float64, error)
}

// PriceHandler serves live prices for the configured symbols.
type PriceHandler struct {
	prices  PriceSource
	symbols []string
	logger  *slog.Logger
}

// NewPriceHandler creates a PriceHandler over symbols.
func NewPriceHandler(prices PriceSource, symbols []string, logger *slog.Logger) *PriceHandler {
	return &PriceHandler{prices: prices, symbols: symbols, logger: logger}
}

// LivePrices returns the latest price per symbol. A partial result is still
// served when some symbols could not be priced.
// GET /api/prices?symbols=BTCUSDT,ETHUSDT
func (h *PriceHandler) LivePrices(w http.ResponseWriter, r *http.Request) {
	symbols := h.symbols
	if v := r.URL.Query().Get("symbols"); v != "" {
		symbols = nil
		for _, s := range strings.Split(v, ",") {
			if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
				symbols = append(symbols, s)
			}
		}
	}

	prices, err := h.prices.Latest(r.Context(), symbols)
	if err != nil && len(prices) == 0 {
		h.logger.WarnContext(r.Context(), "handler: live prices failed",
			slog.String("error", err.Error()),
		)
		writeError(w, statusFor(err), "prices unavailable")
		return
	}
	if prices == nil {
		prices = map[string]float64{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"prices": prices})
}
