package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/hedgebot/internal/domain"
	"github.com/alanyoungcy/hedgebot/internal/service"
)

// TradeQueries defines the read side the trade handler requires.
type TradeQueries interface {
	Recent(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error)
	Get(ctx context.Context, id string) (domain.Position, error)
	Logs(ctx context.Context, opts domain.ListOpts) ([]domain.LogEntry, error)
	Performance(st domain.Status) service.Performance
	Portfolio(st domain.Status) service.Portfolio
}

// TradeHandler serves trade history, logs, performance and allocation.
type TradeHandler struct {
	trades TradeQueries
	status StatusSource
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(trades TradeQueries, status StatusSource, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, status: status, logger: logger}
}

type listTradesResponse struct {
	Trades []domain.Position `json:"trades"`
}

// ListTrades returns trades newest first.
// GET /api/trades?symbol=&since=&until=&limit=50&offset=0
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	trades, err := h.trades.Recent(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list trades failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	if trades == nil {
		trades = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listTradesResponse{Trades: trades})
}

// GetTrade returns one trade.
// GET /api/trades/{id}
func (h *TradeHandler) GetTrade(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	trade, err := h.trades.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "trade not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get trade failed",
			slog.String("trade_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get trade")
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

type listLogsResponse struct {
	Logs []domain.LogEntry `json:"logs"`
}

// ListLogs returns trading log entries newest first.
// GET /api/logs?symbol=&since=&until=&limit=100
func (h *TradeHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	logs, err := h.trades.Logs(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list logs failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list logs")
		return
	}
	if logs == nil {
		logs = []domain.LogEntry{}
	}
	writeJSON(w, http.StatusOK, listLogsResponse{Logs: logs})
}

// Performance returns P&L and trade statistics.
// GET /api/performance
func (h *TradeHandler) Performance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.trades.Performance(h.status.Status()))
}

// Portfolio returns the capital split between cash and open positions.
// GET /api/portfolio
func (h *TradeHandler) Portfolio(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.trades.Portfolio(h.status.Status()))
}
