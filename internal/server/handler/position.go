package handler

import (
	"net/http"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

// StatusSource provides the engine snapshot.
type StatusSource interface {
	Status() domain.Status
}

// PositionHandler serves the open book.
type PositionHandler struct {
	status StatusSource
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(status StatusSource) *PositionHandler {
	return &PositionHandler{status: status}
}

type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns every open position, optionally for one symbol.
// GET /api/positions?symbol=BTCUSDT
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	positions := make([]domain.Position, 0)
	for _, p := range h.status.Status().OpenPositions {
		if symbol == "" || p.Symbol == symbol {
			positions = append(positions, p)
		}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}
