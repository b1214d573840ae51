package handler

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strings"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

// EngineControl is the trading engine's operator surface.
type EngineControl interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	EmergencyStop(ctx context.Context, reason string) error
	ToggleLiveMode(ctx context.Context, live bool) error
	AddCapital(ctx context.Context, amount float64) (domain.Account, error)
	Status() domain.Status
}

// EngineHandler serves engine status and lifecycle endpoints.
type EngineHandler struct {
	engine EngineControl
	logger *slog.Logger
}

// NewEngineHandler creates an EngineHandler.
func NewEngineHandler(engine EngineControl, logger *slog.Logger) *EngineHandler {
	return &EngineHandler{engine: engine, logger: logger}
}

// GetStatus returns the engine snapshot.
// GET /api/status
func (h *EngineHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Status())
}

// Start starts trading. Calling it while running is a no-op.
// POST /api/engine/start
func (h *EngineHandler) Start(w http.ResponseWriter, r *http.Request) {
	// Lifecycle changes run to completion even if the caller goes away.
	ctx := context.WithoutCancel(r.Context())
	if err := h.engine.Start(ctx); err != nil {
		h.fail(w, r, "start", err)
		return
	}
	writeJSON(w, http.StatusOK, h.engine.Status())
}

// Stop closes every position with reason shutdown and stops the loops.
// POST /api/engine/stop
func (h *EngineHandler) Stop(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())
	if err := h.engine.Stop(ctx); err != nil {
		h.fail(w, r, "stop", err)
		return
	}
	writeJSON(w, http.StatusOK, h.engine.Status())
}

type emergencyStopRequest struct {
	Reason string `json:"reason"`
}

// EmergencyStop halts trading and flattens the book.
// POST /api/engine/emergency-stop {"reason": "..."}
func (h *EngineHandler) EmergencyStop(w http.ResponseWriter, r *http.Request) {
	var req emergencyStopRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "operator"
	}

	ctx := context.WithoutCancel(r.Context())
	if err := h.engine.EmergencyStop(ctx, reason); err != nil {
		h.fail(w, r, "emergency stop", err)
		return
	}
	writeJSON(w, http.StatusOK, h.engine.Status())
}

type liveModeRequest struct {
	Live *bool `json:"live"`
}

// SetLiveMode switches between testnet and live venues while stopped.
// POST /api/engine/live-mode {"live": true}
func (h *EngineHandler) SetLiveMode(w http.ResponseWriter, r *http.Request) {
	var req liveModeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Live == nil {
		writeError(w, http.StatusBadRequest, "live is required")
		return
	}
	if err := h.engine.ToggleLiveMode(r.Context(), *req.Live); err != nil {
		h.fail(w, r, "toggle live mode", err)
		return
	}
	writeJSON(w, http.StatusOK, h.engine.Status())
}

type capitalRequest struct {
	Amount float64 `json:"amount"`
}

// AddCapital deposits (positive) or withdraws (negative) capital.
// POST /api/engine/capital {"amount": 500}
func (h *EngineHandler) AddCapital(w http.ResponseWriter, r *http.Request) {
	var req capitalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Amount == 0 || math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0) {
		writeError(w, http.StatusBadRequest, "amount must be a non-zero number")
		return
	}
	acct, err := h.engine.AddCapital(r.Context(), req.Amount)
	if err != nil {
		h.fail(w, r, "add capital", err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (h *EngineHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "handler: engine "+op+" failed",
			slog.String("error", err.Error()),
		)
	}
	writeError(w, code, err.Error())
}
