package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/hedgebot/internal/domain"
	"github.com/alanyoungcy/hedgebot/internal/retry"
)

// PositionService journals position lifecycle changes: it writes the trade
// record, appends to the trading log, and publishes the event. The ledger is
// the source of truth; journal failures are logged and never undo a fill.
type PositionService struct {
	trades domain.TradeStore
	logs   domain.LogStore
	bus    domain.Publisher
	policy retry.Policy
	logger *slog.Logger
}

// NewPositionService creates a PositionService with all required dependencies.
func NewPositionService(
	trades domain.TradeStore,
	logs domain.LogStore,
	bus domain.Publisher,
	policy retry.Policy,
	logger *slog.Logger,
) *PositionService {
	return &PositionService{
		trades: trades,
		logs:   logs,
		bus:    bus,
		policy: policy,
		logger: logger.With(slog.String("component", "position_service")),
	}
}

// RecordOpened persists and announces a freshly opened position.
func (s *PositionService) RecordOpened(ctx context.Context, pos domain.Position) error {
	err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
		return s.trades.SaveTrade(ctx, pos)
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "save opened trade failed",
			slog.String("position_id", pos.ID),
			slog.String("symbol", pos.Symbol),
			slog.String("error", err.Error()),
		)
		err = fmt.Errorf("position_service: save trade %s: %w", pos.ID, err)
	}

	s.appendLog(ctx, "info", domain.EventTradeOpened, pos.Symbol, map[string]any{
		"position_id": pos.ID,
		"side":        string(pos.Side),
		"quantity":    pos.Quantity,
		"entry_price": pos.EntryPrice,
		"stop_loss":   pos.StopLoss,
		"take_profit": pos.TakeProfit,
		"confidence":  pos.Signal.Confidence,
		"rationale":   pos.Rationale,
	})
	s.publish(ctx, domain.EventTradeOpened, pos)

	s.logger.InfoContext(ctx, "position opened",
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.String("side", string(pos.Side)),
		slog.Float64("quantity", pos.Quantity),
		slog.Float64("entry_price", pos.EntryPrice),
	)
	return err
}

// RecordClosed persists and announces a closed position.
func (s *PositionService) RecordClosed(ctx context.Context, pos domain.Position) error {
	err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
		return s.trades.UpdateTrade(ctx, pos)
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "update closed trade failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
		err = fmt.Errorf("position_service: update trade %s: %w", pos.ID, err)
	}

	exit := 0.0
	if pos.ExitPrice != nil {
		exit = *pos.ExitPrice
	}
	level := "info"
	if pos.CloseReason == domain.CloseRiskManagement {
		level = "warn"
	}
	s.appendLog(ctx, level, domain.EventTradeClosed, pos.Symbol, map[string]any{
		"position_id":  pos.ID,
		"side":         string(pos.Side),
		"quantity":     pos.Quantity,
		"entry_price":  pos.EntryPrice,
		"exit_price":   exit,
		"realized_pnl": pos.RealizedPnL,
		"reason":       string(pos.CloseReason),
	})
	s.publish(ctx, domain.EventTradeClosed, pos)

	s.logger.InfoContext(ctx, "position closed",
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.String("reason", string(pos.CloseReason)),
		slog.Float64("exit_price", exit),
		slog.Float64("realized_pnl", pos.RealizedPnL),
	)
	return err
}

// RecordReduced persists a position that a partial exit left open.
func (s *PositionService) RecordReduced(ctx context.Context, pos domain.Position) error {
	err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
		return s.trades.UpdateTrade(ctx, pos)
	})
	if err != nil {
		return fmt.Errorf("position_service: update reduced trade %s: %w", pos.ID, err)
	}
	return nil
}

// RecordMarks writes the latest marks of open positions. Failures are logged.
func (s *PositionService) RecordMarks(ctx context.Context, open []domain.Position) {
	for _, pos := range open {
		if err := s.trades.UpdateTrade(ctx, pos); err != nil {
			s.logger.WarnContext(ctx, "update mark failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// LoadOpen returns the positions the store still considers open.
func (s *PositionService) LoadOpen(ctx context.Context) ([]domain.Position, error) {
	open, err := retry.Value(ctx, s.policy, s.trades.ListOpen)
	if err != nil {
		return nil, fmt.Errorf("position_service: list open: %w", err)
	}
	return open, nil
}

// Log appends an arbitrary engine event to the trading log.
func (s *PositionService) Log(ctx context.Context, level, event, symbol string, detail map[string]any) {
	s.appendLog(ctx, level, event, symbol, detail)
}

func (s *PositionService) appendLog(ctx context.Context, level, event, symbol string, detail map[string]any) {
	if s.logs == nil {
		return
	}
	if err := s.logs.AppendLog(ctx, domain.LogEntry{
		Level:     level,
		Event:     event,
		Symbol:    symbol,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		s.logger.WarnContext(ctx, "append log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func (s *PositionService) publish(ctx context.Context, eventType string, payload any) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, eventType, payload); err != nil {
		s.logger.WarnContext(ctx, "publish failed", slog.String("event", eventType), slog.String("error", err.Error()))
	}
}
