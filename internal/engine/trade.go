package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/hedgebot/internal/domain"
	"github.com/alanyoungcy/hedgebot/internal/ledger"
)

// enter reserves the symbol, submits the entry order and opens the position
// at the fill price. The reservation is released on every path that does not
// end in an OPEN position, except an order whose outcome the venue could not
// confirm: that symbol is held and trading halts.
func (e *Engine) enter(ctx context.Context, intent domain.TradeIntent, atr float64) error {
	sym := intent.Symbol
	err := e.do(ctx, func(l *ledger.Ledger) error {
		if e.halt.Load() || !e.accepting.Load() {
			return errHalted
		}
		if err := e.risk.AllowEntry(l.Account(), l.OpenCount()); err != nil {
			return fmt.Errorf("%w: %w", errEntryBlocked, err)
		}
		return l.Reserve(sym, e.clock())
	})
	if err != nil {
		return err
	}
	// Post-reservation ledger commands must land even if the loop is cancelled.
	dctx := context.WithoutCancel(ctx)
	release := func() {
		if err := e.do(dctx, func(l *ledger.Ledger) error {
			l.Release(sym)
			return nil
		}); err != nil {
			e.logger.ErrorContext(ctx, "release reservation failed",
				slog.String("symbol", sym),
				slog.String("error", err.Error()),
			)
		}
	}

	side := intent.Side.EntryOrder()
	req, err := e.orders.Prepare(ctx, sym, side, intent.Quantity, intent.RefPrice)
	if err != nil {
		release()
		return fmt.Errorf("engine: prepare entry %s: %w", sym, err)
	}

	venue := e.orders.Exchange().Name()
	octx, cancel := context.WithTimeout(dctx, e.cfg.OrderTimeout)
	fill, err := e.orders.Execute(octx, req)
	cancel()
	if err != nil {
		e.metrics.RecordOrder(venue, string(side), "failed")
		if errors.Is(err, domain.ErrOrderUnknown) {
			e.hold(dctx, sym, req.ClientOrderID, err)
			return fmt.Errorf("engine: entry %s: %w", sym, err)
		}
		release()
		return fmt.Errorf("engine: entry %s: %w", sym, err)
	}
	e.metrics.RecordOrder(venue, string(side), "filled")

	var pos domain.Position
	err = e.do(dctx, func(l *ledger.Ledger) error {
		br := e.risk.Bracket(fill.FillPrice, intent.Side, atr)
		p, err := l.Open(intent, fill, br, e.clock())
		if err != nil {
			l.Release(sym)
			return err
		}
		pos = p
		return nil
	})
	if err != nil {
		return e.flatten(dctx, intent, fill, err)
	}

	e.logger.InfoContext(ctx, "position opened",
		slog.String("position_id", pos.ID),
		slog.String("symbol", sym),
		slog.String("side", string(pos.Side)),
		slog.Float64("quantity", pos.Quantity),
		slog.Float64("entry_price", pos.EntryPrice),
		slog.Float64("ref_price", intent.RefPrice),
		slog.Float64("stop_loss", pos.StopLoss),
		slog.Float64("take_profit", pos.TakeProfit),
	)
	if err := e.journal.RecordOpened(dctx, pos); err != nil {
		e.recordError("journal", err)
	}

	// A stop that began while the order was in flight has already swept the
	// book; close this one the same way.
	if !e.accepting.Load() {
		reason := domain.CloseShutdown
		if e.halt.Load() {
			reason = domain.CloseRiskManagement
		}
		return e.closeOne(dctx, sym, reason)
	}
	return nil
}

// flatten reverses a venue fill the ledger refused. If that fails too the
// book no longer matches the venue and trading halts.
func (e *Engine) flatten(ctx context.Context, intent domain.TradeIntent, fill domain.Fill, cause error) error {
	e.logger.ErrorContext(ctx, "filled entry rejected by ledger, flattening",
		slog.String("symbol", intent.Symbol),
		slog.String("order_id", fill.OrderID),
		slog.String("error", cause.Error()),
	)
	e.journal.Log(ctx, "error", "consistency_anomaly", intent.Symbol, map[string]any{
		"order_id":   fill.OrderID,
		"fill_price": fill.FillPrice,
		"filled_qty": fill.FilledQty,
		"error":      cause.Error(),
	})

	stray := domain.Position{Symbol: intent.Symbol, Side: intent.Side, Quantity: fill.FilledQty}
	req, err := e.orders.PrepareExit(ctx, stray)
	if err == nil {
		octx, cancel := context.WithTimeout(ctx, e.cfg.OrderTimeout)
		_, err = e.orders.Execute(octx, req)
		cancel()
	}
	if err != nil {
		e.trip(fmt.Sprintf("unreconciled fill %s on %s", fill.OrderID, intent.Symbol))
		return fmt.Errorf("engine: flatten %s: %w: %w", intent.Symbol, domain.ErrConsistency, errors.Join(cause, err))
	}
	return fmt.Errorf("engine: open %s: %w", intent.Symbol, cause)
}

// hold freezes symbol after an order the venue could not account for and
// trips the emergency stop. The symbol stays frozen until an operator
// restart.
func (e *Engine) hold(ctx context.Context, symbol, clientOrderID string, cause error) {
	if err := e.do(ctx, func(l *ledger.Ledger) error {
		l.Hold(symbol, clientOrderID)
		return nil
	}); err != nil {
		e.logger.ErrorContext(ctx, "hold symbol failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	}
	e.logger.ErrorContext(ctx, "order outcome unknown, symbol held",
		slog.String("symbol", symbol),
		slog.String("client_order_id", clientOrderID),
		slog.String("error", cause.Error()),
	)
	e.journal.Log(ctx, "error", "consistency_anomaly", symbol, map[string]any{
		"client_order_id": clientOrderID,
		"error":           cause.Error(),
	})
	e.recordError("orders", cause)
	e.trip(fmt.Sprintf("unknown outcome of order %s on %s", clientOrderID, symbol))
}

// closeOne claims symbol's position and exits it.
func (e *Engine) closeOne(ctx context.Context, symbol string, reason domain.CloseReason) error {
	var pos domain.Position
	err := e.do(ctx, func(l *ledger.Ledger) error {
		var err error
		pos, err = l.MarkClosing(symbol, reason)
		return err
	})
	if err != nil {
		return err
	}
	return e.exit(ctx, pos, reason)
}

// exit submits the closing order for a position already marked closing and
// books it at the fill price. On failure the closing mark is cleared so the
// next position cycle tries again. A partial fill books the executed part and
// leaves the rest open for the next cycle.
func (e *Engine) exit(ctx context.Context, pos domain.Position, reason domain.CloseReason) error {
	dctx := context.WithoutCancel(ctx)
	side := pos.Side.ExitOrder()
	venue := e.orders.Exchange().Name()

	req, err := e.orders.PrepareExit(ctx, pos)
	if errors.Is(err, domain.ErrZeroQuantity) {
		return e.writeOff(dctx, pos, reason)
	}
	var fill domain.Fill
	if err == nil {
		octx, cancel := context.WithTimeout(dctx, e.cfg.OrderTimeout)
		fill, err = e.orders.Execute(octx, req)
		cancel()
	}
	if err != nil {
		e.metrics.RecordOrder(venue, string(side), "failed")
		if errors.Is(err, domain.ErrOrderUnknown) {
			e.hold(dctx, pos.Symbol, req.ClientOrderID, err)
			return fmt.Errorf("engine: exit %s (%s): %w", pos.Symbol, reason, err)
		}
		if cerr := e.do(dctx, func(l *ledger.Ledger) error {
			l.ClearClosing(pos.Symbol)
			return nil
		}); cerr != nil {
			e.logger.ErrorContext(ctx, "clear closing mark failed",
				slog.String("symbol", pos.Symbol),
				slog.String("error", cerr.Error()),
			)
		}
		return fmt.Errorf("engine: exit %s (%s): %w", pos.Symbol, reason, err)
	}

	if fill.FilledQty < pos.Quantity*(1-partialTolerance) {
		e.metrics.RecordOrder(venue, string(side), "partial")
		return e.reduce(dctx, pos, reason, fill)
	}
	e.metrics.RecordOrder(venue, string(side), "filled")
	return e.book(dctx, pos.Symbol, reason, fill.FillPrice, fill.OrderID)
}

// partialTolerance absorbs step-size truncation of the exit quantity.
const partialTolerance = 0.001

// reduce books a partially filled exit and keeps the remainder open.
func (e *Engine) reduce(ctx context.Context, pos domain.Position, reason domain.CloseReason, fill domain.Fill) error {
	var rest domain.Position
	err := e.do(ctx, func(l *ledger.Ledger) error {
		var err error
		rest, err = l.Reduce(pos.Symbol, fill.FilledQty, fill.FillPrice, e.clock())
		return err
	})
	if err != nil {
		return fmt.Errorf("engine: book partial exit %s order %s: %w", pos.Symbol, fill.OrderID, err)
	}
	e.logger.WarnContext(ctx, "exit partially filled",
		slog.String("symbol", pos.Symbol),
		slog.String("reason", string(reason)),
		slog.Float64("filled_qty", fill.FilledQty),
		slog.Float64("remaining_qty", rest.Quantity),
		slog.Float64("fill_price", fill.FillPrice),
	)
	e.journal.Log(ctx, "warn", "exit_partial", pos.Symbol, map[string]any{
		"order_id":      fill.OrderID,
		"filled_qty":    fill.FilledQty,
		"remaining_qty": rest.Quantity,
		"fill_price":    fill.FillPrice,
		"realized_pnl":  rest.RealizedPnL,
	})
	if err := e.journal.RecordReduced(ctx, rest); err != nil {
		e.recordError("journal", err)
	}
	return fmt.Errorf("engine: exit %s (%s) filled %v of %v: %w", pos.Symbol, reason, fill.FilledQty, pos.Quantity, domain.ErrNotFilled)
}

// writeOff closes a remainder too small to trade at its last marked price.
func (e *Engine) writeOff(ctx context.Context, pos domain.Position, reason domain.CloseReason) error {
	e.logger.WarnContext(ctx, "remainder below step size, closing without an order",
		slog.String("symbol", pos.Symbol),
		slog.Float64("quantity", pos.Quantity),
		slog.Float64("price", pos.CurrentPrice),
	)
	return e.book(ctx, pos.Symbol, reason, pos.CurrentPrice, "")
}

// book flips symbol's position to CLOSED and records it.
func (e *Engine) book(ctx context.Context, symbol string, reason domain.CloseReason, price float64, orderID string) error {
	var closed domain.Position
	err := e.do(ctx, func(l *ledger.Ledger) error {
		var err error
		closed, err = l.Close(symbol, price, reason, orderID, e.clock())
		return err
	})
	if err != nil {
		return fmt.Errorf("engine: book exit %s order %s: %w", symbol, orderID, err)
	}
	e.metrics.RecordClose(string(reason))

	e.logger.InfoContext(ctx, "position closed",
		slog.String("position_id", closed.ID),
		slog.String("symbol", closed.Symbol),
		slog.String("reason", string(reason)),
		slog.Float64("entry_price", closed.EntryPrice),
		slog.Float64("exit_price", price),
		slog.Float64("realized_pnl", closed.RealizedPnL),
	)
	if err := e.journal.RecordClosed(ctx, closed); err != nil {
		e.recordError("journal", err)
	}
	return nil
}

// closeAll exits every open position with reason. When the loops are known to
// have returned, closing marks left by cancelled exits are stale and are
// reclaimed; otherwise those positions stay with their in-flight exit.
func (e *Engine) closeAll(ctx context.Context, reason domain.CloseReason, reclaim bool) error {
	var claimed []domain.Position
	err := e.do(ctx, func(l *ledger.Ledger) error {
		for _, p := range l.OpenPositions() {
			if reclaim {
				l.ClearClosing(p.Symbol)
			}
			pos, err := l.MarkClosing(p.Symbol, reason)
			if err != nil {
				continue
			}
			claimed = append(claimed, pos)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("engine: close all: %w", err)
	}

	var errs []error
	for _, pos := range claimed {
		if err := e.exit(ctx, pos, reason); err != nil {
			errs = append(errs, err)
		}
	}
	if len(claimed) > 0 {
		e.logger.InfoContext(ctx, "closed all positions",
			slog.String("reason", string(reason)),
			slog.Int("positions", len(claimed)),
			slog.Int("failed", len(errs)),
		)
	}
	return errors.Join(errs...)
}
