package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/hedgebot/internal/domain"
	"github.com/alanyoungcy/hedgebot/internal/ledger"
	"github.com/alanyoungcy/hedgebot/internal/service"
)

type loop struct {
	name  string
	every time.Duration
	fn    func(ctx context.Context) error
}

func (e *Engine) loops() []loop {
	return []loop{
		{name: "price", every: e.cfg.PriceInterval, fn: e.refreshPrices},
		{name: "decision", every: e.cfg.DecisionInterval, fn: e.decide},
		{name: "position", every: e.cfg.PositionInterval, fn: e.managePositions},
		{name: "risk", every: e.cfg.RiskInterval, fn: e.assessRisk},
		{name: "persist", every: e.cfg.PersistInterval, fn: e.persist},
	}
}

// runLoop runs l immediately and then on every tick until ctx is cancelled.
// A failed iteration is recorded and the loop carries on.
func (e *Engine) runLoop(ctx context.Context, l loop) error {
	every := l.every
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	e.logger.Debug("loop started", slog.String("loop", l.name), slog.Duration("every", every))
	for {
		e.iterate(ctx, l)
		select {
		case <-ctx.Done():
			e.logger.Debug("loop stopped", slog.String("loop", l.name))
			return nil
		case <-ticker.C:
		}
	}
}

func (e *Engine) iterate(ctx context.Context, l loop) {
	start := time.Now()
	err := e.safely(ctx, l)
	if err != nil && ctx.Err() != nil {
		return
	}
	e.metrics.ObserveLoop(l.name, time.Since(start), errKind(err))
	if err != nil {
		e.recordError(l.name, err)
	}
}

func (e *Engine) safely(ctx context.Context, l loop) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine: %s loop panic: %v", l.name, r)
		}
	}()
	return l.fn(ctx)
}

func (e *Engine) refreshPrices(ctx context.Context) error {
	tickers, err := e.prices.Refresh(ctx, e.cfg.Symbols)
	for sym, t := range tickers {
		e.metrics.SetPrice(sym, t.Price)
	}
	return err
}

// decide turns fresh predictions into entries, visiting symbols in
// configuration order until the book is full.
func (e *Engine) decide(ctx context.Context) error {
	if e.halt.Load() {
		return nil
	}
	v := e.snapshot()
	if err := e.risk.AllowEntry(v.account, len(v.open)+v.pending); err != nil {
		e.logger.DebugContext(ctx, "entries blocked", slog.String("reason", err.Error()))
		return nil
	}

	held := make(map[string]bool, len(v.open))
	for _, p := range v.open {
		held[p.Symbol] = true
	}
	candidates := make([]string, 0, len(e.cfg.Symbols))
	for _, sym := range e.cfg.Symbols {
		if !held[sym] {
			candidates = append(candidates, sym)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	preds, err := e.signals.Predict(ctx, candidates)
	if err != nil {
		return fmt.Errorf("engine: predict: %w", err)
	}
	withSignal := make([]string, 0, len(preds))
	for _, sym := range candidates {
		if _, ok := preds[sym]; ok {
			withSignal = append(withSignal, sym)
		}
	}
	if len(withSignal) == 0 {
		return nil
	}

	var errs []error
	prices, err := e.prices.Latest(ctx, withSignal)
	if err != nil {
		errs = append(errs, err)
	}
	for _, sym := range withSignal {
		price, ok := prices[sym]
		if !ok {
			continue
		}
		err := e.consider(ctx, preds[sym], price)
		switch {
		case err == nil:
		case errors.Is(err, errEntryBlocked), errors.Is(err, errHalted):
			return errors.Join(errs...)
		case errors.Is(err, domain.ErrDuplicatePosition):
			continue
		default:
			errs = append(errs, err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return errors.Join(errs...)
}

// consider gates, sizes and enters a single prediction.
func (e *Engine) consider(ctx context.Context, p domain.Prediction, price float64) error {
	mc, atr, err := e.prices.Conditions(ctx, p.Symbol, price)
	if err != nil {
		return err
	}
	if ok, reason := e.risk.Gate(p, mc); !ok {
		e.logger.DebugContext(ctx, "prediction rejected",
			slog.String("symbol", p.Symbol),
			slog.String("reason", reason),
		)
		return nil
	}

	side := service.SideOf(p)
	capital := e.snapshot().account.CurrentCapital
	qty := e.risk.Size(capital, price, mc.Volatility, p.Confidence, p.RiskScore)
	if qty <= 0 {
		return nil
	}
	intent := domain.TradeIntent{
		Symbol:   p.Symbol,
		Side:     side,
		Quantity: qty,
		RefPrice: price,
		Signal:   p,
		Rationale: fmt.Sprintf("%s: direction %.4f confidence %.2f risk %.2f volatility %.2f",
			p.Source, p.Direction, p.Confidence, p.RiskScore, mc.Volatility),
	}

	err = e.enter(ctx, intent, atr)
	if errors.Is(err, domain.ErrBelowMinNotional) || errors.Is(err, domain.ErrZeroQuantity) {
		e.logger.InfoContext(ctx, "entry skipped",
			slog.String("symbol", p.Symbol),
			slog.Float64("quantity", qty),
			slog.String("reason", err.Error()),
		)
		return nil
	}
	return err
}

// managePositions marks every open position to market and exits those whose
// rules trigger.
func (e *Engine) managePositions(ctx context.Context) error {
	v := e.snapshot()
	if len(v.open) == 0 {
		return nil
	}
	symbols := make([]string, 0, len(v.open))
	for _, p := range v.open {
		symbols = append(symbols, p.Symbol)
	}

	var errs []error
	prices, err := e.prices.Latest(ctx, symbols)
	if err != nil {
		errs = append(errs, err)
	}
	for _, sym := range symbols {
		price, ok := prices[sym]
		if !ok {
			continue
		}
		var (
			pos    domain.Position
			reason domain.CloseReason
			exit   bool
		)
		err := e.do(ctx, func(l *ledger.Ledger) error {
			var err error
			pos, reason, exit, err = l.Tick(sym, price, e.clock())
			return err
		})
		if errors.Is(err, domain.ErrNoPosition) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !exit {
			continue
		}
		e.logger.InfoContext(ctx, "exit triggered",
			slog.String("symbol", sym),
			slog.String("reason", string(reason)),
			slog.Float64("price", price),
			slog.Float64("stop_loss", pos.StopLoss),
			slog.Float64("take_profit", pos.TakeProfit),
		)
		if err := e.exit(ctx, pos, reason); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// assessRisk recomputes the portfolio aggregate, stores it and trips the
// emergency stop on a breach.
func (e *Engine) assessRisk(ctx context.Context) error {
	var (
		returns []float64
		acct    domain.Account
		open    []domain.Position
	)
	if err := e.do(ctx, func(l *ledger.Ledger) error {
		returns = l.Returns()
		acct = l.Account()
		open = l.OpenPositions()
		return nil
	}); err != nil {
		return err
	}

	snap := e.risk.PortfolioRisk(returns)
	snap.ExposureRatio, snap.Concentration = e.risk.Exposure(open, acct.CurrentCapital)
	snap.AccountDrawdown = acct.Drawdown()

	e.mu.Lock()
	e.riskSnap = snap
	e.mu.Unlock()
	e.metrics.SetRisk(map[string]float64{
		"var_95":           snap.VaR95,
		"sharpe_ratio":     snap.SharpeRatio,
		"max_drawdown":     snap.MaxDrawdown,
		"volatility":       snap.Volatility,
		"exposure_ratio":   snap.ExposureRatio,
		"concentration":    snap.Concentration,
		"account_drawdown": snap.AccountDrawdown,
	})

	var errs []error
	if e.risks != nil {
		if err := e.risks.SaveRiskSnapshot(ctx, snap, e.clock()); err != nil {
			errs = append(errs, fmt.Errorf("engine: save risk snapshot: %w", err))
		}
	}
	e.publish(ctx, domain.EventRiskUpdate, snap)

	if err := e.risk.CheckLimits(snap); err != nil {
		e.trip(err.Error())
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// persist writes marks and the status row, rolls the daily P&L and keeps the
// instance lock alive.
func (e *Engine) persist(ctx context.Context) error {
	var (
		open   []domain.Position
		rolled bool
	)
	if err := e.do(ctx, func(l *ledger.Ledger) error {
		rolled = l.RollDaily(e.clock())
		open = l.OpenPositions()
		return nil
	}); err != nil {
		return err
	}
	if rolled {
		e.logger.InfoContext(ctx, "daily pnl rolled over")
	}

	e.journal.RecordMarks(ctx, open)
	e.persistStatus(ctx)
	e.publish(ctx, domain.EventStatus, e.Status())

	e.mu.RLock()
	lock := e.lock
	e.mu.RUnlock()
	if lock == nil {
		return nil
	}
	if err := lock.Refresh(ctx, e.cfg.LockTTL); err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			e.trip("engine lock lost")
		}
		return fmt.Errorf("engine: refresh lock: %w", err)
	}
	return nil
}
