// Package ledger keeps open positions, capital and trade statistics. A Ledger
// is not safe for concurrent use: the engine owns it from a single goroutine
// and every mutation arrives there as a command.
package ledger

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/alanyoungcy/hedgebot/internal/domain"
	"github.com/google/uuid"
)

const (
	historyCap = 500
	returnsCap = 1000
)

// Config holds the exit rules applied per price tick.
type Config struct {
	TrailingStopPct float64
	MaxHolding      time.Duration
	ExcursionLimit  float64
}

// Ledger is the PositionLedger. At most one position per symbol is open or
// pending at any time.
type Ledger struct {
	cfg     Config
	open    map[string]*domain.Position
	pending map[string]time.Time
	closing map[string]domain.CloseReason
	held    map[string]string  // symbol -> client order id with unknown outcome
	exited  map[string]float64 // symbol -> quantity already sold off by partial exits
	account domain.Account
	stats   domain.TradeStats
	closed  []domain.Position
	returns []float64
}

// New creates an empty ledger funded with startingCapital.
func New(cfg Config, startingCapital float64) *Ledger {
	return &Ledger{
		cfg:     cfg,
		open:    make(map[string]*domain.Position),
		pending: make(map[string]time.Time),
		closing: make(map[string]domain.CloseReason),
		held:    make(map[string]string),
		exited:  make(map[string]float64),
		account: domain.Account{
			StartingCapital: startingCapital,
			CurrentCapital:  startingCapital,
			PeakCapital:     startingCapital,
		},
	}
}

// Restore replaces the account, statistics and open book with persisted
// state. It must run before any other mutation.
func (l *Ledger) Restore(acct domain.Account, stats domain.TradeStats, open []domain.Position) error {
	book := make(map[string]*domain.Position, len(open))
	for _, p := range open {
		if _, dup := book[p.Symbol]; dup {
			return fmt.Errorf("ledger: restore %s: %w", p.Symbol, domain.ErrDuplicatePosition)
		}
		book[p.Symbol] = &p
	}
	if acct.PeakCapital < acct.CurrentCapital {
		acct.PeakCapital = acct.CurrentCapital
	}
	l.account = acct
	l.stats = stats
	l.open = book
	return nil
}

// Reserve records a pending entry for symbol ahead of order submission.
func (l *Ledger) Reserve(symbol string, now time.Time) error {
	if id, ok := l.held[symbol]; ok {
		return fmt.Errorf("ledger: reserve %s: order %s: %w", symbol, id, domain.ErrOrderHeld)
	}
	if _, ok := l.open[symbol]; ok {
		return fmt.Errorf("ledger: reserve %s: %w", symbol, domain.ErrDuplicatePosition)
	}
	if _, ok := l.pending[symbol]; ok {
		return fmt.Errorf("ledger: reserve %s: entry pending: %w", symbol, domain.ErrDuplicatePosition)
	}
	l.pending[symbol] = now
	return nil
}

// Release drops a pending entry whose order did not fill.
func (l *Ledger) Release(symbol string) {
	delete(l.pending, symbol)
}

// Pending reports whether symbol has an entry in flight.
func (l *Ledger) Pending(symbol string) bool {
	_, ok := l.pending[symbol]
	return ok
}

// Open turns a confirmed fill into an OPEN position priced at the fill, not
// at the intent's reference quote.
func (l *Ledger) Open(intent domain.TradeIntent, fill domain.Fill, br domain.Bracket, now time.Time) (domain.Position, error) {
	if _, ok := l.open[intent.Symbol]; ok {
		return domain.Position{}, fmt.Errorf("ledger: open %s: %w", intent.Symbol, domain.ErrDuplicatePosition)
	}
	if fill.Symbol != "" && fill.Symbol != intent.Symbol {
		return domain.Position{}, fmt.Errorf("ledger: open %s with fill for %s: %w", intent.Symbol, fill.Symbol, domain.ErrUnknownOrder)
	}
	if !fill.Filled() {
		return domain.Position{}, fmt.Errorf("ledger: open %s: order %s status %s: %w", intent.Symbol, fill.OrderID, fill.Status, domain.ErrNotFilled)
	}
	if err := checkBracket(intent.Side, fill.FillPrice, br); err != nil {
		return domain.Position{}, fmt.Errorf("ledger: open %s: %w", intent.Symbol, err)
	}

	pos := &domain.Position{
		ID:           uuid.NewString(),
		Symbol:       intent.Symbol,
		Side:         intent.Side,
		Quantity:     fill.FilledQty,
		EntryPrice:   fill.FillPrice,
		CurrentPrice: fill.FillPrice,
		StopLoss:     br.StopLoss,
		TakeProfit:   br.TakeProfit,
		Status:       domain.PositionStatusOpen,
		EntryOrderID: fill.OrderID,
		Signal:       intent.Signal,
		Rationale:    intent.Rationale,
		OpenedAt:     now,
	}
	delete(l.pending, intent.Symbol)
	l.open[intent.Symbol] = pos
	l.stats.TotalTrades++
	if n := len(l.open); n > l.stats.MaxConcurrentPositions {
		l.stats.MaxConcurrentPositions = n
	}
	return *pos, nil
}

func checkBracket(side domain.Side, entry float64, br domain.Bracket) error {
	ok := br.StopLoss < entry && entry < br.TakeProfit
	if side == domain.SideShort {
		ok = br.TakeProfit < entry && entry < br.StopLoss
	}
	if !ok {
		return fmt.Errorf("%w: bracket stop %.8f take %.8f does not surround %s entry %.8f",
			domain.ErrValidation, br.StopLoss, br.TakeProfit, side, entry)
	}
	return nil
}

// ApplyPriceUpdate marks symbol's position to price and ratchets the stop
// toward price once the position is in profit. The stop never loosens.
func (l *Ledger) ApplyPriceUpdate(symbol string, price float64) (domain.Position, error) {
	pos, ok := l.open[symbol]
	if !ok {
		return domain.Position{}, fmt.Errorf("ledger: price update %s: %w", symbol, domain.ErrNoPosition)
	}
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return *pos, fmt.Errorf("ledger: price update %s: %w: price %v", symbol, domain.ErrValidation, price)
	}
	pos.CurrentPrice = price
	pos.UnrealizedPnL = pos.PnLAt(price)

	if l.cfg.TrailingStopPct > 0 {
		switch pos.Side {
		case domain.SideLong:
			if price > pos.EntryPrice {
				if cand := price * (1 - l.cfg.TrailingStopPct); cand > pos.StopLoss {
					pos.StopLoss = cand
				}
			}
		case domain.SideShort:
			if price < pos.EntryPrice {
				if cand := price * (1 + l.cfg.TrailingStopPct); cand < pos.StopLoss {
					pos.StopLoss = cand
				}
			}
		}
	}
	return *pos, nil
}

// ExitCheck evaluates exit rules in fixed precedence: stop loss, take profit,
// max holding duration, then the excursion breaker.
func (l *Ledger) ExitCheck(p domain.Position, price float64, now time.Time) (domain.CloseReason, bool) {
	long := p.Side != domain.SideShort
	switch {
	case long && price <= p.StopLoss, !long && price >= p.StopLoss:
		return domain.CloseStopLoss, true
	case long && price >= p.TakeProfit, !long && price <= p.TakeProfit:
		return domain.CloseTakeProfit, true
	case l.cfg.MaxHolding > 0 && p.HeldFor(now) >= l.cfg.MaxHolding:
		return domain.CloseMaxHolding, true
	case l.cfg.ExcursionLimit > 0 && math.Abs(p.ReturnAt(price)) > l.cfg.ExcursionLimit:
		return domain.CloseExcursion, true
	}
	return "", false
}

// Tick applies a price update and the exit check as one step. When an exit
// triggers the position is marked closing and is skipped by later ticks until
// Close or ClearClosing.
func (l *Ledger) Tick(symbol string, price float64, now time.Time) (domain.Position, domain.CloseReason, bool, error) {
	if _, busy := l.closing[symbol]; busy {
		return domain.Position{}, "", false, nil
	}
	pos, err := l.ApplyPriceUpdate(symbol, price)
	if err != nil {
		return pos, "", false, err
	}
	reason, exit := l.ExitCheck(pos, price, now)
	if exit {
		l.closing[symbol] = reason
	}
	return pos, reason, exit, nil
}

// MarkClosing claims symbol's position for an out-of-band close (shutdown,
// emergency, operator). It fails if the position is missing or already being
// closed.
func (l *Ledger) MarkClosing(symbol string, reason domain.CloseReason) (domain.Position, error) {
	pos, ok := l.open[symbol]
	if !ok {
		return domain.Position{}, fmt.Errorf("ledger: mark closing %s: %w", symbol, domain.ErrNoPosition)
	}
	if id, ok := l.held[symbol]; ok {
		return *pos, fmt.Errorf("ledger: mark closing %s: order %s: %w", symbol, id, domain.ErrOrderHeld)
	}
	if prev, busy := l.closing[symbol]; busy {
		return *pos, fmt.Errorf("ledger: mark closing %s: already closing (%s): %w", symbol, prev, domain.ErrConsistency)
	}
	l.closing[symbol] = reason
	return *pos, nil
}

// ClearClosing returns a position to normal tick processing after a failed
// close order. A held symbol keeps its mark.
func (l *Ledger) ClearClosing(symbol string) {
	if _, ok := l.held[symbol]; ok {
		return
	}
	delete(l.closing, symbol)
}

// Hold freezes symbol after an order whose outcome the venue could not
// confirm: its pending entry or closing mark stays in place and no new entry
// or exit is accepted until ReleaseHolds.
func (l *Ledger) Hold(symbol, clientOrderID string) {
	l.held[symbol] = clientOrderID
}

// Held reports whether symbol is frozen by Hold.
func (l *Ledger) Held(symbol string) bool {
	_, ok := l.held[symbol]
	return ok
}

// ReleaseHolds lifts every hold after the operator has reconciled the venue
// and returns what was held. Pending entries and closing marks of held
// symbols are dropped with it.
func (l *Ledger) ReleaseHolds() map[string]string {
	out := l.held
	for sym := range out {
		delete(l.pending, sym)
		delete(l.closing, sym)
	}
	l.held = make(map[string]string)
	return out
}

// Closing reports whether symbol's position has a close in flight.
func (l *Ledger) Closing(symbol string) bool {
	_, ok := l.closing[symbol]
	return ok
}

// Close flips symbol's position to CLOSED at exitPrice and books the realized
// P&L into capital and statistics in the same step. P&L booked earlier by
// Reduce is part of the position's realized total.
func (l *Ledger) Close(symbol string, exitPrice float64, reason domain.CloseReason, exitOrderID string, now time.Time) (domain.Position, error) {
	pos, ok := l.open[symbol]
	if !ok {
		return domain.Position{}, fmt.Errorf("ledger: close %s: %w", symbol, domain.ErrNoPosition)
	}
	if exitPrice <= 0 {
		return *pos, fmt.Errorf("ledger: close %s: %w: exit price %v", symbol, domain.ErrValidation, exitPrice)
	}

	pnl := pos.PnLAt(exitPrice)
	total := pos.RealizedPnL + pnl
	closedAt := now
	exit := exitPrice

	pos.CurrentPrice = exitPrice
	pos.ExitPrice = &exit
	pos.ExitOrderID = exitOrderID
	pos.RealizedPnL = total
	pos.UnrealizedPnL = 0
	pos.Status = domain.PositionStatusClosed
	pos.CloseReason = reason
	pos.ClosedAt = &closedAt

	l.book(pnl, now)
	if total > 0 {
		l.stats.WinningTrades++
		l.stats.GrossProfit += total
	} else {
		l.stats.LosingTrades++
		l.stats.GrossLoss += -total
	}
	if notional := pos.EntryPrice * (pos.Quantity + l.exited[symbol]); notional > 0 {
		l.returns = appendCapped(l.returns, total/notional, returnsCap)
	}

	delete(l.open, symbol)
	delete(l.closing, symbol)
	delete(l.exited, symbol)
	closed := *pos
	l.closed = append(l.closed, closed)
	if len(l.closed) > historyCap {
		l.closed = l.closed[len(l.closed)-historyCap:]
	}
	return closed, nil
}

// Reduce books a partial exit of qty at exitPrice. The rest of the position
// stays OPEN with its closing mark cleared so the next cycle exits it.
func (l *Ledger) Reduce(symbol string, qty, exitPrice float64, now time.Time) (domain.Position, error) {
	pos, ok := l.open[symbol]
	if !ok {
		return domain.Position{}, fmt.Errorf("ledger: reduce %s: %w", symbol, domain.ErrNoPosition)
	}
	if exitPrice <= 0 || qty <= 0 || qty >= pos.Quantity {
		return *pos, fmt.Errorf("ledger: reduce %s by %v of %v at %v: %w", symbol, qty, pos.Quantity, exitPrice, domain.ErrValidation)
	}
	pnl := pos.Side.Sign() * (exitPrice - pos.EntryPrice) * qty
	l.book(pnl, now)
	pos.RealizedPnL += pnl
	pos.Quantity -= qty
	pos.UnrealizedPnL = pos.PnLAt(pos.CurrentPrice)
	l.exited[symbol] += qty
	delete(l.closing, symbol)
	return *pos, nil
}

// book applies realized P&L to the account.
func (l *Ledger) book(pnl float64, now time.Time) {
	a := &l.account
	l.rollDaily(now)
	a.TotalPnL += pnl
	a.DailyPnL += pnl
	a.CurrentCapital = math.Max(0, a.CurrentCapital+pnl)
	if a.CurrentCapital > a.PeakCapital {
		a.PeakCapital = a.CurrentCapital
	}
	if dd := a.Drawdown(); dd > a.MaxDrawdown {
		a.MaxDrawdown = dd
	}
}

// Deposit adds (or, when negative, withdraws) external capital. Deposits move
// the drawdown peak with them so withdrawals never read as losses.
func (l *Ledger) Deposit(amount float64) (domain.Account, error) {
	a := &l.account
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return *a, fmt.Errorf("ledger: deposit: %w: amount %v", domain.ErrValidation, amount)
	}
	if a.CurrentCapital+amount < 0 {
		return *a, fmt.Errorf("ledger: deposit %.2f against capital %.2f: %w", amount, a.CurrentCapital, domain.ErrNegativeCapital)
	}
	a.CurrentCapital += amount
	a.NetDeposits += amount
	a.PeakCapital = math.Max(a.PeakCapital+amount, a.CurrentCapital)
	return *a, nil
}

// ResetRiskBaseline forgets the return history and drawdown so a restarted
// session is judged on its own trades.
func (l *Ledger) ResetRiskBaseline() {
	l.returns = nil
	l.account.PeakCapital = l.account.CurrentCapital
	l.account.MaxDrawdown = 0
}

// RollDaily zeroes the daily P&L when now falls on a new UTC day.
func (l *Ledger) RollDaily(now time.Time) bool {
	return l.rollDaily(now)
}

func (l *Ledger) rollDaily(now time.Time) bool {
	day := now.UTC().Truncate(24 * time.Hour)
	if l.account.DailyPnLDate.Equal(day) {
		return false
	}
	rolled := !l.account.DailyPnLDate.IsZero()
	l.account.DailyPnLDate = day
	l.account.DailyPnL = 0
	return rolled
}

// Account returns a copy of the capital accounting.
func (l *Ledger) Account() domain.Account { return l.account }

// Stats returns a copy of the trade statistics.
func (l *Ledger) Stats() domain.TradeStats { return l.stats }

// Position returns symbol's open position.
func (l *Ledger) Position(symbol string) (domain.Position, bool) {
	p, ok := l.open[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return *p, true
}

// OpenPositions returns copies of all open positions ordered by symbol.
func (l *Ledger) OpenPositions() []domain.Position {
	out := make([]domain.Position, 0, len(l.open))
	for _, p := range l.open {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// OpenCount is the number of open positions plus entries in flight.
func (l *Ledger) OpenCount() int { return len(l.open) + len(l.pending) }

// Returns is the chronological per-trade return series since the last
// baseline reset.
func (l *Ledger) Returns() []float64 {
	return append([]float64(nil), l.returns...)
}

// RecentClosed returns up to n closed positions, newest first.
func (l *Ledger) RecentClosed(n int) []domain.Position {
	if n <= 0 || n > len(l.closed) {
		n = len(l.closed)
	}
	out := make([]domain.Position, 0, n)
	for i := len(l.closed) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, l.closed[i])
	}
	return out
}

func appendCapped(xs []float64, x float64, limit int) []float64 {
	xs = append(xs, x)
	if len(xs) > limit {
		xs = xs[len(xs)-limit:]
	}
	return xs
}
