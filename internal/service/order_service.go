package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/hedgebot/internal/domain"
	"github.com/alanyoungcy/hedgebot/internal/retry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderService turns sized intents into venue orders: it truncates to the
// symbol's step size, enforces minimum notional, rate limits, and retries
// transient venue failures. A result is only a fill when the venue says so.
type OrderService struct {
	mu       sync.RWMutex
	exchange domain.ExchangeClient

	rules   domain.RulesCache
	limiter domain.RateLimiter
	logs    domain.LogStore
	policy  retry.Policy

	ordersPerMinute int
	logger          *slog.Logger
}

// NewOrderService creates an OrderService. rules and limiter may be nil.
func NewOrderService(
	exchange domain.ExchangeClient,
	rules domain.RulesCache,
	limiter domain.RateLimiter,
	logs domain.LogStore,
	policy retry.Policy,
	ordersPerMinute int,
	logger *slog.Logger,
) *OrderService {
	return &OrderService{
		exchange:        exchange,
		rules:           rules,
		limiter:         limiter,
		logs:            logs,
		policy:          policy,
		ordersPerMinute: ordersPerMinute,
		logger:          logger.With(slog.String("component", "order_service")),
	}
}

// SetExchange swaps the venue. The engine only calls this while stopped.
func (s *OrderService) SetExchange(ex domain.ExchangeClient) {
	s.mu.Lock()
	s.exchange = ex
	s.mu.Unlock()
}

// Exchange returns the active venue.
func (s *OrderService) Exchange() domain.ExchangeClient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exchange
}

// Rules returns symbol's precision metadata, cached per venue.
func (s *OrderService) Rules(ctx context.Context, symbol string) (domain.SymbolRules, error) {
	ex := s.Exchange()
	if s.rules != nil {
		if r, err := s.rules.GetRules(ctx, ex.Name(), symbol); err == nil {
			return r, nil
		}
	}
	r, err := retry.Value(ctx, s.policy, func(ctx context.Context) (domain.SymbolRules, error) {
		return ex.Rules(ctx, symbol)
	})
	if err != nil {
		return domain.SymbolRules{}, fmt.Errorf("order_service: rules %s: %w", symbol, err)
	}
	if s.rules != nil {
		if err := s.rules.SetRules(ctx, ex.Name(), r); err != nil {
			s.logger.WarnContext(ctx, "cache rules failed", slog.String("symbol", symbol), slog.String("error", err.Error()))
		}
	}
	return r, nil
}

// TruncateQuantity floors qty to a multiple of step. A non-positive or
// unparsable step falls back to eight decimal places.
func TruncateQuantity(qty float64, step string) decimal.Decimal {
	q := decimal.NewFromFloat(qty)
	st, err := decimal.NewFromString(step)
	if err != nil || !st.IsPositive() {
		return q.Truncate(8)
	}
	return q.Div(st).Floor().Mul(st)
}

// Prepare validates an entry of qty at the reference price and returns the
// order to submit.
func (s *OrderService) Prepare(ctx context.Context, symbol string, side domain.OrderSide, qty, price float64) (domain.OrderRequest, error) {
	rules, err := s.Rules(ctx, symbol)
	if err != nil {
		return domain.OrderRequest{}, err
	}
	q := TruncateQuantity(qty, rules.StepSize)
	if !q.IsPositive() {
		return domain.OrderRequest{}, fmt.Errorf("order_service: %s qty %v step %s: %w", symbol, qty, rules.StepSize, domain.ErrZeroQuantity)
	}
	if rules.MinQty > 0 && q.LessThan(decimal.NewFromFloat(rules.MinQty)) {
		return domain.OrderRequest{}, fmt.Errorf("order_service: %s qty %s below min %v: %w", symbol, q, rules.MinQty, domain.ErrValidation)
	}
	notional := q.Mul(decimal.NewFromFloat(price))
	if rules.MinNotional > 0 && notional.LessThan(decimal.NewFromFloat(rules.MinNotional)) {
		return domain.OrderRequest{}, fmt.Errorf("order_service: %s notional %s below %v: %w", symbol, notional.StringFixed(2), rules.MinNotional, domain.ErrBelowMinNotional)
	}
	return domain.OrderRequest{
		Symbol:        symbol,
		Side:          side,
		Quantity:      q.String(),
		ClientOrderID: newClientOrderID(),
	}, nil
}

// PrepareExit builds the flattening order for an open position. Exits skip the
// minimum-notional check; the venue is the authority on whether they go.
func (s *OrderService) PrepareExit(ctx context.Context, pos domain.Position) (domain.OrderRequest, error) {
	step := ""
	if rules, err := s.Rules(ctx, pos.Symbol); err == nil {
		step = rules.StepSize
	} else {
		s.logger.WarnContext(ctx, "exit without rules", slog.String("symbol", pos.Symbol), slog.String("error", err.Error()))
	}
	q := TruncateQuantity(pos.Quantity, step)
	if !q.IsPositive() {
		return domain.OrderRequest{}, fmt.Errorf("order_service: exit %s qty %v: %w", pos.Symbol, pos.Quantity, domain.ErrZeroQuantity)
	}
	return domain.OrderRequest{
		Symbol:        pos.Symbol,
		Side:          pos.Side.ExitOrder(),
		Quantity:      q.String(),
		ClientOrderID: newClientOrderID(),
	}, nil
}

// Execute submits req and waits for the venue's answer. It returns
// domain.ErrNotFilled when the venue accepted but did not fill the order.
// When the submission's outcome is unknown (retries exhausted, deadline hit,
// or the venue already holds the client order id) the venue is asked for the
// order; if that also fails the error wraps domain.ErrOrderUnknown and the
// caller must treat the order as possibly executed.
func (s *OrderService) Execute(ctx context.Context, req domain.OrderRequest) (domain.Fill, error) {
	ex := s.Exchange()
	var uncertain bool
	fill, err := retry.Value(ctx, s.policy, func(ctx context.Context) (domain.Fill, error) {
		if err := s.allow(ctx, ex.Name()); err != nil {
			return domain.Fill{}, err
		}
		f, err := ex.PlaceOrder(ctx, req)
		if err != nil && outcomeUnknown(err) {
			uncertain = true
		}
		return f, err
	})
	if err != nil && uncertain {
		fill, err = s.reconcile(ctx, ex, req, err)
	}
	if err != nil {
		s.appendLog(ctx, "error", "order_failed", req.Symbol, map[string]any{
			"side":            string(req.Side),
			"quantity":        req.Quantity,
			"client_order_id": req.ClientOrderID,
			"error":           err.Error(),
		})
		return domain.Fill{}, fmt.Errorf("order_service: place %s %s %s: %w", req.Side, req.Quantity, req.Symbol, err)
	}

	if !fill.Filled() {
		s.logger.WarnContext(ctx, "order accepted but not filled",
			slog.String("symbol", req.Symbol),
			slog.String("order_id", fill.OrderID),
			slog.String("status", string(fill.Status)),
		)
		s.cancelRest(ctx, ex, req.Symbol, fill)
		return fill, fmt.Errorf("order_service: %s order %s: %w", req.Symbol, fill.OrderID, domain.ErrNotFilled)
	}
	if fill.Symbol == "" {
		fill.Symbol = req.Symbol
	}
	if fill.Side == "" {
		fill.Side = req.Side
	}
	if fill.Status == domain.OrderStatusPartiallyFilled {
		s.cancelRest(ctx, ex, req.Symbol, fill)
	}

	s.appendLog(ctx, "info", "order_filled", req.Symbol, map[string]any{
		"order_id":   fill.OrderID,
		"side":       string(fill.Side),
		"status":     string(fill.Status),
		"fill_price": fill.FillPrice,
		"filled_qty": fill.FilledQty,
		"fee":        fill.Fee,
		"venue":      ex.Name(),
	})
	s.logger.InfoContext(ctx, "order filled",
		slog.String("symbol", req.Symbol),
		slog.String("side", string(req.Side)),
		slog.String("order_id", fill.OrderID),
		slog.Float64("fill_price", fill.FillPrice),
		slog.Float64("filled_qty", fill.FilledQty),
	)
	return fill, nil
}

// outcomeUnknown reports whether a failed submission may still have reached
// the venue. Rate-limit refusals did not.
func outcomeUnknown(err error) bool {
	return errors.Is(err, domain.ErrTransientIO) ||
		errors.Is(err, domain.ErrDuplicateOrder) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

// reconcile asks the venue what became of req after submitErr. An order the
// venue never saw returns submitErr unchanged.
func (s *OrderService) reconcile(ctx context.Context, ex domain.ExchangeClient, req domain.OrderRequest, submitErr error) (domain.Fill, error) {
	if req.ClientOrderID == "" {
		return domain.Fill{}, fmt.Errorf("%w: %w", domain.ErrOrderUnknown, submitErr)
	}
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
	defer cancel()
	fill, err := retry.Value(lctx, s.policy, func(ctx context.Context) (domain.Fill, error) {
		return ex.LookupOrder(ctx, req.Symbol, req.ClientOrderID)
	})
	switch {
	case err == nil:
		s.logger.WarnContext(ctx, "order outcome recovered from venue",
			slog.String("symbol", req.Symbol),
			slog.String("client_order_id", req.ClientOrderID),
			slog.String("status", string(fill.Status)),
			slog.Float64("filled_qty", fill.FilledQty),
			slog.String("submit_error", submitErr.Error()),
		)
		return fill, nil
	case errors.Is(err, domain.ErrNotFound) && !errors.Is(submitErr, domain.ErrDuplicateOrder):
		return domain.Fill{}, submitErr
	}
	s.logger.ErrorContext(ctx, "order outcome unknown",
		slog.String("symbol", req.Symbol),
		slog.String("client_order_id", req.ClientOrderID),
		slog.String("submit_error", submitErr.Error()),
		slog.String("lookup_error", err.Error()),
	)
	return domain.Fill{}, fmt.Errorf("%w: %w", domain.ErrOrderUnknown, errors.Join(submitErr, err))
}

// cancelRest cancels whatever part of fill's order may still execute.
func (s *OrderService) cancelRest(ctx context.Context, ex domain.ExchangeClient, symbol string, fill domain.Fill) {
	if fill.OrderID == "" || !fill.Resting() {
		return
	}
	if err := ex.CancelOrder(ctx, symbol, fill.OrderID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.logger.WarnContext(ctx, "cancel order remainder failed", slog.String("order_id", fill.OrderID), slog.String("error", err.Error()))
	}
}

// CancelAll cancels every open order on the active venue and returns how many
// were cancelled.
func (s *OrderService) CancelAll(ctx context.Context) (int, error) {
	ex := s.Exchange()
	orders, err := retry.Value(ctx, s.policy, ex.OpenOrders)
	if err != nil {
		return 0, fmt.Errorf("order_service: list open orders: %w", err)
	}
	var errs []error
	cancelled := 0
	for _, o := range orders {
		err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
			return ex.CancelOrder(ctx, o.Symbol, o.OrderID)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("cancel %s %s: %w", o.Symbol, o.OrderID, err))
			continue
		}
		cancelled++
	}
	if cancelled > 0 {
		s.logger.InfoContext(ctx, "cancelled open orders", slog.Int("count", cancelled))
	}
	if len(errs) > 0 {
		return cancelled, fmt.Errorf("order_service: cancel all: %w", errors.Join(errs...))
	}
	return cancelled, nil
}

func (s *OrderService) allow(ctx context.Context, venue string) error {
	if s.limiter == nil || s.ordersPerMinute <= 0 {
		return nil
	}
	ok, err := s.limiter.Allow(ctx, "orders:"+venue, s.ordersPerMinute, time.Minute)
	if err != nil {
		s.logger.WarnContext(ctx, "rate limiter unavailable", slog.String("error", err.Error()))
		return nil
	}
	if !ok {
		return domain.ErrRateLimited
	}
	return nil
}

func (s *OrderService) appendLog(ctx context.Context, level, event, symbol string, detail map[string]any) {
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

const lookupTimeout = 15 * time.Second

// newClientOrderID is a venue-safe idempotency key (alphanumeric, <= 36).
func newClientOrderID() string {
	return "hb" + uuid.NewString()[:30]
}
