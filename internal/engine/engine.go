// Package engine runs the trading loops. One goroutine owns the position
// ledger; every loop and control call reaches it through a command channel, so
// no two loops ever read-then-write the same position.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/hedgebot/internal/domain"
	"github.com/alanyoungcy/hedgebot/internal/ledger"
	"github.com/alanyoungcy/hedgebot/internal/observability"
	"github.com/alanyoungcy/hedgebot/internal/retry"
	"github.com/alanyoungcy/hedgebot/internal/service"
)

var (
	errOwnerStopped = errors.New("engine: ledger owner not running")
	errHalted       = errors.New("engine: entries halted")
	errEntryBlocked = errors.New("engine: entry blocked")
)

var allPhases = []string{
	string(domain.PhaseStopped),
	string(domain.PhaseStarting),
	string(domain.PhaseRunning),
	string(domain.PhaseStopping),
	string(domain.PhaseEmergencyStopped),
}

// Config holds loop periods and lifecycle limits.
type Config struct {
	Symbols []string
	Live    bool

	PriceInterval    time.Duration
	DecisionInterval time.Duration
	PositionInterval time.Duration
	RiskInterval     time.Duration
	PersistInterval  time.Duration

	CommandBuffer int
	StopTimeout   time.Duration
	OrderTimeout  time.Duration

	LockKey string
	LockTTL time.Duration
}

// Deps are the collaborators the engine drives. Locks, Live, Bus and Metrics
// may be nil.
type Deps struct {
	Ledger  *ledger.Ledger
	Risk    *service.RiskService
	Orders  *service.OrderService
	Prices  *service.PriceService
	Journal *service.PositionService
	Signals domain.SignalSource
	Status  domain.StatusStore
	Risks   domain.RiskStore
	Bus     domain.Publisher
	Locks   domain.LockManager
	Testnet domain.ExchangeClient
	Live    domain.ExchangeClient
	Metrics *observability.Metrics
	Policy  retry.Policy
	Clock   domain.Clock
}

type command struct {
	fn   func(*ledger.Ledger) error
	done chan error
}

// view is the read-only copy of ledger state refreshed after every command.
type view struct {
	account domain.Account
	stats   domain.TradeStats
	open    []domain.Position
	pending int
}

// Engine is the TradingEngine.
type Engine struct {
	cfg Config

	ledger  *ledger.Ledger
	risk    *service.RiskService
	orders  *service.OrderService
	prices  *service.PriceService
	journal *service.PositionService
	signals domain.SignalSource
	status  domain.StatusStore
	risks   domain.RiskStore
	bus     domain.Publisher
	locks   domain.LockManager
	testnet domain.ExchangeClient
	liveEx  domain.ExchangeClient
	metrics *observability.Metrics
	policy  retry.Policy
	clock   domain.Clock
	logger  *slog.Logger

	cmds      chan command
	ownerDone chan struct{}
	view      atomic.Pointer[view]

	// halt blocks new entries from the moment a breach is seen until the
	// next successful Start.
	halt      atomic.Bool
	accepting atomic.Bool

	// ctl serializes lifecycle transitions.
	ctl sync.Mutex

	mu        sync.RWMutex
	phase     domain.Phase
	live      bool
	startedAt *time.Time
	lastErr   string
	lastErrAt *time.Time
	riskSnap  domain.RiskSnapshot
	base      context.Context
	cancel    context.CancelFunc
	loopsDone chan struct{}
	lock      domain.Lock
}

// New creates a stopped Engine. Run must be started before any other method
// that touches the ledger.
func New(cfg Config, deps Deps, logger *slog.Logger) *Engine {
	if cfg.CommandBuffer <= 0 {
		cfg.CommandBuffer = 64
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 30 * time.Second
	}
	if cfg.OrderTimeout <= 0 {
		cfg.OrderTimeout = 30 * time.Second
	}
	if cfg.LockKey == "" {
		cfg.LockKey = "engine"
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 3 * time.Minute
	}
	clock := deps.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}

	e := &Engine{
		cfg:       cfg,
		ledger:    deps.Ledger,
		risk:      deps.Risk,
		orders:    deps.Orders,
		prices:    deps.Prices,
		journal:   deps.Journal,
		signals:   deps.Signals,
		status:    deps.Status,
		risks:     deps.Risks,
		bus:       deps.Bus,
		locks:     deps.Locks,
		testnet:   deps.Testnet,
		liveEx:    deps.Live,
		metrics:   deps.Metrics,
		policy:    deps.Policy,
		clock:     clock,
		logger:    logger.With(slog.String("component", "engine")),
		cmds:      make(chan command, cfg.CommandBuffer),
		ownerDone: make(chan struct{}),
		phase:     domain.PhaseStopped,
		live:      cfg.Live && deps.Live != nil,
	}
	e.orders.SetExchange(e.venue(e.live))
	e.metrics.SetPhase(string(domain.PhaseStopped), allPhases)
	e.refreshView()
	return e
}

// Run owns the ledger until ctx is cancelled. Loops started by Start inherit
// ctx, so the caller should Stop the engine before cancelling it.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	e.base = ctx
	e.mu.Unlock()
	defer close(e.ownerDone)

	e.logger.Info("ledger owner started")
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("ledger owner stopped")
			return nil
		case c := <-e.cmds:
			c.done <- c.fn(e.ledger)
			e.refreshView()
		}
	}
}

// do runs fn on the owner goroutine and waits for its result. Once the command
// is queued do waits for it regardless of ctx so a mutation is never left
// half-observed.
func (e *Engine) do(ctx context.Context, fn func(*ledger.Ledger) error) error {
	c := command{fn: fn, done: make(chan error, 1)}
	select {
	case e.cmds <- c:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.ownerDone:
		return errOwnerStopped
	}
	select {
	case err := <-c.done:
		return err
	case <-e.ownerDone:
		return errOwnerStopped
	}
}

func (e *Engine) refreshView() {
	open := e.ledger.OpenPositions()
	v := &view{
		account: e.ledger.Account(),
		stats:   e.ledger.Stats(),
		open:    open,
		pending: e.ledger.OpenCount() - len(open),
	}
	e.view.Store(v)
	e.metrics.SetBook(v.account.CurrentCapital, v.account.TotalPnL, len(open))
}

func (e *Engine) snapshot() *view { return e.view.Load() }

// Restore loads persisted account state and open positions. It must be called
// before Run. A persisted emergency stop is kept: the operator still has to
// restart explicitly.
func (e *Engine) Restore(ctx context.Context) error {
	if e.status == nil {
		return nil
	}
	st, err := e.status.ReadStatus(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		e.logger.InfoContext(ctx, "no persisted status, starting fresh")
		return nil
	}
	if err != nil {
		return fmt.Errorf("engine: read status: %w", err)
	}
	open, err := e.journal.LoadOpen(ctx)
	if err != nil {
		return fmt.Errorf("engine: restore: %w", err)
	}
	if err := e.ledger.Restore(st.Account, st.Stats, open); err != nil {
		return fmt.Errorf("engine: restore: %w", err)
	}

	e.mu.Lock()
	e.live = st.Live && e.liveEx != nil
	e.riskSnap = st.Risk
	e.lastErr = st.LastError
	if st.Phase == domain.PhaseEmergencyStopped {
		e.phase = domain.PhaseEmergencyStopped
		e.halt.Store(true)
	}
	live, phase := e.live, e.phase
	e.mu.Unlock()

	e.orders.SetExchange(e.venue(live))
	e.metrics.SetPhase(string(phase), allPhases)
	e.refreshView()
	e.logger.InfoContext(ctx, "state restored",
		slog.String("phase", string(phase)),
		slog.Bool("live", live),
		slog.Int("open_positions", len(open)),
		slog.Float64("capital", st.Account.CurrentCapital),
	)
	return nil
}

// Start verifies venue connectivity and spawns the loops. Starting a running
// engine is a no-op. Starting from EmergencyStopped is the operator restart:
// it clears the entry halt, the drawdown baseline and the holds on symbols
// with unresolved orders.
func (e *Engine) Start(ctx context.Context) error {
	e.ctl.Lock()
	defer e.ctl.Unlock()

	prev := e.Phase()
	switch prev {
	case domain.PhaseRunning, domain.PhaseStarting:
		return nil
	case domain.PhaseStopping:
		return fmt.Errorf("engine: start while %s: %w", prev, domain.ErrInvalidTransition)
	}
	e.setPhase(domain.PhaseStarting)

	ex := e.orders.Exchange()
	if err := retry.Do(ctx, e.policy, ex.Ping); err != nil {
		e.setPhase(prev)
		e.recordError("start", err)
		return fmt.Errorf("engine: ping %s: %w", ex.Name(), err)
	}
	if e.locks != nil {
		lock, err := e.locks.Acquire(ctx, e.cfg.LockKey, e.cfg.LockTTL)
		if err != nil {
			e.setPhase(prev)
			e.recordError("start", err)
			return fmt.Errorf("engine: acquire lock: %w", err)
		}
		e.mu.Lock()
		e.lock = lock
		e.mu.Unlock()
	}

	if e.halt.Load() {
		var held map[string]string
		if err := e.do(ctx, func(l *ledger.Ledger) error {
			l.ResetRiskBaseline()
			held = l.ReleaseHolds()
			return nil
		}); err != nil {
			e.releaseLock()
			e.setPhase(prev)
			return fmt.Errorf("engine: reset risk baseline: %w", err)
		}
		e.halt.Store(false)
		e.logger.WarnContext(ctx, "restarting after emergency stop", slog.Any("released_holds", held))
	}

	e.mu.Lock()
	base := e.base
	e.mu.Unlock()
	if base == nil {
		base = context.Background()
	}
	loopCtx, cancel := context.WithCancel(base)
	g, gctx := errgroup.WithContext(loopCtx)
	for _, l := range e.loops() {
		g.Go(func() error { return e.runLoop(gctx, l) })
	}
	done := make(chan struct{})
	go func() {
		if err := g.Wait(); err != nil {
			e.logger.Error("loops exited with error", slog.String("error", err.Error()))
		}
		close(done)
	}()

	now := e.clock()
	e.mu.Lock()
	e.cancel = cancel
	e.loopsDone = done
	e.startedAt = &now
	e.mu.Unlock()
	e.accepting.Store(true)
	e.setPhase(domain.PhaseRunning)

	e.logger.InfoContext(ctx, "engine started",
		slog.String("venue", ex.Name()),
		slog.Bool("live", e.Live()),
		slog.Int("symbols", len(e.cfg.Symbols)),
	)
	e.journal.Log(ctx, "info", "engine_started", "", map[string]any{"venue": ex.Name(), "live": e.Live()})
	e.publish(ctx, domain.EventStatus, e.Status())
	e.persistStatus(ctx)
	return nil
}

// Stop cancels the loops, closes every open position with reason shutdown,
// cancels resting orders and leaves the engine Stopped.
func (e *Engine) Stop(ctx context.Context) error {
	e.ctl.Lock()
	defer e.ctl.Unlock()

	switch e.Phase() {
	case domain.PhaseStopped:
		return nil
	case domain.PhaseEmergencyStopped:
		e.setPhase(domain.PhaseStopped)
		e.publish(ctx, domain.EventStatus, e.Status())
		e.persistStatus(ctx)
		return nil
	}

	e.accepting.Store(false)
	e.setPhase(domain.PhaseStopping)
	e.logger.InfoContext(ctx, "engine stopping")

	finished := e.haltLoops()
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.StopTimeout)
	defer cancel()

	err := e.closeAll(sctx, domain.CloseShutdown, finished)
	if err != nil {
		e.recordError("stop", err)
	}
	e.cancelOrders(sctx)
	e.releaseLock()

	e.mu.Lock()
	e.startedAt = nil
	e.mu.Unlock()
	e.setPhase(domain.PhaseStopped)

	e.journal.Log(sctx, "info", "engine_stopped", "", nil)
	e.publish(sctx, domain.EventStatus, e.Status())
	e.persistStatus(sctx)
	e.logger.InfoContext(ctx, "engine stopped")
	return err
}

// EmergencyStop force-closes every position with reason risk_management and
// halts new entries. The engine stays EmergencyStopped until Start.
func (e *Engine) EmergencyStop(ctx context.Context, reason string) error {
	e.accepting.Store(false)
	e.ctl.Lock()
	defer e.ctl.Unlock()

	switch phase := e.Phase(); phase {
	case domain.PhaseEmergencyStopped:
		return nil
	case domain.PhaseRunning:
	default:
		return fmt.Errorf("engine: emergency stop while %s: %w", phase, domain.ErrInvalidTransition)
	}
	e.halt.Store(true)
	e.metrics.RecordEmergencyStop()
	e.setPhase(domain.PhaseEmergencyStopped)
	e.logger.ErrorContext(ctx, "emergency stop", slog.String("reason", reason))

	finished := e.haltLoops()
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.StopTimeout)
	defer cancel()

	err := e.closeAll(sctx, domain.CloseRiskManagement, finished)
	e.cancelOrders(sctx)
	e.releaseLock()

	now := e.clock()
	e.mu.Lock()
	e.startedAt = nil
	e.lastErr = "emergency stop: " + reason
	e.lastErrAt = &now
	e.mu.Unlock()
	if err != nil {
		e.recordError("emergency_stop", err)
	}

	e.journal.Log(sctx, "error", "emergency_stop", "", map[string]any{"reason": reason})
	e.publish(sctx, domain.EventEmergencyStop, map[string]any{"reason": reason, "at": now})
	e.publish(sctx, domain.EventStatus, e.Status())
	e.persistStatus(sctx)
	return err
}

// trip halts entries at once and runs the emergency stop in the background so
// the calling loop can be cancelled by it.
func (e *Engine) trip(reason string) {
	if !e.halt.CompareAndSwap(false, true) {
		return
	}
	go func() {
		if err := e.EmergencyStop(context.Background(), reason); err != nil {
			e.logger.Error("emergency stop failed", slog.String("reason", reason), slog.String("error", err.Error()))
		}
	}()
}

// ToggleLiveMode switches between the testnet and live venues. It is only
// allowed while Stopped.
func (e *Engine) ToggleLiveMode(ctx context.Context, live bool) error {
	e.ctl.Lock()
	defer e.ctl.Unlock()

	if phase := e.Phase(); phase != domain.PhaseStopped {
		return fmt.Errorf("engine: toggle live mode while %s: %w", phase, domain.ErrInvalidTransition)
	}
	if live && e.liveEx == nil {
		return fmt.Errorf("engine: %w: no live venue configured", domain.ErrValidation)
	}
	if e.Live() == live {
		return nil
	}
	ex := e.venue(live)
	e.orders.SetExchange(ex)
	e.mu.Lock()
	e.live = live
	e.mu.Unlock()

	e.logger.WarnContext(ctx, "trading mode changed", slog.Bool("live", live), slog.String("venue", ex.Name()))
	e.journal.Log(ctx, "warn", "mode_changed", "", map[string]any{"live": live, "venue": ex.Name()})
	e.publish(ctx, domain.EventModeChanged, map[string]any{"live": live, "venue": ex.Name()})
	e.persistStatus(ctx)
	return nil
}

// AddCapital deposits (or withdraws, when negative) capital. Amounts that
// would drive capital below zero are rejected.
func (e *Engine) AddCapital(ctx context.Context, amount float64) (domain.Account, error) {
	var acct domain.Account
	err := e.do(ctx, func(l *ledger.Ledger) error {
		var err error
		acct, err = l.Deposit(amount)
		return err
	})
	if err != nil {
		return acct, fmt.Errorf("engine: add capital: %w", err)
	}
	e.logger.InfoContext(ctx, "capital changed",
		slog.Float64("amount", amount),
		slog.Float64("current_capital", acct.CurrentCapital),
	)
	e.journal.Log(ctx, "info", "capital_changed", "", map[string]any{
		"amount":          amount,
		"current_capital": acct.CurrentCapital,
	})
	e.publish(ctx, domain.EventCapitalChanged, acct)
	return acct, nil
}

// Status returns a snapshot for the control surface.
func (e *Engine) Status() domain.Status {
	v := e.snapshot()
	e.mu.RLock()
	defer e.mu.RUnlock()
	return domain.Status{
		Phase:         e.phase,
		Live:          e.live,
		Account:       v.account,
		Stats:         v.stats,
		OpenPositions: slices.Clone(v.open),
		Risk:          e.riskSnap,
		LastError:     e.lastErr,
		LastErrorAt:   e.lastErrAt,
		StartedAt:     e.startedAt,
		UpdatedAt:     e.clock(),
	}
}

// Phase returns the current lifecycle phase.
func (e *Engine) Phase() domain.Phase {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.phase
}

// Live reports whether the live venue is selected.
func (e *Engine) Live() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.live
}

// RecentClosed returns up to n positions closed this session, newest first.
func (e *Engine) RecentClosed(ctx context.Context, n int) ([]domain.Position, error) {
	var out []domain.Position
	err := e.do(ctx, func(l *ledger.Ledger) error {
		out = l.RecentClosed(n)
		return nil
	})
	return out, err
}

func (e *Engine) setPhase(p domain.Phase) {
	e.mu.Lock()
	e.phase = p
	e.mu.Unlock()
	e.metrics.SetPhase(string(p), allPhases)
}

func (e *Engine) venue(live bool) domain.ExchangeClient {
	if live && e.liveEx != nil {
		return e.liveEx
	}
	return e.testnet
}

// haltLoops cancels the loops and waits up to StopTimeout for them. It reports
// whether every loop returned.
func (e *Engine) haltLoops() bool {
	e.mu.Lock()
	cancel, done := e.cancel, e.loopsDone
	e.cancel, e.loopsDone = nil, nil
	e.mu.Unlock()
	if cancel == nil {
		return true
	}
	cancel()

	t := time.NewTimer(e.cfg.StopTimeout)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		e.logger.Warn("loops did not stop in time", slog.Duration("timeout", e.cfg.StopTimeout))
		return false
	}
}

func (e *Engine) cancelOrders(ctx context.Context) {
	n, err := e.orders.CancelAll(ctx)
	if err != nil {
		e.recordError("cancel_orders", err)
		return
	}
	if n > 0 {
		e.logger.InfoContext(ctx, "cancelled outstanding orders", slog.Int("count", n))
	}
}

func (e *Engine) releaseLock() {
	e.mu.Lock()
	lock := e.lock
	e.lock = nil
	e.mu.Unlock()
	if lock != nil {
		lock.Release()
	}
}

// recordError keeps err as the status surface's last_error.
func (e *Engine) recordError(source string, err error) {
	now := e.clock()
	msg := source + ": " + err.Error()
	e.mu.Lock()
	e.lastErr = msg
	e.lastErrAt = &now
	e.mu.Unlock()
	e.logger.Error("engine error",
		slog.String("source", source),
		slog.String("kind", errKind(err)),
		slog.String("error", err.Error()),
	)
}

func (e *Engine) persistStatus(ctx context.Context) {
	if e.status == nil {
		return
	}
	st := e.Status()
	err := retry.Do(ctx, e.policy, func(ctx context.Context) error {
		return e.status.WriteStatus(ctx, domain.BotStatus{
			Phase:     st.Phase,
			Live:      st.Live,
			Account:   st.Account,
			Stats:     st.Stats,
			Risk:      st.Risk,
			LastError: st.LastError,
			UpdatedAt: st.UpdatedAt,
		})
	})
	if err != nil {
		e.logger.WarnContext(ctx, "persist status failed", slog.String("error", err.Error()))
	}
}

func (e *Engine) publish(ctx context.Context, eventType string, payload any) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(ctx, eventType, payload); err != nil {
		e.logger.WarnContext(ctx, "publish failed", slog.String("event", eventType), slog.String("error", err.Error()))
	}
}

// errKind labels err by its taxonomy class.
func errKind(err error) string {
	var breach *domain.RiskBreach
	switch {
	case err == nil:
		return ""
	case errors.As(err, &breach), errors.Is(err, domain.ErrRiskBreach):
		return "risk_breach"
	case errors.Is(err, domain.ErrConsistency):
		return "consistency"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, domain.ErrTransientIO):
		return "transient"
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrInsufficientData):
		return "insufficient_data"
	default:
		return "other"
	}
}
