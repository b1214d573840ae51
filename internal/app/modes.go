package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/hedgebot/internal/domain"
	"github.com/alanyoungcy/hedgebot/internal/engine"
	"github.com/alanyoungcy/hedgebot/internal/feed"
	"github.com/alanyoungcy/hedgebot/internal/ledger"
	"github.com/alanyoungcy/hedgebot/internal/notify"
	"github.com/alanyoungcy/hedgebot/internal/retry"
	"github.com/alanyoungcy/hedgebot/internal/server"
	"github.com/alanyoungcy/hedgebot/internal/server/handler"
	"github.com/alanyoungcy/hedgebot/internal/server/middleware"
	"github.com/alanyoungcy/hedgebot/internal/server/ws"
	"github.com/alanyoungcy/hedgebot/internal/service"
	"github.com/alanyoungcy/hedgebot/internal/signal"
)

// engineStack is the trading core shared by trade and full modes.
type engineStack struct {
	engine    *engine.Engine
	prices    *service.PriceService
	trades    *service.TradeService
	stream    *feed.StreamFeed
	publisher *notify.Publisher
}

// TradeMode runs the engine without the HTTP surface. Events still reach
// Redis subscribers (a server-mode process) and the notifier.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")
	stack := a.buildEngine(deps, nil)
	return a.runEngine(ctx, deps, stack, nil)
}

// FullMode runs the engine and serves its control surface from one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	var eng *engine.Engine
	hub := ws.NewHub(func() any { return eng.Status() }, a.cfg.Server.CORSOrigins, a.logger)
	stack := a.buildEngine(deps, hub)
	eng = stack.engine

	return a.runEngine(ctx, deps, stack, func(ctx context.Context, g *errgroup.Group) {
		g.Go(func() error { return hub.Run(ctx) })
		if a.cfg.Server.Enabled {
			a.startHTTPServer(ctx, g, deps, eng, stack.prices, stack.trades, hub)
		}
	})
}

// ServerMode serves the API for an engine running in another process. Status
// is read from the store and events are relayed from the Redis event bus.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	remote := newRemoteEngine(deps.Store, a.logger)
	hub := ws.NewHub(func() any { return remote.Status() }, a.cfg.Server.CORSOrigins, a.logger)
	prices := service.NewPriceService(deps.MarketData, deps.PriceCache, nil, a.retryPolicy(), a.priceConfig(), a.logger)
	trades := service.NewTradeService(deps.Store, deps.Store, a.logger)

	g.Go(func() error {
		return remote.poll(ctx, a.cfg.Engine.PersistInterval.Duration)
	})
	g.Go(func() error { return hub.Run(ctx) })

	if deps.EventBus != nil {
		relay := feed.NewEventRelay(deps.EventBus, hub.Broadcast, a.logger)
		g.Go(func() error {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("event relay: %w", err)
			}
			return nil
		})
	} else {
		a.logger.WarnContext(ctx, "redis not configured, websocket clients only receive status snapshots")
	}

	a.startHTTPServer(ctx, g, deps, remote, prices, trades, hub)
	a.startRetention(ctx, g, deps, trades)

	return g.Wait()
}

// buildEngine assembles the services and the engine. hub may be nil.
func (a *App) buildEngine(deps *Dependencies, hub *ws.Hub) *engineStack {
	cfg := a.cfg
	policy := a.retryPolicy()

	var sinks fanout
	if deps.EventBus != nil {
		sinks = append(sinks, deps.EventBus)
	}
	if hub != nil {
		sinks = append(sinks, hub)
	}
	publisher := notify.NewPublisher(sinks, deps.Notifier)

	stream := feed.NewStreamFeed(
		cfg.Exchange.StreamURL,
		cfg.Trading.Symbols,
		deps.MarketData,
		cfg.Exchange.StreamStaleAfter.Duration,
		func(t domain.Ticker) {
			_ = deps.PriceCache.SetPrice(context.Background(), t.Symbol, t.Price, t.At)
		},
		a.logger,
	)

	t := cfg.Trading
	risk := service.NewRiskService(service.RiskConfig{
		ConfidenceFloor:        t.ConfidenceFloor,
		MinMove:                t.MinMove,
		VolatilityCeiling:      t.VolatilityCeiling,
		DefaultVolatility:      t.DefaultVolatility,
		TargetVolatility:       cfg.Risk.TargetVolatility,
		RiskPerTrade:           t.RiskPerTrade,
		ConfidenceMultiplier:   t.ConfidenceMultiplier,
		MaxPositionFraction:    t.MaxPositionFraction,
		StopLossPct:            t.StopLossPct,
		TakeProfitPct:          t.TakeProfitPct,
		ATRMultiplier:          t.ATRMultiplier,
		RiskRewardRatio:        t.RiskRewardRatio,
		MinCapital:             t.MinCapital,
		MaxConcurrentPositions: t.MaxConcurrentPositions,
		MaxDrawdown:            cfg.Risk.MaxDrawdown,
		MaxVaR:                 cfg.Risk.MaxVaR,
		MaxExposure:            cfg.Risk.MaxExposure,
		RiskFreeRate:           cfg.Risk.RiskFreeRate,
		PeriodsPerYear:         cfg.Risk.PeriodsPerYear,
		MinSamples:             cfg.Risk.MinSamples,
	}, a.logger)

	orders := service.NewOrderService(
		deps.Testnet, deps.RulesCache, deps.RateLimiter, deps.Store,
		policy, cfg.Exchange.OrdersPerMinute, a.logger,
	)
	prices := service.NewPriceService(stream, deps.PriceCache, publisher, policy, a.priceConfig(), a.logger)
	journal := service.NewPositionService(deps.Store, deps.Store, publisher, policy, a.logger)

	led := ledger.New(ledger.Config{
		TrailingStopPct: t.TrailingStopPct,
		MaxHolding:      t.MaxHolding.Duration,
		ExcursionLimit:  t.ExcursionLimit,
	}, t.StartingCapital)

	e := cfg.Engine
	eng := engine.New(engine.Config{
		Symbols:          t.Symbols,
		Live:             cfg.Exchange.Live,
		PriceInterval:    e.PriceInterval.Duration,
		DecisionInterval: e.DecisionInterval.Duration,
		PositionInterval: e.PositionInterval.Duration,
		RiskInterval:     e.RiskInterval.Duration,
		PersistInterval:  e.PersistInterval.Duration,
		CommandBuffer:    e.CommandBuffer,
		StopTimeout:      e.StopTimeout.Duration,
		OrderTimeout:     e.OrderTimeout.Duration,
		LockKey:          e.LockKey,
		LockTTL:          e.LockTTL.Duration,
	}, engine.Deps{
		Ledger:  led,
		Risk:    risk,
		Orders:  orders,
		Prices:  prices,
		Journal: journal,
		Signals: a.signalSource(deps, stream),
		Status:  deps.Store,
		Risks:   deps.Store,
		Bus:     publisher,
		Locks:   deps.LockManager,
		Testnet: deps.Testnet,
		Live:    deps.Live,
		Metrics: deps.Metrics,
		Policy:  policy,
	}, a.logger)

	return &engineStack{
		engine:    eng,
		prices:    prices,
		trades:    service.NewTradeService(deps.Store, deps.Store, a.logger),
		stream:    stream,
		publisher: publisher,
	}
}

// signalSource builds the configured prediction source. Redis predictions
// are passed through once each and gaps are filled from the fallback.
func (a *App) signalSource(deps *Dependencies, market domain.MarketFeed) domain.SignalSource {
	sc := a.cfg.Signals
	local := func(name string) domain.SignalSource {
		switch name {
		case "momentum":
			return signal.NewMomentum(market, signal.MomentumConfig{
				Interval:   a.cfg.Trading.CandleInterval,
				FastPeriod: sc.FastPeriod,
				SlowPeriod: sc.SlowPeriod,
			}, a.logger)
		case "mean_reversion":
			return signal.NewMeanReversion(market, signal.MeanReversionConfig{
				Interval:  a.cfg.Trading.CandleInterval,
				Lookback:  sc.Lookback,
				Threshold: sc.ZThreshold,
			}, a.logger)
		}
		return nil
	}

	if sc.Source != "redis" {
		return local(sc.Source)
	}
	fallback := local(sc.Fallback)
	if deps.Predictions == nil {
		a.logger.Warn("redis predictions unavailable, using fallback source only")
		if fallback == nil {
			return local("momentum")
		}
		return fallback
	}
	return signal.NewChain(signal.NewDedup(deps.Predictions, sc.DedupTTL.Duration), fallback, a.logger)
}

// runEngine restores state, runs the ledger owner and the stream feed, and
// stops the engine when ctx is cancelled. The owner goroutine is cancelled
// only after Stop has closed the book, since Stop needs it.
func (a *App) runEngine(ctx context.Context, deps *Dependencies, stack *engineStack, extra func(context.Context, *errgroup.Group)) error {
	eng := stack.engine
	if err := eng.Restore(ctx); err != nil {
		return fmt.Errorf("app: %w", err)
	}

	ownerCtx, stopOwner := context.WithCancel(context.WithoutCancel(ctx))
	ownerDone := make(chan struct{})
	go func() {
		defer close(ownerDone)
		_ = eng.Run(ownerCtx)
	}()
	defer func() {
		stopOwner()
		<-ownerDone
		stack.publisher.Wait()
	}()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := stack.stream.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("stream feed: %w", err)
		}
		return nil
	})

	a.startRetention(ctx, g, deps, stack.trades)

	if extra != nil {
		extra(ctx, g)
	}

	if a.cfg.Engine.AutoStart {
		g.Go(func() error {
			if err := eng.Start(ctx); err != nil {
				a.logger.ErrorContext(ctx, "auto start failed", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		// An emergency stop outlives the process until an operator restarts.
		if eng.Phase() == domain.PhaseEmergencyStopped {
			return nil
		}
		timeout := a.cfg.Engine.StopTimeout.Duration
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		sctx, cancel := context.WithTimeout(context.Background(), 2*timeout)
		defer cancel()
		if err := eng.Stop(sctx); err != nil {
			a.logger.ErrorContext(sctx, "engine stop failed", slog.String("error", err.Error()))
		}
		return nil
	})

	return g.Wait()
}

// startRetention archives old trades and logs to S3 when configured, and
// otherwise only prunes old log entries.
func (a *App) startRetention(ctx context.Context, g *errgroup.Group, deps *Dependencies, trades *service.TradeService) {
	every := a.cfg.Archive.Interval.Duration
	if every <= 0 {
		every = 24 * time.Hour
	}
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
	if retention <= 0 {
		return
	}

	if deps.Archiver != nil {
		g.Go(func() error {
			return deps.Archiver.RunEvery(ctx, every, retention)
		})
		return
	}
	g.Go(func() error {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := trades.Cleanup(ctx, retention); err != nil {
					a.logger.WarnContext(ctx, "log cleanup failed", slog.String("error", err.Error()))
				}
			}
		}
	})
}

// startHTTPServer adds the HTTP server to the given errgroup. The server is
// shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	control handler.EngineControl,
	prices handler.PriceSource,
	trades *service.TradeService,
	hub *ws.Hub,
) {
	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(deps.Checks, a.logger),
		Engine:    handler.NewEngineHandler(control, a.logger),
		Positions: handler.NewPositionHandler(control),
		Trades:    handler.NewTradeHandler(trades, control, a.logger),
		Prices:    handler.NewPriceHandler(prices, a.cfg.Trading.Symbols, a.logger),
	}
	if a.cfg.Metrics.Enabled {
		handlers.Metrics = deps.Metrics.Handler()
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, hub, a.rateLimit(deps), a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)),
		)
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// rateLimit prefers the shared Redis window so every API replica counts
// against one budget, and falls back to in-process token buckets.
func (a *App) rateLimit(deps *Dependencies) func(http.Handler) http.Handler {
	rps, burst := a.cfg.Server.RequestsPerSec, a.cfg.Server.Burst
	if rps <= 0 {
		return nil
	}
	if deps.RateLimiter != nil {
		return middleware.RateLimit(deps.RateLimiter, int(rps*60), time.Minute)
	}
	return middleware.NewIPLimiter(rps, burst).Middleware
}

func (a *App) retryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	e := a.cfg.Engine
	if e.RetryAttempts > 0 {
		p.Attempts = e.RetryAttempts
	}
	if e.RetryMin.Duration > 0 {
		p.Backoff.Min = e.RetryMin.Duration
	}
	if e.RetryMax.Duration > 0 {
		p.Backoff.Max = e.RetryMax.Duration
	}
	return p
}

func (a *App) priceConfig() service.PriceConfig {
	return service.PriceConfig{
		CandleInterval: a.cfg.Trading.CandleInterval,
		CandleLimit:    a.cfg.Trading.CandleWindow,
		MaxAge:         max(3*a.cfg.Engine.PriceInterval.Duration, a.cfg.Exchange.StreamStaleAfter.Duration),
	}
}
