package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/hedgebot/internal/domain"
	"github.com/alanyoungcy/hedgebot/internal/retry"
)

// PriceService pulls prices and candles from the market feed, keeps the price
// cache warm and publishes market data events.
type PriceService struct {
	feed   domain.MarketFeed
	cache  domain.PriceCache
	bus    domain.Publisher
	policy retry.Policy

	candleInterval string
	candleLimit    int
	atrPeriod      int
	maxAge         time.Duration
	clock          domain.Clock
	logger         *slog.Logger
}

// PriceConfig controls the candle window used for market conditions and how
// old a cached price may be before the feed is asked again.
type PriceConfig struct {
	CandleInterval string
	CandleLimit    int
	ATRPeriod      int
	MaxAge         time.Duration
}

// NewPriceService creates a PriceService with all required dependencies.
func NewPriceService(
	feed domain.MarketFeed,
	cache domain.PriceCache,
	bus domain.Publisher,
	policy retry.Policy,
	cfg PriceConfig,
	logger *slog.Logger,
) *PriceService {
	if cfg.CandleInterval == "" {
		cfg.CandleInterval = "1h"
	}
	if cfg.CandleLimit <= 0 {
		cfg.CandleLimit = 48
	}
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = 14
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = time.Minute
	}
	return &PriceService{
		feed:           feed,
		cache:          cache,
		bus:            bus,
		policy:         policy,
		candleInterval: cfg.CandleInterval,
		candleLimit:    cfg.CandleLimit,
		atrPeriod:      cfg.ATRPeriod,
		maxAge:         cfg.MaxAge,
		clock:          time.Now,
		logger:         logger.With(slog.String("component", "price_service")),
	}
}

// Refresh fetches the current price of every symbol, stores it in the cache
// and publishes one market_data event. A symbol that fails is left out of the
// result; the joined error reports which ones.
func (s *PriceService) Refresh(ctx context.Context, symbols []string) (map[string]domain.Ticker, error) {
	out := make(map[string]domain.Ticker, len(symbols))
	var errs []error
	for _, sym := range symbols {
		t, err := retry.Value(ctx, s.policy, func(ctx context.Context) (domain.Ticker, error) {
			return s.feed.PriceOf(ctx, sym)
		})
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			errs = append(errs, fmt.Errorf("%s: %w", sym, err))
			continue
		}
		if t.Price <= 0 {
			errs = append(errs, fmt.Errorf("%s: non-positive price %v: %w", sym, t.Price, domain.ErrInsufficientData))
			continue
		}
		if t.At.IsZero() {
			t.At = s.clock().UTC()
		}
		out[sym] = t
		if s.cache != nil {
			if err := s.cache.SetPrice(ctx, sym, t.Price, t.At); err != nil {
				s.logger.WarnContext(ctx, "cache price failed", slog.String("symbol", sym), slog.String("error", err.Error()))
			}
		}
	}

	if len(out) > 0 && s.bus != nil {
		prices := make(map[string]float64, len(out))
		for sym, t := range out {
			prices[sym] = t.Price
		}
		if err := s.bus.Publish(ctx, domain.EventMarketData, map[string]any{"prices": prices}); err != nil {
			s.logger.WarnContext(ctx, "publish market data failed", slog.String("error", err.Error()))
		}
	}

	if len(errs) > 0 {
		return out, fmt.Errorf("price_service: refresh: %w", errors.Join(errs...))
	}
	return out, nil
}

// Latest reads cached prices no older than the configured maximum age and
// asks the feed for the rest. A symbol with no fresh price is left out and
// reported in the error; a stale cached price is never returned.
func (s *PriceService) Latest(ctx context.Context, symbols []string) (map[string]float64, error) {
	out := make(map[string]float64, len(symbols))
	if s.cache != nil {
		cached, err := s.cache.GetPrices(ctx, symbols)
		if err != nil {
			s.logger.WarnContext(ctx, "read cached prices failed", slog.String("error", err.Error()))
		}
		now := s.clock()
		for sym, t := range cached {
			if now.Sub(t.At) > s.maxAge {
				s.logger.DebugContext(ctx, "cached price stale",
					slog.String("symbol", sym),
					slog.Duration("age", now.Sub(t.At)),
				)
				continue
			}
			out[sym] = t.Price
		}
	}
	var missing []string
	for _, sym := range symbols {
		if _, ok := out[sym]; !ok {
			missing = append(missing, sym)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}
	fresh, err := s.Refresh(ctx, missing)
	for sym, t := range fresh {
		out[sym] = t.Price
	}
	return out, err
}

// Conditions derives the market conditions and the ATR for symbol from the
// candle window. Too little history yields zero volatility and zero ATR so
// the caller falls back to its defaults.
func (s *PriceService) Conditions(ctx context.Context, symbol string, price float64) (domain.MarketConditions, float64, error) {
	mc := domain.MarketConditions{Price: price}
	candles, err := retry.Value(ctx, s.policy, func(ctx context.Context) ([]domain.Candle, error) {
		return s.feed.Candles(ctx, symbol, s.candleInterval, s.candleLimit)
	})
	if err != nil {
		return mc, 0, fmt.Errorf("price_service: candles %s: %w", symbol, err)
	}
	if mc.Price <= 0 && len(candles) > 0 {
		mc.Price = candles[len(candles)-1].Close
	}

	vol, err := RealizedVolatility(candles)
	if err != nil && !errors.Is(err, domain.ErrInsufficientData) {
		return mc, 0, err
	}
	mc.Volatility = vol

	atr, err := ATR(candles, s.atrPeriod)
	if err != nil {
		if !errors.Is(err, domain.ErrInsufficientData) {
			return mc, 0, err
		}
		s.logger.DebugContext(ctx, "atr unavailable", slog.String("symbol", symbol), slog.Int("candles", len(candles)))
		atr = 0
	}
	return mc, atr, nil
}
