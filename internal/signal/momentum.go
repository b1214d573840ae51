// Package signal provides prediction sources for the decision loop.
package signal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

// MomentumConfig tunes the EMA crossover source.
type MomentumConfig struct {
	Interval   string
	Limit      int
	FastPeriod int
	SlowPeriod int
}

// Momentum predicts from an EMA crossover on recent candles. Direction is the
// fractional gap between the fast and slow EMA, and the risk score is the
// share of recent return noise relative to that gap. Confidence is its
// complement.
type Momentum struct {
	feed   domain.MarketFeed
	cfg    MomentumConfig
	clock  domain.Clock
	logger *slog.Logger
}

var _ domain.SignalSource = (*Momentum)(nil)

// NewMomentum creates a Momentum source over feed.
func NewMomentum(feed domain.MarketFeed, cfg MomentumConfig, logger *slog.Logger) *Momentum {
	if cfg.Interval == "" {
		cfg.Interval = "1h"
	}
	if cfg.FastPeriod <= 0 {
		cfg.FastPeriod = 12
	}
	if cfg.SlowPeriod <= cfg.FastPeriod {
		cfg.SlowPeriod = 2 * cfg.FastPeriod
	}
	if cfg.Limit < cfg.SlowPeriod+1 {
		cfg.Limit = 100
	}
	return &Momentum{
		feed:   feed,
		cfg:    cfg,
		clock:  time.Now,
		logger: logger.With(slog.String("component", "momentum_signal")),
	}
}

// Predict evaluates each symbol independently. Symbols with too little
// history are skipped; boundary failures are joined into the error while the
// remaining symbols are still evaluated.
func (m *Momentum) Predict(ctx context.Context, symbols []string) (map[string]domain.Prediction, error) {
	out := make(map[string]domain.Prediction, len(symbols))
	var errs []error
	for _, sym := range symbols {
		candles, err := m.feed.Candles(ctx, sym, m.cfg.Interval, m.cfg.Limit)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			errs = append(errs, fmt.Errorf("%s: %w", sym, err))
			continue
		}
		closes := make([]float64, len(candles))
		for i, c := range candles {
			closes[i] = c.Close
		}
		p, err := m.evaluate(sym, closes)
		if err != nil {
			m.logger.DebugContext(ctx, "no prediction", slog.String("symbol", sym), slog.String("error", err.Error()))
			continue
		}
		out[sym] = p
	}
	if len(errs) > 0 {
		return out, fmt.Errorf("signal: momentum: %w", errors.Join(errs...))
	}
	return out, nil
}

func (m *Momentum) evaluate(symbol string, closes []float64) (domain.Prediction, error) {
	fast, err := EMA(closes, m.cfg.FastPeriod)
	if err != nil {
		return domain.Prediction{}, err
	}
	slow, err := EMA(closes, m.cfg.SlowPeriod)
	if err != nil {
		return domain.Prediction{}, err
	}
	if slow <= 0 {
		return domain.Prediction{}, fmt.Errorf("signal: slow ema %v: %w", slow, domain.ErrInsufficientData)
	}
	direction := math.Max(-1, math.Min(1, fast/slow-1))

	// Noise over the slow window, scaled to the same horizon as the gap.
	window := closes[len(closes)-m.cfg.SlowPeriod:]
	var sum, sumSq float64
	n := 0
	for i := 1; i < len(window); i++ {
		if window[i-1] <= 0 {
			continue
		}
		r := window[i]/window[i-1] - 1
		sum += r
		sumSq += r * r
		n++
	}
	noise := 0.0
	if n > 1 {
		mean := sum / float64(n)
		noise = math.Sqrt(math.Max(0, (sumSq-float64(n)*mean*mean)/float64(n-1)))
	}
	risk := 1.0
	if gap := math.Abs(direction); gap+noise > 0 {
		risk = noise / (gap + noise)
	}

	return domain.Prediction{
		Symbol:     symbol,
		Direction:  direction,
		Confidence: 1 - risk,
		RiskScore:  risk,
		Source:     "momentum",
		At:         m.clock().UTC(),
	}, nil
}

// EMA returns the last value of the exponential moving average of xs over
// period, seeded with the simple average of the first period values.
func EMA(xs []float64, period int) (float64, error) {
	if period < 1 || len(xs) < period {
		return 0, fmt.Errorf("signal: ema(%d) over %d points: %w", period, len(xs), domain.ErrInsufficientData)
	}
	ema := 0.0
	for _, x := range xs[:period] {
		ema += x
	}
	ema /= float64(period)
	k := 2 / float64(period+1)
	for _, x := range xs[period:] {
		ema = x*k + ema*(1-k)
	}
	return ema, nil
}
