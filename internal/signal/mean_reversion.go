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

// MeanReversionConfig tunes the z-score source.
type MeanReversionConfig struct {
	Interval  string
	Lookback  int
	Threshold float64 // standard deviations before a call is made
}

// MeanReversion bets on a return to the lookback mean when the last close
// sits more than Threshold standard deviations away from it. Direction is the
// fractional move back to the mean; confidence grows with the deviation.
type MeanReversion struct {
	feed   domain.MarketFeed
	cfg    MeanReversionConfig
	clock  domain.Clock
	logger *slog.Logger
}

var _ domain.SignalSource = (*MeanReversion)(nil)

// NewMeanReversion creates a MeanReversion source over feed.
func NewMeanReversion(feed domain.MarketFeed, cfg MeanReversionConfig, logger *slog.Logger) *MeanReversion {
	if cfg.Interval == "" {
		cfg.Interval = "1h"
	}
	if cfg.Lookback < 3 {
		cfg.Lookback = 20
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 2.0
	}
	return &MeanReversion{
		feed:   feed,
		cfg:    cfg,
		clock:  time.Now,
		logger: logger.With(slog.String("component", "mean_reversion_signal")),
	}
}

// Predict evaluates each symbol independently. Symbols within the threshold
// get no prediction.
func (m *MeanReversion) Predict(ctx context.Context, symbols []string) (map[string]domain.Prediction, error) {
	out := make(map[string]domain.Prediction, len(symbols))
	var errs []error
	for _, sym := range symbols {
		candles, err := m.feed.Candles(ctx, sym, m.cfg.Interval, m.cfg.Lookback)
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
		p, ok, err := m.evaluate(sym, closes)
		if err != nil {
			m.logger.DebugContext(ctx, "no prediction", slog.String("symbol", sym), slog.String("error", err.Error()))
			continue
		}
		if ok {
			out[sym] = p
		}
	}
	if len(errs) > 0 {
		return out, fmt.Errorf("signal: mean reversion: %w", errors.Join(errs...))
	}
	return out, nil
}

func (m *MeanReversion) evaluate(symbol string, closes []float64) (domain.Prediction, bool, error) {
	if len(closes) < 3 {
		return domain.Prediction{}, false, fmt.Errorf("signal: %d closes: %w", len(closes), domain.ErrInsufficientData)
	}
	var sum float64
	for _, c := range closes {
		sum += c
	}
	n := float64(len(closes))
	mean := sum / n
	var ss float64
	for _, c := range closes {
		ss += (c - mean) * (c - mean)
	}
	sd := math.Sqrt(ss / (n - 1))
	last := closes[len(closes)-1]
	if sd == 0 || last <= 0 {
		return domain.Prediction{}, false, nil
	}

	z := (last - mean) / sd
	if math.Abs(z) < m.cfg.Threshold {
		return domain.Prediction{}, false, nil
	}
	confidence := 1 - 1/math.Abs(z)
	return domain.Prediction{
		Symbol:     symbol,
		Direction:  math.Max(-1, math.Min(1, mean/last-1)),
		Confidence: confidence,
		RiskScore:  1 - confidence,
		Source:     "mean_reversion",
		At:         m.clock().UTC(),
	}, true, nil
}
