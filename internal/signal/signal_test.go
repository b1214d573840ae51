package signal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type candleFeed map[string][]float64

func (f candleFeed) PriceOf(context.Context, string) (domain.Ticker, error) {
	return domain.Ticker{}, errors.New("unused")
}

func (f candleFeed) Candles(_ context.Context, symbol, _ string, _ int) ([]domain.Candle, error) {
	closes, ok := f[symbol]
	if !ok {
		return nil, domain.Transient(errors.New("boom"))
	}
	out := make([]domain.Candle, len(closes))
	for i, c := range closes {
		out[i] = domain.Candle{Close: c}
	}
	return out, nil
}

func series(n int, start, step float64) []float64 {
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = start + float64(i)*step
	}
	return xs
}

func TestEMA(t *testing.T) {
	v, err := EMA([]float64{1, 2, 3}, 3)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, v, 1e-12)

	v, err = EMA([]float64{1, 2, 3, 4}, 3)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, v, 1e-12) // 4*0.5 + 2*0.5

	_, err = EMA([]float64{1, 2}, 3)
	assert.ErrorIs(t, err, domain.ErrInsufficientData)
}

func TestMomentumDirection(t *testing.T) {
	feed := candleFeed{
		"UP":    series(60, 100, 1),
		"DOWN":  series(60, 200, -1),
		"SHORT": series(5, 100, 1),
	}
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	m := NewMomentum(feed, MomentumConfig{FastPeriod: 5, SlowPeriod: 20, Limit: 60}, testLogger())
	m.clock = func() time.Time { return now }

	got, err := m.Predict(context.Background(), []string{"UP", "DOWN", "SHORT", "MISSING"})
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))

	require.Contains(t, got, "UP")
	require.Contains(t, got, "DOWN")
	assert.NotContains(t, got, "SHORT")

	up := got["UP"]
	assert.Greater(t, up.Direction, 0.0)
	assert.LessOrEqual(t, up.Direction, 1.0)
	assert.InDelta(t, 1.0, up.Confidence+up.RiskScore, 1e-12)
	assert.Equal(t, "momentum", up.Source)
	assert.Equal(t, now, up.At)

	assert.Less(t, got["DOWN"].Direction, 0.0)
}

func TestMomentumSteadyTrendIsConfident(t *testing.T) {
	m := NewMomentum(candleFeed{}, MomentumConfig{FastPeriod: 5, SlowPeriod: 20}, testLogger())
	steady, err := m.evaluate("X", series(60, 100, 1))
	require.NoError(t, err)

	choppy := series(60, 100, 1)
	for i := range choppy {
		if i%2 == 1 {
			choppy[i] += 8
		}
	}
	noisy, err := m.evaluate("X", choppy)
	require.NoError(t, err)
	assert.Greater(t, steady.Confidence, noisy.Confidence)
}

type staticSource struct {
	preds map[string]domain.Prediction
	err   error
	asked []string
}

func (s *staticSource) Predict(_ context.Context, symbols []string) (map[string]domain.Prediction, error) {
	s.asked = symbols
	out := map[string]domain.Prediction{}
	for _, sym := range symbols {
		if p, ok := s.preds[sym]; ok {
			out[sym] = p
		}
	}
	return out, s.err
}

func TestChainFillsGapsFromFallback(t *testing.T) {
	primary := &staticSource{preds: map[string]domain.Prediction{"A": {Symbol: "A", Source: "model"}}}
	fallback := &staticSource{preds: map[string]domain.Prediction{"A": {Source: "momentum"}, "B": {Symbol: "B", Source: "momentum"}}}
	c := NewChain(primary, fallback, testLogger())

	got, err := c.Predict(context.Background(), []string{"A", "B", "C"})
	require.NoError(t, err)
	assert.Equal(t, "model", got["A"].Source)
	assert.Equal(t, "momentum", got["B"].Source)
	assert.NotContains(t, got, "C")
	assert.Equal(t, []string{"B", "C"}, fallback.asked)
}

func TestChainPrimaryFailure(t *testing.T) {
	primary := &staticSource{err: domain.Transient(errors.New("redis down"))}
	fallback := &staticSource{preds: map[string]domain.Prediction{"A": {Symbol: "A"}}}

	got, err := NewChain(primary, fallback, testLogger()).Predict(context.Background(), []string{"A"})
	require.NoError(t, err)
	assert.Contains(t, got, "A")

	_, err = NewChain(primary, nil, testLogger()).Predict(context.Background(), []string{"A"})
	assert.True(t, domain.IsTransient(err))
}

func flatThenDrop(n int, level, last float64) []float64 {
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = level
	}
	xs[n-1] = last
	return xs
}

func TestMeanReversion(t *testing.T) {
	feed := candleFeed{
		"DROP":  flatThenDrop(20, 100, 80),
		"SPIKE": flatThenDrop(20, 100, 120),
		"FLAT":  flatThenDrop(20, 100, 100),
		"DRIFT": series(20, 100, 0.1),
	}
	m := NewMeanReversion(feed, MeanReversionConfig{Lookback: 20, Threshold: 2}, testLogger())

	got, err := m.Predict(context.Background(), []string{"DROP", "SPIKE", "FLAT", "DRIFT"})
	require.NoError(t, err)
	assert.NotContains(t, got, "FLAT")
	assert.NotContains(t, got, "DRIFT")

	drop := got["DROP"]
	assert.InDelta(t, 99.0/80-1, drop.Direction, 1e-12)
	assert.Greater(t, drop.Confidence, 0.7)
	assert.InDelta(t, 1.0, drop.Confidence+drop.RiskScore, 1e-12)
	assert.Equal(t, "mean_reversion", drop.Source)

	assert.Less(t, got["SPIKE"].Direction, 0.0)
}

func TestDedupSuppressesRepeats(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	src := &staticSource{preds: map[string]domain.Prediction{
		"A": {Symbol: "A", Source: "model", At: at},
	}}
	now := at
	d := NewDedup(src, time.Hour)
	d.now = func() time.Time { return now }
	ctx := context.Background()

	got, err := d.Predict(ctx, []string{"A"})
	require.NoError(t, err)
	assert.Contains(t, got, "A")

	got, err = d.Predict(ctx, []string{"A"})
	require.NoError(t, err)
	assert.Empty(t, got)

	// A fresh prediction for the same symbol passes.
	src.preds["A"] = domain.Prediction{Symbol: "A", Source: "model", At: at.Add(time.Minute)}
	got, _ = d.Predict(ctx, []string{"A"})
	assert.Contains(t, got, "A")

	// The original one is forgotten after the TTL.
	src.preds["A"] = domain.Prediction{Symbol: "A", Source: "model", At: at}
	now = now.Add(2 * time.Hour)
	got, _ = d.Predict(ctx, []string{"A"})
	assert.Contains(t, got, "A")
}
