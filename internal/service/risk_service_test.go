package service

import (
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/alanyoungcy/hedgebot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func defaultRiskConfig() RiskConfig {
	return RiskConfig{
		ConfidenceFloor:        0.7,
		MinMove:                0.01,
		VolatilityCeiling:      1.5,
		DefaultVolatility:      0.20,
		TargetVolatility:       0.20,
		RiskPerTrade:           0.02,
		ConfidenceMultiplier:   0.1,
		MaxPositionFraction:    0.05,
		StopLossPct:            0.02,
		TakeProfitPct:          0.04,
		RiskRewardRatio:        2,
		MinCapital:             1_000,
		MaxConcurrentPositions: 10,
		MaxDrawdown:            0.15,
		MaxVaR:                 0.10,
		MaxExposure:            1.0,
		RiskFreeRate:           0.02,
		PeriodsPerYear:         252,
		MinSamples:             5,
	}
}

func TestGate(t *testing.T) {
	rs := NewRiskService(defaultRiskConfig(), testLogger())

	testCases := []struct {
		desc   string
		pred   domain.Prediction
		mc     domain.MarketConditions
		accept bool
	}{
		{"confidence below floor", domain.Prediction{Direction: 0.05, Confidence: 0.5}, domain.MarketConditions{}, false},
		{"confident with move under default volatility", domain.Prediction{Direction: 0.02, Confidence: 0.9}, domain.MarketConditions{}, true},
		{"confident short", domain.Prediction{Direction: -0.03, Confidence: 0.8}, domain.MarketConditions{Volatility: 0.4}, true},
		{"move too small", domain.Prediction{Direction: 0.005, Confidence: 0.95}, domain.MarketConditions{}, false},
		{"volatility above ceiling", domain.Prediction{Direction: 0.05, Confidence: 0.95}, domain.MarketConditions{Volatility: 2.0}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			ok, reason := rs.Gate(tc.pred, tc.mc)
			assert.Equal(t, tc.accept, ok)
			if tc.accept {
				assert.Empty(t, reason)
			} else {
				assert.NotEmpty(t, reason)
			}
		})
	}
}

func TestSideOf(t *testing.T) {
	assert.Equal(t, domain.SideLong, SideOf(domain.Prediction{Direction: 0.2}))
	assert.Equal(t, domain.SideShort, SideOf(domain.Prediction{Direction: -0.2}))
}

func TestSize(t *testing.T) {
	rs := NewRiskService(defaultRiskConfig(), testLogger())

	// 0.02 * (1 + 0.4*0.1) * (1 - 0) = 0.0208 of 100k at price 100
	qty := rs.Size(100_000, 100, 0.20, 0.9, 0)
	assert.InDelta(t, 20.8, qty, 1e-9)

	t.Run("risk score shrinks", func(t *testing.T) {
		assert.InDelta(t, qty/2, rs.Size(100_000, 100, 0.20, 0.9, 1), 1e-9)
	})
	t.Run("volatility above target shrinks", func(t *testing.T) {
		assert.InDelta(t, qty/2, rs.Size(100_000, 100, 0.40, 0.9, 0), 1e-9)
	})
	t.Run("volatility below target does not lever up", func(t *testing.T) {
		assert.InDelta(t, qty, rs.Size(100_000, 100, 0.05, 0.9, 0), 1e-9)
	})
	t.Run("capped at max fraction", func(t *testing.T) {
		cfg := defaultRiskConfig()
		cfg.RiskPerTrade = 0.5
		capped := NewRiskService(cfg, testLogger()).Size(100_000, 100, 0.2, 1, 0)
		assert.InDelta(t, 50, capped, 1e-9)
	})
	t.Run("no capital no size", func(t *testing.T) {
		assert.Zero(t, rs.Size(0, 100, 0.2, 0.9, 0))
		assert.Zero(t, rs.Size(1_000, 0, 0.2, 0.9, 0))
	})
}

func TestBracket(t *testing.T) {
	rs := NewRiskService(defaultRiskConfig(), testLogger())

	long := rs.Bracket(100, domain.SideLong, 0)
	assert.InDelta(t, 98, long.StopLoss, 1e-9)
	assert.InDelta(t, 104, long.TakeProfit, 1e-9)

	short := rs.Bracket(100, domain.SideShort, 0)
	assert.InDelta(t, 102, short.StopLoss, 1e-9)
	assert.InDelta(t, 96, short.TakeProfit, 1e-9)

	cfg := defaultRiskConfig()
	cfg.ATRMultiplier = 2
	atr := NewRiskService(cfg, testLogger()).Bracket(100, domain.SideLong, 1.5)
	assert.InDelta(t, 97, atr.StopLoss, 1e-9)
	assert.InDelta(t, 106, atr.TakeProfit, 1e-9)
}

func TestPortfolioRiskNeutralBelowMinSamples(t *testing.T) {
	rs := NewRiskService(defaultRiskConfig(), testLogger())
	snap := rs.PortfolioRisk([]float64{-0.5, 0.1, 0.2})
	assert.Equal(t, domain.RiskSnapshot{Samples: 3}, snap)
	assert.NoError(t, rs.CheckLimits(snap))
}

func TestPortfolioRisk(t *testing.T) {
	rs := NewRiskService(defaultRiskConfig(), testLogger())
	returns := []float64{0.02, -0.01, 0.03, -0.04, 0.01, 0.02}

	snap := rs.PortfolioRisk(returns)
	require.Equal(t, 6, snap.Samples)

	// sorted: -0.04 -0.01 0.01 0.02 0.02 0.03; idx 0.25 -> -0.04 + 0.25*0.03
	assert.InDelta(t, 0.0325, snap.VaR95, 1e-9)
	// cumulative: .02 .01 .04 0 .01 .03; peak .04 -> trough 0
	assert.InDelta(t, 0.04, snap.MaxDrawdown, 1e-9)

	m := mean(returns)
	sd := stddev(returns, m)
	assert.InDelta(t, (m-0.02/252)/sd, snap.SharpeRatio, 1e-9)
	assert.InDelta(t, sd*math.Sqrt(252), snap.Volatility, 1e-9)
}

func TestCheckLimits(t *testing.T) {
	rs := NewRiskService(defaultRiskConfig(), testLogger())

	testCases := []struct {
		desc   string
		snap   domain.RiskSnapshot
		metric string
	}{
		{"calm", domain.RiskSnapshot{MaxDrawdown: 0.05, VaR95: 0.02, ExposureRatio: 0.3}, ""},
		{"return drawdown", domain.RiskSnapshot{MaxDrawdown: 0.2}, "max_drawdown"},
		{"account drawdown", domain.RiskSnapshot{AccountDrawdown: 0.16}, "max_drawdown"},
		{"var", domain.RiskSnapshot{VaR95: 0.12}, "var_95"},
		{"exposure", domain.RiskSnapshot{ExposureRatio: 1.2}, "exposure_ratio"},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			err := rs.CheckLimits(tc.snap)
			if tc.metric == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, domain.ErrRiskBreach)
			var breach *domain.RiskBreach
			require.ErrorAs(t, err, &breach)
			assert.Equal(t, tc.metric, breach.Metric)
		})
	}
}

func TestAllowEntry(t *testing.T) {
	rs := NewRiskService(defaultRiskConfig(), testLogger())
	healthy := domain.Account{CurrentCapital: 50_000}

	assert.NoError(t, rs.AllowEntry(healthy, 3))
	assert.Error(t, rs.AllowEntry(healthy, 10))
	assert.Error(t, rs.AllowEntry(domain.Account{CurrentCapital: 900}, 0))
	assert.Error(t, rs.AllowEntry(domain.Account{CurrentCapital: 50_000, MaxDrawdown: 0.15}, 0))
}

func TestExposure(t *testing.T) {
	rs := NewRiskService(defaultRiskConfig(), testLogger())
	positions := []domain.Position{
		{Quantity: 2, CurrentPrice: 100},
		{Quantity: 1, CurrentPrice: 300},
	}
	exposure, concentration := rs.Exposure(positions, 1_000)
	assert.InDelta(t, 0.5, exposure, 1e-9)
	assert.InDelta(t, 0.3, concentration, 1e-9)
}

func TestRealizedVolatilityAndATR(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]domain.Candle, 0, 20)
	for i := 0; i < 20; i++ {
		c := 100.0
		if i%2 == 1 {
			c = 101
		}
		candles = append(candles, domain.Candle{
			OpenTime: start.Add(time.Duration(i) * time.Hour),
			Open:     c, High: c + 1, Low: c - 1, Close: c,
		})
	}

	vol, err := RealizedVolatility(candles)
	require.NoError(t, err)
	assert.Greater(t, vol, 0.0)

	atr, err := ATR(candles, 14)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, atr, 1e-9)

	_, err = RealizedVolatility(candles[:2])
	require.ErrorIs(t, err, domain.ErrInsufficientData)
	_, err = ATR(candles[:5], 14)
	require.ErrorIs(t, err, domain.ErrInsufficientData)
}
