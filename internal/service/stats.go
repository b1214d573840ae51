package service

import (
	"fmt"
	"math"
	"time"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stddev is the sample standard deviation (n-1 denominator).
func stddev(xs []float64, m float64) float64 {
	n := len(xs)
	if n < 2 {
		return 0
	}
	sumSq := 0.0
	for _, x := range xs {
		d := x - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(n-1))
}

// percentile uses linear interpolation over an ascending slice; p is a
// fraction (0.05 = 5th percentile).
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	idx := p * float64(n-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= n {
		return sorted[n-1]
	}
	frac := idx - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

// maxDrawdown is the worst peak-to-trough fall of the cumulative sum of
// returns, with the running peak starting at zero.
func maxDrawdown(returns []float64) float64 {
	cumulative, peak, worst := 0.0, 0.0, 0.0
	for _, r := range returns {
		cumulative += r
		if cumulative > peak {
			peak = cumulative
		}
		if dd := peak - cumulative; dd > worst {
			worst = dd
		}
	}
	return worst
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// RealizedVolatility annualizes the standard deviation of close-to-close log
// returns using the candle spacing.
func RealizedVolatility(candles []domain.Candle) (float64, error) {
	if len(candles) < 3 {
		return 0, fmt.Errorf("realized volatility over %d candles: %w", len(candles), domain.ErrInsufficientData)
	}
	rets := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		prev, cur := candles[i-1].Close, candles[i].Close
		if prev <= 0 || cur <= 0 {
			continue
		}
		rets = append(rets, math.Log(cur/prev))
	}
	if len(rets) < 2 {
		return 0, fmt.Errorf("realized volatility: %w", domain.ErrInsufficientData)
	}
	step := candles[1].OpenTime.Sub(candles[0].OpenTime)
	if step <= 0 {
		step = time.Hour
	}
	periods := float64(365*24*time.Hour) / float64(step)
	return stddev(rets, mean(rets)) * math.Sqrt(periods), nil
}

// ATR is the simple average true range over the last period candles.
func ATR(candles []domain.Candle, period int) (float64, error) {
	if period < 1 || len(candles) < period+1 {
		return 0, fmt.Errorf("atr(%d) over %d candles: %w", period, len(candles), domain.ErrInsufficientData)
	}
	start := len(candles) - period
	sum := 0.0
	for i := start; i < len(candles); i++ {
		c, prevClose := candles[i], candles[i-1].Close
		tr := math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
		sum += tr
	}
	return sum / float64(period), nil
}
