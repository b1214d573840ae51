package service

import (
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

// RiskConfig holds the tunable parameters for gating, sizing, brackets and
// portfolio limits.
type RiskConfig struct {
	ConfidenceFloor        float64
	MinMove                float64
	VolatilityCeiling      float64
	DefaultVolatility      float64
	TargetVolatility       float64
	RiskPerTrade           float64
	ConfidenceMultiplier   float64
	MaxPositionFraction    float64
	StopLossPct            float64
	TakeProfitPct          float64
	ATRMultiplier          float64
	RiskRewardRatio        float64
	MinCapital             float64
	MaxConcurrentPositions int

	MaxDrawdown    float64
	MaxVaR         float64 // per-trade return, a fraction of entry notional
	MaxExposure    float64
	RiskFreeRate   float64 // annual
	PeriodsPerYear float64
	MinSamples     int
}

// RiskService is the RiskManager: pure computation over predictions, prices
// and return series. It holds no trading state and is safe for concurrent use.
type RiskService struct {
	cfg    RiskConfig
	logger *slog.Logger
}

// NewRiskService creates a RiskService.
func NewRiskService(cfg RiskConfig, logger *slog.Logger) *RiskService {
	return &RiskService{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "risk_service")),
	}
}

// Config returns the active configuration.
func (s *RiskService) Config() RiskConfig { return s.cfg }

// Gate decides whether a prediction is strong enough to trade under the given
// market conditions. The reason is empty when the prediction is accepted.
func (s *RiskService) Gate(p domain.Prediction, mc domain.MarketConditions) (bool, string) {
	if p.Confidence < s.cfg.ConfidenceFloor {
		return false, fmt.Sprintf("confidence %.2f below floor %.2f", p.Confidence, s.cfg.ConfidenceFloor)
	}
	vol := s.volatilityOrDefault(mc.Volatility)
	if s.cfg.VolatilityCeiling > 0 && vol > s.cfg.VolatilityCeiling {
		return false, fmt.Sprintf("volatility %.2f above ceiling %.2f", vol, s.cfg.VolatilityCeiling)
	}
	if math.Abs(p.Direction) < s.cfg.MinMove {
		return false, fmt.Sprintf("predicted move %.4f below minimum %.4f", math.Abs(p.Direction), s.cfg.MinMove)
	}
	return true, ""
}

// SideOf maps an accepted prediction to a position side.
func SideOf(p domain.Prediction) domain.Side {
	if p.Direction < 0 {
		return domain.SideShort
	}
	return domain.SideLong
}

// Size returns the quantity to trade: a base fraction of capital scaled up by
// confidence, down by the prediction's risk score, and inversely by volatility
// relative to the target, capped at the maximum fraction of capital.
func (s *RiskService) Size(capital, price, volatility, confidence, riskScore float64) float64 {
	if capital <= 0 || price <= 0 {
		return 0
	}
	frac := s.cfg.RiskPerTrade * (1 + (confidence-0.5)*s.cfg.ConfidenceMultiplier)
	frac *= 1 - clamp(riskScore, 0, 1)*0.5

	vol := s.volatilityOrDefault(volatility)
	if vol > 0 && s.cfg.TargetVolatility > 0 {
		frac *= math.Min(1, s.cfg.TargetVolatility/vol)
	}

	frac = math.Min(frac, s.cfg.MaxPositionFraction)
	if frac <= 0 {
		return 0
	}
	return capital * frac / price
}

// Bracket returns stop-loss and take-profit levels for an entry. When an ATR
// multiplier is configured and atr is usable, the stop sits atr*multiplier
// away and the target at risk-reward times that distance; otherwise fixed
// percentages apply.
func (s *RiskService) Bracket(entry float64, side domain.Side, atr float64) domain.Bracket {
	stopDist := entry * s.cfg.StopLossPct
	takeDist := entry * s.cfg.TakeProfitPct
	if s.cfg.ATRMultiplier > 0 && atr > 0 {
		d := atr * s.cfg.ATRMultiplier
		if d < entry {
			stopDist = d
			takeDist = d * s.cfg.RiskRewardRatio
		}
	}
	if side == domain.SideShort {
		return domain.Bracket{StopLoss: entry + stopDist, TakeProfit: math.Max(entry-takeDist, 0)}
	}
	return domain.Bracket{StopLoss: entry - stopDist, TakeProfit: entry + takeDist}
}

// AllowEntry checks account-level preconditions for opening anything at all.
func (s *RiskService) AllowEntry(acct domain.Account, openPositions int) error {
	if openPositions >= s.cfg.MaxConcurrentPositions {
		return fmt.Errorf("risk_service: max concurrent positions reached (%d/%d)", openPositions, s.cfg.MaxConcurrentPositions)
	}
	if acct.CurrentCapital <= s.cfg.MinCapital {
		return fmt.Errorf("risk_service: capital %.2f at or below minimum %.2f", acct.CurrentCapital, s.cfg.MinCapital)
	}
	if acct.MaxDrawdown >= s.cfg.MaxDrawdown {
		return fmt.Errorf("risk_service: max drawdown reached %.4f", acct.MaxDrawdown)
	}
	return nil
}

// PortfolioRisk aggregates per-trade returns (chronological). Fewer than
// MinSamples returns a neutral snapshot carrying only the sample count.
func (s *RiskService) PortfolioRisk(returns []float64) domain.RiskSnapshot {
	n := len(returns)
	if n < s.cfg.MinSamples || n < 2 {
		return domain.RiskSnapshot{Samples: n}
	}

	m := mean(returns)
	sd := stddev(returns, m)

	sorted := slices.Clone(returns)
	slices.Sort(sorted)

	snap := domain.RiskSnapshot{
		VaR95:       math.Max(0, -percentile(sorted, 0.05)),
		MaxDrawdown: maxDrawdown(returns),
		Volatility:  sd * math.Sqrt(s.cfg.PeriodsPerYear),
		Samples:     n,
	}
	if sd > 0 {
		snap.SharpeRatio = (m - s.cfg.RiskFreeRate/s.cfg.PeriodsPerYear) / sd
	}
	return snap
}

// Exposure returns total open notional and the largest single position, both
// as fractions of capital.
func (s *RiskService) Exposure(positions []domain.Position, capital float64) (exposure, concentration float64) {
	if capital <= 0 {
		if len(positions) > 0 {
			return math.Inf(1), math.Inf(1)
		}
		return 0, 0
	}
	var total, largest float64
	for _, p := range positions {
		v := p.Notional()
		total += v
		largest = math.Max(largest, v)
	}
	return total / capital, largest / capital
}

// CheckLimits returns a *domain.RiskBreach for the first limit exceeded by the
// snapshot, or nil.
func (s *RiskService) CheckLimits(snap domain.RiskSnapshot) error {
	dd := math.Max(snap.MaxDrawdown, snap.AccountDrawdown)
	if s.cfg.MaxDrawdown > 0 && dd > s.cfg.MaxDrawdown {
		return &domain.RiskBreach{Metric: "max_drawdown", Value: dd, Limit: s.cfg.MaxDrawdown}
	}
	if s.cfg.MaxVaR > 0 && snap.VaR95 > s.cfg.MaxVaR {
		return &domain.RiskBreach{Metric: "var_95", Value: snap.VaR95, Limit: s.cfg.MaxVaR}
	}
	if s.cfg.MaxExposure > 0 && snap.ExposureRatio > s.cfg.MaxExposure {
		return &domain.RiskBreach{Metric: "exposure_ratio", Value: snap.ExposureRatio, Limit: s.cfg.MaxExposure}
	}
	if s.cfg.MaxPositionFraction > 0 && snap.Concentration > s.cfg.MaxPositionFraction*1.5 {
		s.logger.Warn("position concentration high",
			slog.Float64("concentration", snap.Concentration),
			slog.Float64("max_position_fraction", s.cfg.MaxPositionFraction),
		)
	}
	return nil
}

func (s *RiskService) volatilityOrDefault(v float64) float64 {
	if v > 0 {
		return v
	}
	return s.cfg.DefaultVolatility
}
