package signal

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

// Chain asks the primary source first and fills the symbols it has no opinion
// on from the fallback.
type Chain struct {
	primary  domain.SignalSource
	fallback domain.SignalSource
	logger   *slog.Logger
}

var _ domain.SignalSource = (*Chain)(nil)

// NewChain creates a Chain. fallback may be nil.
func NewChain(primary, fallback domain.SignalSource, logger *slog.Logger) *Chain {
	return &Chain{primary: primary, fallback: fallback, logger: logger.With(slog.String("component", "signal_chain"))}
}

// Predict never fails while the fallback can still answer.
func (c *Chain) Predict(ctx context.Context, symbols []string) (map[string]domain.Prediction, error) {
	out, err := c.primary.Predict(ctx, symbols)
	if err != nil {
		if c.fallback == nil {
			return out, err
		}
		c.logger.WarnContext(ctx, "primary signal source failed", slog.String("error", err.Error()))
	}
	if out == nil {
		out = make(map[string]domain.Prediction, len(symbols))
	}
	if c.fallback == nil {
		return out, nil
	}

	var missing []string
	for _, s := range symbols {
		if _, ok := out[s]; !ok {
			missing = append(missing, s)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}
	more, ferr := c.fallback.Predict(ctx, missing)
	for s, p := range more {
		out[s] = p
	}
	return out, ferr
}
