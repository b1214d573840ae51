// Package app assembles hedgebot from its configuration. Wire builds the
// stores, caches and venues; the run modes start the trading engine, the
// HTTP API or both on top of them.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/hedgebot/internal/config"
	"github.com/alanyoungcy/hedgebot/internal/domain"
)

// App runs one hedgebot process. Resources acquired by Run are released by
// Close, newest first.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

type runMode func(context.Context, *Dependencies) error

func (a *App) mode(name string) (runMode, bool) {
	switch strings.ToLower(name) {
	case "trade":
		return a.TradeMode, true
	case "server":
		return a.ServerMode, true
	case "full":
		return a.FullMode, true
	}
	return nil, false
}

// Run wires the infrastructure and blocks in the configured mode until ctx is
// cancelled or the mode fails.
func (a *App) Run(ctx context.Context) error {
	run, ok := a.mode(a.cfg.Mode)
	if !ok {
		return fmt.Errorf("app: %w: unknown mode %q", domain.ErrValidation, a.cfg.Mode)
	}
	a.logger.InfoContext(ctx, "hedgebot starting",
		slog.String("mode", a.cfg.Mode),
		slog.String("venue", a.cfg.Exchange.Venue),
		slog.Bool("live", a.cfg.Exchange.Live),
		slog.Any("symbols", a.cfg.Trading.Symbols),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire: %w", err)
	}
	a.closers = append(a.closers, cleanup)
	return run(ctx, deps)
}

// Close releases everything Run acquired. Later calls do nothing.
func (a *App) Close() {
	if len(a.closers) == 0 {
		return
	}
	a.logger.Info("hedgebot shutting down", slog.Int("resources", len(a.closers)))
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
