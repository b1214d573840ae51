package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/hedgebot/internal/config"
	"github.com/alanyoungcy/hedgebot/internal/domain"
	memstore "github.com/alanyoungcy/hedgebot/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingPublisher struct {
	events []string
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, eventType string, _ any) error {
	p.events = append(p.events, eventType)
	return p.err
}

func TestFanoutDeliversToEverySink(t *testing.T) {
	failing := &recordingPublisher{err: errors.New("redis down")}
	ok := &recordingPublisher{}

	err := fanout{failing, ok}.Publish(context.Background(), domain.EventStatus, nil)
	require.Error(t, err)
	assert.Equal(t, []string{domain.EventStatus}, failing.events)
	assert.Equal(t, []string{domain.EventStatus}, ok.events)

	assert.NoError(t, fanout(nil).Publish(context.Background(), domain.EventStatus, nil))
}

func TestRemoteEngine(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	r := newRemoteEngine(store, testLogger())

	// Nothing persisted yet.
	require.NoError(t, r.refresh(ctx))
	assert.Equal(t, domain.PhaseStopped, r.Status().Phase)

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.WriteStatus(ctx, domain.BotStatus{
		Phase:     domain.PhaseRunning,
		Live:      true,
		Account:   domain.Account{StartingCapital: 1000, CurrentCapital: 1100},
		UpdatedAt: now,
	}))
	require.NoError(t, store.SaveTrade(ctx, domain.Position{
		ID:       "p1",
		Symbol:   "BTCUSDT",
		Side:     domain.SideLong,
		Status:   domain.PositionStatusOpen,
		OpenedAt: now,
	}))

	require.NoError(t, r.refresh(ctx))
	st := r.Status()
	assert.Equal(t, domain.PhaseRunning, st.Phase)
	assert.True(t, st.Live)
	assert.Equal(t, 1100.0, st.Account.CurrentCapital)
	require.Len(t, st.OpenPositions, 1)
	assert.Equal(t, "BTCUSDT", st.OpenPositions[0].Symbol)

	assert.ErrorIs(t, r.Start(ctx), domain.ErrInvalidTransition)
	assert.ErrorIs(t, r.EmergencyStop(ctx, "operator"), domain.ErrInvalidTransition)
	_, err := r.AddCapital(ctx, 10)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestWireWithoutInfrastructure(t *testing.T) {
	cfg := config.Defaults()
	require.NoError(t, cfg.Validate())

	deps, cleanup, err := Wire(context.Background(), &cfg, testLogger())
	require.NoError(t, err)
	defer cleanup()

	assert.IsType(t, &memstore.Store{}, deps.Store)
	assert.NotNil(t, deps.PriceCache)
	assert.NotNil(t, deps.RulesCache)
	assert.Nil(t, deps.EventBus)
	assert.Nil(t, deps.LockManager)
	assert.Nil(t, deps.Live)
	assert.Nil(t, deps.Archiver)
	assert.Equal(t, "paper", deps.Testnet.Name())
	assert.Contains(t, deps.Checks, "exchange")
	assert.NotContains(t, deps.Checks, "postgres")
}

func TestSignalSourceSelection(t *testing.T) {
	cfg := config.Defaults()
	a := New(&cfg, testLogger())
	deps := &Dependencies{}

	cfg.Signals.Source = "mean_reversion"
	assert.Equal(t, "*signal.MeanReversion", typeName(a.signalSource(deps, nil)))

	// Without Redis a redis source degrades to its fallback.
	cfg.Signals.Source = "redis"
	cfg.Signals.Fallback = "momentum"
	assert.Equal(t, "*signal.Momentum", typeName(a.signalSource(deps, nil)))
}

func typeName(v any) string {
	return fmt.Sprintf("%T", v)
}

func TestRunRejectsUnknownMode(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "backtest"
	a := New(&cfg, testLogger())

	err := a.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Empty(t, a.closers, "nothing is wired for an unknown mode")
	a.Close()
}

func TestModeLookupIgnoresCase(t *testing.T) {
	cfg := config.Defaults()
	a := New(&cfg, testLogger())
	for _, name := range []string{"trade", "Server", "FULL"} {
		_, ok := a.mode(name)
		assert.True(t, ok, name)
	}
}

func TestPriceMaxAgeFollowsPriceInterval(t *testing.T) {
	cfg := config.Defaults()
	a := New(&cfg, testLogger())

	cfg.Engine.PriceInterval.Duration = 5 * time.Second
	cfg.Exchange.StreamStaleAfter.Duration = 30 * time.Second
	assert.Equal(t, 30*time.Second, a.priceConfig().MaxAge)

	cfg.Engine.PriceInterval.Duration = 20 * time.Second
	assert.Equal(t, time.Minute, a.priceConfig().MaxAge)
}
