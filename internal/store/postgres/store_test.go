package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

func openTrade(id, symbol string, openedAt time.Time) domain.Position {
	return domain.Position{
		ID:           id,
		Symbol:       symbol,
		Side:         domain.SideLong,
		Quantity:     0.5,
		EntryPrice:   100,
		CurrentPrice: 100,
		StopLoss:     97,
		TakeProfit:   106,
		Status:       domain.PositionStatusOpen,
		EntryOrderID: "entry-" + id,
		Signal: domain.Prediction{
			Symbol:     symbol,
			Direction:  0.8,
			Confidence: 0.9,
			RiskScore:  0.2,
			Source:     "momentum",
			At:         openedAt,
		},
		Rationale: "momentum: direction 0.8000",
		OpenedAt:  openedAt,
	}
}

func TestTradeStore_SaveGetUpdate(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	opened := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := openTrade("t-1", "BTCUSDT", opened)
	require.NoError(t, store.SaveTrade(ctx, p))

	got, err := store.GetTrade(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, p.Symbol, got.Symbol)
	assert.Equal(t, domain.SideLong, got.Side)
	assert.Equal(t, domain.PositionStatusOpen, got.Status)
	assert.Equal(t, "momentum", got.Signal.Source)
	assert.InDelta(t, 0.8, got.Signal.Direction, 1e-9)
	assert.Nil(t, got.ExitPrice)
	assert.Nil(t, got.ClosedAt)

	closed := opened.Add(time.Hour)
	p.Status = domain.PositionStatusClosed
	p.CloseReason = domain.CloseTakeProfit
	p.ExitPrice = ptr(106.0)
	p.RealizedPnL = 3
	p.ExitOrderID = "exit-t-1"
	p.ClosedAt = &closed
	require.NoError(t, store.UpdateTrade(ctx, p))

	got, err = store.GetTrade(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CloseTakeProfit, got.CloseReason)
	require.NotNil(t, got.ExitPrice)
	assert.InDelta(t, 106.0, *got.ExitPrice, 1e-9)
	require.NotNil(t, got.ClosedAt)
	assert.True(t, got.ClosedAt.Equal(closed))
}

func TestTradeStore_GetNotFound(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := store.GetTrade(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = store.UpdateTrade(context.Background(), openTrade("missing", "BTCUSDT", time.Now()))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTradeStore_OneOpenTradePerSymbol(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, store.SaveTrade(ctx, openTrade("a", "ETHUSDT", now)))

	err := store.SaveTrade(ctx, openTrade("b", "ETHUSDT", now))
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	// Once the first closes, the symbol is free again.
	first := openTrade("a", "ETHUSDT", now)
	first.Status = domain.PositionStatusClosed
	first.CloseReason = domain.CloseManual
	first.ExitPrice = ptr(101.0)
	first.ClosedAt = ptr(now.Add(time.Minute))
	require.NoError(t, store.UpdateTrade(ctx, first))
	require.NoError(t, store.SaveTrade(ctx, openTrade("b", "ETHUSDT", now.Add(2*time.Minute))))
}

func TestTradeStore_ListQueries(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, sym := range []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"} {
		require.NoError(t, store.SaveTrade(ctx, openTrade(sym, sym, base.Add(time.Duration(i)*time.Hour))))
	}
	old := openTrade("BTCUSDT", "BTCUSDT", base)
	old.Status = domain.PositionStatusClosed
	old.CloseReason = domain.CloseStopLoss
	old.ExitPrice = ptr(97.0)
	old.ClosedAt = ptr(base.Add(30 * time.Minute))
	require.NoError(t, store.UpdateTrade(ctx, old))

	open, err := store.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "ETHUSDT", open[0].Symbol, "oldest first")

	recent, err := store.ListRecent(ctx, domain.ListOpts{Limit: 2})
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "SOLUSDT", recent[0].Symbol, "newest first")

	bySymbol, err := store.ListRecent(ctx, domain.ListOpts{Symbol: "BTCUSDT"})
	require.NoError(t, err)
	require.Len(t, bySymbol, 1)

	since := base.Add(90 * time.Minute)
	windowed, err := store.ListRecent(ctx, domain.ListOpts{Since: &since})
	require.NoError(t, err)
	require.Len(t, windowed, 1)
	assert.Equal(t, "SOLUSDT", windowed[0].Symbol)

	closed, err := store.ListClosedBefore(ctx, base.Add(24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, "BTCUSDT", closed[0].ID)

	n, err := store.DeleteTrades(ctx, []string{"BTCUSDT"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	_, err = store.GetTrade(ctx, "BTCUSDT")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLogStore_AppendListDelete(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.AppendLog(ctx, domain.LogEntry{
		Level: "INFO", Event: "trade_opened", Symbol: "BTCUSDT",
		Detail: map[string]any{"price": 100.5}, CreatedAt: base,
	}))
	require.NoError(t, store.AppendLog(ctx, domain.LogEntry{
		Level: "WARN", Event: "emergency_stop", CreatedAt: base.Add(time.Hour),
	}))

	logs, err := store.ListLogs(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "emergency_stop", logs[0].Event)
	assert.InDelta(t, 100.5, logs[1].Detail["price"], 1e-9)

	logs, err = store.ListLogs(ctx, domain.ListOpts{Symbol: "BTCUSDT"})
	require.NoError(t, err)
	require.Len(t, logs, 1)

	n, err := store.DeleteLogsBefore(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestStatusStore_ReadWrite(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	_, err := store.ReadStatus(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	st := domain.BotStatus{
		Phase:     domain.PhaseEmergencyStopped,
		Live:      true,
		Account:   domain.Account{StartingCapital: 10_000, CurrentCapital: 9_500, PeakCapital: 10_200},
		Stats:     domain.TradeStats{TotalTrades: 4, WinningTrades: 1},
		Risk:      domain.RiskSnapshot{VaR95: 0.03, MaxDrawdown: 0.2, Samples: 12},
		LastError: "emergency stop: max_drawdown",
	}
	require.NoError(t, store.WriteStatus(ctx, st))

	st.LastError = ""
	st.Phase = domain.PhaseStopped
	require.NoError(t, store.WriteStatus(ctx, st))

	got, err := store.ReadStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseStopped, got.Phase)
	assert.True(t, got.Live)
	assert.Empty(t, got.LastError)
	assert.InDelta(t, 9_500, got.Account.CurrentCapital, 1e-9)
	assert.Equal(t, 4, got.Stats.TotalTrades)
	assert.Equal(t, 12, got.Risk.Samples)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestRiskStore_SaveAndList(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		snap := domain.RiskSnapshot{VaR95: 0.01 * float64(i+1), Samples: 10 + i}
		require.NoError(t, store.SaveRiskSnapshot(ctx, snap, base.Add(time.Duration(i)*time.Minute)))
	}

	snaps, err := store.ListRiskSnapshots(ctx, base.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, 12, snaps[0].Samples)
}
