package memory

import (
	"context"
	"testing"
	"time"

	"github.com/alanyoungcy/hedgebot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTradeLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, sym := range []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"} {
		require.NoError(t, s.SaveTrade(ctx, domain.Position{
			ID: sym, Symbol: sym, Status: domain.PositionStatusOpen,
			OpenedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}
	assert.ErrorIs(t, s.SaveTrade(ctx, domain.Position{ID: "BTCUSDT"}), domain.ErrAlreadyExists)

	closedAt := base.Add(5 * time.Hour)
	pos, err := s.GetTrade(ctx, "ETHUSDT")
	require.NoError(t, err)
	pos.Status = domain.PositionStatusClosed
	pos.ClosedAt = &closedAt
	require.NoError(t, s.UpdateTrade(ctx, pos))
	assert.ErrorIs(t, s.UpdateTrade(ctx, domain.Position{ID: "nope"}), domain.ErrNotFound)

	open, err := s.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "BTCUSDT", open[0].ID)

	recent, err := s.ListRecent(ctx, domain.ListOpts{Limit: 2})
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "SOLUSDT", recent[0].ID)

	old, err := s.ListClosedBefore(ctx, base.Add(6*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, old, 1)
	assert.Equal(t, "ETHUSDT", old[0].ID)

	n, err := s.DeleteTrades(ctx, []string{"ETHUSDT", "missing"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestLogsAndStatus(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()

	require.NoError(t, s.AppendLog(ctx, domain.LogEntry{Event: "a", CreatedAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, s.AppendLog(ctx, domain.LogEntry{Event: "b", CreatedAt: now}))

	logs, err := s.ListLogs(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "b", logs[0].Event)
	assert.Equal(t, int64(2), logs[0].ID)

	n, err := s.DeleteLogsBefore(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.ReadStatus(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, s.WriteStatus(ctx, domain.BotStatus{Phase: domain.PhaseRunning}))
	st, err := s.ReadStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseRunning, st.Phase)
}
