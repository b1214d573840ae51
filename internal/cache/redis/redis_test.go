package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

// setupRedis starts a throwaway Redis and returns a connected Client.
func setupRedis(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start redis container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	c, err := New(ctx, ClientConfig{Addr: endpoint, Prefix: "test:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRedisComponents(t *testing.T) {
	c := setupRedis(t)
	ctx := context.Background()

	t.Run("price cache", func(t *testing.T) {
		pc := NewPriceCache(c)
		at := time.UnixMilli(1700000000123).UTC()
		require.NoError(t, pc.SetPrice(ctx, "BTCUSDT", 43000.5, at))

		p, ts, err := pc.GetPrice(ctx, "BTCUSDT")
		require.NoError(t, err)
		assert.Equal(t, 43000.5, p)
		assert.Equal(t, at, ts)

		_, _, err = pc.GetPrice(ctx, "NOPE")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		all, err := pc.GetPrices(ctx, []string{"BTCUSDT", "NOPE"})
		require.NoError(t, err)
		assert.Equal(t, map[string]domain.Ticker{"BTCUSDT": {Symbol: "BTCUSDT", Price: 43000.5, At: at}}, all)
	})

	t.Run("rules cache", func(t *testing.T) {
		rc := NewRulesCache(c)
		_, err := rc.GetRules(ctx, "binance", "ETHUSDT")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		want := domain.SymbolRules{Symbol: "ETHUSDT", StepSize: "0.0001", MinNotional: 5}
		require.NoError(t, rc.SetRules(ctx, "binance", want))
		got, err := rc.GetRules(ctx, "binance", "ETHUSDT")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("rate limiter", func(t *testing.T) {
		rl := NewRateLimiter(c)
		for i := 0; i < 3; i++ {
			ok, err := rl.Allow(ctx, "orders:test", 3, time.Minute)
			require.NoError(t, err)
			assert.True(t, ok, "request %d", i)
		}
		ok, err := rl.Allow(ctx, "orders:test", 3, time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("lock", func(t *testing.T) {
		lm := NewLockManager(c)
		l, err := lm.Acquire(ctx, "engine", time.Minute)
		require.NoError(t, err)

		_, err = lm.Acquire(ctx, "engine", time.Minute)
		assert.ErrorIs(t, err, domain.ErrLockHeld)

		require.NoError(t, l.Refresh(ctx, time.Minute))
		l.Release()
		l.Release()
		assert.ErrorIs(t, l.Refresh(ctx, time.Minute), domain.ErrLockHeld)

		l2, err := lm.Acquire(ctx, "engine", time.Minute)
		require.NoError(t, err)
		l2.Release()
	})

	t.Run("event bus", func(t *testing.T) {
		eb := NewEventBus(c)
		subCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		ch, err := eb.Subscribe(subCtx)
		require.NoError(t, err)

		require.NoError(t, eb.Publish(ctx, domain.EventStatus, map[string]string{"phase": "running"}))

		select {
		case msg := <-ch:
			assert.Contains(t, string(msg), `"type":"status"`)
		case <-time.After(5 * time.Second):
			t.Fatal("no event received")
		}

		msgs, err := eb.StreamRead(ctx, "0", 10)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Contains(t, string(msgs[0].Payload), `"phase":"running"`)

		more, err := eb.StreamRead(ctx, msgs[0].ID, 10)
		require.NoError(t, err)
		assert.Empty(t, more)
	})

	t.Run("predictions", func(t *testing.T) {
		ps := NewPredictionStore(c, "", time.Hour)
		require.NoError(t, ps.Put(ctx, domain.Prediction{Symbol: "BTCUSDT", Direction: 0.02, Confidence: 0.8, At: time.Now()}))
		require.NoError(t, ps.Put(ctx, domain.Prediction{Symbol: "ETHUSDT", Direction: 0.02, Confidence: 0.8, At: time.Now().Add(-2 * time.Hour)}))

		got, err := ps.Predict(ctx, []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, 0.8, got["BTCUSDT"].Confidence)
		assert.Equal(t, "redis", got["BTCUSDT"].Source)
	})
}
