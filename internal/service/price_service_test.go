package service

import (
	"context"
	"sync"
	"testing"
	"time"

	memcache "github.com/alanyoungcy/hedgebot/internal/cache/memory"
	"github.com/alanyoungcy/hedgebot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFeed struct {
	mu     sync.Mutex
	prices map[string]float64
	err    error
	calls  int
}

func (f *stubFeed) PriceOf(_ context.Context, symbol string) (domain.Ticker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return domain.Ticker{}, f.err
	}
	p, ok := f.prices[symbol]
	if !ok {
		return domain.Ticker{}, domain.ErrNotFound
	}
	return domain.Ticker{Symbol: symbol, Price: p}, nil
}

func (f *stubFeed) Candles(context.Context, string, string, int) ([]domain.Candle, error) {
	return nil, nil
}

func newPriceService(feed domain.MarketFeed, cache domain.PriceCache, now time.Time) *PriceService {
	s := NewPriceService(feed, cache, nil, fastPolicy(), PriceConfig{MaxAge: time.Minute}, testLogger())
	s.clock = func() time.Time { return now }
	return s
}

func TestLatestSkipsStaleCachedPrice(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cache := memcache.NewPriceCache()
	require.NoError(t, cache.SetPrice(ctx, "BTCUSDT", 100, now.Add(-6*time.Hour)))

	feed := &stubFeed{err: domain.Transient(assert.AnError)}
	prices, err := newPriceService(feed, cache, now).Latest(ctx, []string{"BTCUSDT"})

	require.Error(t, err)
	assert.NotContains(t, prices, "BTCUSDT")
	assert.Positive(t, feed.calls)
}

func TestLatestRefreshesStaleCachedPrice(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cache := memcache.NewPriceCache()
	require.NoError(t, cache.SetPrice(ctx, "BTCUSDT", 100, now.Add(-2*time.Minute)))
	require.NoError(t, cache.SetPrice(ctx, "ETHUSDT", 3000, now.Add(-10*time.Second)))

	feed := &stubFeed{prices: map[string]float64{"BTCUSDT": 105}}
	prices, err := newPriceService(feed, cache, now).Latest(ctx, []string{"BTCUSDT", "ETHUSDT"})

	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"BTCUSDT": 105, "ETHUSDT": 3000}, prices)
	assert.Equal(t, 1, feed.calls)

	p, at, err := cache.GetPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 105.0, p)
	assert.Equal(t, now, at)
}
