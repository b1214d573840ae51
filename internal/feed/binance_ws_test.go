package feed

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type restFeed struct {
	calls int
	price float64
}

func (r *restFeed) PriceOf(_ context.Context, symbol string) (domain.Ticker, error) {
	r.calls++
	return domain.Ticker{Symbol: symbol, Price: r.price, At: time.Now()}, nil
}

func (r *restFeed) Candles(context.Context, string, string, int) ([]domain.Candle, error) {
	return []domain.Candle{{Close: r.price}}, nil
}

func TestParseMiniTicker(t *testing.T) {
	msg := `{"stream":"btcusdt@miniTicker","data":{"e":"24hrMiniTicker","E":1700000000000,"s":"BTCUSDT","c":"43000.5","o":"42000","h":"43500","l":"41800","v":"1234.5","q":"53000000"}}`
	tk, err := ParseMiniTicker([]byte(msg))
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", tk.Symbol)
	assert.InDelta(t, 43000.5, tk.Price, 1e-9)
	assert.InDelta(t, 1234.5, tk.Volume, 1e-9)
	assert.Equal(t, int64(1700000000000), tk.At.UnixMilli())

	_, err = ParseMiniTicker([]byte(`{"result":null,"id":1}`))
	assert.Error(t, err)
	_, err = ParseMiniTicker([]byte(`{"e":"24hrMiniTicker","s":"ETHUSDT","c":"0"}`))
	assert.Error(t, err)
}

func TestStreamURL(t *testing.T) {
	f := NewStreamFeed(LiveStreamURL+"/", []string{"BTCUSDT", "ETHUSDT"}, nil, 0, nil, testLogger())
	assert.Equal(t, "wss://stream.binance.com:9443/stream?streams=btcusdt@miniTicker/ethusdt@miniTicker", f.StreamURL())
}

func TestPriceOfFallsBackWhenStale(t *testing.T) {
	rest := &restFeed{price: 10}
	f := NewStreamFeed(LiveStreamURL, []string{"BTCUSDT"}, rest, time.Minute, nil, testLogger())
	ctx := context.Background()

	tk, err := f.PriceOf(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 10.0, tk.Price)
	assert.Equal(t, 1, rest.calls)

	f.latest["BTCUSDT"] = domain.Ticker{Symbol: "BTCUSDT", Price: 11, At: time.Now()}
	tk, err = f.PriceOf(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 11.0, tk.Price)
	assert.Equal(t, 1, rest.calls)

	f.latest["BTCUSDT"] = domain.Ticker{Symbol: "BTCUSDT", Price: 12, At: time.Now().Add(-2 * time.Minute)}
	tk, err = f.PriceOf(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 10.0, tk.Price)
}

func TestPriceOfWithoutFallbackIsTransient(t *testing.T) {
	f := NewStreamFeed(LiveStreamURL, []string{"BTCUSDT"}, nil, time.Minute, nil, testLogger())
	_, err := f.PriceOf(context.Background(), "BTCUSDT")
	assert.True(t, domain.IsTransient(err))
}

func TestRunDeliversTicks(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stream", r.URL.Path)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		msg := `{"stream":"btcusdt@miniTicker","data":{"e":"24hrMiniTicker","E":` +
			strconv.FormatInt(time.Now().UnixMilli(), 10) + `,"s":"BTCUSDT","c":"101.25","v":"3"}}`
		_ = conn.WriteMessage(websocket.TextMessage, []byte(msg))
		// Hold the connection until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ticks := make(chan domain.Ticker, 1)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	f := NewStreamFeed(wsURL, []string{"BTCUSDT"}, nil, time.Minute, func(t domain.Ticker) {
		select {
		case ticks <- t:
		default:
		}
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	select {
	case tk := <-ticks:
		assert.Equal(t, 101.25, tk.Price)
	case <-time.After(5 * time.Second):
		t.Fatal("no tick received")
	}

	tk, err := f.PriceOf(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 101.25, tk.Price)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("feed did not stop")
	}
}
