// Package feed keeps live market data flowing into the engine.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

const (
	// LiveStreamURL is the production combined-stream endpoint.
	LiveStreamURL = "wss://stream.binance.com:9443"
	// TestnetStreamURL is the spot testnet combined-stream endpoint.
	TestnetStreamURL = "wss://stream.testnet.binance.vision"

	pongWait          = 60 * time.Second
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// StreamFeed subscribes to the miniTicker stream of every configured symbol
// and serves PriceOf from the latest tick. Stale or missing symbols, and all
// candle requests, go to the REST fallback.
type StreamFeed struct {
	baseURL    string
	symbols    []string
	fallback   domain.MarketFeed
	staleAfter time.Duration
	onTick     func(domain.Ticker)
	logger     *slog.Logger

	mu     sync.RWMutex
	latest map[string]domain.Ticker
}

var _ domain.MarketFeed = (*StreamFeed)(nil)

// NewStreamFeed creates a feed. onTick may be nil.
func NewStreamFeed(baseURL string, symbols []string, fallback domain.MarketFeed, staleAfter time.Duration, onTick func(domain.Ticker), logger *slog.Logger) *StreamFeed {
	if staleAfter <= 0 {
		staleAfter = 30 * time.Second
	}
	return &StreamFeed{
		baseURL:    strings.TrimRight(baseURL, "/"),
		symbols:    symbols,
		fallback:   fallback,
		staleAfter: staleAfter,
		onTick:     onTick,
		logger:     logger.With(slog.String("component", "binance_stream_feed")),
		latest:     make(map[string]domain.Ticker),
	}
}

// PriceOf returns the streamed price when fresh, otherwise asks the fallback.
func (f *StreamFeed) PriceOf(ctx context.Context, symbol string) (domain.Ticker, error) {
	f.mu.RLock()
	t, ok := f.latest[symbol]
	f.mu.RUnlock()
	if ok && time.Since(t.At) < f.staleAfter {
		return t, nil
	}
	if f.fallback == nil {
		return domain.Ticker{}, domain.Transient(fmt.Errorf("feed: no fresh price for %s", symbol))
	}
	return f.fallback.PriceOf(ctx, symbol)
}

// Candles always comes from the fallback.
func (f *StreamFeed) Candles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	if f.fallback == nil {
		return nil, fmt.Errorf("feed: candles %s: %w", symbol, domain.ErrInsufficientData)
	}
	return f.fallback.Candles(ctx, symbol, interval, limit)
}

// Run keeps a stream connection open until ctx is cancelled, reconnecting
// with exponential backoff.
func (f *StreamFeed) Run(ctx context.Context) error {
	if len(f.symbols) == 0 {
		f.logger.Info("no symbols to subscribe, exiting")
		return nil
	}
	delay := reconnectDelay
	for {
		started := time.Now()
		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(started) > maxReconnectDelay {
			delay = reconnectDelay
		}
		f.logger.Warn("binance stream disconnected, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

// StreamURL builds the combined-stream URL for the configured symbols.
func (f *StreamFeed) StreamURL() string {
	streams := make([]string, len(f.symbols))
	for i, s := range f.symbols {
		streams[i] = strings.ToLower(s) + "@miniTicker"
	}
	return f.baseURL + "/stream?streams=" + strings.Join(streams, "/")
}

func (f *StreamFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.StreamURL(), nil)
	if err != nil {
		return fmt.Errorf("feed: dial: %w", err)
	}
	defer conn.Close()

	// Binance pings every few minutes; the default ping handler answers them
	// and any frame extends the deadline.
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(10*time.Second))
	})

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	f.logger.Info("binance stream subscribed", slog.Int("symbols", len(f.symbols)))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		t, err := ParseMiniTicker(data)
		if err != nil {
			f.logger.Debug("skip stream message", slog.String("error", err.Error()))
			continue
		}
		f.mu.Lock()
		f.latest[t.Symbol] = t
		f.mu.Unlock()
		if f.onTick != nil {
			f.onTick(t)
		}
	}
}

type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type miniTicker struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Close     string `json:"c"`
	Volume    string `json:"v"`
}

// ParseMiniTicker decodes a combined-stream or raw miniTicker message.
func ParseMiniTicker(data []byte) (domain.Ticker, error) {
	var env streamEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return domain.Ticker{}, err
	}
	payload := data
	if len(env.Data) > 0 {
		payload = env.Data
	}
	var mt miniTicker
	if err := json.Unmarshal(payload, &mt); err != nil {
		return domain.Ticker{}, err
	}
	if mt.Event != "24hrMiniTicker" || mt.Symbol == "" {
		return domain.Ticker{}, errors.New("not a miniTicker event")
	}
	price, err := strconv.ParseFloat(mt.Close, 64)
	if err != nil || price <= 0 {
		return domain.Ticker{}, fmt.Errorf("bad close price %q", mt.Close)
	}
	vol, _ := strconv.ParseFloat(mt.Volume, 64)
	return domain.Ticker{
		Symbol: mt.Symbol,
		Price:  price,
		Volume: vol,
		At:     time.UnixMilli(mt.EventTime).UTC(),
	}, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
