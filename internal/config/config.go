// Package config defines the top-level configuration for the trading engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by HEDGEBOT_* environment variables.
type Config struct {
	Exchange ExchangeConfig `toml:"exchange"`
	Trading  TradingConfig  `toml:"trading"`
	Risk     RiskConfig     `toml:"risk"`
	Engine   EngineConfig   `toml:"engine"`
	Signals  SignalsConfig  `toml:"signals"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ExchangeConfig selects and configures the trading venues. Testnet and live
// are both built at startup; the engine switches between them only while
// stopped.
type ExchangeConfig struct {
	Venue             string   `toml:"venue"` // "binance" or "paper"
	Live              bool     `toml:"live"`
	APIKey            string   `toml:"api_key"`
	SecretKey         string   `toml:"secret_key"`
	TestnetAPIKey     string   `toml:"testnet_api_key"`
	TestnetSecretKey  string   `toml:"testnet_secret_key"`
	BaseURL           string   `toml:"base_url"`
	TestnetBaseURL    string   `toml:"testnet_base_url"`
	StreamURL         string   `toml:"stream_url"`
	StreamStaleAfter  duration `toml:"stream_stale_after"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	Burst             int      `toml:"burst"`
	Timeout           duration `toml:"timeout"`
	PaperSlippageBps  float64  `toml:"paper_slippage_bps"`
	PaperFeeBps       float64  `toml:"paper_fee_bps"`
	OrdersPerMinute   int      `toml:"orders_per_minute"`
}

// TradingConfig holds entry, sizing and exit parameters.
type TradingConfig struct {
	Symbols                []string `toml:"symbols"`
	StartingCapital        float64  `toml:"starting_capital"`
	MinCapital             float64  `toml:"min_capital"`
	ConfidenceFloor        float64  `toml:"confidence_floor"`
	MinMove                float64  `toml:"min_move"`
	VolatilityCeiling      float64  `toml:"volatility_ceiling"`
	DefaultVolatility      float64  `toml:"default_volatility"`
	RiskPerTrade           float64  `toml:"risk_per_trade"`
	ConfidenceMultiplier   float64  `toml:"confidence_multiplier"`
	MaxPositionFraction    float64  `toml:"max_position_fraction"`
	StopLossPct            float64  `toml:"stop_loss_pct"`
	TakeProfitPct          float64  `toml:"take_profit_pct"`
	TrailingStopPct        float64  `toml:"trailing_stop_pct"`
	ATRMultiplier          float64  `toml:"atr_multiplier"`
	RiskRewardRatio        float64  `toml:"risk_reward_ratio"`
	MaxHolding             duration `toml:"max_holding"`
	ExcursionLimit         float64  `toml:"excursion_limit"`
	MaxConcurrentPositions int      `toml:"max_concurrent_positions"`
	CandleInterval         string   `toml:"candle_interval"`
	CandleWindow           int      `toml:"candle_window"`
}

// RiskConfig holds portfolio-level limits.
type RiskConfig struct {
	MaxDrawdown      float64 `toml:"max_drawdown"`
	MaxVaR           float64 `toml:"max_var"`
	MaxExposure      float64 `toml:"max_exposure"`
	RiskFreeRate     float64 `toml:"risk_free_rate"`
	MinSamples       int     `toml:"min_samples"`
	TargetVolatility float64 `toml:"target_volatility"`
	PeriodsPerYear   float64 `toml:"periods_per_year"`
}

// EngineConfig holds loop periods and the retry policy.
type EngineConfig struct {
	PriceInterval    duration `toml:"price_interval"`
	DecisionInterval duration `toml:"decision_interval"`
	PositionInterval duration `toml:"position_interval"`
	RiskInterval     duration `toml:"risk_interval"`
	PersistInterval  duration `toml:"persist_interval"`
	RetryAttempts    int      `toml:"retry_attempts"`
	RetryMin         duration `toml:"retry_min"`
	RetryMax         duration `toml:"retry_max"`
	CommandBuffer    int      `toml:"command_buffer"`
	StopTimeout      duration `toml:"stop_timeout"`
	OrderTimeout     duration `toml:"order_timeout"`
	LockKey          string   `toml:"lock_key"`
	LockTTL          duration `toml:"lock_ttl"`
	AutoStart        bool     `toml:"auto_start"`
}

// SignalsConfig selects the prediction source.
// A redis source falls back to Fallback for symbols the model has no
// opinion on.
type SignalsConfig struct {
	Source     string   `toml:"source"` // "redis", "momentum" or "mean_reversion"
	Fallback   string   `toml:"fallback"`
	RedisKey   string   `toml:"redis_key"`
	MaxAge     duration `toml:"max_age"`
	DedupTTL   duration `toml:"dedup_ttl"`
	FastPeriod int      `toml:"fast_period"`
	SlowPeriod int      `toml:"slow_period"`
	Lookback   int      `toml:"lookback"`
	ZThreshold float64  `toml:"z_threshold"`
}

// PostgresConfig holds PostgreSQL connection parameters. An empty DSN and
// host keeps all state in memory.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// Enabled reports whether a database was configured.
func (p PostgresConfig) Enabled() bool {
	return strings.TrimSpace(p.DSN) != "" || p.Host != ""
}

// RedisConfig holds Redis connection parameters. An empty Addr disables Redis.
type RedisConfig struct {
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	Prefix     string   `toml:"prefix"`
	OpTimeout  duration `toml:"op_timeout"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls moving old trades and logs to S3.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
	BatchSize     int      `toml:"batch_size"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "30s", "5m").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so that BurntSushi/toml can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled        bool     `toml:"enabled"`
	Port           int      `toml:"port"`
	APIKey         string   `toml:"api_key"`
	CORSOrigins    []string `toml:"cors_origins"`
	RequestsPerSec float64  `toml:"requests_per_sec"`
	Burst          int      `toml:"burst"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `toml:"enabled"`
	Namespace string `toml:"namespace"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			Venue:             "paper",
			BaseURL:           "https://api.binance.com",
			TestnetBaseURL:    "https://testnet.binance.vision",
			StreamURL:         "wss://stream.binance.com:9443",
			StreamStaleAfter:  duration{30 * time.Second},
			RequestsPerSecond: 10,
			Burst:             20,
			Timeout:           duration{10 * time.Second},
			PaperSlippageBps:  5,
			PaperFeeBps:       10,
			OrdersPerMinute:   60,
		},
		Trading: TradingConfig{
			Symbols: []string{
				"BTCUSDT", "ETHUSDT", "BNBUSDT", "ADAUSDT", "SOLUSDT",
				"XRPUSDT", "DOTUSDT", "DOGEUSDT", "AVAXUSDT", "LINKUSDT",
			},
			StartingCapital:        100_000,
			MinCapital:             1_000,
			ConfidenceFloor:        0.7,
			MinMove:                0.01,
			VolatilityCeiling:      1.5,
			DefaultVolatility:      0.20,
			RiskPerTrade:           0.02,
			ConfidenceMultiplier:   0.1,
			MaxPositionFraction:    0.05,
			StopLossPct:            0.02,
			TakeProfitPct:          0.04,
			TrailingStopPct:        0.02,
			RiskRewardRatio:        2.0,
			MaxHolding:             duration{24 * time.Hour},
			ExcursionLimit:         0.10,
			MaxConcurrentPositions: 10,
			CandleInterval:         "1h",
			CandleWindow:           48,
		},
		Risk: RiskConfig{
			MaxDrawdown:      0.15,
			MaxVaR:           0.10,
			MaxExposure:      1.0,
			RiskFreeRate:     0.02,
			MinSamples:       5,
			TargetVolatility: 0.20,
			PeriodsPerYear:   252,
		},
		Engine: EngineConfig{
			PriceInterval:    duration{5 * time.Second},
			DecisionInterval: duration{time.Minute},
			PositionInterval: duration{10 * time.Second},
			RiskInterval:     duration{30 * time.Second},
			PersistInterval:  duration{time.Minute},
			RetryAttempts:    4,
			RetryMin:         duration{100 * time.Millisecond},
			RetryMax:         duration{5 * time.Second},
			CommandBuffer:    64,
			StopTimeout:      duration{30 * time.Second},
			OrderTimeout:     duration{30 * time.Second},
			LockKey:          "engine",
			LockTTL:          duration{3 * time.Minute},
		},
		Signals: SignalsConfig{
			Source:     "momentum",
			Fallback:   "momentum",
			RedisKey:   "signals:latest",
			MaxAge:     duration{5 * time.Minute},
			DedupTTL:   duration{24 * time.Hour},
			FastPeriod: 12,
			SlowPeriod: 26,
			Lookback:   20,
			ZThreshold: 2.0,
		},
		Postgres: PostgresConfig{
			Port:          5432,
			Database:      "hedgebot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			Prefix:     "hedgebot:",
			OpTimeout:  duration{3 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "hedgebot-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
			BatchSize:     500,
		},
		Server: ServerConfig{
			Enabled:        true,
			Port:           8000,
			CORSOrigins:    []string{"http://localhost:3000", "http://localhost:5173"},
			RequestsPerSec: 20,
			Burst:          40,
		},
		Notify: NotifyConfig{
			Events: []string{"emergency_stop", "trade_closed", "mode_changed"},
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "hedgebot",
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":  true,
	"server": true,
	"full":   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validVenues = map[string]bool{
	"binance": true,
	"paper":   true,
}

var validSignalSources = map[string]bool{
	"redis":          true,
	"momentum":       true,
	"mean_reversion": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Exchange
	if !validVenues[c.Exchange.Venue] {
		errs = append(errs, fmt.Sprintf("exchange: unknown venue %q (valid: binance, paper)", c.Exchange.Venue))
	}
	if c.Exchange.Venue == "binance" {
		if c.Exchange.Live && (c.Exchange.APIKey == "" || c.Exchange.SecretKey == "") {
			errs = append(errs, "exchange: api_key and secret_key are required when live = true")
		}
		if c.Exchange.BaseURL == "" || c.Exchange.TestnetBaseURL == "" {
			errs = append(errs, "exchange: base_url and testnet_base_url must not be empty")
		}
	}
	if c.Exchange.RequestsPerSecond <= 0 || c.Exchange.Burst < 1 {
		errs = append(errs, "exchange: requests_per_second must be > 0 and burst >= 1")
	}
	if c.Exchange.PaperSlippageBps < 0 {
		errs = append(errs, "exchange: paper_slippage_bps must be >= 0")
	}

	// Trading
	t := c.Trading
	if len(t.Symbols) == 0 {
		errs = append(errs, "trading: symbols must not be empty")
	}
	if t.StartingCapital < 0 {
		errs = append(errs, "trading: starting_capital must be >= 0")
	}
	if t.ConfidenceFloor < 0 || t.ConfidenceFloor > 1 {
		errs = append(errs, "trading: confidence_floor must be within [0, 1]")
	}
	if t.MaxPositionFraction <= 0 || t.MaxPositionFraction > 1 {
		errs = append(errs, "trading: max_position_fraction must be within (0, 1]")
	}
	if t.StopLossPct <= 0 || t.StopLossPct >= 1 {
		errs = append(errs, "trading: stop_loss_pct must be within (0, 1)")
	}
	if t.TakeProfitPct <= 0 {
		errs = append(errs, "trading: take_profit_pct must be > 0")
	}
	if t.TrailingStopPct < 0 || t.TrailingStopPct >= 1 {
		errs = append(errs, "trading: trailing_stop_pct must be within [0, 1)")
	}
	if t.MaxHolding.Duration <= 0 {
		errs = append(errs, "trading: max_holding must be > 0")
	}
	if t.ExcursionLimit <= 0 {
		errs = append(errs, "trading: excursion_limit must be > 0")
	}
	if t.MaxConcurrentPositions < 1 {
		errs = append(errs, "trading: max_concurrent_positions must be >= 1")
	}
	if t.CandleWindow < 2 {
		errs = append(errs, "trading: candle_window must be >= 2")
	}

	// Risk
	if c.Risk.MaxDrawdown <= 0 || c.Risk.MaxDrawdown >= 1 {
		errs = append(errs, "risk: max_drawdown must be within (0, 1)")
	}
	if c.Risk.MinSamples < 2 {
		errs = append(errs, "risk: min_samples must be >= 2")
	}
	if c.Risk.PeriodsPerYear <= 0 {
		errs = append(errs, "risk: periods_per_year must be > 0")
	}

	// Engine
	for name, d := range map[string]duration{
		"price_interval":    c.Engine.PriceInterval,
		"decision_interval": c.Engine.DecisionInterval,
		"position_interval": c.Engine.PositionInterval,
		"risk_interval":     c.Engine.RiskInterval,
		"persist_interval":  c.Engine.PersistInterval,
	} {
		if d.Duration <= 0 {
			errs = append(errs, fmt.Sprintf("engine: %s must be > 0", name))
		}
	}
	if c.Engine.RetryAttempts < 1 {
		errs = append(errs, "engine: retry_attempts must be >= 1")
	}
	if c.Engine.RetryMax.Duration < c.Engine.RetryMin.Duration {
		errs = append(errs, "engine: retry_max must be >= retry_min")
	}

	// Signals
	if !validSignalSources[c.Signals.Source] {
		errs = append(errs, fmt.Sprintf("signals: unknown source %q (valid: redis, momentum, mean_reversion)", c.Signals.Source))
	}
	if c.Signals.Fallback != "" && (c.Signals.Fallback == "redis" || !validSignalSources[c.Signals.Fallback]) {
		errs = append(errs, fmt.Sprintf("signals: unknown fallback %q (valid: momentum, mean_reversion)", c.Signals.Fallback))
	}
	if c.Signals.Source == "redis" && c.Redis.Addr == "" {
		errs = append(errs, "signals: source = redis requires redis.addr")
	}
	if c.Signals.FastPeriod < 1 || c.Signals.SlowPeriod <= c.Signals.FastPeriod {
		errs = append(errs, "signals: need 1 <= fast_period < slow_period")
	}
	if c.Signals.Lookback < 3 || c.Signals.ZThreshold <= 0 {
		errs = append(errs, "signals: need lookback >= 3 and z_threshold > 0")
	}

	// Postgres
	if c.Postgres.Enabled() {
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Addr != "" && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Archive
	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "archive: s3.bucket must be set when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.BatchSize < 1 {
			errs = append(errs, "archive: batch_size must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
