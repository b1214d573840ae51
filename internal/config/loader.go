package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies HEDGEBOT_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known HEDGEBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. Keys and
// DSNs are expected to arrive this way rather than through the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.Venue, "HEDGEBOT_EXCHANGE_VENUE")
	setBool(&cfg.Exchange.Live, "HEDGEBOT_EXCHANGE_LIVE")
	setStr(&cfg.Exchange.APIKey, "HEDGEBOT_EXCHANGE_API_KEY")
	setStr(&cfg.Exchange.APIKey, "BINANCE_API_KEY") // compatibility alias
	setStr(&cfg.Exchange.SecretKey, "HEDGEBOT_EXCHANGE_SECRET_KEY")
	setStr(&cfg.Exchange.SecretKey, "BINANCE_SECRET_KEY") // compatibility alias
	setStr(&cfg.Exchange.TestnetAPIKey, "HEDGEBOT_EXCHANGE_TESTNET_API_KEY")
	setStr(&cfg.Exchange.TestnetAPIKey, "BINANCE_TESTNET_API_KEY")
	setStr(&cfg.Exchange.TestnetSecretKey, "HEDGEBOT_EXCHANGE_TESTNET_SECRET_KEY")
	setStr(&cfg.Exchange.TestnetSecretKey, "BINANCE_TESTNET_SECRET_KEY")
	setStr(&cfg.Exchange.BaseURL, "HEDGEBOT_EXCHANGE_BASE_URL")
	setStr(&cfg.Exchange.TestnetBaseURL, "HEDGEBOT_EXCHANGE_TESTNET_BASE_URL")
	setStr(&cfg.Exchange.StreamURL, "HEDGEBOT_EXCHANGE_STREAM_URL")
	setFloat64(&cfg.Exchange.RequestsPerSecond, "HEDGEBOT_EXCHANGE_REQUESTS_PER_SECOND")
	setInt(&cfg.Exchange.Burst, "HEDGEBOT_EXCHANGE_BURST")
	setDuration(&cfg.Exchange.Timeout, "HEDGEBOT_EXCHANGE_TIMEOUT")
	setFloat64(&cfg.Exchange.PaperSlippageBps, "HEDGEBOT_EXCHANGE_PAPER_SLIPPAGE_BPS")
	setFloat64(&cfg.Exchange.PaperFeeBps, "HEDGEBOT_EXCHANGE_PAPER_FEE_BPS")
	setInt(&cfg.Exchange.OrdersPerMinute, "HEDGEBOT_EXCHANGE_ORDERS_PER_MINUTE")

	// ── Trading ──
	setStringSlice(&cfg.Trading.Symbols, "HEDGEBOT_TRADING_SYMBOLS")
	setFloat64(&cfg.Trading.StartingCapital, "HEDGEBOT_TRADING_STARTING_CAPITAL")
	setFloat64(&cfg.Trading.MinCapital, "HEDGEBOT_TRADING_MIN_CAPITAL")
	setFloat64(&cfg.Trading.ConfidenceFloor, "HEDGEBOT_TRADING_CONFIDENCE_FLOOR")
	setFloat64(&cfg.Trading.MinMove, "HEDGEBOT_TRADING_MIN_MOVE")
	setFloat64(&cfg.Trading.VolatilityCeiling, "HEDGEBOT_TRADING_VOLATILITY_CEILING")
	setFloat64(&cfg.Trading.RiskPerTrade, "HEDGEBOT_TRADING_RISK_PER_TRADE")
	setFloat64(&cfg.Trading.MaxPositionFraction, "HEDGEBOT_TRADING_MAX_POSITION_FRACTION")
	setFloat64(&cfg.Trading.StopLossPct, "HEDGEBOT_TRADING_STOP_LOSS_PCT")
	setFloat64(&cfg.Trading.TakeProfitPct, "HEDGEBOT_TRADING_TAKE_PROFIT_PCT")
	setFloat64(&cfg.Trading.TrailingStopPct, "HEDGEBOT_TRADING_TRAILING_STOP_PCT")
	setFloat64(&cfg.Trading.ATRMultiplier, "HEDGEBOT_TRADING_ATR_MULTIPLIER")
	setDuration(&cfg.Trading.MaxHolding, "HEDGEBOT_TRADING_MAX_HOLDING")
	setFloat64(&cfg.Trading.ExcursionLimit, "HEDGEBOT_TRADING_EXCURSION_LIMIT")
	setInt(&cfg.Trading.MaxConcurrentPositions, "HEDGEBOT_TRADING_MAX_CONCURRENT_POSITIONS")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxDrawdown, "HEDGEBOT_RISK_MAX_DRAWDOWN")
	setFloat64(&cfg.Risk.MaxVaR, "HEDGEBOT_RISK_MAX_VAR")
	setFloat64(&cfg.Risk.MaxExposure, "HEDGEBOT_RISK_MAX_EXPOSURE")
	setFloat64(&cfg.Risk.RiskFreeRate, "HEDGEBOT_RISK_RISK_FREE_RATE")
	setInt(&cfg.Risk.MinSamples, "HEDGEBOT_RISK_MIN_SAMPLES")

	// ── Engine ──
	setDuration(&cfg.Engine.PriceInterval, "HEDGEBOT_ENGINE_PRICE_INTERVAL")
	setDuration(&cfg.Engine.DecisionInterval, "HEDGEBOT_ENGINE_DECISION_INTERVAL")
	setDuration(&cfg.Engine.PositionInterval, "HEDGEBOT_ENGINE_POSITION_INTERVAL")
	setDuration(&cfg.Engine.RiskInterval, "HEDGEBOT_ENGINE_RISK_INTERVAL")
	setDuration(&cfg.Engine.PersistInterval, "HEDGEBOT_ENGINE_PERSIST_INTERVAL")
	setInt(&cfg.Engine.RetryAttempts, "HEDGEBOT_ENGINE_RETRY_ATTEMPTS")
	setDuration(&cfg.Engine.OrderTimeout, "HEDGEBOT_ENGINE_ORDER_TIMEOUT")
	setStr(&cfg.Engine.LockKey, "HEDGEBOT_ENGINE_LOCK_KEY")
	setBool(&cfg.Engine.AutoStart, "HEDGEBOT_ENGINE_AUTO_START")

	// ── Signals ──
	setStr(&cfg.Signals.Source, "HEDGEBOT_SIGNALS_SOURCE")
	setStr(&cfg.Signals.RedisKey, "HEDGEBOT_SIGNALS_REDIS_KEY")
	setStr(&cfg.Signals.Fallback, "HEDGEBOT_SIGNALS_FALLBACK")
	setDuration(&cfg.Signals.MaxAge, "HEDGEBOT_SIGNALS_MAX_AGE")
	setDuration(&cfg.Signals.DedupTTL, "HEDGEBOT_SIGNALS_DEDUP_TTL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "HEDGEBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "HEDGEBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "HEDGEBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "HEDGEBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "HEDGEBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "HEDGEBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "HEDGEBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "HEDGEBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "HEDGEBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "HEDGEBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "HEDGEBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "HEDGEBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "HEDGEBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "HEDGEBOT_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "HEDGEBOT_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Prefix, "HEDGEBOT_REDIS_PREFIX")
	setDuration(&cfg.Redis.OpTimeout, "HEDGEBOT_REDIS_OP_TIMEOUT")

	// ── S3 / archive ──
	setStr(&cfg.S3.Endpoint, "HEDGEBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "HEDGEBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "HEDGEBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "HEDGEBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "HEDGEBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "HEDGEBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "HEDGEBOT_S3_FORCE_PATH_STYLE")
	setBool(&cfg.Archive.Enabled, "HEDGEBOT_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "HEDGEBOT_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "HEDGEBOT_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.BatchSize, "HEDGEBOT_ARCHIVE_BATCH_SIZE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "HEDGEBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "HEDGEBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "HEDGEBOT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "HEDGEBOT_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "HEDGEBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "HEDGEBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "HEDGEBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "HEDGEBOT_NOTIFY_EVENTS")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "HEDGEBOT_METRICS_ENABLED")
	setStr(&cfg.Metrics.Namespace, "HEDGEBOT_METRICS_NAMESPACE")

	// ── Top-level ──
	setStr(&cfg.Mode, "HEDGEBOT_MODE")
	setStr(&cfg.LogLevel, "HEDGEBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
