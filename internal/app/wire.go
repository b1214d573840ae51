package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	s3blob "github.com/alanyoungcy/hedgebot/internal/blob/s3"
	"github.com/alanyoungcy/hedgebot/internal/cache/memory"
	"github.com/alanyoungcy/hedgebot/internal/cache/redis"
	"github.com/alanyoungcy/hedgebot/internal/config"
	"github.com/alanyoungcy/hedgebot/internal/domain"
	"github.com/alanyoungcy/hedgebot/internal/notify"
	"github.com/alanyoungcy/hedgebot/internal/observability"
	"github.com/alanyoungcy/hedgebot/internal/platform/binance"
	"github.com/alanyoungcy/hedgebot/internal/platform/paper"
	"github.com/alanyoungcy/hedgebot/internal/server/handler"
	memstore "github.com/alanyoungcy/hedgebot/internal/store/memory"
	"github.com/alanyoungcy/hedgebot/internal/store/postgres"
)

// Dependencies bundles the infrastructure the run modes build on. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Persistence
	Store domain.Store

	// Caches and coordination. RateLimiter, LockManager, EventBus and
	// Predictions are nil without Redis.
	PriceCache  domain.PriceCache
	RulesCache  domain.RulesCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	EventBus    domain.EventBus
	Predictions *redis.PredictionStore

	// Venues. Live is nil when no live credentials are configured.
	MarketData domain.MarketFeed
	Testnet    domain.ExchangeClient
	Live       domain.ExchangeClient

	// Archiver is nil unless archiving to S3 is enabled.
	Archiver *s3blob.Archiver

	Notifier *notify.Notifier
	Metrics  *observability.Metrics

	// Checks feed the health endpoint.
	Checks map[string]handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Checks:  make(map[string]handler.Check),
		Metrics: observability.NewMetrics(cfg.Metrics.Namespace, prometheus.NewRegistry()),
	}

	// --- PostgreSQL, or memory when no database is configured ---
	if cfg.Postgres.Enabled() {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.Store = postgres.NewStore(pgClient.Pool())
		deps.Checks["postgres"] = pgClient.Ping
	} else {
		logger.WarnContext(ctx, "postgres not configured, state is kept in memory only")
		deps.Store = memstore.New()
	}

	// --- Redis, or in-process caches ---
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Prefix:     cfg.Redis.Prefix,
			OpTimeout:  cfg.Redis.OpTimeout.Duration,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.RulesCache = redis.NewRulesCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.EventBus = redis.NewEventBus(redisClient)
		deps.Predictions = redis.NewPredictionStore(redisClient, cfg.Signals.RedisKey, cfg.Signals.MaxAge.Duration)
		deps.Checks["redis"] = redisClient.Ping
	} else {
		deps.PriceCache = memory.NewPriceCache()
		deps.RulesCache = memory.NewRulesCache()
	}

	// --- Venues ---
	ex := cfg.Exchange
	marketData := binance.NewClient(binance.Config{
		Name:              "binance-market",
		BaseURL:           ex.BaseURL,
		Timeout:           ex.Timeout.Duration,
		RequestsPerSecond: ex.RequestsPerSecond,
		Burst:             ex.Burst,
	})
	deps.MarketData = marketData

	switch ex.Venue {
	case "binance":
		deps.Testnet = binance.NewClient(binance.Config{
			Name:              "binance-testnet",
			APIKey:            ex.TestnetAPIKey,
			SecretKey:         ex.TestnetSecretKey,
			BaseURL:           ex.TestnetBaseURL,
			Timeout:           ex.Timeout.Duration,
			RequestsPerSecond: ex.RequestsPerSecond,
			Burst:             ex.Burst,
		})
		if ex.APIKey != "" && ex.SecretKey != "" {
			deps.Live = binance.NewClient(binance.Config{
				Name:              "binance-live",
				APIKey:            ex.APIKey,
				SecretKey:         ex.SecretKey,
				BaseURL:           ex.BaseURL,
				Timeout:           ex.Timeout.Duration,
				RequestsPerSecond: ex.RequestsPerSecond,
				Burst:             ex.Burst,
			})
		}
	default:
		deps.Testnet = paper.NewClient(marketData, paper.Config{
			StartingCash: cfg.Trading.StartingCapital,
			SlippageBps:  ex.PaperSlippageBps,
			FeeBps:       ex.PaperFeeBps,
		})
	}
	deps.Checks["exchange"] = deps.Testnet.Ping

	// --- S3 archive ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			deps.Store,
			deps.Store,
			cfg.Archive.BatchSize,
			logger,
		)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
