package di

import (
	"context"
	"fmt"
	"time"

	redisv8 "github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rail-service/wallet_ledger/internal/api/handlers"
	"github.com/rail-service/wallet_ledger/internal/domain/repositories"
	"github.com/rail-service/wallet_ledger/internal/domain/services/dueoffset"
	"github.com/rail-service/wallet_ledger/internal/domain/services/ledger"
	"github.com/rail-service/wallet_ledger/internal/domain/services/movement"
	"github.com/rail-service/wallet_ledger/internal/domain/services/pricing"
	"github.com/rail-service/wallet_ledger/internal/domain/services/reconciliation"
	"github.com/rail-service/wallet_ledger/internal/domain/services/reimbursement"
	"github.com/rail-service/wallet_ledger/internal/domain/services/settings"
	"github.com/rail-service/wallet_ledger/internal/infrastructure/adapters"
	"github.com/rail-service/wallet_ledger/internal/infrastructure/cache"
	"github.com/rail-service/wallet_ledger/internal/infrastructure/config"
	"github.com/rail-service/wallet_ledger/internal/infrastructure/database"
	postgresrepos "github.com/rail-service/wallet_ledger/internal/infrastructure/repositories"
	"github.com/rail-service/wallet_ledger/internal/infrastructure/repositories/memory"
	"github.com/rail-service/wallet_ledger/pkg/logger"
	"github.com/rail-service/wallet_ledger/pkg/metrics"
	"github.com/rail-service/wallet_ledger/pkg/ratelimit"
	"github.com/rail-service/wallet_ledger/pkg/security"
)

const poolStatsInterval = 15 * time.Second

// Container holds every long-lived dependency of the service
type Container struct {
	Config *config.Config
	Logger *logger.Logger
	ZapLog *zap.Logger

	// DB is nil when the memory storage driver is selected.
	DB *sqlx.DB
	// Cache is nil when neither the oracle cache nor redis is configured.
	Cache         cache.RedisClient
	SequenceRedis *redis.Client
	// LimitsRedis backs the movement limiter and the admin OTP lockout.
	LimitsRedis *redisv8.Client

	// MovementLimiter and OTPAttempts are nil when movement limits are off.
	MovementLimiter *ratelimit.SlidingWindowLimiter
	OTPAttempts     *ratelimit.AttemptTracker

	Store     repositories.LedgerStore
	Addresses repositories.AddressRegistry
	Catalog   *settings.Catalog

	Calculator *ledger.Calculator
	Movement   *movement.Service

	Reconciliation *reconciliation.Service
	// Scheduler is nil when reconciliation is disabled.
	Scheduler *reconciliation.Scheduler

	topicCheck handlers.HealthCheck
}

// NewContainer builds the service graph from configuration
func NewContainer(cfg *config.Config, log *logger.Logger) (*Container, error) {
	c := &Container{
		Config: cfg,
		Logger: log,
		ZapLog: log.Zap(),
	}

	catalog, err := cfg.BuildCatalog()
	if err != nil {
		return nil, fmt.Errorf("failed to build settings catalog: %w", err)
	}
	c.Catalog = catalog

	if err := c.initStorage(); err != nil {
		return nil, err
	}
	c.initCache()
	if err := c.initLimits(); err != nil {
		return nil, err
	}

	calculator := ledger.NewCalculator(ledger.DefaultPrecision)
	c.Calculator = calculator
	ledgerService := ledger.NewService(calculator, log)

	sequenceRepo, err := c.sequenceRepository()
	if err != nil {
		return nil, err
	}
	generator := ledger.NewGenerator(sequenceRepo, ledger.DefaultRequestIDWidth)

	dueOffset := dueoffset.NewEngine(ledgerService, catalog, log)
	reimburser := reimbursement.NewHandler(ledgerService, generator, dueOffset, log)

	oracle := adapters.NewPriceOracleClient(adapters.PriceOracleConfig{
		BaseURL:   cfg.Oracle.BaseURL,
		APIKey:    cfg.Oracle.APIKey,
		Timeout:   config.Seconds(cfg.Oracle.Timeout),
		CacheTTL:  config.Seconds(cfg.Oracle.CacheTTL),
		RateLimit: cfg.Oracle.RateLimit,
		Burst:     cfg.Oracle.Burst,
	}, c.Cache, c.ZapLog)

	notifier, err := c.notifier()
	if err != nil {
		return nil, err
	}

	deps := movement.Dependencies{
		Store:         c.Store,
		Sequence:      generator,
		Ledger:        ledgerService,
		Prices:        pricing.NewPriceResolver(oracle),
		Converter:     pricing.NewConverter(calculator.Precision()),
		Catalog:       catalog,
		DueOffset:     dueOffset,
		Reimbursement: reimburser,
		Notifier:      notifier,
		Identities:    c.Addresses,
	}
	if cfg.Payout.BaseURL != "" {
		gateway, err := adapters.NewPayoutGatewayClient(adapters.PayoutGatewayConfig{
			BaseURL:    cfg.Payout.BaseURL,
			APIKey:     cfg.Payout.APIKey,
			Timeout:    config.Seconds(cfg.Payout.Timeout),
			MaxRetries: cfg.Payout.MaxRetries,
			TLS: security.ClientTLSConfig{
				CertFile:   cfg.Payout.TLSCertFile,
				KeyFile:    cfg.Payout.TLSKeyFile,
				CAFile:     cfg.Payout.TLSCAFile,
				ServerName: cfg.Payout.TLSServerName,
			},
		}, c.ZapLog)
		if err != nil {
			return nil, fmt.Errorf("failed to create payout gateway: %w", err)
		}
		deps.Payouts = gateway
	} else {
		log.Warn("Payout gateway not configured, withdrawals wait for manual confirmation")
	}

	c.Movement = movement.NewService(deps, movement.Config{
		SuppressNotifications: cfg.Ledger.SuppressNotifications,
		PayoutTimeout:         config.Seconds(cfg.Ledger.PayoutTimeout),
		NotifyTimeout:         config.Seconds(cfg.Ledger.NotifyTimeout),
	}, log)

	tolerance, err := cfg.ReconciliationTolerance()
	if err != nil {
		return nil, fmt.Errorf("invalid reconciliation tolerance: %w", err)
	}
	c.Reconciliation = reconciliation.NewService(c.Store, calculator, log, reconciliation.Config{
		AutoCorrect:        cfg.Reconciliation.AutoCorrect,
		Tolerance:          tolerance,
		BatchSize:          cfg.Reconciliation.BatchSize,
		AlertWebhookURL:    cfg.Reconciliation.AlertWebhookURL,
		AlertWebhookSecret: cfg.Reconciliation.AlertWebhookSecret,
	})
	if cfg.Reconciliation.Enabled {
		c.Scheduler = reconciliation.NewScheduler(c.Reconciliation, log, reconciliation.SchedulerConfig{
			Schedule: cfg.Reconciliation.Schedule,
			Timeout:  config.Seconds(cfg.Reconciliation.Timeout),
		})
	}

	log.Info("Container initialized",
		"storage", cfg.Storage.Driver,
		"sequence", cfg.Sequence.Driver,
		"tokens", len(catalog.Tokens()),
		"notifications", cfg.Notification.Provider,
		"movement_limits", c.MovementLimiter != nil,
	)
	return c, nil
}

func (c *Container) initStorage() error {
	switch c.Config.Storage.Driver {
	case "memory":
		c.Store = memory.NewStore()
		c.Addresses = memory.NewAddresses()
		c.Logger.Warn("Using in-memory ledger storage, data is lost on restart")
		return nil
	default:
		db, err := database.NewConnection(c.Config.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		c.DB = db
		c.Store = postgresrepos.NewPostgresStore(db, c.ZapLog)
		c.Addresses = postgresrepos.NewDepositAddressRepository(db)
		return nil
	}
}

// initCache connects the oracle cache. A cache outage degrades to direct
// feed reads rather than failing startup.
func (c *Container) initCache() {
	if c.Config.Oracle.CacheTTL <= 0 {
		return
	}
	client, err := cache.NewRedisClient(c.Config.Redis, c.ZapLog)
	if err != nil {
		c.Logger.Warn("Redis cache unavailable, price quotes will not be cached", "error", err)
		return
	}
	c.Cache = client
}

// initLimits connects the per-user movement limiter. Unlike the oracle
// cache, enabled limits that cannot reach Redis fail startup.
func (c *Container) initLimits() error {
	limits := c.Config.MovementLimits
	if !limits.Enabled {
		return nil
	}
	client, err := cache.Dial(c.Config.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to rate limit redis: %w", err)
	}
	c.LimitsRedis = client

	endpoints := make(map[string]ratelimit.Window, len(limits.Endpoints))
	for name, w := range limits.Endpoints {
		endpoints[name] = ratelimit.Window{Limit: int64(w.Limit), Window: config.Seconds(w.Window)}
	}
	c.MovementLimiter = ratelimit.NewSlidingWindowLimiter(client, ratelimit.Config{
		User:      ratelimit.Window{Limit: int64(limits.User.Limit), Window: config.Seconds(limits.User.Window)},
		Endpoints: endpoints,
	}, c.ZapLog)
	c.OTPAttempts = ratelimit.NewAttemptTracker(client, ratelimit.AttemptConfig{
		MaxAttempts: c.Config.Admin.OTPMaxAttempts,
		BaseBackoff: config.Seconds(c.Config.Admin.OTPLockout),
	}, c.ZapLog)
	return nil
}

func (c *Container) sequenceRepository() (repositories.SequenceRepository, error) {
	switch c.Config.Sequence.Driver {
	case "memory":
		return memory.NewSequence(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:       c.Config.Redis.Addr(),
			Password:   c.Config.Redis.Password,
			DB:         c.Config.Redis.DB,
			MaxRetries: c.Config.Redis.MaxRetries,
			PoolSize:   c.Config.Redis.PoolSize,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to sequence redis: %w", err)
		}
		c.SequenceRedis = client
		return postgresrepos.NewRedisSequence(client, ""), nil
	default:
		return postgresrepos.NewPostgresSequence(c.DB), nil
	}
}

func (c *Container) notifier() (movement.Notifier, error) {
	n := c.Config.Notification
	switch n.Provider {
	case "sendgrid":
	case "sns":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		topic, err := adapters.NewSNSNotifier(ctx, adapters.SNSNotifierConfig{
			Region:   n.AWSRegion,
			TopicARN: n.SNSTopicARN,
		}, c.ZapLog)
		if err != nil {
			return nil, fmt.Errorf("failed to create sns notifier: %w", err)
		}
		c.topicCheck = topic.HealthCheck
		return topic, nil
	default:
		return adapters.NewLogNotifier(c.ZapLog), nil
	}
	email, err := adapters.NewEmailNotifier(adapters.EmailNotifierConfig{
		APIKey:    n.SendGridAPIKey,
		FromEmail: n.FromEmail,
		FromName:  n.FromName,
		OpsEmail:  n.OpsEmail,
		Locale:    n.Locale,
	}, c.ZapLog)
	if err != nil {
		return nil, fmt.Errorf("failed to create email notifier: %w", err)
	}
	return email, nil
}

// HealthChecks returns the readiness probes of the configured backends
func (c *Container) HealthChecks() map[string]handlers.HealthCheck {
	checks := make(map[string]handlers.HealthCheck)
	if c.DB != nil {
		checks["database"] = func(ctx context.Context) error {
			return database.HealthCheck(ctx, c.DB)
		}
	}
	if c.Cache != nil {
		checks["cache"] = c.Cache.Ping
	}
	if c.SequenceRedis != nil {
		checks["sequence"] = func(ctx context.Context) error {
			return c.SequenceRedis.Ping(ctx).Err()
		}
	}
	if c.LimitsRedis != nil {
		checks["rate_limits"] = func(ctx context.Context) error {
			return c.LimitsRedis.Ping(ctx).Err()
		}
	}
	if c.topicCheck != nil {
		checks["notifications"] = c.topicCheck
	}
	return checks
}

// CollectPoolStats publishes database pool gauges until ctx is done
func (c *Container) CollectPoolStats(ctx context.Context) {
	if c.DB == nil {
		return
	}
	ticker := time.NewTicker(poolStatsInterval)
	defer ticker.Stop()
	for {
		database.CollectPoolStats(c.DB, func(state string, value float64) {
			metrics.DatabaseConnectionsGauge.WithLabelValues(state).Set(value)
		})
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close releases connections held by the container
func (c *Container) Close(ctx context.Context) error {
	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}
	var firstErr error
	if c.Cache != nil {
		if err := c.Cache.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.SequenceRedis != nil {
		if err := c.SequenceRedis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.LimitsRedis != nil {
		if err := c.LimitsRedis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.DB != nil {
		if err := c.DB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
