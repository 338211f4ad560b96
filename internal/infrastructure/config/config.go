package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/rail-service/wallet_ledger/internal/domain/entities"
	"github.com/rail-service/wallet_ledger/internal/domain/services/settings"
	"github.com/rail-service/wallet_ledger/pkg/secrets"
)

// Config holds all configuration for the application
type Config struct {
	Environment    string               `mapstructure:"environment"`
	LogLevel       string               `mapstructure:"log_level"`
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Storage        StorageConfig        `mapstructure:"storage"`
	Sequence       SequenceConfig       `mapstructure:"sequence"`
	Ledger         LedgerConfig         `mapstructure:"ledger"`
	Tokens         []TokenConfig        `mapstructure:"tokens"`
	Withdraw       []WithdrawConfig     `mapstructure:"withdraw_settings"`
	Deposit        []DepositConfig      `mapstructure:"deposit_settings"`
	Swap           []SwapConfig         `mapstructure:"swap_settings"`
	Oracle         OracleConfig         `mapstructure:"oracle"`
	Payout         PayoutConfig         `mapstructure:"payout"`
	Notification   NotificationConfig   `mapstructure:"notification"`
	JWT            JWTConfig            `mapstructure:"jwt"`
	Admin          AdminConfig          `mapstructure:"admin"`
	MovementLimits MovementLimitsConfig `mapstructure:"movement_limits"`
	Secrets        SecretsConfig        `mapstructure:"secrets"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
	Tracing        TracingConfig        `mapstructure:"tracing"`

	// derivedDatabaseURL is set when Database.URL was built from its parts.
	derivedDatabaseURL bool
}

type ServerConfig struct {
	Port            int      `mapstructure:"port"`
	Host            string   `mapstructure:"host"`
	ReadTimeout     int      `mapstructure:"read_timeout"`
	WriteTimeout    int      `mapstructure:"write_timeout"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	RateLimitPerMin int      `mapstructure:"rate_limit_per_min"`
}

type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	QueryTimeout    int    `mapstructure:"query_timeout"`
	MaxRetries      int    `mapstructure:"max_retries"`
	MigrationsPath  string `mapstructure:"migrations_path"`
}

type RedisConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	MaxRetries int    `mapstructure:"max_retries"`
	PoolSize   int    `mapstructure:"pool_size"`
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// StorageConfig selects the ledger store backend: "postgres" or "memory"
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

// SequenceConfig selects the request id counter backend: "postgres", "redis" or "memory"
type SequenceConfig struct {
	Driver string `mapstructure:"driver"`
}

type LedgerConfig struct {
	SuppressNotifications bool   `mapstructure:"suppress_notifications"`
	DueToken              string `mapstructure:"due_token"`
	PayoutTimeout         int    `mapstructure:"payout_timeout"` // seconds
	NotifyTimeout         int    `mapstructure:"notify_timeout"` // seconds
}

// TokenConfig mirrors entities.Token with decimals as strings
type TokenConfig struct {
	Symbol     string   `mapstructure:"symbol"`
	Pricing    string   `mapstructure:"pricing"`
	ValueType  string   `mapstructure:"value_type"`
	CustomRate string   `mapstructure:"custom_rate"`
	PricePair  string   `mapstructure:"price_pair"`
	Networks   []string `mapstructure:"networks"`
}

type ChargeConfig struct {
	Type          string `mapstructure:"type"`
	Value         string `mapstructure:"value"`
	FixedFloorUSD string `mapstructure:"fixed_floor_usd"`
}

type WithdrawConfig struct {
	Token                   string       `mapstructure:"token"`
	Platform                string       `mapstructure:"platform"`
	MinAmount               string       `mapstructure:"min_amount"`
	MaxAmount               string       `mapstructure:"max_amount"`
	Fee                     ChargeConfig `mapstructure:"fee"`
	Commission              ChargeConfig `mapstructure:"commission"`
	AdminReviewThresholdUSD string       `mapstructure:"admin_review_threshold_usd"`
}

type DepositConfig struct {
	Token     string `mapstructure:"token"`
	MinAmount string `mapstructure:"min_amount"`
}

type SwapConfig struct {
	From                    string       `mapstructure:"from"`
	To                      string       `mapstructure:"to"`
	MinAmount               string       `mapstructure:"min_amount"`
	MaxAmount               string       `mapstructure:"max_amount"`
	Commission              ChargeConfig `mapstructure:"commission"`
	OverrideRate            string       `mapstructure:"override_rate"`
	OverrideAppliesToCustom bool         `mapstructure:"override_applies_to_custom"`
}

type OracleConfig struct {
	BaseURL   string  `mapstructure:"base_url"`
	APIKey    string  `mapstructure:"api_key"`
	Timeout   int     `mapstructure:"timeout"`   // seconds
	CacheTTL  int     `mapstructure:"cache_ttl"` // seconds, 0 disables the redis cache
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`
}

type PayoutConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	APIKey        string `mapstructure:"api_key"`
	Timeout       int    `mapstructure:"timeout"` // seconds
	MaxRetries    int    `mapstructure:"max_retries"`
	TLSCertFile   string `mapstructure:"tls_cert_file"`
	TLSKeyFile    string `mapstructure:"tls_key_file"`
	TLSCAFile     string `mapstructure:"tls_ca_file"`
	TLSServerName string `mapstructure:"tls_server_name"`
}

type NotificationConfig struct {
	Provider       string `mapstructure:"provider"` // log, sendgrid or sns
	SendGridAPIKey string `mapstructure:"sendgrid_api_key"`
	FromEmail      string `mapstructure:"from_email"`
	FromName       string `mapstructure:"from_name"`
	OpsEmail       string `mapstructure:"ops_email"`
	Locale         string `mapstructure:"locale"`
	SNSTopicARN    string `mapstructure:"sns_topic_arn"`
	AWSRegion      string `mapstructure:"aws_region"`
}

type JWTConfig struct {
	Secret    string `mapstructure:"secret"`
	AccessTTL int    `mapstructure:"access_token_ttl"`
	Issuer    string `mapstructure:"issuer"`
}

// AdminConfig guards the admin settlement endpoints
type AdminConfig struct {
	TOTPSecret     string `mapstructure:"totp_secret"`
	OTPMaxAttempts int    `mapstructure:"otp_max_attempts"`
	OTPLockout     int    `mapstructure:"otp_lockout"` // seconds, doubled per further failure
}

// LimitWindow allows Limit requests per Window seconds
type LimitWindow struct {
	Limit  int `mapstructure:"limit"`
	Window int `mapstructure:"window"`
}

// MovementLimitsConfig caps movement requests per user through Redis
type MovementLimitsConfig struct {
	Enabled   bool                   `mapstructure:"enabled"`
	User      LimitWindow            `mapstructure:"user"`
	Endpoints map[string]LimitWindow `mapstructure:"endpoints"`
}

// SecretsConfig selects where credentials come from: "env" or "aws"
type SecretsConfig struct {
	Provider string `mapstructure:"provider"`
	Region   string `mapstructure:"region"`
	Prefix   string `mapstructure:"prefix"`
	CacheTTL int    `mapstructure:"cache_ttl"` // seconds
}

type ReconciliationConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	Schedule           string `mapstructure:"schedule"` // cron expression
	Timeout            int    `mapstructure:"timeout"`  // seconds per run
	AutoCorrect        bool   `mapstructure:"auto_correct"`
	Tolerance          string `mapstructure:"tolerance"`
	BatchSize          int    `mapstructure:"batch_size"`
	AlertWebhookURL    string `mapstructure:"alert_webhook_url"`
	AlertWebhookSecret string `mapstructure:"alert_webhook_secret"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	CollectorURL string  `mapstructure:"collector_url"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	Insecure     bool    `mapstructure:"insecure"`
}

// Seconds converts an integer seconds setting to a duration
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Load loads configuration from .env, configs/config.yaml and the environment
func Load() (*Config, error) {
	// Load .env file if it exists (ignore errors if file doesn't exist)
	godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	return load(v)
}

// LoadFile loads configuration from an explicit file path
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	overrideFromEnv(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if config.Database.URL == "" {
		config.Database.URL = config.databaseURL()
		config.derivedDatabaseURL = true
	}

	if err := validate(&config, config.Secrets.Provider != "aws"); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.rate_limit_per_min", 120)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "wallet_ledger")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", 3600)
	v.SetDefault("database.query_timeout", 30)
	v.SetDefault("database.max_retries", 3)
	v.SetDefault("database.migrations_path", "file://migrations")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("sequence.driver", "postgres")

	v.SetDefault("ledger.suppress_notifications", false)
	v.SetDefault("ledger.due_token", "DUE")
	v.SetDefault("ledger.payout_timeout", 30)
	v.SetDefault("ledger.notify_timeout", 10)

	v.SetDefault("oracle.timeout", 10)
	v.SetDefault("oracle.cache_ttl", 15)
	v.SetDefault("oracle.rate_limit", 10.0)
	v.SetDefault("oracle.burst", 20)

	v.SetDefault("payout.timeout", 30)
	v.SetDefault("payout.max_retries", 3)

	v.SetDefault("notification.provider", "log")
	v.SetDefault("notification.from_email", "no-reply@wallet-ledger.local")
	v.SetDefault("notification.from_name", "Wallet Ledger")
	v.SetDefault("notification.locale", "en")
	v.SetDefault("notification.aws_region", "us-east-1")

	v.SetDefault("admin.otp_max_attempts", 5)
	v.SetDefault("admin.otp_lockout", 30)

	v.SetDefault("movement_limits.enabled", false)
	v.SetDefault("movement_limits.user.limit", 60)
	v.SetDefault("movement_limits.user.window", 60)

	v.SetDefault("secrets.provider", "env")
	v.SetDefault("secrets.region", "us-east-1")
	v.SetDefault("secrets.cache_ttl", 300)

	v.SetDefault("jwt.access_token_ttl", 900)
	v.SetDefault("jwt.issuer", "wallet_ledger")

	v.SetDefault("reconciliation.enabled", true)
	v.SetDefault("reconciliation.schedule", "0 * * * *")
	v.SetDefault("reconciliation.timeout", 600)
	v.SetDefault("reconciliation.auto_correct", false)
	v.SetDefault("reconciliation.tolerance", "0")
	v.SetDefault("reconciliation.batch_size", 500)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.sample_rate", 0.1)
}

func overrideFromEnv(v *viper.Viper) {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			v.Set("server.port", p)
		}
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		v.Set("database.url", dbURL)
	}
	if redisURL := os.Getenv("REDIS_HOST"); redisURL != "" {
		v.Set("redis.host", redisURL)
	}
	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		v.Set("jwt.secret", jwtSecret)
	}
	if totp := os.Getenv("ADMIN_TOTP_SECRET"); totp != "" {
		v.Set("admin.totp_secret", totp)
	}
	if key := os.Getenv("ORACLE_API_KEY"); key != "" {
		v.Set("oracle.api_key", key)
	}
	if key := os.Getenv("PAYOUT_API_KEY"); key != "" {
		v.Set("payout.api_key", key)
	}
	if key := os.Getenv("SENDGRID_API_KEY"); key != "" {
		v.Set("notification.sendgrid_api_key", key)
	}
	if secret := os.Getenv("RECONCILIATION_WEBHOOK_SECRET"); secret != "" {
		v.Set("reconciliation.alert_webhook_secret", secret)
	}
	if collector := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); collector != "" {
		v.Set("tracing.collector_url", collector)
		v.Set("tracing.enabled", true)
	}
}

// validate checks the loaded configuration. Credential checks are skipped
// when requireSecrets is false because ResolveSecrets fills them later.
func validate(config *Config, requireSecrets bool) error {
	if requireSecrets && config.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}

	switch config.Secrets.Provider {
	case "env", "aws":
	default:
		return fmt.Errorf("unknown secrets provider %q", config.Secrets.Provider)
	}

	switch config.Storage.Driver {
	case "postgres":
		if config.Database.URL == "" && (config.Database.Host == "" || config.Database.Name == "") {
			return fmt.Errorf("database configuration is incomplete")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage driver %q", config.Storage.Driver)
	}

	switch config.Sequence.Driver {
	case "postgres", "redis", "memory":
	default:
		return fmt.Errorf("unknown sequence driver %q", config.Sequence.Driver)
	}
	if config.Sequence.Driver == "postgres" && config.Storage.Driver != "postgres" {
		return fmt.Errorf("postgres sequence requires postgres storage")
	}

	switch config.Notification.Provider {
	case "log":
	case "sendgrid":
		if requireSecrets && config.Notification.SendGridAPIKey == "" {
			return fmt.Errorf("sendgrid api key is required")
		}
	case "sns":
		if config.Notification.SNSTopicARN == "" {
			return fmt.Errorf("sns topic arn is required")
		}
	default:
		return fmt.Errorf("unknown notification provider %q", config.Notification.Provider)
	}

	if config.Ledger.DueToken == "" {
		return fmt.Errorf("ledger due_token is required")
	}

	if config.MovementLimits.Enabled {
		for name, w := range config.MovementLimits.Endpoints {
			if w.Limit <= 0 || w.Window <= 0 {
				return fmt.Errorf("movement limit %q needs a positive limit and window", name)
			}
		}
	}

	return nil
}

// BuildCatalog converts the configured rules into a validated catalog
func (c *Config) BuildCatalog() (*settings.Catalog, error) {
	tokens := make([]entities.Token, 0, len(c.Tokens))
	for _, t := range c.Tokens {
		rate, err := parseDecimal(t.CustomRate)
		if err != nil {
			return nil, fmt.Errorf("token %s custom_rate: %w", t.Symbol, err)
		}
		tokens = append(tokens, entities.Token{
			Symbol:     t.Symbol,
			Pricing:    entities.PricingModel(strings.ToLower(t.Pricing)),
			ValueType:  t.ValueType,
			CustomRate: rate,
			PricePair:  t.PricePair,
			Networks:   t.Networks,
		})
	}

	withdraw := make([]entities.WithdrawSettings, 0, len(c.Withdraw))
	for _, w := range c.Withdraw {
		var (
			ws  = entities.WithdrawSettings{Token: w.Token, Platform: w.Platform}
			err error
		)
		if ws.MinAmount, err = parseDecimal(w.MinAmount); err != nil {
			return nil, fmt.Errorf("withdraw %s min_amount: %w", w.Token, err)
		}
		if ws.MaxAmount, err = parseDecimal(w.MaxAmount); err != nil {
			return nil, fmt.Errorf("withdraw %s max_amount: %w", w.Token, err)
		}
		if ws.AdminReviewThresholdUSD, err = parseDecimal(w.AdminReviewThresholdUSD); err != nil {
			return nil, fmt.Errorf("withdraw %s admin_review_threshold_usd: %w", w.Token, err)
		}
		if ws.Fee, err = w.Fee.rule(); err != nil {
			return nil, fmt.Errorf("withdraw %s fee: %w", w.Token, err)
		}
		if ws.Commission, err = w.Commission.rule(); err != nil {
			return nil, fmt.Errorf("withdraw %s commission: %w", w.Token, err)
		}
		withdraw = append(withdraw, ws)
	}

	deposit := make([]entities.DepositSettings, 0, len(c.Deposit))
	for _, d := range c.Deposit {
		min, err := parseDecimal(d.MinAmount)
		if err != nil {
			return nil, fmt.Errorf("deposit %s min_amount: %w", d.Token, err)
		}
		deposit = append(deposit, entities.DepositSettings{Token: d.Token, MinAmount: min})
	}

	swap := make([]entities.SwapSettings, 0, len(c.Swap))
	for _, s := range c.Swap {
		var (
			ss = entities.SwapSettings{
				From:                    s.From,
				To:                      s.To,
				OverrideAppliesToCustom: s.OverrideAppliesToCustom,
			}
			err error
		)
		pair := s.From + "/" + s.To
		if ss.MinAmount, err = parseDecimal(s.MinAmount); err != nil {
			return nil, fmt.Errorf("swap %s min_amount: %w", pair, err)
		}
		if ss.MaxAmount, err = parseDecimal(s.MaxAmount); err != nil {
			return nil, fmt.Errorf("swap %s max_amount: %w", pair, err)
		}
		if ss.OverrideRate, err = parseDecimal(s.OverrideRate); err != nil {
			return nil, fmt.Errorf("swap %s override_rate: %w", pair, err)
		}
		if ss.Commission, err = s.Commission.rule(); err != nil {
			return nil, fmt.Errorf("swap %s commission: %w", pair, err)
		}
		swap = append(swap, ss)
	}

	return settings.NewCatalog(tokens, withdraw, deposit, swap, c.Ledger.DueToken)
}

// secretBindings maps secret names to the settings they fill
func (c *Config) secretBindings() map[string]*string {
	return map[string]*string{
		"JWT_SECRET":                    &c.JWT.Secret,
		"ADMIN_TOTP_SECRET":             &c.Admin.TOTPSecret,
		"DATABASE_PASSWORD":             &c.Database.Password,
		"REDIS_PASSWORD":                &c.Redis.Password,
		"ORACLE_API_KEY":                &c.Oracle.APIKey,
		"PAYOUT_API_KEY":                &c.Payout.APIKey,
		"SENDGRID_API_KEY":              &c.Notification.SendGridAPIKey,
		"RECONCILIATION_WEBHOOK_SECRET": &c.Reconciliation.AlertWebhookSecret,
	}
}

// ResolveSecrets fills every empty credential from provider and then
// re-validates. Values already set by file or environment win. Secrets the
// provider does not hold are left empty.
func (c *Config) ResolveSecrets(ctx context.Context, provider secrets.Provider) error {
	for name, target := range c.secretBindings() {
		if *target != "" {
			continue
		}
		value, err := provider.GetSecret(ctx, name)
		if errors.Is(err, secrets.ErrSecretNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", name, err)
		}
		*target = value
	}

	if c.derivedDatabaseURL {
		c.Database.URL = c.databaseURL()
	}

	if err := validate(c, true); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

func (c *Config) databaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// ReconciliationTolerance parses the drift tolerance
func (c *Config) ReconciliationTolerance() (decimal.Decimal, error) {
	return parseDecimal(c.Reconciliation.Tolerance)
}

func (c ChargeConfig) rule() (entities.ChargeRule, error) {
	if c.Type == "" && c.Value == "" && c.FixedFloorUSD == "" {
		return entities.ChargeRule{}, nil
	}
	value, err := parseDecimal(c.Value)
	if err != nil {
		return entities.ChargeRule{}, fmt.Errorf("value: %w", err)
	}
	floor, err := parseDecimal(c.FixedFloorUSD)
	if err != nil {
		return entities.ChargeRule{}, fmt.Errorf("fixed_floor_usd: %w", err)
	}
	return entities.ChargeRule{
		Type:          entities.ChargeType(strings.ToUpper(c.Type)),
		Value:         value,
		FixedFloorUSD: floor,
	}, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
