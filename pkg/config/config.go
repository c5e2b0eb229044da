package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Checkout     CheckoutConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"WILLSHOP_APP_ENV" required:"true"`
	Port         string   `envconfig:"WILLSHOP_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"WILLSHOP_LOG_LEVEL" default:"info"`
	LogFormat    string   `envconfig:"WILLSHOP_LOG_FORMAT" default:"json"`
	LogWarnStack bool     `envconfig:"WILLSHOP_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"WILLSHOP_CORS_ORIGINS" default:"http://localhost:8080"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN string `envconfig:"WILLSHOP_DB_DSN"`

	LegacyHost     string `envconfig:"WILLSHOP_DB_HOST"`
	LegacyPort     int    `envconfig:"WILLSHOP_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"WILLSHOP_DB_USER"`
	LegacyPassword string `envconfig:"WILLSHOP_DB_PASSWORD"`
	LegacyName     string `envconfig:"WILLSHOP_DB_NAME"`
	LegacySSLMode  string `envconfig:"WILLSHOP_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"WILLSHOP_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"WILLSHOP_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"WILLSHOP_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"WILLSHOP_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	// SlowQuery is the duration above which a statement is logged as a warning.
	SlowQuery time.Duration `envconfig:"WILLSHOP_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"WILLSHOP_REDIS_URL"`
	Address      string        `envconfig:"WILLSHOP_REDIS_ADDR"`
	Password     string        `envconfig:"WILLSHOP_REDIS_PASSWORD"`
	DB           int           `envconfig:"WILLSHOP_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"WILLSHOP_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"WILLSHOP_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"WILLSHOP_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"WILLSHOP_REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"WILLSHOP_REDIS_WRITE_TIMEOUT" default:"3s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"WILLSHOP_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"WILLSHOP_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"WILLSHOP_JWT_EXPIRATION_MINUTES" default:"60"`
	// RefreshAfterPercent is the share of the token lifetime after which a
	// fresh token is returned in the Authorization response header. Zero disables refresh.
	RefreshAfterPercent int `envconfig:"WILLSHOP_JWT_REFRESH_AFTER_PERCENT" default:"50"`
}

// TTL returns the access token lifetime.
func (j JWTConfig) TTL() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return 0
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

// RefreshThreshold returns the token age after which the middleware re-issues it.
func (j JWTConfig) RefreshThreshold() time.Duration {
	if j.RefreshAfterPercent <= 0 || j.RefreshAfterPercent >= 100 {
		return 0
	}
	return j.TTL() * time.Duration(j.RefreshAfterPercent) / 100
}

type CheckoutConfig struct {
	StoreTimeout  time.Duration `envconfig:"WILLSHOP_CHECKOUT_STORE_TIMEOUT" default:"5s"`
	StrictPrices  bool          `envconfig:"WILLSHOP_CHECKOUT_STRICT_PRICES" default:"false"`
	OrderNoPrefix string        `envconfig:"WILLSHOP_CHECKOUT_ORDER_NO_PREFIX" default:"WS"`

	// Zero limits disable throttling of POST /orders.
	RateLimitWindow  time.Duration `envconfig:"WILLSHOP_CHECKOUT_RATE_LIMIT_WINDOW" default:"1m"`
	RateLimitPerUser int           `envconfig:"WILLSHOP_CHECKOUT_RATE_LIMIT_PER_USER" default:"20"`
	RateLimitPerIP   int           `envconfig:"WILLSHOP_CHECKOUT_RATE_LIMIT_PER_IP" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"WILLSHOP_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"WILLSHOP_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	OrdersTopic string `envconfig:"WILLSHOP_PUBSUB_ORDERS_TOPIC" default:"willshop-order-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"WILLSHOP_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"WILLSHOP_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"WILLSHOP_OUTBOX_MAX_ATTEMPTS" default:"10"`
	// MetricsAddr exposes /metrics from the publisher when set, e.g. ":9102".
	MetricsAddr string `envconfig:"WILLSHOP_OUTBOX_METRICS_ADDR"`
}

type CronConfig struct {
	Interval        time.Duration `envconfig:"WILLSHOP_CRON_INTERVAL" default:"1h"`
	LockTTL         time.Duration `envconfig:"WILLSHOP_CRON_LOCK_TTL" default:"30m"`
	OutboxRetention time.Duration `envconfig:"WILLSHOP_CRON_OUTBOX_RETENTION" default:"720h"`
	MetricsAddr     string        `envconfig:"WILLSHOP_CRON_METRICS_ADDR"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
