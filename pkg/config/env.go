package config

const EnvPrefix = "WILLSHOP"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "WILLSHOP_APP_ENV"
	EnvPort     = "WILLSHOP_APP_PORT"
	EnvLogLevel = "WILLSHOP_LOG_LEVEL"

	EnvDBDSN  = "WILLSHOP_DB_DSN"
	EnvDBHost = "WILLSHOP_DB_HOST"
	EnvDBUser = "WILLSHOP_DB_USER"
	EnvDBName = "WILLSHOP_DB_NAME"

	EnvRedisURL = "WILLSHOP_REDIS_URL"

	EnvJWTSecret  = "WILLSHOP_JWT_SECRET"
	EnvJWTIssuer  = "WILLSHOP_JWT_ISSUER"
	EnvJWTExpMins = "WILLSHOP_JWT_EXPIRATION_MINUTES"

	EnvCheckoutStoreTimeout = "WILLSHOP_CHECKOUT_STORE_TIMEOUT"
	EnvCheckoutStrictPrices = "WILLSHOP_CHECKOUT_STRICT_PRICES"

	EnvGCPProjectID      = "WILLSHOP_GCP_PROJECT_ID"
	EnvPubSubOrdersTopic = "WILLSHOP_PUBSUB_ORDERS_TOPIC"
	EnvOutboxMaxAttempts = "WILLSHOP_OUTBOX_MAX_ATTEMPTS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
