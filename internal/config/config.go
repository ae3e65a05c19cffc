package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	LogLevel    string

	HTTPAddr string

	OTLPEndpoint   string
	OTLPProtocol   string
	TracingEnabled bool
	MetricsEnabled bool

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBSlowQueryMs     int

	Redis     RedisConfig
	Stripe    StripeConfig
	RateLimit RateLimitConfig

	DefaultCurrency  string
	AdminActors      []string
	InternalAPIToken string
	SeedPlanCatalog  bool

	Scheduler SchedulerConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a redis address was configured.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Env           string
}

// RateLimitConfig throttles AI call reporting per account. It only applies
// when redis is configured.
type RateLimitConfig struct {
	AICallRate  float64
	AICallBurst int
}

type SchedulerConfig struct {
	RunInterval time.Duration
	JobTimeout  time.Duration
	LockTTL     time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:        getenv("APP_SERVICE", "sitebill"),
		AppVersion:     getenv("APP_VERSION", "0.1.0"),
		Environment:    getenv("ENVIRONMENT", "development"),
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		HTTPAddr:       getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint:   getenv("OTLP_ENDPOINT", "localhost:4317"),
		OTLPProtocol:   strings.ToLower(getenv("OTLP_PROTOCOL", "grpc")),
		TracingEnabled: getenvBool("TRACING_ENABLED", false),
		MetricsEnabled: getenvBool("METRICS_ENABLED", false),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "sitebill"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),
		DBSlowQueryMs:     getenvInt("DATABASE_SLOW_QUERY_MS", 200),

		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Stripe: StripeConfig{
			SecretKey:     strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
			WebhookSecret: strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
			Env:           strings.ToLower(strings.TrimSpace(getenv("STRIPE_ENVIRONMENT", "test"))),
		},

		RateLimit: RateLimitConfig{
			AICallRate:  getenvFloat("RATE_LIMIT_AI_CALL_RATE", 5),
			AICallBurst: getenvInt("RATE_LIMIT_AI_CALL_BURST", 20),
		},

		DefaultCurrency:  strings.ToUpper(getenv("DEFAULT_CURRENCY", "USD")),
		AdminActors:      parseList(getenv("ADMIN_ACTORS", "")),
		InternalAPIToken: strings.TrimSpace(getenv("INTERNAL_API_TOKEN", "")),
		SeedPlanCatalog:  getenvBool("SEED_PLAN_CATALOG", false),

		Scheduler: SchedulerConfig{
			RunInterval: getenvDuration("SCHEDULER_RUN_INTERVAL", time.Hour),
			JobTimeout:  getenvDuration("SCHEDULER_JOB_TIMEOUT", 5*time.Minute),
			LockTTL:     getenvDuration("SCHEDULER_LOCK_TTL", 10*time.Minute),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
