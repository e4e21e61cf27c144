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
	HTTPAddr    string
	BaseURL     string

	OTLPEndpoint string

	DBType              string
	DBHost              string
	DBPort              string
	DBName              string
	DBUser              string
	DBPassword          string
	DBSSLMode           string
	DBPath              string
	DBMaxIdleConn       int
	DBMaxOpenConn       int
	DBConnMaxLifetime   int
	DBConnMaxIdleTime   int
	DBIdleInTxTimeoutMS int
	DBLogQueries        bool

	Redis     RedisConfig
	RateLimit RateLimitConfig
	Email     EmailConfig
	Admin     AdminConfig

	Idempotency IdempotencyConfig

	DeliveryConfigFile string
	WorkerMode         string
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

// RateLimitConfig bounds publish commands per user. It only applies when redis is configured.
type RateLimitConfig struct {
	PublishRate  float64
	PublishBurst int
}

type EmailConfig struct {
	Provider string
	Sender   string
	Timeout  time.Duration

	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string

	PostmarkBaseURL string
	PostmarkToken   string

	BreakerConsecutiveFailures uint32
	BreakerOpenTimeout         time.Duration
}

type AdminConfig struct {
	Username string
	Password string
}

type IdempotencyConfig struct {
	RacePolicy  string
	WaitTimeout time.Duration
}

const (
	WorkerModeForever = "forever"
	WorkerModeDrain   = "drain"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "newsletter"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		BaseURL:      strings.TrimRight(getenv("APP_BASE_URL", "http://localhost:8080"), "/"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:              strings.ToLower(getenv("DATABASE_TYPE", "postgres")),
		DBHost:              getenv("DATABASE_HOST", "localhost"),
		DBPort:              getenv("DATABASE_PORT", "5432"),
		DBName:              getenv("DATABASE_NAME", "newsletter"),
		DBUser:              getenv("DATABASE_USER", "postgres"),
		DBPassword:          getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:           getenv("DATABASE_SSLMODE", "disable"),
		DBPath:              getenv("DATABASE_PATH", "newsletter.db"),
		DBMaxIdleConn:       getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:       getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime:   getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime:   getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBIdleInTxTimeoutMS: getenvInt("DB_IDLE_IN_TX_TIMEOUT", 0),
		DBLogQueries:        getenvBool("DATABASE_LOG_QUERIES", false),

		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			PublishRate:  getenvFloat("PUBLISH_RATE_PER_SECOND", 0.2),
			PublishBurst: getenvInt("PUBLISH_BURST", 5),
		},
		Email: EmailConfig{
			Provider:                   strings.ToLower(getenv("EMAIL_PROVIDER", "noop")),
			Sender:                     getenv("EMAIL_SENDER", "newsletter@localhost"),
			Timeout:                    getenvDuration("EMAIL_TIMEOUT", 10*time.Second),
			SMTPHost:                   getenv("SMTP_HOST", "localhost"),
			SMTPPort:                   getenvInt("SMTP_PORT", 587),
			SMTPUser:                   getenv("SMTP_USER", ""),
			SMTPPassword:               getenv("SMTP_PASSWORD", ""),
			PostmarkBaseURL:            strings.TrimRight(getenv("POSTMARK_BASE_URL", "https://api.postmarkapp.com"), "/"),
			PostmarkToken:              getenv("POSTMARK_SERVER_TOKEN", ""),
			BreakerConsecutiveFailures: uint32(getenvInt("EMAIL_BREAKER_FAILURES", 5)),
			BreakerOpenTimeout:         getenvDuration("EMAIL_BREAKER_OPEN_TIMEOUT", 30*time.Second),
		},
		Admin: AdminConfig{
			Username: strings.TrimSpace(getenv("ADMIN_USERNAME", "admin")),
			Password: getenv("ADMIN_PASSWORD", ""),
		},
		Idempotency: IdempotencyConfig{
			RacePolicy:  strings.ToLower(getenv("IDEMPOTENCY_RACE_POLICY", "fail")),
			WaitTimeout: getenvDuration("IDEMPOTENCY_WAIT_TIMEOUT", 5*time.Second),
		},
		DeliveryConfigFile: strings.TrimSpace(getenv("DELIVERY_CONFIG_FILE", "")),
		WorkerMode:         normalizeWorkerMode(getenv("WORKER_MODE", WorkerModeForever)),
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func normalizeWorkerMode(raw string) string {
	if strings.EqualFold(strings.TrimSpace(raw), WorkerModeDrain) {
		return WorkerModeDrain
	}
	return WorkerModeForever
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
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	// bare integers are milliseconds
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}
