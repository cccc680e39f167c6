package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/inferbill/inferbill/pkg/db"
	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	LogLevel    string

	HTTPAddr string

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

	// DefaultTier is the tier assumed for users the tier resolver
	// collaborator does not know about.
	DefaultTier string

	RateLimit RateLimitConfig
}

// RateLimitConfig controls the redis token-bucket limiter on the
// estimate/deduct endpoints.
type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	EstimateUserRate  float64
	EstimateUserBurst int
	DeductUserRate    float64
	DeductUserBurst   int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "inferbill"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		LogLevel:    getenv("LOG_LEVEL", "info"),

		HTTPAddr: getenv("HTTP_ADDR", ":8080"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "inferbill"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),

		DefaultTier: getenv("DEFAULT_TIER", "free"),

		RateLimit: RateLimitConfig{
			Enabled:           getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:         strings.TrimSpace(getenv("RATE_LIMIT_REDIS_ADDR", "")),
			RedisPassword:     strings.TrimSpace(getenv("RATE_LIMIT_REDIS_PASSWORD", "")),
			RedisDB:           getenvInt("RATE_LIMIT_REDIS_DB", 0),
			EstimateUserRate:  getenvFloat("RATE_LIMIT_ESTIMATE_USER_RATE", 50),
			EstimateUserBurst: getenvInt("RATE_LIMIT_ESTIMATE_USER_BURST", 100),
			DeductUserRate:    getenvFloat("RATE_LIMIT_DEDUCT_USER_RATE", 25),
			DeductUserBurst:   getenvInt("RATE_LIMIT_DEDUCT_USER_BURST", 50),
		},
	}
}

// DB maps the loaded settings onto the database package config.
func (c Config) DB() db.Config {
	return db.Config{
		Type:            c.DBType,
		Host:            c.DBHost,
		Port:            c.DBPort,
		Name:            c.DBName,
		User:            c.DBUser,
		Password:        c.DBPassword,
		SSLMode:         c.DBSSLMode,
		MaxIdleConn:     c.DBMaxIdleConn,
		MaxOpenConn:     c.DBMaxOpenConn,
		ConnMaxLifetime: c.DBConnMaxLifetime,
		ConnMaxIdleTime: c.DBConnMaxIdleTime,
	}
}

func getenv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}
