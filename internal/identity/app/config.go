package app

import (
	"os"
	"strconv"
	"time"
)

// Config is the environment-driven runtime configuration.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string

	// DatabaseDSN is the sqlite DSN, a file path in the common case.
	DatabaseDSN string

	// RedisAddr enables the session fast-path cache when non-empty.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Issuer is the "iss" claim stamped into access tokens.
	Issuer string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	ChallengeTTL    time.Duration

	MaxFailedAttempts int

	HousekeepingInterval time.Duration
	SessionRetention     time.Duration

	AuditBufferSize int

	// LogLevel is one of debug, info, warn, error.
	LogLevel string
}

// LoadConfig reads configuration from the environment, falling back to
// development defaults.
func LoadConfig() Config {
	return Config{
		Addr:        getEnvOrDefault("IDENTITY_ADDR", ":8080"),
		DatabaseDSN: getEnvOrDefault("IDENTITY_DB_DSN", "file:identity.db?_pragma=busy_timeout(5000)"),

		RedisAddr:     os.Getenv("IDENTITY_REDIS_ADDR"),
		RedisPassword: os.Getenv("IDENTITY_REDIS_PASSWORD"),
		RedisDB:       getEnvOrDefaultInt("IDENTITY_REDIS_DB", 0),

		Issuer: getEnvOrDefault("IDENTITY_ISSUER", "fluxgate-identity"),

		AccessTokenTTL:  getEnvOrDefaultDuration("IDENTITY_ACCESS_TTL", 15*time.Minute),
		RefreshTokenTTL: getEnvOrDefaultDuration("IDENTITY_REFRESH_TTL", 30*24*time.Hour),
		ChallengeTTL:    getEnvOrDefaultDuration("IDENTITY_CHALLENGE_TTL", 5*time.Minute),

		MaxFailedAttempts: getEnvOrDefaultInt("IDENTITY_MAX_FAILED_ATTEMPTS", 5),

		HousekeepingInterval: getEnvOrDefaultDuration("IDENTITY_HOUSEKEEPING_INTERVAL", time.Hour),
		SessionRetention:     getEnvOrDefaultDuration("IDENTITY_SESSION_RETENTION", 7*24*time.Hour),

		AuditBufferSize: getEnvOrDefaultInt("IDENTITY_AUDIT_BUFFER", 256),

		LogLevel: getEnvOrDefault("IDENTITY_LOG_LEVEL", "info"),
	}
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
