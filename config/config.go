// Package config provides application configuration management.
// Configuration is loaded from environment variables with .env file support.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration values.
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	PKI          PKIConfig
	Subscription SubscriptionConfig
	Jobs         JobsConfig
}

// PKIConfig holds the panel's CA/certificate export directory.
type PKIConfig struct {
	CertDir string
}

// SubscriptionConfig holds the public subscription-link path prefix
// and the client-facing metadata surfaced in subscription headers.
type SubscriptionConfig struct {
	URLPrefix      string
	SupportURL     string
	ProfileTitle   string
	UpdateInterval int
}

// JobsConfig holds per-job feature flags for the Scheduler's periodic
// maintenance jobs, following original_source's DISABLE_* config
// constants (spec §6's "feature flags for disabling periodic jobs").
type JobsConfig struct {
	AutoDeleteIncludeLimited bool
	AutoDeleteDefaultDays    int
	OperationsPoolSize       int

	DisableRecordingNodeUsage bool
	DisableHealthCheck        bool
	DisableReviewUsers        bool
	DisablePeriodicReset      bool
	DisableAutoDelete         bool
	DisableReminderSweep      bool
	DisableBandwidthSample    bool
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string
	Port string
	Mode string // "debug", "release", "test"
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// JWTConfig holds JWT authentication settings.
type JWTConfig struct {
	SecretKey       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	// SudoAdmins lists usernames (lowercase) that are treated as sudo
	// regardless of their stored is_sudo flag (spec §3: "Environment-
	// declared super-admins override is_sudo at auth time").
	SudoAdmins []string
}

// IsEnvSudo reports whether username is declared sudo via environment.
func (c *JWTConfig) IsEnvSudo(username string) bool {
	username = strings.ToLower(strings.TrimSpace(username))
	for _, s := range c.SudoAdmins {
		if s == username {
			return true
		}
	}
	return false
}

// Load reads configuration from environment variables.
// It attempts to load from .env file first, then reads from the environment.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnv("SERVER_PORT", "8080"),
			Mode: getEnv("SERVER_MODE", "debug"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "xpanel"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			SecretKey:       getEnv("JWT_SECRET", "your-super-secret-key-change-in-production"),
			AccessTokenTTL:  time.Duration(getEnvAsInt("JWT_ACCESS_TTL_MINUTES", 15)) * time.Minute,
			RefreshTokenTTL: time.Duration(getEnvAsInt("JWT_REFRESH_TTL_HOURS", 168)) * time.Hour, // 7 days
			SudoAdmins:      getEnvAsList("SUDO_ADMINS"),
		},
		PKI: PKIConfig{
			CertDir: getEnv("PKI_CERT_DIR", "./data/certs"),
		},
		Subscription: SubscriptionConfig{
			URLPrefix:      getEnv("SUBSCRIPTION_URL_PREFIX", "/sub"),
			SupportURL:     getEnv("SUB_SUPPORT_URL", ""),
			ProfileTitle:   getEnv("SUB_PROFILE_TITLE", "xpanel"),
			UpdateInterval: getEnvAsInt("SUB_UPDATE_INTERVAL", 12),
		},
		Jobs: JobsConfig{
			AutoDeleteIncludeLimited: getEnvAsBool("AUTO_DELETE_INCLUDE_LIMITED", false),
			AutoDeleteDefaultDays:    getEnvAsInt("AUTO_DELETE_DEFAULT_DAYS", 0),
			OperationsPoolSize:       getEnvAsInt("OPERATIONS_POOL_SIZE", 8),

			DisableRecordingNodeUsage: getEnvAsBool("DISABLE_RECORDING_NODE_USAGE", false),
			DisableHealthCheck:        getEnvAsBool("DISABLE_HEALTH_CHECK", false),
			DisableReviewUsers:        getEnvAsBool("DISABLE_REVIEW_USERS", false),
			DisablePeriodicReset:      getEnvAsBool("DISABLE_PERIODIC_RESET", false),
			DisableAutoDelete:         getEnvAsBool("DISABLE_AUTO_DELETE", false),
			DisableReminderSweep:      getEnvAsBool("DISABLE_REMINDER_SWEEP", false),
			DisableBandwidthSample:    getEnvAsBool("DISABLE_BANDWIDTH_SAMPLE", false),
		},
	}

	return cfg, nil
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value.
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsList retrieves a comma-separated environment variable as a
// lowercase, trimmed list of usernames.
func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnvAsBool retrieves an environment variable as a bool or returns a default value.
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return "host=" + c.Host +
		" port=" + c.Port +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.DBName +
		" sslmode=" + c.SSLMode
}

// Addr returns the Redis address in host:port format.
func (c *RedisConfig) Addr() string {
	return c.Host + ":" + c.Port
}

// Addr returns the server address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + c.Port
}
