package app

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudsignup/backend/src/utils"
)

// Mail providers selectable with MAIL_PROVIDER.
const (
	MailProviderSendGrid = "sendgrid"
	MailProviderSMTP     = "smtp"
)

type AppConfig struct {
	// =========================== REQUIRED ===========================

	// Database configuration (required)
	DSN *string
	// Accounts API base URL, server and version endpoint (required)
	AccountsAPIURL *string
	// Accounts API service credentials (required)
	AccountsAccessKey *string
	AccountsSecretKey *string

	// =========================== OPTIONAL ===========================

	// Logging configuration
	LogLevel *string

	// Deployment environment, "dev" relaxes CORS defaults
	Environment *string

	// HTTP server configuration
	Port *string
	Host *string

	// CORS configuration, also the allow list for email link hosts
	AllowOrigins *[]string
	// Email link host when the request origin is not allowed
	PublicURL *string

	// Token store configuration
	TablePrefix   *string
	MigrationPath *string
	SweepInterval *time.Duration

	// Rate limiting, Redis backed when RedisURL is set
	RedisURL        *string
	RateLimitMax    *int
	RateLimitWindow *time.Duration

	// Mail configuration
	MailProvider *string
	MailFrom     *string
	SendGridHost *string
	SMTPHost     *string
	SMTPPort     *int
	SMTPUser     *string
	SMTPPassword *string
	SMTPSSL      *bool
}

func NewAppConfig() *AppConfig {
	config := &AppConfig{}

	// Load required configuration
	loadRequiredConfig(config)

	// Load optional configuration with defaults
	loadOptionalConfig(config)

	return config
}

// loadRequiredConfig loads all required configuration values and fails fast if any are missing
func loadRequiredConfig(config *AppConfig) {
	config.DSN = requireEnv("DB_URL")
	config.AccountsAPIURL = requireEnv("ACCOUNTS_API_URL")
	config.AccountsAccessKey = requireEnv("ACCOUNTS_ACCESS_KEY")
	config.AccountsSecretKey = requireEnv("ACCOUNTS_SECRET_KEY")

	// CORS origins (required in production, optional in development)
	loadCORSConfig(config)
}

// loadOptionalConfig loads all optional configuration values with sensible defaults
func loadOptionalConfig(config *AppConfig) {
	// HTTP server port (default: 8080)
	port := getEnvWithDefault("PORT", "8080")
	config.Port = &port

	host := getEnvWithDefault("HOST", "localhost:"+port)
	config.Host = &host

	// Log level (default: debug)
	// Available levels: "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled"
	logLevel := getEnvWithDefault("LOG_LEVEL", "debug")
	config.LogLevel = &logLevel

	// Public URL (default: first allowed origin)
	publicURL := os.Getenv("PUBLIC_URL")
	if publicURL == "" && len(*config.AllowOrigins) > 0 {
		publicURL = (*config.AllowOrigins)[0]
	}
	publicURL = utils.TrimOrigin(publicURL)
	config.PublicURL = &publicURL

	tablePrefix := os.Getenv("DB_TABLE_PREFIX")
	config.TablePrefix = &tablePrefix

	// Migration path (default: file://migrations)
	migrationPath := getEnvWithDefault("MIGRATION_PATH", "file://migrations")
	config.MigrationPath = &migrationPath

	// Sweep interval (default: 1h)
	sweepInterval := getDurationWithDefault("SWEEP_INTERVAL", time.Hour)
	config.SweepInterval = &sweepInterval

	loadRateLimitConfig(config)
	loadMailConfig(config)
}

// loadCORSConfig handles CORS origins configuration with environment-specific behavior
func loadCORSConfig(config *AppConfig) {
	environment := getEnvWithDefault("ENVIRONMENT", "production")
	config.Environment = &environment

	allowOrigins := utils.SplitList(os.Getenv("ALLOW_ORIGINS"))
	if len(allowOrigins) == 0 {
		if environment == "development" || environment == "dev" {
			// Default to localhost in development
			allowOrigins = []string{"http://localhost:4200"}
		} else {
			log.Fatalf("REQUIRED: ALLOW_ORIGINS not set in environment (required in production)")
		}
	}

	config.AllowOrigins = &allowOrigins
}

// loadRateLimitConfig loads the per-email limit applied to register and reset requests
func loadRateLimitConfig(config *AppConfig) {
	redisURL := os.Getenv("REDIS_URL")
	config.RedisURL = &redisURL

	rateLimitMax := getIntWithDefault("RATE_LIMIT_MAX", 5)
	config.RateLimitMax = &rateLimitMax

	rateLimitWindow := getDurationWithDefault("RATE_LIMIT_WINDOW", time.Hour)
	config.RateLimitWindow = &rateLimitWindow
}

// loadMailConfig loads the mail provider configuration
func loadMailConfig(config *AppConfig) {
	provider := strings.ToLower(getEnvWithDefault("MAIL_PROVIDER", MailProviderSendGrid))
	if provider != MailProviderSendGrid && provider != MailProviderSMTP {
		log.Fatalf("INVALID: MAIL_PROVIDER must be %q or %q, got %q", MailProviderSendGrid, MailProviderSMTP, provider)
	}
	config.MailProvider = &provider

	mailFrom := getEnvWithDefault("MAIL_FROM", "no-reply@localhost")
	config.MailFrom = &mailFrom

	sendGridHost := getEnvWithDefault("SENDGRID_HOST", "https://api.sendgrid.com")
	config.SendGridHost = &sendGridHost

	smtpHost := os.Getenv("SMTP_HOST")
	config.SMTPHost = &smtpHost

	smtpPort := getIntWithDefault("SMTP_PORT", 587)
	config.SMTPPort = &smtpPort

	smtpUser := os.Getenv("SMTP_USER")
	config.SMTPUser = &smtpUser

	smtpPassword := os.Getenv("SMTP_PASS")
	config.SMTPPassword = &smtpPassword

	smtpSSL := getEnvWithDefault("SMTP_SSL", "false") == "true"
	config.SMTPSSL = &smtpSSL

	if provider == MailProviderSMTP && smtpHost == "" {
		log.Fatalf("REQUIRED: SMTP_HOST not set in environment (required when MAIL_PROVIDER=smtp)")
	}
}

func requireEnv(key string) *string {
	value := os.Getenv(key)
	if value == "" {
		log.Fatalf("REQUIRED: %s not set in environment", key)
	}
	return &value
}

// getEnvWithDefault returns environment variable value or default if not set
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntWithDefault parses a positive integer from environment with default fallback
func getIntWithDefault(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}

	if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
		return parsed
	}

	log.Printf("Warning: Invalid %s value '%s', using default %d", key, raw, defaultValue)
	return defaultValue
}

// getDurationWithDefault parses a Go duration ("90s", "1h") or a number of
// seconds from environment with default fallback
func getDurationWithDefault(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}

	if parsed, err := parseDuration(raw); err == nil {
		return parsed
	}

	log.Printf("Warning: Invalid %s value '%s', using default %s", key, raw, defaultValue)
	return defaultValue
}

func parseDuration(raw string) (time.Duration, error) {
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds <= 0 {
			return 0, fmt.Errorf("duration must be positive: %d", seconds)
		}
		return time.Duration(seconds) * time.Second, nil
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive: %s", raw)
	}
	return d, nil
}
