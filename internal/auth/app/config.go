package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DatabaseFile string // Path to SQLite database file (default: ./latch.db)
	PepperFile   string // Path to the password-hashing pepper file (default: ./pepper)

	RedisAddr     string // Redis address for session storage (default: localhost:6379)
	RedisPassword string // Optional Redis password
	RedisDB       int    // Redis database index (default: 0)

	SessionTTL    time.Duration // Session lifetime (default: 7 days)
	SecureCookies bool          // Mark session cookies Secure (default: true outside dev)

	TOTPIssuer    string   // Issuer shown in authenticator apps (default: latch)
	RPID          string   // WebAuthn relying party id (default: localhost)
	RPDisplayName string   // WebAuthn relying party display name (default: Latch)
	RPOrigins     []string // Allowed WebAuthn origins (default: http://localhost:8080)

	Env                 string // Environment (dev, staging, prod) (default: dev)
	LogLevel            string // Log level (debug, info, warn, error) (default: info)
	LogFormat           string // Log format (json, text) (default: json)
	Port                int    // HTTP server port (default: 8080)
	ShutdownGracePeriod time.Duration
}

func LoadConfig() Config {
	cfg := Config{
		DatabaseFile:  getEnvOrDefault("LATCH_DATABASE_FILE", "latch.db"),
		PepperFile:    getEnvOrDefault("LATCH_PEPPER_FILE", "pepper"),
		RedisAddr:     getEnvOrDefault("LATCH_REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("LATCH_REDIS_PASSWORD"),
		RedisDB:       getEnvIntOrDefault("LATCH_REDIS_DB", 0),

		SessionTTL: getEnvDurationOrDefault("LATCH_SESSION_TTL", 7*24*time.Hour),

		TOTPIssuer:    getEnvOrDefault("LATCH_TOTP_ISSUER", "latch"),
		RPID:          getEnvOrDefault("LATCH_RP_ID", "localhost"),
		RPDisplayName: getEnvOrDefault("LATCH_RP_DISPLAY_NAME", "Latch"),

		Env:                 getEnvOrDefault("ENV", "dev"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod: getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}

	if origins := os.Getenv("LATCH_RP_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.RPOrigins = append(cfg.RPOrigins, o)
			}
		}
	}
	if len(cfg.RPOrigins) == 0 {
		cfg.RPOrigins = []string{"http://localhost:8080"}
	}

	// Cookies stay Secure unless explicitly running a dev environment.
	cfg.SecureCookies = cfg.Env != "dev"
	if v := os.Getenv("LATCH_SECURE_COOKIES"); v != "" {
		cfg.SecureCookies = v == "true" || v == "1"
	}

	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	return defaultValue
}
