// Package config provides environment configuration for the API server.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/bunlongheng/cube-ai-be/internal/cube"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	StaticDir          string

	// Cube Cloud
	Cube              cube.Config
	DefaultExternalID string
	DeepSearch        bool

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// Inbound auth; empty disables it.
	AuthJWTSecret string

	CORSAllowedOrigins []string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxAgeDays int

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads a .env file if present, then configuration from the
// environment. Variables already set win over the file.
func Load() *Config {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads configuration from environment variables only.
func FromEnv() *Config {
	restURL := getEnv("CUBE_REST_URL", "")

	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "3000"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 0),
		StaticDir:          getEnv("STATIC_DIR", ""),

		// Cube
		Cube: cube.Config{
			APIKey:               getEnv("CUBE_API_KEY", ""),
			SessionBase:          cube.ResolveSessionBase(getEnv("CUBE_SESSION_BASE", ""), restURL),
			ChatURL:              getEnv("CUBE_API_URL", ""),
			RESTURL:              restURL,
			APISecret:            getEnv("CUBEJS_API_SECRET", ""),
			Timeout:              getDurationEnv("CUBE_UPSTREAM_TIMEOUT", 30*time.Second),
			ChatTimeout:          getDurationEnv("CUBE_CHAT_TIMEOUT", 120*time.Second),
			MaxRetries:           getIntEnv("CUBE_MAX_RETRIES", 0),
			RetryInitialInterval: getDurationEnv("CUBE_RETRY_INTERVAL", 250*time.Millisecond),
			RESTTokenTTL:         getDurationEnv("CUBE_REST_TOKEN_TTL", 5*time.Minute),
			LogBodyLimit:         getIntEnv("LOG_BODY_LIMIT", 4000),
		},
		DefaultExternalID: getEnv("CUBE_DEFAULT_EXTERNAL_ID", "user@example.com"),
		DeepSearch:        getBoolEnv("CUBE_DEEP_SEARCH", false),

		// NATS; empty URL disables the exchange journal.
		NATSURL:      getEnv("NATS_URL", ""),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		AuthJWTSecret:      getEnv("AUTH_JWT_SECRET", ""),
		CORSAllowedOrigins: getListEnv("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFile:       getEnv("LOG_FILE", ""),
		LogMaxSizeMB:  getIntEnv("LOG_MAX_SIZE_MB", 20),
		LogMaxAgeDays: getIntEnv("LOG_MAX_AGE_DAYS", 14),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getListEnv splits a comma separated value, dropping empty entries.
func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
