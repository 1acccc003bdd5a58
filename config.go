package main

import (
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Config holds all application configuration
type Config struct {
	LogLevel             string
	ListenAddr           string
	WebhookSecret        string
	DatabasePath         string
	ClerkSecretKey       string
	ClerkAPIURL          string
	MetadataKey          string
	CorrelationEnabled   bool
	CorrelationDelay     time.Duration
	CorrelationTimeout   time.Duration
	CorrelationWorkers   int
	CorrelationQueueSize int
	SignatureTolerance   time.Duration
	ShutdownTimeout      time.Duration
}

// BuildConfig creates a configuration from environment variables
func BuildConfig() *Config {
	cfg := &Config{
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		ListenAddr:           getEnvOrDefault("LISTEN_ADDR", ":8080"),
		WebhookSecret:        getEnvOrFatal("WEBHOOK_SECRET"),
		DatabasePath:         getEnvOrDefault("DATABASE_PATH", "./users.db"),
		ClerkSecretKey:       os.Getenv("CLERK_SECRET_KEY"),
		ClerkAPIURL:          getEnvOrDefault("CLERK_API_URL", "https://api.clerk.com/v1"),
		MetadataKey:          getEnvOrDefault("METADATA_KEY", "localUserId"),
		CorrelationEnabled:   getEnvAsBoolOrDefault("CORRELATION_ENABLED", true),
		CorrelationDelay:     getEnvAsDurationOrDefault("CORRELATION_DELAY", time.Second),
		CorrelationTimeout:   getEnvAsDurationOrDefault("CORRELATION_TIMEOUT", 10*time.Second),
		CorrelationWorkers:   getEnvAsIntOrDefault("CORRELATION_WORKERS", 4),
		CorrelationQueueSize: getEnvAsIntOrDefault("CORRELATION_QUEUE_SIZE", 100),
		SignatureTolerance:   getEnvAsDurationOrDefault("SIGNATURE_TOLERANCE", 5*time.Minute),
		ShutdownTimeout:      getEnvAsDurationOrDefault("SHUTDOWN_TIMEOUT", 10*time.Second),
	}

	if cfg.CorrelationWorkers < 1 {
		logger.Fatal("CORRELATION_WORKERS must be at least 1", zap.Int("value", cfg.CorrelationWorkers))
	}
	if cfg.CorrelationQueueSize < 0 {
		logger.Fatal("CORRELATION_QUEUE_SIZE must not be negative", zap.Int("value", cfg.CorrelationQueueSize))
	}
	if cfg.CorrelationTimeout <= 0 {
		logger.Fatal("CORRELATION_TIMEOUT must be positive", zap.Duration("value", cfg.CorrelationTimeout))
	}
	if cfg.CorrelationDelay < 0 {
		logger.Fatal("CORRELATION_DELAY must not be negative", zap.Duration("value", cfg.CorrelationDelay))
	}

	// Write-back needs credentials for the provider API
	if cfg.ClerkSecretKey == "" {
		cfg.CorrelationEnabled = false
	}

	return cfg
}

// getEnvOrDefault returns an environment variable value or a default value
func getEnvOrDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

// getEnvOrFatal returns an environment variable value or exits if not set
func getEnvOrFatal(key string) string {
	val := os.Getenv(key)
	if val == "" {
		logger.Fatal(key + " environment variable is required")
	}
	return val
}

// getEnvAsIntOrDefault returns an environment variable as int or a default value
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultValue
	}

	val, err := strconv.Atoi(valStr)
	if err != nil {
		logger.Fatal("Invalid integer value for "+key, zap.String("value", valStr))
	}

	return val
}

// getEnvAsBoolOrDefault returns an environment variable as bool or a default value
func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultValue
	}

	val, err := strconv.ParseBool(valStr)
	if err != nil {
		logger.Fatal("Invalid boolean value for "+key, zap.String("value", valStr))
	}

	return val
}

// getEnvAsDurationOrDefault returns an environment variable as duration or a default value
func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultValue
	}

	val, err := time.ParseDuration(valStr)
	if err != nil {
		logger.Fatal("Invalid duration value for "+key, zap.String("value", valStr))
	}

	return val
}
