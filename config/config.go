package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Record store
	StoreBackend  string // pocketbase, mongo or memory
	MongoDSN      string
	MongoDB       string
	MongoUser     string
	MongoPassword string

	// Redis configuration
	RedisURL string

	// PubNub configuration
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string
	PubNubUserID       string

	// Directory
	PageSize         int
	RelationCacheTTL time.Duration
	SessionIdleTTL   time.Duration

	// Check-in
	ScanSettleDelay     time.Duration
	ScanRateLimit       int
	ScannerIdleTTL      time.Duration
	QRBaseURL           string
	QRRequireCode       bool
	BreakerMaxRequests  int
	BreakerInterval     time.Duration
	BreakerTimeout      time.Duration
	BreakerFailureRatio float64

	// Monitoring
	EnableMetrics   bool
	MonitorInterval time.Duration
}

// LoadConfig reads the environment, after loading .env when present.
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	return &Config{
		// Store
		StoreBackend:  getEnv("STORE_BACKEND", "pocketbase"),
		MongoDSN:      getEnv("MONGODB_DSN", "mongodb://localhost:27017"),
		MongoDB:       getEnv("MONGO_DB", "backoffice"),
		MongoUser:     getEnv("MONGO_USER", ""),
		MongoPassword: getEnv("MONGO_PASSWORD", ""),

		// Redis
		RedisURL: getEnv("REDIS_URL", "localhost:6379"),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),
		PubNubUserID:       getEnv("PUBNUB_USER_ID", "backoffice-server"),

		// Directory
		PageSize:         getEnvAsInt("PAGE_SIZE", 20),
		RelationCacheTTL: getEnvAsDuration("RELATION_CACHE_TTL", "5m"),
		SessionIdleTTL:   getEnvAsDuration("SESSION_IDLE_TTL", "15m"),

		// Check-in
		ScanSettleDelay:     getEnvAsDuration("SCAN_SETTLE_DELAY", "2s"),
		ScanRateLimit:       getEnvAsInt("SCAN_RATE_LIMIT", 120),
		ScannerIdleTTL:      getEnvAsDuration("SCANNER_IDLE_TTL", "10m"),
		QRBaseURL:           getEnv("QR_BASE_URL", "http://localhost:8090/t"),
		QRRequireCode:       getEnvAsBool("QR_REQUIRE_CODE", false),
		BreakerMaxRequests:  getEnvAsInt("STORE_BREAKER_MAX_REQUESTS", 20),
		BreakerInterval:     getEnvAsDuration("STORE_BREAKER_INTERVAL", "60s"),
		BreakerTimeout:      getEnvAsDuration("STORE_BREAKER_TIMEOUT", "30s"),
		BreakerFailureRatio: getEnvAsFloat("STORE_BREAKER_FAILURE_RATIO", 0.6),

		// Monitoring
		EnableMetrics:   getEnvAsBool("ENABLE_METRICS", true),
		MonitorInterval: getEnvAsDuration("MONITOR_INTERVAL", "30s"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
