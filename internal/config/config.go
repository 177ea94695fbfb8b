package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	MongoURI  string
	MongoDB   string
	RedisAddr string
	HTTPPort  string

	PaywallURL   string
	PaywallToken string

	BaseRetryDelay      time.Duration
	MaxRetryAttempts    int
	StabilizationWindow time.Duration
	DebounceWindow      time.Duration
	StaleAfter          time.Duration
	GraceDelay          time.Duration
}

func Load() *Config {
	return &Config{
		MongoURI:  getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:   getEnv("MONGO_DB", "roomsync"),
		RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),
		HTTPPort:  getEnv("PORT", "8080"),

		PaywallURL:   getEnv("PAYWALL_URL", ""),
		PaywallToken: getEnv("PAYWALL_TOKEN", ""),

		BaseRetryDelay:      getDuration("BASE_RETRY_DELAY", 2*time.Second),
		MaxRetryAttempts:    getInt("MAX_RETRY_ATTEMPTS", 5),
		StabilizationWindow: getDuration("STABILIZATION_WINDOW", 400*time.Millisecond),
		DebounceWindow:      getDuration("DEBOUNCE_WINDOW", 120*time.Millisecond),
		StaleAfter:          getDuration("ROOM_STALE_AFTER", 30*time.Minute),
		GraceDelay:          getDuration("WRITE_GRACE_DELAY", 500*time.Millisecond),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
