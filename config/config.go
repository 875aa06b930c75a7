package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port           string
	TrustedProxies []string

	// Database (local service state: sessions, sync audit)
	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     string
	DBName     string

	// Security
	JWTSecret string

	// System-of-record REST API
	RecordAPIURL string

	// Replica realtime store
	ReplicaDBURL    string
	ReplicaDBSecret string

	// Reconciliation
	SyncLeaseTTL time.Duration

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

func Load() *Config {
	// Optional .env for local development; real deployments set env directly.
	if err := godotenv.Load(); err == nil {
		log.Info("Loaded configuration from .env")
	}

	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		DBUser:            getEnv("DB_USER", "root"),
		DBPassword:        getEnv("DB_PASSWORD", "password"),
		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnv("DB_PORT", "3306"),
		DBName:            getEnv("DB_NAME", "signalement"),
		JWTSecret:         getEnv("JWT_SECRET", "your-secret-key-here"),
		RecordAPIURL:      getEnv("RECORD_API_URL", "http://localhost:8081/api"),
		ReplicaDBURL:      getEnv("REPLICA_DB_URL", "http://localhost:9000"),
		ReplicaDBSecret:   getEnv("REPLICA_DB_SECRET", ""),
		SyncLeaseTTL:      getDurationEnv("SYNC_LEASE_TTL", 5*time.Minute),
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
	}

	trustedProxies := os.Getenv("TRUSTED_PROXIES")
	if trustedProxies != "" {
		cfg.TrustedProxies = strings.Split(trustedProxies, ",")
		for i, proxy := range cfg.TrustedProxies {
			cfg.TrustedProxies[i] = strings.TrimSpace(proxy)
		}
	}

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		log.Warnf("Invalid value for %s, using default %d", key, defaultValue)
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Warnf("Invalid value for %s, using default %s", key, defaultValue)
	}
	return defaultValue
}
