package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures everything the server needs from the environment.
type Config struct {
	Addr    string
	BaseURL string

	PostgresDSN  string
	RedisURL     string
	KafkaBrokers []string
	KafkaTopic   string

	EncryptionKey  string
	EncryptionSalt string
	JWTSigningKey  string

	DataproBaseURL     string
	DataproServiceID   string
	VerifydataBaseURL  string
	VerifydataSecret   string
	ProviderTimeout    time.Duration
	ProviderRetries    int
	ProviderRetryDelay time.Duration

	TokenTTL        time.Duration
	AnalysisTTL     time.Duration
	MaxAttempts     int
	MaxActiveJobs   int
	BatchSize       int
	JobRetention    time.Duration
	RateLimitPerMin int
	PublicPerMin    int
}

// Redis captures connection tuning for the optional Redis backend.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	return Config{
		Addr:    envOr("IDCOLLECT_ADDR", ":8080"),
		BaseURL: envOr("IDCOLLECT_BASE_URL", "http://localhost:8080"),

		PostgresDSN:  os.Getenv("POSTGRES_DSN"),
		RedisURL:     os.Getenv("REDIS_URL"),
		KafkaBrokers: splitNonEmpty(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   envOr("KAFKA_AUDIT_TOPIC", "idcollect.audit"),

		EncryptionKey:  os.Getenv("ENCRYPTION_KEY"),
		EncryptionSalt: os.Getenv("ENCRYPTION_SALT"),
		// Default for development only, override in production.
		JWTSigningKey: envOr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),

		DataproBaseURL:     os.Getenv("DATAPRO_BASE_URL"),
		DataproServiceID:   os.Getenv("DATAPRO_SERVICE_ID"),
		VerifydataBaseURL:  os.Getenv("VERIFYDATA_BASE_URL"),
		VerifydataSecret:   os.Getenv("VERIFYDATA_SECRET_KEY"),
		ProviderTimeout:    envDuration("PROVIDER_TIMEOUT", 30*time.Second),
		ProviderRetries:    envInt("PROVIDER_RETRIES", 2),
		ProviderRetryDelay: envDuration("PROVIDER_RETRY_DELAY", 2*time.Second),

		TokenTTL:        envDuration("TOKEN_TTL", 7*24*time.Hour),
		AnalysisTTL:     envDuration("ANALYSIS_TTL", 5*time.Minute),
		MaxAttempts:     envInt("MAX_VERIFICATION_ATTEMPTS", 3),
		MaxActiveJobs:   envInt("MAX_ACTIVE_JOBS", 2),
		BatchSize:       envInt("BULK_BATCH_SIZE", 10),
		JobRetention:    envDuration("JOB_RETENTION", 5*time.Minute),
		RateLimitPerMin: envInt("PROVIDER_RATE_LIMIT", 50),
		PublicPerMin:    envInt("PUBLIC_RATE_LIMIT", 50),
	}
}

// RedisFromEnv builds Redis connection settings with pool defaults.
func RedisFromEnv() Redis {
	return Redis{
		URL:          os.Getenv("REDIS_URL"),
		PoolSize:     envInt("REDIS_POOL_SIZE", 10),
		MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
		DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
