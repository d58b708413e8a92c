package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// CounterProvider selects the counter store backend.
type CounterProvider string

const (
	ProviderLocal CounterProvider = "local"
	ProviderRedis CounterProvider = "redis"
)

// RedisConfig holds connection settings for the hosted counter backend.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// BreakerConfig tunes the circuit breaker wrapping the remote counter store.
type BreakerConfig struct {
	FailureThreshold int
	Cooldown         time.Duration
	LogThrottle      time.Duration
}

// AbuseConfig tunes the submission abuse gates.
type AbuseConfig struct {
	RateWindow        time.Duration
	RateMax           int
	DuplicateWindow   time.Duration
	DefaultCooldown   time.Duration
	FingerprintWindow time.Duration
	FingerprintMax    int
	ClientIDSalt      string
}

// Config is the full process configuration. Built once in main and handed to
// constructors; packages never read the environment themselves.
type Config struct {
	Addr            string
	PostgresDSN     string
	KafkaBrokers    []string
	AuditTopic      string
	SyncSecret      string
	Provider        CounterProvider
	Redis           RedisConfig
	Breaker         BreakerConfig
	Abuse           AbuseConfig
	CounterTTL      time.Duration
	LimitsCacheTTL  time.Duration
	LimitsCacheSize int
	Verbose         bool
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	cfg := Config{
		Addr:            envStr("FORMGATE_ADDR", ":8080"),
		PostgresDSN:     os.Getenv("POSTGRES_DSN"),
		AuditTopic:      envStr("AUDIT_TOPIC", "formgate.audit"),
		SyncSecret:      os.Getenv("SYNC_SECRET"),
		Provider:        CounterProvider(envStr("COUNTER_PROVIDER", string(ProviderLocal))),
		CounterTTL:      envDur("COUNTER_TTL", 72*time.Hour),
		LimitsCacheTTL:  envDur("LIMITS_CACHE_TTL", 24*time.Hour),
		LimitsCacheSize: envInt("LIMITS_CACHE_SIZE", 10_000),
		Verbose:         os.Getenv("VERBOSE_METERING") == "true",
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDur("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDur("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDur("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Breaker: BreakerConfig{
			FailureThreshold: envInt("BREAKER_FAILURE_THRESHOLD", 5),
			Cooldown:         envDur("BREAKER_COOLDOWN", time.Minute),
			LogThrottle:      envDur("BREAKER_LOG_THROTTLE", time.Minute),
		},
		Abuse: AbuseConfig{
			RateWindow:        envDur("ABUSE_RATE_WINDOW", time.Minute),
			RateMax:           envInt("ABUSE_RATE_MAX", 10),
			DuplicateWindow:   envDur("ABUSE_DUPLICATE_WINDOW", 30*time.Second),
			DefaultCooldown:   envDur("ABUSE_DEFAULT_COOLDOWN", time.Minute),
			FingerprintWindow: envDur("ABUSE_FINGERPRINT_WINDOW", 5*time.Minute),
			FingerprintMax:    envInt("ABUSE_FINGERPRINT_MAX", 3),
			ClientIDSalt:      envStr("CLIENT_ID_SALT", "formgate-client-id"),
		},
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitCSV(brokers)
	}
	return cfg
}

func envStr(key, fallback string) string {
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

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
