package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Session store backends for issued session ids.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

type Config struct {
	ServerHost string
	ServerPort string

	// Base URL the allocator embeds session ids into
	PublicSessionURL string
	AllowedOrigins   []string

	SessionStore string
	SessionIDTTL time.Duration

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	RedisAddr string

	// Hub tuning
	SendBuffer       int
	EvictionIdleTTL  time.Duration
	EvictionInterval time.Duration

	// Observability
	JaegerEndpoint string
	LogLevel       string
	LogFormat      string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		ServerHost: getEnv("SERVER_HOST", ""),
		ServerPort: getEnv("SERVER_PORT", "8989"),

		PublicSessionURL: getEnv("PUBLIC_SESSION_URL", "http://localhost:5173/session/"),
		AllowedOrigins:   getEnvList("ALLOWED_ORIGINS", []string{"*"}),

		SessionStore: strings.ToLower(getEnv("SESSION_STORE", StoreMemory)),
		SessionIDTTL: getEnvDuration("SESSION_ID_TTL", 24*time.Hour),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "codepair"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),

		SendBuffer:       getEnvInt("SEND_BUFFER", 256),
		EvictionIdleTTL:  getEnvDuration("EVICTION_IDLE_TTL", 0),
		EvictionInterval: getEnvDuration("EVICTION_INTERVAL", time.Minute),

		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", ""),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.SessionStore {
	case StoreMemory, StorePostgres, StoreRedis:
	default:
		return fmt.Errorf("unknown SESSION_STORE %q", c.SessionStore)
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("SEND_BUFFER must be positive, got %d", c.SendBuffer)
	}
	if c.EvictionIdleTTL > 0 && c.EvictionInterval <= 0 {
		return fmt.Errorf("EVICTION_INTERVAL must be positive when eviction is enabled")
	}
	if c.PublicSessionURL == "" {
		return fmt.Errorf("PUBLIC_SESSION_URL is required")
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.ServerHost, c.ServerPort)
}

func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
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
