package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	ServerPort string
	ServerHost string

	// Authentication
	JWTSecret string
	JWTIssuer string

	// Optional cross-process fan-out; empty disables it
	RedisAddr string

	// Collaboration tuning
	FlushDebounce    time.Duration
	SaveTimeout      time.Duration
	IdleTimeout      time.Duration
	EvictionInterval time.Duration
	PresenceWindow   time.Duration
	PresenceTouch    time.Duration
	ShutdownTimeout  time.Duration
	SendBufferSize   int
	AllowedOrigins   []string

	// Observability
	JaegerEndpoint   string
	TraceSampleRatio float64
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "question_exchange"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		ServerPort: getEnv("SERVER_PORT", "3002"),
		ServerHost: getEnv("SERVER_HOST", "localhost"),

		JWTSecret: getEnv("JWT_SECRET", ""),
		JWTIssuer: getEnv("JWT_ISSUER", ""),

		RedisAddr: getEnv("REDIS_ADDR", ""),

		FlushDebounce:    getEnvDuration("FLUSH_DEBOUNCE", 5*time.Second),
		SaveTimeout:      getEnvDuration("SAVE_TIMEOUT", 10*time.Second),
		IdleTimeout:      getEnvDuration("IDLE_TIMEOUT", 30*time.Minute),
		EvictionInterval: getEnvDuration("EVICTION_INTERVAL", 5*time.Minute),
		PresenceWindow:   getEnvDuration("PRESENCE_WINDOW", 5*time.Minute),
		PresenceTouch:    getEnvDuration("PRESENCE_TOUCH", time.Minute),
		ShutdownTimeout:  getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		SendBufferSize:   getEnvInt("SEND_BUFFER_SIZE", 256),
		AllowedOrigins:   getEnvList("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),

		JaegerEndpoint:   getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
		TraceSampleRatio: getEnvFloat("TRACE_SAMPLE_RATIO", 1),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required values and sane durations.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if c.FlushDebounce <= 0 {
		return fmt.Errorf("FLUSH_DEBOUNCE must be positive")
	}
	if c.EvictionInterval <= 0 || c.IdleTimeout <= 0 {
		return fmt.Errorf("EVICTION_INTERVAL and IDLE_TIMEOUT must be positive")
	}
	if c.PresenceWindow <= 0 {
		return fmt.Errorf("PRESENCE_WINDOW must be positive")
	}
	if c.SendBufferSize <= 0 {
		return fmt.Errorf("SEND_BUFFER_SIZE must be positive")
	}
	return nil
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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
	return out
}
