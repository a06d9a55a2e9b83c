package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application. Every environment
// variable the service reads comes through here.
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production

	// Database
	Database DatabaseConfig

	// Redis
	Redis RedisConfig

	// Data providers
	Yahoo     YahooConfig
	Finviz    FinvizConfig
	Wikipedia WikipediaConfig

	// Strategy
	StrategyPath string

	// Logging
	LogLevel  string
	LogFormat string

	// Monitoring
	MetricsEnabled bool
	MetricsPort    string
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	URL      string

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// YahooConfig holds the quote chart API configuration.
type YahooConfig struct {
	BaseURL        string
	UserAgent      string
	RequestsPerSec float64
}

// FinvizConfig holds the fundamentals snapshot source configuration.
type FinvizConfig struct {
	BaseURL        string
	UserAgent      string
	RequestsPerSec float64
}

// WikipediaConfig holds the index constituents source configuration.
type WikipediaConfig struct {
	BaseURL   string
	UserAgent string
}

// Load reads configuration from environment variables. Only this function
// calls os.Getenv.
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		// Server
		Port: getEnv("PORT", "8087"),
		Env:  getEnv("ENV", "development"),

		// Database
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			Name:            getEnv("DB_NAME", "tilt"),
			User:            getEnv("DB_USER", "tilt"),
			Password:        getEnv("DB_PASSWORD", ""),
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 25),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 5),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		// Redis
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", true),
		},

		// Data providers
		Yahoo: YahooConfig{
			BaseURL:        getEnv("YAHOO_BASE_URL", "https://query1.finance.yahoo.com"),
			UserAgent:      getEnv("YAHOO_USER_AGENT", defaultUserAgent),
			RequestsPerSec: getEnvAsFloat("YAHOO_REQUESTS_PER_SEC", 2.0),
		},

		Finviz: FinvizConfig{
			BaseURL:        getEnv("FINVIZ_BASE_URL", "https://finviz.com"),
			UserAgent:      getEnv("FINVIZ_USER_AGENT", defaultUserAgent),
			RequestsPerSec: getEnvAsFloat("FINVIZ_REQUESTS_PER_SEC", 1.0),
		},

		Wikipedia: WikipediaConfig{
			BaseURL:   getEnv("WIKIPEDIA_BASE_URL", "https://en.wikipedia.org"),
			UserAgent: getEnv("WIKIPEDIA_USER_AGENT", defaultUserAgent),
		},

		// Strategy
		StrategyPath: getEnv("STRATEGY_PATH", "config/strategy/us_equity.yaml"),

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "debug"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		// Monitoring
		MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		MetricsPort:    getEnv("METRICS_PORT", "9090"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/127.0 Safari/537.36"

// validate checks if required configuration values are set.
func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	return nil
}

// loadEnvFile tries to load .env from multiple locations.
func loadEnvFile() {
	paths := []string{
		".env",
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
			filepath.Join(exeDir, "..", "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}
