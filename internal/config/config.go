package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Env  string `yaml:"env"`
	Port string `yaml:"port"`

	StoreBackend string `yaml:"store_backend"` // memory | redis
	RedisURL     string `yaml:"redis_url"`
	RedisPass    string `yaml:"redis_pass"`
	RedisDB      int    `yaml:"redis_db"`

	DatabaseURL string `yaml:"database_url"`
	CardsFile   string `yaml:"cards_file"`

	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
	AdminKey  string        `yaml:"admin_key"`

	AutoDraw            bool          `yaml:"auto_draw"`
	DrawInterval        time.Duration `yaml:"draw_interval"`
	MinTicketsToStart   int           `yaml:"min_tickets_to_start"`
	MaxStake            float64       `yaml:"max_stake"`
	PatternCacheTTL     time.Duration `yaml:"pattern_cache_ttl"`
	FinancialResetAfter time.Duration `yaml:"financial_reset_after"`
	BetRateLimit        int           `yaml:"bet_rate_limit"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

func defaults() *Config {
	return &Config{
		Env:                 "development",
		Port:                "8080",
		StoreBackend:        "memory",
		RedisURL:            "localhost:6379",
		TokenTTL:            12 * time.Hour,
		AutoDraw:            true,
		DrawInterval:        5 * time.Second,
		MinTicketsToStart:   3,
		MaxStake:            10000,
		PatternCacheTTL:     5 * time.Minute,
		FinancialResetAfter: 24 * time.Hour,
		BetRateLimit:        60,
		LogLevel:            "info",
	}
}

// Load builds the config from defaults, an optional YAML file (CONFIG_FILE) and the environment,
// in that order of precedence.
func Load() (*Config, error) {
	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.Env = getEnv("APP_ENV", cfg.Env)
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.StoreBackend = strings.ToLower(getEnv("STORE_BACKEND", cfg.StoreBackend))
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.RedisPass = getEnv("REDIS_PASSWORD", cfg.RedisPass)
	cfg.RedisDB = getEnvInt("REDIS_DB", cfg.RedisDB)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.CardsFile = getEnv("CARDS_FILE", cfg.CardsFile)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.TokenTTL = getEnvDuration("TOKEN_TTL", cfg.TokenTTL)
	cfg.AdminKey = getEnv("ADMIN_KEY", cfg.AdminKey)
	cfg.AutoDraw = getEnvBool("AUTO_DRAW", cfg.AutoDraw)
	cfg.DrawInterval = getEnvDuration("DRAW_INTERVAL", cfg.DrawInterval)
	cfg.MinTicketsToStart = getEnvInt("MIN_TICKETS_TO_START", cfg.MinTicketsToStart)
	cfg.MaxStake = getEnvFloat("MAX_STAKE", cfg.MaxStake)
	cfg.PatternCacheTTL = getEnvDuration("PATTERN_CACHE_TTL", cfg.PatternCacheTTL)
	cfg.FinancialResetAfter = getEnvDuration("FINANCIAL_RESET_AFTER", cfg.FinancialResetAfter)
	cfg.BetRateLimit = getEnvInt("BET_RATE_LIMIT", cfg.BetRateLimit)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.StoreBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown store backend: %s", c.StoreBackend)
	}
	if c.DrawInterval <= 0 {
		return fmt.Errorf("draw interval must be positive")
	}
	if c.MinTicketsToStart < 1 {
		return fmt.Errorf("min tickets to start must be at least 1")
	}
	if c.Env == "production" && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
