package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// HTTP
	ServerPort string

	// MySQL
	DBHost string
	DBUser string
	DBPass string
	DBName string

	// Redis (notification fan-out)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Facebook platform
	GraphAPIURL string
	VerifyToken string
	AppSecret   string

	// RabbitMQ (legacy auto-reply queue, disabled when URL is empty)
	RabbitURL   string
	RabbitQueue string

	// Cache TTL for fetched user profiles
	ProfileCacheTTL time.Duration

	// Poll interval for delayed private replies
	PrivateReplyInterval time.Duration

	// Security
	EncryptionKey string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:    getEnvOrDefault("PORT", "4310"),
		DBHost:        getEnvOrDefault("DB_HOST", "localhost"),
		DBUser:        getEnvOrDefault("DB_USER", "root"),
		DBPass:        os.Getenv("DB_PASS"),
		DBName:        getEnvOrDefault("DB_NAME", "pagepilot"),
		RedisAddr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		GraphAPIURL:   getEnvOrDefault("GRAPH_API_URL", "https://graph.facebook.com/v18.0"),
		VerifyToken:   os.Getenv("VERIFY_TOKEN"),
		AppSecret:     os.Getenv("APP_SECRET"),
		RabbitURL:     os.Getenv("RABBITMQ_URL"),
		RabbitQueue:   getEnvOrDefault("RABBITMQ_QUEUE", "auto_reply_jobs"),
	}

	// Parse Redis DB
	redisDBStr := getEnvOrDefault("REDIS_DB", "0")
	redisDB, err := strconv.Atoi(redisDBStr)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	cfg.RedisDB = redisDB

	// Parse profile cache TTL (in hours)
	ttlStr := getEnvOrDefault("PROFILE_CACHE_TTL", "24")
	ttlHours, err := strconv.Atoi(ttlStr)
	if err != nil {
		return nil, fmt.Errorf("invalid PROFILE_CACHE_TTL: %w", err)
	}
	cfg.ProfileCacheTTL = time.Duration(ttlHours) * time.Hour

	// Parse private reply poll interval (in seconds)
	intervalStr := getEnvOrDefault("PRIVATE_REPLY_INTERVAL", "30")
	intervalSecs, err := strconv.Atoi(intervalStr)
	if err != nil {
		return nil, fmt.Errorf("invalid PRIVATE_REPLY_INTERVAL: %w", err)
	}
	cfg.PrivateReplyInterval = time.Duration(intervalSecs) * time.Second

	// Validate required fields
	if cfg.VerifyToken == "" {
		return nil, fmt.Errorf("VERIFY_TOKEN is required for webhook verification")
	}

	// Encryption Key (Must be 32 chars)
	cfg.EncryptionKey = getEnvOrDefault("PAGE_ENCRYPTION_KEY", "12345678901234567890123456789012") // Default for dev only
	if len(cfg.EncryptionKey) != 32 {
		return nil, fmt.Errorf("PAGE_ENCRYPTION_KEY must be exactly 32 bytes")
	}

	return cfg, nil
}

// GetDSN returns MySQL connection string
func (c *Config) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true&charset=utf8mb4",
		c.DBUser, c.DBPass, c.DBHost, c.DBName)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
