package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	DatabasePath string
	LogLevel     string

	// Scheduler settings
	SyncInterval    time.Duration
	TickTimeout     time.Duration
	FirstSyncWindow int

	// OAuth client credentials
	Google    OAuthClient
	Microsoft OAuthClient
}

// OAuthClient holds one provider's OAuth application credentials.
type OAuthClient struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// Load loads configuration from environment variables, reading a .env file
// first when one exists.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		DatabasePath:    getEnv("DATABASE_PATH", "/data/inboxengine.db"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		SyncInterval:    getEnvDuration("SYNC_INTERVAL", 20*time.Minute),
		TickTimeout:     getEnvDuration("SYNC_TICK_TIMEOUT", 5*time.Minute),
		FirstSyncWindow: getEnvInt("FIRST_SYNC_WINDOW", 200),
		Google: OAuthClient{
			ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
			ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
			RedirectURI:  os.Getenv("GOOGLE_REDIRECT_URI"),
		},
		Microsoft: OAuthClient{
			ClientID:     os.Getenv("MICROSOFT_CLIENT_ID"),
			ClientSecret: os.Getenv("MICROSOFT_CLIENT_SECRET"),
			RedirectURI:  os.Getenv("MICROSOFT_REDIRECT_URI"),
		},
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required")
	}
	if c.SyncInterval < time.Minute {
		return fmt.Errorf("SYNC_INTERVAL must be at least one minute")
	}
	if c.TickTimeout <= 0 {
		return fmt.Errorf("SYNC_TICK_TIMEOUT must be positive")
	}
	if c.FirstSyncWindow < 1 {
		return fmt.Errorf("FIRST_SYNC_WINDOW must be at least 1")
	}
	return nil
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as an integer or returns a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration gets an environment variable as a duration or returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
