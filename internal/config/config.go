package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the Camision server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Payments PaymentsConfig
	Uploads  UploadsConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type AuthConfig struct {
	JWTSecret  string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type PaymentsConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	CallbackURL    string
	IPNID          string
	Timeout        time.Duration
}

type UploadsConfig struct {
	Dir string
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("CAMISION_PORT", 5000),
			Env:  envString("CAMISION_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Auth: AuthConfig{
			JWTSecret:  os.Getenv("JWT_SECRET"),
			AccessTTL:  envDuration("JWT_ACCESS_TTL", 15*time.Minute),
			RefreshTTL: envDuration("JWT_REFRESH_TTL", 7*24*time.Hour),
		},
		Payments: PaymentsConfig{
			BaseURL:        envString("PESAPAL_BASE_URL", "https://cybqa.pesapal.com/pesapalv3"),
			ConsumerKey:    os.Getenv("PESAPAL_CONSUMER_KEY"),
			ConsumerSecret: os.Getenv("PESAPAL_CONSUMER_SECRET"),
			CallbackURL:    os.Getenv("PESAPAL_CALLBACK_URL"),
			IPNID:          os.Getenv("PESAPAL_IPN_ID"),
			Timeout:        envDuration("PESAPAL_TIMEOUT", 30*time.Second),
		},
		Uploads: UploadsConfig{
			Dir: envString("UPLOADS_DIR", "Uploads"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 bytes, got %d", len(c.Auth.JWTSecret))
	}

	if !strings.HasPrefix(c.Payments.BaseURL, "http://") && !strings.HasPrefix(c.Payments.BaseURL, "https://") {
		return fmt.Errorf("PESAPAL_BASE_URL must start with http:// or https://, got %q", c.Payments.BaseURL)
	}
	if c.Server.Env != "development" && c.Payments.ConsumerKey == "" {
		return fmt.Errorf("PESAPAL_CONSUMER_KEY is required outside development")
	}
	if c.Server.Env != "development" && c.Payments.ConsumerSecret == "" {
		return fmt.Errorf("PESAPAL_CONSUMER_SECRET is required outside development")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
