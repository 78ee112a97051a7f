package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig holds all server configuration
type ServerConfig struct {
	// Server
	Port           string
	AuctionTimeout time.Duration
	BidderTimeout  time.Duration

	// Database
	DatabaseConfig *DatabaseConfig

	// Redis
	RedisURL string

	// Ad server
	AdServerURL string

	// Consent
	ConsentEnabled    bool
	ConsentServiceURL string
	ConsentTimeout    time.Duration

	// Bidders
	Headless        bool
	BrightpoolURL   string
	CipherbidURL    string
	PublisherDomain string

	// Logging
	LogLevel  string
	LogFormat string

	// Metrics
	MetricsNamespace string

	// CORS
	CORSOrigins []string
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxConnections  int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// ParseConfig parses configuration from flags and environment variables
func ParseConfig() *ServerConfig {
	port := flag.String("port", getEnvOrDefault("ADLIB_PORT", "8000"), "Server port")
	auctionTimeout := flag.Duration("auction-timeout", 1000*time.Millisecond, "Default auction timeout")
	bidderTimeout := flag.Duration("bidder-timeout", 700*time.Millisecond, "Default per-bidder timeout")
	headless := flag.Bool("headless", getEnvBoolOrDefault("ADLIB_HEADLESS", false), "Run without active bidders")
	flag.Parse()

	cfg := &ServerConfig{
		Port:              *port,
		AuctionTimeout:    *auctionTimeout,
		BidderTimeout:     *bidderTimeout,
		RedisURL:          os.Getenv("REDIS_URL"),
		AdServerURL:       getEnvOrDefault("AD_SERVER_URL", "https://adserver.thenexusengine.com"),
		ConsentEnabled:    getEnvBoolOrDefault("CONSENT_ENABLED", false),
		ConsentServiceURL: getEnvOrDefault("CONSENT_SERVICE_URL", "http://localhost:5060"),
		ConsentTimeout:    time.Duration(getEnvIntOrDefault("CONSENT_TIMEOUT_MS", 300)) * time.Millisecond,
		Headless:          *headless,
		BrightpoolURL:     getEnvOrDefault("BRIGHTPOOL_URL", "https://bid.brightpool.io/openbid"),
		CipherbidURL:      getEnvOrDefault("CIPHERBID_URL", "https://rtb.cipherbid.net/bid"),
		PublisherDomain:   os.Getenv("PUBLISHER_DOMAIN"),
		LogLevel:          getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:         getEnvOrDefault("LOG_FORMAT", "json"),
		MetricsNamespace:  getEnvOrDefault("METRICS_NAMESPACE", "tne_adlib"),
	}

	// Parse database config if DB_HOST is set
	if dbHost := os.Getenv("DB_HOST"); dbHost != "" {
		cfg.DatabaseConfig = &DatabaseConfig{
			Host:            dbHost,
			Port:            getEnvOrDefault("DB_PORT", "5432"),
			User:            getEnvOrDefault("DB_USER", "adlib"),
			Password:        getEnvOrDefault("DB_PASSWORD", ""),
			Name:            getEnvOrDefault("DB_NAME", "adlib"),
			SSLMode:         getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConnections:  getEnvIntOrDefault("DB_MAX_CONNECTIONS", 100),
			MaxIdleConns:    getEnvIntOrDefault("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: time.Duration(getEnvIntOrDefault("DB_CONN_MAX_LIFETIME_SECONDS", 3600)) * time.Second,
		}
	}

	if corsOrigins := os.Getenv("CORS_ORIGINS"); corsOrigins != "" {
		for _, origin := range strings.Split(corsOrigins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, origin)
			}
		}
	}

	return cfg
}

// getEnvOrDefault returns the environment variable value or a default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBoolOrDefault returns the environment variable as bool or a default
func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvIntOrDefault returns the environment variable as int or a default
func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intVal
}

// isProduction returns true if running in production environment
func isProduction() bool {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = os.Getenv("ENV")
	}
	return env == "production" || env == "prod"
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}

	port, err := strconv.Atoi(c.Port)
	if err != nil {
		return fmt.Errorf("port must be numeric: %w", err)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be in range 1-65535, got %d", port)
	}

	if c.AuctionTimeout < 0 {
		return fmt.Errorf("auction timeout must be non-negative, got %v", c.AuctionTimeout)
	}
	if c.AuctionTimeout > 30*time.Second {
		return fmt.Errorf("auction timeout must be less than 30s, got %v", c.AuctionTimeout)
	}
	if c.BidderTimeout < 0 {
		return fmt.Errorf("bidder timeout must be non-negative, got %v", c.BidderTimeout)
	}

	if c.ConsentEnabled {
		if c.ConsentServiceURL == "" {
			return fmt.Errorf("consent service URL is required when consent is enabled")
		}
		if c.ConsentTimeout <= 0 {
			return fmt.Errorf("consent timeout must be positive when consent is enabled, got %v", c.ConsentTimeout)
		}
	}

	if c.AdServerURL == "" {
		return fmt.Errorf("ad server URL is required")
	}

	if c.DatabaseConfig != nil {
		if err := c.DatabaseConfig.Validate(); err != nil {
			return fmt.Errorf("database config: %w", err)
		}
	}

	// SECURITY: Validate CORS origins in production
	if isProduction() {
		if len(c.CORSOrigins) == 0 {
			return fmt.Errorf("CORS origins must be explicitly configured in production (set CORS_ORIGINS)")
		}
		for _, origin := range c.CORSOrigins {
			if origin == "*" {
				return fmt.Errorf("CORS wildcard '*' is not allowed in production - specify explicit origins")
			}
		}
	}

	return nil
}

// Validate validates the database configuration
func (dc *DatabaseConfig) Validate() error {
	if dc.Host == "" {
		return fmt.Errorf("host is required")
	}
	if dc.Port == "" {
		return fmt.Errorf("port is required")
	}

	port, err := strconv.Atoi(dc.Port)
	if err != nil {
		return fmt.Errorf("port must be numeric: %w", err)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be in range 1-65535, got %d", port)
	}

	if dc.User == "" {
		return fmt.Errorf("user is required")
	}
	if dc.Password == "" {
		return fmt.Errorf("password is required")
	}
	if dc.Name == "" {
		return fmt.Errorf("database name is required")
	}

	validSSLModes := map[string]bool{
		"disable":     true,
		"require":     true,
		"verify-ca":   true,
		"verify-full": true,
	}
	if !validSSLModes[dc.SSLMode] {
		return fmt.Errorf("invalid SSL mode: %s (must be one of: disable, require, verify-ca, verify-full)", dc.SSLMode)
	}

	// SECURITY: In production, SSL must not be disabled
	if isProduction() && dc.SSLMode == "disable" {
		return fmt.Errorf("SSL mode 'disable' is not allowed in production")
	}

	if dc.MaxConnections < 1 {
		return fmt.Errorf("max connections must be at least 1, got %d", dc.MaxConnections)
	}
	if dc.MaxConnections > 1000 {
		return fmt.Errorf("max connections must not exceed 1000, got %d", dc.MaxConnections)
	}
	if dc.MaxIdleConns < 0 {
		return fmt.Errorf("max idle connections must be non-negative, got %d", dc.MaxIdleConns)
	}
	if dc.MaxIdleConns > dc.MaxConnections {
		return fmt.Errorf("max idle connections (%d) cannot exceed max connections (%d)", dc.MaxIdleConns, dc.MaxConnections)
	}
	if dc.ConnMaxLifetime < 0 {
		return fmt.Errorf("connection max lifetime must be non-negative, got %v", dc.ConnMaxLifetime)
	}

	return nil
}

// ConnectionString builds a lib/pq connection string
func (dc *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		dc.Host, dc.Port, dc.User, dc.Password, dc.Name, dc.SSLMode)
}
