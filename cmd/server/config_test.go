package main

import (
	"strings"
	"testing"
	"time"
)

func validServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:           "8000",
		AuctionTimeout: 1000 * time.Millisecond,
		BidderTimeout:  700 * time.Millisecond,
		AdServerURL:    "https://adserver.example.com",
	}
}

func TestServerConfigValidate(t *testing.T) {
	if err := validServerConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestServerConfigValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ServerConfig)
		wantErr string
	}{
		{
			name:    "missing port",
			mutate:  func(c *ServerConfig) { c.Port = "" },
			wantErr: "port is required",
		},
		{
			name:    "non-numeric port",
			mutate:  func(c *ServerConfig) { c.Port = "http" },
			wantErr: "port must be numeric",
		},
		{
			name:    "port out of range",
			mutate:  func(c *ServerConfig) { c.Port = "70000" },
			wantErr: "port must be in range",
		},
		{
			name:    "negative auction timeout",
			mutate:  func(c *ServerConfig) { c.AuctionTimeout = -1 },
			wantErr: "auction timeout must be non-negative",
		},
		{
			name:    "excessive auction timeout",
			mutate:  func(c *ServerConfig) { c.AuctionTimeout = time.Minute },
			wantErr: "auction timeout must be less than 30s",
		},
		{
			name:    "negative bidder timeout",
			mutate:  func(c *ServerConfig) { c.BidderTimeout = -time.Second },
			wantErr: "bidder timeout must be non-negative",
		},
		{
			name: "consent enabled without URL",
			mutate: func(c *ServerConfig) {
				c.ConsentEnabled = true
				c.ConsentServiceURL = ""
			},
			wantErr: "consent service URL is required",
		},
		{
			name: "consent enabled without timeout",
			mutate: func(c *ServerConfig) {
				c.ConsentEnabled = true
				c.ConsentServiceURL = "http://localhost:5060"
				c.ConsentTimeout = 0
			},
			wantErr: "consent timeout must be positive",
		},
		{
			name:    "missing ad server URL",
			mutate:  func(c *ServerConfig) { c.AdServerURL = "" },
			wantErr: "ad server URL is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validServerConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func validDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		Host:           "localhost",
		Port:           "5432",
		User:           "adlib",
		Password:       "k9x2mPq81vLw4nRt",
		Name:           "adlib",
		SSLMode:        "disable",
		MaxConnections: 100,
		MaxIdleConns:   10,
	}
}

func TestDatabaseConfigValidate(t *testing.T) {
	if err := validDatabaseConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestDatabaseConfigValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*DatabaseConfig)
		wantErr string
	}{
		{"missing host", func(c *DatabaseConfig) { c.Host = "" }, "host is required"},
		{"missing user", func(c *DatabaseConfig) { c.User = "" }, "user is required"},
		{"missing password", func(c *DatabaseConfig) { c.Password = "" }, "password is required"},
		{"missing name", func(c *DatabaseConfig) { c.Name = "" }, "database name is required"},
		{"bad ssl mode", func(c *DatabaseConfig) { c.SSLMode = "maybe" }, "invalid SSL mode"},
		{"zero max connections", func(c *DatabaseConfig) { c.MaxConnections = 0 }, "max connections must be at least 1"},
		{"idle exceeds max", func(c *DatabaseConfig) { c.MaxIdleConns = 200 }, "cannot exceed max connections"},
		{"negative lifetime", func(c *DatabaseConfig) { c.ConnMaxLifetime = -time.Second }, "must be non-negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDatabaseConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestConnectionString(t *testing.T) {
	cs := validDatabaseConfig().ConnectionString()
	for _, want := range []string{"host=localhost", "port=5432", "user=adlib", "dbname=adlib", "sslmode=disable"} {
		if !strings.Contains(cs, want) {
			t.Errorf("connection string missing %q: %s", want, cs)
		}
	}
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("ADLIB_TEST_KEY", "from-env")
	if got := getEnvOrDefault("ADLIB_TEST_KEY", "fallback"); got != "from-env" {
		t.Errorf("expected 'from-env', got %q", got)
	}
	if got := getEnvOrDefault("ADLIB_TEST_MISSING", "fallback"); got != "fallback" {
		t.Errorf("expected 'fallback', got %q", got)
	}
}

func TestGetEnvBoolOrDefault(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"true", true},
		{"1", true},
		{"yes", true},
		{"false", false},
		{"0", false},
		{"garbage", false},
	}
	for _, tt := range tests {
		t.Setenv("ADLIB_TEST_BOOL", tt.value)
		if got := getEnvBoolOrDefault("ADLIB_TEST_BOOL", !tt.want); got != tt.want {
			t.Errorf("value %q: expected %v, got %v", tt.value, tt.want, got)
		}
	}
	if !getEnvBoolOrDefault("ADLIB_TEST_BOOL_MISSING", true) {
		t.Error("expected default true for missing variable")
	}
}

func TestGetEnvIntOrDefault(t *testing.T) {
	t.Setenv("ADLIB_TEST_INT", "42")
	if got := getEnvIntOrDefault("ADLIB_TEST_INT", 7); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
	t.Setenv("ADLIB_TEST_INT", "not-a-number")
	if got := getEnvIntOrDefault("ADLIB_TEST_INT", 7); got != 7 {
		t.Errorf("expected fallback 7, got %d", got)
	}
	if got := getEnvIntOrDefault("ADLIB_TEST_INT_MISSING", 7); got != 7 {
		t.Errorf("expected fallback 7, got %d", got)
	}
}

func TestIsProduction(t *testing.T) {
	t.Setenv("ENVIRONMENT", "")
	t.Setenv("ENV", "")
	if isProduction() {
		t.Error("expected non-production with no environment set")
	}
	t.Setenv("ENVIRONMENT", "production")
	if !isProduction() {
		t.Error("expected production with ENVIRONMENT=production")
	}
}

func TestValidateRejectsCORSWildcardInProduction(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")

	cfg := validServerConfig()
	cfg.CORSOrigins = []string{"*"}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "wildcard") {
		t.Errorf("expected wildcard rejection, got %v", err)
	}

	cfg.CORSOrigins = nil
	err = cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "CORS origins must be explicitly configured") {
		t.Errorf("expected missing-origins rejection, got %v", err)
	}
}
