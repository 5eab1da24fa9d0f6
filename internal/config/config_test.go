package config

import (
	"testing"
	"time"
)

func TestLoad_ReportsMissingRequired(t *testing.T) {
	// Ensure a clean env by not setting anything and calling validation directly.
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func validBase() Config {
	return Config{
		App:       AppConfig{Env: "local", Port: 8080},
		DB:        DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "messaging", SSLMode: ""},
		Redis:     RedisConfig{Host: "localhost", Port: 6379},
		Auth:      AuthConfig{JWTSecret: "secret"},
		Gateway:   GatewayConfig{BaseURL: "http://localhost:9090"},
		Messaging: MessagingConfig{DefaultCountryPrefix: "62"},
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validBase()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "iss"
	c.Auth.JWTAudience = "aud"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaultsSSLMode(t *testing.T) {
	c := validBase()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
}

func TestValidate_MessagingDefaults(t *testing.T) {
	c := validBase()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.Messaging.BulkMaxRecipients != 1000 {
		t.Fatalf("expected bulk max 1000, got %d", c.Messaging.BulkMaxRecipients)
	}
	if c.Messaging.QRWaitTimeout != 20*time.Second {
		t.Fatalf("expected 20s QR wait, got %v", c.Messaging.QRWaitTimeout)
	}
	if c.Messaging.QRPollInterval != 500*time.Millisecond {
		t.Fatalf("expected 500ms poll, got %v", c.Messaging.QRPollInterval)
	}
	if c.Messaging.LocalNumberLength != 10 || c.Messaging.MinAddressDigits != 8 {
		t.Fatalf("unexpected normalization defaults: %+v", c.Messaging)
	}
}

func TestValidate_RejectsNonDigitCountryPrefix(t *testing.T) {
	c := validBase()
	c.Messaging.DefaultCountryPrefix = "+62"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for non-digit country prefix")
	}
}
