package vauth

import (
	"testing"
	"time"
)

func validTestConfig() Config {
	cfg := defaultConfig()
	cfg.JWT.Secret = []byte("0123456789abcdef0123456789abcdef")
	return cfg
}

func TestValidateDefaults(t *testing.T) {
	cfg := validTestConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config with secret should validate, got %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero access ttl", func(c *Config) { c.JWT.AccessTTL = 0 }},
		{"short hs256 secret", func(c *Config) { c.JWT.Secret = []byte("short") }},
		{"unknown signing method", func(c *Config) { c.JWT.SigningMethod = "none" }},
		{"ed25519 without public key", func(c *Config) {
			c.JWT.SigningMethod = "ed25519"
			c.JWT.PublicKey = nil
		}},
		{"zero refresh ttl", func(c *Config) { c.Refresh.TTL = 0 }},
		{"refresh shorter than access", func(c *Config) { c.Refresh.TTL = time.Minute }},
		{"negative key rate limit", func(c *Config) { c.APIKey.DefaultRateLimitPerMinute = -1 }},
		{"zero name length", func(c *Config) { c.APIKey.MaxNameLength = 0 }},
		{"empty default scopes", func(c *Config) { c.APIKey.DefaultScopes = nil }},
		{"rate limit without window", func(c *Config) { c.RateLimit.Window = 0 }},
		{"cleanup without interval", func(c *Config) { c.Cleanup.Interval = 0 }},
		{"audit without buffer", func(c *Config) {
			c.Audit.Enabled = true
			c.Audit.BufferSize = 0
		}},
		{"tenant mode without header", func(c *Config) {
			c.MultiTenant.Enabled = true
			c.MultiTenant.TenantHeader = ""
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validTestConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestWithConfigIsolatesCaller(t *testing.T) {
	cfg := validTestConfig()
	builder := New().WithConfig(cfg)

	// Mutating the caller's copy after WithConfig must not reach the builder.
	cfg.JWT.Secret[0] = 'x'
	cfg.APIKey.DefaultScopes[0] = "mutated"

	if builder.config.JWT.Secret[0] == 'x' {
		t.Fatal("secret aliased into builder")
	}
	if builder.config.APIKey.DefaultScopes[0] == "mutated" {
		t.Fatal("scopes aliased into builder")
	}
}

func TestBuildRequiresDatabase(t *testing.T) {
	builder := New().WithConfig(validTestConfig())

	if _, err := builder.Build(); err == nil {
		t.Fatal("expected build failure without database")
	}
}
