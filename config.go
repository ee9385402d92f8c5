package vauth

import (
	"errors"
	"time"
)

// Config defines a public type used by vauth APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	JWT         JWTConfig
	Refresh     RefreshConfig
	APIKey      APIKeyConfig
	RateLimit   RateLimitConfig
	Cleanup     CleanupConfig
	Audit       AuditConfig
	Metrics     MetricsConfig
	MultiTenant MultiTenantConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig defines a public type used by vauth APIs.
//
// JWTConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "hs256" (default), "ed25519"
	Secret        []byte // hs256 key material
	PrivateKey    []byte // ed25519 private key
	PublicKey     []byte // ed25519 public key
	Issuer        string
}

/*
====================================
REFRESH CONFIG
====================================
*/

// RefreshConfig defines a public type used by vauth APIs.
//
// RefreshConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type RefreshConfig struct {
	TTL time.Duration
}

/*
====================================
API KEY CONFIG
====================================
*/

// APIKeyConfig defines a public type used by vauth APIs.
//
// APIKeyConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type APIKeyConfig struct {
	DefaultScopes             []string
	DefaultRateLimitPerMinute int
	DefaultTTL                time.Duration // 0 means keys never expire
	MaxPerUser                int           // 0 means unlimited
	MaxNameLength             int
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig defines a public type used by vauth APIs.
//
// RateLimitConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type RateLimitConfig struct {
	Enabled         bool
	Window          time.Duration
	RedisKeyPrefix  string
	RotatePerMinute int // per-family rotation throttle, 0 disables
}

/*
====================================
CLEANUP CONFIG
====================================
*/

// CleanupConfig defines a public type used by vauth APIs.
//
// CleanupConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type CleanupConfig struct {
	Enabled      bool
	Interval     time.Duration
	SweepTimeout time.Duration
}

// AuditConfig defines a public type used by vauth APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig defines a public type used by vauth APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
MULTI TENANT CONFIG
====================================
*/

// MultiTenantConfig defines a public type used by vauth APIs.
//
// MultiTenantConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MultiTenantConfig struct {
	Enabled      bool
	TenantHeader string
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig describes the defaultconfig operation and its observable behavior.
//
// DefaultConfig may return an error when input validation, dependency calls, or security checks fail.
// DefaultConfig does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: "hs256",
			Issuer:        "vauth",
		},
		Refresh: RefreshConfig{
			TTL: 30 * 24 * time.Hour,
		},
		APIKey: APIKeyConfig{
			DefaultScopes:             []string{"metrics:write"},
			DefaultRateLimitPerMinute: 60,
			DefaultTTL:                0,
			MaxPerUser:                0,
			MaxNameLength:             100,
		},
		RateLimit: RateLimitConfig{
			Enabled:         true,
			Window:          time.Minute,
			RedisKeyPrefix:  "vrl",
			RotatePerMinute: 30,
		},
		Cleanup: CleanupConfig{
			Enabled:      true,
			Interval:     time.Hour,
			SweepTimeout: 30 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		MultiTenant: MultiTenantConfig{
			Enabled:      false,
			TenantHeader: "X-Tenant-ID",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.Secret = cloneBytes(cfg.JWT.Secret)
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if len(cfg.APIKey.DefaultScopes) > 0 {
		out.APIKey.DefaultScopes = append([]string(nil), cfg.APIKey.DefaultScopes...)
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate describes the validate operation and its observable behavior.
//
// Validate may return an error when input validation, dependency calls, or security checks fail.
// Validate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	switch c.JWT.SigningMethod {
	case "hs256":
		if len(c.JWT.Secret) < 32 {
			return errors.New("hs256 requires Secret of at least 32 bytes")
		}
	case "ed25519":
		if len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PublicKey")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}

	// Refresh
	if c.Refresh.TTL <= 0 {
		return errors.New("Refresh TTL must be > 0")
	}
	if c.Refresh.TTL <= c.JWT.AccessTTL {
		return errors.New("Refresh TTL must exceed JWT AccessTTL")
	}

	// API key
	if c.APIKey.DefaultRateLimitPerMinute < 0 {
		return errors.New("APIKey DefaultRateLimitPerMinute must be >= 0")
	}
	if c.APIKey.DefaultTTL < 0 {
		return errors.New("APIKey DefaultTTL must be >= 0")
	}
	if c.APIKey.MaxPerUser < 0 {
		return errors.New("APIKey MaxPerUser must be >= 0")
	}
	if c.APIKey.MaxNameLength <= 0 {
		return errors.New("APIKey MaxNameLength must be > 0")
	}
	if len(c.APIKey.DefaultScopes) == 0 {
		return errors.New("APIKey DefaultScopes must not be empty")
	}

	// Rate limiting
	if c.RateLimit.Enabled {
		if c.RateLimit.Window <= 0 {
			return errors.New("RateLimit Window must be > 0 when rate limiting is enabled")
		}
		if c.RateLimit.RotatePerMinute < 0 {
			return errors.New("RateLimit RotatePerMinute must be >= 0")
		}
	}

	// Cleanup
	if c.Cleanup.Enabled {
		if c.Cleanup.Interval <= 0 {
			return errors.New("Cleanup Interval must be > 0 when cleanup is enabled")
		}
		if c.Cleanup.SweepTimeout <= 0 {
			return errors.New("Cleanup SweepTimeout must be > 0 when cleanup is enabled")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	// Multi tenant
	if c.MultiTenant.Enabled && c.MultiTenant.TenantHeader == "" {
		return errors.New("MultiTenant TenantHeader is required when multi-tenancy is enabled")
	}

	return nil
}
