package vauth

import (
	"context"
	"crypto/ed25519"
	"errors"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/vizor-analytics/vauth/apikey"
	internalaudit "github.com/vizor-analytics/vauth/internal/audit"
	"github.com/vizor-analytics/vauth/internal/rate"
	"github.com/vizor-analytics/vauth/jwt"
	"github.com/vizor-analytics/vauth/token"
)

// Builder defines a public type used by vauth APIs.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config
	db     *gorm.DB
	redis  redis.UniversalClient

	identity  IdentityProvider
	auditSink AuditSink

	built bool
}

// New describes the new operation and its observable behavior.
//
// New may return an error when input validation, dependency calls, or security checks fail.
// New does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig describes the withconfig operation and its observable behavior.
//
// WithConfig may return an error when input validation, dependency calls, or security checks fail.
// WithConfig does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithDB describes the withdb operation and its observable behavior.
//
// WithDB may return an error when input validation, dependency calls, or security checks fail.
// WithDB does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithDB(db *gorm.DB) *Builder {
	b.db = db
	return b
}

// WithRedis describes the withredis operation and its observable behavior.
//
// WithRedis may return an error when input validation, dependency calls, or security checks fail.
// WithRedis does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithIdentityProvider describes the withidentityprovider operation and its observable behavior.
//
// WithIdentityProvider may return an error when input validation, dependency calls, or security checks fail.
// WithIdentityProvider does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithIdentityProvider(p IdentityProvider) *Builder {
	b.identity = p
	return b
}

// WithAuditSink describes the withauditsink operation and its observable behavior.
//
// WithAuditSink may return an error when input validation, dependency calls, or security checks fail.
// WithAuditSink does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled describes the withmetricsenabled operation and its observable behavior.
//
// WithMetricsEnabled may return an error when input validation, dependency calls, or security checks fail.
// WithMetricsEnabled does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms describes the withlatencyhistograms operation and its observable behavior.
//
// WithLatencyHistograms may return an error when input validation, dependency calls, or security checks fail.
// WithLatencyHistograms does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build may return an error when input validation, dependency calls, or security checks fail.
// Build does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.db == nil {
		return nil, errors.New("database handle required")
	}
	if cfg.RateLimit.Enabled && b.redis == nil {
		return nil, errors.New("RateLimit requires redis client")
	}

	engine := &Engine{
		config:     cfg,
		tokenStore: token.NewStore(b.db),
		keyStore:   apikey.NewStore(b.db),
		identity:   b.identity,
	}

	if cfg.RateLimit.Enabled {
		engine.rateLimiter = rate.New(b.redis, rate.Config{
			Window:    cfg.RateLimit.Window,
			KeyPrefix: cfg.RateLimit.RedisKeyPrefix,
		})
	}

	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	var (
		jm  *jwt.Manager
		err error
	)
	switch cfg.JWT.SigningMethod {
	case "hs256":
		jm, err = jwt.NewHS256(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessTTL)
	case "ed25519":
		var priv ed25519.PrivateKey
		if len(cfg.JWT.PrivateKey) > 0 {
			priv = ed25519.PrivateKey(cfg.JWT.PrivateKey)
		}
		jm, err = jwt.NewEd25519(priv, ed25519.PublicKey(cfg.JWT.PublicKey), cfg.JWT.Issuer, cfg.JWT.AccessTTL)
	}
	if err != nil {
		return nil, err
	}
	engine.jwtManager = jm

	if cfg.Cleanup.Enabled {
		engine.cleaner = token.NewCleaner(engine.tokenStore, token.CleanerConfig{
			Interval:     cfg.Cleanup.Interval,
			SweepTimeout: cfg.Cleanup.SweepTimeout,
			OnSweep: func(deleted int64, sweepErr error) {
				engine.metricInc(MetricCleanupRun)
				engine.metricAdd(MetricCleanupDeleted, uint64(deleted))
				engine.emitAudit(context.Background(), auditEventCleanupRun, sweepErr == nil, "", "", "", sweepErr, func() map[string]string {
					return map[string]string{
						"deleted": formatInt64(deleted),
					}
				})
			},
		})
		engine.cleaner.Start()
	}

	b.built = true

	return engine, nil
}
