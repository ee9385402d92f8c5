package vauth

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/vizor-analytics/vauth/internal/audit"
	internalmetrics "github.com/vizor-analytics/vauth/internal/metrics"
)

// TokenPair is returned by [Engine.Issue] and [Engine.Rotate]. RefreshToken
// is the opaque secret handed to the client exactly once; only its digest is
// persisted.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	FamilyID         string
}

// AccessIdentity is the verified subject of an access token, returned by
// [Engine.VerifyAccess].
type AccessIdentity struct {
	UserID   string
	TenantID string
	FamilyID string
}

// IdentityProvider is the hook that ties the engine to the platform's user
// database. The engine never authenticates users itself; the caller proves
// the user's identity first and the provider is only consulted to confirm
// the account may hold credentials.
type IdentityProvider interface {
	CheckUser(ctx context.Context, userID string) error
}

// GenerateAPIKeyRequest is the input for [Engine.GenerateAPIKey]. Zero-value
// fields fall back to the configured API key defaults.
type GenerateAPIKeyRequest struct {
	UserID             string
	TenantID           string
	Name               string
	Scopes             []string
	RateLimitPerMinute int
	ExpiresAt          *time.Time
}

// GeneratedAPIKey is returned by [Engine.GenerateAPIKey]. Key holds the full
// plaintext secret; it is not recoverable afterwards.
type GeneratedAPIKey struct {
	Key     string
	Summary APIKeySummary
}

// APIKeySummary is the storable view of a key: everything except the secret.
type APIKeySummary struct {
	ID                 string
	UserID             string
	TenantID           string
	Name               string
	KeyPrefix          string
	IsActive           bool
	Scopes             []string
	RateLimitPerMinute int
	ExpiresAt          *time.Time
	LastUsedAt         *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// UpdateAPIKeyRequest carries the mutable fields for [Engine.UpdateAPIKey].
// Nil pointers leave the current value untouched.
type UpdateAPIKeyRequest struct {
	Name               *string
	Scopes             []string
	IsActive           *bool
	RateLimitPerMinute *int
	ExpiresAt          *time.Time
	ClearExpiry        bool
}

// APIKeyValidation is returned by [Engine.ValidateAPIKey] and
// [Engine.AuthorizeAPIKey] for an accepted key.
type APIKeyValidation struct {
	KeyID              string
	UserID             string
	TenantID           string
	Scopes             []string
	RateLimitPerMinute int
}

// HasScope reports whether the validated key carries the exact scope. There
// is no wildcard matching.
func (v *APIKeyValidation) HasScope(scope string) bool {
	if v == nil {
		return false
	}
	for _, have := range v.Scopes {
		if have == scope {
			return true
		}
	}
	return false
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes JSON-encoded events to an
// [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// MetricID identifies a specific counter or histogram bucket in the
// in-process metrics system.
type MetricID = internalmetrics.MetricID

const (
	// MetricIssueSuccess is an exported constant or variable used by the credential engine.
	MetricIssueSuccess = internalmetrics.MetricIssueSuccess
	// MetricIssueFailure is an exported constant or variable used by the credential engine.
	MetricIssueFailure = internalmetrics.MetricIssueFailure
	// MetricRotateSuccess is an exported constant or variable used by the credential engine.
	MetricRotateSuccess = internalmetrics.MetricRotateSuccess
	// MetricRotateFailure is an exported constant or variable used by the credential engine.
	MetricRotateFailure = internalmetrics.MetricRotateFailure
	// MetricRotateRateLimited is an exported constant or variable used by the credential engine.
	MetricRotateRateLimited = internalmetrics.MetricRotateRateLimited
	// MetricReuseDetected is an exported constant or variable used by the credential engine.
	MetricReuseDetected = internalmetrics.MetricReuseDetected
	// MetricFamilyRevoked is an exported constant or variable used by the credential engine.
	MetricFamilyRevoked = internalmetrics.MetricFamilyRevoked
	// MetricLogout is an exported constant or variable used by the credential engine.
	MetricLogout = internalmetrics.MetricLogout
	// MetricLogoutAll is an exported constant or variable used by the credential engine.
	MetricLogoutAll = internalmetrics.MetricLogoutAll
	// MetricAPIKeyCreated is an exported constant or variable used by the credential engine.
	MetricAPIKeyCreated = internalmetrics.MetricAPIKeyCreated
	// MetricAPIKeyValidated is an exported constant or variable used by the credential engine.
	MetricAPIKeyValidated = internalmetrics.MetricAPIKeyValidated
	// MetricAPIKeyRejected is an exported constant or variable used by the credential engine.
	MetricAPIKeyRejected = internalmetrics.MetricAPIKeyRejected
	// MetricAPIKeyUpdated is an exported constant or variable used by the credential engine.
	MetricAPIKeyUpdated = internalmetrics.MetricAPIKeyUpdated
	// MetricAPIKeyDeleted is an exported constant or variable used by the credential engine.
	MetricAPIKeyDeleted = internalmetrics.MetricAPIKeyDeleted
	// MetricScopeDenied is an exported constant or variable used by the credential engine.
	MetricScopeDenied = internalmetrics.MetricScopeDenied
	// MetricRateLimitHit is an exported constant or variable used by the credential engine.
	MetricRateLimitHit = internalmetrics.MetricRateLimitHit
	// MetricCleanupRun is an exported constant or variable used by the credential engine.
	MetricCleanupRun = internalmetrics.MetricCleanupRun
	// MetricCleanupDeleted is an exported constant or variable used by the credential engine.
	MetricCleanupDeleted = internalmetrics.MetricCleanupDeleted
	// MetricValidateLatency is an exported constant or variable used by the credential engine.
	MetricValidateLatency = internalmetrics.MetricValidateLatency
)

// Metrics holds atomic counters and optional latency histograms.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time deep copy of all metrics.
type MetricsSnapshot = internalmetrics.Snapshot

// NewMetrics creates a new [Metrics] instance configured by the given
// [MetricsConfig]. When Enabled is false, all operations are no-ops.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return internalmetrics.New(internalmetrics.Config{
		Enabled:       cfg.Enabled,
		EnableLatency: cfg.EnableLatencyHistograms,
	})
}
