package vauth

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventTokenIssued        = "token_issued"
	auditEventTokenIssueFailed   = "token_issue_failed"
	auditEventRefreshSuccess     = "refresh_success"
	auditEventRefreshInvalid     = "refresh_invalid"
	auditEventRefreshRateLimited = "refresh_rate_limited"
	auditEventRefreshReuse       = "refresh_reuse_detected"
	auditEventFamilyRevoked      = "family_revoked"
	auditEventLogout             = "logout"
	auditEventLogoutAll          = "logout_all"
	auditEventAPIKeyCreated      = "api_key_created"
	auditEventAPIKeyRejected     = "api_key_rejected"
	auditEventAPIKeyUpdated      = "api_key_updated"
	auditEventAPIKeyDeleted      = "api_key_deleted"
	auditEventScopeDenied        = "scope_denied"
	auditEventRateLimitTriggered = "rate_limit_triggered"
	auditEventCleanupRun         = "cleanup_run"
)

// AuditErrorCode defines a public type used by vauth APIs.
//
// AuditErrorCode instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditErrorCode string

const (
	auditErrUnauthorized   AuditErrorCode = "unauthorized"
	auditErrValidation     AuditErrorCode = "validation"
	auditErrRefreshInvalid AuditErrorCode = "invalid_refresh"
	auditErrRefreshReuse   AuditErrorCode = "refresh_reuse"
	auditErrRateLimited    AuditErrorCode = "rate_limited"
	auditErrAPIKeyInvalid  AuditErrorCode = "invalid_api_key"
	auditErrScopeDenied    AuditErrorCode = "scope_denied"
	auditErrDuplicate      AuditErrorCode = "duplicate"
	auditErrUserNotFound   AuditErrorCode = "user_not_found"
	auditErrUnavailable    AuditErrorCode = "backend_unavailable"
	auditErrInternal       AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	familyID string,
	keyID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		TenantID:  tenantIDFromContext(ctx),
		FamilyID:  familyID,
		KeyID:     keyID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, scope, userID, familyID, keyID string) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, userID, familyID, keyID, ErrRateLimited, func() map[string]string {
		return map[string]string{
			"scope": scope,
		}
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrTokenInvalid):
		return auditErrUnauthorized
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrKeyLimitExceeded):
		return auditErrValidation
	case errors.Is(err, ErrRefreshInvalid):
		return auditErrRefreshInvalid
	case errors.Is(err, ErrRefreshReuse):
		return auditErrRefreshReuse
	case errors.Is(err, ErrRateLimited),
		errors.Is(err, ErrRefreshRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrAPIKeyInvalid),
		errors.Is(err, ErrAPIKeyNotFound):
		return auditErrAPIKeyInvalid
	case errors.Is(err, ErrScopeDenied):
		return auditErrScopeDenied
	case errors.Is(err, ErrKeyNameExists):
		return auditErrDuplicate
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
