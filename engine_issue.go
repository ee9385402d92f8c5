package vauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vizor-analytics/vauth/internal"
	"github.com/vizor-analytics/vauth/token"
)

// Issue describes the issue operation and its observable behavior.
//
// Issue mints a fresh token pair and starts a new rotation family for the
// user. The caller is responsible for having authenticated the user first;
// when an [IdentityProvider] is configured it is consulted to confirm the
// account may hold credentials.
//
// Issue may return an error when input validation, dependency calls, or security checks fail.
// Issue does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Issue(ctx context.Context, userID string) (*TokenPair, error) {
	if e == nil || e.tokenStore == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		e.metricInc(MetricIssueFailure)
		e.emitAudit(ctx, auditEventTokenIssueFailed, false, "", "", "", ErrValidation, func() map[string]string {
			return map[string]string{
				"reason": "empty_user_id",
			}
		})
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}

	if e.identity != nil {
		if err := e.identity.CheckUser(ctx, userID); err != nil {
			issueErr := err
			if !errors.Is(err, ErrUserNotFound) && !errors.Is(err, ErrUnauthorized) {
				issueErr = fmt.Errorf("%w: %v", ErrUnauthorized, err)
			}
			e.metricInc(MetricIssueFailure)
			e.emitAudit(ctx, auditEventTokenIssueFailed, false, userID, "", "", issueErr, func() map[string]string {
				return map[string]string{
					"reason": "identity_check",
				}
			})
			return nil, issueErr
		}
	}

	secret, err := internal.NewRefreshToken()
	if err != nil {
		e.metricInc(MetricIssueFailure)
		e.emitAudit(ctx, auditEventTokenIssueFailed, false, userID, "", "", err, nil)
		return nil, err
	}

	now := time.Now().UTC()
	familyID := uuid.NewString()
	refreshExpiresAt := now.Add(e.config.Refresh.TTL)
	row := &token.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: internal.HashCredential(secret),
		FamilyID:  familyID,
		ExpiresAt: refreshExpiresAt,
		CreatedAt: now,
	}
	if err := e.tokenStore.Save(ctx, row); err != nil {
		e.metricInc(MetricIssueFailure)
		e.emitAudit(ctx, auditEventTokenIssueFailed, false, userID, familyID, "", ErrStoreUnavailable, func() map[string]string {
			return map[string]string{
				"reason": "save_failed",
			}
		})
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	access, accessExpiresAt, err := e.jwtManager.Sign(userID, tenantIDFromContext(ctx), familyID)
	if err != nil {
		e.metricInc(MetricIssueFailure)
		e.emitAudit(ctx, auditEventTokenIssueFailed, false, userID, familyID, "", err, func() map[string]string {
			return map[string]string{
				"reason": "issue_access_failed",
			}
		})
		return nil, err
	}

	e.metricInc(MetricIssueSuccess)
	e.emitAudit(ctx, auditEventTokenIssued, true, userID, familyID, "", nil, nil)

	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExpiresAt,
		RefreshToken:     secret,
		RefreshExpiresAt: refreshExpiresAt,
		FamilyID:         familyID,
	}, nil
}

// VerifyAccess describes the verifyaccess operation and its observable behavior.
//
// VerifyAccess may return an error when input validation, dependency calls, or security checks fail.
// VerifyAccess does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) VerifyAccess(ctx context.Context, tokenStr string) (*AccessIdentity, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	if e.metrics != nil && e.metrics.LatencyEnabled() {
		start := time.Now()
		defer e.metrics.Observe(MetricValidateLatency, time.Since(start))
	}

	claims, err := e.jwtManager.Verify(tokenStr)
	if err != nil {
		return nil, ErrUnauthorized
	}

	return &AccessIdentity{
		UserID:   claims.UserID,
		TenantID: claims.TenantID,
		FamilyID: claims.FamilyID,
	}, nil
}
