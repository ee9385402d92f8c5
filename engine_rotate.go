package vauth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/vizor-analytics/vauth/internal"
	"github.com/vizor-analytics/vauth/internal/flows"
	"github.com/vizor-analytics/vauth/internal/rate"
	"github.com/vizor-analytics/vauth/token"
)

// Rotate describes the rotate operation and its observable behavior.
//
// Rotate exchanges a live refresh token for a new pair within the same
// family. Presenting an already-consumed token, or losing the conditional
// consume to a concurrent rotation, revokes the whole family and returns
// [ErrRefreshReuse].
//
// Rotate may return an error when input validation, dependency calls, or security checks fail.
// Rotate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Rotate(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil || e.tokenStore == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}

	result := flows.RunRotate(ctx, refreshToken, e.rotateDeps())

	switch result.Failure {
	case flows.RotateFailureNone:
		e.metricInc(MetricRotateSuccess)
		e.emitAudit(ctx, auditEventRefreshSuccess, true, result.UserID, result.FamilyID, "", nil, nil)
		return &TokenPair{
			AccessToken:      result.AccessToken,
			AccessExpiresAt:  result.AccessExpiresAt,
			RefreshToken:     result.RefreshToken,
			RefreshExpiresAt: result.RefreshExpiresAt,
			FamilyID:         result.FamilyID,
		}, nil

	case flows.RotateFailureMalformed:
		e.metricInc(MetricRotateFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", "", ErrRefreshInvalid, func() map[string]string {
			return map[string]string{
				"reason": "malformed",
			}
		})
		return nil, ErrRefreshInvalid

	case flows.RotateFailureUnknownToken:
		e.metricInc(MetricRotateFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", "", ErrRefreshInvalid, func() map[string]string {
			return map[string]string{
				"reason": "unknown_token",
			}
		})
		return nil, ErrRefreshInvalid

	case flows.RotateFailureRateLimited:
		e.metricInc(MetricRotateRateLimited)
		e.emitAudit(ctx, auditEventRefreshRateLimited, false, result.UserID, result.FamilyID, "", ErrRefreshRateLimited, nil)
		e.emitRateLimit(ctx, "rotate", result.UserID, result.FamilyID, "")
		return nil, ErrRefreshRateLimited

	case flows.RotateFailureReuse, flows.RotateFailureRace:
		reason := "revoked_token_presented"
		if result.Failure == flows.RotateFailureRace {
			reason = "concurrent_rotation"
		}
		e.metricInc(MetricReuseDetected)
		e.metricAdd(MetricFamilyRevoked, uint64(result.RevokedCount))
		e.emitAudit(ctx, auditEventRefreshReuse, false, result.UserID, result.FamilyID, "", ErrRefreshReuse, func() map[string]string {
			return map[string]string{
				"reason": reason,
			}
		})
		e.emitAudit(ctx, auditEventFamilyRevoked, true, result.UserID, result.FamilyID, "", nil, func() map[string]string {
			return map[string]string{
				"revoked": formatInt64(result.RevokedCount),
			}
		})
		return nil, ErrRefreshReuse

	case flows.RotateFailureNextSecret, flows.RotateFailureIssueAccess:
		e.metricInc(MetricRotateFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, result.UserID, result.FamilyID, "", result.Err, func() map[string]string {
			return map[string]string{
				"reason": "internal",
			}
		})
		return nil, result.Err

	default:
		e.metricInc(MetricRotateFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, result.UserID, result.FamilyID, "", ErrStoreUnavailable, func() map[string]string {
			return map[string]string{
				"reason": "store_failed",
			}
		})
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, result.Err)
	}
}

func (e *Engine) rotateDeps() flows.RotateDeps {
	deps := flows.RotateDeps{
		TenantIDFromContext: tenantIDFromContext,
		CheckTokenShape:     internal.CheckRefreshTokenShape,
		HashToken:           internal.HashCredential,
		NewTokenSecret:      internal.NewRefreshToken,
		NewID:               uuid.NewString,
		Now:                 func() time.Time { return time.Now().UTC() },
		RefreshTTL:          e.config.Refresh.TTL,
		IssueAccessToken:    e.jwtManager.Sign,
		Store:               e.tokenStore,
		NotFound:            token.ErrNotFound,
		ConsumeRace:         token.ErrConsumeRace,
		RateLimited:         ErrRateLimited,
		Warn:                func(msg string, _ ...any) { log.Print(msg) },
	}
	if e.rateLimiter != nil && e.config.RateLimit.RotatePerMinute > 0 {
		limit := e.config.RateLimit.RotatePerMinute
		deps.CheckRotate = func(ctx context.Context, familyID string) error {
			err := e.rateLimiter.AllowKey(ctx, "rot:"+familyID, limit)
			switch {
			case err == nil:
				return nil
			case errors.Is(err, rate.ErrRateLimited):
				return ErrRateLimited
			case errors.Is(err, rate.ErrRedisUnavailable):
				// Counter backend outage degrades to unthrottled rotation.
				log.Print("vauth: rotation limiter unavailable, admitting request")
				return nil
			default:
				return err
			}
		}
	}
	return deps
}

// Logout describes the logout operation and its observable behavior.
//
// Logout revokes the presented refresh token. Revoking a token that is
// already gone is not an error; the operation is idempotent.
//
// Logout may return an error when input validation, dependency calls, or security checks fail.
// Logout does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if e == nil || e.tokenStore == nil {
		return ErrEngineNotReady
	}
	if err := internal.CheckRefreshTokenShape(refreshToken); err != nil {
		e.emitAudit(ctx, auditEventLogout, false, "", "", "", ErrRefreshInvalid, func() map[string]string {
			return map[string]string{
				"reason": "malformed",
			}
		})
		return ErrRefreshInvalid
	}

	revoked, err := e.tokenStore.RevokeByHash(ctx, internal.HashCredential(refreshToken))
	if err != nil {
		e.emitAudit(ctx, auditEventLogout, false, "", "", "", ErrStoreUnavailable, nil)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, "", "", "", nil, func() map[string]string {
		return map[string]string{
			"matched": fmt.Sprintf("%t", revoked),
		}
	})
	return nil
}

// LogoutAll describes the logoutall operation and its observable behavior.
//
// LogoutAll revokes every live refresh token of the user across all families
// and returns how many were revoked.
//
// LogoutAll may return an error when input validation, dependency calls, or security checks fail.
// LogoutAll does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) LogoutAll(ctx context.Context, userID string) (int64, error) {
	if e == nil || e.tokenStore == nil {
		return 0, ErrEngineNotReady
	}
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", ErrValidation)
	}

	revoked, err := e.tokenStore.RevokeAllForUser(ctx, userID)
	if err != nil {
		e.emitAudit(ctx, auditEventLogoutAll, false, userID, "", "", ErrStoreUnavailable, nil)
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, userID, "", "", nil, func() map[string]string {
		return map[string]string{
			"revoked": formatInt64(revoked),
		}
	})
	return revoked, nil
}
