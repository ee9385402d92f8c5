// Package flows holds the credential lifecycle logic, wired through small
// deps structs so the root package stays free of storage details.
package flows

import (
	"context"
	"errors"
	"time"

	"github.com/vizor-analytics/vauth/token"
)

// RotateFailureKind classifies rotation flow failures for root-level mapping.
type RotateFailureKind int

const (
	RotateFailureNone RotateFailureKind = iota
	RotateFailureMalformed
	RotateFailureUnknownToken
	RotateFailureRateLimited
	RotateFailureReuse
	RotateFailureRace
	RotateFailureNextSecret
	RotateFailureStore
	RotateFailureIssueAccess
)

// RotateResult carries either the issued pair or failure metadata.
type RotateResult struct {
	Failure          RotateFailureKind
	Err              error
	UserID           string
	TenantID         string
	FamilyID         string
	TokenID          string
	RevokedCount     int64
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// RotateTokenStore is the slice of the token store the flow needs.
type RotateTokenStore interface {
	FindByHash(ctx context.Context, hash string) (*token.RefreshToken, error)
	Rotate(ctx context.Context, currentID string, successor *token.RefreshToken) error
	RevokeFamily(ctx context.Context, familyID string) (int64, error)
}

// RotateDeps captures rotation flow dependencies.
type RotateDeps struct {
	TenantIDFromContext func(context.Context) string
	CheckTokenShape     func(string) error
	HashToken           func(string) string
	NewTokenSecret      func() (string, error)
	NewID               func() string
	Now                 func() time.Time
	RefreshTTL          time.Duration
	IssueAccessToken    func(userID, tenantID, familyID string) (string, time.Time, error)
	CheckRotate         func(ctx context.Context, familyID string) error
	Store               RotateTokenStore
	NotFound            error
	ConsumeRace         error
	RateLimited         error
	Warn                func(string, ...any)
}

// RunRotate executes one refresh rotation. A revoked token presented again,
// or a lost conditional consume, both land in the compromise path: the whole
// family is revoked and the caller gets a reuse-class failure. There is no
// silent retry for the race loser.
func RunRotate(ctx context.Context, refreshToken string, deps RotateDeps) RotateResult {
	tenantID := deps.TenantIDFromContext(ctx)

	if err := deps.CheckTokenShape(refreshToken); err != nil {
		return RotateResult{
			Failure:  RotateFailureMalformed,
			Err:      err,
			TenantID: tenantID,
		}
	}

	current, err := deps.Store.FindByHash(ctx, deps.HashToken(refreshToken))
	if err != nil {
		if deps.NotFound != nil && errors.Is(err, deps.NotFound) {
			return RotateResult{
				Failure:  RotateFailureUnknownToken,
				Err:      err,
				TenantID: tenantID,
			}
		}
		return RotateResult{
			Failure:  RotateFailureStore,
			Err:      err,
			TenantID: tenantID,
		}
	}

	// Reuse detection runs before the throttle: a compromised family must be
	// revoked even when the presenter is over its rotation budget.
	if current.IsRevoked {
		return revokeCompromisedFamily(ctx, RotateFailureReuse, current, tenantID, deps)
	}

	if deps.CheckRotate != nil {
		if err := deps.CheckRotate(ctx, current.FamilyID); err != nil {
			failure := RotateFailureStore
			if deps.RateLimited != nil && errors.Is(err, deps.RateLimited) {
				failure = RotateFailureRateLimited
			}
			return RotateResult{
				Failure:  failure,
				Err:      err,
				UserID:   current.UserID,
				TenantID: tenantID,
				FamilyID: current.FamilyID,
				TokenID:  current.ID,
			}
		}
	}

	nextSecret, err := deps.NewTokenSecret()
	if err != nil {
		return RotateResult{
			Failure:  RotateFailureNextSecret,
			Err:      err,
			UserID:   current.UserID,
			TenantID: tenantID,
			FamilyID: current.FamilyID,
			TokenID:  current.ID,
		}
	}

	now := deps.Now()
	refreshExpiresAt := now.Add(deps.RefreshTTL)
	successor := &token.RefreshToken{
		ID:        deps.NewID(),
		UserID:    current.UserID,
		TokenHash: deps.HashToken(nextSecret),
		FamilyID:  current.FamilyID,
		ExpiresAt: refreshExpiresAt,
		CreatedAt: now,
	}

	if err := deps.Store.Rotate(ctx, current.ID, successor); err != nil {
		if deps.ConsumeRace != nil && errors.Is(err, deps.ConsumeRace) {
			return revokeCompromisedFamily(ctx, RotateFailureRace, current, tenantID, deps)
		}
		return RotateResult{
			Failure:  RotateFailureStore,
			Err:      err,
			UserID:   current.UserID,
			TenantID: tenantID,
			FamilyID: current.FamilyID,
			TokenID:  current.ID,
		}
	}

	access, accessExpiresAt, err := deps.IssueAccessToken(current.UserID, tenantID, current.FamilyID)
	if err != nil {
		return RotateResult{
			Failure:  RotateFailureIssueAccess,
			Err:      err,
			UserID:   current.UserID,
			TenantID: tenantID,
			FamilyID: current.FamilyID,
			TokenID:  successor.ID,
		}
	}

	return RotateResult{
		Failure:          RotateFailureNone,
		UserID:           current.UserID,
		TenantID:         tenantID,
		FamilyID:         current.FamilyID,
		TokenID:          successor.ID,
		AccessToken:      access,
		AccessExpiresAt:  accessExpiresAt,
		RefreshToken:     nextSecret,
		RefreshExpiresAt: refreshExpiresAt,
	}
}

func revokeCompromisedFamily(
	ctx context.Context,
	failure RotateFailureKind,
	current *token.RefreshToken,
	tenantID string,
	deps RotateDeps,
) RotateResult {
	revoked, err := deps.Store.RevokeFamily(ctx, current.FamilyID)
	if err != nil && deps.Warn != nil {
		deps.Warn("vauth: family revocation failed", "family_id", current.FamilyID)
	}
	return RotateResult{
		Failure:      failure,
		Err:          err,
		UserID:       current.UserID,
		TenantID:     tenantID,
		FamilyID:     current.FamilyID,
		TokenID:      current.ID,
		RevokedCount: revoked,
	}
}
