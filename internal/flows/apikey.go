package flows

import (
	"context"
	"errors"
	"time"

	"github.com/vizor-analytics/vauth/apikey"
)

// KeyValidateFailureKind classifies key validation failures for root-level
// mapping.
type KeyValidateFailureKind int

const (
	KeyValidateFailureNone KeyValidateFailureKind = iota
	KeyValidateFailureMalformed
	KeyValidateFailureUnknownKey
	KeyValidateFailureInactive
	KeyValidateFailureExpired
	KeyValidateFailureScope
	KeyValidateFailureRateLimited
	KeyValidateFailureStore
)

// KeyValidateResult carries the matched key or failure metadata.
type KeyValidateResult struct {
	Failure KeyValidateFailureKind
	Err     error
	Key     *apikey.Key
}

// KeyCandidateStore is the slice of the key store the flow needs.
type KeyCandidateStore interface {
	FindCandidatesByPrefix(ctx context.Context, keyPrefix string) ([]apikey.Key, error)
}

// KeyRateLimiter throttles validated keys by their configured per-minute
// limit.
type KeyRateLimiter interface {
	AllowKey(ctx context.Context, keyID string, limit int) error
}

// ValidateKeyDeps captures key validation flow dependencies.
type ValidateKeyDeps struct {
	SplitPrefix      func(string) (string, error)
	Digest           func(string) string
	DigestsEqual     func(a, b string) bool
	Now              func() time.Time
	Store            KeyCandidateStore
	RateLimiter      KeyRateLimiter
	RateLimited      error
	RedisUnavailable error
	TouchLastUsed    func(keyID string, at time.Time)
	Warn             func(string, ...any)
}

// RunValidateKey authenticates a presented key and, when requiredScope is
// non-empty, authorizes it. Checks run in a fixed order so the failure class
// is stable: identity, then key state, then scope, then rate limit.
func RunValidateKey(ctx context.Context, presented, requiredScope string, deps ValidateKeyDeps) KeyValidateResult {
	keyPrefix, err := deps.SplitPrefix(presented)
	if err != nil {
		return KeyValidateResult{Failure: KeyValidateFailureMalformed, Err: err}
	}

	candidates, err := deps.Store.FindCandidatesByPrefix(ctx, keyPrefix)
	if err != nil {
		return KeyValidateResult{Failure: KeyValidateFailureStore, Err: err}
	}

	// Compare against every candidate so timing does not reveal at which
	// position a prefix-colliding row matched.
	digest := deps.Digest(presented)
	var matched *apikey.Key
	for i := range candidates {
		if deps.DigestsEqual(digest, candidates[i].KeyHash) && matched == nil {
			matched = &candidates[i]
		}
	}
	if matched == nil {
		return KeyValidateResult{Failure: KeyValidateFailureUnknownKey}
	}

	now := deps.Now()
	if !matched.IsActive {
		return KeyValidateResult{Failure: KeyValidateFailureInactive, Key: matched}
	}
	if matched.Expired(now) {
		return KeyValidateResult{Failure: KeyValidateFailureExpired, Key: matched}
	}

	if requiredScope != "" && !matched.Scopes.Has(requiredScope) {
		return KeyValidateResult{Failure: KeyValidateFailureScope, Key: matched}
	}

	if deps.RateLimiter != nil && matched.RateLimitPerMinute > 0 {
		if err := deps.RateLimiter.AllowKey(ctx, matched.ID, matched.RateLimitPerMinute); err != nil {
			switch {
			case deps.RateLimited != nil && errors.Is(err, deps.RateLimited):
				return KeyValidateResult{Failure: KeyValidateFailureRateLimited, Err: err, Key: matched}
			case deps.RedisUnavailable != nil && errors.Is(err, deps.RedisUnavailable):
				// Counter backend outage degrades to unthrottled, not to
				// rejected ingestion.
				if deps.Warn != nil {
					deps.Warn("vauth: rate limiter unavailable, admitting request", "key_id", matched.ID)
				}
			default:
				return KeyValidateResult{Failure: KeyValidateFailureStore, Err: err, Key: matched}
			}
		}
	}

	if deps.TouchLastUsed != nil {
		deps.TouchLastUsed(matched.ID, now)
	}

	return KeyValidateResult{Failure: KeyValidateFailureNone, Key: matched}
}
