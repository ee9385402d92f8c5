package vauth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/vizor-analytics/vauth/apikey"
	"github.com/vizor-analytics/vauth/internal/flows"
	"github.com/vizor-analytics/vauth/internal/rate"
)

// GenerateAPIKey describes the generateapikey operation and its observable behavior.
//
// GenerateAPIKey mints a new API key for the user. The plaintext secret is
// returned exactly once in [GeneratedAPIKey.Key]; only its digest is stored.
// Zero-value request fields fall back to the configured API key defaults.
//
// GenerateAPIKey may return an error when input validation, dependency calls, or security checks fail.
// GenerateAPIKey does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) GenerateAPIKey(ctx context.Context, req GenerateAPIKeyRequest) (*GeneratedAPIKey, error) {
	if e == nil || e.keyStore == nil {
		return nil, ErrEngineNotReady
	}
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if req.Name == "" {
		return nil, fmt.Errorf("%w: key name is required", ErrValidation)
	}
	if len(req.Name) > e.config.APIKey.MaxNameLength {
		return nil, fmt.Errorf("%w: key name exceeds %d characters", ErrValidation, e.config.APIKey.MaxNameLength)
	}

	if max := e.config.APIKey.MaxPerUser; max > 0 {
		existing, err := e.keyStore.ListForUser(ctx, req.UserID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if len(existing) >= max {
			e.emitAudit(ctx, auditEventAPIKeyRejected, false, req.UserID, "", "", ErrKeyLimitExceeded, func() map[string]string {
				return map[string]string{
					"reason": "key_limit",
				}
			})
			return nil, fmt.Errorf("%w: at most %d keys per user", ErrKeyLimitExceeded, max)
		}
	}

	scopes := req.Scopes
	if len(scopes) == 0 {
		scopes = append([]string(nil), e.config.APIKey.DefaultScopes...)
	}
	limit := req.RateLimitPerMinute
	if limit <= 0 {
		limit = e.config.APIKey.DefaultRateLimitPerMinute
	}

	now := time.Now().UTC()
	expiresAt := req.ExpiresAt
	if expiresAt == nil && e.config.APIKey.DefaultTTL > 0 {
		exp := now.Add(e.config.APIKey.DefaultTTL)
		expiresAt = &exp
	}
	if expiresAt != nil && !expiresAt.After(now) {
		return nil, fmt.Errorf("%w: expiry must be in the future", ErrValidation)
	}

	plaintext, keyPrefix, digest, err := apikey.Generate()
	if err != nil {
		return nil, err
	}

	tenantID := req.TenantID
	if tenantID == "" {
		tenantID = tenantIDFromContext(ctx)
	}

	row := &apikey.Key{
		ID:                 uuid.NewString(),
		UserID:             req.UserID,
		TenantID:           tenantID,
		KeyName:            req.Name,
		KeyPrefix:          keyPrefix,
		KeyHash:            digest,
		IsActive:           true,
		ExpiresAt:          expiresAt,
		RateLimitPerMinute: limit,
		Scopes:             apikey.Scopes(scopes),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := e.keyStore.Create(ctx, row); err != nil {
		switch {
		case errors.Is(err, apikey.ErrNameExists):
			e.emitAudit(ctx, auditEventAPIKeyRejected, false, req.UserID, "", "", ErrKeyNameExists, func() map[string]string {
				return map[string]string{
					"reason": "name_conflict",
					"name":   req.Name,
				}
			})
			return nil, fmt.Errorf("%w: %q", ErrKeyNameExists, req.Name)
		case errors.Is(err, apikey.ErrHashExists):
			// A 192-bit random collision means the RNG is broken, not the
			// caller.
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		default:
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	e.metricInc(MetricAPIKeyCreated)
	e.emitAudit(ctx, auditEventAPIKeyCreated, true, req.UserID, "", row.ID, nil, func() map[string]string {
		return map[string]string{
			"name":   req.Name,
			"prefix": keyPrefix,
		}
	})

	return &GeneratedAPIKey{
		Key:     plaintext,
		Summary: summaryFromKey(row),
	}, nil
}

// ValidateAPIKey describes the validateapikey operation and its observable behavior.
//
// ValidateAPIKey authenticates a presented key and applies its per-minute
// rate limit without requiring any scope.
//
// ValidateAPIKey may return an error when input validation, dependency calls, or security checks fail.
// ValidateAPIKey does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ValidateAPIKey(ctx context.Context, presented string) (*APIKeyValidation, error) {
	return e.authorizeKey(ctx, presented, "")
}

// AuthorizeAPIKey describes the authorizeapikey operation and its observable behavior.
//
// AuthorizeAPIKey authenticates a presented key and additionally requires
// the given scope. A valid key without the scope yields [ErrScopeDenied],
// never [ErrAPIKeyInvalid].
//
// AuthorizeAPIKey may return an error when input validation, dependency calls, or security checks fail.
// AuthorizeAPIKey does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) AuthorizeAPIKey(ctx context.Context, presented, scope string) (*APIKeyValidation, error) {
	return e.authorizeKey(ctx, presented, scope)
}

func (e *Engine) authorizeKey(ctx context.Context, presented, scope string) (*APIKeyValidation, error) {
	if e == nil || e.keyStore == nil {
		return nil, ErrEngineNotReady
	}
	if e.metrics != nil && e.metrics.LatencyEnabled() {
		start := time.Now()
		defer e.metrics.Observe(MetricValidateLatency, time.Since(start))
	}

	result := flows.RunValidateKey(ctx, presented, scope, e.validateKeyDeps())

	keyID, userID := "", ""
	if result.Key != nil {
		keyID = result.Key.ID
		userID = result.Key.UserID
	}

	switch result.Failure {
	case flows.KeyValidateFailureNone:
		e.metricInc(MetricAPIKeyValidated)
		return &APIKeyValidation{
			KeyID:              result.Key.ID,
			UserID:             result.Key.UserID,
			TenantID:           result.Key.TenantID,
			Scopes:             append([]string(nil), result.Key.Scopes...),
			RateLimitPerMinute: result.Key.RateLimitPerMinute,
		}, nil

	case flows.KeyValidateFailureMalformed, flows.KeyValidateFailureUnknownKey,
		flows.KeyValidateFailureInactive, flows.KeyValidateFailureExpired:
		e.metricInc(MetricAPIKeyRejected)
		e.emitAudit(ctx, auditEventAPIKeyRejected, false, userID, "", keyID, ErrAPIKeyInvalid, func() map[string]string {
			return map[string]string{
				"reason": keyRejectReason(result.Failure),
			}
		})
		return nil, ErrAPIKeyInvalid

	case flows.KeyValidateFailureScope:
		e.metricInc(MetricScopeDenied)
		e.emitAudit(ctx, auditEventScopeDenied, false, userID, "", keyID, ErrScopeDenied, func() map[string]string {
			return map[string]string{
				"scope": scope,
			}
		})
		return nil, fmt.Errorf("%w: %s", ErrScopeDenied, scope)

	case flows.KeyValidateFailureRateLimited:
		e.emitRateLimit(ctx, "api_key", userID, "", keyID)
		return nil, ErrRateLimited

	default:
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, result.Err)
	}
}

func (e *Engine) validateKeyDeps() flows.ValidateKeyDeps {
	deps := flows.ValidateKeyDeps{
		SplitPrefix:      apikey.SplitPrefix,
		Digest:           apikey.Digest,
		DigestsEqual:     apikey.DigestsEqual,
		Now:              func() time.Time { return time.Now().UTC() },
		Store:            e.keyStore,
		RateLimited:      rate.ErrRateLimited,
		RedisUnavailable: rate.ErrRedisUnavailable,
		Warn:             func(msg string, _ ...any) { log.Print(msg) },
		TouchLastUsed: func(keyID string, at time.Time) {
			// Off the request path: a stale last_used_at is better than a
			// slower validation.
			go func() {
				touchCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := e.keyStore.TouchLastUsed(touchCtx, keyID, at); err != nil {
					log.Print("vauth: touch last_used_at failed")
				}
			}()
		},
	}
	if e.rateLimiter != nil {
		deps.RateLimiter = e.rateLimiter
	}
	return deps
}

func keyRejectReason(kind flows.KeyValidateFailureKind) string {
	switch kind {
	case flows.KeyValidateFailureMalformed:
		return "malformed"
	case flows.KeyValidateFailureUnknownKey:
		return "unknown_key"
	case flows.KeyValidateFailureInactive:
		return "inactive"
	case flows.KeyValidateFailureExpired:
		return "expired"
	default:
		return "internal"
	}
}

// ListAPIKeys describes the listapikeys operation and its observable behavior.
//
// ListAPIKeys returns summaries of every key the user owns, newest first.
// Secrets are not recoverable and never appear in the summaries.
//
// ListAPIKeys may return an error when input validation, dependency calls, or security checks fail.
// ListAPIKeys does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ListAPIKeys(ctx context.Context, userID string) ([]APIKeySummary, error) {
	if e == nil || e.keyStore == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}

	keys, err := e.keyStore.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	summaries := make([]APIKeySummary, len(keys))
	for i := range keys {
		summaries[i] = summaryFromKey(&keys[i])
	}
	return summaries, nil
}

// UpdateAPIKey describes the updateapikey operation and its observable behavior.
//
// UpdateAPIKey applies the non-nil fields of the request to a key the user
// owns. The secret, prefix, and ownership never change after creation.
//
// UpdateAPIKey may return an error when input validation, dependency calls, or security checks fail.
// UpdateAPIKey does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) UpdateAPIKey(ctx context.Context, userID, keyID string, req UpdateAPIKeyRequest) (*APIKeySummary, error) {
	if e == nil || e.keyStore == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" || keyID == "" {
		return nil, fmt.Errorf("%w: user id and key id are required", ErrValidation)
	}

	k, err := e.keyStore.FindForUser(ctx, keyID, userID)
	if err != nil {
		if errors.Is(err, apikey.ErrNotFound) {
			return nil, ErrAPIKeyNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if req.Name != nil {
		if *req.Name == "" {
			return nil, fmt.Errorf("%w: key name must not be empty", ErrValidation)
		}
		if len(*req.Name) > e.config.APIKey.MaxNameLength {
			return nil, fmt.Errorf("%w: key name exceeds %d characters", ErrValidation, e.config.APIKey.MaxNameLength)
		}
		k.KeyName = *req.Name
	}
	if req.Scopes != nil {
		k.Scopes = apikey.Scopes(append([]string(nil), req.Scopes...))
	}
	if req.IsActive != nil {
		k.IsActive = *req.IsActive
	}
	oldLimit := k.RateLimitPerMinute
	if req.RateLimitPerMinute != nil {
		if *req.RateLimitPerMinute < 0 {
			return nil, fmt.Errorf("%w: rate limit must be >= 0", ErrValidation)
		}
		k.RateLimitPerMinute = *req.RateLimitPerMinute
	}
	switch {
	case req.ClearExpiry:
		k.ExpiresAt = nil
	case req.ExpiresAt != nil:
		if !req.ExpiresAt.After(time.Now().UTC()) {
			return nil, fmt.Errorf("%w: expiry must be in the future", ErrValidation)
		}
		k.ExpiresAt = req.ExpiresAt
	}
	k.UpdatedAt = time.Now().UTC()

	if err := e.keyStore.Update(ctx, k); err != nil {
		switch {
		case errors.Is(err, apikey.ErrNotFound):
			return nil, ErrAPIKeyNotFound
		case errors.Is(err, apikey.ErrNameExists):
			return nil, fmt.Errorf("%w: %q", ErrKeyNameExists, k.KeyName)
		default:
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	if e.rateLimiter != nil && k.RateLimitPerMinute > oldLimit {
		// A raised limit takes effect immediately rather than at the next
		// window.
		if err := e.rateLimiter.Reset(ctx, k.ID); err != nil {
			log.Print("vauth: rate counter reset failed")
		}
	}

	e.metricInc(MetricAPIKeyUpdated)
	e.emitAudit(ctx, auditEventAPIKeyUpdated, true, userID, "", keyID, nil, nil)

	summary := summaryFromKey(k)
	return &summary, nil
}

// DeleteAPIKey describes the deleteapikey operation and its observable behavior.
//
// DeleteAPIKey may return an error when input validation, dependency calls, or security checks fail.
// DeleteAPIKey does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) DeleteAPIKey(ctx context.Context, userID, keyID string) error {
	if e == nil || e.keyStore == nil {
		return ErrEngineNotReady
	}
	if userID == "" || keyID == "" {
		return fmt.Errorf("%w: user id and key id are required", ErrValidation)
	}

	if err := e.keyStore.Delete(ctx, keyID, userID); err != nil {
		if errors.Is(err, apikey.ErrNotFound) {
			return ErrAPIKeyNotFound
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricAPIKeyDeleted)
	e.emitAudit(ctx, auditEventAPIKeyDeleted, true, userID, "", keyID, nil, nil)
	return nil
}

// APIKeyUsage describes the apikeyusage operation and its observable behavior.
//
// APIKeyUsage reports how many requests the key has made in the current
// rate-limit window. It returns 0 when rate limiting is disabled.
//
// APIKeyUsage may return an error when input validation, dependency calls, or security checks fail.
// APIKeyUsage does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) APIKeyUsage(ctx context.Context, keyID string) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	if e.rateLimiter == nil {
		return 0, nil
	}
	return e.rateLimiter.KeyUsage(ctx, keyID)
}

func summaryFromKey(k *apikey.Key) APIKeySummary {
	return APIKeySummary{
		ID:                 k.ID,
		UserID:             k.UserID,
		TenantID:           k.TenantID,
		Name:               k.KeyName,
		KeyPrefix:          k.KeyPrefix,
		IsActive:           k.IsActive,
		Scopes:             append([]string(nil), k.Scopes...),
		RateLimitPerMinute: k.RateLimitPerMinute,
		ExpiresAt:          k.ExpiresAt,
		LastUsedAt:         k.LastUsedAt,
		CreatedAt:          k.CreatedAt,
		UpdatedAt:          k.UpdatedAt,
	}
}
