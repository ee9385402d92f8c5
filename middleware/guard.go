package middleware

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	vauth "github.com/vizor-analytics/vauth"
)

type keyValidationContextKey struct{}

type accessIdentityContextKey struct{}

// KeyValidationFromContext returns the validated API key injected by
// [RequireAPIKey].
func KeyValidationFromContext(ctx context.Context) (*vauth.APIKeyValidation, bool) {
	v, ok := ctx.Value(keyValidationContextKey{}).(*vauth.APIKeyValidation)
	return v, ok
}

// AccessIdentityFromContext returns the verified token subject injected by
// [RequireAccessToken].
func AccessIdentityFromContext(ctx context.Context) (*vauth.AccessIdentity, bool) {
	id, ok := ctx.Value(accessIdentityContextKey{}).(*vauth.AccessIdentity)
	return id, ok
}

// RequireAPIKey returns middleware that authenticates the request's API key
// and, when scope is non-empty, authorizes it. A missing or invalid key is
// 401, a valid key without the scope is 403, an over-budget key is 429.
func RequireAPIKey(engine *vauth.Engine, scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			presented, fromQuery, ok := apiKeyFromRequest(r)
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if fromQuery {
				// Keys in query strings end up in access logs and proxies.
				log.Printf("vauth: api key presented via query parameter on %s", r.URL.Path)
			}

			validation, err := engine.AuthorizeAPIKey(r.Context(), presented, scope)
			if err != nil {
				writeGuardError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), keyValidationContextKey{}, validation)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAccessToken returns middleware that verifies the bearer access
// token and injects the [vauth.AccessIdentity] into the request context.
func RequireAccessToken(engine *vauth.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			identity, err := engine.VerifyAccess(r.Context(), token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), accessIdentityContextKey{}, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// apiKeyFromRequest extracts a presented API key, checking the X-API-Key
// header first, then a Bearer token carrying the key tag, then the api_key
// query parameter. The query parameter is a discouraged fallback; callers
// log its use.
func apiKeyFromRequest(r *http.Request) (key string, fromQuery, ok bool) {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key, false, true
	}
	if token, tok := bearerToken(r.Header.Get("Authorization")); tok && strings.HasPrefix(token, "vz_") {
		return token, false, true
	}
	if key := r.URL.Query().Get("api_key"); key != "" {
		return key, true, true
	}
	return "", false, false
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}

func writeGuardError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, vauth.ErrScopeDenied):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, vauth.ErrRateLimited):
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
	case errors.Is(err, vauth.ErrAPIKeyInvalid), errors.Is(err, vauth.ErrUnauthorized):
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
