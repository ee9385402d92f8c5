package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	vauth "github.com/vizor-analytics/vauth"
	"github.com/vizor-analytics/vauth/internal/sqlitedb"
	"github.com/vizor-analytics/vauth/migrations"
)

func newGuardEngine(t *testing.T) *vauth.Engine {
	t.Helper()

	db, err := sqlitedb.Open(filepath.Join(t.TempDir(), "vauth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlitedb.Close(db) })

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, migrations.Up(context.Background(), sqlDB))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := vauth.DefaultConfig()
	cfg.JWT.Secret = []byte("0123456789abcdef0123456789abcdef")
	cfg.Cleanup.Enabled = false

	engine, err := vauth.New().
		WithConfig(cfg).
		WithDB(db).
		WithRedis(client).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	return engine
}

func okHandler(hit *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*hit = true
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestRequireAPIKeyHeaderSources(t *testing.T) {
	engine := newGuardEngine(t)

	generated, err := engine.GenerateAPIKey(context.Background(), vauth.GenerateAPIKeyRequest{
		UserID: "u1",
		Name:   "ingest",
	})
	require.NoError(t, err)

	guard := RequireAPIKey(engine, "metrics:write")

	cases := []struct {
		name    string
		prepare func(*http.Request)
	}{
		{"x-api-key header", func(r *http.Request) {
			r.Header.Set("X-API-Key", generated.Key)
		}},
		{"bearer token", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+generated.Key)
		}},
		{"query parameter", func(r *http.Request) {
			q := r.URL.Query()
			q.Set("api_key", generated.Key)
			r.URL.RawQuery = q.Encode()
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var hit bool
			req := httptest.NewRequest(http.MethodPost, "/v1/metrics", nil)
			tc.prepare(req)

			rec := httptest.NewRecorder()
			guard(okHandler(&hit)).ServeHTTP(rec, req)

			require.Equal(t, http.StatusNoContent, rec.Code)
			require.True(t, hit)
		})
	}
}

func TestRequireAPIKeyInjectsValidation(t *testing.T) {
	engine := newGuardEngine(t)

	generated, err := engine.GenerateAPIKey(context.Background(), vauth.GenerateAPIKeyRequest{
		UserID: "u1",
		Name:   "ingest",
	})
	require.NoError(t, err)

	var fromCtx *vauth.APIKeyValidation
	handler := RequireAPIKey(engine, "metrics:write")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v, ok := KeyValidationFromContext(r.Context())
		require.True(t, ok)
		fromCtx = v
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/metrics", nil)
	req.Header.Set("X-API-Key", generated.Key)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, fromCtx)
	require.Equal(t, generated.Summary.ID, fromCtx.KeyID)
	require.Equal(t, "u1", fromCtx.UserID)
}

func TestRequireAPIKeyRejections(t *testing.T) {
	engine := newGuardEngine(t)
	ctx := context.Background()

	generated, err := engine.GenerateAPIKey(ctx, vauth.GenerateAPIKeyRequest{
		UserID:             "u1",
		Name:               "narrow",
		Scopes:             []string{"metrics:write"},
		RateLimitPerMinute: 1,
	})
	require.NoError(t, err)

	t.Run("missing key", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/metrics", nil)
		var hit bool
		RequireAPIKey(engine, "metrics:write")(okHandler(&hit)).ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.False(t, hit)
	})

	t.Run("unknown key", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/metrics", nil)
		req.Header.Set("X-API-Key", "vz_000000000000000000000000000000000000000000000000")
		var hit bool
		RequireAPIKey(engine, "metrics:write")(okHandler(&hit)).ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.False(t, hit)
	})

	t.Run("scope denied", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/admin", nil)
		req.Header.Set("X-API-Key", generated.Key)
		var hit bool
		RequireAPIKey(engine, "admin:keys")(okHandler(&hit)).ServeHTTP(rec, req)
		require.Equal(t, http.StatusForbidden, rec.Code)
		require.False(t, hit)
	})

	t.Run("rate limited", func(t *testing.T) {
		guard := RequireAPIKey(engine, "metrics:write")

		first := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/metrics", nil)
		req.Header.Set("X-API-Key", generated.Key)
		var hit bool
		guard(okHandler(&hit)).ServeHTTP(first, req)
		require.Equal(t, http.StatusNoContent, first.Code)

		second := httptest.NewRecorder()
		guard(okHandler(&hit)).ServeHTTP(second, req)
		require.Equal(t, http.StatusTooManyRequests, second.Code)
	})
}

func TestRequireAccessToken(t *testing.T) {
	engine := newGuardEngine(t)

	pair, err := engine.Issue(context.Background(), "u1")
	require.NoError(t, err)

	var fromCtx *vauth.AccessIdentity
	handler := RequireAccessToken(engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := AccessIdentityFromContext(r.Context())
		require.True(t, ok)
		fromCtx = id
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/keys", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, fromCtx)
	require.Equal(t, "u1", fromCtx.UserID)
}

func TestRequireAccessTokenRejections(t *testing.T) {
	engine := newGuardEngine(t)
	handler := RequireAccessToken(engine)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run")
	}))

	t.Run("missing header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/keys", nil))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/keys", nil)
		req.Header.Set("Authorization", "Bearer not-a-jwt")
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
