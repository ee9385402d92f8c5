package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	vauth "github.com/vizor-analytics/vauth"
	"github.com/vizor-analytics/vauth/middleware"
)

const maxJSONBodySize = 1 << 20

// Server exposes the credential lifecycle over HTTP.
type Server struct {
	engine       *vauth.Engine
	tenantHeader string
}

// Option configures a [Server].
type Option func(*Server)

// WithTenantHeader sets the header the server reads the tenant ID from.
func WithTenantHeader(header string) Option {
	return func(s *Server) {
		s.tenantHeader = header
	}
}

// NewServer creates an HTTP server facade over the engine.
func NewServer(engine *vauth.Engine, opts ...Option) *Server {
	s := &Server{
		engine:       engine,
		tenantHeader: "X-Tenant-ID",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the route tree. When ingest is non-nil it is mounted under
// /v1/ingest behind the API key guard requiring the metrics:write scope.
func (s *Server) Router(ingest http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestContext)

	r.Get("/healthz", s.healthz)

	r.Post("/v1/auth/refresh", s.refresh)
	r.Post("/v1/auth/logout", s.logout)

	r.Group(func(pr chi.Router) {
		pr.Use(middleware.RequireAccessToken(s.engine))
		pr.Post("/v1/auth/logout-all", s.logoutAll)

		pr.Post("/v1/keys", s.createKey)
		pr.Get("/v1/keys", s.listKeys)
		pr.Patch("/v1/keys/{id}", s.updateKey)
		pr.Delete("/v1/keys/{id}", s.deleteKey)
	})

	if ingest != nil {
		r.Group(func(pr chi.Router) {
			pr.Use(middleware.RequireAPIKey(s.engine, "metrics:write"))
			pr.Mount("/v1/ingest", ingest)
		})
	}

	return r
}

// requestContext stamps the client IP and tenant ID onto the request context
// so they reach the engine's audit trail.
func (s *Server) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := vauth.WithClientIP(r.Context(), clientIP(r))
		if tenant := r.Header.Get(s.tenantHeader); tenant != "" {
			ctx = vauth.WithTenantID(ctx, tenant)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenPairResponse struct {
	AccessToken      string `json:"access_token"`
	AccessExpiresAt  string `json:"access_expires_at"`
	RefreshToken     string `json:"refresh_token"`
	RefreshExpiresAt string `json:"refresh_expires_at"`
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	pair, err := s.engine.Rotate(r.Context(), req.RefreshToken)
	if err != nil {
		handleEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toPairResponse(pair))
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	if err := s.engine.Logout(r.Context(), req.RefreshToken); err != nil {
		handleEngineError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) logoutAll(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.AccessIdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	revoked, err := s.engine.LogoutAll(r.Context(), identity.UserID)
	if err != nil {
		handleEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"revoked": revoked})
}

type createKeyRequest struct {
	Name               string   `json:"name"`
	Scopes             []string `json:"scopes,omitempty"`
	RateLimitPerMinute int      `json:"rate_limit_per_minute,omitempty"`
	ExpiresAt          string   `json:"expires_at,omitempty"`
}

type keySummaryResponse struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	KeyPrefix          string   `json:"key_prefix"`
	IsActive           bool     `json:"is_active"`
	Scopes             []string `json:"scopes"`
	RateLimitPerMinute int      `json:"rate_limit_per_minute"`
	ExpiresAt          string   `json:"expires_at,omitempty"`
	LastUsedAt         string   `json:"last_used_at,omitempty"`
	CreatedAt          string   `json:"created_at"`
}

type createKeyResponse struct {
	Key     string             `json:"key"`
	Summary keySummaryResponse `json:"summary"`
}

func (s *Server) createKey(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.AccessIdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	raw, ok := readValidatedBody(w, r, createKeySchema)
	if !ok {
		return
	}
	var req createKeyRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	genReq := vauth.GenerateAPIKeyRequest{
		UserID:             identity.UserID,
		TenantID:           identity.TenantID,
		Name:               req.Name,
		Scopes:             req.Scopes,
		RateLimitPerMinute: req.RateLimitPerMinute,
	}
	if req.ExpiresAt != "" {
		expiresAt, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "expires_at must be RFC 3339")
			return
		}
		genReq.ExpiresAt = &expiresAt
	}

	generated, err := s.engine.GenerateAPIKey(r.Context(), genReq)
	if err != nil {
		handleEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createKeyResponse{
		Key:     generated.Key,
		Summary: toKeySummaryResponse(generated.Summary),
	})
}

func (s *Server) listKeys(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.AccessIdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	keys, err := s.engine.ListAPIKeys(r.Context(), identity.UserID)
	if err != nil {
		handleEngineError(w, err)
		return
	}

	out := make([]keySummaryResponse, len(keys))
	for i, summary := range keys {
		out[i] = toKeySummaryResponse(summary)
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": out})
}

type updateKeyRequest struct {
	Name               *string  `json:"name,omitempty"`
	Scopes             []string `json:"scopes,omitempty"`
	IsActive           *bool    `json:"is_active,omitempty"`
	RateLimitPerMinute *int     `json:"rate_limit_per_minute,omitempty"`
	ExpiresAt          *string  `json:"expires_at,omitempty"`
}

func (s *Server) updateKey(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.AccessIdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	keyID := chi.URLParam(r, "id")

	raw, ok := readValidatedBody(w, r, updateKeySchema)
	if !ok {
		return
	}
	var req updateKeyRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	updReq := vauth.UpdateAPIKeyRequest{
		Name:               req.Name,
		Scopes:             req.Scopes,
		IsActive:           req.IsActive,
		RateLimitPerMinute: req.RateLimitPerMinute,
	}
	if req.ExpiresAt != nil {
		if *req.ExpiresAt == "" {
			updReq.ClearExpiry = true
		} else {
			expiresAt, err := time.Parse(time.RFC3339, *req.ExpiresAt)
			if err != nil {
				writeError(w, http.StatusBadRequest, "expires_at must be RFC 3339 or empty")
				return
			}
			updReq.ExpiresAt = &expiresAt
		}
	}

	summary, err := s.engine.UpdateAPIKey(r.Context(), identity.UserID, keyID, updReq)
	if err != nil {
		handleEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toKeySummaryResponse(*summary))
}

func (s *Server) deleteKey(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.AccessIdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := s.engine.DeleteAPIKey(r.Context(), identity.UserID, chi.URLParam(r, "id")); err != nil {
		handleEngineError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func toPairResponse(pair *vauth.TokenPair) tokenPairResponse {
	return tokenPairResponse{
		AccessToken:      pair.AccessToken,
		AccessExpiresAt:  pair.AccessExpiresAt.UTC().Format(time.RFC3339),
		RefreshToken:     pair.RefreshToken,
		RefreshExpiresAt: pair.RefreshExpiresAt.UTC().Format(time.RFC3339),
	}
}

func toKeySummaryResponse(summary vauth.APIKeySummary) keySummaryResponse {
	out := keySummaryResponse{
		ID:                 summary.ID,
		Name:               summary.Name,
		KeyPrefix:          summary.KeyPrefix,
		IsActive:           summary.IsActive,
		Scopes:             summary.Scopes,
		RateLimitPerMinute: summary.RateLimitPerMinute,
		CreatedAt:          summary.CreatedAt.UTC().Format(time.RFC3339),
	}
	if summary.ExpiresAt != nil {
		out.ExpiresAt = summary.ExpiresAt.UTC().Format(time.RFC3339)
	}
	if summary.LastUsedAt != nil {
		out.LastUsedAt = summary.LastUsedAt.UTC().Format(time.RFC3339)
	}
	return out
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	if err := ensureEOF(decoder); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func handleEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, vauth.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, vauth.ErrRefreshInvalid),
		errors.Is(err, vauth.ErrRefreshReuse),
		errors.Is(err, vauth.ErrAPIKeyInvalid),
		errors.Is(err, vauth.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, vauth.ErrScopeDenied):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, vauth.ErrRateLimited),
		errors.Is(err, vauth.ErrRefreshRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	case errors.Is(err, vauth.ErrKeyNameExists),
		errors.Is(err, vauth.ErrKeyLimitExceeded):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, vauth.ErrAPIKeyNotFound):
		writeError(w, http.StatusNotFound, "key not found")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		log.Printf("encode json response: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(data, '\n')); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

func ensureEOF(decoder *json.Decoder) error {
	var extra json.RawMessage
	if err := decoder.Decode(&extra); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	return errors.New("extra json tokens")
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if idx := strings.IndexByte(forwarded, ','); idx >= 0 {
			return strings.TrimSpace(forwarded[:idx])
		}
		return strings.TrimSpace(forwarded)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
