package vauth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/vizor-analytics/vauth/apikey"
)

func TestGenerateAndValidateAPIKey(t *testing.T) {
	engine, sink, _ := newTestEngine(t, nil)
	ctx := context.Background()

	generated, err := engine.GenerateAPIKey(ctx, GenerateAPIKeyRequest{
		UserID: "u1",
		Name:   "prod ingest",
	})
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if !strings.HasPrefix(generated.Key, apikey.Tag) {
		t.Fatalf("key missing tag: %q", generated.Key)
	}
	if !strings.HasPrefix(generated.Key, generated.Summary.KeyPrefix) {
		t.Fatalf("prefix %q does not lead key %q", generated.Summary.KeyPrefix, generated.Key)
	}

	validation, err := engine.ValidateAPIKey(ctx, generated.Key)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if validation.KeyID != generated.Summary.ID {
		t.Fatalf("expected key %s, got %s", generated.Summary.ID, validation.KeyID)
	}
	if validation.UserID != "u1" {
		t.Fatalf("expected user u1, got %q", validation.UserID)
	}

	waitEvent(t, sink, "api_key_created")

	snapshot := engine.MetricsSnapshot()
	if snapshot.Counters[MetricAPIKeyValidated] != 1 {
		t.Fatalf("expected 1 validated key, got %d", snapshot.Counters[MetricAPIKeyValidated])
	}
}

func TestGenerateAPIKeyDefaults(t *testing.T) {
	engine, _, _ := newTestEngine(t, nil)

	generated, err := engine.GenerateAPIKey(context.Background(), GenerateAPIKeyRequest{
		UserID: "u1",
		Name:   "defaults",
	})
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	summary := generated.Summary
	if len(summary.Scopes) != 1 || summary.Scopes[0] != "metrics:write" {
		t.Fatalf("expected default scopes, got %v", summary.Scopes)
	}
	if summary.RateLimitPerMinute != 60 {
		t.Fatalf("expected default rate limit 60, got %d", summary.RateLimitPerMinute)
	}
	if summary.ExpiresAt != nil {
		t.Fatalf("expected no expiry by default, got %v", summary.ExpiresAt)
	}
	if !summary.IsActive {
		t.Fatal("expected new key to be active")
	}
}

func TestGenerateAPIKeyValidation(t *testing.T) {
	engine, _, _ := newTestEngine(t, nil)
	ctx := context.Background()

	if _, err := engine.GenerateAPIKey(ctx, GenerateAPIKeyRequest{Name: "x"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty user, got %v", err)
	}
	if _, err := engine.GenerateAPIKey(ctx, GenerateAPIKeyRequest{UserID: "u1"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty name, got %v", err)
	}

	long := strings.Repeat("n", 101)
	if _, err := engine.GenerateAPIKey(ctx, GenerateAPIKeyRequest{UserID: "u1", Name: long}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for long name, got %v", err)
	}

	past := time.Now().UTC().Add(-time.Hour)
	if _, err := engine.GenerateAPIKey(ctx, GenerateAPIKeyRequest{UserID: "u1", Name: "k", ExpiresAt: &past}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for past expiry, got %v", err)
	}
}

func TestGenerateAPIKeyNameConflict(t *testing.T) {
	engine, _, _ := newTestEngine(t, nil)
	ctx := context.Background()

	if _, err := engine.GenerateAPIKey(ctx, GenerateAPIKeyRequest{UserID: "u1", Name: "dup"}); err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	_, err := engine.GenerateAPIKey(ctx, GenerateAPIKeyRequest{UserID: "u1", Name: "dup"})
	if !errors.Is(err, ErrKeyNameExists) {
		t.Fatalf("expected ErrKeyNameExists, got %v", err)
	}

	// Same name under a different user is fine.
	if _, err := engine.GenerateAPIKey(ctx, GenerateAPIKeyRequest{UserID: "u2", Name: "dup"}); err != nil {
		t.Fatalf("generate for other user failed: %v", err)
	}
}

func TestGenerateAPIKeyPerUserLimit(t *testing.T) {
	engine, _, _ := newTestEngine(t, func(cfg *Config) {
		cfg.APIKey.MaxPerUser = 1
	})
	ctx := context.Background()

	if _, err := engine.GenerateAPIKey(ctx, GenerateAPIKeyRequest{UserID: "u1", Name: "first"}); err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	_, err := engine.GenerateAPIKey(ctx, GenerateAPIKeyRequest{UserID: "u1", Name: "second"})
	if !errors.Is(err, ErrKeyLimitExceeded) {
		t.Fatalf("expected ErrKeyLimitExceeded, got %v", err)
	}
}

func TestValidateAPIKeyUnknown(t *testing.T) {
	engine, _, _ := newTestEngine(t, nil)

	// Right shape, never issued.
	fake := apikey.Tag + strings.Repeat("ab", 24)
	_, err := engine.ValidateAPIKey(context.Background(), fake)
	if !errors.Is(err, ErrAPIKeyInvalid) {
		t.Fatalf("expected ErrAPIKeyInvalid, got %v", err)
	}

	if _, err := engine.ValidateAPIKey(context.Background(), "garbage"); !errors.Is(err, ErrAPIKeyInvalid) {
		t.Fatalf("expected ErrAPIKeyInvalid for malformed key, got %v", err)
	}
}

func TestAuthorizeAPIKeyScopes(t *testing.T) {
	engine, sink, _ := newTestEngine(t, nil)
	ctx := context.Background()

	generated, err := engine.GenerateAPIKey(ctx, GenerateAPIKeyRequest{
		UserID: "u1",
		Name:   "writer",
		Scopes: []string{"metrics:write"},
	})
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	if _, err := engine.AuthorizeAPIKey(ctx, generated.Key, "metrics:write"); err != nil {
		t.Fatalf("authorize with held scope failed: %v", err)
	}

	_, err = engine.AuthorizeAPIKey(ctx, generated.Key, "admin:keys")
	if !errors.Is(err, ErrScopeDenied) {
		t.Fatalf("expected ErrScopeDenied, got %v", err)
	}

	event := waitEvent(t, sink, "scope_denied")
	if event.KeyID != generated.Summary.ID {
		t.Fatalf("expected key %s in audit, got %s", generated.Summary.ID, event.KeyID)
	}
}

func TestValidateAPIKeyInactive(t *testing.T) {
	engine, _, _ := newTestEngine(t, nil)
	ctx := context.Background()

	generated, err := engine.GenerateAPIKey(ctx, GenerateAPIKeyRequest{UserID: "u1", Name: "paused"})
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	inactive := false
	if _, err := engine.UpdateAPIKey(ctx, "u1", generated.Summary.ID, UpdateAPIKeyRequest{IsActive: &inactive}); err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}

	if _, err := engine.ValidateAPIKey(ctx, generated.Key); !errors.Is(err, ErrAPIKeyInvalid) {
		t.Fatalf("expected ErrAPIKeyInvalid for inactive key, got %v", err)
	}

	active := true
	if _, err := engine.UpdateAPIKey(ctx, "u1", generated.Summary.ID, UpdateAPIKeyRequest{IsActive: &active}); err != nil {
		t.Fatalf("reactivate failed: %v", err)
	}
	if _, err := engine.ValidateAPIKey(ctx, generated.Key); err != nil {
		t.Fatalf("validate after reactivation failed: %v", err)
	}
}

func TestValidateAPIKeyExpired(t *testing.T) {
	engine, _, _ := newTestEngine(t, nil)
	ctx := context.Background()

	soon := time.Now().UTC().Add(150 * time.Millisecond)
	generated, err := engine.GenerateAPIKey(ctx, GenerateAPIKeyRequest{
		UserID:    "u1",
		Name:      "ephemeral",
		ExpiresAt: &soon,
	})
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	if _, err := engine.ValidateAPIKey(ctx, generated.Key); err != nil {
		t.Fatalf("validate before expiry failed: %v", err)
	}

	time.Sleep(250 * time.Millisecond)

	if _, err := engine.ValidateAPIKey(ctx, generated.Key); !errors.Is(err, ErrAPIKeyInvalid) {
		t.Fatalf("expected ErrAPIKeyInvalid for expired key, got %v", err)
	}
}

func TestValidateAPIKeyRateLimited(t *testing.T) {
	engine, _, mr := newTestEngine(t, nil)
	ctx := context.Background()

	generated, err := engine.GenerateAPIKey(ctx, GenerateAPIKeyRequest{
		UserID:             "u1",
		Name:               "throttled",
		RateLimitPerMinute: 2,
	})
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := engine.ValidateAPIKey(ctx, generated.Key); err != nil {
			t.Fatalf("validate %d failed: %v", i, err)
		}
	}

	_, err = engine.ValidateAPIKey(ctx, generated.Key)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	usage, err := engine.APIKeyUsage(ctx, generated.Summary.ID)
	if err != nil {
		t.Fatalf("usage failed: %v", err)
	}
	if usage != 3 {
		t.Fatalf("expected usage 3, got %d", usage)
	}

	mr.FastForward(2 * time.Minute)

	if _, err := engine.ValidateAPIKey(ctx, generated.Key); err != nil {
		t.Fatalf("validate after window reset failed: %v", err)
	}
}

func TestValidateAPIKeyFailsOpenWhenRedisDown(t *testing.T) {
	engine, _, mr := newTestEngine(t, nil)
	ctx := context.Background()

	generated, err := engine.GenerateAPIKey(ctx, GenerateAPIKeyRequest{
		UserID:             "u1",
		Name:               "ingest",
		RateLimitPerMinute: 1,
	})
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	mr.Close()

	// A counter outage must not block ingestion.
	for i := 0; i < 3; i++ {
		if _, err := engine.ValidateAPIKey(ctx, generated.Key); err != nil {
			t.Fatalf("validate %d should admit with redis down, got %v", i, err)
		}
	}
}

func TestUpdateAPIKey(t *testing.T) {
	engine, _, _ := newTestEngine(t, nil)
	ctx := context.Background()

	generated, err := engine.GenerateAPIKey(ctx, GenerateAPIKeyRequest{UserID: "u1", Name: "old"})
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	name := "renamed"
	limit := 120
	summary, err := engine.UpdateAPIKey(ctx, "u1", generated.Summary.ID, UpdateAPIKeyRequest{
		Name:               &name,
		Scopes:             []string{"metrics:write", "metrics:read"},
		RateLimitPerMinute: &limit,
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if summary.Name != "renamed" {
		t.Fatalf("expected renamed key, got %q", summary.Name)
	}
	if len(summary.Scopes) != 2 {
		t.Fatalf("expected 2 scopes, got %v", summary.Scopes)
	}
	if summary.RateLimitPerMinute != 120 {
		t.Fatalf("expected limit 120, got %d", summary.RateLimitPerMinute)
	}

	// New scope is honored immediately.
	if _, err := engine.AuthorizeAPIKey(ctx, generated.Key, "metrics:read"); err != nil {
		t.Fatalf("authorize with added scope failed: %v", err)
	}
}

func TestUpdateAPIKeyWrongUser(t *testing.T) {
	engine, _, _ := newTestEngine(t, nil)
	ctx := context.Background()

	generated, err := engine.GenerateAPIKey(ctx, GenerateAPIKeyRequest{UserID: "u1", Name: "mine"})
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	name := "stolen"
	_, err = engine.UpdateAPIKey(ctx, "u2", generated.Summary.ID, UpdateAPIKeyRequest{Name: &name})
	if !errors.Is(err, ErrAPIKeyNotFound) {
		t.Fatalf("expected ErrAPIKeyNotFound, got %v", err)
	}
}

func TestUpdateAPIKeyClearExpiry(t *testing.T) {
	engine, _, _ := newTestEngine(t, nil)
	ctx := context.Background()

	future := time.Now().UTC().Add(time.Hour)
	generated, err := engine.GenerateAPIKey(ctx, GenerateAPIKeyRequest{
		UserID:    "u1",
		Name:      "expiring",
		ExpiresAt: &future,
	})
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if generated.Summary.ExpiresAt == nil {
		t.Fatal("expected expiry to be set")
	}

	summary, err := engine.UpdateAPIKey(ctx, "u1", generated.Summary.ID, UpdateAPIKeyRequest{ClearExpiry: true})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if summary.ExpiresAt != nil {
		t.Fatalf("expected cleared expiry, got %v", summary.ExpiresAt)
	}
}

func TestDeleteAPIKey(t *testing.T) {
	engine, _, _ := newTestEngine(t, nil)
	ctx := context.Background()

	generated, err := engine.GenerateAPIKey(ctx, GenerateAPIKeyRequest{UserID: "u1", Name: "doomed"})
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	if err := engine.DeleteAPIKey(ctx, "u1", generated.Summary.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := engine.ValidateAPIKey(ctx, generated.Key); !errors.Is(err, ErrAPIKeyInvalid) {
		t.Fatalf("expected ErrAPIKeyInvalid after delete, got %v", err)
	}
	if err := engine.DeleteAPIKey(ctx, "u1", generated.Summary.ID); !errors.Is(err, ErrAPIKeyNotFound) {
		t.Fatalf("expected ErrAPIKeyNotFound for second delete, got %v", err)
	}
}

func TestListAPIKeys(t *testing.T) {
	engine, _, _ := newTestEngine(t, nil)
	ctx := context.Background()

	for _, name := range []string{"one", "two"} {
		if _, err := engine.GenerateAPIKey(ctx, GenerateAPIKeyRequest{UserID: "u1", Name: name}); err != nil {
			t.Fatalf("generate failed: %v", err)
		}
	}
	if _, err := engine.GenerateAPIKey(ctx, GenerateAPIKeyRequest{UserID: "u2", Name: "other"}); err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	keys, err := engine.ListAPIKeys(ctx, "u1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(keys))
	}
	for _, summary := range keys {
		if summary.UserID != "u1" {
			t.Fatalf("foreign key in listing: %+v", summary)
		}
	}
}
