package token

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/vizor-analytics/vauth/internal/sqlitedb"
	"github.com/vizor-analytics/vauth/migrations"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := sqlitedb.Open(filepath.Join(t.TempDir(), "vauth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlitedb.Close(db) })

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, migrations.Up(context.Background(), sqlDB))

	return NewStore(db)
}

func newRow(userID string, ttl time.Duration) *RefreshToken {
	now := time.Now().UTC()
	return &RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: uuid.NewString(), // only uniqueness matters in these tests
		FamilyID:  uuid.NewString(),
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
}

func TestSaveAndFindByHash(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	row := newRow("u1", time.Hour)
	require.NoError(t, store.Save(ctx, row))

	got, err := store.FindByHash(ctx, row.TokenHash)
	require.NoError(t, err)
	require.Equal(t, row.ID, got.ID)
	require.Equal(t, row.FamilyID, got.FamilyID)
	require.False(t, got.IsRevoked)
}

func TestSaveDuplicateHash(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	row := newRow("u1", time.Hour)
	require.NoError(t, store.Save(ctx, row))

	dup := newRow("u1", time.Hour)
	dup.TokenHash = row.TokenHash
	require.ErrorIs(t, store.Save(ctx, dup), ErrHashExists)
}

func TestFindByHashExpired(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	row := newRow("u1", -time.Minute)
	require.NoError(t, store.Save(ctx, row))

	_, err := store.FindByHash(ctx, row.TokenHash)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFindByHashRevokedStillVisible(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	row := newRow("u1", time.Hour)
	require.NoError(t, store.Save(ctx, row))

	revoked, err := store.RevokeByHash(ctx, row.TokenHash)
	require.NoError(t, err)
	require.True(t, revoked)

	got, err := store.FindByHash(ctx, row.TokenHash)
	require.NoError(t, err)
	require.True(t, got.IsRevoked)
}

func TestRotate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	current := newRow("u1", time.Hour)
	require.NoError(t, store.Save(ctx, current))

	successor := newRow("u1", time.Hour)
	successor.FamilyID = current.FamilyID
	require.NoError(t, store.Rotate(ctx, current.ID, successor))

	old, err := store.FindByHash(ctx, current.TokenHash)
	require.NoError(t, err)
	require.True(t, old.IsRevoked)

	next, err := store.FindByHash(ctx, successor.TokenHash)
	require.NoError(t, err)
	require.False(t, next.IsRevoked)
	require.Equal(t, current.FamilyID, next.FamilyID)
}

func TestRotateAlreadyConsumed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	current := newRow("u1", time.Hour)
	require.NoError(t, store.Save(ctx, current))

	first := newRow("u1", time.Hour)
	first.FamilyID = current.FamilyID
	require.NoError(t, store.Rotate(ctx, current.ID, first))

	second := newRow("u1", time.Hour)
	second.FamilyID = current.FamilyID
	require.ErrorIs(t, store.Rotate(ctx, current.ID, second), ErrConsumeRace)

	// The losing rotation must not have written its successor.
	_, err := store.FindByHash(ctx, second.TokenHash)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRotateConcurrentSingleWinner(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	current := newRow("u1", time.Hour)
	require.NoError(t, store.Save(ctx, current))

	const workers = 16
	results := make([]error, workers)
	successors := make([]*RefreshToken, workers)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			successor := newRow("u1", time.Hour)
			successor.FamilyID = current.FamilyID
			successors[i] = successor
			<-start
			results[i] = store.Rotate(ctx, current.ID, successor)
		}(i)
	}
	close(start)
	wg.Wait()

	winners := 0
	for i, err := range results {
		switch {
		case err == nil:
			winners++
			got, ferr := store.FindByHash(ctx, successors[i].TokenHash)
			require.NoError(t, ferr)
			require.False(t, got.IsRevoked)
		case errors.Is(err, ErrConsumeRace):
			_, ferr := store.FindByHash(ctx, successors[i].TokenHash)
			require.ErrorIs(t, ferr, ErrNotFound)
		default:
			t.Fatalf("unexpected rotate error: %v", err)
		}
	}
	require.Equal(t, 1, winners)
}

func TestRevokeFamily(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	family := uuid.NewString()
	var rows []*RefreshToken
	for i := 0; i < 3; i++ {
		row := newRow("u1", time.Hour)
		row.FamilyID = family
		require.NoError(t, store.Save(ctx, row))
		rows = append(rows, row)
	}

	revoked, err := store.RevokeByHash(ctx, rows[0].TokenHash)
	require.NoError(t, err)
	require.True(t, revoked)

	n, err := store.RevokeFamily(ctx, family)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	for _, row := range rows {
		got, err := store.FindByHash(ctx, row.TokenHash)
		require.NoError(t, err)
		require.True(t, got.IsRevoked)
	}

	live, err := store.CountLiveForFamily(ctx, family)
	require.NoError(t, err)
	require.Zero(t, live)
}

func TestRevokeAllForUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Save(ctx, newRow("u1", time.Hour)))
	}
	other := newRow("u2", time.Hour)
	require.NoError(t, store.Save(ctx, other))

	n, err := store.RevokeAllForUser(ctx, "u1")
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	got, err := store.FindByHash(ctx, other.TokenHash)
	require.NoError(t, err)
	require.False(t, got.IsRevoked)
}

func TestDeleteExpired(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, newRow("u1", -time.Hour)))
	require.NoError(t, store.Save(ctx, newRow("u1", -time.Minute)))
	live := newRow("u1", time.Hour)
	require.NoError(t, store.Save(ctx, live))

	deleted, err := store.DeleteExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, deleted)

	_, err = store.FindByHash(ctx, live.TokenHash)
	require.NoError(t, err)
}
