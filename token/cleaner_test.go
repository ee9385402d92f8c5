package token

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCleanerSweepsOnStart(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, newRow("u1", -time.Hour)))
	require.NoError(t, store.Save(ctx, newRow("u1", time.Hour)))

	type sweep struct {
		deleted int64
		err     error
	}
	sweeps := make(chan sweep, 1)

	cleaner := NewCleaner(store, CleanerConfig{
		Interval: time.Hour,
		OnSweep: func(deleted int64, err error) {
			select {
			case sweeps <- sweep{deleted: deleted, err: err}:
			default:
			}
		},
	})
	cleaner.Start()
	defer cleaner.Close()

	select {
	case got := <-sweeps:
		require.NoError(t, got.err)
		require.EqualValues(t, 1, got.deleted)
	case <-time.After(5 * time.Second):
		t.Fatal("no sweep observed after start")
	}
}

func TestCleanerCloseIdempotent(t *testing.T) {
	store := newTestStore(t)

	cleaner := NewCleaner(store, CleanerConfig{Interval: time.Hour})
	cleaner.Start()
	cleaner.Close()
	cleaner.Close()
}
