package entitlement

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_GetAbsent(t *testing.T) {
	store := newTestStore(t)

	_, ok, err := store.Get(context.Background(), "nobody")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStore_UpdateCreatesDefault(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec, err := store.Update(ctx, "u1", func(rec *UserRecord) {
		rec.FreeUsed = 2
	})
	require.NoError(t, err)
	assert.Equal(t, "u1", rec.UserID)
	assert.Equal(t, 2, rec.FreeUsed)

	got, ok, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec, got)
}

func TestFileStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.jsonl")
	ctx := context.Background()

	store, err := NewFileStore(path)
	require.NoError(t, err)

	started := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	_, err = store.Update(ctx, "u1", func(rec *UserRecord) {
		rec.FreeUsed = 4
		rec.Subscription = &Subscription{StartedAt: started, DurationDays: 30}
	})
	require.NoError(t, err)

	reopened, err := NewFileStore(path)
	require.NoError(t, err)

	rec, ok, err := reopened.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 4, rec.FreeUsed)
	require.NotNil(t, rec.Subscription)
	assert.True(t, started.Equal(rec.Subscription.StartedAt))
	assert.Equal(t, 30, rec.Subscription.DurationDays)
}

func TestFileStore_ConcurrentUpdatesAreSerialized(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const workers = 50

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := store.Update(ctx, "u1", func(rec *UserRecord) {
				rec.FreeUsed++
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, _, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, workers, rec.FreeUsed)
}

func TestFileStore_IndependentUsers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Update(ctx, "u1", func(rec *UserRecord) { rec.FreeUsed = 1 })
	require.NoError(t, err)
	_, err = store.Update(ctx, "u2", func(rec *UserRecord) { rec.FreeUsed = 2 })
	require.NoError(t, err)

	rec1, _, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	rec2, _, err := store.Get(ctx, "u2")
	require.NoError(t, err)

	assert.Equal(t, 1, rec1.FreeUsed)
	assert.Equal(t, 2, rec2.FreeUsed)
}
