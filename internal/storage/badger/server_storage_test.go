package badger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specto/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// setupTestDB opens a throwaway badgerhold store and returns cleanup function
func setupTestDB(t *testing.T) (*BadgerDB, func()) {
	tmpDir := t.TempDir()

	options := badgerhold.DefaultOptions
	options.Dir = tmpDir
	options.ValueDir = tmpDir
	options.Logger = nil

	store, err := badgerhold.Open(options)
	require.NoError(t, err)

	db := &BadgerDB{store: store}
	cleanup := func() {
		store.Close()
	}
	return db, cleanup
}

func TestServerStorage_StoreAndGet(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	logger := arbor.NewLogger()
	storage := NewServerStorage(db, logger)
	ctx := context.Background()

	server := models.NewMediaServer("Living Room", "http://jellyfin.local:8096", "token-abc")
	err := storage.StoreServer(ctx, server)
	require.NoError(t, err)

	got, err := storage.GetServer(ctx, server.ID)
	require.NoError(t, err)
	assert.Equal(t, "Living Room", got.Name)
	assert.Equal(t, models.SyncStatusPending, got.SyncStatus)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestServerStorage_GetMissingServer(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewServerStorage(db, arbor.NewLogger())

	_, err := storage.GetServer(context.Background(), "no-such-server")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrServerNotFound))
}

func TestServerStorage_SyncLifecycle(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewServerStorage(db, arbor.NewLogger())
	ctx := context.Background()

	server := models.NewMediaServer("Den", "http://emby.local:8096", "token-den")
	require.NoError(t, storage.StoreServer(ctx, server))

	// 1. Mark started: status syncing at the first stage, error cleared
	started := time.Now().UTC()
	require.NoError(t, storage.MarkSyncStarted(ctx, server.ID, started))

	got, err := storage.GetServer(ctx, server.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSyncing, got.SyncStatus)
	assert.Equal(t, models.SyncProgressUsers, got.SyncProgress)
	require.NotNil(t, got.LastSyncStarted)
	assert.WithinDuration(t, started, *got.LastSyncStarted, time.Second)

	// 2. Progress advances through the stages
	require.NoError(t, storage.UpdateSyncProgress(ctx, server.ID, models.SyncProgressItems))
	got, err = storage.GetServer(ctx, server.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncProgressItems, got.SyncProgress)

	// 3. Mark completed: status completed, completion timestamp recorded
	completed := time.Now().UTC()
	require.NoError(t, storage.MarkSyncCompleted(ctx, server.ID, completed))
	got, err = storage.GetServer(ctx, server.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusCompleted, got.SyncStatus)
	require.NotNil(t, got.LastSyncCompleted)

	// 4. Failure path records the error message
	require.NoError(t, storage.UpdateSyncStatus(ctx, server.ID, models.SyncStatusFailed, "API error: 503 service unavailable"))
	got, err = storage.GetServer(ctx, server.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusFailed, got.SyncStatus)
	assert.Equal(t, "API error: 503 service unavailable", got.SyncError)
}

func TestServerStorage_GetServersBySyncStatus(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewServerStorage(db, arbor.NewLogger())
	ctx := context.Background()

	s1 := models.NewMediaServer("One", "http://one.local", "t1")
	s2 := models.NewMediaServer("Two", "http://two.local", "t2")
	s3 := models.NewMediaServer("Three", "http://three.local", "t3")
	for _, s := range []*models.MediaServer{s1, s2, s3} {
		require.NoError(t, storage.StoreServer(ctx, s))
	}
	require.NoError(t, storage.MarkSyncStarted(ctx, s2.ID, time.Now().UTC()))

	syncing, err := storage.GetServersBySyncStatus(ctx, models.SyncStatusSyncing)
	require.NoError(t, err)
	require.Len(t, syncing, 1)
	assert.Equal(t, s2.ID, syncing[0].ID)

	pending, err := storage.GetServersBySyncStatus(ctx, models.SyncStatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestServerStorage_ResetInterruptedSyncs(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewServerStorage(db, arbor.NewLogger())
	ctx := context.Background()

	interrupted := models.NewMediaServer("Crashed", "http://crashed.local", "tc")
	untouched := models.NewMediaServer("Idle", "http://idle.local", "ti")
	require.NoError(t, storage.StoreServer(ctx, interrupted))
	require.NoError(t, storage.StoreServer(ctx, untouched))
	require.NoError(t, storage.MarkSyncStarted(ctx, interrupted.ID, time.Now().UTC()))

	count, err := storage.ResetInterruptedSyncs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := storage.GetServer(ctx, interrupted.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusPending, got.SyncStatus)
	assert.Equal(t, models.SyncProgressNotStarted, got.SyncProgress)

	got, err = storage.GetServer(ctx, untouched.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusPending, got.SyncStatus)
}

func TestServerStorage_StopFlag(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewServerStorage(db, arbor.NewLogger())
	ctx := context.Background()

	server := models.NewMediaServer("Stoppable", "http://stop.local", "ts")
	require.NoError(t, storage.StoreServer(ctx, server))

	stop, err := storage.ShouldStop(ctx, server.ID)
	require.NoError(t, err)
	assert.False(t, stop)

	require.NoError(t, storage.SetEmbeddingStopRequested(ctx, server.ID, true))
	stop, err = storage.ShouldStop(ctx, server.ID)
	require.NoError(t, err)
	assert.True(t, stop)

	require.NoError(t, storage.SetEmbeddingStopRequested(ctx, server.ID, false))
	stop, err = storage.ShouldStop(ctx, server.ID)
	require.NoError(t, err)
	assert.False(t, stop)

	// Missing server surfaces the not-found sentinel
	_, err = storage.ShouldStop(ctx, "ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrServerNotFound))
}
