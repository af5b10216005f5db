package badger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specto/internal/models"
)

func newTestItem(serverID, id, itemType string) *models.MediaItem {
	return &models.MediaItem{
		Key:      models.MediaKey(serverID, id),
		ID:       id,
		ServerID: serverID,
		Name:     "Item " + id,
		Type:     itemType,
	}
}

func TestMediaStorage_StoreItemsPreservesEmbeddingState(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewMediaStorage(db, arbor.NewLogger())
	ctx := context.Background()

	item := newTestItem("srv-1", "it-1", models.ItemTypeMovie)
	require.NoError(t, storage.StoreItems(ctx, []*models.MediaItem{item}))

	// Worker marks the item processed with a vector
	require.NoError(t, storage.MarkItemProcessed(ctx, item.Key, []float32{0.1, 0.2, 0.3}))

	// A later metadata sync re-stores the item with fresh fields
	refreshed := newTestItem("srv-1", "it-1", models.ItemTypeMovie)
	refreshed.Overview = "Updated overview"
	require.NoError(t, storage.StoreItems(ctx, []*models.MediaItem{refreshed}))

	got, err := storage.GetItem(ctx, item.Key)
	require.NoError(t, err)
	assert.Equal(t, "Updated overview", got.Overview)
	assert.True(t, got.Processed, "re-sync must not reset the processed flag")
	assert.Len(t, got.Embedding, 3, "re-sync must not drop the stored vector")
}

func TestMediaStorage_GetUnprocessedItems(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewMediaStorage(db, arbor.NewLogger())
	ctx := context.Background()

	items := []*models.MediaItem{
		newTestItem("srv-1", "b-movie", models.ItemTypeMovie),
		newTestItem("srv-1", "a-series", models.ItemTypeSeries),
		newTestItem("srv-1", "c-episode", models.ItemTypeEpisode),
		newTestItem("srv-1", "d-song", "Audio"), // not embedding eligible
		newTestItem("srv-2", "other-server", models.ItemTypeMovie),
	}
	require.NoError(t, storage.StoreItems(ctx, items))

	unprocessed, err := storage.GetUnprocessedItems(ctx, "srv-1", 0)
	require.NoError(t, err)
	require.Len(t, unprocessed, 3, "only eligible types on the requested server")

	// Stable key order so successive batches never overlap
	assert.Equal(t, models.MediaKey("srv-1", "a-series"), unprocessed[0].Key)
	assert.Equal(t, models.MediaKey("srv-1", "b-movie"), unprocessed[1].Key)
	assert.Equal(t, models.MediaKey("srv-1", "c-episode"), unprocessed[2].Key)

	limited, err := storage.GetUnprocessedItems(ctx, "srv-1", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	count, err := storage.CountUnprocessedItems(ctx, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestMediaStorage_MarkProcessedAndSkipped(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewMediaStorage(db, arbor.NewLogger())
	ctx := context.Background()

	withText := newTestItem("srv-1", "with-text", models.ItemTypeMovie)
	noText := newTestItem("srv-1", "no-text", models.ItemTypeMovie)
	require.NoError(t, storage.StoreItems(ctx, []*models.MediaItem{withText, noText}))

	require.NoError(t, storage.MarkItemProcessed(ctx, withText.Key, []float32{0.5}))
	require.NoError(t, storage.MarkItemSkipped(ctx, noText.Key))

	// Both leave the unprocessed pool
	count, err := storage.CountUnprocessedItems(ctx, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	got, err := storage.GetItem(ctx, noText.Key)
	require.NoError(t, err)
	assert.True(t, got.Processed)
	assert.Nil(t, got.Embedding)
}

func TestMediaStorage_ResetProcessedFlags(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewMediaStorage(db, arbor.NewLogger())
	ctx := context.Background()

	var items []*models.MediaItem
	for i := 0; i < 3; i++ {
		items = append(items, newTestItem("srv-1", fmt.Sprintf("it-%d", i), models.ItemTypeMovie))
	}
	items = append(items, newTestItem("srv-2", "keep", models.ItemTypeMovie))
	require.NoError(t, storage.StoreItems(ctx, items))

	for _, item := range items {
		require.NoError(t, storage.MarkItemProcessed(ctx, item.Key, []float32{1}))
	}

	count, err := storage.ResetProcessedFlags(ctx, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count, "reset is scoped to the requested server")

	unprocessed, err := storage.CountUnprocessedItems(ctx, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, 3, unprocessed)

	otherServer, err := storage.CountUnprocessedItems(ctx, "srv-2")
	require.NoError(t, err)
	assert.Equal(t, 0, otherServer)
}

func TestMediaStorage_UsersAndLibraries(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewMediaStorage(db, arbor.NewLogger())
	ctx := context.Background()

	users := []*models.MediaUser{
		{Key: models.MediaKey("srv-1", "u1"), ID: "u1", ServerID: "srv-1", Name: "alice", IsAdmin: true},
		{Key: models.MediaKey("srv-1", "u2"), ID: "u2", ServerID: "srv-1", Name: "bob"},
	}
	require.NoError(t, storage.StoreUsers(ctx, users))

	count, err := storage.CountUsersByServer(ctx, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	libs := []*models.MediaLibrary{
		{Key: models.MediaKey("srv-1", "lib1"), ID: "lib1", ServerID: "srv-1", Name: "Movies", CollectionType: "movies"},
	}
	require.NoError(t, storage.StoreLibraries(ctx, libs))

	gotLibs, err := storage.GetLibrariesByServer(ctx, "srv-1")
	require.NoError(t, err)
	require.Len(t, gotLibs, 1)
	assert.Equal(t, "Movies", gotLibs[0].Name)

	// Upsert keeps the original creation timestamp
	first, err := storage.GetUsersByServer(ctx, "srv-1")
	require.NoError(t, err)
	createdAt := first[0].CreatedAt

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, storage.StoreUsers(ctx, users))

	again, err := storage.GetUsersByServer(ctx, "srv-1")
	require.NoError(t, err)
	for _, u := range again {
		if u.ID == first[0].ID {
			assert.Equal(t, createdAt.Unix(), u.CreatedAt.Unix())
		}
	}

	require.NoError(t, storage.DeleteUsersByServer(ctx, "srv-1"))
	count, err = storage.CountUsersByServer(ctx, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestMediaStorage_ActivitiesAreAppendOnly(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewMediaStorage(db, arbor.NewLogger())
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	entries := []*models.ActivityEntry{
		{Key: models.MediaKey("srv-1", "act-1"), ID: "act-1", ServerID: "srv-1", Name: "playback started", Date: base},
		{Key: models.MediaKey("srv-1", "act-2"), ID: "act-2", ServerID: "srv-1", Name: "playback stopped", Date: base.Add(time.Hour)},
	}
	require.NoError(t, storage.StoreActivities(ctx, entries))

	// Replaying the same page must not duplicate or error
	require.NoError(t, storage.StoreActivities(ctx, entries))

	count, err := storage.CountActivitiesByServer(ctx, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	got, err := storage.GetActivitiesByServer(ctx, "srv-1", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "act-2", got[0].ID, "newest entry first")
}
