package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/specto/internal/models"
)

// ServerStorage - interface for media server registration persistence
type ServerStorage interface {
	StoreServer(ctx context.Context, server *models.MediaServer) error
	GetServer(ctx context.Context, id string) (*models.MediaServer, error)
	GetAllServers(ctx context.Context) ([]*models.MediaServer, error)
	DeleteServer(ctx context.Context, id string) error
	CountServers(ctx context.Context) (int, error)

	// Sync lifecycle operations
	UpdateSyncStatus(ctx context.Context, id string, status models.SyncStatus, syncError string) error
	UpdateSyncProgress(ctx context.Context, id string, progress models.SyncProgress) error
	MarkSyncStarted(ctx context.Context, id string, at time.Time) error
	MarkSyncCompleted(ctx context.Context, id string, at time.Time) error
	GetServersBySyncStatus(ctx context.Context, status models.SyncStatus) ([]*models.MediaServer, error)
	ResetInterruptedSyncs(ctx context.Context) (int, error)

	// Embedding stop flag operations
	SetEmbeddingStopRequested(ctx context.Context, id string, requested bool) error
	ShouldStop(ctx context.Context, id string) (bool, error)
}

// StopChecker is the capability the embedding run polls between items to
// honor operator stop requests. Satisfied by ServerStorage.
type StopChecker interface {
	ShouldStop(ctx context.Context, serverID string) (bool, error)
}

// MediaStorage - interface for synced media data persistence
type MediaStorage interface {
	// User operations
	StoreUsers(ctx context.Context, users []*models.MediaUser) error
	GetUsersByServer(ctx context.Context, serverID string) ([]*models.MediaUser, error)
	CountUsersByServer(ctx context.Context, serverID string) (int, error)
	DeleteUsersByServer(ctx context.Context, serverID string) error

	// Library operations
	StoreLibraries(ctx context.Context, libraries []*models.MediaLibrary) error
	GetLibrariesByServer(ctx context.Context, serverID string) ([]*models.MediaLibrary, error)
	CountLibrariesByServer(ctx context.Context, serverID string) (int, error)
	DeleteLibrariesByServer(ctx context.Context, serverID string) error

	// Item operations. Upserts preserve embedding state on metadata refresh.
	StoreItems(ctx context.Context, items []*models.MediaItem) error
	GetItem(ctx context.Context, key string) (*models.MediaItem, error)
	GetItemsByServer(ctx context.Context, serverID string) ([]*models.MediaItem, error)
	CountItemsByServer(ctx context.Context, serverID string) (int, error)
	DeleteItemsByServer(ctx context.Context, serverID string) error

	// Embedding pipeline operations
	GetUnprocessedItems(ctx context.Context, serverID string, limit int) ([]*models.MediaItem, error)
	CountUnprocessedItems(ctx context.Context, serverID string) (int, error)
	MarkItemProcessed(ctx context.Context, key string, embedding []float32) error
	MarkItemSkipped(ctx context.Context, key string) error
	ResetProcessedFlags(ctx context.Context, serverID string) (int, error)

	// Activity operations
	StoreActivities(ctx context.Context, entries []*models.ActivityEntry) error
	GetActivitiesByServer(ctx context.Context, serverID string, limit int) ([]*models.ActivityEntry, error)
	CountActivitiesByServer(ctx context.Context, serverID string) (int, error)
	DeleteActivitiesByServer(ctx context.Context, serverID string) error
}

// SessionStorage - interface for play session persistence
type SessionStorage interface {
	StoreSession(ctx context.Context, session *models.PlaySession) error
	GetSession(ctx context.Context, id string) (*models.PlaySession, error)
	GetSessionsByServer(ctx context.Context, serverID string) ([]*models.PlaySession, error)
	CountSessionsByServer(ctx context.Context, serverID string) (int, error)
	DeleteSessionsByServer(ctx context.Context, serverID string) error

	// HasSessionNear reports whether any non-inferred session for the same
	// server/user/item exists within the window around the given time.
	HasSessionNear(ctx context.Context, serverID, userID, itemID string, around time.Time, window time.Duration) (bool, error)
}

// JobResultStorage - interface for the per-run job result log
type JobResultStorage interface {
	StoreResult(ctx context.Context, result *models.JobResult) error
	GetResult(ctx context.Context, jobID string) (*models.JobResult, error)
	GetResultsByName(ctx context.Context, jobName string, limit int) ([]*models.JobResult, error)
	ListResults(ctx context.Context, limit int) ([]*models.JobResult, error)
	CountResultsByStatus(ctx context.Context, status models.JobResultStatus) (int, error)

	// Heartbeat operations. Counters are merged into the result payload so
	// a stale row still shows how far the run got.
	UpdateHeartbeat(ctx context.Context, jobID string, at time.Time, counters map[string]interface{}) error

	// Reconciliation operations
	GetStaleProcessingResults(ctx context.Context, now time.Time, runThreshold, heartbeatThreshold time.Duration) ([]*models.JobResult, error)
	DeleteResultsOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// VectorIndexStorage - interface for provisioned vector index metadata
type VectorIndexStorage interface {
	StoreIndex(ctx context.Context, index *models.VectorIndex) error
	GetIndexByDimension(ctx context.Context, dimension int) (*models.VectorIndex, error)
	GetAllIndexes(ctx context.Context) ([]*models.VectorIndex, error)
}

// StorageManager - composite interface for all storage operations
type StorageManager interface {
	ServerStorage() ServerStorage
	MediaStorage() MediaStorage
	SessionStorage() SessionStorage
	JobResultStorage() JobResultStorage
	VectorIndexStorage() VectorIndexStorage
	DB() interface{}
	Close() error
}
