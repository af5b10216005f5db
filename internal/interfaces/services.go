package interfaces

import (
	"context"

	"github.com/ternarybob/specto/internal/models"
)

// SyncSummary reports what a sync run touched.
type SyncSummary struct {
	ServerID   string `json:"server_id"`
	Users      int    `json:"users"`
	Libraries  int    `json:"libraries"`
	Items      int    `json:"items"`
	Activities int    `json:"activities"`
	Sessions   int    `json:"sessions"`
	// Skipped is set when the server registration disappeared before the
	// run started. A deleted server is not an error.
	Skipped bool `json:"skipped,omitempty"`
}

// SyncService runs sync pipelines against registered media servers
type SyncService interface {
	// SyncServer runs the full pipeline: users, libraries, items per
	// library, activities. Fails fast on the first error.
	SyncServer(ctx context.Context, serverID string) (*SyncSummary, error)

	// SyncUsers refreshes users and inferred play sessions only, without
	// touching the server's sync status.
	SyncUsers(ctx context.Context, serverID string) (*SyncSummary, error)

	// SyncActivities refreshes the activity log only, without touching the
	// server's sync status.
	SyncActivities(ctx context.Context, serverID string) (*SyncSummary, error)
}

// EmbeddingSummary reports what an embedding run did.
type EmbeddingSummary struct {
	ServerID  string `json:"server_id"`
	Processed int    `json:"processed"`
	Skipped   int    `json:"skipped"`
	Errors    int    `json:"errors"`
	Remaining int    `json:"remaining"`
	Stopped   bool   `json:"stopped,omitempty"`
	Model     string `json:"model,omitempty"`
	Dimension int    `json:"dimension,omitempty"`
}

// EmbeddingService generates embeddings for synced media items
type EmbeddingService interface {
	// Generate embeds the server's unprocessed items batch by batch until
	// none remain or a stop is requested. jobID identifies the run's result
	// row for heartbeats. manualStart runs ignore the server's automatic
	// generation flag. The stop flag is always cleared before returning.
	Generate(ctx context.Context, jobID, serverID string, manualStart bool) (*EmbeddingSummary, error)
}

// ReconcileSummary reports what a reconciliation pass cleaned up.
type ReconcileSummary struct {
	StuckSyncs     int `json:"stuck_syncs"`
	StaleResults   int `json:"stale_results"`
	DeletedResults int `json:"deleted_results"`
	ExpiredJobs    int `json:"expired_jobs"`
}

// ReconcilerService detects and repairs stuck state left by dead processes
type ReconcilerService interface {
	// ReconcileStuckSyncs fails servers stuck in syncing past the threshold
	ReconcileStuckSyncs(ctx context.Context) (int, error)

	// ReconcileStaleResults fails processing results with dead heartbeats
	ReconcileStaleResults(ctx context.Context) (int, error)

	// EnforceRetention deletes result rows past the retention window
	EnforceRetention(ctx context.Context) (int, error)

	// RunAll runs every reconciliation step including retention. The manual
	// trigger endpoint uses this path.
	RunAll(ctx context.Context) (*ReconcileSummary, error)
}

// EventBroadcaster pushes job lifecycle events to connected clients.
// Broadcasts are best-effort; a slow or absent client never blocks a job.
type EventBroadcaster interface {
	BroadcastJobEvent(event *models.JobEvent)
}
