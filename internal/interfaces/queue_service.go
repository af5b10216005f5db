package interfaces

import (
	"context"

	"github.com/ternarybob/specto/internal/models"
)

// QueueManager manages the persistent job queue
type QueueManager interface {
	Start() error
	Stop() error

	// Enqueue adds a job to the queue. When options carry a dedup key and a
	// non-terminal job already holds that key, the existing job ID is
	// returned instead of creating a duplicate.
	Enqueue(ctx context.Context, name string, payload map[string]interface{}, opts *models.EnqueueOptions) (string, error)

	// Receive claims the next ready job, moving it to active. Returns nil
	// when no job is ready.
	Receive(ctx context.Context) (*models.Job, error)

	// Complete marks an active job completed. No-op on terminal jobs.
	Complete(ctx context.Context, jobID string) error

	// Fail records a failure. Jobs with retry budget left move back to retry
	// with their delay applied; the returned bool reports whether the job
	// will run again.
	Fail(ctx context.Context, jobID string, errMsg string) (bool, error)

	// Cancel marks jobs cancelled. Affects future delivery only: an
	// executor already running a job finishes on its own.
	Cancel(ctx context.Context, jobIDs ...string) error

	// CancelByName cancels all non-terminal jobs with the given name and
	// returns how many were cancelled.
	CancelByName(ctx context.Context, name string) (int, error)

	// GetJob returns the stored job, or nil when no such job exists.
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	ListJobs(ctx context.Context, limit int) ([]*models.Job, error)

	// HasPendingJob reports whether a job with the given name and dedup key
	// is queued or active.
	HasPendingJob(ctx context.Context, name, dedupKey string) (bool, error)

	// QueueSize returns the number of jobs waiting for delivery (created or
	// retry state) under the given name. An empty name counts every queue.
	QueueSize(ctx context.Context, name string) (int, error)

	CountByState(ctx context.Context) (map[models.JobState]int, error)

	// SweepExpired transitions jobs past their expiry to expired and returns
	// how many were swept.
	SweepExpired(ctx context.Context) (int, error)
}

// WorkerPool manages concurrent job processing
type WorkerPool interface {
	RegisterExecutor(executor JobExecutor)
	Start() error
	Stop() error
}
