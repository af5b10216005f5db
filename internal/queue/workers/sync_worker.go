// -----------------------------------------------------------------------
// Sync Workers - Executors for the media-sync job family
// -----------------------------------------------------------------------

package workers

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/models"
)

// SyncWorker executes media-sync jobs: the full sequential pipeline of
// users, libraries, items and activities for one server.
type SyncWorker struct {
	syncService interfaces.SyncService
	logger      arbor.ILogger
}

// Compile-time assertion: SyncWorker implements JobExecutor
var _ interfaces.JobExecutor = (*SyncWorker)(nil)

// NewSyncWorker creates a full-sync executor
func NewSyncWorker(syncService interfaces.SyncService, logger arbor.ILogger) *SyncWorker {
	return &SyncWorker{
		syncService: syncService,
		logger:      logger,
	}
}

// GetJobName returns "media-sync"
func (w *SyncWorker) GetJobName() string {
	return models.JobNameMediaSync
}

// Validate checks the job carries a server ID
func (w *SyncWorker) Validate(job *models.Job) error {
	return requireServerID(job)
}

// Execute runs the full sync pipeline. A sync failure has already updated
// the server's status; the error propagates so the queue records it too.
func (w *SyncWorker) Execute(ctx context.Context, job *models.Job) (map[string]interface{}, error) {
	serverID, _ := job.GetPayloadString(models.PayloadServerID)

	summary, err := w.syncService.SyncServer(ctx, serverID)
	if err != nil {
		return syncSummaryPayload(summary), err
	}
	return syncSummaryPayload(summary), nil
}

// UserSyncWorker executes user-sync jobs: users plus inferred play
// sessions, without touching the server's pipeline state.
type UserSyncWorker struct {
	syncService interfaces.SyncService
	logger      arbor.ILogger
}

var _ interfaces.JobExecutor = (*UserSyncWorker)(nil)

// NewUserSyncWorker creates a user-only sync executor
func NewUserSyncWorker(syncService interfaces.SyncService, logger arbor.ILogger) *UserSyncWorker {
	return &UserSyncWorker{
		syncService: syncService,
		logger:      logger,
	}
}

// GetJobName returns "user-sync"
func (w *UserSyncWorker) GetJobName() string {
	return models.JobNameUserSync
}

// Validate checks the job carries a server ID
func (w *UserSyncWorker) Validate(job *models.Job) error {
	return requireServerID(job)
}

func (w *UserSyncWorker) Execute(ctx context.Context, job *models.Job) (map[string]interface{}, error) {
	serverID, _ := job.GetPayloadString(models.PayloadServerID)

	summary, err := w.syncService.SyncUsers(ctx, serverID)
	if err != nil {
		return syncSummaryPayload(summary), err
	}
	return syncSummaryPayload(summary), nil
}

// ActivitySyncWorker executes activity-sync jobs: the activity log only.
type ActivitySyncWorker struct {
	syncService interfaces.SyncService
	logger      arbor.ILogger
}

var _ interfaces.JobExecutor = (*ActivitySyncWorker)(nil)

// NewActivitySyncWorker creates an activity-only sync executor
func NewActivitySyncWorker(syncService interfaces.SyncService, logger arbor.ILogger) *ActivitySyncWorker {
	return &ActivitySyncWorker{
		syncService: syncService,
		logger:      logger,
	}
}

// GetJobName returns "activity-sync"
func (w *ActivitySyncWorker) GetJobName() string {
	return models.JobNameActivitySync
}

// Validate checks the job carries a server ID
func (w *ActivitySyncWorker) Validate(job *models.Job) error {
	return requireServerID(job)
}

func (w *ActivitySyncWorker) Execute(ctx context.Context, job *models.Job) (map[string]interface{}, error) {
	serverID, _ := job.GetPayloadString(models.PayloadServerID)

	summary, err := w.syncService.SyncActivities(ctx, serverID)
	if err != nil {
		return syncSummaryPayload(summary), err
	}
	return syncSummaryPayload(summary), nil
}

// requireServerID rejects jobs whose payload lacks a server reference
func requireServerID(job *models.Job) error {
	if serverID, ok := job.GetPayloadString(models.PayloadServerID); !ok || serverID == "" {
		return fmt.Errorf("%s is required in job payload", models.PayloadServerID)
	}
	return nil
}

// syncSummaryPayload flattens a sync summary into result log counters.
// Nil summaries (a run that failed before doing anything) produce nil.
func syncSummaryPayload(summary *interfaces.SyncSummary) map[string]interface{} {
	if summary == nil {
		return nil
	}
	payload := map[string]interface{}{
		"users":      summary.Users,
		"libraries":  summary.Libraries,
		"items":      summary.Items,
		"activities": summary.Activities,
		"sessions":   summary.Sessions,
	}
	if summary.Skipped {
		payload["skipped"] = true
	}
	return payload
}
