package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/common"
	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/models"
)

// Triggers computes per-tick server eligibility and enqueues sync and
// embedding jobs. Cron entries call the Enqueue* methods; the operator API
// calls the Trigger* methods for a single server. Both paths share the same
// enqueue contract, so the queue dedup key coalesces them.
type Triggers struct {
	storage interfaces.StorageManager
	queue   interfaces.QueueManager
	config  *common.SchedulerConfig
	logger  arbor.ILogger
}

// NewTriggers creates the trigger component backing the scheduled ticks
func NewTriggers(storage interfaces.StorageManager, queue interfaces.QueueManager, config *common.SchedulerConfig, logger arbor.ILogger) *Triggers {
	return &Triggers{
		storage: storage,
		queue:   queue,
		config:  config,
		logger:  logger,
	}
}

func syncEnqueueOptions(name, serverID string) *models.EnqueueOptions {
	return &models.EnqueueOptions{
		ExpireInMinutes:   60,
		RetryLimit:        1,
		RetryDelaySeconds: 60,
		DedupKey:          name + ":" + serverID,
	}
}

// EnqueueMediaSyncs enqueues one media-sync job per eligible server.
// Per-server failures are logged and do not abort the batch.
func (t *Triggers) EnqueueMediaSyncs() error {
	ctx := context.Background()

	servers, err := t.storage.ServerStorage().GetAllServers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list servers: %w", err)
	}

	now := time.Now().UTC()
	enqueued := 0
	for _, server := range servers {
		if !t.syncEligible(server, now) {
			t.logger.Debug().
				Str("server_id", server.ID).
				Str("sync_status", string(server.SyncStatus)).
				Msg("Server skipped, sync in progress")
			continue
		}

		payload := map[string]interface{}{models.PayloadServerID: server.ID}
		jobID, err := t.queue.Enqueue(ctx, models.JobNameMediaSync, payload, syncEnqueueOptions(models.JobNameMediaSync, server.ID))
		if err != nil {
			t.logger.Warn().
				Str("server_id", server.ID).
				Err(err).
				Msg("Failed to enqueue media sync")
			continue
		}

		t.logger.Debug().
			Str("server_id", server.ID).
			Str("job_id", jobID).
			Msg("Media sync enqueued")
		enqueued++
	}

	if enqueued > 0 {
		t.logger.Info().
			Int("enqueued", enqueued).
			Int("servers", len(servers)).
			Msg("Media sync tick completed")
	}
	return nil
}

// syncEligible reports whether a server may receive a new sync job. The
// status read is not locked against the workers: a sync that starts between
// this read and the enqueue is absorbed by the queue dedup key, and a
// genuinely concurrent second run only repeats idempotent upserts.
func (t *Triggers) syncEligible(server *models.MediaServer, now time.Time) bool {
	if server.SyncStatus != models.SyncStatusSyncing {
		return true
	}
	// A syncing server whose run started too long ago is presumed dead
	return server.SyncStartedBefore(now.Add(-t.config.SyncStaleness()))
}

// EnqueueEmbeddingSyncs enqueues embedding-sync jobs for servers with
// auto-generation enabled, complete provider config, unprocessed items, and
// no embedding job already queued or running.
func (t *Triggers) EnqueueEmbeddingSyncs() error {
	ctx := context.Background()

	servers, err := t.storage.ServerStorage().GetAllServers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list servers: %w", err)
	}

	enqueued := 0
	for _, server := range servers {
		if !server.AutoGenerateEmbeddings {
			continue
		}
		if !server.HasCompleteEmbeddingConfig() {
			t.logger.Debug().
				Str("server_id", server.ID).
				Msg("Server skipped, embedding configuration incomplete")
			continue
		}

		unprocessed, err := t.storage.MediaStorage().CountUnprocessedItems(ctx, server.ID)
		if err != nil {
			t.logger.Warn().
				Str("server_id", server.ID).
				Err(err).
				Msg("Failed to count unprocessed items")
			continue
		}
		if unprocessed == 0 {
			continue
		}

		pending, err := t.queue.HasPendingJob(ctx, models.JobNameEmbeddingSync, models.JobNameEmbeddingSync+":"+server.ID)
		if err != nil {
			t.logger.Warn().
				Str("server_id", server.ID).
				Err(err).
				Msg("Failed to check pending embedding job")
			continue
		}
		if pending {
			continue
		}

		payload := map[string]interface{}{
			models.PayloadServerID:    server.ID,
			models.PayloadManualStart: false,
		}
		jobID, err := t.queue.Enqueue(ctx, models.JobNameEmbeddingSync, payload, syncEnqueueOptions(models.JobNameEmbeddingSync, server.ID))
		if err != nil {
			t.logger.Warn().
				Str("server_id", server.ID).
				Err(err).
				Msg("Failed to enqueue embedding sync")
			continue
		}

		t.logger.Debug().
			Str("server_id", server.ID).
			Str("job_id", jobID).
			Int("unprocessed", unprocessed).
			Msg("Embedding sync enqueued")
		enqueued++
	}

	if enqueued > 0 {
		t.logger.Info().
			Int("enqueued", enqueued).
			Msg("Embedding sync tick completed")
	}
	return nil
}

// TriggerSync enqueues a full media sync for one server
func (t *Triggers) TriggerSync(ctx context.Context, serverID string) (string, error) {
	return t.triggerServerJob(ctx, models.JobNameMediaSync, serverID, nil)
}

// TriggerUserSync enqueues a user-only sync for one server
func (t *Triggers) TriggerUserSync(ctx context.Context, serverID string) (string, error) {
	return t.triggerServerJob(ctx, models.JobNameUserSync, serverID, nil)
}

// TriggerActivitySync enqueues an activity-only sync for one server
func (t *Triggers) TriggerActivitySync(ctx context.Context, serverID string) (string, error) {
	return t.triggerServerJob(ctx, models.JobNameActivitySync, serverID, nil)
}

// TriggerEmbedding enqueues an embedding run for one server. Manual start
// bypasses the AutoGenerateEmbeddings pause and clears a leftover stop flag
// so the run is not killed at its first stop check.
func (t *Triggers) TriggerEmbedding(ctx context.Context, serverID string) (string, error) {
	server, err := t.storage.ServerStorage().GetServer(ctx, serverID)
	if err != nil {
		return "", err
	}
	if !server.HasCompleteEmbeddingConfig() {
		return "", fmt.Errorf("server %s: %w", serverID, models.ErrIncompleteEmbeddingConfig)
	}

	if err := t.storage.ServerStorage().SetEmbeddingStopRequested(ctx, serverID, false); err != nil {
		return "", fmt.Errorf("failed to clear stop flag: %w", err)
	}

	extra := map[string]interface{}{models.PayloadManualStart: true}
	return t.triggerServerJob(ctx, models.JobNameEmbeddingSync, serverID, extra)
}

// StopEmbedding raises the stop flag for a running embedding job and
// cancels any queued embedding jobs for the server. Returns the number of
// queued jobs cancelled; a running job stops at its next flag check.
func (t *Triggers) StopEmbedding(ctx context.Context, serverID string) (int, error) {
	if _, err := t.storage.ServerStorage().GetServer(ctx, serverID); err != nil {
		return 0, err
	}

	if err := t.storage.ServerStorage().SetEmbeddingStopRequested(ctx, serverID, true); err != nil {
		return 0, fmt.Errorf("failed to set stop flag: %w", err)
	}

	jobs, err := t.queue.ListJobs(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to list jobs: %w", err)
	}

	var pendingIDs []string
	for _, job := range jobs {
		if job.Name != models.JobNameEmbeddingSync {
			continue
		}
		if job.State != models.JobStateCreated && job.State != models.JobStateRetry {
			continue
		}
		if id, ok := job.GetPayloadString(models.PayloadServerID); !ok || id != serverID {
			continue
		}
		pendingIDs = append(pendingIDs, job.ID)
	}

	if len(pendingIDs) > 0 {
		if err := t.queue.Cancel(ctx, pendingIDs...); err != nil {
			return 0, fmt.Errorf("failed to cancel queued embedding jobs: %w", err)
		}
	}

	t.logger.Info().
		Str("server_id", serverID).
		Int("cancelled", len(pendingIDs)).
		Msg("Embedding stop requested")
	return len(pendingIDs), nil
}

func (t *Triggers) triggerServerJob(ctx context.Context, name, serverID string, extra map[string]interface{}) (string, error) {
	if _, err := t.storage.ServerStorage().GetServer(ctx, serverID); err != nil {
		return "", err
	}

	payload := map[string]interface{}{models.PayloadServerID: serverID}
	for k, v := range extra {
		payload[k] = v
	}

	jobID, err := t.queue.Enqueue(ctx, name, payload, syncEnqueueOptions(name, serverID))
	if err != nil {
		return "", fmt.Errorf("failed to enqueue %s: %w", name, err)
	}

	t.logger.Info().
		Str("server_id", serverID).
		Str("job_name", name).
		Str("job_id", jobID).
		Msg("Manual job trigger enqueued")
	return jobID, nil
}
