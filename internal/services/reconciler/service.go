package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/common"
	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/models"
)

// Service repairs state left behind by dead processes: servers stuck in
// syncing, processing result rows whose heartbeat went silent, and result
// rows past the retention window. Every step is idempotent; the status
// filters exclude rows a previous pass already failed.
type Service struct {
	storage interfaces.StorageManager
	queue   interfaces.QueueManager
	config  *common.ReconcilerConfig
	logger  arbor.ILogger
}

// NewService creates a new reconciler service
func NewService(storage interfaces.StorageManager, queue interfaces.QueueManager, config *common.ReconcilerConfig, logger arbor.ILogger) interfaces.ReconcilerService {
	return &Service{
		storage: storage,
		queue:   queue,
		config:  config,
		logger:  logger,
	}
}

// ReconcileStuckSyncs fails servers stuck in syncing past the threshold
func (s *Service) ReconcileStuckSyncs(ctx context.Context) (int, error) {
	servers, err := s.storage.ServerStorage().GetServersBySyncStatus(ctx, models.SyncStatusSyncing)
	if err != nil {
		return 0, fmt.Errorf("failed to list syncing servers: %w", err)
	}

	now := time.Now().UTC()
	count := 0
	for _, server := range servers {
		check := common.CheckSyncStaleness(server.LastSyncStarted, now, s.config.SyncStaleness())
		if !check.IsStale {
			continue
		}

		syncError := fmt.Sprintf("Sync marked failed by reconciler: %s", check.Reason)
		if err := s.storage.ServerStorage().UpdateSyncStatus(ctx, server.ID, models.SyncStatusFailed, syncError); err != nil {
			s.logger.Warn().
				Str("server_id", server.ID).
				Err(err).
				Msg("Failed to mark stuck sync as failed")
			continue
		}

		s.logger.Warn().
			Str("server_id", server.ID).
			Str("reason", check.Reason).
			Msg("Stuck sync marked failed")
		count++
	}

	return count, nil
}

// ReconcileStaleResults fails processing result rows with dead heartbeats.
// The original payload survives, augmented with a cleanup marker and the
// computed stale duration; recorded processing time is capped at one hour.
func (s *Service) ReconcileStaleResults(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	stale, err := s.storage.JobResultStorage().GetStaleProcessingResults(ctx, now, s.config.ResultStaleness(), s.config.HeartbeatStaleness())
	if err != nil {
		return 0, fmt.Errorf("failed to find stale results: %w", err)
	}

	count := 0
	for _, result := range stale {
		check := common.CheckRunStaleness(result.UpdatedAt, result.LastHeartbeatTime(), now, s.config.ResultStaleness(), s.config.HeartbeatStaleness())

		processingTime := now.Sub(result.CreatedAt)
		result.MarkFailed(
			fmt.Sprintf("Job abandoned: %s", check.Reason),
			map[string]interface{}{
				models.PayloadCleanedUpBy:     "reconciler",
				models.PayloadStaleDurationMs: check.StaleFor.Milliseconds(),
			},
			processingTime,
		)
		if result.ProcessingTimeMs > models.MaxProcessingTimeMs {
			result.ProcessingTimeMs = models.MaxProcessingTimeMs
		}

		if err := s.storage.JobResultStorage().StoreResult(ctx, result); err != nil {
			s.logger.Warn().
				Str("job_id", result.JobID).
				Err(err).
				Msg("Failed to store reconciled result")
			continue
		}

		s.logger.Warn().
			Str("job_id", result.JobID).
			Str("job_name", result.JobName).
			Str("reason", check.Reason).
			Msg("Stale processing result marked failed")
		count++
	}

	return count, nil
}

// EnforceRetention deletes result rows older than the retention window,
// regardless of status
func (s *Service) EnforceRetention(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.config.Retention())
	deleted, err := s.storage.JobResultStorage().DeleteResultsOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired results: %w", err)
	}

	if deleted > 0 {
		s.logger.Info().
			Int("deleted", deleted).
			Str("cutoff", cutoff.Format(time.RFC3339)).
			Msg("Retention sweep removed old job results")
	}
	return deleted, nil
}

// RunAll runs every reconciliation step and sweeps expired queue jobs. Step
// failures are collected into the summary rather than aborting the pass;
// the first error is returned after all steps have run.
func (s *Service) RunAll(ctx context.Context) (*interfaces.ReconcileSummary, error) {
	summary := &interfaces.ReconcileSummary{}
	var firstErr error

	stuck, err := s.ReconcileStuckSyncs(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Stuck sync reconciliation failed")
		firstErr = err
	}
	summary.StuckSyncs = stuck

	staleResults, err := s.ReconcileStaleResults(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Stale result reconciliation failed")
		if firstErr == nil {
			firstErr = err
		}
	}
	summary.StaleResults = staleResults

	deleted, err := s.EnforceRetention(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Retention sweep failed")
		if firstErr == nil {
			firstErr = err
		}
	}
	summary.DeletedResults = deleted

	expired, err := s.queue.SweepExpired(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Expired job sweep failed")
		if firstErr == nil {
			firstErr = err
		}
	}
	summary.ExpiredJobs = expired

	s.logger.Info().
		Int("stuck_syncs", summary.StuckSyncs).
		Int("stale_results", summary.StaleResults).
		Int("deleted_results", summary.DeletedResults).
		Int("expired_jobs", summary.ExpiredJobs).
		Msg("Reconciliation pass completed")
	return summary, firstErr
}
