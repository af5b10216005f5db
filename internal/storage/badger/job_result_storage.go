package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specto/internal/common"
	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// JobResultStorage implements the JobResultStorage interface for Badger.
// One row per job run, keyed by job ID; rows are written by their own run
// and later touched only by the reconciler.
type JobResultStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobResultStorage creates a new JobResultStorage instance
func NewJobResultStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobResultStorage {
	return &JobResultStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobResultStorage) StoreResult(ctx context.Context, result *models.JobResult) error {
	if result.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	result.UpdatedAt = time.Now().UTC()

	if err := s.db.Store().Upsert(result.JobID, result); err != nil {
		s.logger.Error().Err(err).Str("job_id", result.JobID).Msg("BadgerDB: Failed to upsert job result")
		return fmt.Errorf("failed to save job result: %w", err)
	}

	s.logger.Trace().
		Str("job_id", result.JobID).
		Str("status", string(result.Status)).
		Msg("BadgerDB: Job result stored")
	return nil
}

func (s *JobResultStorage) GetResult(ctx context.Context, jobID string) (*models.JobResult, error) {
	var result models.JobResult
	if err := s.db.Store().Get(jobID, &result); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("%w: %s", models.ErrResultNotFound, jobID)
		}
		return nil, fmt.Errorf("failed to get job result: %w", err)
	}
	return &result, nil
}

func (s *JobResultStorage) GetResultsByName(ctx context.Context, jobName string, limit int) ([]*models.JobResult, error) {
	var results []models.JobResult
	if err := s.db.Store().Find(&results, badgerhold.Where("JobName").Eq(jobName)); err != nil {
		return nil, fmt.Errorf("failed to find job results: %w", err)
	}
	return sortAndLimit(results, limit), nil
}

func (s *JobResultStorage) ListResults(ctx context.Context, limit int) ([]*models.JobResult, error) {
	var results []models.JobResult
	if err := s.db.Store().Find(&results, nil); err != nil {
		return nil, fmt.Errorf("failed to list job results: %w", err)
	}
	return sortAndLimit(results, limit), nil
}

// sortAndLimit orders results newest first and truncates to limit.
func sortAndLimit(results []models.JobResult, limit int) []*models.JobResult {
	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
	if limit > 0 && limit < len(results) {
		results = results[:limit]
	}

	out := make([]*models.JobResult, 0, len(results))
	for i := range results {
		out = append(out, &results[i])
	}
	return out
}

func (s *JobResultStorage) CountResultsByStatus(ctx context.Context, status models.JobResultStatus) (int, error) {
	count, err := s.db.Store().Count(&models.JobResult{}, badgerhold.Where("Status").Eq(status))
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func (s *JobResultStorage) UpdateHeartbeat(ctx context.Context, jobID string, at time.Time, counters map[string]interface{}) error {
	var result models.JobResult
	if err := s.db.Store().Get(jobID, &result); err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("%w: %s", models.ErrResultNotFound, jobID)
		}
		return fmt.Errorf("failed to get job result: %w", err)
	}

	result.SetHeartbeat(at)
	for key, value := range counters {
		result.Payload[key] = value
	}
	result.UpdatedAt = time.Now().UTC()

	if err := s.db.Store().Upsert(jobID, &result); err != nil {
		return fmt.Errorf("failed to update heartbeat: %w", err)
	}
	return nil
}

// GetStaleProcessingResults returns processing rows with no recent evidence
// of life. Heartbeats live inside the payload map, so the filtering happens
// in memory after an indexed status query.
func (s *JobResultStorage) GetStaleProcessingResults(ctx context.Context, now time.Time, runThreshold, heartbeatThreshold time.Duration) ([]*models.JobResult, error) {
	var processing []models.JobResult
	if err := s.db.Store().Find(&processing, badgerhold.Where("Status").Eq(models.JobResultProcessing)); err != nil {
		return nil, fmt.Errorf("failed to find processing results: %w", err)
	}

	var stale []*models.JobResult
	for i := range processing {
		check := common.CheckRunStaleness(processing[i].UpdatedAt, processing[i].LastHeartbeatTime(), now, runThreshold, heartbeatThreshold)
		if check.IsStale {
			stale = append(stale, &processing[i])
		}
	}
	return stale, nil
}

func (s *JobResultStorage) DeleteResultsOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	var results []models.JobResult
	if err := s.db.Store().Find(&results, nil); err != nil {
		return 0, fmt.Errorf("failed to list job results: %w", err)
	}

	count := 0
	for _, result := range results {
		if !result.CreatedAt.Before(cutoff) {
			continue
		}
		if err := s.db.Store().Delete(result.JobID, &models.JobResult{}); err != nil && err != badgerhold.ErrNotFound {
			s.logger.Warn().Err(err).Str("job_id", result.JobID).Msg("Failed to delete expired job result")
			continue
		}
		count++
	}

	if count > 0 {
		s.logger.Info().Int("count", count).Msg("Deleted job results past retention")
	}
	return count, nil
}
