// -----------------------------------------------------------------------
// Embedding Service - Batch vector generation over synced media items
// -----------------------------------------------------------------------

package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/common"
	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/models"
)

// Service generates embeddings for a server's unprocessed media items in
// batches, honoring operator stop requests between provider calls.
type Service struct {
	servers     interfaces.ServerStorage
	media       interfaces.MediaStorage
	results     interfaces.JobResultStorage
	stop        interfaces.StopChecker
	provisioner *IndexProvisioner
	broadcaster interfaces.EventBroadcaster
	config      *common.EmbeddingConfig
	logger      arbor.ILogger

	// newProvider is swapped out by tests to avoid real provider clients.
	newProvider func(ProviderConfig) (Provider, error)
}

// NewService wires the embedding run against storage. broadcaster may be
// nil when no event consumers exist.
func NewService(storage interfaces.StorageManager, provisioner *IndexProvisioner, broadcaster interfaces.EventBroadcaster, config *common.EmbeddingConfig, logger arbor.ILogger) *Service {
	return &Service{
		servers:     storage.ServerStorage(),
		media:       storage.MediaStorage(),
		results:     storage.JobResultStorage(),
		stop:        storage.ServerStorage(),
		provisioner: provisioner,
		broadcaster: broadcaster,
		config:      config,
		logger:      logger,
		newProvider: NewProvider,
	}
}

// embeddingRun carries the mutable state of one Generate call.
type embeddingRun struct {
	jobID    string
	serverID string
	provider Provider
	expected int
	counters runCounters
	// abort records the first dimension mismatch; later mismatches in the
	// same run are dropped without raising again.
	abort    error
	stopped  bool
	lastBeat time.Time
}

type runCounters struct {
	processed int
	skipped   int
	errors    int
}

func (c *runCounters) payload() map[string]interface{} {
	return map[string]interface{}{
		"processed": c.processed,
		"skipped":   c.skipped,
		"errors":    c.errors,
	}
}

// Generate embeds the server's unprocessed items until none remain, a stop
// is requested, or a fatal provider error aborts the run. The stop flag is
// cleared on every exit path so it cannot leak into the next run.
func (s *Service) Generate(ctx context.Context, jobID, serverID string, manualStart bool) (*interfaces.EmbeddingSummary, error) {
	server, err := s.servers.GetServer(ctx, serverID)
	if err != nil {
		return nil, fmt.Errorf("failed to load server for embedding run: %w", err)
	}

	defer func() {
		if err := s.servers.SetEmbeddingStopRequested(ctx, serverID, false); err != nil && !errors.Is(err, models.ErrServerNotFound) {
			s.logger.Warn().Err(err).Str("server_id", serverID).Msg("Failed to clear embedding stop flag")
		}
	}()

	if !server.HasCompleteEmbeddingConfig() {
		return nil, fmt.Errorf("embedding configuration incomplete for server %s", server.Name)
	}
	if server.EmbeddingDimensions <= 0 {
		return nil, fmt.Errorf("embedding dimensions not configured for server %s", server.Name)
	}

	cfg := ProviderConfig{
		Provider:   server.EmbeddingProvider,
		BaseURL:    server.EmbeddingBaseURL,
		APIKey:     server.EmbeddingAPIKey,
		Model:      server.EmbeddingModel,
		Dimensions: server.EmbeddingDimensions,
	}
	provider, err := s.newProvider(cfg)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("server", server.Name).
		Str("provider", models.NormalizeEmbeddingProvider(cfg.Provider)).
		Str("model", cfg.Model).
		Bool("manual", manualStart).
		Msg("Embedding run started")

	run := &embeddingRun{
		jobID:    jobID,
		serverID: serverID,
		provider: provider,
		expected: cfg.Dimensions,
	}
	runErr := s.runLoop(ctx, run, manualStart)

	summary := &interfaces.EmbeddingSummary{
		ServerID:  serverID,
		Processed: run.counters.processed,
		Skipped:   run.counters.skipped,
		Errors:    run.counters.errors,
		Stopped:   run.stopped,
		Model:     cfg.Model,
		Dimension: cfg.Dimensions,
	}
	if remaining, err := s.media.CountUnprocessedItems(ctx, serverID); err == nil {
		summary.Remaining = remaining
	} else {
		s.logger.Warn().Err(err).Str("server_id", serverID).Msg("Failed to count remaining items")
	}

	if run.counters.processed > 0 {
		if err := s.provisioner.Ensure(ctx, cfg.Dimensions); err != nil {
			s.logger.Warn().Err(err).Int("dimension", cfg.Dimensions).Msg("Vector index provisioning failed")
		}
		if runErr == nil && !run.stopped {
			s.broadcastUpdated(run)
		}
	}

	if runErr != nil {
		s.logger.Warn().
			Err(runErr).
			Str("server", server.Name).
			Int("processed", run.counters.processed).
			Msg("Embedding run failed")
		return summary, runErr
	}

	s.logger.Info().
		Str("server", server.Name).
		Int("processed", run.counters.processed).
		Int("skipped", run.counters.skipped).
		Int("errors", run.counters.errors).
		Int("remaining", summary.Remaining).
		Bool("stopped", run.stopped).
		Msg("Embedding run finished")
	return summary, nil
}

// runLoop claims and processes batches until the backlog is empty or the
// run is told to stop.
func (s *Service) runLoop(ctx context.Context, run *embeddingRun, manualStart bool) error {
	for {
		if s.stopRequested(ctx, run) {
			run.stopped = true
			return nil
		}
		if !manualStart && !s.autoGenerateEnabled(ctx, run.serverID) {
			run.stopped = true
			return nil
		}

		batch, err := s.media.GetUnprocessedItems(ctx, run.serverID, s.batchSize())
		if err != nil {
			return fmt.Errorf("failed to load unprocessed items: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}

		before := run.counters.processed + run.counters.skipped
		if run.provider.SupportsBatch() {
			err = s.runBatched(ctx, run, batch)
		} else {
			err = s.runPerItem(ctx, run, batch)
		}
		if err != nil {
			return err
		}
		if run.stopped {
			return nil
		}
		if run.counters.processed+run.counters.skipped == before {
			// Nothing in the batch advanced, so refetching would spin on
			// the same records forever.
			return fmt.Errorf("embedding run made no progress on a batch of %d items", len(batch))
		}
	}
}

// runBatched embeds a claimed batch through a batch-capable provider in
// sub-batches, pausing between provider calls.
func (s *Service) runBatched(ctx context.Context, run *embeddingRun, items []*models.MediaItem) error {
	subSize := s.subBatchSize()
	for start := 0; start < len(items); start += subSize {
		if start > 0 {
			time.Sleep(s.config.BatchDelay())
		}
		if s.stopRequested(ctx, run) {
			run.stopped = true
			return nil
		}

		end := start + subSize
		if end > len(items) {
			end = len(items)
		}

		texts := make([]string, 0, end-start)
		withText := make([]*models.MediaItem, 0, end-start)
		for _, item := range items[start:end] {
			text := BuildItemText(item)
			if text == "" {
				s.skipItem(ctx, run, item)
				continue
			}
			texts = append(texts, text)
			withText = append(withText, item)
		}
		if len(texts) == 0 {
			continue
		}

		vectors, err := run.provider.EmbedBatch(ctx, texts)
		if err != nil {
			if isFatalProviderError(err) {
				return err
			}
			// Unrecognized batch failures count against each item and the
			// loop moves on to the next sub-batch.
			run.counters.errors += len(texts)
			s.logger.Warn().Err(err).Int("items", len(texts)).Msg("Embedding sub-batch failed")
			continue
		}

		for i, vector := range vectors {
			s.writeVector(ctx, run, withText[i], vector)
		}
		if run.abort != nil {
			return run.abort
		}
		s.heartbeat(ctx, run)
	}
	return nil
}

// runPerItem embeds a claimed batch one item at a time, pausing between
// provider calls and polling the stop flag on a fixed cadence.
func (s *Service) runPerItem(ctx context.Context, run *embeddingRun, items []*models.MediaItem) error {
	checkEvery := s.stopCheckItems()
	sinceCheck := 0
	for i, item := range items {
		if sinceCheck >= checkEvery {
			if s.stopRequested(ctx, run) {
				run.stopped = true
				return nil
			}
			sinceCheck = 0
		}

		text := BuildItemText(item)
		if text == "" {
			s.skipItem(ctx, run, item)
			sinceCheck++
			continue
		}

		vector, err := run.provider.EmbedOne(ctx, text)
		if err != nil {
			if isFatalProviderError(err) {
				return err
			}
			run.counters.errors++
			s.logger.Warn().Err(err).Str("item", item.Key).Msg("Embedding item failed")
		} else {
			s.writeVector(ctx, run, item, vector)
			if run.abort != nil {
				return run.abort
			}
		}

		sinceCheck++
		s.heartbeat(ctx, run)
		if i < len(items)-1 {
			time.Sleep(s.config.ItemDelay())
		}
	}
	return nil
}

// writeVector validates a returned vector against the configured
// dimensions and persists it. The first mismatch arms the run's abort
// error; later mismatches are dropped silently so one misconfiguration
// does not repeat itself across a whole sub-batch.
func (s *Service) writeVector(ctx context.Context, run *embeddingRun, item *models.MediaItem, vector []float32) {
	if len(vector) != run.expected {
		if run.abort == nil {
			run.abort = &DimensionMismatchError{Expected: run.expected, Actual: len(vector)}
		}
		return
	}
	if err := s.media.MarkItemProcessed(ctx, item.Key, vector); err != nil {
		run.counters.errors++
		s.logger.Warn().Err(err).Str("item", item.Key).Msg("Failed to store embedding")
		return
	}
	run.counters.processed++
}

// skipItem marks an item with no embeddable text as processed so it is not
// refetched, counting it as skipped. No provider call is made for it.
func (s *Service) skipItem(ctx context.Context, run *embeddingRun, item *models.MediaItem) {
	if err := s.media.MarkItemSkipped(ctx, item.Key); err != nil {
		run.counters.errors++
		s.logger.Warn().Err(err).Str("item", item.Key).Msg("Failed to mark item skipped")
		return
	}
	run.counters.skipped++
}

// stopRequested polls the operator stop flag. A failed check stops the run
// rather than continuing without permission.
func (s *Service) stopRequested(ctx context.Context, run *embeddingRun) bool {
	stopped, err := s.stop.ShouldStop(ctx, run.serverID)
	if err != nil {
		s.logger.Warn().Err(err).Str("server_id", run.serverID).Msg("Stop flag check failed, stopping embedding run")
		return true
	}
	return stopped
}

// autoGenerateEnabled rechecks the server's automatic generation flag so a
// scheduled run halts when the operator switches it off mid-run.
func (s *Service) autoGenerateEnabled(ctx context.Context, serverID string) bool {
	server, err := s.servers.GetServer(ctx, serverID)
	if err != nil {
		s.logger.Warn().Err(err).Str("server_id", serverID).Msg("Server disappeared mid-run, stopping embedding run")
		return false
	}
	if !server.AutoGenerateEmbeddings {
		s.logger.Info().Str("server", server.Name).Msg("Automatic embedding generation disabled, stopping run")
		return false
	}
	return true
}

// heartbeat writes run liveness and progress counters to the result row on
// the configured cadence.
func (s *Service) heartbeat(ctx context.Context, run *embeddingRun) {
	if time.Since(run.lastBeat) < s.config.HeartbeatInterval() {
		return
	}
	run.lastBeat = time.Now()
	if err := s.results.UpdateHeartbeat(ctx, run.jobID, time.Now().UTC(), run.counters.payload()); err != nil {
		s.logger.Warn().Err(err).Str("job_id", run.jobID).Msg("Failed to write embedding heartbeat")
	}
}

// broadcastUpdated fires the best-effort cache-invalidation signal after a
// completed run that wrote new vectors.
func (s *Service) broadcastUpdated(run *embeddingRun) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.BroadcastJobEvent(&models.JobEvent{
		Type:      models.JobEventEmbeddingsUpdated,
		JobID:     run.jobID,
		JobName:   models.JobNameEmbeddingSync,
		ServerID:  run.serverID,
		Timestamp: time.Now().UTC(),
		Data: map[string]interface{}{
			"processed": run.counters.processed,
			"dimension": run.expected,
		},
	})
}

func (s *Service) batchSize() int {
	if s.config.BatchSize > 0 {
		return s.config.BatchSize
	}
	return 100
}

func (s *Service) subBatchSize() int {
	if s.config.SubBatchSize > 0 {
		return s.config.SubBatchSize
	}
	return 20
}

func (s *Service) stopCheckItems() int {
	if s.config.StopCheckItems > 0 {
		return s.config.StopCheckItems
	}
	return 10
}
