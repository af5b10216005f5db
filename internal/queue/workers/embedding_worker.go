// -----------------------------------------------------------------------
// Embedding Worker - Executor for embedding-sync jobs
// -----------------------------------------------------------------------

package workers

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/metrics"
	"github.com/ternarybob/specto/internal/models"
)

// EmbeddingWorker executes embedding-sync jobs: one generation run over a
// server's unprocessed items. The job ID doubles as the result log key the
// run heartbeats against.
type EmbeddingWorker struct {
	embeddingService interfaces.EmbeddingService
	logger           arbor.ILogger
}

// Compile-time assertion: EmbeddingWorker implements JobExecutor
var _ interfaces.JobExecutor = (*EmbeddingWorker)(nil)

// NewEmbeddingWorker creates an embedding run executor
func NewEmbeddingWorker(embeddingService interfaces.EmbeddingService, logger arbor.ILogger) *EmbeddingWorker {
	return &EmbeddingWorker{
		embeddingService: embeddingService,
		logger:           logger,
	}
}

// GetJobName returns "embedding-sync"
func (w *EmbeddingWorker) GetJobName() string {
	return models.JobNameEmbeddingSync
}

// Validate checks the job carries a server ID
func (w *EmbeddingWorker) Validate(job *models.Job) error {
	return requireServerID(job)
}

func (w *EmbeddingWorker) Execute(ctx context.Context, job *models.Job) (map[string]interface{}, error) {
	serverID, _ := job.GetPayloadString(models.PayloadServerID)
	manualStart, _ := job.GetPayloadBool(models.PayloadManualStart)

	summary, err := w.embeddingService.Generate(ctx, job.ID, serverID, manualStart)
	if summary != nil {
		metrics.RecordEmbeddingItems(summary.Processed, summary.Skipped, summary.Errors)
	}
	if err != nil {
		return embeddingSummaryPayload(summary), err
	}
	return embeddingSummaryPayload(summary), nil
}

// embeddingSummaryPayload flattens a run summary into result log counters
func embeddingSummaryPayload(summary *interfaces.EmbeddingSummary) map[string]interface{} {
	if summary == nil {
		return nil
	}
	payload := map[string]interface{}{
		"processed": summary.Processed,
		"skipped":   summary.Skipped,
		"errors":    summary.Errors,
		"remaining": summary.Remaining,
	}
	if summary.Stopped {
		payload["stopped"] = true
	}
	if summary.Model != "" {
		payload["model"] = summary.Model
	}
	if summary.Dimension > 0 {
		payload["dimension"] = summary.Dimension
	}
	return payload
}
