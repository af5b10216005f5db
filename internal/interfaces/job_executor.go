// -----------------------------------------------------------------------
// Job Executor Interface - Common interface for all job executors
// -----------------------------------------------------------------------

package interfaces

import (
	"context"

	"github.com/ternarybob/specto/internal/models"
)

// JobExecutor defines the interface that all job executors must implement.
// The worker pool uses it to execute claimed jobs in a name-agnostic manner.
type JobExecutor interface {
	// Execute runs a job. The returned payload is merged into the job's
	// result log entry; a non-nil error marks the run failed.
	Execute(ctx context.Context, job *models.Job) (map[string]interface{}, error)

	// GetJobName returns the job name this executor handles
	// Examples: "media-sync", "embedding-sync"
	GetJobName() string

	// Validate checks that the job payload is compatible with this executor
	Validate(job *models.Job) error
}
