// -----------------------------------------------------------------------
// Server Worker - Executor for add-server jobs
// -----------------------------------------------------------------------

package workers

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/mediaserver"
	"github.com/ternarybob/specto/internal/models"
)

// ServerWorker executes add-server jobs: verify the media server answers
// with the supplied credentials, then persist the registration. Running
// the add through the queue keeps operator writes on the same pipeline as
// every other mutation.
type ServerWorker struct {
	servers interfaces.ServerStorage
	factory mediaserver.Factory
	logger  arbor.ILogger
}

// Compile-time assertion: ServerWorker implements JobExecutor
var _ interfaces.JobExecutor = (*ServerWorker)(nil)

// NewServerWorker creates an add-server executor
func NewServerWorker(servers interfaces.ServerStorage, factory mediaserver.Factory, logger arbor.ILogger) *ServerWorker {
	return &ServerWorker{
		servers: servers,
		factory: factory,
		logger:  logger,
	}
}

// GetJobName returns "add-server"
func (w *ServerWorker) GetJobName() string {
	return models.JobNameAddServer
}

// Validate checks the registration payload carries the connection settings
func (w *ServerWorker) Validate(job *models.Job) error {
	for _, key := range []string{models.PayloadServerName, models.PayloadBaseURL, models.PayloadAPIKey} {
		if value, ok := job.GetPayloadString(key); !ok || value == "" {
			return fmt.Errorf("%s is required in job payload", key)
		}
	}
	return nil
}

func (w *ServerWorker) Execute(ctx context.Context, job *models.Job) (map[string]interface{}, error) {
	name, _ := job.GetPayloadString(models.PayloadServerName)
	baseURL, _ := job.GetPayloadString(models.PayloadBaseURL)
	apiKey, _ := job.GetPayloadString(models.PayloadAPIKey)

	// Connectivity check before anything is persisted
	client := w.factory(baseURL, apiKey)
	info, err := client.GetSystemInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to media server at %s: %w", baseURL, err)
	}

	server := models.NewMediaServer(name, baseURL, apiKey)
	w.applyEmbeddingConfig(server, job)

	if err := w.servers.StoreServer(ctx, server); err != nil {
		return nil, fmt.Errorf("failed to store server: %w", err)
	}

	w.logger.Info().
		Str("server_id", server.ID).
		Str("name", name).
		Str("remote_name", info.ServerName).
		Str("version", info.Version).
		Msg("Media server registered")

	return map[string]interface{}{
		models.PayloadServerID: server.ID,
		"remote_name":          info.ServerName,
		"remote_version":       info.Version,
	}, nil
}

// applyEmbeddingConfig copies optional embedding settings from the job
// payload onto the new server record.
func (w *ServerWorker) applyEmbeddingConfig(server *models.MediaServer, job *models.Job) {
	if provider, ok := job.GetPayloadString("embedding_provider"); ok && provider != "" {
		server.EmbeddingProvider = models.NormalizeEmbeddingProvider(provider)
	}
	if baseURL, ok := job.GetPayloadString("embedding_base_url"); ok {
		server.EmbeddingBaseURL = baseURL
	}
	if apiKey, ok := job.GetPayloadString("embedding_api_key"); ok {
		server.EmbeddingAPIKey = apiKey
	}
	if model, ok := job.GetPayloadString("embedding_model"); ok {
		server.EmbeddingModel = model
	}
	if dimensions, ok := job.GetPayloadInt("embedding_dimensions"); ok {
		server.EmbeddingDimensions = dimensions
	}
	if auto, ok := job.GetPayloadBool("auto_generate_embeddings"); ok {
		server.AutoGenerateEmbeddings = auto
	}
}
