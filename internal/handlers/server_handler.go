// -----------------------------------------------------------------------
// Server Handler - Media server registration and per-server operations
// -----------------------------------------------------------------------

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/models"
	"github.com/ternarybob/specto/internal/services/scheduler"
)

// validate is a reusable validator instance
var validate = validator.New()

// AddServerRequest is the POST /api/servers payload. Embedding settings are
// optional; a server without them syncs but never embeds.
type AddServerRequest struct {
	Name    string `json:"name" validate:"required"`
	BaseURL string `json:"base_url" validate:"required,url"`
	APIKey  string `json:"api_key" validate:"required"`

	EmbeddingProvider      string `json:"embedding_provider" validate:"omitempty,oneof=openai openai-compatible ollama"`
	EmbeddingBaseURL       string `json:"embedding_base_url" validate:"omitempty,url"`
	EmbeddingAPIKey        string `json:"embedding_api_key"`
	EmbeddingModel         string `json:"embedding_model"`
	EmbeddingDimensions    int    `json:"embedding_dimensions" validate:"omitempty,gt=0"`
	AutoGenerateEmbeddings bool   `json:"auto_generate_embeddings"`
}

// ServerHandler handles media server API requests
type ServerHandler struct {
	servers  interfaces.ServerStorage
	media    interfaces.MediaStorage
	sessions interfaces.SessionStorage
	queue    interfaces.QueueManager
	triggers *scheduler.Triggers
	logger   arbor.ILogger
}

// NewServerHandler creates a new server handler
func NewServerHandler(
	servers interfaces.ServerStorage,
	media interfaces.MediaStorage,
	sessions interfaces.SessionStorage,
	queue interfaces.QueueManager,
	triggers *scheduler.Triggers,
	logger arbor.ILogger,
) *ServerHandler {
	return &ServerHandler{
		servers:  servers,
		media:    media,
		sessions: sessions,
		queue:    queue,
		triggers: triggers,
		logger:   logger,
	}
}

// ListServersHandler returns all registered servers
// GET /api/servers
func (h *ServerHandler) ListServersHandler(w http.ResponseWriter, r *http.Request) {
	servers, err := h.servers.GetAllServers(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list servers")
		WriteError(w, http.StatusInternalServerError, "Failed to list servers")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"servers": servers,
		"count":   len(servers),
	})
}

// AddServerHandler enqueues an add-server job. The worker verifies
// connectivity before persisting, so a bad URL or key surfaces in the job
// result rather than a half-registered server.
// POST /api/servers
func (h *ServerHandler) AddServerHandler(w http.ResponseWriter, r *http.Request) {
	var req AddServerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	defer r.Body.Close()

	if err := validate.Struct(req); err != nil {
		WriteError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	payload := map[string]interface{}{
		models.PayloadServerName: req.Name,
		models.PayloadBaseURL:    req.BaseURL,
		models.PayloadAPIKey:     req.APIKey,
	}
	if req.EmbeddingProvider != "" {
		payload["embedding_provider"] = req.EmbeddingProvider
		payload["embedding_base_url"] = req.EmbeddingBaseURL
		payload["embedding_api_key"] = req.EmbeddingAPIKey
		payload["embedding_model"] = req.EmbeddingModel
		payload["embedding_dimensions"] = req.EmbeddingDimensions
		payload["auto_generate_embeddings"] = req.AutoGenerateEmbeddings
	}

	// Dedup on base URL: a double-submitted form registers one server
	jobID, err := h.queue.Enqueue(r.Context(), models.JobNameAddServer, payload, &models.EnqueueOptions{
		ExpireInMinutes: 60,
		DedupKey:        req.BaseURL,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("base_url", req.BaseURL).Msg("Failed to enqueue add-server job")
		WriteError(w, http.StatusInternalServerError, "Failed to enqueue add-server job")
		return
	}

	h.logger.Info().
		Str("name", req.Name).
		Str("base_url", req.BaseURL).
		Str("job_id", jobID).
		Msg("Add-server job enqueued")

	WriteStarted(w, "Server registration started", jobID)
}

// DeleteServerHandler removes a server and all data synced from it
// DELETE /api/servers?id=
func (h *ServerHandler) DeleteServerHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	serverID, ok := RequireQueryParam(w, r, "id")
	if !ok {
		return
	}

	if _, err := h.servers.GetServer(ctx, serverID); err != nil {
		if errors.Is(err, models.ErrServerNotFound) {
			WriteError(w, http.StatusNotFound, "Server not found")
			return
		}
		h.logger.Error().Err(err).Str("server_id", serverID).Msg("Failed to load server")
		WriteError(w, http.StatusInternalServerError, "Failed to load server")
		return
	}

	// Synced data goes with the registration; orphaned rows would never be
	// cleaned up otherwise
	cleanups := []struct {
		name string
		fn   func() error
	}{
		{"users", func() error { return h.media.DeleteUsersByServer(ctx, serverID) }},
		{"libraries", func() error { return h.media.DeleteLibrariesByServer(ctx, serverID) }},
		{"items", func() error { return h.media.DeleteItemsByServer(ctx, serverID) }},
		{"activities", func() error { return h.media.DeleteActivitiesByServer(ctx, serverID) }},
		{"sessions", func() error { return h.sessions.DeleteSessionsByServer(ctx, serverID) }},
	}
	for _, cleanup := range cleanups {
		if err := cleanup.fn(); err != nil {
			h.logger.Error().Err(err).Str("server_id", serverID).Str("entity", cleanup.name).Msg("Failed to delete synced data")
			WriteError(w, http.StatusInternalServerError, "Failed to delete synced "+cleanup.name)
			return
		}
	}

	if err := h.servers.DeleteServer(ctx, serverID); err != nil {
		h.logger.Error().Err(err).Str("server_id", serverID).Msg("Failed to delete server")
		WriteError(w, http.StatusInternalServerError, "Failed to delete server")
		return
	}

	h.logger.Info().Str("server_id", serverID).Msg("Server deleted")
	WriteSuccess(w, "Server deleted")
}

// GetServerStatusHandler returns one server's sync state and entity counts
// GET /api/servers/status?id=
func (h *ServerHandler) GetServerStatusHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	serverID, ok := RequireQueryParam(w, r, "id")
	if !ok {
		return
	}

	server, err := h.servers.GetServer(ctx, serverID)
	if err != nil {
		if errors.Is(err, models.ErrServerNotFound) {
			WriteError(w, http.StatusNotFound, "Server not found")
			return
		}
		h.logger.Error().Err(err).Str("server_id", serverID).Msg("Failed to load server")
		WriteError(w, http.StatusInternalServerError, "Failed to load server")
		return
	}

	users, _ := h.media.CountUsersByServer(ctx, serverID)
	libraries, _ := h.media.CountLibrariesByServer(ctx, serverID)
	items, _ := h.media.CountItemsByServer(ctx, serverID)
	activities, _ := h.media.CountActivitiesByServer(ctx, serverID)
	sessions, _ := h.sessions.CountSessionsByServer(ctx, serverID)
	unprocessed, _ := h.media.CountUnprocessedItems(ctx, serverID)

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"server": server,
		"counts": map[string]int{
			"users":             users,
			"libraries":         libraries,
			"items":             items,
			"activities":        activities,
			"sessions":          sessions,
			"unprocessed_items": unprocessed,
		},
	})
}

// TriggerSyncHandler enqueues a manual sync for one server
// POST /api/sync/trigger?server_id=&type=full|users|activities
func (h *ServerHandler) TriggerSyncHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	serverID, ok := RequireQueryParam(w, r, "server_id")
	if !ok {
		return
	}

	syncType := r.URL.Query().Get("type")
	var jobID string
	var err error
	switch syncType {
	case "", "full":
		jobID, err = h.triggers.TriggerSync(ctx, serverID)
	case "users":
		jobID, err = h.triggers.TriggerUserSync(ctx, serverID)
	case "activities":
		jobID, err = h.triggers.TriggerActivitySync(ctx, serverID)
	default:
		WriteError(w, http.StatusBadRequest, "Unknown sync type: "+syncType)
		return
	}
	if err != nil {
		if errors.Is(err, models.ErrServerNotFound) {
			WriteError(w, http.StatusNotFound, "Server not found")
			return
		}
		h.logger.Error().Err(err).Str("server_id", serverID).Str("type", syncType).Msg("Failed to trigger sync")
		WriteError(w, http.StatusInternalServerError, "Failed to trigger sync")
		return
	}

	WriteStarted(w, "Sync started", jobID)
}

// StartEmbeddingsHandler enqueues a manual embedding run for one server
// POST /api/embeddings/start?server_id=
func (h *ServerHandler) StartEmbeddingsHandler(w http.ResponseWriter, r *http.Request) {
	serverID, ok := RequireQueryParam(w, r, "server_id")
	if !ok {
		return
	}

	jobID, err := h.triggers.TriggerEmbedding(r.Context(), serverID)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrServerNotFound):
			WriteError(w, http.StatusNotFound, "Server not found")
		case errors.Is(err, models.ErrIncompleteEmbeddingConfig):
			WriteError(w, http.StatusBadRequest, "Server has incomplete embedding configuration")
		default:
			h.logger.Error().Err(err).Str("server_id", serverID).Msg("Failed to start embedding run")
			WriteError(w, http.StatusInternalServerError, "Failed to start embedding run")
		}
		return
	}

	WriteStarted(w, "Embedding generation started", jobID)
}

// StopEmbeddingsHandler raises the stop flag and cancels queued embedding
// jobs for one server. A run already executing stops at its next flag check.
// POST /api/embeddings/stop?server_id=
func (h *ServerHandler) StopEmbeddingsHandler(w http.ResponseWriter, r *http.Request) {
	serverID, ok := RequireQueryParam(w, r, "server_id")
	if !ok {
		return
	}

	cancelled, err := h.triggers.StopEmbedding(r.Context(), serverID)
	if err != nil {
		if errors.Is(err, models.ErrServerNotFound) {
			WriteError(w, http.StatusNotFound, "Server not found")
			return
		}
		h.logger.Error().Err(err).Str("server_id", serverID).Msg("Failed to stop embedding run")
		WriteError(w, http.StatusInternalServerError, "Failed to stop embedding run")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "success",
		"message":        "Embedding stop requested",
		"cancelled_jobs": cancelled,
	})
}
