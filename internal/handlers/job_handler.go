// -----------------------------------------------------------------------
// Job Handler - Queue inspection and job result log API
// -----------------------------------------------------------------------

package handlers

import (
	"errors"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/models"
)

// JobHandler handles job queue and result log API requests
type JobHandler struct {
	queue   interfaces.QueueManager
	results interfaces.JobResultStorage
	logger  arbor.ILogger
}

// NewJobHandler creates a new job handler
func NewJobHandler(queue interfaces.QueueManager, results interfaces.JobResultStorage, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		queue:   queue,
		results: results,
		logger:  logger,
	}
}

// GetResultsHandler returns recent job results, newest first. A job_id
// returns that single run; a name filters to one job type.
// GET /api/jobs/results?limit=50&job_id=&name=
func (h *JobHandler) GetResultsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if jobID := r.URL.Query().Get("job_id"); jobID != "" {
		result, err := h.results.GetResult(ctx, jobID)
		if err != nil {
			if errors.Is(err, models.ErrResultNotFound) {
				WriteError(w, http.StatusNotFound, "Job result not found")
				return
			}
			h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job result")
			WriteError(w, http.StatusInternalServerError, "Failed to get job result")
			return
		}
		WriteJSON(w, http.StatusOK, result)
		return
	}

	limit := GetLimitParam(r, 50, 500)

	var results []*models.JobResult
	var err error
	if name := r.URL.Query().Get("name"); name != "" {
		results, err = h.results.GetResultsByName(ctx, name, limit)
	} else {
		results, err = h.results.ListResults(ctx, limit)
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list job results")
		WriteError(w, http.StatusInternalServerError, "Failed to list job results")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"count":   len(results),
		"limit":   limit,
	})
}

// CancelJobsHandler cancels all queued jobs of one type. Running executors
// finish on their own; only future delivery is affected.
// POST /api/jobs/cancel?name=
func (h *JobHandler) CancelJobsHandler(w http.ResponseWriter, r *http.Request) {
	name, ok := RequireQueryParam(w, r, "name")
	if !ok {
		return
	}

	cancelled, err := h.queue.CancelByName(r.Context(), name)
	if err != nil {
		h.logger.Error().Err(err).Str("job_name", name).Msg("Failed to cancel jobs")
		WriteError(w, http.StatusInternalServerError, "Failed to cancel jobs")
		return
	}

	h.logger.Info().Str("job_name", name).Int("cancelled", cancelled).Msg("Jobs cancelled")

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "success",
		"job_name":  name,
		"cancelled": cancelled,
	})
}

// GetQueueSizeHandler returns the number of jobs waiting for delivery.
// Without a name it counts every queue.
// GET /api/queue/size?name=
func (h *JobHandler) GetQueueSizeHandler(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")

	size, err := h.queue.QueueSize(r.Context(), name)
	if err != nil {
		h.logger.Error().Err(err).Str("job_name", name).Msg("Failed to get queue size")
		WriteError(w, http.StatusInternalServerError, "Failed to get queue size")
		return
	}

	response := map[string]interface{}{"size": size}
	if name != "" {
		response["job_name"] = name
	}
	WriteJSON(w, http.StatusOK, response)
}

// GetQueueStatsHandler returns job counts per state across all queues
// GET /api/queue/stats
func (h *JobHandler) GetQueueStatsHandler(w http.ResponseWriter, r *http.Request) {
	counts, err := h.queue.CountByState(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to get queue stats")
		WriteError(w, http.StatusInternalServerError, "Failed to get queue stats")
		return
	}

	total := 0
	states := make(map[string]int, len(counts))
	for state, count := range counts {
		states[string(state)] = count
		total += count
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"states": states,
		"total":  total,
	})
}
