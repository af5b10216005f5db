// -----------------------------------------------------------------------
// Scheduler Handler - Schedule inspection, updates and manual reconcile
// -----------------------------------------------------------------------

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/common"
	"github.com/ternarybob/specto/internal/interfaces"
)

// SchedulerHandler handles scheduler and reconciler API requests
type SchedulerHandler struct {
	scheduler  interfaces.SchedulerService
	reconciler interfaces.ReconcilerService
	logger     arbor.ILogger
}

// NewSchedulerHandler creates a new scheduler handler
func NewSchedulerHandler(scheduler interfaces.SchedulerService, reconciler interfaces.ReconcilerService, logger arbor.ILogger) *SchedulerHandler {
	return &SchedulerHandler{
		scheduler:  scheduler,
		reconciler: reconciler,
		logger:     logger,
	}
}

// GetStatusHandler returns the scheduler state and every registered job
// GET /api/scheduler/status
func (h *SchedulerHandler) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"running": h.scheduler.IsRunning(),
		"jobs":    h.scheduler.GetAllJobStatuses(),
	})
}

// UpdateSchedulesHandler replaces cron schedules for one or more jobs. The
// body is a map of job name to cron expression. Every expression is
// validated before any schedule changes, so a bad entry leaves all jobs on
// their old cadence.
// POST /api/scheduler/schedules
func (h *SchedulerHandler) UpdateSchedulesHandler(w http.ResponseWriter, r *http.Request) {
	var schedules map[string]string
	if err := json.NewDecoder(r.Body).Decode(&schedules); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body: expected a job name to cron expression map")
		return
	}
	defer r.Body.Close()

	if len(schedules) == 0 {
		WriteError(w, http.StatusBadRequest, "No schedules provided")
		return
	}

	for name, schedule := range schedules {
		if _, err := h.scheduler.GetJobStatus(name); err != nil {
			WriteError(w, http.StatusNotFound, "Unknown job: "+name)
			return
		}
		if err := common.ValidateJobSchedule(schedule); err != nil {
			WriteError(w, http.StatusBadRequest, "Invalid schedule for "+name+": "+err.Error())
			return
		}
	}

	updated := make([]string, 0, len(schedules))
	for name, schedule := range schedules {
		if err := h.scheduler.UpdateJobSchedule(name, schedule); err != nil {
			h.logger.Error().Err(err).Str("job", name).Str("schedule", schedule).Msg("Failed to update schedule")
			WriteError(w, http.StatusInternalServerError, "Failed to update schedule for "+name)
			return
		}
		h.logger.Info().Str("job", name).Str("schedule", schedule).Msg("Schedule updated")
		updated = append(updated, name)
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"updated": updated,
		"jobs":    h.scheduler.GetAllJobStatuses(),
	})
}

// EnableJobHandler enables a scheduled job
// POST /api/scheduler/enable?name=
func (h *SchedulerHandler) EnableJobHandler(w http.ResponseWriter, r *http.Request) {
	h.toggleJob(w, r, true)
}

// DisableJobHandler disables a scheduled job. Disabled jobs keep their
// registration and can still be triggered manually.
// POST /api/scheduler/disable?name=
func (h *SchedulerHandler) DisableJobHandler(w http.ResponseWriter, r *http.Request) {
	h.toggleJob(w, r, false)
}

func (h *SchedulerHandler) toggleJob(w http.ResponseWriter, r *http.Request, enable bool) {
	name, ok := RequireQueryParam(w, r, "name")
	if !ok {
		return
	}

	var err error
	action := "disabled"
	if enable {
		err = h.scheduler.EnableJob(name)
		action = "enabled"
	} else {
		err = h.scheduler.DisableJob(name)
	}
	if err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}

	h.logger.Info().Str("job", name).Str("action", action).Msg("Scheduled job toggled")
	WriteSuccess(w, "Job "+name+" "+action)
}

// TriggerReconcileHandler runs a full reconciliation pass immediately
// POST /api/reconcile/trigger
func (h *SchedulerHandler) TriggerReconcileHandler(w http.ResponseWriter, r *http.Request) {
	summary, err := h.reconciler.RunAll(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Manual reconciliation failed")
		WriteError(w, http.StatusInternalServerError, "Reconciliation failed: "+err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"summary": summary,
	})
}
