package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/models"
	"github.com/ternarybob/specto/internal/services/scheduler"
)

// stubReconciler returns canned reconciliation outcomes.
type stubReconciler struct {
	summary *interfaces.ReconcileSummary
	err     error
	runs    int
}

func (s *stubReconciler) ReconcileStuckSyncs(ctx context.Context) (int, error)   { return 0, nil }
func (s *stubReconciler) ReconcileStaleResults(ctx context.Context) (int, error) { return 0, nil }
func (s *stubReconciler) EnforceRetention(ctx context.Context) (int, error)      { return 0, nil }

func (s *stubReconciler) RunAll(ctx context.Context) (*interfaces.ReconcileSummary, error) {
	s.runs++
	return s.summary, s.err
}

type schedulerHandlerFixture struct {
	handler    *SchedulerHandler
	scheduler  interfaces.SchedulerService
	reconciler *stubReconciler
}

func setupSchedulerHandlerTest(t *testing.T) *schedulerHandlerFixture {
	t.Helper()
	logger := arbor.NewLogger()

	sched := scheduler.NewService(logger)
	require.NoError(t, sched.RegisterJob(models.JobNameMediaSync, "*/15 * * * *", "Enqueue media syncs", func() error { return nil }))
	require.NoError(t, sched.RegisterJob(models.JobNameEmbeddingSync, "*/15 * * * *", "Enqueue embedding runs", func() error { return nil }))

	reconciler := &stubReconciler{summary: &interfaces.ReconcileSummary{}}
	return &schedulerHandlerFixture{
		handler:    NewSchedulerHandler(sched, reconciler, logger),
		scheduler:  sched,
		reconciler: reconciler,
	}
}

func TestSchedulerStatusHandler(t *testing.T) {
	f := setupSchedulerHandlerTest(t)

	req := httptest.NewRequest(http.MethodGet, "/api/scheduler/status", nil)
	rec := httptest.NewRecorder()
	f.handler.GetStatusHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["running"])

	jobs, ok := body["jobs"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, jobs, models.JobNameMediaSync)
	assert.Contains(t, jobs, models.JobNameEmbeddingSync)
}

func TestUpdateSchedulesHandler(t *testing.T) {
	f := setupSchedulerHandlerTest(t)

	payload := `{"` + models.JobNameMediaSync + `":"*/30 * * * *"}`
	req := httptest.NewRequest(http.MethodPost, "/api/scheduler/schedules", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	f.handler.UpdateSchedulesHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	status, err := f.scheduler.GetJobStatus(models.JobNameMediaSync)
	require.NoError(t, err)
	assert.Equal(t, "*/30 * * * *", status.Schedule)
}

func TestUpdateSchedulesHandler_InvalidExpression(t *testing.T) {
	f := setupSchedulerHandlerTest(t)

	// Below the 5-minute floor
	payload := `{"` + models.JobNameMediaSync + `":"* * * * *"}`
	req := httptest.NewRequest(http.MethodPost, "/api/scheduler/schedules", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	f.handler.UpdateSchedulesHandler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	status, err := f.scheduler.GetJobStatus(models.JobNameMediaSync)
	require.NoError(t, err)
	assert.Equal(t, "*/15 * * * *", status.Schedule, "a rejected update leaves the old cadence")
}

func TestUpdateSchedulesHandler_UnknownJob(t *testing.T) {
	f := setupSchedulerHandlerTest(t)

	req := httptest.NewRequest(http.MethodPost, "/api/scheduler/schedules", strings.NewReader(`{"nightly-report":"0 3 * * *"}`))
	rec := httptest.NewRecorder()
	f.handler.UpdateSchedulesHandler(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateSchedulesHandler_AtomicValidation(t *testing.T) {
	f := setupSchedulerHandlerTest(t)

	// One good entry, one bad entry: nothing changes
	payload := `{"` + models.JobNameMediaSync + `":"*/30 * * * *","` + models.JobNameEmbeddingSync + `":"not-cron"}`
	req := httptest.NewRequest(http.MethodPost, "/api/scheduler/schedules", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	f.handler.UpdateSchedulesHandler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	status, err := f.scheduler.GetJobStatus(models.JobNameMediaSync)
	require.NoError(t, err)
	assert.Equal(t, "*/15 * * * *", status.Schedule)
}

func TestUpdateSchedulesHandler_BadBody(t *testing.T) {
	f := setupSchedulerHandlerTest(t)

	for _, payload := range []string{`{}`, `not json`} {
		req := httptest.NewRequest(http.MethodPost, "/api/scheduler/schedules", strings.NewReader(payload))
		rec := httptest.NewRecorder()
		f.handler.UpdateSchedulesHandler(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	}
}

func TestEnableDisableHandlers(t *testing.T) {
	f := setupSchedulerHandlerTest(t)

	req := httptest.NewRequest(http.MethodPost, "/api/scheduler/disable?name="+models.JobNameMediaSync, nil)
	rec := httptest.NewRecorder()
	f.handler.DisableJobHandler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	status, err := f.scheduler.GetJobStatus(models.JobNameMediaSync)
	require.NoError(t, err)
	assert.False(t, status.Enabled)

	req = httptest.NewRequest(http.MethodPost, "/api/scheduler/enable?name="+models.JobNameMediaSync, nil)
	rec = httptest.NewRecorder()
	f.handler.EnableJobHandler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	status, err = f.scheduler.GetJobStatus(models.JobNameMediaSync)
	require.NoError(t, err)
	assert.True(t, status.Enabled)
}

func TestEnableDisableHandlers_Errors(t *testing.T) {
	f := setupSchedulerHandlerTest(t)

	req := httptest.NewRequest(http.MethodPost, "/api/scheduler/enable", nil)
	rec := httptest.NewRecorder()
	f.handler.EnableJobHandler(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/scheduler/disable?name=nightly-report", nil)
	rec = httptest.NewRecorder()
	f.handler.DisableJobHandler(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTriggerReconcileHandler(t *testing.T) {
	f := setupSchedulerHandlerTest(t)
	f.reconciler.summary = &interfaces.ReconcileSummary{
		StuckSyncs:     1,
		StaleResults:   2,
		DeletedResults: 3,
		ExpiredJobs:    4,
	}

	req := httptest.NewRequest(http.MethodPost, "/api/reconcile/trigger", nil)
	rec := httptest.NewRecorder()
	f.handler.TriggerReconcileHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.reconciler.runs)

	body := decodeBody(t, rec)
	summary, ok := body["summary"].(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 1, summary["stuck_syncs"])
	assert.EqualValues(t, 3, summary["deleted_results"])
}

func TestTriggerReconcileHandler_Error(t *testing.T) {
	f := setupSchedulerHandlerTest(t)
	f.reconciler.err = errors.New("storage unavailable")

	req := httptest.NewRequest(http.MethodPost, "/api/reconcile/trigger", nil)
	rec := httptest.NewRecorder()
	f.handler.TriggerReconcileHandler(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
