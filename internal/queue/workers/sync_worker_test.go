package workers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/models"
)

// stubSyncService records which pipeline was invoked and for which server.
type stubSyncService struct {
	called   string
	serverID string
	summary  *interfaces.SyncSummary
	err      error
}

func (s *stubSyncService) SyncServer(ctx context.Context, serverID string) (*interfaces.SyncSummary, error) {
	s.called, s.serverID = "full", serverID
	return s.summary, s.err
}

func (s *stubSyncService) SyncUsers(ctx context.Context, serverID string) (*interfaces.SyncSummary, error) {
	s.called, s.serverID = "users", serverID
	return s.summary, s.err
}

func (s *stubSyncService) SyncActivities(ctx context.Context, serverID string) (*interfaces.SyncSummary, error) {
	s.called, s.serverID = "activities", serverID
	return s.summary, s.err
}

func syncJob(serverID string) *models.Job {
	payload := map[string]interface{}{}
	if serverID != "" {
		payload[models.PayloadServerID] = serverID
	}
	return models.NewJob(models.JobNameMediaSync, payload, nil)
}

func TestSyncWorker_Execute(t *testing.T) {
	svc := &stubSyncService{summary: &interfaces.SyncSummary{
		ServerID:   "srv-1",
		Users:      3,
		Libraries:  2,
		Items:      150,
		Activities: 40,
		Sessions:   12,
	}}
	worker := NewSyncWorker(svc, arbor.NewLogger())

	assert.Equal(t, models.JobNameMediaSync, worker.GetJobName())

	payload, err := worker.Execute(context.Background(), syncJob("srv-1"))
	require.NoError(t, err)
	assert.Equal(t, "full", svc.called)
	assert.Equal(t, "srv-1", svc.serverID)
	assert.Equal(t, 150, payload["items"])
	assert.Equal(t, 3, payload["users"])
	assert.Equal(t, 12, payload["sessions"])
	assert.NotContains(t, payload, "skipped")
}

func TestSyncWorker_SkippedServer(t *testing.T) {
	svc := &stubSyncService{summary: &interfaces.SyncSummary{ServerID: "srv-1", Skipped: true}}
	worker := NewSyncWorker(svc, arbor.NewLogger())

	payload, err := worker.Execute(context.Background(), syncJob("srv-1"))
	require.NoError(t, err)
	assert.Equal(t, true, payload["skipped"])
}

func TestSyncWorker_Error(t *testing.T) {
	svc := &stubSyncService{err: errors.New("connection refused")}
	worker := NewSyncWorker(svc, arbor.NewLogger())

	payload, err := worker.Execute(context.Background(), syncJob("srv-1"))
	assert.ErrorContains(t, err, "connection refused")
	assert.Nil(t, payload, "a run that failed before doing anything carries no counters")
}

func TestSyncWorker_Validate(t *testing.T) {
	worker := NewSyncWorker(&stubSyncService{}, arbor.NewLogger())

	assert.NoError(t, worker.Validate(syncJob("srv-1")))
	assert.ErrorContains(t, worker.Validate(syncJob("")), models.PayloadServerID)
}

func TestUserSyncWorker_Execute(t *testing.T) {
	svc := &stubSyncService{summary: &interfaces.SyncSummary{ServerID: "srv-1", Users: 5, Sessions: 2}}
	worker := NewUserSyncWorker(svc, arbor.NewLogger())

	assert.Equal(t, models.JobNameUserSync, worker.GetJobName())
	assert.ErrorContains(t, worker.Validate(syncJob("")), models.PayloadServerID)

	payload, err := worker.Execute(context.Background(), syncJob("srv-1"))
	require.NoError(t, err)
	assert.Equal(t, "users", svc.called)
	assert.Equal(t, 5, payload["users"])
	assert.Equal(t, 2, payload["sessions"])
}

func TestActivitySyncWorker_Execute(t *testing.T) {
	svc := &stubSyncService{summary: &interfaces.SyncSummary{ServerID: "srv-1", Activities: 9}}
	worker := NewActivitySyncWorker(svc, arbor.NewLogger())

	assert.Equal(t, models.JobNameActivitySync, worker.GetJobName())
	assert.ErrorContains(t, worker.Validate(syncJob("")), models.PayloadServerID)

	payload, err := worker.Execute(context.Background(), syncJob("srv-1"))
	require.NoError(t, err)
	assert.Equal(t, "activities", svc.called)
	assert.Equal(t, 9, payload["activities"])
}
