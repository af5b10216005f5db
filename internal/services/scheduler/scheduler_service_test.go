package scheduler

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func newTestScheduler() *Service {
	return NewService(arbor.NewLogger()).(*Service)
}

func TestRegisterJob(t *testing.T) {
	svc := newTestScheduler()

	err := svc.RegisterJob("test-job", "*/10 * * * *", "Test job", func() error { return nil })
	require.NoError(t, err)

	status, err := svc.GetJobStatus("test-job")
	require.NoError(t, err)
	assert.Equal(t, "test-job", status.Name)
	assert.Equal(t, "*/10 * * * *", status.Schedule)
	assert.Equal(t, "Test job", status.Description)
	assert.True(t, status.Enabled)
	assert.Nil(t, status.LastRun)
	assert.False(t, status.IsRunning)
}

func TestRegisterJob_Duplicate(t *testing.T) {
	svc := newTestScheduler()

	require.NoError(t, svc.RegisterJob("dup", "*/10 * * * *", "", func() error { return nil }))
	err := svc.RegisterJob("dup", "*/15 * * * *", "", func() error { return nil })
	assert.ErrorContains(t, err, "already registered")
}

func TestRegisterJob_InvalidSchedule(t *testing.T) {
	svc := newTestScheduler()

	// Malformed expression
	err := svc.RegisterJob("bad", "not a cron", "", func() error { return nil })
	assert.ErrorContains(t, err, "invalid schedule")

	// Below the 5-minute floor
	err = svc.RegisterJob("fast", "* * * * *", "", func() error { return nil })
	assert.ErrorContains(t, err, "invalid schedule")
}

func TestEnableDisableJob(t *testing.T) {
	svc := newTestScheduler()
	require.NoError(t, svc.RegisterJob("toggle", "*/10 * * * *", "", func() error { return nil }))

	require.NoError(t, svc.DisableJob("toggle"))
	status, err := svc.GetJobStatus("toggle")
	require.NoError(t, err)
	assert.False(t, status.Enabled)
	assert.Nil(t, status.NextRun)

	// Disabling again is a no-op
	require.NoError(t, svc.DisableJob("toggle"))

	require.NoError(t, svc.EnableJob("toggle"))
	status, err = svc.GetJobStatus("toggle")
	require.NoError(t, err)
	assert.True(t, status.Enabled)

	// Enabling again is a no-op
	require.NoError(t, svc.EnableJob("toggle"))
}

func TestEnableDisableJob_NotFound(t *testing.T) {
	svc := newTestScheduler()

	assert.ErrorContains(t, svc.EnableJob("ghost"), "not found")
	assert.ErrorContains(t, svc.DisableJob("ghost"), "not found")
	assert.ErrorContains(t, svc.TriggerJob("ghost"), "not found")
	assert.ErrorContains(t, svc.UpdateJobSchedule("ghost", "*/10 * * * *"), "not found")
}

func TestUpdateJobSchedule(t *testing.T) {
	svc := newTestScheduler()
	require.NoError(t, svc.RegisterJob("resched", "*/10 * * * *", "", func() error { return nil }))

	require.NoError(t, svc.UpdateJobSchedule("resched", "*/30 * * * *"))
	status, err := svc.GetJobStatus("resched")
	require.NoError(t, err)
	assert.Equal(t, "*/30 * * * *", status.Schedule)

	// Invalid expression leaves the old schedule in place
	err = svc.UpdateJobSchedule("resched", "bogus")
	assert.ErrorContains(t, err, "invalid schedule")
	status, err = svc.GetJobStatus("resched")
	require.NoError(t, err)
	assert.Equal(t, "*/30 * * * *", status.Schedule)
}

func TestUpdateJobSchedule_DisabledJob(t *testing.T) {
	svc := newTestScheduler()
	require.NoError(t, svc.RegisterJob("resched", "*/10 * * * *", "", func() error { return nil }))
	require.NoError(t, svc.DisableJob("resched"))

	// Disabled jobs keep the new schedule for when they are re-enabled
	require.NoError(t, svc.UpdateJobSchedule("resched", "*/20 * * * *"))
	require.NoError(t, svc.EnableJob("resched"))

	status, err := svc.GetJobStatus("resched")
	require.NoError(t, err)
	assert.Equal(t, "*/20 * * * *", status.Schedule)
	assert.True(t, status.Enabled)
}

func TestTriggerJob(t *testing.T) {
	svc := newTestScheduler()

	done := make(chan struct{})
	var runs atomic.Int32
	require.NoError(t, svc.RegisterJob("manual", "*/10 * * * *", "", func() error {
		runs.Add(1)
		close(done)
		return nil
	}))

	require.NoError(t, svc.TriggerJob("manual"))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not run")
	}
	assert.Equal(t, int32(1), runs.Load())

	// LastRun is recorded after execution
	assert.Eventually(t, func() bool {
		status, err := svc.GetJobStatus("manual")
		return err == nil && status.LastRun != nil && !status.IsRunning
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTriggerJob_HandlerError(t *testing.T) {
	svc := newTestScheduler()

	require.NoError(t, svc.RegisterJob("failing", "*/10 * * * *", "", func() error {
		return errors.New("tick exploded")
	}))
	require.NoError(t, svc.TriggerJob("failing"))

	assert.Eventually(t, func() bool {
		status, err := svc.GetJobStatus("failing")
		return err == nil && status.LastError == "tick exploded"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTriggerJob_PanicRecovered(t *testing.T) {
	svc := newTestScheduler()

	require.NoError(t, svc.RegisterJob("panicky", "*/10 * * * *", "", func() error {
		panic("boom")
	}))
	require.NoError(t, svc.TriggerJob("panicky"))

	assert.Eventually(t, func() bool {
		status, err := svc.GetJobStatus("panicky")
		return err == nil && status.LastError == "panic: boom" && !status.IsRunning
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStartStop(t *testing.T) {
	svc := newTestScheduler()
	require.NoError(t, svc.RegisterJob("idle", "*/10 * * * *", "", func() error { return nil }))

	assert.False(t, svc.IsRunning())
	require.NoError(t, svc.Start())
	assert.True(t, svc.IsRunning())

	// Double start is rejected
	assert.ErrorContains(t, svc.Start(), "already running")

	require.NoError(t, svc.Stop())
	assert.False(t, svc.IsRunning())

	// Stopping a stopped scheduler is a no-op
	require.NoError(t, svc.Stop())
}

func TestGetAllJobStatuses(t *testing.T) {
	svc := newTestScheduler()
	require.NoError(t, svc.RegisterJob("one", "*/10 * * * *", "first", func() error { return nil }))
	require.NoError(t, svc.RegisterJob("two", "*/15 * * * *", "second", func() error { return nil }))

	statuses := svc.GetAllJobStatuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, "first", statuses["one"].Description)
	assert.Equal(t, "second", statuses["two"].Description)
}
