package interfaces

import "time"

// ScheduledJobStatus represents the current status of a scheduled job
type ScheduledJobStatus struct {
	Name        string
	Enabled     bool
	Schedule    string
	Description string
	LastRun     *time.Time
	NextRun     *time.Time
	IsRunning   bool
	LastError   string
}

// SchedulerService manages cron-based scheduling.
// Jobs are registered while the scheduler is stopped; Start arms the cron
// entries and Stop disarms them. A process embedding this service without
// calling Start gets a queue-only deployment.
type SchedulerService interface {
	// Start arms all enabled jobs
	Start() error

	// Stop disarms the scheduler and waits for in-flight handlers
	Stop() error

	// IsRunning returns true if the scheduler is active
	IsRunning() bool

	// RegisterJob registers a new job with the scheduler
	RegisterJob(name, schedule, description string, handler func() error) error

	// EnableJob enables a disabled job
	EnableJob(name string) error

	// DisableJob disables an enabled job
	DisableJob(name string) error

	// TriggerJob runs a registered job immediately, outside its schedule
	TriggerJob(name string) error

	// UpdateJobSchedule replaces a job's cron schedule
	UpdateJobSchedule(name, schedule string) error

	// GetJobStatus returns the status of a specific job
	GetJobStatus(name string) (*ScheduledJobStatus, error)

	// GetAllJobStatuses returns all job statuses
	GetAllJobStatuses() map[string]*ScheduledJobStatus
}
