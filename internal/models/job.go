// -----------------------------------------------------------------------
// Queue Job - Durable job record owned by the job queue
// -----------------------------------------------------------------------

package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobState represents the queue-level lifecycle state of a job.
//
// State transitions:
//
//	created -> active -> completed | failed | cancelled
//	active  -> retry  -> active (while RetryCount < RetryLimit)
//	created | retry -> cancelled | expired
type JobState string

const (
	JobStateCreated   JobState = "created"
	JobStateRetry     JobState = "retry"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateCancelled JobState = "cancelled"
	JobStateExpired   JobState = "expired"
)

// IsTerminal returns true when no further delivery of the job can occur.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateCancelled, JobStateExpired:
		return true
	}
	return false
}

// Job names understood by the worker pool. The scheduler and the operator
// API enqueue by these names; each maps to one registered executor.
const (
	JobNameMediaSync     = "media-sync"
	JobNameUserSync      = "user-sync"
	JobNameActivitySync  = "activity-sync"
	JobNameEmbeddingSync = "embedding-sync"
	JobNameAddServer     = "add-server"
)

// Payload keys shared between enqueuers and executors.
const (
	PayloadServerID    = "server_id"
	PayloadManualStart = "manual_start"

	// add-server job payload, written by the operator API handler
	PayloadServerName = "name"
	PayloadBaseURL    = "base_url"
	PayloadAPIKey     = "api_key"
)

// Job is the durable record stored by the queue. The payload is an
// immutable snapshot taken at enqueue time; everything else is queue
// bookkeeping.
type Job struct {
	ID      string                 `json:"id"`
	Name    string                 `json:"name"`
	Payload map[string]interface{} `json:"payload"`
	State   JobState               `json:"state"`

	// Delivery policy
	DedupKey          string     `json:"dedup_key,omitempty"`
	RetryLimit        int        `json:"retry_limit"`
	RetryCount        int        `json:"retry_count"`
	RetryDelaySeconds int        `json:"retry_delay_seconds"`
	VisibleAt         time.Time  `json:"visible_at"`
	ExpireAt          *time.Time `json:"expire_at,omitempty"`

	// Timestamps
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	LastError string `json:"last_error,omitempty"`
}

// EnqueueOptions control expiry, retry and dedup policy for a single
// enqueue. The zero value means no expiry, no retries, no dedup.
type EnqueueOptions struct {
	ExpireInMinutes   int
	RetryLimit        int
	RetryDelaySeconds int
	DedupKey          string
}

// NewJob builds a job in the created state with the given policy applied.
func NewJob(name string, payload map[string]interface{}, opts *EnqueueOptions) *Job {
	if payload == nil {
		payload = make(map[string]interface{})
	}

	now := time.Now().UTC()
	job := &Job{
		ID:        uuid.New().String(),
		Name:      name,
		Payload:   payload,
		State:     JobStateCreated,
		VisibleAt: now,
		CreatedAt: now,
	}

	if opts != nil {
		job.DedupKey = opts.DedupKey
		job.RetryLimit = opts.RetryLimit
		job.RetryDelaySeconds = opts.RetryDelaySeconds
		if opts.ExpireInMinutes > 0 {
			expireAt := now.Add(time.Duration(opts.ExpireInMinutes) * time.Minute)
			job.ExpireAt = &expireAt
		}
	}

	return job
}

// IsExpired reports whether the job's expiry window has passed.
func (j *Job) IsExpired(now time.Time) bool {
	return j.ExpireAt != nil && now.After(*j.ExpireAt)
}

// GetPayloadString retrieves a string value from the payload.
func (j *Job) GetPayloadString(key string) (string, bool) {
	val, ok := j.Payload[key]
	if !ok {
		return "", false
	}
	str, ok := val.(string)
	return str, ok
}

// GetPayloadBool retrieves a bool value from the payload.
func (j *Job) GetPayloadBool(key string) (bool, bool) {
	val, ok := j.Payload[key]
	if !ok {
		return false, false
	}
	b, ok := val.(bool)
	return b, ok
}

// GetPayloadInt retrieves an int value from the payload. JSON unmarshaling
// turns numbers into float64, so both forms are accepted.
func (j *Job) GetPayloadInt(key string) (int, bool) {
	val, ok := j.Payload[key]
	if !ok {
		return 0, false
	}
	switch v := val.(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// ToJSON serializes the job for queue storage.
func (j *Job) ToJSON() ([]byte, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	return data, nil
}

// JobFromJSON deserializes a job from queue storage.
func JobFromJSON(data []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// Validate checks the job is well-formed enough to execute.
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if j.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if j.Payload == nil {
		return fmt.Errorf("job payload cannot be nil")
	}
	return nil
}
