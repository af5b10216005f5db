// -----------------------------------------------------------------------
// Job Result - Append-only record of job outcomes
// -----------------------------------------------------------------------

package models

import (
	"encoding/gob"
	"time"
)

func init() {
	// Result payloads are stored through badgerhold's gob encoder; the
	// concrete types that appear inside the payload map must be registered.
	gob.Register(map[string]interface{}{})
	gob.Register([]interface{}{})
	gob.Register(time.Time{})
}

// JobResultStatus is the observability-level status of a job run,
// independent of the queue's own state machine.
type JobResultStatus string

const (
	JobResultProcessing JobResultStatus = "processing"
	JobResultCompleted  JobResultStatus = "completed"
	JobResultFailed     JobResultStatus = "failed"
)

// Well-known payload keys. Long-running jobs write PayloadLastHeartbeat
// (RFC3339) so the reconciler can distinguish "still working" from
// "crashed mid-run"; the reconciler writes the cleanup keys when it
// force-fails a stale entry.
const (
	PayloadLastHeartbeat   = "lastHeartbeat"
	PayloadCleanedUpBy     = "cleanedUpBy"
	PayloadStaleDurationMs = "staleDurationMs"
)

// MaxProcessingTimeMs caps the processing time the reconciler records for a
// force-failed run, so an entry stale for days does not report a
// nonsensical duration. One hour.
const MaxProcessingTimeMs int64 = 3600000

// JobResult is one row of the job result log: created when a run starts,
// updated by the run itself (heartbeat, terminal transition), force-failed
// by the reconciler when the heartbeat goes stale, and deleted only by the
// retention sweep.
type JobResult struct {
	JobID   string          `badgerhold:"key" json:"job_id"`
	JobName string          `badgerhold:"index" json:"job_name"`
	Status  JobResultStatus `badgerhold:"index" json:"status"`

	Payload          map[string]interface{} `json:"payload,omitempty"`
	Error            string                 `json:"error,omitempty"`
	ProcessingTimeMs int64                  `json:"processing_time_ms"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewJobResult creates a processing entry for a starting run.
func NewJobResult(jobID, jobName string) *JobResult {
	now := time.Now().UTC()
	return &JobResult{
		JobID:     jobID,
		JobName:   jobName,
		Status:    JobResultProcessing,
		Payload:   make(map[string]interface{}),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SetHeartbeat records a liveness marker in the payload.
func (r *JobResult) SetHeartbeat(at time.Time) {
	if r.Payload == nil {
		r.Payload = make(map[string]interface{})
	}
	r.Payload[PayloadLastHeartbeat] = at.UTC().Format(time.RFC3339)
	r.UpdatedAt = time.Now().UTC()
}

// LastHeartbeatTime parses the heartbeat marker out of the payload.
// Returns nil when the run never emitted one.
func (r *JobResult) LastHeartbeatTime() *time.Time {
	if r.Payload == nil {
		return nil
	}
	raw, ok := r.Payload[PayloadLastHeartbeat]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil
		}
		return &t
	case time.Time:
		return &v
	default:
		return nil
	}
}

// MarkCompleted transitions the entry to completed and merges the final
// payload counters.
func (r *JobResult) MarkCompleted(payload map[string]interface{}, processingTime time.Duration) {
	r.Status = JobResultCompleted
	r.mergePayload(payload)
	r.ProcessingTimeMs = processingTime.Milliseconds()
	r.UpdatedAt = time.Now().UTC()
}

// MarkFailed transitions the entry to failed with a human-readable error.
func (r *JobResult) MarkFailed(errMsg string, payload map[string]interface{}, processingTime time.Duration) {
	r.Status = JobResultFailed
	r.Error = errMsg
	r.mergePayload(payload)
	r.ProcessingTimeMs = processingTime.Milliseconds()
	r.UpdatedAt = time.Now().UTC()
}

func (r *JobResult) mergePayload(payload map[string]interface{}) {
	if len(payload) == 0 {
		return
	}
	if r.Payload == nil {
		r.Payload = make(map[string]interface{})
	}
	for k, v := range payload {
		r.Payload[k] = v
	}
}
