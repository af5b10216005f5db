package models

import "time"

// JobEventType identifies a job lifecycle transition broadcast to UI clients.
type JobEventType string

const (
	JobEventEnqueued  JobEventType = "job_enqueued"
	JobEventStarted   JobEventType = "job_started"
	JobEventCompleted JobEventType = "job_completed"
	JobEventFailed    JobEventType = "job_failed"
	JobEventCancelled JobEventType = "job_cancelled"

	// JobEventEmbeddingsUpdated signals that an embedding run wrote new
	// vectors and cached query results should be refreshed.
	JobEventEmbeddingsUpdated JobEventType = "embeddings_updated"
)

// JobEvent is the payload pushed over the websocket when a job changes state.
// Clients use it as an invalidation signal to refresh job and server views.
type JobEvent struct {
	Type      JobEventType           `json:"type"`
	JobID     string                 `json:"job_id"`
	JobName   string                 `json:"job_name"`
	State     JobState               `json:"state"`
	ServerID  string                 `json:"server_id,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// NewJobEvent builds an event for a job transition, lifting the server ID out
// of the payload when present.
func NewJobEvent(eventType JobEventType, job *Job) *JobEvent {
	event := &JobEvent{
		Type:      eventType,
		JobID:     job.ID,
		JobName:   job.Name,
		State:     job.State,
		Error:     job.LastError,
		Timestamp: time.Now().UTC(),
	}
	if serverID, ok := job.GetPayloadString(PayloadServerID); ok {
		event.ServerID = serverID
	}
	return event
}
