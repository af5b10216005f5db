// -----------------------------------------------------------------------
// Media Server - Managed external server with per-server sync state
// -----------------------------------------------------------------------

package models

import (
	"time"

	"github.com/google/uuid"
)

// SyncStatus is the coarse per-server sync state.
type SyncStatus string

const (
	SyncStatusPending   SyncStatus = "pending"
	SyncStatusSyncing   SyncStatus = "syncing"
	SyncStatusCompleted SyncStatus = "completed"
	SyncStatusFailed    SyncStatus = "failed"
)

// SyncProgress is the fine-grained stage within a syncing run. Stages
// advance strictly in declaration order.
type SyncProgress string

const (
	SyncProgressNotStarted SyncProgress = "not_started"
	SyncProgressUsers      SyncProgress = "users"
	SyncProgressLibraries  SyncProgress = "libraries"
	SyncProgressItems      SyncProgress = "items"
	SyncProgressActivities SyncProgress = "activities"
	SyncProgressCompleted  SyncProgress = "completed"
)

// Embedding provider tags persisted on the server record.
const (
	EmbeddingProviderOpenAICompatible = "openai-compatible"
	EmbeddingProviderOllama           = "ollama"
)

// NormalizeEmbeddingProvider maps the "openai" alias onto the canonical
// openai-compatible tag. Unknown tags pass through for the validator to
// reject with a descriptive error.
func NormalizeEmbeddingProvider(provider string) string {
	if provider == "openai" {
		return EmbeddingProviderOpenAICompatible
	}
	return provider
}

// MediaServer is one managed external media server. SyncStatus=syncing
// implies LastSyncStarted is set; only one sequential sync should be
// mutating a given server's progress at a time (enforced by scheduler
// eligibility plus queue dedup, not by a lock).
type MediaServer struct {
	ID      string `badgerhold:"key" json:"id"`
	Name    string `json:"name"`
	BaseURL string `json:"base_url"`
	APIKey  string `json:"-"`

	// Sync state, mutated by the sequential pipeline and the reconciler
	SyncStatus        SyncStatus   `badgerhold:"index" json:"sync_status"`
	SyncProgress      SyncProgress `json:"sync_progress"`
	LastSyncStarted   *time.Time   `json:"last_sync_started,omitempty"`
	LastSyncCompleted *time.Time   `json:"last_sync_completed,omitempty"`
	SyncError         string       `json:"sync_error,omitempty"`

	// Embedding configuration, mutated by operator actions
	EmbeddingProvider      string `json:"embedding_provider,omitempty"`
	EmbeddingBaseURL       string `json:"embedding_base_url,omitempty"`
	EmbeddingAPIKey        string `json:"-"`
	EmbeddingModel         string `json:"embedding_model,omitempty"`
	EmbeddingDimensions    int    `json:"embedding_dimensions,omitempty"`
	AutoGenerateEmbeddings bool   `json:"auto_generate_embeddings"`
	EmbeddingStopRequested bool   `json:"embedding_stop_requested"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewMediaServer creates a server record in the pending state.
func NewMediaServer(name, baseURL, apiKey string) *MediaServer {
	now := time.Now().UTC()
	return &MediaServer{
		ID:           uuid.New().String(),
		Name:         name,
		BaseURL:      baseURL,
		APIKey:       apiKey,
		SyncStatus:   SyncStatusPending,
		SyncProgress: SyncProgressNotStarted,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// HasCompleteEmbeddingConfig reports whether the persisted provider
// configuration is sufficient to run an embedding job: base URL and model
// always, an API key when the provider requires one.
func (s *MediaServer) HasCompleteEmbeddingConfig() bool {
	provider := NormalizeEmbeddingProvider(s.EmbeddingProvider)
	switch provider {
	case EmbeddingProviderOpenAICompatible:
		return s.EmbeddingBaseURL != "" && s.EmbeddingModel != "" && s.EmbeddingAPIKey != ""
	case EmbeddingProviderOllama:
		return s.EmbeddingBaseURL != "" && s.EmbeddingModel != ""
	default:
		return false
	}
}

// SyncStartedBefore reports whether the server entered syncing before the
// given cutoff. A nil LastSyncStarted counts as stale: a syncing server
// that never recorded a start time is unaccounted for.
func (s *MediaServer) SyncStartedBefore(cutoff time.Time) bool {
	return s.LastSyncStarted == nil || s.LastSyncStarted.Before(cutoff)
}
