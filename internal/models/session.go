package models

import (
	"fmt"
	"time"
)

// PlaySession is one playback session for a (server, user, item) triple.
// Real sessions are recorded from live playback reporting (outside this
// core); inferred sessions are reconstructed from the server's last-played
// user data during user sync.
type PlaySession struct {
	ID       string `badgerhold:"key" json:"id"`
	ServerID string `badgerhold:"index" json:"server_id"`
	UserID   string `json:"user_id"`
	ItemID   string `json:"item_id"`
	ItemName string `json:"item_name,omitempty"`

	StartedAt time.Time `json:"started_at"`
	Inferred  bool      `json:"inferred"`

	CreatedAt time.Time `json:"created_at"`
}

// InferredSessionID builds the deterministic identity for a session derived
// from last-played user data. The timestamp is rendered RFC3339 in UTC so
// the same instant always yields the same key, which makes creation
// idempotent.
func InferredSessionID(serverID, userID, itemID string, lastPlayed time.Time) string {
	return fmt.Sprintf("inferred:%s:%s:%s:%s", serverID, userID, itemID, lastPlayed.UTC().Format(time.RFC3339))
}

// NewInferredSession builds a session record under the deterministic key.
func NewInferredSession(serverID, userID, itemID, itemName string, lastPlayed time.Time) *PlaySession {
	return &PlaySession{
		ID:        InferredSessionID(serverID, userID, itemID, lastPlayed),
		ServerID:  serverID,
		UserID:    userID,
		ItemID:    itemID,
		ItemName:  itemName,
		StartedAt: lastPlayed.UTC(),
		Inferred:  true,
		CreatedAt: time.Now().UTC(),
	}
}
