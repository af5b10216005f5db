package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// SessionStorage implements the SessionStorage interface for Badger
type SessionStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewSessionStorage creates a new SessionStorage instance
func NewSessionStorage(db *BadgerDB, logger arbor.ILogger) interfaces.SessionStorage {
	return &SessionStorage{
		db:     db,
		logger: logger,
	}
}

// StoreSession writes a session once. Inferred sessions carry deterministic
// IDs, so replaying the same last-played data is a no-op rather than a
// duplicate row.
func (s *SessionStorage) StoreSession(ctx context.Context, session *models.PlaySession) error {
	if session.ID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.db.Store().Insert(session.ID, session); err != nil {
		if err == badgerhold.ErrKeyExists {
			return nil
		}
		return fmt.Errorf("failed to save session: %w", err)
	}

	s.logger.Trace().
		Str("session_id", session.ID).
		Bool("inferred", session.Inferred).
		Msg("BadgerDB: Session stored")
	return nil
}

func (s *SessionStorage) GetSession(ctx context.Context, id string) (*models.PlaySession, error) {
	var session models.PlaySession
	if err := s.db.Store().Get(id, &session); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("session not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

func (s *SessionStorage) GetSessionsByServer(ctx context.Context, serverID string) ([]*models.PlaySession, error) {
	var sessions []models.PlaySession
	if err := s.db.Store().Find(&sessions, badgerhold.Where("ServerID").Eq(serverID)); err != nil {
		return nil, fmt.Errorf("failed to find sessions: %w", err)
	}

	// Newest first
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.After(sessions[j].StartedAt)
	})

	result := make([]*models.PlaySession, 0, len(sessions))
	for i := range sessions {
		result = append(result, &sessions[i])
	}
	return result, nil
}

func (s *SessionStorage) CountSessionsByServer(ctx context.Context, serverID string) (int, error) {
	count, err := s.db.Store().Count(&models.PlaySession{}, badgerhold.Where("ServerID").Eq(serverID))
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func (s *SessionStorage) DeleteSessionsByServer(ctx context.Context, serverID string) error {
	return s.db.Store().DeleteMatching(&models.PlaySession{}, badgerhold.Where("ServerID").Eq(serverID))
}

// HasSessionNear reports whether a real (non-inferred) session for the same
// server/user/item sits within the window around the given instant. Used to
// avoid inferring a session that playback reporting already recorded.
func (s *SessionStorage) HasSessionNear(ctx context.Context, serverID, userID, itemID string, around time.Time, window time.Duration) (bool, error) {
	var sessions []models.PlaySession
	if err := s.db.Store().Find(&sessions, badgerhold.Where("ServerID").Eq(serverID)); err != nil {
		return false, fmt.Errorf("failed to find sessions: %w", err)
	}

	around = around.UTC()
	for _, session := range sessions {
		if session.Inferred || session.UserID != userID || session.ItemID != itemID {
			continue
		}
		delta := session.StartedAt.Sub(around)
		if delta < 0 {
			delta = -delta
		}
		if delta <= window {
			return true, nil
		}
	}
	return false, nil
}
