package sync

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/mediaserver"
	"github.com/ternarybob/specto/internal/models"
)

// sessionDedupWindow bounds how far an inferred session may sit from a real
// recorded session for the same (server, user, item) before it is treated
// as a duplicate of that session.
const sessionDedupWindow = 24 * time.Hour

// SyncUsers refreshes users and their inferred play sessions only, without
// touching the server's pipeline state.
func (s *Service) SyncUsers(ctx context.Context, serverID string) (*interfaces.SyncSummary, error) {
	server, err := s.servers.GetServer(ctx, serverID)
	if err != nil {
		if errors.Is(err, models.ErrServerNotFound) {
			return &interfaces.SyncSummary{ServerID: serverID, Skipped: true}, nil
		}
		return nil, databaseError(err)
	}

	client := s.factory(server.BaseURL, server.APIKey)
	users, sessions, err := s.syncUsers(ctx, client, serverID)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("server", server.Name).
		Int("users", users).
		Int("sessions", sessions).
		Msg("User sync completed")
	return &interfaces.SyncSummary{ServerID: serverID, Users: users, Sessions: sessions}, nil
}

// syncUsers upserts the server's user accounts and derives inferred play
// sessions from each user's played items. Shared by the full pipeline's
// users stage and the partial user-sync flow.
func (s *Service) syncUsers(ctx context.Context, client mediaserver.Client, serverID string) (int, int, error) {
	dtos, err := client.GetUsers(ctx)
	if err != nil {
		return 0, 0, err
	}

	users := make([]*models.MediaUser, 0, len(dtos))
	for _, dto := range dtos {
		users = append(users, userModel(serverID, dto))
	}
	if err := s.media.StoreUsers(ctx, users); err != nil {
		return 0, 0, databaseError(err)
	}

	sessions := 0
	for _, dto := range dtos {
		created, err := s.inferSessions(ctx, client, serverID, dto)
		if err != nil {
			return len(users), sessions, err
		}
		sessions += created
	}
	return len(users), sessions, nil
}

// inferSessions reconstructs play sessions from a user's last-played item
// data. The deterministic session ID makes re-derivation idempotent, and a
// real session within the dedup window suppresses the inferred one.
func (s *Service) inferSessions(ctx context.Context, client mediaserver.Client, serverID string, user mediaserver.User) (int, error) {
	played, err := client.GetPlayedItems(ctx, user.ID)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, item := range played {
		if item.UserData == nil || item.UserData.LastPlayedDate == nil {
			continue
		}
		lastPlayed := item.UserData.LastPlayedDate.UTC()

		near, err := s.sessions.HasSessionNear(ctx, serverID, user.ID, item.ID, lastPlayed, sessionDedupWindow)
		if err != nil {
			return created, databaseError(err)
		}
		if near {
			continue
		}

		session := models.NewInferredSession(serverID, user.ID, item.ID, item.Name, lastPlayed)
		if err := s.sessions.StoreSession(ctx, session); err != nil {
			return created, databaseError(err)
		}
		created++
	}
	return created, nil
}
