package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// ServerStorage implements the ServerStorage interface for Badger
type ServerStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewServerStorage creates a new ServerStorage instance
func NewServerStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ServerStorage {
	return &ServerStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ServerStorage) StoreServer(ctx context.Context, server *models.MediaServer) error {
	if server.ID == "" {
		return fmt.Errorf("server ID is required")
	}

	server.UpdatedAt = time.Now().UTC()

	if err := s.db.Store().Upsert(server.ID, server); err != nil {
		s.logger.Error().Err(err).Str("server_id", server.ID).Msg("BadgerDB: Failed to upsert server")
		return fmt.Errorf("failed to save server: %w", err)
	}

	s.logger.Trace().Str("server_id", server.ID).Str("name", server.Name).Msg("BadgerDB: Server stored")
	return nil
}

func (s *ServerStorage) GetServer(ctx context.Context, id string) (*models.MediaServer, error) {
	var server models.MediaServer
	if err := s.db.Store().Get(id, &server); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("%w: %s", models.ErrServerNotFound, id)
		}
		return nil, fmt.Errorf("failed to get server: %w", err)
	}
	return &server, nil
}

func (s *ServerStorage) GetAllServers(ctx context.Context) ([]*models.MediaServer, error) {
	var servers []models.MediaServer
	if err := s.db.Store().Find(&servers, nil); err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}

	result := make([]*models.MediaServer, 0, len(servers))
	for i := range servers {
		result = append(result, &servers[i])
	}
	return result, nil
}

func (s *ServerStorage) DeleteServer(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.MediaServer{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("%w: %s", models.ErrServerNotFound, id)
		}
		return fmt.Errorf("failed to delete server: %w", err)
	}

	s.logger.Debug().Str("server_id", id).Msg("BadgerDB: Server deleted")
	return nil
}

func (s *ServerStorage) CountServers(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.MediaServer{}, nil)
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

// update loads a server, applies fn, and writes it back. Callers get the
// not-found sentinel when the server disappeared between load and call.
func (s *ServerStorage) update(id string, fn func(*models.MediaServer)) error {
	var server models.MediaServer
	if err := s.db.Store().Get(id, &server); err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("%w: %s", models.ErrServerNotFound, id)
		}
		return fmt.Errorf("failed to get server: %w", err)
	}

	fn(&server)
	server.UpdatedAt = time.Now().UTC()

	if err := s.db.Store().Upsert(server.ID, &server); err != nil {
		return fmt.Errorf("failed to update server: %w", err)
	}
	return nil
}

func (s *ServerStorage) UpdateSyncStatus(ctx context.Context, id string, status models.SyncStatus, syncError string) error {
	s.logger.Trace().
		Str("server_id", id).
		Str("status", string(status)).
		Msg("BadgerDB: UpdateSyncStatus")

	return s.update(id, func(server *models.MediaServer) {
		server.SyncStatus = status
		server.SyncError = syncError
	})
}

func (s *ServerStorage) UpdateSyncProgress(ctx context.Context, id string, progress models.SyncProgress) error {
	s.logger.Trace().
		Str("server_id", id).
		Str("progress", string(progress)).
		Msg("BadgerDB: UpdateSyncProgress")

	return s.update(id, func(server *models.MediaServer) {
		server.SyncProgress = progress
	})
}

// MarkSyncStarted enters the syncing state at its first stage. SyncError
// is cleared so a previous failure does not linger next to a live run.
func (s *ServerStorage) MarkSyncStarted(ctx context.Context, id string, at time.Time) error {
	at = at.UTC()
	return s.update(id, func(server *models.MediaServer) {
		server.SyncStatus = models.SyncStatusSyncing
		server.SyncProgress = models.SyncProgressUsers
		server.LastSyncStarted = &at
		server.SyncError = ""
	})
}

func (s *ServerStorage) MarkSyncCompleted(ctx context.Context, id string, at time.Time) error {
	at = at.UTC()
	return s.update(id, func(server *models.MediaServer) {
		server.SyncStatus = models.SyncStatusCompleted
		server.SyncProgress = models.SyncProgressCompleted
		server.LastSyncCompleted = &at
		server.SyncError = ""
	})
}

func (s *ServerStorage) GetServersBySyncStatus(ctx context.Context, status models.SyncStatus) ([]*models.MediaServer, error) {
	var servers []models.MediaServer
	if err := s.db.Store().Find(&servers, badgerhold.Where("SyncStatus").Eq(status)); err != nil {
		return nil, fmt.Errorf("failed to find servers by sync status: %w", err)
	}

	result := make([]*models.MediaServer, 0, len(servers))
	for i := range servers {
		result = append(result, &servers[i])
	}
	return result, nil
}

// ResetInterruptedSyncs moves every syncing server back to pending. Called
// once at startup: a server still marked syncing at boot was orphaned by a
// dead process, and pending makes it eligible for the next scheduler pass.
func (s *ServerStorage) ResetInterruptedSyncs(ctx context.Context) (int, error) {
	servers, err := s.GetServersBySyncStatus(ctx, models.SyncStatusSyncing)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, server := range servers {
		err := s.update(server.ID, func(srv *models.MediaServer) {
			srv.SyncStatus = models.SyncStatusPending
			srv.SyncProgress = models.SyncProgressNotStarted
		})
		if err != nil {
			s.logger.Warn().Err(err).Str("server_id", server.ID).Msg("Failed to reset interrupted sync")
			continue
		}
		count++
	}

	if count > 0 {
		s.logger.Info().Int("count", count).Msg("Reset interrupted syncs to pending")
	}
	return count, nil
}

func (s *ServerStorage) SetEmbeddingStopRequested(ctx context.Context, id string, requested bool) error {
	s.logger.Debug().
		Str("server_id", id).
		Bool("requested", requested).
		Msg("BadgerDB: SetEmbeddingStopRequested")

	return s.update(id, func(server *models.MediaServer) {
		server.EmbeddingStopRequested = requested
	})
}

func (s *ServerStorage) ShouldStop(ctx context.Context, id string) (bool, error) {
	var server models.MediaServer
	if err := s.db.Store().Get(id, &server); err != nil {
		if err == badgerhold.ErrNotFound {
			return false, fmt.Errorf("%w: %s", models.ErrServerNotFound, id)
		}
		return false, fmt.Errorf("failed to get server: %w", err)
	}
	return server.EmbeddingStopRequested, nil
}
