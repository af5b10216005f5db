// -----------------------------------------------------------------------
// Sequential Sync Pipeline - users, libraries, items, activities
// -----------------------------------------------------------------------

package sync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/mediaserver"
	"github.com/ternarybob/specto/internal/metrics"
	"github.com/ternarybob/specto/internal/models"
)

// Service runs the per-server sync pipeline against the external media
// server API. One run mutates one server's sync state; mutual exclusion
// comes from scheduler eligibility plus queue dedup, not a lock, so two
// racing runs are possible but converge on the same upserted data.
type Service struct {
	servers  interfaces.ServerStorage
	media    interfaces.MediaStorage
	sessions interfaces.SessionStorage
	factory  mediaserver.Factory
	logger   arbor.ILogger
}

// NewService wires the pipeline against storage and a client factory. The
// factory is called per run with the server's stored connection settings.
func NewService(storage interfaces.StorageManager, factory mediaserver.Factory, logger arbor.ILogger) *Service {
	return &Service{
		servers:  storage.ServerStorage(),
		media:    storage.MediaStorage(),
		sessions: storage.SessionStorage(),
		factory:  factory,
		logger:   logger,
	}
}

// databaseError marks a storage failure in the operator-facing form
// recorded in SyncError, distinct from the media server's API errors.
func databaseError(err error) error {
	return fmt.Errorf("Database error: %v", err)
}

// SyncServer runs the full pipeline: users, libraries, items per library,
// activities. Progress advances only after each stage's upsert succeeds;
// the first failure marks the server failed and stops the run.
func (s *Service) SyncServer(ctx context.Context, serverID string) (*interfaces.SyncSummary, error) {
	server, err := s.servers.GetServer(ctx, serverID)
	if err != nil {
		if errors.Is(err, models.ErrServerNotFound) {
			s.logger.Info().Str("server_id", serverID).Msg("Server deleted before sync started, skipping")
			return &interfaces.SyncSummary{ServerID: serverID, Skipped: true}, nil
		}
		return nil, databaseError(err)
	}

	if err := s.servers.MarkSyncStarted(ctx, serverID, time.Now().UTC()); err != nil {
		if errors.Is(err, models.ErrServerNotFound) {
			return &interfaces.SyncSummary{ServerID: serverID, Skipped: true}, nil
		}
		return nil, databaseError(err)
	}

	s.logger.Info().Str("server", server.Name).Str("server_id", serverID).Msg("Full sync started")

	client := s.factory(server.BaseURL, server.APIKey)
	summary := &interfaces.SyncSummary{ServerID: serverID}

	stageStart := time.Now()
	users, sessions, err := s.syncUsers(ctx, client, serverID)
	if err != nil {
		return s.abort(ctx, serverID, summary, err)
	}
	summary.Users, summary.Sessions = users, sessions
	metrics.RecordSyncStage("users", time.Since(stageStart))
	if err := s.advance(ctx, serverID, models.SyncProgressLibraries); err != nil {
		return s.abort(ctx, serverID, summary, err)
	}

	stageStart = time.Now()
	libraries, err := s.syncLibraries(ctx, client, serverID)
	if err != nil {
		return s.abort(ctx, serverID, summary, err)
	}
	summary.Libraries = len(libraries)
	metrics.RecordSyncStage("libraries", time.Since(stageStart))
	if err := s.advance(ctx, serverID, models.SyncProgressItems); err != nil {
		return s.abort(ctx, serverID, summary, err)
	}

	stageStart = time.Now()
	items, err := s.syncItems(ctx, client, serverID, libraries)
	if err != nil {
		return s.abort(ctx, serverID, summary, err)
	}
	summary.Items = items
	metrics.RecordSyncStage("items", time.Since(stageStart))
	if err := s.advance(ctx, serverID, models.SyncProgressActivities); err != nil {
		return s.abort(ctx, serverID, summary, err)
	}

	stageStart = time.Now()
	activities, err := s.syncActivities(ctx, client, serverID)
	if err != nil {
		return s.abort(ctx, serverID, summary, err)
	}
	summary.Activities = activities
	metrics.RecordSyncStage("activities", time.Since(stageStart))

	if err := s.servers.MarkSyncCompleted(ctx, serverID, time.Now().UTC()); err != nil {
		return s.abort(ctx, serverID, summary, databaseError(err))
	}

	s.logger.Info().
		Str("server", server.Name).
		Int("users", summary.Users).
		Int("libraries", summary.Libraries).
		Int("items", summary.Items).
		Int("activities", summary.Activities).
		Int("sessions", summary.Sessions).
		Msg("Full sync completed")
	return summary, nil
}

// SyncActivities refreshes the activity log only, without touching the
// server's pipeline state.
func (s *Service) SyncActivities(ctx context.Context, serverID string) (*interfaces.SyncSummary, error) {
	server, err := s.servers.GetServer(ctx, serverID)
	if err != nil {
		if errors.Is(err, models.ErrServerNotFound) {
			return &interfaces.SyncSummary{ServerID: serverID, Skipped: true}, nil
		}
		return nil, databaseError(err)
	}

	client := s.factory(server.BaseURL, server.APIKey)
	count, err := s.syncActivities(ctx, client, serverID)
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("server", server.Name).Int("activities", count).Msg("Activity sync completed")
	return &interfaces.SyncSummary{ServerID: serverID, Activities: count}, nil
}

func (s *Service) advance(ctx context.Context, serverID string, progress models.SyncProgress) error {
	if err := s.servers.UpdateSyncProgress(ctx, serverID, progress); err != nil {
		return databaseError(err)
	}
	return nil
}

func (s *Service) abort(ctx context.Context, serverID string, summary *interfaces.SyncSummary, cause error) (*interfaces.SyncSummary, error) {
	if err := s.servers.UpdateSyncStatus(ctx, serverID, models.SyncStatusFailed, cause.Error()); err != nil {
		s.logger.Warn().Err(err).Str("server_id", serverID).Msg("Failed to record sync failure")
	}
	s.logger.Warn().Err(cause).Str("server_id", serverID).Msg("Full sync failed")
	return summary, cause
}

func (s *Service) syncLibraries(ctx context.Context, client mediaserver.Client, serverID string) ([]*models.MediaLibrary, error) {
	dtos, err := client.GetLibraries(ctx)
	if err != nil {
		return nil, err
	}

	libraries := make([]*models.MediaLibrary, 0, len(dtos))
	for _, dto := range dtos {
		libraries = append(libraries, libraryModel(serverID, dto))
	}
	if err := s.media.StoreLibraries(ctx, libraries); err != nil {
		return nil, databaseError(err)
	}
	return libraries, nil
}

// syncItems lists each library separately because the API scopes recursive
// item listing by parent.
func (s *Service) syncItems(ctx context.Context, client mediaserver.Client, serverID string, libraries []*models.MediaLibrary) (int, error) {
	total := 0
	for _, library := range libraries {
		dtos, err := client.GetLibraryItems(ctx, library.ID)
		if err != nil {
			return total, err
		}

		items := make([]*models.MediaItem, 0, len(dtos))
		for _, dto := range dtos {
			items = append(items, itemModel(serverID, library.ID, dto))
		}
		if err := s.media.StoreItems(ctx, items); err != nil {
			return total, databaseError(err)
		}
		total += len(items)

		s.logger.Debug().
			Str("library", library.Name).
			Int("items", len(items)).
			Msg("Library items synced")
	}
	return total, nil
}

func (s *Service) syncActivities(ctx context.Context, client mediaserver.Client, serverID string) (int, error) {
	dtos, err := client.GetActivityLog(ctx)
	if err != nil {
		return 0, err
	}

	entries := make([]*models.ActivityEntry, 0, len(dtos))
	for _, dto := range dtos {
		entries = append(entries, activityModel(serverID, dto))
	}
	if err := s.media.StoreActivities(ctx, entries); err != nil {
		return 0, databaseError(err)
	}
	return len(entries), nil
}

func userModel(serverID string, dto mediaserver.User) *models.MediaUser {
	return &models.MediaUser{
		Key:              models.MediaKey(serverID, dto.ID),
		ID:               dto.ID,
		ServerID:         serverID,
		Name:             dto.Name,
		IsAdmin:          dto.Policy.IsAdministrator,
		LastLoginDate:    dto.LastLoginDate,
		LastActivityDate: dto.LastActivityDate,
	}
}

func libraryModel(serverID string, dto mediaserver.Library) *models.MediaLibrary {
	return &models.MediaLibrary{
		Key:            models.MediaKey(serverID, dto.ItemID),
		ID:             dto.ItemID,
		ServerID:       serverID,
		Name:           dto.Name,
		CollectionType: dto.CollectionType,
	}
}

func itemModel(serverID, libraryID string, dto mediaserver.Item) *models.MediaItem {
	return &models.MediaItem{
		Key:             models.MediaKey(serverID, dto.ID),
		ID:              dto.ID,
		ServerID:        serverID,
		LibraryID:       libraryID,
		Name:            dto.Name,
		OriginalTitle:   dto.OriginalTitle,
		Type:            dto.Type,
		SeriesName:      dto.SeriesName,
		Overview:        dto.Overview,
		Genres:          dto.Genres,
		Tags:            dto.Tags,
		ProductionYear:  dto.ProductionYear,
		PremiereDate:    dto.PremiereDate,
		CommunityRating: dto.CommunityRating,
		OfficialRating:  dto.OfficialRating,
		Studios:         dto.StudioNames(),
		RuntimeMinutes:  dto.RuntimeMinutes(),
		People:          peopleModels(dto.People),
	}
}

func peopleModels(people []mediaserver.Person) []models.Person {
	if len(people) == 0 {
		return nil
	}
	out := make([]models.Person, 0, len(people))
	for _, p := range people {
		out = append(out, models.Person{Name: p.Name, Role: p.Role, Type: p.Type})
	}
	return out
}

// Activity log IDs arrive as numbers and every other external ID is a
// string, so they are normalized at the boundary.
func activityModel(serverID string, dto mediaserver.Activity) *models.ActivityEntry {
	id := strconv.FormatInt(dto.ID, 10)
	return &models.ActivityEntry{
		Key:      models.MediaKey(serverID, id),
		ID:       id,
		ServerID: serverID,
		UserID:   dto.UserID,
		ItemID:   dto.ItemID,
		Name:     dto.Name,
		Type:     dto.Type,
		Severity: dto.Severity,
		Date:     dto.Date,
	}
}
