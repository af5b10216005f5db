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

// MediaStorage implements the MediaStorage interface for Badger.
// All entities are keyed "<serverID>:<externalID>" so one server's rows can
// be addressed and removed without touching another's.
type MediaStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewMediaStorage creates a new MediaStorage instance
func NewMediaStorage(db *BadgerDB, logger arbor.ILogger) interfaces.MediaStorage {
	return &MediaStorage{
		db:     db,
		logger: logger,
	}
}

// --- Users ---

func (s *MediaStorage) StoreUsers(ctx context.Context, users []*models.MediaUser) error {
	now := time.Now().UTC()
	for _, user := range users {
		if user.Key == "" {
			return fmt.Errorf("user key is required")
		}

		var existing models.MediaUser
		err := s.db.Store().Get(user.Key, &existing)
		switch {
		case err == nil:
			user.CreatedAt = existing.CreatedAt
		case err == badgerhold.ErrNotFound:
			user.CreatedAt = now
		default:
			return fmt.Errorf("failed to load existing user: %w", err)
		}
		user.UpdatedAt = now

		if err := s.db.Store().Upsert(user.Key, user); err != nil {
			return fmt.Errorf("failed to save user %s: %w", user.Key, err)
		}
	}

	s.logger.Trace().Int("count", len(users)).Msg("BadgerDB: Users stored")
	return nil
}

func (s *MediaStorage) GetUsersByServer(ctx context.Context, serverID string) ([]*models.MediaUser, error) {
	var users []models.MediaUser
	if err := s.db.Store().Find(&users, badgerhold.Where("ServerID").Eq(serverID)); err != nil {
		return nil, fmt.Errorf("failed to find users: %w", err)
	}

	result := make([]*models.MediaUser, 0, len(users))
	for i := range users {
		result = append(result, &users[i])
	}
	return result, nil
}

func (s *MediaStorage) CountUsersByServer(ctx context.Context, serverID string) (int, error) {
	count, err := s.db.Store().Count(&models.MediaUser{}, badgerhold.Where("ServerID").Eq(serverID))
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func (s *MediaStorage) DeleteUsersByServer(ctx context.Context, serverID string) error {
	return s.db.Store().DeleteMatching(&models.MediaUser{}, badgerhold.Where("ServerID").Eq(serverID))
}

// --- Libraries ---

func (s *MediaStorage) StoreLibraries(ctx context.Context, libraries []*models.MediaLibrary) error {
	now := time.Now().UTC()
	for _, library := range libraries {
		if library.Key == "" {
			return fmt.Errorf("library key is required")
		}

		var existing models.MediaLibrary
		err := s.db.Store().Get(library.Key, &existing)
		switch {
		case err == nil:
			library.CreatedAt = existing.CreatedAt
		case err == badgerhold.ErrNotFound:
			library.CreatedAt = now
		default:
			return fmt.Errorf("failed to load existing library: %w", err)
		}
		library.UpdatedAt = now

		if err := s.db.Store().Upsert(library.Key, library); err != nil {
			return fmt.Errorf("failed to save library %s: %w", library.Key, err)
		}
	}

	s.logger.Trace().Int("count", len(libraries)).Msg("BadgerDB: Libraries stored")
	return nil
}

func (s *MediaStorage) GetLibrariesByServer(ctx context.Context, serverID string) ([]*models.MediaLibrary, error) {
	var libraries []models.MediaLibrary
	if err := s.db.Store().Find(&libraries, badgerhold.Where("ServerID").Eq(serverID)); err != nil {
		return nil, fmt.Errorf("failed to find libraries: %w", err)
	}

	result := make([]*models.MediaLibrary, 0, len(libraries))
	for i := range libraries {
		result = append(result, &libraries[i])
	}
	return result, nil
}

func (s *MediaStorage) CountLibrariesByServer(ctx context.Context, serverID string) (int, error) {
	count, err := s.db.Store().Count(&models.MediaLibrary{}, badgerhold.Where("ServerID").Eq(serverID))
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func (s *MediaStorage) DeleteLibrariesByServer(ctx context.Context, serverID string) error {
	return s.db.Store().DeleteMatching(&models.MediaLibrary{}, badgerhold.Where("ServerID").Eq(serverID))
}

// --- Items ---

func (s *MediaStorage) StoreItems(ctx context.Context, items []*models.MediaItem) error {
	now := time.Now().UTC()
	for _, item := range items {
		if item.Key == "" {
			return fmt.Errorf("item key is required")
		}

		var existing models.MediaItem
		err := s.db.Store().Get(item.Key, &existing)
		switch {
		case err == nil:
			// Metadata refresh. Embedding state is owned by the embedding
			// worker and survives the upsert.
			item.Embedding = existing.Embedding
			item.Processed = existing.Processed
			item.CreatedAt = existing.CreatedAt
		case err == badgerhold.ErrNotFound:
			item.CreatedAt = now
		default:
			return fmt.Errorf("failed to load existing item: %w", err)
		}
		item.UpdatedAt = now

		if err := s.db.Store().Upsert(item.Key, item); err != nil {
			return fmt.Errorf("failed to save item %s: %w", item.Key, err)
		}
	}

	s.logger.Trace().Int("count", len(items)).Msg("BadgerDB: Items stored")
	return nil
}

func (s *MediaStorage) GetItem(ctx context.Context, key string) (*models.MediaItem, error) {
	var item models.MediaItem
	if err := s.db.Store().Get(key, &item); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("%w: %s", models.ErrItemNotFound, key)
		}
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return &item, nil
}

func (s *MediaStorage) GetItemsByServer(ctx context.Context, serverID string) ([]*models.MediaItem, error) {
	var items []models.MediaItem
	if err := s.db.Store().Find(&items, badgerhold.Where("ServerID").Eq(serverID)); err != nil {
		return nil, fmt.Errorf("failed to find items: %w", err)
	}

	result := make([]*models.MediaItem, 0, len(items))
	for i := range items {
		result = append(result, &items[i])
	}
	return result, nil
}

func (s *MediaStorage) CountItemsByServer(ctx context.Context, serverID string) (int, error) {
	count, err := s.db.Store().Count(&models.MediaItem{}, badgerhold.Where("ServerID").Eq(serverID))
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func (s *MediaStorage) DeleteItemsByServer(ctx context.Context, serverID string) error {
	return s.db.Store().DeleteMatching(&models.MediaItem{}, badgerhold.Where("ServerID").Eq(serverID))
}

// unprocessedEligible returns the server's unprocessed catalog items sorted
// by key, so successive runs walk the backlog in a stable order.
func (s *MediaStorage) unprocessedEligible(serverID string) ([]models.MediaItem, error) {
	var items []models.MediaItem
	query := badgerhold.Where("ServerID").Eq(serverID).And("Processed").Eq(false)
	if err := s.db.Store().Find(&items, query); err != nil {
		return nil, fmt.Errorf("failed to find unprocessed items: %w", err)
	}

	eligible := items[:0]
	for _, item := range items {
		if item.IsEmbeddingEligible() {
			eligible = append(eligible, item)
		}
	}

	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].Key < eligible[j].Key
	})
	return eligible, nil
}

func (s *MediaStorage) GetUnprocessedItems(ctx context.Context, serverID string, limit int) ([]*models.MediaItem, error) {
	eligible, err := s.unprocessedEligible(serverID)
	if err != nil {
		return nil, err
	}

	if limit > 0 && limit < len(eligible) {
		eligible = eligible[:limit]
	}

	result := make([]*models.MediaItem, 0, len(eligible))
	for i := range eligible {
		result = append(result, &eligible[i])
	}
	return result, nil
}

func (s *MediaStorage) CountUnprocessedItems(ctx context.Context, serverID string) (int, error) {
	eligible, err := s.unprocessedEligible(serverID)
	if err != nil {
		return 0, err
	}
	return len(eligible), nil
}

func (s *MediaStorage) MarkItemProcessed(ctx context.Context, key string, embedding []float32) error {
	var item models.MediaItem
	if err := s.db.Store().Get(key, &item); err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("%w: %s", models.ErrItemNotFound, key)
		}
		return fmt.Errorf("failed to get item: %w", err)
	}

	item.Embedding = embedding
	item.Processed = true
	item.UpdatedAt = time.Now().UTC()

	if err := s.db.Store().Upsert(key, &item); err != nil {
		return fmt.Errorf("failed to mark item processed: %w", err)
	}
	return nil
}

func (s *MediaStorage) MarkItemSkipped(ctx context.Context, key string) error {
	var item models.MediaItem
	if err := s.db.Store().Get(key, &item); err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("%w: %s", models.ErrItemNotFound, key)
		}
		return fmt.Errorf("failed to get item: %w", err)
	}

	// Skipped items are marked processed without a vector so the run does
	// not revisit them (empty text stays empty on the next pass too).
	item.Embedding = nil
	item.Processed = true
	item.UpdatedAt = time.Now().UTC()

	if err := s.db.Store().Upsert(key, &item); err != nil {
		return fmt.Errorf("failed to mark item skipped: %w", err)
	}
	return nil
}

// ResetProcessedFlags clears embedding state for every item of a server.
// Used by the regenerate action; the next embedding run rebuilds from zero.
func (s *MediaStorage) ResetProcessedFlags(ctx context.Context, serverID string) (int, error) {
	count := 0
	err := s.db.Store().UpdateMatching(&models.MediaItem{}, badgerhold.Where("ServerID").Eq(serverID).And("Processed").Eq(true), func(record interface{}) error {
		item, ok := record.(*models.MediaItem)
		if !ok {
			return fmt.Errorf("unexpected record type %T", record)
		}
		item.Embedding = nil
		item.Processed = false
		item.UpdatedAt = time.Now().UTC()
		count++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to reset processed flags: %w", err)
	}

	s.logger.Info().Str("server_id", serverID).Int("count", count).Msg("Reset processed flags")
	return count, nil
}

// --- Activities ---

func (s *MediaStorage) StoreActivities(ctx context.Context, entries []*models.ActivityEntry) error {
	for _, entry := range entries {
		if entry.Key == "" {
			return fmt.Errorf("activity key is required")
		}
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = time.Now().UTC()
		}

		// Activity entries are immutable; re-syncing the same entry is a no-op
		if err := s.db.Store().Insert(entry.Key, entry); err != nil {
			if err == badgerhold.ErrKeyExists {
				continue
			}
			return fmt.Errorf("failed to save activity %s: %w", entry.Key, err)
		}
	}

	s.logger.Trace().Int("count", len(entries)).Msg("BadgerDB: Activities stored")
	return nil
}

func (s *MediaStorage) GetActivitiesByServer(ctx context.Context, serverID string, limit int) ([]*models.ActivityEntry, error) {
	var entries []models.ActivityEntry
	if err := s.db.Store().Find(&entries, badgerhold.Where("ServerID").Eq(serverID)); err != nil {
		return nil, fmt.Errorf("failed to find activities: %w", err)
	}

	// Newest first
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Date.After(entries[j].Date)
	})

	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}

	result := make([]*models.ActivityEntry, 0, len(entries))
	for i := range entries {
		result = append(result, &entries[i])
	}
	return result, nil
}

func (s *MediaStorage) CountActivitiesByServer(ctx context.Context, serverID string) (int, error) {
	count, err := s.db.Store().Count(&models.ActivityEntry{}, badgerhold.Where("ServerID").Eq(serverID))
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func (s *MediaStorage) DeleteActivitiesByServer(ctx context.Context, serverID string) error {
	return s.db.Store().DeleteMatching(&models.ActivityEntry{}, badgerhold.Where("ServerID").Eq(serverID))
}
