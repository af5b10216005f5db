package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// VectorIndexStorage implements the VectorIndexStorage interface for Badger.
type VectorIndexStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewVectorIndexStorage creates a new VectorIndexStorage instance
func NewVectorIndexStorage(db *BadgerDB, logger arbor.ILogger) interfaces.VectorIndexStorage {
	return &VectorIndexStorage{
		db:     db,
		logger: logger,
	}
}

// StoreIndex records an index registration. Upsert keeps the call idempotent
// so repeated provisioning for the same dimension is harmless.
func (s *VectorIndexStorage) StoreIndex(ctx context.Context, index *models.VectorIndex) error {
	if index.Name == "" {
		return fmt.Errorf("index name is required")
	}

	if err := s.db.Store().Upsert(index.Name, index); err != nil {
		s.logger.Error().Err(err).Str("name", index.Name).Msg("BadgerDB: Failed to upsert vector index")
		return fmt.Errorf("failed to save vector index: %w", err)
	}

	s.logger.Trace().
		Str("name", index.Name).
		Int("dimension", index.Dimension).
		Msg("BadgerDB: Vector index stored")
	return nil
}

// GetIndexByDimension returns the registered index for a dimension, or nil
// when none has been provisioned yet.
func (s *VectorIndexStorage) GetIndexByDimension(ctx context.Context, dimension int) (*models.VectorIndex, error) {
	var indexes []models.VectorIndex
	if err := s.db.Store().Find(&indexes, badgerhold.Where("Dimension").Eq(dimension)); err != nil {
		return nil, fmt.Errorf("failed to find vector index: %w", err)
	}
	if len(indexes) == 0 {
		return nil, nil
	}
	return &indexes[0], nil
}

func (s *VectorIndexStorage) GetAllIndexes(ctx context.Context) ([]*models.VectorIndex, error) {
	var indexes []models.VectorIndex
	if err := s.db.Store().Find(&indexes, nil); err != nil {
		return nil, fmt.Errorf("failed to list vector indexes: %w", err)
	}

	result := make([]*models.VectorIndex, 0, len(indexes))
	for i := range indexes {
		result = append(result, &indexes[i])
	}
	return result, nil
}
