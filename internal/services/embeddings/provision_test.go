package embeddings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/models"
)

// countingIndexStorage records provisioning writes so the cache behavior
// is observable.
type countingIndexStorage struct {
	stored []*models.VectorIndex
}

func (c *countingIndexStorage) StoreIndex(ctx context.Context, index *models.VectorIndex) error {
	c.stored = append(c.stored, index)
	return nil
}

func (c *countingIndexStorage) GetIndexByDimension(ctx context.Context, dimension int) (*models.VectorIndex, error) {
	for _, idx := range c.stored {
		if idx.Dimension == dimension {
			return idx, nil
		}
	}
	return nil, nil
}

func (c *countingIndexStorage) GetAllIndexes(ctx context.Context) ([]*models.VectorIndex, error) {
	return c.stored, nil
}

func TestIndexProvisionerCachesPerDimension(t *testing.T) {
	storage := &countingIndexStorage{}
	provisioner := NewIndexProvisioner(storage, 2000, arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, provisioner.Ensure(ctx, 768))
	require.NoError(t, provisioner.Ensure(ctx, 768))
	assert.Len(t, storage.stored, 1, "repeat provisioning is served from the cache")

	require.NoError(t, provisioner.Ensure(ctx, 1536))
	assert.Len(t, storage.stored, 2, "each dimension is provisioned once")

	provisioner.Clear()
	require.NoError(t, provisioner.Ensure(ctx, 768))
	assert.Len(t, storage.stored, 3, "clearing forces re-verification against storage")
}

func TestIndexProvisionerSkipsOversizedDimension(t *testing.T) {
	storage := &countingIndexStorage{}
	provisioner := NewIndexProvisioner(storage, 2000, arbor.NewLogger())

	require.NoError(t, provisioner.Ensure(context.Background(), 3072))
	assert.Empty(t, storage.stored, "dimensions past the engine maximum are skipped, not failed")

	require.Error(t, provisioner.Ensure(context.Background(), 0))
}
