package embeddings

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/models"
)

// IndexProvisioner registers one vector index per embedding dimension in
// use. Registration is idempotent, so the cache only saves redundant
// writes; Clear forces the next run to re-verify against storage.
type IndexProvisioner struct {
	storage      interfaces.VectorIndexStorage
	logger       arbor.ILogger
	maxDimension int

	mu      sync.Mutex
	ensured map[int]bool
}

func NewIndexProvisioner(storage interfaces.VectorIndexStorage, maxDimension int, logger arbor.ILogger) *IndexProvisioner {
	return &IndexProvisioner{
		storage:      storage,
		logger:       logger,
		maxDimension: maxDimension,
		ensured:      make(map[int]bool),
	}
}

// Ensure registers the index for the dimension unless this process already
// did. Dimensions above the engine maximum are skipped with a logged
// reason instead of failing the run that produced them.
func (p *IndexProvisioner) Ensure(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("invalid index dimension: %d", dimension)
	}
	if p.maxDimension > 0 && dimension > p.maxDimension {
		p.logger.Warn().
			Int("dimension", dimension).
			Int("max_dimension", p.maxDimension).
			Msg("Skipping vector index provisioning: dimension exceeds engine maximum")
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ensured[dimension] {
		return nil
	}

	if err := p.storage.StoreIndex(ctx, models.NewVectorIndex(dimension)); err != nil {
		return fmt.Errorf("failed to provision vector index: %w", err)
	}
	p.ensured[dimension] = true

	p.logger.Info().
		Str("index", models.VectorIndexName(dimension)).
		Int("dimension", dimension).
		Msg("Vector index provisioned")
	return nil
}

// Clear drops the ensured cache, typically after an index rebuild or a
// storage reset outside this process.
func (p *IndexProvisioner) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensured = make(map[int]bool)
}
