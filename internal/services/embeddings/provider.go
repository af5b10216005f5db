// -----------------------------------------------------------------------
// Embedding Providers - Closed set of backends for vector generation
// -----------------------------------------------------------------------

package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ternarybob/specto/internal/models"
)

// Stable provider errors. Each aborts the current run; the classifier maps
// raw provider responses onto these so retries and operator messages do not
// depend on upstream error text.
var (
	ErrRateLimited       = errors.New("embedding provider rate limited")
	ErrQuotaExceeded     = errors.New("embedding provider quota exceeded")
	ErrInvalidCredential = errors.New("embedding provider rejected the API credential")
)

// DimensionMismatchError aborts a run when the provider returns vectors of a
// different length than the server's configured dimensions. Only the first
// mismatch in a run raises it; later mismatches are skipped silently.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: provider returned %d-dimension vectors, update dimension setting to %d", e.Actual, e.Actual)
}

// Provider is the closed set of embedding backends. The unexported method
// keeps implementations inside this package; callers select behavior through
// SupportsBatch rather than type switches.
type Provider interface {
	// EmbedBatch embeds texts in one provider call, one vector per text in
	// input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedOne embeds a single text.
	EmbedOne(ctx context.Context, text string) ([]float32, error)

	// SupportsBatch reports whether EmbedBatch performs a genuine batched
	// call. Per-item providers are driven through EmbedOne instead.
	SupportsBatch() bool

	isProvider()
}

// ProviderConfig is the per-server embedding configuration a provider is
// built from.
type ProviderConfig struct {
	Provider   string
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
}

// NewProvider builds the provider named by the server's persisted tag.
// The "openai" alias is accepted and treated as openai-compatible.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch models.NormalizeEmbeddingProvider(cfg.Provider) {
	case models.EmbeddingProviderOpenAICompatible:
		return newOpenAIProvider(cfg)
	case models.EmbeddingProviderOllama:
		return newOllamaProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %q", cfg.Provider)
	}
}

// classifyProviderError maps known provider failure modes onto the stable
// sentinel errors. Unrecognized errors pass through unchanged and are
// counted per item rather than aborting the run.
func classifyProviderError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "rate_limit") || strings.Contains(msg, "too many requests") || strings.Contains(msg, "429"):
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	case strings.Contains(msg, "quota") || strings.Contains(msg, "billing"):
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	case strings.Contains(msg, "api key") || strings.Contains(msg, "api_key") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "authentication") || strings.Contains(msg, "401"):
		return fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	default:
		return err
	}
}

// isFatalProviderError reports whether a classified error must abort the
// whole run instead of being counted against the current items.
func isFatalProviderError(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrQuotaExceeded) ||
		errors.Is(err, ErrInvalidCredential)
}
