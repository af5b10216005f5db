package embeddings

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProviderSelection(t *testing.T) {
	openaiCfg := ProviderConfig{
		Provider:   "openai-compatible",
		BaseURL:    "https://api.example.com/v1",
		APIKey:     "test-key",
		Model:      "text-embedding-3-small",
		Dimensions: 1536,
	}
	provider, err := NewProvider(openaiCfg)
	require.NoError(t, err)
	assert.True(t, provider.SupportsBatch())

	// The legacy "openai" tag is accepted as an alias.
	openaiCfg.Provider = "openai"
	provider, err = NewProvider(openaiCfg)
	require.NoError(t, err)
	assert.True(t, provider.SupportsBatch())

	ollamaCfg := ProviderConfig{
		Provider:   "ollama",
		BaseURL:    "http://localhost:11434",
		Model:      "nomic-embed-text",
		Dimensions: 768,
	}
	provider, err = NewProvider(ollamaCfg)
	require.NoError(t, err)
	assert.False(t, provider.SupportsBatch())

	_, err = NewProvider(ProviderConfig{Provider: "cohere"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported embedding provider")
}

func TestClassifyProviderError(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"rate limit", "API returned unexpected status code: 429 Too Many Requests", ErrRateLimited},
		{"quota", "You exceeded your current quota, please check your plan and billing details", ErrQuotaExceeded},
		{"credential", "Incorrect API key provided: sk-abc...", ErrInvalidCredential},
		{"unauthorized", "401 Unauthorized", ErrInvalidCredential},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyProviderError(errors.New(tt.raw))
			assert.True(t, errors.Is(got, tt.want))
			assert.True(t, isFatalProviderError(got))
		})
	}

	// Unrecognized errors pass through and do not abort the run.
	raw := errors.New("connection refused")
	assert.Equal(t, raw, classifyProviderError(raw))
	assert.False(t, isFatalProviderError(raw))

	assert.NoError(t, classifyProviderError(nil))
}

func TestDimensionMismatchErrorMessage(t *testing.T) {
	err := &DimensionMismatchError{Expected: 1536, Actual: 768}
	assert.Contains(t, err.Error(), "update dimension setting to 768")

	var mismatch *DimensionMismatchError
	assert.True(t, errors.As(error(err), &mismatch))
}
