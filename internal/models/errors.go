package models

import "errors"

// Sentinel errors for absent records. Storage implementations wrap these so
// callers can distinguish "gone" from "broken" with errors.Is; a deleted
// server mid-run is an expected condition, not a failure.
var (
	ErrServerNotFound = errors.New("server not found")
	ErrJobNotFound    = errors.New("job not found")
	ErrResultNotFound = errors.New("job result not found")
	ErrItemNotFound   = errors.New("media item not found")
)

// ErrIncompleteEmbeddingConfig rejects embedding runs on servers whose
// provider configuration is missing base URL, model, or a required API key.
var ErrIncompleteEmbeddingConfig = errors.New("incomplete embedding configuration")
