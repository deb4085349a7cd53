// Package core defines the core business logic and interfaces for the
// sovits-service.
package core

import "context"

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// GenerationParams holds the sampling parameters for a single speech
// generation job. This allows for per-request customization of the output.
type GenerationParams struct {
	Language    string
	TopK        int
	TopP        float64
	Temperature float64
	SpeedFactor float64
}

// Synthesizer defines the interface for a speech generation engine bound to
// a speaker voice.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, speaker string, params GenerationParams) ([]byte, error)
}
