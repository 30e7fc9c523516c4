// Package core defines the interfaces shared by the synthesis transports.
package core

import "context"

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte, metadata map[string]string) error
}

// SynthesisRequest holds the parameters of a single synthesis call.
type SynthesisRequest struct {
	Text     string
	Speaker  string
	Language string
	Speed    float64
}

// Synthesizer turns text into mono float samples in [-1.0, 1.0]. Implementations
// must be safe for concurrent use; Speakers, Languages and SampleRate never change
// after construction. An empty speaker or language list accepts any name.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) ([]float32, error)
	Speakers() []string
	Languages() []string
	SampleRate() int
}
