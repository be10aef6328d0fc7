// Package providers implements embedding service providers for the ragstore
// library. Providers convert text into fixed-dimension vectors; the
// registration system lets new providers be added while the rest of the
// system keeps a single interface.
package providers

import (
	"context"
	"fmt"
	"sync"
)

// Embedder is the contract every embedding provider implements. Vectors have
// a fixed dimensionality per configured model.
type Embedder interface {
	// Embed converts one non-empty text into its vector representation.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts a slice of texts, preserving order; the result
	// always has the same length as the input. An empty input returns an
	// empty output without any external call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector dimensionality of the configured model.
	Dimensions() int
}

// EmbedderFactory builds an Embedder from a provider-specific configuration
// map.
type EmbedderFactory func(config map[string]interface{}) (Embedder, error)

var (
	embedderFactories = make(map[string]EmbedderFactory)
	mu                sync.RWMutex
)

// RegisterEmbedder registers a new embedder factory under the given name.
// Registering a name twice replaces the earlier factory.
func RegisterEmbedder(name string, factory EmbedderFactory) {
	mu.Lock()
	defer mu.Unlock()
	embedderFactories[name] = factory
}

// GetEmbedderFactory returns the factory for the given embedder name.
func GetEmbedderFactory(name string) (EmbedderFactory, error) {
	mu.RLock()
	defer mu.RUnlock()
	factory, ok := embedderFactories[name]
	if !ok {
		return nil, fmt.Errorf("embedder not found: %s", name)
	}
	return factory, nil
}

// List returns the names of all registered providers.
func List() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(embedderFactories))
	for name := range embedderFactories {
		names = append(names, name)
	}
	return names
}
