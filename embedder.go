// Package ragstore provides a high-level interface for text embedding in
// RAG (Retrieval-Augmented Generation) systems. It simplifies the process
// of converting text into vector embeddings using various providers.
package ragstore

import (
	"github.com/teilomillet/ragstore/rag"
	"github.com/teilomillet/ragstore/rag/providers"
)

// Embedder interface defines the contract for embedding implementations.
// This allows different embedding providers to be used interchangeably.
// All embedders produce vectors of a fixed dimensionality per configured
// model; the stored table's vector column must be declared with the same
// dimensionality.
type Embedder = providers.Embedder

// EmbeddedChunk represents a chunk of text paired with its embedding
// vector, ready to be written to a chunk store.
type EmbeddedChunk = rag.EmbeddedChunk

// EmbedderOption is a function type for configuring the Embedder.
// It follows the functional options pattern to provide a clean and
// flexible configuration API.
//
// Common options include:
//   - SetEmbedderProvider: Choose the embedding service provider
//   - SetEmbedderModel: Select the specific embedding model
//   - SetEmbedderAPIKey: Configure authentication
//   - SetOption: Set custom provider-specific options
type EmbedderOption = rag.EmbedderOption

// SetEmbedderProvider sets the provider for the Embedder, e.g. "openai".
//
// Example:
//
//	embedder, err := ragstore.NewEmbedder(
//	    ragstore.SetEmbedderProvider("openai"),
//	    ragstore.SetEmbedderModel("text-embedding-3-small"),
//	)
func SetEmbedderProvider(provider string) EmbedderOption {
	return rag.SetProvider(provider)
}

// SetEmbedderModel sets the specific model to use for embedding.
// For models the provider cannot infer dimensions for, also pass
// SetOption("dimensions", n).
func SetEmbedderModel(model string) EmbedderOption {
	return rag.SetModel(model)
}

// SetEmbedderAPIKey sets the authentication key for the embedding service.
//
// Security Note: store API keys securely and never commit them to version
// control. Consider environment variables or a secret manager.
func SetEmbedderAPIKey(apiKey string) EmbedderOption {
	return rag.SetAPIKey(apiKey)
}

// SetOption sets a custom option for the Embedder. This allows for
// provider-specific configuration that isn't covered by the standard
// options, e.g. "timeout", "max_retries", "dimensions", or "api_url".
func SetOption(key string, value interface{}) EmbedderOption {
	return rag.SetOption(key, value)
}

// NewEmbedder creates a new Embedder instance based on the provided
// options. It handles provider selection and configuration, returning a
// ready-to-use embedding interface.
//
// Returns an error if:
//   - No provider is specified
//   - The provider is not registered
//   - The configuration is invalid
//
// Example:
//
//	embedder, err := ragstore.NewEmbedder(
//	    ragstore.SetEmbedderProvider("openai"),
//	    ragstore.SetEmbedderModel("text-embedding-3-small"),
//	    ragstore.SetEmbedderAPIKey(os.Getenv("OPENAI_API_KEY")),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
func NewEmbedder(opts ...EmbedderOption) (Embedder, error) {
	return rag.NewEmbedder(opts...)
}
