// Package config provides configuration management for the ragstore data
// plane. It handles loading and persistence with support for multiple
// sources:
//   - Configuration files (JSON)
//   - Environment variables
//   - Programmatic defaults
//
// Settings are combined in the following order (highest to lowest
// precedence):
//  1. Environment variables
//  2. Configuration file
//  3. Default values
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds the settings shared by the ragstore components. It
// centralizes the values an application would otherwise thread through
// every constructor.
type Config struct {
	// Provider settings configure the embedding provider
	Provider string            // Embedding provider (e.g., "openai")
	Model    string            // Model identifier for embeddings
	APIKeys  map[string]string // API keys keyed by provider

	// Database settings
	ConnString string // PostgreSQL connection string
	TableName  string // Chunk table name

	// Search settings control retrieval behavior
	DefaultLimit     int     // Default number of results to return
	DefaultThreshold float64 // Minimum similarity score threshold

	// Chunking settings
	MaxLines     int // Lines per chunk window
	Overlap      int // Lines shared between consecutive windows
	MaxChunkSize int // Hard character cap per chunk

	// Pipeline settings
	BatchSize   int // Chunks embedded per provider call
	Concurrency int // Documents processed in parallel

	// Timeouts and retries
	Timeout    time.Duration // Per-operation timeout
	MaxRetries int           // Maximum retry attempts
}

// LoadConfig loads configuration from multiple sources, combining them
// according to the precedence rules. It searches for configuration files in
// standard locations and applies environment variable overrides.
//
// Configuration file search paths:
//  1. $RAGSTORE_CONFIG environment variable
//  2. ~/.ragstore/config.json
//  3. ~/.config/ragstore/config.json
//  4. ./ragstore.json
//
// Environment variable overrides:
//   - RAGSTORE_PROVIDER: Embedding provider
//   - RAGSTORE_MODEL: Model identifier
//   - RAGSTORE_CONN_STRING: PostgreSQL connection string
//   - RAGSTORE_TABLE: Chunk table name
//   - RAGSTORE_API_KEY: API key for the configured provider
//   - RAGSTORE_CONCURRENCY: Pipeline concurrency
//
// Example usage:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Using provider: %s\n", cfg.Provider)
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Provider:         "openai",
		Model:            "text-embedding-3-small",
		TableName:        "chunks",
		DefaultLimit:     10,
		DefaultThreshold: 0.5,
		MaxLines:         150,
		Overlap:          30,
		MaxChunkSize:     10000,
		BatchSize:        64,
		Concurrency:      1,
		Timeout:          30 * time.Second,
		MaxRetries:       3,
		APIKeys:          make(map[string]string),
	}

	configFile := os.Getenv("RAGSTORE_CONFIG")
	if configFile == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			candidates := []string{
				filepath.Join(home, ".ragstore", "config.json"),
				filepath.Join(home, ".config", "ragstore", "config.json"),
				"ragstore.json",
			}
			for _, candidate := range candidates {
				if _, err := os.Stat(candidate); err == nil {
					configFile = candidate
					break
				}
			}
		}
	}

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err == nil {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		}
	}

	if provider := os.Getenv("RAGSTORE_PROVIDER"); provider != "" {
		cfg.Provider = provider
	}
	if model := os.Getenv("RAGSTORE_MODEL"); model != "" {
		cfg.Model = model
	}
	if connString := os.Getenv("RAGSTORE_CONN_STRING"); connString != "" {
		cfg.ConnString = connString
	}
	if table := os.Getenv("RAGSTORE_TABLE"); table != "" {
		cfg.TableName = table
	}
	if apiKey := os.Getenv("RAGSTORE_API_KEY"); apiKey != "" {
		cfg.APIKeys[cfg.Provider] = apiKey
	}
	if concurrency := os.Getenv("RAGSTORE_CONCURRENCY"); concurrency != "" {
		if n, err := strconv.Atoi(concurrency); err == nil && n > 0 {
			cfg.Concurrency = n
		}
	}

	return cfg, nil
}

// Save persists the configuration to a JSON file at the specified path,
// creating any necessary parent directories.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
