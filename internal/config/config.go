// Package config provides configuration loading for dispatchd.
//
// Configuration is loaded from an optional YAML file, then overridden by
// environment variables. See Load for precedence and variable mapping.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete dispatchd configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Storage   StorageConfig   `koanf:"storage"`
	Embedding EmbeddingConfig `koanf:"embedding"`
	Knowledge KnowledgeConfig `koanf:"knowledge"`
	Cache     CacheConfig     `koanf:"cache"`
	Providers ProvidersConfig `koanf:"providers"`
	Jobs      JobsConfig      `koanf:"jobs"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// StorageConfig holds relational storage configuration.
type StorageConfig struct {
	// Path is the sqlite database file. ":memory:" is accepted for tests.
	Path string `koanf:"path"`
}

// EmbeddingConfig holds embedding provider configuration.
type EmbeddingConfig struct {
	// Provider is "fastembed" or "tei".
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	CacheDir string `koanf:"cache_dir"`
}

// KnowledgeConfig holds knowledge store configuration.
type KnowledgeConfig struct {
	// Backend is "chromem" or "qdrant".
	Backend    string `koanf:"backend"`
	Path       string `koanf:"path"`
	Collection string `koanf:"collection"`
	VectorSize int    `koanf:"vector_size"`

	// Qdrant connection settings (used when Backend is "qdrant").
	QdrantHost string `koanf:"qdrant_host"`
	QdrantPort int    `koanf:"qdrant_port"`
}

// CacheConfig holds response cache configuration.
type CacheConfig struct {
	Enabled           bool          `koanf:"enabled"`
	ExactTTL          time.Duration `koanf:"exact_ttl"`
	TemplateTTL       time.Duration `koanf:"template_ttl"`
	SemanticTTL       time.Duration `koanf:"semantic_ttl"`
	SemanticThreshold float64       `koanf:"semantic_threshold"`
	MaxEntries        int           `koanf:"max_entries"`
}

// ProvidersConfig holds external AI backend configuration.
type ProvidersConfig struct {
	OpenAIKey       string        `koanf:"openai_key"`
	OpenAIBaseURL   string        `koanf:"openai_base_url"`
	AnthropicKey    string        `koanf:"anthropic_key"`
	OllamaURL       string        `koanf:"ollama_url"`
	DispatchTimeout time.Duration `koanf:"dispatch_timeout"`
	RequestsPerMin  int           `koanf:"requests_per_min"`
}

// JobsConfig holds async job manager configuration.
type JobsConfig struct {
	Workers       int           `koanf:"workers"`
	RetentionDays int           `koanf:"retention_days"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
	NATSEnabled   bool          `koanf:"nats_enabled"`
	NATSURL       string        `koanf:"nats_url"`
}

// defaults returns the hardcoded default configuration.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            9180,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Storage: StorageConfig{
			Path: "~/.local/share/dispatchd/dispatchd.db",
		},
		Embedding: EmbeddingConfig{
			Provider: "fastembed",
			Model:    "BAAI/bge-small-en-v1.5",
			BaseURL:  "http://localhost:8080",
			CacheDir: "~/.cache/dispatchd/models",
		},
		Knowledge: KnowledgeConfig{
			Backend:    "chromem",
			Path:       "~/.local/share/dispatchd/knowledge",
			Collection: "dispatchd_knowledge",
			VectorSize: 384,
			QdrantHost: "localhost",
			QdrantPort: 6334,
		},
		Cache: CacheConfig{
			Enabled:           true,
			ExactTTL:          15 * time.Minute,
			TemplateTTL:       30 * time.Minute,
			SemanticTTL:       2 * time.Hour,
			SemanticThreshold: 0.93,
			MaxEntries:        1000,
		},
		Providers: ProvidersConfig{
			OllamaURL:       "http://localhost:11434",
			DispatchTimeout: 2 * time.Minute,
			RequestsPerMin:  60,
		},
		Jobs: JobsConfig{
			Workers:       4,
			RetentionDays: 7,
			SweepInterval: 1 * time.Hour,
			NATSURL:       "nats://localhost:4222",
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Storage.Path == "" {
		return errors.New("storage path is required")
	}
	switch c.Knowledge.Backend {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("unknown knowledge backend %q (chromem or qdrant)", c.Knowledge.Backend)
	}
	if c.Knowledge.VectorSize <= 0 {
		return errors.New("knowledge vector size must be positive")
	}
	if c.Cache.SemanticThreshold < 0 || c.Cache.SemanticThreshold > 1 {
		return fmt.Errorf("semantic threshold %v out of range [0,1]", c.Cache.SemanticThreshold)
	}
	if c.Jobs.Workers <= 0 {
		return errors.New("jobs workers must be positive")
	}
	if c.Jobs.RetentionDays <= 0 {
		return errors.New("jobs retention days must be positive")
	}
	return nil
}
