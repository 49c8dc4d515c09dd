package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 9180, cfg.Server.Port)
	assert.Equal(t, "chromem", cfg.Knowledge.Backend)
	assert.Equal(t, 384, cfg.Knowledge.VectorSize)
	assert.Equal(t, 15*time.Minute, cfg.Cache.ExactTTL)
	assert.Equal(t, 2*time.Hour, cfg.Cache.SemanticTTL)
	assert.Equal(t, 4, cfg.Jobs.Workers)
	assert.Equal(t, 7, cfg.Jobs.RetentionDays)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 8181
cache:
  semantic_threshold: 0.9
jobs:
  workers: 8
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8181, cfg.Server.Port)
	assert.Equal(t, 0.9, cfg.Cache.SemanticThreshold)
	assert.Equal(t, 8, cfg.Jobs.Workers)
	// Untouched values keep defaults.
	assert.Equal(t, "chromem", cfg.Knowledge.Backend)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8181\n"), 0o600))

	t.Setenv("DISPATCHD_SERVER_PORT", "8282")
	t.Setenv("DISPATCHD_KNOWLEDGE_BACKEND", "qdrant")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8282, cfg.Server.Port)
	assert.Equal(t, "qdrant", cfg.Knowledge.Backend)
}

func TestLoad_InvalidConfig(t *testing.T) {
	t.Setenv("DISPATCHD_SERVER_PORT", "99999")

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"DISPATCHD_SERVER_PORT", "server.port"},
		{"DISPATCHD_CACHE_SEMANTIC_TTL", "cache.semantic_ttl"},
		{"DISPATCHD_PROVIDERS_OPENAI_KEY", "providers.openai_key"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, envTransform(tt.in))
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"bad backend", func(c *Config) { c.Knowledge.Backend = "pinecone" }},
		{"bad threshold", func(c *Config) { c.Cache.SemanticThreshold = 1.5 }},
		{"no workers", func(c *Config) { c.Jobs.Workers = 0 }},
		{"no retention", func(c *Config) { c.Jobs.RetentionDays = 0 }},
		{"empty storage path", func(c *Config) { c.Storage.Path = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
