package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Engine)
	assert.Equal(t, "./data/engram.db", cfg.Storage.SQLitePath)
	assert.Equal(t, "none", cfg.Embedding.Provider)
	assert.Equal(t, 7272, cfg.Server.Port)
	assert.Equal(t, 0.0, cfg.Search.MinSimilarity)
	assert.Equal(t, 10, cfg.Search.DefaultLimit)
	assert.Equal(t, 30.0, cfg.Decay.HalfLifeDays)
	assert.Equal(t, 0.05, cfg.Decay.Floor)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ENGRAM_STORAGE_ENGINE", "postgres")
	t.Setenv("ENGRAM_POSTGRES_DSN", "postgres://localhost/engram")
	t.Setenv("ENGRAM_EMBEDDING_PROVIDER", "ollama")
	t.Setenv("ENGRAM_OLLAMA_MODEL", "mxbai-embed-large")
	t.Setenv("ENGRAM_PORT", "9999")
	t.Setenv("ENGRAM_DECAY_HALF_LIFE_DAYS", "7.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Storage.Engine)
	assert.Equal(t, "postgres://localhost/engram", cfg.Storage.PostgresDSN)
	assert.Equal(t, "ollama", cfg.Embedding.Provider)
	assert.Equal(t, "mxbai-embed-large", cfg.Embedding.OllamaModel)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 7.5, cfg.Decay.HalfLifeDays)
}

func TestLoadYAMLFileWithEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engram.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  engine: sqlite
  sqlite_path: /var/lib/engram/engram.db
embedding:
  provider: openai
  openai_api_key: sk-from-file
search:
  min_similarity: 0.5
`), 0o600))
	t.Setenv("ENGRAM_CONFIG", path)
	t.Setenv("ENGRAM_OPENAI_API_KEY", "sk-from-env")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/engram/engram.db", cfg.Storage.SQLitePath)
	assert.Equal(t, "openai", cfg.Embedding.Provider)
	// Env wins over the file.
	assert.Equal(t, "sk-from-env", cfg.Embedding.OpenAIAPIKey)
	assert.Equal(t, 0.5, cfg.Search.MinSimilarity)
	// Untouched sections keep defaults.
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.OpenAIModel)
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	t.Setenv("ENGRAM_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown engine", func(c *Config) { c.Storage.Engine = "mysql" }},
		{"postgres without dsn", func(c *Config) { c.Storage.Engine = "postgres" }},
		{"unknown provider", func(c *Config) { c.Embedding.Provider = "cohere" }},
		{"zero half-life", func(c *Config) { c.Decay.HalfLifeDays = 0 }},
		{"floor above one", func(c *Config) { c.Decay.Floor = 1.5 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, defaultConfig().Validate())
}

func TestUnparseableEnvFallsBack(t *testing.T) {
	t.Setenv("ENGRAM_PORT", "not-a-number")
	t.Setenv("ENGRAM_DECAY_FLOOR", "soft")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7272, cfg.Server.Port)
	assert.Equal(t, 0.05, cfg.Decay.Floor)
}
