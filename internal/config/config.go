// Package config loads Engram configuration. Values come from an
// optional YAML file overlaid by environment variables with the ENGRAM_
// prefix; every setting has a sensible default so a bare invocation
// works out of the box.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is consulted when ENGRAM_CONFIG is unset. A missing
// file is not an error.
const DefaultConfigPath = "engram.yaml"

// Config holds all settings for the Engram memory server.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Decay     DecayConfig     `yaml:"decay"`
	Notify    NotifyConfig    `yaml:"notify"`
}

// ServerConfig configures the web/notification server.
type ServerConfig struct {
	Host string `yaml:"host"` // default: 127.0.0.1
	Port int    `yaml:"port"` // default: 7272
}

// StorageConfig selects and configures the store backend.
type StorageConfig struct {
	Engine      string `yaml:"engine"`       // sqlite or postgres (default: sqlite)
	SQLitePath  string `yaml:"sqlite_path"`  // default: ./data/engram.db
	PostgresDSN string `yaml:"postgres_dsn"` // required when engine is postgres
}

// EmbeddingConfig configures the optional embedding backend.
type EmbeddingConfig struct {
	Provider          string  `yaml:"provider"`            // none, ollama, or openai (default: none)
	OllamaURL         string  `yaml:"ollama_url"`          // default: http://localhost:11434
	OllamaModel       string  `yaml:"ollama_model"`        // default: nomic-embed-text
	OpenAIAPIKey      string  `yaml:"openai_api_key"`      //
	OpenAIModel       string  `yaml:"openai_model"`        // default: text-embedding-3-small
	OpenAIBaseURL     string  `yaml:"openai_base_url"`     // default: https://api.openai.com
	RequestsPerSecond float64 `yaml:"requests_per_second"` // default: 5
}

// SearchConfig tunes retrieval.
type SearchConfig struct {
	MinSimilarity float64 `yaml:"min_similarity"` // semantic score cutoff (default: 0, disabled)
	DefaultLimit  int     `yaml:"default_limit"`  // results when caller omits limit (default: 10)
}

// NotifyConfig configures the cross-process event bridge.
type NotifyConfig struct {
	EventsDir string `yaml:"events_dir"` // default: ./data/events
}

// DecayConfig tunes importance decay.
type DecayConfig struct {
	HalfLifeDays float64 `yaml:"half_life_days"` // default: 30
	Floor        float64 `yaml:"floor"`          // default: 0.05
}

// Load builds the configuration: defaults, then the YAML file (path from
// ENGRAM_CONFIG, falling back to engram.yaml when present), then
// environment overrides. The result is validated.
func Load() (*Config, error) {
	cfg := defaultConfig()

	path := os.Getenv("ENGRAM_CONFIG")
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath
	}
	if err := loadFile(cfg, path, explicit); err != nil {
		return nil, err
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Storage.Engine {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown storage engine %q", c.Storage.Engine)
	}
	if c.Storage.Engine == "postgres" && c.Storage.PostgresDSN == "" {
		return errors.New("config: postgres engine requires a DSN")
	}
	switch c.Embedding.Provider {
	case "none", "ollama", "openai":
	default:
		return fmt.Errorf("config: unknown embedding provider %q", c.Embedding.Provider)
	}
	if c.Decay.HalfLifeDays <= 0 {
		return errors.New("config: decay half-life must be positive")
	}
	if c.Decay.Floor < 0 || c.Decay.Floor > 1 {
		return errors.New("config: decay floor must be within [0, 1]")
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 7272,
		},
		Storage: StorageConfig{
			Engine:     "sqlite",
			SQLitePath: "./data/engram.db",
		},
		Embedding: EmbeddingConfig{
			Provider:          "none",
			OllamaURL:         "http://localhost:11434",
			OllamaModel:       "nomic-embed-text",
			OpenAIModel:       "text-embedding-3-small",
			OpenAIBaseURL:     "https://api.openai.com",
			RequestsPerSecond: 5,
		},
		Search: SearchConfig{
			MinSimilarity: 0,
			DefaultLimit:  10,
		},
		Decay: DecayConfig{
			HalfLifeDays: 30,
			Floor:        0.05,
		},
		Notify: NotifyConfig{
			EventsDir: "./data/events",
		},
	}
}

// loadFile overlays YAML settings onto cfg. A missing default-path file
// is fine; a missing explicitly configured file is an error.
func loadFile(cfg *Config, path string, explicit bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides cfg fields from ENGRAM_* environment variables.
func applyEnv(cfg *Config) {
	cfg.Server.Host = getEnv("ENGRAM_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("ENGRAM_PORT", cfg.Server.Port)

	cfg.Storage.Engine = getEnv("ENGRAM_STORAGE_ENGINE", cfg.Storage.Engine)
	cfg.Storage.SQLitePath = getEnv("ENGRAM_SQLITE_PATH", cfg.Storage.SQLitePath)
	cfg.Storage.PostgresDSN = getEnv("ENGRAM_POSTGRES_DSN", cfg.Storage.PostgresDSN)

	cfg.Embedding.Provider = getEnv("ENGRAM_EMBEDDING_PROVIDER", cfg.Embedding.Provider)
	cfg.Embedding.OllamaURL = getEnv("ENGRAM_OLLAMA_URL", cfg.Embedding.OllamaURL)
	cfg.Embedding.OllamaModel = getEnv("ENGRAM_OLLAMA_MODEL", cfg.Embedding.OllamaModel)
	cfg.Embedding.OpenAIAPIKey = getEnv("ENGRAM_OPENAI_API_KEY", cfg.Embedding.OpenAIAPIKey)
	cfg.Embedding.OpenAIModel = getEnv("ENGRAM_OPENAI_MODEL", cfg.Embedding.OpenAIModel)
	cfg.Embedding.OpenAIBaseURL = getEnv("ENGRAM_OPENAI_BASE_URL", cfg.Embedding.OpenAIBaseURL)
	cfg.Embedding.RequestsPerSecond = getEnvFloat("ENGRAM_EMBEDDING_RPS", cfg.Embedding.RequestsPerSecond)

	cfg.Search.MinSimilarity = getEnvFloat("ENGRAM_MIN_SIMILARITY", cfg.Search.MinSimilarity)
	cfg.Search.DefaultLimit = getEnvInt("ENGRAM_DEFAULT_LIMIT", cfg.Search.DefaultLimit)

	cfg.Decay.HalfLifeDays = getEnvFloat("ENGRAM_DECAY_HALF_LIFE_DAYS", cfg.Decay.HalfLifeDays)
	cfg.Decay.Floor = getEnvFloat("ENGRAM_DECAY_FLOOR", cfg.Decay.Floor)

	cfg.Notify.EventsDir = getEnv("ENGRAM_EVENTS_DIR", cfg.Notify.EventsDir)
}

// getEnv retrieves a string environment variable or returns the default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns the
// default. Unparseable values fall back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns the
// default. Unparseable values fall back to the default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
