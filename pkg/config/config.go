// Package config loads the engine's configuration: defaults, then an
// optional YAML file layer, then environment-variable overrides. The
// layering order and the optional-file lookup (env var, then cwd, then
// home directory) are the teacher's pkg/config shape; the schema itself
// is spec §6's flat EXTERNAL INTERFACES table rather than the teacher's
// nested server/chunking/embeddings tree.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds every setting the engine needs to start.
type Config struct {
	RepoPath          string   `yaml:"repo_path"`
	IndexStatePath    string   `yaml:"index_state_path"`
	VectorStoreURL    string   `yaml:"vector_store_url"`
	VectorStoreAPIKey string   `yaml:"vector_store_api_key"`
	VectorCollection  string   `yaml:"vector_collection"`
	EmbeddingAPIKey   string   `yaml:"embedding_api_key"`
	EmbeddingModel    string   `yaml:"embedding_model"`
	EmbeddingEndpoint string   `yaml:"embedding_endpoint"`
	WatchMode         bool     `yaml:"watch_mode"`
	BatchSize         int      `yaml:"batch_size"`
	IgnorePaths       []string `yaml:"ignore_paths"`

	// Ambient settings not named in spec §6's table but carried forward
	// from the teacher's config in the same way the teacher carries them:
	// a rotating log directory and a parallel worker count. ParallelWorkers
	// is loaded but not read by any package; the AST name-refinement pass
	// runs on the engine's own goroutine.
	Logging LoggingConfig `yaml:"logging"`
	ParallelWorkers int   `yaml:"parallel_workers"`
}

// LoggingConfig configures the rotating log file, matching the teacher's
// LoggingConfig shape.
type LoggingConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Directory  string `yaml:"directory"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// DefaultConfig returns spec §6's stated defaults. RepoPath,
// VectorStoreURL, and the two API keys have no default. Load requires
// RepoPath, VectorStoreURL, and EmbeddingAPIKey; VectorStoreAPIKey may
// stay empty.
func DefaultConfig() *Config {
	return &Config{
		IndexStatePath:   "./memory/index-metadata.json",
		VectorCollection: "codebase",
		EmbeddingModel:    "", // provider-specific 768-dim default, set by the embedding client
		EmbeddingEndpoint: "https://api.openai.com/v1/embeddings",
		WatchMode:         true,
		BatchSize:         25,
		IgnorePaths:       []string{".git", "node_modules", ".venv", "__pycache__", "dist", "build"},
		Logging: LoggingConfig{
			Enabled:    true,
			Directory:  "~/.codeindex/logs",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		ParallelWorkers: runtime.NumCPU(),
	}
}

// Load builds a Config from defaults, an optional YAML file, then
// environment variables, in that order of increasing precedence. It
// returns an error if a required key is still unset afterward.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if path := getConfigPath(); path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	cfg.RepoPath = expandPath(cfg.RepoPath)
	cfg.IndexStatePath = expandPath(cfg.IndexStatePath)
	cfg.Logging.Directory = expandPath(cfg.Logging.Directory)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.RepoPath == "" {
		missing = append(missing, "REPO_PATH")
	}
	if c.VectorStoreURL == "" {
		missing = append(missing, "VECTOR_STORE_URL")
	}
	if c.EmbeddingAPIKey == "" {
		missing = append(missing, "EMBEDDING_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required setting(s): %s", strings.Join(missing, ", "))
	}
	if !filepath.IsAbs(c.RepoPath) {
		return fmt.Errorf("config: REPO_PATH must be absolute, got %q", c.RepoPath)
	}
	return nil
}

// getConfigPath mirrors the teacher's lookup order: an explicit env var,
// then a config.yaml in the working directory, then one under the
// user's home directory. Any of these being absent is not an error; a
// config file is optional, since every setting also has an env var.
func getConfigPath() string {
	if path := os.Getenv("CODEINDEX_CONFIG"); path != "" {
		return path
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}
	home, err := os.UserHomeDir()
	if err == nil {
		path := filepath.Join(home, ".codeindex", "config.yaml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides layers spec §6's env vars on top of defaults/file.
// An unset or empty env var never overwrites a value already set by the
// file layer.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REPO_PATH"); v != "" {
		cfg.RepoPath = v
	}
	if v := os.Getenv("INDEX_STATE_PATH"); v != "" {
		cfg.IndexStatePath = v
	}
	if v := os.Getenv("VECTOR_STORE_URL"); v != "" {
		cfg.VectorStoreURL = v
	}
	if v := os.Getenv("VECTOR_STORE_API_KEY"); v != "" {
		cfg.VectorStoreAPIKey = v
	}
	if v := os.Getenv("VECTOR_COLLECTION"); v != "" {
		cfg.VectorCollection = v
	}
	if v := os.Getenv("EMBEDDING_API_KEY"); v != "" {
		cfg.EmbeddingAPIKey = v
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.EmbeddingModel = v
	}
	if v := os.Getenv("EMBEDDING_ENDPOINT"); v != "" {
		cfg.EmbeddingEndpoint = v
	}
	if v := os.Getenv("WATCH_MODE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.WatchMode = b
		}
	}
	if v := os.Getenv("BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BatchSize = n
		}
	}
	if v := os.Getenv("IGNORE_PATHS"); v != "" {
		parts := strings.Split(v, ",")
		ignore := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				ignore = append(ignore, p)
			}
		}
		cfg.IgnorePaths = ignore
	}
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
