// Package config handles MnemosDB configuration.
//
// Configuration loads from an optional YAML file and is then overlaid with
// MNEMOSDB_-prefixed environment variables, so deployments can ship a base
// file and override per environment. Validate() checks the result before the
// engines are opened.
//
// Example Usage:
//
//	cfg, err := config.Load("mnemosdb.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("invalid config: %v", err)
//	}
//
// Environment Variables:
//   - MNEMOSDB_DATA_DIR="./data"
//   - MNEMOSDB_ENGINE="badger" or "memory"
//   - MNEMOSDB_SYNC_WRITES=true
//   - MNEMOSDB_SEED_ONTOLOGY=true
//   - MNEMOSDB_LOG_LEVEL="debug" | "info" | "warn" | "error"
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Engine names accepted by Config.Engine.
const (
	EngineBadger = "badger"
	EngineMemory = "memory"
)

// Config holds all MnemosDB configuration.
type Config struct {
	// Storage settings.
	Storage StorageConfig `yaml:"storage"`

	// Ontology settings.
	Ontology OntologyConfig `yaml:"ontology"`

	// Logging settings.
	Logging LoggingConfig `yaml:"logging"`
}

// StorageConfig selects and tunes the storage engine.
type StorageConfig struct {
	// Engine is "badger" (persistent) or "memory" (volatile).
	Engine string `yaml:"engine"`
	// DataDir is the Badger data directory. Ignored by the memory engine.
	DataDir string `yaml:"data_dir"`
	// SyncWrites forces fsync after each write. Slower but more durable.
	SyncWrites bool `yaml:"sync_writes"`
}

// OntologyConfig controls the concept-tree seed.
type OntologyConfig struct {
	// SeedOnInit loads the concept tree during `mnemosdb init` when it is
	// not already present.
	SeedOnInit bool `yaml:"seed_on_init"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is "debug", "info", "warn", or "error".
	Level string `yaml:"level"`
}

// Default returns the built-in configuration: a persistent engine under
// ./data with ontology seeding enabled.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Engine:  EngineBadger,
			DataDir: "./data",
		},
		Ontology: OntologyConfig{SeedOnInit: true},
		Logging:  LoggingConfig{Level: "info"},
	}
}

// Load reads the YAML file at path (skipped when path is empty or the file
// does not exist), then applies environment overrides on top of defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overlays MNEMOSDB_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("MNEMOSDB_ENGINE"); v != "" {
		c.Storage.Engine = v
	}
	if v := os.Getenv("MNEMOSDB_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("MNEMOSDB_SYNC_WRITES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Storage.SyncWrites = b
		}
	}
	if v := os.Getenv("MNEMOSDB_SEED_ONTOLOGY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Ontology.SeedOnInit = b
		}
	}
	if v := os.Getenv("MNEMOSDB_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks the configuration for contradictions before use.
func (c *Config) Validate() error {
	switch c.Storage.Engine {
	case EngineBadger:
		if c.Storage.DataDir == "" {
			return fmt.Errorf("storage.data_dir required for the badger engine")
		}
	case EngineMemory:
		// No settings to check.
	default:
		return fmt.Errorf("unknown storage.engine %q (want %q or %q)",
			c.Storage.Engine, EngineBadger, EngineMemory)
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging.level %q", c.Logging.Level)
	}
	return nil
}
