package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, EngineBadger, cfg.Storage.Engine)
	assert.Equal(t, "./data", cfg.Storage.DataDir)
	assert.False(t, cfg.Storage.SyncWrites)
	assert.True(t, cfg.Ontology.SeedOnInit)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NoError(t, cfg.Validate())
}

func TestLoadYAMLOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mnemosdb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  engine: memory
ontology:
  seed_on_init: false
logging:
  level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, EngineMemory, cfg.Storage.Engine)
	assert.Equal(t, "./data", cfg.Storage.DataDir, "unset keys keep defaults")
	assert.False(t, cfg.Ontology.SeedOnInit)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, EngineBadger, cfg.Storage.Engine)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage: ["), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mnemosdb.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  engine: badger\n"), 0o644))

	t.Setenv("MNEMOSDB_ENGINE", "memory")
	t.Setenv("MNEMOSDB_DATA_DIR", "/var/lib/mnemosdb")
	t.Setenv("MNEMOSDB_SYNC_WRITES", "true")
	t.Setenv("MNEMOSDB_SEED_ONTOLOGY", "false")
	t.Setenv("MNEMOSDB_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, EngineMemory, cfg.Storage.Engine)
	assert.Equal(t, "/var/lib/mnemosdb", cfg.Storage.DataDir)
	assert.True(t, cfg.Storage.SyncWrites)
	assert.False(t, cfg.Ontology.SeedOnInit)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Storage.DataDir = ""
	assert.Error(t, cfg.Validate(), "badger needs a data dir")

	cfg = Default()
	cfg.Storage.Engine = "sqlite"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Storage.Engine = EngineMemory
	cfg.Storage.DataDir = ""
	assert.NoError(t, cfg.Validate(), "memory engine ignores data dir")

	cfg = Default()
	cfg.Logging.Level = "verbose"
	assert.Error(t, cfg.Validate())
}
