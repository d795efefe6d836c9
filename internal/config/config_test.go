package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadFromPathCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	_, statErr := os.Stat(path)
	assert.NoError(t, statErr, "default config file should be written")
	assert.Equal(t, "openai", cfg.LLM.DefaultProvider)
	assert.True(t, cfg.Pipeline.DirectToolsEnabled)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromPathReadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: "0.0.0.0:9090"
llm:
  default_provider: ollama
  providers:
    ollama:
      endpoint: http://127.0.0.1:11434
      model: llama3.2
warehouse:
  driver: sqlite
  dsn: /tmp/test-warehouse.db
  max_rows: 100
personas:
  default: product_planning
pipeline:
  direct_tools_enabled: false
  discovery_limit: 5
  selection_limit: 2
logging:
  level: debug
`), 0o644))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", cfg.Server.Addr)
	assert.Equal(t, "ollama", cfg.LLM.DefaultProvider)
	assert.False(t, cfg.Pipeline.DirectToolsEnabled)
	assert.Equal(t, 5, cfg.Pipeline.DiscoveryLimit)
	assert.Equal(t, "debug", cfg.Logging.Level)
	require.NoError(t, cfg.Validate())
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := Default()
	cfg.Server.Addr = "127.0.0.1:7777"
	cfg.Pipeline.SelectionLimit = 7
	require.NoError(t, cfg.SaveToPath(path))

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7777", loaded.Server.Addr)
	assert.Equal(t, 7, loaded.Pipeline.SelectionLimit)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		substr string
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = "" }, "server.addr"},
		{"missing default provider", func(c *Config) { c.LLM.DefaultProvider = "missing" }, "not found"},
		{"zero max rows", func(c *Config) { c.Warehouse.MaxRows = 0 }, "max_rows"},
		{"empty default persona", func(c *Config) { c.Personas.Default = "" }, "personas.default"},
		{"zero discovery limit", func(c *Config) { c.Pipeline.DiscoveryLimit = 0 }, "discovery_limit"},
		{"bad log level", func(c *Config) { c.Logging.Level = "chatty" }, "log level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.substr)
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".datadesk"), expandPath("~/.datadesk"))
	assert.Equal(t, "/absolute/path", expandPath("/absolute/path"))
}
