// Package config loads and validates DataDesk configuration.
// Configuration lives in ~/.datadesk/config.yaml and can be overridden by
// environment variables with the DATADESK_ prefix.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	LLM       LLMConfig       `mapstructure:"llm" yaml:"llm"`
	Warehouse WarehouseConfig `mapstructure:"warehouse" yaml:"warehouse"`
	Personas  PersonaConfig   `mapstructure:"personas" yaml:"personas"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline" yaml:"pipeline"`
	Session   SessionConfig   `mapstructure:"session" yaml:"session"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig contains settings for the HTTP API.
type ServerConfig struct {
	// Addr is the listen address (host:port).
	Addr string `mapstructure:"addr" yaml:"addr"`
	// ReadTimeout bounds request header+body reads.
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	// WriteTimeout bounds response writes. Pipelines with two LLM calls and two
	// warehouse queries can legitimately take tens of seconds.
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// LLMConfig contains configuration for language model providers.
type LLMConfig struct {
	// DefaultProvider selects which provider to use ("openai", "ollama").
	DefaultProvider string `mapstructure:"default_provider" yaml:"default_provider"`
	// Providers maps provider names to their configuration.
	Providers map[string]ProviderConfig `mapstructure:"providers" yaml:"providers"`
}

// ProviderConfig configures a single LLM provider.
type ProviderConfig struct {
	// Endpoint is the API base URL.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	// APIKey authenticates against the provider. Falls back to the standard
	// environment variable for the provider when empty.
	APIKey string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	// Model is the model identifier to request.
	Model string `mapstructure:"model" yaml:"model,omitempty"`
	// TimeoutSec bounds a single completion call.
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec,omitempty"`
}

// WarehouseConfig configures the backing data store.
type WarehouseConfig struct {
	// Driver is the database/sql driver name ("sqlite").
	Driver string `mapstructure:"driver" yaml:"driver"`
	// DSN is the data source name (file path for sqlite).
	DSN string `mapstructure:"dsn" yaml:"dsn"`
	// QueryTimeout bounds a single warehouse query.
	QueryTimeout time.Duration `mapstructure:"query_timeout" yaml:"query_timeout"`
	// MaxRows caps result sets returned to the pipeline.
	MaxRows int `mapstructure:"max_rows" yaml:"max_rows"`
}

// PersonaConfig configures persona bundle loading.
type PersonaConfig struct {
	// Dir is the directory containing persona YAML bundles.
	Dir string `mapstructure:"dir" yaml:"dir"`
	// Default is the persona used when classification fails or names an
	// unknown persona.
	Default string `mapstructure:"default" yaml:"default"`
}

// PipelineConfig tunes the execution orchestrator.
type PipelineConfig struct {
	// DirectToolsEnabled toggles the fast deterministic path. When false every
	// single-stage question takes the AI workflow.
	DirectToolsEnabled bool `mapstructure:"direct_tools_enabled" yaml:"direct_tools_enabled"`
	// DiscoveryLimit caps candidate rows surfaced by the discovery stage.
	DiscoveryLimit int `mapstructure:"discovery_limit" yaml:"discovery_limit"`
	// SelectionLimit caps items carried from discovery into analysis.
	SelectionLimit int `mapstructure:"selection_limit" yaml:"selection_limit"`
	// SampleRows caps rows embedded into reasoning prompts.
	SampleRows int `mapstructure:"sample_rows" yaml:"sample_rows"`
}

// SessionConfig configures per-request session logging.
type SessionConfig struct {
	// Enabled toggles persistence of session records.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// DBPath is the SQLite file holding session records.
	DBPath string `mapstructure:"db_path" yaml:"db_path"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error").
	Level string `mapstructure:"level" yaml:"level"`
	// File is an optional path for persistent logs.
	File string `mapstructure:"file" yaml:"file"`
	// Pretty enables human-readable console output.
	Pretty bool `mapstructure:"pretty" yaml:"pretty"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".datadesk")

	return &Config{
		Server: ServerConfig{
			Addr:         "127.0.0.1:8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 120 * time.Second,
		},
		LLM: LLMConfig{
			DefaultProvider: "openai",
			Providers: map[string]ProviderConfig{
				"openai": {
					Endpoint:   "https://api.openai.com/v1",
					Model:      "gpt-4o-mini",
					TimeoutSec: 60,
				},
				"ollama": {
					Endpoint:   "http://127.0.0.1:11434",
					Model:      "llama3.2",
					TimeoutSec: 120,
				},
			},
		},
		Warehouse: WarehouseConfig{
			Driver:       "sqlite",
			DSN:          filepath.Join(dataDir, "warehouse.db"),
			QueryTimeout: 30 * time.Second,
			MaxRows:      500,
		},
		Personas: PersonaConfig{
			Dir:     filepath.Join(dataDir, "personas"),
			Default: "product_planning",
		},
		Pipeline: PipelineConfig{
			DirectToolsEnabled: true,
			DiscoveryLimit:     20,
			SelectionLimit:     3,
			SampleRows:         10,
		},
		Session: SessionConfig{
			Enabled: true,
			DBPath:  filepath.Join(dataDir, "sessions.db"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			File:   filepath.Join(dataDir, "logs", "datadesk.log"),
			Pretty: true,
		},
	}
}

// Load reads configuration from the default location (~/.datadesk/config.yaml).
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home directory: %w", err)
	}
	return LoadFromPath(filepath.Join(homeDir, ".datadesk", "config.yaml"))
}

// LoadFromPath reads configuration from a specific file, creating a default
// file when none exists, and merges environment variable overrides.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create config directory: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeConfigFile(path, Default()); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Example override: DATADESK_LLM_PROVIDERS_OPENAI_API_KEY
	v.SetEnvPrefix("DATADESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Warehouse.DSN = expandPath(cfg.Warehouse.DSN)
	cfg.Personas.Dir = expandPath(cfg.Personas.Dir)
	cfg.Session.DBPath = expandPath(cfg.Session.DBPath)
	cfg.Logging.File = expandPath(cfg.Logging.File)

	return &cfg, nil
}

// SaveToPath writes the current configuration to a specific file path.
func (c *Config) SaveToPath(path string) error {
	path = expandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return writeConfigFile(path, c)
}

// Validate checks the configuration for common errors.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr cannot be empty")
	}

	if c.LLM.DefaultProvider == "" {
		return fmt.Errorf("llm.default_provider cannot be empty")
	}
	if _, exists := c.LLM.Providers[c.LLM.DefaultProvider]; !exists {
		return fmt.Errorf("default provider '%s' not found in providers map", c.LLM.DefaultProvider)
	}

	if c.Warehouse.Driver == "" {
		return fmt.Errorf("warehouse.driver cannot be empty")
	}
	if c.Warehouse.MaxRows <= 0 {
		return fmt.Errorf("warehouse.max_rows must be positive")
	}

	if c.Personas.Default == "" {
		return fmt.Errorf("personas.default cannot be empty")
	}

	if c.Pipeline.DiscoveryLimit <= 0 {
		return fmt.Errorf("pipeline.discovery_limit must be positive")
	}
	if c.Pipeline.SelectionLimit <= 0 {
		return fmt.Errorf("pipeline.selection_limit must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}

	return nil
}

// writeConfigFile writes a Config struct to a YAML file.
// Uses gopkg.in/yaml.v3 directly to ensure proper tag-based serialization.
func writeConfigFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// expandPath expands ~ to the user's home directory in a path string.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[1:])
	}
	return path
}
