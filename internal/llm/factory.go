package llm

import (
	"fmt"
	"os"
	"time"

	"github.com/datadeskhq/datadesk/internal/config"
)

// NewProvider creates an LLM provider based on configuration.
func NewProvider(cfg *config.Config) (Provider, error) {
	name := cfg.LLM.DefaultProvider
	if name == "" {
		name = "openai"
	}

	providerCfg, exists := cfg.LLM.Providers[name]
	if !exists {
		return nil, fmt.Errorf("provider '%s' not found in configuration", name)
	}

	apiKey := providerCfg.APIKey
	if apiKey == "" {
		apiKey = apiKeyFromEnv(name)
	}

	llmCfg := &ProviderConfig{
		Name:     name,
		Endpoint: providerCfg.Endpoint,
		APIKey:   apiKey,
		Model:    providerCfg.Model,
	}
	if providerCfg.TimeoutSec > 0 {
		llmCfg.Timeout = time.Duration(providerCfg.TimeoutSec) * time.Second
	}

	return NewProviderByName(name, llmCfg)
}

// NewProviderByName creates a provider for a known provider name.
func NewProviderByName(name string, cfg *ProviderConfig) (Provider, error) {
	switch name {
	case "openai":
		return NewOpenAIProvider(cfg), nil
	case "ollama":
		return NewOllamaProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", name)
	}
}

// apiKeyFromEnv retrieves the API key from standard environment variables.
func apiKeyFromEnv(name string) string {
	envVars := map[string]string{
		"openai": "OPENAI_API_KEY",
	}
	if envVar, ok := envVars[name]; ok {
		return os.Getenv(envVar)
	}
	return ""
}
