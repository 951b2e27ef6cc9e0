// Package llm routes agent roles to local or cloud language models.
//
// Each agent role is statically assigned a model identifier of the form
// "provider:model" (for example "ollama:qwen2.5-coder" or "openai:gpt-4o").
// Local assignments fall back to a configured cloud model when the local
// endpoint is unavailable; the fallback is always logged so cost and quality
// drift stays observable.
package llm

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// ProviderOllama and ProviderOpenAI are the supported model providers.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// DefaultProbeTTL bounds how often the Ollama endpoint is probed.
const DefaultProbeTTL = 30 * time.Second

// Config holds the role assignment table and provider settings.
type Config struct {
	// Assignments maps agent role to "provider:model".
	Assignments map[string]string `koanf:"assignments"`

	// Fallbacks maps agent role to the cloud model used when the assigned
	// local model is unavailable. Roles without an entry use DefaultFallback.
	Fallbacks map[string]string `koanf:"fallbacks"`

	// DefaultFallback is the cloud model used when no per-role fallback is
	// configured.
	DefaultFallback string `koanf:"default_fallback"`

	OllamaURL string        `koanf:"ollama_url"`
	ProbeTTL  time.Duration `koanf:"probe_ttl"`

	OpenAIAPIKey  string `koanf:"openai_api_key"`
	OpenAIBaseURL string `koanf:"openai_base_url"`
}

// LoadConfig reads the assignment table from a YAML file, then applies
// STORYFLOW_LLM_* environment overrides. A missing file is not an error;
// the environment alone can configure everything.
func LoadConfig(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err == nil {
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	err := k.Load(env.Provider("STORYFLOW_LLM_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "STORYFLOW_LLM_")), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	cfg := &Config{}

	err = k.Unmarshal("", cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(cfg)

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.OllamaURL == "" {
		cfg.OllamaURL = "http://localhost:11434"
	}

	if cfg.ProbeTTL <= 0 {
		cfg.ProbeTTL = DefaultProbeTTL
	}

	if cfg.DefaultFallback == "" {
		cfg.DefaultFallback = "openai:gpt-4o-mini"
	}
}

// SplitModelID splits "provider:model" into its parts.
func SplitModelID(modelID string) (provider, model string, err error) {
	provider, model, found := strings.Cut(modelID, ":")
	if !found || provider == "" || model == "" {
		return "", "", fmt.Errorf("malformed model identifier %q, want provider:model", modelID)
	}

	if provider != ProviderOllama && provider != ProviderOpenAI {
		return "", "", fmt.Errorf("unknown model provider %q", provider)
	}

	return provider, model, nil
}
