package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Selection is the outcome of resolving an agent role to a usable client.
// ModelUsed differs from ModelAssigned when the local endpoint was down and
// the cloud fallback served instead.
type Selection struct {
	Client        llms.Model
	Role          string
	ModelAssigned string
	ModelUsed     string
	Provider      string
	FellBack      bool
}

// clientFactory builds a client for a provider/model pair. Swappable in tests.
type clientFactory func(provider, model string) (llms.Model, error)

// probeFunc reports whether the Ollama endpoint answers. Swappable in tests.
type probeFunc func(ctx context.Context) bool

// Selector resolves agent roles to LLM clients with availability fallback.
// Constructed clients are cached per model identifier for the process
// lifetime; the Ollama probe result is cached for the configured TTL.
type Selector struct {
	cfg    *Config
	logger *slog.Logger

	factory clientFactory
	probe   probeFunc

	mu          sync.Mutex
	clients     map[string]llms.Model
	probeResult bool
	probedAt    time.Time
}

// SelectorOption customizes a Selector.
type SelectorOption func(*Selector)

// WithClientFactory replaces how provider clients are constructed.
func WithClientFactory(factory func(provider, model string) (llms.Model, error)) SelectorOption {
	return func(s *Selector) { s.factory = factory }
}

// WithAvailabilityProbe replaces the Ollama liveness probe.
func WithAvailabilityProbe(probe func(ctx context.Context) bool) SelectorOption {
	return func(s *Selector) { s.probe = probe }
}

// NewSelector creates a Selector from the loaded configuration.
func NewSelector(cfg *Config, logger *slog.Logger, opts ...SelectorOption) *Selector {
	s := &Selector{
		cfg:     cfg,
		logger:  logger.With("module", "llm"),
		clients: make(map[string]llms.Model),
	}
	s.factory = s.buildClient
	s.probe = s.probeOllama

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// GetModelForAgent returns the assigned model identifier for a role. Unknown
// roles fail closed rather than silently picking a default.
func (s *Selector) GetModelForAgent(role string) (string, error) {
	modelID, ok := s.cfg.Assignments[role]
	if !ok {
		return "", fmt.Errorf("no model assigned for agent role %q", role)
	}

	return modelID, nil
}

// IsOllamaAvailable probes the local endpoint, caching the result for the
// configured TTL so node executions do not hammer it.
func (s *Selector) IsOllamaAvailable(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if time.Since(s.probedAt) < s.cfg.ProbeTTL {
		return s.probeResult
	}

	s.probeResult = s.probe(ctx)
	s.probedAt = time.Now()

	return s.probeResult
}

// GetLLMForAgent resolves a role to a ready client. Local assignments route
// to the cloud fallback when the local endpoint is down, and the fallback is
// logged with both model identifiers.
func (s *Selector) GetLLMForAgent(ctx context.Context, role string) (*Selection, error) {
	assigned, err := s.GetModelForAgent(role)
	if err != nil {
		return nil, err
	}

	provider, _, err := SplitModelID(assigned)
	if err != nil {
		return nil, fmt.Errorf("agent role %q: %w", role, err)
	}

	used := assigned
	fellBack := false

	if provider == ProviderOllama && !s.IsOllamaAvailable(ctx) {
		used = s.fallbackFor(role)
		fellBack = true

		s.logger.WarnContext(ctx, "Local model unavailable, falling back to cloud",
			"role", role,
			"assigned_model", assigned,
			"used_model", used)
	}

	usedProvider, usedModel, err := SplitModelID(used)
	if err != nil {
		return nil, fmt.Errorf("agent role %q fallback: %w", role, err)
	}

	client, err := s.clientFor(usedProvider, usedModel)
	if err != nil {
		return nil, err
	}

	return &Selection{
		Client:        client,
		Role:          role,
		ModelAssigned: assigned,
		ModelUsed:     used,
		Provider:      usedProvider,
		FellBack:      fellBack,
	}, nil
}

// ClearCache drops all cached clients and forgets the probe result.
func (s *Selector) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clients = make(map[string]llms.Model)
	s.probedAt = time.Time{}
	s.probeResult = false
}

func (s *Selector) fallbackFor(role string) string {
	if fallback, ok := s.cfg.Fallbacks[role]; ok {
		return fallback
	}

	return s.cfg.DefaultFallback
}

func (s *Selector) clientFor(provider, model string) (llms.Model, error) {
	key := provider + ":" + model

	s.mu.Lock()
	defer s.mu.Unlock()

	if client, ok := s.clients[key]; ok {
		return client, nil
	}

	client, err := s.factory(provider, model)
	if err != nil {
		return nil, fmt.Errorf("failed to build client for %s: %w", key, err)
	}

	s.clients[key] = client

	return client, nil
}

func (s *Selector) buildClient(provider, model string) (llms.Model, error) {
	switch provider {
	case ProviderOllama:
		return ollama.New(
			ollama.WithServerURL(s.cfg.OllamaURL),
			ollama.WithModel(model),
		)
	case ProviderOpenAI:
		opts := []openai.Option{
			openai.WithModel(model),
			openai.WithToken(s.cfg.OpenAIAPIKey),
		}
		if s.cfg.OpenAIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(s.cfg.OpenAIBaseURL))
		}

		return openai.New(opts...)
	default:
		return nil, fmt.Errorf("unknown model provider %q", provider)
	}
}

func (s *Selector) probeOllama(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, s.cfg.OllamaURL+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	return resp.StatusCode == http.StatusOK
}
