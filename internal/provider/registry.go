package provider

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/dispatchd/internal/modelconfig"
)

// Config holds provider-level settings shared by all adapters.
type Config struct {
	// OpenAIKey and AnthropicKey are static API keys from configuration.
	// A model config's CredentialRef takes precedence; the provider's
	// conventional environment variable is the final fallback.
	OpenAIKey    string `koanf:"openai_key"`
	AnthropicKey string `koanf:"anthropic_key"`

	// OpenAIBaseURL overrides the OpenAI API endpoint, for proxies and
	// compatible backends.
	OpenAIBaseURL string `koanf:"openai_base_url"`

	// OllamaURL is the Ollama server address.
	OllamaURL string `koanf:"ollama_url"`

	// DispatchTimeout bounds a single backend call. Zero disables it.
	DispatchTimeout time.Duration `koanf:"dispatch_timeout"`

	// RequestsPerSecond caps client-side dispatch rate per adapter.
	// Zero disables the limiter.
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	Burst             int     `koanf:"burst"`
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.OllamaURL == "" {
		c.OllamaURL = "http://localhost:11434"
	}
	if c.Burst == 0 {
		c.Burst = 1
	}
}

// Registry owns one long-lived adapter per provider/model pair, reused
// across calls and closed with the process.
type Registry struct {
	mu       sync.Mutex
	adapters map[string]Adapter
	config   Config
	logger   *zap.Logger
}

// NewRegistry creates an adapter registry.
func NewRegistry(cfg Config, logger *zap.Logger) *Registry {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		adapters: make(map[string]Adapter),
		config:   cfg,
		logger:   logger,
	}
}

// Resolve returns the adapter for a model config, constructing and
// caching it on first use.
func (r *Registry) Resolve(cfg *modelconfig.ModelConfig) (Adapter, error) {
	key := cfg.Provider + "/" + cfg.Model

	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.adapters[key]; ok {
		return a, nil
	}

	a, err := r.build(cfg)
	if err != nil {
		return nil, err
	}
	r.adapters[key] = a
	r.logger.Info("provider adapter created",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model))
	return a, nil
}

// Register installs a pre-built adapter for a provider/model pair.
// Used by tests and embedded deployments.
func (r *Registry) Register(providerName, model string, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[providerName+"/"+model] = a
}

func (r *Registry) build(cfg *modelconfig.ModelConfig) (Adapter, error) {
	var llm llms.Model
	var err error

	switch cfg.Provider {
	case ProviderOpenAI:
		opts := []openai.Option{
			openai.WithToken(credential(cfg, r.config.OpenAIKey, "OPENAI_API_KEY")),
			openai.WithModel(cfg.Model),
		}
		if r.config.OpenAIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(r.config.OpenAIBaseURL))
		}
		llm, err = openai.New(opts...)
	case ProviderAnthropic:
		llm, err = anthropic.New(
			anthropic.WithToken(credential(cfg, r.config.AnthropicKey, "ANTHROPIC_API_KEY")),
			anthropic.WithModel(cfg.Model),
		)
	case ProviderOllama:
		llm, err = ollama.New(
			ollama.WithServerURL(r.config.OllamaURL),
			ollama.WithModel(cfg.Model),
		)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	var limiter *rate.Limiter
	if r.config.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(r.config.RequestsPerSecond), r.config.Burst)
	}
	a := newLangchainAdapter(llm, cfg.Provider, cfg.Model, limiter, r.logger)
	a.timeout = r.config.DispatchTimeout
	return a, nil
}

// credential resolves the API key: the model config's credential
// reference first, then the static configured key, then the provider's
// conventional environment variable.
func credential(cfg *modelconfig.ModelConfig, configured, fallbackEnv string) string {
	if cfg.CredentialRef != "" {
		return os.Getenv(cfg.CredentialRef)
	}
	if configured != "" {
		return configured
	}
	return os.Getenv(fallbackEnv)
}
