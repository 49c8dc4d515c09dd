// Package modelconfig resolves which provider and model serve a given
// usage type. Configs are stored in SQLite and edited through the
// management surface; the dispatch path only reads them.
package modelconfig

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoActiveModel indicates no active config exists for a usage type.
	ErrNoActiveModel = errors.New("no active model config for usage type")

	// ErrNotFound indicates the config id does not exist.
	ErrNotFound = errors.New("model config not found")

	// ErrInvalidConfig indicates a config failed validation.
	ErrInvalidConfig = errors.New("invalid model config")
)

// ModelConfig binds a usage type to a provider-specific model with its
// default generation parameters and pricing.
type ModelConfig struct {
	ID        string `json:"id"`
	UsageType string `json:"usage_type"`

	// Provider selects the adapter: "openai", "anthropic" or "ollama".
	Provider string `json:"provider"`

	// Model is the backend-specific model name, e.g. "gpt-4o-mini".
	Model string `json:"model"`

	// CredentialRef names the credential (env var or secret key) the
	// adapter uses. Credentials themselves are never stored here.
	CredentialRef string `json:"credential_ref,omitempty"`

	Active   bool `json:"active"`
	Priority int  `json:"priority"`

	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`

	// Cost per 1000 tokens in USD, used for audit cost computation.
	CostPer1KInput  float64 `json:"cost_per_1k_input"`
	CostPer1KOutput float64 `json:"cost_per_1k_output"`

	CreatedAt   time.Time  `json:"created_at"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
}

// Validate checks required fields.
func (m *ModelConfig) Validate() error {
	if m.UsageType == "" {
		return fmt.Errorf("%w: usage_type is required", ErrInvalidConfig)
	}
	if m.Provider == "" {
		return fmt.Errorf("%w: provider is required", ErrInvalidConfig)
	}
	if m.Model == "" {
		return fmt.Errorf("%w: model is required", ErrInvalidConfig)
	}
	return nil
}

// Cost computes the USD cost of a call given token counts.
func (m *ModelConfig) Cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1000*m.CostPer1KInput +
		float64(outputTokens)/1000*m.CostPer1KOutput
}
