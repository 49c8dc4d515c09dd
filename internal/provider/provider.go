// Package provider dispatches conversations to external AI backends
// through langchaingo. Each backend hides its own request shape behind
// the Adapter interface; token usage is reported from the backend when
// available and estimated (and flagged as such) otherwise.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// Provider identifiers resolved from model configs.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// Message roles accepted in conversations.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	// ErrInvalidConfig indicates an adapter could not be constructed.
	ErrInvalidConfig = errors.New("invalid provider config")

	// ErrUnknownProvider indicates an unrecognized provider identifier.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrAuth indicates the backend rejected the credentials. Not
	// retryable.
	ErrAuth = errors.New("provider authentication failed")

	// ErrModelNotFound indicates the backend does not know the model.
	// Not retryable.
	ErrModelNotFound = errors.New("provider model not found")

	// ErrRateLimited indicates the backend throttled the call.
	ErrRateLimited = errors.New("provider rate limited")

	// ErrTimeout indicates the call exceeded its deadline.
	ErrTimeout = errors.New("provider timeout")

	// ErrEmptyResponse indicates the backend returned no choices.
	ErrEmptyResponse = errors.New("provider returned empty response")
)

// Message is a single conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Validate checks the role is one of the accepted values.
func (m Message) Validate() error {
	switch m.Role {
	case RoleSystem, RoleUser, RoleAssistant:
		return nil
	}
	return fmt.Errorf("invalid message role %q", m.Role)
}

// SendRequest carries a conversation to a backend. A nil Temperature
// leaves the backend default in place; zero is a real value and is sent
// as such.
type SendRequest struct {
	SystemPrompt string
	Messages     []Message
	MaxTokens    int
	Temperature  *float64
}

// SendResponse is a backend completion with its token accounting.
// TokensEstimated is set when the backend did not report usage and the
// counts are heuristic.
type SendResponse struct {
	Content         string
	InputTokens     int
	OutputTokens    int
	TokensEstimated bool
}

// Adapter is the capability a backend must provide.
type Adapter interface {
	// Send dispatches the conversation and returns the completion.
	Send(ctx context.Context, req SendRequest) (*SendResponse, error)

	// Name returns the provider identifier.
	Name() string

	// Model returns the backend-specific model name.
	Model() string
}
