package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// langchainAdapter dispatches through a langchaingo model. All three
// backends share this code path; only client construction differs.
type langchainAdapter struct {
	llm     llms.Model
	name    string
	model   string
	limiter *rate.Limiter
	timeout time.Duration
	logger  *zap.Logger
}

var _ Adapter = (*langchainAdapter)(nil)

// newLangchainAdapter wraps a constructed langchaingo model. A nil
// limiter disables client-side rate limiting.
func newLangchainAdapter(llm llms.Model, name, model string, limiter *rate.Limiter, logger *zap.Logger) *langchainAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &langchainAdapter{llm: llm, name: name, model: model, limiter: limiter, logger: logger}
}

func (a *langchainAdapter) Name() string  { return a.name }
func (a *langchainAdapter) Model() string { return a.model }

// Send dispatches the conversation. Backend failures are classified
// into the package's typed errors so callers can distinguish retryable
// from terminal ones.
func (a *langchainAdapter) Send(ctx context.Context, req SendRequest) (*SendResponse, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("%w: messages cannot be empty", ErrInvalidConfig)
	}
	for _, m := range req.Messages {
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, classifyError(err)
		}
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	content := make([]llms.MessageContent, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		content = append(content, llms.TextParts(llms.ChatMessageTypeSystem, req.SystemPrompt))
	}
	for _, m := range req.Messages {
		content = append(content, llms.TextParts(chatMessageType(m.Role), m.Content))
	}

	opts := []llms.CallOption{}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	if req.Temperature != nil {
		opts = append(opts, llms.WithTemperature(*req.Temperature))
	}

	start := time.Now()
	resp, err := a.llm.GenerateContent(ctx, content, opts...)
	dispatchDuration.WithLabelValues(a.name).Observe(time.Since(start).Seconds())
	if err != nil {
		dispatchesTotal.WithLabelValues(a.name, "error").Inc()
		return nil, classifyError(err)
	}
	if len(resp.Choices) == 0 {
		dispatchesTotal.WithLabelValues(a.name, "error").Inc()
		return nil, ErrEmptyResponse
	}
	dispatchesTotal.WithLabelValues(a.name, "success").Inc()

	choice := resp.Choices[0]
	out := &SendResponse{Content: choice.Content}

	inputTokens, outputTokens, ok := usageFromGenerationInfo(choice.GenerationInfo)
	if ok {
		out.InputTokens, out.OutputTokens = inputTokens, outputTokens
	} else {
		out.InputTokens = estimateTokens(promptText(req))
		out.OutputTokens = estimateTokens(choice.Content)
		out.TokensEstimated = true
		a.logger.Debug("backend reported no token usage, estimating",
			zap.String("provider", a.name),
			zap.String("model", a.model))
	}
	return out, nil
}

func chatMessageType(role string) llms.ChatMessageType {
	switch role {
	case RoleSystem:
		return llms.ChatMessageTypeSystem
	case RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

// usageFromGenerationInfo extracts token counts from the backend's
// generation metadata. Key names vary by backend.
func usageFromGenerationInfo(info map[string]any) (input, output int, ok bool) {
	if info == nil {
		return 0, 0, false
	}
	input, inOK := intFromInfo(info, "PromptTokens", "prompt_tokens", "InputTokens", "input_tokens")
	output, outOK := intFromInfo(info, "CompletionTokens", "completion_tokens", "OutputTokens", "output_tokens")
	return input, output, inOK && outOK
}

func intFromInfo(info map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return v, true
		case int64:
			return int(v), true
		case float64:
			return int(v), true
		}
	}
	return 0, false
}

// estimateTokens approximates usage at four characters per token.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}

func promptText(req SendRequest) string {
	var b strings.Builder
	b.WriteString(req.SystemPrompt)
	for _, m := range req.Messages {
		b.WriteString("\n")
		b.WriteString(m.Content)
	}
	return b.String()
}

// classifyError maps backend failures to the package's typed errors.
// langchaingo surfaces HTTP failures as wrapped strings, so the match
// is necessarily textual.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "invalid api key") || strings.Contains(msg, "authentication"):
		return fmt.Errorf("%w: %v", ErrAuth, err)
	case strings.Contains(msg, "404") && strings.Contains(msg, "model"),
		strings.Contains(msg, "model not found"), strings.Contains(msg, "model_not_found"):
		return fmt.Errorf("%w: %v", ErrModelNotFound, err)
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "rate_limit"):
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
