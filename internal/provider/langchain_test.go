package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dispatchd/internal/modelconfig"
)

// fakeModel returns a canned response and records the messages it saw.
type fakeModel struct {
	response *llms.ContentResponse
	err      error

	gotMessages []llms.MessageContent
	calls       int
}

func (f *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls++
	f.gotMessages = messages
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func (f *fakeModel) Call(_ context.Context, _ string, _ ...llms.CallOption) (string, error) {
	return "", errors.New("not implemented")
}

func respond(content string, info map[string]any) *llms.ContentResponse {
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: content, GenerationInfo: info}},
	}
}

func TestLangchainAdapter_SendReportsBackendUsage(t *testing.T) {
	fake := &fakeModel{response: respond("hello", map[string]any{
		"PromptTokens":     42,
		"CompletionTokens": 7,
	})}
	a := newLangchainAdapter(fake, ProviderOpenAI, "gpt-4o-mini", nil, zap.NewNop())

	resp, err := a.Send(context.Background(), SendRequest{
		SystemPrompt: "be terse",
		Messages:     []Message{{Role: RoleUser, Content: "hi"}},
		MaxTokens:    100,
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, 42, resp.InputTokens)
	assert.Equal(t, 7, resp.OutputTokens)
	assert.False(t, resp.TokensEstimated)

	// System prompt becomes the leading system message.
	require.Len(t, fake.gotMessages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, fake.gotMessages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, fake.gotMessages[1].Role)
}

func TestLangchainAdapter_SendEstimatesWhenUsageMissing(t *testing.T) {
	fake := &fakeModel{response: respond("four char groups here", nil)}
	a := newLangchainAdapter(fake, ProviderOllama, "llama3", nil, zap.NewNop())

	resp, err := a.Send(context.Background(), SendRequest{
		Messages: []Message{{Role: RoleUser, Content: "count my tokens"}},
	})
	require.NoError(t, err)
	assert.True(t, resp.TokensEstimated)
	assert.Positive(t, resp.InputTokens)
	assert.Positive(t, resp.OutputTokens)
}

func TestLangchainAdapter_SendRejectsEmptyConversation(t *testing.T) {
	a := newLangchainAdapter(&fakeModel{}, ProviderOpenAI, "m", nil, zap.NewNop())

	_, err := a.Send(context.Background(), SendRequest{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLangchainAdapter_SendRejectsBadRole(t *testing.T) {
	a := newLangchainAdapter(&fakeModel{}, ProviderOpenAI, "m", nil, zap.NewNop())

	_, err := a.Send(context.Background(), SendRequest{
		Messages: []Message{{Role: "robot", Content: "hi"}},
	})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLangchainAdapter_SendEmptyChoices(t *testing.T) {
	fake := &fakeModel{response: &llms.ContentResponse{}}
	a := newLangchainAdapter(fake, ProviderOpenAI, "m", nil, zap.NewNop())

	_, err := a.Send(context.Background(), SendRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

// stalledModel blocks until the call's context expires.
type stalledModel struct{}

func (stalledModel) GenerateContent(ctx context.Context, _ []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (stalledModel) Call(context.Context, string, ...llms.CallOption) (string, error) {
	return "", errors.New("not implemented")
}

func TestLangchainAdapter_SendDispatchTimeout(t *testing.T) {
	a := newLangchainAdapter(stalledModel{}, ProviderOpenAI, "m", nil, zap.NewNop())
	a.timeout = 10 * time.Millisecond

	_, err := a.Send(context.Background(), SendRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"auth status", errors.New("API returned unexpected status code: 401 Unauthorized"), ErrAuth},
		{"invalid key", errors.New("invalid api key provided"), ErrAuth},
		{"model 404", errors.New("status code: 404, message: model does not exist"), ErrModelNotFound},
		{"model not found", errors.New("model not found: llama9"), ErrModelNotFound},
		{"rate limit", errors.New("429 Too Many Requests: rate limit exceeded"), ErrRateLimited},
		{"timeout text", errors.New("request timeout after 30s"), ErrTimeout},
		{"deadline", context.DeadlineExceeded, ErrTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classifyError(tt.err), tt.want)
		})
	}

	unknown := errors.New("wire fell over")
	assert.Equal(t, unknown, classifyError(unknown))
}

func TestUsageFromGenerationInfo_KeyVariants(t *testing.T) {
	in, out, ok := usageFromGenerationInfo(map[string]any{
		"input_tokens":  float64(11),
		"output_tokens": 3,
	})
	require.True(t, ok)
	assert.Equal(t, 11, in)
	assert.Equal(t, 3, out)

	_, _, ok = usageFromGenerationInfo(map[string]any{"PromptTokens": 5})
	assert.False(t, ok)

	_, _, ok = usageFromGenerationInfo(nil)
	assert.False(t, ok)
}

func TestRegistry_ResolveReturnsRegisteredAdapter(t *testing.T) {
	r := NewRegistry(Config{}, zap.NewNop())

	fake := &fakeModel{response: respond("ok", nil)}
	registered := newLangchainAdapter(fake, ProviderOpenAI, "m", nil, zap.NewNop())
	r.Register(ProviderOpenAI, "m", registered)

	a, err := r.Resolve(&modelconfig.ModelConfig{Provider: ProviderOpenAI, Model: "m"})
	require.NoError(t, err)
	assert.Same(t, registered, a)
}

func TestRegistry_ResolveUnknownProvider(t *testing.T) {
	r := NewRegistry(Config{}, zap.NewNop())

	_, err := r.Resolve(&modelconfig.ModelConfig{Provider: "mystery", Model: "m"})
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestRegistry_ResolveBuildsOllamaAdapter(t *testing.T) {
	r := NewRegistry(Config{RequestsPerSecond: 10}, zap.NewNop())

	a, err := r.Resolve(&modelconfig.ModelConfig{Provider: ProviderOllama, Model: "llama3"})
	require.NoError(t, err)
	assert.Equal(t, ProviderOllama, a.Name())
	assert.Equal(t, "llama3", a.Model())

	// Same pair resolves to the cached instance.
	again, err := r.Resolve(&modelconfig.ModelConfig{Provider: ProviderOllama, Model: "llama3"})
	require.NoError(t, err)
	assert.Same(t, a, again)
}
