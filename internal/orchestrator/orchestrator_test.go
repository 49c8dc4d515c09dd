package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dispatchd/internal/audit"
	"github.com/fyrsmithlabs/dispatchd/internal/cache"
	"github.com/fyrsmithlabs/dispatchd/internal/knowledge"
	"github.com/fyrsmithlabs/dispatchd/internal/modelconfig"
	"github.com/fyrsmithlabs/dispatchd/internal/provider"
)

type fakeConfigs struct {
	cfg *modelconfig.ModelConfig
}

func (f *fakeConfigs) ResolveActive(_ context.Context, usageType string) (*modelconfig.ModelConfig, error) {
	if f.cfg == nil {
		return nil, modelconfig.ErrNoActiveModel
	}
	return f.cfg, nil
}

type fakeAdapter struct {
	resp  *provider.SendResponse
	err   error
	calls int
	last  provider.SendRequest
}

func (f *fakeAdapter) Send(_ context.Context, req provider.SendRequest) (*provider.SendResponse, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeAdapter) Name() string  { return "openai" }
func (f *fakeAdapter) Model() string { return "gpt-4o-mini" }

type fakeAdapters struct {
	adapter *fakeAdapter
}

func (f *fakeAdapters) Resolve(_ *modelconfig.ModelConfig) (provider.Adapter, error) {
	return f.adapter, nil
}

type fakeRetriever struct {
	matches []knowledge.Match
	err     error
	calls   int
}

func (f *fakeRetriever) Search(_ context.Context, _ knowledge.Query) ([]knowledge.Match, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.matches, nil
}

type fakeAuditor struct {
	records []audit.Record
}

func (f *fakeAuditor) Append(_ context.Context, rec *audit.Record) error {
	f.records = append(f.records, *rec)
	return nil
}

func testConfig() *modelconfig.ModelConfig {
	return &modelconfig.ModelConfig{
		UsageType: "chat", Provider: "openai", Model: "gpt-4o-mini",
		MaxTokens: 512, Temperature: 0.3,
		CostPer1KInput: 1, CostPer1KOutput: 2,
	}
}

type fixture struct {
	orch      *Orchestrator
	adapter   *fakeAdapter
	retriever *fakeRetriever
	auditor   *fakeAuditor
}

func newFixture(t *testing.T, cfg *modelconfig.ModelConfig) *fixture {
	t.Helper()

	adapter := &fakeAdapter{resp: &provider.SendResponse{
		Content: "answer", InputTokens: 100, OutputTokens: 50,
	}}
	retriever := &fakeRetriever{}
	auditor := &fakeAuditor{}

	responseCache, err := cache.New(cache.Config{}, nil, zap.NewNop())
	require.NoError(t, err)

	orch, err := New(&fakeConfigs{cfg: cfg}, &fakeAdapters{adapter: adapter},
		responseCache, retriever, auditor, zap.NewNop())
	require.NoError(t, err)

	return &fixture{orch: orch, adapter: adapter, retriever: retriever, auditor: auditor}
}

func chatRequest() *ExecutionRequest {
	return &ExecutionRequest{
		UsageType: "chat",
		Messages:  []provider.Message{{Role: provider.RoleUser, Content: "how was authentication implemented"}},
	}
}

func TestExecute_DispatchesAndAudits(t *testing.T) {
	f := newFixture(t, testConfig())

	res, err := f.orch.Execute(context.Background(), chatRequest())
	require.NoError(t, err)
	assert.Equal(t, "answer", res.Content)
	assert.False(t, res.CacheHit)
	assert.Equal(t, 100, res.Usage.InputTokens)

	// Config defaults flow into the dispatch.
	assert.Equal(t, 1, f.adapter.calls)
	assert.Equal(t, 512, f.adapter.last.MaxTokens)
	require.NotNil(t, f.adapter.last.Temperature)
	assert.InDelta(t, 0.3, *f.adapter.last.Temperature, 1e-9)

	require.Len(t, f.auditor.records, 1)
	rec := f.auditor.records[0]
	assert.Equal(t, audit.StatusSuccess, rec.Status)
	assert.False(t, rec.CacheHit)
	assert.InDelta(t, 0.1+0.1, rec.Cost, 1e-9)
}

func TestExecute_ExplicitZeroTemperatureOverridesConfigDefault(t *testing.T) {
	f := newFixture(t, testConfig())

	req := chatRequest()
	zero := 0.0
	req.Temperature = &zero

	_, err := f.orch.Execute(context.Background(), req)
	require.NoError(t, err)

	// Deterministic sampling was requested; the config's 0.3 default
	// must not win.
	require.NotNil(t, f.adapter.last.Temperature)
	assert.Zero(t, *f.adapter.last.Temperature)
}

func TestExecute_RequestOverridesDispatchParameters(t *testing.T) {
	f := newFixture(t, testConfig())

	req := chatRequest()
	maxTokens := 64
	temp := 0.9
	req.MaxTokens = &maxTokens
	req.Temperature = &temp

	_, err := f.orch.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 64, f.adapter.last.MaxTokens)
	require.NotNil(t, f.adapter.last.Temperature)
	assert.InDelta(t, 0.9, *f.adapter.last.Temperature, 1e-9)
}

func TestExecute_RepeatHitsCacheWithoutDispatch(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	_, err := f.orch.Execute(ctx, chatRequest())
	require.NoError(t, err)

	res, err := f.orch.Execute(ctx, chatRequest())
	require.NoError(t, err)
	assert.True(t, res.CacheHit)
	assert.Equal(t, cache.StrategyExact, res.CacheStrategy)
	assert.Equal(t, "answer", res.Content)

	// The provider is not invoked for the cached call.
	assert.Equal(t, 1, f.adapter.calls)

	require.Len(t, f.auditor.records, 2)
	assert.True(t, f.auditor.records[1].CacheHit)
	assert.Equal(t, cache.StrategyExact, f.auditor.records[1].CacheStrategy)
}

func TestExecute_NoActiveModelIsFatalWithoutAudit(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.orch.Execute(context.Background(), chatRequest())
	assert.ErrorIs(t, err, modelconfig.ErrNoActiveModel)
	assert.Empty(t, f.auditor.records)
	assert.Zero(t, f.adapter.calls)
}

func TestExecute_RetrievalFailureIsNonFatal(t *testing.T) {
	f := newFixture(t, testConfig())
	f.retriever.err = errors.New("vector store unreachable")

	req := chatRequest()
	req.Retrieval.Enabled = true

	res, err := f.orch.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.RAGEnhanced)

	// The conversation is dispatched unmodified.
	require.Len(t, f.adapter.last.Messages, 1)

	require.Len(t, f.auditor.records, 1)
	rec := f.auditor.records[0]
	assert.True(t, rec.RAGEnabled)
	assert.False(t, rec.RAGHit)
}

func TestExecute_InjectsKnowledgeBeforeFinalUserMessage(t *testing.T) {
	f := newFixture(t, testConfig())
	f.retriever.matches = []knowledge.Match{
		{ID: "d1", Content: "JWT auth with refresh tokens", Similarity: 0.88},
		{ID: "d2", Content: "session cookies were rejected", Similarity: 0.71},
	}

	req := &ExecutionRequest{
		UsageType: "chat",
		Messages: []provider.Message{
			{Role: provider.RoleUser, Content: "earlier question"},
			{Role: provider.RoleAssistant, Content: "earlier answer"},
			{Role: provider.RoleUser, Content: "how was authentication implemented"},
		},
		Retrieval: RetrievalOptions{Enabled: true, TopK: 5},
	}

	res, err := f.orch.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.RAGEnhanced)

	sent := f.adapter.last.Messages
	require.Len(t, sent, 4)
	assert.Equal(t, provider.RoleSystem, sent[2].Role)
	assert.True(t, strings.Contains(sent[2].Content, "JWT auth with refresh tokens"))
	assert.True(t, strings.HasPrefix(sent[2].Content, "--- BEGIN RETRIEVED CONTEXT ---"))
	assert.Equal(t, "how was authentication implemented", sent[3].Content)

	rec := f.auditor.records[0]
	assert.True(t, rec.RAGHit)
	assert.Equal(t, 2, rec.RAGResultsCount)
	assert.InDelta(t, 0.88, rec.RAGTopSimilarity, 1e-6)
}

func TestExecute_EmptyRetrievalLeavesConversationAlone(t *testing.T) {
	f := newFixture(t, testConfig())

	req := chatRequest()
	req.Retrieval.Enabled = true

	res, err := f.orch.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.RAGEnhanced)
	require.Len(t, f.adapter.last.Messages, 1)
}

func TestExecute_ProviderErrorWritesFailureAuditAndSkipsCache(t *testing.T) {
	f := newFixture(t, testConfig())
	f.adapter.err = provider.ErrRateLimited

	_, err := f.orch.Execute(context.Background(), chatRequest())
	assert.ErrorIs(t, err, provider.ErrRateLimited)

	require.Len(t, f.auditor.records, 1)
	rec := f.auditor.records[0]
	assert.Equal(t, audit.StatusError, rec.Status)
	assert.NotEmpty(t, rec.Error)

	// The failed call was not cached; a retry dispatches again.
	f.adapter.err = nil
	res, err := f.orch.Execute(context.Background(), chatRequest())
	require.NoError(t, err)
	assert.False(t, res.CacheHit)
	assert.Equal(t, 2, f.adapter.calls)
}

func TestExecute_Validation(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	_, err := f.orch.Execute(ctx, &ExecutionRequest{UsageType: "chat"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.orch.Execute(ctx, &ExecutionRequest{
		Messages: []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	// Retrieval requires the conversation to end with a user message.
	_, err = f.orch.Execute(ctx, &ExecutionRequest{
		UsageType: "chat",
		Messages:  []provider.Message{{Role: provider.RoleAssistant, Content: "hi"}},
		Retrieval: RetrievalOptions{Enabled: true},
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestExecute_BreakerSkipsRetrievalAfterConsecutiveFailures(t *testing.T) {
	// No cache: repeated identical requests must reach the retrieval
	// step every time.
	adapter := &fakeAdapter{resp: &provider.SendResponse{Content: "answer"}}
	retriever := &fakeRetriever{err: errors.New("store down")}
	orch, err := New(&fakeConfigs{cfg: testConfig()}, &fakeAdapters{adapter: adapter},
		nil, retriever, &fakeAuditor{}, zap.NewNop())
	require.NoError(t, err)
	f := &fixture{orch: orch, adapter: adapter, retriever: retriever}

	base := time.Now()
	timeNow = func() time.Time { return base }
	defer func() { timeNow = time.Now }()

	req := chatRequest()
	req.Retrieval.Enabled = true
	ctx := context.Background()

	for i := 0; i < breakerThreshold; i++ {
		_, err := f.orch.Execute(ctx, req)
		require.NoError(t, err)
	}
	assert.Equal(t, breakerThreshold, f.retriever.calls)

	// Circuit open: the retriever is not consulted.
	_, err = f.orch.Execute(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, breakerThreshold, f.retriever.calls)

	// After the cooldown a probe goes through again.
	timeNow = func() time.Time { return base.Add(breakerCooldown + time.Second) }
	f.retriever.err = nil
	_, err = f.orch.Execute(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, breakerThreshold+1, f.retriever.calls)
}
