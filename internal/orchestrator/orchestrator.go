// Package orchestrator runs the execution pipeline: resolve the model
// config, consult the response cache, augment the conversation with
// retrieved knowledge, dispatch to the provider and record the audit
// row. Cache and retrieval failures degrade gracefully; only a missing
// model config or a provider failure is fatal to the call.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dispatchd/internal/audit"
	"github.com/fyrsmithlabs/dispatchd/internal/cache"
	"github.com/fyrsmithlabs/dispatchd/internal/knowledge"
	"github.com/fyrsmithlabs/dispatchd/internal/modelconfig"
	"github.com/fyrsmithlabs/dispatchd/internal/provider"
)

var tracer = otel.Tracer("dispatchd/orchestrator")

var (
	// ErrInvalidRequest indicates the request failed validation.
	ErrInvalidRequest = errors.New("invalid execution request")
)

// RetrievalOptions control the knowledge augmentation step.
type RetrievalOptions struct {
	Enabled       bool    `json:"enabled"`
	IncludeGlobal bool    `json:"include_global"`
	Type          string  `json:"type,omitempty"`
	TopK          int     `json:"top_k,omitempty"`
	Threshold     float32 `json:"similarity_threshold,omitempty"`
}

// ExecutionRequest is the transient request shape; it is never
// persisted.
type ExecutionRequest struct {
	UsageType    string             `json:"usage_type"`
	Messages     []provider.Message `json:"messages"`
	SystemPrompt string             `json:"system_prompt,omitempty"`
	ProjectID    string             `json:"project_id,omitempty"`
	Retrieval    RetrievalOptions   `json:"retrieval"`

	// Pointer fields so an explicit zero (deterministic sampling, for
	// temperature) is distinguishable from absent, which falls back to
	// the model config's default.
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// Validate checks the request invariants. Knowledge injection targets
// the position before the final user message, so retrieval requires the
// conversation to end with one.
func (r *ExecutionRequest) Validate() error {
	if r.UsageType == "" {
		return fmt.Errorf("%w: usage_type is required", ErrInvalidRequest)
	}
	if len(r.Messages) == 0 {
		return fmt.Errorf("%w: messages cannot be empty", ErrInvalidRequest)
	}
	for _, m := range r.Messages {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}
	if r.Retrieval.Enabled && r.Messages[len(r.Messages)-1].Role != provider.RoleUser {
		return fmt.Errorf("%w: retrieval requires the last message to be from the user", ErrInvalidRequest)
	}
	return nil
}

// Usage is the token accounting for a call.
type Usage struct {
	InputTokens  int  `json:"input_tokens"`
	OutputTokens int  `json:"output_tokens"`
	Estimated    bool `json:"estimated"`
}

// ExecutionResult carries the completion and its provenance flags.
type ExecutionResult struct {
	Content       string `json:"content"`
	Usage         Usage  `json:"usage"`
	CacheHit      bool   `json:"cache_hit"`
	CacheStrategy string `json:"cache_strategy,omitempty"`
	RAGEnhanced   bool   `json:"rag_enhanced"`
}

// ConfigResolver resolves the active model config for a usage type.
type ConfigResolver interface {
	ResolveActive(ctx context.Context, usageType string) (*modelconfig.ModelConfig, error)
}

// AdapterResolver returns the provider adapter for a model config.
type AdapterResolver interface {
	Resolve(cfg *modelconfig.ModelConfig) (provider.Adapter, error)
}

// Retriever searches the knowledge corpus.
type Retriever interface {
	Search(ctx context.Context, q knowledge.Query) ([]knowledge.Match, error)
}

// Auditor appends execution audit records.
type Auditor interface {
	Append(ctx context.Context, rec *audit.Record) error
}

// ResponseCache is the three-strategy cache surface the pipeline uses.
type ResponseCache interface {
	Lookup(ctx context.Context, prompt string) (*cache.Hit, bool)
	Store(ctx context.Context, prompt string, res cache.Result)
}

// Orchestrator wires the pipeline dependencies. Cache, retriever and
// auditor may be nil; the corresponding step is skipped.
type Orchestrator struct {
	configs   ConfigResolver
	adapters  AdapterResolver
	cache     ResponseCache
	retriever Retriever
	auditor   Auditor
	breaker   *breaker
	logger    *zap.Logger
}

// New creates an orchestrator.
func New(configs ConfigResolver, adapters AdapterResolver, responseCache ResponseCache,
	retriever Retriever, auditor Auditor, logger *zap.Logger) (*Orchestrator, error) {
	if configs == nil {
		return nil, errors.New("config resolver is required")
	}
	if adapters == nil {
		return nil, errors.New("adapter resolver is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		configs:   configs,
		adapters:  adapters,
		cache:     responseCache,
		retriever: retriever,
		auditor:   auditor,
		breaker:   newBreaker(breakerThreshold, breakerCooldown),
		logger:    logger,
	}, nil
}

// Execute runs the pipeline for one request.
func (o *Orchestrator) Execute(ctx context.Context, req *ExecutionRequest) (*ExecutionResult, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.Execute")
	defer span.End()
	span.SetAttributes(attribute.String("usage_type", req.UsageType))

	if err := req.Validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	start := time.Now()

	// Step 1: model resolution. The only failure with no fallback; no
	// audit row is written since no model identity exists yet.
	cfg, err := o.configs.ResolveActive(ctx, req.UsageType)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		executionsTotal.WithLabelValues(req.UsageType, "no_active_model").Inc()
		return nil, err
	}
	span.SetAttributes(
		attribute.String("provider", cfg.Provider),
		attribute.String("model", cfg.Model))

	// Step 2: cache lookup, short-circuiting everything downstream.
	prompt := cachePrompt(req)
	if o.cache != nil {
		if hit, ok := o.cache.Lookup(ctx, prompt); ok {
			o.appendAudit(ctx, &audit.Record{
				UsageType:       req.UsageType,
				Provider:        cfg.Provider,
				Model:           cfg.Model,
				InputTokens:     hit.InputTokens,
				OutputTokens:    hit.OutputTokens,
				TokensEstimated: hit.TokensEstimated,
				Latency:         time.Since(start),
				CacheHit:        true,
				CacheStrategy:   hit.Strategy,
				RAGEnabled:      req.Retrieval.Enabled,
				Status:          audit.StatusSuccess,
			})
			executionsTotal.WithLabelValues(req.UsageType, "cache_hit").Inc()
			return &ExecutionResult{
				Content: hit.Content,
				Usage: Usage{
					InputTokens:  hit.InputTokens,
					OutputTokens: hit.OutputTokens,
					Estimated:    hit.TokensEstimated,
				},
				CacheHit:      true,
				CacheStrategy: hit.Strategy,
			}, nil
		}
	}

	// Step 3: retrieval augmentation, never fatal.
	messages := req.Messages
	rag := ragOutcome{}
	if req.Retrieval.Enabled && o.retriever != nil {
		messages, rag = o.augment(ctx, req)
	}

	// Step 4: provider dispatch.
	adapter, err := o.adapters.Resolve(cfg)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	sendReq := provider.SendRequest{
		SystemPrompt: req.SystemPrompt,
		Messages:     messages,
		MaxTokens:    cfg.MaxTokens,
	}
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		sendReq.MaxTokens = *req.MaxTokens
	}
	switch {
	case req.Temperature != nil:
		sendReq.Temperature = req.Temperature
	case cfg.Temperature > 0:
		sendReq.Temperature = &cfg.Temperature
	}

	resp, err := adapter.Send(ctx, sendReq)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		o.appendAudit(ctx, &audit.Record{
			UsageType:        req.UsageType,
			Provider:         cfg.Provider,
			Model:            cfg.Model,
			Latency:          time.Since(start),
			RAGEnabled:       req.Retrieval.Enabled,
			RAGHit:           rag.hit,
			RAGResultsCount:  rag.count,
			RAGTopSimilarity: rag.topSimilarity,
			RAGRetrievalTime: rag.elapsed,
			Status:           audit.StatusError,
			Error:            err.Error(),
		})
		executionsTotal.WithLabelValues(req.UsageType, "provider_error").Inc()
		return nil, err
	}

	// Step 5: audit, then warm the cache. Failed calls are never
	// cached.
	cost := cfg.Cost(resp.InputTokens, resp.OutputTokens)
	o.appendAudit(ctx, &audit.Record{
		UsageType:        req.UsageType,
		Provider:         cfg.Provider,
		Model:            cfg.Model,
		InputTokens:      resp.InputTokens,
		OutputTokens:     resp.OutputTokens,
		TokensEstimated:  resp.TokensEstimated,
		Cost:             cost,
		Latency:          time.Since(start),
		RAGEnabled:       req.Retrieval.Enabled,
		RAGHit:           rag.hit,
		RAGResultsCount:  rag.count,
		RAGTopSimilarity: rag.topSimilarity,
		RAGRetrievalTime: rag.elapsed,
		Status:           audit.StatusSuccess,
	})
	if o.cache != nil {
		o.cache.Store(ctx, prompt, cache.Result{
			Content:         resp.Content,
			InputTokens:     resp.InputTokens,
			OutputTokens:    resp.OutputTokens,
			TokensEstimated: resp.TokensEstimated,
		})
	}
	executionsTotal.WithLabelValues(req.UsageType, "success").Inc()
	executionDuration.WithLabelValues(req.UsageType).Observe(time.Since(start).Seconds())

	return &ExecutionResult{
		Content: resp.Content,
		Usage: Usage{
			InputTokens:  resp.InputTokens,
			OutputTokens: resp.OutputTokens,
			Estimated:    resp.TokensEstimated,
		},
		RAGEnhanced: rag.hit,
	}, nil
}

type ragOutcome struct {
	hit           bool
	count         int
	topSimilarity float64
	elapsed       time.Duration
}

// augment retrieves knowledge for the final user message and, on
// success with at least one match, inserts a delimited knowledge block
// immediately before it. Any failure logs a warning and returns the
// conversation unchanged.
func (o *Orchestrator) augment(ctx context.Context, req *ExecutionRequest) ([]provider.Message, ragOutcome) {
	outcome := ragOutcome{}

	if !o.breaker.allow() {
		o.logger.Warn("knowledge retrieval skipped, circuit open",
			zap.String("usage_type", req.UsageType))
		return req.Messages, outcome
	}

	ctx, span := tracer.Start(ctx, "orchestrator.augment")
	defer span.End()

	start := time.Now()
	matches, err := o.retriever.Search(ctx, knowledge.Query{
		Text:          req.Messages[len(req.Messages)-1].Content,
		ProjectID:     req.ProjectID,
		IncludeGlobal: req.Retrieval.IncludeGlobal,
		Type:          req.Retrieval.Type,
		TopK:          req.Retrieval.TopK,
		Threshold:     req.Retrieval.Threshold,
	})
	outcome.elapsed = time.Since(start)
	if err != nil {
		o.breaker.failure()
		span.SetStatus(codes.Error, err.Error())
		o.logger.Warn("knowledge retrieval failed, continuing without augmentation",
			zap.String("usage_type", req.UsageType),
			zap.Error(err))
		return req.Messages, outcome
	}
	o.breaker.success()

	outcome.count = len(matches)
	if len(matches) == 0 {
		return req.Messages, outcome
	}
	outcome.hit = true
	outcome.topSimilarity = float64(matches[0].Similarity)
	span.SetAttributes(attribute.Int("results", len(matches)))

	injected := make([]provider.Message, 0, len(req.Messages)+1)
	injected = append(injected, req.Messages[:len(req.Messages)-1]...)
	injected = append(injected,
		provider.Message{Role: provider.RoleSystem, Content: knowledgeBlock(matches)},
		req.Messages[len(req.Messages)-1])
	return injected, outcome
}

// knowledgeBlock formats matches into a clearly delimited block so the
// model can tell retrieved context apart from the conversation.
func knowledgeBlock(matches []knowledge.Match) string {
	var b strings.Builder
	b.WriteString("--- BEGIN RETRIEVED CONTEXT ---\n")
	for i, m := range matches {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, m.Content)
	}
	b.WriteString("--- END RETRIEVED CONTEXT ---")
	return b.String()
}

// cachePrompt flattens the request into the cache key text. Usage type
// and system prompt are part of the key so different tasks never share
// entries.
func cachePrompt(req *ExecutionRequest) string {
	var b strings.Builder
	b.WriteString(req.UsageType)
	b.WriteString("\n")
	b.WriteString(req.SystemPrompt)
	for _, m := range req.Messages {
		b.WriteString("\n")
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}

// appendAudit writes an audit row, logging instead of failing the call
// when the audit store itself is down.
func (o *Orchestrator) appendAudit(ctx context.Context, rec *audit.Record) {
	if o.auditor == nil {
		return
	}
	if err := o.auditor.Append(ctx, rec); err != nil {
		o.logger.Error("failed to write audit record",
			zap.String("usage_type", rec.UsageType),
			zap.Error(err))
	}
}
