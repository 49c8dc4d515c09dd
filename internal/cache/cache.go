// Package cache implements the response cache consulted before provider
// dispatch. Three independent strategies are queried in a fixed order:
// exact (hash of the normalized request), semantic (embedding similarity
// against previously cached prompts) and template (structural match with
// variable slots blanked out). Each strategy carries its own TTL and a
// hit reports which strategy matched.
package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dispatchd/internal/embeddings"
)

// Strategy names reported on hits and used as metric labels.
const (
	StrategyExact    = "exact"
	StrategySemantic = "semantic"
	StrategyTemplate = "template"
)

// ErrInvalidConfig indicates the cache configuration failed validation.
var ErrInvalidConfig = errors.New("invalid cache config")

// Result is the payload stored on a successful dispatch and replayed on
// a hit.
type Result struct {
	Content         string `json:"content"`
	InputTokens     int    `json:"input_tokens"`
	OutputTokens    int    `json:"output_tokens"`
	TokensEstimated bool   `json:"tokens_estimated"`
}

// Hit is a cache lookup result with the strategy that matched.
type Hit struct {
	Result
	Strategy string
}

// Config controls per-strategy TTLs and the semantic match threshold.
type Config struct {
	Enabled bool `koanf:"enabled"`

	ExactTTL    time.Duration `koanf:"exact_ttl"`
	TemplateTTL time.Duration `koanf:"template_ttl"`
	SemanticTTL time.Duration `koanf:"semantic_ttl"`

	// SemanticThreshold is the minimum cosine similarity for a semantic
	// hit. Paraphrase matching needs a high bar to avoid wrong replays.
	SemanticThreshold float32 `koanf:"semantic_threshold"`

	// MaxEntries caps each strategy's store; oldest entries are evicted
	// beyond it.
	MaxEntries int `koanf:"max_entries"`
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.ExactTTL == 0 {
		c.ExactTTL = 15 * time.Minute
	}
	if c.TemplateTTL == 0 {
		c.TemplateTTL = 30 * time.Minute
	}
	if c.SemanticTTL == 0 {
		c.SemanticTTL = 2 * time.Hour
	}
	if c.SemanticThreshold == 0 {
		c.SemanticThreshold = 0.93
	}
	if c.MaxEntries == 0 {
		c.MaxEntries = 1024
	}
}

// Validate checks configuration bounds.
func (c *Config) Validate() error {
	if c.SemanticThreshold < 0 || c.SemanticThreshold > 1 {
		return errors.New("semantic_threshold must be in [0, 1]")
	}
	return nil
}

// timeNow is stubbed in tests to exercise TTL expiry.
var timeNow = time.Now

// Cache is the three-strategy response cache. Safe for concurrent use.
type Cache struct {
	exact    *exactStrategy
	semantic *semanticStrategy
	template *templateStrategy
	logger   *zap.Logger
}

// New creates a cache. The embedder powers the semantic strategy; a nil
// embedder disables semantic matching but leaves exact and template
// active.
func New(cfg Config, embedder embeddings.Embedder, logger *zap.Logger) (*Cache, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Cache{
		exact:    newExactStrategy(cfg.ExactTTL, cfg.MaxEntries),
		template: newTemplateStrategy(cfg.TemplateTTL, cfg.MaxEntries),
		logger:   logger,
	}
	if embedder != nil {
		c.semantic = newSemanticStrategy(cfg.SemanticTTL, cfg.SemanticThreshold, cfg.MaxEntries, embedder)
	}
	return c, nil
}

// Lookup consults the strategies in order exact, semantic, template and
// returns the first hit. A semantic embedding failure is non-fatal; the
// remaining strategies are still consulted.
func (c *Cache) Lookup(ctx context.Context, prompt string) (*Hit, bool) {
	prompt = Normalize(prompt)
	if prompt == "" {
		return nil, false
	}

	if res, ok := c.exact.lookup(prompt); ok {
		hitsTotal.WithLabelValues(StrategyExact).Inc()
		return &Hit{Result: res, Strategy: StrategyExact}, true
	}

	if c.semantic != nil {
		res, ok, err := c.semantic.lookup(ctx, prompt)
		if err != nil {
			c.logger.Warn("semantic cache lookup failed", zap.Error(err))
		} else if ok {
			hitsTotal.WithLabelValues(StrategySemantic).Inc()
			return &Hit{Result: res, Strategy: StrategySemantic}, true
		}
	}

	if res, ok := c.template.lookup(prompt); ok {
		hitsTotal.WithLabelValues(StrategyTemplate).Inc()
		return &Hit{Result: res, Strategy: StrategyTemplate}, true
	}

	missesTotal.Inc()
	return nil, false
}

// Store records a successful dispatch result under all strategies.
// Only called after a successful dispatch; an embedding failure only
// skips the semantic entry.
func (c *Cache) Store(ctx context.Context, prompt string, res Result) {
	prompt = Normalize(prompt)
	if prompt == "" {
		return
	}

	c.exact.store(prompt, res)
	c.template.store(prompt, res)
	if c.semantic != nil {
		if err := c.semantic.store(ctx, prompt, res); err != nil {
			c.logger.Warn("semantic cache store failed", zap.Error(err))
		}
	}
}

// Sweep drops expired entries from all strategies.
func (c *Cache) Sweep() {
	c.exact.sweep()
	c.template.sweep()
	if c.semantic != nil {
		c.semantic.sweep()
	}
}

// Normalize collapses whitespace so that formatting differences do not
// defeat exact matching.
func Normalize(prompt string) string {
	return strings.Join(strings.Fields(prompt), " ")
}
