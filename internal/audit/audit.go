// Package audit records one row per execution: model identity, token
// usage, cost, latency and the cache/retrieval provenance flags. Rows
// are append-only; analytics read them through aggregation queries.
package audit

import (
	"errors"
	"time"
)

// ErrInvalidRecord indicates a record failed validation before insert.
var ErrInvalidRecord = errors.New("invalid audit record")

// Execution outcome recorded in the status column.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Record is a single execution audit row. Never updated after creation.
type Record struct {
	ID        string `json:"id"`
	UsageType string `json:"usage_type"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`

	InputTokens     int  `json:"input_tokens"`
	OutputTokens    int  `json:"output_tokens"`
	TokensEstimated bool `json:"tokens_estimated"`

	Cost    float64       `json:"cost"`
	Latency time.Duration `json:"latency"`

	CacheHit      bool   `json:"cache_hit"`
	CacheStrategy string `json:"cache_strategy,omitempty"`

	RAGEnabled       bool          `json:"rag_enabled"`
	RAGHit           bool          `json:"rag_hit"`
	RAGResultsCount  int           `json:"rag_results_count"`
	RAGTopSimilarity float64       `json:"rag_top_similarity"`
	RAGRetrievalTime time.Duration `json:"rag_retrieval_time"`

	Status string `json:"status"`
	Error  string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Validate checks required fields.
func (r *Record) Validate() error {
	if r.UsageType == "" {
		return errors.New("usage_type is required")
	}
	if r.Status != StatusSuccess && r.Status != StatusError {
		return errors.New("status must be success or error")
	}
	return nil
}

// SummaryRow aggregates records per usage type and model.
type SummaryRow struct {
	UsageType string `json:"usage_type"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`

	Executions   int     `json:"executions"`
	Errors       int     `json:"errors"`
	CacheHits    int     `json:"cache_hits"`
	RAGHits      int     `json:"rag_hits"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalCost    float64 `json:"total_cost"`

	AvgLatency time.Duration `json:"avg_latency"`
}
