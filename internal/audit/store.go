package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store persists audit records in SQLite.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStore creates the store and runs migrations.
func NewStore(db *sql.DB, logger *zap.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate execution_audit: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS execution_audit (
		id TEXT PRIMARY KEY,
		usage_type TEXT NOT NULL,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		tokens_estimated INTEGER NOT NULL DEFAULT 0,
		cost REAL NOT NULL DEFAULT 0,
		latency_ms INTEGER NOT NULL DEFAULT 0,
		cache_hit INTEGER NOT NULL DEFAULT 0,
		cache_strategy TEXT,
		rag_enabled INTEGER NOT NULL DEFAULT 0,
		rag_hit INTEGER NOT NULL DEFAULT 0,
		rag_results_count INTEGER NOT NULL DEFAULT 0,
		rag_top_similarity REAL NOT NULL DEFAULT 0,
		rag_retrieval_ms INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		error TEXT,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_usage_type ON execution_audit(usage_type);
	CREATE INDEX IF NOT EXISTS idx_audit_created_at ON execution_audit(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append writes a record. The record's id and timestamp are assigned
// when empty; the row is never touched again.
func (s *Store) Append(ctx context.Context, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO execution_audit (id, usage_type, provider, model,
			input_tokens, output_tokens, tokens_estimated, cost, latency_ms,
			cache_hit, cache_strategy,
			rag_enabled, rag_hit, rag_results_count, rag_top_similarity, rag_retrieval_ms,
			status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.UsageType, rec.Provider, rec.Model,
		rec.InputTokens, rec.OutputTokens, rec.TokensEstimated, rec.Cost, rec.Latency.Milliseconds(),
		rec.CacheHit, rec.CacheStrategy,
		rec.RAGEnabled, rec.RAGHit, rec.RAGResultsCount, rec.RAGTopSimilarity, rec.RAGRetrievalTime.Milliseconds(),
		rec.Status, rec.Error, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}

	recordsTotal.WithLabelValues(rec.Status).Inc()
	return nil
}

// List returns the most recent records, newest first.
func (s *Store) List(ctx context.Context, usageType string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, usage_type, provider, model,
		input_tokens, output_tokens, tokens_estimated, cost, latency_ms,
		cache_hit, cache_strategy,
		rag_enabled, rag_hit, rag_results_count, rag_top_similarity, rag_retrieval_ms,
		status, error, created_at
		FROM execution_audit`
	args := []any{}
	if usageType != "" {
		query += ` WHERE usage_type = ?`
		args = append(args, usageType)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var rec Record
		var strategy, errMsg sql.NullString
		var latencyMS, retrievalMS int64

		err := rows.Scan(
			&rec.ID, &rec.UsageType, &rec.Provider, &rec.Model,
			&rec.InputTokens, &rec.OutputTokens, &rec.TokensEstimated, &rec.Cost, &latencyMS,
			&rec.CacheHit, &strategy,
			&rec.RAGEnabled, &rec.RAGHit, &rec.RAGResultsCount, &rec.RAGTopSimilarity, &retrievalMS,
			&rec.Status, &errMsg, &rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		rec.Latency = time.Duration(latencyMS) * time.Millisecond
		rec.RAGRetrievalTime = time.Duration(retrievalMS) * time.Millisecond
		if strategy.Valid {
			rec.CacheStrategy = strategy.String
		}
		if errMsg.Valid {
			rec.Error = errMsg.String
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Summary aggregates records created at or after since, grouped by
// usage type and model.
func (s *Store) Summary(ctx context.Context, since time.Time) ([]SummaryRow, error) {
	query := `SELECT usage_type, provider, model,
		COUNT(*),
		SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END),
		SUM(CASE WHEN cache_hit THEN 1 ELSE 0 END),
		SUM(CASE WHEN rag_hit THEN 1 ELSE 0 END),
		SUM(input_tokens), SUM(output_tokens), SUM(cost), AVG(latency_ms)
		FROM execution_audit`
	args := []any{}
	if !since.IsZero() {
		query += ` WHERE created_at >= ?`
		args = append(args, since)
	}
	query += ` GROUP BY usage_type, provider, model ORDER BY usage_type, model`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("summary query failed: %w", err)
	}
	defer rows.Close()

	summary := make([]SummaryRow, 0)
	for rows.Next() {
		var row SummaryRow
		var avgLatencyMS sql.NullFloat64
		err := rows.Scan(&row.UsageType, &row.Provider, &row.Model,
			&row.Executions, &row.Errors, &row.CacheHits, &row.RAGHits,
			&row.InputTokens, &row.OutputTokens, &row.TotalCost, &avgLatencyMS)
		if err != nil {
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}
		if avgLatencyMS.Valid {
			row.AvgLatency = time.Duration(avgLatencyMS.Float64 * float64(time.Millisecond))
		}
		summary = append(summary, row)
	}
	return summary, rows.Err()
}
