package modelconfig

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store persists model configs in SQLite and resolves the active config
// per usage type.
type Store struct {
	db *sql.DB
}

// NewStore creates the store and runs migrations.
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: db is required", ErrInvalidConfig)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate model_configs: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS model_configs (
		id TEXT PRIMARY KEY,
		usage_type TEXT NOT NULL,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		credential_ref TEXT,
		active INTEGER NOT NULL DEFAULT 0,
		priority INTEGER NOT NULL DEFAULT 0,
		max_tokens INTEGER NOT NULL DEFAULT 0,
		temperature REAL NOT NULL DEFAULT 0,
		cost_per_1k_input REAL NOT NULL DEFAULT 0,
		cost_per_1k_output REAL NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		activated_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_model_configs_usage_type ON model_configs(usage_type);
	CREATE INDEX IF NOT EXISTS idx_model_configs_active ON model_configs(active);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Put inserts or replaces a config. A new id is assigned when empty.
func (s *Store) Put(ctx context.Context, cfg *ModelConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = time.Now().UTC()
	}
	if cfg.Active && cfg.ActivatedAt == nil {
		now := time.Now().UTC()
		cfg.ActivatedAt = &now
	}

	query := `
		INSERT INTO model_configs (id, usage_type, provider, model, credential_ref,
			active, priority, max_tokens, temperature,
			cost_per_1k_input, cost_per_1k_output, created_at, activated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			usage_type = excluded.usage_type,
			provider = excluded.provider,
			model = excluded.model,
			credential_ref = excluded.credential_ref,
			active = excluded.active,
			priority = excluded.priority,
			max_tokens = excluded.max_tokens,
			temperature = excluded.temperature,
			cost_per_1k_input = excluded.cost_per_1k_input,
			cost_per_1k_output = excluded.cost_per_1k_output,
			activated_at = excluded.activated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		cfg.ID, cfg.UsageType, cfg.Provider, cfg.Model, cfg.CredentialRef,
		cfg.Active, cfg.Priority, cfg.MaxTokens, cfg.Temperature,
		cfg.CostPer1KInput, cfg.CostPer1KOutput, cfg.CreatedAt, cfg.ActivatedAt,
	)
	return err
}

// Get fetches a config by id.
func (s *Store) Get(ctx context.Context, id string) (*ModelConfig, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` FROM model_configs WHERE id = ?`, id)
	cfg, err := scanConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return cfg, err
}

// List returns all configs, optionally filtered by usage type.
func (s *Store) List(ctx context.Context, usageType string) ([]ModelConfig, error) {
	query := selectColumns + ` FROM model_configs`
	args := []any{}
	if usageType != "" {
		query += ` WHERE usage_type = ?`
		args = append(args, usageType)
	}
	query += ` ORDER BY usage_type, priority DESC, created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	configs := make([]ModelConfig, 0)
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, *cfg)
	}
	return configs, rows.Err()
}

// SetActive toggles a config's active flag, stamping activated_at on
// activation.
func (s *Store) SetActive(ctx context.Context, id string, active bool) error {
	var activatedAt *time.Time
	if active {
		now := time.Now().UTC()
		activatedAt = &now
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE model_configs SET active = ?, activated_at = ? WHERE id = ?`,
		active, activatedAt, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a config.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM model_configs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ResolveActive returns the single active config for a usage type.
// Ties resolve deterministically: highest priority first, then the most
// recently activated.
func (s *Store) ResolveActive(ctx context.Context, usageType string) (*ModelConfig, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+`
		FROM model_configs
		WHERE usage_type = ? AND active = 1
		ORDER BY priority DESC, activated_at DESC
		LIMIT 1`, usageType)

	cfg, err := scanConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNoActiveModel, usageType)
	}
	return cfg, err
}

const selectColumns = `SELECT id, usage_type, provider, model, credential_ref,
	active, priority, max_tokens, temperature,
	cost_per_1k_input, cost_per_1k_output, created_at, activated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfig(row rowScanner) (*ModelConfig, error) {
	var cfg ModelConfig
	var credentialRef sql.NullString
	var activatedAt sql.NullTime

	err := row.Scan(
		&cfg.ID, &cfg.UsageType, &cfg.Provider, &cfg.Model, &credentialRef,
		&cfg.Active, &cfg.Priority, &cfg.MaxTokens, &cfg.Temperature,
		&cfg.CostPer1KInput, &cfg.CostPer1KOutput, &cfg.CreatedAt, &activatedAt,
	)
	if err != nil {
		return nil, err
	}
	if credentialRef.Valid {
		cfg.CredentialRef = credentialRef.String
	}
	if activatedAt.Valid {
		t := activatedAt.Time
		cfg.ActivatedAt = &t
	}
	return &cfg, nil
}
