package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgreSQLStore implements Store for PostgreSQL databases.
type PostgreSQLStore struct {
	pool *pgxpool.Pool
}

// NewPostgreSQLStore creates the usage_summaries table if it doesn't exist.
func NewPostgreSQLStore(ctx context.Context, pool *pgxpool.Pool) (*PostgreSQLStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}

	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS usage_summaries (
			provider TEXT PRIMARY KEY,
			total_tokens BIGINT NOT NULL DEFAULT 0,
			prompt_tokens BIGINT NOT NULL DEFAULT 0,
			completion_tokens BIGINT NOT NULL DEFAULT 0,
			cost DOUBLE PRECISION NOT NULL DEFAULT 0,
			requests BIGINT NOT NULL DEFAULT 0,
			last_reset_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create usage_summaries table: %w", err)
	}
	return &PostgreSQLStore{pool: pool}, nil
}

const upsertSummarySQL = `
	INSERT INTO usage_summaries (provider, total_tokens, prompt_tokens, completion_tokens,
		cost, requests, last_reset_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (provider) DO UPDATE SET
		total_tokens = EXCLUDED.total_tokens,
		prompt_tokens = EXCLUDED.prompt_tokens,
		completion_tokens = EXCLUDED.completion_tokens,
		cost = EXCLUDED.cost,
		requests = EXCLUDED.requests,
		last_reset_at = EXCLUDED.last_reset_at,
		updated_at = EXCLUDED.updated_at`

// Save upserts summaries with a single batch.
func (s *PostgreSQLStore) Save(ctx context.Context, summaries []Summary) error {
	if len(summaries) == 0 {
		return nil
	}
	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for _, sm := range summaries {
		var resetAt *time.Time
		if !sm.LastResetAt.IsZero() {
			t := sm.LastResetAt.UTC()
			resetAt = &t
		}
		batch.Queue(upsertSummarySQL, sm.Provider, sm.TotalTokens, sm.PromptTokens, sm.CompletionTokens,
			sm.Cost, sm.Requests, resetAt, now)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for _, sm := range summaries {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to save usage summary %s: %w", sm.Provider, err)
		}
	}
	return nil
}

// Load reads every summary.
func (s *PostgreSQLStore) Load(ctx context.Context) ([]Summary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT provider, total_tokens, prompt_tokens, completion_tokens, cost, requests, last_reset_at
		FROM usage_summaries ORDER BY provider`)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage summaries: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sm Summary
		var resetAt *time.Time
		if err := rows.Scan(&sm.Provider, &sm.TotalTokens, &sm.PromptTokens, &sm.CompletionTokens,
			&sm.Cost, &sm.Requests, &resetAt); err != nil {
			return nil, fmt.Errorf("failed to scan usage summary: %w", err)
		}
		if resetAt != nil {
			sm.LastResetAt = resetAt.UTC()
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

// Close is a no-op; the pool is managed by the storage layer.
func (s *PostgreSQLStore) Close() error {
	return nil
}
