package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLiteStore implements Store for SQLite databases.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the usage_summaries table if it doesn't exist.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS usage_summaries (
			provider TEXT PRIMARY KEY,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			cost REAL NOT NULL DEFAULT 0,
			requests INTEGER NOT NULL DEFAULT 0,
			last_reset_at TEXT,
			updated_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create usage_summaries table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Save upserts summaries in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, summaries []Summary) error {
	if len(summaries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, sm := range summaries {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO usage_summaries (provider, total_tokens, prompt_tokens, completion_tokens,
				cost, requests, last_reset_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(provider) DO UPDATE SET
				total_tokens = excluded.total_tokens,
				prompt_tokens = excluded.prompt_tokens,
				completion_tokens = excluded.completion_tokens,
				cost = excluded.cost,
				requests = excluded.requests,
				last_reset_at = excluded.last_reset_at,
				updated_at = excluded.updated_at
		`, sm.Provider, sm.TotalTokens, sm.PromptTokens, sm.CompletionTokens,
			sm.Cost, sm.Requests, formatResetTime(sm.LastResetAt), now)
		if err != nil {
			return fmt.Errorf("failed to save usage summary %s: %w", sm.Provider, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Load reads every summary.
func (s *SQLiteStore) Load(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider, total_tokens, prompt_tokens, completion_tokens, cost, requests, last_reset_at
		FROM usage_summaries ORDER BY provider`)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage summaries: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sm Summary
		var resetAt sql.NullString
		if err := rows.Scan(&sm.Provider, &sm.TotalTokens, &sm.PromptTokens, &sm.CompletionTokens,
			&sm.Cost, &sm.Requests, &resetAt); err != nil {
			return nil, fmt.Errorf("failed to scan usage summary: %w", err)
		}
		if resetAt.Valid && resetAt.String != "" {
			t, err := time.Parse(time.RFC3339Nano, resetAt.String)
			if err != nil {
				return nil, fmt.Errorf("invalid last_reset_at for %s: %w", sm.Provider, err)
			}
			sm.LastResetAt = t
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

// Close is a no-op; the DB is managed by the storage layer.
func (s *SQLiteStore) Close() error {
	return nil
}

func formatResetTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
