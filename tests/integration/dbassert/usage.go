//go:build integration

// Package dbassert reads persisted router state for integration assertions.
package dbassert

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// UsageSummary mirrors one persisted usage summary row.
type UsageSummary struct {
	Provider         string
	TotalTokens      int64
	PromptTokens     int64
	CompletionTokens int64
	Cost             float64
	Requests         int64
}

// QueryUsageSummaryPostgreSQL returns the summary of provider, or nil when none is stored.
func QueryUsageSummaryPostgreSQL(t *testing.T, pool *pgxpool.Pool, provider string) *UsageSummary {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var s UsageSummary
	err := pool.QueryRow(ctx, `
		SELECT provider, total_tokens, prompt_tokens, completion_tokens, cost, requests
		FROM usage_summaries
		WHERE provider = $1
	`, provider).Scan(&s.Provider, &s.TotalTokens, &s.PromptTokens, &s.CompletionTokens, &s.Cost, &s.Requests)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	require.NoError(t, err, "failed to query usage summary")
	return &s
}

// QueryUsageSummaryMongoDB returns the summary of provider, or nil when none is stored.
func QueryUsageSummaryMongoDB(t *testing.T, db *mongo.Database, provider string) *UsageSummary {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var doc struct {
		Provider         string  `bson:"_id"`
		TotalTokens      int64   `bson:"total_tokens"`
		PromptTokens     int64   `bson:"prompt_tokens"`
		CompletionTokens int64   `bson:"completion_tokens"`
		Cost             float64 `bson:"cost"`
		Requests         int64   `bson:"requests"`
	}
	err := db.Collection("usage_summaries").FindOne(ctx, bson.M{"_id": provider}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil
	}
	require.NoError(t, err, "failed to query usage summary")
	return &UsageSummary{
		Provider:         doc.Provider,
		TotalTokens:      doc.TotalTokens,
		PromptTokens:     doc.PromptTokens,
		CompletionTokens: doc.CompletionTokens,
		Cost:             doc.Cost,
		Requests:         doc.Requests,
	}
}

// ClearUsagePostgreSQL removes every persisted usage summary.
func ClearUsagePostgreSQL(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `DELETE FROM usage_summaries`)
	if err != nil {
		// The table only exists after the first store initialization.
		t.Logf("clear usage_summaries: %v", err)
	}
}

// ClearUsageMongoDB removes every persisted usage summary.
func ClearUsageMongoDB(t *testing.T, db *mongo.Database) {
	t.Helper()
	_, err := db.Collection("usage_summaries").DeleteMany(context.Background(), bson.M{})
	require.NoError(t, err)
}
