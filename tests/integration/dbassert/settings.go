//go:build integration

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

// QuerySettingPostgreSQL returns the stored value of key and whether it exists.
func QuerySettingPostgreSQL(t *testing.T, pool *pgxpool.Pool, key string) (string, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var value string
	err := pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false
	}
	require.NoError(t, err, "failed to query setting")
	return value, true
}

// QuerySettingMongoDB returns the stored value of key and whether it exists.
func QuerySettingMongoDB(t *testing.T, db *mongo.Database, key string) (string, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var doc struct {
		Value string `bson:"value"`
	}
	err := db.Collection("settings").FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", false
	}
	require.NoError(t, err, "failed to query setting")
	return doc.Value, true
}

// ClearSettingsPostgreSQL removes every persisted setting.
func ClearSettingsPostgreSQL(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	if _, err := pool.Exec(context.Background(), `DELETE FROM settings`); err != nil {
		t.Logf("clear settings: %v", err)
	}
}

// ClearSettingsMongoDB removes every persisted setting.
func ClearSettingsMongoDB(t *testing.T, db *mongo.Database) {
	t.Helper()
	_, err := db.Collection("settings").DeleteMany(context.Background(), bson.M{})
	require.NoError(t, err)
}
