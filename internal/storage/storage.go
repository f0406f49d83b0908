// Package storage provides the shared database connection used by usage
// snapshots and the settings store.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"llmrouter/config"
)

// Type constants for storage backends
const (
	TypeSQLite     = "sqlite"
	TypePostgreSQL = "postgresql"
	TypeMongoDB    = "mongodb"
)

// Storage provides a unified interface for database connections.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Type returns the storage type ("sqlite", "postgresql", or "mongodb")
	Type() string

	// SQLiteDB returns the *sql.DB connection for SQLite.
	// Returns nil if not using SQLite.
	SQLiteDB() *sql.DB

	// PostgreSQLPool returns the connection pool for PostgreSQL.
	// Returns nil if not using PostgreSQL.
	PostgreSQLPool() *pgxpool.Pool

	// MongoDatabase returns the MongoDB database.
	// Returns nil if not using MongoDB.
	MongoDatabase() *mongo.Database

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error

	// Close releases all resources held by the storage.
	Close() error
}

// New creates a new Storage based on the configuration.
// It validates the configuration and establishes the database connection.
func New(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	switch cfg.Type {
	case TypeSQLite, "":
		return NewSQLite(cfg.SQLite)
	case TypePostgreSQL:
		return NewPostgreSQL(ctx, cfg.PostgreSQL)
	case TypeMongoDB:
		return NewMongoDB(ctx, cfg.MongoDB)
	default:
		return nil, fmt.Errorf("unknown storage type: %s (valid: sqlite, postgresql, mongodb)", cfg.Type)
	}
}
