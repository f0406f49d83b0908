package usage

import (
	"context"
	"fmt"

	"llmrouter/internal/storage"
)

// Store persists usage summaries.
type Store interface {
	// Save upserts the given summaries.
	Save(ctx context.Context, summaries []Summary) error

	// Load returns every persisted summary.
	Load(ctx context.Context) ([]Summary, error)

	// Close releases store resources. The underlying connection is owned by the storage layer.
	Close() error
}

// NewStore creates the Store matching the storage backend.
func NewStore(ctx context.Context, store storage.Storage) (Store, error) {
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	switch store.Type() {
	case storage.TypeSQLite:
		return NewSQLiteStore(ctx, store.SQLiteDB())
	case storage.TypePostgreSQL:
		return NewPostgreSQLStore(ctx, store.PostgreSQLPool())
	case storage.TypeMongoDB:
		return NewMongoDBStore(ctx, store.MongoDatabase())
	default:
		return nil, fmt.Errorf("unknown storage type: %s", store.Type())
	}
}
