package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"llmrouter/config"
)

func TestSQLiteConcurrentWriteSafety(t *testing.T) {
	store, err := NewSQLite(config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("failed to create SQLite storage: %v", err)
	}
	defer store.Close()

	db := store.SQLiteDB()

	// Create two tables to simulate the settings store and usage snapshots writing concurrently.
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS test_settings (id TEXT PRIMARY KEY, data TEXT)`)
	if err != nil {
		t.Fatalf("failed to create test_settings table: %v", err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS test_usage (id TEXT PRIMARY KEY, data TEXT)`)
	if err != nil {
		t.Fatalf("failed to create test_usage table: %v", err)
	}

	const goroutines = 10
	const insertsPerGoroutine = 50

	var wg sync.WaitGroup
	errs := make(chan error, goroutines*insertsPerGoroutine*2)

	// Half the goroutines write to test_settings, half to test_usage.
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			table := "test_settings"
			if id%2 == 1 {
				table = "test_usage"
			}
			for j := 0; j < insertsPerGoroutine; j++ {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				_, err := db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (id, data) VALUES (?, ?)`, table),
					fmt.Sprintf("%d-%d", id, j), "payload")
				cancel()
				if err != nil {
					errs <- fmt.Errorf("goroutine %d insert %d into %s: %w", id, j, table, err)
				}
			}
		}(i)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent write error: %v", err)
	}

	// Verify all rows were inserted.
	var settingsCount, usageCount int
	if err := db.QueryRow("SELECT COUNT(*) FROM test_settings").Scan(&settingsCount); err != nil {
		t.Fatalf("failed to count settings rows: %v", err)
	}
	if err := db.QueryRow("SELECT COUNT(*) FROM test_usage").Scan(&usageCount); err != nil {
		t.Fatalf("failed to count usage rows: %v", err)
	}

	expectedPerTable := (goroutines / 2) * insertsPerGoroutine
	if settingsCount != expectedPerTable {
		t.Errorf("test_settings: got %d rows, want %d", settingsCount, expectedPerTable)
	}
	if usageCount != expectedPerTable {
		t.Errorf("test_usage: got %d rows, want %d", usageCount, expectedPerTable)
	}
}

func TestNew_UnknownType(t *testing.T) {
	_, err := New(context.Background(), config.StorageConfig{Type: "dynamodb"})
	if err == nil {
		t.Fatal("expected error for unknown storage type")
	}
}

func TestNewSQLite_Ping(t *testing.T) {
	store, err := New(context.Background(), config.StorageConfig{
		Type:   TypeSQLite,
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "nested", "ping.db")},
	})
	if err != nil {
		t.Fatalf("failed to create SQLite storage: %v", err)
	}
	defer store.Close()

	if store.Type() != TypeSQLite {
		t.Errorf("Type() = %q", store.Type())
	}
	if store.PostgreSQLPool() != nil || store.MongoDatabase() != nil {
		t.Error("expected only the SQLite handle to be set")
	}
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}

	var mode string
	if err := store.SQLiteDB().QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("failed to read journal mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestNewPostgreSQL_RequiresURL(t *testing.T) {
	if _, err := NewPostgreSQL(context.Background(), config.PostgreSQLConfig{}); err == nil {
		t.Error("expected error without URL")
	}
}

func TestNewMongoDB_RequiresURL(t *testing.T) {
	if _, err := NewMongoDB(context.Background(), config.MongoDBConfig{}); err == nil {
		t.Error("expected error without URL")
	}
}
