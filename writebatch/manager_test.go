package writebatch

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mevdschee/tqbatch/store"
)

// setupTestDB opens a writer on a fresh database file and returns it together
// with a separate connection for verifying the committed state
func setupTestDB(t testing.TB) (*store.Writer, *sql.DB) {
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db") + "?_busy_timeout=5000&_foreign_keys=1"

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE test_writes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		data TEXT,
		value INTEGER
	)`)
	if err != nil {
		t.Fatal(err)
	}

	w, err := store.Open(context.Background(), store.Options{DSN: dsn, WriteAheadLog: true})
	if err != nil {
		t.Fatal(err)
	}
	return w, db
}

func countRows(t testing.TB, db *sql.DB, where string, args ...interface{}) int {
	var count int
	query := "SELECT COUNT(*) FROM test_writes"
	if where != "" {
		query += " WHERE " + where
	}
	if err := db.QueryRow(query, args...).Scan(&count); err != nil {
		t.Fatal(err)
	}
	return count
}

// slowConfig never flushes on the ticker during a test
func slowConfig() Config {
	cfg := DefaultConfig()
	cfg.FlushIntervalMs = 60_000
	return cfg
}

func TestManager_SingleWrite(t *testing.T) {
	w, db := setupTestDB(t)

	m, err := New(w, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	ctx := context.Background()
	result := m.Exec(ctx, "INSERT INTO test_writes (data) VALUES (?)", "test")

	if result.Error != nil {
		t.Fatalf("Expected no error, got %v", result.Error)
	}
	if result.Counted {
		t.Error("Expected no affected row count without ExecChanges")
	}

	if count := countRows(t, db, "data = 'test'"); count != 1 {
		t.Errorf("Expected 1 row in database, got %d", count)
	}
}

func TestManager_ExecChanges(t *testing.T) {
	w, db := setupTestDB(t)

	m, err := New(w, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	ctx := context.Background()
	result := m.ExecChanges(ctx, "INSERT INTO test_writes (data, value) VALUES (?, ?), (?, ?)", "a", 1, "b", 2)
	if result.Error != nil {
		t.Fatalf("Expected no error, got %v", result.Error)
	}
	if !result.Counted || result.AffectedRows != 2 {
		t.Errorf("Expected 2 counted affected rows, got %d (counted=%v)", result.AffectedRows, result.Counted)
	}

	result = m.ExecChanges(ctx, "DELETE FROM test_writes WHERE value = ?", 1)
	if result.Error != nil {
		t.Fatalf("Expected no error, got %v", result.Error)
	}
	if result.AffectedRows != 1 {
		t.Errorf("Expected 1 affected row, got %d", result.AffectedRows)
	}

	if count := countRows(t, db, ""); count != 1 {
		t.Errorf("Expected 1 row in database, got %d", count)
	}
}

func TestManager_NamedParams(t *testing.T) {
	w, db := setupTestDB(t)

	m, err := New(w, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	result := m.Exec(context.Background(),
		"INSERT INTO test_writes (data, value) VALUES (@data, @value)",
		sql.Named("data", "named"), sql.Named("value", 7))
	if result.Error != nil {
		t.Fatalf("Expected no error, got %v", result.Error)
	}

	if count := countRows(t, db, "data = 'named' AND value = 7"); count != 1 {
		t.Errorf("Expected 1 row in database, got %d", count)
	}
}

func TestManager_ConcurrentExecs(t *testing.T) {
	w, db := setupTestDB(t)

	m, err := New(w, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	ctx := context.Background()
	numGoroutines := 50
	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	errs := make(chan error, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(n int) {
			defer wg.Done()
			result := m.Exec(ctx, "INSERT INTO test_writes (data, value) VALUES (?, ?)", "concurrent", n)
			if result.Error != nil {
				errs <- result.Error
			}
		}(i)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Unexpected error: %v", err)
	}

	if count := countRows(t, db, "data = 'concurrent'"); count != numGoroutines {
		t.Errorf("Expected %d writes, got %d", numGoroutines, count)
	}
}

func TestManager_ErrorHandling(t *testing.T) {
	w, _ := setupTestDB(t)

	m, err := New(w, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	result := m.Exec(context.Background(), "INSERT INTO nonexistent (data) VALUES (?)", "error")

	var stmtErr *StatementError
	if !errors.As(result.Error, &stmtErr) {
		t.Fatalf("Expected StatementError for invalid query, got %v", result.Error)
	}
	if stmtErr.Query != "INSERT INTO nonexistent (data) VALUES (?)" {
		t.Errorf("Expected failing query in error, got %q", stmtErr.Query)
	}
}

func TestManager_InvalidConfig(t *testing.T) {
	w, _ := setupTestDB(t)
	defer w.Close()

	cfg := DefaultConfig()
	cfg.MaxBatchSize = 1

	if _, err := New(w, cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got %v", err)
	}
}

func TestManager_Close(t *testing.T) {
	w, _ := setupTestDB(t)

	m, err := New(w, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	// Close is idempotent
	if err := m.Close(); err != nil {
		t.Fatalf("Second Close() error: %v", err)
	}

	if _, err := m.Submit("INSERT INTO test_writes (data) VALUES (?)", []interface{}{"closed"}, false); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("Expected ErrManagerClosed from Submit, got %v", err)
	}

	result := m.Exec(context.Background(), "INSERT INTO test_writes (data) VALUES (?)", "closed")
	if !errors.Is(result.Error, ErrManagerClosed) {
		t.Errorf("Expected ErrManagerClosed, got %v", result.Error)
	}
}

func TestManager_ContextCancellation(t *testing.T) {
	w, db := setupTestDB(t)

	m, err := New(w, slowConfig())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	result := m.Exec(ctx, "INSERT INTO test_writes (data) VALUES (?)", "cancelled")
	if !errors.Is(result.Error, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", result.Error)
	}

	// The command stays queued and is written on close
	if m.Pending() != 1 {
		t.Errorf("Expected 1 pending command, got %d", m.Pending())
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if count := countRows(t, db, "data = 'cancelled'"); count != 1 {
		t.Errorf("Expected 1 row after close, got %d", count)
	}
}

func BenchmarkManager_SingleWrite(b *testing.B) {
	w, _ := setupTestDB(b)

	cfg := DefaultConfig()
	cfg.FlushIntervalMs = 1
	m, err := New(w, cfg)
	if err != nil {
		b.Fatal(err)
	}
	defer m.Close()

	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Exec(ctx, "INSERT INTO test_writes (data) VALUES (?)", "bench")
	}
}

func BenchmarkManager_BatchedWrites(b *testing.B) {
	w, _ := setupTestDB(b)

	m, err := New(w, DefaultConfig())
	if err != nil {
		b.Fatal(err)
	}
	defer m.Close()

	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			m.Exec(ctx, "INSERT INTO test_writes (data) VALUES (?)", "bench")
		}
	})
}
