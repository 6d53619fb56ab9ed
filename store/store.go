// Package store opens the single writer connection that a write batch queue
// flushes into. One Writer pins exactly one connection of its *sql.DB, so every
// transaction the queue runs is serialized on it.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const walPragma = "PRAGMA journal_mode = WAL"

// Dialect describes how a driver reports the rows changed by the last statement
type Dialect struct {
	Driver       string
	ChangesQuery string // empty means sql.Result.RowsAffected is used
	SupportsWAL  bool
}

var dialects = map[string]Dialect{
	"sqlite3":  {Driver: "sqlite3", ChangesQuery: "SELECT changes()", SupportsWAL: true},
	"mysql":    {Driver: "mysql", ChangesQuery: "SELECT ROW_COUNT()"},
	"postgres": {Driver: "postgres"},
}

// LookupDialect returns the dialect registered for driver
func LookupDialect(driver string) (Dialect, bool) {
	d, ok := dialects[driver]
	return d, ok
}

// Options configures how the writer connection is opened
type Options struct {
	Driver        string // sqlite3 (default), mysql or postgres
	DSN           string
	WriteAheadLog bool // sqlite3 only, applied once at open
}

// Writer owns one database connection used for batched writes
type Writer struct {
	db      *sql.DB
	conn    *sql.Conn
	dialect Dialect
}

// Open connects to the database and pins the writer connection
func Open(ctx context.Context, opts Options) (*Writer, error) {
	driver := opts.Driver
	if driver == "" {
		driver = "sqlite3"
	}
	dialect, ok := LookupDialect(driver)
	if !ok {
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	if opts.WriteAheadLog && !dialect.SupportsWAL {
		return nil, fmt.Errorf("write-ahead log option is not supported by driver %q", driver)
	}

	db, err := sql.Open(driver, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if opts.WriteAheadLog {
		if _, err := conn.ExecContext(ctx, walPragma); err != nil {
			conn.Close()
			db.Close()
			return nil, fmt.Errorf("failed to enable write-ahead log: %w", err)
		}
	}

	return &Writer{db: db, conn: conn, dialect: dialect}, nil
}

// BeginTx starts a transaction on the writer connection
func (w *Writer) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := w.conn.BeginTx(ctx, nil)
	if err != nil && w.dialect.Driver == "sqlite3" && strings.Contains(err.Error(), "within a transaction") {
		// SQLite keeps the transaction open when COMMIT fails on a deferred
		// constraint, while database/sql already considers it finished
		if _, rbErr := w.conn.ExecContext(ctx, "ROLLBACK"); rbErr != nil {
			return nil, err
		}
		return w.conn.BeginTx(ctx, nil)
	}
	return tx, err
}

// Changes returns the number of rows changed by the statement that produced res,
// read inside tx right after it was executed
func (w *Writer) Changes(ctx context.Context, tx *sql.Tx, res sql.Result) (int64, error) {
	if w.dialect.ChangesQuery == "" {
		return res.RowsAffected()
	}
	var n int64
	if err := tx.QueryRowContext(ctx, w.dialect.ChangesQuery).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to read change counter: %w", err)
	}
	return n, nil
}

// Dialect returns the dialect of the writer connection
func (w *Writer) Dialect() Dialect {
	return w.dialect
}

// Close releases the writer connection and the underlying pool
func (w *Writer) Close() error {
	connErr := w.conn.Close()
	if err := w.db.Close(); err != nil {
		return err
	}
	return connErr
}
