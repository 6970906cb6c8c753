package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS tap_state (
	id TEXT PRIMARY KEY,
	document TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// SQLiteBackend keeps the document in a single row of a SQLite table.
type SQLiteBackend struct {
	conn *sql.DB
	id   string
}

// NewSQLiteBackend opens (or creates) the database at dsn. A bare path gets
// WAL journaling and a busy timeout.
func NewSQLiteBackend(ctx context.Context, dsn, id string) (*SQLiteBackend, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sqlite state backend requires a dsn")
	}
	if id == "" {
		id = "default"
	}
	if !strings.Contains(dsn, "?") && !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer only, avoids SQLITE_BUSY
	conn.SetMaxOpenConns(1)

	if _, err := conn.ExecContext(ctx, sqliteSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteBackend{conn: conn, id: id}, nil
}

func (b *SQLiteBackend) Load(ctx context.Context) ([]byte, error) {
	var doc string
	err := b.conn.QueryRowContext(ctx, `SELECT document FROM tap_state WHERE id = ?`, b.id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load state row: %w", err)
	}
	return []byte(doc), nil
}

func (b *SQLiteBackend) Save(ctx context.Context, data []byte) error {
	_, err := b.conn.ExecContext(ctx,
		`INSERT INTO tap_state (id, document, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`,
		b.id, string(data), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save state row: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Close() error { return b.conn.Close() }
func (b *SQLiteBackend) Name() string { return "sqlite" }
