package docstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/postbox/internal/digest"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - documents and document_history tables
// 1 - history lookup index by path
const currentSchemaVersion = 1

// SQLiteBackend stores documents as rows, with every accepted write also
// appended to a history table.
type SQLiteBackend struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite creates or opens a SQLite document store at path.
// Pragmas and migrations are applied on every open; reopening is safe.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLiteBackend{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the database.
func (b *SQLiteBackend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < 1 {
		if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_history_path ON document_history(path, seq)`); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// Get reads one document.
func (b *SQLiteBackend) Get(ctx context.Context, path string) (Blob, error) {
	var blob Blob
	var sha string
	err := b.db.QueryRowContext(ctx, `SELECT content, sha FROM documents WHERE path = ?`, path).
		Scan(&blob.Data, &sha)
	if errors.Is(err, sql.ErrNoRows) {
		return Blob{}, nil
	}
	if err != nil {
		return Blob{}, unavailable("get", path, err)
	}
	blob.Version = Version(sha)
	return blob, nil
}

// Put replaces one document if its sha still equals expected.
func (b *SQLiteBackend) Put(ctx context.Context, path string, data []byte, expected Version, commit Commit) (Version, error) {
	sha := digest.BlobSHA(data)
	now := b.now().Format(time.RFC3339Nano)

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return Absent, unavailable("put", path, err)
	}
	defer tx.Rollback()

	var res sql.Result
	if expected == Absent {
		res, err = tx.ExecContext(ctx, `
			INSERT INTO documents (path, content, sha, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(path) DO NOTHING
		`, path, data, sha, now)
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE documents SET content = ?, sha = ?, updated_at = ?
			WHERE path = ? AND sha = ?
		`, data, sha, now, path, string(expected))
	}
	if err != nil {
		return Absent, unavailable("put", path, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Absent, unavailable("put", path, err)
	}
	if n == 0 {
		current, err := currentSHA(ctx, tx, path)
		if err != nil {
			return Absent, unavailable("put", path, err)
		}
		return Absent, &ConflictError{Path: path, Expected: expected, Current: current}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO document_history (path, sha, parent_sha, message, author, committed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, path, sha, string(expected), commit.Message, commit.Author, now); err != nil {
		return Absent, unavailable("put", path, err)
	}
	if err := tx.Commit(); err != nil {
		return Absent, unavailable("commit", path, err)
	}
	return Version(sha), nil
}

func currentSHA(ctx context.Context, tx *sql.Tx, path string) (Version, error) {
	var sha string
	err := tx.QueryRowContext(ctx, `SELECT sha FROM documents WHERE path = ?`, path).Scan(&sha)
	if errors.Is(err, sql.ErrNoRows) {
		return Absent, nil
	}
	if err != nil {
		return Absent, err
	}
	return Version(sha), nil
}

// HistoryEntry is one accepted write.
type HistoryEntry struct {
	Seq         int64
	Path        string
	Version     Version
	Parent      Version
	Message     string
	Author      string
	CommittedAt time.Time
}

// History returns the write log of one document, oldest first.
func (b *SQLiteBackend) History(ctx context.Context, path string) ([]HistoryEntry, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT seq, path, sha, parent_sha, message, author, committed_at
		FROM document_history WHERE path = ? ORDER BY seq ASC
	`, path)
	if err != nil {
		return nil, unavailable("history", path, err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var sha, parent, at string
		if err := rows.Scan(&e.Seq, &e.Path, &sha, &parent, &e.Message, &e.Author, &at); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.Version, e.Parent = Version(sha), Version(parent)
		e.CommittedAt, err = time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("parse committed_at %q: %w", at, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("history", path, err)
	}
	return out, nil
}
