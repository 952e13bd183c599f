// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/golang/snappy"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	encodingRaw    = 0
	encodingSnappy = 1
)

// SQLiteConfig configures the SQLite backend.
type SQLiteConfig struct {
	Path              string        // file path or ":memory:"
	BusyTimeout       time.Duration // e.g. 5s
	CompressThreshold int           // bodies of at least this many bytes are snappy-encoded; 0 disables
}

// DefaultSQLiteConfig returns settings matching mobile best practices.
func DefaultSQLiteConfig(path string) SQLiteConfig {
	return SQLiteConfig{
		Path:              path,
		BusyTimeout:       5 * time.Second,
		CompressThreshold: 1024,
	}
}

// SQLiteBackend stores collections as rows of a documents table.
type SQLiteBackend struct {
	db     *sql.DB
	config SQLiteConfig
}

// SQLiteOpener returns an Opener for use with New.
func SQLiteOpener(config SQLiteConfig) Opener {
	return func(ctx context.Context) (Backend, error) {
		b, err := OpenSQLite(ctx, config)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}

// OpenSQLite opens the database and migrates it to the latest schema version.
func OpenSQLite(ctx context.Context, config SQLiteConfig) (*SQLiteBackend, error) {
	if config.Path == "" {
		return nil, errors.New("sqlite path must be provided")
	}
	dsn := config.Path
	if dsn != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on", config.Path, config.BusyTimeout.Milliseconds())
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and avoids
	// SQLITE_BUSY between our own writers.
	db.SetMaxOpenConns(1)

	if err := initializeDatabase(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return &SQLiteBackend{db: db, config: config}, nil
}

func initializeDatabase(ctx context.Context, db *sql.DB) error {
	if err := db.PingContext(ctx); err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys=ON`); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return runMigrations(db)
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	// m.Close would also close db, so only the source is released.
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		_ = src.Close()
		return fmt.Errorf("migration setup: %w", err)
	}
	defer src.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Name() string { return "sqlite" }

// DB exposes the underlying handle, mostly for tests and diagnostics.
func (b *SQLiteBackend) DB() *sql.DB { return b.db }

func (b *SQLiteBackend) Replace(ctx context.Context, collection string, docs []Document) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := ensureCollection(ctx, tx, collection); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE collection = ?`, collection); err != nil {
		return fmt.Errorf("failed to clear %s: %w", collection, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO documents (collection, doc_id, position, sort_key, encoding, body)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (collection, doc_id) DO UPDATE SET
			position = excluded.position,
			sort_key = excluded.sort_key,
			encoding = excluded.encoding,
			body = excluded.body
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, d := range docs {
		enc, body := b.encode(d.Body)
		if _, err := stmt.ExecContext(ctx, collection, d.ID, i, d.SortKey, enc, body); err != nil {
			return fmt.Errorf("failed to insert %s/%s: %w", collection, d.ID, err)
		}
	}
	return tx.Commit()
}

func (b *SQLiteBackend) Load(ctx context.Context, collection string) ([]Document, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT doc_id, sort_key, encoding, body
		FROM documents
		WHERE collection = ?
		ORDER BY sort_key, position
	`, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			d    Document
			enc  int
			body []byte
		)
		if err := rows.Scan(&d.ID, &d.SortKey, &enc, &body); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		d.Body, err = decode(enc, body)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s/%s: %w", collection, d.ID, err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}
	return docs, nil
}

func (b *SQLiteBackend) Put(ctx context.Context, collection string, doc Document) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := ensureCollection(ctx, tx, collection); err != nil {
		return err
	}
	enc, body := b.encode(doc.Body)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (collection, doc_id, position, sort_key, encoding, body)
		VALUES (?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM documents WHERE collection = ?), ?, ?, ?)
		ON CONFLICT (collection, doc_id) DO UPDATE SET
			sort_key = excluded.sort_key,
			encoding = excluded.encoding,
			body = excluded.body,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
	`, collection, doc.ID, collection, doc.SortKey, enc, body)
	if err != nil {
		return fmt.Errorf("failed to upsert %s/%s: %w", collection, doc.ID, err)
	}
	return tx.Commit()
}

func (b *SQLiteBackend) Delete(ctx context.Context, collection, id string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND doc_id = ?`, collection, id); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}
	return nil
}

func (b *SQLiteBackend) Close() error { return b.db.Close() }

func ensureCollection(ctx context.Context, tx *sql.Tx, collection string) error {
	spec := Lookup(collection)
	_, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO collections (name, shape, index_field) VALUES (?, ?, ?)
	`, spec.Name, spec.Shape.String(), spec.IndexField)
	if err != nil {
		return fmt.Errorf("failed to register collection %s: %w", collection, err)
	}
	return nil
}

func (b *SQLiteBackend) encode(body []byte) (int, []byte) {
	if b.config.CompressThreshold > 0 && len(body) >= b.config.CompressThreshold {
		return encodingSnappy, snappy.Encode(nil, body)
	}
	return encodingRaw, body
}

func decode(enc int, body []byte) ([]byte, error) {
	switch enc {
	case encodingRaw:
		return body, nil
	case encodingSnappy:
		return snappy.Decode(nil, body)
	default:
		return nil, fmt.Errorf("unknown body encoding %d", enc)
	}
}
