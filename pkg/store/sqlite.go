package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Sternrassler/search-harvester/pkg/search"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// SQLiteStore writes items into a SQLite database file.
type SQLiteStore struct {
	db    *sql.DB
	table string
}

// OpenSQLite opens (creating if needed) the database at path. ":memory:"
// gives a private in-memory database.
func OpenSQLite(ctx context.Context, path, table string) (*SQLiteStore, error) {
	table, err := tableName(table)
	if err != nil {
		return nil, storeError("open sqlite", err)
	}
	if path == "" {
		return nil, storeError("open sqlite", fmt.Errorf("path is required"))
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, storeError("open sqlite", err)
	}

	// One writer at a time; also keeps ":memory:" on a single database.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, storeError("open sqlite", fmt.Errorf("ping database: %w", err))
	}

	if path != ":memory:" {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, storeError("open sqlite", fmt.Errorf("enable WAL mode: %w", err))
		}
	}

	return &SQLiteStore{db: db, table: table}, nil
}

// EnsureSchema implements Store.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements(s.table, "INTEGER", "INTEGER") {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return storeError("ensure schema", err)
		}
	}
	return nil
}

// UpsertItems implements Store.
func (s *SQLiteStore) UpsertItems(ctx context.Context, items []search.Item) (err error) {
	if len(items) == 0 {
		return nil
	}

	start := time.Now()
	defer func() { observeUpsert(DriverSQLite, len(items), start, err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError("upsert items", fmt.Errorf("begin: %w", err))
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (item_id, author_id, truncated, text, author_name, author_handle)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET
			author_id = excluded.author_id,
			truncated = excluded.truncated,
			text = excluded.text,
			author_name = excluded.author_name,
			author_handle = excluded.author_handle
	`, s.table))
	if err != nil {
		return storeError("upsert items", fmt.Errorf("prepare: %w", err))
	}
	defer stmt.Close()

	for _, item := range items {
		if _, err := stmt.ExecContext(ctx,
			item.ItemID,
			item.AuthorID,
			item.Truncated,
			item.Text,
			item.AuthorName,
			item.AuthorHandle,
		); err != nil {
			return storeError("upsert items", fmt.Errorf("item %d: %w", item.ItemID, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return storeError("upsert items", fmt.Errorf("commit: %w", err))
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
