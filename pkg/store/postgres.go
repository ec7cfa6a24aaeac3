package store

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/search-harvester/pkg/search"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgxPool is the part of *pgxpool.Pool the store uses.
type pgxPool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// PostgresStore writes items into a PostgreSQL table.
type PostgresStore struct {
	pool  pgxPool
	table string
}

// OpenPostgres connects a pool to cfg.DSN.
func OpenPostgres(ctx context.Context, cfg Config) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, storeError("open postgres", fmt.Errorf("store.dsn is required"))
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, storeError("open postgres", fmt.Errorf("parse postgres dsn: %w", err))
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, storeError("open postgres", fmt.Errorf("connect postgres: %w", err))
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, storeError("open postgres", fmt.Errorf("ping postgres: %w", err))
	}

	return NewPostgresStoreWithPool(pool, cfg.Table)
}

// NewPostgresStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewPostgresStoreWithPool(pool pgxPool, table string) (*PostgresStore, error) {
	if pool == nil {
		return nil, storeError("open postgres", fmt.Errorf("pool is required"))
	}
	table, err := tableName(table)
	if err != nil {
		return nil, storeError("open postgres", err)
	}
	return &PostgresStore{pool: pool, table: table}, nil
}

// EnsureSchema implements Store.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements(s.table, "BIGINT", "BOOLEAN") {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return storeError("ensure schema", err)
		}
	}
	return nil
}

func (s *PostgresStore) upsertQuery() string {
	return fmt.Sprintf(`
		INSERT INTO %s (item_id, author_id, truncated, text, author_name, author_handle)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (item_id) DO UPDATE SET
			author_id = EXCLUDED.author_id,
			truncated = EXCLUDED.truncated,
			text = EXCLUDED.text,
			author_name = EXCLUDED.author_name,
			author_handle = EXCLUDED.author_handle
	`, s.table)
}

// UpsertItems implements Store.
func (s *PostgresStore) UpsertItems(ctx context.Context, items []search.Item) (err error) {
	if len(items) == 0 {
		return nil
	}

	start := time.Now()
	defer func() { observeUpsert(DriverPostgres, len(items), start, err) }()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storeError("upsert items", fmt.Errorf("begin: %w", err))
	}

	query := s.upsertQuery()
	for _, item := range items {
		if _, err := tx.Exec(ctx, query,
			item.ItemID,
			item.AuthorID,
			item.Truncated,
			item.Text,
			item.AuthorName,
			item.AuthorHandle,
		); err != nil {
			_ = tx.Rollback(ctx)
			return storeError("upsert items", fmt.Errorf("item %d: %w", item.ItemID, err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return storeError("upsert items", fmt.Errorf("commit: %w", err))
	}
	return nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
