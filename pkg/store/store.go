// Package store persists search items with idempotent upserts.
//
// Two back-ends share one schema: SQLite (the default, a single local file)
// and PostgreSQL. Rows are keyed by item_id; writing an item again replaces
// the stored row.
package store

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/Sternrassler/search-harvester/pkg/search"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

var upsertDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "harvest_store_upsert_duration_seconds",
	Help:    "Duration of one item batch upsert by driver",
	Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
}, []string{"driver"})

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DefaultTable is the table items are written to.
const DefaultTable = "mam_tweets"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Store writes items.
type Store interface {
	// EnsureSchema creates the table and its indexes if they do not exist.
	EnsureSchema(ctx context.Context) error

	// UpsertItems writes items in one transaction. Either every row is
	// written or none is.
	UpsertItems(ctx context.Context, items []search.Item) error

	Close() error
}

// Config selects and configures a back-end.
type Config struct {
	Driver   string
	Path     string // sqlite file
	DSN      string // postgres connection string
	Table    string
	MaxConns int32
}

// Open connects to the configured back-end.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverSQLite, "":
		return OpenSQLite(ctx, cfg.Path, cfg.Table)
	case DriverPostgres:
		return OpenPostgres(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func tableName(table string) (string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// schemaStatements returns the DDL for table. idType and boolType are the
// dialect's column types.
func schemaStatements(table, idType, boolType string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		item_id %s PRIMARY KEY,
		author_id %s NOT NULL,
		truncated %s NOT NULL,
		text TEXT NOT NULL,
		author_name TEXT NOT NULL,
		author_handle TEXT NOT NULL
	)`, table, idType, idType, boolType),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_author_id_idx ON %s (author_id)`, table, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_truncated_idx ON %s (truncated)`, table, table),
	}
}

// observeUpsert records the duration and logs the batch.
func observeUpsert(driver string, count int, start time.Time, err error) {
	elapsed := time.Since(start)
	upsertDuration.WithLabelValues(driver).Observe(elapsed.Seconds())

	if err != nil {
		log.Error().Err(err).Str("component", "store").Str("driver", driver).Int("items", count).Msg("Upsert failed")
		return
	}
	log.Debug().Str("component", "store").Str("driver", driver).Int("items", count).Dur("duration", elapsed).Msg("Items upserted")
}

func storeError(op string, err error) error {
	return search.Wrap(search.KindStore, op, err)
}
