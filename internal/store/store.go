package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/bugdw/internal/engine"
	"github.com/roach88/bugdw/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added partial UNIQUE index on fact_bug(bug_id) WHERE is_current
// 2 - Added index on fact_bug(snapshot_start)
const currentSchemaVersion = 2

// Store is the SQLite persistence gateway.
// It implements engine.Gateway and engine.Journal.
type Store struct {
	db *sql.DB
}

var (
	_ engine.Gateway = (*Store)(nil)
	_ engine.Journal = (*Store)(nil)
)

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite supports one writer; TEMP staging tables also live on a single
	// connection, so the pool is pinned to one.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Begin starts a unit of work.
func (s *Store) Begin(ctx context.Context) (engine.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// ReadDimension returns every persisted row of dim, sentinel included,
// ordered by surrogate key.
func (s *Store) ReadDimension(ctx context.Context, dim model.Dimension) ([]model.DimensionEntry, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT %s, %s FROM %s ORDER BY %s ASC",
		dim.KeyColumn, strings.Join(dim.Columns, ", "), dim.Table, dim.KeyColumn,
	))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dim.Table, err)
	}
	defer rows.Close()

	entries := []model.DimensionEntry{}
	for rows.Next() {
		e, err := scanDimensionEntry(rows, dim)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", dim.Table, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", dim.Table, err)
	}
	return entries, nil
}

// ReadCalendar returns every persisted date_id, sentinel included.
func (s *Store) ReadCalendar(ctx context.Context) ([]model.DateID, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT date_id FROM dim_calendar ORDER BY date_id ASC")
	if err != nil {
		return nil, fmt.Errorf("read dim_calendar: %w", err)
	}
	defer rows.Close()

	ids := []model.DateID{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan dim_calendar: %w", err)
		}
		ids = append(ids, model.DateID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dim_calendar: %w", err)
	}
	return ids, nil
}

func scanDimensionEntry(rows *sql.Rows, dim model.Dimension) (model.DimensionEntry, error) {
	var key int64
	parts := make([]string, dim.Arity())
	dest := make([]any, 0, dim.Arity()+1)
	dest = append(dest, &key)
	for i := range parts {
		dest = append(dest, &parts[i])
	}
	if err := rows.Scan(dest...); err != nil {
		return model.DimensionEntry{}, err
	}
	return model.DimensionEntry{Key: key, Natural: model.Key(parts...)}, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
// Migrations are additive only.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}
	if version < 2 {
		if err := migrateToV2(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the one-current-row-per-bug index to warehouses created
// before it was part of schema.sql.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_fact_bug_current
		ON fact_bug(bug_id) WHERE is_current = 1
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// migrateToV2 indexes snapshot_start for the re-run and ordering checks.
func migrateToV2(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_fact_bug_snapshot_start
		ON fact_bug(snapshot_start)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
